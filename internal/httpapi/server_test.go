package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rescuenet/dispatch/internal/config"
	"github.com/rescuenet/dispatch/internal/fleet"
	"github.com/rescuenet/dispatch/internal/intake"
	"github.com/rescuenet/dispatch/internal/ledger"
	"github.com/rescuenet/dispatch/internal/mission"
	"github.com/rescuenet/dispatch/internal/notification"
	"github.com/rescuenet/dispatch/internal/stats"
	"github.com/rescuenet/dispatch/internal/storage/memory"
	"github.com/rescuenet/dispatch/internal/team"
)

const gatewayKey = "lora-secret"

func newTestServer(t *testing.T) *Server {
	t.Helper()
	store := memory.New(config.MemoryConfig{})
	require.NoError(t, store.Init(context.Background()))
	t.Cleanup(func() { _ = store.Close() })

	l := ledger.New(ledger.Dependencies{Store: store})
	teams := team.New(team.Dependencies{Store: store})
	missions := mission.New(mission.Dependencies{Store: store, Ledger: l})
	return New(Dependencies{
		Store:         store,
		Ledger:        l,
		Intake:        intake.NewAdapter(l, intake.NewAuthenticator(gatewayKey)),
		Missions:      missions,
		Teams:         teams,
		Fleet:         fleet.New(fleet.Dependencies{Store: store}),
		Notifications: notification.New(store),
		Stats:         stats.NewService(stats.Dependencies{Rescues: l, Teams: teams, Missions: missions}),
	})
}

func do(t *testing.T, h http.Handler, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func portalReport() map[string]any {
	return map[string]any{
		"lat":            16.4637,
		"lng":            107.5909,
		"people":         5,
		"urgency":        3,
		"injured":        true,
		"water_level":    ">2m",
		"food_available": false,
		"phone":          "0912345678",
	}
}

func loraHeaders() map[string]string {
	return map[string]string{HeaderSource: intake.SourceFixed, HeaderGatewayKey: gatewayKey}
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	rec := do(t, s, http.MethodGet, "/api/health", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody[healthBody](t, rec)
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, memory.Kind, body.Store)
	assert.Equal(t, "up", body.Database)
}

func TestSubmitPortalThenLoraDuplicate(t *testing.T) {
	s := newTestServer(t)

	rec := do(t, s, http.MethodPost, "/api/rescues", portalReport(), nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decodeBody[ledger.Result](t, rec)
	assert.False(t, created.IsDuplicate)
	assert.Equal(t, 170, created.PriorityScore)

	lora := map[string]any{
		"lat":         16.4637,
		"lng":         107.5909,
		"people":      5,
		"urgency":     "high",
		"injured":     true,
		"water_level": 3,
		"no_food":     true,
		"phone":       "0912345678",
	}
	rec = do(t, s, http.MethodPost, "/api/rescues/lora", lora, loraHeaders())
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	dup := decodeBody[ledger.Result](t, rec)
	assert.True(t, dup.IsDuplicate)
	assert.True(t, dup.SourceAdded)
	assert.Equal(t, created.ID, dup.ID)

	rec = do(t, s, http.MethodGet, "/api/rescues/"+created.ID, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	detail := decodeBody[map[string]any](t, rec)
	assert.Equal(t, "0912***678", detail["phone"])
	assert.Len(t, detail["sources"], 2)
}

func TestSubmitLoraUnauthorized(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name    string
		headers map[string]string
	}{
		{"no headers", nil},
		{"wrong key", map[string]string{HeaderSource: intake.SourceFixed, HeaderGatewayKey: "nope"}},
		{"unknown source", map[string]string{HeaderSource: "gateway-x", HeaderGatewayKey: gatewayKey}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, s, http.MethodPost, "/api/rescues/lora", map[string]any{"lat": 16.4, "lng": 107.5}, tt.headers)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
		})
	}
}

func TestSubmitValidation(t *testing.T) {
	s := newTestServer(t)

	rec := do(t, s, http.MethodPost, "/api/rescues", map[string]any{"people": 500}, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeBody[errorBody](t, rec)
	fields := map[string]bool{}
	for _, f := range body.Fields {
		fields[f.Field] = true
	}
	assert.True(t, fields["lat"])
	assert.True(t, fields["lng"])
	assert.True(t, fields["people"])

	req := httptest.NewRequest(http.MethodPost, "/api/rescues", bytes.NewBufferString("{not json"))
	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListRescues(t *testing.T) {
	s := newTestServer(t)
	require.Equal(t, http.StatusCreated, do(t, s, http.MethodPost, "/api/rescues", portalReport(), nil).Code)

	rec := do(t, s, http.MethodGet, "/api/rescues?status=pending&limit=10", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	page := decodeBody[map[string]any](t, rec)
	assert.Equal(t, float64(1), page["total"])
	assert.Equal(t, float64(10), page["limit"])
	items := page["items"].([]any)
	require.Len(t, items, 1)
	assert.Equal(t, "0912***678", items[0].(map[string]any)["phone"])

	assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodGet, "/api/rescues?order=sideways", nil, nil).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodGet, "/api/rescues?limit=ten", nil, nil).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodGet, "/api/rescues?status=lost", nil, nil).Code)
}

func TestGetUnknownRescue(t *testing.T) {
	s := newTestServer(t)
	rec := do(t, s, http.MethodGet, "/api/rescues/missing", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDispatchFlow(t *testing.T) {
	s := newTestServer(t)

	created := decodeBody[ledger.Result](t, do(t, s, http.MethodPost, "/api/rescues", portalReport(), nil))

	rec := do(t, s, http.MethodPost, "/api/teams", map[string]any{
		"name": "Boat 1", "type": "BOAT", "lat": 16.47, "lng": 107.60, "phone": "0987654321",
	}, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	tm := decodeBody[map[string]any](t, rec)
	teamID := tm["id"].(string)
	assert.Equal(t, "0987***321", tm["phone"])

	rec = do(t, s, http.MethodGet, "/api/teams/available?lat=16.4637&lng=107.5909", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]map[string]any](t, rec), 1)

	rec = do(t, s, http.MethodPost, "/api/missions", map[string]any{
		"rescuePointId": created.ID, "teamId": teamID,
	}, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	m := decodeBody[map[string]any](t, rec)
	missionID := m["id"].(string)
	assert.Equal(t, float64(13), m["etaMinutes"])

	// The team is busy now.
	rec = do(t, s, http.MethodPost, "/api/missions", map[string]any{
		"rescuePointId": created.ID, "teamId": teamID,
	}, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, s, http.MethodGet, "/api/rescues/"+created.Fingerprint+"/notifications/latest", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ETA", decodeBody[map[string]any](t, rec)["type"])

	rec = do(t, s, http.MethodPatch, "/api/missions/"+missionID, map[string]any{"status": "in_progress"}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = do(t, s, http.MethodPatch, "/api/missions/"+missionID, map[string]any{"status": "COMPLETED"}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	done := decodeBody[map[string]any](t, rec)
	assert.Equal(t, "COMPLETED", done["status"])
	assert.Equal(t, "RESCUED", done["rescuePoint"].(map[string]any)["status"])
	assert.Equal(t, "AVAILABLE", done["team"].(map[string]any)["status"])

	rec = do(t, s, http.MethodPatch, "/api/missions/"+missionID, map[string]any{"status": "ASSIGNED"}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, s, http.MethodPost, "/api/rescues/"+created.ID+"/notifications/ack", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 4, decodeBody[ackBody](t, rec).Acknowledged)

	rec = do(t, s, http.MethodGet, "/api/stats", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	st := decodeBody[map[string]any](t, rec)
	assert.Equal(t, float64(1), st["missions"].(map[string]any)["total"])
}

func TestGatewayStatusRequiresKey(t *testing.T) {
	s := newTestServer(t)
	report := map[string]any{"gateway_id": "GW-01", "type": "fixed", "packets_today": 12}

	rec := do(t, s, http.MethodPost, "/api/gateways/status", report, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, s, http.MethodPost, "/api/gateways/status", report, map[string]string{HeaderGatewayKey: gatewayKey})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(t, s, http.MethodGet, "/api/gateways/stats", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	st := decodeBody[map[string]any](t, rec)
	assert.Equal(t, float64(1), st["online"])
	assert.Equal(t, float64(12), st["packetsToday"])
}

func TestDroneHeartbeat(t *testing.T) {
	s := newTestServer(t)

	rec := do(t, s, http.MethodPost, "/api/drones/heartbeat", map[string]any{
		"droneId": "D01", "lat": 16.46, "lng": 107.59, "batteryPercent": 80, "signalStrength": "strong",
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(t, s, http.MethodGet, "/api/drones/D01", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, s, http.MethodGet, "/api/drones?status=bogus", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUnknownRoute(t *testing.T) {
	s := newTestServer(t)
	rec := do(t, s, http.MethodGet, "/api/nothing", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "route not found", decodeBody[errorBody](t, rec).Error)
}

func TestHandlerCORSPreflight(t *testing.T) {
	s := newTestServer(t)
	h := s.Handler([]string{"https://ops.example.org"})

	req := httptest.NewRequest(http.MethodOptions, "/api/rescues", nil)
	req.Header.Set("Origin", "https://ops.example.org")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "https://ops.example.org", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestHandlerRequestID(t *testing.T) {
	h := newTestServer(t).Handler(nil)

	rec := do(t, h, http.MethodGet, "/api/health", nil, nil)
	generated := rec.Header().Get(HeaderRequestID)
	assert.Len(t, generated, 36)

	rec = do(t, h, http.MethodGet, "/api/health", nil, map[string]string{HeaderRequestID: "gw-42"})
	assert.Equal(t, "gw-42", rec.Header().Get(HeaderRequestID))
}
