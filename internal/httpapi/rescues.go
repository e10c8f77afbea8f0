package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/rescuenet/dispatch/internal/intake"
	"github.com/rescuenet/dispatch/internal/ledger"
	"github.com/rescuenet/dispatch/internal/storage"
	"github.com/rescuenet/dispatch/internal/util"
	"github.com/rescuenet/dispatch/pkg/core"
)

// Gateway credential headers.
const (
	HeaderSource     = "X-Source"
	HeaderGatewayKey = "X-Gateway-Key"
)

func maskRescue(p core.RescuePoint) core.RescuePoint {
	p.Phone = util.MaskPhone(p.Phone)
	return p
}

func submitStatus(res ledger.Result) int {
	if res.IsDuplicate {
		return http.StatusOK
	}
	return http.StatusCreated
}

func (s *Server) submitPortal(w http.ResponseWriter, r *http.Request) {
	var body intake.PortalReport
	if err := decode(w, r, &body, false); err != nil {
		s.fail(w, r, err)
		return
	}
	res, err := s.deps.Intake.SubmitPortal(r.Context(), body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, submitStatus(res), res)
}

func (s *Server) submitLora(w http.ResponseWriter, r *http.Request) {
	source := util.TrimQuotes(r.Header.Get(HeaderSource))
	key := util.TrimQuotes(r.Header.Get(HeaderGatewayKey))
	if _, err := s.deps.Intake.Authenticator().Authenticate(source, key); err != nil {
		s.fail(w, r, err)
		return
	}

	var body intake.LoraReport
	if err := decode(w, r, &body, false); err != nil {
		s.fail(w, r, err)
		return
	}
	res, err := s.deps.Intake.SubmitLora(r.Context(), source, key, body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, submitStatus(res), res)
}

func (s *Server) listRescues(w http.ResponseWriter, r *http.Request) {
	v := &core.ValidationError{}
	q := r.URL.Query()
	f := storage.RescuePointFilter{
		Status:     core.RescueStatus(strings.ToUpper(q.Get("status"))),
		MinUrgency: queryInt(r, "urgency", v),
		SortBy:     storage.SortField(q.Get("sortBy")),
		Limit:      queryInt(r, "limit", v),
		Offset:     queryInt(r, "offset", v),
	}
	switch strings.ToLower(q.Get("order")) {
	case "", "desc":
	case "asc":
		f.Ascending = true
	default:
		v.Add("order", "must be asc or desc")
	}
	if err := v.Err(); err != nil {
		s.fail(w, r, err)
		return
	}

	page, err := s.deps.Ledger.List(r.Context(), f)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	for i := range page.Items {
		page.Items[i] = maskRescue(page.Items[i])
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) rescueStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.deps.Ledger.Stats(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) getRescue(w http.ResponseWriter, r *http.Request) {
	d, err := s.deps.Ledger.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	d.RescuePoint = maskRescue(d.RescuePoint)
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) markUnreachable(w http.ResponseWriter, r *http.Request) {
	p, err := s.deps.Ledger.MarkUnreachable(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, maskRescue(p))
}

type recalculateBody struct {
	Updated int `json:"updated"`
}

func (s *Server) recalculate(w http.ResponseWriter, r *http.Request) {
	n, err := s.deps.Ledger.RecalculatePending(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, recalculateBody{Updated: n})
}

func (s *Server) listNotifications(w http.ResponseWriter, r *http.Request) {
	ns, err := s.deps.Notifications.List(r.Context(), mux.Vars(r)["ref"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ns)
}

func (s *Server) latestNotification(w http.ResponseWriter, r *http.Request) {
	n, err := s.deps.Notifications.Latest(r.Context(), mux.Vars(r)["ref"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, n)
}

type ackRequest struct {
	ReadAt *time.Time `json:"readAt,omitempty"`
}

type ackBody struct {
	Acknowledged int `json:"acknowledged"`
}

func (s *Server) acknowledge(w http.ResponseWriter, r *http.Request) {
	var body ackRequest
	if err := decode(w, r, &body, true); err != nil {
		s.fail(w, r, err)
		return
	}
	var at time.Time
	if body.ReadAt != nil {
		at = *body.ReadAt
	}
	n, err := s.deps.Notifications.Acknowledge(r.Context(), mux.Vars(r)["ref"], at)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ackBody{Acknowledged: n})
}
