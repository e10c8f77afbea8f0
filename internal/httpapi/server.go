// Package httpapi exposes the dispatch engine over HTTP.
package httpapi

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/rescuenet/dispatch/internal/fleet"
	"github.com/rescuenet/dispatch/internal/intake"
	"github.com/rescuenet/dispatch/internal/ledger"
	"github.com/rescuenet/dispatch/internal/logging"
	"github.com/rescuenet/dispatch/internal/mission"
	"github.com/rescuenet/dispatch/internal/notification"
	"github.com/rescuenet/dispatch/internal/storage"
	"github.com/rescuenet/dispatch/internal/team"
	"github.com/rescuenet/dispatch/pkg/core"
)

// StatsCollector produces the dashboard aggregates.
type StatsCollector interface {
	Collect(ctx context.Context) (core.Stats, error)
}

// Dependencies holds all dependencies for the HTTP API
type Dependencies struct {
	Store         storage.Store
	Ledger        *ledger.Ledger
	Intake        *intake.Adapter
	Missions      *mission.Coordinator
	Teams         *team.Registry
	Fleet         *fleet.Tracker
	Notifications *notification.Service
	Stats         StatsCollector
	Realtime      http.Handler
	Logger        *slog.Logger
}

// Server routes requests to the domain services.
type Server struct {
	deps   Dependencies
	router *mux.Router
}

// New builds the router.
func New(deps Dependencies) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.DiscardHandler)
	}
	s := &Server{deps: deps, router: mux.NewRouter()}
	s.routes()
	return s
}

func (s *Server) routes() {
	r := s.router
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "route not found"})
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, errorBody{Error: "method not allowed"})
	})

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/health", s.health).Methods(http.MethodGet)
	api.HandleFunc("/stats", s.dashboardStats).Methods(http.MethodGet)

	api.HandleFunc("/rescues", s.submitPortal).Methods(http.MethodPost)
	api.HandleFunc("/rescues", s.listRescues).Methods(http.MethodGet)
	api.HandleFunc("/rescues/lora", s.submitLora).Methods(http.MethodPost)
	api.HandleFunc("/rescues/stats", s.rescueStats).Methods(http.MethodGet)
	api.HandleFunc("/rescues/recalculate", s.recalculate).Methods(http.MethodPost)
	api.HandleFunc("/rescues/{id}", s.getRescue).Methods(http.MethodGet)
	api.HandleFunc("/rescues/{id}/unreachable", s.markUnreachable).Methods(http.MethodPost)
	api.HandleFunc("/rescues/{ref}/notifications", s.listNotifications).Methods(http.MethodGet)
	api.HandleFunc("/rescues/{ref}/notifications/latest", s.latestNotification).Methods(http.MethodGet)
	api.HandleFunc("/rescues/{ref}/notifications/ack", s.acknowledge).Methods(http.MethodPost)

	api.HandleFunc("/teams", s.createTeam).Methods(http.MethodPost)
	api.HandleFunc("/teams", s.listTeams).Methods(http.MethodGet)
	api.HandleFunc("/teams/available", s.availableTeams).Methods(http.MethodGet)
	api.HandleFunc("/teams/stats", s.teamStats).Methods(http.MethodGet)
	api.HandleFunc("/teams/{id}", s.getTeam).Methods(http.MethodGet)
	api.HandleFunc("/teams/{id}", s.updateTeam).Methods(http.MethodPatch)
	api.HandleFunc("/teams/{id}/location", s.moveTeam).Methods(http.MethodPut)

	api.HandleFunc("/missions", s.createMission).Methods(http.MethodPost)
	api.HandleFunc("/missions", s.listMissions).Methods(http.MethodGet)
	api.HandleFunc("/missions/stats", s.missionStats).Methods(http.MethodGet)
	api.HandleFunc("/missions/{id}", s.getMission).Methods(http.MethodGet)
	api.HandleFunc("/missions/{id}", s.updateMission).Methods(http.MethodPatch)

	api.HandleFunc("/drones/heartbeat", s.heartbeat).Methods(http.MethodPost)
	api.HandleFunc("/drones", s.listDrones).Methods(http.MethodGet)
	api.HandleFunc("/drones/stats", s.droneStats).Methods(http.MethodGet)
	api.HandleFunc("/drones/{id}", s.getDrone).Methods(http.MethodGet)

	api.HandleFunc("/gateways/status", s.gatewayStatus).Methods(http.MethodPost)
	api.HandleFunc("/gateways", s.listGateways).Methods(http.MethodGet)
	api.HandleFunc("/gateways/stats", s.gatewayStats).Methods(http.MethodGet)
	api.HandleFunc("/gateways/{id}", s.getGateway).Methods(http.MethodGet)

	if s.deps.Realtime != nil {
		r.Handle("/ws", s.deps.Realtime).Methods(http.MethodGet)
	}
}

// ServeHTTP serves the bare router.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// HeaderRequestID carries the request id. A missing one is generated.
const HeaderRequestID = "X-Request-ID"

// Handler wraps the router with CORS, access logging and panic recovery.
func (s *Server) Handler(allowedOrigins []string) http.Handler {
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	cors := handlers.CORS(
		handlers.AllowedOrigins(allowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Content-Type", HeaderSource, HeaderGatewayKey, HeaderRequestID}),
		handlers.ExposedHeaders([]string{HeaderRequestID}),
	)
	recovery := handlers.RecoveryHandler(
		handlers.RecoveryLogger(recoveryLogger{s.deps.Logger}),
		handlers.PrintRecoveryStack(false),
	)
	return withRequestID(handlers.CustomLoggingHandler(io.Discard, recovery(cors(s.router)), s.accessLog))
}

func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(HeaderRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(HeaderRequestID, id)
		next.ServeHTTP(w, r.WithContext(logging.WithRequestID(r.Context(), id)))
	})
}

func (s *Server) accessLog(_ io.Writer, p handlers.LogFormatterParams) {
	s.deps.Logger.DebugContext(p.Request.Context(), "HTTP request",
		"method", p.Request.Method,
		"path", p.URL.Path,
		"status", p.StatusCode,
		"size", p.Size,
		"duration", time.Since(p.TimeStamp),
	)
}

type recoveryLogger struct {
	logger *slog.Logger
}

func (l recoveryLogger) Println(v ...any) {
	l.logger.Error("Recovered from panic in HTTP handler", "panic", v)
}

type healthBody struct {
	Status   string `json:"status"`
	Store    string `json:"store"`
	Database string `json:"database"`
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	body := healthBody{Status: "ok", Store: s.deps.Store.Kind(), Database: "up"}
	status := http.StatusOK
	if err := s.deps.Store.Ping(r.Context()); err != nil {
		s.deps.Logger.WarnContext(r.Context(), "Health check ping failed", "error", err)
		body.Status = "degraded"
		body.Database = "down"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, body)
}

func (s *Server) dashboardStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.deps.Stats.Collect(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}
