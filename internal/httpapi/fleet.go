package httpapi

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/rescuenet/dispatch/internal/fleet"
	"github.com/rescuenet/dispatch/internal/util"
	"github.com/rescuenet/dispatch/pkg/core"
)

func (s *Server) heartbeat(w http.ResponseWriter, r *http.Request) {
	var body fleet.Heartbeat
	if err := decode(w, r, &body, false); err != nil {
		s.fail(w, r, err)
		return
	}
	d, err := s.deps.Fleet.Heartbeat(r.Context(), body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) listDrones(w http.ResponseWriter, r *http.Request) {
	status := core.DroneStatus(strings.ToUpper(r.URL.Query().Get("status")))
	drones, err := s.deps.Fleet.Drones(r.Context(), status)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if drones == nil {
		drones = []core.Drone{}
	}
	writeJSON(w, http.StatusOK, drones)
}

func (s *Server) droneStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.deps.Fleet.DroneStats(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) getDrone(w http.ResponseWriter, r *http.Request) {
	d, err := s.deps.Fleet.Drone(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// gatewayStatus takes the periodic report of a LoRa gateway. Gateways
// present the shared key like they do for rescue reports.
func (s *Server) gatewayStatus(w http.ResponseWriter, r *http.Request) {
	key := util.TrimQuotes(r.Header.Get(HeaderGatewayKey))
	if err := s.deps.Intake.Authenticator().CheckKey(key); err != nil {
		s.fail(w, r, err)
		return
	}

	var body fleet.GatewayReport
	if err := decode(w, r, &body, false); err != nil {
		s.fail(w, r, err)
		return
	}
	gw, err := s.deps.Fleet.GatewayStatus(r.Context(), body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, gw)
}

func (s *Server) listGateways(w http.ResponseWriter, r *http.Request) {
	gws, err := s.deps.Fleet.Gateways(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if gws == nil {
		gws = []core.Gateway{}
	}
	writeJSON(w, http.StatusOK, gws)
}

func (s *Server) gatewayStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.deps.Fleet.GatewayStats(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) getGateway(w http.ResponseWriter, r *http.Request) {
	gw, err := s.deps.Fleet.Gateway(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, gw)
}
