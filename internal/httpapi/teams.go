package httpapi

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/rescuenet/dispatch/internal/locator"
	"github.com/rescuenet/dispatch/internal/team"
	"github.com/rescuenet/dispatch/internal/util"
	"github.com/rescuenet/dispatch/pkg/core"
)

func maskTeam(t core.Team) core.Team {
	t.Phone = util.MaskPhone(t.Phone)
	return t
}

func (s *Server) createTeam(w http.ResponseWriter, r *http.Request) {
	var body team.NewTeam
	if err := decode(w, r, &body, false); err != nil {
		s.fail(w, r, err)
		return
	}
	t, err := s.deps.Teams.Create(r.Context(), body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, maskTeam(t))
}

func (s *Server) listTeams(w http.ResponseWriter, r *http.Request) {
	status := core.TeamStatus(strings.ToUpper(r.URL.Query().Get("status")))
	teams, err := s.deps.Teams.List(r.Context(), status)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	for i := range teams {
		teams[i] = maskTeam(teams[i])
	}
	writeJSON(w, http.StatusOK, teams)
}

func (s *Server) availableTeams(w http.ResponseWriter, r *http.Request) {
	v := &core.ValidationError{}
	lat := queryFloat(r, "lat", v)
	lng := queryFloat(r, "lng", v)
	if err := v.Err(); err != nil {
		s.fail(w, r, err)
		return
	}

	cands, err := s.deps.Teams.Available(r.Context(), lat, lng)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if cands == nil {
		cands = []locator.Candidate{}
	}
	for i := range cands {
		cands[i].Team = maskTeam(cands[i].Team)
	}
	writeJSON(w, http.StatusOK, cands)
}

func (s *Server) teamStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.deps.Teams.Stats(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) getTeam(w http.ResponseWriter, r *http.Request) {
	t, err := s.deps.Teams.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, maskTeam(t))
}

func (s *Server) updateTeam(w http.ResponseWriter, r *http.Request) {
	var body team.Update
	if err := decode(w, r, &body, false); err != nil {
		s.fail(w, r, err)
		return
	}
	t, err := s.deps.Teams.Update(r.Context(), mux.Vars(r)["id"], body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, maskTeam(t))
}

type locationRequest struct {
	Lat *float64 `json:"lat"`
	Lng *float64 `json:"lng"`
}

func (s *Server) moveTeam(w http.ResponseWriter, r *http.Request) {
	var body locationRequest
	if err := decode(w, r, &body, false); err != nil {
		s.fail(w, r, err)
		return
	}
	v := &core.ValidationError{}
	if body.Lat == nil {
		v.Add("lat", "required")
	}
	if body.Lng == nil {
		v.Add("lng", "required")
	}
	if err := v.Err(); err != nil {
		s.fail(w, r, err)
		return
	}

	t, err := s.deps.Teams.Move(r.Context(), mux.Vars(r)["id"], *body.Lat, *body.Lng)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, maskTeam(t))
}
