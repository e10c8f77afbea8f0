package httpapi

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/rescuenet/dispatch/internal/mission"
	"github.com/rescuenet/dispatch/internal/storage"
	"github.com/rescuenet/dispatch/pkg/core"
)

func maskView(v mission.View) mission.View {
	if v.RescuePoint != nil {
		p := maskRescue(*v.RescuePoint)
		v.RescuePoint = &p
	}
	if v.Team != nil {
		t := maskTeam(*v.Team)
		v.Team = &t
	}
	return v
}

func (s *Server) createMission(w http.ResponseWriter, r *http.Request) {
	var body mission.Assignment
	if err := decode(w, r, &body, false); err != nil {
		s.fail(w, r, err)
		return
	}
	view, err := s.deps.Missions.Create(r.Context(), body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, maskView(view))
}

func (s *Server) listMissions(w http.ResponseWriter, r *http.Request) {
	v := &core.ValidationError{}
	q := r.URL.Query()
	f := storage.MissionFilter{
		Status:        core.MissionStatus(strings.ToUpper(q.Get("status"))),
		TeamID:        q.Get("teamId"),
		RescuePointID: q.Get("rescuePointId"),
		ActiveOnly:    queryBool(r, "active", v),
	}
	if err := v.Err(); err != nil {
		s.fail(w, r, err)
		return
	}

	views, err := s.deps.Missions.List(r.Context(), f)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if views == nil {
		views = []mission.View{}
	}
	for i := range views {
		views[i] = maskView(views[i])
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) missionStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.deps.Missions.Stats(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) getMission(w http.ResponseWriter, r *http.Request) {
	view, err := s.deps.Missions.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, maskView(view))
}

func (s *Server) updateMission(w http.ResponseWriter, r *http.Request) {
	var body mission.Update
	if err := decode(w, r, &body, false); err != nil {
		s.fail(w, r, err)
		return
	}
	if body.Status != nil {
		up := core.MissionStatus(strings.ToUpper(string(*body.Status)))
		body.Status = &up
	}
	view, err := s.deps.Missions.Update(r.Context(), mux.Vars(r)["id"], body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, maskView(view))
}
