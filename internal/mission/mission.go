// Package mission assigns teams to rescue points and drives the joint
// mission / rescue point / team state machine.
package mission

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/rescuenet/dispatch/internal/fanout"
	"github.com/rescuenet/dispatch/internal/geo"
	"github.com/rescuenet/dispatch/internal/ledger"
	"github.com/rescuenet/dispatch/internal/notification"
	"github.com/rescuenet/dispatch/internal/storage"
	"github.com/rescuenet/dispatch/pkg/core"
)

var transitions = map[core.MissionStatus][]core.MissionStatus{
	core.MissionAssigned:   {core.MissionInProgress, core.MissionCompleted, core.MissionCancelled},
	core.MissionInProgress: {core.MissionCompleted, core.MissionCancelled},
}

// CanTransition reports whether a mission may move between two statuses.
func CanTransition(from, to core.MissionStatus) bool {
	return slices.Contains(transitions[from], to)
}

// Dependencies holds all dependencies for the coordinator
type Dependencies struct {
	Store  storage.Store
	Ledger *ledger.Ledger
	Events fanout.Publisher
	Logger *slog.Logger
}

// Coordinator creates and advances missions.
type Coordinator struct {
	deps Dependencies
	now  func() time.Time
}

// New creates a coordinator. A nil publisher or logger discards.
func New(deps Dependencies) *Coordinator {
	if deps.Events == nil {
		deps.Events = fanout.Discard
	}
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.DiscardHandler)
	}
	return &Coordinator{deps: deps, now: time.Now}
}

// Assignment requests a team for a rescue point.
type Assignment struct {
	RescuePointID string `json:"rescuePointId"`
	TeamID        string `json:"teamId"`
	Notes         string `json:"notes,omitempty"`
}

// Update changes a mission. Nil fields are left alone.
type Update struct {
	Status     *core.MissionStatus `json:"status,omitempty"`
	Notes      *string             `json:"notes,omitempty"`
	EtaMinutes *int                `json:"etaMinutes,omitempty"`
}

// View is a mission with the rescue point and team it binds.
type View struct {
	core.Mission
	RescuePoint *core.RescuePoint `json:"rescuePoint,omitempty"`
	Team        *core.Team        `json:"team,omitempty"`
}

// Create binds an AVAILABLE team to a PENDING rescue point. The mission, both status flips
// and the ETA notification are written as one unit.
func (c *Coordinator) Create(ctx context.Context, a Assignment) (View, error) {
	v := &core.ValidationError{}
	if a.RescuePointID == "" {
		v.Add("rescuePointId", "required")
	}
	if a.TeamID == "" {
		v.Add("teamId", "required")
	}
	if err := v.Err(); err != nil {
		return View{}, err
	}

	var (
		out    View
		events fanout.Batch
	)
	err := c.deps.Store.Atomic(ctx, func(tx storage.Tx) error {
		events.Reset()

		p, err := tx.GetRescuePoint(ctx, a.RescuePointID)
		if err != nil {
			return err
		}
		if p.Status != core.RescuePending {
			return core.Conflict("rescue point %q is %s, not %s", p.ID, p.Status, core.RescuePending)
		}
		team, err := tx.GetTeam(ctx, a.TeamID)
		if err != nil {
			return err
		}
		if team.Status != core.TeamAvailable {
			return core.Conflict("team %q is %s, not %s", team.ID, team.Status, core.TeamAvailable)
		}

		now := c.now()
		distance := geo.DistanceKm(p.Lat, p.Lng, team.Lat, team.Lng)
		m := core.Mission{
			RescuePointID: p.ID,
			TeamID:        team.ID,
			Status:        core.MissionAssigned,
			EtaMinutes:    geo.EstimateEtaMinutes(distance, team.Type),
			Notes:         a.Notes,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := tx.CreateMission(ctx, &m); err != nil {
			return fmt.Errorf("failed to create mission: %w", err)
		}
		if p, err = c.deps.Ledger.Transition(ctx, tx, p.ID, core.RescueAssigned); err != nil {
			return err
		}
		if err := tx.SetTeamStatus(ctx, team.ID, core.TeamAvailable, core.TeamBusy); err != nil {
			return err
		}
		if team, err = tx.GetTeam(ctx, team.ID); err != nil {
			return err
		}

		direction := geo.Direction(team.Lat, team.Lng, p.Lat, p.Lng)
		eta := notification.Eta(p.ID, m.EtaMinutes, team.Type, direction, now)
		if err := tx.AddNotification(ctx, &eta); err != nil {
			return fmt.Errorf("failed to create eta notification: %w", err)
		}

		out = View{Mission: m, RescuePoint: &p, Team: &team}
		events.Add(core.EventMissionAssigned, out)
		events.Add(core.EventRescueUpdated, p)
		events.Add(core.EventTeamStatus, team)
		return nil
	})
	if err != nil {
		return View{}, err
	}

	events.Flush(c.deps.Events)
	c.deps.Logger.Info("Assigned team",
		"missionId", out.ID, "rescuePointId", out.RescuePointID,
		"teamId", out.TeamID, "etaMinutes", out.EtaMinutes)
	return out, nil
}

func validateUpdate(u Update) error {
	v := &core.ValidationError{}
	if u.Status != nil && !u.Status.Valid() {
		v.Add("status", fmt.Sprintf("unknown status %q", *u.Status))
	}
	if u.EtaMinutes != nil && *u.EtaMinutes < 0 {
		v.Add("etaMinutes", "must not be negative")
	}
	return v.Err()
}

// Update applies field changes and at most one status transition. Leaving a mission
// releases its team; the rescue point follows the mission status.
func (c *Coordinator) Update(ctx context.Context, id string, u Update) (View, error) {
	if err := validateUpdate(u); err != nil {
		return View{}, err
	}

	var (
		out    View
		events fanout.Batch
	)
	err := c.deps.Store.Atomic(ctx, func(tx storage.Tx) error {
		events.Reset()

		m, err := tx.GetMission(ctx, id)
		if err != nil {
			return err
		}
		now := c.now()
		if u.Notes != nil {
			m.Notes = *u.Notes
		}
		if u.EtaMinutes != nil {
			m.EtaMinutes = *u.EtaMinutes
		}

		var (
			p    *core.RescuePoint
			team *core.Team
		)
		if u.Status != nil && *u.Status != m.Status {
			if !CanTransition(m.Status, *u.Status) {
				return core.Invalid("status", fmt.Sprintf("cannot move from %s to %s", m.Status, *u.Status))
			}
			if p, team, err = c.advance(ctx, tx, &m, *u.Status, now); err != nil {
				return err
			}
		}

		m.UpdatedAt = now
		if err := tx.UpdateMission(ctx, &m); err != nil {
			return fmt.Errorf("failed to update mission: %w", err)
		}

		out = View{Mission: m, RescuePoint: p, Team: team}
		events.Add(core.EventMissionUpdated, out)
		if m.Status == core.MissionCompleted {
			events.Add(core.EventMissionCompleted, out)
		}
		if p != nil {
			events.Add(core.EventRescueUpdated, *p)
		}
		if team != nil {
			events.Add(core.EventTeamStatus, *team)
		}
		return nil
	})
	if err != nil {
		return View{}, err
	}

	events.Flush(c.deps.Events)
	c.deps.Logger.Info("Updated mission", "missionId", out.ID, "status", out.Status)
	return out, nil
}

// advance performs the cross-entity writes of a mission status change. It returns the
// rescue point and, when released, the team.
func (c *Coordinator) advance(ctx context.Context, tx storage.Tx, m *core.Mission, to core.MissionStatus, now time.Time) (*core.RescuePoint, *core.Team, error) {
	var (
		rescueTo core.RescueStatus
		note     *core.Notification
		release  bool
	)
	switch to {
	case core.MissionInProgress:
		m.StartedAt = &now
		rescueTo = core.RescueInProgress
		n := notification.Status(m.RescuePointID, now)
		note = &n
	case core.MissionCompleted:
		m.CompletedAt = &now
		rescueTo = core.RescueRescued
		release = true
		n := notification.Completed(m.RescuePointID, now)
		note = &n
	case core.MissionCancelled:
		rescueTo = core.RescuePending
		release = true
	}
	m.Status = to

	p, err := c.deps.Ledger.Transition(ctx, tx, m.RescuePointID, rescueTo)
	if err != nil {
		return nil, nil, err
	}

	var team *core.Team
	if release {
		if err := tx.SetTeamStatus(ctx, m.TeamID, core.TeamBusy, core.TeamAvailable); err != nil {
			return nil, nil, err
		}
		t, err := tx.GetTeam(ctx, m.TeamID)
		if err != nil {
			return nil, nil, err
		}
		team = &t
	}

	if note != nil {
		if err := tx.AddNotification(ctx, note); err != nil {
			return nil, nil, fmt.Errorf("failed to create %s notification: %w", note.Type, err)
		}
	}
	return &p, team, nil
}

// Get returns a mission with its rescue point and team.
func (c *Coordinator) Get(ctx context.Context, id string) (View, error) {
	m, err := c.deps.Store.GetMission(ctx, id)
	if err != nil {
		return View{}, err
	}
	return c.view(ctx, m)
}

// List returns missions newest first, each with its rescue point and team.
func (c *Coordinator) List(ctx context.Context, f storage.MissionFilter) ([]View, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, core.Invalid("status", fmt.Sprintf("unknown status %q", f.Status))
	}
	missions, err := c.deps.Store.ListMissions(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("failed to list missions: %w", err)
	}
	out := make([]View, 0, len(missions))
	for _, m := range missions {
		v, err := c.view(ctx, m)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// Stats aggregates missions by status.
func (c *Coordinator) Stats(ctx context.Context) (core.MissionStats, error) {
	return c.deps.Store.MissionStats(ctx)
}

func (c *Coordinator) view(ctx context.Context, m core.Mission) (View, error) {
	p, err := c.deps.Store.GetRescuePoint(ctx, m.RescuePointID)
	if err != nil {
		return View{}, fmt.Errorf("failed to load rescue point of mission %q: %w", m.ID, err)
	}
	t, err := c.deps.Store.GetTeam(ctx, m.TeamID)
	if err != nil {
		return View{}, fmt.Errorf("failed to load team of mission %q: %w", m.ID, err)
	}
	return View{Mission: m, RescuePoint: &p, Team: &t}, nil
}
