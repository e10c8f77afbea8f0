// Package team is the responder registry. A team's BUSY status belongs to the mission
// coordinator; this package only moves teams between AVAILABLE and OFFLINE.
package team

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/rescuenet/dispatch/internal/fanout"
	"github.com/rescuenet/dispatch/internal/geo"
	"github.com/rescuenet/dispatch/internal/locator"
	"github.com/rescuenet/dispatch/internal/storage"
	"github.com/rescuenet/dispatch/pkg/core"
)

// Field limits.
const (
	DefaultCapacity = 5
	MaxCapacity     = 100
	MaxNameLength   = 100
	MaxPhoneLength  = 15
)

// Dependencies holds all dependencies for the registry
type Dependencies struct {
	Store  storage.Store
	Events fanout.Publisher
	Logger *slog.Logger
}

// Registry manages teams.
type Registry struct {
	deps Dependencies
	now  func() time.Time
}

// New creates a registry. A nil publisher or logger discards.
func New(deps Dependencies) *Registry {
	if deps.Events == nil {
		deps.Events = fanout.Discard
	}
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.DiscardHandler)
	}
	return &Registry{deps: deps, now: time.Now}
}

// NewTeam describes a team to register. Capacity defaults to 5.
type NewTeam struct {
	Name     string        `json:"name"`
	Type     core.TeamType `json:"type"`
	Capacity int           `json:"capacity,omitempty"`
	Lat      float64       `json:"lat"`
	Lng      float64       `json:"lng"`
	Phone    string        `json:"phone,omitempty"`
	Leader   string        `json:"leader,omitempty"`
}

// Update changes a team. Nil fields are left alone.
type Update struct {
	Name     *string          `json:"name,omitempty"`
	Capacity *int             `json:"capacity,omitempty"`
	Phone    *string          `json:"phone,omitempty"`
	Leader   *string          `json:"leader,omitempty"`
	Status   *core.TeamStatus `json:"status,omitempty"`
}

func validateName(v *core.ValidationError, name string) {
	if name == "" || len(name) > MaxNameLength {
		v.Add("name", fmt.Sprintf("must be 1 to %d characters", MaxNameLength))
	}
}

func validateCapacity(v *core.ValidationError, c int) {
	if c < 1 || c > MaxCapacity {
		v.Add("capacity", fmt.Sprintf("must be 1 to %d", MaxCapacity))
	}
}

func validatePhone(v *core.ValidationError, phone string) {
	if len(phone) > MaxPhoneLength {
		v.Add("phone", fmt.Sprintf("must be at most %d characters", MaxPhoneLength))
	}
}

// Create registers an AVAILABLE team.
func (r *Registry) Create(ctx context.Context, n NewTeam) (core.Team, error) {
	if n.Capacity == 0 {
		n.Capacity = DefaultCapacity
	}

	v := &core.ValidationError{}
	validateName(v, n.Name)
	if !n.Type.Valid() {
		v.Add("type", fmt.Sprintf("unknown team type %q", n.Type))
	}
	validateCapacity(v, n.Capacity)
	if err := geo.ValidateCoordinates(n.Lat, n.Lng); err != nil {
		v.Add("lat/lng", err.Error())
	}
	validatePhone(v, n.Phone)
	if len(n.Leader) > MaxNameLength {
		v.Add("leader", fmt.Sprintf("must be at most %d characters", MaxNameLength))
	}
	if err := v.Err(); err != nil {
		return core.Team{}, err
	}

	now := r.now()
	t := core.Team{
		Name:      n.Name,
		Type:      n.Type,
		Capacity:  n.Capacity,
		Lat:       n.Lat,
		Lng:       n.Lng,
		Status:    core.TeamAvailable,
		Phone:     n.Phone,
		Leader:    n.Leader,
		CreatedAt: now,
		UpdatedAt: now,
	}
	err := r.deps.Store.Atomic(ctx, func(tx storage.Tx) error {
		return tx.CreateTeam(ctx, &t)
	})
	if err != nil {
		return core.Team{}, fmt.Errorf("failed to create team: %w", err)
	}

	r.deps.Events.Publish(core.EventTeamStatus, t)
	r.deps.Logger.Info("Registered team", "teamId", t.ID, "type", t.Type)
	return t, nil
}

// Get returns one team.
func (r *Registry) Get(ctx context.Context, id string) (core.Team, error) {
	return r.deps.Store.GetTeam(ctx, id)
}

// List returns teams in registration order, optionally narrowed to one status.
func (r *Registry) List(ctx context.Context, status core.TeamStatus) ([]core.Team, error) {
	if status != "" && !status.Valid() {
		return nil, core.Invalid("status", fmt.Sprintf("unknown status %q", status))
	}
	return r.deps.Store.ListTeams(ctx, storage.TeamFilter{Status: status})
}

// Update edits a team. A manual status change may only toggle AVAILABLE and OFFLINE.
func (r *Registry) Update(ctx context.Context, id string, u Update) (core.Team, error) {
	v := &core.ValidationError{}
	if u.Name != nil {
		validateName(v, *u.Name)
	}
	if u.Capacity != nil {
		validateCapacity(v, *u.Capacity)
	}
	if u.Phone != nil {
		validatePhone(v, *u.Phone)
	}
	if u.Leader != nil && len(*u.Leader) > MaxNameLength {
		v.Add("leader", fmt.Sprintf("must be at most %d characters", MaxNameLength))
	}
	if u.Status != nil && !u.Status.Valid() {
		v.Add("status", fmt.Sprintf("unknown status %q", *u.Status))
	}
	if err := v.Err(); err != nil {
		return core.Team{}, err
	}

	var (
		t             core.Team
		statusChanged bool
	)
	err := r.deps.Store.Atomic(ctx, func(tx storage.Tx) error {
		var err error
		if t, err = tx.GetTeam(ctx, id); err != nil {
			return err
		}

		if u.Status != nil && *u.Status != t.Status {
			if t.Status == core.TeamBusy || *u.Status == core.TeamBusy {
				return core.Conflict("team %q: BUSY is set and cleared only by its mission", id)
			}
			if err := tx.SetTeamStatus(ctx, id, t.Status, *u.Status); err != nil {
				return err
			}
			t.Status = *u.Status
			statusChanged = true
		}
		if u.Name != nil {
			t.Name = *u.Name
		}
		if u.Capacity != nil {
			t.Capacity = *u.Capacity
		}
		if u.Phone != nil {
			t.Phone = *u.Phone
		}
		if u.Leader != nil {
			t.Leader = *u.Leader
		}
		t.UpdatedAt = r.now()
		return tx.UpdateTeam(ctx, &t)
	})
	if err != nil {
		return core.Team{}, err
	}

	if statusChanged {
		r.deps.Events.Publish(core.EventTeamStatus, t)
		r.deps.Logger.Info("Team status changed", "teamId", t.ID, "status", t.Status)
	}
	return t, nil
}

// Move records a team's new position.
func (r *Registry) Move(ctx context.Context, id string, lat, lng float64) (core.Team, error) {
	if err := geo.ValidateCoordinates(lat, lng); err != nil {
		return core.Team{}, core.Invalid("lat/lng", err.Error())
	}

	var t core.Team
	err := r.deps.Store.Atomic(ctx, func(tx storage.Tx) error {
		var err error
		if t, err = tx.GetTeam(ctx, id); err != nil {
			return err
		}
		t.Lat, t.Lng = lat, lng
		t.UpdatedAt = r.now()
		return tx.UpdateTeam(ctx, &t)
	})
	if err != nil {
		return core.Team{}, err
	}

	r.deps.Events.Publish(core.EventTeamMoved, core.TeamMoved{TeamID: t.ID, Lat: lat, Lng: lng})
	return t, nil
}

// Available ranks AVAILABLE teams by distance to a position.
func (r *Registry) Available(ctx context.Context, lat, lng float64) ([]locator.Candidate, error) {
	if err := geo.ValidateCoordinates(lat, lng); err != nil {
		return nil, core.Invalid("lat/lng", err.Error())
	}
	return locator.Rank(ctx, r.deps.Store, lat, lng)
}

// Stats aggregates teams by status.
func (r *Registry) Stats(ctx context.Context) (core.TeamStats, error) {
	return r.deps.Store.TeamStats(ctx)
}
