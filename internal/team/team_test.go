package team

import (
	"context"
	"sync"
	"testing"

	"github.com/rescuenet/dispatch/internal/config"
	"github.com/rescuenet/dispatch/internal/storage"
	"github.com/rescuenet/dispatch/internal/storage/memory"
	"github.com/rescuenet/dispatch/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu    sync.Mutex
	names []string
	moved []core.TeamMoved
}

func (r *recorder) Publish(name string, payload any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.names = append(r.names, name)
	if m, ok := payload.(core.TeamMoved); ok {
		r.moved = append(r.moved, m)
	}
}

func newTestRegistry(t *testing.T) (*Registry, storage.Store, *recorder) {
	t.Helper()
	store := memory.New(config.MemoryConfig{})
	require.NoError(t, store.Init(context.Background()))
	events := &recorder{}
	return New(Dependencies{Store: store, Events: events}), store, events
}

func ptr[T any](v T) *T { return &v }

func boat(name string, lat, lng float64) NewTeam {
	return NewTeam{Name: name, Type: core.TeamBoat, Lat: lat, Lng: lng}
}

func TestCreate(t *testing.T) {
	r, _, events := newTestRegistry(t)
	ctx := context.Background()

	team, err := r.Create(ctx, NewTeam{Name: "Boat 1", Type: core.TeamBoat, Lat: 16.47, Lng: 107.6, Phone: "0901234001", Leader: "Lan"})
	require.NoError(t, err)
	assert.NotEmpty(t, team.ID)
	assert.Equal(t, DefaultCapacity, team.Capacity)
	assert.Equal(t, core.TeamAvailable, team.Status)
	assert.Equal(t, []string{core.EventTeamStatus}, events.names)

	got, err := r.Get(ctx, team.ID)
	require.NoError(t, err)
	assert.Equal(t, "Lan", got.Leader)
}

func TestCreateValidation(t *testing.T) {
	tests := []struct {
		name  string
		team  NewTeam
		field string
	}{
		{"empty name", NewTeam{Type: core.TeamFoot}, "name"},
		{"unknown type", NewTeam{Name: "X", Type: "SUBMARINE"}, "type"},
		{"capacity too big", NewTeam{Name: "X", Type: core.TeamFoot, Capacity: 101}, "capacity"},
		{"bad coordinates", NewTeam{Name: "X", Type: core.TeamFoot, Lat: 95}, "lat/lng"},
		{"long phone", NewTeam{Name: "X", Type: core.TeamFoot, Phone: "0123456789012345"}, "phone"},
	}

	r, _, _ := newTestRegistry(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Create(context.Background(), tt.team)
			var verr *core.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Fields[0].Field)
		})
	}
}

func TestUpdateStatus(t *testing.T) {
	r, store, events := newTestRegistry(t)
	ctx := context.Background()

	team, err := r.Create(ctx, boat("Boat 1", 16.47, 107.6))
	require.NoError(t, err)
	events.names = nil

	team, err = r.Update(ctx, team.ID, Update{Status: ptr(core.TeamOffline), Capacity: ptr(8)})
	require.NoError(t, err)
	assert.Equal(t, core.TeamOffline, team.Status)
	assert.Equal(t, 8, team.Capacity)
	assert.Equal(t, []string{core.EventTeamStatus}, events.names)

	_, err = r.Update(ctx, team.ID, Update{Status: ptr(core.TeamBusy)})
	assert.ErrorIs(t, err, core.ErrConflict)

	team, err = r.Update(ctx, team.ID, Update{Status: ptr(core.TeamAvailable)})
	require.NoError(t, err)

	// a mission owns the team now
	require.NoError(t, store.Atomic(ctx, func(tx storage.Tx) error {
		return tx.SetTeamStatus(ctx, team.ID, core.TeamAvailable, core.TeamBusy)
	}))
	_, err = r.Update(ctx, team.ID, Update{Status: ptr(core.TeamOffline)})
	assert.ErrorIs(t, err, core.ErrConflict)

	// other fields stay editable
	team, err = r.Update(ctx, team.ID, Update{Name: ptr("Boat One")})
	require.NoError(t, err)
	assert.Equal(t, "Boat One", team.Name)
	assert.Equal(t, core.TeamBusy, team.Status)

	_, err = r.Update(ctx, "missing", Update{Name: ptr("x")})
	assert.ErrorIs(t, err, core.ErrNotFound)

	_, err = r.Update(ctx, team.ID, Update{Status: ptr(core.TeamStatus("ASLEEP"))})
	assert.ErrorIs(t, err, core.ErrValidation)
}

func TestMove(t *testing.T) {
	r, _, events := newTestRegistry(t)
	ctx := context.Background()

	team, err := r.Create(ctx, boat("Boat 1", 16.47, 107.6))
	require.NoError(t, err)

	team, err = r.Move(ctx, team.ID, 16.5, 107.7)
	require.NoError(t, err)
	assert.Equal(t, 16.5, team.Lat)
	require.Len(t, events.moved, 1)
	assert.Equal(t, core.TeamMoved{TeamID: team.ID, Lat: 16.5, Lng: 107.7}, events.moved[0])

	_, err = r.Move(ctx, team.ID, 100, 0)
	assert.ErrorIs(t, err, core.ErrValidation)
	_, err = r.Move(ctx, "missing", 16, 107)
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestAvailableAndList(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	ctx := context.Background()

	far, err := r.Create(ctx, boat("Far", 16.60, 107.70))
	require.NoError(t, err)
	near, err := r.Create(ctx, boat("Near", 16.47, 107.60))
	require.NoError(t, err)
	off, err := r.Create(ctx, boat("Off", 16.4637, 107.5909))
	require.NoError(t, err)
	_, err = r.Update(ctx, off.ID, Update{Status: ptr(core.TeamOffline)})
	require.NoError(t, err)

	ranked, err := r.Available(ctx, 16.4637, 107.5909)
	require.NoError(t, err)
	require.Len(t, ranked, 2)
	assert.Equal(t, near.ID, ranked[0].Team.ID)
	assert.Equal(t, far.ID, ranked[1].Team.ID)
	assert.Equal(t, 13, ranked[0].EtaMinutes)

	all, err := r.List(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)
	assert.Equal(t, far.ID, all[0].ID)

	offline, err := r.List(ctx, core.TeamOffline)
	require.NoError(t, err)
	assert.Len(t, offline, 1)

	_, err = r.List(ctx, "SLEEPING")
	assert.ErrorIs(t, err, core.ErrValidation)

	stats, err := r.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 2, stats.ByStatus[core.TeamAvailable])
}
