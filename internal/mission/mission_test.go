package mission

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rescuenet/dispatch/internal/config"
	"github.com/rescuenet/dispatch/internal/ledger"
	"github.com/rescuenet/dispatch/internal/notification"
	"github.com/rescuenet/dispatch/internal/storage"
	"github.com/rescuenet/dispatch/internal/storage/memory"
	sqlitestorage "github.com/rescuenet/dispatch/internal/storage/sqlite"
	"github.com/rescuenet/dispatch/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu    sync.Mutex
	names []string
}

func (r *recorder) Publish(name string, _ any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.names = append(r.names, name)
}

func (r *recorder) take() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.names
	r.names = nil
	return out
}

type fixture struct {
	store  storage.Store
	ledger *ledger.Ledger
	coord  *Coordinator
	events *recorder
}

var backends = map[string]func(t *testing.T) storage.Store{
	"memory": func(t *testing.T) storage.Store {
		return memory.New(config.MemoryConfig{})
	},
	"sqlite": func(t *testing.T) storage.Store {
		b, err := sqlitestorage.New(sqlitestorage.Config{Path: filepath.Join(t.TempDir(), "rescue.db")}, nil)
		require.NoError(t, err)
		return b
	},
}

func forEachBackend(t *testing.T, fn func(t *testing.T, f *fixture)) {
	for name, open := range backends {
		t.Run(name, func(t *testing.T) {
			store := open(t)
			require.NoError(t, store.Init(context.Background()))
			t.Cleanup(func() { _ = store.Close() })

			events := &recorder{}
			l := ledger.New(ledger.Dependencies{Store: store, Events: events})
			fn(t, &fixture{
				store:  store,
				ledger: l,
				coord:  New(Dependencies{Store: store, Ledger: l, Events: events}),
				events: events,
			})
		})
	}
}

func (f *fixture) point(t *testing.T, people int) core.RescuePoint {
	t.Helper()
	res, err := f.ledger.Submit(context.Background(), core.Report{
		Lat:     16.4637,
		Lng:     107.5909,
		People:  people,
		Urgency: 3,
		Channel: core.ChannelPortal,
	})
	require.NoError(t, err)
	p, err := f.store.GetRescuePoint(context.Background(), res.ID)
	require.NoError(t, err)
	return p
}

func (f *fixture) team(t *testing.T, name string) core.Team {
	t.Helper()
	team := core.Team{Name: name, Type: core.TeamBoat, Capacity: 6, Lat: 16.47, Lng: 107.60, Status: core.TeamAvailable}
	err := f.store.Atomic(context.Background(), func(tx storage.Tx) error {
		return tx.CreateTeam(context.Background(), &team)
	})
	require.NoError(t, err)
	return team
}

func (f *fixture) statuses(t *testing.T, pointID, teamID string) (core.RescueStatus, core.TeamStatus) {
	t.Helper()
	p, err := f.store.GetRescuePoint(context.Background(), pointID)
	require.NoError(t, err)
	team, err := f.store.GetTeam(context.Background(), teamID)
	require.NoError(t, err)
	return p.Status, team.Status
}

func status(s core.MissionStatus) *core.MissionStatus { return &s }

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to core.MissionStatus
		want     bool
	}{
		{core.MissionAssigned, core.MissionInProgress, true},
		{core.MissionAssigned, core.MissionCompleted, true},
		{core.MissionAssigned, core.MissionCancelled, true},
		{core.MissionInProgress, core.MissionCompleted, true},
		{core.MissionInProgress, core.MissionCancelled, true},
		{core.MissionInProgress, core.MissionAssigned, false},
		{core.MissionCompleted, core.MissionInProgress, false},
		{core.MissionCancelled, core.MissionAssigned, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestCreate(t *testing.T) {
	forEachBackend(t, func(t *testing.T, f *fixture) {
		ctx := context.Background()
		p := f.point(t, 3)
		team := f.team(t, "Boat 1")
		f.events.take()

		v, err := f.coord.Create(ctx, Assignment{RescuePointID: p.ID, TeamID: team.ID, Notes: "north gate"})
		require.NoError(t, err)
		assert.Equal(t, core.MissionAssigned, v.Status)
		assert.Equal(t, 13, v.EtaMinutes)
		assert.Equal(t, "north gate", v.Notes)
		require.NotNil(t, v.RescuePoint)
		assert.Equal(t, core.RescueAssigned, v.RescuePoint.Status)
		require.NotNil(t, v.Team)
		assert.Equal(t, core.TeamBusy, v.Team.Status)

		assert.Equal(t, []string{core.EventMissionAssigned, core.EventRescueUpdated, core.EventTeamStatus}, f.events.take())

		rs, ts := f.statuses(t, p.ID, team.ID)
		assert.Equal(t, core.RescueAssigned, rs)
		assert.Equal(t, core.TeamBusy, ts)

		n, err := f.store.LatestUnreadNotification(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, core.NotifyEta, n.Type)
		require.NotNil(t, n.EtaMinutes)
		assert.Equal(t, 13, *n.EtaMinutes)
		assert.Equal(t, core.TeamBoat, n.TeamType)
		// the team sits north-east of the victim, mostly east
		assert.Equal(t, "from the east", n.Direction)
		assert.Equal(t, notification.EtaInstructions, n.Instructions)

		got, err := f.coord.Get(ctx, v.ID)
		require.NoError(t, err)
		assert.Equal(t, v.ID, got.ID)
		assert.Equal(t, p.ID, got.RescuePoint.ID)
	})
}

func TestCreatePreconditions(t *testing.T) {
	forEachBackend(t, func(t *testing.T, f *fixture) {
		ctx := context.Background()
		p := f.point(t, 3)
		other := f.point(t, 4)
		team := f.team(t, "Boat 1")

		_, err := f.coord.Create(ctx, Assignment{})
		assert.ErrorIs(t, err, core.ErrValidation)

		_, err = f.coord.Create(ctx, Assignment{RescuePointID: "missing", TeamID: team.ID})
		assert.ErrorIs(t, err, core.ErrNotFound)

		_, err = f.coord.Create(ctx, Assignment{RescuePointID: p.ID, TeamID: "missing"})
		assert.ErrorIs(t, err, core.ErrNotFound)

		_, err = f.coord.Create(ctx, Assignment{RescuePointID: p.ID, TeamID: team.ID})
		require.NoError(t, err)

		// point no longer pending
		second := f.team(t, "Boat 2")
		_, err = f.coord.Create(ctx, Assignment{RescuePointID: p.ID, TeamID: second.ID})
		assert.ErrorIs(t, err, core.ErrConflict)

		// team no longer available
		_, err = f.coord.Create(ctx, Assignment{RescuePointID: other.ID, TeamID: team.ID})
		assert.ErrorIs(t, err, core.ErrConflict)

		rs, ts := f.statuses(t, other.ID, second.ID)
		assert.Equal(t, core.RescuePending, rs)
		assert.Equal(t, core.TeamAvailable, ts)

		active, err := f.coord.List(ctx, storage.MissionFilter{ActiveOnly: true})
		require.NoError(t, err)
		assert.Len(t, active, 1)
	})
}

func TestStatusRoundTrip(t *testing.T) {
	forEachBackend(t, func(t *testing.T, f *fixture) {
		ctx := context.Background()
		p := f.point(t, 3)
		team := f.team(t, "Boat 1")

		v, err := f.coord.Create(ctx, Assignment{RescuePointID: p.ID, TeamID: team.ID})
		require.NoError(t, err)
		f.events.take()

		v, err = f.coord.Update(ctx, v.ID, Update{Status: status(core.MissionInProgress)})
		require.NoError(t, err)
		assert.NotNil(t, v.StartedAt)
		rs, ts := f.statuses(t, p.ID, team.ID)
		assert.Equal(t, core.RescueInProgress, rs)
		assert.Equal(t, core.TeamBusy, ts)
		assert.Equal(t, []string{core.EventMissionUpdated, core.EventRescueUpdated}, f.events.take())

		n, err := f.store.LatestUnreadNotification(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, core.NotifyStatus, n.Type)

		v, err = f.coord.Update(ctx, v.ID, Update{Status: status(core.MissionCompleted)})
		require.NoError(t, err)
		assert.NotNil(t, v.CompletedAt)
		rs, ts = f.statuses(t, p.ID, team.ID)
		assert.Equal(t, core.RescueRescued, rs)
		assert.Equal(t, core.TeamAvailable, ts)
		assert.Equal(t, []string{
			core.EventMissionUpdated, core.EventMissionCompleted,
			core.EventRescueUpdated, core.EventTeamStatus,
		}, f.events.take())

		n, err = f.store.LatestUnreadNotification(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, core.NotifyCompleted, n.Type)
		assert.Equal(t, notification.CompletedMessage, n.Message)

		_, err = f.coord.Update(ctx, v.ID, Update{Status: status(core.MissionInProgress)})
		assert.ErrorIs(t, err, core.ErrValidation)
	})
}

func TestCancelReturnsPointToPool(t *testing.T) {
	forEachBackend(t, func(t *testing.T, f *fixture) {
		ctx := context.Background()
		p := f.point(t, 3)
		team := f.team(t, "Boat 1")

		v, err := f.coord.Create(ctx, Assignment{RescuePointID: p.ID, TeamID: team.ID})
		require.NoError(t, err)

		v, err = f.coord.Update(ctx, v.ID, Update{Status: status(core.MissionCancelled)})
		require.NoError(t, err)
		assert.Equal(t, core.MissionCancelled, v.Status)
		rs, ts := f.statuses(t, p.ID, team.ID)
		assert.Equal(t, core.RescuePending, rs)
		assert.Equal(t, core.TeamAvailable, ts)

		// the point can be dispatched again
		_, err = f.coord.Create(ctx, Assignment{RescuePointID: p.ID, TeamID: team.ID})
		require.NoError(t, err)
	})
}

func TestFieldOnlyUpdate(t *testing.T) {
	forEachBackend(t, func(t *testing.T, f *fixture) {
		ctx := context.Background()
		p := f.point(t, 3)
		team := f.team(t, "Boat 1")

		v, err := f.coord.Create(ctx, Assignment{RescuePointID: p.ID, TeamID: team.ID})
		require.NoError(t, err)
		f.events.take()

		notes, eta := "road blocked", 40
		v, err = f.coord.Update(ctx, v.ID, Update{Notes: &notes, EtaMinutes: &eta, Status: status(core.MissionAssigned)})
		require.NoError(t, err)
		assert.Equal(t, "road blocked", v.Notes)
		assert.Equal(t, 40, v.EtaMinutes)
		assert.Nil(t, v.RescuePoint)
		assert.Equal(t, []string{core.EventMissionUpdated}, f.events.take())

		negative := -1
		_, err = f.coord.Update(ctx, v.ID, Update{EtaMinutes: &negative})
		assert.ErrorIs(t, err, core.ErrValidation)

		_, err = f.coord.Update(ctx, v.ID, Update{Status: status("PAUSED")})
		assert.ErrorIs(t, err, core.ErrValidation)

		_, err = f.coord.Update(ctx, "missing", Update{Notes: &notes})
		assert.ErrorIs(t, err, core.ErrNotFound)
	})
}

func TestConcurrentAssignSameTeam(t *testing.T) {
	forEachBackend(t, func(t *testing.T, f *fixture) {
		ctx := context.Background()
		team := f.team(t, "Boat 1")
		points := []core.RescuePoint{f.point(t, 1), f.point(t, 2)}

		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			successes int
			conflicts int
		)
		for _, p := range points {
			wg.Add(1)
			go func(p core.RescuePoint) {
				defer wg.Done()
				_, err := f.coord.Create(ctx, Assignment{RescuePointID: p.ID, TeamID: team.ID})
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					successes++
				case assert.ErrorIs(t, err, core.ErrConflict):
					conflicts++
				}
			}(p)
		}
		wg.Wait()

		assert.Equal(t, 1, successes)
		assert.Equal(t, 1, conflicts)

		active, err := f.coord.List(ctx, storage.MissionFilter{TeamID: team.ID, ActiveOnly: true})
		require.NoError(t, err)
		assert.Len(t, active, 1)

		pending, _, err := f.store.ListRescuePoints(ctx, storage.RescuePointFilter{Status: core.RescuePending})
		require.NoError(t, err)
		assert.Len(t, pending, 1)
	})
}

func TestListActiveOldestFirst(t *testing.T) {
	forEachBackend(t, func(t *testing.T, f *fixture) {
		ctx := context.Background()
		clock := time.Date(2024, 10, 2, 8, 0, 0, 0, time.UTC)
		f.coord.now = func() time.Time {
			clock = clock.Add(time.Minute)
			return clock
		}

		var created []string
		for i, name := range []string{"Boat 1", "Boat 2", "Boat 3"} {
			v, err := f.coord.Create(ctx, Assignment{RescuePointID: f.point(t, i+3).ID, TeamID: f.team(t, name).ID})
			require.NoError(t, err)
			created = append(created, v.ID)
		}

		ids := func(vs []View) []string {
			out := []string{}
			for _, v := range vs {
				out = append(out, v.ID)
			}
			return out
		}

		active, err := f.coord.List(ctx, storage.MissionFilter{ActiveOnly: true})
		require.NoError(t, err)
		assert.Equal(t, created, ids(active))

		all, err := f.coord.List(ctx, storage.MissionFilter{})
		require.NoError(t, err)
		assert.Equal(t, []string{created[2], created[1], created[0]}, ids(all))
	})
}

func TestListRejectsUnknownStatus(t *testing.T) {
	forEachBackend(t, func(t *testing.T, f *fixture) {
		_, err := f.coord.List(context.Background(), storage.MissionFilter{Status: "DONE"})
		assert.ErrorIs(t, err, core.ErrValidation)
	})
}
