// internal/storage/memory/memory_test.go
package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rescuenet/dispatch/internal/config"
	"github.com/rescuenet/dispatch/internal/storage"
	"github.com/rescuenet/dispatch/internal/storage/storagetest"
	"github.com/rescuenet/dispatch/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Verify Backend implements storage.Store interface
var _ storage.Store = (*Backend)(nil)

func newPoint(fp string, score int, created time.Time) *core.RescuePoint {
	return &core.RescuePoint{
		Fingerprint:   fp,
		Lat:           16.46,
		Lng:           107.59,
		People:        2,
		Urgency:       2,
		PriorityScore: score,
		Status:        core.RescuePending,
		CreatedAt:     created,
		UpdatedAt:     created,
	}
}

func TestInitAndClose(t *testing.T) {
	b := New(config.MemoryConfig{})

	require.NoError(t, b.Init(context.Background()))
	require.NoError(t, b.Close())
	assert.Equal(t, "memory", b.Kind())
	assert.NoError(t, b.Ping(context.Background()))
}

func TestCreateRescuePointAssignsIDAndRejectsDuplicate(t *testing.T) {
	ctx := context.Background()
	b := New(config.MemoryConfig{})

	p := newPoint("00N5ZM5T", 80, time.Now())
	require.NoError(t, b.Atomic(ctx, func(tx storage.Tx) error {
		return tx.CreateRescuePoint(ctx, p)
	}))
	assert.NotEmpty(t, p.ID)

	got, err := b.GetRescuePointByFingerprint(ctx, "00N5ZM5T")
	require.NoError(t, err)
	assert.Equal(t, p.ID, got.ID)

	err = b.Atomic(ctx, func(tx storage.Tx) error {
		return tx.CreateRescuePoint(ctx, newPoint("00N5ZM5T", 10, time.Now()))
	})
	assert.ErrorIs(t, err, storage.ErrDuplicate)

	_, total, err := b.ListRescuePoints(ctx, storage.RescuePointFilter{})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
}

func TestGetMissingReturnsNotFound(t *testing.T) {
	ctx := context.Background()
	b := New(config.MemoryConfig{})

	_, err := b.GetRescuePoint(ctx, "nope")
	assert.ErrorIs(t, err, core.ErrNotFound)
	_, err = b.GetTeam(ctx, "nope")
	assert.ErrorIs(t, err, core.ErrNotFound)
	_, err = b.GetMission(ctx, "nope")
	assert.ErrorIs(t, err, core.ErrNotFound)
	_, err = b.LatestUnreadNotification(ctx, "nope")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestAtomicRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	b := New(config.MemoryConfig{})

	team := &core.Team{ID: "team-1", Type: core.TeamBoat, Status: core.TeamAvailable}
	require.NoError(t, b.Atomic(ctx, func(tx storage.Tx) error {
		return tx.CreateTeam(ctx, team)
	}))

	boom := errors.New("boom")
	err := b.Atomic(ctx, func(tx storage.Tx) error {
		if err := tx.CreateRescuePoint(ctx, newPoint("AAAA0001", 10, time.Now())); err != nil {
			return err
		}
		if err := tx.SetTeamStatus(ctx, "team-1", core.TeamAvailable, core.TeamBusy); err != nil {
			return err
		}
		if err := tx.CreateMission(ctx, &core.Mission{TeamID: "team-1", Status: core.MissionAssigned}); err != nil {
			return err
		}
		if err := tx.AddNotification(ctx, &core.Notification{RescuePointID: "x", Type: core.NotifyAck}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, total, _ := b.ListRescuePoints(ctx, storage.RescuePointFilter{})
	assert.Zero(t, total)
	_, err = b.GetRescuePointByFingerprint(ctx, "AAAA0001")
	assert.ErrorIs(t, err, core.ErrNotFound)

	got, _ := b.GetTeam(ctx, "team-1")
	assert.Equal(t, core.TeamAvailable, got.Status)

	missions, _ := b.ListMissions(ctx, storage.MissionFilter{})
	assert.Empty(t, missions)
	notes, _ := b.ListNotifications(ctx, "x")
	assert.Empty(t, notes)
}

func TestAtomicRollsBackOnPanic(t *testing.T) {
	ctx := context.Background()
	b := New(config.MemoryConfig{})

	team := &core.Team{ID: "team-1", Type: core.TeamBoat, Status: core.TeamAvailable}
	require.NoError(t, b.Atomic(ctx, func(tx storage.Tx) error {
		return tx.CreateTeam(ctx, team)
	}))

	assert.PanicsWithValue(t, "nil map", func() {
		_ = b.Atomic(ctx, func(tx storage.Tx) error {
			if err := tx.CreateRescuePoint(ctx, newPoint("AAAA0002", 10, time.Now())); err != nil {
				return err
			}
			if err := tx.SetTeamStatus(ctx, "team-1", core.TeamAvailable, core.TeamBusy); err != nil {
				return err
			}
			panic("nil map")
		})
	})

	_, err := b.GetRescuePointByFingerprint(ctx, "AAAA0002")
	assert.ErrorIs(t, err, core.ErrNotFound)
	got, err := b.GetTeam(ctx, "team-1")
	require.NoError(t, err)
	assert.Equal(t, core.TeamAvailable, got.Status)

	// the lock was released
	require.NoError(t, b.Atomic(ctx, func(tx storage.Tx) error {
		return tx.CreateRescuePoint(ctx, newPoint("AAAA0002", 10, time.Now()))
	}))
}

func TestSetStatusCompareAndSet(t *testing.T) {
	ctx := context.Background()
	b := New(config.MemoryConfig{})

	p := newPoint("AAAA0002", 10, time.Now())
	require.NoError(t, b.Atomic(ctx, func(tx storage.Tx) error {
		return tx.CreateRescuePoint(ctx, p)
	}))

	err := b.Atomic(ctx, func(tx storage.Tx) error {
		return tx.SetRescueStatus(ctx, p.ID, core.RescueAssigned, core.RescueInProgress)
	})
	assert.ErrorIs(t, err, core.ErrConflict)

	require.NoError(t, b.Atomic(ctx, func(tx storage.Tx) error {
		return tx.SetRescueStatus(ctx, p.ID, core.RescuePending, core.RescueAssigned)
	}))
	got, _ := b.GetRescuePoint(ctx, p.ID)
	assert.Equal(t, core.RescueAssigned, got.Status)
}

func TestAddSourceIsIdempotentPerChannel(t *testing.T) {
	ctx := context.Background()
	b := New(config.MemoryConfig{})

	p := newPoint("AAAA0003", 10, time.Now())
	var added []bool
	require.NoError(t, b.Atomic(ctx, func(tx storage.Tx) error {
		if err := tx.CreateRescuePoint(ctx, p); err != nil {
			return err
		}
		for _, ch := range []core.Channel{core.ChannelPortal, core.ChannelDrone, core.ChannelPortal} {
			ok, err := tx.AddSource(ctx, &core.RescueSource{RescuePointID: p.ID, Channel: ch, ReceivedAt: time.Now()})
			if err != nil {
				return err
			}
			added = append(added, ok)
		}
		return nil
	}))

	assert.Equal(t, []bool{true, true, false}, added)
	sources, err := b.ListSources(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, sources, 2)
	assert.Equal(t, core.ChannelPortal, sources[0].Channel)
	assert.Equal(t, core.ChannelDrone, sources[1].Channel)
}

func TestListRescuePointsFilterSortPage(t *testing.T) {
	ctx := context.Background()
	b := New(config.MemoryConfig{})
	base := time.Date(2025, 10, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, b.Atomic(ctx, func(tx storage.Tx) error {
		for i, score := range []int{50, 120, 80, 120} {
			p := newPoint(string(rune('A'+i))+"0000000", score, base.Add(time.Duration(i)*time.Minute))
			if i == 2 {
				p.Status = core.RescueRescued
				p.Urgency = 3
			}
			if err := tx.CreateRescuePoint(ctx, p); err != nil {
				return err
			}
		}
		return nil
	}))

	tests := []struct {
		name   string
		filter storage.RescuePointFilter
		want   []int
		total  int
	}{
		{"default priority desc, newest first on ties", storage.RescuePointFilter{}, []int{120, 120, 80, 50}, 4},
		{"ascending", storage.RescuePointFilter{Ascending: true}, []int{50, 80, 120, 120}, 4},
		{"status", storage.RescuePointFilter{Status: core.RescuePending}, []int{120, 120, 50}, 3},
		{"min urgency", storage.RescuePointFilter{MinUrgency: 3}, []int{80}, 1},
		{"page", storage.RescuePointFilter{Limit: 2, Offset: 1}, []int{120, 80}, 4},
		{"offset past end", storage.RescuePointFilter{Offset: 10}, []int{}, 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, total, err := b.ListRescuePoints(ctx, tt.filter)
			require.NoError(t, err)
			assert.Equal(t, tt.total, total)
			scores := []int{}
			for _, p := range got {
				scores = append(scores, p.PriorityScore)
			}
			assert.Equal(t, tt.want, scores)
		})
	}

	got, _, _ := b.ListRescuePoints(ctx, storage.RescuePointFilter{Limit: 2})
	assert.True(t, got[0].CreatedAt.After(got[1].CreatedAt))
}

func TestNotificationsReadMarker(t *testing.T) {
	ctx := context.Background()
	b := New(config.MemoryConfig{})

	require.NoError(t, b.Atomic(ctx, func(tx storage.Tx) error {
		for _, typ := range []core.NotificationType{core.NotifyAck, core.NotifyEta} {
			if err := tx.AddNotification(ctx, &core.Notification{RescuePointID: "rp-1", Type: typ}); err != nil {
				return err
			}
		}
		return nil
	}))

	latest, err := b.LatestUnreadNotification(ctx, "rp-1")
	require.NoError(t, err)
	assert.Equal(t, core.NotifyEta, latest.Type)

	var changed int
	at := time.Now()
	require.NoError(t, b.Atomic(ctx, func(tx storage.Tx) error {
		var err error
		changed, err = tx.MarkNotificationsRead(ctx, "rp-1", at)
		return err
	}))
	assert.Equal(t, 2, changed)

	_, err = b.LatestUnreadNotification(ctx, "rp-1")
	assert.ErrorIs(t, err, core.ErrNotFound)

	all, _ := b.ListNotifications(ctx, "rp-1")
	require.Len(t, all, 2)
	for _, n := range all {
		assert.True(t, n.Read)
		require.NotNil(t, n.ReadAt)
		assert.True(t, n.ReadAt.Equal(at))
	}
}

func TestListMissionsFilters(t *testing.T) {
	ctx := context.Background()
	b := New(config.MemoryConfig{})

	require.NoError(t, b.Atomic(ctx, func(tx storage.Tx) error {
		for _, m := range []core.Mission{
			{ID: "m1", TeamID: "t1", RescuePointID: "r1", Status: core.MissionCompleted},
			{ID: "m2", TeamID: "t1", RescuePointID: "r2", Status: core.MissionInProgress},
			{ID: "m3", TeamID: "t2", RescuePointID: "r3", Status: core.MissionAssigned},
		} {
			if err := tx.CreateMission(ctx, &m); err != nil {
				return err
			}
		}
		return nil
	}))

	ids := func(ms []core.Mission) []string {
		out := []string{}
		for _, m := range ms {
			out = append(out, m.ID)
		}
		return out
	}

	all, _ := b.ListMissions(ctx, storage.MissionFilter{})
	assert.Equal(t, []string{"m3", "m2", "m1"}, ids(all))
	active, _ := b.ListMissions(ctx, storage.MissionFilter{ActiveOnly: true})
	assert.Equal(t, []string{"m2", "m3"}, ids(active))
	byTeam, _ := b.ListMissions(ctx, storage.MissionFilter{TeamID: "t1"})
	assert.Equal(t, []string{"m2", "m1"}, ids(byTeam))
	byPoint, _ := b.ListMissions(ctx, storage.MissionFilter{RescuePointID: "r3"})
	assert.Equal(t, []string{"m3"}, ids(byPoint))

	st, _ := b.MissionStats(ctx)
	assert.Equal(t, 3, st.Total)
	assert.Equal(t, 1, st.ByStatus[core.MissionCompleted])
}

func TestFixturesSeedOnce(t *testing.T) {
	ctx := context.Background()
	b := New(config.MemoryConfig{Fixtures: true})
	require.NoError(t, b.Init(ctx))

	teams, err := b.ListTeams(ctx, storage.TeamFilter{})
	require.NoError(t, err)
	require.Len(t, teams, 5)
	assert.Equal(t, "team-001", teams[0].ID)
	assert.Equal(t, "team-005", teams[4].ID)

	drones, _ := b.ListDrones(ctx, "")
	require.Len(t, drones, 4)
	assert.Nil(t, drones[3].Lat)

	seeded, err := storage.Seed(ctx, b)
	require.NoError(t, err)
	assert.False(t, seeded)
}

func TestSnapshotRoundTrip(t *testing.T) {
	for _, compress := range []bool{false, true} {
		ctx := context.Background()
		cfg := config.MemoryConfig{OutputDir: t.TempDir(), CompressOutput: compress}

		b := New(cfg)
		require.NoError(t, b.Init(ctx))
		p := newPoint("SNAP0001", 42, time.Now().UTC())
		require.NoError(t, b.Atomic(ctx, func(tx storage.Tx) error {
			if err := tx.CreateRescuePoint(ctx, p); err != nil {
				return err
			}
			_, err := tx.AddSource(ctx, &core.RescueSource{RescuePointID: p.ID, Channel: core.ChannelDrone})
			return err
		}))
		require.NoError(t, b.Close())
		assert.FileExists(t, b.SnapshotPath())

		restored := New(cfg)
		require.NoError(t, restored.Init(ctx))
		got, err := restored.GetRescuePointByFingerprint(ctx, "SNAP0001")
		require.NoError(t, err)
		assert.Equal(t, 42, got.PriorityScore)
		sources, _ := restored.ListSources(ctx, p.ID)
		assert.Len(t, sources, 1)
	}
}

func TestConcurrentCreatesKeepFingerprintUnique(t *testing.T) {
	ctx := context.Background()
	b := New(config.MemoryConfig{})

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- b.Atomic(ctx, func(tx storage.Tx) error {
				return tx.CreateRescuePoint(ctx, newPoint("RACE0001", 10, time.Now()))
			})
		}()
	}
	wg.Wait()
	close(errs)

	ok, dup := 0, 0
	for err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, storage.ErrDuplicate):
			dup++
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 19, dup)
}

func TestStoreBehavior(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Store {
		b := New(config.MemoryConfig{})
		require.NoError(t, b.Init(context.Background()))
		return b
	})
}
