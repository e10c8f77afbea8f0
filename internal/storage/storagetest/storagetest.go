// Package storagetest holds behavior checks every storage.Store implementation must pass.
package storagetest

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rescuenet/dispatch/internal/storage"
	"github.com/rescuenet/dispatch/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns an initialized, empty store. It must register its own cleanup.
type Factory func(t *testing.T) storage.Store

var base = time.Date(2025, 10, 1, 12, 0, 0, 0, time.UTC)

func point(fp string, score int, created time.Time) *core.RescuePoint {
	return &core.RescuePoint{
		Fingerprint:   fp,
		Lat:           16.4637,
		Lng:           107.5909,
		People:        3,
		Urgency:       2,
		WaterLevel:    core.WaterHalfToOne,
		Phone:         "0901234567",
		PriorityScore: score,
		Status:        core.RescuePending,
		SourceChannel: core.ChannelPortal,
		CreatedAt:     created,
		UpdatedAt:     created,
	}
}

// Run executes the whole suite against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s storage.Store)
	}{
		{"CreateAndGet", testCreateAndGet},
		{"DuplicateFingerprint", testDuplicateFingerprint},
		{"NotFound", testNotFound},
		{"Rollback", testRollback},
		{"RescueStatusCompareAndSet", testRescueStatusCAS},
		{"UpdateRescuePoint", testUpdateRescuePoint},
		{"Sources", testSources},
		{"ListRescuePoints", testListRescuePoints},
		{"Teams", testTeams},
		{"Missions", testMissions},
		{"Notifications", testNotifications},
		{"Fleet", testFleet},
		{"Stats", testStats},
		{"Seed", testSeed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, newStore(t))
		})
	}
}

func create(t *testing.T, s storage.Store, p *core.RescuePoint) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.Atomic(ctx, func(tx storage.Tx) error {
		return tx.CreateRescuePoint(ctx, p)
	}))
}

func testCreateAndGet(t *testing.T, s storage.Store) {
	ctx := context.Background()
	p := point("00N5ZM5T", 80, base)
	create(t, s, p)
	require.NotEmpty(t, p.ID)

	got, err := s.GetRescuePoint(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, p.Fingerprint, got.Fingerprint)
	assert.Equal(t, 80, got.PriorityScore)
	assert.Equal(t, core.WaterHalfToOne, got.WaterLevel)
	assert.Equal(t, core.RescuePending, got.Status)
	assert.InDelta(t, 16.4637, got.Lat, 1e-9)

	byFP, err := s.GetRescuePointByFingerprint(ctx, "00N5ZM5T")
	require.NoError(t, err)
	assert.Equal(t, p.ID, byFP.ID)
}

func testDuplicateFingerprint(t *testing.T, s storage.Store) {
	ctx := context.Background()
	create(t, s, point("00N5ZM5T", 80, base))

	err := s.Atomic(ctx, func(tx storage.Tx) error {
		return tx.CreateRescuePoint(ctx, point("00N5ZM5T", 10, base))
	})
	assert.ErrorIs(t, err, storage.ErrDuplicate)

	_, total, err := s.ListRescuePoints(ctx, storage.RescuePointFilter{})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
}

func testNotFound(t *testing.T, s storage.Store) {
	ctx := context.Background()
	_, err := s.GetRescuePoint(ctx, "missing")
	assert.ErrorIs(t, err, core.ErrNotFound)
	_, err = s.GetRescuePointByFingerprint(ctx, "missing")
	assert.ErrorIs(t, err, core.ErrNotFound)
	_, err = s.GetTeam(ctx, "missing")
	assert.ErrorIs(t, err, core.ErrNotFound)
	_, err = s.GetMission(ctx, "missing")
	assert.ErrorIs(t, err, core.ErrNotFound)
	_, err = s.GetDrone(ctx, "missing")
	assert.ErrorIs(t, err, core.ErrNotFound)
	_, err = s.GetGateway(ctx, "missing")
	assert.ErrorIs(t, err, core.ErrNotFound)
	_, err = s.LatestUnreadNotification(ctx, "missing")
	assert.ErrorIs(t, err, core.ErrNotFound)

	err = s.Atomic(ctx, func(tx storage.Tx) error {
		return tx.SetTeamStatus(ctx, "missing", core.TeamAvailable, core.TeamBusy)
	})
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func testRollback(t *testing.T, s storage.Store) {
	ctx := context.Background()
	require.NoError(t, s.Atomic(ctx, func(tx storage.Tx) error {
		return tx.CreateTeam(ctx, &core.Team{ID: "team-1", Type: core.TeamBoat, Status: core.TeamAvailable, CreatedAt: base})
	}))

	boom := errors.New("boom")
	err := s.Atomic(ctx, func(tx storage.Tx) error {
		p := point("RB000001", 10, base)
		if err := tx.CreateRescuePoint(ctx, p); err != nil {
			return err
		}
		if _, err := tx.AddSource(ctx, &core.RescueSource{RescuePointID: p.ID, Channel: core.ChannelPortal, ReceivedAt: base}); err != nil {
			return err
		}
		if err := tx.SetTeamStatus(ctx, "team-1", core.TeamAvailable, core.TeamBusy); err != nil {
			return err
		}
		if err := tx.CreateMission(ctx, &core.Mission{RescuePointID: p.ID, TeamID: "team-1", Status: core.MissionAssigned}); err != nil {
			return err
		}
		if err := tx.AddNotification(ctx, &core.Notification{RescuePointID: p.ID, Type: core.NotifyAck, CreatedAt: base}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = s.GetRescuePointByFingerprint(ctx, "RB000001")
	assert.ErrorIs(t, err, core.ErrNotFound)
	team, err := s.GetTeam(ctx, "team-1")
	require.NoError(t, err)
	assert.Equal(t, core.TeamAvailable, team.Status)
	missions, err := s.ListMissions(ctx, storage.MissionFilter{})
	require.NoError(t, err)
	assert.Empty(t, missions)
}

func testRescueStatusCAS(t *testing.T, s storage.Store) {
	ctx := context.Background()
	p := point("CAS00001", 10, base)
	create(t, s, p)

	err := s.Atomic(ctx, func(tx storage.Tx) error {
		return tx.SetRescueStatus(ctx, p.ID, core.RescueAssigned, core.RescueInProgress)
	})
	assert.ErrorIs(t, err, core.ErrConflict)

	require.NoError(t, s.Atomic(ctx, func(tx storage.Tx) error {
		return tx.SetRescueStatus(ctx, p.ID, core.RescuePending, core.RescueAssigned)
	}))
	got, err := s.GetRescuePoint(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, core.RescueAssigned, got.Status)
}

func testUpdateRescuePoint(t *testing.T, s storage.Store) {
	ctx := context.Background()
	p := point("UPD00001", 10, base)
	p.Injured = true
	create(t, s, p)

	p.Urgency = 3
	p.Injured = false
	p.PriorityScore = 99
	p.UpdatedAt = base.Add(time.Minute)
	require.NoError(t, s.Atomic(ctx, func(tx storage.Tx) error {
		return tx.UpdateRescuePoint(ctx, p)
	}))

	got, err := s.GetRescuePoint(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.Urgency)
	assert.False(t, got.Injured)
	assert.Equal(t, 99, got.PriorityScore)

	changed := *p
	changed.Fingerprint = "OTHER001"
	err = s.Atomic(ctx, func(tx storage.Tx) error {
		return tx.UpdateRescuePoint(ctx, &changed)
	})
	assert.ErrorIs(t, err, core.ErrConflict)

	missing := *p
	missing.ID = "missing"
	err = s.Atomic(ctx, func(tx storage.Tx) error {
		return tx.UpdateRescuePoint(ctx, &missing)
	})
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func testSources(t *testing.T, s storage.Store) {
	ctx := context.Background()
	p := point("SRC00001", 10, base)
	create(t, s, p)

	var added []bool
	require.NoError(t, s.Atomic(ctx, func(tx storage.Tx) error {
		for i, ch := range []core.Channel{core.ChannelPortal, core.ChannelDrone, core.ChannelPortal} {
			ok, err := tx.AddSource(ctx, &core.RescueSource{
				RescuePointID: p.ID,
				Channel:       ch,
				ReceivedAt:    base.Add(time.Duration(i) * time.Second),
			})
			if err != nil {
				return err
			}
			added = append(added, ok)
		}
		return nil
	}))
	assert.Equal(t, []bool{true, true, false}, added)

	sources, err := s.ListSources(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, sources, 2)
	assert.Equal(t, core.ChannelPortal, sources[0].Channel)
	assert.Equal(t, core.ChannelDrone, sources[1].Channel)

	err = s.Atomic(ctx, func(tx storage.Tx) error {
		_, err := tx.AddSource(ctx, &core.RescueSource{RescuePointID: "missing", Channel: core.ChannelDrone})
		return err
	})
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func testListRescuePoints(t *testing.T, s storage.Store) {
	ctx := context.Background()
	for i, score := range []int{50, 120, 80, 120} {
		p := point(fmt.Sprintf("LST%05d", i), score, base.Add(time.Duration(i)*time.Minute))
		if i == 2 {
			p.Status = core.RescueRescued
			p.Urgency = 3
		}
		create(t, s, p)
	}

	tests := []struct {
		name   string
		filter storage.RescuePointFilter
		want   []string
		total  int
	}{
		{"priority desc then newest", storage.RescuePointFilter{}, []string{"LST00003", "LST00001", "LST00002", "LST00000"}, 4},
		{"created ascending", storage.RescuePointFilter{SortBy: storage.SortCreatedAt, Ascending: true}, []string{"LST00000", "LST00001", "LST00002", "LST00003"}, 4},
		{"urgency desc", storage.RescuePointFilter{SortBy: storage.SortUrgency, Limit: 1}, []string{"LST00002"}, 4},
		{"status", storage.RescuePointFilter{Status: core.RescuePending}, []string{"LST00003", "LST00001", "LST00000"}, 3},
		{"min urgency", storage.RescuePointFilter{MinUrgency: 3}, []string{"LST00002"}, 1},
		{"page", storage.RescuePointFilter{Limit: 2, Offset: 1}, []string{"LST00001", "LST00002"}, 4},
		{"offset past end", storage.RescuePointFilter{Offset: 10}, []string{}, 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, total, err := s.ListRescuePoints(ctx, tt.filter)
			require.NoError(t, err)
			assert.Equal(t, tt.total, total)
			fps := []string{}
			for _, p := range got {
				fps = append(fps, p.Fingerprint)
			}
			assert.Equal(t, tt.want, fps)
		})
	}
}

func testTeams(t *testing.T, s storage.Store) {
	ctx := context.Background()
	require.NoError(t, s.Atomic(ctx, func(tx storage.Tx) error {
		for i, id := range []string{"team-b", "team-a"} {
			team := &core.Team{
				ID:        id,
				Name:      id,
				Type:      core.TeamBoat,
				Capacity:  6,
				Lat:       16.47,
				Lng:       107.6,
				Status:    core.TeamAvailable,
				CreatedAt: base.Add(time.Duration(i) * time.Minute),
			}
			if err := tx.CreateTeam(ctx, team); err != nil {
				return err
			}
		}
		return nil
	}))

	teams, err := s.ListTeams(ctx, storage.TeamFilter{})
	require.NoError(t, err)
	require.Len(t, teams, 2)
	assert.Equal(t, "team-b", teams[0].ID, "creation order")

	err = s.Atomic(ctx, func(tx storage.Tx) error {
		return tx.CreateTeam(ctx, &core.Team{ID: "team-a", Type: core.TeamFoot, Status: core.TeamAvailable})
	})
	assert.ErrorIs(t, err, core.ErrConflict)

	require.NoError(t, s.Atomic(ctx, func(tx storage.Tx) error {
		if err := tx.SetTeamStatus(ctx, "team-a", core.TeamAvailable, core.TeamBusy); err != nil {
			return err
		}
		team, err := tx.GetTeam(ctx, "team-b")
		if err != nil {
			return err
		}
		team.Lat, team.Lng = 16.5, 107.7
		return tx.UpdateTeam(ctx, &team)
	}))

	busy, err := s.ListTeams(ctx, storage.TeamFilter{Status: core.TeamBusy})
	require.NoError(t, err)
	require.Len(t, busy, 1)
	assert.Equal(t, "team-a", busy[0].ID)

	moved, err := s.GetTeam(ctx, "team-b")
	require.NoError(t, err)
	assert.InDelta(t, 16.5, moved.Lat, 1e-9)

	err = s.Atomic(ctx, func(tx storage.Tx) error {
		return tx.SetTeamStatus(ctx, "team-a", core.TeamAvailable, core.TeamBusy)
	})
	assert.ErrorIs(t, err, core.ErrConflict)
}

func testMissions(t *testing.T, s storage.Store) {
	ctx := context.Background()
	require.NoError(t, s.Atomic(ctx, func(tx storage.Tx) error {
		for i, m := range []core.Mission{
			{ID: "m1", TeamID: "t1", RescuePointID: "r1", Status: core.MissionCompleted},
			{ID: "m2", TeamID: "t1", RescuePointID: "r2", Status: core.MissionInProgress},
			{ID: "m3", TeamID: "t2", RescuePointID: "r3", Status: core.MissionAssigned},
		} {
			m.CreatedAt = base.Add(time.Duration(i) * time.Minute)
			if err := tx.CreateMission(ctx, &m); err != nil {
				return err
			}
		}
		return nil
	}))

	ids := func(f storage.MissionFilter) []string {
		ms, err := s.ListMissions(ctx, f)
		require.NoError(t, err)
		out := []string{}
		for _, m := range ms {
			out = append(out, m.ID)
		}
		return out
	}

	assert.Equal(t, []string{"m3", "m2", "m1"}, ids(storage.MissionFilter{}))
	assert.Equal(t, []string{"m2", "m3"}, ids(storage.MissionFilter{ActiveOnly: true}))
	assert.Equal(t, []string{"m2", "m1"}, ids(storage.MissionFilter{TeamID: "t1"}))
	assert.Equal(t, []string{"m3"}, ids(storage.MissionFilter{RescuePointID: "r3"}))
	assert.Equal(t, []string{"m1"}, ids(storage.MissionFilter{Status: core.MissionCompleted}))

	done := base.Add(time.Hour)
	require.NoError(t, s.Atomic(ctx, func(tx storage.Tx) error {
		m, err := tx.GetMission(ctx, "m2")
		if err != nil {
			return err
		}
		m.Status = core.MissionCompleted
		m.CompletedAt = &done
		m.Notes = "all safe"
		return tx.UpdateMission(ctx, &m)
	}))
	m2, err := s.GetMission(ctx, "m2")
	require.NoError(t, err)
	assert.Equal(t, core.MissionCompleted, m2.Status)
	require.NotNil(t, m2.CompletedAt)
	assert.True(t, m2.CompletedAt.Equal(done))
	assert.Equal(t, "all safe", m2.Notes)

	err = s.Atomic(ctx, func(tx storage.Tx) error {
		return tx.UpdateMission(ctx, &core.Mission{ID: "missing"})
	})
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func testNotifications(t *testing.T, s storage.Store) {
	ctx := context.Background()
	eta := 25
	require.NoError(t, s.Atomic(ctx, func(tx storage.Tx) error {
		if err := tx.AddNotification(ctx, &core.Notification{
			RescuePointID: "rp-1", Type: core.NotifyAck, Message: "received", CreatedAt: base,
		}); err != nil {
			return err
		}
		return tx.AddNotification(ctx, &core.Notification{
			RescuePointID: "rp-1", Type: core.NotifyEta, Message: "eta",
			EtaMinutes: &eta, TeamType: core.TeamBoat, Direction: "from the north",
			Instructions: []string{"Keep your phone charged"},
			CreatedAt:    base.Add(time.Second),
		})
	}))

	latest, err := s.LatestUnreadNotification(ctx, "rp-1")
	require.NoError(t, err)
	assert.Equal(t, core.NotifyEta, latest.Type)
	require.NotNil(t, latest.EtaMinutes)
	assert.Equal(t, 25, *latest.EtaMinutes)
	assert.Equal(t, []string{"Keep your phone charged"}, latest.Instructions)

	var changed int
	at := base.Add(time.Hour)
	require.NoError(t, s.Atomic(ctx, func(tx storage.Tx) error {
		var err error
		changed, err = tx.MarkNotificationsRead(ctx, "rp-1", at)
		return err
	}))
	assert.Equal(t, 2, changed)

	_, err = s.LatestUnreadNotification(ctx, "rp-1")
	assert.ErrorIs(t, err, core.ErrNotFound)

	all, err := s.ListNotifications(ctx, "rp-1")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, core.NotifyEta, all[0].Type, "newest first")
	for _, n := range all {
		assert.True(t, n.Read)
		require.NotNil(t, n.ReadAt)
		assert.True(t, n.ReadAt.Equal(at))
	}
}

func testFleet(t *testing.T, s storage.Store) {
	ctx := context.Background()
	battery := 80
	d := &core.Drone{ID: "D09", Name: "Drone Test", BatteryPercent: &battery, Status: core.DroneIdle, LastHeartbeat: base, IsHealthy: true}
	require.NoError(t, s.Atomic(ctx, func(tx storage.Tx) error { return tx.SaveDrone(ctx, d) }))

	d.Status = core.DroneActive
	require.NoError(t, s.Atomic(ctx, func(tx storage.Tx) error { return tx.SaveDrone(ctx, d) }))

	drones, err := s.ListDrones(ctx, "")
	require.NoError(t, err)
	require.Len(t, drones, 1)
	assert.Equal(t, core.DroneActive, drones[0].Status)
	require.NotNil(t, drones[0].BatteryPercent)
	assert.Equal(t, 80, *drones[0].BatteryPercent)

	idle, err := s.ListDrones(ctx, core.DroneIdle)
	require.NoError(t, err)
	assert.Empty(t, idle)

	g := &core.Gateway{ID: "GW-1", Type: core.GatewayFixed, PacketsToday: 3, LastSeen: base, Online: true}
	require.NoError(t, s.Atomic(ctx, func(tx storage.Tx) error { return tx.SaveGateway(ctx, g) }))
	got, err := s.GetGateway(ctx, "GW-1")
	require.NoError(t, err)
	assert.Equal(t, 3, got.PacketsToday)
	assert.Nil(t, got.Battery)
}

func testStats(t *testing.T, s storage.Store) {
	ctx := context.Background()
	critical := point("STA00001", 100, base)
	critical.Urgency = 3
	critical.Injured = true
	create(t, s, critical)

	rescued := point("STA00002", 10, base)
	rescued.Urgency = 3
	rescued.Injured = true
	rescued.Status = core.RescueRescued
	create(t, s, rescued)

	create(t, s, point("STA00003", 10, base))

	st, err := s.RescueStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, st.Total)
	assert.Equal(t, 2, st.ByStatus[core.RescuePending])
	assert.Equal(t, 1, st.ByStatus[core.RescueRescued])
	assert.Equal(t, 1, st.Critical)
	assert.Equal(t, 1, st.WithInjured)

	teams, err := s.TeamStats(ctx)
	require.NoError(t, err)
	assert.Zero(t, teams.Total)
}

func testSeed(t *testing.T, s storage.Store) {
	ctx := context.Background()
	seeded, err := storage.Seed(ctx, s)
	require.NoError(t, err)
	assert.True(t, seeded)

	teams, err := s.ListTeams(ctx, storage.TeamFilter{Status: core.TeamAvailable})
	require.NoError(t, err)
	assert.Len(t, teams, 5)
	drones, err := s.ListDrones(ctx, "")
	require.NoError(t, err)
	assert.Len(t, drones, 4)
	gateways, err := s.ListGateways(ctx)
	require.NoError(t, err)
	assert.Len(t, gateways, 3)

	seeded, err = storage.Seed(ctx, s)
	require.NoError(t, err)
	assert.False(t, seeded)
}
