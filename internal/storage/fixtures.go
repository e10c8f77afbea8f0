package storage

import (
	"context"
	"time"

	"github.com/rescuenet/dispatch/pkg/core"
)

func ptr[T any](v T) *T { return &v }

// FixtureTeams returns the demo responder teams.
func FixtureTeams(now time.Time) []core.Team {
	team := func(id, name string, typ core.TeamType, capacity int, lat, lng float64, phone, leader string) core.Team {
		return core.Team{
			ID:        id,
			Name:      name,
			Type:      typ,
			Capacity:  capacity,
			Lat:       lat,
			Lng:       lng,
			Status:    core.TeamAvailable,
			Phone:     phone,
			Leader:    leader,
			CreatedAt: now,
			UpdatedAt: now,
		}
	}
	return []core.Team{
		team("team-001", "Boat Team 1", core.TeamBoat, 8, 16.4637, 107.5909, "0901234001", "Nguyen Van A"),
		team("team-002", "Boat Team 2", core.TeamBoat, 6, 16.47, 107.60, "0901234002", "Tran Van B"),
		team("team-003", "Helicopter Team", core.TeamHelicopter, 4, 16.45, 107.55, "0901234003", "Le Van C"),
		team("team-004", "Foot Team 1", core.TeamFoot, 10, 16.48, 107.62, "0901234004", "Pham Van D"),
		team("team-005", "Truck Team 1", core.TeamTruck, 15, 16.4637, 107.5909, "0901234005", "Hoang Van E"),
	}
}

// FixtureDrones returns the demo relay drones.
func FixtureDrones(now time.Time) []core.Drone {
	return []core.Drone{
		{
			ID: "D01", Name: "Drone Alpha",
			Lat: ptr(16.465), Lng: ptr(107.592), Altitude: ptr(50.0),
			BatteryPercent: ptr(85), SignalStrength: "strong",
			Status: core.DroneIdle, LastHeartbeat: now, IsHealthy: true,
		},
		{
			ID: "D02", Name: "Drone Beta",
			Lat: ptr(16.47), Lng: ptr(107.60), Altitude: ptr(45.0),
			BatteryPercent: ptr(72), SignalStrength: "medium",
			ConnectedUsers: 3, QueueSize: 2,
			Status: core.DroneActive, LastHeartbeat: now, IsHealthy: true,
		},
		{
			ID: "D03", Name: "Drone Gamma",
			Lat: ptr(16.455), Lng: ptr(107.58), Altitude: ptr(0.0),
			BatteryPercent: ptr(20), SignalStrength: "weak",
			Status: core.DroneReturning, LastHeartbeat: now, IsHealthy: true,
		},
		{
			ID: "D04", Name: "Drone Delta",
			Status: core.DroneOffline, LastHeartbeat: now,
		},
	}
}

// FixtureGateways returns the demo LoRa gateways.
func FixtureGateways(now time.Time) []core.Gateway {
	return []core.Gateway{
		{
			ID: "GW-FIXED-001", Name: "HQ Gateway", Type: core.GatewayFixed,
			Lat: ptr(16.05), Lng: ptr(108.2),
			PacketsToday: 523, DevicesSeen: 4, LastSeen: now, Online: true,
		},
		{
			ID: "GW-MOBILE-001", Name: "Rescue Truck A", Type: core.GatewayMobile,
			Lat: ptr(16.058), Lng: ptr(108.212), Battery: ptr(75), Signal4G: ptr(4),
			PacketsToday: 127, DevicesSeen: 2, LastSeen: now, Online: true,
		},
		{
			ID: "GW-MOBILE-002", Name: "Forward Post B", Type: core.GatewayMobile,
			Lat: ptr(16.042), Lng: ptr(108.185), Battery: ptr(92), Signal4G: ptr(3),
			PacketsToday: 89, DevicesSeen: 1, LastSeen: now.Add(-2 * time.Minute), Online: true,
		},
	}
}

// Seed writes the demo teams, drones and gateways unless the store already holds teams.
// Returns whether anything was written.
func Seed(ctx context.Context, s Store) (bool, error) {
	teams, err := s.ListTeams(ctx, TeamFilter{})
	if err != nil {
		return false, err
	}
	if len(teams) > 0 {
		return false, nil
	}

	now := time.Now()
	err = s.Atomic(ctx, func(tx Tx) error {
		for _, t := range FixtureTeams(now) {
			if err := tx.CreateTeam(ctx, &t); err != nil {
				return err
			}
		}
		for _, d := range FixtureDrones(now) {
			if err := tx.SaveDrone(ctx, &d); err != nil {
				return err
			}
		}
		for _, g := range FixtureGateways(now) {
			if err := tx.SaveGateway(ctx, &g); err != nil {
				return err
			}
		}
		return nil
	})
	return err == nil, err
}
