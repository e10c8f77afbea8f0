// Package convert provides functions to convert GORM models to core models
package convert

import (
	"slices"

	"github.com/rescuenet/dispatch/internal/model"
	"github.com/rescuenet/dispatch/pkg/core"
)

// RescuePointToCore converts a GORM RescuePoint to a core.RescuePoint.
// Location is derived data and is not carried over.
func RescuePointToCore(p model.RescuePoint) core.RescuePoint {
	return core.RescuePoint{
		ID:            p.ID,
		Fingerprint:   p.Fingerprint,
		Lat:           p.Lat,
		Lng:           p.Lng,
		People:        p.People,
		Urgency:       p.Urgency,
		Injured:       p.Injured,
		WaterLevel:    core.WaterLevel(p.WaterLevel),
		FoodAvailable: p.FoodAvailable,
		Phone:         p.Phone,
		Description:   p.Description,
		IsPanic:       p.IsPanic,
		PriorityScore: p.PriorityScore,
		Status:        core.RescueStatus(p.Status),
		SourceDrone:   p.SourceDrone,
		SourceChannel: core.Channel(p.SourceChannel),
		CreatedAt:     p.CreatedAt,
		UpdatedAt:     p.UpdatedAt,
	}
}

// RescueSourceToCore converts a GORM RescueSource to a core.RescueSource
func RescueSourceToCore(s model.RescueSource) core.RescueSource {
	return core.RescueSource{
		ID:            s.ID,
		RescuePointID: s.RescuePointID,
		Channel:       core.Channel(s.Channel),
		ReceivedAt:    s.ReceivedAt,
	}
}

// TeamToCore converts a GORM Team to a core.Team
func TeamToCore(t model.Team) core.Team {
	return core.Team{
		ID:        t.ID,
		Name:      t.Name,
		Type:      core.TeamType(t.Type),
		Capacity:  t.Capacity,
		Lat:       t.Lat,
		Lng:       t.Lng,
		Status:    core.TeamStatus(t.Status),
		Phone:     t.Phone,
		Leader:    t.Leader,
		CreatedAt: t.CreatedAt,
		UpdatedAt: t.UpdatedAt,
	}
}

// MissionToCore converts a GORM Mission to a core.Mission
func MissionToCore(m model.Mission) core.Mission {
	return core.Mission{
		ID:            m.ID,
		RescuePointID: m.RescuePointID,
		TeamID:        m.TeamID,
		Status:        core.MissionStatus(m.Status),
		EtaMinutes:    m.EtaMinutes,
		Notes:         m.Notes,
		StartedAt:     m.StartedAt,
		CompletedAt:   m.CompletedAt,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
}

// NotificationToCore converts a GORM Notification to a core.Notification
func NotificationToCore(n model.Notification) core.Notification {
	return core.Notification{
		ID:            n.ID,
		RescuePointID: n.RescuePointID,
		Type:          core.NotificationType(n.Type),
		Message:       n.Message,
		EtaMinutes:    n.EtaMinutes,
		TeamType:      core.TeamType(n.TeamType),
		Direction:     n.Direction,
		Instructions:  slices.Clone([]string(n.Instructions)),
		Read:          n.Read,
		ReadAt:        n.ReadAt,
		CreatedAt:     n.CreatedAt,
	}
}

// DroneToCore converts a GORM Drone to a core.Drone
func DroneToCore(d model.Drone) core.Drone {
	return core.Drone{
		ID:             d.ID,
		Name:           d.Name,
		Lat:            d.Lat,
		Lng:            d.Lng,
		Altitude:       d.Altitude,
		BatteryPercent: d.BatteryPercent,
		SignalStrength: d.SignalStrength,
		ConnectedUsers: d.ConnectedUsers,
		QueueSize:      d.QueueSize,
		Status:         core.DroneStatus(d.Status),
		LastHeartbeat:  d.LastHeartbeat,
		IsHealthy:      d.IsHealthy,
	}
}

// GatewayToCore converts a GORM Gateway to a core.Gateway
func GatewayToCore(g model.Gateway) core.Gateway {
	return core.Gateway{
		ID:           g.ID,
		Name:         g.Name,
		Type:         core.GatewayType(g.Type),
		Lat:          g.Lat,
		Lng:          g.Lng,
		Battery:      g.Battery,
		Signal4G:     g.Signal4G,
		PacketsToday: g.PacketsToday,
		DevicesSeen:  g.DevicesSeen,
		LastSeen:     g.LastSeen,
		Online:       g.Online,
	}
}
