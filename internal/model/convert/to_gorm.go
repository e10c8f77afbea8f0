package convert

import (
	"slices"

	geom "github.com/peterstace/simplefeatures/geom"
	"github.com/rescuenet/dispatch/internal/geo"
	"github.com/rescuenet/dispatch/internal/model"
	"github.com/rescuenet/dispatch/pkg/core"
	"gorm.io/datatypes"
)

// location projects a WGS84 coordinate to EPSG:3857. Invalid input yields an empty point.
func location(lat, lng float64) geom.Point {
	p, err := geo.Coords3857From4326(lng, lat)
	if err != nil {
		return geom.NewEmptyPoint(geom.DimXY)
	}
	return p
}

// CoreToRescuePoint converts a core.RescuePoint to a GORM model.RescuePoint
func CoreToRescuePoint(p core.RescuePoint) model.RescuePoint {
	return model.RescuePoint{
		ID:            p.ID,
		Fingerprint:   p.Fingerprint,
		Lat:           p.Lat,
		Lng:           p.Lng,
		Location:      location(p.Lat, p.Lng),
		People:        p.People,
		Urgency:       p.Urgency,
		Injured:       p.Injured,
		WaterLevel:    string(p.WaterLevel),
		FoodAvailable: p.FoodAvailable,
		Phone:         p.Phone,
		Description:   p.Description,
		IsPanic:       p.IsPanic,
		PriorityScore: p.PriorityScore,
		Status:        string(p.Status),
		SourceDrone:   p.SourceDrone,
		SourceChannel: string(p.SourceChannel),
		CreatedAt:     p.CreatedAt,
		UpdatedAt:     p.UpdatedAt,
	}
}

// CoreToRescueSource converts a core.RescueSource to a GORM model.RescueSource
func CoreToRescueSource(s core.RescueSource) model.RescueSource {
	return model.RescueSource{
		ID:            s.ID,
		RescuePointID: s.RescuePointID,
		Channel:       string(s.Channel),
		ReceivedAt:    s.ReceivedAt,
	}
}

// CoreToTeam converts a core.Team to a GORM model.Team
func CoreToTeam(t core.Team) model.Team {
	return model.Team{
		ID:        t.ID,
		Name:      t.Name,
		Type:      string(t.Type),
		Capacity:  t.Capacity,
		Lat:       t.Lat,
		Lng:       t.Lng,
		Location:  location(t.Lat, t.Lng),
		Status:    string(t.Status),
		Phone:     t.Phone,
		Leader:    t.Leader,
		CreatedAt: t.CreatedAt,
		UpdatedAt: t.UpdatedAt,
	}
}

// CoreToMission converts a core.Mission to a GORM model.Mission
func CoreToMission(m core.Mission) model.Mission {
	return model.Mission{
		ID:            m.ID,
		RescuePointID: m.RescuePointID,
		TeamID:        m.TeamID,
		Status:        string(m.Status),
		EtaMinutes:    m.EtaMinutes,
		Notes:         m.Notes,
		StartedAt:     m.StartedAt,
		CompletedAt:   m.CompletedAt,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
}

// CoreToNotification converts a core.Notification to a GORM model.Notification
func CoreToNotification(n core.Notification) model.Notification {
	instructions := datatypes.JSONSlice[string]{}
	if len(n.Instructions) > 0 {
		instructions = slices.Clone(n.Instructions)
	}
	return model.Notification{
		ID:            n.ID,
		RescuePointID: n.RescuePointID,
		Type:          string(n.Type),
		Message:       n.Message,
		EtaMinutes:    n.EtaMinutes,
		TeamType:      string(n.TeamType),
		Direction:     n.Direction,
		Instructions:  instructions,
		Read:          n.Read,
		ReadAt:        n.ReadAt,
		CreatedAt:     n.CreatedAt,
	}
}

// CoreToDrone converts a core.Drone to a GORM model.Drone
func CoreToDrone(d core.Drone) model.Drone {
	return model.Drone{
		ID:             d.ID,
		Name:           d.Name,
		Lat:            d.Lat,
		Lng:            d.Lng,
		Altitude:       d.Altitude,
		BatteryPercent: d.BatteryPercent,
		SignalStrength: d.SignalStrength,
		ConnectedUsers: d.ConnectedUsers,
		QueueSize:      d.QueueSize,
		Status:         string(d.Status),
		LastHeartbeat:  d.LastHeartbeat,
		IsHealthy:      d.IsHealthy,
	}
}

// CoreToGateway converts a core.Gateway to a GORM model.Gateway
func CoreToGateway(g core.Gateway) model.Gateway {
	return model.Gateway{
		ID:           g.ID,
		Name:         g.Name,
		Type:         string(g.Type),
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
