package core

import "time"

// DroneStatus is the flight state a drone reports in its heartbeat.
type DroneStatus string

const (
	DroneActive    DroneStatus = "ACTIVE"
	DroneIdle      DroneStatus = "IDLE"
	DroneReturning DroneStatus = "RETURNING"
	DroneOffline   DroneStatus = "OFFLINE"
)

// Valid reports whether s is a known drone status.
func (s DroneStatus) Valid() bool {
	switch s {
	case DroneActive, DroneIdle, DroneReturning, DroneOffline:
		return true
	}
	return false
}

// Drone is an airborne relay that collects reports from the ground.
type Drone struct {
	ID             string      `json:"id"`
	Name           string      `json:"name"`
	Lat            *float64    `json:"lat,omitempty"`
	Lng            *float64    `json:"lng,omitempty"`
	Altitude       *float64    `json:"altitude,omitempty"`
	BatteryPercent *int        `json:"batteryPercent,omitempty"`
	SignalStrength string      `json:"signalStrength,omitempty"`
	ConnectedUsers int         `json:"connectedUsers"`
	QueueSize      int         `json:"queueSize"`
	Status         DroneStatus `json:"status"`
	LastHeartbeat  time.Time   `json:"lastHeartbeat"`
	IsHealthy      bool        `json:"isHealthy"`
}

// GatewayType distinguishes fixed masts from vehicle-mounted gateways.
type GatewayType string

const (
	GatewayFixed  GatewayType = "FIXED"
	GatewayMobile GatewayType = "MOBILE"
)

// Gateway is a LoRa gateway that bridges radio reports into the system.
type Gateway struct {
	ID           string      `json:"id"`
	Name         string      `json:"name"`
	Type         GatewayType `json:"type"`
	Lat          *float64    `json:"lat,omitempty"`
	Lng          *float64    `json:"lng,omitempty"`
	Battery      *int        `json:"battery,omitempty"`
	Signal4G     *int        `json:"signal4g,omitempty"`
	PacketsToday int         `json:"packetsToday"`
	DevicesSeen  int         `json:"devicesSeen"`
	LastSeen     time.Time   `json:"lastSeen"`
	Online       bool        `json:"online"`
}
