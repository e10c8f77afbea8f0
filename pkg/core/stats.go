package core

import "time"

// RescueStats aggregates rescue points.
type RescueStats struct {
	Total       int                  `json:"total"`
	ByStatus    map[RescueStatus]int `json:"byStatus"`
	Critical    int                  `json:"critical"`
	WithInjured int                  `json:"withInjured"`
}

// TeamStats aggregates teams.
type TeamStats struct {
	Total    int                `json:"total"`
	ByStatus map[TeamStatus]int `json:"byStatus"`
}

// MissionStats aggregates missions.
type MissionStats struct {
	Total    int                   `json:"total"`
	ByStatus map[MissionStatus]int `json:"byStatus"`
}

// DroneStats aggregates drones.
type DroneStats struct {
	Total      int                 `json:"total"`
	ByStatus   map[DroneStatus]int `json:"byStatus"`
	AvgBattery int                 `json:"avgBattery"`
}

// GatewayStats aggregates LoRa gateways.
type GatewayStats struct {
	Total        int `json:"total"`
	Online       int `json:"online"`
	PacketsToday int `json:"packetsToday"`
}

// Stats is the payload of EventStatsUpdated.
type Stats struct {
	Rescue    RescueStats  `json:"rescue"`
	Teams     TeamStats    `json:"teams"`
	Missions  MissionStats `json:"missions"`
	Timestamp time.Time    `json:"timestamp"`
}
