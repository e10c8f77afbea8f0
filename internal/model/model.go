package model

import (
	"time"

	geom "github.com/peterstace/simplefeatures/geom"
	"gorm.io/datatypes"
)

////////////////////////
// DATABASE STRUCTURES //
////////////////////////

// DatabaseModels is a list of all the structs exported here which represent tables in the database schema
var DatabaseModels = []interface{}{
	&RescuePoint{},
	&RescueSource{},
	&Team{},
	&Mission{},
	&Notification{},
	&Drone{},
	&Gateway{},
}

////////////////////////
// RESCUE MODELS
////////////////////////

// RescuePoint is a reported incident. Location holds the EPSG:3857 projection of Lat/Lng.
type RescuePoint struct {
	ID            string     `json:"id" gorm:"primaryKey;size:64"`
	Fingerprint   string     `json:"fingerprint" gorm:"size:16;not null;uniqueIndex:idx_rescue_points_fingerprint"`
	Lat           float64    `json:"lat"`
	Lng           float64    `json:"lng"`
	Location      geom.Point `json:"location" gorm:"type:bytea"`
	People        int        `json:"people"`
	Urgency       int        `json:"urgency" gorm:"index:idx_rescue_points_urgency"`
	Injured       bool       `json:"injured"`
	WaterLevel    string     `json:"waterLevel" gorm:"size:8"`
	FoodAvailable bool       `json:"foodAvailable"`
	Phone         string     `json:"phone" gorm:"size:32"`
	Description   string     `json:"description"`
	IsPanic       bool       `json:"isPanic"`
	PriorityScore int        `json:"priorityScore" gorm:"index:idx_rescue_points_priority_score"`
	Status        string     `json:"status" gorm:"size:16;index:idx_rescue_points_status"`
	SourceDrone   string     `json:"sourceDrone" gorm:"size:8"`
	SourceChannel string     `json:"sourceChannel" gorm:"size:16"`
	CreatedAt     time.Time  `json:"createdAt" gorm:"index:idx_rescue_points_created_at"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

func (*RescuePoint) TableName() string {
	return "rescue_points"
}

// RescueSource records one channel that reported a rescue point
type RescueSource struct {
	ID            string    `json:"id" gorm:"primaryKey;size:64"`
	RescuePointID string    `json:"rescuePointId" gorm:"size:64;not null;uniqueIndex:idx_rescue_sources_point_channel"`
	Channel       string    `json:"channel" gorm:"size:16;not null;uniqueIndex:idx_rescue_sources_point_channel"`
	ReceivedAt    time.Time `json:"receivedAt"`
}

func (*RescueSource) TableName() string {
	return "rescue_sources"
}

////////////////////////
// DISPATCH MODELS
////////////////////////

// Team is a responder unit
type Team struct {
	ID        string     `json:"id" gorm:"primaryKey;size:64"`
	Name      string     `json:"name" gorm:"size:127"`
	Type      string     `json:"type" gorm:"size:16"`
	Capacity  int        `json:"capacity"`
	Lat       float64    `json:"lat"`
	Lng       float64    `json:"lng"`
	Location  geom.Point `json:"location" gorm:"type:bytea"`
	Status    string     `json:"status" gorm:"size:16;index:idx_teams_status"`
	Phone     string     `json:"phone" gorm:"size:32"`
	Leader    string     `json:"leader" gorm:"size:127"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

func (*Team) TableName() string {
	return "teams"
}

// Mission binds a team to a rescue point
type Mission struct {
	ID            string     `json:"id" gorm:"primaryKey;size:64"`
	RescuePointID string     `json:"rescuePointId" gorm:"size:64;index:idx_missions_rescue_point_id"`
	TeamID        string     `json:"teamId" gorm:"size:64;index:idx_missions_team_id"`
	Status        string     `json:"status" gorm:"size:16;index:idx_missions_status"`
	EtaMinutes    int        `json:"etaMinutes"`
	Notes         string     `json:"notes"`
	StartedAt     *time.Time `json:"startedAt"`
	CompletedAt   *time.Time `json:"completedAt"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

func (*Mission) TableName() string {
	return "missions"
}

// Notification is a message for the reporting party of a rescue point
type Notification struct {
	ID            string                      `json:"id" gorm:"primaryKey;size:64"`
	RescuePointID string                      `json:"rescuePointId" gorm:"size:64;index:idx_notifications_rescue_point_id"`
	Type          string                      `json:"type" gorm:"size:16"`
	Message       string                      `json:"message"`
	EtaMinutes    *int                        `json:"etaMinutes"`
	TeamType      string                      `json:"teamType" gorm:"size:16"`
	Direction     string                      `json:"direction" gorm:"size:32"`
	Instructions  datatypes.JSONSlice[string] `json:"instructions"`
	Read          bool                        `json:"read" gorm:"index:idx_notifications_read"`
	ReadAt        *time.Time                  `json:"readAt"`
	CreatedAt     time.Time                   `json:"createdAt" gorm:"index:idx_notifications_created_at"`
}

func (*Notification) TableName() string {
	return "notifications"
}

////////////////////////
// FLEET MODELS
////////////////////////

// Drone is a relay drone and its last heartbeat
type Drone struct {
	ID             string    `json:"id" gorm:"primaryKey;size:16"`
	Name           string    `json:"name" gorm:"size:127"`
	Lat            *float64  `json:"lat"`
	Lng            *float64  `json:"lng"`
	Altitude       *float64  `json:"altitude"`
	BatteryPercent *int      `json:"batteryPercent"`
	SignalStrength string    `json:"signalStrength" gorm:"size:16"`
	ConnectedUsers int       `json:"connectedUsers"`
	QueueSize      int       `json:"queueSize"`
	Status         string    `json:"status" gorm:"size:16;index:idx_drones_status"`
	LastHeartbeat  time.Time `json:"lastHeartbeat"`
	IsHealthy      bool      `json:"isHealthy"`
}

func (*Drone) TableName() string {
	return "drones"
}

// Gateway is a LoRa gateway and its last status report
type Gateway struct {
	ID           string    `json:"id" gorm:"primaryKey;size:64"`
	Name         string    `json:"name" gorm:"size:127"`
	Type         string    `json:"type" gorm:"size:16"`
	Lat          *float64  `json:"lat"`
	Lng          *float64  `json:"lng"`
	Battery      *int      `json:"battery"`
	Signal4G     *int      `json:"signal4g"`
	PacketsToday int       `json:"packetsToday"`
	DevicesSeen  int       `json:"devicesSeen"`
	LastSeen     time.Time `json:"lastSeen"`
	Online       bool      `json:"online"`
}

func (*Gateway) TableName() string {
	return "gateways"
}
