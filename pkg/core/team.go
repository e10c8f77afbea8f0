package core

import "time"

// TeamType is the kind of responder unit. It drives ETA speed.
type TeamType string

const (
	TeamBoat       TeamType = "BOAT"
	TeamHelicopter TeamType = "HELICOPTER"
	TeamFoot       TeamType = "FOOT"
	TeamTruck      TeamType = "TRUCK"
)

// Valid reports whether t is a known team type.
func (t TeamType) Valid() bool {
	switch t {
	case TeamBoat, TeamHelicopter, TeamFoot, TeamTruck:
		return true
	}
	return false
}

// TeamStatus is the availability of a team.
type TeamStatus string

const (
	TeamAvailable TeamStatus = "AVAILABLE"
	TeamBusy      TeamStatus = "BUSY"
	TeamOffline   TeamStatus = "OFFLINE"
)

// Team is a responder unit. A team is BUSY exactly while it owns an active mission.
type Team struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Type      TeamType   `json:"type"`
	Capacity  int        `json:"capacity"`
	Lat       float64    `json:"lat"`
	Lng       float64    `json:"lng"`
	Status    TeamStatus `json:"status"`
	Phone     string     `json:"phone,omitempty"`
	Leader    string     `json:"leader,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
}
