// pkg/core/mission.go
package core

import "time"

// MissionStatus is the lifecycle state of a Mission.
type MissionStatus string

const (
	MissionAssigned   MissionStatus = "ASSIGNED"
	MissionInProgress MissionStatus = "IN_PROGRESS"
	MissionCompleted  MissionStatus = "COMPLETED"
	MissionCancelled  MissionStatus = "CANCELLED"
)

// Active reports whether a mission in this status still holds its team.
func (s MissionStatus) Active() bool {
	return s == MissionAssigned || s == MissionInProgress
}

// Valid reports whether s is a known status.
func (s MissionStatus) Valid() bool {
	switch s {
	case MissionAssigned, MissionInProgress, MissionCompleted, MissionCancelled:
		return true
	}
	return false
}

// Mission binds one team to one rescue point.
type Mission struct {
	ID            string        `json:"id"`
	RescuePointID string        `json:"rescuePointId"`
	TeamID        string        `json:"teamId"`
	Status        MissionStatus `json:"status"`
	EtaMinutes    int           `json:"etaMinutes"`
	Notes         string        `json:"notes,omitempty"`
	StartedAt     *time.Time    `json:"startedAt,omitempty"`
	CompletedAt   *time.Time    `json:"completedAt,omitempty"`
	CreatedAt     time.Time     `json:"createdAt"`
	UpdatedAt     time.Time     `json:"updatedAt"`
}
