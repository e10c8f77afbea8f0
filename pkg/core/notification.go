package core

import "time"

// NotificationType classifies messages sent back to the reporting party.
type NotificationType string

const (
	NotifyAck       NotificationType = "ACK"
	NotifyEta       NotificationType = "ETA"
	NotifyStatus    NotificationType = "STATUS"
	NotifyCompleted NotificationType = "COMPLETED"
)

// Notification is a one-way message tied to a rescue point. Append-only apart from the read marker.
type Notification struct {
	ID            string           `json:"id"`
	RescuePointID string           `json:"rescuePointId"`
	Type          NotificationType `json:"type"`
	Message       string           `json:"message"`
	EtaMinutes    *int             `json:"etaMinutes,omitempty"`
	TeamType      TeamType         `json:"teamType,omitempty"`
	Direction     string           `json:"direction,omitempty"`
	Instructions  []string         `json:"instructions,omitempty"`
	Read          bool             `json:"read"`
	ReadAt        *time.Time       `json:"readAt,omitempty"`
	CreatedAt     time.Time        `json:"createdAt"`
}
