// pkg/core/rescue.go
package core

import "time"

// RescueStatus is the lifecycle state of a RescuePoint.
type RescueStatus string

const (
	RescuePending     RescueStatus = "PENDING"
	RescueAssigned    RescueStatus = "ASSIGNED"
	RescueInProgress  RescueStatus = "IN_PROGRESS"
	RescueRescued     RescueStatus = "RESCUED"
	RescueUnreachable RescueStatus = "UNREACHABLE"
)

// Valid reports whether s is a known status.
func (s RescueStatus) Valid() bool {
	switch s {
	case RescuePending, RescueAssigned, RescueInProgress, RescueRescued, RescueUnreachable:
		return true
	}
	return false
}

// WaterLevel is an ordered bucket of reported flood depth. The zero value means unknown.
type WaterLevel string

const (
	WaterUnknown   WaterLevel = ""
	WaterBelowHalf WaterLevel = "<0.5m"
	WaterHalfToOne WaterLevel = "0.5-1m"
	WaterOneToTwo  WaterLevel = "1-2m"
	WaterAboveTwo  WaterLevel = ">2m"
)

// Valid reports whether w is unknown or one of the four buckets.
func (w WaterLevel) Valid() bool {
	switch w {
	case WaterUnknown, WaterBelowHalf, WaterHalfToOne, WaterOneToTwo, WaterAboveTwo:
		return true
	}
	return false
}

// Channel is the ingestion path a report arrived on.
type Channel string

const (
	ChannelDrone      Channel = "drone"
	ChannelLoraFixed  Channel = "lora_fixed"
	ChannelLoraMobile Channel = "lora_mobile"
	Channel4G         Channel = "4g"
	ChannelPortal     Channel = "portal"
)

// Valid reports whether c is a known channel.
func (c Channel) Valid() bool {
	switch c {
	case ChannelDrone, ChannelLoraFixed, ChannelLoraMobile, Channel4G, ChannelPortal:
		return true
	}
	return false
}

// RescuePoint is a reported incident. Fingerprint is unique across all points.
type RescuePoint struct {
	ID            string       `json:"id"`
	Fingerprint   string       `json:"fingerprint"`
	Lat           float64      `json:"lat"`
	Lng           float64      `json:"lng"`
	People        int          `json:"people"`
	Urgency       int          `json:"urgency"`
	Injured       bool         `json:"injured"`
	WaterLevel    WaterLevel   `json:"waterLevel,omitempty"`
	FoodAvailable bool         `json:"foodAvailable"`
	Phone         string       `json:"phone,omitempty"`
	Description   string       `json:"description,omitempty"`
	IsPanic       bool         `json:"isPanic"`
	PriorityScore int          `json:"priorityScore"`
	Status        RescueStatus `json:"status"`
	SourceDrone   string       `json:"sourceDrone,omitempty"`
	SourceChannel Channel      `json:"sourceChannel,omitempty"`
	CreatedAt     time.Time    `json:"createdAt"`
	UpdatedAt     time.Time    `json:"updatedAt"`
}

// RescueSource records that a channel reported a rescue point. Append-only.
type RescueSource struct {
	ID            string    `json:"id"`
	RescuePointID string    `json:"rescuePointId"`
	Channel       Channel   `json:"channel"`
	ReceivedAt    time.Time `json:"receivedAt"`
}

// Report is the canonical, channel-independent shape every intake path produces.
// Fingerprint may be supplied by the channel and is computed by the ledger otherwise.
// FoodAvailable is nil when the channel did not say.
type Report struct {
	Fingerprint   string
	Lat           float64
	Lng           float64
	People        int
	Urgency       int
	Injured       bool
	WaterLevel    WaterLevel
	FoodAvailable *bool
	Phone         string
	Description   string
	IsPanic       bool
	SourceDrone   string
	Channel       Channel
}

// FoodAvailableOr returns the reported food availability or def when absent.
func (r Report) FoodAvailableOr(def bool) bool {
	if r.FoodAvailable == nil {
		return def
	}
	return *r.FoodAvailable
}
