// pkg/core/events.go
package core

// Event names broadcast to observers.
const (
	EventRescueNew         = "rescue:new"
	EventRescueUpdated     = "rescue:updated"
	EventRescueSourceAdded = "rescue:source_added"
	EventTeamMoved         = "team:moved"
	EventTeamStatus        = "team:status"
	EventDroneStatus       = "drone:status"
	EventGatewayUpdate     = "gateway:update"
	EventMissionAssigned   = "mission:assigned"
	EventMissionUpdated    = "mission:updated"
	EventMissionCompleted  = "mission:completed"
	EventStatsUpdated      = "stats:updated"
)

// SourceAdded is the payload of EventRescueSourceAdded.
type SourceAdded struct {
	RescueID string    `json:"rescueId"`
	Channel  Channel   `json:"channel"`
	Sources  []Channel `json:"sources"`
}

// TeamMoved is the payload of EventTeamMoved.
type TeamMoved struct {
	TeamID string  `json:"teamId"`
	Lat    float64 `json:"lat"`
	Lng    float64 `json:"lng"`
}
