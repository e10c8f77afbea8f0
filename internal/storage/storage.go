// internal/storage/storage.go
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/rescuenet/dispatch/pkg/core"
)

// ErrDuplicate is returned by CreateRescuePoint when the fingerprint is already taken.
// Callers recover by re-reading and merging.
var ErrDuplicate = errors.New("duplicate fingerprint")

// SortField selects the ordering of rescue point listings.
type SortField string

const (
	SortPriority  SortField = "priorityScore"
	SortCreatedAt SortField = "createdAt"
	SortUrgency   SortField = "urgency"
)

// RescuePointFilter narrows ListRescuePoints. Zero values mean "any".
type RescuePointFilter struct {
	Status     core.RescueStatus
	MinUrgency int
	SortBy     SortField
	Ascending  bool
	Limit      int
	Offset     int
}

// TeamFilter narrows ListTeams. Teams are returned in creation order.
type TeamFilter struct {
	Status core.TeamStatus
}

// MissionFilter narrows ListMissions. Missions are listed newest first,
// except ActiveOnly listings which run oldest first.
type MissionFilter struct {
	Status        core.MissionStatus
	TeamID        string
	RescuePointID string
	ActiveOnly    bool
}

// Reader is the read side shared by a Store and its transactions.
type Reader interface {
	GetRescuePoint(ctx context.Context, id string) (core.RescuePoint, error)
	GetRescuePointByFingerprint(ctx context.Context, fingerprint string) (core.RescuePoint, error)
	// ListRescuePoints returns one page and the total number of matches.
	ListRescuePoints(ctx context.Context, f RescuePointFilter) ([]core.RescuePoint, int, error)
	ListSources(ctx context.Context, rescuePointID string) ([]core.RescueSource, error)

	GetTeam(ctx context.Context, id string) (core.Team, error)
	ListTeams(ctx context.Context, f TeamFilter) ([]core.Team, error)

	GetMission(ctx context.Context, id string) (core.Mission, error)
	ListMissions(ctx context.Context, f MissionFilter) ([]core.Mission, error)

	// LatestUnreadNotification returns the newest unread notification of a rescue point.
	LatestUnreadNotification(ctx context.Context, rescuePointID string) (core.Notification, error)
	ListNotifications(ctx context.Context, rescuePointID string) ([]core.Notification, error)

	GetDrone(ctx context.Context, id string) (core.Drone, error)
	ListDrones(ctx context.Context, status core.DroneStatus) ([]core.Drone, error)
	GetGateway(ctx context.Context, id string) (core.Gateway, error)
	ListGateways(ctx context.Context) ([]core.Gateway, error)

	RescueStats(ctx context.Context) (core.RescueStats, error)
	TeamStats(ctx context.Context) (core.TeamStats, error)
	MissionStats(ctx context.Context) (core.MissionStats, error)
}

// Tx is one atomic unit of work. Writes become visible to other readers only when the
// enclosing Atomic call returns nil; any error discards all of them.
type Tx interface {
	Reader

	// CreateRescuePoint assigns an ID when empty. Returns ErrDuplicate on a fingerprint clash.
	CreateRescuePoint(ctx context.Context, p *core.RescuePoint) error
	UpdateRescuePoint(ctx context.Context, p *core.RescuePoint) error
	// SetRescueStatus moves a point from one status to another and returns ErrConflict
	// when the stored status is not from.
	SetRescueStatus(ctx context.Context, id string, from, to core.RescueStatus) error
	// AddSource records a channel for a point. Returns false when the channel was already recorded.
	AddSource(ctx context.Context, s *core.RescueSource) (bool, error)

	CreateTeam(ctx context.Context, t *core.Team) error
	UpdateTeam(ctx context.Context, t *core.Team) error
	// SetTeamStatus is the compare-and-set counterpart of SetRescueStatus for teams.
	SetTeamStatus(ctx context.Context, id string, from, to core.TeamStatus) error

	CreateMission(ctx context.Context, m *core.Mission) error
	UpdateMission(ctx context.Context, m *core.Mission) error

	AddNotification(ctx context.Context, n *core.Notification) error
	// MarkNotificationsRead marks every unread notification of a point read and returns how many changed.
	MarkNotificationsRead(ctx context.Context, rescuePointID string, at time.Time) (int, error)

	SaveDrone(ctx context.Context, d *core.Drone) error
	SaveGateway(ctx context.Context, g *core.Gateway) error
}

// Store is the interface all storage implementations must satisfy
type Store interface {
	Reader

	// Lifecycle
	Init(ctx context.Context) error
	Close() error

	// Atomic runs fn as one unit: either every write in fn is applied or none is.
	Atomic(ctx context.Context, fn func(tx Tx) error) error

	// Kind names the implementation for health reporting.
	Kind() string
	Ping(ctx context.Context) error
}
