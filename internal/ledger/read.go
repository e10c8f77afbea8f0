package ledger

import (
	"context"
	"fmt"

	"github.com/rescuenet/dispatch/internal/storage"
	"github.com/rescuenet/dispatch/pkg/core"
)

// Listing limits.
const (
	DefaultListLimit = 50
	MaxListLimit     = 200
)

// Detail is a rescue point with everything attached to it.
type Detail struct {
	core.RescuePoint
	Sources       []core.RescueSource `json:"sources"`
	Missions      []core.Mission      `json:"missions"`
	Notifications []core.Notification `json:"notifications"`
}

// Page is one slice of a rescue point listing.
type Page struct {
	Items   []core.RescuePoint `json:"items"`
	Total   int                `json:"total"`
	Limit   int                `json:"limit"`
	Offset  int                `json:"offset"`
	HasMore bool               `json:"hasMore"`
}

// Get returns a rescue point with its sources, missions and notifications.
func (l *Ledger) Get(ctx context.Context, id string) (Detail, error) {
	p, err := l.deps.Store.GetRescuePoint(ctx, id)
	if err != nil {
		return Detail{}, err
	}
	d := Detail{RescuePoint: p}
	if d.Sources, err = l.deps.Store.ListSources(ctx, id); err != nil {
		return Detail{}, fmt.Errorf("failed to list sources: %w", err)
	}
	if d.Missions, err = l.deps.Store.ListMissions(ctx, storage.MissionFilter{RescuePointID: id}); err != nil {
		return Detail{}, fmt.Errorf("failed to list missions: %w", err)
	}
	if d.Notifications, err = l.deps.Store.ListNotifications(ctx, id); err != nil {
		return Detail{}, fmt.Errorf("failed to list notifications: %w", err)
	}
	return d, nil
}

// NormalizeFilter applies listing defaults and rejects unknown values.
func NormalizeFilter(f storage.RescuePointFilter) (storage.RescuePointFilter, error) {
	v := &core.ValidationError{}
	if f.Status != "" && !f.Status.Valid() {
		v.Add("status", fmt.Sprintf("unknown status %q", f.Status))
	}
	if f.MinUrgency < 0 || f.MinUrgency > 3 {
		v.Add("urgency", "must be 1, 2 or 3")
	}
	switch f.SortBy {
	case "":
		f.SortBy = storage.SortPriority
	case storage.SortPriority, storage.SortCreatedAt, storage.SortUrgency:
	default:
		v.Add("sortBy", fmt.Sprintf("unknown sort field %q", f.SortBy))
	}
	if f.Offset < 0 {
		v.Add("offset", "must not be negative")
	}
	if err := v.Err(); err != nil {
		return f, err
	}

	if f.Limit <= 0 {
		f.Limit = DefaultListLimit
	}
	f.Limit = min(f.Limit, MaxListLimit)
	return f, nil
}

// List returns one page of rescue points. Default order is highest priority first.
func (l *Ledger) List(ctx context.Context, f storage.RescuePointFilter) (Page, error) {
	f, err := NormalizeFilter(f)
	if err != nil {
		return Page{}, err
	}
	items, total, err := l.deps.Store.ListRescuePoints(ctx, f)
	if err != nil {
		return Page{}, fmt.Errorf("failed to list rescue points: %w", err)
	}
	return Page{
		Items:   items,
		Total:   total,
		Limit:   f.Limit,
		Offset:  f.Offset,
		HasMore: f.Offset+len(items) < total,
	}, nil
}

// Stats aggregates rescue points by status and alert class.
func (l *Ledger) Stats(ctx context.Context) (core.RescueStats, error) {
	return l.deps.Store.RescueStats(ctx)
}
