// Package ledger owns the rescue point lifecycle: deduplicating reports by fingerprint,
// merging corroborating reports, scoring, and status transitions.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/rescuenet/dispatch/internal/fanout"
	"github.com/rescuenet/dispatch/internal/geo"
	"github.com/rescuenet/dispatch/internal/locator"
	"github.com/rescuenet/dispatch/internal/notification"
	"github.com/rescuenet/dispatch/internal/priority"
	"github.com/rescuenet/dispatch/internal/storage"
	"github.com/rescuenet/dispatch/pkg/core"
)

// maxSubmitAttempts bounds how often a submit that lost a fingerprint insert race is replayed.
const maxSubmitAttempts = 3

// Dependencies holds all dependencies for the ledger
type Dependencies struct {
	Store  storage.Store
	Events fanout.Publisher
	Logger *slog.Logger
}

// Ledger is the single writer of rescue points.
type Ledger struct {
	deps Dependencies
	now  func() time.Time
}

// New creates a ledger. A nil publisher or logger discards.
func New(deps Dependencies) *Ledger {
	if deps.Events == nil {
		deps.Events = fanout.Discard
	}
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.DiscardHandler)
	}
	return &Ledger{deps: deps, now: time.Now}
}

// Result describes what Submit did with a report.
type Result struct {
	ID            string       `json:"id"`
	Fingerprint   string       `json:"fingerprint"`
	IsDuplicate   bool         `json:"isDuplicate"`
	SourceAdded   bool         `json:"sourceAdded"`
	Channel       core.Channel `json:"channel"`
	PriorityScore int          `json:"priorityScore"`
}

// Validate checks a canonical report. Every invalid field is reported.
func Validate(r core.Report) error {
	v := &core.ValidationError{}
	if err := geo.ValidateCoordinates(r.Lat, r.Lng); err != nil {
		v.Add("lat/lng", err.Error())
	}
	if r.People < 1 {
		v.Add("people", "must be at least 1")
	}
	if r.Urgency < 1 || r.Urgency > 3 {
		v.Add("urgency", "must be 1, 2 or 3")
	}
	if !r.WaterLevel.Valid() {
		v.Add("waterLevel", fmt.Sprintf("unknown bucket %q", r.WaterLevel))
	}
	if !r.Channel.Valid() {
		v.Add("channel", fmt.Sprintf("unknown channel %q", r.Channel))
	}
	return v.Err()
}

// Submit records a report. A report whose fingerprint is already known is merged into the
// existing point; otherwise a PENDING point is created with its first source and an ACK
// notification. Events are published only after the write commits.
func (l *Ledger) Submit(ctx context.Context, r core.Report) (Result, error) {
	if err := Validate(r); err != nil {
		return Result{}, err
	}
	if r.Fingerprint == "" {
		r.Fingerprint = geo.Fingerprint(r.Lat, r.Lng, r.Phone, r.People)
	}

	var (
		res    Result
		events fanout.Batch
		err    error
	)
	for attempt := 1; attempt <= maxSubmitAttempts; attempt++ {
		events.Reset()
		err = l.deps.Store.Atomic(ctx, func(tx storage.Tx) error {
			var err error
			res, err = l.submit(ctx, tx, r, &events)
			return err
		})
		if !errors.Is(err, storage.ErrDuplicate) {
			break
		}
		// another writer created the fingerprint first; the next attempt merges into it
		l.deps.Logger.Debug("Fingerprint insert race lost, retrying",
			"fingerprint", r.Fingerprint, "attempt", attempt)
	}
	if errors.Is(err, storage.ErrDuplicate) {
		return Result{}, core.Conflict("fingerprint %s kept changing under concurrent submits", r.Fingerprint)
	}
	if err != nil {
		return Result{}, err
	}

	events.Flush(l.deps.Events)

	if res.IsDuplicate {
		l.deps.Logger.Info("Merged duplicate report",
			"rescuePointId", res.ID, "fingerprint", res.Fingerprint,
			"channel", res.Channel, "sourceAdded", res.SourceAdded)
	} else {
		l.deps.Logger.Info("Created rescue point",
			"rescuePointId", res.ID, "fingerprint", res.Fingerprint,
			"channel", res.Channel, "priorityScore", res.PriorityScore)
	}
	return res, nil
}

func (l *Ledger) submit(ctx context.Context, tx storage.Tx, r core.Report, events *fanout.Batch) (Result, error) {
	existing, err := tx.GetRescuePointByFingerprint(ctx, r.Fingerprint)
	switch {
	case err == nil:
		return l.merge(ctx, tx, existing, r, events)
	case errors.Is(err, core.ErrNotFound):
		return l.create(ctx, tx, r, events)
	default:
		return Result{}, err
	}
}

func (l *Ledger) create(ctx context.Context, tx storage.Tx, r core.Report, events *fanout.Batch) (Result, error) {
	now := l.now()
	p := core.RescuePoint{
		Fingerprint:   r.Fingerprint,
		Lat:           r.Lat,
		Lng:           r.Lng,
		People:        r.People,
		Urgency:       r.Urgency,
		Injured:       r.Injured,
		WaterLevel:    r.WaterLevel,
		FoodAvailable: r.FoodAvailableOr(true),
		Phone:         r.Phone,
		Description:   r.Description,
		IsPanic:       r.IsPanic,
		Status:        core.RescuePending,
		SourceDrone:   r.SourceDrone,
		SourceChannel: r.Channel,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	km, err := nearestKm(ctx, tx, p.Lat, p.Lng)
	if err != nil {
		return Result{}, err
	}
	p.PriorityScore = priority.Score(priority.FromPoint(p, km))

	if err := tx.CreateRescuePoint(ctx, &p); err != nil {
		return Result{}, err
	}
	if _, err := tx.AddSource(ctx, &core.RescueSource{
		RescuePointID: p.ID,
		Channel:       r.Channel,
		ReceivedAt:    now,
	}); err != nil {
		return Result{}, fmt.Errorf("failed to record source: %w", err)
	}
	ack := notification.Ack(p.ID, now)
	if err := tx.AddNotification(ctx, &ack); err != nil {
		return Result{}, fmt.Errorf("failed to create ack notification: %w", err)
	}

	events.Add(core.EventRescueNew, p)

	return Result{
		ID:            p.ID,
		Fingerprint:   p.Fingerprint,
		SourceAdded:   true,
		Channel:       r.Channel,
		PriorityScore: p.PriorityScore,
	}, nil
}

// Merge folds an incoming report into the existing point. Urgency, injury and head count only
// ever rise. The score is recomputed only when urgency rose or injury became true.
func Merge(existing core.RescuePoint, r core.Report) (merged core.RescuePoint, rescore bool) {
	merged = existing
	merged.Urgency = max(existing.Urgency, r.Urgency)
	merged.Injured = existing.Injured || r.Injured
	merged.People = max(existing.People, r.People)
	if r.WaterLevel != core.WaterUnknown {
		merged.WaterLevel = r.WaterLevel
	}
	merged.FoodAvailable = r.FoodAvailableOr(existing.FoodAvailable)

	rescore = merged.Urgency > existing.Urgency || (merged.Injured && !existing.Injured)
	return merged, rescore
}

func (l *Ledger) merge(ctx context.Context, tx storage.Tx, existing core.RescuePoint, r core.Report, events *fanout.Batch) (Result, error) {
	now := l.now()
	merged, rescore := Merge(existing, r)
	if rescore {
		km, err := nearestKm(ctx, tx, merged.Lat, merged.Lng)
		if err != nil {
			return Result{}, err
		}
		merged.PriorityScore = priority.Score(priority.FromPoint(merged, km))
	}
	merged.UpdatedAt = now

	if err := tx.UpdateRescuePoint(ctx, &merged); err != nil {
		return Result{}, err
	}
	added, err := tx.AddSource(ctx, &core.RescueSource{
		RescuePointID: merged.ID,
		Channel:       r.Channel,
		ReceivedAt:    now,
	})
	if err != nil {
		return Result{}, fmt.Errorf("failed to record source: %w", err)
	}

	events.Add(core.EventRescueUpdated, merged)
	if added {
		sources, err := tx.ListSources(ctx, merged.ID)
		if err != nil {
			return Result{}, err
		}
		channels := make([]core.Channel, 0, len(sources))
		for _, s := range sources {
			channels = append(channels, s.Channel)
		}
		events.Add(core.EventRescueSourceAdded, core.SourceAdded{
			RescueID: merged.ID,
			Channel:  r.Channel,
			Sources:  channels,
		})
	}

	return Result{
		ID:            merged.ID,
		Fingerprint:   merged.Fingerprint,
		IsDuplicate:   true,
		SourceAdded:   added,
		Channel:       r.Channel,
		PriorityScore: merged.PriorityScore,
	}, nil
}

// nearestKm returns the distance to the closest AVAILABLE team, or nil when there is none.
func nearestKm(ctx context.Context, src locator.TeamSource, lat, lng float64) (*float64, error) {
	c, ok, err := locator.FindNearest(ctx, src, lat, lng)
	if err != nil || !ok {
		return nil, err
	}
	return &c.DistanceKm, nil
}
