package ledger

import (
	"context"
	"fmt"
	"slices"

	"github.com/rescuenet/dispatch/internal/fanout"
	"github.com/rescuenet/dispatch/internal/locator"
	"github.com/rescuenet/dispatch/internal/priority"
	"github.com/rescuenet/dispatch/internal/storage"
	"github.com/rescuenet/dispatch/pkg/core"
)

// transitions lists the allowed next statuses. RESCUED and UNREACHABLE are terminal.
var transitions = map[core.RescueStatus][]core.RescueStatus{
	core.RescuePending:    {core.RescueAssigned, core.RescueUnreachable},
	core.RescueAssigned:   {core.RescueInProgress, core.RescueRescued, core.RescuePending},
	core.RescueInProgress: {core.RescueRescued, core.RescuePending},
}

// CanTransition reports whether a rescue point may move from one status to another.
func CanTransition(from, to core.RescueStatus) bool {
	return slices.Contains(transitions[from], to)
}

// Transition moves a rescue point to a new status inside the caller's atomic unit and
// returns the updated point. Status is never set by intake; the mission coordinator and
// MarkUnreachable are the only callers.
func (l *Ledger) Transition(ctx context.Context, tx storage.Tx, id string, to core.RescueStatus) (core.RescuePoint, error) {
	p, err := tx.GetRescuePoint(ctx, id)
	if err != nil {
		return core.RescuePoint{}, err
	}
	if !CanTransition(p.Status, to) {
		return core.RescuePoint{}, core.Conflict("rescue point %q cannot move from %s to %s", id, p.Status, to)
	}
	if err := tx.SetRescueStatus(ctx, id, p.Status, to); err != nil {
		return core.RescuePoint{}, err
	}
	return tx.GetRescuePoint(ctx, id)
}

// MarkUnreachable gives up on a PENDING rescue point.
func (l *Ledger) MarkUnreachable(ctx context.Context, id string) (core.RescuePoint, error) {
	var p core.RescuePoint
	err := l.deps.Store.Atomic(ctx, func(tx storage.Tx) error {
		var err error
		p, err = l.Transition(ctx, tx, id, core.RescueUnreachable)
		return err
	})
	if err != nil {
		return core.RescuePoint{}, err
	}

	l.deps.Events.Publish(core.EventRescueUpdated, p)
	l.deps.Logger.Info("Marked rescue point unreachable", "rescuePointId", id)
	return p, nil
}

// RecalculatePending rescores every PENDING point against the current AVAILABLE teams and
// returns how many scores changed.
func (l *Ledger) RecalculatePending(ctx context.Context) (int, error) {
	var events fanout.Batch
	err := l.deps.Store.Atomic(ctx, func(tx storage.Tx) error {
		events.Reset()

		pending, _, err := tx.ListRescuePoints(ctx, storage.RescuePointFilter{Status: core.RescuePending})
		if err != nil {
			return fmt.Errorf("failed to list pending rescue points: %w", err)
		}
		teams, err := tx.ListTeams(ctx, storage.TeamFilter{Status: core.TeamAvailable})
		if err != nil {
			return fmt.Errorf("failed to list available teams: %w", err)
		}
		src := locator.Static(teams)

		now := l.now()
		for _, p := range pending {
			km, err := nearestKm(ctx, src, p.Lat, p.Lng)
			if err != nil {
				return err
			}
			score := priority.Score(priority.FromPoint(p, km))
			if score == p.PriorityScore {
				continue
			}
			p.PriorityScore = score
			p.UpdatedAt = now
			if err := tx.UpdateRescuePoint(ctx, &p); err != nil {
				return err
			}
			events.Add(core.EventRescueUpdated, p)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	changed := events.Len()
	events.Flush(l.deps.Events)
	l.deps.Logger.Debug("Recalculated pending priorities", "changed", changed)
	return changed, nil
}
