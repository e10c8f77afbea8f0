// Package notification builds the messages sent back to a reporting party and serves
// the reporter's polling side: latest unread message and bulk acknowledge.
package notification

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rescuenet/dispatch/internal/storage"
	"github.com/rescuenet/dispatch/pkg/core"
)

// Message texts.
const (
	AckMessage       = "Rescue request received. Please wait for a response."
	EtaMessageFormat = "A rescue team will arrive in about %d minutes"
	StatusMessage    = "The rescue team is on the way."
	CompletedMessage = "Rescue completed. Stay safe!"
)

// EtaInstructions are attached to every ETA notification, in order.
var EtaInstructions = []string{
	"Move to the highest point you can reach safely",
	"Wear a life jacket if you have one",
	"Keep your phone charged",
	"Wave when you see the rescue team",
}

// Ack acknowledges a new rescue request.
func Ack(rescuePointID string, at time.Time) core.Notification {
	return core.Notification{
		RescuePointID: rescuePointID,
		Type:          core.NotifyAck,
		Message:       AckMessage,
		CreatedAt:     at,
	}
}

// Eta announces an assigned team with its travel time and approach direction.
func Eta(rescuePointID string, etaMinutes int, teamType core.TeamType, direction string, at time.Time) core.Notification {
	eta := etaMinutes
	return core.Notification{
		RescuePointID: rescuePointID,
		Type:          core.NotifyEta,
		Message:       fmt.Sprintf(EtaMessageFormat, etaMinutes),
		EtaMinutes:    &eta,
		TeamType:      teamType,
		Direction:     direction,
		Instructions:  append([]string(nil), EtaInstructions...),
		CreatedAt:     at,
	}
}

// Status tells the reporter the team has set off.
func Status(rescuePointID string, at time.Time) core.Notification {
	return core.Notification{
		RescuePointID: rescuePointID,
		Type:          core.NotifyStatus,
		Message:       StatusMessage,
		CreatedAt:     at,
	}
}

// Completed closes the conversation with the reporter.
func Completed(rescuePointID string, at time.Time) core.Notification {
	return core.Notification{
		RescuePointID: rescuePointID,
		Type:          core.NotifyCompleted,
		Message:       CompletedMessage,
		CreatedAt:     at,
	}
}

// Service is the reporter-facing read side.
type Service struct {
	store storage.Store
	now   func() time.Time
}

// New creates a notification service backed by store.
func New(store storage.Store) *Service {
	return &Service{store: store, now: time.Now}
}

// resolve accepts either a rescue point id or its fingerprint.
func resolve(ctx context.Context, r storage.Reader, ref string) (core.RescuePoint, error) {
	p, err := r.GetRescuePoint(ctx, ref)
	if err == nil || !errors.Is(err, core.ErrNotFound) {
		return p, err
	}
	p, err = r.GetRescuePointByFingerprint(ctx, ref)
	if errors.Is(err, core.ErrNotFound) {
		return core.RescuePoint{}, core.NotFound("rescue point", ref)
	}
	return p, err
}

// Latest returns the newest unread notification of the rescue point ref names.
func (s *Service) Latest(ctx context.Context, ref string) (core.Notification, error) {
	p, err := resolve(ctx, s.store, ref)
	if err != nil {
		return core.Notification{}, err
	}
	return s.store.LatestUnreadNotification(ctx, p.ID)
}

// List returns every notification of the rescue point ref names, newest first.
func (s *Service) List(ctx context.Context, ref string) ([]core.Notification, error) {
	p, err := resolve(ctx, s.store, ref)
	if err != nil {
		return nil, err
	}
	return s.store.ListNotifications(ctx, p.ID)
}

// Acknowledge marks all unread notifications of the rescue point read at the given time
// (now when zero) and returns how many changed.
func (s *Service) Acknowledge(ctx context.Context, ref string, at time.Time) (int, error) {
	if at.IsZero() {
		at = s.now()
	}

	var changed int
	err := s.store.Atomic(ctx, func(tx storage.Tx) error {
		p, err := resolve(ctx, tx, ref)
		if err != nil {
			return err
		}
		changed, err = tx.MarkNotificationsRead(ctx, p.ID, at)
		return err
	})
	if err != nil {
		return 0, err
	}
	return changed, nil
}
