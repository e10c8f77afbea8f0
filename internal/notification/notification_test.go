package notification

import (
	"context"
	"testing"
	"time"

	"github.com/rescuenet/dispatch/internal/config"
	"github.com/rescuenet/dispatch/internal/storage"
	"github.com/rescuenet/dispatch/internal/storage/memory"
	"github.com/rescuenet/dispatch/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T) (*Service, storage.Store, core.RescuePoint) {
	t.Helper()
	ctx := context.Background()
	store := memory.New(config.MemoryConfig{})
	require.NoError(t, store.Init(ctx))

	base := time.Date(2026, 10, 1, 8, 0, 0, 0, time.UTC)
	p := core.RescuePoint{Fingerprint: "00ABCDEF", Lat: 16.46, Lng: 107.59, People: 2, Urgency: 2, Status: core.RescuePending}
	err := store.Atomic(ctx, func(tx storage.Tx) error {
		if err := tx.CreateRescuePoint(ctx, &p); err != nil {
			return err
		}
		ack := Ack(p.ID, base)
		if err := tx.AddNotification(ctx, &ack); err != nil {
			return err
		}
		eta := Eta(p.ID, 25, core.TeamBoat, "from the south", base.Add(time.Minute))
		return tx.AddNotification(ctx, &eta)
	})
	require.NoError(t, err)

	return New(store), store, p
}

func TestBuilders(t *testing.T) {
	at := time.Now()

	n := Eta("rp-1", 13, core.TeamBoat, "from the west", at)
	assert.Equal(t, core.NotifyEta, n.Type)
	assert.Equal(t, "A rescue team will arrive in about 13 minutes", n.Message)
	require.NotNil(t, n.EtaMinutes)
	assert.Equal(t, 13, *n.EtaMinutes)
	assert.Equal(t, EtaInstructions, n.Instructions)

	n.Instructions[0] = "changed"
	assert.Equal(t, "Move to the highest point you can reach safely", EtaInstructions[0])

	assert.Equal(t, StatusMessage, Status("rp-1", at).Message)
	assert.Equal(t, core.NotifyCompleted, Completed("rp-1", at).Type)
	assert.Equal(t, AckMessage, Ack("rp-1", at).Message)
}

func TestLatestByIDOrFingerprint(t *testing.T) {
	s, _, p := setup(t)
	ctx := context.Background()

	for _, ref := range []string{p.ID, p.Fingerprint} {
		n, err := s.Latest(ctx, ref)
		require.NoError(t, err)
		assert.Equal(t, core.NotifyEta, n.Type)
		assert.Equal(t, "from the south", n.Direction)
	}

	_, err := s.Latest(ctx, "unknown")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestAcknowledge(t *testing.T) {
	s, _, p := setup(t)
	ctx := context.Background()

	at := time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)
	changed, err := s.Acknowledge(ctx, p.Fingerprint, at)
	require.NoError(t, err)
	assert.Equal(t, 2, changed)

	_, err = s.Latest(ctx, p.ID)
	assert.ErrorIs(t, err, core.ErrNotFound)

	all, err := s.List(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, all, 2)
	for _, n := range all {
		assert.True(t, n.Read)
		require.NotNil(t, n.ReadAt)
		assert.True(t, n.ReadAt.Equal(at))
	}

	changed, err = s.Acknowledge(ctx, p.ID, time.Time{})
	require.NoError(t, err)
	assert.Zero(t, changed)

	_, err = s.Acknowledge(ctx, "unknown", time.Time{})
	assert.ErrorIs(t, err, core.ErrNotFound)
}
