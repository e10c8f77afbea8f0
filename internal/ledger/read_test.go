package ledger

import (
	"context"
	"testing"

	"github.com/rescuenet/dispatch/internal/storage"
	"github.com/rescuenet/dispatch/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGet(t *testing.T) {
	l, _, _ := newTestLedger(t)
	ctx := context.Background()

	res, err := l.Submit(ctx, reportA())
	require.NoError(t, err)
	b := reportA()
	b.Channel = core.ChannelDrone
	_, err = l.Submit(ctx, b)
	require.NoError(t, err)

	d, err := l.Get(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, res.ID, d.ID)
	assert.Len(t, d.Sources, 2)
	assert.Empty(t, d.Missions)
	require.Len(t, d.Notifications, 1)
	assert.Equal(t, core.NotifyAck, d.Notifications[0].Type)

	_, err = l.Get(ctx, "missing")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestNormalizeFilter(t *testing.T) {
	tests := []struct {
		name    string
		in      storage.RescuePointFilter
		want    storage.RescuePointFilter
		wantErr bool
	}{
		{
			name: "defaults",
			in:   storage.RescuePointFilter{},
			want: storage.RescuePointFilter{SortBy: storage.SortPriority, Limit: DefaultListLimit},
		},
		{
			name: "limit capped",
			in:   storage.RescuePointFilter{SortBy: storage.SortUrgency, Limit: 500, Offset: 10},
			want: storage.RescuePointFilter{SortBy: storage.SortUrgency, Limit: MaxListLimit, Offset: 10},
		},
		{name: "bad status", in: storage.RescuePointFilter{Status: "LOST"}, wantErr: true},
		{name: "bad sort", in: storage.RescuePointFilter{SortBy: "people"}, wantErr: true},
		{name: "bad urgency", in: storage.RescuePointFilter{MinUrgency: 4}, wantErr: true},
		{name: "negative offset", in: storage.RescuePointFilter{Offset: -1}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeFilter(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, core.ErrValidation)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestList(t *testing.T) {
	l, _, _ := newTestLedger(t)
	ctx := context.Background()

	for i, urgency := range []int{1, 3, 2} {
		r := reportA()
		r.Urgency = urgency
		r.People = i + 1
		_, err := l.Submit(ctx, r)
		require.NoError(t, err)
	}

	page, err := l.List(ctx, storage.RescuePointFilter{Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, page.Total)
	assert.True(t, page.HasMore)
	require.Len(t, page.Items, 2)
	assert.Equal(t, 3, page.Items[0].Urgency)
	assert.Equal(t, 2, page.Items[1].Urgency)

	page, err = l.List(ctx, storage.RescuePointFilter{MinUrgency: 2, SortBy: storage.SortUrgency, Ascending: true})
	require.NoError(t, err)
	assert.Equal(t, 2, page.Total)
	assert.False(t, page.HasMore)
	assert.Equal(t, 2, page.Items[0].Urgency)
}

func TestStats(t *testing.T) {
	l, _, _ := newTestLedger(t)
	ctx := context.Background()

	_, err := l.Submit(ctx, reportA())
	require.NoError(t, err)
	r := reportA()
	r.People = 2
	r.Urgency = 1
	r.Injured = false
	_, err = l.Submit(ctx, r)
	require.NoError(t, err)

	s, err := l.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, s.Total)
	assert.Equal(t, 2, s.ByStatus[core.RescuePending])
	assert.Equal(t, 1, s.Critical)
	assert.Equal(t, 1, s.WithInjured)
}
