package redisstream

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rescuenet/dispatch/internal/fanout"
)

type fakeClient struct {
	added  []*redis.XAddArgs
	err    error
	closed bool
}

func (f *fakeClient) XAdd(_ context.Context, a *redis.XAddArgs) *redis.StringCmd {
	if f.err != nil {
		return redis.NewStringResult("", f.err)
	}
	f.added = append(f.added, a)
	return redis.NewStringResult("1-0", nil)
}

func (f *fakeClient) Ping(context.Context) *redis.StatusCmd {
	return redis.NewStatusResult("PONG", f.err)
}

func (f *fakeClient) Close() error {
	f.closed = true
	return nil
}

func TestNewValidation(t *testing.T) {
	_, err := New(Options{Address: "localhost:6379"})
	assert.Error(t, err)

	_, err = New(Options{Stream: "rescue:events"})
	assert.Error(t, err)

	s, err := New(Options{Address: "localhost:6379", Stream: "rescue:events"})
	require.NoError(t, err)
	assert.Equal(t, int64(DefaultMaxLen), s.maxLen)
	require.NoError(t, s.Close())
}

func TestDeliver(t *testing.T) {
	c := &fakeClient{}
	s := newWithClient(c, "rescue:events", 500)

	ts := time.Date(2024, 10, 2, 8, 0, 0, 0, time.UTC)
	require.NoError(t, s.Deliver(fanout.Event{
		Name:      "rescue:new",
		Payload:   map[string]any{"id": "rp-1"},
		Timestamp: ts,
	}))

	require.Len(t, c.added, 1)
	args := c.added[0]
	assert.Equal(t, "rescue:events", args.Stream)
	assert.Equal(t, int64(500), args.MaxLen)
	assert.True(t, args.Approx)

	values := args.Values.(map[string]interface{})
	assert.Equal(t, "rescue:new", values["event"])
	assert.JSONEq(t, `{"id":"rp-1"}`, values["data"].(string))
	assert.Equal(t, ts.UnixMilli(), values["timestamp"])

	require.NoError(t, s.Ping(context.Background()))
	require.NoError(t, s.Close())
	assert.True(t, c.closed)
}

func TestDeliverError(t *testing.T) {
	c := &fakeClient{err: errors.New("connection refused")}
	s := newWithClient(c, "rescue:events", 0)

	err := s.Deliver(fanout.Event{Name: "team:status"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
	assert.Error(t, s.Ping(context.Background()))
}
