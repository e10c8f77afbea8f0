package stats

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	influxdb2_write "github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rescuenet/dispatch/pkg/core"
)

type fakeRescues struct {
	mu      sync.Mutex
	err     error
	recalcs int
}

func (f *fakeRescues) Stats(context.Context) (core.RescueStats, error) {
	return core.RescueStats{Total: 4, Critical: 2}, f.err
}

func (f *fakeRescues) RecalculatePending(context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recalcs++
	return 3, f.err
}

func (f *fakeRescues) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.recalcs
}

type fakeTeams struct{}

func (fakeTeams) Stats(context.Context) (core.TeamStats, error) {
	return core.TeamStats{Total: 2}, nil
}

type fakeMissions struct{}

func (fakeMissions) Stats(context.Context) (core.MissionStats, error) {
	return core.MissionStats{Total: 1}, nil
}

type recorder struct {
	mu     sync.Mutex
	names  []string
	values []any
}

func (r *recorder) Publish(name string, payload any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.names = append(r.names, name)
	r.values = append(r.values, payload)
}

func (r *recorder) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.names)
}

type fakePoints struct {
	bucket string
	points []*influxdb2_write.Point
	err    error
}

func (f *fakePoints) WritePoint(bucket string, p *influxdb2_write.Point) error {
	f.bucket = bucket
	f.points = append(f.points, p)
	return f.err
}

func (f *fakePoints) Bucket() string { return "rescue_stats" }

func newTestService(r *fakeRescues, events *recorder, points *fakePoints) *Service {
	deps := Dependencies{
		Rescues:  r,
		Teams:    fakeTeams{},
		Missions: fakeMissions{},
		Events:   events,
	}
	if points != nil {
		deps.Points = points
	}
	s := NewService(deps)
	s.now = func() time.Time { return time.Date(2024, 10, 2, 8, 0, 0, 0, time.UTC) }
	return s
}

func TestPublish(t *testing.T) {
	events := &recorder{}
	points := &fakePoints{}
	s := newTestService(&fakeRescues{}, events, points)

	st, err := s.Publish(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 4, st.Rescue.Total)
	assert.Equal(t, 2, st.Teams.Total)
	assert.Equal(t, 1, st.Missions.Total)
	assert.Equal(t, time.Date(2024, 10, 2, 8, 0, 0, 0, time.UTC), st.Timestamp)

	require.Equal(t, []string{core.EventStatsUpdated}, events.names)
	assert.Equal(t, st, events.values[0])

	require.Len(t, points.points, 1)
	assert.Equal(t, "rescue_stats", points.bucket)
}

func TestPublishPointFailureIsNotFatal(t *testing.T) {
	events := &recorder{}
	s := newTestService(&fakeRescues{}, events, &fakePoints{err: errors.New("disk full")})

	_, err := s.Publish(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, events.len())
}

func TestPublishAggregateError(t *testing.T) {
	events := &recorder{}
	s := newTestService(&fakeRescues{err: errors.New("db down")}, events, nil)

	_, err := s.Publish(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rescue points")
	assert.Equal(t, 0, events.len())
}

func TestRecalculate(t *testing.T) {
	r := &fakeRescues{}
	s := newTestService(r, &recorder{}, nil)

	n, err := s.Recalculate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, 1, r.count())
}

func TestStartRejectsBadSpec(t *testing.T) {
	s := newTestService(&fakeRescues{}, &recorder{}, nil)
	require.Error(t, s.Start("every other tuesday", ""))
	assert.False(t, s.IsRunning())
}

func TestScheduledRuns(t *testing.T) {
	r := &fakeRescues{}
	events := &recorder{}
	s := newTestService(r, events, nil)

	require.NoError(t, s.Start("@every 1s", "@every 1s"))
	assert.True(t, s.IsRunning())
	require.NoError(t, s.Start("@every 1s", "@every 1s"))

	assert.Eventually(t, func() bool {
		return events.len() > 0 && r.count() > 0
	}, 5*time.Second, 50*time.Millisecond)

	s.Stop()
	assert.False(t, s.IsRunning())
	s.Stop()
}
