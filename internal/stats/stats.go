// Package stats runs the scheduled background work: dashboard aggregates
// and priority recalculation.
package stats

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	influxdb2_write "github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/robfig/cron/v3"

	"github.com/rescuenet/dispatch/internal/fanout"
	"github.com/rescuenet/dispatch/internal/influx"
	"github.com/rescuenet/dispatch/pkg/core"
)

// Default schedules.
const (
	DefaultStatsSpec       = "@every 30s"
	DefaultRecalculateSpec = "@every 5m"
)

const jobTimeout = 30 * time.Second

// RescueSource aggregates and rescores rescue points.
type RescueSource interface {
	Stats(ctx context.Context) (core.RescueStats, error)
	RecalculatePending(ctx context.Context) (int, error)
}

// TeamSource aggregates teams.
type TeamSource interface {
	Stats(ctx context.Context) (core.TeamStats, error)
}

// MissionSource aggregates missions.
type MissionSource interface {
	Stats(ctx context.Context) (core.MissionStats, error)
}

// PointWriter receives the time-series point. *influx.Manager satisfies it.
type PointWriter interface {
	WritePoint(bucket string, point *influxdb2_write.Point) error
	Bucket() string
}

// Dependencies holds all dependencies for the stats service
type Dependencies struct {
	Rescues  RescueSource
	Teams    TeamSource
	Missions MissionSource
	Events   fanout.Publisher
	Points   PointWriter
	Logger   *slog.Logger
}

// Service schedules stats publication and recalculation.
type Service struct {
	deps Dependencies
	now  func() time.Time

	mu      sync.Mutex
	cron    *cron.Cron
	running bool
}

// NewService creates a new stats service
func NewService(deps Dependencies) *Service {
	if deps.Events == nil {
		deps.Events = fanout.Discard
	}
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.DiscardHandler)
	}
	return &Service{deps: deps, now: time.Now}
}

// Collect aggregates the current dashboard stats.
func (s *Service) Collect(ctx context.Context) (core.Stats, error) {
	rescue, err := s.deps.Rescues.Stats(ctx)
	if err != nil {
		return core.Stats{}, fmt.Errorf("failed to aggregate rescue points: %w", err)
	}
	teams, err := s.deps.Teams.Stats(ctx)
	if err != nil {
		return core.Stats{}, fmt.Errorf("failed to aggregate teams: %w", err)
	}
	missions, err := s.deps.Missions.Stats(ctx)
	if err != nil {
		return core.Stats{}, fmt.Errorf("failed to aggregate missions: %w", err)
	}
	return core.Stats{
		Rescue:    rescue,
		Teams:     teams,
		Missions:  missions,
		Timestamp: s.now().UTC(),
	}, nil
}

// Publish collects stats, emits stats:updated and writes a metrics point.
func (s *Service) Publish(ctx context.Context) (core.Stats, error) {
	st, err := s.Collect(ctx)
	if err != nil {
		return core.Stats{}, err
	}
	s.deps.Events.Publish(core.EventStatsUpdated, st)

	if s.deps.Points != nil {
		if err := s.deps.Points.WritePoint(s.deps.Points.Bucket(), influx.StatsPoint(st)); err != nil {
			s.deps.Logger.Warn("Failed to write stats point", "error", err)
		}
	}
	return st, nil
}

// Recalculate rescores pending rescue points.
func (s *Service) Recalculate(ctx context.Context) (int, error) {
	n, err := s.deps.Rescues.RecalculatePending(ctx)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.deps.Logger.Info("Recalculated pending priorities", "changed", n)
	}
	return n, nil
}

// Start schedules both jobs. Empty specs fall back to the defaults.
func (s *Service) Start(statsSpec, recalcSpec string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}
	if statsSpec == "" {
		statsSpec = DefaultStatsSpec
	}
	if recalcSpec == "" {
		recalcSpec = DefaultRecalculateSpec
	}

	c := cron.New()
	if _, err := c.AddFunc(statsSpec, s.runStats); err != nil {
		return fmt.Errorf("invalid stats schedule %q: %w", statsSpec, err)
	}
	if _, err := c.AddFunc(recalcSpec, s.runRecalculate); err != nil {
		return fmt.Errorf("invalid recalculate schedule %q: %w", recalcSpec, err)
	}
	c.Start()

	s.cron = c
	s.running = true
	s.deps.Logger.Debug("Stats scheduler started", "stats", statsSpec, "recalculate", recalcSpec)
	return nil
}

// IsRunning returns whether the scheduler is running
func (s *Service) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Stop stops the scheduler and waits for running jobs.
func (s *Service) Stop() {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.running = false
	s.mu.Unlock()

	if c != nil {
		<-c.Stop().Done()
	}
}

func (s *Service) runStats() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()
	if _, err := s.Publish(ctx); err != nil {
		s.deps.Logger.Error("Stats job failed", "error", err)
	}
}

func (s *Service) runRecalculate() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()
	if _, err := s.Recalculate(ctx); err != nil {
		s.deps.Logger.Error("Recalculate job failed", "error", err)
	}
}
