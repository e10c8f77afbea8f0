// Package fanout broadcasts lifecycle events to registered sinks. Delivery is
// best-effort: every sink has its own queue and a full queue drops the event.
package fanout

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// DefaultBufferSize is the queue length of a sink registered without Buffered.
const DefaultBufferSize = 256

// Event is one published state change.
type Event struct {
	Name      string
	Payload   any
	Timestamp time.Time
}

// Publisher is the write side the domain packages depend on.
type Publisher interface {
	Publish(name string, payload any)
}

// Discard is a Publisher that drops everything.
var Discard Publisher = discard{}

type discard struct{}

func (discard) Publish(string, any) {}

// SinkFunc delivers an event to one destination.
type SinkFunc func(Event) error

// Logger interface for pluggable logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Option configures sink registration.
type Option func(*config)

type config struct {
	bufferSize int
	logged     bool
}

// Buffered sets the sink's queue length.
func Buffered(size int) Option {
	return func(c *config) {
		c.bufferSize = size
	}
}

// Logged adds debug logging to the sink.
func Logged() Option {
	return func(c *config) {
		c.logged = true
	}
}

type sink struct {
	name   string
	buffer chan Event
}

// Bus routes published events to every registered sink.
type Bus struct {
	logger Logger

	// OTEL metrics
	queueSize metric.Int64ObservableGauge
	published metric.Int64Counter
	processed metric.Int64Counter
	dropped   metric.Int64Counter

	mu     sync.RWMutex
	sinks  []sink
	closed bool
	wg     sync.WaitGroup
}

// New creates a new Bus with the given logger.
// Uses the global OTel meter for metrics (no-op if not configured).
func New(logger Logger) (*Bus, error) {
	b := &Bus{logger: logger}

	// Get meter from global OTel provider (returns no-op if not configured)
	m := meter()

	var err error

	b.queueSize, err = m.Int64ObservableGauge(
		"fanout.queue.size",
		metric.WithDescription("Current number of events queued per sink"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating queue size gauge: %w", err)
	}

	_, err = m.RegisterCallback(
		func(ctx context.Context, o metric.Observer) error {
			b.mu.RLock()
			defer b.mu.RUnlock()
			for _, s := range b.sinks {
				o.ObserveInt64(b.queueSize, int64(len(s.buffer)),
					metric.WithAttributes(attribute.String("sink", s.name)))
			}
			return nil
		},
		b.queueSize,
	)
	if err != nil {
		return nil, fmt.Errorf("registering queue callback: %w", err)
	}

	b.published, err = m.Int64Counter(
		"fanout.events.published",
		metric.WithDescription("Total events published"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating published counter: %w", err)
	}

	b.processed, err = m.Int64Counter(
		"fanout.events.processed",
		metric.WithDescription("Total events delivered to a sink"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating processed counter: %w", err)
	}

	b.dropped, err = m.Int64Counter(
		"fanout.events.dropped",
		metric.WithDescription("Total events dropped due to full sink queue"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating dropped counter: %w", err)
	}

	return b, nil
}

// Register adds a sink. Each sink receives events in publish order on its own goroutine.
func (b *Bus) Register(name string, h SinkFunc, opts ...Option) {
	cfg := &config{bufferSize: DefaultBufferSize}
	for _, opt := range opts {
		opt(cfg)
	}

	handler := h
	if cfg.logged && b.logger != nil {
		handler = b.withLogging(name, handler)
	}

	s := sink{name: name, buffer: make(chan Event, max(cfg.bufferSize, 1))}
	attr := metric.WithAttributes(attribute.String("sink", name))

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.sinks = append(b.sinks, s)

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for e := range s.buffer {
			if err := handler(e); err != nil && b.logger != nil {
				b.logger.Error("sink failed", "sink", name, "event", e.Name, "error", err)
			}
			b.processed.Add(context.Background(), 1, attr)
		}
	}()
}

// Publish queues the event on every sink without blocking.
func (b *Bus) Publish(name string, payload any) {
	e := Event{Name: name, Payload: payload, Timestamp: time.Now()}
	evAttr := attribute.String("event", name)
	b.published.Add(context.Background(), 1, metric.WithAttributes(evAttr))

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, s := range b.sinks {
		select {
		case s.buffer <- e:
		default:
			b.dropped.Add(context.Background(), 1,
				metric.WithAttributes(attribute.String("sink", s.name), evAttr))
			if b.logger != nil {
				b.logger.Debug("sink queue full, dropping", "sink", s.name, "event", name)
			}
		}
	}
}

// Sinks returns the registered sink names in registration order.
func (b *Bus) Sinks() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	names := make([]string, 0, len(b.sinks))
	for _, s := range b.sinks {
		names = append(names, s.name)
	}
	return names
}

// Close stops accepting events and waits until every sink has drained its queue.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	for _, s := range b.sinks {
		close(s.buffer)
	}
	b.mu.Unlock()

	b.wg.Wait()
}

func (b *Bus) withLogging(name string, h SinkFunc) SinkFunc {
	return func(e Event) error {
		start := time.Now()
		b.logger.Debug("delivering event", "sink", name, "event", e.Name)

		err := h(e)

		if err == nil {
			b.logger.Debug("event delivered", "sink", name, "event", e.Name, "duration", time.Since(start))
		}

		return err
	}
}
