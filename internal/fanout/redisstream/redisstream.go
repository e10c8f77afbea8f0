// Package redisstream appends fan-out events to a Redis stream.
package redisstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/rescuenet/dispatch/internal/fanout"
)

// DefaultMaxLen caps the stream when no length is configured.
const DefaultMaxLen = 10_000

const writeTimeout = 3 * time.Second

// Options configures the stream sink.
type Options struct {
	Address  string
	Password string
	DB       int
	Stream   string
	MaxLen   int64
}

type streamClient interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
	Ping(ctx context.Context) *redis.StatusCmd
	Close() error
}

// Sink adds one stream entry per event.
type Sink struct {
	client streamClient
	stream string
	maxLen int64
}

// New connects a go-redis client. The connection is lazy; call Ping to check it.
func New(opts Options) (*Sink, error) {
	if strings.TrimSpace(opts.Stream) == "" {
		return nil, errors.New("redis stream name must not be empty")
	}
	if opts.Address == "" {
		return nil, errors.New("redis address is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Address,
		Password: opts.Password,
		DB:       opts.DB,
	})
	return newWithClient(client, opts.Stream, opts.MaxLen), nil
}

func newWithClient(c streamClient, stream string, maxLen int64) *Sink {
	if maxLen <= 0 {
		maxLen = DefaultMaxLen
	}
	return &Sink{client: c, stream: stream, maxLen: maxLen}
}

// Ping checks the connection.
func (s *Sink) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Deliver satisfies fanout.SinkFunc.
func (s *Sink) Deliver(e fanout.Event) error {
	data, err := json.Marshal(e.Payload)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", e.Name, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	err = s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		MaxLen: s.maxLen,
		Approx: true,
		Values: map[string]interface{}{
			"event":     e.Name,
			"data":      string(data),
			"timestamp": e.Timestamp.UnixMilli(),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("xadd %s to %s: %w", e.Name, s.stream, err)
	}
	return nil
}

// Close releases the client.
func (s *Sink) Close() error {
	return s.client.Close()
}
