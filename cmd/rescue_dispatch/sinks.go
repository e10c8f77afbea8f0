package main

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/rescuenet/dispatch/internal/config"
	"github.com/rescuenet/dispatch/internal/fanout"
	"github.com/rescuenet/dispatch/internal/fanout/kafka"
	"github.com/rescuenet/dispatch/internal/fanout/redisstream"
)

// registerStreamSinks attaches the enabled event streams to the bus. A stream
// that cannot be set up is logged and skipped. The returned closers must run
// after the bus has drained.
func registerStreamSinks(ctx context.Context, bus *fanout.Bus, logger *slog.Logger) []io.Closer {
	var closers []io.Closer

	if kc := config.GetKafkaConfig(); kc.Enabled {
		sink, err := kafka.New(kc.Brokers, kc.Topic)
		if err != nil {
			logger.Error("Failed to create Kafka sink", "error", err)
		} else {
			bus.Register("kafka", sink.Deliver, fanout.Logged())
			closers = append(closers, sink)
			logger.Info("Kafka sink registered", "brokers", kc.Brokers, "topic", sink.Topic())
		}
	}

	if rc := config.GetRedisConfig(); rc.Enabled {
		sink, err := redisstream.New(redisstream.Options{
			Address:  rc.Address,
			Password: rc.Password,
			DB:       rc.DB,
			Stream:   rc.Stream,
			MaxLen:   rc.MaxLen,
		})
		if err != nil {
			logger.Error("Failed to create Redis stream sink", "error", err)
		} else {
			pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			if err := sink.Ping(pingCtx); err != nil {
				logger.Warn("Redis unreachable, deliveries fail until it recovers", "address", rc.Address, "error", err)
			}
			cancel()
			bus.Register("redis", sink.Deliver, fanout.Logged())
			closers = append(closers, sink)
			logger.Info("Redis stream sink registered", "address", rc.Address, "stream", rc.Stream)
		}
	}

	return closers
}
