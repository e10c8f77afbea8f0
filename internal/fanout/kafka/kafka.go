// Package kafka forwards fan-out events to a Kafka topic.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/rescuenet/dispatch/internal/fanout"
)

const writeTimeout = 5 * time.Second

// Message is the JSON value written for every event.
type Message struct {
	Event     string    `json:"event"`
	Payload   any       `json:"payload"`
	Timestamp time.Time `json:"timestamp"`
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Sink writes one record per event, keyed by event name.
type Sink struct {
	topic  string
	writer messageWriter
}

// New creates a sink backed by a kafka-go writer.
func New(brokers []string, topic string) (*Sink, error) {
	if strings.TrimSpace(topic) == "" {
		return nil, errors.New("kafka topic must not be empty")
	}
	if len(brokers) == 0 {
		return nil, errors.New("at least one kafka broker is required")
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		RequiredAcks:           kafka.RequireOne,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
		BatchTimeout:           50 * time.Millisecond,
	}
	return newWithWriter(topic, w), nil
}

func newWithWriter(topic string, w messageWriter) *Sink {
	return &Sink{topic: topic, writer: w}
}

// Topic returns the destination topic.
func (s *Sink) Topic() string { return s.topic }

// Deliver satisfies fanout.SinkFunc.
func (s *Sink) Deliver(e fanout.Event) error {
	value, err := json.Marshal(Message{Event: e.Name, Payload: e.Payload, Timestamp: e.Timestamp})
	if err != nil {
		return fmt.Errorf("marshal %s: %w", e.Name, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	err = s.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(e.Name),
		Value: value,
		Time:  e.Timestamp,
	})
	if err != nil {
		return fmt.Errorf("write %s to %s: %w", e.Name, s.topic, err)
	}
	return nil
}

// Close flushes and closes the writer.
func (s *Sink) Close() error {
	return s.writer.Close()
}
