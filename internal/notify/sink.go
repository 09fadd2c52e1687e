package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/go-redis/redis/v8"
)

// Sink delivers a single event to its destination.
type Sink interface {
	Deliver(ctx context.Context, event Event) error
}

// LogSink writes events to a structured logger.
type LogSink struct {
	Logger *slog.Logger
}

// Deliver implements Sink.
func (s LogSink) Deliver(_ context.Context, event Event) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("notification",
		"kind", string(event.Kind),
		"recipientId", event.RecipientID,
		"actorId", event.ActorID,
		"subjectId", event.SubjectID,
	)
	return nil
}

// Publisher is the subset of the redis client used by RedisSink.
type Publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// RedisSink publishes events as JSON on a per-recipient channel.
type RedisSink struct {
	client Publisher
	prefix string
}

// NewRedisSink constructs a sink publishing to "<prefix>:<recipientID>".
func NewRedisSink(client Publisher, prefix string) *RedisSink {
	if prefix == "" {
		prefix = "kindred:notifications"
	}
	return &RedisSink{client: client, prefix: prefix}
}

// Channel returns the channel a recipient's events are published on.
func (s *RedisSink) Channel(recipientID string) string {
	return s.prefix + ":" + recipientID
}

// Deliver implements Sink.
func (s *RedisSink) Deliver(ctx context.Context, event Event) error {
	if s.client == nil {
		return errors.New("redis sink: client not configured")
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}

	if err := s.client.Publish(ctx, s.Channel(event.RecipientID), payload).Err(); err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}
	return nil
}

// MultiSink fans an event out to every sink, joining their errors.
type MultiSink []Sink

// Deliver implements Sink.
func (m MultiSink) Deliver(ctx context.Context, event Event) error {
	var errs []error
	for _, sink := range m {
		if sink == nil {
			continue
		}
		if err := sink.Deliver(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var (
	_ Sink = LogSink{}
	_ Sink = (*RedisSink)(nil)
	_ Sink = MultiSink(nil)
)
