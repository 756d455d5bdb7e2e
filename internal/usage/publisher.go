// Package usage moves successful token deductions through a Redis stream
// into the usage_daily rollup and serves the usage dashboards.
package usage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/thesisflow/thesisflow/internal/metrics"
	"github.com/thesisflow/thesisflow/internal/model"
)

const (
	// StreamKey is the Redis stream for usage events.
	StreamKey = "usage:events"

	// DeadLetterStreamKey is the Redis stream for poison messages.
	DeadLetterStreamKey = "usage:events:dlq"

	// MaxStreamLen is the approximate max length of the stream.
	MaxStreamLen = 100000

	// PublishTimeout is the max time to wait for Redis publish.
	PublishTimeout = 100 * time.Millisecond
)

// Publisher enqueues usage events to the Redis stream.
type Publisher struct {
	redis   *redis.Client
	logger  *slog.Logger
	metrics metrics.Recorder

	inflight sync.WaitGroup
}

// NewPublisher creates a new usage event publisher.
func NewPublisher(client *redis.Client, logger *slog.Logger, recorder metrics.Recorder) *Publisher {
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		redis:   client,
		logger:  logger.With("component", "usage.publisher"),
		metrics: recorder,
	}
}

// Add appends an event to the stream synchronously.
func (p *Publisher) Add(ctx context.Context, e *model.UsageEvent) (string, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return "", fmt.Errorf("marshal event: %w", err)
	}

	id, err := p.redis.XAdd(ctx, &redis.XAddArgs{
		Stream: StreamKey,
		MaxLen: MaxStreamLen,
		Approx: true,
		ID:     "*",
		Values: map[string]interface{}{
			"payload": string(data),
		},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("xadd: %w", err)
	}
	return id, nil
}

// Publish adds the event without blocking the caller. Failures are logged
// and counted, never returned.
func (p *Publisher) Publish(ctx context.Context, e *model.UsageEvent) {
	p.inflight.Add(1)
	go func() {
		defer p.inflight.Done()

		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), PublishTimeout)
		defer cancel()

		streamID, err := p.Add(ctx, e)
		if err != nil {
			p.logger.Warn("failed to publish usage event",
				"transaction_id", e.TransactionID,
				"feature", e.Feature,
				"error", err,
			)
			p.metrics.IncUsageEventPublished("dropped")
			return
		}

		p.logger.Debug("usage event published",
			"transaction_id", e.TransactionID,
			"stream_id", streamID,
		)
		p.metrics.IncUsageEventPublished("success")
	}()
}

// Shutdown waits for in-flight publishes.
func (p *Publisher) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
