package usage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/thesisflow/thesisflow/internal/metrics"
	"github.com/thesisflow/thesisflow/internal/model"
)

const (
	// ConsumerGroup is the Redis consumer group of the rollup workers.
	ConsumerGroup = "usage-rollup"

	DefaultBatchSize     = 100
	DefaultBlockTimeout  = 5 * time.Second
	DefaultMaxAttempts   = 3
	DefaultClaimInterval = 10 * time.Second
	DefaultClaimIdle     = 30 * time.Second

	// drainTimeout bounds the batch still in flight when Run is cancelled.
	drainTimeout     = 10 * time.Second
	deadLetterMaxLen = 10000
)

// Applier folds one event into the rollup. It reports false when the
// transaction had already been applied.
type Applier interface {
	ApplyUsageEvent(ctx context.Context, e *model.UsageEvent) (bool, error)
}

// Worker consumes the usage stream and maintains usage_daily. Entries are
// acked only once applied, so a crash replays them; the rollup is keyed
// by transaction id, which makes a replay a no-op.
type Worker struct {
	redis      *redis.Client
	repo       Applier
	logger     *slog.Logger
	metrics    metrics.Recorder
	consumerID string

	batchSize     int
	blockTimeout  time.Duration
	maxAttempts   int
	backoff       func(attempt int) time.Duration
	claimInterval time.Duration
	claimIdle     time.Duration

	claimCursor string
	nextClaim   time.Time
}

// NewWorker creates a rollup worker named consumerID within ConsumerGroup.
func NewWorker(client *redis.Client, repo Applier, logger *slog.Logger, consumerID string, recorder metrics.Recorder) *Worker {
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		redis:         client,
		repo:          repo,
		logger:        logger.With("component", "usage.worker", "consumer_id", consumerID),
		metrics:       recorder,
		consumerID:    consumerID,
		batchSize:     DefaultBatchSize,
		blockTimeout:  DefaultBlockTimeout,
		maxAttempts:   DefaultMaxAttempts,
		backoff:       func(attempt int) time.Duration { return time.Duration(1<<attempt) * time.Second },
		claimInterval: DefaultClaimInterval,
		claimIdle:     DefaultClaimIdle,
		claimCursor:   "0-0",
	}
}

// SetBatchSize caps the entries read per round.
func (w *Worker) SetBatchSize(size int) {
	if size > 0 {
		w.batchSize = size
	}
}

// SetBlockTimeout sets how long one read waits for new entries.
func (w *Worker) SetBlockTimeout(timeout time.Duration) {
	if timeout > 0 {
		w.blockTimeout = timeout
	}
}

// SetClaim sets how often pending entries of dead consumers are scanned
// and how long they must sit idle before this worker takes them over.
func (w *Worker) SetClaim(interval, idle time.Duration) {
	if interval > 0 {
		w.claimInterval = interval
	}
	if idle > 0 {
		w.claimIdle = idle
	}
}

// Run consumes until ctx is cancelled. The batch in hand when that happens
// is still applied and acked, within drainTimeout.
func (w *Worker) Run(ctx context.Context) error {
	err := w.redis.XGroupCreateMkStream(ctx, StreamKey, ConsumerGroup, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("ensure consumer group: %w", err)
	}
	w.logger.Info("usage worker started", "batch_size", w.batchSize)

	for ctx.Err() == nil {
		messages, err := w.next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			w.logger.Error("stream read failed", "error", err)
			sleepCtx(ctx, time.Second)
			continue
		}
		if len(messages) == 0 {
			continue
		}

		drain, cancel := context.WithTimeout(context.WithoutCancel(ctx), drainTimeout)
		w.handle(drain, ctx, messages)
		cancel()
	}

	w.logger.Info("usage worker stopped")
	return nil
}

// next returns reclaimed entries when a claim round is due and finds any,
// new entries otherwise.
func (w *Worker) next(ctx context.Context) ([]redis.XMessage, error) {
	if now := time.Now(); !now.Before(w.nextClaim) {
		w.nextClaim = now.Add(w.claimInterval)
		claimed, cursor, err := w.redis.XAutoClaim(ctx, &redis.XAutoClaimArgs{
			Stream:   StreamKey,
			Group:    ConsumerGroup,
			Consumer: w.consumerID,
			MinIdle:  w.claimIdle,
			Start:    w.claimCursor,
			Count:    int64(w.batchSize),
		}).Result()
		switch {
		case err != nil && !errors.Is(err, redis.Nil):
			w.logger.Warn("claiming pending entries failed", "error", err)
		case len(claimed) > 0:
			w.claimCursor = cursor
			w.logger.Info("reclaimed pending entries", "count", len(claimed))
			return claimed, nil
		default:
			w.claimCursor = "0-0"
		}
	}

	streams, err := w.redis.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    ConsumerGroup,
		Consumer: w.consumerID,
		Streams:  []string{StreamKey, ">"},
		Count:    int64(w.batchSize),
		Block:    w.blockTimeout,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("xreadgroup: %w", err)
	}
	if len(streams) == 0 {
		return nil, nil
	}
	return streams[0].Messages, nil
}

// handle applies messages in stream order. Poison entries are dead-lettered.
// When an event keeps failing, the entries from it onwards stay pending
// and are reclaimed later. runCtx only gates the retry backoff.
func (w *Worker) handle(ctx, runCtx context.Context, messages []redis.XMessage) {
	start := time.Now()
	done := make([]string, 0, len(messages))
	applied, duplicates := 0, 0
	defer func() {
		if err := w.ack(ctx, done); err != nil {
			w.logger.Error("ack failed", "count", len(done), "error", err)
		}
		if applied+duplicates > 0 {
			w.logger.Info("batch processed",
				"events_count", len(messages),
				"applied", applied,
				"duplicates", duplicates,
				"duration_ms", float64(time.Since(start).Microseconds())/1000,
			)
		}
	}()

	now := time.Now()
	for i, msg := range messages {
		e, reason, detail := decodeEntry(msg, now)
		if e == nil {
			w.deadLetter(ctx, msg, reason, detail)
			done = append(done, msg.ID)
			continue
		}

		fresh, err := w.apply(ctx, runCtx, e)
		if err != nil {
			w.logger.Error("event left pending after retries",
				"transaction_id", e.TransactionID,
				"left_pending", len(messages)-i,
				"error", err,
			)
			for range messages[i:] {
				w.metrics.IncUsageEventProcessed("failed")
			}
			return
		}
		if fresh {
			applied++
			w.metrics.IncUsageEventProcessed("success")
		} else {
			duplicates++
			w.metrics.IncUsageEventProcessed("duplicate")
		}
		w.metrics.ObserveUsageIngestLag(time.Since(e.OccurredAt))
		done = append(done, msg.ID)
	}
}

func (w *Worker) apply(ctx, runCtx context.Context, e *model.UsageEvent) (bool, error) {
	var err error
	for attempt := 1; attempt <= w.maxAttempts; attempt++ {
		var fresh bool
		if fresh, err = w.repo.ApplyUsageEvent(ctx, e); err == nil {
			return fresh, nil
		}
		if attempt == w.maxAttempts {
			break
		}
		wait := w.backoff(attempt)
		w.logger.Warn("apply failed, retrying",
			"transaction_id", e.TransactionID,
			"attempt", attempt,
			"backoff_seconds", wait.Seconds(),
			"error", err,
		)
		if !sleepCtx(runCtx, wait) {
			return false, fmt.Errorf("apply %s: %w", e.TransactionID, runCtx.Err())
		}
	}
	return false, fmt.Errorf("apply %s: %w", e.TransactionID, err)
}

// decodeEntry returns the event, or nil with a dead-letter reason.
func decodeEntry(msg redis.XMessage, now time.Time) (*model.UsageEvent, string, string) {
	payload, ok := msg.Values["payload"].(string)
	if !ok {
		return nil, "invalid_format", "payload field missing or not a string"
	}
	var e model.UsageEvent
	if err := json.Unmarshal([]byte(payload), &e); err != nil {
		return nil, "unmarshal_error", err.Error()
	}
	if err := ValidateEvent(&e, now); err != nil {
		return nil, "validation_error", err.Error()
	}
	return &e, "", ""
}

func (w *Worker) deadLetter(ctx context.Context, msg redis.XMessage, reason, detail string) {
	w.logger.Warn("dead-lettering poison message",
		"message_id", msg.ID,
		"reason", reason,
		"detail", detail,
	)
	err := w.redis.XAdd(ctx, &redis.XAddArgs{
		Stream: DeadLetterStreamKey,
		MaxLen: deadLetterMaxLen,
		Approx: true,
		Values: map[string]any{
			"original_id":      msg.ID,
			"original_stream":  StreamKey,
			"reason":           reason,
			"detail":           detail,
			"payload":          msg.Values["payload"],
			"dead_lettered_at": time.Now().UTC().Format(time.RFC3339),
		},
	}).Err()
	if err != nil {
		w.logger.Error("dead-letter write failed", "message_id", msg.ID, "error", err)
	}
	w.metrics.IncUsageEventProcessed("dead_lettered")
}

func (w *Worker) ack(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return w.redis.XAck(ctx, StreamKey, ConsumerGroup, ids...).Err()
}

// sleepCtx waits d or until ctx is done. It reports whether d elapsed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
