package alert

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/thesisflow/thesisflow/internal/metrics"
	"github.com/thesisflow/thesisflow/internal/model"
)

const (
	// DefaultBatchSize is the number of deliveries claimed per poll.
	DefaultBatchSize = 50
	// DefaultPollInterval is the time between polls.
	DefaultPollInterval = 5 * time.Second
	// DefaultLease hides a claimed delivery from other workers while it is sent.
	DefaultLease = 2 * time.Minute
)

// Worker sends pending deliveries.
type Worker struct {
	store        Store
	client       *http.Client
	logger       *slog.Logger
	metrics      metrics.Recorder
	batchSize    int
	pollInterval time.Duration
	lease        time.Duration
	schedule     Schedule
	now          func() time.Time
	started      bool
}

// NewWorker creates a delivery worker.
func NewWorker(store Store, logger *slog.Logger, recorder metrics.Recorder) *Worker {
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		store:        store,
		client:       NewHTTPClient(),
		logger:       logger.With("component", "alert.worker"),
		metrics:      recorder,
		batchSize:    DefaultBatchSize,
		pollInterval: DefaultPollInterval,
		lease:        DefaultLease,
		schedule:     DefaultSchedule,
		now:          time.Now,
	}
}

// Run polls until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	if w.started {
		return errors.New("worker already started")
	}
	w.started = true

	w.logger.Info("alert worker started", "poll_interval", w.pollInterval)

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("alert worker stopping")
			return nil
		case <-ticker.C:
			if _, err := w.ProcessOnce(ctx); err != nil {
				if errors.Is(err, context.Canceled) {
					return nil
				}
				w.logger.Error("process error", "error", err)
			}
		}
	}
}

// ProcessOnce claims and sends one batch, returning how many were attempted.
func (w *Worker) ProcessOnce(ctx context.Context) (int, error) {
	deliveries, err := w.store.ClaimAlertDeliveries(ctx, w.batchSize, w.lease)
	if err != nil {
		return 0, fmt.Errorf("claim deliveries: %w", err)
	}

	for _, delivery := range deliveries {
		if err := w.deliver(ctx, delivery); err != nil {
			w.logger.Warn("delivery update failed",
				"delivery_id", delivery.ID,
				"error", err,
			)
		}
	}
	return len(deliveries), nil
}

func (w *Worker) deliver(ctx context.Context, delivery *model.AlertDelivery) error {
	endpoint, err := w.store.GetAlertEndpoint(ctx, delivery.EndpointID)
	if err != nil {
		if isNotFound(err) {
			w.metrics.IncAlertDelivery(string(model.DeliveryStatusExhausted))
			return w.store.MarkAlertDeliveryFailure(ctx, delivery.ID, nil, "endpoint deleted", w.now(), true)
		}
		return err
	}
	if !endpoint.IsActive() {
		w.metrics.IncAlertDelivery(string(model.DeliveryStatusExhausted))
		return w.store.MarkAlertDeliveryFailure(ctx, delivery.ID, nil, "endpoint disabled", w.now(), true)
	}

	timestamp := w.now().Unix()
	body := []byte(delivery.PayloadJSON)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.TargetURL, bytes.NewReader(body))
	if err != nil {
		return w.handleFailure(ctx, delivery, nil, fmt.Sprintf("create request: %v", err))
	}
	SetHeaders(req, Headers{
		Signature:  GenerateSignature(endpoint.Secret, timestamp, body),
		Timestamp:  strconv.FormatInt(timestamp, 10),
		DeliveryID: delivery.ID,
	})

	start := time.Now()
	resp, err := w.client.Do(req)
	duration := time.Since(start)
	if err != nil {
		return w.handleFailure(ctx, delivery, nil, err.Error())
	}
	defer resp.Body.Close()

	// Drain for connection reuse.
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1024)) //nolint:errcheck

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		w.logger.Info("alert delivered",
			"delivery_id", delivery.ID,
			"event_type", delivery.EventType,
			"target_host", ExtractHost(endpoint.TargetURL),
			"http_status", resp.StatusCode,
			"duration_ms", duration.Milliseconds(),
		)
		w.metrics.IncAlertDelivery(string(model.DeliveryStatusSuccess))
		return w.store.MarkAlertDeliverySuccess(ctx, delivery.ID, resp.StatusCode)
	}

	status := resp.StatusCode
	return w.handleFailure(ctx, delivery, &status, fmt.Sprintf("HTTP %d", resp.StatusCode))
}

func (w *Worker) handleFailure(ctx context.Context, delivery *model.AlertDelivery, httpStatus *int, errMsg string) error {
	attempt := delivery.AttemptCount + 1
	exhausted := IsExhausted(attempt, delivery.MaxAttempts)

	status := model.DeliveryStatusFailed
	if exhausted {
		status = model.DeliveryStatusExhausted
	}

	w.logger.Warn("alert delivery failed",
		"delivery_id", delivery.ID,
		"attempt", attempt,
		"exhausted", exhausted,
		"error", errMsg,
	)
	w.metrics.IncAlertDelivery(string(status))

	nextRetryAt := w.schedule.Next(w.now(), delivery.AttemptCount)
	return w.store.MarkAlertDeliveryFailure(ctx, delivery.ID, httpStatus, errMsg, nextRetryAt, exhausted)
}

// SetBatchSize overrides the default batch size.
func (w *Worker) SetBatchSize(size int) {
	if size > 0 {
		w.batchSize = size
	}
}

// SetPollInterval overrides the default poll interval.
func (w *Worker) SetPollInterval(interval time.Duration) {
	if interval > 0 {
		w.pollInterval = interval
	}
}

// SetHTTPClient replaces the delivery client.
func (w *Worker) SetHTTPClient(c *http.Client) {
	if c != nil {
		w.client = c
	}
}
