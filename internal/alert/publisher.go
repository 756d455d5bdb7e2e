package alert

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/thesisflow/thesisflow/internal/model"
)

// Publisher creates delivery records when a user-facing event happens.
// It satisfies the notifier interfaces of the token, insights and billing
// services.
type Publisher struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

// NewPublisher creates a publisher.
func NewPublisher(store Store, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		store:  store,
		logger: logger.With("component", "alert.publisher"),
		now:    time.Now,
	}
}

// Notify fans event out to every active endpoint of userID that subscribes to it.
// Deliveries are picked up by the Worker.
func (p *Publisher) Notify(ctx context.Context, userID string, event model.AlertEventType, data map[string]any) error {
	endpoints, err := p.store.ListActiveAlertEndpoints(ctx, userID, event)
	if err != nil {
		return fmt.Errorf("list active endpoints: %w", err)
	}
	if len(endpoints) == 0 {
		return nil
	}

	now := p.now().UTC()
	payload := model.AlertPayload{
		EventType: event,
		EventID:   ulid.Make().String(),
		Timestamp: now,
		Data:      data,
	}
	if payload.Data == nil {
		payload.Data = map[string]any{}
	}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	for _, endpoint := range endpoints {
		delivery := &model.AlertDelivery{
			ID:          ulid.Make().String(),
			EndpointID:  endpoint.ID,
			EventID:     payload.EventID,
			EventType:   event,
			PayloadJSON: string(payloadJSON),
			Status:      model.DeliveryStatusPending,
			MaxAttempts: DefaultMaxAttempts,
			NextRetryAt: now,
			CreatedAt:   now,
			UpdatedAt:   now,
		}

		if _, err := p.store.CreateAlertDelivery(ctx, delivery); err != nil {
			p.logger.Warn("failed to create delivery",
				"endpoint_id", endpoint.ID,
				"event_id", payload.EventID,
				"error", err,
			)
			continue
		}

		p.logger.Debug("alert delivery created",
			"delivery_id", delivery.ID,
			"endpoint_id", endpoint.ID,
			"event_type", event,
		)
	}
	return nil
}
