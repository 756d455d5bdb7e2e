package alert

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/thesisflow/thesisflow/internal/model"
)

// Endpoint management errors.
var (
	ErrInvalidEvent     = errors.New("invalid event type")
	ErrTooManyEndpoints = errors.New("endpoint limit reached")
	ErrEndpointNotFound = errors.New("alert endpoint not found")
	ErrInvalidTargetURL = errors.New("invalid endpoint url")
)

const (
	// MaxEndpointsPerUser caps registered receivers.
	MaxEndpointsPerUser = 10

	DefaultDeliveryLimit = 50
	MaxDeliveryLimit     = 200
)

// Endpoints manages a user's alert receivers.
type Endpoints struct {
	store    Store
	logger   *slog.Logger
	validate func(context.Context, string) error
	now      func() time.Time
}

// NewEndpoints creates an endpoint manager.
func NewEndpoints(store Store, logger *slog.Logger) *Endpoints {
	if logger == nil {
		logger = slog.Default()
	}
	return &Endpoints{
		store:    store,
		logger:   logger.With("component", "alert.endpoints"),
		validate: ValidateTargetURL,
		now:      time.Now,
	}
}

// Register validates and stores a receiver. The returned secret is not
// retrievable later.
func (s *Endpoints) Register(ctx context.Context, userID string, req model.AlertEndpointCreateRequest) (*model.AlertEndpointCreateResponse, error) {
	if err := s.validate(ctx, req.URL); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidTargetURL, err)
	}

	events := make([]model.AlertEventType, 0, len(req.Events))
	seen := make(map[model.AlertEventType]bool, len(req.Events))
	for _, et := range req.Events {
		if !model.IsValidAlertEventType(et) {
			return nil, fmt.Errorf("%w: %q", ErrInvalidEvent, et)
		}
		if !seen[et] {
			seen[et] = true
			events = append(events, et)
		}
	}

	existing, err := s.store.ListAlertEndpoints(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(existing) >= MaxEndpointsPerUser {
		return nil, ErrTooManyEndpoints
	}

	secret, err := GenerateSecret()
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	endpoint := model.AlertEndpoint{
		ID:         ulid.Make().String(),
		UserID:     userID,
		TargetURL:  req.URL,
		Secret:     secret,
		Enabled:    true,
		EventTypes: events,
		Name:       req.Name,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.store.CreateAlertEndpoint(ctx, &endpoint); err != nil {
		return nil, err
	}

	s.logger.Info("alert endpoint registered",
		"endpoint_id", endpoint.ID,
		"user_id", userID,
		"target_host", ExtractHost(endpoint.TargetURL),
	)
	return &model.AlertEndpointCreateResponse{AlertEndpoint: endpoint, Secret: secret}, nil
}

// List returns a user's receivers.
func (s *Endpoints) List(ctx context.Context, userID string) ([]*model.AlertEndpoint, error) {
	endpoints, err := s.store.ListAlertEndpoints(ctx, userID)
	if err != nil {
		return nil, err
	}
	if endpoints == nil {
		endpoints = []*model.AlertEndpoint{}
	}
	return endpoints, nil
}

// Delete removes a receiver owned by userID.
func (s *Endpoints) Delete(ctx context.Context, userID, id string) error {
	if err := s.store.DeleteAlertEndpoint(ctx, userID, id); err != nil {
		if isNotFound(err) {
			return ErrEndpointNotFound
		}
		return err
	}
	return nil
}

// Deliveries returns the newest deliveries, limit clamped to [1, MaxDeliveryLimit].
func (s *Endpoints) Deliveries(ctx context.Context, userID string, limit int) ([]*model.AlertDelivery, error) {
	if limit <= 0 {
		limit = DefaultDeliveryLimit
	}
	if limit > MaxDeliveryLimit {
		limit = MaxDeliveryLimit
	}
	deliveries, err := s.store.ListAlertDeliveries(ctx, userID, limit)
	if err != nil {
		return nil, err
	}
	if deliveries == nil {
		deliveries = []*model.AlertDelivery{}
	}
	return deliveries, nil
}
