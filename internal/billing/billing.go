// Package billing connects user plans to Stripe subscriptions.
//
// Checkout creates (or reuses) a Stripe customer and starts a subscription
// session. Webhook events then drive the stored plan: upgrades and
// renewals reset token usage, cancellations fall back to the free plan.
package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/thesisflow/thesisflow/internal/model"
)

// Billing errors.
var (
	ErrInvalidPriceID   = errors.New("invalid price ID")
	ErrInvalidSignature = errors.New("invalid signature")
	ErrMissingUser      = errors.New("user is required")
)

// TrialDays is the trial granted to new pro subscriptions.
const TrialDays = 7

// Metadata keys set on checkout sessions and subscriptions.
const (
	MetaUserID        = "user_id"
	MetaPlanType      = "plan_type"
	MetaBillingPeriod = "billing_period"
)

// Store is the persistence the billing service needs.
// *repository.Repository satisfies it.
type Store interface {
	GetUserByID(ctx context.Context, id string) (*model.User, error)
	GetUserPlan(ctx context.Context, userID string) (*model.UserPlan, error)
	GetPlanByCustomerID(ctx context.Context, customerID string) (*model.UserPlan, error)
	SetStripeCustomerID(ctx context.Context, userID, customerID string) error
	UpsertUserPlan(ctx context.Context, p *model.UserPlan) error
	SetPlanStatusByCustomer(ctx context.Context, customerID, status string) (string, error)
	ResetUserUsage(ctx context.Context, userID string) error
}

// Notifier publishes plan alerts.
type Notifier interface {
	Notify(ctx context.Context, userID string, event model.AlertEventType, data map[string]any) error
}

// CheckoutRequest is the body of a checkout call.
type CheckoutRequest struct {
	PriceID       string `json:"priceId"`
	PlanType      string `json:"planType"`
	BillingPeriod string `json:"billingPeriod"`
}

// CheckoutSession is the session returned to the client.
type CheckoutSession struct {
	SessionID string `json:"sessionId"`
	URL       string `json:"url"`
}

// Config holds the Stripe settings.
type Config struct {
	WebhookSecret string
	PriceIDs      []string
	BaseURL       string
}

// Service handles checkout and webhook events.
type Service struct {
	store   Store
	gateway Gateway
	alerts  Notifier
	cfg     Config
	logger  *slog.Logger
}

// NewService creates a billing service. alerts may be nil.
func NewService(store Store, gateway Gateway, alerts Notifier, cfg Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:   store,
		gateway: gateway,
		alerts:  alerts,
		cfg:     cfg,
		logger:  logger.With("component", "billing"),
	}
}

// Checkout starts a subscription checkout for userID.
func (s *Service) Checkout(ctx context.Context, userID string, req CheckoutRequest) (*CheckoutSession, error) {
	if userID == "" {
		return nil, ErrMissingUser
	}
	if req.PriceID == "" || !slices.Contains(s.cfg.PriceIDs, req.PriceID) {
		return nil, ErrInvalidPriceID
	}

	customerID, err := s.customerFor(ctx, userID)
	if err != nil {
		return nil, err
	}

	metadata := map[string]string{
		MetaUserID:        userID,
		MetaPlanType:      req.PlanType,
		MetaBillingPeriod: req.BillingPeriod,
	}
	params := SessionParams{
		CustomerID: customerID,
		PriceID:    req.PriceID,
		SuccessURL: s.cfg.BaseURL + "/plan?success=true&session_id={CHECKOUT_SESSION_ID}",
		CancelURL:  s.cfg.BaseURL + "/plan?canceled=true",
		Metadata:   metadata,
	}
	if req.PlanType == model.PlanPro {
		params.TrialDays = TrialDays
	}

	session, err := s.gateway.CreateCheckoutSession(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("create checkout session: %w", err)
	}
	return session, nil
}

func (s *Service) customerFor(ctx context.Context, userID string) (string, error) {
	plan, err := s.store.GetUserPlan(ctx, userID)
	if err != nil {
		return "", err
	}
	if plan.StripeCustomerID != "" {
		return plan.StripeCustomerID, nil
	}

	var email string
	if u, err := s.store.GetUserByID(ctx, userID); err == nil {
		email = u.Email
	}
	customerID, err := s.gateway.CreateCustomer(ctx, userID, email)
	if err != nil {
		return "", fmt.Errorf("create customer: %w", err)
	}
	if err := s.store.SetStripeCustomerID(ctx, userID, customerID); err != nil {
		return "", err
	}
	return customerID, nil
}

func (s *Service) notify(ctx context.Context, userID string, event model.AlertEventType, data map[string]any) {
	if s.alerts == nil {
		return
	}
	if err := s.alerts.Notify(ctx, userID, event, data); err != nil {
		s.logger.Warn("plan alert failed", "user_id", userID, "event", string(event), "error", err)
	}
}
