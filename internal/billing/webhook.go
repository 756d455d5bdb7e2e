package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v72"
	"github.com/stripe/stripe-go/v72/webhook"

	"github.com/thesisflow/thesisflow/internal/model"
	"github.com/thesisflow/thesisflow/internal/repository"
)

// Handled Stripe event types.
const (
	EventCheckoutCompleted    = "checkout.session.completed"
	EventSubscriptionCreated  = "customer.subscription.created"
	EventSubscriptionUpdated  = "customer.subscription.updated"
	EventSubscriptionDeleted  = "customer.subscription.deleted"
	EventSubscriptionTrialEnd = "customer.subscription.trial_will_end"
	EventInvoicePaid          = "invoice.payment_succeeded"
	EventInvoiceFailed        = "invoice.payment_failed"
)

// Plan statuses written by webhook handling.
const (
	StatusActive   = "active"
	StatusCanceled = "canceled"
	StatusPastDue  = "past_due"
)

// HandleWebhook verifies a Stripe payload and applies it. It reports
// whether the event type was recognized.
func (s *Service) HandleWebhook(ctx context.Context, payload []byte, signature string) (bool, error) {
	event, err := webhook.ConstructEvent(payload, signature, s.cfg.WebhookSecret)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if event.Data == nil {
		return false, fmt.Errorf("event %s has no data", event.ID)
	}
	logger := s.logger.With("event_id", event.ID, "event_type", event.Type)

	switch event.Type {
	case EventCheckoutCompleted:
		var sess stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
			return true, fmt.Errorf("decode checkout session: %w", err)
		}
		return true, s.checkoutCompleted(ctx, &sess)

	case EventSubscriptionCreated, EventSubscriptionUpdated, EventSubscriptionDeleted, EventSubscriptionTrialEnd:
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return true, fmt.Errorf("decode subscription: %w", err)
		}
		switch event.Type {
		case EventSubscriptionDeleted:
			return true, s.subscriptionDeleted(ctx, &sub)
		case EventSubscriptionTrialEnd:
			return true, s.trialWillEnd(ctx, &sub)
		}
		return true, s.subscriptionChanged(ctx, &sub)

	case EventInvoicePaid, EventInvoiceFailed:
		var inv stripe.Invoice
		if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
			return true, fmt.Errorf("decode invoice: %w", err)
		}
		if event.Type == EventInvoicePaid {
			return true, s.invoicePaid(ctx, &inv)
		}
		return true, s.invoiceFailed(ctx, &inv)
	}

	logger.Debug("unhandled stripe event")
	return false, nil
}

func (s *Service) checkoutCompleted(ctx context.Context, sess *stripe.CheckoutSession) error {
	if sess.PaymentStatus != stripe.CheckoutSessionPaymentStatusPaid &&
		sess.PaymentStatus != stripe.CheckoutSessionPaymentStatusNoPaymentRequired {
		return nil
	}
	userID := sess.Metadata[MetaUserID]
	if userID == "" {
		return nil
	}

	plan := &model.UserPlan{
		UserID:   userID,
		PlanType: model.NormalizePlan(sess.Metadata[MetaPlanType]),
		Status:   StatusActive,
	}
	if sess.Customer != nil {
		plan.StripeCustomerID = sess.Customer.ID
	}
	if sess.Subscription != nil {
		plan.StripeSubscriptionID = sess.Subscription.ID
	}
	if err := s.applyPlan(ctx, plan); err != nil {
		return err
	}
	return s.store.ResetUserUsage(ctx, userID)
}

func (s *Service) subscriptionChanged(ctx context.Context, sub *stripe.Subscription) error {
	userID, err := s.subscriptionUser(ctx, sub)
	if err != nil || userID == "" {
		return err
	}

	planType := model.PlanFree
	if sub.Status == stripe.SubscriptionStatusActive || sub.Status == stripe.SubscriptionStatusTrialing {
		planType = model.NormalizePlan(sub.Metadata[MetaPlanType])
	}

	plan := &model.UserPlan{
		UserID:               userID,
		PlanType:             planType,
		Status:               string(sub.Status),
		StripeSubscriptionID: sub.ID,
		CurrentPeriodStart:   unixTime(sub.CurrentPeriodStart),
		CurrentPeriodEnd:     unixTime(sub.CurrentPeriodEnd),
		CancelAtPeriodEnd:    sub.CancelAtPeriodEnd,
	}
	if sub.Customer != nil {
		plan.StripeCustomerID = sub.Customer.ID
	}
	return s.applyPlan(ctx, plan)
}

func (s *Service) subscriptionDeleted(ctx context.Context, sub *stripe.Subscription) error {
	userID, err := s.subscriptionUser(ctx, sub)
	if err != nil || userID == "" {
		return err
	}
	return s.applyPlan(ctx, &model.UserPlan{
		UserID:   userID,
		PlanType: model.PlanFree,
		Status:   StatusCanceled,
	})
}

func (s *Service) trialWillEnd(ctx context.Context, sub *stripe.Subscription) error {
	userID, err := s.subscriptionUser(ctx, sub)
	if err != nil || userID == "" {
		return err
	}
	data := map[string]any{"subscription_id": sub.ID}
	if t := unixTime(sub.TrialEnd); t != nil {
		data["trial_end"] = t.Format(time.RFC3339)
	}
	s.notify(ctx, userID, model.AlertTrialWillEnd, data)
	return nil
}

func (s *Service) invoicePaid(ctx context.Context, inv *stripe.Invoice) error {
	if inv.Customer == nil || inv.Customer.ID == "" {
		return nil
	}
	plan, err := s.store.GetPlanByCustomerID(ctx, inv.Customer.ID)
	if errors.Is(err, repository.ErrUserNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return s.store.ResetUserUsage(ctx, plan.UserID)
}

func (s *Service) invoiceFailed(ctx context.Context, inv *stripe.Invoice) error {
	if inv.Customer == nil || inv.Customer.ID == "" {
		return nil
	}
	userID, err := s.store.SetPlanStatusByCustomer(ctx, inv.Customer.ID, StatusPastDue)
	if errors.Is(err, repository.ErrUserNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	s.logger.Info("payment failed", "user_id", userID)
	return nil
}

// subscriptionUser resolves the owner from metadata, then from the customer.
func (s *Service) subscriptionUser(ctx context.Context, sub *stripe.Subscription) (string, error) {
	if id := sub.Metadata[MetaUserID]; id != "" {
		return id, nil
	}
	if sub.Customer == nil || sub.Customer.ID == "" {
		return "", nil
	}
	plan, err := s.store.GetPlanByCustomerID(ctx, sub.Customer.ID)
	if errors.Is(err, repository.ErrUserNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return plan.UserID, nil
}

// applyPlan stores p and publishes plan.changed when the plan type moved.
func (s *Service) applyPlan(ctx context.Context, p *model.UserPlan) error {
	prev, err := s.store.GetUserPlan(ctx, p.UserID)
	if err != nil {
		return err
	}
	if err := s.store.UpsertUserPlan(ctx, p); err != nil {
		return err
	}

	s.logger.Info("billing.plan_changed", "user_id", p.UserID, "plan", p.PlanType, "status", p.Status)
	if prev.PlanType != p.PlanType {
		s.notify(ctx, p.UserID, model.AlertPlanChanged, map[string]any{
			"from":   prev.PlanType,
			"to":     p.PlanType,
			"status": p.Status,
		})
	}
	return nil
}

func unixTime(sec int64) *time.Time {
	if sec <= 0 {
		return nil
	}
	t := time.Unix(sec, 0).UTC()
	return &t
}
