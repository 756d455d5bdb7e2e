package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/thesisflow/thesisflow/internal/billing"
)

// maxWebhookBody bounds Stripe event payloads.
const maxWebhookBody = 64 << 10

// BillingAPI is the checkout and webhook surface. *billing.Service satisfies it.
type BillingAPI interface {
	Checkout(ctx context.Context, userID string, req billing.CheckoutRequest) (*billing.CheckoutSession, error)
	HandleWebhook(ctx context.Context, payload []byte, signature string) (bool, error)
}

// BillingHandler serves /api/billing.
type BillingHandler struct {
	svc    BillingAPI
	logger *slog.Logger
}

// NewBillingHandler creates a BillingHandler.
func NewBillingHandler(svc BillingAPI, logger *slog.Logger) *BillingHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &BillingHandler{svc: svc, logger: logger.With("component", "handler.billing")}
}

// Checkout handles POST /api/billing/checkout.
func (h *BillingHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req billing.CheckoutRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, msgInvalidBody)
		return
	}

	sess, err := h.svc.Checkout(r.Context(), userID, req)
	if err != nil {
		if errors.Is(err, billing.ErrInvalidPriceID) {
			writeError(w, http.StatusBadRequest, CodeInvalidRequest, "Invalid price ID")
			return
		}
		h.logger.Error("checkout failed", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, CodeUpstream, "Failed to create checkout session")
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// Webhook handles POST /api/billing/webhook. The raw body is needed for
// signature verification, so it is read before anything decodes it.
func (h *BillingHandler) Webhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, msgInvalidBody)
		return
	}

	handled, err := h.svc.HandleWebhook(r.Context(), payload, r.Header.Get("Stripe-Signature"))
	if err != nil {
		if errors.Is(err, billing.ErrInvalidSignature) {
			h.logger.Warn("stripe webhook rejected", "error", err)
			writeError(w, http.StatusBadRequest, CodeInvalidRequest, "Invalid signature")
			return
		}
		// Non-2xx makes Stripe retry the event.
		h.logger.Error("stripe webhook failed", "error", err)
		writeError(w, http.StatusInternalServerError, CodeInternal, "Webhook handler failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"received": true, "handled": handled})
}
