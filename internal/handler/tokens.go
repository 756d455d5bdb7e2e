package handler

import (
	"context"
	"errors"
	"log/slog"
	"maps"
	"net/http"
	"time"

	"github.com/thesisflow/thesisflow/internal/model"
	"github.com/thesisflow/thesisflow/internal/repository"
	"github.com/thesisflow/thesisflow/internal/service"
)

// TokenAPI is the token service surface used by TokenHandler.
type TokenAPI interface {
	GetUserTokenStatus(ctx context.Context, userID string) (*service.TokenBalance, error)
	RefundTokens(ctx context.Context, userID, feature string, amount int, reqCtx map[string]any) (*model.TransactionResult, error)
	GetTokenTransactions(ctx context.Context, userID string, limit, offset int) ([]*model.Transaction, error)
	GetFeatureCosts(ctx context.Context) ([]*model.FeatureCost, error)
}

// InsightsAPI analyzes a user's ledger.
type InsightsAPI interface {
	GetInsights(ctx context.Context, userID string, lookback time.Duration) (*service.Insights, error)
}

// UsageCounter bumps per-plan feature counters.
type UsageCounter interface {
	IncrementUsage(ctx context.Context, userID, feature string) (*model.UsageSummaryRow, error)
}

// TokenChecker runs the balance preflight without charging.
type TokenChecker interface {
	CheckTokensOnly(r *http.Request, feature string, extra map[string]any) (*model.TokenStatus, *model.RateLimitResult, error)
	WriteInsufficientTokens(w http.ResponseWriter, rl *model.RateLimitResult)
}

// TokenHandler serves balances, refunds, the ledger and plan usage counters.
type TokenHandler struct {
	tokens   TokenAPI
	insights InsightsAPI
	usage    UsageCounter
	checker  TokenChecker
	logger   *slog.Logger
}

// NewTokenHandler creates a TokenHandler.
func NewTokenHandler(tokens TokenAPI, insights InsightsAPI, usage UsageCounter, checker TokenChecker, logger *slog.Logger) *TokenHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &TokenHandler{
		tokens:   tokens,
		insights: insights,
		usage:    usage,
		checker:  checker,
		logger:   logger.With("component", "handler.tokens"),
	}
}

// Balance handles GET /api/user/tokens.
func (h *TokenHandler) Balance(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	bal, err := h.tokens.GetUserTokenStatus(r.Context(), userID)
	if err != nil {
		h.logger.Error("failed to get token status", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, CodeInternal, "Failed to fetch token status")
		return
	}
	writeJSON(w, http.StatusOK, bal)
}

type refundRequest struct {
	Feature       string         `json:"feature"`
	Amount        int            `json:"amount"`
	TransactionID string         `json:"transactionId"`
	Context       map[string]any `json:"context"`
}

// Refund handles POST /api/user/tokens/refund. A refund must name one of the
// caller's own live deducts, either as transactionId or as
// context.original_transaction; the ledger credits at most what it charged
// and only once.
func (h *TokenHandler) Refund(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req refundRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, msgInvalidBody)
		return
	}
	if req.Feature == "" {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "Feature is required")
		return
	}
	if req.Amount <= 0 {
		req.Amount = 1
	}
	txID := req.TransactionID
	if txID == "" {
		txID = model.StringFromContext(req.Context, "original_transaction")
	}
	if txID == "" {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "Original transaction is required")
		return
	}
	refundCtx := maps.Clone(req.Context)
	if refundCtx == nil {
		refundCtx = make(map[string]any, 1)
	}
	refundCtx["original_transaction"] = txID

	res, err := h.tokens.RefundTokens(r.Context(), userID, req.Feature, req.Amount, refundCtx)
	switch {
	case errors.Is(err, service.ErrNoTokenRecord):
		writeError(w, http.StatusNotFound, CodeNotFound, "No token record found")
		return
	case errors.Is(err, service.ErrNotRefundable):
		writeError(w, http.StatusConflict, CodeConflict, "Transaction not found or already refunded")
		return
	case errors.Is(err, service.ErrFeatureRequired):
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "Feature is required")
		return
	case err != nil:
		h.logger.Error("refund failed", "user_id", userID, "feature", req.Feature, "error", err)
		writeError(w, http.StatusInternalServerError, CodeInternal, "Failed to refund tokens")
		return
	}

	resp := map[string]any{"success": res.Success, "refunded": 0}
	if res.Success {
		resp["refunded"] = res.Tokens
		resp["transactionId"] = res.TransactionID
	} else {
		resp["error"] = res.Error
	}
	if bal, err := h.tokens.GetUserTokenStatus(r.Context(), userID); err == nil {
		resp["status"] = bal
	}
	writeJSON(w, http.StatusOK, resp)
}

// Transactions handles GET /api/user/tokens/transactions.
func (h *TokenHandler) Transactions(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)

	txs, err := h.tokens.GetTokenTransactions(r.Context(), userID, limit, offset)
	if err != nil {
		h.logger.Error("failed to list transactions", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, CodeInternal, "Failed to fetch transactions")
		return
	}
	if txs == nil {
		txs = []*model.Transaction{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"transactions": txs})
}

// Check handles GET /api/user/tokens/check. Nothing is charged.
func (h *TokenHandler) Check(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireUser(w, r); !ok {
		return
	}
	feature := r.URL.Query().Get("feature")
	if feature == "" {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "Feature is required")
		return
	}

	status, rl, err := h.checker.CheckTokensOnly(r, feature, nil)
	if err != nil {
		h.logger.Error("token preflight failed", "feature", feature, "error", err)
		writeError(w, http.StatusInternalServerError, CodeInternal, "Token validation failed")
		return
	}
	if !rl.Allowed {
		h.checker.WriteInsufficientTokens(w, rl)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// Features handles GET /api/tokens/features.
func (h *TokenHandler) Features(w http.ResponseWriter, r *http.Request) {
	costs, err := h.tokens.GetFeatureCosts(r.Context())
	if err != nil {
		h.logger.Error("failed to list feature costs", "error", err)
		writeError(w, http.StatusInternalServerError, CodeInternal, "Failed to fetch feature costs")
		return
	}
	if costs == nil {
		costs = []*model.FeatureCost{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"features": costs})
}

// Insights handles GET /api/user/tokens/insights.
func (h *TokenHandler) Insights(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	lookback := 24 * time.Hour
	if hrs := queryInt(r, "hours", 0); hrs > 0 {
		lookback = time.Duration(min(hrs, 24*7)) * time.Hour
	}

	out, err := h.insights.GetInsights(r.Context(), userID, lookback)
	if err != nil {
		h.logger.Error("failed to build insights", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, CodeInternal, "Failed to analyze usage")
		return
	}
	writeJSON(w, http.StatusOK, out)
}

type incrementRequest struct {
	Feature  string         `json:"feature"`
	Metadata map[string]any `json:"metadata"`
}

// IncrementUsage handles POST /api/user/usage/increment.
func (h *TokenHandler) IncrementUsage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, CodeMethodNotAllowed, "Method not allowed")
		return
	}
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req incrementRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, msgInvalidBody)
		return
	}
	if req.Feature == "" {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "Feature name required")
		return
	}

	row, err := h.usage.IncrementUsage(r.Context(), userID, req.Feature)
	switch {
	case errors.Is(err, repository.ErrUsageFeatureUnknown):
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "Unknown feature: "+req.Feature)
		return
	case errors.Is(err, repository.ErrUsageLimitReached):
		resp := map[string]any{"error": "Usage limit exceeded", "code": CodeUsageLimit, "feature": req.Feature}
		if row != nil {
			resp["currentUsage"] = row.Used
			resp["limit"] = row.Limit
		}
		writeJSON(w, http.StatusForbidden, resp)
		return
	case err != nil:
		h.logger.Error("usage increment failed", "user_id", userID, "feature", req.Feature, "error", err)
		writeError(w, http.StatusInternalServerError, CodeInternal, "Failed to increment usage")
		return
	}

	remaining := row.Remaining
	if row.IsUnlimited {
		remaining = -1
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":       true,
		"newUsageCount": row.Used,
		"remaining":     remaining,
		"isUnlimited":   row.IsUnlimited,
	})
}
