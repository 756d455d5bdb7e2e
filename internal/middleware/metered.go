package middleware

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/thesisflow/thesisflow/internal/auth"
	"github.com/thesisflow/thesisflow/internal/model"
	"github.com/thesisflow/thesisflow/internal/service"
)

// Headers set on metered responses.
const (
	HeaderTokensUsed       = "X-Tokens-Used"
	HeaderTokensRemaining  = "X-Tokens-Remaining-Monthly"
	HeaderTransactionID    = "X-Token-Transaction-ID"
	HeaderExplorerBypass   = "X-Explorer-Bypass"
	HeaderRemainingMonthly = "X-RateLimit-Remaining-Monthly"
)

// TokenMeter is the part of the token service the meter needs.
type TokenMeter interface {
	GetFeatureCost(ctx context.Context, feature string, reqCtx map[string]any) int
	CheckAmount(ctx context.Context, userID string, amount int) (*model.RateLimitResult, error)
	DeductTokens(ctx context.Context, req service.DeductRequest) (*model.TransactionResult, error)
	RefundTokens(ctx context.Context, userID, feature string, amount int, reqCtx map[string]any) (*model.TransactionResult, error)
	NotifyBalance(ctx context.Context, userID string, before, after, limit int)
}

// UsagePublisher receives an event for every successful charge.
type UsagePublisher interface {
	Publish(ctx context.Context, e *model.UsageEvent)
}

// MeterOptions tune a single metered route.
type MeterOptions struct {
	// RequiredTokens overrides the catalog price when positive.
	RequiredTokens int
	// SkipDeduction checks the balance without charging.
	SkipDeduction bool
	// Context is overlaid on the parsed request context.
	Context map[string]any
}

// Meter charges tokens around handlers.
type Meter struct {
	tokens TokenMeter
	usage  UsagePublisher
	logger *slog.Logger
	now    func() time.Time
}

// NewMeter creates a Meter. usage may be nil.
func NewMeter(tokens TokenMeter, usage UsagePublisher, logger *slog.Logger) *Meter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Meter{
		tokens: tokens,
		usage:  usage,
		logger: logger.With("component", "meter"),
		now:    time.Now,
	}
}

// isExplorerBypass reports whether an assistant call from the literature
// explorer rides on the search that was already charged.
func isExplorerBypass(feature string, reqCtx map[string]any) bool {
	return feature == model.FeatureAIChat &&
		model.StringFromContext(reqCtx, "origin") == "explorer" &&
		model.StringFromContext(reqCtx, "feature") == "assistant"
}

// Metered wraps a handler so each request is priced, checked, charged and
// refunded when the handler does not deliver.
func (m *Meter) Metered(feature string, opts MeterOptions) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			m.serve(w, r, next, feature, opts)
		})
	}
}

func (m *Meter) serve(w http.ResponseWriter, r *http.Request, next http.Handler, feature string, opts MeterOptions) {
	ctx := r.Context()
	userID := auth.UserIDFromContext(ctx)
	if userID == "" {
		writeAuthError(w)
		return
	}

	reqCtx := mergeContext(ParseRequestContext(r), opts.Context)

	if isExplorerBypass(feature, reqCtx) {
		w.Header().Set(HeaderTokensUsed, "0")
		w.Header().Set(HeaderExplorerBypass, "assistant")
		next.ServeHTTP(w, r)
		return
	}

	tokensNeeded := opts.RequiredTokens
	if tokensNeeded <= 0 {
		tokensNeeded = m.tokens.GetFeatureCost(ctx, feature, reqCtx)
	}

	rl, err := m.tokens.CheckAmount(ctx, userID, tokensNeeded)
	if err != nil {
		m.logger.Error("token check failed", "user_id", userID, "feature", feature, "error", err)
		writeError(w, http.StatusInternalServerError, CodeTokenValidation, msgTokenValidationFail)
		return
	}
	if !rl.Allowed {
		m.writeInsufficient(w, rl, tokensNeeded)
		return
	}

	if opts.SkipDeduction {
		w.Header().Set(HeaderTokensUsed, "0")
		next.ServeHTTP(w, r)
		return
	}

	res, err := m.tokens.DeductTokens(ctx, service.DeductRequest{
		UserID:    userID,
		Feature:   feature,
		Amount:    tokensNeeded,
		Context:   reqCtx,
		ClientIP:  ClientIP(r),
		UserAgent: UserAgent(r),
	})
	if err != nil {
		m.logger.Error("token deduction errored", "user_id", userID, "feature", feature, "error", err)
		writeError(w, http.StatusInternalServerError, CodeTokenValidation, msgTokenValidationFail)
		return
	}
	if !res.Success {
		msg := res.Error
		if msg == "" {
			msg = "Token deduction failed"
		}
		writeError(w, http.StatusPaymentRequired, CodeDeductionFailed, msg)
		return
	}

	started := m.now()
	buf := newBufferedWriter()
	panicked := m.run(next, buf, r)
	status := buf.statusCode()

	// A replayed key was charged by an earlier request. This one owes
	// nothing and has nothing to give back.
	if res.Replayed {
		if panicked || status >= http.StatusInternalServerError {
			writeError(w, http.StatusInternalServerError, CodeInternal, msgInternalError)
			return
		}
		h := buf.Header()
		h.Set(HeaderTokensUsed, "0")
		h.Set(HeaderTokensRemaining, strconv.Itoa(rl.MonthlyRemaining))
		h.Set(HeaderTransactionID, res.TransactionID)
		buf.flushTo(w)
		return
	}

	remaining := max(0, rl.MonthlyRemaining-tokensNeeded)
	if panicked || status >= http.StatusBadRequest {
		reason := "handler_error"
		if status < http.StatusInternalServerError && !panicked {
			reason = "client_error"
		}
		m.refund(ctx, userID, feature, tokensNeeded, reqCtx, res.TransactionID, reason)

		if panicked || status >= http.StatusInternalServerError {
			writeError(w, http.StatusInternalServerError, CodeInternal, msgInternalError)
			return
		}
		buf.flushTo(w)
		return
	}

	h := buf.Header()
	h.Set(HeaderTokensUsed, strconv.Itoa(tokensNeeded))
	h.Set(HeaderTokensRemaining, strconv.Itoa(remaining))
	h.Set(HeaderTransactionID, res.TransactionID)
	buf.flushTo(w)

	m.tokens.NotifyBalance(ctx, userID, rl.MonthlyRemaining, remaining, rl.MonthlyLimit)
	if m.usage != nil {
		m.usage.Publish(ctx, &model.UsageEvent{
			TransactionID: res.TransactionID,
			UserID:        userID,
			Feature:       feature,
			Tokens:        tokensNeeded,
			Provider:      model.StringFromContext(reqCtx, "provider"),
			Model:         model.StringFromContext(reqCtx, "model"),
			Origin:        model.StringFromContext(reqCtx, "origin"),
			Quality:       model.StringFromContext(reqCtx, "quality"),
			PerResult:     model.PerResultFromContext(reqCtx),
			LatencyMS:     m.now().Sub(started).Milliseconds(),
			OccurredAt:    started.UTC(),
		})
	}
}

// run calls the handler and reports whether it panicked.
func (m *Meter) run(next http.Handler, w http.ResponseWriter, r *http.Request) (panicked bool) {
	defer func() {
		if rvr := recover(); rvr != nil {
			if rvr == http.ErrAbortHandler {
				panic(rvr)
			}
			m.logger.Error("metered handler panicked",
				slog.Any("panic", rvr),
				slog.String("request_id", GetRequestID(r.Context())),
			)
			panicked = true
		}
	}()
	next.ServeHTTP(w, r)
	return false
}

func (m *Meter) refund(ctx context.Context, userID, feature string, amount int, reqCtx map[string]any, txID, reason string) {
	refundCtx := mergeContext(reqCtx, map[string]any{
		"refund_reason":        reason,
		"original_transaction": txID,
	})
	// Refunds must land even when the client has gone away.
	ctx = context.WithoutCancel(ctx)
	if _, err := m.tokens.RefundTokens(ctx, userID, feature, amount, refundCtx); err != nil {
		m.logger.Error("token refund failed",
			"user_id", userID,
			"feature", feature,
			"transaction_id", txID,
			"error", err,
		)
	}
}

func (m *Meter) writeInsufficient(w http.ResponseWriter, rl *model.RateLimitResult, tokensNeeded int) {
	msg := rl.ErrorMessage
	if msg == "" {
		msg = "Insufficient tokens"
	}

	retryAfter := max(1, int(math.Ceil(rl.ResetTime.Sub(m.now()).Seconds())))
	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	w.Header().Set(HeaderRemainingMonthly, strconv.Itoa(rl.MonthlyRemaining))
	w.Header().Set("X-RateLimit-Reset", rl.ResetTime.UTC().Format(time.RFC3339))

	writeJSON(w, http.StatusTooManyRequests, errorBody{
		Error: msg,
		Code:  CodeRateLimited,
		Details: map[string]any{
			"tokensNeeded":     tokensNeeded,
			"monthlyRemaining": rl.MonthlyRemaining,
			"resetTime":        rl.ResetTime.UTC().Format(time.RFC3339),
		},
	})
}

// CheckTokensOnly prices a feature for the caller and checks the balance
// without charging.
func (m *Meter) CheckTokensOnly(r *http.Request, feature string, extra map[string]any) (*model.TokenStatus, *model.RateLimitResult, error) {
	userID := auth.UserIDFromContext(r.Context())
	if userID == "" {
		return nil, nil, auth.ErrInvalidToken
	}
	reqCtx := mergeContext(ParseRequestContext(r), extra)
	needed := m.tokens.GetFeatureCost(r.Context(), feature, reqCtx)

	rl, err := m.tokens.CheckAmount(r.Context(), userID, needed)
	if err != nil {
		return nil, nil, fmt.Errorf("check tokens: %w", err)
	}
	return &model.TokenStatus{
		HasTokens:        rl.Allowed,
		DailyRemaining:   rl.DailyRemaining,
		MonthlyRemaining: rl.MonthlyRemaining,
		DailyLimit:       rl.DailyLimit,
		MonthlyLimit:     rl.MonthlyLimit,
		TokensNeeded:     needed,
	}, rl, nil
}

// WriteInsufficientTokens writes the 429 body used when a balance check fails.
func (m *Meter) WriteInsufficientTokens(w http.ResponseWriter, rl *model.RateLimitResult) {
	m.writeInsufficient(w, rl, rl.TokensNeeded)
}

// bufferedWriter holds a response until the meter decides what to send.
type bufferedWriter struct {
	header http.Header
	status int
	body   bytes.Buffer
}

func newBufferedWriter() *bufferedWriter {
	return &bufferedWriter{header: make(http.Header)}
}

func (b *bufferedWriter) Header() http.Header { return b.header }

func (b *bufferedWriter) WriteHeader(code int) {
	if b.status == 0 {
		b.status = code
	}
}

func (b *bufferedWriter) Write(p []byte) (int, error) {
	if b.status == 0 {
		b.status = http.StatusOK
	}
	return b.body.Write(p)
}

func (b *bufferedWriter) statusCode() int {
	if b.status == 0 {
		return http.StatusOK
	}
	return b.status
}

func (b *bufferedWriter) flushTo(w http.ResponseWriter) {
	dst := w.Header()
	for k, v := range b.header {
		dst[k] = v
	}
	w.WriteHeader(b.statusCode())
	_, _ = w.Write(b.body.Bytes())
}
