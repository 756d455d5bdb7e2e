package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/thesisflow/thesisflow/internal/cache"
	"github.com/thesisflow/thesisflow/internal/config"
	"github.com/thesisflow/thesisflow/internal/metrics"
	"github.com/thesisflow/thesisflow/internal/model"
	"github.com/thesisflow/thesisflow/internal/repository"
)

// Token service errors.
var (
	ErrInsufficientTokens = errors.New("insufficient tokens")
	ErrNoTokenRecord      = errors.New("no token record found")
	ErrFeatureRequired    = errors.New("feature is required")
	ErrNotRefundable      = errors.New("original transaction not found or already refunded")
)

const (
	defaultTransactionLimit = 50
	maxTransactionLimit     = 100
	lowBalanceFraction      = 0.1
)

// PlanAllowance resolves token limits for a plan type.
type PlanAllowance interface {
	LimitsForPlan(plan string) config.PlanLimits
}

// AlertNotifier fans a user-facing event out to alert endpoints.
type AlertNotifier interface {
	Notify(ctx context.Context, userID string, event model.AlertEventType, data map[string]any) error
}

// TokenService wraps the token ledger functions.
type TokenService struct {
	repo    *repository.Repository
	cache   *cache.Cache
	plans   PlanAllowance
	alerts  AlertNotifier
	metrics metrics.Recorder
	logger  *slog.Logger
}

// NewTokenService creates a TokenService. cache and alerts may be nil.
func NewTokenService(repo *repository.Repository, c *cache.Cache, plans PlanAllowance, alerts AlertNotifier, recorder metrics.Recorder, logger *slog.Logger) *TokenService {
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TokenService{
		repo:    repo,
		cache:   c,
		plans:   plans,
		alerts:  alerts,
		metrics: recorder,
		logger:  logger.With("component", "tokens"),
	}
}

// DeductRequest describes one charge.
type DeductRequest struct {
	UserID    string
	Feature   string
	Amount    int
	Context   map[string]any
	ClientIP  string
	UserAgent string
}

// TokenBalance is the balance view returned to account pages.
type TokenBalance struct {
	DailyUsed        int       `json:"dailyUsed"`
	MonthlyUsed      int       `json:"monthlyUsed"`
	DailyLimit       int       `json:"dailyLimit"`
	MonthlyLimit     int       `json:"monthlyLimit"`
	DailyRemaining   int       `json:"dailyRemaining"`
	MonthlyRemaining int       `json:"monthlyRemaining"`
	LastDailyReset   time.Time `json:"lastDailyReset"`
	LastMonthlyReset time.Time `json:"lastMonthlyReset"`
	PlanType         string    `json:"planType"`
}

// GetFeatureCost returns the charge for a feature in a request context.
// Lookups that fail for any reason cost 1.
func (s *TokenService) GetFeatureCost(ctx context.Context, feature string, reqCtx map[string]any) int {
	fc, err := s.featureCost(ctx, feature)
	if err != nil {
		if !errors.Is(err, repository.ErrFeatureNotFound) {
			s.logger.Warn("feature cost lookup failed", "feature", feature, "error", err)
		}
		return 1
	}
	return fc.Cost(reqCtx)
}

func (s *TokenService) featureCost(ctx context.Context, feature string) (*model.FeatureCost, error) {
	if s.cache != nil {
		if fc, _ := s.cache.GetFeatureCost(ctx, feature); fc != nil {
			return fc, nil
		}
	}

	fc, err := s.repo.GetFeatureCost(ctx, feature)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.SetFeatureCost(ctx, fc); err != nil {
			s.logger.Debug("feature cost cache write failed", "feature", feature, "error", err)
		}
	}
	return fc, nil
}

// CheckRateLimit prices the request and asks whether the balance covers it.
func (s *TokenService) CheckRateLimit(ctx context.Context, userID, feature string, reqCtx map[string]any) (*model.RateLimitResult, error) {
	return s.CheckAmount(ctx, userID, s.GetFeatureCost(ctx, feature, reqCtx))
}

// CheckAmount asks whether the balance covers a fixed number of tokens.
func (s *TokenService) CheckAmount(ctx context.Context, userID string, amount int) (*model.RateLimitResult, error) {
	res, err := s.repo.CheckTokenRateLimit(ctx, userID, amount)
	if err != nil {
		return nil, fmt.Errorf("check rate limit: %w", err)
	}
	if !res.Allowed {
		s.metrics.IncRateLimited("tokens")
	}
	return res, nil
}

// CheckUserTokens is the preflight status for a feature. Nothing is charged.
func (s *TokenService) CheckUserTokens(ctx context.Context, userID, feature string, reqCtx map[string]any) (*model.TokenStatus, *model.RateLimitResult, error) {
	res, err := s.CheckRateLimit(ctx, userID, feature, reqCtx)
	if err != nil {
		return nil, nil, err
	}
	return &model.TokenStatus{
		HasTokens:        res.Allowed,
		DailyRemaining:   res.DailyRemaining,
		MonthlyRemaining: res.MonthlyRemaining,
		DailyLimit:       res.DailyLimit,
		MonthlyLimit:     res.MonthlyLimit,
		TokensNeeded:     res.TokensNeeded,
	}, res, nil
}

// DeductTokens charges a user. A failed charge is reported through the
// result, not the error.
func (s *TokenService) DeductTokens(ctx context.Context, req DeductRequest) (*model.TransactionResult, error) {
	if req.Feature == "" {
		return nil, ErrFeatureRequired
	}
	if req.Amount <= 0 {
		req.Amount = 1
	}

	res, err := s.repo.DeductUserTokens(ctx, repository.DeductInput{
		UserID:    req.UserID,
		Feature:   req.Feature,
		Amount:    req.Amount,
		Context:   req.Context,
		ClientIP:  req.ClientIP,
		UserAgent: req.UserAgent,
	})
	if err != nil {
		s.metrics.IncDeductionFailed(req.Feature)
		return nil, fmt.Errorf("deduct tokens: %w", err)
	}

	if !res.Success {
		s.metrics.IncDeductionFailed(req.Feature)
		s.logger.Info("token.deduct_rejected", "user_id", req.UserID, "feature", req.Feature, "amount", req.Amount)
		return res, nil
	}
	if res.Replayed {
		s.logger.Info("token.deduct_replayed",
			"user_id", req.UserID,
			"feature", req.Feature,
			"transaction_id", res.TransactionID,
		)
		return res, nil
	}

	s.metrics.IncTokensDeducted(req.Feature, req.Amount)
	s.logger.Info("token.deducted",
		"user_id", req.UserID,
		"feature", req.Feature,
		"amount", req.Amount,
		"transaction_id", res.TransactionID,
	)
	return res, nil
}

// RefundTokens returns tokens for work that was not delivered.
func (s *TokenService) RefundTokens(ctx context.Context, userID, feature string, amount int, reqCtx map[string]any) (*model.TransactionResult, error) {
	if feature == "" {
		return nil, ErrFeatureRequired
	}
	if amount <= 0 {
		amount = 1
	}

	res, err := s.repo.RefundUserTokens(ctx, userID, feature, amount, reqCtx)
	if err != nil {
		return nil, fmt.Errorf("refund tokens: %w", err)
	}
	if !res.Success {
		switch {
		case strings.EqualFold(res.Error, repository.ErrNoTokenRecord.Error()):
			return res, ErrNoTokenRecord
		case strings.EqualFold(res.Error, ErrNotRefundable.Error()):
			return res, ErrNotRefundable
		}
		return res, nil
	}

	s.metrics.IncTokensRefunded(feature, res.Tokens)
	s.logger.Info("token.refunded",
		"user_id", userID,
		"feature", feature,
		"amount", res.Tokens,
		"transaction_id", res.TransactionID,
	)
	return res, nil
}

// GetTokenTransactions pages the ledger newest first.
func (s *TokenService) GetTokenTransactions(ctx context.Context, userID string, limit, offset int) ([]*model.Transaction, error) {
	if limit <= 0 {
		limit = defaultTransactionLimit
	}
	limit = min(limit, maxTransactionLimit)
	offset = max(offset, 0)

	txs, err := s.repo.ListTransactions(ctx, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	return txs, nil
}

// GetFeatureCosts lists the active catalog.
func (s *TokenService) GetFeatureCosts(ctx context.Context) ([]*model.FeatureCost, error) {
	costs, err := s.repo.ListFeatureCosts(ctx)
	if err != nil {
		return nil, fmt.Errorf("list feature costs: %w", err)
	}
	return costs, nil
}

// InitializeUserTokens creates the balance row with the plan's limits.
func (s *TokenService) InitializeUserTokens(ctx context.Context, userID string) error {
	plan, err := s.repo.GetUserPlan(ctx, userID)
	if err != nil {
		return fmt.Errorf("get plan: %w", err)
	}
	limits := s.plans.LimitsForPlan(plan.PlanType)
	return s.repo.InitializeUserTokens(ctx, userID, limits.Daily, limits.Monthly)
}

// GetUserTokenStatus returns the balance, creating the row on first use and
// bringing its limits in line with the current plan.
func (s *TokenService) GetUserTokenStatus(ctx context.Context, userID string) (*TokenBalance, error) {
	plan, err := s.repo.GetUserPlan(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get plan: %w", err)
	}
	planType := model.NormalizePlan(plan.PlanType)
	limits := s.plans.LimitsForPlan(planType)

	if err := s.repo.InitializeUserTokens(ctx, userID, limits.Daily, limits.Monthly); err != nil {
		return nil, err
	}
	if err := s.repo.SyncTokenLimits(ctx, userID, limits.Daily, limits.Monthly); err != nil {
		// Stale limits are still a usable answer.
		s.logger.Warn("token limit sync failed", "user_id", userID, "error", err)
	}

	t, err := s.repo.GetUserTokens(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNoTokenRecord) {
			return nil, ErrNoTokenRecord
		}
		return nil, err
	}

	return &TokenBalance{
		DailyUsed:        t.DailyTokensUsed,
		MonthlyUsed:      t.MonthlyTokensUsed,
		DailyLimit:       t.DailyLimit,
		MonthlyLimit:     t.MonthlyLimit,
		DailyRemaining:   t.DailyRemaining(),
		MonthlyRemaining: t.MonthlyRemaining(),
		LastDailyReset:   t.LastDailyReset,
		LastMonthlyReset: t.LastMonthlyReset,
		PlanType:         planType,
	}, nil
}

// NotifyBalance sends low and exhausted alerts when a charge moves the
// monthly balance across a threshold.
func (s *TokenService) NotifyBalance(ctx context.Context, userID string, before, after, limit int) {
	if s.alerts == nil {
		return
	}
	event, ok := BalanceAlert(before, after, limit)
	if !ok {
		return
	}
	data := map[string]any{
		"monthlyRemaining": after,
		"monthlyLimit":     limit,
	}
	if err := s.alerts.Notify(ctx, userID, event, data); err != nil {
		s.logger.Warn("balance alert failed", "user_id", userID, "event", event, "error", err)
	}
}

// BalanceAlert picks the alert for a balance transition, if any.
func BalanceAlert(before, after, limit int) (model.AlertEventType, bool) {
	if limit <= 0 || after >= before {
		return "", false
	}
	if after <= 0 && before > 0 {
		return model.AlertTokensExhausted, true
	}
	threshold := int(float64(limit) * lowBalanceFraction)
	if after <= threshold && before > threshold {
		return model.AlertTokensLow, true
	}
	return "", false
}
