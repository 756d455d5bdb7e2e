package model

import (
	"math"
	"strings"
	"time"
)

// Transaction operation types.
const (
	OperationDeduct = "deduct"
	OperationRefund = "refund"
)

// Feature names with dedicated handling in the metering layer.
const (
	FeatureLiteratureSearch  = "literature_search"
	FeatureAIChat            = "ai_chat"
	FeatureTopicsReport      = "topics_report"
	FeatureTrendsJob         = "trends_job"
	FeatureTrendsJobDownload = "trends_job_download"
)

// perResultStep is the result count covered by one multiplier step.
const perResultStep = 10

// TokenStatus summarizes a user's balance for a single feature check.
type TokenStatus struct {
	HasTokens        bool `json:"hasTokens"`
	DailyRemaining   int  `json:"dailyRemaining"`
	MonthlyRemaining int  `json:"monthlyRemaining"`
	DailyLimit       int  `json:"dailyLimit"`
	MonthlyLimit     int  `json:"monthlyLimit"`
	TokensNeeded     int  `json:"tokensNeeded,omitempty"`
}

// RateLimitResult is the outcome of a pre-deduction balance check.
type RateLimitResult struct {
	Allowed          bool      `json:"allowed"`
	TokensNeeded     int       `json:"tokensNeeded"`
	DailyRemaining   int       `json:"dailyRemaining"`
	MonthlyRemaining int       `json:"monthlyRemaining"`
	DailyLimit       int       `json:"dailyLimit"`
	MonthlyLimit     int       `json:"monthlyLimit"`
	ResetTime        time.Time `json:"resetTime"`
	ErrorMessage     string    `json:"errorMessage,omitempty"`
}

// TransactionResult is returned by deduct and refund.
type TransactionResult struct {
	Success       bool   `json:"success"`
	TransactionID string `json:"transactionId,omitempty"`
	Error         string `json:"error,omitempty"`
	// Replayed is set when a deduct matched a live idempotency key and
	// nothing was charged.
	Replayed bool `json:"replayed,omitempty"`
	// Tokens is the amount a refund actually credited.
	Tokens int `json:"tokens,omitempty"`
}

// Transaction is one row of the token ledger.
type Transaction struct {
	ID               string         `json:"id"`
	OperationType    string         `json:"operationType"`
	TokensAmount     int            `json:"tokensAmount"`
	FeatureName      string         `json:"featureName"`
	OperationContext map[string]any `json:"operationContext"`
	Success          bool           `json:"success"`
	ErrorMessage     string         `json:"errorMessage,omitempty"`
	CreatedAt        time.Time      `json:"createdAt"`
}

// UserTokens is the persisted balance row.
type UserTokens struct {
	UserID            string    `json:"-"`
	DailyTokensUsed   int       `json:"dailyUsed"`
	MonthlyTokensUsed int       `json:"monthlyUsed"`
	DailyLimit        int       `json:"dailyLimit"`
	MonthlyLimit      int       `json:"monthlyLimit"`
	LastDailyReset    time.Time `json:"lastDailyReset"`
	LastMonthlyReset  time.Time `json:"lastMonthlyReset"`
}

// DailyRemaining is the unused daily allowance, floored at 0.
func (u *UserTokens) DailyRemaining() int {
	return max(0, u.DailyLimit-u.DailyTokensUsed)
}

// MonthlyRemaining is the unused monthly allowance, floored at 0.
func (u *UserTokens) MonthlyRemaining() int {
	return max(0, u.MonthlyLimit-u.MonthlyTokensUsed)
}

// FeatureCost is a catalog entry describing what a feature charges.
type FeatureCost struct {
	FeatureName     string             `json:"featureName" yaml:"feature"`
	BaseCost        int                `json:"baseCost" yaml:"base_cost"`
	Description     string             `json:"description" yaml:"description"`
	CostMultipliers map[string]float64 `json:"costMultipliers" yaml:"multipliers"`
	IsActive        bool               `json:"isActive" yaml:"active"`
}

// Cost returns the token charge for a request context.
// Each multiplier applies when its context flag is truthy. The per_result
// multiplier scales with the requested result count in steps of ten.
// The result is never below 1.
func (f *FeatureCost) Cost(ctx map[string]any) int {
	factor := 1.0
	for name, m := range f.CostMultipliers {
		v, ok := ctx[name]
		if !ok {
			continue
		}
		if name == "per_result" {
			n, ok := toFloat(v)
			if !ok || n <= 0 {
				continue
			}
			factor *= 1 + m*math.Floor(n/perResultStep)
			continue
		}
		if Truthy(v) {
			factor *= m
		}
	}
	cost := int(math.Ceil(float64(f.BaseCost) * factor))
	return max(1, cost)
}

// Truthy reports whether a JSON-decoded value should enable a flag.
func Truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		s := strings.ToLower(strings.TrimSpace(t))
		return s != "" && s != "false" && s != "0"
	default:
		n, ok := toFloat(v)
		return ok && n != 0
	}
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	default:
		return 0, false
	}
}

// UsageSummaryRow is one feature counter from the plan usage summary.
type UsageSummaryRow struct {
	Feature     string `json:"feature"`
	Used        int    `json:"used"`
	Limit       int    `json:"limit"`
	IsUnlimited bool   `json:"isUnlimited"`
	Remaining   int    `json:"remaining"`
}
