package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/thesisflow/thesisflow/internal/model"
)

// Common errors for token repository operations.
var (
	ErrNoTokenRecord   = errors.New("no token record found")
	ErrFeatureNotFound = errors.New("feature not found")
)

// CheckTokenRateLimit asks the database whether amount tokens are available.
// Counters are rolled over first if the day or month has changed.
func (r *Repository) CheckTokenRateLimit(ctx context.Context, userID string, amount int) (*model.RateLimitResult, error) {
	query := `
		SELECT ok, daily_left, monthly_left, daily_cap, monthly_cap, resets_at, COALESCE(message, '')
		FROM check_token_rate_limit($1, $2)
	`

	res := &model.RateLimitResult{TokensNeeded: amount}
	err := r.pool.QueryRow(ctx, query, userID, amount).Scan(
		&res.Allowed,
		&res.DailyRemaining,
		&res.MonthlyRemaining,
		&res.DailyLimit,
		&res.MonthlyLimit,
		&res.ResetTime,
		&res.ErrorMessage,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to check token rate limit: %w", err)
	}
	return res, nil
}

// DeductInput carries the arguments of deduct_user_tokens.
type DeductInput struct {
	UserID    string
	Feature   string
	Amount    int
	Context   map[string]any
	ClientIP  string
	UserAgent string
}

// DeductUserTokens charges tokens atomically. A repeated idempotency key
// returns the original transaction id with Replayed set and charges nothing,
// unless that transaction has since been refunded.
func (r *Repository) DeductUserTokens(ctx context.Context, in DeductInput) (*model.TransactionResult, error) {
	ctxJSON, err := marshalContext(in.Context)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT ok, COALESCE(tx_id::text, ''), COALESCE(message, ''), replayed
		FROM deduct_user_tokens($1, $2, $3, $4, $5, $6)
	`

	var res model.TransactionResult
	err = r.pool.QueryRow(ctx, query,
		in.UserID,
		in.Feature,
		in.Amount,
		ctxJSON,
		nullableString(in.ClientIP),
		nullableString(in.UserAgent),
	).Scan(&res.Success, &res.TransactionID, &res.Error, &res.Replayed)
	if err != nil {
		return nil, fmt.Errorf("failed to deduct tokens: %w", err)
	}
	return &res, nil
}

// RefundUserTokens returns tokens to a user, clamping usage at zero. An
// original_transaction in opCtx is marked refunded and caps the credit at
// what it charged; refunding it twice fails.
func (r *Repository) RefundUserTokens(ctx context.Context, userID, feature string, amount int, opCtx map[string]any) (*model.TransactionResult, error) {
	ctxJSON, err := marshalContext(opCtx)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT ok, COALESCE(tx_id::text, ''), COALESCE(message, ''), amount
		FROM refund_user_tokens($1, $2, $3, $4)
	`

	var res model.TransactionResult
	err = r.pool.QueryRow(ctx, query, userID, feature, amount, ctxJSON).
		Scan(&res.Success, &res.TransactionID, &res.Error, &res.Tokens)
	if err != nil {
		return nil, fmt.Errorf("failed to refund tokens: %w", err)
	}
	return &res, nil
}

// InitializeUserTokens creates the balance row if it does not exist.
func (r *Repository) InitializeUserTokens(ctx context.Context, userID string, daily, monthly int) error {
	if _, err := r.pool.Exec(ctx, `SELECT initialize_user_tokens($1, $2, $3)`, userID, daily, monthly); err != nil {
		return fmt.Errorf("failed to initialize user tokens: %w", err)
	}
	return nil
}

// GetUserTokens returns the balance row after applying pending resets.
func (r *Repository) GetUserTokens(ctx context.Context, userID string) (*model.UserTokens, error) {
	if _, err := r.pool.Exec(ctx, `SELECT apply_token_resets($1)`, userID); err != nil {
		return nil, fmt.Errorf("failed to apply token resets: %w", err)
	}

	query := `
		SELECT user_id::text, daily_tokens_used, monthly_tokens_used, daily_limit, monthly_limit,
			last_daily_reset, last_monthly_reset
		FROM user_tokens
		WHERE user_id = $1
	`

	var t model.UserTokens
	err := r.pool.QueryRow(ctx, query, userID).Scan(
		&t.UserID,
		&t.DailyTokensUsed,
		&t.MonthlyTokensUsed,
		&t.DailyLimit,
		&t.MonthlyLimit,
		&t.LastDailyReset,
		&t.LastMonthlyReset,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNoTokenRecord
		}
		return nil, fmt.Errorf("failed to get user tokens: %w", err)
	}
	return &t, nil
}

// SyncTokenLimits updates limits to match the current plan.
func (r *Repository) SyncTokenLimits(ctx context.Context, userID string, daily, monthly int) error {
	query := `
		UPDATE user_tokens
		SET daily_limit = $2, monthly_limit = $3, updated_at = now()
		WHERE user_id = $1 AND (daily_limit <> $2 OR monthly_limit <> $3)
	`
	if _, err := r.pool.Exec(ctx, query, userID, daily, monthly); err != nil {
		return fmt.Errorf("failed to sync token limits: %w", err)
	}
	return nil
}

// ResetUserUsage zeroes token counters and feature usage for a user.
func (r *Repository) ResetUserUsage(ctx context.Context, userID string) error {
	if _, err := r.pool.Exec(ctx, `SELECT reset_user_usage($1)`, userID); err != nil {
		return fmt.Errorf("failed to reset user usage: %w", err)
	}
	return nil
}

// ResetDailyTokens zeroes every daily counter and returns the rows touched.
func (r *Repository) ResetDailyTokens(ctx context.Context) (int64, error) {
	query := `
		UPDATE user_tokens
		SET daily_tokens_used = 0, last_daily_reset = (now() AT TIME ZONE 'utc')::date, updated_at = now()
		WHERE daily_tokens_used > 0
	`
	tag, err := r.pool.Exec(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("failed to reset daily tokens: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ListFeatureCosts returns active catalog entries ordered by name.
func (r *Repository) ListFeatureCosts(ctx context.Context) ([]*model.FeatureCost, error) {
	query := `
		SELECT feature_name, base_cost, description, cost_multipliers, is_active
		FROM token_feature_costs
		WHERE is_active
		ORDER BY feature_name
	`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list feature costs: %w", err)
	}
	defer rows.Close()

	var costs []*model.FeatureCost
	for rows.Next() {
		f, err := scanFeatureCost(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan feature cost: %w", err)
		}
		costs = append(costs, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating feature costs: %w", err)
	}
	return costs, nil
}

// GetFeatureCost returns one active catalog entry.
func (r *Repository) GetFeatureCost(ctx context.Context, feature string) (*model.FeatureCost, error) {
	query := `
		SELECT feature_name, base_cost, description, cost_multipliers, is_active
		FROM token_feature_costs
		WHERE feature_name = $1 AND is_active
	`

	f, err := scanFeatureCost(r.pool.QueryRow(ctx, query, feature))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrFeatureNotFound
		}
		return nil, fmt.Errorf("failed to get feature cost: %w", err)
	}
	return f, nil
}

// UpsertFeatureCost creates or replaces a catalog entry.
func (r *Repository) UpsertFeatureCost(ctx context.Context, f *model.FeatureCost) error {
	multipliers := f.CostMultipliers
	if multipliers == nil {
		multipliers = map[string]float64{}
	}
	raw, err := json.Marshal(multipliers)
	if err != nil {
		return fmt.Errorf("failed to marshal multipliers: %w", err)
	}

	query := `
		INSERT INTO token_feature_costs (feature_name, base_cost, description, cost_multipliers, is_active, updated_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (feature_name) DO UPDATE SET
			base_cost        = EXCLUDED.base_cost,
			description      = EXCLUDED.description,
			cost_multipliers = EXCLUDED.cost_multipliers,
			is_active        = EXCLUDED.is_active,
			updated_at       = now()
	`
	if _, err := r.pool.Exec(ctx, query, f.FeatureName, f.BaseCost, f.Description, raw, f.IsActive); err != nil {
		return fmt.Errorf("failed to upsert feature cost: %w", err)
	}
	return nil
}

// ListTransactions returns a page of the ledger, newest first.
func (r *Repository) ListTransactions(ctx context.Context, userID string, limit, offset int) ([]*model.Transaction, error) {
	query := `
		SELECT id::text, operation_type, tokens_amount, feature_name, operation_context, success,
			COALESCE(error_message, ''), created_at
		FROM token_transactions
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`
	return r.queryTransactions(ctx, query, userID, limit, offset)
}

// ListSuccessfulDeducts returns successful deducts since a time, oldest first.
func (r *Repository) ListSuccessfulDeducts(ctx context.Context, userID string, since time.Time) ([]*model.Transaction, error) {
	query := `
		SELECT id::text, operation_type, tokens_amount, feature_name, operation_context, success,
			COALESCE(error_message, ''), created_at
		FROM token_transactions
		WHERE user_id = $1 AND operation_type = 'deduct' AND success AND created_at >= $2
		ORDER BY created_at ASC
	`
	return r.queryTransactions(ctx, query, userID, since)
}

// ListDeductsBetween returns successful deducts in [from, to), oldest first.
func (r *Repository) ListDeductsBetween(ctx context.Context, userID string, from, to time.Time) ([]*model.Transaction, error) {
	query := `
		SELECT id::text, operation_type, tokens_amount, feature_name, operation_context, success,
			COALESCE(error_message, ''), created_at
		FROM token_transactions
		WHERE user_id = $1 AND operation_type = 'deduct' AND success
			AND created_at >= $2 AND created_at < $3
		ORDER BY created_at ASC
	`
	return r.queryTransactions(ctx, query, userID, from, to)
}

func (r *Repository) queryTransactions(ctx context.Context, query string, args ...any) ([]*model.Transaction, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	txs := []*model.Transaction{}
	for rows.Next() {
		var t model.Transaction
		var raw []byte
		if err := rows.Scan(
			&t.ID,
			&t.OperationType,
			&t.TokensAmount,
			&t.FeatureName,
			&raw,
			&t.Success,
			&t.ErrorMessage,
			&t.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		t.OperationContext = map[string]any{}
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &t.OperationContext); err != nil {
				return nil, fmt.Errorf("failed to decode operation context: %w", err)
			}
		}
		txs = append(txs, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transactions: %w", err)
	}
	return txs, nil
}

func scanFeatureCost(row pgx.Row) (*model.FeatureCost, error) {
	var f model.FeatureCost
	var raw []byte
	if err := row.Scan(&f.FeatureName, &f.BaseCost, &f.Description, &raw, &f.IsActive); err != nil {
		return nil, err
	}
	f.CostMultipliers = map[string]float64{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &f.CostMultipliers); err != nil {
			return nil, fmt.Errorf("failed to decode multipliers: %w", err)
		}
	}
	return &f, nil
}

func marshalContext(ctx map[string]any) ([]byte, error) {
	if ctx == nil {
		ctx = map[string]any{}
	}
	raw, err := json.Marshal(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal operation context: %w", err)
	}
	return raw, nil
}
