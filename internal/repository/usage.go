package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/thesisflow/thesisflow/internal/model"
)

// Common errors for plan usage operations.
var (
	ErrUsageFeatureUnknown = errors.New("feature not in plan")
	ErrUsageLimitReached   = errors.New("usage limit exceeded")
)

// UsageSummary returns every plan feature counter for the user.
func (r *Repository) UsageSummary(ctx context.Context, userID string) ([]model.UsageSummaryRow, error) {
	rows, err := r.pool.Query(ctx, `SELECT feature, used, cap, unlimited, left_count FROM get_user_usage_summary($1)`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get usage summary: %w", err)
	}
	defer rows.Close()

	var out []model.UsageSummaryRow
	for rows.Next() {
		var s model.UsageSummaryRow
		if err := rows.Scan(&s.Feature, &s.Used, &s.Limit, &s.IsUnlimited, &s.Remaining); err != nil {
			return nil, fmt.Errorf("failed to scan usage summary: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating usage summary: %w", err)
	}
	return out, nil
}

// IncrementUsage bumps a plan feature counter if the plan allows it.
// ErrUsageLimitReached comes back with the current row so callers can
// report usage and limit.
func (r *Repository) IncrementUsage(ctx context.Context, userID, feature string) (*model.UsageSummaryRow, error) {
	var row model.UsageSummaryRow

	err := r.withTx(ctx, func(tx pgx.Tx) error {
		// Serialize concurrent increments for the same counter.
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1::text || ':' || $2))`, userID, feature); err != nil {
			return fmt.Errorf("failed to lock usage counter: %w", err)
		}

		err := tx.QueryRow(ctx,
			`SELECT feature, used, cap, unlimited, left_count FROM get_user_usage_summary($1) WHERE feature = $2`,
			userID, feature,
		).Scan(&row.Feature, &row.Used, &row.Limit, &row.IsUnlimited, &row.Remaining)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrUsageFeatureUnknown
			}
			return fmt.Errorf("failed to read usage: %w", err)
		}

		if !row.IsUnlimited && row.Used >= row.Limit {
			return ErrUsageLimitReached
		}

		err = tx.QueryRow(ctx, `
			INSERT INTO user_usage (user_id, feature_name, usage_count, updated_at)
			VALUES ($1, $2, 1, now())
			ON CONFLICT (user_id, feature_name) DO UPDATE
			SET usage_count = user_usage.usage_count + 1, updated_at = now()
			RETURNING usage_count
		`, userID, feature).Scan(&row.Used)
		if err != nil {
			return fmt.Errorf("failed to increment usage: %w", err)
		}

		if row.IsUnlimited {
			row.Remaining = -1
		} else {
			row.Remaining = max(0, row.Limit-row.Used)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrUsageLimitReached) {
			return &row, err
		}
		return nil, err
	}
	return &row, nil
}

// ApplyUsageEvent folds one deduct into usage_daily. It returns false when
// the transaction was already applied.
func (r *Repository) ApplyUsageEvent(ctx context.Context, e *model.UsageEvent) (bool, error) {
	applied := false
	err := r.withTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`INSERT INTO usage_rollup_applied (transaction_id) VALUES ($1) ON CONFLICT DO NOTHING`,
			e.TransactionID,
		)
		if err != nil {
			return fmt.Errorf("failed to mark rollup: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return nil
		}

		d := e.Dimensions()
		errCount := 0
		if e.Failed {
			errCount = 1
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO usage_daily (user_id, day, service, provider, model, feature, origin, quality,
				per_result_bucket, tokens, requests, errors, cost, latency_ms_total, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 1, $11, $12, $13, now())
			ON CONFLICT (user_id, day, service, provider, model, feature, origin, quality, per_result_bucket)
			DO UPDATE SET
				tokens           = usage_daily.tokens + EXCLUDED.tokens,
				requests         = usage_daily.requests + 1,
				errors           = usage_daily.errors + EXCLUDED.errors,
				cost             = usage_daily.cost + EXCLUDED.cost,
				latency_ms_total = usage_daily.latency_ms_total + EXCLUDED.latency_ms_total,
				updated_at       = now()
		`,
			e.UserID,
			e.OccurredAt.UTC().Format(time.DateOnly),
			d.Service, d.Provider, d.Model, d.Feature, d.Origin, d.Quality, d.PerResultBucket,
			e.Tokens, errCount, e.Cost, e.LatencyMS,
		)
		if err != nil {
			return fmt.Errorf("failed to upsert usage_daily: %w", err)
		}
		applied = true
		return nil
	})
	return applied, err
}

// UsageDailyRow is one usage_daily record.
type UsageDailyRow struct {
	Day            time.Time
	Dims           model.UsageDimensions
	Tokens         int64
	Requests       int64
	Errors         int64
	Cost           float64
	LatencyMSTotal int64
}

// ListUsageDaily returns rollup rows for days in [from, to].
func (r *Repository) ListUsageDaily(ctx context.Context, userID string, from, to time.Time) ([]UsageDailyRow, error) {
	query := `
		SELECT day, service, provider, model, feature, origin, quality, per_result_bucket,
			tokens, requests, errors, cost::float8, latency_ms_total
		FROM usage_daily
		WHERE user_id = $1 AND day BETWEEN $2::date AND $3::date
		ORDER BY day
	`

	rows, err := r.pool.Query(ctx, query, userID, from.Format(time.DateOnly), to.Format(time.DateOnly))
	if err != nil {
		return nil, fmt.Errorf("failed to list usage_daily: %w", err)
	}
	defer rows.Close()

	var out []UsageDailyRow
	for rows.Next() {
		var u UsageDailyRow
		if err := rows.Scan(
			&u.Day,
			&u.Dims.Service, &u.Dims.Provider, &u.Dims.Model, &u.Dims.Feature,
			&u.Dims.Origin, &u.Dims.Quality, &u.Dims.PerResultBucket,
			&u.Tokens, &u.Requests, &u.Errors, &u.Cost, &u.LatencyMSTotal,
		); err != nil {
			return nil, fmt.Errorf("failed to scan usage_daily: %w", err)
		}
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating usage_daily: %w", err)
	}
	return out, nil
}
