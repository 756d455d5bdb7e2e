package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"

	"github.com/thesisflow/thesisflow/internal/model"
)

// ErrAPIKeyNotFound is returned for missing, foreign or already revoked keys.
var ErrAPIKeyNotFound = errors.New("API key not found")

const apiKeyColumns = `id, user_id::text, key_hash, key_prefix, scopes, rate_limit_tier,
		COALESCE(name, ''), revoked_at, last_used_at, created_at`

const insertAPIKey = `
	INSERT INTO api_keys (id, user_id, key_hash, key_prefix, scopes, rate_limit_tier, name, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

// execer is satisfied by both the pool and a transaction.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// CreateAPIKey stores a new key. Only the hash is persisted.
func (r *Repository) CreateAPIKey(ctx context.Context, key *model.APIKey) error {
	if _, err := r.pool.Exec(ctx, insertAPIKey, apiKeyArgs(key)...); err != nil {
		return fmt.Errorf("create api key: %w", err)
	}
	return nil
}

// GetAPIKeyByID retrieves a key by id, revoked or not.
func (r *Repository) GetAPIKeyByID(ctx context.Context, id string) (*model.APIKey, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+apiKeyColumns+` FROM api_keys WHERE id = $1`, id)
	key, err := scanAPIKey(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrAPIKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get api key: %w", err)
	}
	return key, nil
}

// GetAPIKeysByPrefix returns the active keys sharing a lookup prefix.
// Prefixes are short, so callers must verify the hash of each candidate.
func (r *Repository) GetAPIKeysByPrefix(ctx context.Context, prefix string) ([]*model.APIKey, error) {
	keys, err := r.queryAPIKeys(ctx,
		`SELECT `+apiKeyColumns+` FROM api_keys WHERE key_prefix = $1 AND revoked_at IS NULL`, prefix)
	if err != nil {
		return nil, fmt.Errorf("get api keys by prefix: %w", err)
	}
	return keys, nil
}

// ListAPIKeysByUserID returns a user's keys, newest first, including
// revoked ones so the dashboard can show their history.
func (r *Repository) ListAPIKeysByUserID(ctx context.Context, userID string) ([]*model.APIKey, error) {
	keys, err := r.queryAPIKeys(ctx,
		`SELECT `+apiKeyColumns+` FROM api_keys WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	return keys, nil
}

// RevokeAPIKey marks a user's active key revoked.
func (r *Repository) RevokeAPIKey(ctx context.Context, userID, id string) error {
	_, err := revokeAPIKey(ctx, r.pool, userID, id)
	return err
}

// RotateAPIKey revokes oldID and stores replacement in one transaction, so
// a failed rotation leaves the old key usable and no orphan key behind.
func (r *Repository) RotateAPIKey(ctx context.Context, userID, oldID string, replacement *model.APIKey) (time.Time, error) {
	var revokedAt time.Time
	err := r.withTx(ctx, func(tx pgx.Tx) error {
		var err error
		if revokedAt, err = revokeAPIKey(ctx, tx, userID, oldID); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, insertAPIKey, apiKeyArgs(replacement)...); err != nil {
			return fmt.Errorf("insert replacement key: %w", err)
		}
		return nil
	})
	return revokedAt, err
}

// MarkAPIKeyUsed stamps last_used_at and, when rehash is non-empty,
// replaces the stored hash with one made under current parameters.
func (r *Repository) MarkAPIKeyUsed(ctx context.Context, id, rehash string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE api_keys
		SET last_used_at = now(),
		    key_hash = COALESCE(NULLIF($2, ''), key_hash)
		WHERE id = $1`, id, rehash)
	if err != nil {
		return fmt.Errorf("mark api key used: %w", err)
	}
	return nil
}

func revokeAPIKey(ctx context.Context, db execer, userID, id string) (time.Time, error) {
	now := time.Now().UTC()
	tag, err := db.Exec(ctx, `
		UPDATE api_keys SET revoked_at = $3
		WHERE id = $1 AND user_id = $2 AND revoked_at IS NULL`, id, userID, now)
	if err != nil {
		return time.Time{}, fmt.Errorf("revoke api key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return time.Time{}, ErrAPIKeyNotFound
	}
	return now, nil
}

func (r *Repository) queryAPIKeys(ctx context.Context, sql string, args ...any) ([]*model.APIKey, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (*model.APIKey, error) {
		return scanAPIKey(row)
	})
}

func apiKeyArgs(key *model.APIKey) []any {
	return []any{
		key.ID,
		key.UserID,
		key.KeyHash,
		key.KeyPrefix,
		pq.Array(key.Scopes),
		key.RateLimitTier,
		nullableString(key.Name),
		key.CreatedAt,
	}
}

func scanAPIKey(row pgx.Row) (*model.APIKey, error) {
	var key model.APIKey
	var scopes []string
	if err := row.Scan(
		&key.ID,
		&key.UserID,
		&key.KeyHash,
		&key.KeyPrefix,
		pq.Array(&scopes),
		&key.RateLimitTier,
		&key.Name,
		&key.RevokedAt,
		&key.LastUsedAt,
		&key.CreatedAt,
	); err != nil {
		return nil, err
	}
	key.Scopes = scopes
	return &key, nil
}
