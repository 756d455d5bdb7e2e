// Package testutil holds helpers shared by integration tests.
package testutil

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"

	"github.com/thesisflow/thesisflow/internal/migrate"
	"github.com/thesisflow/thesisflow/internal/model"
)

// RequireEnv returns an environment variable or skips the test if missing.
func RequireEnv(t testing.TB, key string) string {
	t.Helper()
	value := os.Getenv(key)
	if value == "" {
		t.Skipf("%s not set", key)
	}
	return value
}

// dbTestLock serializes packages that reset the shared test database.
const dbTestLock int64 = 0x7466_7465_7374

// AcquireDBLock takes the session advisory lock for one test.
func AcquireDBLock(ctx context.Context, pool *pgxpool.Pool) (func() error, error) {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}

	if _, err := conn.Exec(ctx, "SELECT pg_advisory_lock($1)", dbTestLock); err != nil {
		conn.Release()
		return nil, fmt.Errorf("acquire advisory lock: %w", err)
	}

	unlock := func() error {
		defer conn.Release()
		if _, err := conn.Exec(ctx, "SELECT pg_advisory_unlock($1)", dbTestLock); err != nil {
			return fmt.Errorf("release advisory lock: %w", err)
		}
		return nil
	}

	return unlock, nil
}

// MigrationsDir returns the repository migrations directory.
func MigrationsDir() (string, error) {
	root, err := ProjectRoot()
	if err != nil {
		return "", err
	}
	return filepath.Join(root, "migrations"), nil
}

// ResetSchema runs every down migration and then every up migration.
func ResetSchema(ctx context.Context, pool *pgxpool.Pool) error {
	dir, err := MigrationsDir()
	if err != nil {
		return err
	}
	if _, err := migrate.Run(ctx, pool, dir, migrate.Down); err != nil {
		return fmt.Errorf("reset down: %w", err)
	}
	if _, err := migrate.Run(ctx, pool, dir, migrate.Up); err != nil {
		return fmt.Errorf("reset up: %w", err)
	}
	return nil
}

// SetupDB connects, serializes and resets the schema for one test.
func SetupDB(t testing.TB) (context.Context, *pgxpool.Pool) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration tests in short mode")
	}

	ctx := context.Background()
	dbURL := RequireEnv(t, "DATABASE_URL")

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		t.Fatalf("connect db: %v", err)
	}
	t.Cleanup(pool.Close)

	unlock, err := AcquireDBLock(ctx, pool)
	if err != nil {
		t.Fatalf("acquire db lock: %v", err)
	}
	t.Cleanup(func() {
		_ = unlock()
	})

	if err := ResetSchema(ctx, pool); err != nil {
		t.Fatalf("reset schema: %v", err)
	}
	return ctx, pool
}

// SetupRedis connects to REDIS_URL and flushes the current database.
func SetupRedis(t testing.TB) *redis.Client {
	t.Helper()
	redisURL := RequireEnv(t, "REDIS_URL")

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		t.Fatalf("parse redis url: %v", err)
	}
	client := redis.NewClient(opts)
	t.Cleanup(func() { _ = client.Close() })

	if err := FlushRedis(context.Background(), client); err != nil {
		t.Fatalf("flush redis: %v", err)
	}
	return client
}

// FlushRedis clears the current Redis database.
func FlushRedis(ctx context.Context, client *redis.Client) error {
	return client.FlushDB(ctx).Err()
}

// ProjectRoot locates the module root from this file's path.
func ProjectRoot() (string, error) {
	_, filename, _, ok := runtime.Caller(0)
	if !ok {
		return "", fmt.Errorf("failed to resolve testutil path")
	}
	root := filepath.Clean(filepath.Join(filepath.Dir(filename), "..", ".."))
	return root, nil
}

// CreateTestUser inserts a user and returns its id.
func CreateTestUser(t testing.TB, ctx context.Context, pool *pgxpool.Pool, email string) string {
	t.Helper()
	var id string
	err := pool.QueryRow(ctx, `INSERT INTO users (email) VALUES ($1) RETURNING id::text`, email).Scan(&id)
	if err != nil {
		t.Fatalf("create test user: %v", err)
	}
	return id
}

// CreateTestUserWithTokens inserts a user with a token balance row.
func CreateTestUserWithTokens(t testing.TB, ctx context.Context, pool *pgxpool.Pool, daily, monthly int) string {
	t.Helper()
	id := CreateTestUser(t, ctx, pool, UniqueEmail("tokens"))
	if _, err := pool.Exec(ctx, `SELECT initialize_user_tokens($1, $2, $3)`, id, daily, monthly); err != nil {
		t.Fatalf("initialize tokens: %v", err)
	}
	return id
}

// NewTestAPIKey returns an unsaved read/write key for userID. Its hash is
// a placeholder and will not verify.
func NewTestAPIKey(t testing.TB, userID string) *model.APIKey {
	t.Helper()
	return &model.APIKey{
		ID:            ulid.Make().String(),
		UserID:        userID,
		KeyHash:       "placeholder-" + ulid.Make().String(),
		KeyPrefix:     "tf_test_abc123",
		Scopes:        []string{model.ScopeRead, model.ScopeWrite},
		RateLimitTier: model.TierFree,
		Name:          "Test Key",
		CreatedAt:     time.Now().UTC().Truncate(time.Microsecond),
	}
}

// UniqueEmail returns an address no other test uses.
func UniqueEmail(prefix string) string {
	return strings.ToLower(prefix + "-" + ulid.Make().String() + "@example.test")
}

// UniqueID returns prefix plus a fresh ulid.
func UniqueID(prefix string) string {
	return prefix + "-" + ulid.Make().String()
}
