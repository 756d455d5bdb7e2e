//go:build integration

package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/thesisflow/thesisflow/internal/auth"
	"github.com/thesisflow/thesisflow/internal/cache"
	"github.com/thesisflow/thesisflow/internal/model"
	"github.com/thesisflow/thesisflow/internal/repository"
	"github.com/thesisflow/thesisflow/internal/testutil"
)

func TestIntegrationAPIKeyAuth(t *testing.T) {
	ctx, pool := testutil.SetupDB(t)
	repo := repository.NewFromPool(pool)
	c := cache.NewFromClient(testutil.SetupRedis(t))

	userID := testutil.CreateTestUser(t, ctx, pool, testutil.UniqueEmail("apikey"))
	gen, err := auth.GenerateAPIKey(auth.EnvTest)
	if err != nil {
		t.Fatalf("GenerateAPIKey: %v", err)
	}
	key := testutil.NewTestAPIKey(t, userID)
	key.KeyHash = gen.Hash
	key.KeyPrefix = gen.Prefix
	key.Scopes = []string{model.ScopeRead}
	if err := repo.CreateAPIKey(ctx, key); err != nil {
		t.Fatalf("CreateAPIKey: %v", err)
	}

	mw := Auth(AuthConfig{Logger: discardLogger(), Repository: repo, Cache: c})
	var got *model.AuthContext
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = auth.AuthFromContext(r.Context())
	}))

	call := func(credential string) int {
		req := httptest.NewRequest(http.MethodGet, "/api/user/tokens", nil)
		req.Header.Set("X-API-Key", credential)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	if code := call(gen.Plaintext); code != http.StatusOK {
		t.Fatalf("valid key status = %d", code)
	}
	if got.UserID != userID || got.Method != model.AuthMethodAPIKey || got.HasScope(model.ScopeWrite) {
		t.Errorf("auth context = %+v", got)
	}

	cached, err := c.GetAuthContext(ctx, auth.QuickHash(gen.Plaintext))
	if err != nil || cached == nil || cached.KeyID != key.ID {
		t.Errorf("auth context not cached: %+v %v", cached, err)
	}

	wrongSecret := gen.Prefix + "_" + "00000000000000000000000000000000"
	if code := call(wrongSecret); code != http.StatusUnauthorized {
		t.Errorf("wrong secret status = %d", code)
	}

	// last_used_at is written asynchronously.
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		stored, err := repo.GetAPIKeyByID(ctx, key.ID)
		if err == nil && stored.LastUsedAt != nil {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Error("last_used_at was not updated")
}

func TestIntegrationRevokedAPIKey(t *testing.T) {
	ctx, pool := testutil.SetupDB(t)
	repo := repository.NewFromPool(pool)

	userID := testutil.CreateTestUser(t, ctx, pool, testutil.UniqueEmail("revoked"))
	gen, err := auth.GenerateAPIKey(auth.EnvLive)
	if err != nil {
		t.Fatalf("GenerateAPIKey: %v", err)
	}
	key := testutil.NewTestAPIKey(t, userID)
	key.KeyHash = gen.Hash
	key.KeyPrefix = gen.Prefix
	if err := repo.CreateAPIKey(ctx, key); err != nil {
		t.Fatalf("CreateAPIKey: %v", err)
	}
	if err := repo.RevokeAPIKey(ctx, userID, key.ID); err != nil {
		t.Fatalf("RevokeAPIKey: %v", err)
	}

	handler := Auth(AuthConfig{Logger: discardLogger(), Repository: repo})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("revoked key reached the handler")
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+gen.Plaintext)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d", rec.Code)
	}
}
