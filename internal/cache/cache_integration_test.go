//go:build integration

package cache

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/thesisflow/thesisflow/internal/model"
	"github.com/thesisflow/thesisflow/internal/testutil"
)

func TestAuthContextRoundTrip(t *testing.T) {
	c := NewFromClient(testutil.SetupRedis(t))
	ctx := context.Background()

	want := &model.AuthContext{
		Method:        model.AuthMethodAPIKey,
		KeyID:         "01HX0000000000000000000000",
		KeyPrefix:     "tf_live_a1b2c3",
		UserID:        "5a0f6c1e-3b7d-4a70-9a59-0a4f6f1d2c3b",
		Scopes:        []string{model.ScopeRead},
		RateLimitTier: model.TierPro,
	}
	if err := c.SetAuthContext(ctx, "quick", want); err != nil {
		t.Fatalf("SetAuthContext: %v", err)
	}

	got, err := c.GetAuthContext(ctx, "quick")
	if err != nil {
		t.Fatalf("GetAuthContext: %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("auth context mismatch (-want +got):\n%s", diff)
	}

	if err := c.DeleteAuthContext(ctx, "quick"); err != nil {
		t.Fatalf("DeleteAuthContext: %v", err)
	}
	if got, _ := c.GetAuthContext(ctx, "quick"); got != nil {
		t.Error("expected miss after delete")
	}
}

func TestInvalidateAPIKey(t *testing.T) {
	c := NewFromClient(testutil.SetupRedis(t))
	ctx := context.Background()

	key := &model.AuthContext{Method: model.AuthMethodAPIKey, KeyID: "k1", UserID: "u1", Scopes: []string{model.ScopeRead}}
	other := &model.AuthContext{Method: model.AuthMethodAPIKey, KeyID: "k2", UserID: "u1", Scopes: []string{model.ScopeRead}}
	for name, ac := range map[string]*model.AuthContext{"h1": key, "h2": key, "h3": other} {
		if err := c.SetAuthContext(ctx, name, ac); err != nil {
			t.Fatalf("SetAuthContext(%s): %v", name, err)
		}
	}

	if err := c.InvalidateAPIKey(ctx, "k1"); err != nil {
		t.Fatalf("InvalidateAPIKey: %v", err)
	}
	for _, name := range []string{"h1", "h2"} {
		if got, _ := c.GetAuthContext(ctx, name); got != nil {
			t.Errorf("%s still cached after invalidation", name)
		}
	}
	if got, _ := c.GetAuthContext(ctx, "h3"); got == nil {
		t.Error("other key must stay cached")
	}
	if err := c.InvalidateAPIKey(ctx, "missing"); err != nil {
		t.Errorf("invalidating an unknown key: %v", err)
	}
}

func TestFeatureCostCache(t *testing.T) {
	c := NewFromClient(testutil.SetupRedis(t))
	ctx := context.Background()

	fc := &model.FeatureCost{
		FeatureName:     model.FeatureLiteratureSearch,
		BaseCost:        1,
		CostMultipliers: map[string]float64{"deep_search": 2},
		IsActive:        true,
	}
	if err := c.SetFeatureCost(ctx, fc); err != nil {
		t.Fatalf("SetFeatureCost: %v", err)
	}

	ttl := c.Client().TTL(ctx, featureCostPrefix+fc.FeatureName).Val()
	if ttl <= 0 || ttl > featureCostTTL {
		t.Errorf("unexpected ttl %v", ttl)
	}

	got, err := c.GetFeatureCost(ctx, fc.FeatureName)
	if err != nil {
		t.Fatalf("GetFeatureCost: %v", err)
	}
	if diff := cmp.Diff(fc, got); diff != "" {
		t.Errorf("feature cost mismatch (-want +got):\n%s", diff)
	}

	if err := c.DeleteFeatureCosts(ctx, fc.FeatureName); err != nil {
		t.Fatalf("DeleteFeatureCosts: %v", err)
	}
	if got, _ := c.GetFeatureCost(ctx, fc.FeatureName); got != nil {
		t.Error("expected miss after delete")
	}
}

func TestLiteratureCache(t *testing.T) {
	c := NewFromClient(testutil.SetupRedis(t))
	ctx := context.Background()

	res := &model.SearchResult{
		Success: true,
		Papers:  []model.Paper{{ID: "W1", Title: "A", Authors: []string{"X"}, Source: "openalex"}},
		Source:  "combined",
		Count:   1,
	}
	if err := c.SetLiterature(ctx, "Deep Learning", 10, res, time.Hour); err != nil {
		t.Fatalf("SetLiterature: %v", err)
	}

	got, err := c.GetLiterature(ctx, "deep learning ", 10)
	if err != nil {
		t.Fatalf("GetLiterature: %v", err)
	}
	if diff := cmp.Diff(res, got); diff != "" {
		t.Errorf("search result mismatch (-want +got):\n%s", diff)
	}

	if got, _ := c.GetLiterature(ctx, "deep learning", 20); got != nil {
		t.Error("different limit must miss")
	}
}

func TestHitHourlyWindow(t *testing.T) {
	c := NewFromClient(testutil.SetupRedis(t))
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		res := c.HitHourlyWindow(ctx, "literature", "ip:198.51.100.4", 3)
		if !res.Allowed {
			t.Fatalf("hit %d should be allowed", i)
		}
		if res.Remaining != int64(3-i) {
			t.Errorf("hit %d remaining = %d", i, res.Remaining)
		}
	}

	res := c.HitHourlyWindow(ctx, "literature", "ip:198.51.100.4", 3)
	if res.Allowed {
		t.Fatal("fourth hit should be rejected")
	}
	if res.Remaining != 0 || res.Count != 4 {
		t.Errorf("unexpected result %+v", res)
	}
	if !res.ResetAt.After(time.Now()) {
		t.Errorf("reset %v should be in the future", res.ResetAt)
	}

	other := c.HitHourlyWindow(ctx, "literature", "5a0f6c1e-3b7d-4a70-9a59-0a4f6f1d2c3b", 3)
	if !other.Allowed || other.Count != 1 {
		t.Errorf("subjects must not share a window: %+v", other)
	}
}

func TestTakeToken(t *testing.T) {
	c := NewFromClient(testutil.SetupRedis(t))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		res, err := c.TakeToken(ctx, "key-1", 60, 2)
		if err != nil {
			t.Fatalf("TakeToken: %v", err)
		}
		if !res.Allowed {
			t.Fatalf("request %d should be allowed", i)
		}
	}

	res, err := c.TakeToken(ctx, "key-1", 60, 2)
	if err != nil {
		t.Fatalf("TakeToken: %v", err)
	}
	if res.Allowed || res.RetryAfter <= 0 {
		t.Errorf("burst exhausted, got %+v", res)
	}

	unlimited, _ := c.TakeToken(ctx, "key-2", 0, 0)
	if !unlimited.Allowed {
		t.Error("unlimited tier must always pass")
	}
}
