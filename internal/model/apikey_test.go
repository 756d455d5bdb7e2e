package model

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestScopeGrants(t *testing.T) {
	tests := []struct {
		held  []string
		check string
		want  bool
	}{
		{[]string{ScopeRead, ScopeWrite}, ScopeRead, true},
		{[]string{ScopeRead}, ScopeWrite, false},
		{[]string{ScopeWrite}, ScopeAdmin, false},
		{[]string{ScopeAdmin}, ScopeRead, true},
		{[]string{ScopeAdmin}, ScopeWrite, true},
		{nil, ScopeRead, false},
		{[]string{"Read"}, ScopeRead, false},
	}
	for _, tt := range tests {
		name := strings.Join(tt.held, "+") + "/" + tt.check
		t.Run(name, func(t *testing.T) {
			if got := (&APIKey{Scopes: tt.held}).HasScope(tt.check); got != tt.want {
				t.Errorf("APIKey.HasScope = %v, want %v", got, tt.want)
			}
			if got := (&AuthContext{Scopes: tt.held}).HasScope(tt.check); got != tt.want {
				t.Errorf("AuthContext.HasScope = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestLimitForTier(t *testing.T) {
	tests := map[string]TierLimit{
		TierFree:      {PerMinute: 60, Burst: 10},
		TierPro:       {PerMinute: 600, Burst: 50},
		TierUnlimited: {},
		"enterprise":  {PerMinute: 60, Burst: 10},
		"":            {PerMinute: 60, Burst: 10},
	}
	for tier, want := range tests {
		if got := LimitForTier(tier); got != want {
			t.Errorf("LimitForTier(%q) = %+v, want %+v", tier, got, want)
		}
	}
	if IsTier("enterprise") || !IsTier(TierUnlimited) {
		t.Error("IsTier must only accept the known tiers")
	}
}

func TestAPIKey_ToResponseHidesHash(t *testing.T) {
	revoked := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	key := &APIKey{
		ID:            "01HX",
		UserID:        "u1",
		KeyHash:       "$argon2id$v=19$m=65536,t=3,p=4$c2FsdA$aGFzaA",
		KeyPrefix:     "tf_live_abc123",
		Scopes:        []string{ScopeRead},
		RateLimitTier: TierPro,
		RevokedAt:     &revoked,
	}

	resp := key.ToResponse()
	if !resp.Revoked || resp.KeyPrefix != key.KeyPrefix || resp.RateLimitTier != TierPro {
		t.Errorf("response = %+v", resp)
	}

	for _, v := range []any{key, resp} {
		raw, err := json.Marshal(v)
		if err != nil {
			t.Fatal(err)
		}
		if strings.Contains(string(raw), "argon2id") {
			t.Errorf("%T serializes the hash: %s", v, raw)
		}
	}
}

func TestAuthContext_ThrottleKey(t *testing.T) {
	if got := (&AuthContext{KeyID: "k1", UserID: "u1"}).ThrottleKey(); got != "key:k1" {
		t.Errorf("ThrottleKey() = %q, want key:k1", got)
	}
	if got := (&AuthContext{UserID: "u1"}).ThrottleKey(); got != "user:u1" {
		t.Errorf("ThrottleKey() = %q, want user:u1", got)
	}
}

func TestNormalizePlan(t *testing.T) {
	for in, want := range map[string]string{"pro": PlanPro, "free": PlanFree, "": PlanFree, "team": PlanFree} {
		if got := NormalizePlan(in); got != want {
			t.Errorf("NormalizePlan(%q) = %q, want %q", in, got, want)
		}
	}
}
