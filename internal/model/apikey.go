// Package model defines domain entities for the application.
package model

import (
	"slices"
	"time"
)

// Scopes granted to API keys. Bearer token users hold read and write.
const (
	ScopeRead  = "read"
	ScopeWrite = "write"
	ScopeAdmin = "admin"
)

// ValidScopes lists the scopes a key may be minted with.
var ValidScopes = []string{ScopeRead, ScopeWrite, ScopeAdmin}

// Rate limit tiers. Keys minted by the dashboard inherit the caller's
// tier; bearer token users are always free.
const (
	TierFree      = "free"
	TierPro       = "pro"
	TierUnlimited = "unlimited"
)

// TierLimit is a tier's request throttle. A zero PerMinute disables it.
// Token metering is separate and lives in the token service.
type TierLimit struct {
	PerMinute int
	Burst     int
}

var tierLimits = map[string]TierLimit{
	TierFree:      {PerMinute: 60, Burst: 10},
	TierPro:       {PerMinute: 600, Burst: 50},
	TierUnlimited: {},
}

// IsTier reports whether tier names a known rate limit tier.
func IsTier(tier string) bool {
	_, ok := tierLimits[tier]
	return ok
}

// LimitForTier returns the throttle of tier. Unknown tiers get free limits.
func LimitForTier(tier string) TierLimit {
	if l, ok := tierLimits[tier]; ok {
		return l
	}
	return tierLimits[TierFree]
}

// APIKey is a developer key owned by a user. Only its argon2id hash is
// stored; the plaintext is shown once at creation.
type APIKey struct {
	ID            string     `json:"id"`
	UserID        string     `json:"user_id"`
	KeyHash       string     `json:"-"`
	KeyPrefix     string     `json:"key_prefix"`
	Scopes        []string   `json:"scopes"`
	RateLimitTier string     `json:"rate_limit_tier"`
	Name          string     `json:"name,omitempty"`
	RevokedAt     *time.Time `json:"revoked_at,omitempty"`
	LastUsedAt    *time.Time `json:"last_used_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// IsRevoked reports whether the key was revoked or rotated out.
func (k *APIKey) IsRevoked() bool {
	return k.RevokedAt != nil
}

// HasScope reports whether the key grants scope.
func (k *APIKey) HasScope(scope string) bool {
	return grants(k.Scopes, scope)
}

// grants treats admin as a superset of every other scope.
func grants(held []string, scope string) bool {
	return slices.Contains(held, ScopeAdmin) || slices.Contains(held, scope)
}

// Authentication methods recorded on the auth context.
const (
	AuthMethodJWT    = "jwt"
	AuthMethodAPIKey = "api_key"
)

// AuthContext is the authenticated caller, placed on the request context
// by the auth middleware. KeyID and KeyPrefix are empty for bearer tokens.
type AuthContext struct {
	Method        string
	KeyID         string
	KeyPrefix     string
	UserID        string
	Email         string
	Scopes        []string
	RateLimitTier string
}

// HasScope reports whether the caller holds scope.
func (a *AuthContext) HasScope(scope string) bool {
	return grants(a.Scopes, scope)
}

// ThrottleKey identifies the caller for request throttling.
func (a *AuthContext) ThrottleKey() string {
	if a.KeyID != "" {
		return "key:" + a.KeyID
	}
	return "user:" + a.UserID
}

// APIKeyCreateRequest is the body of POST /api/keys.
type APIKeyCreateRequest struct {
	Name        string   `json:"name,omitempty"`
	Environment string   `json:"environment,omitempty"`
	Scopes      []string `json:"scopes"`
}

// APIKeyResponse lists a key without its secret.
type APIKeyResponse struct {
	ID            string     `json:"id"`
	Name          string     `json:"name,omitempty"`
	KeyPrefix     string     `json:"key_prefix"`
	Scopes        []string   `json:"scopes"`
	RateLimitTier string     `json:"rate_limit_tier"`
	CreatedAt     time.Time  `json:"created_at"`
	LastUsedAt    *time.Time `json:"last_used_at,omitempty"`
	Revoked       bool       `json:"revoked"`
}

// ToResponse strips the hash for listing.
func (k *APIKey) ToResponse() APIKeyResponse {
	return APIKeyResponse{
		ID:            k.ID,
		Name:          k.Name,
		KeyPrefix:     k.KeyPrefix,
		Scopes:        k.Scopes,
		RateLimitTier: k.RateLimitTier,
		CreatedAt:     k.CreatedAt,
		LastUsedAt:    k.LastUsedAt,
		Revoked:       k.IsRevoked(),
	}
}

// APIKeyCreateResponse carries the plaintext key. It is never returned again.
type APIKeyCreateResponse struct {
	ID            string    `json:"id"`
	Key           string    `json:"key"`
	Name          string    `json:"name,omitempty"`
	KeyPrefix     string    `json:"key_prefix"`
	Scopes        []string  `json:"scopes"`
	RateLimitTier string    `json:"rate_limit_tier"`
	CreatedAt     time.Time `json:"created_at"`
}

// APIKeyRotateResponse reports the revoked key and its replacement.
type APIKeyRotateResponse struct {
	OldKeyID        string               `json:"old_key_id"`
	OldKeyRevokedAt time.Time            `json:"old_key_revoked_at"`
	NewKey          APIKeyCreateResponse `json:"new_key"`
}
