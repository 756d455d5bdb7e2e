package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/thesisflow/thesisflow/internal/model"
)

const (
	authCachePrefix = "auth:ctx:"
	// authKeyIndexPrefix maps an API key id to the cache entries made for it.
	authKeyIndexPrefix = "auth:key:"
	authCacheTTL       = 5 * time.Minute
)

// cachedAuth is the stored form of model.AuthContext.
type cachedAuth struct {
	Method        string   `json:"m"`
	KeyID         string   `json:"k,omitempty"`
	KeyPrefix     string   `json:"p,omitempty"`
	UserID        string   `json:"u"`
	Email         string   `json:"e,omitempty"`
	Scopes        []string `json:"s"`
	RateLimitTier string   `json:"t,omitempty"`
}

// GetAuthContext returns the cached auth context, or nil on a miss. A
// corrupt entry counts as a miss.
func (c *Cache) GetAuthContext(ctx context.Context, cacheKey string) (*model.AuthContext, error) {
	data, err := c.client.Get(ctx, authCachePrefix+cacheKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get auth context: %w", err)
	}

	var a cachedAuth
	if err := json.Unmarshal(data, &a); err != nil || a.UserID == "" {
		return nil, nil //nolint:nilerr
	}
	return &model.AuthContext{
		Method:        a.Method,
		KeyID:         a.KeyID,
		KeyPrefix:     a.KeyPrefix,
		UserID:        a.UserID,
		Email:         a.Email,
		Scopes:        a.Scopes,
		RateLimitTier: a.RateLimitTier,
	}, nil
}

// SetAuthContext caches an auth context. API key contexts are also
// indexed by key id so InvalidateAPIKey can find them.
func (c *Cache) SetAuthContext(ctx context.Context, cacheKey string, ac *model.AuthContext) error {
	data, err := json.Marshal(cachedAuth{
		Method:        ac.Method,
		KeyID:         ac.KeyID,
		KeyPrefix:     ac.KeyPrefix,
		UserID:        ac.UserID,
		Email:         ac.Email,
		Scopes:        ac.Scopes,
		RateLimitTier: ac.RateLimitTier,
	})
	if err != nil {
		return fmt.Errorf("marshal auth context: %w", err)
	}

	_, err = c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, authCachePrefix+cacheKey, data, authCacheTTL)
		if ac.KeyID != "" {
			idx := authKeyIndexPrefix + ac.KeyID
			pipe.SAdd(ctx, idx, cacheKey)
			pipe.Expire(ctx, idx, authCacheTTL)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("set auth context: %w", err)
	}
	return nil
}

// DeleteAuthContext removes one cached auth context.
func (c *Cache) DeleteAuthContext(ctx context.Context, cacheKey string) error {
	return c.client.Del(ctx, authCachePrefix+cacheKey).Err()
}

// InvalidateAPIKey drops every cached context of a key so a revocation
// takes effect on the next request.
func (c *Cache) InvalidateAPIKey(ctx context.Context, keyID string) error {
	idx := authKeyIndexPrefix + keyID
	members, err := c.client.SMembers(ctx, idx).Result()
	if err != nil {
		return fmt.Errorf("read auth index: %w", err)
	}
	keys := make([]string, 0, len(members)+1)
	for _, m := range members {
		keys = append(keys, authCachePrefix+m)
	}
	keys = append(keys, idx)
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("invalidate api key: %w", err)
	}
	return nil
}
