package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	bucketPrefix = "ratelimit:bucket:"
	windowPrefix = "ratelimit:hour:"
	bucketTTL    = 2 * time.Minute
)

// Bucket is a caller's token bucket after one take.
type Bucket struct {
	Allowed    bool
	Remaining  int64
	ResetAt    time.Time
	RetryAfter time.Duration
}

// takeScript refills and takes one token atomically. It reads the Redis
// clock so every replica measures elapsed time the same way.
// State is kept in milliseconds; returns {allowed, retry_ms, tokens}.
var takeScript = redis.NewScript(`
local per_ms = tonumber(ARGV[1])
local burst  = tonumber(ARGV[2])
local ttl    = tonumber(ARGV[3])

local t   = redis.call('TIME')
local now = t[1] * 1000 + math.floor(t[2] / 1000)

local state  = redis.call('HMGET', KEYS[1], 'tokens', 'at')
local tokens = tonumber(state[1]) or burst
local at     = tonumber(state[2]) or now
tokens = math.min(burst, tokens + math.max(0, now - at) * per_ms)

local allowed, retry = 0, 0
if tokens >= 1 then
  tokens = tokens - 1
  allowed = 1
else
  retry = math.ceil((1 - tokens) / per_ms)
end

redis.call('HSET', KEYS[1], 'tokens', tostring(tokens), 'at', now)
redis.call('EXPIRE', KEYS[1], ttl)
return {allowed, retry, math.floor(tokens)}
`)

// TakeToken spends one request from the caller's bucket. A zero perMinute
// means the tier is unthrottled and Redis is not touched.
func (c *Cache) TakeToken(ctx context.Context, throttleKey string, perMinute, burst int) (*Bucket, error) {
	if perMinute <= 0 {
		return &Bucket{Allowed: true, Remaining: int64(burst), ResetAt: time.Now().Add(time.Minute)}, nil
	}
	burst = max(burst, 1)
	perMs := float64(perMinute) / float64(time.Minute/time.Millisecond)

	res, err := takeScript.Run(ctx, c.client, []string{bucketPrefix + throttleKey},
		perMs, burst, int(bucketTTL/time.Second)).Int64Slice()
	if err != nil {
		return nil, fmt.Errorf("take token: %w", err)
	}

	b := &Bucket{
		Allowed:    res[0] == 1,
		RetryAfter: time.Duration(res[1]) * time.Millisecond,
		Remaining:  res[2],
	}
	// Full again after the missing tokens refill.
	missing := float64(int64(burst) - b.Remaining)
	b.ResetAt = time.Now().Add(time.Duration(missing / perMs * float64(time.Millisecond)))
	return b, nil
}

// WindowResult is the state of a fixed hourly window after a hit.
type WindowResult struct {
	Allowed   bool
	Count     int64
	Limit     int64
	Remaining int64
	ResetAt   time.Time
}

// HitHourlyWindow counts one request for subject in the current UTC hour.
// subject is a user id for authenticated callers or "ip:"+address otherwise;
// addresses are hashed before they reach Redis. Redis errors fail open.
func (c *Cache) HitHourlyWindow(ctx context.Context, scope, subject string, limit int64) *WindowResult {
	now := time.Now().UTC()
	windowStart := now.Truncate(time.Hour)
	resetAt := windowStart.Add(time.Hour)

	key := fmt.Sprintf("%s%s:%s:%d", windowPrefix, scope, windowSubject(subject), windowStart.Unix())

	var incr *redis.IntCmd
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pipe.ExpireAt(ctx, key, resetAt.Add(time.Minute))
		return nil
	})
	if err != nil {
		return &WindowResult{Allowed: true, Limit: limit, Remaining: limit, ResetAt: resetAt}
	}

	count := incr.Val()
	return &WindowResult{
		Allowed:   count <= limit,
		Count:     count,
		Limit:     limit,
		Remaining: max(0, limit-count),
		ResetAt:   resetAt,
	}
}

func windowSubject(subject string) string {
	if ip, ok := strings.CutPrefix(subject, "ip:"); ok {
		return "ip:" + hashIP(ip)
	}
	return subject
}

// hashIP keeps raw client addresses out of Redis keys.
func hashIP(ip string) string {
	sum := sha256.Sum256([]byte(ip))
	return hex.EncodeToString(sum[:8])
}
