package middleware

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/thesisflow/thesisflow/internal/auth"
	"github.com/thesisflow/thesisflow/internal/cache"
	"github.com/thesisflow/thesisflow/internal/metrics"
	"github.com/thesisflow/thesisflow/internal/model"
)

// RateLimitConfig holds configuration for per-caller request throttling.
type RateLimitConfig struct {
	Logger  *slog.Logger
	Cache   *cache.Cache
	Metrics metrics.Recorder
	Enabled bool
}

// RateLimitAPI throttles authenticated callers with the Redis token bucket
// of their tier. Must be applied after Auth. Token metering is separate.
func RateLimitAPI(cfg RateLimitConfig) func(http.Handler) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	recorder := cfg.Metrics
	if recorder == nil {
		recorder = metrics.NewNoop()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !cfg.Enabled || cfg.Cache == nil {
				next.ServeHTTP(w, r)
				return
			}

			authCtx := auth.AuthFromContext(r.Context())
			if authCtx == nil {
				next.ServeHTTP(w, r)
				return
			}

			tier := model.LimitForTier(authCtx.RateLimitTier)
			if tier.PerMinute == 0 {
				next.ServeHTTP(w, r)
				return
			}

			key := authCtx.ThrottleKey()
			result, err := cfg.Cache.TakeToken(r.Context(), key, tier.PerMinute, tier.Burst)
			if err != nil {
				// Fail open.
				logger.Error("rate limit check failed",
					slog.String("error", err.Error()),
					slog.String("throttle_key", key),
				)
				next.ServeHTTP(w, r)
				return
			}

			setRateLimitHeaders(w, tier.PerMinute, result.Remaining, result.ResetAt)

			if !result.Allowed {
				recorder.IncRateLimited("api")
				logger.Warn("rate limit exceeded",
					slog.String("throttle_key", key),
					slog.String("endpoint", r.Method+" "+r.URL.Path),
					slog.Int64("retry_after_seconds", int64(result.RetryAfter.Seconds())),
					slog.String("request_id", GetRequestID(r.Context())),
				)
				writeThrottled(w, result.RetryAfter)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func setRateLimitHeaders(w http.ResponseWriter, limit int, remaining int64, resetAt time.Time) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(resetAt.Unix(), 10))
}

// writeThrottled writes a request-throttling 429.
func writeThrottled(w http.ResponseWriter, retryAfter time.Duration) {
	secs := max(1, int(retryAfter.Seconds()))
	w.Header().Set("Retry-After", strconv.Itoa(secs))
	writeError(w, http.StatusTooManyRequests, CodeRateLimited,
		fmt.Sprintf("Rate limit exceeded. Retry after %d seconds.", secs))
}
