package middleware

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/thesisflow/thesisflow/internal/metrics"
)

// IPLimiterConfig configures the in-memory per-IP limiter.
type IPLimiterConfig struct {
	Rate            float64
	Burst           int
	CleanupInterval time.Duration
	MaxAge          time.Duration
}

type ipEntry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// IPLimiter keeps one token bucket per client address in process memory.
// State is not shared between instances and is lost on restart.
type IPLimiter struct {
	mu      sync.Mutex
	entries map[string]*ipEntry
	cfg     IPLimiterConfig
	done    chan struct{}
	once    sync.Once

	logger  *slog.Logger
	metrics metrics.Recorder
}

// NewIPLimiter starts a limiter and its cleanup goroutine. Call Stop to
// release the goroutine.
func NewIPLimiter(cfg IPLimiterConfig, recorder metrics.Recorder, logger *slog.Logger) *IPLimiter {
	if cfg.Rate <= 0 {
		cfg.Rate = 5
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 20
	}
	if cfg.CleanupInterval == 0 {
		cfg.CleanupInterval = time.Minute
	}
	if cfg.MaxAge == 0 {
		cfg.MaxAge = 5 * time.Minute
	}
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	if logger == nil {
		logger = slog.Default()
	}

	l := &IPLimiter{
		entries: make(map[string]*ipEntry),
		cfg:     cfg,
		done:    make(chan struct{}),
		logger:  logger.With("component", "ip_limiter"),
		metrics: recorder,
	}
	go l.cleanup()
	return l
}

// Allow reports whether a request from ip may proceed.
func (l *IPLimiter) Allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[ip]
	if !ok {
		e = &ipEntry{limiter: rate.NewLimiter(rate.Limit(l.cfg.Rate), l.cfg.Burst)}
		l.entries[ip] = e
	}
	e.lastAccess = time.Now()
	return e.limiter.Allow()
}

// Middleware rejects requests over the per-IP rate with 429.
func (l *IPLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := peerIP(r)
		if !l.Allow(ip) {
			l.metrics.IncRateLimited("ip")
			l.logger.Warn("rate limit exceeded",
				slog.String("type", "ip"),
				slog.String("endpoint", r.Method+" "+r.URL.Path),
				slog.String("request_id", GetRequestID(r.Context())),
			)
			writeThrottled(w, time.Duration(float64(time.Second)/l.cfg.Rate))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Stop ends the cleanup goroutine. It is safe to call more than once.
func (l *IPLimiter) Stop() {
	l.once.Do(func() { close(l.done) })
}

// Len returns the number of tracked addresses.
func (l *IPLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

func (l *IPLimiter) cleanup() {
	ticker := time.NewTicker(l.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.done:
			return
		case <-ticker.C:
			l.evict(time.Now())
		}
	}
}

func (l *IPLimiter) evict(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for ip, e := range l.entries {
		if now.Sub(e.lastAccess) > l.cfg.MaxAge {
			delete(l.entries, ip)
		}
	}
}
