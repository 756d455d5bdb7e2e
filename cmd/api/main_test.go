package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/thesisflow/thesisflow/internal/config"
	"github.com/thesisflow/thesisflow/internal/handler"
	"github.com/thesisflow/thesisflow/internal/metrics"
	"github.com/thesisflow/thesisflow/internal/middleware"
)

func TestRedactURL(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", ""},
		{"userinfo", "postgres://app:s3cret@db:5432/thesisflow", "postgres://app@db:5432/thesisflow"},
		{"password only", "redis://:s3cret@cache:6379/0", "redis://redacted@cache:6379/0"},
		{"query password", "postgres://db/thesisflow?password=s3cret", "postgres://db/thesisflow?password=redacted"},
		{"no credentials", "redis://cache:6379", "redis://cache:6379"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := redactURL(tt.in); got != tt.want {
				t.Errorf("redactURL(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestSanitizeError(t *testing.T) {
	dsn := "postgres://app:s3cret@db:5432/thesisflow"
	err := errors.New("dial " + dsn + ": connection refused (password=hunter2)")

	got := sanitizeError(err, dsn)
	if strings.Contains(got, "s3cret") || strings.Contains(got, "hunter2") {
		t.Errorf("secret leaked: %s", got)
	}
	if !strings.Contains(got, "connection refused") {
		t.Errorf("message lost: %s", got)
	}
	if sanitizeError(nil, dsn) != "" {
		t.Error("nil error should sanitize to empty")
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"info":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
		"":      slog.LevelInfo,
	}
	for in, want := range tests {
		if got := parseLogLevel(in); got != want {
			t.Errorf("parseLogLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

type okPinger struct{}

func (okPinger) Ping(context.Context) error { return nil }

func testRouter(t *testing.T) http.Handler {
	t.Helper()
	recorder := metrics.NewPrometheus()
	limiter := middleware.NewIPLimiter(middleware.IPLimiterConfig{Rate: 100, Burst: 100}, recorder, nil)
	t.Cleanup(limiter.Stop)

	return setupRouter(routerDeps{
		cfg:       &config.Config{AppEnv: "test", MaxRequestBodySize: 1 << 20},
		recorder:  recorder,
		logger:    slog.New(slog.DiscardHandler),
		meter:     middleware.NewMeter(nil, nil, nil),
		ipLimiter: limiter,
		handlers: handlers{
			root:   handler.New("test"),
			health: handler.NewHealthHandler(okPinger{}, okPinger{}),
		},
	})
}

func TestRouter_PublicAndProtectedRoutes(t *testing.T) {
	r := testRouter(t)

	tests := []struct {
		method string
		path   string
		want   int
	}{
		{http.MethodGet, "/", http.StatusOK},
		{http.MethodGet, "/healthz", http.StatusOK},
		{http.MethodGet, "/readyz", http.StatusOK},
		{http.MethodGet, "/metrics", http.StatusOK},
		{http.MethodDelete, "/healthz", http.StatusMethodNotAllowed},
		{http.MethodGet, "/api/user/tokens", http.StatusUnauthorized},
		{http.MethodPost, "/api/trends/jobs", http.StatusUnauthorized},
		{http.MethodGet, "/api/admin/stats", http.StatusUnauthorized},
		{http.MethodGet, "/no-such-route", http.StatusNotFound},
		// Billing is not mounted without a Stripe key.
		{http.MethodPost, "/api/billing/webhook", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, nil))
			if rec.Code != tt.want {
				t.Errorf("expected %d, got %d: %s", tt.want, rec.Code, rec.Body.String())
			}
		})
	}
}
