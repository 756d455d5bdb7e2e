package handler

import (
	"context"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

const readinessTimeout = 5 * time.Second

// HealthChecker is a dependency that can be pinged.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

type namedCheck struct {
	name    string
	checker HealthChecker
}

// HealthHandler serves the liveness and readiness probes.
type HealthHandler struct {
	checks []namedCheck
}

// NewHealthHandler checks Postgres and Redis. A nil checker is reported as
// "not configured" and does not fail readiness.
func NewHealthHandler(db, cache HealthChecker) *HealthHandler {
	return &HealthHandler{checks: []namedCheck{
		{name: "postgres", checker: db},
		{name: "redis", checker: cache},
	}}
}

// WithCheck adds another readiness dependency.
func (h *HealthHandler) WithCheck(name string, c HealthChecker) *HealthHandler {
	h.checks = append(h.checks, namedCheck{name: name, checker: c})
	return h
}

// HealthResponse is the probe body.
type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Healthz reports that the process is serving.
//
// GET /healthz
func (h *HealthHandler) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// Readyz pings every dependency concurrently and returns 503 if any fails.
//
// GET /readyz
func (h *HealthHandler) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
	defer cancel()

	var (
		mu      sync.Mutex
		g       errgroup.Group
		healthy = true
		results = make(map[string]string, len(h.checks))
	)
	for _, c := range h.checks {
		if c.checker == nil {
			results[c.name] = "not configured"
			continue
		}
		g.Go(func() error {
			result := "ok"
			if err := c.checker.Ping(ctx); err != nil {
				result = "error: " + err.Error()
			}
			mu.Lock()
			results[c.name] = result
			if result != "ok" {
				healthy = false
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	if !healthy {
		writeJSON(w, http.StatusServiceUnavailable, HealthResponse{Status: "unhealthy", Checks: results})
		return
	}
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok", Checks: results})
}
