// Package literature searches open scholarly indexes and merges the results.
package literature

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/thesisflow/thesisflow/internal/model"
)

const (
	// DefaultTimeout bounds one provider call, retries included.
	DefaultTimeout = 6 * time.Second
	// DefaultMailto identifies the service to polite-pool APIs.
	DefaultMailto = "research@thesisflow.ai"

	userAgent    = "ThesisFlow-Research/1.0"
	retryCount   = 2
	retryWait    = 250 * time.Millisecond
	retryMaxWait = 2 * time.Second
)

// ErrUpstream is returned when a provider answers with a non-2xx status.
var ErrUpstream = errors.New("literature provider error")

// Provider is one scholarly index.
type Provider interface {
	Name() string
	Search(ctx context.Context, query string, limit int) ([]model.Paper, error)
}

// Options configure a provider client.
type Options struct {
	BaseURL string
	Timeout time.Duration
	Mailto  string
}

func (o Options) withDefaults(baseURL string) Options {
	if o.BaseURL == "" {
		o.BaseURL = baseURL
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.Mailto == "" {
		o.Mailto = DefaultMailto
	}
	return o
}

// Policy is the per-provider request budget.
type Policy struct {
	Every       time.Duration
	Burst       int
	Concurrency int64
}

// guard enforces a Policy: a token bucket for request rate and a semaphore
// for in-flight requests.
type guard struct {
	limiter *rate.Limiter
	sem     *semaphore.Weighted
}

func newGuard(p Policy) *guard {
	return &guard{
		limiter: rate.NewLimiter(rate.Every(p.Every), p.Burst),
		sem:     semaphore.NewWeighted(p.Concurrency),
	}
}

func (g *guard) do(ctx context.Context, fn func(context.Context) error) error {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer g.sem.Release(1)

	if err := g.limiter.Wait(ctx); err != nil {
		return err
	}
	return fn(ctx)
}

// newClient builds a resty client that retries 429 and 5xx with exponential backoff.
func newClient(o Options) *resty.Client {
	return resty.New().
		SetBaseURL(o.BaseURL).
		SetTimeout(o.Timeout).
		SetHeader("User-Agent", fmt.Sprintf("%s (mailto:%s)", userAgent, o.Mailto)).
		SetRetryCount(retryCount).
		SetRetryWaitTime(retryWait).
		SetRetryMaxWaitTime(retryMaxWait).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
			}
			return r.StatusCode() == http.StatusTooManyRequests || r.StatusCode() >= 500
		})
}

func checkResponse(name string, resp *resty.Response, err error) error {
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	if resp.IsError() {
		return fmt.Errorf("%w: %s returned %d", ErrUpstream, name, resp.StatusCode())
	}
	return nil
}

func clampProviderLimit(limit int) int {
	return min(50, max(1, limit))
}
