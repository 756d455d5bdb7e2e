package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/thesisflow/thesisflow/internal/cache"
	"github.com/thesisflow/thesisflow/internal/model"
)

type fakeSearcher struct {
	result *model.SearchResult
	err    error

	query     string
	limit     int
	window    time.Duration
	aggregate bool
}

func (f *fakeSearcher) Search(_ context.Context, query string, limit int) (*model.SearchResult, error) {
	f.query, f.limit = query, limit
	return f.result, f.err
}

func (f *fakeSearcher) Aggregate(_ context.Context, query string, limit int, window time.Duration) (*model.SearchResult, error) {
	f.query, f.limit, f.window, f.aggregate = query, limit, window, true
	return f.result, f.err
}

type fakeWindow struct {
	allowed bool
	subject string
	scope   string
}

func (f *fakeWindow) HitHourlyWindow(_ context.Context, scope, subject string, limit int64) *cache.WindowResult {
	f.scope, f.subject = scope, subject
	res := &cache.WindowResult{
		Allowed:   f.allowed,
		Limit:     limit,
		Remaining: limit - 1,
		ResetAt:   time.Now().Add(30 * time.Minute),
	}
	if !f.allowed {
		res.Remaining = 0
	}
	return res
}

func okResult() *model.SearchResult {
	return &model.SearchResult{
		Success: true,
		Papers:  []model.Paper{{Title: "Attention Is All You Need", Year: "2017"}},
		Source:  "openalex,crossref",
		Count:   1,
	}
}

func TestLiteratureHandler_GetSearch(t *testing.T) {
	search := &fakeSearcher{result: okResult()}
	window := &fakeWindow{allowed: true}
	h := NewLiteratureHandler(search, window, 100, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/literature-search?q=transformers&limit=80", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.9")
	rec := httptest.NewRecorder()
	h.Search(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if search.query != "transformers" || search.limit != 50 || search.aggregate {
		t.Errorf("search called with %q/%d aggregate=%v", search.query, search.limit, search.aggregate)
	}
	if window.scope != "literature" || window.subject != "ip:203.0.113.9" {
		t.Errorf("window hit %s/%s", window.scope, window.subject)
	}

	if got := rec.Header().Get("X-RateLimit-Limit"); got != "100" {
		t.Errorf("X-RateLimit-Limit = %q", got)
	}
	if got := rec.Header().Get("X-RateLimit-Remaining"); got != "99" {
		t.Errorf("X-RateLimit-Remaining = %q", got)
	}
	if _, err := strconv.ParseInt(rec.Header().Get("X-RateLimit-Reset"), 10, 64); err != nil {
		t.Errorf("X-RateLimit-Reset not numeric: %v", err)
	}
	if got := rec.Header().Get("Cache-Control"); got != "public, max-age=300" {
		t.Errorf("Cache-Control = %q", got)
	}

	body := decodeMap(t, rec)
	if body["success"] != true || body["count"] != float64(1) {
		t.Errorf("unexpected body: %v", body)
	}
	info, ok := body["rateLimitInfo"].(map[string]any)
	if !ok || info["limit"] != float64(100) || info["remaining"] != float64(99) {
		t.Errorf("unexpected rateLimitInfo: %v", body["rateLimitInfo"])
	}
	if _, ok := body["processingTime"]; !ok {
		t.Error("expected processingTime")
	}
}

func TestLiteratureHandler_PostAggregate(t *testing.T) {
	res := okResult()
	res.Cached = true
	search := &fakeSearcher{result: res}
	window := &fakeWindow{allowed: true}
	h := NewLiteratureHandler(search, window, 100, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/literature-search",
		jsonBody(`{"query":"  graph neural networks ","limit":0,"aggregateWindowMs":200}`))
	rec := httptest.NewRecorder()
	h.Search(rec, withUser(req, testUser))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !search.aggregate || search.query != "graph neural networks" || search.limit != 10 {
		t.Errorf("aggregate called with %q/%d aggregate=%v", search.query, search.limit, search.aggregate)
	}
	if search.window != time.Second {
		t.Errorf("window = %v, want the 1s floor", search.window)
	}
	if window.subject != testUser {
		t.Errorf("authenticated callers are counted per user, got %q", window.subject)
	}
	if got := rec.Header().Get("Cache-Control"); got != "public, max-age=3600" {
		t.Errorf("Cache-Control = %q", got)
	}
}

func TestLiteratureHandler_ShortQuery(t *testing.T) {
	for _, target := range []string{"/api/literature-search?q=ab", "/api/literature-search?query=%20%20x%20"} {
		h := NewLiteratureHandler(&fakeSearcher{}, &fakeWindow{allowed: true}, 100, nil)
		rec := httptest.NewRecorder()
		h.Search(rec, httptest.NewRequest(http.MethodGet, target, nil))

		if rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", target, rec.Code)
		}
		if body := decodeMap(t, rec); body["error"] != "Query must be at least 3 characters long" {
			t.Errorf("%s: error = %v", target, body["error"])
		}
	}
}

func TestLiteratureHandler_RateLimited(t *testing.T) {
	search := &fakeSearcher{result: okResult()}
	h := NewLiteratureHandler(search, &fakeWindow{allowed: false}, 100, nil)

	rec := httptest.NewRecorder()
	h.Search(rec, httptest.NewRequest(http.MethodGet, "/api/literature-search?q=transformers", nil))

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	retry, err := strconv.Atoi(rec.Header().Get("Retry-After"))
	if err != nil || retry < 1 || retry > 1800 {
		t.Errorf("Retry-After = %q", rec.Header().Get("Retry-After"))
	}
	if rec.Header().Get("X-RateLimit-Remaining") != "0" {
		t.Errorf("X-RateLimit-Remaining = %q", rec.Header().Get("X-RateLimit-Remaining"))
	}
	if search.query != "" {
		t.Error("search should not run when rate limited")
	}
}

func TestLiteratureHandler_Failures(t *testing.T) {
	t.Run("all providers failed", func(t *testing.T) {
		search := &fakeSearcher{result: &model.SearchResult{Success: false, Papers: []model.Paper{}, Error: "all providers failed"}}
		h := NewLiteratureHandler(search, &fakeWindow{allowed: true}, 100, nil)
		rec := httptest.NewRecorder()
		h.Search(rec, httptest.NewRequest(http.MethodGet, "/api/literature-search?q=transformers", nil))

		if rec.Code != http.StatusInternalServerError {
			t.Fatalf("expected 500, got %d", rec.Code)
		}
		if body := decodeMap(t, rec); body["success"] != false || body["error"] != "all providers failed" {
			t.Errorf("unexpected body: %v", body)
		}
	})

	t.Run("search error", func(t *testing.T) {
		search := &fakeSearcher{err: errors.New("boom")}
		h := NewLiteratureHandler(search, &fakeWindow{allowed: true}, 100, nil)
		rec := httptest.NewRecorder()
		h.Search(rec, httptest.NewRequest(http.MethodGet, "/api/literature-search?q=transformers", nil))

		if rec.Code != http.StatusInternalServerError {
			t.Fatalf("expected 500, got %d", rec.Code)
		}
		if body := decodeMap(t, rec); body["error"] != "Internal server error" {
			t.Errorf("unexpected body: %v", body)
		}
	})
}
