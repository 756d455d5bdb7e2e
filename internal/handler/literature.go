package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/thesisflow/thesisflow/internal/auth"
	"github.com/thesisflow/thesisflow/internal/cache"
	"github.com/thesisflow/thesisflow/internal/literature"
	"github.com/thesisflow/thesisflow/internal/middleware"
	"github.com/thesisflow/thesisflow/internal/model"
)

const literatureScope = "literature"

// LiteratureSearcher runs federated paper searches. *literature.Service
// satisfies it.
type LiteratureSearcher interface {
	Search(ctx context.Context, query string, limit int) (*model.SearchResult, error)
	Aggregate(ctx context.Context, query string, limit int, window time.Duration) (*model.SearchResult, error)
}

// HourlyWindow counts requests in fixed hourly windows. *cache.Cache
// satisfies it.
type HourlyWindow interface {
	HitHourlyWindow(ctx context.Context, scope, subject string, limit int64) *cache.WindowResult
}

// LiteratureHandler serves /api/literature-search.
type LiteratureHandler struct {
	search LiteratureSearcher
	window HourlyWindow
	limit  int64
	logger *slog.Logger
}

// NewLiteratureHandler creates a LiteratureHandler allowing hourlyLimit
// searches per user, or per client IP for anonymous callers.
func NewLiteratureHandler(search LiteratureSearcher, window HourlyWindow, hourlyLimit int, logger *slog.Logger) *LiteratureHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if hourlyLimit <= 0 {
		hourlyLimit = 100
	}
	return &LiteratureHandler{
		search: search,
		window: window,
		limit:  int64(hourlyLimit),
		logger: logger.With("component", "handler.literature"),
	}
}

type literatureRequest struct {
	Query             string `json:"query"`
	Limit             int    `json:"limit"`
	AggregateWindowMs int64  `json:"aggregateWindowMs"`
}

type rateLimitInfo struct {
	Limit     int64     `json:"limit"`
	Remaining int64     `json:"remaining"`
	ResetTime time.Time `json:"resetTime"`
}

type literatureResponse struct {
	*model.SearchResult
	RateLimitInfo  rateLimitInfo `json:"rateLimitInfo"`
	ProcessingTime int64         `json:"processingTime"`
}

// Search handles GET and POST /api/literature-search.
func (h *LiteratureHandler) Search(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	req, ok := h.readRequest(w, r)
	if !ok {
		return
	}
	req.Query = strings.TrimSpace(req.Query)
	if len(req.Query) < 3 {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "Query must be at least 3 characters long")
		return
	}
	limit := literature.ClampLimit(req.Limit)

	win := h.hit(r)
	setWindowHeaders(w, win)
	if !win.Allowed {
		retry := max(1, int(time.Until(win.ResetAt).Seconds()))
		w.Header().Set("Retry-After", strconv.Itoa(retry))
		writeErrorDetails(w, http.StatusTooManyRequests, CodeRateLimited, "Rate limit exceeded. Please try again later.", rateLimitInfo{
			Limit:     win.Limit,
			Remaining: 0,
			ResetTime: win.ResetAt,
		})
		return
	}

	var res *model.SearchResult
	var err error
	if window := time.Duration(req.AggregateWindowMs) * time.Millisecond; window > 0 {
		res, err = h.search.Aggregate(r.Context(), req.Query, limit, max(window, literature.MinAggregation))
	} else {
		res, err = h.search.Search(r.Context(), req.Query, limit)
	}
	if err != nil {
		h.logger.Error("literature search failed", "error", err)
		writeError(w, http.StatusInternalServerError, CodeInternal, msgInternal)
		return
	}

	if res.Cached {
		w.Header().Set("Cache-Control", "public, max-age=3600")
	} else {
		w.Header().Set("Cache-Control", "public, max-age=300")
	}

	status := http.StatusOK
	if !res.Success {
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, literatureResponse{
		SearchResult: res,
		RateLimitInfo: rateLimitInfo{
			Limit:     win.Limit,
			Remaining: win.Remaining,
			ResetTime: win.ResetAt,
		},
		ProcessingTime: time.Since(start).Milliseconds(),
	})
}

func (h *LiteratureHandler) readRequest(w http.ResponseWriter, r *http.Request) (literatureRequest, bool) {
	var req literatureRequest
	if r.Method == http.MethodPost {
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, CodeInvalidRequest, msgInvalidBody)
			return req, false
		}
		return req, true
	}

	q := r.URL.Query()
	req.Query = q.Get("q")
	if req.Query == "" {
		req.Query = q.Get("query")
	}
	req.Limit = queryInt(r, "limit", 0)
	req.AggregateWindowMs = int64(max(0, queryInt(r, "aggregateWindowMs", 0)))
	return req, true
}

func (h *LiteratureHandler) hit(r *http.Request) *cache.WindowResult {
	subject := auth.UserIDFromContext(r.Context())
	if subject == "" {
		subject = "ip:" + middleware.ClientIP(r)
	}
	return h.window.HitHourlyWindow(r.Context(), literatureScope, subject, h.limit)
}

func setWindowHeaders(w http.ResponseWriter, win *cache.WindowResult) {
	w.Header().Set("X-RateLimit-Limit", strconv.FormatInt(win.Limit, 10))
	w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(win.Remaining, 10))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(win.ResetAt.UnixMilli(), 10))
}
