package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/thesisflow/thesisflow/internal/usage"
)

// UsageAPI answers the analytics dashboards.
type UsageAPI interface {
	Overview(ctx context.Context, userID string, from, to *time.Time) (*usage.Overview, error)
	Breakdown(ctx context.Context, userID string, q usage.BreakdownQuery) (*usage.Breakdown, error)
	Top(ctx context.Context, userID string, q usage.TopQuery) (*usage.TopResult, error)
}

// UsageHandler serves /api/usage/*.
type UsageHandler struct {
	svc    UsageAPI
	logger *slog.Logger
}

// NewUsageHandler creates a UsageHandler.
func NewUsageHandler(svc UsageAPI, logger *slog.Logger) *UsageHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &UsageHandler{svc: svc, logger: logger.With("component", "handler.usage")}
}

type analyticsRequest struct {
	From       string `json:"from"`
	To         string `json:"to"`
	Metric     string `json:"metric"`
	Dimension  string `json:"dimension"`
	By         string `json:"by"`
	Limit      int    `json:"limit"`
	Compare    bool   `json:"compare"`
	Cumulative bool   `json:"cumulative"`
}

// parseDay accepts RFC 3339 timestamps or plain dates.
func parseDay(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return &t, nil
		}
	}
	return nil, errors.New("invalid date: " + s)
}

func (h *UsageHandler) readRequest(w http.ResponseWriter, r *http.Request) (string, *analyticsRequest, *time.Time, *time.Time, bool) {
	userID, ok := requireUser(w, r)
	if !ok {
		return "", nil, nil, nil, false
	}
	var req analyticsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, msgInvalidBody)
		return "", nil, nil, nil, false
	}
	from, err := parseDay(req.From)
	if err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, err.Error())
		return "", nil, nil, nil, false
	}
	to, err := parseDay(req.To)
	if err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, err.Error())
		return "", nil, nil, nil, false
	}
	return userID, &req, from, to, true
}

func (h *UsageHandler) fail(w http.ResponseWriter, userID string, err error) {
	switch {
	case errors.Is(err, usage.ErrInvalidMetric):
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "Invalid metric")
	case errors.Is(err, usage.ErrInvalidDimension):
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "Invalid dimension")
	case errors.Is(err, usage.ErrInvalidRange):
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "Invalid date range")
	default:
		h.logger.Error("usage analytics failed", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, CodeInternal, "Failed to load usage analytics")
	}
}

// Analytics handles POST /api/usage/analytics.
func (h *UsageHandler) Analytics(w http.ResponseWriter, r *http.Request) {
	userID, _, from, to, ok := h.readRequest(w, r)
	if !ok {
		return
	}
	out, err := h.svc.Overview(r.Context(), userID, from, to)
	if err != nil {
		h.fail(w, userID, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// AnalyticsV2 handles POST /api/usage/analytics/v2.
func (h *UsageHandler) AnalyticsV2(w http.ResponseWriter, r *http.Request) {
	userID, req, from, to, ok := h.readRequest(w, r)
	if !ok {
		return
	}
	out, err := h.svc.Breakdown(r.Context(), userID, usage.BreakdownQuery{
		From:       from,
		To:         to,
		Metric:     req.Metric,
		Dimension:  req.Dimension,
		Compare:    req.Compare,
		Cumulative: req.Cumulative,
	})
	if err != nil {
		h.fail(w, userID, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// Top handles POST /api/usage/top.
func (h *UsageHandler) Top(w http.ResponseWriter, r *http.Request) {
	userID, req, from, to, ok := h.readRequest(w, r)
	if !ok {
		return
	}
	out, err := h.svc.Top(r.Context(), userID, usage.TopQuery{
		From:   from,
		To:     to,
		Metric: req.Metric,
		By:     req.By,
		Limit:  req.Limit,
	})
	if err != nil {
		h.fail(w, userID, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}
