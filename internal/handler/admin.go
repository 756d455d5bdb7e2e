package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/thesisflow/thesisflow/internal/model"
)

// AdminStore is the catalog and ledger surface behind the admin routes.
type AdminStore interface {
	ListFeatureCosts(ctx context.Context) ([]*model.FeatureCost, error)
	UpsertFeatureCost(ctx context.Context, f *model.FeatureCost) error
	ResetDailyTokens(ctx context.Context) (int64, error)
	ListAPIKeysByUserID(ctx context.Context, userID string) ([]*model.APIKey, error)
}

// FeatureCostCache drops cached feature costs after a catalog change.
type FeatureCostCache interface {
	DeleteFeatureCosts(ctx context.Context, features ...string) error
}

// AdminHandler provides admin-only endpoints for operating the token catalog.
type AdminHandler struct {
	store   AdminStore
	cache   FeatureCostCache
	version string
	started time.Time
	logger  *slog.Logger
}

// NewAdminHandler creates a new AdminHandler. cache may be nil.
func NewAdminHandler(store AdminStore, cache FeatureCostCache, version string, logger *slog.Logger) *AdminHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AdminHandler{
		store:   store,
		cache:   cache,
		version: version,
		started: time.Now(),
		logger:  logger.With("component", "handler.admin"),
	}
}

// ListFeatures handles GET /api/admin/features.
func (h *AdminHandler) ListFeatures(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	features, err := h.store.ListFeatureCosts(ctx)
	if err != nil {
		h.logger.Error("failed to list feature costs", "error", err)
		writeError(w, http.StatusInternalServerError, CodeInternal, "Failed to list features")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"features": features, "total": len(features)})
}

type featureCostRequest struct {
	BaseCost        int                `json:"baseCost"`
	Description     string             `json:"description"`
	CostMultipliers map[string]float64 `json:"costMultipliers"`
	IsActive        *bool              `json:"isActive"`
}

// PutFeature handles PUT /api/admin/features/{name}.
func (h *AdminHandler) PutFeature(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimSpace(chi.URLParam(r, "name"))
	if name == "" {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "Feature name required")
		return
	}

	var req featureCostRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, msgInvalidBody)
		return
	}
	if req.BaseCost < 1 {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "baseCost must be at least 1")
		return
	}
	for flag, m := range req.CostMultipliers {
		if m <= 0 {
			writeError(w, http.StatusBadRequest, CodeInvalidRequest, "Multiplier "+flag+" must be positive")
			return
		}
	}

	fc := &model.FeatureCost{
		FeatureName:     name,
		BaseCost:        req.BaseCost,
		Description:     req.Description,
		CostMultipliers: req.CostMultipliers,
		IsActive:        req.IsActive == nil || *req.IsActive,
	}
	if err := h.store.UpsertFeatureCost(r.Context(), fc); err != nil {
		h.logger.Error("failed to upsert feature cost", "feature", name, "error", err)
		writeError(w, http.StatusInternalServerError, CodeInternal, "Failed to save feature")
		return
	}
	if h.cache != nil {
		if err := h.cache.DeleteFeatureCosts(r.Context(), name); err != nil {
			h.logger.Warn("failed to invalidate feature cost", "feature", name, "error", err)
		}
	}

	h.logger.Info("feature cost updated", "feature", name, "base_cost", fc.BaseCost, "active", fc.IsActive)
	writeJSON(w, http.StatusOK, fc)
}

// ResetDailyTokens handles POST /api/admin/tokens/reset-daily.
func (h *AdminHandler) ResetDailyTokens(w http.ResponseWriter, r *http.Request) {
	n, err := h.store.ResetDailyTokens(r.Context())
	if err != nil {
		h.logger.Error("failed to reset daily tokens", "error", err)
		writeError(w, http.StatusInternalServerError, CodeInternal, "Failed to reset daily tokens")
		return
	}
	h.logger.Info("daily token usage reset", "users", n)
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "usersReset": n})
}

// ListAPIKeysByUser handles GET /api/admin/api-keys?user_id={id}.
func (h *AdminHandler) ListAPIKeysByUser(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "query parameter 'user_id' is required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	keys, err := h.store.ListAPIKeysByUserID(ctx, userID)
	if err != nil {
		h.logger.Error("failed to list API keys", "error", err, "user_id", userID)
		writeError(w, http.StatusInternalServerError, CodeInternal, "Failed to list API keys")
		return
	}

	out := make([]model.APIKeyResponse, 0, len(keys))
	for _, key := range keys {
		out = append(out, key.ToResponse())
	}
	writeJSON(w, http.StatusOK, map[string]any{"keys": out, "total": len(out)})
}

// StatsResponse represents operational statistics.
type StatsResponse struct {
	Timestamp time.Time `json:"timestamp"`
	Service   string    `json:"service"`
	Version   string    `json:"version"`
	Uptime    string    `json:"uptime"`
}

// Stats handles GET /api/admin/stats.
func (h *AdminHandler) Stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, StatsResponse{
		Timestamp: time.Now().UTC(),
		Service:   "thesisflow",
		Version:   h.version,
		Uptime:    time.Since(h.started).Round(time.Second).String(),
	})
}
