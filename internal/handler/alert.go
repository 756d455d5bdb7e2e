package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/thesisflow/thesisflow/internal/alert"
	"github.com/thesisflow/thesisflow/internal/model"
)

// AlertAPI manages alert receivers. *alert.Endpoints satisfies it.
type AlertAPI interface {
	Register(ctx context.Context, userID string, req model.AlertEndpointCreateRequest) (*model.AlertEndpointCreateResponse, error)
	List(ctx context.Context, userID string) ([]*model.AlertEndpoint, error)
	Delete(ctx context.Context, userID, id string) error
	Deliveries(ctx context.Context, userID string, limit int) ([]*model.AlertDelivery, error)
}

// AlertHandler serves /api/alerts.
type AlertHandler struct {
	svc    AlertAPI
	logger *slog.Logger
}

// NewAlertHandler creates an AlertHandler.
func NewAlertHandler(svc AlertAPI, logger *slog.Logger) *AlertHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AlertHandler{svc: svc, logger: logger.With("component", "handler.alert")}
}

// CreateEndpoint handles POST /api/alerts/endpoints. The signing secret is
// only returned here.
func (h *AlertHandler) CreateEndpoint(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req model.AlertEndpointCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, msgInvalidBody)
		return
	}

	resp, err := h.svc.Register(r.Context(), userID, req)
	switch {
	case errors.Is(err, alert.ErrInvalidTargetURL), errors.Is(err, alert.ErrInvalidEvent):
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, err.Error())
		return
	case errors.Is(err, alert.ErrTooManyEndpoints):
		writeError(w, http.StatusConflict, CodeConflict, "Endpoint limit reached")
		return
	case err != nil:
		h.logger.Error("failed to register alert endpoint", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, CodeInternal, msgInternal)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

// ListEndpoints handles GET /api/alerts/endpoints.
func (h *AlertHandler) ListEndpoints(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	endpoints, err := h.svc.List(r.Context(), userID)
	if err != nil {
		h.logger.Error("failed to list alert endpoints", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, CodeInternal, msgInternal)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"endpoints": nonNil(endpoints)})
}

// DeleteEndpoint handles DELETE /api/alerts/endpoints/{id}.
func (h *AlertHandler) DeleteEndpoint(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	if err := h.svc.Delete(r.Context(), userID, chi.URLParam(r, "id")); err != nil {
		if errors.Is(err, alert.ErrEndpointNotFound) {
			writeError(w, http.StatusNotFound, CodeNotFound, "Endpoint not found")
			return
		}
		h.logger.Error("failed to delete alert endpoint", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, CodeInternal, msgInternal)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Deliveries handles GET /api/alerts/deliveries?limit=.
func (h *AlertHandler) Deliveries(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	deliveries, err := h.svc.Deliveries(r.Context(), userID, queryInt(r, "limit", 0))
	if err != nil {
		h.logger.Error("failed to list alert deliveries", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, CodeInternal, msgInternal)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deliveries": nonNil(deliveries)})
}
