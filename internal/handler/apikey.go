package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/oklog/ulid/v2"

	"github.com/thesisflow/thesisflow/internal/auth"
	"github.com/thesisflow/thesisflow/internal/model"
	"github.com/thesisflow/thesisflow/internal/repository"
)

// APIKeyStore persists developer API keys. *repository.Repository satisfies it.
type APIKeyStore interface {
	CreateAPIKey(ctx context.Context, key *model.APIKey) error
	GetAPIKeyByID(ctx context.Context, id string) (*model.APIKey, error)
	ListAPIKeysByUserID(ctx context.Context, userID string) ([]*model.APIKey, error)
	RevokeAPIKey(ctx context.Context, userID, id string) error
	RotateAPIKey(ctx context.Context, userID, oldID string, replacement *model.APIKey) (time.Time, error)
}

// AuthInvalidator drops cached auth contexts of a key. *cache.Cache
// satisfies it.
type AuthInvalidator interface {
	InvalidateAPIKey(ctx context.Context, keyID string) error
}

// APIKeyHandler handles API key management endpoints.
type APIKeyHandler struct {
	store       APIKeyStore
	invalidator AuthInvalidator
	logger      *slog.Logger
}

// NewAPIKeyHandler creates a new APIKeyHandler.
func NewAPIKeyHandler(store APIKeyStore, logger *slog.Logger) *APIKeyHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &APIKeyHandler{
		store:  store,
		logger: logger.With("component", "handler.apikey"),
	}
}

// WithInvalidator makes revocations evict the key from the auth cache.
func (h *APIKeyHandler) WithInvalidator(inv AuthInvalidator) *APIKeyHandler {
	h.invalidator = inv
	return h
}

// Create handles POST /api/keys. The plaintext key is only returned here.
func (h *APIKeyHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req model.APIKeyCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, msgInvalidBody)
		return
	}

	for _, scope := range req.Scopes {
		if !slices.Contains(model.ValidScopes, scope) {
			writeError(w, http.StatusBadRequest, CodeInvalidRequest,
				"Invalid scope: "+scope+". Valid scopes: read, write, admin")
			return
		}
	}
	if len(req.Scopes) == 0 {
		req.Scopes = []string{model.ScopeRead}
	}
	if req.Environment != "" && req.Environment != auth.EnvLive && req.Environment != auth.EnvTest {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "Environment must be live or test")
		return
	}

	generated, err := auth.GenerateAPIKey(req.Environment)
	if err != nil {
		h.logger.Error("failed to generate API key", "error", err)
		writeError(w, http.StatusInternalServerError, CodeInternal, "Failed to generate API key")
		return
	}

	key := &model.APIKey{
		ID:            ulid.Make().String(),
		UserID:        userID,
		KeyHash:       generated.Hash,
		KeyPrefix:     generated.Prefix,
		Scopes:        req.Scopes,
		RateLimitTier: callerTier(r),
		Name:          req.Name,
		CreatedAt:     time.Now(),
	}
	if err := h.store.CreateAPIKey(r.Context(), key); err != nil {
		h.logger.Error("failed to create API key", "error", err)
		writeError(w, http.StatusInternalServerError, CodeInternal, "Failed to create API key")
		return
	}

	h.logger.Info("API key created",
		"key_id", key.ID,
		"key_prefix", key.KeyPrefix,
		"user_id", userID,
	)
	writeJSON(w, http.StatusCreated, createResponse(key, generated.Plaintext))
}

// List handles GET /api/keys.
func (h *APIKeyHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	keys, err := h.store.ListAPIKeysByUserID(r.Context(), userID)
	if err != nil {
		h.logger.Error("failed to list API keys", "error", err)
		writeError(w, http.StatusInternalServerError, CodeInternal, "Failed to list API keys")
		return
	}

	out := make([]model.APIKeyResponse, 0, len(keys))
	for _, key := range keys {
		out = append(out, key.ToResponse())
	}
	writeJSON(w, http.StatusOK, map[string]any{"keys": out})
}

// Revoke handles DELETE /api/keys/{id}.
func (h *APIKeyHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	keyID := chi.URLParam(r, "id")

	if err := h.store.RevokeAPIKey(r.Context(), userID, keyID); err != nil {
		if errors.Is(err, repository.ErrAPIKeyNotFound) {
			writeError(w, http.StatusNotFound, CodeNotFound, "API key not found or already revoked")
			return
		}
		h.logger.Error("failed to revoke API key", "error", err)
		writeError(w, http.StatusInternalServerError, CodeInternal, "Failed to revoke API key")
		return
	}

	h.evict(r.Context(), keyID)
	h.logger.Info("API key revoked", "key_id", keyID, "user_id", userID)
	w.WriteHeader(http.StatusNoContent)
}

// Rotate handles POST /api/keys/{id}/rotate. The replacement keeps the
// scopes, tier, name and environment of the old key.
func (h *APIKeyHandler) Rotate(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	keyID := chi.URLParam(r, "id")

	old, err := h.store.GetAPIKeyByID(r.Context(), keyID)
	if err != nil || old.UserID != userID || old.IsRevoked() {
		// Foreign keys look missing to prevent enumeration.
		writeError(w, http.StatusNotFound, CodeNotFound, "API key not found or already revoked")
		return
	}

	generated, err := auth.GenerateAPIKey(keyEnvironment(old.KeyPrefix))
	if err != nil {
		h.logger.Error("failed to generate API key", "error", err)
		writeError(w, http.StatusInternalServerError, CodeInternal, "Failed to generate API key")
		return
	}

	replacement := &model.APIKey{
		ID:            ulid.Make().String(),
		UserID:        userID,
		KeyHash:       generated.Hash,
		KeyPrefix:     generated.Prefix,
		Scopes:        old.Scopes,
		RateLimitTier: old.RateLimitTier,
		Name:          old.Name,
		CreatedAt:     time.Now().UTC(),
	}
	revokedAt, err := h.store.RotateAPIKey(r.Context(), userID, old.ID, replacement)
	if errors.Is(err, repository.ErrAPIKeyNotFound) {
		// Revoked concurrently.
		writeError(w, http.StatusNotFound, CodeNotFound, "API key not found or already revoked")
		return
	}
	if err != nil {
		h.logger.Error("failed to rotate API key", "key_id", old.ID, "error", err)
		writeError(w, http.StatusInternalServerError, CodeInternal, "Failed to rotate API key")
		return
	}

	h.evict(r.Context(), old.ID)
	h.logger.Info("API key rotated",
		"old_key_id", old.ID,
		"new_key_id", replacement.ID,
		"user_id", userID,
	)
	writeJSON(w, http.StatusCreated, model.APIKeyRotateResponse{
		OldKeyID:        old.ID,
		OldKeyRevokedAt: revokedAt,
		NewKey:          createResponse(replacement, generated.Plaintext),
	})
}

// evict is best effort; a cached context expires on its own.
func (h *APIKeyHandler) evict(ctx context.Context, keyID string) {
	if h.invalidator == nil {
		return
	}
	if err := h.invalidator.InvalidateAPIKey(ctx, keyID); err != nil {
		h.logger.Warn("auth cache eviction failed", "key_id", keyID, "error", err)
	}
}

func createResponse(key *model.APIKey, plaintext string) model.APIKeyCreateResponse {
	return model.APIKeyCreateResponse{
		ID:            key.ID,
		Key:           plaintext,
		Name:          key.Name,
		KeyPrefix:     key.KeyPrefix,
		Scopes:        key.Scopes,
		RateLimitTier: key.RateLimitTier,
		CreatedAt:     key.CreatedAt,
	}
}

func callerTier(r *http.Request) string {
	if ac := auth.AuthFromContext(r.Context()); ac != nil && ac.RateLimitTier != "" {
		return ac.RateLimitTier
	}
	return model.TierFree
}

func keyEnvironment(prefix string) string {
	if strings.HasPrefix(prefix, auth.KeyScheme+auth.EnvTest+"_") {
		return auth.EnvTest
	}
	return auth.EnvLive
}
