package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/thesisflow/thesisflow/internal/auth"
	"github.com/thesisflow/thesisflow/internal/cache"
	"github.com/thesisflow/thesisflow/internal/model"
	"github.com/thesisflow/thesisflow/internal/repository"
)

const (
	// minAuthDuration is the minimum time a failed API key check takes.
	minAuthDuration = 200 * time.Millisecond
)

var errNoCredential = errors.New("no credential")

// AuthConfig holds configuration for the auth middleware.
type AuthConfig struct {
	Logger     *slog.Logger
	Repository *repository.Repository
	Cache      *cache.Cache
	Verifier   *auth.JWTVerifier
}

// Auth returns a middleware that requires a bearer JWT or API key and
// injects the auth context into the request.
func Auth(cfg AuthConfig) func(http.Handler) http.Handler {
	a := newAuthenticator(cfg)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authCtx, err := a.authenticate(r)
			if err != nil {
				a.logFailure(r, err)
				writeAuthError(w)
				return
			}
			noteUser(r.Context(), authCtx.UserID)
			next.ServeHTTP(w, r.WithContext(auth.ContextWithAuth(r.Context(), authCtx)))
		})
	}
}

// OptionalAuth attaches the auth context when a valid credential is
// present and lets anonymous requests through otherwise.
func OptionalAuth(cfg AuthConfig) func(http.Handler) http.Handler {
	a := newAuthenticator(cfg)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authCtx, err := a.authenticate(r)
			if err != nil {
				if !errors.Is(err, errNoCredential) {
					a.logFailure(r, err)
				}
				next.ServeHTTP(w, r)
				return
			}
			noteUser(r.Context(), authCtx.UserID)
			next.ServeHTTP(w, r.WithContext(auth.ContextWithAuth(r.Context(), authCtx)))
		})
	}
}

type authenticator struct {
	logger   *slog.Logger
	repo     *repository.Repository
	cache    *cache.Cache
	verifier *auth.JWTVerifier
}

func newAuthenticator(cfg AuthConfig) *authenticator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &authenticator{
		logger:   logger.With("component", "auth"),
		repo:     cfg.Repository,
		cache:    cfg.Cache,
		verifier: cfg.Verifier,
	}
}

func (a *authenticator) authenticate(r *http.Request) (*model.AuthContext, error) {
	credential := extractCredential(r)
	if credential == "" {
		return nil, errNoCredential
	}
	if auth.LooksLikeAPIKey(credential) {
		return a.authenticateAPIKey(r.Context(), credential)
	}
	return a.authenticateJWT(r.Context(), credential)
}

func (a *authenticator) authenticateJWT(ctx context.Context, token string) (*model.AuthContext, error) {
	if a.verifier == nil {
		return nil, auth.ErrInvalidToken
	}
	claims, err := a.verifier.Verify(token)
	if err != nil {
		return nil, err
	}

	cacheKey := auth.QuickHash(token)
	if cached := a.cachedContext(ctx, cacheKey); cached != nil {
		return cached, nil
	}

	// Bearer tokens may name users this database has not stored yet.
	if a.repo != nil {
		if err := a.repo.EnsureUser(ctx, claims.Subject, claims.Email); err != nil {
			return nil, err
		}
	}

	authCtx := &model.AuthContext{
		Method: model.AuthMethodJWT,
		UserID: claims.Subject,
		Email:  claims.Email,
		Scopes: []string{model.ScopeRead, model.ScopeWrite},
	}
	a.storeContext(ctx, cacheKey, authCtx)
	return authCtx, nil
}

func (a *authenticator) authenticateAPIKey(ctx context.Context, key string) (authCtx *model.AuthContext, err error) {
	start := time.Now()
	defer func() {
		if err == nil {
			return
		}
		if elapsed := time.Since(start); elapsed < minAuthDuration {
			time.Sleep(minAuthDuration - elapsed)
		}
	}()

	parsed, err := auth.ParseAPIKey(key)
	if err != nil {
		return nil, err
	}

	cacheKey := auth.QuickHash(key)
	if cached := a.cachedContext(ctx, cacheKey); cached != nil {
		return cached, nil
	}

	if a.repo == nil {
		return nil, auth.ErrInvalidToken
	}
	keys, err := a.repo.GetAPIKeysByPrefix(ctx, parsed.Prefix)
	if err != nil {
		return nil, err
	}

	// Prefixes can collide; verify each candidate.
	var matched *model.APIKey
	for _, k := range keys {
		ok, err := auth.VerifySecret(key, k.KeyHash)
		if err == nil && ok {
			matched = k
			break
		}
	}
	if matched == nil {
		return nil, repository.ErrAPIKeyNotFound
	}

	authCtx = &model.AuthContext{
		Method:        model.AuthMethodAPIKey,
		KeyID:         matched.ID,
		KeyPrefix:     matched.KeyPrefix,
		UserID:        matched.UserID,
		Scopes:        matched.Scopes,
		RateLimitTier: matched.RateLimitTier,
	}
	a.storeContext(ctx, cacheKey, authCtx)

	// Bookkeeping stays off the request path. Keys hashed under older
	// parameters are upgraded while the plaintext is at hand.
	go func(id, stored string) {
		var rehash string
		if auth.NeedsRehash(stored) {
			if h, err := auth.HashSecret(key); err == nil {
				rehash = h
			}
		}
		bg, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := a.repo.MarkAPIKeyUsed(bg, id, rehash); err != nil {
			a.logger.Warn("api key bookkeeping failed", slog.String("key_id", id), slog.String("error", err.Error()))
		} else if rehash != "" {
			a.logger.Info("api key rehashed", slog.String("key_id", id))
		}
	}(matched.ID, matched.KeyHash)

	return authCtx, nil
}

func (a *authenticator) cachedContext(ctx context.Context, cacheKey string) *model.AuthContext {
	if a.cache == nil {
		return nil
	}
	authCtx, _ := a.cache.GetAuthContext(ctx, cacheKey)
	return authCtx
}

func (a *authenticator) storeContext(ctx context.Context, cacheKey string, authCtx *model.AuthContext) {
	if a.cache == nil {
		return
	}
	if err := a.cache.SetAuthContext(ctx, cacheKey, authCtx); err != nil {
		a.logger.Warn("auth cache write failed", slog.String("error", err.Error()))
	}
}

func (a *authenticator) logFailure(r *http.Request, err error) {
	reason := "invalid_credential"
	switch {
	case errors.Is(err, errNoCredential):
		reason = "missing_credential"
	case errors.Is(err, auth.ErrTokenExpired):
		reason = "token_expired"
	case errors.Is(err, auth.ErrInvalidKeyFormat):
		reason = "invalid_format"
	}
	a.logger.Warn("authentication failed",
		slog.String("reason", reason),
		slog.String("ip", r.RemoteAddr),
		slog.String("endpoint", r.Method+" "+r.URL.Path),
		slog.String("request_id", GetRequestID(r.Context())),
	)
}

// extractCredential reads "Authorization: Bearer <credential>", falling back
// to the X-API-Key header.
func extractCredential(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	return strings.TrimSpace(r.Header.Get("X-API-Key"))
}
