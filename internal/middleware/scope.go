package middleware

import (
	"net/http"
	"slices"
	"strings"

	"github.com/thesisflow/thesisflow/internal/auth"
	"github.com/thesisflow/thesisflow/internal/model"
)

// RequireScope lets the request through when the caller holds any of
// scopes. It must run after Auth or OptionalAuth.
func RequireScope(scopes ...string) func(http.Handler) http.Handler {
	denied := "Insufficient permissions. Required scope: " + strings.Join(scopes, " or ")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ac := auth.AuthFromContext(r.Context())
			switch {
			case ac == nil:
				writeAuthError(w)
			case slices.ContainsFunc(scopes, ac.HasScope):
				next.ServeHTTP(w, r)
			default:
				writeError(w, http.StatusForbidden, CodeForbidden, denied)
			}
		})
	}
}

func RequireRead() func(http.Handler) http.Handler  { return RequireScope(model.ScopeRead) }
func RequireWrite() func(http.Handler) http.Handler { return RequireScope(model.ScopeWrite) }
func RequireAdmin() func(http.Handler) http.Handler { return RequireScope(model.ScopeAdmin) }

// RequireUser rejects anonymous callers on routes mounted behind
// OptionalAuth.
func RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if auth.UserIDFromContext(r.Context()) == "" {
			writeAuthError(w)
			return
		}
		next.ServeHTTP(w, r)
	})
}
