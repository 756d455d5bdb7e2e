package auth

import (
	"context"

	"github.com/thesisflow/thesisflow/internal/model"
)

type authKey struct{}

// ContextWithAuth attaches the authenticated caller to ctx.
func ContextWithAuth(ctx context.Context, ac *model.AuthContext) context.Context {
	return context.WithValue(ctx, authKey{}, ac)
}

// AuthFromContext returns the caller, or nil for anonymous requests.
func AuthFromContext(ctx context.Context) *model.AuthContext {
	ac, _ := ctx.Value(authKey{}).(*model.AuthContext)
	return ac
}

// UserIDFromContext returns the caller's user id, empty when anonymous.
// Handlers take the user from here and never from the request body.
func UserIDFromContext(ctx context.Context) string {
	if ac := AuthFromContext(ctx); ac != nil {
		return ac.UserID
	}
	return ""
}

// EmailFromContext returns the email a bearer token carried. API key
// callers have none.
func EmailFromContext(ctx context.Context) string {
	if ac := AuthFromContext(ctx); ac != nil {
		return ac.Email
	}
	return ""
}
