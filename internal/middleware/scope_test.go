package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/thesisflow/thesisflow/internal/auth"
	"github.com/thesisflow/thesisflow/internal/model"
)

func passThrough() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
}

func serveAs(h http.Handler, ac *model.AuthContext) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/api/keys", nil)
	if ac != nil {
		req = req.WithContext(auth.ContextWithAuth(req.Context(), ac))
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func apiKeyCaller(scopes ...string) *model.AuthContext {
	return &model.AuthContext{Method: model.AuthMethodAPIKey, KeyID: "k1", UserID: "u1", Scopes: scopes}
}

func TestScopeGuards(t *testing.T) {
	t.Parallel()

	// Bearer token users get read and write.
	jwtUser := &model.AuthContext{Method: model.AuthMethodJWT, UserID: "u1", Scopes: []string{model.ScopeRead, model.ScopeWrite}}

	callers := map[string]*model.AuthContext{
		"jwt":   jwtUser,
		"read":  apiKeyCaller(model.ScopeRead),
		"write": apiKeyCaller(model.ScopeWrite),
		"admin": apiKeyCaller(model.ScopeAdmin),
		"none":  apiKeyCaller(),
	}
	guards := map[string]func() func(http.Handler) http.Handler{
		"RequireRead":  RequireRead,
		"RequireWrite": RequireWrite,
		"RequireAdmin": RequireAdmin,
	}
	allowed := map[string]map[string]bool{
		"RequireRead":  {"jwt": true, "read": true, "admin": true},
		"RequireWrite": {"jwt": true, "write": true, "admin": true},
		"RequireAdmin": {"admin": true},
	}

	for guardName, guard := range guards {
		h := guard()(passThrough())
		for callerName, caller := range callers {
			t.Run(guardName+"/"+callerName, func(t *testing.T) {
				t.Parallel()
				want := http.StatusForbidden
				if allowed[guardName][callerName] {
					want = http.StatusOK
				}
				if rec := serveAs(h, caller); rec.Code != want {
					t.Errorf("status = %d, want %d", rec.Code, want)
				}
			})
		}
	}
}

func TestRequireScope_AnyOf(t *testing.T) {
	t.Parallel()

	h := RequireScope(model.ScopeWrite, model.ScopeRead)(passThrough())
	if rec := serveAs(h, apiKeyCaller(model.ScopeRead)); rec.Code != http.StatusOK {
		t.Errorf("second listed scope should suffice, got %d", rec.Code)
	}

	rec := serveAs(RequireScope(model.ScopeAdmin)(passThrough()), apiKeyCaller(model.ScopeRead, model.ScopeWrite))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decodeError(t, rec)
	if body.Code != CodeForbidden || body.Error != "Insufficient permissions. Required scope: admin" {
		t.Errorf("body = %+v", body)
	}
}

func TestRequireScope_Anonymous(t *testing.T) {
	t.Parallel()

	if rec := serveAs(RequireRead()(passThrough()), nil); rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestRequireUser(t *testing.T) {
	t.Parallel()

	h := RequireUser(passThrough())
	rec := serveAs(h, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("anonymous status = %d", rec.Code)
	}
	if got := decodeError(t, rec); got.Error != "Authentication required" {
		t.Errorf("error = %q", got.Error)
	}
	if rec := serveAs(h, &model.AuthContext{UserID: "u1", Method: model.AuthMethodJWT}); rec.Code != http.StatusOK {
		t.Errorf("authenticated status = %d", rec.Code)
	}
}
