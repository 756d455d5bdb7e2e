// Package handler provides HTTP request handlers.
//
// Every failure is written as {"error": message, "code": CODE}. Handlers
// read the caller with auth.UserIDFromContext and never trust ids in the
// request body.
package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/thesisflow/thesisflow/internal/auth"
)

// Error codes used in handler responses.
const (
	CodeInvalidRequest   = "INVALID_REQUEST"
	CodeUnauthorized     = "UNAUTHORIZED"
	CodeForbidden        = "FORBIDDEN"
	CodeNotFound         = "NOT_FOUND"
	CodeMethodNotAllowed = "METHOD_NOT_ALLOWED"
	CodeConflict         = "CONFLICT"
	CodeRateLimited      = "RATE_LIMIT_EXCEEDED"
	CodeUsageLimit       = "USAGE_LIMIT_EXCEEDED"
	CodeUpstream         = "UPSTREAM_ERROR"
	CodeInternal         = "INTERNAL_ERROR"
)

const (
	msgAuthRequired = "Authentication required"
	msgInvalidBody  = "Invalid request body"
	msgInternal     = "Internal server error"
)

// Handler serves the root and fallback routes.
type Handler struct {
	version string
}

// New creates a new Handler instance.
func New(version string) *Handler {
	if version == "" {
		version = "dev"
	}
	return &Handler{version: version}
}

// Hello identifies the service.
// GET /
func (h *Handler) Hello(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"service": "thesisflow",
		"version": h.version,
	})
}

// NotFound handles 404 responses.
func (h *Handler) NotFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusNotFound, CodeNotFound, "Resource not found")
}

// MethodNotAllowed handles 405 responses.
func (h *Handler) MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusMethodNotAllowed, CodeMethodNotAllowed, "Method not allowed")
}

type errorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: message, Code: code})
}

func writeErrorDetails(w http.ResponseWriter, status int, code, message string, details any) {
	writeJSON(w, status, errorResponse{Error: message, Code: code, Details: details})
}

// requireUser returns the caller or writes a 401.
func requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := auth.UserIDFromContext(r.Context())
	if userID == "" {
		writeError(w, http.StatusUnauthorized, CodeUnauthorized, msgAuthRequired)
		return "", false
	}
	return userID, true
}

// decodeJSON reads a JSON body into v. An empty body leaves v untouched.
func decodeJSON(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// queryInt parses a query parameter, returning def when absent or invalid.
func queryInt(r *http.Request, name string, def int) int {
	s := r.URL.Query().Get(name)
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}
