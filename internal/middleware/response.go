package middleware

import (
	"encoding/json"
	"net/http"
)

// Error codes shared with handler responses.
const (
	CodeUnauthorized       = "UNAUTHORIZED"
	CodeForbidden          = "FORBIDDEN"
	CodeRateLimited        = "RATE_LIMIT_EXCEEDED"
	CodeDeductionFailed    = "TOKEN_DEDUCTION_FAILED"
	CodeTokenValidation    = "TOKEN_VALIDATION_FAILED"
	CodePayloadTooLarge    = "PAYLOAD_TOO_LARGE"
	CodeInternal           = "INTERNAL_ERROR"
	msgAuthRequired        = "Authentication required"
	msgInternalError       = "Internal server error"
	msgTokenValidationFail = "Token validation failed"
)

// errorBody is the {"error","code"} shape every failure uses.
type errorBody struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorBody{Error: message, Code: code})
}

// writeAuthError writes a 401. The message is the same for every failure.
func writeAuthError(w http.ResponseWriter) {
	writeError(w, http.StatusUnauthorized, CodeUnauthorized, msgAuthRequired)
}
