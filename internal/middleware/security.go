// Package middleware holds the HTTP middleware of the API: authentication,
// throttling, token metering and the common request plumbing.
package middleware

import (
	"net/http"
)

// SecurityConfig controls the hardening headers.
type SecurityConfig struct {
	// IsDevelopment skips HSTS so local plain HTTP keeps working.
	IsDevelopment bool
}

var hardeningHeaders = [][2]string{
	{"X-Content-Type-Options", "nosniff"},
	{"X-Frame-Options", "DENY"},
	{"X-XSS-Protection", "0"},
	{"Referrer-Policy", "strict-origin-when-cross-origin"},
	{"Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'"},
	{"Permissions-Policy", "geolocation=(), microphone=(), camera=(), payment=(), usb=()"},
	{"Cache-Control", "no-store"},
}

const hsts = "max-age=31536000; includeSubDomains; preload"

// Security sets the hardening headers before the handler runs. Report
// downloads and event streams overwrite Cache-Control and
// Content-Security-Policy themselves.
func Security(cfg SecurityConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			for _, kv := range hardeningHeaders {
				h.Set(kv[0], kv[1])
			}
			if !cfg.IsDevelopment {
				h.Set("Strict-Transport-Security", hsts)
			}
			h.Del("Server")
			next.ServeHTTP(w, r)
		})
	}
}

// MaxBodySize caps request bodies at maxBytes. A declared Content-Length
// over the cap is refused up front; chunked bodies fail on read.
func MaxBodySize(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > maxBytes {
				writeError(w, http.StatusRequestEntityTooLarge, CodePayloadTooLarge, "Request body too large")
				return
			}
			if r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			}
			next.ServeHTTP(w, r)
		})
	}
}
