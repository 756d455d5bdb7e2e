package middleware

import (
	"net"
	"net/http"
	"strings"
)

const defaultClientIP = "127.0.0.1"

// forwardedIP returns the caller address reported by a proxy header.
func forwardedIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	if ip := strings.TrimSpace(r.Header.Get("CF-Connecting-IP")); ip != "" {
		return ip
	}
	return ""
}

// ClientIP resolves the address recorded on token transactions.
func ClientIP(r *http.Request) string {
	if ip := forwardedIP(r); ip != "" {
		return ip
	}
	return defaultClientIP
}

// peerIP is ClientIP with the socket address as the last resort. Used for
// throttling, where collapsing every caller to one address would be wrong.
func peerIP(r *http.Request) string {
	if ip := forwardedIP(r); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// UserAgent returns the request user agent or "Unknown".
func UserAgent(r *http.Request) string {
	if ua := r.UserAgent(); ua != "" {
		return ua
	}
	return "Unknown"
}
