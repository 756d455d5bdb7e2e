package middleware

import (
	"log/slog"
	"net/http"
	"runtime/debug"
)

// Recoverer answers a panicking handler with a 500 and logs the stack.
// http.ErrAbortHandler is re-raised so net/http can drop the connection.
func Recoverer(logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "recoverer")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				switch v := recover(); v {
				case nil:
				case http.ErrAbortHandler:
					panic(v)
				default:
					logger.Error("handler panic",
						"request_id", GetRequestID(r.Context()),
						"method", r.Method,
						"path", r.URL.Path,
						"panic", v,
						"stack", string(debug.Stack()),
					)
					writeError(w, http.StatusInternalServerError, CodeInternal, msgInternalError)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
