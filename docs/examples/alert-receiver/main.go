// Alert receiver example.
//
// A minimal endpoint that verifies ThesisFlow usage alerts.
//
// Usage:
//
//	export THESISFLOW_ALERT_SECRET="whsec_your_secret_here"
//	go run ./docs/examples/alert-receiver
//
// Then register http://your-server:9000/alerts with POST /api/alerts/endpoints.
package main

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/thesisflow/thesisflow/internal/alert"
	"github.com/thesisflow/thesisflow/internal/model"
)

func main() {
	secret := os.Getenv("THESISFLOW_ALERT_SECRET")
	if secret == "" {
		slog.Error("THESISFLOW_ALERT_SECRET environment variable is required")
		os.Exit(1)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /alerts", alertHandler(secret, slog.Default()))
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	slog.Info("starting alert receiver", "addr", ":9000")
	srv := &http.Server{Addr: ":9000", Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	if err := srv.ListenAndServe(); err != nil {
		slog.Error("receiver stopped", "error", err)
		os.Exit(1)
	}
}

func alertHandler(secret string, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
		if err != nil {
			http.Error(w, "Bad request", http.StatusBadRequest)
			return
		}

		ts, err := strconv.ParseInt(r.Header.Get(alert.HeaderTimestamp), 10, 64)
		if err != nil {
			http.Error(w, "Missing timestamp", http.StatusUnauthorized)
			return
		}
		sig := r.Header.Get(alert.HeaderSignature)
		if err := alert.ValidateSignature(secret, sig, ts, body, alert.DefaultReplayWindow, time.Now()); err != nil {
			logger.Warn("rejected alert", "error", err)
			http.Error(w, "Invalid signature", http.StatusUnauthorized)
			return
		}

		var payload model.AlertPayload
		if err := json.Unmarshal(body, &payload); err != nil {
			http.Error(w, "Invalid JSON", http.StatusBadRequest)
			return
		}

		// Deliveries are retried, so dedupe on the delivery id in real receivers.
		logger.Info("alert received",
			"event", payload.EventType,
			"event_id", payload.EventID,
			"delivery_id", r.Header.Get(alert.HeaderDeliveryID),
			"data", payload.Data,
		)
		w.WriteHeader(http.StatusNoContent)
	}
}
