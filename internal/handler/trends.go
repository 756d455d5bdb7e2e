package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/thesisflow/thesisflow/internal/trends"
)

// heartbeatInterval keeps idle SSE connections open through proxies.
const heartbeatInterval = 15 * time.Second

// TrendsSubmitter starts trends jobs. *trends.Runner satisfies it.
type TrendsSubmitter interface {
	Submit(userID, query string, timeframeMonths int, quality string) (*trends.Job, error)
}

// TrendsJobs reads job snapshots. *trends.Store satisfies it.
type TrendsJobs interface {
	Get(id string) (*trends.Job, bool)
}

// TrendsEvents streams job events. *trends.Hub satisfies it.
type TrendsEvents interface {
	Subscribe(jobID string) (<-chan trends.Event, func(), error)
}

// TrendsHandler serves /api/trends/jobs.
type TrendsHandler struct {
	runner    TrendsSubmitter
	jobs      TrendsJobs
	events    TrendsEvents
	heartbeat time.Duration
	logger    *slog.Logger
}

// NewTrendsHandler creates a TrendsHandler.
func NewTrendsHandler(runner TrendsSubmitter, jobs TrendsJobs, events TrendsEvents, logger *slog.Logger) *TrendsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &TrendsHandler{
		runner:    runner,
		jobs:      jobs,
		events:    events,
		heartbeat: heartbeatInterval,
		logger:    logger.With("component", "handler.trends"),
	}
}

type createTrendsRequest struct {
	Query           string `json:"query"`
	TimeframeMonths int    `json:"timeframeMonths"`
	Quality         string `json:"quality"`
}

// Create handles POST /api/trends/jobs.
func (h *TrendsHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req createTrendsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, msgInvalidBody)
		return
	}

	job, err := h.runner.Submit(userID, req.Query, req.TimeframeMonths, req.Quality)
	if err != nil {
		if errors.Is(err, trends.ErrQueryTooShort) {
			writeError(w, http.StatusBadRequest, CodeInvalidRequest, "Query must be at least 3 characters long")
			return
		}
		h.logger.Error("failed to submit trends job", "user_id", userID, "error", err)
		writeError(w, http.StatusServiceUnavailable, CodeInternal, "Failed to start job")
		return
	}

	h.logger.Info("trends job queued", "job_id", job.ID, "user_id", userID)
	writeJSON(w, http.StatusAccepted, map[string]string{"jobId": job.ID})
}

// Get handles GET /api/trends/jobs/{id}.
func (h *TrendsHandler) Get(w http.ResponseWriter, r *http.Request) {
	job, ok := h.ownedJob(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// Events handles GET /api/trends/jobs/{id}/events as a server-sent event
// stream. It ends after done or error, or when the client goes away.
func (h *TrendsHandler) Events(w http.ResponseWriter, r *http.Request) {
	job, ok := h.ownedJob(w, r)
	if !ok {
		return
	}

	events, cancel, err := h.events.Subscribe(job.ID)
	if err != nil {
		writeError(w, http.StatusNotFound, CodeNotFound, "Job not found")
		return
	}
	defer cancel()

	rc := http.NewResponseController(w)
	// The stream outlives the server write timeout.
	_ = rc.SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	_ = rc.Flush()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": heartbeat\n\n"); err != nil {
				return
			}
			_ = rc.Flush()
		case ev, open := <-events:
			if !open {
				return
			}
			if err := writeEvent(w, ev); err != nil {
				h.logger.Debug("sse write failed", "job_id", job.ID, "error", err)
				return
			}
			_ = rc.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, ev trends.Event) error {
	data, err := json.Marshal(ev.Data)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
	return err
}

// Download handles GET /api/trends/jobs/{id}/download?format=md|markdown|html.
func (h *TrendsHandler) Download(w http.ResponseWriter, r *http.Request) {
	job, ok := h.ownedJob(w, r)
	if !ok {
		return
	}

	format := strings.ToLower(r.URL.Query().Get("format"))
	if format == "" {
		format = "md"
	}

	var body, contentType, ext string
	switch format {
	case "md", "markdown":
		contentType, ext = "text/markdown; charset=utf-8", "md"
	case "html":
		contentType, ext = "text/html; charset=utf-8", "html"
	default:
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "Unsupported format")
		return
	}

	if job.Report == nil {
		writeError(w, http.StatusConflict, CodeConflict, "Report not ready")
		return
	}
	if ext == "md" {
		body = job.Report.Markdown
	} else {
		body = job.Report.HTML
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", trends.Filename(job.Query, ext)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(body))
}

// ownedJob loads the job named in the path. Unknown jobs are 404; jobs of
// other users are 403.
func (h *TrendsHandler) ownedJob(w http.ResponseWriter, r *http.Request) (*trends.Job, bool) {
	userID, ok := requireUser(w, r)
	if !ok {
		return nil, false
	}
	job, found := h.jobs.Get(chi.URLParam(r, "id"))
	if !found {
		writeError(w, http.StatusNotFound, CodeNotFound, "Job not found")
		return nil, false
	}
	if job.UserID != userID {
		writeError(w, http.StatusForbidden, CodeForbidden, "Forbidden")
		return nil, false
	}
	return job, true
}
