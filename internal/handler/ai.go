package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/thesisflow/thesisflow/internal/ai"
	"github.com/thesisflow/thesisflow/internal/model"
)

// AIHandler serves report generation and the assistant chat.
type AIHandler struct {
	gen    ai.Generator
	logger *slog.Logger
}

// NewAIHandler creates an AIHandler.
func NewAIHandler(gen ai.Generator, logger *slog.Logger) *AIHandler {
	if gen == nil {
		gen = ai.Unavailable{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AIHandler{gen: gen, logger: logger.With("component", "handler.ai")}
}

type topicsReportRequest struct {
	Query   string        `json:"query"`
	Papers  []model.Paper `json:"papers"`
	Quality string        `json:"quality"`
}

// TopicsReport handles POST /api/topics/report.
func (h *AIHandler) TopicsReport(w http.ResponseWriter, r *http.Request) {
	var req topicsReportRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, msgInvalidBody)
		return
	}
	req.Query = strings.TrimSpace(req.Query)
	if req.Query == "" || len(req.Papers) == 0 {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "query and papers are required")
		return
	}

	content, err := ai.TopicsReport(r.Context(), h.gen, req.Query, req.Papers, req.Quality)
	if err != nil {
		h.logger.Error("topics report failed", "query", req.Query, "papers", len(req.Papers), "error", err)
		writeError(w, http.StatusInternalServerError, CodeUpstream, "Report generation failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "content": content})
}

type chatRequest struct {
	Messages []ai.Message `json:"messages"`
}

// Chat handles POST /api/ai/chat.
func (h *AIHandler) Chat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, msgInvalidBody)
		return
	}

	reply, err := ai.Reply(r.Context(), h.gen, req.Messages)
	switch {
	case errors.Is(err, ai.ErrNoUserMessage):
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "messages must include a user message")
		return
	case err != nil:
		h.logger.Error("chat reply failed", "messages", len(req.Messages), "error", err)
		writeError(w, http.StatusInternalServerError, CodeUpstream, "Assistant unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"reply": reply})
}
