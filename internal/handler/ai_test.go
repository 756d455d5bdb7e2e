package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/thesisflow/thesisflow/internal/ai"
)

func TestAIHandler_TopicsReport(t *testing.T) {
	var calls atomic.Int32
	gen := ai.GeneratorFunc(func(_ context.Context, p ai.Prompt) (string, error) {
		calls.Add(1)
		return "section\n", nil
	})
	h := NewAIHandler(gen, nil)

	body := `{"query":"protein folding","papers":[{"title":"AlphaFold","year":"2021"}],"quality":"Enhanced"}`
	rec := httptest.NewRecorder()
	h.TopicsReport(rec, httptest.NewRequest(http.MethodPost, "/api/topics/report", jsonBody(body)))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if calls.Load() != 3 {
		t.Errorf("expected three generator passes, got %d", calls.Load())
	}
	resp := decodeMap(t, rec)
	content, _ := resp["content"].(string)
	if resp["success"] != true || !strings.HasPrefix(content, "# protein folding: Evidence-Grounded Review") {
		t.Errorf("unexpected response: %v", resp)
	}
}

func TestAIHandler_TopicsReportErrors(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		gen      ai.Generator
		wantCode int
		wantMsg  string
	}{
		{"missing papers", `{"query":"protein folding"}`, nil, http.StatusBadRequest, "query and papers are required"},
		{"blank query", `{"query":"  ","papers":[{"title":"x"}]}`, nil, http.StatusBadRequest, "query and papers are required"},
		{"bad json", `[`, nil, http.StatusBadRequest, "Invalid request body"},
		{"no generator", `{"query":"protein folding","papers":[{"title":"x"}]}`, nil, http.StatusInternalServerError, "Report generation failed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewAIHandler(tt.gen, nil)
			rec := httptest.NewRecorder()
			h.TopicsReport(rec, httptest.NewRequest(http.MethodPost, "/api/topics/report", jsonBody(tt.body)))

			if rec.Code != tt.wantCode {
				t.Fatalf("expected %d, got %d", tt.wantCode, rec.Code)
			}
			if body := decodeMap(t, rec); body["error"] != tt.wantMsg {
				t.Errorf("error = %v", body["error"])
			}
		})
	}
}

func TestAIHandler_Chat(t *testing.T) {
	var got ai.Prompt
	h := NewAIHandler(ai.GeneratorFunc(func(_ context.Context, p ai.Prompt) (string, error) {
		got = p
		return "Try a scoping review.", nil
	}), nil)

	body := `{"messages":[{"role":"user","content":"hi"},{"role":"assistant","content":"hello"},{"role":"user","content":"how do I start?"}]}`
	rec := httptest.NewRecorder()
	h.Chat(rec, httptest.NewRequest(http.MethodPost, "/api/ai/chat", jsonBody(body)))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if got.User != "how do I start?" || len(got.History) != 2 {
		t.Errorf("unexpected prompt: %+v", got)
	}
	if resp := decodeMap(t, rec); resp["reply"] != "Try a scoping review." {
		t.Errorf("unexpected reply: %v", resp)
	}
}

func TestAIHandler_ChatErrors(t *testing.T) {
	failing := ai.GeneratorFunc(func(context.Context, ai.Prompt) (string, error) {
		return "", errors.New("quota exceeded")
	})

	tests := []struct {
		name     string
		body     string
		wantCode int
	}{
		{"no user message", `{"messages":[{"role":"assistant","content":"hello"}]}`, http.StatusBadRequest},
		{"empty", `{}`, http.StatusBadRequest},
		{"upstream failure", `{"messages":[{"role":"user","content":"hi"}]}`, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			NewAIHandler(failing, nil).Chat(rec, httptest.NewRequest(http.MethodPost, "/api/ai/chat", jsonBody(tt.body)))
			if rec.Code != tt.wantCode {
				t.Errorf("expected %d, got %d", tt.wantCode, rec.Code)
			}
		})
	}
}
