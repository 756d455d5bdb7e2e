package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParseRequestContext(t *testing.T) {
	tests := []struct {
		name   string
		method string
		target string
		body   string
		header map[string]string
		want   map[string]any
	}{
		{
			name:   "query parameters",
			method: http.MethodGet,
			target: "/api/literature-search?query=x&limit=80&deep_search=true&quality=Enhanced",
			want: map[string]any{
				"per_result":   50,
				"deep_search":  true,
				"quality":      "enhanced",
				"high_quality": true,
			},
		},
		{
			name:   "json body overrides query",
			method: http.MethodPost,
			target: "/api/topics/report?quality=high",
			body:   `{"quality":"standard","limit":12,"origin":"topics","feature":"report","model":"Gemini"}`,
			header: map[string]string{"Content-Type": "application/json"},
			want: map[string]any{
				"per_result": 12,
				"quality":    "standard",
				"origin":     "topics",
				"feature":    "report",
				"model":      "Gemini",
			},
		},
		{
			name:   "deep review counts as high quality",
			method: http.MethodPost,
			target: "/api/ai/chat",
			body:   `{"quality":"deep-review"}`,
			header: map[string]string{"Content-Type": "application/json"},
			want:   map[string]any{"quality": "deep-review", "high_quality": true},
		},
		{
			name:   "idempotency key header",
			method: http.MethodPost,
			target: "/api/ai/chat",
			header: map[string]string{"Idempotency-Key": "abc-1"},
			want:   map[string]any{"idempotency_key": "abc-1"},
		},
		{
			name:   "non json body ignored",
			method: http.MethodPost,
			target: "/api/ai/chat",
			body:   `limit=5`,
			header: map[string]string{"Content-Type": "text/plain"},
			want:   map[string]any{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			req := httptest.NewRequest(tt.method, tt.target, strings.NewReader(tt.body))
			for k, v := range tt.header {
				req.Header.Set(k, v)
			}

			got := ParseRequestContext(req)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("context mismatch (-want +got):\n%s", diff)
			}

			// The handler still sees the whole body.
			rest, err := io.ReadAll(req.Body)
			if err != nil {
				t.Fatalf("read body: %v", err)
			}
			if string(rest) != tt.body {
				t.Errorf("body after parse = %q, want %q", rest, tt.body)
			}
		})
	}
}

func TestMergeContext(t *testing.T) {
	t.Parallel()
	base := map[string]any{"origin": "explorer", "per_result": 10}
	extra := map[string]any{"origin": "trends"}

	got := mergeContext(base, extra)
	want := map[string]any{"origin": "trends", "per_result": 10}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("merge mismatch (-want +got):\n%s", diff)
	}
	if base["origin"] != "explorer" {
		t.Error("base map was modified")
	}
}
