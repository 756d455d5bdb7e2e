package model

import (
	"strconv"
	"strings"
	"time"
)

// Service buckets used on usage dashboards.
const (
	ServiceExplorer    = "explorer"
	ServiceSummarizer  = "summarizer"
	ServiceAIAssistant = "ai_assistant"
	ServiceAIWriting   = "ai_writing"
	ServiceOther       = "other"
)

// UsageEvent is published to the usage stream after a successful deduct.
type UsageEvent struct {
	TransactionID string    `json:"transaction_id"`
	UserID        string    `json:"user_id"`
	Feature       string    `json:"feature"`
	Tokens        int       `json:"tokens"`
	Provider      string    `json:"provider,omitempty"`
	Model         string    `json:"model,omitempty"`
	Origin        string    `json:"origin,omitempty"`
	Quality       string    `json:"quality,omitempty"`
	PerResult     int       `json:"per_result,omitempty"`
	Cost          float64   `json:"cost,omitempty"`
	LatencyMS     int64     `json:"latency_ms,omitempty"`
	Failed        bool      `json:"failed,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// Dimensions returns the normalized rollup key columns for the event.
func (e *UsageEvent) Dimensions() UsageDimensions {
	return UsageDimensions{
		Service:         ServiceFor(e.Feature),
		Provider:        NormalizeLabel(e.Provider),
		Model:           NormalizeLabel(e.Model),
		Feature:         NormalizeLabel(e.Feature),
		Origin:          NormalizeLabel(e.Origin),
		Quality:         NormalizeLabel(e.Quality),
		PerResultBucket: PerResultBucket(e.PerResult),
	}
}

// UsageDimensions are the grouping columns of usage_daily.
type UsageDimensions struct {
	Service         string
	Provider        string
	Model           string
	Feature         string
	Origin          string
	Quality         string
	PerResultBucket string
}

// ServiceFor maps a feature name onto a dashboard service bucket.
func ServiceFor(feature string) string {
	f := strings.ToLower(feature)
	switch {
	case strings.Contains(f, "literature"):
		return ServiceExplorer
	case strings.Contains(f, "summar"):
		return ServiceSummarizer
	case strings.Contains(f, "assistant"), strings.Contains(f, "chat"):
		return ServiceAIAssistant
	case strings.Contains(f, "generation"), strings.Contains(f, "write"), strings.Contains(f, "writing"):
		return ServiceAIWriting
	default:
		return ServiceOther
	}
}

// NormalizeLabel lowercases a label and defaults empty values to "other".
func NormalizeLabel(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return ServiceOther
	}
	return s
}

// PerResultBucket groups requested result counts for charts.
func PerResultBucket(n int) string {
	switch {
	case n <= 0:
		return "unknown"
	case n <= 5:
		return "1-5"
	case n <= 10:
		return "6-10"
	case n <= 20:
		return "11-20"
	case n <= 50:
		return "21-50"
	default:
		return "51+"
	}
}

// PerResultFromContext reads per_result from a decoded operation context.
func PerResultFromContext(ctx map[string]any) int {
	switch v := ctx["per_result"].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case string:
		n, _ := strconv.Atoi(v)
		return n
	}
	return 0
}

// StringFromContext reads a string entry from a decoded operation context.
func StringFromContext(ctx map[string]any, key string) string {
	if s, ok := ctx[key].(string); ok {
		return s
	}
	return ""
}
