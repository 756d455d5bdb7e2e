package model

import "testing"

func TestServiceFor(t *testing.T) {
	testCases := map[string]string{
		"literature_search":  ServiceExplorer,
		"summarizer":         ServiceSummarizer,
		"text_summary":       ServiceSummarizer,
		"ai_chat":            ServiceAIAssistant,
		"research_assistant": ServiceAIAssistant,
		"ai_generation":      ServiceAIWriting,
		"ai_writing":         ServiceAIWriting,
		"trends_job":         ServiceOther,
	}
	for feature, want := range testCases {
		if got := ServiceFor(feature); got != want {
			t.Errorf("ServiceFor(%q) = %q, want %q", feature, got, want)
		}
	}
}

func TestPerResultBucket(t *testing.T) {
	testCases := []struct {
		n    int
		want string
	}{
		{0, "unknown"}, {1, "1-5"}, {5, "1-5"}, {6, "6-10"}, {10, "6-10"},
		{11, "11-20"}, {20, "11-20"}, {21, "21-50"}, {50, "21-50"}, {51, "51+"},
	}
	for _, tc := range testCases {
		if got := PerResultBucket(tc.n); got != tc.want {
			t.Errorf("PerResultBucket(%d) = %q, want %q", tc.n, got, tc.want)
		}
	}
}

func TestUsageEvent_Dimensions(t *testing.T) {
	e := &UsageEvent{Feature: "literature_search", Provider: " OpenAlex ", PerResult: 25}
	d := e.Dimensions()
	if d.Service != ServiceExplorer || d.Provider != "openalex" || d.Model != "other" || d.PerResultBucket != "21-50" {
		t.Errorf("unexpected dimensions %+v", d)
	}
}
