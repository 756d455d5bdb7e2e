package trends

import (
	"strings"
	"testing"
)

func TestFallbackReport(t *testing.T) {
	items := []Item{
		{Title: "A | B study", Year: "2023", Source: "openalex", URL: "https://x/1"},
		{Title: "Second", Year: "2024", URL: "https://x/2"},
	}
	md, err := FallbackReport("soil carbon", items,
		Metrics{Coverage: 0.1, Diversity: 0.4, Relevance: 0.75, Sources: 2},
		[]Cluster{{Label: "soil, carbon", Size: 2, Score: 0.7}},
		[]TimelinePoint{{Period: "2023", Count: 1}, {Period: "2024", Count: 2}},
	)
	if err != nil {
		t.Fatalf("FallbackReport: %v", err)
	}

	for _, want := range []string{
		"# soil carbon: Trends Report",
		"- Coverage: 10%",
		"- Relevance: 75%",
		"- Sources: 2",
		"## Top Trends",
		"- soil, carbon (size 2, score 0.70)",
		"2023 | 1",
		"2024 | " + strings.Repeat("#", 40) + " 2",
		"2023 | " + strings.Repeat("#", 20) + " 1",
		"1 | A - B study | 2023 | openalex | https://x/1",
		"2 | Second | 2024 | unknown | https://x/2",
		"[2] Second (2024). https://x/2",
	} {
		if !strings.Contains(md, want) {
			t.Errorf("report missing %q:\n%s", want, md)
		}
	}
}

func TestFallbackReport_Empty(t *testing.T) {
	md, err := FallbackReport("q", nil, Metrics{}, nil, nil)
	if err != nil {
		t.Fatalf("FallbackReport: %v", err)
	}
	if strings.Contains(md, "## Top Trends") || strings.Contains(md, "## Timeline") {
		t.Errorf("empty sections should be omitted:\n%s", md)
	}
}

func TestRenderHTML(t *testing.T) {
	html, err := RenderHTML("# Title\n\n| a | b |\n|---|---|\n| 1 | 2 |\n")
	if err != nil {
		t.Fatalf("RenderHTML: %v", err)
	}
	if !strings.Contains(html, "<h1>Title</h1>") || !strings.Contains(html, "<table>") {
		t.Errorf("unexpected html:\n%s", html)
	}
}

func TestFilename(t *testing.T) {
	tests := map[string]string{
		"Graph Neural Networks!": "graph-neural-networks-trends.md",
		"  ---  ":                "report-trends.md",
	}
	for in, want := range tests {
		if got := Filename(in, "md"); got != want {
			t.Errorf("Filename(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSynthesisPrompt(t *testing.T) {
	items := make([]Item, 25)
	for i := range items {
		items[i] = Item{Title: "t"}
	}
	p := SynthesisPrompt("q", QualityEnhanced, items)
	if p.MaxTokens != 3200 || !strings.Contains(p.User, "1500-2200") || !strings.Contains(p.User, "[20] t") || strings.Contains(p.User, "[21]") {
		t.Errorf("unexpected enhanced prompt: max=%d", p.MaxTokens)
	}
	if p := SynthesisPrompt("q", "", items[:3]); p.MaxTokens != 2600 || !strings.Contains(p.User, "1000-1500") {
		t.Errorf("unexpected standard prompt: max=%d", p.MaxTokens)
	}
}
