package trends

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"
	"text/template"

	"github.com/Masterminds/sprig/v3"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/thesisflow/thesisflow/internal/ai"
	"github.com/thesisflow/thesisflow/internal/model"
)

const (
	maxBarWidth       = 40
	topTrendsInReport = 6
	evidenceRows      = 15
	referenceRows     = 20
)

const fallbackTemplate = `# {{ .Query }}: Trends Report

## Executive Summary
- Coverage: {{ percent .Metrics.Coverage }}%
- Diversity: {{ percent .Metrics.Diversity }}%
- Relevance: {{ percent .Metrics.Relevance }}%
- Sources: {{ len .Items }}
{{ if .Clusters }}
## Top Trends
{{- range .Clusters }}
- {{ .Label }} (size {{ .Size }}, score {{ printf "%.2f" .Score }})
{{- end }}
{{ end }}
{{- if .Timeline }}
## Timeline (Yearly)
Year | Count
--- | ---
{{- range .Timeline }}
{{ .Period }} | {{ .Count }}
{{- end }}

` + "```text" + `
{{- range .Bars }}
{{ .Period }} | {{ repeat .Width "#" }} {{ .Count }}
{{- end }}
` + "```" + `
{{ end }}
## Evidence Summary (Top 15)
ID | Title | Year | Source | Link
--- | --- | --- | --- | ---
{{- range $i, $it := .Evidence }}
{{ add1 $i }} | {{ $it.Title | replace "|" "-" }} | {{ $it.Year }} | {{ $it.Source | default "unknown" }} | {{ $it.URL }}
{{- end }}

## References
{{- range $i, $it := .References }}
[{{ add1 $i }}] {{ $it.Title }} ({{ $it.Year }}). {{ $it.URL }}
{{- end }}
`

var reportTmpl = template.Must(template.New("fallback").
	Funcs(sprig.TxtFuncMap()).
	Funcs(template.FuncMap{
		"percent": func(v float64) string { return fmt.Sprintf("%.0f", v*100) },
	}).
	Parse(fallbackTemplate))

var markdown = goldmark.New(goldmark.WithExtensions(extension.GFM))

type bar struct {
	Period string
	Count  int
	Width  int
}

// FallbackReport builds a deterministic markdown report from the collected
// data, used when generation fails.
func FallbackReport(query string, items []Item, m Metrics, clusters []Cluster, timeline []TimelinePoint) (string, error) {
	peak := 1
	for _, t := range timeline {
		peak = max(peak, t.Count)
	}
	bars := make([]bar, len(timeline))
	for i, t := range timeline {
		w := int(float64(t.Count)/float64(peak)*maxBarWidth + 0.5)
		bars[i] = bar{Period: t.Period, Count: t.Count, Width: max(1, w)}
	}

	data := map[string]any{
		"Query":      query,
		"Items":      items,
		"Metrics":    m,
		"Clusters":   TopClusters(clusters, topTrendsInReport),
		"Timeline":   timeline,
		"Bars":       bars,
		"Evidence":   items[:min(evidenceRows, len(items))],
		"References": items[:min(referenceRows, len(items))],
	}

	var buf bytes.Buffer
	if err := reportTmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render fallback report: %w", err)
	}
	return buf.String(), nil
}

// RenderHTML converts report markdown to HTML.
func RenderHTML(md string) (string, error) {
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(md), &buf); err != nil {
		return "", fmt.Errorf("render html: %w", err)
	}
	return buf.String(), nil
}

// WordCount counts whitespace separated words.
func WordCount(s string) int {
	return len(strings.Fields(s))
}

// SynthesisPrompt asks the generator for a trends report over the top items.
func SynthesisPrompt(query, quality string, items []Item) ai.Prompt {
	papers := make([]model.Paper, 0, len(items))
	for _, it := range items[:ai.SourceCount(len(items))] {
		papers = append(papers, model.Paper{Title: it.Title, Abstract: it.Abstract, Year: it.Year, URL: it.URL})
	}

	words, maxTokens := "1000-1500", 2600
	if quality == QualityEnhanced {
		words, maxTokens = "1500-2200", 3200
	}

	user := fmt.Sprintf(`Write a trends-focused scholarly report on %q using ONLY the numbered sources below. Cite inline with [n]. Length %s words.
Include clear headings: Title, Abstract, Background, Recent Trends, Key Findings, Visual Summaries, Limitations, References.
Include an Evidence Summary Table (ID | Study/Source | Year | Method | Scope | Key Finding | Citation), a Timeline Table (Year | Count | Highlights),
an ASCII bar chart of the top 5 trends and an ASCII line chart of the annual trend, each in a text code block.
If data is insufficient, write 'Data not available'. After the body include a numbered References section matching the sources.

Sources:
%s`, query, words, ai.EnumerateSources(papers))

	return ai.Prompt{
		System:      "You are a senior research writer.",
		User:        user,
		MaxTokens:   maxTokens,
		Temperature: 0.25,
	}
}

var slugRe = regexp.MustCompile(`[^a-z0-9]+`)

// Filename is the download name for a job: the slugged query plus -trends.
func Filename(query, ext string) string {
	slug := strings.Trim(slugRe.ReplaceAllString(strings.ToLower(query), "-"), "-")
	if len(slug) > 80 {
		slug = strings.TrimRight(slug[:80], "-")
	}
	if slug == "" {
		slug = "report"
	}
	return slug + "-trends." + ext
}
