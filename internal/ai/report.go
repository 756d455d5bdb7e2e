package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/thesisflow/thesisflow/internal/model"
)

// Stage budgets for the topics report.
const (
	CurationTimeout  = 60 * time.Second
	AnalysisTimeout  = 90 * time.Second
	SynthesisTimeout = 90 * time.Second
)

const (
	minReportSources = 8
	maxReportSources = 20
	reportTemp       = 0.3
	maxAbstractChars = 600
)

// ErrStageTimeout is returned when a report stage exceeds its budget.
var ErrStageTimeout = errors.New("stage timed out")

// ErrNoUserMessage is returned by Reply when nothing is left to answer.
var ErrNoUserMessage = errors.New("no user message")

// QualityEnhanced selects the longer report variants.
const QualityEnhanced = "Enhanced"

// SourceCount is the number of papers a report is built from.
func SourceCount(n int) int {
	return min(n, min(maxReportSources, max(minReportSources, n)))
}

// EnumerateSources renders papers as a numbered list for prompts.
func EnumerateSources(papers []model.Paper) string {
	var b strings.Builder
	for i, p := range papers {
		fmt.Fprintf(&b, "[%d] %s", i+1, p.Title)
		if p.Year != "" {
			fmt.Fprintf(&b, " (%s)", p.Year)
		}
		if len(p.Authors) > 0 {
			fmt.Fprintf(&b, " by %s", strings.Join(p.Authors[:min(3, len(p.Authors))], ", "))
		}
		if p.Journal != "" && p.Journal != "Unknown" {
			fmt.Fprintf(&b, ". %s", p.Journal)
		}
		if p.URL != "" {
			fmt.Fprintf(&b, ". %s", p.URL)
		}
		b.WriteString("\n")
		if abs := p.Abstract; abs != "" && abs != "No abstract available" {
			if len(abs) > maxAbstractChars {
				abs = abs[:maxAbstractChars] + "..."
			}
			fmt.Fprintf(&b, "    %s\n", abs)
		}
	}
	return b.String()
}

// stage runs one generation under its own deadline.
func stage(ctx context.Context, gen Generator, name string, budget time.Duration, p Prompt) (string, error) {
	sctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	out, err := gen.Generate(sctx, p)
	if err != nil {
		if errors.Is(sctx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return "", fmt.Errorf("%s: %w", name, ErrStageTimeout)
		}
		return "", fmt.Errorf("%s: %w", name, err)
	}
	return strings.TrimSpace(out), nil
}

// TopicsReport curates, analyzes and synthesizes papers into a markdown
// review in three sequential generator passes.
func TopicsReport(ctx context.Context, gen Generator, query string, papers []model.Paper, quality string) (string, error) {
	limited := papers[:SourceCount(len(papers))]
	sources := EnumerateSources(limited)

	curation, err := stage(ctx, gen, "curation", CurationTimeout, Prompt{
		System: "You are a meticulous research curator. You only trust reputable, peer-reviewed or authoritative sources.",
		User: fmt.Sprintf("Topic: %s\n\nBelow is a numbered list of candidate sources.\n"+
			"Mark each as HIGH, MEDIUM, or LOW trust and give a one-line rationale.\n"+
			"Return strictly a markdown table with columns: ID | Trust | Rationale.\n\nSources:\n%s", query, sources),
		MaxTokens:   1200,
		Temperature: reportTemp,
	})
	if err != nil {
		return "", err
	}

	perSource, err := stage(ctx, gen, "analysis", AnalysisTimeout, Prompt{
		System: "You are a precise literature analyst. Summarize without hallucinations.",
		User: fmt.Sprintf("For the topic %q, write 2-3 bullet summaries for EACH numbered source below.\n"+
			"Use inline citations like [1], [2] with the same numbering.\n"+
			"Return markdown with '## Per-source Summaries' and subsections like '### [n] Title'.\n\nSources:\n%s", query, sources),
		MaxTokens:   2400,
		Temperature: reportTemp,
	})
	if err != nil {
		return "", err
	}

	words := "1000-1500"
	if quality == QualityEnhanced {
		words = "1500-2200"
	}
	body, err := stage(ctx, gen, "synthesis", SynthesisTimeout, Prompt{
		System: "You are a senior research writer. Produce structured, citation-grounded reviews.",
		User: fmt.Sprintf("Write a scholarly review on %q. Use ONLY the numbered sources below and cite inline with [n]. Length %s words.\n"+
			"Structure with headings: Title, Abstract, Background, Methods, Findings, Visual Summaries, Limitations, References.\n"+
			"Include an Evidence Summary Table, a Key Metrics Table, a Timeline Table and an ASCII bar chart of the top 5 trends in a text code block.\n"+
			"If data is insufficient, write 'Data not available'.\n\nSources:\n%s", query, words, sources),
		MaxTokens:   3200,
		Temperature: reportTemp,
	})
	if err != nil {
		return "", err
	}

	return strings.Join([]string{
		"# " + query + ": Evidence-Grounded Review",
		"",
		"## Source Curation",
		curation,
		"",
		perSource,
		"",
		body,
	}, "\n"), nil
}

// Reply answers the last user message of a conversation.
func Reply(ctx context.Context, gen Generator, messages []Message) (string, error) {
	last := -1
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == RoleUser && strings.TrimSpace(messages[i].Content) != "" {
			last = i
			break
		}
	}
	if last < 0 {
		return "", ErrNoUserMessage
	}

	return gen.Generate(ctx, Prompt{
		System:      "You are Nova, a research assistant for graduate students. Be accurate and concise, and say when you are unsure.",
		History:     messages[:last],
		User:        messages[last].Content,
		MaxTokens:   2000,
		Temperature: 0.7,
	})
}
