package literature

import (
	"context"
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/thesisflow/thesisflow/internal/model"
)

const arxivURL = "https://export.arxiv.org/api"

// ArxivPolicy allows two requests a second with bursts of four.
var ArxivPolicy = Policy{Every: 500 * time.Millisecond, Burst: 4, Concurrency: 2}

// Arxiv queries the arXiv Atom API.
type Arxiv struct {
	opts   Options
	client *resty.Client
	guard  *guard
}

type arxivFeed struct {
	Entries []arxivEntry `xml:"entry"`
}

type arxivEntry struct {
	ID        string `xml:"id"`
	Title     string `xml:"title"`
	Summary   string `xml:"summary"`
	Published string `xml:"published"`
	DOI       string `xml:"doi"`
	Journal   string `xml:"journal_ref"`
	Authors   []struct {
		Name string `xml:"name"`
	} `xml:"author"`
}

// NewArxiv creates the arXiv provider.
func NewArxiv(opts Options) *Arxiv {
	opts = opts.withDefaults(arxivURL)
	return &Arxiv{opts: opts, client: newClient(opts), guard: newGuard(ArxivPolicy)}
}

func (a *Arxiv) Name() string { return "arxiv" }

// Search runs an all-fields query.
func (a *Arxiv) Search(ctx context.Context, query string, limit int) ([]model.Paper, error) {
	var body []byte
	err := a.guard.do(ctx, func(ctx context.Context) error {
		resp, err := a.client.R().
			SetContext(ctx).
			SetQueryParams(map[string]string{
				"search_query": "all:" + query,
				"start":        "0",
				"max_results":  strconv.Itoa(clampProviderLimit(limit)),
			}).
			Get("/query")
		if err := checkResponse(a.Name(), resp, err); err != nil {
			return err
		}
		body = resp.Body()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return parseArxiv(body)
}

func parseArxiv(body []byte) ([]model.Paper, error) {
	var feed arxivFeed
	if err := xml.Unmarshal(body, &feed); err != nil {
		return nil, fmt.Errorf("arxiv: decode feed: %w", err)
	}

	papers := make([]model.Paper, 0, len(feed.Entries))
	for _, e := range feed.Entries {
		p := model.Paper{
			ID:       e.ID,
			Title:    collapse(e.Title),
			Abstract: collapse(e.Summary),
			Journal:  "arXiv",
			URL:      e.ID,
			Source:   "arxiv",
			DOI:      e.DOI,
			Authors:  []string{},
		}
		if p.Title == "" {
			continue
		}
		if e.Journal != "" {
			p.Journal = collapse(e.Journal)
		}
		if len(e.Published) >= 4 {
			p.Year = e.Published[:4]
		}
		for _, au := range e.Authors {
			if name := collapse(au.Name); name != "" {
				p.Authors = append(p.Authors, name)
			}
		}
		papers = append(papers, p)
	}
	return papers, nil
}

// collapse folds the line breaks arXiv puts inside titles and abstracts.
func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
