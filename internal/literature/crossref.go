package literature

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/thesisflow/thesisflow/internal/model"
)

const crossrefURL = "https://api.crossref.org"

// CrossrefPolicy allows two requests a second with bursts of four.
var CrossrefPolicy = Policy{Every: 500 * time.Millisecond, Burst: 4, Concurrency: 2}

// Crossref queries the Crossref REST works endpoint.
type Crossref struct {
	opts   Options
	client *resty.Client
	guard  *guard
}

type crossrefItem struct {
	DOI       string   `json:"DOI"`
	Title     []string `json:"title"`
	Abstract  string   `json:"abstract"`
	Container []string `json:"container-title"`
	Cited     int      `json:"is-referenced-by-count"`
	Author    []struct {
		Given  string `json:"given"`
		Family string `json:"family"`
	} `json:"author"`
	Published struct {
		DateParts [][]int `json:"date-parts"`
	} `json:"published"`
}

type crossrefResponse struct {
	Message struct {
		Items []crossrefItem `json:"items"`
	} `json:"message"`
}

// NewCrossref creates the Crossref provider.
func NewCrossref(opts Options) *Crossref {
	opts = opts.withDefaults(crossrefURL)
	return &Crossref{opts: opts, client: newClient(opts), guard: newGuard(CrossrefPolicy)}
}

func (c *Crossref) Name() string { return "crossref" }

// Search runs a bibliographic query.
func (c *Crossref) Search(ctx context.Context, query string, limit int) ([]model.Paper, error) {
	var res crossrefResponse
	err := c.guard.do(ctx, func(ctx context.Context) error {
		resp, err := c.client.R().
			SetContext(ctx).
			SetQueryParams(map[string]string{
				"query":  query,
				"rows":   strconv.Itoa(clampProviderLimit(limit)),
				"mailto": c.opts.Mailto,
			}).
			SetResult(&res).
			Get("/works")
		return checkResponse(c.Name(), resp, err)
	})
	if err != nil {
		return nil, err
	}

	papers := make([]model.Paper, 0, len(res.Message.Items))
	for _, item := range res.Message.Items {
		papers = append(papers, item.paper())
	}
	return papers, nil
}

func (item crossrefItem) paper() model.Paper {
	p := model.Paper{
		ID:        item.DOI,
		Title:     "No title",
		Abstract:  item.Abstract,
		Journal:   "Unknown",
		Citations: item.Cited,
		Source:    "crossref",
		DOI:       item.DOI,
		Authors:   []string{},
	}
	if len(item.Title) > 0 && item.Title[0] != "" {
		p.Title = item.Title[0]
	}
	if p.Abstract == "" {
		p.Abstract = "No abstract available"
	}
	if len(item.Container) > 0 && item.Container[0] != "" {
		p.Journal = item.Container[0]
	}
	if item.DOI != "" {
		p.URL = "https://doi.org/" + item.DOI
	}
	if dp := item.Published.DateParts; len(dp) > 0 && len(dp[0]) > 0 {
		p.Year = strconv.Itoa(dp[0][0])
	}
	for _, a := range item.Author {
		if name := strings.TrimSpace(a.Given + " " + a.Family); name != "" {
			p.Authors = append(p.Authors, name)
		}
	}
	return p
}
