package literature

import (
	"context"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/thesisflow/thesisflow/internal/model"
)

const openAlexURL = "https://api.openalex.org"

// OpenAlexPolicy allows four requests a second with bursts of eight.
var OpenAlexPolicy = Policy{Every: 250 * time.Millisecond, Burst: 8, Concurrency: 2}

var unsafeQueryRe = regexp.MustCompile(`[^\w\s-]`)

// OpenAlex queries the OpenAlex works index.
type OpenAlex struct {
	opts   Options
	client *resty.Client
	guard  *guard
}

type openAlexWork struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	DOI         string `json:"doi"`
	Year        int    `json:"publication_year"`
	CitedBy     int    `json:"cited_by_count"`
	Authorships []struct {
		Author struct {
			DisplayName string `json:"display_name"`
		} `json:"author"`
	} `json:"authorships"`
	PrimaryLocation *struct {
		Source *struct {
			DisplayName string `json:"display_name"`
		} `json:"source"`
	} `json:"primary_location"`
	InvertedAbstract map[string][]int `json:"abstract_inverted_index"`
}

type openAlexResponse struct {
	Results []openAlexWork `json:"results"`
}

// NewOpenAlex creates the OpenAlex provider.
func NewOpenAlex(opts Options) *OpenAlex {
	opts = opts.withDefaults(openAlexURL)
	return &OpenAlex{opts: opts, client: newClient(opts), guard: newGuard(OpenAlexPolicy)}
}

func (o *OpenAlex) Name() string { return "openalex" }

// Search runs a works search. Punctuation is stripped from the query because
// OpenAlex rejects some of it with 400.
func (o *OpenAlex) Search(ctx context.Context, query string, limit int) ([]model.Paper, error) {
	clean := strings.Join(strings.Fields(unsafeQueryRe.ReplaceAllString(query, " ")), " ")
	if clean == "" {
		return nil, nil
	}

	var res openAlexResponse
	err := o.guard.do(ctx, func(ctx context.Context) error {
		resp, err := o.client.R().
			SetContext(ctx).
			SetQueryParams(map[string]string{
				"search":   clean,
				"per-page": strconv.Itoa(clampProviderLimit(limit)),
				"mailto":   o.opts.Mailto,
			}).
			SetResult(&res).
			Get("/works")
		return checkResponse(o.Name(), resp, err)
	})
	if err != nil {
		return nil, err
	}

	papers := make([]model.Paper, 0, len(res.Results))
	for _, w := range res.Results {
		papers = append(papers, w.paper())
	}
	return papers, nil
}

func (w openAlexWork) paper() model.Paper {
	p := model.Paper{
		ID:        w.ID,
		Title:     w.Title,
		Abstract:  RebuildAbstract(w.InvertedAbstract),
		Journal:   "Unknown",
		URL:       w.DOI,
		Citations: w.CitedBy,
		Source:    "openalex",
		DOI:       w.DOI,
		Authors:   []string{},
	}
	if p.Title == "" {
		p.Title = "No title"
	}
	if p.Abstract == "" {
		p.Abstract = "No abstract available"
	}
	if p.URL == "" {
		p.URL = w.ID
	}
	if w.Year > 0 {
		p.Year = strconv.Itoa(w.Year)
	}
	if w.PrimaryLocation != nil && w.PrimaryLocation.Source != nil && w.PrimaryLocation.Source.DisplayName != "" {
		p.Journal = w.PrimaryLocation.Source.DisplayName
	}
	for _, a := range w.Authorships {
		if a.Author.DisplayName != "" {
			p.Authors = append(p.Authors, a.Author.DisplayName)
		}
	}
	return p
}

// RebuildAbstract turns an OpenAlex inverted index back into text.
func RebuildAbstract(index map[string][]int) string {
	if len(index) == 0 {
		return ""
	}
	words := make(map[int]string)
	for word, positions := range index {
		for _, pos := range positions {
			words[pos] = word
		}
	}
	positions := make([]int, 0, len(words))
	for pos := range words {
		positions = append(positions, pos)
	}
	sort.Ints(positions)

	out := make([]string, len(positions))
	for i, pos := range positions {
		out[i] = words[pos]
	}
	return strings.Join(out, " ")
}
