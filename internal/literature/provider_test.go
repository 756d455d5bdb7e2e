package literature

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/thesisflow/thesisflow/internal/model"
)

func TestOpenAlex_Search(t *testing.T) {
	var gotQuery, gotPerPage, gotMailto string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/works" {
			t.Errorf("path = %s", r.URL.Path)
		}
		q := r.URL.Query()
		gotQuery, gotPerPage, gotMailto = q.Get("search"), q.Get("per-page"), q.Get("mailto")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"results":[{
			"id":"https://openalex.org/W1",
			"title":"Attention Is All You Need",
			"doi":"https://doi.org/10.1/abc",
			"publication_year":2017,
			"cited_by_count":90000,
			"authorships":[{"author":{"display_name":"A. Vaswani"}},{"author":{"display_name":""}}],
			"primary_location":{"source":{"display_name":"NeurIPS"}},
			"abstract_inverted_index":{"models":[1],"Sequence":[0],"dominate":[2]}
		},{"id":"https://openalex.org/W2","title":"","publication_year":0}]}`))
	}))
	defer srv.Close()

	p := NewOpenAlex(Options{BaseURL: srv.URL, Mailto: "ops@example.com"})
	papers, err := p.Search(context.Background(), "transformers: (survey)!", 80)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}

	if gotQuery != "transformers survey" || gotPerPage != "50" || gotMailto != "ops@example.com" {
		t.Errorf("query params = %q %q %q", gotQuery, gotPerPage, gotMailto)
	}

	want := []model.Paper{
		{
			ID:        "https://openalex.org/W1",
			Title:     "Attention Is All You Need",
			Authors:   []string{"A. Vaswani"},
			Abstract:  "Sequence models dominate",
			Year:      "2017",
			Journal:   "NeurIPS",
			URL:       "https://doi.org/10.1/abc",
			Citations: 90000,
			Source:    "openalex",
			DOI:       "https://doi.org/10.1/abc",
		},
		{
			ID:       "https://openalex.org/W2",
			Title:    "No title",
			Authors:  []string{},
			Abstract: "No abstract available",
			Journal:  "Unknown",
			URL:      "https://openalex.org/W2",
			Source:   "openalex",
		},
	}
	if diff := cmp.Diff(want, papers); diff != "" {
		t.Errorf("papers mismatch (-want +got):\n%s", diff)
	}
}

func TestOpenAlex_EmptyQuery(t *testing.T) {
	p := NewOpenAlex(Options{BaseURL: "http://127.0.0.1:0"})
	papers, err := p.Search(context.Background(), "?!", 10)
	if err != nil || papers != nil {
		t.Fatalf("Search = %v, %v", papers, err)
	}
}

func TestCrossref_Search(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("rows"); got != "10" {
			t.Errorf("rows = %s", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"message":{"items":[{
			"DOI":"10.2/xyz",
			"title":["Graph Networks"],
			"container-title":["Nature"],
			"is-referenced-by-count":12,
			"author":[{"given":"Ada","family":"Lovelace"},{"family":"Turing"}],
			"published":{"date-parts":[[2020,5,1]]}
		}]}}`))
	}))
	defer srv.Close()

	papers, err := NewCrossref(Options{BaseURL: srv.URL}).Search(context.Background(), "graph networks", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	want := []model.Paper{{
		ID:        "10.2/xyz",
		Title:     "Graph Networks",
		Authors:   []string{"Ada Lovelace", "Turing"},
		Abstract:  "No abstract available",
		Year:      "2020",
		Journal:   "Nature",
		URL:       "https://doi.org/10.2/xyz",
		Citations: 12,
		Source:    "crossref",
		DOI:       "10.2/xyz",
	}}
	if diff := cmp.Diff(want, papers); diff != "" {
		t.Errorf("papers mismatch (-want +got):\n%s", diff)
	}
}

const arxivFixture = `<?xml version="1.0" encoding="UTF-8"?>
<feed xmlns="http://www.w3.org/2005/Atom" xmlns:arxiv="http://arxiv.org/schemas/atom">
  <entry>
    <id>http://arxiv.org/abs/2101.00001v1</id>
    <published>2021-01-01T00:00:00Z</published>
    <title>Diffusion Models
      Beat GANs</title>
    <summary>  We show that
      diffusion wins.  </summary>
    <author><name>Prafulla Dhariwal</name></author>
    <author><name>Alex Nichol</name></author>
    <arxiv:doi>10.3/diff</arxiv:doi>
  </entry>
  <entry>
    <id>http://arxiv.org/abs/empty</id>
    <title>   </title>
  </entry>
</feed>`

func TestArxiv_Search(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("search_query"); got != "all:diffusion" {
			t.Errorf("search_query = %s", got)
		}
		w.Header().Set("Content-Type", "application/atom+xml")
		w.Write([]byte(arxivFixture))
	}))
	defer srv.Close()

	papers, err := NewArxiv(Options{BaseURL: srv.URL}).Search(context.Background(), "diffusion", 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	want := []model.Paper{{
		ID:       "http://arxiv.org/abs/2101.00001v1",
		Title:    "Diffusion Models Beat GANs",
		Authors:  []string{"Prafulla Dhariwal", "Alex Nichol"},
		Abstract: "We show that diffusion wins.",
		Year:     "2021",
		Journal:  "arXiv",
		URL:      "http://arxiv.org/abs/2101.00001v1",
		Source:   "arxiv",
		DOI:      "10.3/diff",
	}}
	if diff := cmp.Diff(want, papers); diff != "" {
		t.Errorf("papers mismatch (-want +got):\n%s", diff)
	}
}

func TestProvider_RetriesServerErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewCrossref(Options{BaseURL: srv.URL}).Search(context.Background(), "anything", 5)
	if !errors.Is(err, ErrUpstream) {
		t.Fatalf("err = %v, want ErrUpstream", err)
	}
	if got := hits.Load(); got != 1+retryCount {
		t.Errorf("hits = %d, want %d", got, 1+retryCount)
	}
}

func TestProvider_NoRetryOnClientError(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	_, err := NewOpenAlex(Options{BaseURL: srv.URL}).Search(context.Background(), "anything", 5)
	if !errors.Is(err, ErrUpstream) {
		t.Fatalf("err = %v, want ErrUpstream", err)
	}
	if hits.Load() != 1 {
		t.Errorf("hits = %d, want 1", hits.Load())
	}
}

func TestRebuildAbstract(t *testing.T) {
	got := RebuildAbstract(map[string][]int{"the": {0, 3}, "cat": {1}, "saw": {2}, "dog": {4}})
	if got != "the cat saw the dog" {
		t.Errorf("RebuildAbstract = %q", got)
	}
	if RebuildAbstract(nil) != "" {
		t.Error("nil index should give empty text")
	}
}
