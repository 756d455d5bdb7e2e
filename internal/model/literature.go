package model

import (
	"strconv"
	"strings"
)

// Paper is a normalized literature record from any provider.
type Paper struct {
	ID        string   `json:"id"`
	Title     string   `json:"title"`
	Authors   []string `json:"authors"`
	Abstract  string   `json:"abstract"`
	Year      string   `json:"year"`
	Journal   string   `json:"journal"`
	URL       string   `json:"url"`
	Citations int      `json:"citations"`
	Source    string   `json:"source"`
	DOI       string   `json:"doi,omitempty"`
}

// PublicationYear returns the numeric year, or 0 when unknown.
func (p Paper) PublicationYear() int {
	y := strings.TrimSpace(p.Year)
	if len(y) > 4 {
		y = y[:4]
	}
	n, err := strconv.Atoi(y)
	if err != nil {
		return 0
	}
	return n
}

// DedupeKey is the normalized title used to merge provider results.
func (p Paper) DedupeKey() string {
	return strings.ToLower(strings.TrimSpace(p.Title))
}

// SearchResult is the outcome of a literature search.
type SearchResult struct {
	Success    bool    `json:"success"`
	Papers     []Paper `json:"papers"`
	Source     string  `json:"source"`
	Count      int     `json:"count"`
	Cached     bool    `json:"cached"`
	SearchTime int64   `json:"searchTime"`
	Error      string  `json:"error,omitempty"`
}
