package literature

import (
	"context"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/thesisflow/thesisflow/internal/model"
)

const (
	DefaultLimit   = 10
	MaxLimit       = 50
	DefaultTTL     = time.Hour
	MinAggregation = time.Second
)

// Cache stores merged search results. *cache.Cache satisfies it.
type Cache interface {
	GetLiterature(ctx context.Context, query string, limit int) (*model.SearchResult, error)
	SetLiterature(ctx context.Context, query string, limit int, res *model.SearchResult, ttl time.Duration) error
}

// Service fans a query out to every provider and merges the answers.
type Service struct {
	providers []Provider
	cache     Cache
	ttl       time.Duration
	group     singleflight.Group
	logger    *slog.Logger
}

// NewService creates a Service. cache may be nil.
func NewService(providers []Provider, c Cache, ttl time.Duration, logger *slog.Logger) *Service {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		providers: providers,
		cache:     c,
		ttl:       ttl,
		logger:    logger.With("component", "literature"),
	}
}

// NewDefaultProviders returns OpenAlex, Crossref and arXiv clients.
func NewDefaultProviders(opts Options) []Provider {
	return []Provider{
		NewOpenAlex(Options{Timeout: opts.Timeout, Mailto: opts.Mailto}),
		NewCrossref(Options{Timeout: opts.Timeout, Mailto: opts.Mailto}),
		NewArxiv(Options{Timeout: opts.Timeout, Mailto: opts.Mailto}),
	}
}

// ClampLimit applies the default and the maximum to a requested limit.
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	return min(limit, MaxLimit)
}

// Search queries all providers in parallel and returns the merged, ranked
// papers. Identical concurrent searches share one upstream fan-out.
func (s *Service) Search(ctx context.Context, query string, limit int) (*model.SearchResult, error) {
	query = strings.TrimSpace(query)
	limit = ClampLimit(limit)

	if s.cache != nil {
		if hit, _ := s.cache.GetLiterature(ctx, query, limit); hit != nil {
			hit.Cached = true
			return hit, nil
		}
	}

	key := strings.ToLower(query) + "_" + strconv.Itoa(limit)
	v, err, _ := s.group.Do(key, func() (any, error) {
		return s.search(context.WithoutCancel(ctx), query, limit), nil
	})
	if err != nil {
		return nil, err
	}

	res := *v.(*model.SearchResult)
	return &res, nil
}

func (s *Service) search(ctx context.Context, query string, limit int) *model.SearchResult {
	start := time.Now()
	perProvider := min(MaxLimit, max(DefaultLimit, limit))

	results := make([][]model.Paper, len(s.providers))
	failed := make([]bool, len(s.providers))

	g, gctx := errgroup.WithContext(ctx)
	for i, p := range s.providers {
		g.Go(func() error {
			papers, err := p.Search(gctx, query, perProvider)
			if err != nil {
				s.logger.Warn("provider search failed", "provider", p.Name(), "error", err)
				failed[i] = true
				return nil
			}
			results[i] = papers
			return nil
		})
	}
	_ = g.Wait()

	allFailed := len(s.providers) > 0
	for _, f := range failed {
		allFailed = allFailed && f
	}

	merged := Merge(results...)
	res := &model.SearchResult{
		Success:    !allFailed,
		Papers:     trim(merged, limit),
		Source:     "multi-source",
		SearchTime: time.Since(start).Milliseconds(),
	}
	res.Count = len(res.Papers)
	if allFailed {
		res.Source = "none"
		res.Error = "All literature providers failed"
		return res
	}

	if s.cache != nil && res.Count > 0 {
		if err := s.cache.SetLiterature(ctx, query, limit, res, s.ttl); err != nil {
			s.logger.Warn("cache literature failed", "error", err)
		}
	}
	return res
}

// Aggregate runs the same fan-out but returns whatever has arrived when window
// elapses. Count reports every unique paper collected, before trimming.
func (s *Service) Aggregate(ctx context.Context, query string, limit int, window time.Duration) (*model.SearchResult, error) {
	start := time.Now()
	query = strings.TrimSpace(query)
	limit = ClampLimit(limit)
	window = max(window, MinAggregation)
	perProvider := min(MaxLimit, max(DefaultLimit, limit))

	wctx, cancel := context.WithTimeout(ctx, window)
	defer cancel()

	var (
		mu        sync.Mutex
		collected []model.Paper
		seen      = make(map[string]bool)
	)

	g, gctx := errgroup.WithContext(wctx)
	for _, p := range s.providers {
		g.Go(func() error {
			papers, err := p.Search(gctx, query, perProvider)
			if err != nil {
				s.logger.Debug("aggregate provider failed", "provider", p.Name(), "error", err)
				return nil
			}
			mu.Lock()
			defer mu.Unlock()
			for _, paper := range papers {
				k := paper.DedupeKey()
				if k == "" || seen[k] {
					continue
				}
				seen[k] = true
				collected = append(collected, paper)
			}
			return nil
		})
	}

	done := make(chan struct{})
	go func() {
		_ = g.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-wctx.Done():
	}

	mu.Lock()
	papers := append([]model.Paper(nil), collected...)
	mu.Unlock()

	rank(papers)
	return &model.SearchResult{
		Success:    true,
		Papers:     trim(papers, limit),
		Source:     "aggregate",
		Count:      len(papers),
		SearchTime: time.Since(start).Milliseconds(),
	}, nil
}

// Merge dedupes papers by normalized title, keeping the first occurrence in
// argument order, and ranks them.
func Merge(lists ...[]model.Paper) []model.Paper {
	seen := make(map[string]bool)
	var out []model.Paper
	for _, list := range lists {
		for _, p := range list {
			k := p.DedupeKey()
			if k == "" || seen[k] {
				continue
			}
			seen[k] = true
			out = append(out, p)
		}
	}
	rank(out)
	return out
}

// rank orders by citations, then by year, both descending.
func rank(papers []model.Paper) {
	sort.SliceStable(papers, func(i, j int) bool {
		if papers[i].Citations != papers[j].Citations {
			return papers[i].Citations > papers[j].Citations
		}
		return papers[i].PublicationYear() > papers[j].PublicationYear()
	})
}

func trim(papers []model.Paper, limit int) []model.Paper {
	if papers == nil {
		return []model.Paper{}
	}
	if len(papers) > limit {
		return papers[:limit]
	}
	return papers
}
