package usage

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"time"

	"github.com/thesisflow/thesisflow/internal/model"
	"github.com/thesisflow/thesisflow/internal/repository"
)

// Metrics and dimensions accepted by the dashboards.
const (
	MetricTokens    = "tokens"
	MetricRequests  = "requests"
	MetricCost      = "cost"
	MetricAvgTokens = "avg_tokens"

	DimService   = "service"
	DimProvider  = "provider"
	DimModel     = "model"
	DimFeature   = "feature"
	DimOrigin    = "origin"
	DimQuality   = "quality"
	DimPerResult = "per_result_bucket"
)

const (
	defaultWindowDays = 30
	maxRangeDays      = 366
	defaultTopLimit   = 10
	maxTopLimit       = 50
	day               = 24 * time.Hour
)

var (
	ErrInvalidMetric    = errors.New("invalid metric")
	ErrInvalidDimension = errors.New("invalid dimension")
	ErrInvalidRange     = errors.New("invalid date range")
)

var serviceKeys = []string{
	model.ServiceExplorer,
	model.ServiceSummarizer,
	model.ServiceAIAssistant,
	model.ServiceAIWriting,
	model.ServiceOther,
}

// Source is the storage the dashboards read from.
type Source interface {
	ListDeductsBetween(ctx context.Context, userID string, from, to time.Time) ([]*model.Transaction, error)
	ListUsageDaily(ctx context.Context, userID string, from, to time.Time) ([]repository.UsageDailyRow, error)
}

// Range is a window of whole UTC days, both ends inclusive.
type Range struct {
	From time.Time
	To   time.Time
}

// NewRange truncates from and to to UTC day starts. Missing ends default to
// the thirty days ending today. A reversed range or one longer than
// maxRangeDays is ErrInvalidRange.
func NewRange(from, to *time.Time, now time.Time) (Range, error) {
	end := startOfDay(now)
	if to != nil {
		end = startOfDay(*to)
	}
	start := startOfDay(now.Add(-defaultWindowDays * day))
	if from != nil {
		start = startOfDay(*from)
	}
	if start.After(end) || end.Sub(start) >= maxRangeDays*day {
		return Range{}, ErrInvalidRange
	}
	return Range{From: start, To: end}, nil
}

// Days lists the window as YYYY-MM-DD keys.
func (r Range) Days() []string {
	var out []string
	for d := r.From; !d.After(r.To); d = d.Add(day) {
		out = append(out, d.Format(time.DateOnly))
	}
	return out
}

// Previous is the equal-length window ending the day before From.
func (r Range) Previous() Range {
	n := len(r.Days())
	to := r.From.Add(-day)
	return Range{From: to.Add(-time.Duration(n-1) * day), To: to}
}

func (r Range) endExclusive() time.Time { return r.To.Add(day) }

func startOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// Service answers the usage dashboard queries.
type Service struct {
	source Source
	logger *slog.Logger
	now    func() time.Time
}

// NewService creates the dashboard service.
func NewService(source Source, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		source: source,
		logger: logger.With("component", "usage.analytics"),
		now:    time.Now,
	}
}

// Overview is the v1 analytics response: tokens per day by service,
// provider and model.
type Overview struct {
	From        time.Time      `json:"from"`
	To          time.Time      `json:"to"`
	Days        []string       `json:"days"`
	Series      OverviewSeries `json:"series"`
	Totals      OverviewTotals `json:"totals"`
	TotalTokens int64          `json:"totalTokens"`
}

// OverviewSeries holds per-day token counts keyed by label.
type OverviewSeries struct {
	Service  map[string][]int64 `json:"service"`
	Provider map[string][]int64 `json:"provider"`
	Model    map[string][]int64 `json:"model"`
}

// OverviewTotals sums each series over the window.
type OverviewTotals struct {
	PerServiceTokens  map[string]int64 `json:"perServiceTokens"`
	PerProviderTokens map[string]int64 `json:"perProviderTokens"`
	PerModelTokens    map[string]int64 `json:"perModelTokens"`
}

// Overview aggregates successful deducts straight from the ledger.
func (s *Service) Overview(ctx context.Context, userID string, from, to *time.Time) (*Overview, error) {
	rng, err := NewRange(from, to, s.now())
	if err != nil {
		return nil, err
	}
	txs, err := s.source.ListDeductsBetween(ctx, userID, rng.From, rng.endExclusive())
	if err != nil {
		return nil, fmt.Errorf("list deducts: %w", err)
	}
	return buildOverview(rng, txs), nil
}

func buildOverview(rng Range, txs []*model.Transaction) *Overview {
	days := rng.Days()
	index := dayIndex(days)

	out := &Overview{
		From: rng.From,
		To:   rng.To,
		Days: days,
		Series: OverviewSeries{
			Service:  make(map[string][]int64, len(serviceKeys)),
			Provider: map[string][]int64{},
			Model:    map[string][]int64{},
		},
		Totals: OverviewTotals{
			PerServiceTokens:  make(map[string]int64, len(serviceKeys)),
			PerProviderTokens: map[string]int64{},
			PerModelTokens:    map[string]int64{},
		},
	}
	for _, k := range serviceKeys {
		out.Series.Service[k] = make([]int64, len(days))
		out.Totals.PerServiceTokens[k] = 0
	}

	add := func(series map[string][]int64, totals map[string]int64, key string, i int, n int64) {
		if series[key] == nil {
			series[key] = make([]int64, len(days))
		}
		series[key][i] += n
		totals[key] += n
	}

	for _, tx := range txs {
		i, ok := index[tx.CreatedAt.UTC().Format(time.DateOnly)]
		if !ok {
			continue
		}
		n := int64(tx.TokensAmount)
		d := eventFromTransaction(tx).Dimensions()
		add(out.Series.Service, out.Totals.PerServiceTokens, d.Service, i, n)
		add(out.Series.Provider, out.Totals.PerProviderTokens, d.Provider, i, n)
		add(out.Series.Model, out.Totals.PerModelTokens, d.Model, i, n)
		out.TotalTokens += n
	}
	return out
}

// BreakdownQuery selects a v2 analytics view.
type BreakdownQuery struct {
	From       *time.Time
	To         *time.Time
	Metric     string
	Dimension  string
	Compare    bool
	Cumulative bool
}

// Period is one window of a breakdown.
type Period struct {
	From        time.Time            `json:"from"`
	To          time.Time            `json:"to"`
	Days        []string             `json:"days"`
	Series      map[string][]float64 `json:"series"`
	Totals      map[string]float64   `json:"totals"`
	TotalMetric float64              `json:"totalMetric"`
	TotalPerDay []float64            `json:"totalPerDay"`
}

// Breakdown is the v2 analytics response.
type Breakdown struct {
	Period
	Metric    string  `json:"metric"`
	Dimension string  `json:"dimension"`
	Previous  *Period `json:"previous,omitempty"`
}

// Breakdown reads the rollup for any metric and dimension, falling back to
// the ledger when the rollup has no rows for the window.
func (s *Service) Breakdown(ctx context.Context, userID string, q BreakdownQuery) (*Breakdown, error) {
	if q.Metric == "" {
		q.Metric = MetricTokens
	}
	if q.Dimension == "" {
		q.Dimension = DimService
	}
	if !validMetric(q.Metric, true) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidMetric, q.Metric)
	}
	if !validDimension(q.Dimension) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidDimension, q.Dimension)
	}

	rng, err := NewRange(q.From, q.To, s.now())
	if err != nil {
		return nil, err
	}

	cur, err := s.period(ctx, userID, rng, q)
	if err != nil {
		return nil, err
	}
	out := &Breakdown{Period: *cur, Metric: q.Metric, Dimension: q.Dimension}

	if q.Compare {
		prev, err := s.period(ctx, userID, rng.Previous(), q)
		if err != nil {
			return nil, err
		}
		out.Previous = prev
	}
	return out, nil
}

func (s *Service) period(ctx context.Context, userID string, rng Range, q BreakdownQuery) (*Period, error) {
	rows, err := s.rows(ctx, userID, rng)
	if err != nil {
		return nil, err
	}
	p := aggregatePeriod(rng, rows, q.Metric, q.Dimension)
	if q.Cumulative {
		for k := range p.Series {
			runningSum(p.Series[k])
		}
		runningSum(p.TotalPerDay)
	}
	return p, nil
}

// rows returns rollup rows for the window, or rows synthesized from the
// ledger when the rollup is empty.
func (s *Service) rows(ctx context.Context, userID string, rng Range) ([]repository.UsageDailyRow, error) {
	rows, err := s.source.ListUsageDaily(ctx, userID, rng.From, rng.To)
	if err != nil {
		return nil, fmt.Errorf("list usage_daily: %w", err)
	}
	if len(rows) > 0 {
		return rows, nil
	}

	txs, err := s.source.ListDeductsBetween(ctx, userID, rng.From, rng.endExclusive())
	if err != nil {
		return nil, fmt.Errorf("list deducts: %w", err)
	}
	if len(txs) > 0 {
		s.logger.Debug("usage rollup empty, aggregating ledger", "user_id", userID, "transactions", len(txs))
	}
	return rowsFromTransactions(txs), nil
}

type accum struct {
	tokens   float64
	requests float64
	cost     float64
	errors   float64
	latency  float64
}

func (a *accum) add(r repository.UsageDailyRow) {
	a.tokens += float64(r.Tokens)
	a.requests += float64(r.Requests)
	a.cost += r.Cost
	a.errors += float64(r.Errors)
	a.latency += float64(r.LatencyMSTotal)
}

func (a *accum) value(metric string) float64 {
	switch metric {
	case MetricRequests:
		return a.requests
	case MetricCost:
		return a.cost
	case MetricAvgTokens:
		if a.requests == 0 {
			return 0
		}
		return a.tokens / a.requests
	default:
		return a.tokens
	}
}

func aggregatePeriod(rng Range, rows []repository.UsageDailyRow, metric, dimension string) *Period {
	days := rng.Days()
	index := dayIndex(days)

	perKeyDay := map[string][]accum{}
	perKey := map[string]*accum{}
	perDay := make([]accum, len(days))
	var all accum

	for _, r := range rows {
		i, ok := index[r.Day.UTC().Format(time.DateOnly)]
		if !ok {
			continue
		}
		key := dimensionValue(r.Dims, dimension)
		if perKeyDay[key] == nil {
			perKeyDay[key] = make([]accum, len(days))
			perKey[key] = &accum{}
		}
		perKeyDay[key][i].add(r)
		perKey[key].add(r)
		perDay[i].add(r)
		all.add(r)
	}

	p := &Period{
		From:        rng.From,
		To:          rng.To,
		Days:        days,
		Series:      make(map[string][]float64, len(perKeyDay)),
		Totals:      make(map[string]float64, len(perKey)),
		TotalPerDay: make([]float64, len(days)),
		TotalMetric: all.value(metric),
	}
	for key, acc := range perKeyDay {
		vals := make([]float64, len(days))
		for i := range acc {
			vals[i] = acc[i].value(metric)
		}
		p.Series[key] = vals
		p.Totals[key] = perKey[key].value(metric)
	}
	for i := range perDay {
		p.TotalPerDay[i] = perDay[i].value(metric)
	}
	return p
}

// TopQuery ranks one dimension by a metric.
type TopQuery struct {
	From   *time.Time
	To     *time.Time
	Metric string
	By     string
	Limit  int
}

// TopRow is one ranked label.
type TopRow struct {
	Key        string  `json:"key"`
	Tokens     int64   `json:"tokens"`
	Requests   int64   `json:"requests"`
	Cost       float64 `json:"cost"`
	ErrorRate  float64 `json:"error_rate"`
	AvgLatency int64   `json:"avg_latency"`
}

// TopResult is the /api/usage/top response.
type TopResult struct {
	From   time.Time `json:"from"`
	To     time.Time `json:"to"`
	Metric string    `json:"metric"`
	By     string    `json:"by"`
	Limit  int       `json:"limit"`
	Rows   []TopRow  `json:"rows"`
}

// Top ranks providers, models, features or services.
func (s *Service) Top(ctx context.Context, userID string, q TopQuery) (*TopResult, error) {
	if q.Metric == "" {
		q.Metric = MetricTokens
	}
	if q.By == "" {
		q.By = DimProvider
	}
	if !validMetric(q.Metric, false) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidMetric, q.Metric)
	}
	switch q.By {
	case DimProvider, DimModel, DimFeature, DimService:
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidDimension, q.By)
	}
	if q.Limit <= 0 {
		q.Limit = defaultTopLimit
	}
	q.Limit = min(q.Limit, maxTopLimit)

	rng, err := NewRange(q.From, q.To, s.now())
	if err != nil {
		return nil, err
	}
	rows, err := s.rows(ctx, userID, rng)
	if err != nil {
		return nil, err
	}

	return &TopResult{
		From:   rng.From,
		To:     rng.To,
		Metric: q.Metric,
		By:     q.By,
		Limit:  q.Limit,
		Rows:   rankTop(rows, q.Metric, q.By, q.Limit),
	}, nil
}

func rankTop(rows []repository.UsageDailyRow, metric, by string, limit int) []TopRow {
	byKey := map[string]*accum{}
	for _, r := range rows {
		key := dimensionValue(r.Dims, by)
		if byKey[key] == nil {
			byKey[key] = &accum{}
		}
		byKey[key].add(r)
	}

	keys := make([]string, 0, len(byKey))
	for k := range byKey {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, func(a, b string) int {
		if c := cmp.Compare(byKey[b].value(metric), byKey[a].value(metric)); c != 0 {
			return c
		}
		return cmp.Compare(a, b)
	})
	if len(keys) > limit {
		keys = keys[:limit]
	}

	out := make([]TopRow, 0, len(keys))
	for _, k := range keys {
		a := byKey[k]
		row := TopRow{
			Key:      k,
			Tokens:   int64(math.Round(a.tokens)),
			Requests: int64(math.Round(a.requests)),
			Cost:     roundTo(a.cost, 4),
		}
		if a.requests > 0 {
			row.ErrorRate = roundTo(a.errors/a.requests*100, 2)
			row.AvgLatency = int64(math.Round(a.latency / a.requests))
		}
		out = append(out, row)
	}
	return out
}

// rowsFromTransactions turns ledger deducts into one-request rollup rows.
func rowsFromTransactions(txs []*model.Transaction) []repository.UsageDailyRow {
	out := make([]repository.UsageDailyRow, 0, len(txs))
	for _, tx := range txs {
		e := eventFromTransaction(tx)
		out = append(out, repository.UsageDailyRow{
			Day:            startOfDay(tx.CreatedAt),
			Dims:           e.Dimensions(),
			Tokens:         int64(tx.TokensAmount),
			Requests:       1,
			Cost:           e.Cost,
			LatencyMSTotal: e.LatencyMS,
		})
	}
	return out
}

func eventFromTransaction(tx *model.Transaction) *model.UsageEvent {
	c := tx.OperationContext
	e := &model.UsageEvent{
		TransactionID: tx.ID,
		Feature:       tx.FeatureName,
		Tokens:        tx.TokensAmount,
		Provider:      model.StringFromContext(c, "provider"),
		Model:         model.StringFromContext(c, "model"),
		Origin:        model.StringFromContext(c, "origin"),
		Quality:       model.StringFromContext(c, "quality"),
		PerResult:     model.PerResultFromContext(c),
		OccurredAt:    tx.CreatedAt,
	}
	if v, ok := c["provider_cost_usd"].(float64); ok {
		e.Cost = v
	}
	return e
}

func dimensionValue(d model.UsageDimensions, dimension string) string {
	switch dimension {
	case DimProvider:
		return d.Provider
	case DimModel:
		return d.Model
	case DimFeature:
		return d.Feature
	case DimOrigin:
		return d.Origin
	case DimQuality:
		return d.Quality
	case DimPerResult:
		return d.PerResultBucket
	default:
		return d.Service
	}
}

func validMetric(m string, allowAverage bool) bool {
	switch m {
	case MetricTokens, MetricRequests, MetricCost:
		return true
	case MetricAvgTokens:
		return allowAverage
	}
	return false
}

func validDimension(d string) bool {
	switch d {
	case DimService, DimProvider, DimModel, DimFeature, DimOrigin, DimQuality, DimPerResult:
		return true
	}
	return false
}

func dayIndex(days []string) map[string]int {
	m := make(map[string]int, len(days))
	for i, d := range days {
		m[d] = i
	}
	return m
}

func runningSum(vals []float64) {
	for i := 1; i < len(vals); i++ {
		vals[i] += vals[i-1]
	}
}

func roundTo(v float64, places int) float64 {
	p := math.Pow10(places)
	return math.Round(v*p) / p
}
