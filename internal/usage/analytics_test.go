package usage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/thesisflow/thesisflow/internal/model"
	"github.com/thesisflow/thesisflow/internal/repository"
)

type fakeSource struct {
	txs  []*model.Transaction
	rows []repository.UsageDailyRow

	rollupCalls []Range
}

func (f *fakeSource) ListDeductsBetween(_ context.Context, _ string, from, to time.Time) ([]*model.Transaction, error) {
	var out []*model.Transaction
	for _, tx := range f.txs {
		if !tx.CreatedAt.Before(from) && tx.CreatedAt.Before(to) {
			out = append(out, tx)
		}
	}
	return out, nil
}

func (f *fakeSource) ListUsageDaily(_ context.Context, _ string, from, to time.Time) ([]repository.UsageDailyRow, error) {
	f.rollupCalls = append(f.rollupCalls, Range{From: from, To: to})
	var out []repository.UsageDailyRow
	for _, r := range f.rows {
		if !r.Day.Before(from) && !r.Day.After(to) {
			out = append(out, r)
		}
	}
	return out, nil
}

var testNow = time.Date(2026, 10, 14, 15, 30, 0, 0, time.UTC)

func date(d int) time.Time { return time.Date(2026, 10, d, 0, 0, 0, 0, time.UTC) }

func ptr[T any](v T) *T { return &v }

func newTestService(src Source) *Service {
	s := NewService(src, nil)
	s.now = func() time.Time { return testNow }
	return s
}

func deduct(id string, at time.Time, feature string, tokens int, ctx map[string]any) *model.Transaction {
	if ctx == nil {
		ctx = map[string]any{}
	}
	return &model.Transaction{
		ID:               id,
		OperationType:    model.OperationDeduct,
		TokensAmount:     tokens,
		FeatureName:      feature,
		OperationContext: ctx,
		Success:          true,
		CreatedAt:        at,
	}
}

func TestNewRange(t *testing.T) {
	t.Parallel()

	rng, err := NewRange(nil, nil, testNow)
	if err != nil {
		t.Fatal(err)
	}
	if !rng.To.Equal(date(14)) || !rng.From.Equal(date(14).AddDate(0, 0, -30)) {
		t.Errorf("default range = %v..%v", rng.From, rng.To)
	}
	if got := len(rng.Days()); got != 31 {
		t.Errorf("default window has %d days, want 31", got)
	}

	from := time.Date(2026, 10, 3, 22, 0, 0, 0, time.FixedZone("X", -5*3600))
	rng, err = NewRange(&from, ptr(date(5)), testNow)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"2026-10-04", "2026-10-05"}, rng.Days()); diff != "" {
		t.Errorf("days mismatch (-want +got):\n%s", diff)
	}

	prev := rng.Previous()
	if !prev.From.Equal(date(2)) || !prev.To.Equal(date(3)) {
		t.Errorf("previous = %v..%v", prev.From, prev.To)
	}

	if _, err := NewRange(ptr(date(9)), ptr(date(8)), testNow); !errors.Is(err, ErrInvalidRange) {
		t.Errorf("reversed range error = %v", err)
	}
}

func TestNewRange_Cap(t *testing.T) {
	t.Parallel()
	to := time.Date(2026, 10, 14, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		from    time.Time
		wantErr bool
	}{
		{"one year", time.Date(2025, 10, 15, 0, 0, 0, 0, time.UTC), false},
		{"longest", time.Date(2025, 10, 14, 0, 0, 0, 0, time.UTC), false},
		{"one day too long", time.Date(2025, 10, 13, 0, 0, 0, 0, time.UTC), true},
		{"decade", time.Date(2016, 1, 1, 0, 0, 0, 0, time.UTC), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rng, err := NewRange(&tt.from, &to, testNow)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidRange) {
					t.Fatalf("err = %v, want ErrInvalidRange", err)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if n := len(rng.Days()); n > maxRangeDays {
				t.Errorf("window has %d days", n)
			}
		})
	}
}

func TestOverview(t *testing.T) {
	t.Parallel()
	src := &fakeSource{txs: []*model.Transaction{
		deduct("1", date(12).Add(3*time.Hour), "literature_search", 2, map[string]any{"provider": "OpenAlex"}),
		deduct("2", date(13).Add(time.Hour), "ai_chat", 1, map[string]any{"provider": "google", "model": "Gemini"}),
		deduct("3", date(13).Add(2*time.Hour), "summarizer", 2, nil),
		deduct("4", date(1), "summarizer", 9, nil), // outside the window
	}}

	got, err := newTestService(src).Overview(context.Background(), "u", ptr(date(12)), ptr(date(13)))
	if err != nil {
		t.Fatal(err)
	}

	want := &Overview{
		From: date(12),
		To:   date(13),
		Days: []string{"2026-10-12", "2026-10-13"},
		Series: OverviewSeries{
			Service: map[string][]int64{
				"explorer":     {2, 0},
				"summarizer":   {0, 2},
				"ai_assistant": {0, 1},
				"ai_writing":   {0, 0},
				"other":        {0, 0},
			},
			Provider: map[string][]int64{"openalex": {2, 0}, "google": {0, 1}, "other": {0, 2}},
			Model:    map[string][]int64{"other": {2, 2}, "gemini": {0, 1}},
		},
		Totals: OverviewTotals{
			PerServiceTokens:  map[string]int64{"explorer": 2, "summarizer": 2, "ai_assistant": 1, "ai_writing": 0, "other": 0},
			PerProviderTokens: map[string]int64{"openalex": 2, "google": 1, "other": 2},
			PerModelTokens:    map[string]int64{"other": 4, "gemini": 1},
		},
		TotalTokens: 5,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("overview mismatch (-want +got):\n%s", diff)
	}
}

func rollupRow(d int, dims model.UsageDimensions, tokens, requests, errs int64, cost float64, latency int64) repository.UsageDailyRow {
	return repository.UsageDailyRow{
		Day: date(d), Dims: dims, Tokens: tokens, Requests: requests, Errors: errs, Cost: cost, LatencyMSTotal: latency,
	}
}

func TestBreakdown_Rollup(t *testing.T) {
	t.Parallel()
	explorer := model.UsageDimensions{Service: "explorer", Provider: "openalex", Model: "other", Feature: "literature_search"}
	chat := model.UsageDimensions{Service: "ai_assistant", Provider: "google", Model: "gemini", Feature: "ai_chat"}
	src := &fakeSource{rows: []repository.UsageDailyRow{
		rollupRow(12, explorer, 10, 5, 0, 0.5, 500),
		rollupRow(13, explorer, 4, 2, 0, 0.1, 100),
		rollupRow(13, chat, 6, 1, 0, 0.2, 900),
	}}
	s := newTestService(src)

	tests := []struct {
		name       string
		q          BreakdownQuery
		wantSeries map[string][]float64
		wantTotal  float64
		wantPerDay []float64
	}{
		{
			name:       "tokens by service",
			q:          BreakdownQuery{From: ptr(date(12)), To: ptr(date(13))},
			wantSeries: map[string][]float64{"explorer": {10, 4}, "ai_assistant": {0, 6}},
			wantTotal:  20,
			wantPerDay: []float64{10, 10},
		},
		{
			name:       "requests cumulative",
			q:          BreakdownQuery{From: ptr(date(12)), To: ptr(date(13)), Metric: MetricRequests, Cumulative: true},
			wantSeries: map[string][]float64{"explorer": {5, 7}, "ai_assistant": {0, 1}},
			wantTotal:  8,
			wantPerDay: []float64{5, 8},
		},
		{
			name:       "average tokens weighted by requests",
			q:          BreakdownQuery{From: ptr(date(12)), To: ptr(date(13)), Metric: MetricAvgTokens, Dimension: DimModel},
			wantSeries: map[string][]float64{"other": {2, 2}, "gemini": {0, 6}},
			wantTotal:  2.5,
			wantPerDay: []float64{2, 10.0 / 3},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.Breakdown(context.Background(), "u", tt.q)
			if err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff(tt.wantSeries, got.Series); diff != "" {
				t.Errorf("series mismatch (-want +got):\n%s", diff)
			}
			if got.TotalMetric != tt.wantTotal {
				t.Errorf("totalMetric = %v, want %v", got.TotalMetric, tt.wantTotal)
			}
			if diff := cmp.Diff(tt.wantPerDay, got.TotalPerDay); diff != "" {
				t.Errorf("totalPerDay mismatch (-want +got):\n%s", diff)
			}
			if got.Previous != nil {
				t.Error("previous should be omitted without compare")
			}
		})
	}
}

func TestBreakdown_FallbackAndCompare(t *testing.T) {
	t.Parallel()
	src := &fakeSource{txs: []*model.Transaction{
		deduct("1", date(10).Add(time.Hour), "literature_search", 3, map[string]any{"origin": "Explorer", "per_result": float64(20)}),
		deduct("2", date(12).Add(time.Hour), "literature_search", 2, map[string]any{"origin": "explorer", "per_result": float64(5)}),
		deduct("3", date(13).Add(time.Hour), "summarizer", 2, nil),
	}}

	got, err := newTestService(src).Breakdown(context.Background(), "u", BreakdownQuery{
		From:      ptr(date(12)),
		To:        ptr(date(13)),
		Dimension: DimPerResult,
		Compare:   true,
	})
	if err != nil {
		t.Fatal(err)
	}

	if diff := cmp.Diff(map[string]float64{"1-5": 2, "unknown": 2}, got.Totals); diff != "" {
		t.Errorf("totals mismatch (-want +got):\n%s", diff)
	}
	if got.Previous == nil {
		t.Fatal("expected previous period")
	}
	if diff := cmp.Diff([]string{"2026-10-10", "2026-10-11"}, got.Previous.Days); diff != "" {
		t.Errorf("previous days mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(map[string]float64{"11-20": 3}, got.Previous.Totals); diff != "" {
		t.Errorf("previous totals mismatch (-want +got):\n%s", diff)
	}
	if len(src.rollupCalls) != 2 {
		t.Errorf("rollup consulted %d times, want 2", len(src.rollupCalls))
	}
}

func TestBreakdown_Validation(t *testing.T) {
	t.Parallel()
	s := newTestService(&fakeSource{})

	if _, err := s.Breakdown(context.Background(), "u", BreakdownQuery{Metric: "p95_latency"}); !errors.Is(err, ErrInvalidMetric) {
		t.Errorf("metric error = %v", err)
	}
	if _, err := s.Breakdown(context.Background(), "u", BreakdownQuery{Dimension: "country"}); !errors.Is(err, ErrInvalidDimension) {
		t.Errorf("dimension error = %v", err)
	}
	if _, err := s.Top(context.Background(), "u", TopQuery{Metric: MetricAvgTokens}); !errors.Is(err, ErrInvalidMetric) {
		t.Errorf("top metric error = %v", err)
	}
	if _, err := s.Top(context.Background(), "u", TopQuery{By: "origin"}); !errors.Is(err, ErrInvalidDimension) {
		t.Errorf("top by error = %v", err)
	}
}

func TestTop(t *testing.T) {
	t.Parallel()
	openalex := model.UsageDimensions{Service: "explorer", Provider: "openalex"}
	crossref := model.UsageDimensions{Service: "explorer", Provider: "crossref"}
	google := model.UsageDimensions{Service: "ai_assistant", Provider: "google"}
	src := &fakeSource{rows: []repository.UsageDailyRow{
		rollupRow(12, openalex, 10, 4, 1, 0.123456, 400),
		rollupRow(13, openalex, 2, 2, 0, 0.1, 200),
		rollupRow(13, crossref, 30, 3, 0, 0, 30),
		rollupRow(13, google, 5, 10, 0, 1.5, 10000),
	}}
	s := newTestService(src)

	got, err := s.Top(context.Background(), "u", TopQuery{From: ptr(date(1)), To: ptr(date(14)), Metric: MetricRequests, Limit: 2})
	if err != nil {
		t.Fatal(err)
	}
	want := []TopRow{
		{Key: "google", Tokens: 5, Requests: 10, Cost: 1.5, AvgLatency: 1000},
		{Key: "openalex", Tokens: 12, Requests: 6, Cost: 0.2235, ErrorRate: 16.67, AvgLatency: 100},
	}
	if diff := cmp.Diff(want, got.Rows); diff != "" {
		t.Errorf("top rows mismatch (-want +got):\n%s", diff)
	}
	if got.By != DimProvider || got.Limit != 2 {
		t.Errorf("defaults: by=%q limit=%d", got.By, got.Limit)
	}

	got, err = s.Top(context.Background(), "u", TopQuery{From: ptr(date(1)), To: ptr(date(14)), By: DimService, Limit: 500})
	if err != nil {
		t.Fatal(err)
	}
	if got.Limit != maxTopLimit || len(got.Rows) != 2 || got.Rows[0].Key != "explorer" || got.Rows[0].Tokens != 42 {
		t.Errorf("service ranking = %+v", got)
	}
}
