package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/thesisflow/thesisflow/internal/model"
	"github.com/thesisflow/thesisflow/internal/repository"
)

// Trend and volatility labels.
const (
	TrendIncreasing = "increasing"
	TrendDecreasing = "decreasing"
	TrendStable     = "stable"

	VolatilityHigh   = "high"
	VolatilityMedium = "medium"
	VolatilityLow    = "low"
)

// Anomaly kinds and severities.
const (
	AnomalySpike            = "spike"
	AnomalyRapidConsumption = "rapid_consumption"
	AnomalyUnusualPattern   = "unusual_pattern"
	AnomalyPotentialAbuse   = "potential_abuse"

	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

const (
	patternWindow       = 30 * 24 * time.Hour
	trendThreshold      = 0.2
	confidenceSamples   = 100.0
	proRecommendAbove   = 50.0
	rapidPerHour        = 30
	rapidCritical       = 60
	abuseRepeats        = 50
	abuseCritical       = 100
	dominantFeatureRate = 0.8
)

// UsagePattern summarizes thirty days of successful deducts.
type UsagePattern struct {
	AverageDaily   float64 `json:"averageDaily"`
	AverageWeekly  float64 `json:"averageWeekly"`
	AverageMonthly float64 `json:"averageMonthly"`
	PeakUsageDay   string  `json:"peakUsageDay"`
	PeakUsageHour  int     `json:"peakUsageHour"`
	Trend          string  `json:"trend"`
	Volatility     string  `json:"volatility"`
	SampleSize     int     `json:"sampleSize"`
}

// UsagePrediction projects the month from a pattern.
type UsagePrediction struct {
	PredictedMonthlyUsage int      `json:"predictedMonthlyUsage"`
	Confidence            float64  `json:"confidence"`
	WillExceedLimit       bool     `json:"willExceedLimit"`
	RecommendedPlan       string   `json:"recommendedPlan"`
	DaysUntilLimitReached *int     `json:"daysUntilLimitReached"`
	Suggestions           []string `json:"suggestions"`
}

// UsageAnomaly is one suspicious observation in the lookback window.
type UsageAnomaly struct {
	Timestamp     time.Time `json:"timestamp"`
	Type          string    `json:"type"`
	Severity      string    `json:"severity"`
	Description   string    `json:"description"`
	CurrentUsage  int       `json:"currentUsage"`
	ExpectedUsage int       `json:"expectedUsage"`
	Deviation     int       `json:"deviation"`
}

// Insights bundles the three analyses served to the dashboard.
type Insights struct {
	Pattern    *UsagePattern    `json:"pattern"`
	Prediction *UsagePrediction `json:"prediction"`
	Anomalies  []UsageAnomaly   `json:"anomalies"`
}

// InsightsService analyzes the token ledger.
type InsightsService struct {
	repo   *repository.Repository
	plans  PlanAllowance
	alerts AlertNotifier
	logger *slog.Logger
	now    func() time.Time
}

// NewInsightsService creates an InsightsService. alerts may be nil.
func NewInsightsService(repo *repository.Repository, plans PlanAllowance, alerts AlertNotifier, logger *slog.Logger) *InsightsService {
	if logger == nil {
		logger = slog.Default()
	}
	return &InsightsService{
		repo:   repo,
		plans:  plans,
		alerts: alerts,
		logger: logger.With("component", "insights"),
		now:    time.Now,
	}
}

// GetInsights runs pattern, prediction and anomaly detection for a user.
// Critical anomalies are forwarded as usage.anomaly alerts.
func (s *InsightsService) GetInsights(ctx context.Context, userID string, lookback time.Duration) (*Insights, error) {
	now := s.now().UTC()
	txs, err := s.repo.ListSuccessfulDeducts(ctx, userID, now.Add(-patternWindow))
	if err != nil {
		return nil, fmt.Errorf("list deducts: %w", err)
	}

	out := &Insights{Anomalies: []UsageAnomaly{}}
	out.Pattern = AnalyzeUsagePattern(txs)
	if out.Pattern == nil {
		return out, nil
	}

	plan, err := s.repo.GetUserPlan(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get plan: %w", err)
	}
	planType := model.NormalizePlan(plan.PlanType)
	limit := s.plans.LimitsForPlan(planType).Monthly
	used := 0
	if t, err := s.repo.GetUserTokens(ctx, userID); err == nil {
		limit = t.MonthlyLimit
		used = t.MonthlyTokensUsed
	}

	out.Prediction = PredictUsage(out.Pattern, planType, limit, used)

	if lookback <= 0 {
		lookback = 24 * time.Hour
	}
	since := now.Add(-lookback)
	recent := make([]*model.Transaction, 0, len(txs))
	for _, tx := range txs {
		if !tx.CreatedAt.Before(since) {
			recent = append(recent, tx)
		}
	}
	out.Anomalies = DetectAnomalies(out.Pattern, recent, lookback, now)

	s.forwardCritical(ctx, userID, out.Anomalies)
	return out, nil
}

func (s *InsightsService) forwardCritical(ctx context.Context, userID string, anomalies []UsageAnomaly) {
	if s.alerts == nil {
		return
	}
	for _, a := range anomalies {
		if a.Severity != SeverityCritical {
			continue
		}
		data := map[string]any{
			"type":          a.Type,
			"severity":      a.Severity,
			"description":   a.Description,
			"currentUsage":  a.CurrentUsage,
			"expectedUsage": a.ExpectedUsage,
		}
		if err := s.alerts.Notify(ctx, userID, model.AlertUsageAnomaly, data); err != nil {
			s.logger.Warn("anomaly alert failed", "user_id", userID, "type", a.Type, "error", err)
		}
	}
}

// AnalyzeUsagePattern expects deducts in chronological order. It returns
// nil when there is nothing to analyze.
func AnalyzeUsagePattern(txs []*model.Transaction) *UsagePattern {
	if len(txs) == 0 {
		return nil
	}

	var days []string
	daily := make(map[string]int)
	hourly := make(map[int]int)
	total := 0
	for _, tx := range txs {
		at := tx.CreatedAt.UTC()
		day := at.Format(time.DateOnly)
		if _, ok := daily[day]; !ok {
			days = append(days, day)
		}
		daily[day] += tx.TokensAmount
		hourly[at.Hour()] += tx.TokensAmount
		total += tx.TokensAmount
	}

	avgDaily := float64(total) / float64(len(daily))

	peakDay, peakDayVal := "N/A", -1
	for _, d := range days {
		if daily[d] > peakDayVal {
			peakDay, peakDayVal = d, daily[d]
		}
	}
	peakHour, peakHourVal := 0, -1
	for _, tx := range txs {
		h := tx.CreatedAt.UTC().Hour()
		if hourly[h] > peakHourVal {
			peakHour, peakHourVal = h, hourly[h]
		}
	}

	var variance float64
	for _, d := range days {
		variance += math.Pow(float64(daily[d])-avgDaily, 2)
	}
	variance /= float64(len(days))
	cv := 0.0
	if avgDaily > 0 {
		cv = math.Sqrt(variance) / avgDaily
	}

	volatility := VolatilityLow
	switch {
	case cv > 0.5:
		volatility = VolatilityHigh
	case cv > 0.25:
		volatility = VolatilityMedium
	}

	return &UsagePattern{
		AverageDaily:   avgDaily,
		AverageWeekly:  avgDaily * 7,
		AverageMonthly: avgDaily * 30,
		PeakUsageDay:   peakDay,
		PeakUsageHour:  peakHour,
		Trend:          usageTrend(txs),
		Volatility:     volatility,
		SampleSize:     len(txs),
	}
}

// usageTrend compares the mean charge of the second half of the
// transactions with the first half.
func usageTrend(txs []*model.Transaction) string {
	mid := len(txs) / 2
	if mid == 0 {
		return TrendStable
	}
	first := meanAmount(txs[:mid])
	second := meanAmount(txs[mid:])
	if first == 0 {
		return TrendStable
	}
	diff := (second - first) / first
	switch {
	case diff > trendThreshold:
		return TrendIncreasing
	case diff < -trendThreshold:
		return TrendDecreasing
	default:
		return TrendStable
	}
}

func meanAmount(txs []*model.Transaction) float64 {
	sum := 0
	for _, tx := range txs {
		sum += tx.TokensAmount
	}
	return float64(sum) / float64(len(txs))
}

// PredictUsage projects the monthly total and derives suggestions.
func PredictUsage(p *UsagePattern, planType string, monthlyLimit, monthlyUsed int) *UsagePrediction {
	predicted := p.AverageMonthly
	switch p.Trend {
	case TrendIncreasing:
		predicted *= 1.2
	case TrendDecreasing:
		predicted *= 0.9
	}
	if p.Volatility == VolatilityHigh {
		predicted *= 1.15
	}

	confidence := math.Min(float64(p.SampleSize)/confidenceSamples, 1)
	if p.Volatility == VolatilityHigh {
		confidence *= 0.8
	}

	limit := float64(monthlyLimit)
	willExceed := predicted > limit

	var daysUntil *int
	if willExceed && p.AverageDaily > 0 {
		d := int(math.Ceil(float64(monthlyLimit-monthlyUsed) / p.AverageDaily))
		daysUntil = &d
	}

	suggestions := []string{}
	if willExceed && planType == model.PlanFree {
		suggestions = append(suggestions, "Upgrade to Pro plan (500 tokens/month) to avoid running out")
	}
	if p.Trend == TrendIncreasing && limit-predicted < 50 {
		suggestions = append(suggestions, "Consider upgrading your plan as your usage is trending upward")
	}
	if p.Volatility == VolatilityHigh {
		suggestions = append(suggestions, "Your usage varies significantly - monitor your token consumption regularly")
	}
	if p.PeakUsageHour >= 18 || p.PeakUsageHour <= 6 {
		suggestions = append(suggestions, "Most of your usage occurs during off-hours - consider batching operations")
	}
	if predicted < limit*0.5 && planType == model.PlanPro {
		suggestions = append(suggestions, "You may be able to downgrade to Free plan based on your usage patterns")
	}
	if !willExceed && predicted < limit*0.7 {
		suggestions = append(suggestions, "You have plenty of tokens remaining for this month")
	}

	recommended := model.PlanFree
	if predicted > proRecommendAbove {
		recommended = model.PlanPro
	}

	return &UsagePrediction{
		PredictedMonthlyUsage: int(math.Round(predicted)),
		Confidence:            math.Round(confidence*100) / 100,
		WillExceedLimit:       willExceed,
		RecommendedPlan:       recommended,
		DaysUntilLimitReached: daysUntil,
		Suggestions:           suggestions,
	}
}

// DetectAnomalies inspects deducts inside the lookback window against the
// pattern's daily average.
func DetectAnomalies(p *UsagePattern, recent []*model.Transaction, lookback time.Duration, now time.Time) []UsageAnomaly {
	anomalies := []UsageAnomaly{}
	if p == nil || len(recent) == 0 {
		return anomalies
	}
	hours := lookback.Hours()

	recentUsage := 0
	for _, tx := range recent {
		recentUsage += tx.TokensAmount
	}
	expected := p.AverageDaily * (hours / 24)

	if expected > 0 && float64(recentUsage) > expected*3 {
		severity := SeverityHigh
		if float64(recentUsage) > expected*5 {
			severity = SeverityCritical
		}
		anomalies = append(anomalies, UsageAnomaly{
			Timestamp:     now,
			Type:          AnomalySpike,
			Severity:      severity,
			Description:   fmt.Sprintf("Unusually high token consumption detected in the last %g hours", hours),
			CurrentUsage:  recentUsage,
			ExpectedUsage: int(math.Round(expected)),
			Deviation:     int(math.Round((float64(recentUsage) - expected) / expected * 100)),
		})
	}

	hourAgo := now.Add(-time.Hour)
	lastHour, lastHourTokens := 0, 0
	for _, tx := range recent {
		if !tx.CreatedAt.Before(hourAgo) {
			lastHour++
			lastHourTokens += tx.TokensAmount
		}
	}
	if lastHour > rapidPerHour {
		severity := SeverityMedium
		if lastHour > rapidCritical {
			severity = SeverityCritical
		}
		anomalies = append(anomalies, UsageAnomaly{
			Timestamp:     now,
			Type:          AnomalyRapidConsumption,
			Severity:      severity,
			Description:   fmt.Sprintf("Rapid token consumption: %d requests in the last hour", lastHour),
			CurrentUsage:  lastHourTokens,
			ExpectedUsage: int(math.Round(p.AverageDaily / 24)),
		})
	}

	byFeature := make(map[string]int)
	var features []string
	for _, tx := range recent {
		name := tx.FeatureName
		if name == "" {
			name = "unknown"
		}
		if _, ok := byFeature[name]; !ok {
			features = append(features, name)
		}
		byFeature[name] += tx.TokensAmount
	}
	topFeature, topTokens := "", 0
	for _, f := range features {
		if byFeature[f] > topTokens {
			topFeature, topTokens = f, byFeature[f]
		}
	}
	if topFeature != "" && float64(topTokens) > float64(recentUsage)*dominantFeatureRate {
		anomalies = append(anomalies, UsageAnomaly{
			Timestamp:     now,
			Type:          AnomalyUnusualPattern,
			Severity:      SeverityLow,
			Description:   fmt.Sprintf("Single feature (%s) consuming %d%% of tokens", topFeature, int(math.Round(float64(topTokens)/float64(recentUsage)*100))),
			CurrentUsage:  topTokens,
			ExpectedUsage: int(math.Round(float64(recentUsage) / float64(len(byFeature)))),
		})
	}

	repeats := make(map[string]int)
	topRepeat := 0
	for _, tx := range recent {
		key, err := json.Marshal(tx.OperationContext)
		if err != nil {
			continue
		}
		repeats[string(key)]++
		topRepeat = max(topRepeat, repeats[string(key)])
	}
	if topRepeat > abuseRepeats {
		severity := SeverityHigh
		if topRepeat > abuseCritical {
			severity = SeverityCritical
		}
		anomalies = append(anomalies, UsageAnomaly{
			Timestamp:     now,
			Type:          AnomalyPotentialAbuse,
			Severity:      severity,
			Description:   fmt.Sprintf("Same operation repeated %d times in %g hours", topRepeat, hours),
			CurrentUsage:  topRepeat,
			ExpectedUsage: 10,
		})
	}

	return anomalies
}
