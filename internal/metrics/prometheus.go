package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "thesisflow"

// PrometheusRecorder exports metrics on its own registry.
type PrometheusRecorder struct {
	registry *prometheus.Registry

	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	tokensDeducted  *prometheus.CounterVec
	deductFailures  *prometheus.CounterVec
	tokensRefunded  *prometheus.CounterVec
	rateLimited     *prometheus.CounterVec
	usagePublished  *prometheus.CounterVec
	usageProcessed  *prometheus.CounterVec
	usageLag        prometheus.Histogram
	alertDeliveries *prometheus.CounterVec
	trendsJobs      *prometheus.CounterVec
}

// NewPrometheus builds and registers every collector.
func NewPrometheus() *PrometheusRecorder {
	p := &PrometheusRecorder{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route, method and status.",
		}, []string{"route", "method", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method"}),
		tokensDeducted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tokens_deducted_total",
			Help:      "Tokens charged per feature.",
		}, []string{"feature"}),
		deductFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_deductions_failed_total",
			Help:      "Deductions rejected per feature.",
		}, []string{"feature"}),
		tokensRefunded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tokens_refunded_total",
			Help:      "Tokens refunded per feature.",
		}, []string{"feature"}),
		rateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_total",
			Help:      "Requests rejected by a limiter.",
		}, []string{"scope"}),
		usagePublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "usage_events_published_total",
			Help:      "Usage events written to the stream.",
		}, []string{"status"}),
		usageProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "usage_events_processed_total",
			Help:      "Usage events applied to the daily rollup.",
		}, []string{"status"}),
		usageLag: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "usage_ingest_lag_seconds",
			Help:      "Delay between deduction and rollup.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300},
		}),
		alertDeliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alert_deliveries_total",
			Help:      "Alert webhook delivery outcomes.",
		}, []string{"status"}),
		trendsJobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trends_jobs_total",
			Help:      "Trends job transitions.",
		}, []string{"status"}),
	}

	p.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		p.requests,
		p.requestDuration,
		p.tokensDeducted,
		p.deductFailures,
		p.tokensRefunded,
		p.rateLimited,
		p.usagePublished,
		p.usageProcessed,
		p.usageLag,
		p.alertDeliveries,
		p.trendsJobs,
	)

	return p
}

// Handler serves the registry in the Prometheus exposition format.
func (p *PrometheusRecorder) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{Registry: p.registry})
}

// Registry exposes the underlying registry for tests.
func (p *PrometheusRecorder) Registry() *prometheus.Registry {
	return p.registry
}

func (p *PrometheusRecorder) ObserveRequest(route, method string, status int, duration time.Duration) {
	p.requests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	p.requestDuration.WithLabelValues(route, method).Observe(duration.Seconds())
}

func (p *PrometheusRecorder) IncTokensDeducted(feature string, amount int) {
	p.tokensDeducted.WithLabelValues(feature).Add(float64(amount))
}

func (p *PrometheusRecorder) IncDeductionFailed(feature string) {
	p.deductFailures.WithLabelValues(feature).Inc()
}

func (p *PrometheusRecorder) IncTokensRefunded(feature string, amount int) {
	p.tokensRefunded.WithLabelValues(feature).Add(float64(amount))
}

func (p *PrometheusRecorder) IncRateLimited(scope string) {
	p.rateLimited.WithLabelValues(scope).Inc()
}

func (p *PrometheusRecorder) IncUsageEventPublished(status string) {
	p.usagePublished.WithLabelValues(status).Inc()
}

func (p *PrometheusRecorder) IncUsageEventProcessed(status string) {
	p.usageProcessed.WithLabelValues(status).Inc()
}

func (p *PrometheusRecorder) ObserveUsageIngestLag(lag time.Duration) {
	p.usageLag.Observe(lag.Seconds())
}

func (p *PrometheusRecorder) IncAlertDelivery(status string) {
	p.alertDeliveries.WithLabelValues(status).Inc()
}

func (p *PrometheusRecorder) IncTrendsJob(status string) {
	p.trendsJobs.WithLabelValues(status).Inc()
}
