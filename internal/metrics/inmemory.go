package metrics

import (
	"sync"
	"sync/atomic"
	"time"
)

// Snapshot captures current in-memory counters.
type Snapshot struct {
	Requests            uint64
	RequestDurationNs   int64
	TokensDeducted      uint64
	DeductionsFailed    uint64
	TokensRefunded      uint64
	RateLimited         map[string]uint64
	UsagePublished      map[string]uint64
	UsageProcessed      map[string]uint64
	UsageIngestLagCount uint64
	UsageIngestLagNs    int64
	AlertDeliveries     map[string]uint64
	TrendsJobs          map[string]uint64
}

// InMemoryRecorder stores metrics in memory for tests.
type InMemoryRecorder struct {
	requests          uint64
	requestDurationNs int64
	tokensDeducted    uint64
	deductionsFailed  uint64
	tokensRefunded    uint64
	usageLagCount     uint64
	usageLagNs        int64

	mu       sync.Mutex
	labelled map[string]map[string]uint64
}

// NewInMemory returns a Recorder that stores counters in memory.
func NewInMemory() *InMemoryRecorder {
	return &InMemoryRecorder{labelled: make(map[string]map[string]uint64)}
}

// Snapshot returns a copy of the counters.
func (m *InMemoryRecorder) Snapshot() Snapshot {
	return Snapshot{
		Requests:            atomic.LoadUint64(&m.requests),
		RequestDurationNs:   atomic.LoadInt64(&m.requestDurationNs),
		TokensDeducted:      atomic.LoadUint64(&m.tokensDeducted),
		DeductionsFailed:    atomic.LoadUint64(&m.deductionsFailed),
		TokensRefunded:      atomic.LoadUint64(&m.tokensRefunded),
		RateLimited:         m.copyLabels("rate_limited"),
		UsagePublished:      m.copyLabels("usage_published"),
		UsageProcessed:      m.copyLabels("usage_processed"),
		UsageIngestLagCount: atomic.LoadUint64(&m.usageLagCount),
		UsageIngestLagNs:    atomic.LoadInt64(&m.usageLagNs),
		AlertDeliveries:     m.copyLabels("alert_deliveries"),
		TrendsJobs:          m.copyLabels("trends_jobs"),
	}
}

func (m *InMemoryRecorder) inc(name, label string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counters, ok := m.labelled[name]
	if !ok {
		counters = make(map[string]uint64)
		m.labelled[name] = counters
	}
	counters[label]++
}

func (m *InMemoryRecorder) copyLabels(name string) map[string]uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]uint64, len(m.labelled[name]))
	for k, v := range m.labelled[name] {
		out[k] = v
	}
	return out
}

// ObserveRequest counts a request and its latency.
func (m *InMemoryRecorder) ObserveRequest(route, method string, status int, duration time.Duration) {
	atomic.AddUint64(&m.requests, 1)
	atomic.AddInt64(&m.requestDurationNs, duration.Nanoseconds())
}

// IncTokensDeducted adds to the deducted token total.
func (m *InMemoryRecorder) IncTokensDeducted(feature string, amount int) {
	atomic.AddUint64(&m.tokensDeducted, uint64(amount))
}

// IncDeductionFailed counts a failed deduction.
func (m *InMemoryRecorder) IncDeductionFailed(feature string) {
	atomic.AddUint64(&m.deductionsFailed, 1)
}

// IncTokensRefunded adds to the refunded token total.
func (m *InMemoryRecorder) IncTokensRefunded(feature string, amount int) {
	atomic.AddUint64(&m.tokensRefunded, uint64(amount))
}

// IncRateLimited counts a rejected request per scope.
func (m *InMemoryRecorder) IncRateLimited(scope string) {
	m.inc("rate_limited", scope)
}

// IncUsageEventPublished counts stream publishes by status.
func (m *InMemoryRecorder) IncUsageEventPublished(status string) {
	m.inc("usage_published", status)
}

// IncUsageEventProcessed counts rollup outcomes by status.
func (m *InMemoryRecorder) IncUsageEventProcessed(status string) {
	m.inc("usage_processed", status)
}

// ObserveUsageIngestLag records the delay between deduction and rollup.
func (m *InMemoryRecorder) ObserveUsageIngestLag(lag time.Duration) {
	atomic.AddUint64(&m.usageLagCount, 1)
	atomic.AddInt64(&m.usageLagNs, lag.Nanoseconds())
}

// IncAlertDelivery counts alert delivery outcomes.
func (m *InMemoryRecorder) IncAlertDelivery(status string) {
	m.inc("alert_deliveries", status)
}

// IncTrendsJob counts trends job transitions.
func (m *InMemoryRecorder) IncTrendsJob(status string) {
	m.inc("trends_jobs", status)
}
