package metrics

import "time"

// NoopRecorder implements Recorder with no-op methods.
type NoopRecorder struct{}

// NewNoop returns a Recorder that discards all metrics.
func NewNoop() Recorder {
	return &NoopRecorder{}
}

// ObserveRequest is a no-op.
func (n *NoopRecorder) ObserveRequest(route, method string, status int, duration time.Duration) {}

// IncTokensDeducted is a no-op.
func (n *NoopRecorder) IncTokensDeducted(feature string, amount int) {}

// IncDeductionFailed is a no-op.
func (n *NoopRecorder) IncDeductionFailed(feature string) {}

// IncTokensRefunded is a no-op.
func (n *NoopRecorder) IncTokensRefunded(feature string, amount int) {}

// IncRateLimited is a no-op.
func (n *NoopRecorder) IncRateLimited(scope string) {}

// IncUsageEventPublished is a no-op.
func (n *NoopRecorder) IncUsageEventPublished(status string) {}

// IncUsageEventProcessed is a no-op.
func (n *NoopRecorder) IncUsageEventProcessed(status string) {}

// ObserveUsageIngestLag is a no-op.
func (n *NoopRecorder) ObserveUsageIngestLag(lag time.Duration) {}

// IncAlertDelivery is a no-op.
func (n *NoopRecorder) IncAlertDelivery(status string) {}

// IncTrendsJob is a no-op.
func (n *NoopRecorder) IncTrendsJob(status string) {}
