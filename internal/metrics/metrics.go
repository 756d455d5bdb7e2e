// Package metrics provides lightweight hooks for instrumentation.
package metrics

import "time"

// Recorder captures metric events for the application.
// Implementations can expose these to Prometheus or keep them in memory.
type Recorder interface {
	// HTTP
	ObserveRequest(route, method string, status int, duration time.Duration)

	// Token metering
	IncTokensDeducted(feature string, amount int)
	IncDeductionFailed(feature string)
	IncTokensRefunded(feature string, amount int)
	IncRateLimited(scope string) // scope: "tokens", "literature", "ip", "apikey"

	// Usage stream
	IncUsageEventPublished(status string) // status: "success" or "dropped"
	IncUsageEventProcessed(status string) // status: "success", "failed", "duplicate"
	ObserveUsageIngestLag(lag time.Duration)

	// Alerts and trends
	IncAlertDelivery(status string) // status: "success", "failed", "exhausted"
	IncTrendsJob(status string)     // status: "queued", "done", "failed"
}

// Snapshotter exposes a snapshot of current metrics.
type Snapshotter interface {
	Snapshot() Snapshot
}
