package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

var (
	_ Recorder = (*NoopRecorder)(nil)
	_ Recorder = (*InMemoryRecorder)(nil)
	_ Recorder = (*PrometheusRecorder)(nil)
)

func TestInMemoryRecorder_Snapshot(t *testing.T) {
	t.Parallel()

	m := NewInMemory()
	m.ObserveRequest("/api/projects", "GET", 200, 5*time.Millisecond)
	m.IncTokensDeducted("ai_chat", 3)
	m.IncTokensDeducted("ai_chat", 2)
	m.IncTokensRefunded("ai_chat", 2)
	m.IncDeductionFailed("ai_chat")
	m.IncRateLimited("tokens")
	m.IncRateLimited("tokens")
	m.IncUsageEventProcessed("success")
	m.IncAlertDelivery("exhausted")

	snap := m.Snapshot()
	if snap.Requests != 1 || snap.RequestDurationNs != int64(5*time.Millisecond) {
		t.Errorf("requests = %d / %d", snap.Requests, snap.RequestDurationNs)
	}
	if snap.TokensDeducted != 5 || snap.TokensRefunded != 2 || snap.DeductionsFailed != 1 {
		t.Errorf("token counters = %+v", snap)
	}
	if diff := cmp.Diff(map[string]uint64{"tokens": 2}, snap.RateLimited); diff != "" {
		t.Errorf("rate limited (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(map[string]uint64{"success": 1}, snap.UsageProcessed); diff != "" {
		t.Errorf("usage processed (-want +got):\n%s", diff)
	}
	if len(snap.TrendsJobs) != 0 {
		t.Errorf("expected empty trends map, got %v", snap.TrendsJobs)
	}
}

func TestPrometheusRecorder_Handler(t *testing.T) {
	t.Parallel()

	p := NewPrometheus()
	p.IncTokensDeducted("literature_search", 4)
	p.IncRateLimited("literature")
	p.ObserveRequest("/api/literature-search", "GET", 429, time.Millisecond)

	rec := httptest.NewRecorder()
	p.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	for _, want := range []string{
		`thesisflow_tokens_deducted_total{feature="literature_search"} 4`,
		`thesisflow_rate_limited_total{scope="literature"} 1`,
		`thesisflow_http_requests_total{method="GET",route="/api/literature-search",status="429"} 1`,
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("exposition missing %q", want)
		}
	}
}
