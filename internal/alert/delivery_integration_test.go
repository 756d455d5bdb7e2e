//go:build integration

package alert

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/thesisflow/thesisflow/internal/model"
	"github.com/thesisflow/thesisflow/internal/repository"
	"github.com/thesisflow/thesisflow/internal/testutil"
)

func newAlertTestEnv(t *testing.T) (context.Context, *repository.Repository, string) {
	t.Helper()
	ctx, pool := testutil.SetupDB(t)
	userID := testutil.CreateTestUser(t, ctx, pool, testutil.UniqueEmail("alert"))
	return ctx, repository.NewFromPool(pool), userID
}

func TestIntegrationAlert_EndToEnd(t *testing.T) {
	ctx, repo, userID := newAlertTestEnv(t)

	hits := make(chan string, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits <- r.Header.Get(HeaderDeliveryID)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	endpoints := NewEndpoints(repo, discardLogger)
	endpoints.validate = func(string) error { return nil }

	created, err := endpoints.Register(ctx, userID, model.AlertEndpointCreateRequest{
		URL:    srv.URL,
		Events: []model.AlertEventType{model.AlertTokensExhausted},
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	pub := NewPublisher(repo, discardLogger)
	if err := pub.Notify(ctx, userID, model.AlertTokensLow, nil); err != nil {
		t.Fatalf("Notify(low): %v", err)
	}
	if err := pub.Notify(ctx, userID, model.AlertTokensExhausted, map[string]any{"monthlyRemaining": 0}); err != nil {
		t.Fatalf("Notify(exhausted): %v", err)
	}

	deliveries, err := endpoints.Deliveries(ctx, userID, 10)
	if err != nil {
		t.Fatalf("Deliveries: %v", err)
	}
	if len(deliveries) != 1 || deliveries[0].EventType != model.AlertTokensExhausted {
		t.Fatalf("expected one exhausted delivery, got %+v", deliveries)
	}

	w := NewWorker(repo, discardLogger, nil)
	w.SetHTTPClient(srv.Client())
	n, err := w.ProcessOnce(ctx)
	if err != nil || n != 1 {
		t.Fatalf("ProcessOnce = %d, %v", n, err)
	}

	select {
	case id := <-hits:
		if id != deliveries[0].ID {
			t.Errorf("delivery id = %q, want %q", id, deliveries[0].ID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("endpoint was not called")
	}

	deliveries, _ = endpoints.Deliveries(ctx, userID, 10)
	if deliveries[0].Status != model.DeliveryStatusSuccess || deliveries[0].AttemptCount != 1 {
		t.Errorf("unexpected delivery state %+v", deliveries[0])
	}

	if err := endpoints.Delete(ctx, userID, created.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	list, _ := endpoints.List(ctx, userID)
	if len(list) != 0 {
		t.Errorf("deleted endpoint still listed: %+v", list)
	}
}

func TestIntegrationAlert_ClaimSkipsLeased(t *testing.T) {
	ctx, repo, userID := newAlertTestEnv(t)

	endpoints := NewEndpoints(repo, discardLogger)
	endpoints.validate = func(string) error { return nil }
	if _, err := endpoints.Register(ctx, userID, model.AlertEndpointCreateRequest{URL: "https://hooks.example.com"}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := NewPublisher(repo, discardLogger).Notify(ctx, userID, model.AlertPlanChanged, nil); err != nil {
		t.Fatalf("Notify: %v", err)
	}

	first, err := repo.ClaimAlertDeliveries(ctx, DefaultBatchSize, time.Minute)
	if err != nil || len(first) != 1 {
		t.Fatalf("first claim = %d, %v", len(first), err)
	}
	second, err := repo.ClaimAlertDeliveries(ctx, DefaultBatchSize, time.Minute)
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if len(second) != 0 {
		t.Errorf("leased delivery claimed twice")
	}

	status := http.StatusBadGateway
	if err := repo.MarkAlertDeliveryFailure(ctx, first[0].ID, &status, "HTTP 502", time.Now().Add(-time.Second), false); err != nil {
		t.Fatalf("MarkAlertDeliveryFailure: %v", err)
	}
	retry, err := repo.ClaimAlertDeliveries(ctx, DefaultBatchSize, time.Minute)
	if err != nil || len(retry) != 1 {
		t.Fatalf("retry claim = %d, %v", len(retry), err)
	}
	if retry[0].AttemptCount != 1 || retry[0].LastError != "HTTP 502" {
		t.Errorf("unexpected retry state %+v", retry[0])
	}
}
