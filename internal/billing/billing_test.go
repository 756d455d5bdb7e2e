package billing

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stripe/stripe-go/v72"

	"github.com/thesisflow/thesisflow/internal/model"
	"github.com/thesisflow/thesisflow/internal/repository"
)

const testSecret = "whsec_test"

type fakeStore struct {
	mu       sync.Mutex
	users    map[string]*model.User
	plans    map[string]*model.UserPlan
	resets   []string
	upserted []*model.UserPlan
}

func newFakeStore() *fakeStore {
	return &fakeStore{users: map[string]*model.User{}, plans: map[string]*model.UserPlan{}}
}

func (f *fakeStore) GetUserByID(_ context.Context, id string) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u, ok := f.users[id]; ok {
		return u, nil
	}
	return nil, repository.ErrUserNotFound
}

func (f *fakeStore) GetUserPlan(_ context.Context, userID string) (*model.UserPlan, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.plans[userID]; ok {
		cp := *p
		return &cp, nil
	}
	return &model.UserPlan{UserID: userID, PlanType: model.PlanFree, Status: StatusActive}, nil
}

func (f *fakeStore) GetPlanByCustomerID(_ context.Context, customerID string) (*model.UserPlan, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.plans {
		if p.StripeCustomerID == customerID {
			cp := *p
			return &cp, nil
		}
	}
	return nil, repository.ErrUserNotFound
}

func (f *fakeStore) SetStripeCustomerID(_ context.Context, userID, customerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.plans[userID]
	if !ok {
		p = &model.UserPlan{UserID: userID, PlanType: model.PlanFree}
		f.plans[userID] = p
	}
	p.StripeCustomerID = customerID
	return nil
}

func (f *fakeStore) UpsertUserPlan(_ context.Context, p *model.UserPlan) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *p
	if old, ok := f.plans[p.UserID]; ok && cp.StripeCustomerID == "" {
		cp.StripeCustomerID = old.StripeCustomerID
	}
	f.plans[p.UserID] = &cp
	f.upserted = append(f.upserted, &cp)
	return nil
}

func (f *fakeStore) SetPlanStatusByCustomer(_ context.Context, customerID, status string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.plans {
		if p.StripeCustomerID == customerID {
			p.Status = status
			return p.UserID, nil
		}
	}
	return "", repository.ErrUserNotFound
}

func (f *fakeStore) ResetUserUsage(_ context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets = append(f.resets, userID)
	return nil
}

type fakeGateway struct {
	customers int
	params    SessionParams
	err       error
}

func (g *fakeGateway) CreateCustomer(_ context.Context, userID, email string) (string, error) {
	g.customers++
	return "cus_" + userID, nil
}

func (g *fakeGateway) CreateCheckoutSession(_ context.Context, p SessionParams) (*CheckoutSession, error) {
	if g.err != nil {
		return nil, g.err
	}
	g.params = p
	return &CheckoutSession{SessionID: "cs_1", URL: "https://checkout.stripe.test/cs_1"}, nil
}

type sentAlert struct {
	userID string
	event  model.AlertEventType
	data   map[string]any
}

type fakeNotifier struct{ sent []sentAlert }

func (n *fakeNotifier) Notify(_ context.Context, userID string, event model.AlertEventType, data map[string]any) error {
	n.sent = append(n.sent, sentAlert{userID, event, data})
	return nil
}

func newTestService() (*Service, *fakeStore, *fakeGateway, *fakeNotifier) {
	store := newFakeStore()
	gw := &fakeGateway{}
	alerts := &fakeNotifier{}
	svc := NewService(store, gw, alerts, Config{
		WebhookSecret: testSecret,
		PriceIDs:      []string{"price_pro_monthly"},
		BaseURL:       "https://app.test",
	}, nil)
	return svc, store, gw, alerts
}

func TestCheckout(t *testing.T) {
	svc, store, gw, _ := newTestService()
	store.users["u1"] = &model.User{ID: "u1", Email: "u1@example.com"}
	ctx := context.Background()

	req := CheckoutRequest{PriceID: "price_pro_monthly", PlanType: "pro", BillingPeriod: "monthly"}
	sess, err := svc.Checkout(ctx, "u1", req)
	if err != nil {
		t.Fatalf("Checkout: %v", err)
	}
	if sess.SessionID != "cs_1" {
		t.Errorf("session = %+v", sess)
	}
	if gw.params.CustomerID != "cus_u1" || gw.params.TrialDays != TrialDays {
		t.Errorf("params = %+v", gw.params)
	}
	if gw.params.Metadata[MetaUserID] != "u1" || gw.params.Metadata[MetaBillingPeriod] != "monthly" {
		t.Errorf("metadata = %v", gw.params.Metadata)
	}

	// customer is reused on the second checkout
	if _, err := svc.Checkout(ctx, "u1", CheckoutRequest{PriceID: "price_pro_monthly", PlanType: "team"}); err != nil {
		t.Fatalf("Checkout: %v", err)
	}
	if gw.customers != 1 {
		t.Errorf("created %d customers, want 1", gw.customers)
	}
	if gw.params.TrialDays != 0 {
		t.Errorf("non-pro plans get no trial, got %d", gw.params.TrialDays)
	}
}

func TestCheckout_InvalidPrice(t *testing.T) {
	svc, _, _, _ := newTestService()
	for _, price := range []string{"", "price_unknown"} {
		if _, err := svc.Checkout(context.Background(), "u1", CheckoutRequest{PriceID: price}); !errors.Is(err, ErrInvalidPriceID) {
			t.Errorf("price %q: err = %v", price, err)
		}
	}
}

func signedEvent(t *testing.T, eventType string, object any) ([]byte, string) {
	t.Helper()
	payload, err := json.Marshal(map[string]any{
		"id":          "evt_1",
		"object":      "event",
		"type":        eventType,
		"api_version": stripe.APIVersion,
		"data":        map[string]any{"object": object},
	})
	if err != nil {
		t.Fatal(err)
	}
	ts := time.Now().Unix()
	mac := hmac.New(sha256.New, []byte(testSecret))
	fmt.Fprintf(mac, "%d.%s", ts, payload)
	return payload, fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func TestHandleWebhook_InvalidSignature(t *testing.T) {
	svc, _, _, _ := newTestService()
	payload, _ := signedEvent(t, EventInvoicePaid, map[string]any{"id": "in_1"})
	if _, err := svc.HandleWebhook(context.Background(), payload, "t=1,v1=deadbeef"); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("err = %v, want ErrInvalidSignature", err)
	}
}

func TestHandleWebhook_CheckoutCompleted(t *testing.T) {
	svc, store, _, alerts := newTestService()

	payload, sig := signedEvent(t, EventCheckoutCompleted, map[string]any{
		"id":             "cs_1",
		"object":         "checkout.session",
		"payment_status": "paid",
		"customer":       "cus_1",
		"subscription":   "sub_1",
		"metadata":       map[string]string{MetaUserID: "u1", MetaPlanType: "pro"},
	})
	handled, err := svc.HandleWebhook(context.Background(), payload, sig)
	if err != nil || !handled {
		t.Fatalf("handled=%v err=%v", handled, err)
	}

	p := store.plans["u1"]
	if p.PlanType != model.PlanPro || p.Status != StatusActive || p.StripeCustomerID != "cus_1" || p.StripeSubscriptionID != "sub_1" {
		t.Errorf("plan = %+v", p)
	}
	if len(store.resets) != 1 || store.resets[0] != "u1" {
		t.Errorf("resets = %v", store.resets)
	}
	if len(alerts.sent) != 1 || alerts.sent[0].event != model.AlertPlanChanged || alerts.sent[0].data["to"] != model.PlanPro {
		t.Errorf("alerts = %+v", alerts.sent)
	}
}

func TestHandleWebhook_CheckoutUnpaidIgnored(t *testing.T) {
	svc, store, _, _ := newTestService()
	payload, sig := signedEvent(t, EventCheckoutCompleted, map[string]any{
		"id":             "cs_1",
		"payment_status": "unpaid",
		"metadata":       map[string]string{MetaUserID: "u1", MetaPlanType: "pro"},
	})
	if _, err := svc.HandleWebhook(context.Background(), payload, sig); err != nil {
		t.Fatal(err)
	}
	if len(store.upserted) != 0 {
		t.Errorf("unpaid checkout should not change the plan")
	}
}

func TestHandleWebhook_SubscriptionStatus(t *testing.T) {
	tests := []struct {
		status   string
		wantPlan string
	}{
		{status: "active", wantPlan: model.PlanPro},
		{status: "trialing", wantPlan: model.PlanPro},
		{status: "past_due", wantPlan: model.PlanFree},
		{status: "unpaid", wantPlan: model.PlanFree},
	}
	for _, tt := range tests {
		t.Run(tt.status, func(t *testing.T) {
			svc, store, _, _ := newTestService()
			payload, sig := signedEvent(t, EventSubscriptionUpdated, map[string]any{
				"id":                   "sub_1",
				"object":               "subscription",
				"status":               tt.status,
				"customer":             "cus_1",
				"current_period_start": 1700000000,
				"current_period_end":   1702592000,
				"cancel_at_period_end": true,
				"metadata":             map[string]string{MetaUserID: "u1", MetaPlanType: "pro"},
			})
			if _, err := svc.HandleWebhook(context.Background(), payload, sig); err != nil {
				t.Fatal(err)
			}
			p := store.plans["u1"]
			if p.PlanType != tt.wantPlan || p.Status != tt.status || !p.CancelAtPeriodEnd {
				t.Errorf("plan = %+v", p)
			}
			if p.CurrentPeriodEnd == nil || p.CurrentPeriodEnd.Unix() != 1702592000 {
				t.Errorf("period end = %v", p.CurrentPeriodEnd)
			}
		})
	}
}

func TestHandleWebhook_SubscriptionDeleted(t *testing.T) {
	svc, store, _, alerts := newTestService()
	store.plans["u1"] = &model.UserPlan{UserID: "u1", PlanType: model.PlanPro, Status: StatusActive, StripeCustomerID: "cus_1"}

	// no metadata: the owner is found by customer id
	payload, sig := signedEvent(t, EventSubscriptionDeleted, map[string]any{
		"id": "sub_1", "status": "canceled", "customer": "cus_1",
	})
	if _, err := svc.HandleWebhook(context.Background(), payload, sig); err != nil {
		t.Fatal(err)
	}
	if p := store.plans["u1"]; p.PlanType != model.PlanFree || p.Status != StatusCanceled {
		t.Errorf("plan = %+v", p)
	}
	if len(alerts.sent) != 1 || alerts.sent[0].data["from"] != model.PlanPro {
		t.Errorf("alerts = %+v", alerts.sent)
	}
}

func TestHandleWebhook_Invoices(t *testing.T) {
	svc, store, _, _ := newTestService()
	store.plans["u1"] = &model.UserPlan{UserID: "u1", PlanType: model.PlanPro, Status: StatusActive, StripeCustomerID: "cus_1"}
	ctx := context.Background()

	payload, sig := signedEvent(t, EventInvoicePaid, map[string]any{"id": "in_1", "customer": "cus_1"})
	if _, err := svc.HandleWebhook(ctx, payload, sig); err != nil {
		t.Fatal(err)
	}
	if len(store.resets) != 1 {
		t.Errorf("resets = %v", store.resets)
	}

	payload, sig = signedEvent(t, EventInvoiceFailed, map[string]any{"id": "in_2", "customer": "cus_1"})
	if _, err := svc.HandleWebhook(ctx, payload, sig); err != nil {
		t.Fatal(err)
	}
	if store.plans["u1"].Status != StatusPastDue {
		t.Errorf("status = %s", store.plans["u1"].Status)
	}

	// unknown customers are ignored
	payload, sig = signedEvent(t, EventInvoiceFailed, map[string]any{"id": "in_3", "customer": "cus_other"})
	if _, err := svc.HandleWebhook(ctx, payload, sig); err != nil {
		t.Fatalf("unknown customer: %v", err)
	}
}

func TestHandleWebhook_TrialWillEnd(t *testing.T) {
	svc, _, _, alerts := newTestService()
	payload, sig := signedEvent(t, EventSubscriptionTrialEnd, map[string]any{
		"id": "sub_1", "trial_end": 1700000000, "metadata": map[string]string{MetaUserID: "u1"},
	})
	if _, err := svc.HandleWebhook(context.Background(), payload, sig); err != nil {
		t.Fatal(err)
	}
	if len(alerts.sent) != 1 || alerts.sent[0].event != model.AlertTrialWillEnd || alerts.sent[0].data["trial_end"] != "2023-11-14T22:13:20Z" {
		t.Errorf("alerts = %+v", alerts.sent)
	}
}

func TestHandleWebhook_UnhandledType(t *testing.T) {
	svc, _, _, _ := newTestService()
	payload, sig := signedEvent(t, "customer.created", map[string]any{"id": "cus_1"})
	handled, err := svc.HandleWebhook(context.Background(), payload, sig)
	if err != nil || handled {
		t.Fatalf("handled=%v err=%v", handled, err)
	}
}
