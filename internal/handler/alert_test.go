package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/thesisflow/thesisflow/internal/alert"
	"github.com/thesisflow/thesisflow/internal/model"
)

type fakeAlerts struct {
	req     model.AlertEndpointCreateRequest
	limit   int
	deleted string
	err     error
}

func (f *fakeAlerts) Register(_ context.Context, userID string, req model.AlertEndpointCreateRequest) (*model.AlertEndpointCreateResponse, error) {
	f.req = req
	if f.err != nil {
		return nil, f.err
	}
	return &model.AlertEndpointCreateResponse{
		AlertEndpoint: model.AlertEndpoint{ID: "ep1", UserID: userID, TargetURL: req.URL, Enabled: true, EventTypes: req.Events},
		Secret:        "whsec_test",
	}, nil
}

func (f *fakeAlerts) List(context.Context, string) ([]*model.AlertEndpoint, error) {
	return nil, f.err
}

func (f *fakeAlerts) Delete(_ context.Context, _, id string) error {
	f.deleted = id
	return f.err
}

func (f *fakeAlerts) Deliveries(_ context.Context, _ string, limit int) ([]*model.AlertDelivery, error) {
	f.limit = limit
	return nil, f.err
}

func TestAlertHandler_CreateEndpoint(t *testing.T) {
	svc := &fakeAlerts{}
	h := NewAlertHandler(svc, nil)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/alerts/endpoints", jsonBody(`{"url":"https://hooks.example.com/tf","events":["tokens.low"]}`))
	h.CreateEndpoint(rec, withUser(req, testUser))

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeMap(t, rec)
	if body["secret"] != "whsec_test" || body["url"] != "https://hooks.example.com/tf" {
		t.Errorf("unexpected body: %v", body)
	}
}

func TestAlertHandler_CreateEndpointErrors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
	}{
		{"private address", fmt.Errorf("%w: %w", alert.ErrInvalidTargetURL, alert.ErrPrivateIP), http.StatusBadRequest},
		{"unknown event", fmt.Errorf("%w: %q", alert.ErrInvalidEvent, "nope"), http.StatusBadRequest},
		{"limit", alert.ErrTooManyEndpoints, http.StatusConflict},
		{"store", errors.New("insert failed"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/api/alerts/endpoints", jsonBody(`{"url":"https://10.0.0.1"}`))
			NewAlertHandler(&fakeAlerts{err: tt.err}, nil).CreateEndpoint(rec, withUser(req, testUser))
			if rec.Code != tt.wantCode {
				t.Errorf("expected %d, got %d", tt.wantCode, rec.Code)
			}
		})
	}
}

func TestAlertHandler_DeleteEndpoint(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
	}{
		{"deleted", nil, http.StatusNoContent},
		{"missing", alert.ErrEndpointNotFound, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &fakeAlerts{err: tt.err}
			rec := httptest.NewRecorder()
			req := withParam(httptest.NewRequest(http.MethodDelete, "/api/alerts/endpoints/ep1", nil), "id", "ep1")
			NewAlertHandler(svc, nil).DeleteEndpoint(rec, withUser(req, testUser))
			if rec.Code != tt.wantCode {
				t.Errorf("expected %d, got %d", tt.wantCode, rec.Code)
			}
			if svc.deleted != "ep1" {
				t.Errorf("deleted %q", svc.deleted)
			}
		})
	}
}

func TestAlertHandler_Listings(t *testing.T) {
	svc := &fakeAlerts{}
	h := NewAlertHandler(svc, nil)

	rec := httptest.NewRecorder()
	h.ListEndpoints(rec, withUser(httptest.NewRequest(http.MethodGet, "/api/alerts/endpoints", nil), testUser))
	if got := rec.Body.String(); got != "{\"endpoints\":[]}\n" {
		t.Errorf("endpoints = %s", got)
	}

	rec = httptest.NewRecorder()
	h.Deliveries(rec, withUser(httptest.NewRequest(http.MethodGet, "/api/alerts/deliveries?limit=25", nil), testUser))
	if rec.Code != http.StatusOK || svc.limit != 25 {
		t.Errorf("status %d limit %d", rec.Code, svc.limit)
	}
}
