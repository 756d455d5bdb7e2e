package model

import (
	"slices"
	"time"
)

// AlertEventType names a notification sent to alert endpoints.
type AlertEventType string

const (
	AlertTokensLow       AlertEventType = "tokens.low"
	AlertTokensExhausted AlertEventType = "tokens.exhausted"
	AlertUsageAnomaly    AlertEventType = "usage.anomaly"
	AlertPlanChanged     AlertEventType = "plan.changed"
	AlertTrialWillEnd    AlertEventType = "plan.trial_will_end"
)

// ValidAlertEventTypes contains all valid event types.
var ValidAlertEventTypes = []AlertEventType{
	AlertTokensLow, AlertTokensExhausted, AlertUsageAnomaly, AlertPlanChanged, AlertTrialWillEnd,
}

// IsValidAlertEventType checks if an event type is valid.
func IsValidAlertEventType(et AlertEventType) bool {
	return slices.Contains(ValidAlertEventTypes, et)
}

// DeliveryStatus represents alert delivery state.
type DeliveryStatus string

const (
	DeliveryStatusPending   DeliveryStatus = "pending"
	DeliveryStatusSuccess   DeliveryStatus = "success"
	DeliveryStatusFailed    DeliveryStatus = "failed"
	DeliveryStatusExhausted DeliveryStatus = "exhausted"
)

// AlertEndpoint is a user-registered HTTPS receiver.
type AlertEndpoint struct {
	ID         string           `json:"id"`
	UserID     string           `json:"user_id"`
	TargetURL  string           `json:"url"`
	Secret     string           `json:"-"`
	Enabled    bool             `json:"enabled"`
	EventTypes []AlertEventType `json:"events"`
	Name       string           `json:"name,omitempty"`
	CreatedAt  time.Time        `json:"created_at"`
	UpdatedAt  time.Time        `json:"updated_at"`
	DeletedAt  *time.Time       `json:"-"`
}

// IsActive returns true if the endpoint can receive alerts.
func (e *AlertEndpoint) IsActive() bool {
	return e.Enabled && e.DeletedAt == nil
}

// SubscribesTo checks if the endpoint wants the given event type.
// An empty list subscribes to every event.
func (e *AlertEndpoint) SubscribesTo(et AlertEventType) bool {
	return len(e.EventTypes) == 0 || slices.Contains(e.EventTypes, et)
}

// AlertDelivery is one attempt record for an event and endpoint.
type AlertDelivery struct {
	ID             string         `json:"id"`
	EndpointID     string         `json:"endpoint_id"`
	EventID        string         `json:"event_id"`
	EventType      AlertEventType `json:"event_type"`
	PayloadJSON    string         `json:"-"`
	Status         DeliveryStatus `json:"status"`
	AttemptCount   int            `json:"attempt_count"`
	MaxAttempts    int            `json:"max_attempts"`
	NextRetryAt    time.Time      `json:"next_retry_at"`
	LastAttemptAt  *time.Time     `json:"last_attempt_at,omitempty"`
	LastHTTPStatus *int           `json:"last_http_status,omitempty"`
	LastError      string         `json:"last_error,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// IsTerminal returns true if delivery is in a terminal state.
func (d *AlertDelivery) IsTerminal() bool {
	return d.Status == DeliveryStatusSuccess || d.Status == DeliveryStatusExhausted
}

// AlertEndpointCreateRequest registers a new receiver.
type AlertEndpointCreateRequest struct {
	URL    string           `json:"url"`
	Name   string           `json:"name,omitempty"`
	Events []AlertEventType `json:"events"`
}

// AlertEndpointCreateResponse includes the signing secret (shown only once).
type AlertEndpointCreateResponse struct {
	AlertEndpoint
	Secret string `json:"secret"`
}

// AlertPayload is the JSON body posted to endpoints.
type AlertPayload struct {
	EventType AlertEventType `json:"event_type"`
	EventID   string         `json:"event_id"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data"`
}
