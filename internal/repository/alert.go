package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/lib/pq"
	"github.com/thesisflow/thesisflow/internal/model"
)

// ErrAlertEndpointNotFound is returned for missing, deleted or foreign endpoints.
var ErrAlertEndpointNotFound = errors.New("alert endpoint not found")

// maxDeliveryError bounds the stored last_error text.
const maxDeliveryError = 500

const alertEndpointColumns = `id, user_id::text, target_url, secret, enabled, event_types,
		COALESCE(name, ''), created_at, updated_at, deleted_at`

const alertDeliveryColumns = `d.id, d.endpoint_id, d.event_id, d.event_type, d.payload_json,
		d.status, d.attempt_count, d.max_attempts, d.next_retry_at,
		d.last_attempt_at, d.last_http_status, COALESCE(d.last_error, ''),
		d.created_at, d.updated_at`

// CreateAlertEndpoint inserts a new alert endpoint.
func (r *Repository) CreateAlertEndpoint(ctx context.Context, e *model.AlertEndpoint) error {
	query := `
		INSERT INTO alert_endpoints (id, user_id, target_url, secret, enabled, event_types, name, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := r.pool.Exec(ctx, query,
		e.ID,
		e.UserID,
		e.TargetURL,
		e.Secret,
		e.Enabled,
		pq.Array(eventTypeStrings(e.EventTypes)),
		nullableString(e.Name),
		e.CreatedAt,
		e.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert alert endpoint: %w", err)
	}
	return nil
}

// GetAlertEndpoint retrieves a non-deleted endpoint by id.
func (r *Repository) GetAlertEndpoint(ctx context.Context, id string) (*model.AlertEndpoint, error) {
	query := `SELECT ` + alertEndpointColumns + ` FROM alert_endpoints WHERE id = $1 AND deleted_at IS NULL`
	return scanAlertEndpoint(r.pool.QueryRow(ctx, query, id))
}

// ListAlertEndpoints returns a user's endpoints, oldest first.
func (r *Repository) ListAlertEndpoints(ctx context.Context, userID string) ([]*model.AlertEndpoint, error) {
	query := `
		SELECT ` + alertEndpointColumns + `
		FROM alert_endpoints
		WHERE user_id = $1 AND deleted_at IS NULL
		ORDER BY created_at
	`
	return r.queryAlertEndpoints(ctx, query, userID)
}

// ListActiveAlertEndpoints returns enabled endpoints subscribed to eventType.
// An endpoint with no event types receives everything.
func (r *Repository) ListActiveAlertEndpoints(ctx context.Context, userID string, eventType model.AlertEventType) ([]*model.AlertEndpoint, error) {
	query := `
		SELECT ` + alertEndpointColumns + `
		FROM alert_endpoints
		WHERE user_id = $1
		  AND deleted_at IS NULL
		  AND enabled = true
		  AND (cardinality(event_types) = 0 OR $2 = ANY(event_types))
		ORDER BY created_at
	`
	return r.queryAlertEndpoints(ctx, query, userID, string(eventType))
}

// DeleteAlertEndpoint soft-deletes an endpoint owned by userID.
func (r *Repository) DeleteAlertEndpoint(ctx context.Context, userID, id string) error {
	query := `
		UPDATE alert_endpoints
		SET deleted_at = now(), updated_at = now()
		WHERE id = $1 AND user_id = $2 AND deleted_at IS NULL
	`

	tag, err := r.pool.Exec(ctx, query, id, userID)
	if err != nil {
		if isInvalidInput(err) {
			return ErrAlertEndpointNotFound
		}
		return fmt.Errorf("delete alert endpoint: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAlertEndpointNotFound
	}
	return nil
}

// CreateAlertDelivery records a pending delivery. A repeated (endpoint, event)
// pair is ignored, and reports false.
func (r *Repository) CreateAlertDelivery(ctx context.Context, d *model.AlertDelivery) (bool, error) {
	query := `
		INSERT INTO alert_deliveries (
			id, endpoint_id, event_id, event_type, payload_json,
			status, attempt_count, max_attempts, next_retry_at,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (endpoint_id, event_id) DO NOTHING
	`

	tag, err := r.pool.Exec(ctx, query,
		d.ID,
		d.EndpointID,
		d.EventID,
		string(d.EventType),
		d.PayloadJSON,
		string(d.Status),
		d.AttemptCount,
		d.MaxAttempts,
		d.NextRetryAt,
		d.CreatedAt,
		d.UpdatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("insert alert delivery: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ClaimAlertDeliveries locks up to limit due deliveries and pushes their
// next_retry_at forward by lease, so concurrent workers skip them until the
// attempt is recorded.
func (r *Repository) ClaimAlertDeliveries(ctx context.Context, limit int, lease time.Duration) ([]*model.AlertDelivery, error) {
	var claimed []*model.AlertDelivery

	err := r.withTx(ctx, func(tx pgx.Tx) error {
		query := `
			SELECT ` + alertDeliveryColumns + `
			FROM alert_deliveries d
			JOIN alert_endpoints e ON d.endpoint_id = e.id
			WHERE d.status IN ('pending', 'failed')
			  AND d.next_retry_at <= now()
			  AND e.deleted_at IS NULL
			  AND e.enabled = true
			ORDER BY d.next_retry_at
			LIMIT $1
			FOR UPDATE OF d SKIP LOCKED
		`

		rows, err := tx.Query(ctx, query, limit)
		if err != nil {
			return fmt.Errorf("query pending deliveries: %w", err)
		}
		claimed, err = collectAlertDeliveries(rows)
		if err != nil {
			return err
		}
		if len(claimed) == 0 {
			return nil
		}

		ids := make([]string, len(claimed))
		for i, d := range claimed {
			ids[i] = d.ID
		}
		_, err = tx.Exec(ctx, `
			UPDATE alert_deliveries
			SET next_retry_at = now() + $2::interval, updated_at = now()
			WHERE id = ANY($1)
		`, ids, lease)
		if err != nil {
			return fmt.Errorf("lease deliveries: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// MarkAlertDeliverySuccess records a 2xx attempt.
func (r *Repository) MarkAlertDeliverySuccess(ctx context.Context, id string, httpStatus int) error {
	query := `
		UPDATE alert_deliveries
		SET status = 'success',
			attempt_count = attempt_count + 1,
			last_attempt_at = now(),
			last_http_status = $2,
			last_error = NULL,
			updated_at = now()
		WHERE id = $1
	`

	if _, err := r.pool.Exec(ctx, query, id, httpStatus); err != nil {
		return fmt.Errorf("update delivery success: %w", err)
	}
	return nil
}

// MarkAlertDeliveryFailure records a failed attempt and schedules the next one.
func (r *Repository) MarkAlertDeliveryFailure(ctx context.Context, id string, httpStatus *int, errMsg string, nextRetryAt time.Time, exhausted bool) error {
	status := model.DeliveryStatusFailed
	if exhausted {
		status = model.DeliveryStatusExhausted
	}
	if len(errMsg) > maxDeliveryError {
		errMsg = errMsg[:maxDeliveryError]
	}

	query := `
		UPDATE alert_deliveries
		SET status = $2,
			attempt_count = attempt_count + 1,
			last_attempt_at = now(),
			last_http_status = $3,
			last_error = $4,
			next_retry_at = $5,
			updated_at = now()
		WHERE id = $1
	`

	if _, err := r.pool.Exec(ctx, query, id, string(status), httpStatus, errMsg, nextRetryAt); err != nil {
		return fmt.Errorf("update delivery failure: %w", err)
	}
	return nil
}

// ListAlertDeliveries returns the newest deliveries across a user's endpoints.
func (r *Repository) ListAlertDeliveries(ctx context.Context, userID string, limit int) ([]*model.AlertDelivery, error) {
	query := `
		SELECT ` + alertDeliveryColumns + `
		FROM alert_deliveries d
		JOIN alert_endpoints e ON d.endpoint_id = e.id
		WHERE e.user_id = $1
		ORDER BY d.created_at DESC
		LIMIT $2
	`

	rows, err := r.pool.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query alert deliveries: %w", err)
	}
	return collectAlertDeliveries(rows)
}

func (r *Repository) queryAlertEndpoints(ctx context.Context, query string, args ...any) ([]*model.AlertEndpoint, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		if isInvalidInput(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("query alert endpoints: %w", err)
	}
	defer rows.Close()

	var endpoints []*model.AlertEndpoint
	for rows.Next() {
		e, err := scanAlertEndpoint(rows)
		if err != nil {
			return nil, err
		}
		endpoints = append(endpoints, e)
	}
	return endpoints, rows.Err()
}

func scanAlertEndpoint(row pgx.Row) (*model.AlertEndpoint, error) {
	var e model.AlertEndpoint
	var eventTypes []string

	err := row.Scan(
		&e.ID,
		&e.UserID,
		&e.TargetURL,
		&e.Secret,
		&e.Enabled,
		pq.Array(&eventTypes),
		&e.Name,
		&e.CreatedAt,
		&e.UpdatedAt,
		&e.DeletedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrAlertEndpointNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan alert endpoint: %w", err)
	}

	e.EventTypes = make([]model.AlertEventType, len(eventTypes))
	for i, et := range eventTypes {
		e.EventTypes[i] = model.AlertEventType(et)
	}
	return &e, nil
}

func collectAlertDeliveries(rows pgx.Rows) ([]*model.AlertDelivery, error) {
	defer rows.Close()

	var deliveries []*model.AlertDelivery
	for rows.Next() {
		var d model.AlertDelivery
		var eventType, status string

		if err := rows.Scan(
			&d.ID,
			&d.EndpointID,
			&d.EventID,
			&eventType,
			&d.PayloadJSON,
			&status,
			&d.AttemptCount,
			&d.MaxAttempts,
			&d.NextRetryAt,
			&d.LastAttemptAt,
			&d.LastHTTPStatus,
			&d.LastError,
			&d.CreatedAt,
			&d.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan alert delivery: %w", err)
		}

		d.EventType = model.AlertEventType(eventType)
		d.Status = model.DeliveryStatus(status)
		deliveries = append(deliveries, &d)
	}
	return deliveries, rows.Err()
}

func eventTypeStrings(types []model.AlertEventType) []string {
	out := make([]string, len(types))
	for i, et := range types {
		out[i] = string(et)
	}
	return out
}
