package alert

import (
	"context"
	"time"

	"github.com/thesisflow/thesisflow/internal/model"
)

// Store is the persistence the alert package needs.
// *repository.Repository satisfies it.
type Store interface {
	CreateAlertEndpoint(ctx context.Context, e *model.AlertEndpoint) error
	GetAlertEndpoint(ctx context.Context, id string) (*model.AlertEndpoint, error)
	ListAlertEndpoints(ctx context.Context, userID string) ([]*model.AlertEndpoint, error)
	ListActiveAlertEndpoints(ctx context.Context, userID string, eventType model.AlertEventType) ([]*model.AlertEndpoint, error)
	DeleteAlertEndpoint(ctx context.Context, userID, id string) error

	CreateAlertDelivery(ctx context.Context, d *model.AlertDelivery) (bool, error)
	ClaimAlertDeliveries(ctx context.Context, limit int, lease time.Duration) ([]*model.AlertDelivery, error)
	MarkAlertDeliverySuccess(ctx context.Context, id string, httpStatus int) error
	MarkAlertDeliveryFailure(ctx context.Context, id string, httpStatus *int, errMsg string, nextRetryAt time.Time, exhausted bool) error
	ListAlertDeliveries(ctx context.Context, userID string, limit int) ([]*model.AlertDelivery, error)
}
