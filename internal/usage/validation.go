package usage

import (
	"errors"
	"fmt"
	"time"

	"github.com/thesisflow/thesisflow/internal/model"
)

const (
	maxLabelLength = 100
	maxEventAge    = 400 * 24 * time.Hour
)

// ValidateEvent rejects events the rollup cannot store.
func ValidateEvent(e *model.UsageEvent, now time.Time) error {
	if e.TransactionID == "" {
		return errors.New("transaction_id is required")
	}
	if e.UserID == "" {
		return errors.New("user_id is required")
	}
	if e.Feature == "" {
		return errors.New("feature is required")
	}
	if e.Tokens <= 0 {
		return fmt.Errorf("tokens must be positive, got %d", e.Tokens)
	}
	if e.Cost < 0 || e.LatencyMS < 0 {
		return errors.New("cost and latency must not be negative")
	}
	if e.OccurredAt.IsZero() {
		return errors.New("occurred_at must be set")
	}
	if now.Sub(e.OccurredAt) > maxEventAge {
		return errors.New("occurred_at too old")
	}
	for name, v := range map[string]string{
		"feature":  e.Feature,
		"provider": e.Provider,
		"model":    e.Model,
		"origin":   e.Origin,
		"quality":  e.Quality,
	} {
		if len(v) > maxLabelLength {
			return fmt.Errorf("%s too long", name)
		}
	}
	return nil
}
