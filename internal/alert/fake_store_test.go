package alert

import (
	"context"
	"sync"
	"time"

	"github.com/thesisflow/thesisflow/internal/model"
	"github.com/thesisflow/thesisflow/internal/repository"
)

type failureRecord struct {
	id          string
	httpStatus  *int
	errMsg      string
	nextRetryAt time.Time
	exhausted   bool
}

type fakeStore struct {
	mu         sync.Mutex
	endpoints  map[string]*model.AlertEndpoint
	deliveries []*model.AlertDelivery
	pending    []*model.AlertDelivery
	successes  map[string]int
	failures   []failureRecord
	listErr    error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		endpoints: make(map[string]*model.AlertEndpoint),
		successes: make(map[string]int),
	}
}

func (s *fakeStore) CreateAlertEndpoint(_ context.Context, e *model.AlertEndpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.endpoints[e.ID] = e
	return nil
}

func (s *fakeStore) GetAlertEndpoint(_ context.Context, id string) (*model.AlertEndpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.endpoints[id]
	if !ok || e.DeletedAt != nil {
		return nil, repository.ErrAlertEndpointNotFound
	}
	return e, nil
}

func (s *fakeStore) ListAlertEndpoints(_ context.Context, userID string) ([]*model.AlertEndpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	var out []*model.AlertEndpoint
	for _, e := range s.endpoints {
		if e.UserID == userID && e.DeletedAt == nil {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *fakeStore) ListActiveAlertEndpoints(ctx context.Context, userID string, et model.AlertEventType) ([]*model.AlertEndpoint, error) {
	all, err := s.ListAlertEndpoints(ctx, userID)
	if err != nil {
		return nil, err
	}
	var out []*model.AlertEndpoint
	for _, e := range all {
		if e.IsActive() && e.SubscribesTo(et) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *fakeStore) DeleteAlertEndpoint(_ context.Context, userID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.endpoints[id]
	if !ok || e.UserID != userID || e.DeletedAt != nil {
		return repository.ErrAlertEndpointNotFound
	}
	now := time.Now()
	e.DeletedAt = &now
	return nil
}

func (s *fakeStore) CreateAlertDelivery(_ context.Context, d *model.AlertDelivery) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deliveries = append(s.deliveries, d)
	s.pending = append(s.pending, d)
	return true, nil
}

func (s *fakeStore) ClaimAlertDeliveries(_ context.Context, limit int, _ time.Duration) ([]*model.AlertDelivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := min(limit, len(s.pending))
	claimed := s.pending[:n]
	s.pending = s.pending[n:]
	return claimed, nil
}

func (s *fakeStore) MarkAlertDeliverySuccess(_ context.Context, id string, httpStatus int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.successes[id] = httpStatus
	return nil
}

func (s *fakeStore) MarkAlertDeliveryFailure(_ context.Context, id string, httpStatus *int, errMsg string, nextRetryAt time.Time, exhausted bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = append(s.failures, failureRecord{id, httpStatus, errMsg, nextRetryAt, exhausted})
	return nil
}

func (s *fakeStore) ListAlertDeliveries(_ context.Context, _ string, limit int) ([]*model.AlertDelivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit > len(s.deliveries) {
		limit = len(s.deliveries)
	}
	return s.deliveries[:limit], nil
}
