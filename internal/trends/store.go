package trends

import (
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Store keeps jobs in process memory. Jobs do not survive a restart.
type Store struct {
	mu   sync.RWMutex
	jobs map[string]*Job
	now  func() time.Time
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{jobs: make(map[string]*Job), now: time.Now}
}

// Create registers a queued job and returns a snapshot of it.
func (s *Store) Create(userID, query string, timeframeMonths int, quality string) (*Job, error) {
	query = strings.TrimSpace(query)
	if len([]rune(query)) < 3 {
		return nil, ErrQueryTooShort
	}
	if timeframeMonths <= 0 {
		timeframeMonths = DefaultTimeframeMonths
	}

	now := s.now().UTC()
	job := &Job{
		ID:              ulid.Make().String(),
		UserID:          userID,
		Query:           query,
		TimeframeMonths: timeframeMonths,
		Quality:         quality,
		Status:          StatusQueued,
		Items:           []Item{},
		Clusters:        []Cluster{},
		Timeline:        []TimelinePoint{},
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	s.mu.Lock()
	s.jobs[job.ID] = job
	s.mu.Unlock()
	return job.clone(), nil
}

// Get returns a snapshot of a job.
func (s *Store) Get(id string) (*Job, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, false
	}
	return job.clone(), true
}

// Update applies fn to a job under the store lock.
func (s *Store) Update(id string, fn func(*Job)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	fn(job)
	job.UpdatedAt = s.now().UTC()
	return nil
}

// Prune removes finished jobs last updated before cutoff.
func (s *Store) Prune(cutoff time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, job := range s.jobs {
		if job.Terminal() && job.UpdatedAt.Before(cutoff) {
			delete(s.jobs, id)
			removed++
		}
	}
	return removed
}

// Len returns the number of stored jobs.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.jobs)
}
