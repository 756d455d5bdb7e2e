package trends

import (
	"sync"
)

// Event types streamed to subscribers.
const (
	EventSnapshot = "snapshot"
	EventInit     = "init"
	EventProgress = "progress"
	EventItem     = "item"
	EventMetrics  = "metrics"
	EventClusters = "clusters"
	EventTimeline = "timeline"
	EventReport   = "report"
	EventDone     = "done"
	EventError    = "error"
)

// subscriberBuffer is how many events a subscriber may fall behind before
// it is dropped.
const subscriberBuffer = 64

// Event is one message on a job stream.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// terminal reports whether the event ends the stream.
func (e Event) terminal() bool {
	return e.Type == EventDone || e.Type == EventError
}

type subscriber struct {
	ch chan Event
}

// Hub fans job events out to subscribers of this process. There is no
// replay beyond the initial snapshot.
type Hub struct {
	store *Store

	mu   sync.Mutex
	subs map[string]map[*subscriber]struct{}
}

// NewHub creates a Hub reading snapshots from store.
func NewHub(store *Store) *Hub {
	return &Hub{store: store, subs: make(map[string]map[*subscriber]struct{})}
}

// Subscribe returns a channel that first carries a snapshot of the job and
// then its live events. The channel is closed after done or error, when the
// subscriber falls behind, or when cancel is called.
func (h *Hub) Subscribe(jobID string) (<-chan Event, func(), error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	job, ok := h.store.Get(jobID)
	if !ok {
		return nil, nil, ErrJobNotFound
	}

	sub := &subscriber{ch: make(chan Event, subscriberBuffer)}
	sub.ch <- Event{Type: EventSnapshot, Data: job}
	if job.Terminal() {
		close(sub.ch)
		return sub.ch, func() {}, nil
	}

	if h.subs[jobID] == nil {
		h.subs[jobID] = make(map[*subscriber]struct{})
	}
	h.subs[jobID][sub] = struct{}{}

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.remove(jobID, sub)
	}
	return sub.ch, cancel, nil
}

// Publish delivers an event to every subscriber of the job without
// blocking. A terminal event closes all of them.
func (h *Hub) Publish(jobID string, e Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for sub := range h.subs[jobID] {
		select {
		case sub.ch <- e:
		default:
			h.remove(jobID, sub)
		}
	}

	if e.terminal() {
		for sub := range h.subs[jobID] {
			h.remove(jobID, sub)
		}
	}
}

// Subscribers returns the live subscriber count for a job.
func (h *Hub) Subscribers(jobID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[jobID])
}

// remove must be called with h.mu held.
func (h *Hub) remove(jobID string, sub *subscriber) {
	subs, ok := h.subs[jobID]
	if !ok {
		return
	}
	if _, ok := subs[sub]; !ok {
		return
	}
	delete(subs, sub)
	close(sub.ch)
	if len(subs) == 0 {
		delete(h.subs, jobID)
	}
}
