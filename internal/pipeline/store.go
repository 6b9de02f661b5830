package pipeline

import (
	"sync"
	"time"

	"chatstream/pkg/models"
)

// LiveEventStore holds the currently live (unexpired) events plus the set of
// ids already admitted. Expired events and their dedup entries are evicted
// together, so dedup memory is bounded by the same TTL as the events.
//
// Mutation happens on the poll tick; reads come concurrently from HTTP
// handlers and new subscribers. Every read sweeps first and returns a copy,
// so observers never see stale entries.
type LiveEventStore struct {
	mu       sync.Mutex
	live     []models.ConversationEvent
	admitted map[string]time.Time // id -> expires_at
	now      func() time.Time
}

// NewLiveEventStore creates an empty store
func NewLiveEventStore() *LiveEventStore {
	return &LiveEventStore{
		admitted: make(map[string]time.Time),
		now:      time.Now,
	}
}

// Admit adds the batch to the live set, skipping ids that were already
// admitted. Returns the accepted subset in batch order for downstream
// broadcasting. Admitting the same id twice is a no-op on the second attempt.
func (s *LiveEventStore) Admit(batch []models.ConversationEvent) []models.ConversationEvent {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sweepLocked()

	var accepted []models.ConversationEvent
	for _, event := range batch {
		if _, seen := s.admitted[event.ID]; seen {
			continue
		}
		s.admitted[event.ID] = event.ExpiresAt
		s.live = append(s.live, event)
		accepted = append(accepted, event)
	}
	return accepted
}

// Sweep removes every event whose TTL has elapsed, along with its dedup id
func (s *LiveEventStore) Sweep() {
	s.mu.Lock()
	s.sweepLocked()
	s.mu.Unlock()
}

// Snapshot sweeps and returns a copy of the live set, oldest first
func (s *LiveEventStore) Snapshot() []models.ConversationEvent {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sweepLocked()

	snapshot := make([]models.ConversationEvent, len(s.live))
	copy(snapshot, s.live)
	return snapshot
}

// LiveCount sweeps and returns the number of live events
func (s *LiveEventStore) LiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sweepLocked()
	return len(s.live)
}

func (s *LiveEventStore) sweepLocked() {
	now := s.now()

	kept := s.live[:0]
	for _, event := range s.live {
		if event.Live(now) {
			kept = append(kept, event)
		}
	}
	// Zero the tail so evicted events can be collected
	for i := len(kept); i < len(s.live); i++ {
		s.live[i] = models.ConversationEvent{}
	}
	s.live = kept

	for id, expiresAt := range s.admitted {
		if !expiresAt.After(now) {
			delete(s.admitted, id)
		}
	}
}
