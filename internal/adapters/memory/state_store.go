package memory

import (
	"context"
	"sync"
	"time"

	"github.com/target/rolegate/internal/ports"
)

type stateEntry struct {
	rec    ports.OAuthState
	expiry time.Time
}

// StateStore keeps OAuth state records in memory. Expired records are purged
// lazily whenever the store is touched.
type StateStore struct {
	mu      sync.Mutex
	entries map[string]stateEntry
	now     func() time.Time
}

// NewStateStore creates an empty state store. A nil now uses time.Now.
func NewStateStore(now func() time.Time) *StateStore {
	if now == nil {
		now = time.Now
	}
	return &StateStore{entries: make(map[string]stateEntry), now: now}
}

// Put records rec under state for ttl.
func (s *StateStore) Put(_ context.Context, state string, rec ports.OAuthState, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.purgeLocked(now)
	s.entries[state] = stateEntry{rec: rec, expiry: now.Add(ttl)}
	return nil
}

// Consume returns and deletes the record for state.
func (s *StateStore) Consume(_ context.Context, state string) (ports.OAuthState, bool, error) {
	if state == "" {
		return ports.OAuthState{}, false, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	ent, ok := s.entries[state]
	delete(s.entries, state)
	s.purgeLocked(now)
	if !ok || !now.Before(ent.expiry) {
		return ports.OAuthState{}, false, nil
	}
	return ent.rec, true, nil
}

func (s *StateStore) purgeLocked(now time.Time) {
	for k, ent := range s.entries {
		if !now.Before(ent.expiry) {
			delete(s.entries, k)
		}
	}
}
