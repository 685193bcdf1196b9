package idempotency

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps entries in process. Expired entries are dropped when their scope is
// claimed again or by Sweep.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]Entry
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]Entry)}
}

// Claim implements Store.
func (s *MemoryStore) Claim(_ context.Context, scope Scope, fingerprint string, now time.Time, ttl time.Duration) (State, Entry, error) {
	now = now.UTC()
	id := scope.ID()

	s.mu.Lock()
	defer s.mu.Unlock()
	if entry, ok := s.entries[id]; ok && !entry.expired(now) {
		return stateOf(entry, fingerprint)
	}
	entry := Entry{
		Visitor:     scope.Visitor,
		Fingerprint: fingerprint,
		ClaimedAt:   now,
		ExpiresAt:   now.Add(normalizeTTL(ttl)),
	}
	s.entries[id] = entry
	return Fresh, entry, nil
}

// Complete implements Store. Completing a scope claimed for another request fails.
func (s *MemoryStore) Complete(_ context.Context, scope Scope, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	now = now.UTC()
	id := scope.ID()

	s.mu.Lock()
	defer s.mu.Unlock()
	if entry, ok := s.entries[id]; ok && entry.Fingerprint != fingerprint {
		return ErrKeyReused
	}
	s.entries[id] = completedEntry(scope, fingerprint, resp, now, normalizeTTL(ttl))
	return nil
}

// Abandon implements Store.
func (s *MemoryStore) Abandon(_ context.Context, scope Scope) error {
	s.mu.Lock()
	delete(s.entries, scope.ID())
	s.mu.Unlock()
	return nil
}

// Sweep removes up to limit expired entries. A non-positive limit removes all of them.
func (s *MemoryStore) Sweep(_ context.Context, now time.Time, limit int) (int, error) {
	now = now.UTC()
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, entry := range s.entries {
		if limit > 0 && removed >= limit {
			break
		}
		if entry.expired(now) {
			delete(s.entries, id)
			removed++
		}
	}
	return removed, nil
}

// Len reports the number of entries, expired ones included.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
