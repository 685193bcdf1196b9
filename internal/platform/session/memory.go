package session

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	values    map[string][]byte
	expiresAt time.Time
}

// MemoryStore keeps sessions in process memory, for tests and single-instance development.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]*memoryEntry
	now      func() time.Time
}

// NewMemoryStore constructs an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*memoryEntry), now: time.Now}
}

func (s *MemoryStore) live(token string) *memoryEntry {
	entry, ok := s.sessions[token]
	if !ok {
		return nil
	}
	if !entry.expiresAt.IsZero() && !s.now().Before(entry.expiresAt) {
		delete(s.sessions, token)
		return nil
	}
	return entry
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, token, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := s.live(token)
	if entry == nil {
		return nil, ErrNotFound
	}
	value, ok := entry.values[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), value...), nil
}

// Set implements Store.
func (s *MemoryStore) Set(_ context.Context, token, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := s.live(token)
	if entry == nil {
		entry = &memoryEntry{values: make(map[string][]byte)}
		s.sessions[token] = entry
	}
	entry.values[key] = append([]byte(nil), value...)
	if ttl > 0 {
		entry.expiresAt = s.now().Add(ttl)
	}
	return nil
}

// Remove implements Store.
func (s *MemoryStore) Remove(_ context.Context, token, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry := s.live(token); entry != nil {
		delete(entry.values, key)
	}
	return nil
}

// Ping implements Store.
func (s *MemoryStore) Ping(context.Context) error { return nil }
