package idempotency

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	rec       *Record
	completed bool
	expiresAt time.Time
}

// MemoryStore is a concurrency-safe in-process Store with TTL-based lazy
// expiration. Suitable for tests and single-node deployments; multi-node
// deployments need the Postgres or Redis store so the reservation mutex
// spans instances.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry
	ttl     time.Duration
	nowFunc func() time.Time
}

// NewMemoryStore creates a MemoryStore. A non-positive ttl falls back to
// DefaultTTL.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryStore{
		entries: make(map[string]*memoryEntry),
		ttl:     ttl,
		nowFunc: time.Now,
	}
}

func storeKey(endpoint, key string) string { return endpoint + "\x00" + key }

func (s *MemoryStore) Reserve(_ context.Context, endpoint, key string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := storeKey(endpoint, key)
	entry, ok := s.entries[k]
	if ok && s.nowFunc().After(entry.expiresAt) {
		delete(s.entries, k)
		ok = false
	}
	if !ok {
		s.entries[k] = &memoryEntry{expiresAt: s.nowFunc().Add(s.ttl)}
		return nil, nil
	}
	if !entry.completed {
		return nil, ErrInFlight
	}
	cp := *entry.rec
	cp.Header = entry.rec.Header.Clone()
	cp.Body = append([]byte(nil), entry.rec.Body...)
	return &cp, nil
}

func (s *MemoryStore) Complete(_ context.Context, endpoint, key string, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *rec
	cp.Header = rec.Header.Clone()
	cp.Body = append([]byte(nil), rec.Body...)
	s.entries[storeKey(endpoint, key)] = &memoryEntry{
		rec:       &cp,
		completed: true,
		expiresAt: rec.ExpiresAt,
	}
	return nil
}

func (s *MemoryStore) Release(_ context.Context, endpoint, key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, storeKey(endpoint, key))
}
