package cache

import (
	"context"
	"strings"
	"sync"
	"time"
)

type memoryEntry struct {
	payload    []byte
	capturedAt time.Time
}

// MemoryStore is the in-process cache backend.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	now     func() time.Time
}

// -----------------------------------------------------------------------------

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

// -----------------------------------------------------------------------------

// WithClock replaces the time source; used by tests.
func (s *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	s.now = now
	return s
}

// -----------------------------------------------------------------------------

func (s *MemoryStore) Get(_ context.Context, key string, ttl time.Duration) ([]byte, bool, error) {
	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()

	if !ok || s.now().Sub(e.capturedAt) > ttl {
		return nil, false, nil
	}
	return e.payload, true, nil
}

// -----------------------------------------------------------------------------

func (s *MemoryStore) Set(_ context.Context, key string, payload []byte) error {
	s.mu.Lock()
	s.entries[key] = memoryEntry{payload: payload, capturedAt: s.now()}
	s.mu.Unlock()
	return nil
}

// -----------------------------------------------------------------------------

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
	return nil
}

// -----------------------------------------------------------------------------

func (s *MemoryStore) DeleteByPrefix(_ context.Context, prefix string) (int, error) {
	if prefix == "" {
		return 0, ErrEmptyPrefix
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key := range s.entries {
		if strings.HasPrefix(key, prefix) {
			delete(s.entries, key)
			removed++
		}
	}
	return removed, nil
}

// -----------------------------------------------------------------------------

func (s *MemoryStore) Cleanup(_ context.Context, maxAge time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for key, e := range s.entries {
		if now.Sub(e.capturedAt) > maxAge {
			delete(s.entries, key)
			removed++
		}
	}
	return removed, nil
}

// -----------------------------------------------------------------------------

func (s *MemoryStore) Len(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries), nil
}

// -----------------------------------------------------------------------------

func (s *MemoryStore) Close() error {
	return nil
}
