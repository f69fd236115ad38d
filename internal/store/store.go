package store

import (
	"context"
	"sync"

	"github.com/zzkt/aqi/internal/models"
)

// Store is the place-keyed entry cache consulted by the retrieval
// pipeline. Keys compare by exact string equality; a key addresses one
// slot and Put is a full overwrite. Key absence is an absence result,
// never an error. Entries carry no expiry: they live until overwritten
// or cleared.
type Store interface {
	Has(ctx context.Context, key string) (bool, error)
	Get(ctx context.Context, key string) (models.Entry, bool, error)
	Put(ctx context.Context, key string, entry models.Entry) error
	Clear(ctx context.Context, key string) error
	ClearAll(ctx context.Context) error
}

// InMemoryStore implements Store with a mutex-guarded map. The map is the
// single mutual-exclusion boundary for concurrent handlers; no lock is
// held across an upstream fetch, so concurrent misses may fetch twice
// (deduplication is out of scope).
type InMemoryStore struct {
	mu   sync.RWMutex
	data map[string]models.Entry
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		data: make(map[string]models.Entry),
	}
}

// Has reports whether any entry (reading or fault) exists for key.
func (s *InMemoryStore) Has(ctx context.Context, key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.data[key]
	return ok, nil
}

// Get returns the stored entry without side effects.
func (s *InMemoryStore) Get(ctx context.Context, key string) (models.Entry, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.data[key]
	return entry, ok, nil
}

// Put overwrites any existing entry for key.
func (s *InMemoryStore) Put(ctx context.Context, key string, entry models.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = entry
	return nil
}

// Clear removes the entry for key. Clearing an absent key is not an error.
func (s *InMemoryStore) Clear(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}

// ClearAll resets the store to empty.
func (s *InMemoryStore) ClearAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = make(map[string]models.Entry)
	return nil
}

// Len returns the number of stored entries. For tests and diagnostics.
func (s *InMemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}
