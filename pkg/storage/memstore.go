package storage

import (
	"context"
	"sync"
)

// MemStore is an in-memory Store for tests and ephemeral runs.
// It is safe for concurrent use.
type MemStore struct {
	mu     sync.Mutex
	values map[string]string
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{values: make(map[string]string)}
}

// GetItem reads the value for key; absent keys read as the empty string.
func (s *MemStore) GetItem(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.values[key], nil
}

// SetItem writes the value for key.
func (s *MemStore) SetItem(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	return nil
}

// RemoveItem deletes the value for key.
func (s *MemStore) RemoveItem(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
	return nil
}

// Compile-time interface satisfaction check.
var _ Store = (*MemStore)(nil)
