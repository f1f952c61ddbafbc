package flagstore

import (
	"context"
	"sync"
)

// MemoryStore keeps flags in process memory. Suited to single-instance
// deployments and tests; state does not survive a restart.
type MemoryStore struct {
	mu    sync.RWMutex
	flags map[string]map[string]string
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{flags: make(map[string]map[string]string)}
}

// Get returns the value for key and whether it was present
func (s *MemoryStore) Get(ctx context.Context, visitorID, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.flags[visitorID][key]
	return v, ok, nil
}

// Set writes key to value
func (s *MemoryStore) Set(ctx context.Context, visitorID, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.flags[visitorID]
	if !ok {
		m = make(map[string]string)
		s.flags[visitorID] = m
	}
	m[key] = value
	return nil
}

// Remove deletes key
func (s *MemoryStore) Remove(ctx context.Context, visitorID, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.flags[visitorID]; ok {
		delete(m, key)
	}
	return nil
}
