package store

import "sync"

// MemoryStore is an in-memory Store used by tests and ephemeral
// deployments. It is safe for concurrent use.
type MemoryStore struct {
	mu     sync.RWMutex
	values map[Key][]byte
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[Key][]byte)}
}

// Get returns the value stored under key, or ErrNotFound.
func (s *MemoryStore) Get(key Key) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	value, ok := s.values[key]
	if !ok {
		return nil, ErrNotFound
	}

	// Copy the value out so callers cannot mutate stored state
	out := make([]byte, len(value))
	copy(out, value)
	return out, nil
}

// Set stores value under key.
func (s *MemoryStore) Set(key Key, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := make([]byte, len(value))
	copy(stored, value)
	s.values[key] = stored
	return nil
}

// Delete removes the value stored under key.
func (s *MemoryStore) Delete(key Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.values, key)
	return nil
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error {
	return nil
}
