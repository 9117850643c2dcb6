package store

import (
	"errors"

	"github.com/cockroachdb/pebble"
)

// PebbleStore is a durable Store backed by a pebble database. Writes
// are synced to disk before returning, matching the single-writer
// transactional model of the engine.
type PebbleStore struct {
	db *pebble.DB
}

// OpenPebbleStore opens (or creates) a pebble database at dir.
func OpenPebbleStore(dir string) (*PebbleStore, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, err
	}
	return &PebbleStore{db: db}, nil
}

// Get returns the value stored under key, or ErrNotFound.
func (s *PebbleStore) Get(key Key) ([]byte, error) {
	if s.db == nil {
		return nil, ErrClosed
	}

	value, closer, err := s.db.Get([]byte(key.String()))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	defer closer.Close()

	// Copy the value out; pebble reclaims the buffer on Close
	out := make([]byte, len(value))
	copy(out, value)
	return out, nil
}

// Set stores value under key with a synced write.
func (s *PebbleStore) Set(key Key, value []byte) error {
	if s.db == nil {
		return ErrClosed
	}
	return s.db.Set([]byte(key.String()), value, pebble.Sync)
}

// Delete removes the value stored under key.
func (s *PebbleStore) Delete(key Key) error {
	if s.db == nil {
		return ErrClosed
	}
	return s.db.Delete([]byte(key.String()), pebble.Sync)
}

// Close closes the underlying database.
func (s *PebbleStore) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}
