package store

import (
	"os"
	"testing"
)

// storeContract runs the Store interface contract against any
// implementation.
func storeContract(t *testing.T, s Store) {
	t.Helper()

	if _, err := s.Get(KeyAdmin); err != ErrNotFound {
		t.Fatalf("Get on empty store: got %v, want ErrNotFound", err)
	}

	if err := s.Set(KeyAdmin, []byte("0xadmin")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	got, err := s.Get(KeyAdmin)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(got) != "0xadmin" {
		t.Fatalf("Get: got %q, want %q", got, "0xadmin")
	}

	// Overwrite
	if err := s.Set(KeyAdmin, []byte("0xother")); err != nil {
		t.Fatalf("Set overwrite failed: %v", err)
	}
	got, err = s.Get(KeyAdmin)
	if err != nil {
		t.Fatalf("Get after overwrite failed: %v", err)
	}
	if string(got) != "0xother" {
		t.Fatalf("Get after overwrite: got %q, want %q", got, "0xother")
	}

	// Keys are independent
	if _, err := s.Get(KeyConsensusPrice); err != ErrNotFound {
		t.Fatalf("Get unrelated key: got %v, want ErrNotFound", err)
	}

	if err := s.Delete(KeyAdmin); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := s.Get(KeyAdmin); err != ErrNotFound {
		t.Fatalf("Get after delete: got %v, want ErrNotFound", err)
	}

	// Deleting an absent key is not an error
	if err := s.Delete(KeyAdmin); err != nil {
		t.Fatalf("Delete absent key: %v", err)
	}
}

func TestMemoryStore(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()
	storeContract(t, s)
}

func TestMemoryStoreCopiesValues(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()

	value := []byte("original")
	if err := s.Set(KeyOracles, value); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	value[0] = 'X'

	got, err := s.Get(KeyOracles)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(got) != "original" {
		t.Fatalf("stored value was mutated through caller slice: %q", got)
	}
}

func TestPebbleStore(t *testing.T) {
	dir, err := os.MkdirTemp("", "pebble-store-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(dir)

	s, err := OpenPebbleStore(dir)
	if err != nil {
		t.Fatalf("failed to open pebble store: %v", err)
	}
	defer s.Close()

	storeContract(t, s)
}

func TestPebbleStoreReopen(t *testing.T) {
	dir, err := os.MkdirTemp("", "pebble-store-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(dir)

	s, err := OpenPebbleStore(dir)
	if err != nil {
		t.Fatalf("failed to open pebble store: %v", err)
	}
	if err := s.Set(KeyConsensusPrice, []byte(`{"price":1010000000}`)); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if _, err := s.Get(KeyConsensusPrice); err != ErrClosed {
		t.Fatalf("Get on closed store: got %v, want ErrClosed", err)
	}

	s, err = OpenPebbleStore(dir)
	if err != nil {
		t.Fatalf("failed to reopen pebble store: %v", err)
	}
	defer s.Close()

	got, err := s.Get(KeyConsensusPrice)
	if err != nil {
		t.Fatalf("Get after reopen failed: %v", err)
	}
	if string(got) != `{"price":1010000000}` {
		t.Fatalf("value lost across reopen: %q", got)
	}
}
