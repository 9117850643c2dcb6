// Package store provides the persisted key-value state behind the
// consensus engine. Keys form a small closed set; values are opaque
// byte slices (the engine encodes them as JSON).
package store

import "errors"

// Key identifies one of the engine's persisted records.
type Key uint8

const (
	// KeyAdmin holds the admin identity set at initialization
	KeyAdmin Key = iota

	// KeyOracles holds the ordered list of registered oracle identities
	KeyOracles

	// KeyOracleStats holds the per-oracle reputation records
	KeyOracleStats

	// KeyPriceSubmissions holds the current round's submission buffer
	KeyPriceSubmissions

	// KeyConsensusPrice holds the last finalized consensus price
	KeyConsensusPrice
)

// String returns the storage name of the key, also used as the
// on-disk key for persistent backends.
func (k Key) String() string {
	switch k {
	case KeyAdmin:
		return "admin"
	case KeyOracles:
		return "oracles"
	case KeyOracleStats:
		return "oracle_stats"
	case KeyPriceSubmissions:
		return "price_submissions"
	case KeyConsensusPrice:
		return "consensus_price"
	default:
		return "unknown"
	}
}

var (
	// ErrNotFound is returned when a key has no stored value
	ErrNotFound = errors.New("store: key not found")

	// ErrClosed is returned when the backing database has been closed
	ErrClosed = errors.New("store: database is closed")
)

// Store is the persistence interface injected into the engine. A call
// either fully applies or returns an error leaving prior state intact.
type Store interface {
	// Get returns the value stored under key, or ErrNotFound
	Get(key Key) ([]byte, error)

	// Set stores value under key, overwriting any previous value
	Set(key Key, value []byte) error

	// Delete removes the value stored under key; deleting an absent
	// key is not an error
	Delete(key Key) error

	// Close releases any resources held by the store
	Close() error
}
