package engine

import "errors"

// Engine error taxonomy. Every error leaves prior persisted state
// untouched; retrying, if any, is the caller's responsibility.
var (
	// ErrAlreadyInitialized is returned when Initialize is called twice
	ErrAlreadyInitialized = errors.New("engine: already initialized")

	// ErrUnauthorized is returned when a caller fails the admin check
	ErrUnauthorized = errors.New("engine: unauthorized")

	// ErrOracleAlreadyExists is returned on duplicate registration
	ErrOracleAlreadyExists = errors.New("engine: oracle already exists")

	// ErrOracleNotFound is returned when a submission names an
	// unregistered oracle
	ErrOracleNotFound = errors.New("engine: oracle not found")

	// ErrInvalidPrice is returned for non-positive submitted prices
	ErrInvalidPrice = errors.New("engine: invalid price")

	// ErrLowReputation is returned when a weight-0 oracle submits; the
	// oracle stays registered and must wait for its reputation to recover
	ErrLowReputation = errors.New("engine: reputation too low to submit")

	// ErrInsufficientOracles is returned when consensus is requested on
	// an empty round; safe to retry once submissions arrive
	ErrInsufficientOracles = errors.New("engine: insufficient oracles")

	// ErrNoOracleData is returned when a signed batch leaves no usable
	// observations after verification and freshness filtering
	ErrNoOracleData = errors.New("engine: no oracle data")

	// ErrOverflow is returned when fusing signed observations would
	// overflow; it signals malformed or adversarial input
	ErrOverflow = errors.New("engine: arithmetic overflow")
)
