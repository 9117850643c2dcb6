// Package circuitbreaker provides a defensive mechanism flagging
// anomalous consensus results on the read path. The engine's state is
// never affected: a round that produced a price stays produced; the
// breaker only controls what the serving layer reports while the
// circuit is open.
package circuitbreaker

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yourorg/oracle-consensus-ea/internal/model"
	"github.com/yourorg/oracle-consensus-ea/internal/reputation"
)

// State represents the current state of the circuit breaker
type State int

// Circuit breaker states
const (
	StateClosed   State = iota // Normal operation
	StateOpen                  // Tripped, consensus flagged as anomalous
	StateHalfOpen              // Testing if results have normalized
)

// String returns the serving-layer name of the state.
func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// CircuitBreaker watches the stream of finalized consensus rounds and
// trips when a round looks anomalous compared to its predecessor.
type CircuitBreaker struct {
	// Configuration thresholds for triggering the circuit breaker
	thresholds Thresholds

	// Current state of the circuit breaker (Closed, Open, HalfOpen)
	state State

	// Timestamp of the last circuit trip
	lastTrip time.Time

	// Duration before auto-reset attempt
	resetDelay time.Duration

	// Mutex for thread safety
	mu sync.RWMutex

	// Last consensus that passed all checks, served as fallback
	lastGood *model.ConsensusPriceData

	// Count of consecutive successful rounds in HalfOpen state
	successCount int

	// Number of successful rounds required to close circuit
	successThreshold int

	// Event callback for monitoring/alerting
	onTripCallback func(reason string, consensus model.ConsensusPriceData)
}

// Thresholds defines the limits that will trigger the circuit breaker
type Thresholds struct {
	// MaxSwingBps is the maximum allowed move between consecutive
	// consensus prices, in basis points (e.g. 2000 for 20%)
	MaxSwingBps int64 `json:"max_swing_bps"`

	// MinSubmissions is the minimum number of submissions a round must
	// have folded for its price to be trusted
	MinSubmissions uint32 `json:"min_submissions"`
}

// New creates a new CircuitBreaker with the provided thresholds
func New(t Thresholds) *CircuitBreaker {
	return &CircuitBreaker{
		thresholds:       t,
		state:            StateClosed,
		resetDelay:       5 * time.Minute,
		successThreshold: 3,
	}
}

// WithResetDelay sets a custom reset delay and returns the circuit breaker
func (cb *CircuitBreaker) WithResetDelay(delay time.Duration) *CircuitBreaker {
	cb.resetDelay = delay
	return cb
}

// WithSuccessThreshold sets the number of clean rounds needed to close the circuit
func (cb *CircuitBreaker) WithSuccessThreshold(threshold int) *CircuitBreaker {
	cb.successThreshold = threshold
	return cb
}

// WithTripCallback sets a callback function that is called when the circuit trips
func (cb *CircuitBreaker) WithTripCallback(callback func(reason string, consensus model.ConsensusPriceData)) *CircuitBreaker {
	cb.onTripCallback = callback
	return cb
}

// Check evaluates a finalized consensus against the thresholds. It
// returns an error when the circuit is open or when this round trips
// it; the caller decides how to degrade the read path.
func (cb *CircuitBreaker) Check(consensus model.ConsensusPriceData) error {
	cb.mu.RLock()
	state := cb.state
	lastTripTime := cb.lastTrip
	cb.mu.RUnlock()

	// If circuit is open, check if it's time for a reset attempt
	if state == StateOpen {
		if time.Since(lastTripTime) > cb.resetDelay {
			cb.transitionToHalfOpen()
		} else {
			return errors.New("circuit breaker open: consensus flagged anomalous")
		}
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.thresholds.MinSubmissions > 0 && consensus.NumOracles < cb.thresholds.MinSubmissions {
		reason := fmt.Sprintf("insufficient submissions: got %d, need %d",
			consensus.NumOracles, cb.thresholds.MinSubmissions)
		cb.trip(reason, consensus)
		return errors.New(reason)
	}

	if cb.thresholds.MaxSwingBps > 0 && cb.lastGood != nil {
		swing := reputation.DeviationBps(consensus.Price, cb.lastGood.Price)
		if swing > cb.thresholds.MaxSwingBps {
			reason := fmt.Sprintf("consensus swing too drastic: %d bps (threshold: %d bps)",
				swing, cb.thresholds.MaxSwingBps)
			cb.trip(reason, consensus)
			return errors.New(reason)
		}
	}

	logrus.Debug("Circuit breaker checks passed")

	good := consensus
	cb.lastGood = &good

	// If we're in half-open state, count clean rounds until we can close
	if cb.state == StateHalfOpen {
		cb.successCount++
		if cb.successCount >= cb.successThreshold {
			cb.state = StateClosed
			cb.successCount = 0
			logrus.Info("Circuit breaker closed: consensus has normalized")
		}
	}

	return nil
}

// GetState returns the current state of the circuit breaker
func (cb *CircuitBreaker) GetState() State {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}

// Reset forcibly resets the circuit breaker to closed state
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = StateClosed
	cb.successCount = 0
	logrus.Info("Circuit breaker manually reset to closed state")
}

// LastGoodConsensus returns the most recent consensus that passed all
// checks, or nil when none has yet.
func (cb *CircuitBreaker) LastGoodConsensus() *model.ConsensusPriceData {
	cb.mu.RLock()
	defer cb.mu.RUnlock()

	if cb.lastGood == nil {
		return nil
	}
	good := *cb.lastGood
	return &good
}

// transitionToHalfOpen changes the circuit state to half-open for testing recovery
func (cb *CircuitBreaker) transitionToHalfOpen() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateOpen {
		cb.state = StateHalfOpen
		cb.successCount = 0
		logrus.Info("Circuit breaker half-open: testing consensus recovery")
	}
}

// trip sets the circuit breaker to open state with the current time
func (cb *CircuitBreaker) trip(reason string, consensus model.ConsensusPriceData) {
	cb.state = StateOpen
	cb.lastTrip = time.Now()
	cb.successCount = 0
	logrus.Warnf("Circuit breaker tripped: %s", reason)

	if cb.onTripCallback != nil {
		go cb.onTripCallback(reason, consensus)
	}
}
