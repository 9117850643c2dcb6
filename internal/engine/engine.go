// Package engine implements the oracle consensus round controller: it
// owns the oracle registry, the round's submission ledger and the
// persisted consensus price, and orchestrates aggregation, reputation
// tracking, slashing and quorum-preserving removal.
package engine

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yourorg/oracle-consensus-ea/internal/aggregate"
	"github.com/yourorg/oracle-consensus-ea/internal/events"
	"github.com/yourorg/oracle-consensus-ea/internal/model"
	"github.com/yourorg/oracle-consensus-ea/internal/reputation"
	"github.com/yourorg/oracle-consensus-ea/internal/store"
)

// quorumFloor is the minimum number of registered oracles automatic
// removal must never breach. Admin removal is exempt.
const quorumFloor = 2

// Clock supplies the ledger timestamp. Injected so tests control time.
type Clock interface {
	Now() uint64
}

// SystemClock reads the wall clock.
type SystemClock struct{}

// Now returns the current unix time in seconds.
func (SystemClock) Now() uint64 { return uint64(time.Now().Unix()) }

// Engine is the consensus round controller. All public methods are
// serialized by an internal mutex: each call runs to completion with no
// interleaving, and an error return mutates nothing.
type Engine struct {
	mu      sync.Mutex
	store   store.Store
	clock   Clock
	emitter events.Emitter
}

// New creates an engine on top of the given store. A nil clock falls
// back to the system clock and a nil emitter discards events.
func New(st store.Store, clock Clock, emitter events.Emitter) *Engine {
	if clock == nil {
		clock = SystemClock{}
	}
	if emitter == nil {
		emitter = events.NopEmitter{}
	}
	return &Engine{store: st, clock: clock, emitter: emitter}
}

// Initialize stores the admin identity. Calling it again returns
// ErrAlreadyInitialized instead of aborting, so hosts can handle
// double-init gracefully.
func (e *Engine) Initialize(admin string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, err := e.store.Get(store.KeyAdmin); err == nil {
		return ErrAlreadyInitialized
	} else if !errors.Is(err, store.ErrNotFound) {
		return err
	}

	return e.store.Set(store.KeyAdmin, []byte(admin))
}

// Admin returns the initialized admin identity, empty when none is set.
func (e *Engine) Admin() (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.admin()
}

// RegisterOracle adds a new oracle with the default reputation record.
// Only the admin may register oracles.
func (e *Engine) RegisterOracle(caller, oracle string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.requireAdmin(caller); err != nil {
		return err
	}

	oracles, err := e.oracles()
	if err != nil {
		return err
	}
	for _, o := range oracles {
		if o == oracle {
			return ErrOracleAlreadyExists
		}
	}

	stats, err := e.statsMap()
	if err != nil {
		return err
	}
	stats[oracle] = model.NewOracleReputation()

	if err := e.saveOracles(append(oracles, oracle)); err != nil {
		return err
	}
	if err := e.saveStatsMap(stats); err != nil {
		return err
	}

	logrus.WithFields(logrus.Fields{"oracle": oracle}).Info("Oracle registered")
	return nil
}

// SubmitPrice appends one price submission to the current round. The
// oracle must be registered and carry a positive weight, and the price
// must be positive.
func (e *Engine) SubmitPrice(oracle string, price int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if price <= 0 {
		return ErrInvalidPrice
	}

	oracles, err := e.oracles()
	if err != nil {
		return err
	}
	registered := false
	for _, o := range oracles {
		if o == oracle {
			registered = true
			break
		}
	}
	if !registered {
		return ErrOracleNotFound
	}

	stats, err := e.statsFor(oracle)
	if err != nil {
		return err
	}
	if stats.Weight == 0 {
		return ErrLowReputation
	}

	submissions, err := e.submissions()
	if err != nil {
		return err
	}
	submissions = append(submissions, model.PriceSubmission{
		Oracle:    oracle,
		Price:     price,
		Timestamp: e.clock.Now(),
	})
	if err := e.saveSubmissions(submissions); err != nil {
		return err
	}

	e.emitter.Emit(events.PriceSubmitted(oracle, price))
	return nil
}

// CalculateConsensus finalizes the current round: it aggregates the
// submission buffer into a weighted-median price, updates every
// submitter's accuracy record, slashes major deviations, recomputes all
// registered oracles' weights, applies quorum-preserving removal,
// persists the consensus and clears the buffer.
//
// An empty buffer is the only rejection; it aborts with
// ErrInsufficientOracles before any state is touched.
func (e *Engine) CalculateConsensus() (int64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	submissions, err := e.submissions()
	if err != nil {
		return 0, err
	}
	if len(submissions) == 0 {
		return 0, ErrInsufficientOracles
	}

	oracles, err := e.oracles()
	if err != nil {
		return 0, err
	}
	stats, err := e.statsMap()
	if err != nil {
		return 0, err
	}

	statsOf := func(oracle string) model.OracleReputation {
		if s, ok := stats[oracle]; ok {
			return s
		}
		return model.NewOracleReputation()
	}

	consensusPrice, err := aggregate.WeightedMedian(submissions, func(oracle string) uint32 {
		return statsOf(oracle).Weight
	})
	if err != nil {
		return 0, ErrInsufficientOracles
	}

	now := e.clock.Now()
	var pending []events.Event

	// Track accuracy for every submission and slash major deviations
	for _, sub := range submissions {
		updated, deviation := reputation.TrackAccuracy(statsOf(sub.Oracle), sub.Price, consensusPrice)
		if deviation > reputation.MajorDeviationThreshold {
			updated = reputation.Slash(updated, reputation.SlashMajorDeviation, now)
			pending = append(pending, events.OracleSlashed(
				sub.Oracle,
				reputation.SlashMajorDeviation.String(),
				reputation.SlashMajorDeviation.Penalty(),
			))
		}
		stats[sub.Oracle] = updated
	}

	// Recompute score and weight for every registered oracle, not just
	// this round's submitters, and collect removal candidates
	var candidates []string
	for _, oracle := range oracles {
		current := statsOf(oracle)
		oldWeight := current.Weight

		score := reputation.Score(current, now)
		current.ReputationScore = score
		current.Weight = reputation.WeightForScore(score)
		stats[oracle] = current

		if current.Weight != oldWeight {
			pending = append(pending, events.WeightAdjusted(oracle, oldWeight, current.Weight, score))
		}

		if reputation.ShouldRemove(current, now) {
			candidates = append(candidates, oracle)
		}
	}

	// All-or-nothing removal: evict only if the quorum floor survives.
	// Reputation records are kept; the oracle just leaves the active set.
	removed := 0
	if len(oracles)-len(candidates) >= quorumFloor {
		for _, oracle := range candidates {
			oracles = removeIdentity(oracles, oracle)
			pending = append(pending, events.OracleRemoved(oracle, "Low reputation"))
		}
		removed = len(candidates)
	}

	consensus := model.ConsensusPriceData{
		Price:      consensusPrice,
		Timestamp:  now,
		NumOracles: uint32(len(submissions)),
	}

	// Persist the round. Writes happen after all computation so an
	// early failure leaves the previous round's state intact.
	if err := e.saveStatsMap(stats); err != nil {
		return 0, err
	}
	if err := e.saveOracles(oracles); err != nil {
		return 0, err
	}
	if err := e.save(store.KeyConsensusPrice, consensus); err != nil {
		return 0, err
	}
	if err := e.saveSubmissions(nil); err != nil {
		return 0, err
	}

	for _, event := range pending {
		e.emitter.Emit(event)
	}
	e.emitter.Emit(events.ConsensusReached(consensusPrice, consensus.NumOracles))

	logrus.WithFields(logrus.Fields{
		"price":       consensusPrice,
		"num_oracles": consensus.NumOracles,
		"removed":     removed,
	}).Debug("Consensus round finalized")

	return consensusPrice, nil
}

// OracleReputation returns the reputation record for an oracle,
// defaulting to the fresh-oracle record when unknown. Reads never
// mutate state and never implicitly register.
func (e *Engine) OracleReputation(oracle string) (model.OracleReputation, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.statsFor(oracle)
}

// Oracles returns the registered oracle identities in insertion order.
func (e *Engine) Oracles() ([]string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.oracles()
}

// ConsensusPrice returns the last finalized consensus, if any.
func (e *Engine) ConsensusPrice() (model.ConsensusPriceData, bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var consensus model.ConsensusPriceData
	ok, err := e.load(store.KeyConsensusPrice, &consensus)
	return consensus, ok, err
}

// PendingSubmissions returns the number of submissions buffered in the
// current round.
func (e *Engine) PendingSubmissions() (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	submissions, err := e.submissions()
	return len(submissions), err
}

// RemoveOracle removes an oracle unconditionally. This is the admin
// override; it bypasses the quorum floor.
func (e *Engine) RemoveOracle(caller, oracle string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.requireAdmin(caller); err != nil {
		return err
	}

	oracles, err := e.oracles()
	if err != nil {
		return err
	}
	if err := e.saveOracles(removeIdentity(oracles, oracle)); err != nil {
		return err
	}

	e.emitter.Emit(events.OracleRemoved(oracle, "Admin removal"))
	return nil
}

// SlashOracle applies a reputation penalty outside the round flow. The
// signed-observation ingestion path uses it for signature failures.
func (e *Engine) SlashOracle(oracle string, reason reputation.SlashReason) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	stats, err := e.statsMap()
	if err != nil {
		return err
	}
	current, ok := stats[oracle]
	if !ok {
		current = model.NewOracleReputation()
	}
	stats[oracle] = reputation.Slash(current, reason, e.clock.Now())
	if err := e.saveStatsMap(stats); err != nil {
		return err
	}

	e.emitter.Emit(events.OracleSlashed(oracle, reason.String(), reason.Penalty()))
	return nil
}

// Now exposes the engine clock to collaborators such as the signed
// observation ingestion path.
func (e *Engine) Now() uint64 { return e.clock.Now() }

// Internal helpers. Callers hold e.mu.

func (e *Engine) requireAdmin(caller string) error {
	admin, err := e.admin()
	if err != nil {
		return err
	}
	if admin == "" || caller != admin {
		return ErrUnauthorized
	}
	return nil
}

func (e *Engine) admin() (string, error) {
	value, err := e.store.Get(store.KeyAdmin)
	if errors.Is(err, store.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return string(value), nil
}

func (e *Engine) oracles() ([]string, error) {
	var oracles []string
	if _, err := e.load(store.KeyOracles, &oracles); err != nil {
		return nil, err
	}
	return oracles, nil
}

func (e *Engine) saveOracles(oracles []string) error {
	if oracles == nil {
		oracles = []string{}
	}
	return e.save(store.KeyOracles, oracles)
}

func (e *Engine) statsMap() (map[string]model.OracleReputation, error) {
	stats := make(map[string]model.OracleReputation)
	if _, err := e.load(store.KeyOracleStats, &stats); err != nil {
		return nil, err
	}
	return stats, nil
}

func (e *Engine) saveStatsMap(stats map[string]model.OracleReputation) error {
	return e.save(store.KeyOracleStats, stats)
}

func (e *Engine) statsFor(oracle string) (model.OracleReputation, error) {
	stats, err := e.statsMap()
	if err != nil {
		return model.OracleReputation{}, err
	}
	if s, ok := stats[oracle]; ok {
		return s, nil
	}
	return model.NewOracleReputation(), nil
}

func (e *Engine) submissions() ([]model.PriceSubmission, error) {
	var submissions []model.PriceSubmission
	if _, err := e.load(store.KeyPriceSubmissions, &submissions); err != nil {
		return nil, err
	}
	return submissions, nil
}

func (e *Engine) saveSubmissions(submissions []model.PriceSubmission) error {
	if submissions == nil {
		submissions = []model.PriceSubmission{}
	}
	return e.save(store.KeyPriceSubmissions, submissions)
}

// load decodes the JSON value stored under key into out, reporting
// whether a value was present.
func (e *Engine) load(key store.Key, out interface{}) (bool, error) {
	value, err := e.store.Get(key)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(value, out); err != nil {
		return false, fmt.Errorf("corrupt record %s: %w", key, err)
	}
	return true, nil
}

// save JSON-encodes value and stores it under key.
func (e *Engine) save(key store.Key, value interface{}) error {
	encoded, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode record %s: %w", key, err)
	}
	return e.store.Set(key, encoded)
}

// removeIdentity drops one identity from the list, preserving order.
func removeIdentity(oracles []string, oracle string) []string {
	out := oracles[:0]
	for _, o := range oracles {
		if o != oracle {
			out = append(out, o)
		}
	}
	return out
}
