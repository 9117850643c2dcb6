// Package adapter implements the secondary price ingestion path:
// batches of externally signed observations are verified against the
// claimed oracle identity, filtered for freshness and fused into a
// weight-proportional average using the same reputation weights as the
// consensus rounds. Bad signatures reuse the slash mechanism with the
// harsher signature-failure penalty.
package adapter

import (
	"encoding/binary"
	"errors"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/sirupsen/logrus"

	"github.com/yourorg/oracle-consensus-ea/internal/aggregate"
	"github.com/yourorg/oracle-consensus-ea/internal/engine"
	"github.com/yourorg/oracle-consensus-ea/internal/model"
	"github.com/yourorg/oracle-consensus-ea/internal/reputation"
)

// maxObservationAge is how old an observation may be, in seconds,
// before it is silently dropped from fusion.
const maxObservationAge = 300

// ReputationKeeper is the slice of the engine the ingestion path needs:
// weight lookup, slashing and the ledger clock.
type ReputationKeeper interface {
	OracleReputation(oracle string) (model.OracleReputation, error)
	SlashOracle(oracle string, reason reputation.SlashReason) error
	Now() uint64
}

// Ingestor processes signed observation batches.
type Ingestor struct {
	keeper ReputationKeeper
}

// New creates an ingestor bound to the given reputation keeper,
// normally the consensus engine itself.
func New(keeper ReputationKeeper) *Ingestor {
	return &Ingestor{keeper: keeper}
}

// Process verifies, filters and fuses one batch of observations:
//
//  1. Signature check: the secp256k1 signature must recover to the
//     claimed oracle address; failures slash the claimed oracle with
//     the signature-failure penalty and the observation is skipped.
//  2. Freshness check: observations older than 300 seconds are
//     skipped without penalty.
//  3. Fusion: survivors are averaged proportionally to each oracle's
//     current reputation weight.
//
// An empty batch returns engine.ErrInsufficientOracles; a batch where
// no surviving observation carries weight returns engine.ErrNoOracleData.
func (i *Ingestor) Process(batch []model.SignedObservation) (int64, error) {
	if len(batch) == 0 {
		return 0, engine.ErrInsufficientOracles
	}

	now := i.keeper.Now()
	var prices []aggregate.WeightedPrice

	for _, obs := range batch {
		if !Verify(obs) {
			if err := i.keeper.SlashOracle(obs.Oracle, reputation.SlashSignatureFailure); err != nil {
				return 0, err
			}
			logrus.WithFields(logrus.Fields{
				"oracle": obs.Oracle,
				"feed":   obs.Feed,
			}).Warn("Observation signature verification failed")
			continue
		}

		if now > obs.Timestamp && now-obs.Timestamp > maxObservationAge {
			continue
		}

		rep, err := i.keeper.OracleReputation(obs.Oracle)
		if err != nil {
			return 0, err
		}
		prices = append(prices, aggregate.WeightedPrice{Price: obs.Price, Weight: rep.Weight})
	}

	fused, err := aggregate.WeightedAverage(prices)
	switch {
	case errors.Is(err, aggregate.ErrOverflow):
		return 0, engine.ErrOverflow
	case errors.Is(err, aggregate.ErrNoWeight):
		return 0, engine.ErrNoOracleData
	case err != nil:
		return 0, err
	}
	return fused, nil
}

// Digest returns the Keccak256 digest an observation's signature must
// cover: feed bytes followed by big-endian price, timestamp and round id.
func Digest(obs model.SignedObservation) []byte {
	msg := make([]byte, 0, len(obs.Feed)+24)
	msg = append(msg, []byte(obs.Feed)...)
	msg = binary.BigEndian.AppendUint64(msg, uint64(obs.Price))
	msg = binary.BigEndian.AppendUint64(msg, obs.Timestamp)
	msg = binary.BigEndian.AppendUint64(msg, obs.RoundID)
	return crypto.Keccak256(msg)
}

// Verify checks that the observation's signature recovers to the
// claimed oracle address.
func Verify(obs model.SignedObservation) bool {
	if len(obs.Signature) != crypto.SignatureLength {
		return false
	}

	pubKey, err := crypto.SigToPub(Digest(obs), obs.Signature)
	if err != nil {
		return false
	}
	recovered := crypto.PubkeyToAddress(*pubKey).Hex()
	return strings.EqualFold(recovered, obs.Oracle)
}
