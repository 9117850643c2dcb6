// Package reputation implements the scoring, weighting, slashing and
// removal rules applied to oracles after every consensus round. All
// functions are pure: they read and return plain values and never touch
// storage, so the engine controls exactly when updated records are
// persisted.
package reputation

import (
	"math"
	"math/big"

	"github.com/yourorg/oracle-consensus-ea/internal/model"
)

// Thresholds in basis points (10000 bps = 100%).
const (
	// AccuracyThresholdTight marks a near-exact submission (1%)
	AccuracyThresholdTight = 100

	// AccuracyThresholdModerate marks an acceptable submission (5%).
	// Both tiers count toward AccurateSubmissions; there is no
	// separate reward for the tight tier.
	AccuracyThresholdModerate = 500

	// MajorDeviationThreshold triggers a slash (20%)
	MajorDeviationThreshold = 2000
)

// weekInSeconds is the window without slashes that earns the
// consistency bonus.
const weekInSeconds = 7 * 86400

// SlashReason identifies why an oracle is being penalized.
type SlashReason int

const (
	// SlashMajorDeviation is applied when a submission deviates from
	// consensus by more than MajorDeviationThreshold
	SlashMajorDeviation SlashReason = iota

	// SlashSignatureFailure is applied when a signed observation fails
	// signature verification on the external ingestion path
	SlashSignatureFailure
)

// String returns the event-facing name of the reason.
func (r SlashReason) String() string {
	if r == SlashSignatureFailure {
		return "signature_failure"
	}
	return "major_deviation"
}

// Penalty returns the reputation points deducted for the reason.
func (r SlashReason) Penalty() uint32 {
	if r == SlashSignatureFailure {
		return 30
	}
	return 20
}

// DeviationBps returns |price - consensus| * 10000 / consensus with
// truncating integer division. The intermediate product is computed at
// arbitrary precision so extreme prices cannot overflow.
func DeviationBps(price, consensus int64) int64 {
	dev := new(big.Int).Sub(big.NewInt(price), big.NewInt(consensus))
	dev.Abs(dev)
	dev.Mul(dev, big.NewInt(10000))
	dev.Div(dev, big.NewInt(consensus))
	if !dev.IsInt64() {
		return math.MaxInt64
	}
	return dev.Int64()
}

// Score computes the 0-100 reputation score for the given stats at
// time now. Oracles with no history keep the neutral default of 50.
func Score(stats model.OracleReputation, now uint64) uint32 {
	if stats.TotalSubmissions == 0 {
		return 50
	}

	// 60% from accuracy rate
	accuracyScore := int64(stats.AccurateSubmissions) * 60 / int64(stats.TotalSubmissions)

	// 30% from average deviation, lower is better
	deviationPenalty := stats.AvgDeviation / 1000
	if deviationPenalty > 30 {
		deviationPenalty = 30
	}
	if deviationPenalty < 0 {
		deviationPenalty = 0
	}
	deviationScore := 30 - deviationPenalty

	// 10% for going a full week without a slash
	var consistencyScore int64
	if now > stats.LastSlash && now-stats.LastSlash > weekInSeconds {
		consistencyScore = 10
	}

	total := accuracyScore + deviationScore + consistencyScore
	if total > 100 {
		total = 100
	}
	if total < 0 {
		total = 0
	}
	return uint32(total)
}

// WeightForScore maps a reputation score onto its discrete weight tier.
// The tiers are monotonic and non-overlapping; weight 0 means the
// oracle stays registered but may not submit.
func WeightForScore(score uint32) uint32 {
	switch {
	case score >= 90:
		return 10
	case score >= 75:
		return 5
	case score >= 60:
		return 2
	case score >= 50:
		return 1
	default:
		return 0
	}
}

// TrackAccuracy folds one finished submission into the oracle's stats:
// bumps the submission counters, updates the rolling average deviation
// and credits accuracy when the deviation is within the moderate
// threshold. Returns the updated stats and the observed deviation.
func TrackAccuracy(stats model.OracleReputation, price, consensus int64) (model.OracleReputation, int64) {
	stats.TotalSubmissions++

	deviation := DeviationBps(price, consensus)

	// Rolling average: (avg*(n-1) + deviation) / n, at arbitrary
	// precision so a pathological deviation cannot corrupt the record
	n := int64(stats.TotalSubmissions)
	total := new(big.Int).Mul(big.NewInt(stats.AvgDeviation), big.NewInt(n-1))
	total.Add(total, big.NewInt(deviation))
	total.Div(total, big.NewInt(n))
	if total.IsInt64() {
		stats.AvgDeviation = total.Int64()
	} else {
		stats.AvgDeviation = math.MaxInt64
	}

	if deviation <= AccuracyThresholdModerate {
		stats.AccurateSubmissions++
	}

	return stats, deviation
}

// Slash deducts the reason's penalty from the reputation score,
// saturating at zero, and records the slash time.
func Slash(stats model.OracleReputation, reason SlashReason, now uint64) model.OracleReputation {
	penalty := reason.Penalty()
	if stats.ReputationScore > penalty {
		stats.ReputationScore -= penalty
	} else {
		stats.ReputationScore = 0
	}
	stats.LastSlash = now
	return stats
}

// ShouldRemove reports whether an oracle meets the removal criteria:
// a long accuracy record below 50%, or a current score below 50. The
// quorum floor is the caller's responsibility.
func ShouldRemove(stats model.OracleReputation, now uint64) bool {
	if stats.TotalSubmissions >= 100 {
		accuracyRate := int64(stats.AccurateSubmissions) * 100 / int64(stats.TotalSubmissions)
		if accuracyRate < 50 {
			return true
		}
	}
	return Score(stats, now) < 50
}
