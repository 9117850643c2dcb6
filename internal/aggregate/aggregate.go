// Package aggregate implements the price aggregation used by the
// consensus engine: a weighted median over a round's submissions, and a
// weight-proportional average for the signed-observation path. All
// arithmetic is integer-only; weighting is achieved by multiplicity, so
// no floating point or interpolation is needed.
package aggregate

import (
	"errors"
	"math"
	"sort"

	"github.com/yourorg/oracle-consensus-ea/internal/model"
)

var (
	// ErrNoSubmissions is returned when an empty round is aggregated
	ErrNoSubmissions = errors.New("aggregate: no submissions")

	// ErrNoWeight is returned when no observation carries a positive weight
	ErrNoWeight = errors.New("aggregate: total weight is zero")

	// ErrOverflow is returned when weighting a price would overflow.
	// It signals malformed or adversarial input rather than a bug.
	ErrOverflow = errors.New("aggregate: arithmetic overflow")
)

// WeightFunc resolves the current trust weight of an oracle identity.
type WeightFunc func(oracle string) uint32

// WeightedMedian computes the consensus price for a round: every
// submission's price is replicated weight times into a flat list, the
// list is sorted, and the median is returned (the average of the two
// middle elements when the list length is even).
//
// A stored weight of zero is floored to one so a submission that made
// it into the round can never expand to nothing. Duplicate submissions
// by the same oracle are all expanded; the ledger does not de-duplicate.
func WeightedMedian(submissions []model.PriceSubmission, weightOf WeightFunc) (int64, error) {
	if len(submissions) == 0 {
		return 0, ErrNoSubmissions
	}

	var prices []int64
	for _, sub := range submissions {
		weight := weightOf(sub.Oracle)
		if weight == 0 {
			weight = 1
		}
		for i := uint32(0); i < weight; i++ {
			prices = append(prices, sub.Price)
		}
	}

	sort.Slice(prices, func(i, j int) bool { return prices[i] < prices[j] })

	mid := len(prices) / 2
	if len(prices)%2 == 0 {
		return midpoint(prices[mid-1], prices[mid]), nil
	}
	return prices[mid], nil
}

// midpoint averages two sorted prices without overflowing.
func midpoint(lo, hi int64) int64 {
	return lo + (hi-lo)/2
}

// WeightedPrice pairs a price with the trust weight of its reporter.
type WeightedPrice struct {
	Price  int64
	Weight uint32
}

// WeightedAverage fuses prices into a weight-proportional average:
// sum(price*weight) / sum(weight). Entries with zero weight contribute
// nothing. Multiplication and accumulation are overflow-checked.
func WeightedAverage(prices []WeightedPrice) (int64, error) {
	var weightedSum, totalWeight int64

	for _, wp := range prices {
		if wp.Weight == 0 {
			continue
		}

		weighted, ok := mulInt64(wp.Price, int64(wp.Weight))
		if !ok {
			return 0, ErrOverflow
		}
		sum, ok := addInt64(weightedSum, weighted)
		if !ok {
			return 0, ErrOverflow
		}
		weightedSum = sum
		totalWeight += int64(wp.Weight)
	}

	if totalWeight == 0 {
		return 0, ErrNoWeight
	}
	return weightedSum / totalWeight, nil
}

// mulInt64 multiplies two int64 values, reporting overflow.
func mulInt64(a, b int64) (int64, bool) {
	if a == 0 || b == 0 {
		return 0, true
	}
	result := a * b
	if result/b != a {
		return 0, false
	}
	return result, true
}

// addInt64 adds two int64 values, reporting overflow.
func addInt64(a, b int64) (int64, bool) {
	if b > 0 && a > math.MaxInt64-b {
		return 0, false
	}
	if b < 0 && a < math.MinInt64-b {
		return 0, false
	}
	return a + b, true
}
