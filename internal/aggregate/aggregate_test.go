package aggregate

import (
	"math"
	"testing"

	"github.com/yourorg/oracle-consensus-ea/internal/model"
)

// unitWeight gives every oracle weight 1.
func unitWeight(string) uint32 { return 1 }

func subs(prices ...int64) []model.PriceSubmission {
	out := make([]model.PriceSubmission, 0, len(prices))
	for i, p := range prices {
		out = append(out, model.PriceSubmission{
			Oracle: string(rune('a' + i)),
			Price:  p,
		})
	}
	return out
}

func TestWeightedMedian(t *testing.T) {
	tests := []struct {
		name        string
		submissions []model.PriceSubmission
		weightOf    WeightFunc
		expected    int64
		expectedErr error
	}{
		{
			name:        "empty round is rejected",
			submissions: nil,
			weightOf:    unitWeight,
			expectedErr: ErrNoSubmissions,
		},
		{
			name:        "single submission",
			submissions: subs(1000),
			weightOf:    unitWeight,
			expected:    1000,
		},
		{
			name:        "odd count takes middle element",
			submissions: subs(100, 101, 150),
			weightOf:    unitWeight,
			expected:    101,
		},
		{
			name:        "even count averages the middle pair",
			submissions: subs(100, 102, 104, 200),
			weightOf:    unitWeight,
			expected:    103,
		},
		{
			name:        "weight replicates a price",
			submissions: subs(100, 200),
			weightOf: func(oracle string) uint32 {
				if oracle == "a" {
					return 5
				}
				return 1
			},
			// 100 x5 + 200 x1, median of 6 elements is 100
			expected: 100,
		},
		{
			name:        "zero stored weight is floored to one",
			submissions: subs(100, 300),
			weightOf:    func(string) uint32 { return 0 },
			expected:    200,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := WeightedMedian(tt.submissions, tt.weightOf)
			if err != tt.expectedErr {
				t.Fatalf("error = %v, want %v", err, tt.expectedErr)
			}
			if got != tt.expected {
				t.Errorf("WeightedMedian() = %d, want %d", got, tt.expected)
			}
		})
	}
}

func TestWeightedMedianBoundedBySubmissions(t *testing.T) {
	submissions := subs(97, 150, 101, 99, 240, 103)
	weightOf := func(oracle string) uint32 {
		// Uneven weights, including the tier extremes
		weights := map[string]uint32{"a": 10, "b": 1, "c": 5, "d": 2, "e": 1, "f": 2}
		return weights[oracle]
	}

	got, err := WeightedMedian(submissions, weightOf)
	if err != nil {
		t.Fatalf("WeightedMedian failed: %v", err)
	}
	if got < 97 || got > 240 {
		t.Errorf("median %d outside submitted price range [97, 240]", got)
	}
}

func TestWeightedMedianResubmissionAmplifies(t *testing.T) {
	// The ledger keeps duplicate submissions; each expands by weight.
	submissions := []model.PriceSubmission{
		{Oracle: "a", Price: 500},
		{Oracle: "a", Price: 500},
		{Oracle: "a", Price: 500},
		{Oracle: "b", Price: 100},
	}

	got, err := WeightedMedian(submissions, unitWeight)
	if err != nil {
		t.Fatalf("WeightedMedian failed: %v", err)
	}
	if got != 500 {
		t.Errorf("resubmitting oracle should dominate the median: got %d, want 500", got)
	}
}

func TestWeightedAverage(t *testing.T) {
	tests := []struct {
		name        string
		prices      []WeightedPrice
		expected    int64
		expectedErr error
	}{
		{
			name:        "no entries",
			prices:      nil,
			expectedErr: ErrNoWeight,
		},
		{
			name:        "only zero-weight entries",
			prices:      []WeightedPrice{{Price: 100, Weight: 0}},
			expectedErr: ErrNoWeight,
		},
		{
			name:     "equal weights average evenly",
			prices:   []WeightedPrice{{Price: 100, Weight: 1}, {Price: 200, Weight: 1}},
			expected: 150,
		},
		{
			name:     "heavier reporter pulls the average",
			prices:   []WeightedPrice{{Price: 100, Weight: 9}, {Price: 200, Weight: 1}},
			expected: 110,
		},
		{
			name:        "weighted product overflow is rejected",
			prices:      []WeightedPrice{{Price: math.MaxInt64, Weight: 10}},
			expectedErr: ErrOverflow,
		},
		{
			name: "accumulated sum overflow is rejected",
			prices: []WeightedPrice{
				{Price: math.MaxInt64, Weight: 1},
				{Price: math.MaxInt64, Weight: 1},
			},
			expectedErr: ErrOverflow,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := WeightedAverage(tt.prices)
			if err != tt.expectedErr {
				t.Fatalf("error = %v, want %v", err, tt.expectedErr)
			}
			if got != tt.expected {
				t.Errorf("WeightedAverage() = %d, want %d", got, tt.expected)
			}
		})
	}
}
