package reputation

import (
	"math"
	"testing"

	"github.com/yourorg/oracle-consensus-ea/internal/model"
)

func TestDeviationBps(t *testing.T) {
	tests := []struct {
		name      string
		price     int64
		consensus int64
		expected  int64
	}{
		{name: "exact match", price: 1000, consensus: 1000, expected: 0},
		{name: "five percent above", price: 1050, consensus: 1000, expected: 500},
		{name: "five percent below", price: 950, consensus: 1000, expected: 500},
		{name: "fifty percent above", price: 150, consensus: 100, expected: 5000},
		{name: "truncates toward zero", price: 1001, consensus: 3000, expected: 6663},
		{name: "large fixed-point price", price: 101_0000000, consensus: 100_0000000, expected: 100},
		{name: "extreme price saturates instead of overflowing", price: 9_000_000_000_000_000_000, consensus: 1, expected: math.MaxInt64},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DeviationBps(tt.price, tt.consensus)
			if got != tt.expected {
				t.Errorf("DeviationBps(%d, %d) = %d, want %d", tt.price, tt.consensus, got, tt.expected)
			}
		})
	}
}

func TestScore(t *testing.T) {
	const now = uint64(1_000_000_000)

	tests := []struct {
		name     string
		stats    model.OracleReputation
		expected uint32
	}{
		{
			name:     "fresh oracle keeps neutral default",
			stats:    model.NewOracleReputation(),
			expected: 50,
		},
		{
			name: "perfect record",
			stats: model.OracleReputation{
				TotalSubmissions:    10,
				AccurateSubmissions: 10,
				AvgDeviation:        0,
			},
			expected: 100, // 60 + 30 + 10
		},
		{
			name: "recent slash loses consistency bonus",
			stats: model.OracleReputation{
				TotalSubmissions:    10,
				AccurateSubmissions: 10,
				AvgDeviation:        0,
				LastSlash:           now - 3600,
			},
			expected: 90,
		},
		{
			name: "slash older than a week earns the bonus back",
			stats: model.OracleReputation{
				TotalSubmissions:    10,
				AccurateSubmissions: 10,
				AvgDeviation:        0,
				LastSlash:           now - 8*86400,
			},
			expected: 100,
		},
		{
			name: "half accurate with moderate deviation",
			stats: model.OracleReputation{
				TotalSubmissions:    10,
				AccurateSubmissions: 5,
				AvgDeviation:        10_000, // penalty 10
			},
			expected: 60, // 30 + 20 + 10
		},
		{
			name: "deviation penalty is capped at 30",
			stats: model.OracleReputation{
				TotalSubmissions:    10,
				AccurateSubmissions: 0,
				AvgDeviation:        1_000_000,
			},
			expected: 10, // 0 + 0 + 10
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Score(tt.stats, now)
			if got != tt.expected {
				t.Errorf("Score() = %d, want %d", got, tt.expected)
			}
		})
	}
}

func TestWeightForScore(t *testing.T) {
	tests := []struct {
		score    uint32
		expected uint32
	}{
		{score: 100, expected: 10},
		{score: 90, expected: 10},
		{score: 89, expected: 5},
		{score: 75, expected: 5},
		{score: 74, expected: 2},
		{score: 60, expected: 2},
		{score: 59, expected: 1},
		{score: 50, expected: 1},
		{score: 49, expected: 0},
		{score: 0, expected: 0},
	}

	for _, tt := range tests {
		if got := WeightForScore(tt.score); got != tt.expected {
			t.Errorf("WeightForScore(%d) = %d, want %d", tt.score, got, tt.expected)
		}
	}
}

func TestTrackAccuracy(t *testing.T) {
	stats := model.NewOracleReputation()

	// First submission 1% off consensus: accurate
	stats, dev := TrackAccuracy(stats, 1010, 1000)
	if dev != 100 {
		t.Fatalf("deviation = %d, want 100", dev)
	}
	if stats.TotalSubmissions != 1 || stats.AccurateSubmissions != 1 {
		t.Fatalf("counters = %d/%d, want 1/1", stats.AccurateSubmissions, stats.TotalSubmissions)
	}
	if stats.AvgDeviation != 100 {
		t.Fatalf("avg deviation = %d, want 100", stats.AvgDeviation)
	}

	// Second submission 5% off: still accurate, average moves to 300
	stats, dev = TrackAccuracy(stats, 1050, 1000)
	if dev != 500 {
		t.Fatalf("deviation = %d, want 500", dev)
	}
	if stats.AccurateSubmissions != 2 {
		t.Fatalf("accurate = %d, want 2", stats.AccurateSubmissions)
	}
	if stats.AvgDeviation != 300 {
		t.Fatalf("avg deviation = %d, want 300", stats.AvgDeviation)
	}

	// Third submission 30% off: counted but not accurate
	stats, dev = TrackAccuracy(stats, 1300, 1000)
	if dev != 3000 {
		t.Fatalf("deviation = %d, want 3000", dev)
	}
	if stats.TotalSubmissions != 3 || stats.AccurateSubmissions != 2 {
		t.Fatalf("counters = %d/%d, want 2/3", stats.AccurateSubmissions, stats.TotalSubmissions)
	}
	if stats.AvgDeviation != 1200 {
		t.Fatalf("avg deviation = %d, want 1200", stats.AvgDeviation)
	}

	if stats.AccurateSubmissions > stats.TotalSubmissions {
		t.Fatal("accurate submissions exceed total submissions")
	}
}

func TestSlash(t *testing.T) {
	const now = uint64(12345)

	stats := model.NewOracleReputation()
	stats = Slash(stats, SlashMajorDeviation, now)
	if stats.ReputationScore != 30 {
		t.Errorf("score after major deviation slash = %d, want 30", stats.ReputationScore)
	}
	if stats.LastSlash != now {
		t.Errorf("last slash = %d, want %d", stats.LastSlash, now)
	}

	// Signature failure is harsher and saturates at zero
	stats = Slash(stats, SlashSignatureFailure, now+1)
	if stats.ReputationScore != 0 {
		t.Errorf("score after signature failure slash = %d, want 0", stats.ReputationScore)
	}
	stats = Slash(stats, SlashSignatureFailure, now+2)
	if stats.ReputationScore != 0 {
		t.Errorf("score must saturate at zero, got %d", stats.ReputationScore)
	}
}

func TestShouldRemove(t *testing.T) {
	const now = uint64(1_000_000_000)

	// Long inaccurate record
	bad := model.OracleReputation{
		TotalSubmissions:    100,
		AccurateSubmissions: 49,
	}
	if !ShouldRemove(bad, now) {
		t.Error("oracle with 49% accuracy over 100 submissions should be removable")
	}

	// Short record with decent score survives
	fresh := model.NewOracleReputation()
	if ShouldRemove(fresh, now) {
		t.Error("fresh oracle should not be removable")
	}

	// Healthy long record survives
	good := model.OracleReputation{
		TotalSubmissions:    200,
		AccurateSubmissions: 180,
	}
	if ShouldRemove(good, now) {
		t.Error("accurate oracle should not be removable")
	}
}
