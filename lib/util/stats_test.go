package util

import (
	"math"
	"testing"
)

func TestNewStats(t *testing.T) {
	tests := []struct {
		name     string
		values   []float64
		want     Stats
		fairness float64
	}{
		{"empty", nil, Stats{}, 0},
		{"single", []float64{4}, Stats{Count: 1, Min: 4, Max: 4, Mean: 4, MinMaxRatio: 1}, 1},
		{"even", []float64{5, 5, 5, 5}, Stats{Count: 4, Min: 5, Max: 5, Mean: 5, MinMaxRatio: 1}, 1},
		{"spread", []float64{2, 4, 4, 4, 5, 5, 7, 9}, Stats{Count: 8, StdDeviation: 2, Min: 2, Max: 9, Mean: 5, MinMaxRatio: 2.0 / 9}, 0.5*0.6 + 0.5*2.0/9},
		{"all zero", []float64{0, 0}, Stats{Count: 2, MinMaxRatio: 1}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NewStats(tt.values)
			if got.Count != tt.want.Count || !near(got.Mean, tt.want.Mean) || !near(got.StdDeviation, tt.want.StdDeviation) ||
				!near(got.Min, tt.want.Min) || !near(got.Max, tt.want.Max) || !near(got.MinMaxRatio, tt.want.MinMaxRatio) {
				t.Errorf("NewStats(%v) = %+v, want %+v", tt.values, got, tt.want)
			}
			if f := got.Fairness(); !near(f, tt.fairness) {
				t.Errorf("Fairness() = %f, want %f", f, tt.fairness)
			}
		})
	}
}

func near(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}
