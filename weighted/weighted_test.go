package weighted

import (
	"math"
	"testing"
)

func TestMeanEmptySet(t *testing.T) {
	mean := NewMean(0)
	if got := mean.Compute(); got != 0 {
		t.Fatalf("expected 0, got %v", got)
	}
}

func TestMeanZeroTotalIgnoresAdds(t *testing.T) {
	mean := NewMean(0)
	mean.Add(42, 1)
	mean.Add(-7, 3)
	if got := mean.Compute(); got != 0 {
		t.Fatalf("expected 0 with zero total weight, got %v", got)
	}
}

func TestMeanSingleValue(t *testing.T) {
	mean := NewMean(1)
	mean.Add(42, 1)
	if got := mean.Compute(); got != 42 {
		t.Fatalf("expected 42, got %v", got)
	}
}

func TestMeanMultipleValues(t *testing.T) {
	mean := NewMean(2)
	mean.Add(0, 1)
	mean.Add(4, 0.5)
	mean.Add(8, 0.5)
	if got := mean.Compute(); got != 3 {
		t.Fatalf("expected 3, got %v", got)
	}
}

func TestMeanMatchesClosedForm(t *testing.T) {
	values := []float64{3.5, -2, 10, 0.25, 7}
	weights := []float64{1, 2, 0.5, 3, 1.5}

	total := 0.0
	numerator := 0.0
	for i := range values {
		total += weights[i]
		numerator += values[i] * weights[i]
	}

	mean := NewMean(total)
	for i := range values {
		mean.Add(values[i], weights[i])
	}

	want := numerator / total
	if got := mean.Compute(); math.Abs(got-want) > 1e-9 {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestMajority(t *testing.T) {
	cases := []struct {
		name   string
		total  float64
		values []bool
		weight float64
		want   bool
	}{
		{name: "empty set", total: 0, want: false},
		{name: "true", total: 1, values: []bool{true}, weight: 1, want: true},
		{name: "false", total: 1, values: []bool{false}, weight: 1, want: false},
		{name: "true true", total: 1, values: []bool{true, true}, weight: 0.5, want: true},
		{name: "false false", total: 1, values: []bool{false, false}, weight: 0.5, want: false},
		{name: "tie resolves true", total: 1, values: []bool{true, false}, weight: 0.5, want: true},
		{name: "minority", total: 3, values: []bool{true, false, false}, weight: 1, want: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			vote := NewMajority(tc.total)
			for _, v := range tc.values {
				vote.Add(v, tc.weight)
			}
			if got := vote.Compute(); got != tc.want {
				t.Fatalf("expected %v, got %v", tc.want, got)
			}
		})
	}
}

func TestNegativeWeightPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic on negative weight")
		}
	}()
	mean := NewMean(1)
	mean.Add(1, -1)
}
