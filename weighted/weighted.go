// Package weighted reduces independently observed samples into one value in a
// single pass. The total weight is fixed up front and every Add normalizes
// against it, so Compute never divides.
package weighted

import "fmt"

// Mean computes a weighted arithmetic mean.
type Mean struct {
	value       float64
	totalWeight float64
}

// NewMean returns an accumulator expecting weights that sum to totalWeight.
func NewMean(totalWeight float64) Mean {
	return Mean{totalWeight: totalWeight}
}

// Add folds value into the mean. It is a no-op when the total weight is zero.
func (m *Mean) Add(value, weight float64) {
	checkWeight(weight)
	if m.totalWeight > 0 {
		m.value += value * weight / m.totalWeight
	}
}

// Compute returns the mean accumulated so far.
func (m *Mean) Compute() float64 {
	return m.value
}

// Majority is a weighted boolean vote.
type Majority struct {
	value       float64
	totalWeight float64
}

// NewMajority returns a vote expecting weights that sum to totalWeight.
func NewMajority(totalWeight float64) Majority {
	return Majority{totalWeight: totalWeight}
}

// Add casts a vote. It is a no-op when the total weight is zero.
func (b *Majority) Add(value bool, weight float64) {
	checkWeight(weight)
	if b.totalWeight > 0 && value {
		b.value += weight / b.totalWeight
	}
}

// Compute reports whether true carries at least half of the weight.
// An exact tie resolves to true.
func (b *Majority) Compute() bool {
	return b.value >= 0.5
}

func checkWeight(weight float64) {
	if weight < 0 {
		panic(fmt.Sprintf("weighted: negative weight %v", weight))
	}
}
