package progress

import "fmt"

// Steps selects how a Scope counts progress: fractional (the zero value),
// a plain step count, or a sequence of step weights.
type Steps struct {
	count   int
	weights []float64
}

// Count returns Steps for n equally sized steps. Count(0) is fractional mode.
// It panics if n is negative.
func Count(n int) Steps {
	if n < 0 {
		panic(fmt.Sprintf("progress: negative step count %d", n))
	}
	return Steps{count: n}
}

// Weighted returns Steps whose i-th step contributes weights[i] to the total.
// It panics if any weight is not positive.
func Weighted(weights ...float64) Steps {
	for i, w := range weights {
		if w <= 0 {
			panic(fmt.Sprintf("progress: step weight %d must be positive, got %v", i, w))
		}
	}
	return Steps{count: len(weights), weights: append([]float64(nil), weights...)}
}

// Len reports the number of steps; 0 means fractional mode.
func (s Steps) Len() int {
	return s.count
}

// Total reports the step total: the count, or the sum of the weights.
func (s Steps) Total() float64 {
	if s.weights == nil {
		return float64(s.count)
	}
	var sum float64
	for _, w := range s.weights {
		sum += w
	}
	return sum
}

// IsWeighted reports whether the steps carry explicit weights.
func (s Steps) IsWeighted() bool {
	return s.weights != nil
}

// weight returns the weight of step i (0-based).
func (s Steps) weight(i int) float64 {
	if s.weights == nil {
		return 1
	}
	return s.weights[i]
}
