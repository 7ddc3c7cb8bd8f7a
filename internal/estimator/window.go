package estimator

import (
	"gonum.org/v1/gonum/floats"
)

// VarianceWindow keeps the most recent variances of one axis.
type VarianceWindow struct {
	vals []float64
	next int
}

// NewVarianceWindow returns a window of size n with every slot set to seed,
// so a fresh window is never converged.
func NewVarianceWindow(n int, seed float64) *VarianceWindow {
	if n < 1 {
		n = 1
	}
	w := &VarianceWindow{vals: make([]float64, n)}
	for i := range w.vals {
		w.vals[i] = seed
	}
	return w
}

// Push overwrites the oldest value.
func (w *VarianceWindow) Push(v float64) {
	w.vals[w.next] = v
	w.next = (w.next + 1) % len(w.vals)
}

// Spread returns max-min over the window.
func (w *VarianceWindow) Spread() float64 {
	return floats.Max(w.vals) - floats.Min(w.vals)
}
