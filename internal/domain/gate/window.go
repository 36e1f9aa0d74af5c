package gate

import (
	"fmt"
	"math"
)

// Window is a fixed-capacity, insertion-ordered buffer of carbon readings.
// The oldest reading is evicted when a new one would exceed the capacity.
// It is not safe for concurrent use.
type Window struct {
	values   []float64
	capacity int
}

// NewWindow creates an empty window. Capacities below 1 are raised to 1.
func NewWindow(capacity int) *Window {
	if capacity < 1 {
		capacity = 1
	}

	return &Window{
		values:   make([]float64, 0, capacity),
		capacity: capacity,
	}
}

// Append adds value as the newest reading.
func (w *Window) Append(value float64) {
	if len(w.values) == w.capacity {
		copy(w.values, w.values[1:])
		w.values = w.values[:len(w.values)-1]
	}

	w.values = append(w.values, value)
}

// Load replaces the contents with values, keeping the most recent Cap() of them.
// Non-finite values make the snapshot invalid; the window is then left empty.
func (w *Window) Load(values []float64) error {
	w.values = w.values[:0]

	for i, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return &PersistedStateError{Err: fmt.Errorf("reading %d is not a finite number", i)}
		}
	}

	if len(values) > w.capacity {
		values = values[len(values)-w.capacity:]
	}

	w.values = append(w.values, values...)

	return nil
}

// Snapshot returns a copy of the readings, oldest first.
func (w *Window) Snapshot() []float64 {
	out := make([]float64, len(w.values))
	copy(out, w.values)

	return out
}

// Len returns the number of readings held.
func (w *Window) Len() int { return len(w.values) }

// Cap returns the capacity.
func (w *Window) Cap() int { return w.capacity }

// Last returns the newest reading.
func (w *Window) Last() (float64, bool) {
	if len(w.values) == 0 {
		return 0, false
	}

	return w.values[len(w.values)-1], true
}
