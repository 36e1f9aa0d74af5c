package decide

import "math"

// Mean returns the arithmetic mean of values, or 0 for an empty slice.
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}

	var sum float64
	for _, v := range values {
		sum += v
	}

	return sum / float64(len(values))
}

// SampleStdDev returns the unbiased (n-1) standard deviation of values.
// Fewer than two values yield 0.
func SampleStdDev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}

	mean := Mean(values)

	var squares float64
	for _, v := range values {
		d := v - mean
		squares += d * d
	}

	return math.Sqrt(squares / float64(len(values)-1))
}
