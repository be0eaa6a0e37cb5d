// Package math32 provides float32 vector kernels shared by the linear model.
// This is an internal package - external users should use the linear package.
package math32

// Dot calculates the dot product of two vectors.
// Slices must have equal length.
func Dot(a, b []float32) float32 {
	var ret float32
	for i := range a {
		ret += a[i] * b[i]
	}

	return ret
}

// ArgMax returns the index of the largest element, the first one on ties.
// Returns -1 for an empty slice.
func ArgMax(a []float32) int {
	if len(a) == 0 {
		return -1
	}

	best := 0
	for i := 1; i < len(a); i++ {
		if a[i] > a[best] {
			best = i
		}
	}

	return best
}
