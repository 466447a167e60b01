// Package vecmath provides the small set of dense-vector primitives shared
// by k-means, the coarse quantizer, and the PQ codebook: squared L2
// distance, L2 norm, in-place normalization, a dense matrix-vector product,
// and a seeded Fisher-Yates shuffle.
package vecmath

import (
	"math"
	"math/rand"
)

// zeroNormEpsilon is the threshold below which Normalize treats a vector as
// the zero vector and leaves it unchanged rather than dividing by ~0.
const zeroNormEpsilon = 1e-12

// DistL2Sq returns the squared Euclidean distance between a and b. Both
// slices must have equal length; callers own that invariant since this sits
// on the hot path of every assignment loop.
func DistL2Sq(a, b []float32) float32 {
	var sum float32
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}

// L2Norm returns sqrt(sum(v_i^2)).
func L2Norm(v []float32) float32 {
	var sum float32
	for _, x := range v {
		sum += x * x
	}
	return sqrt32(sum)
}

// Normalize divides v by its L2 norm in place. If the norm is at or below
// zeroNormEpsilon, v is left unchanged (the zero-vector policy): dividing a
// near-zero vector by its own near-zero norm amplifies floating-point noise
// into an arbitrary unit vector, which is worse than leaving it as-is.
func Normalize(v []float32) {
	n := L2Norm(v)
	if n <= zeroNormEpsilon {
		return
	}
	for i := range v {
		v[i] /= n
	}
}

// Project computes y = P*x for a dense rows*cols matrix P stored row-major,
// x of length cols, writing into y of length rows. y is overwritten, not
// accumulated into.
func Project(p []float32, rows, cols int, x, y []float32) {
	for r := 0; r < rows; r++ {
		var sum float32
		row := p[r*cols : r*cols+cols]
		for c := 0; c < cols; c++ {
			sum += row[c] * x[c]
		}
		y[r] = sum
	}
}

// RandPerm returns a uniformly random permutation of [0, n) using the
// Fisher-Yates shuffle, drawing from the caller-supplied rng so that every
// call site in the pipeline shares one seeded source instead of reaching
// for a package-level, time-seeded generator.
func RandPerm(n int, rng *rand.Rand) []int {
	perm := make([]int, n)
	for i := range perm {
		perm[i] = i
	}
	for i := n - 1; i > 0; i-- {
		j := rng.Intn(i + 1)
		perm[i], perm[j] = perm[j], perm[i]
	}
	return perm
}

func sqrt32(x float32) float32 {
	if x <= 0 {
		return 0
	}
	return float32(math.Sqrt(float64(x)))
}
