// Package coarse implements the coarse quantizer (C4): a flat codebook of
// K_c centroids partitioning the vector space into Voronoi cells.
package coarse

import (
	"sort"

	"github.com/vladindex/ivfadc/internal/vecmath"
)

// Quantizer wraps a trained coarse codebook and answers nearest-cell
// lookups by linear scan.
type Quantizer struct {
	centroids [][]float32 // K_c x D
	dim       int
}

// New wraps an already-trained K_c x D codebook. Rows are not copied.
func New(centroids [][]float32) *Quantizer {
	dim := 0
	if len(centroids) > 0 {
		dim = len(centroids[0])
	}
	return &Quantizer{centroids: centroids, dim: dim}
}

// Centroids returns the underlying codebook rows, K_c x D.
func (q *Quantizer) Centroids() [][]float32 { return q.centroids }

// NumCells returns K_c.
func (q *Quantizer) NumCells() int { return len(q.centroids) }

// Dim returns D.
func (q *Quantizer) Dim() int { return q.dim }

// Quantize returns the index of the nearest centroid to v under squared L2,
// tie-breaking toward the lower index.
func (q *Quantizer) Quantize(v []float32) int {
	best := 0
	bestDist := vecmath.DistL2Sq(v, q.centroids[0])
	for i := 1; i < len(q.centroids); i++ {
		d := vecmath.DistL2Sq(v, q.centroids[i])
		if d < bestDist {
			bestDist = d
			best = i
		}
	}
	return best
}

// QuantizeW returns the w nearest cell ids for v, ascending by distance, for
// multi-probe search. w is clamped to [1, NumCells()].
func (q *Quantizer) QuantizeW(v []float32, w int) []int {
	n := len(q.centroids)
	if w < 1 {
		w = 1
	}
	if w > n {
		w = n
	}

	type scored struct {
		cell int
		dist float32
	}
	all := make([]scored, n)
	for i, c := range q.centroids {
		all[i] = scored{cell: i, dist: vecmath.DistL2Sq(v, c)}
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].dist != all[j].dist {
			return all[i].dist < all[j].dist
		}
		return all[i].cell < all[j].cell
	})

	out := make([]int, w)
	for i := 0; i < w; i++ {
		out[i] = all[i].cell
	}
	return out
}

// Residual writes v - centroids[cell] into out. out must have length Dim().
func (q *Quantizer) Residual(v []float32, cell int, out []float32) {
	c := q.centroids[cell]
	for i := range out {
		out[i] = v[i] - c[i]
	}
}
