// Package pq implements the product-quantization codebook (C5): M
// independent sub-codebooks over disjoint sub-dimensions of the residual
// vector, used to encode vectors compactly and to build per-query
// asymmetric distance tables for scoring.
package pq

import (
	"math/rand"

	"github.com/vladindex/ivfadc/internal/ivfadcerr"
	"github.com/vladindex/ivfadc/internal/kmeans"
	"github.com/vladindex/ivfadc/internal/vecmath"
)

// Codebook holds M sub-codebooks of Ks x Ds centroids each.
type Codebook struct {
	d, m, b int
	ks, ds  int
	sub     [][][]float32 // [m][ks][ds]
}

// TrainConfig controls the per-subvector k-means runs used to train a
// Codebook.
type TrainConfig struct {
	Iters    int
	Attempts int
	Threads  int
	Rng      *rand.Rand
}

// New constructs an untrained codebook shape for dimension d split into m
// sub-quantizers of bit-width b (Ks = 2^b centroids per sub-quantizer). It
// rejects configurations where d is not evenly divisible by m.
func New(d, m, b int) (*Codebook, error) {
	if m < 1 {
		return nil, &ivfadcerr.ShapeError{Reason: "pq: M must be >= 1"}
	}
	if d%m != 0 {
		return nil, &ivfadcerr.ShapeError{Reason: "pq: D is not a multiple of M"}
	}
	if b < 1 || b > 31 {
		return nil, &ivfadcerr.ShapeError{Reason: "pq: B out of range"}
	}
	return &Codebook{d: d, m: m, b: b, ks: 1 << uint(b), ds: d / m}, nil
}

// Load reconstructs a Codebook from already-trained sub-codebooks, as read
// back from disk. Each sub must be Ks x Ds.
func Load(sub [][][]float32, b int) (*Codebook, error) {
	if len(sub) == 0 {
		return nil, &ivfadcerr.FormatError{Reason: "pq: no sub-codebooks"}
	}
	ks := len(sub[0])
	ds := 0
	if ks > 0 {
		ds = len(sub[0][0])
	}
	for _, s := range sub {
		if len(s) != ks {
			return nil, &ivfadcerr.FormatError{Reason: "pq: inconsistent Ks across sub-codebooks"}
		}
		for _, row := range s {
			if len(row) != ds {
				return nil, &ivfadcerr.FormatError{Reason: "pq: inconsistent Ds across sub-codebooks"}
			}
		}
	}
	return &Codebook{
		d:   ds * len(sub),
		m:   len(sub),
		b:   b,
		ks:  ks,
		ds:  ds,
		sub: sub,
	}, nil
}

// M returns the number of sub-quantizers.
func (c *Codebook) M() int { return c.m }

// Ks returns the number of centroids per sub-quantizer.
func (c *Codebook) Ks() int { return c.ks }

// Ds returns the dimension of each sub-quantizer's slice.
func (c *Codebook) Ds() int { return c.ds }

// B returns the per-subquantizer bit-width the codebook was configured for.
func (c *Codebook) B() int { return c.b }

// SubCodebooks returns the M sub-codebooks, each Ks x Ds, for persistence.
func (c *Codebook) SubCodebooks() [][][]float32 { return c.sub }

// Train runs independent k-means over each D_s-dimensional slice of the
// residual matrix R (N x D), storing the resulting Ks x Ds sub-codebook in
// each slot. Fails with a TrainingError if any sub-quantizer has fewer
// residuals than Ks.
func (c *Codebook) Train(residuals [][]float32, cfg TrainConfig) error {
	n := len(residuals)
	if n == 0 {
		return &ivfadcerr.ShapeError{Reason: "pq: no residuals to train on"}
	}
	if n < c.ks {
		return &ivfadcerr.TrainingError{Kind: ivfadcerr.InsufficientData, Detail: "pq: N < Ks"}
	}

	sub := make([][][]float32, c.m)
	for m := 0; m < c.m; m++ {
		slice := make([][]float32, n)
		lo, hi := m*c.ds, (m+1)*c.ds
		for j, r := range residuals {
			slice[j] = r[lo:hi]
		}

		res, err := kmeans.Run(slice, kmeans.Config{
			K:        c.ks,
			Iters:    cfg.Iters,
			Attempts: cfg.Attempts,
			Threads:  cfg.Threads,
			Rng:      cfg.Rng,
		})
		if err != nil {
			return err
		}
		sub[m] = res.Centers
	}
	c.sub = sub
	return nil
}

// Encode returns the M-tuple of nearest sub-centroid indices for v.
func (c *Codebook) Encode(v []float32) []uint32 {
	codes := make([]uint32, c.m)
	for m := 0; m < c.m; m++ {
		lo, hi := m*c.ds, (m+1)*c.ds
		slice := v[lo:hi]
		book := c.sub[m]

		best := 0
		bestDist := vecmath.DistL2Sq(slice, book[0])
		for j := 1; j < len(book); j++ {
			d := vecmath.DistL2Sq(slice, book[j])
			if d < bestDist {
				bestDist = d
				best = j
			}
		}
		codes[m] = uint32(best)
	}
	return codes
}

// Reconstruct concatenates the sub-centroids named by codes back into a
// single D-length vector, the lossy reconstruction of the original input to
// Encode.
func (c *Codebook) Reconstruct(codes []uint32) []float32 {
	out := make([]float32, c.d)
	for m, code := range codes {
		copy(out[m*c.ds:(m+1)*c.ds], c.sub[m][code])
	}
	return out
}

// DistanceTable is the per-query M x Ks asymmetric distance table.
type DistanceTable [][]float32

// BuildADT precomputes ADT[m][j] = dist_l2_sq(q's m-th slice, sub-codebook
// m's centroid j), the one table build per query-cell pair that turns
// per-entry scoring into O(M) table lookups.
func (c *Codebook) BuildADT(q []float32) DistanceTable {
	adt := make(DistanceTable, c.m)
	for m := 0; m < c.m; m++ {
		lo, hi := m*c.ds, (m+1)*c.ds
		slice := q[lo:hi]
		book := c.sub[m]
		row := make([]float32, c.ks)
		for j, centroid := range book {
			row[j] = vecmath.DistL2Sq(slice, centroid)
		}
		adt[m] = row
	}
	return adt
}

// AsymmetricDistance sums the per-subvector table lookups named by codes.
func AsymmetricDistance(adt DistanceTable, codes []uint32) float32 {
	var sum float32
	for m, code := range codes {
		sum += adt[m][code]
	}
	return sum
}
