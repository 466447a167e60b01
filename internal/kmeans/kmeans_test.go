package kmeans

import (
	"math/rand"
	"testing"

	"github.com/vladindex/ivfadc/internal/vecmath"
)

func toyData() [][]float32 {
	return [][]float32{
		{1, 0, 0, 0}, {1, 0, 0, 0},
		{0, 1, 0, 0}, {0, 1, 0, 0},
		{0, 0, 1, 0}, {0, 0, 0, 1},
	}
}

func TestRunSeparatesObviousClusters(t *testing.T) {
	res, err := Run(toyData(), Config{K: 2, Iters: 10, Attempts: 3, Threads: 4, Rng: rand.New(rand.NewSource(1))})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Centers) != 2 {
		t.Fatalf("got %d centers, want 2", len(res.Centers))
	}
	// with K=2 the two lone axis points must join one of the pairs, so no
	// center sits on both pair axes; what must hold is that each duplicated
	// pair shares its nearest center and the two pairs get different ones
	nearest := func(p []float32) int {
		best, bestM := float32(1e38), 0
		for m, c := range res.Centers {
			if d := vecmath.DistL2Sq(p, c); d < best {
				best, bestM = d, m
			}
		}
		return bestM
	}
	pts := toyData()
	if nearest(pts[0]) != nearest(pts[1]) || nearest(pts[2]) != nearest(pts[3]) || nearest(pts[0]) == nearest(pts[2]) {
		t.Fatalf("pairs {v0,v1} and {v2,v3} not separated onto distinct centers: %v", res.Centers)
	}
}

func TestRunInsufficientDataIsShapeError(t *testing.T) {
	_, err := Run(toyData()[:2], Config{K: 5, Iters: 5, Attempts: 1, Threads: 1, Rng: rand.New(rand.NewSource(1))})
	if err == nil {
		t.Fatal("expected ShapeError for N < K")
	}
}

func TestRunNEqualsKCostIsZero(t *testing.T) {
	data := toyData()
	res, err := Run(data, Config{K: len(data), Iters: 5, Attempts: 1, Threads: 2, Rng: rand.New(rand.NewSource(7))})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Cost > 1e-6 {
		t.Fatalf("N == K should give zero cost, got %v", res.Cost)
	}
}

func TestRunEmptyClusterDoesNotCrash(t *testing.T) {
	// three identical points, K=3: kmeans++ may still pick duplicate seeds,
	// and Lloyd iteration must not panic or divide by zero when a cluster
	// ends up with no members.
	data := [][]float32{{1, 0}, {1, 0}, {1, 0}}
	res, err := Run(data, Config{K: 3, Iters: 5, Attempts: 1, Threads: 1, Rng: rand.New(rand.NewSource(3))})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	for _, c := range res.Centers {
		for _, v := range c {
			if v != v { // NaN check
				t.Fatalf("center contains NaN: %v", res.Centers)
			}
		}
	}
}

func TestRunDeterministicForFixedSeed(t *testing.T) {
	data := toyData()
	r1, _ := Run(data, Config{K: 2, Iters: 10, Attempts: 3, Threads: 4, Rng: rand.New(rand.NewSource(99))})
	r2, _ := Run(data, Config{K: 2, Iters: 10, Attempts: 3, Threads: 4, Rng: rand.New(rand.NewSource(99))})
	for i := range r1.Centers {
		for j := range r1.Centers[i] {
			if r1.Centers[i][j] != r2.Centers[i][j] {
				t.Fatalf("same seed produced different centers: %v vs %v", r1.Centers, r2.Centers)
			}
		}
	}
}
