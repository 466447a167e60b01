// Package kmeans implements multithreaded Lloyd k-means with k-means++
// seeding, the one clustering primitive shared by coarse-codebook training
// and per-subvector PQ codebook training.
package kmeans

import (
	"math/rand"
	"sync"

	"github.com/vladindex/ivfadc/internal/ivfadcerr"
	"github.com/vladindex/ivfadc/internal/vecmath"
	"github.com/vladindex/ivfadc/internal/workpool"
)

// Config controls one k-means run.
type Config struct {
	K        int // number of centroids
	Iters    int // Lloyd iterations per attempt
	Attempts int // independent restarts; lowest-cost attempt wins
	Threads  int // workers used for the assignment step
	Rng      *rand.Rand
}

// Result is the outcome of the winning attempt.
type Result struct {
	Centers [][]float32 // k x d
	Cost    float32     // sum of squared assignment distances, final iteration
}

type assignTask struct {
	data    [][]float32
	centers [][]float32
	assign  []int
	cost    []float32
}

// Run clusters data (n points of dimension d) into cfg.K centroids. It
// fails with a ShapeError if there are fewer points than centroids: Lloyd's
// algorithm cannot seed K distinct starting points from N < K samples.
func Run(data [][]float32, cfg Config) (Result, error) {
	n := len(data)
	if n == 0 {
		return Result{}, &ivfadcerr.ShapeError{Reason: "kmeans: empty dataset"}
	}
	if n < cfg.K {
		return Result{}, &ivfadcerr.ShapeError{Reason: "kmeans: N < K"}
	}
	if cfg.Iters < 1 {
		cfg.Iters = 1
	}
	if cfg.Attempts < 1 {
		cfg.Attempts = 1
	}
	if cfg.Threads < 1 {
		cfg.Threads = 1
	}
	d := len(data[0])

	var best Result
	best.Cost = float32(1e38)

	for attempt := 0; attempt < cfg.Attempts; attempt++ {
		centers := seedKMeansPlusPlus(data, cfg.K, cfg.Rng)
		cost := lloyd(data, centers, d, cfg.Iters, cfg.Threads)
		if cost < best.Cost {
			best.Cost = cost
			best.Centers = centers
		}
	}
	return best, nil
}

// seedKMeansPlusPlus picks cfg.K initial centers: the first uniformly at
// random, each subsequent one sampled with probability proportional to its
// squared distance to the nearest already-chosen center.
func seedKMeansPlusPlus(data [][]float32, k int, rng *rand.Rand) [][]float32 {
	n := len(data)

	centers := make([][]float32, 0, k)
	nearest := make([]float32, n)
	for i := range nearest {
		nearest[i] = float32(1e38)
	}

	first := rng.Intn(n)
	centers = append(centers, cloneVec(data[first]))

	for len(centers) < k {
		last := centers[len(centers)-1]
		var total float32
		for j := 0; j < n; j++ {
			d2 := vecmath.DistL2Sq(data[j], last)
			if d2 < nearest[j] {
				nearest[j] = d2
			}
			total += nearest[j]
		}

		if total <= 0 {
			// every remaining point coincides with an existing center;
			// fall back to uniform choice rather than dividing by zero.
			centers = append(centers, cloneVec(data[rng.Intn(n)]))
			continue
		}

		target := rng.Float64() * float64(total)
		var acc float32
		chosen := n - 1
		for j := 0; j < n-1; j++ {
			acc += nearest[j]
			if float64(acc) >= target {
				chosen = j
				break
			}
		}
		centers = append(centers, cloneVec(data[chosen]))
	}

	return centers
}

// lloyd runs iters assign/update cycles in place on centers, returning the
// cost of the final iteration's assignment.
func lloyd(data [][]float32, centers [][]float32, d, iters, threads int) float32 {
	n := len(data)
	k := len(centers)
	assign := make([]int, n)
	cost := make([]float32, n)

	var finalCost float32
	for iter := 0; iter < iters; iter++ {
		t := &assignTask{data: data, centers: centers, assign: assign, cost: cost}
		workpool.Run(n, threads, assignOne, t)

		finalCost = 0
		for _, c := range cost {
			finalCost += c
		}

		updateCenters(data, centers, assign, k, d)
	}
	return finalCost
}

func assignOne(ctxAny any, workerID int, i int, mu *sync.Mutex) {
	t := ctxAny.(*assignTask)
	best := float32(1e38)
	bestM := 0
	point := t.data[i]
	for m, c := range t.centers {
		dist := vecmath.DistL2Sq(c, point)
		if dist < best {
			best = dist
			bestM = m
		}
	}
	t.assign[i] = bestM
	t.cost[i] = best
}

// updateCenters recomputes each center as the mean of its assigned points.
// A cell with zero members keeps its previous centroid rather than being
// reseeded: reseeding mid-run would make the update step depend on more
// than the current assignment, which breaks cost monotonicity across
// iterations.
func updateCenters(data [][]float32, centers [][]float32, assign []int, k, d int) {
	sums := make([][]float32, k)
	counts := make([]int, k)
	for m := range sums {
		sums[m] = make([]float32, d)
	}

	for j, point := range data {
		m := assign[j]
		counts[m]++
		sum := sums[m]
		for x, v := range point {
			sum[x] += v
		}
	}

	for m := 0; m < k; m++ {
		if counts[m] == 0 {
			continue
		}
		inv := 1.0 / float32(counts[m])
		sum := sums[m]
		center := centers[m]
		for x := range center {
			center[x] = sum[x] * inv
		}
	}
}

func cloneVec(v []float32) []float32 {
	out := make([]float32, len(v))
	copy(out, v)
	return out
}
