// Package trainer implements the coarse-quantizer and PQ-codebook training
// pipeline (C6): load descriptors, normalize, train the coarse codebook,
// compute residuals in parallel, train the PQ codebook over those
// residuals, and persist both alongside a diagnostics sidecar.
package trainer

import (
	"math/rand"
	"sync"
	"time"

	"github.com/vladindex/ivfadc/internal/coarse"
	"github.com/vladindex/ivfadc/internal/descio"
	"github.com/vladindex/ivfadc/internal/ivfadcerr"
	"github.com/vladindex/ivfadc/internal/kmeans"
	"github.com/vladindex/ivfadc/internal/pq"
	"github.com/vladindex/ivfadc/internal/store"
	"github.com/vladindex/ivfadc/internal/vecmath"
	"github.com/vladindex/ivfadc/internal/workpool"
	"github.com/vladindex/ivfadc/pkg/config"
	"github.com/vladindex/ivfadc/pkg/observability"
)

// Hooks lets the trainer report progress and metrics without depending on
// a concrete logger/metrics instance; Run is safe to call with either field
// nil, in which case that stream of progress is simply dropped.
type Hooks struct {
	Logger  *observability.Logger
	Metrics *observability.Metrics
}

// Result summarizes a finished training run: the trained coarse quantizer,
// PQ codebook, and the diagnostics record written alongside them.
type Result struct {
	Coarse *coarse.Quantizer
	PQ     *pq.Codebook
	Diag   store.Diagnostics
}

// Run executes the full training pipeline for cfg and persists its output
// under layout. It fails with TrainingError{InsufficientData} if the
// training set has fewer vectors than K_c or than K_s = 2^nsqbits.
func Run(cfg config.TrainConfig, layout store.Layout, hooks Hooks) (Result, error) {
	vectors, err := descio.Load(cfg.TrainDesc, cfg.Dim)
	if err != nil {
		return Result{}, err
	}
	n := len(vectors.Data)
	if n < cfg.CoarseK {
		return Result{}, &ivfadcerr.TrainingError{
			Kind:   ivfadcerr.InsufficientData,
			Detail: "trainer: N < K_c for coarse codebook",
		}
	}

	for _, v := range vectors.Data {
		vecmath.Normalize(v)
	}

	rng := rand.New(rand.NewSource(cfg.Seed))

	coarseResult, err := trainCoarse(vectors.Data, cfg, rng, hooks)
	if err != nil {
		return Result{}, err
	}
	cq := coarse.New(coarseResult.Centers)

	residuals := computeResiduals(vectors.Data, cq, cfg.Threads)

	book, err := pq.New(cfg.Dim, cfg.NumSQ, cfg.NumSQBits)
	if err != nil {
		return Result{}, err
	}
	ks := book.Ks()
	if n < ks {
		return Result{}, &ivfadcerr.TrainingError{
			Kind:   ivfadcerr.InsufficientData,
			Detail: "trainer: N < Ks for PQ codebook",
		}
	}

	start := time.Now()
	if err := book.Train(residuals, pq.TrainConfig{
		Iters:    cfg.Iters,
		Attempts: cfg.Attempts,
		Threads:  cfg.Threads,
		Rng:      rng,
	}); err != nil {
		return Result{}, err
	}
	if hooks.Metrics != nil {
		hooks.Metrics.RecordTrainingRun("pq", time.Since(start), n)
	}

	diag := diagnosticsFor(coarseResult.Centers)

	if err := persist(layout, coarseResult.Centers, book, diag); err != nil {
		return Result{}, err
	}

	return Result{Coarse: cq, PQ: book, Diag: diag}, nil
}

func trainCoarse(data [][]float32, cfg config.TrainConfig, rng *rand.Rand, hooks Hooks) (kmeans.Result, error) {
	start := time.Now()
	result, err := kmeans.Run(data, kmeans.Config{
		K:        cfg.CoarseK,
		Iters:    cfg.Iters,
		Attempts: cfg.Attempts,
		Threads:  cfg.Threads,
		Rng:      rng,
	})
	if err != nil {
		return kmeans.Result{}, err
	}

	// kmeans.Run returns only the winning attempt, so one entry is logged
	// carrying the attempt count and the winning cost; individual attempts
	// and Lloyd iterations are not logged.
	if hooks.Logger != nil {
		hooks.Logger.LogTrainingAttempt("coarse", cfg.Attempts, result.Cost)
	}
	if hooks.Metrics != nil {
		hooks.Metrics.RecordAttempt("coarse", result.Cost)
		hooks.Metrics.RecordTrainingRun("coarse", time.Since(start), len(data))
	}
	return result, nil
}

type residualTask struct {
	data      [][]float32
	cq        *coarse.Quantizer
	residuals [][]float32
}

// computeResiduals assigns every vector to its nearest coarse cell and
// writes the L2-normalized residual, in parallel via the shared work pool.
func computeResiduals(data [][]float32, cq *coarse.Quantizer, threads int) [][]float32 {
	d := cq.Dim()
	residuals := make([][]float32, len(data))
	for i := range residuals {
		residuals[i] = make([]float32, d)
	}

	t := &residualTask{data: data, cq: cq, residuals: residuals}
	workpool.Run(len(data), threads, residualOne, t)
	return residuals
}

func residualOne(ctxAny any, workerID int, i int, mu *sync.Mutex) {
	t := ctxAny.(*residualTask)
	cell := t.cq.Quantize(t.data[i])
	t.cq.Residual(t.data[i], cell, t.residuals[i])
	vecmath.Normalize(t.residuals[i])
}

// diagnosticsFor summarizes pairwise coarse-centroid separation, the
// operator-facing supplement to the codebook files themselves.
func diagnosticsFor(centroids [][]float32) store.Diagnostics {
	k := len(centroids)
	if k < 2 {
		return store.Diagnostics{NumCentroids: k}
	}

	var minDist float64 = -1
	var sum float64
	var pairs int
	for i := 0; i < k; i++ {
		for j := i + 1; j < k; j++ {
			d := float64(vecmath.DistL2Sq(centroids[i], centroids[j]))
			sum += d
			pairs++
			if minDist < 0 || d < minDist {
				minDist = d
			}
		}
	}
	return store.Diagnostics{
		NumCentroids:     k,
		MinPairwiseDist:  minDist,
		MeanPairwiseDist: sum / float64(pairs),
	}
}

func persist(layout store.Layout, coarseCentroids [][]float32, book *pq.Codebook, diag store.Diagnostics) error {
	if err := store.WriteCodebook(layout.Coarse(), coarseCentroids); err != nil {
		return err
	}
	for i, sub := range book.SubCodebooks() {
		if err := store.WriteCodebook(layout.PQSub(i), sub); err != nil {
			return err
		}
	}
	return store.WriteDiagnostics(layout.Diagnostics(), diag)
}
