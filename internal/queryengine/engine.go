// Package queryengine implements the query-serving engine (C8): the
// Uninitialized -> Loaded -> Serving lifecycle, single-query multi-probe
// search, and batch search parallelized across the shared work pool.
package queryengine

import (
	"container/heap"
	"sort"
	"sync"

	"github.com/vladindex/ivfadc/internal/coarse"
	"github.com/vladindex/ivfadc/internal/ivfadcerr"
	"github.com/vladindex/ivfadc/internal/pq"
	"github.com/vladindex/ivfadc/internal/store"
	"github.com/vladindex/ivfadc/internal/vecmath"
	"github.com/vladindex/ivfadc/internal/workpool"
)

// State is a position in the engine's lifecycle state machine.
type State int

const (
	Uninitialized State = iota
	Loaded
	Serving
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "Uninitialized"
	case Loaded:
		return "Loaded"
	case Serving:
		return "Serving"
	default:
		return "Unknown"
	}
}

// Match is one scored search result.
type Match struct {
	ImageID int
	Name    string
	Score   float32
}

// Engine holds a fully loaded index in memory and answers search queries
// against it. New returns an Uninitialized engine; Load transitions it to
// Loaded and Serve (idempotent) to Serving. Search and SearchBatch answer
// queries in either the Loaded or the Serving state.
type Engine struct {
	mu    sync.RWMutex
	state State

	coarse   *coarse.Quantizer
	pq       *pq.Codebook
	names    []string
	postings [][]store.PostingEntry // per-cell, index == cell id
}

// New returns an Uninitialized engine.
func New() *Engine {
	return &Engine{state: Uninitialized}
}

// State returns the engine's current lifecycle state.
func (e *Engine) State() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// Load reads the coarse codebook, PQ sub-codebooks, name list, posting
// file, and cell_sizes sidecar from layout into memory, transitioning
// Uninitialized -> Loaded. Any I/O or format failure leaves the engine
// Uninitialized.
func (e *Engine) Load(layout store.Layout, numSubquantizers, bitsPerSub int) error {
	coarseRows, err := store.ReadCodebook(layout.Coarse())
	if err != nil {
		return err
	}

	sub := make([][][]float32, numSubquantizers)
	for i := range sub {
		rows, err := store.ReadCodebook(layout.PQSub(i))
		if err != nil {
			return err
		}
		sub[i] = rows
	}
	book, err := pq.Load(sub, bitsPerSub)
	if err != nil {
		return err
	}

	names, err := store.ReadNameList(layout.NameList())
	if err != nil {
		return err
	}

	cellSizes, err := store.ReadCellSizes(layout.CellSizes())
	if err != nil {
		return err
	}
	offsets := store.CellOffsets(cellSizes)

	entries, err := store.ReadPostingFile(layout.Posting(), numSubquantizers)
	if err != nil {
		return err
	}

	postings := make([][]store.PostingEntry, len(cellSizes))
	for c := range postings {
		postings[c] = entries[offsets[c]:offsets[c+1]]
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.coarse = coarse.New(coarseRows)
	e.pq = book
	e.names = names
	e.postings = postings
	e.state = Loaded
	return nil
}

// Serve transitions Loaded -> Serving. It is idempotent: calling it again
// while already Serving is a no-op. Calling it while Uninitialized is a
// ConfigError.
func (e *Engine) Serve() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch e.state {
	case Serving:
		return nil
	case Loaded:
		e.state = Serving
		return nil
	default:
		return &ivfadcerr.ConfigError{Key: "engine", Reason: "Serve called before Load"}
	}
}

// Search answers one query: L2-normalize q, probe the w nearest coarse
// cells, score every posting entry in each via the asymmetric distance
// table, merge keeping the minimum score per image_id, and return the
// topK best ascending by score (ties broken by lower image_id).
func (e *Engine) Search(q []float32, topK, w int) ([]Match, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.state == Uninitialized {
		return nil, &ivfadcerr.ConfigError{Key: "engine", Reason: "Search called before Load"}
	}
	if len(q) != e.coarse.Dim() {
		return nil, &ivfadcerr.ShapeError{Reason: "query: dimension mismatch"}
	}

	query := make([]float32, len(q))
	copy(query, q)
	vecmath.Normalize(query)

	cells := e.coarse.QuantizeW(query, w)

	best := make(map[uint32]float32)
	residual := make([]float32, e.coarse.Dim())
	for _, cell := range cells {
		e.coarse.Residual(query, cell, residual)
		vecmath.Normalize(residual)
		adt := e.pq.BuildADT(residual)

		for _, entry := range e.postings[cell] {
			s := pq.AsymmetricDistance(adt, entry.Code)
			if prev, ok := best[entry.ImageID]; !ok || s < prev {
				best[entry.ImageID] = s
			}
		}
	}

	return topKMatches(best, e.names, topK), nil
}

// SearchBatch runs Search for every row of Q in parallel via the shared
// work pool, returning results in the same order as Q.
func (e *Engine) SearchBatch(qs [][]float32, topK, w, threads int) ([][]Match, []error) {
	results := make([][]Match, len(qs))
	errs := make([]error, len(qs))

	t := &batchTask{engine: e, qs: qs, topK: topK, w: w, results: results, errs: errs}
	workpool.Run(len(qs), threads, batchOne, t)
	return results, errs
}

type batchTask struct {
	engine  *Engine
	qs      [][]float32
	topK    int
	w       int
	results [][]Match
	errs    []error
}

func batchOne(ctxAny any, workerID int, i int, mu *sync.Mutex) {
	t := ctxAny.(*batchTask)
	matches, err := t.engine.Search(t.qs[i], t.topK, t.w)
	t.results[i] = matches
	t.errs[i] = err
}

// scoredHeap is a bounded max-heap over scores: the accumulator keeps the
// topK lowest scores by evicting its current worst whenever it overflows.
type scoredHeap []Match

func (h scoredHeap) Len() int { return len(h) }
func (h scoredHeap) Less(i, j int) bool {
	if h[i].Score != h[j].Score {
		return h[i].Score > h[j].Score // max-heap on score
	}
	return h[i].ImageID > h[j].ImageID // same score: higher id is "worse", evicted first
}
func (h scoredHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *scoredHeap) Push(x interface{}) { *h = append(*h, x.(Match)) }
func (h *scoredHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

func topKMatches(scores map[uint32]float32, names []string, topK int) []Match {
	if topK < 1 {
		topK = 1
	}
	h := &scoredHeap{}
	heap.Init(h)

	for imageID, score := range scores {
		name := ""
		if int(imageID) < len(names) {
			name = names[imageID]
		}
		m := Match{ImageID: int(imageID), Name: name, Score: score}
		if h.Len() < topK {
			heap.Push(h, m)
			continue
		}
		worst := (*h)[0]
		if m.Score < worst.Score || (m.Score == worst.Score && m.ImageID < worst.ImageID) {
			heap.Pop(h)
			heap.Push(h, m)
		}
	}

	out := make([]Match, h.Len())
	for i := range out {
		out[i] = (*h)[i]
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score < out[j].Score
		}
		return out[i].ImageID < out[j].ImageID
	})
	return out
}
