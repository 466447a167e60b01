// Package indexer implements the two-pass indexing pipeline (C7): quantize
// every reference vector to a (cell, PQ-code) pair in parallel, write the
// result to a spill file in image_id order (Pass A), then re-read and
// bucketize it into per-cell posting lists plus a cell_sizes sidecar
// (Pass B).
package indexer

import (
	"os"
	"sync"
	"time"

	"github.com/vladindex/ivfadc/internal/coarse"
	"github.com/vladindex/ivfadc/internal/descio"
	"github.com/vladindex/ivfadc/internal/pq"
	"github.com/vladindex/ivfadc/internal/store"
	"github.com/vladindex/ivfadc/internal/vecmath"
	"github.com/vladindex/ivfadc/internal/workpool"
	"github.com/vladindex/ivfadc/pkg/config"
	"github.com/vladindex/ivfadc/pkg/observability"
)

// Hooks lets the indexer report progress and metrics without depending on
// a concrete logger/metrics instance.
type Hooks struct {
	Logger  *observability.Logger
	Metrics *observability.Metrics
}

// Result summarizes a finished indexing run.
type Result struct {
	NumVectors int
	CellSizes  []int
}

type quantizeTask struct {
	data   [][]float32
	names  []string
	cq     *coarse.Quantizer
	book   *pq.Codebook
	cells  []uint32
	codes  [][]uint32
}

// Run loads cfg.IndexDesc's reference vectors, quantizes each to a coarse
// cell and PQ code in parallel, and persists the bucketized posting file,
// cell_sizes sidecar, and name list under layout. The intermediate spill
// file is removed once Pass B has bucketized it.
func Run(cfg config.IndexConfig, layout store.Layout, cq *coarse.Quantizer, book *pq.Codebook, hooks Hooks) (Result, error) {
	start := time.Now()

	vectors, err := descio.Load(cfg.IndexDesc, cfg.Dim)
	if err != nil {
		return Result{}, err
	}
	n := len(vectors.Data)

	for _, v := range vectors.Data {
		vecmath.Normalize(v)
	}

	t := &quantizeTask{
		data:  vectors.Data,
		names: vectors.Names,
		cq:    cq,
		book:  book,
		cells: make([]uint32, n),
		codes: make([][]uint32, n),
	}
	workpool.Run(n, cfg.Threads, quantizeOne, t)

	if err := writeSpill(layout, t); err != nil {
		return Result{}, err
	}
	if err := store.WriteNameList(layout.NameList(), vectors.Names); err != nil {
		return Result{}, err
	}

	cellSizes, err := bucketize(layout, cq.NumCells(), len(book.SubCodebooks()))
	if err != nil {
		return Result{}, err
	}

	if hooks.Metrics != nil {
		hooks.Metrics.RecordIndexing(time.Since(start), n, cellSizes)
	}
	if hooks.Logger != nil {
		hooks.Logger.Info("indexing finished", map[string]interface{}{
			"vectors": n,
			"cells":   cq.NumCells(),
		})
	}

	return Result{NumVectors: n, CellSizes: cellSizes}, nil
}

func quantizeOne(ctxAny any, workerID int, i int, mu *sync.Mutex) {
	t := ctxAny.(*quantizeTask)
	v := t.data[i]
	cell := t.cq.Quantize(v)

	residual := make([]float32, t.cq.Dim())
	t.cq.Residual(v, cell, residual)
	vecmath.Normalize(residual)

	t.cells[i] = uint32(cell)
	t.codes[i] = t.book.Encode(residual)
}

// writeSpill streams every (cell, code) pair to the Pass-A spill file in
// image_id order. Writing is single-threaded (the parallel stage above has
// already finished), so no external mutex is needed here.
func writeSpill(layout store.Layout, t *quantizeTask) error {
	w, err := store.CreateSpillWriter(layout.Spill())
	if err != nil {
		return err
	}
	n := len(t.cells)
	for i := 0; i < n; i++ {
		if err := w.Append(store.SpillRecord{CellID: t.cells[i], Code: t.codes[i]}); err != nil {
			return err
		}
	}
	return w.Finalize(n)
}

// bucketize re-reads the spill file and redistributes its arrival-ordered
// records into numCells posting lists, writing the final posting file and
// cell_sizes sidecar, then removing the now-unneeded spill file.
func bucketize(layout store.Layout, numCells, m int) ([]int, error) {
	records, err := store.ReadSpill(layout.Spill(), m)
	if err != nil {
		return nil, err
	}

	postings := make([][]store.PostingEntry, numCells)
	for imageID, rec := range records {
		c := rec.CellID
		postings[c] = append(postings[c], store.PostingEntry{
			ImageID: uint32(imageID),
			Code:    rec.Code,
		})
	}

	if err := store.WritePostingFile(layout.Posting(), postings); err != nil {
		return nil, err
	}

	sizes := make([]int, numCells)
	for c, bucket := range postings {
		sizes[c] = len(bucket)
	}
	if err := store.WriteCellSizes(layout.CellSizes(), sizes); err != nil {
		return nil, err
	}

	os.Remove(layout.Spill())
	return sizes, nil
}
