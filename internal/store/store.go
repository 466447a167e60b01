// Package store implements the on-disk persistence format (C9): binary
// codebooks, the name list, the spill file written during indexing's first
// pass, the final bucketized posting file, and the cell-size sidecar. All
// binary files are little-endian; floats are f32, counts are i32 unless
// stated otherwise.
package store

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/vladindex/ivfadc/internal/ivfadcerr"
)

// Layout names every on-disk artifact for a given dataId stem under a
// directory, so the trainer, indexer, and query engine agree on paths
// without passing strings around by hand.
type Layout struct {
	base string
}

// NewLayout returns the artifact layout for dataId under dir.
func NewLayout(dir, dataID string) Layout {
	return Layout{base: filepath.Join(dir, dataID)}
}

// Coarse is the coarse codebook's file path.
func (l Layout) Coarse() string { return l.base + ".coarse.codebook" }

// PQSub is sub-codebook i's file path.
func (l Layout) PQSub(i int) string { return fmt.Sprintf("%s.pq.codebook.%d", l.base, i) }

// Diagnostics is the training diagnostics sidecar's file path.
func (l Layout) Diagnostics() string { return l.base + ".diag.json" }

// NameList is the name table's file path.
func (l Layout) NameList() string { return l.base + ".names.txt" }

// Posting is the final bucketized posting file's path.
func (l Layout) Posting() string { return l.base + ".index.post" }

// CellSizes is the cell-size sidecar's file path.
func (l Layout) CellSizes() string { return l.base + ".cell_sizes" }

// Spill is the Pass-A intermediate spill file's path, deleted once Pass B
// finishes bucketizing it.
func (l Layout) Spill() string { return l.base + ".spill.tmp" }

// --- codebook file: i32 rows; i32 cols; f32[rows*cols] row-major ---

// WriteCodebook writes rows (a rows x cols matrix) to path in the fixed
// binary codebook format, via a temporary file renamed into place so a
// crash mid-write never leaves a corrupt file at the final path.
func WriteCodebook(path string, rows [][]float32) error {
	return atomicWrite(path, func(w io.Writer) error {
		return encodeMatrix(w, rows)
	})
}

// ReadCodebook reads a codebook file back into a rows x cols matrix.
func ReadCodebook(path string) ([][]float32, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &ivfadcerr.IoError{Path: path, Err: err}
	}
	defer f.Close()

	rows, err := decodeMatrix(bufio.NewReader(f))
	if err != nil {
		return nil, wrapFormat(path, err)
	}
	return rows, nil
}

func encodeMatrix(w io.Writer, rows [][]float32) error {
	nRows := int32(len(rows))
	nCols := int32(0)
	if nRows > 0 {
		nCols = int32(len(rows[0]))
	}
	if err := binary.Write(w, binary.LittleEndian, nRows); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, nCols); err != nil {
		return err
	}
	for _, row := range rows {
		if int32(len(row)) != nCols {
			return fmt.Errorf("ragged matrix: row has %d cols, want %d", len(row), nCols)
		}
		if err := binary.Write(w, binary.LittleEndian, row); err != nil {
			return err
		}
	}
	return nil
}

func decodeMatrix(r io.Reader) ([][]float32, error) {
	var nRows, nCols int32
	if err := binary.Read(r, binary.LittleEndian, &nRows); err != nil {
		return nil, fmt.Errorf("reading rows header: %w", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &nCols); err != nil {
		return nil, fmt.Errorf("reading cols header: %w", err)
	}
	if nRows < 0 || nCols < 0 {
		return nil, fmt.Errorf("negative matrix dimensions: %d x %d", nRows, nCols)
	}

	rows := make([][]float32, nRows)
	for i := range rows {
		row := make([]float32, nCols)
		if err := binary.Read(r, binary.LittleEndian, row); err != nil {
			return nil, fmt.Errorf("reading row %d: %w", i, err)
		}
		rows[i] = row
	}
	return rows, nil
}

// --- name list: text, "<N>\n" then one name per line ---

// WriteNameList writes the ordered image name table.
func WriteNameList(path string, names []string) error {
	return atomicWrite(path, func(w io.Writer) error {
		bw := bufio.NewWriter(w)
		if _, err := fmt.Fprintf(bw, "%d\n", len(names)); err != nil {
			return err
		}
		for _, name := range names {
			if _, err := fmt.Fprintf(bw, "%s\n", name); err != nil {
				return err
			}
		}
		return bw.Flush()
	})
}

// ReadNameList reads the name table back.
func ReadNameList(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &ivfadcerr.IoError{Path: path, Err: err}
	}
	defer f.Close()

	r := bufio.NewReader(f)
	var n int
	if _, err := fmt.Fscanf(r, "%d\n", &n); err != nil {
		return nil, wrapFormat(path, fmt.Errorf("reading name count: %w", err))
	}
	if n < 0 {
		return nil, wrapFormat(path, fmt.Errorf("negative name count %d", n))
	}

	names := make([]string, n)
	for i := 0; i < n; i++ {
		line, err := r.ReadString('\n')
		if err != nil && err != io.EOF {
			return nil, wrapFormat(path, fmt.Errorf("reading name %d: %w", i, err))
		}
		names[i] = trimNewline(line)
	}
	return names, nil
}

func trimNewline(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}

// --- spill file: Pass A's streaming (image_id order) intermediate record
// stream. The indexer writes the records sequentially, in image_id order,
// after its parallel quantization stage; image_id is implicit in record
// position. ---

// SpillRecord is one Pass-A record: the coarse cell a vector was assigned
// to, and its PQ code.
type SpillRecord struct {
	CellID uint32
	Code   []uint32
}

// SpillWriter appends records to a spill file sequentially. Callers that
// share one writer across goroutines provide their own mutual exclusion;
// SpillWriter performs no locking of its own.
type SpillWriter struct {
	f *os.File
	w *bufio.Writer
}

// CreateSpillWriter creates (or truncates) the spill file at path and
// writes the total-image-count header up front; the caller updates the
// count by calling Finalize once the true total is known, since it is not
// known until Pass A completes.
func CreateSpillWriter(path string) (*SpillWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, &ivfadcerr.IoError{Path: path, Err: err}
	}
	if err := binary.Write(f, binary.LittleEndian, int32(0)); err != nil {
		f.Close()
		return nil, &ivfadcerr.IoError{Path: path, Err: err}
	}
	return &SpillWriter{f: f, w: bufio.NewWriter(f)}, nil
}

// Append writes one record: i32 num_entries(=1), u32 cell_id, u32 code[M].
func (s *SpillWriter) Append(rec SpillRecord) error {
	if err := binary.Write(s.w, binary.LittleEndian, int32(1)); err != nil {
		return err
	}
	if err := binary.Write(s.w, binary.LittleEndian, rec.CellID); err != nil {
		return err
	}
	return binary.Write(s.w, binary.LittleEndian, rec.Code)
}

// Finalize flushes buffered writes, patches in the true record count, and
// closes the file.
func (s *SpillWriter) Finalize(totalImages int) error {
	if err := s.w.Flush(); err != nil {
		s.f.Close()
		return err
	}
	if _, err := s.f.Seek(0, io.SeekStart); err != nil {
		s.f.Close()
		return err
	}
	if err := binary.Write(s.f, binary.LittleEndian, int32(totalImages)); err != nil {
		s.f.Close()
		return err
	}
	return s.f.Close()
}

// ReadSpill reads every record from a spill file back, in on-disk (arrival)
// order; record i corresponds to image_id i.
func ReadSpill(path string, m int) ([]SpillRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &ivfadcerr.IoError{Path: path, Err: err}
	}
	defer f.Close()

	r := bufio.NewReader(f)
	var total int32
	if err := binary.Read(r, binary.LittleEndian, &total); err != nil {
		return nil, wrapFormat(path, fmt.Errorf("reading spill header: %w", err))
	}

	records := make([]SpillRecord, total)
	for i := range records {
		var numEntries int32
		if err := binary.Read(r, binary.LittleEndian, &numEntries); err != nil {
			return nil, wrapFormat(path, fmt.Errorf("reading record %d count: %w", i, err))
		}
		var cellID uint32
		if err := binary.Read(r, binary.LittleEndian, &cellID); err != nil {
			return nil, wrapFormat(path, fmt.Errorf("reading record %d cell: %w", i, err))
		}
		code := make([]uint32, m)
		if err := binary.Read(r, binary.LittleEndian, code); err != nil {
			return nil, wrapFormat(path, fmt.Errorf("reading record %d code: %w", i, err))
		}
		records[i] = SpillRecord{CellID: cellID, Code: code}
	}
	return records, nil
}

// --- final posting file: bucketized by cell, entries store (image_id,
// code); the cell a record belongs to is implicit from which bucket
// (offset range, per cell_sizes) it falls in. ---

// PostingEntry is one bucketized posting-list record.
type PostingEntry struct {
	ImageID uint32
	Code    []uint32
}

// WritePostingFile writes postings (already bucketized: postings[c] holds
// cell c's entries, in insertion order) as one flat sequence: cell 0's
// entries, then cell 1's, and so on, matching the offsets cell_sizes
// implies. Each record is i32 num_entries(=1), u32 image_id, u32 code[M].
func WritePostingFile(path string, postings [][]PostingEntry) error {
	total := 0
	for _, bucket := range postings {
		total += len(bucket)
	}

	return atomicWrite(path, func(w io.Writer) error {
		if err := binary.Write(w, binary.LittleEndian, int32(total)); err != nil {
			return err
		}
		for _, bucket := range postings {
			for _, e := range bucket {
				if err := binary.Write(w, binary.LittleEndian, int32(1)); err != nil {
					return err
				}
				if err := binary.Write(w, binary.LittleEndian, e.ImageID); err != nil {
					return err
				}
				if err := binary.Write(w, binary.LittleEndian, e.Code); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

// ReadPostingFile reads the full flat sequence of posting entries back, in
// the same cell-bucketized order they were written. Callers use cell_sizes
// (CellOffsets) to slice this back into per-cell posting lists.
func ReadPostingFile(path string, m int) ([]PostingEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &ivfadcerr.IoError{Path: path, Err: err}
	}
	defer f.Close()

	r := bufio.NewReader(f)
	var total int32
	if err := binary.Read(r, binary.LittleEndian, &total); err != nil {
		return nil, wrapFormat(path, fmt.Errorf("reading posting header: %w", err))
	}

	entries := make([]PostingEntry, total)
	for i := range entries {
		var numEntries int32
		if err := binary.Read(r, binary.LittleEndian, &numEntries); err != nil {
			return nil, wrapFormat(path, fmt.Errorf("reading entry %d count: %w", i, err))
		}
		var imageID uint32
		if err := binary.Read(r, binary.LittleEndian, &imageID); err != nil {
			return nil, wrapFormat(path, fmt.Errorf("reading entry %d image id: %w", i, err))
		}
		code := make([]uint32, m)
		if err := binary.Read(r, binary.LittleEndian, code); err != nil {
			return nil, wrapFormat(path, fmt.Errorf("reading entry %d code: %w", i, err))
		}
		entries[i] = PostingEntry{ImageID: imageID, Code: code}
	}
	return entries, nil
}

// --- cell_sizes sidecar: K_c x 1 integer matrix, stored in the codebook
// binary matrix format (counts carried as f32, per the fixed wire layout). ---

// WriteCellSizes writes the per-cell posting-list lengths.
func WriteCellSizes(path string, sizes []int) error {
	rows := make([][]float32, len(sizes))
	for i, n := range sizes {
		rows[i] = []float32{float32(n)}
	}
	return WriteCodebook(path, rows)
}

// ReadCellSizes reads the per-cell posting-list lengths back.
func ReadCellSizes(path string) ([]int, error) {
	rows, err := ReadCodebook(path)
	if err != nil {
		return nil, err
	}
	sizes := make([]int, len(rows))
	for i, row := range rows {
		if len(row) != 1 {
			return nil, &ivfadcerr.FormatError{Path: path, Reason: "cell_sizes must have one column"}
		}
		sizes[i] = int(row[0])
	}
	return sizes, nil
}

// CellOffsets returns the K_c+1 prefix sums of sizes: cell c's entries
// occupy [offsets[c], offsets[c+1]) in the flat posting-entry slice.
func CellOffsets(sizes []int) []int {
	offsets := make([]int, len(sizes)+1)
	for i, n := range sizes {
		offsets[i+1] = offsets[i] + n
	}
	return offsets
}

// --- training diagnostics sidecar: operator-facing JSON, no reader in this
// module depends on it. ---

// Diagnostics summarizes pairwise coarse-centroid separation after
// training, the supplement to the original implementation's word-distance
// report.
type Diagnostics struct {
	NumCentroids     int     `json:"num_centroids"`
	MinPairwiseDist  float64 `json:"min_pairwise_dist"`
	MeanPairwiseDist float64 `json:"mean_pairwise_dist"`
}

// WriteDiagnostics writes diag as JSON to path.
func WriteDiagnostics(path string, diag Diagnostics) error {
	return atomicWrite(path, func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(diag)
	})
}

func atomicWrite(path string, body func(w io.Writer) error) error {
	tmp := path + ".tmp-" + strconv.Itoa(os.Getpid())
	f, err := os.Create(tmp)
	if err != nil {
		return &ivfadcerr.IoError{Path: path, Err: err}
	}
	if err := body(f); err != nil {
		f.Close()
		os.Remove(tmp)
		return &ivfadcerr.IoError{Path: path, Err: err}
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return &ivfadcerr.IoError{Path: path, Err: err}
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return &ivfadcerr.IoError{Path: path, Err: err}
	}
	return nil
}

func wrapFormat(path string, err error) error {
	return &ivfadcerr.FormatError{Path: path, Reason: "decoding failed", Err: err}
}
