// Package descio implements the descriptor-file I/O contract: a directory
// of files, each holding one D-float32 little-endian vector, supplying the
// vectors and image names the trainer, indexer, and query loaders consume.
package descio

import (
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/vladindex/ivfadc/internal/ivfadcerr"
)

// Vectors is the result of loading a descriptor directory: N vectors of
// dimension D, and the corresponding image name for each, in the same
// directory-sorted order used to assign image ids.
type Vectors struct {
	Data  [][]float32
	Names []string
}

// Load reads every file directly inside dir as one D-float32 descriptor,
// in lexically sorted filename order, so that image_id assignment is
// reproducible across runs. Each vector must be exactly dim floats; a
// mismatched file size is a FormatError.
func Load(dir string, dim int) (Vectors, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return Vectors{}, &ivfadcerr.IoError{Path: dir, Err: err}
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		files = append(files, e.Name())
	}
	sort.Strings(files)

	out := Vectors{
		Data:  make([][]float32, 0, len(files)),
		Names: make([]string, 0, len(files)),
	}

	for _, fname := range files {
		path := filepath.Join(dir, fname)
		v, err := loadOne(path, dim)
		if err != nil {
			return Vectors{}, err
		}
		out.Data = append(out.Data, v)
		out.Names = append(out.Names, strings.TrimSuffix(fname, filepath.Ext(fname)))
	}

	if len(out.Data) == 0 {
		return Vectors{}, &ivfadcerr.ShapeError{Reason: "descio: empty descriptor directory " + dir}
	}
	return out, nil
}

func loadOne(path string, dim int) ([]float32, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, &ivfadcerr.IoError{Path: path, Err: err}
	}
	if len(raw) != dim*4 {
		return nil, &ivfadcerr.FormatError{
			Path:   path,
			Reason: "descriptor file size does not match configured dimension",
		}
	}

	v := make([]float32, dim)
	for i := 0; i < dim; i++ {
		bits := binary.LittleEndian.Uint32(raw[i*4 : i*4+4])
		v[i] = math.Float32frombits(bits)
	}
	return v, nil
}

// WriteVector writes v as a dim-float32 little-endian descriptor file,
// used by tests and by tooling that stages toy descriptor directories.
func WriteVector(path string, v []float32) error {
	raw := make([]byte, len(v)*4)
	for i, x := range v {
		binary.LittleEndian.PutUint32(raw[i*4:i*4+4], math.Float32bits(x))
	}
	return os.WriteFile(path, raw, 0o644)
}
