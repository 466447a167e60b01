package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestCodebookRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "coarse.codebook")

	rows := [][]float32{
		{1, 2, 3, 4},
		{5, 6, 7, 8},
	}
	if err := WriteCodebook(path, rows); err != nil {
		t.Fatalf("WriteCodebook: %v", err)
	}

	got, err := ReadCodebook(path)
	if err != nil {
		t.Fatalf("ReadCodebook: %v", err)
	}
	if len(got) != len(rows) {
		t.Fatalf("got %d rows, want %d", len(got), len(rows))
	}
	for i := range rows {
		for j := range rows[i] {
			if got[i][j] != rows[i][j] {
				t.Fatalf("row %d mismatch: got %v, want %v", i, got[i], rows[i])
			}
		}
	}
}

func TestNameListRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "names.txt")

	names := []string{"img_000", "img_001", "img_002"}
	if err := WriteNameList(path, names); err != nil {
		t.Fatalf("WriteNameList: %v", err)
	}

	got, err := ReadNameList(path)
	if err != nil {
		t.Fatalf("ReadNameList: %v", err)
	}
	if len(got) != len(names) {
		t.Fatalf("got %d names, want %d", len(got), len(names))
	}
	for i := range names {
		if got[i] != names[i] {
			t.Fatalf("name %d = %q, want %q", i, got[i], names[i])
		}
	}
}

func TestSpillRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "spill.bin")

	sw, err := CreateSpillWriter(path)
	if err != nil {
		t.Fatalf("CreateSpillWriter: %v", err)
	}
	records := []SpillRecord{
		{CellID: 0, Code: []uint32{1, 2}},
		{CellID: 1, Code: []uint32{3, 4}},
		{CellID: 0, Code: []uint32{5, 6}},
	}
	for _, r := range records {
		if err := sw.Append(r); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	if err := sw.Finalize(len(records)); err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	got, err := ReadSpill(path, 2)
	if err != nil {
		t.Fatalf("ReadSpill: %v", err)
	}
	if len(got) != len(records) {
		t.Fatalf("got %d records, want %d", len(got), len(records))
	}
	for i := range records {
		if got[i].CellID != records[i].CellID {
			t.Fatalf("record %d cell = %d, want %d", i, got[i].CellID, records[i].CellID)
		}
		for j := range records[i].Code {
			if got[i].Code[j] != records[i].Code[j] {
				t.Fatalf("record %d code mismatch: got %v, want %v", i, got[i].Code, records[i].Code)
			}
		}
	}
}

func TestPostingFileRoundTripAndCellOffsets(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "index.post")

	postings := [][]PostingEntry{
		{{ImageID: 0, Code: []uint32{1, 1}}, {ImageID: 1, Code: []uint32{1, 2}}},
		{{ImageID: 2, Code: []uint32{2, 1}}},
	}
	if err := WritePostingFile(path, postings); err != nil {
		t.Fatalf("WritePostingFile: %v", err)
	}

	entries, err := ReadPostingFile(path, 2)
	if err != nil {
		t.Fatalf("ReadPostingFile: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("got %d entries, want 3", len(entries))
	}

	sizes := []int{len(postings[0]), len(postings[1])}
	offsets := CellOffsets(sizes)
	if offsets[0] != 0 || offsets[1] != 2 || offsets[2] != 3 {
		t.Fatalf("CellOffsets = %v, want [0 2 3]", offsets)
	}

	cell0 := entries[offsets[0]:offsets[1]]
	if len(cell0) != 2 || cell0[0].ImageID != 0 || cell0[1].ImageID != 1 {
		t.Fatalf("cell 0 slice = %v, want image ids 0,1", cell0)
	}
}

func TestCellSizesRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cell_sizes")

	sizes := []int{4, 0, 2}
	if err := WriteCellSizes(path, sizes); err != nil {
		t.Fatalf("WriteCellSizes: %v", err)
	}
	got, err := ReadCellSizes(path)
	if err != nil {
		t.Fatalf("ReadCellSizes: %v", err)
	}
	if len(got) != len(sizes) {
		t.Fatalf("got %d sizes, want %d", len(got), len(sizes))
	}
	for i := range sizes {
		if got[i] != sizes[i] {
			t.Fatalf("size %d = %d, want %d", i, got[i], sizes[i])
		}
	}
}

func TestDiagnosticsWritesValidJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "train.diag.json")
	want := Diagnostics{NumCentroids: 2, MinPairwiseDist: 0.5, MeanPairwiseDist: 1.5}
	if err := WriteDiagnostics(path, want); err != nil {
		t.Fatalf("WriteDiagnostics: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	var got Diagnostics
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("diagnostics sidecar is not valid JSON: %v", err)
	}
	if got != want {
		t.Fatalf("decoded diagnostics = %+v, want %+v", got, want)
	}
}
