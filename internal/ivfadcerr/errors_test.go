package ivfadcerr

import (
	"errors"
	"io"
	"testing"
)

func TestConfigErrorUnwrap(t *testing.T) {
	err := &ConfigError{Key: "nsq", Reason: "not an integer: abc", Err: io.ErrUnexpectedEOF}
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("errors.Is did not find wrapped sentinel")
	}
	if errors.Unwrap(err) != io.ErrUnexpectedEOF {
		t.Fatalf("Unwrap = %v, want io.ErrUnexpectedEOF", errors.Unwrap(err))
	}
}

func TestFormatErrorUnwrap(t *testing.T) {
	err := &FormatError{Path: "x.codebook", Reason: "decoding failed", Err: io.EOF}
	if !errors.Is(err, io.EOF) {
		t.Fatalf("errors.Is did not find wrapped sentinel")
	}
}

func TestShapeErrorUnwrap(t *testing.T) {
	err := &ShapeError{Reason: "query dimension mismatch", Err: io.ErrClosedPipe}
	if !errors.Is(err, io.ErrClosedPipe) {
		t.Fatalf("errors.Is did not find wrapped sentinel")
	}
}

func TestTrainingErrorUnwrap(t *testing.T) {
	err := &TrainingError{Kind: InsufficientData, Detail: "pq: N < Ks", Err: io.EOF}
	if !errors.Is(err, io.EOF) {
		t.Fatalf("errors.Is did not find wrapped sentinel")
	}
	if err.Error() == "" {
		t.Fatalf("Error() must not be empty")
	}
}

func TestIoErrorUnwrap(t *testing.T) {
	err := &IoError{Path: "x.codebook", Err: io.EOF}
	if !errors.Is(err, io.EOF) {
		t.Fatalf("errors.Is did not find wrapped sentinel")
	}
}

func TestErrorsWithNilUnderlyingStillFormat(t *testing.T) {
	cases := []error{
		&ConfigError{Key: "dim", Reason: "missing required option"},
		&FormatError{Path: "x", Reason: "bad header"},
		&ShapeError{Reason: "N < K"},
		&TrainingError{Kind: NonFinite},
	}
	for _, err := range cases {
		if err.Error() == "" {
			t.Fatalf("%T: Error() must not be empty with nil Err", err)
		}
		if errors.Unwrap(err) != nil {
			t.Fatalf("%T: Unwrap() should be nil when Err is unset", err)
		}
	}
}
