package observability

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestLogger_New(t *testing.T) {
	logger := NewLogger(INFO, nil)
	if logger == nil {
		t.Fatal("Expected logger to be created")
	}

	if logger.level != INFO {
		t.Errorf("Expected log level INFO, got %v", logger.level)
	}
}

func TestLogger_WithFields(t *testing.T) {
	logger := NewLogger(INFO, nil)
	fields := map[string]interface{}{
		"data_id": "toy",
		"k_c":     64,
	}

	newLogger := logger.WithFields(fields)

	if len(newLogger.fields) != 2 {
		t.Errorf("Expected 2 fields, got %d", len(newLogger.fields))
	}
}

func TestLogger_WithField(t *testing.T) {
	logger := NewLogger(INFO, nil)
	newLogger := logger.WithField("stage", "coarse")

	if len(newLogger.fields) != 1 {
		t.Errorf("Expected 1 field, got %d", len(newLogger.fields))
	}

	if newLogger.fields["stage"] != "coarse" {
		t.Errorf("Expected field 'stage' to be 'coarse', got %v", newLogger.fields["stage"])
	}
}

func TestLogger_Info(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(INFO, &buf)

	logger.Info("engine loaded")

	output := buf.String()
	if !strings.Contains(output, "INFO") {
		t.Error("Expected log to contain 'INFO'")
	}
	if !strings.Contains(output, "engine loaded") {
		t.Error("Expected log to contain 'engine loaded'")
	}
}

func TestLogger_Debug(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(DEBUG, &buf)

	logger.Debug("residual computed")

	output := buf.String()
	if !strings.Contains(output, "DEBUG") {
		t.Error("Expected log to contain 'DEBUG'")
	}
	if !strings.Contains(output, "residual computed") {
		t.Error("Expected log to contain 'residual computed'")
	}
}

func TestLogger_DebugFiltered(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(INFO, &buf) // INFO level should filter DEBUG

	logger.Debug("residual computed")

	output := buf.String()
	if output != "" {
		t.Errorf("Expected no output for DEBUG when level is INFO, got: %s", output)
	}
}

func TestLogger_Warn(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(WARN, &buf)

	logger.Warn("coarse cluster collapsed")

	output := buf.String()
	if !strings.Contains(output, "WARN") {
		t.Error("Expected log to contain 'WARN'")
	}
}

func TestLogger_Error(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(ERROR, &buf)

	logger.Error("codebook load failed")

	output := buf.String()
	if !strings.Contains(output, "ERROR") {
		t.Error("Expected log to contain 'ERROR'")
	}
}

func TestLogger_InfoWithFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(INFO, &buf)

	logger.Info("indexed vectors", map[string]interface{}{
		"data_id": "toy",
		"n":       6,
	})

	output := buf.String()
	if !strings.Contains(output, "data_id=toy") {
		t.Error("Expected log to contain 'data_id=toy'")
	}
	if !strings.Contains(output, "n=6") {
		t.Error("Expected log to contain 'n=6'")
	}
}

func TestLogger_Infof(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(INFO, &buf)

	logger.Infof("loaded %d vectors for %s", 6, "toy")

	output := buf.String()
	if !strings.Contains(output, "loaded 6 vectors for toy") {
		t.Error("Expected log to contain formatted message")
	}
}

func TestLogger_Debugf(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(DEBUG, &buf)

	logger.Debugf("probe width %d", 4)

	output := buf.String()
	if !strings.Contains(output, "probe width 4") {
		t.Error("Expected log to contain 'probe width 4'")
	}
}

func TestLogger_LogOperation_Success(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(INFO, &buf)

	err := logger.LogOperation("train_coarse", func() error {
		return nil
	})

	if err != nil {
		t.Errorf("Expected no error, got %v", err)
	}

	output := buf.String()
	if !strings.Contains(output, "Starting operation: train_coarse") {
		t.Error("Expected log to contain 'Starting operation'")
	}
	if !strings.Contains(output, "Operation completed: train_coarse") {
		t.Error("Expected log to contain 'Operation completed'")
	}
}

func TestLogger_LogOperation_Failure(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(INFO, &buf)

	testErr := errors.New("insufficient training data")
	err := logger.LogOperation("train_coarse", func() error {
		return testErr
	})

	if err != testErr {
		t.Errorf("Expected error to be returned, got %v", err)
	}

	output := buf.String()
	if !strings.Contains(output, "Operation failed: train_coarse") {
		t.Error("Expected log to contain 'Operation failed'")
	}
}

func TestLogger_SetLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(INFO, &buf)

	logger.SetLevel(WARN)

	logger.Info("should not appear")
	if buf.String() != "" {
		t.Error("Expected INFO message to be filtered")
	}

	logger.Warn("should appear")
	if !strings.Contains(buf.String(), "should appear") {
		t.Error("Expected WARN message to appear")
	}
}

func TestLogLevel_String(t *testing.T) {
	tests := []struct {
		level    LogLevel
		expected string
	}{
		{DEBUG, "DEBUG"},
		{INFO, "INFO"},
		{WARN, "WARN"},
		{ERROR, "ERROR"},
		{FATAL, "FATAL"},
	}

	for _, tt := range tests {
		if tt.level.String() != tt.expected {
			t.Errorf("Expected %s, got %s", tt.expected, tt.level.String())
		}
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected LogLevel
	}{
		{"DEBUG", DEBUG},
		{"debug", DEBUG},
		{"INFO", INFO},
		{"info", INFO},
		{"WARN", WARN},
		{"warn", WARN},
		{"WARNING", WARN},
		{"ERROR", ERROR},
		{"error", ERROR},
		{"FATAL", FATAL},
		{"fatal", FATAL},
		{"unknown", INFO}, // Default
	}

	for _, tt := range tests {
		result := ParseLogLevel(tt.input)
		if result != tt.expected {
			t.Errorf("ParseLogLevel(%s): expected %v, got %v", tt.input, tt.expected, result)
		}
	}
}

func TestGlobalLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(INFO, &buf)
	SetGlobalLogger(logger)

	Info("engine serving")

	output := buf.String()
	if !strings.Contains(output, "engine serving") {
		t.Error("Expected global logger to log message")
	}
}

func TestAccessLogger_LogAccess(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(INFO, &buf)
	accessLogger := NewAccessLogger(logger)

	accessLogger.LogAccess("GET", "/v1/health", "200", 0, map[string]interface{}{
		"state": "Serving",
	})

	output := buf.String()
	if !strings.Contains(output, "request served") {
		t.Error("Expected log to contain 'request served'")
	}
	if !strings.Contains(output, "method=GET") {
		t.Error("Expected log to contain 'method=GET'")
	}
	if !strings.Contains(output, "state=Serving") {
		t.Error("Expected log to contain 'state=Serving'")
	}
}

// TestAccessLogger_LogSearch exercises the search-specific access log entry:
// it must carry probe width and result count, not just a bare HTTP line.
func TestAccessLogger_LogSearch(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(INFO, &buf)
	accessLogger := NewAccessLogger(logger)

	accessLogger.LogSearch("/v1/search", "200", 0, 5, 4, 3)

	output := buf.String()
	if !strings.Contains(output, "search served") {
		t.Error("Expected log to contain 'search served'")
	}
	if !strings.Contains(output, "top_k=5") {
		t.Error("Expected log to contain 'top_k=5'")
	}
	if !strings.Contains(output, "cells_probed=4") {
		t.Error("Expected log to contain 'cells_probed=4'")
	}
	if !strings.Contains(output, "num_results=3") {
		t.Error("Expected log to contain 'num_results=3'")
	}
}

// TestAccessLogger_LogSearch_Rejected checks the numResults=0, service
// unavailable shape used when the engine rejects a search (e.g. not yet
// Loaded, or a dimension mismatch).
func TestAccessLogger_LogSearch_Rejected(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(INFO, &buf)
	accessLogger := NewAccessLogger(logger)

	accessLogger.LogSearch("/v1/search/batch", "503", 0, 10, 2, 0)

	output := buf.String()
	if !strings.Contains(output, "status=503") {
		t.Error("Expected log to contain 'status=503'")
	}
	if !strings.Contains(output, "num_results=0") {
		t.Error("Expected log to contain 'num_results=0'")
	}
}

// TestLogger_LogTrainingAttempt checks the per-attempt training log folds
// the stage name in as a field rather than through a separate logger type.
func TestLogger_LogTrainingAttempt(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(INFO, &buf)

	logger.LogTrainingAttempt("coarse", 3, 12.5)

	output := buf.String()
	if !strings.Contains(output, "training attempt finished") {
		t.Error("Expected log to contain 'training attempt finished'")
	}
	if !strings.Contains(output, "stage=coarse") {
		t.Error("Expected log to contain 'stage=coarse'")
	}
	if !strings.Contains(output, "attempt=3") {
		t.Error("Expected log to contain 'attempt=3'")
	}
	if !strings.Contains(output, "cost=12.5") {
		t.Error("Expected log to contain 'cost=12.5'")
	}
}

func TestLogger_LogTrainingIteration(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(DEBUG, &buf)

	logger.LogTrainingIteration("pq", 1, 7, 0.5)

	output := buf.String()
	if !strings.Contains(output, "training iteration finished") {
		t.Error("Expected log to contain 'training iteration finished'")
	}
	if !strings.Contains(output, "stage=pq") {
		t.Error("Expected log to contain 'stage=pq'")
	}
	if !strings.Contains(output, "iteration=7") {
		t.Error("Expected log to contain 'iteration=7'")
	}
}

// TestLogger_LogTrainingIteration_FilteredAtInfo checks that the per-Lloyd-
// iteration signal stays at DEBUG: it is too noisy to show at the default
// INFO serving level.
func TestLogger_LogTrainingIteration_FilteredAtInfo(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(INFO, &buf)

	logger.LogTrainingIteration("coarse", 1, 1, 9.9)

	if buf.String() != "" {
		t.Error("Expected training iteration log to be filtered at INFO level")
	}
}

func TestLogger_LogOperationWithFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(INFO, &buf)

	fields := map[string]interface{}{
		"data_id": "toy",
	}

	err := logger.LogOperationWithFields("index", fields, func() error {
		return nil
	})

	if err != nil {
		t.Errorf("Expected no error, got %v", err)
	}

	output := buf.String()
	if !strings.Contains(output, "data_id=toy") {
		t.Error("Expected log to contain data_id field")
	}
}
