package httpserve

import (
	"bytes"
	"encoding/json"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/vladindex/ivfadc/internal/coarse"
	"github.com/vladindex/ivfadc/internal/descio"
	"github.com/vladindex/ivfadc/internal/indexer"
	"github.com/vladindex/ivfadc/internal/pq"
	"github.com/vladindex/ivfadc/internal/queryengine"
	"github.com/vladindex/ivfadc/internal/store"
	"github.com/vladindex/ivfadc/pkg/config"
	"github.com/vladindex/ivfadc/pkg/observability"
)

func buildLoadedEngine(t *testing.T) *queryengine.Engine {
	t.Helper()
	dir := t.TempDir()
	indexDir := filepath.Join(dir, "ref")
	if err := os.MkdirAll(indexDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	vectors := [][]float32{{1, 0, 0, 0}, {0, 0, 1, 0}}
	for i, v := range vectors {
		if err := descio.WriteVector(filepath.Join(indexDir, "img_"+string(rune('0'+i))+".vec"), v); err != nil {
			t.Fatalf("WriteVector: %v", err)
		}
	}

	centroids := [][]float32{{1, 0, 0, 0}, {0, 0, 1, 0}}
	cq := coarse.New(centroids)
	book, err := pq.New(4, 2, 1)
	if err != nil {
		t.Fatalf("pq.New: %v", err)
	}
	residuals := [][]float32{{0, 0, 0, 0}, {0, 0, 0, 0}}
	if err := book.Train(residuals, pq.TrainConfig{Iters: 1, Attempts: 1, Threads: 1, Rng: rand.New(rand.NewSource(1))}); err != nil {
		t.Fatalf("book.Train: %v", err)
	}

	layout := store.NewLayout(dir, "toy")
	if err := store.WriteCodebook(layout.Coarse(), centroids); err != nil {
		t.Fatalf("WriteCodebook: %v", err)
	}
	for i, sub := range book.SubCodebooks() {
		if err := store.WriteCodebook(layout.PQSub(i), sub); err != nil {
			t.Fatalf("WriteCodebook sub: %v", err)
		}
	}

	cfg := config.IndexConfig{DataID: "toy", Threads: 1, IndexDesc: indexDir, Dim: 4}
	if _, err := indexer.Run(cfg, layout, cq, book, indexer.Hooks{}); err != nil {
		t.Fatalf("indexer.Run: %v", err)
	}

	e := queryengine.New()
	if err := e.Load(layout, 2, 1); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := e.Serve(); err != nil {
		t.Fatalf("Serve: %v", err)
	}
	return e
}

func testServer(t *testing.T) *Server {
	t.Helper()
	engine := buildLoadedEngine(t)
	cfg := config.ServeConfig{DataID: "toy", Dim: 4, ServeAddr: "127.0.0.1:0", RatePerSec: 1000, RateBurst: 1000}
	logger := observability.NewLogger(observability.ERROR, bytes.NewBuffer(nil))
	metrics := observability.NewMetrics()
	return NewServer(cfg, engine, logger, metrics)
}

func TestHandleHealth(t *testing.T) {
	s := testServer(t)
	req := httptest.NewRequest(http.MethodGet, "/v1/health", nil)
	w := httptest.NewRecorder()
	s.mux.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["state"] != "Serving" {
		t.Fatalf("state = %v, want Serving", body["state"])
	}
}

func TestHandleSearch(t *testing.T) {
	s := testServer(t)
	reqBody, _ := json.Marshal(searchRequest{Query: []float32{1, 0, 0, 0}, TopK: 1, W: 1})
	req := httptest.NewRequest(http.MethodPost, "/v1/search", bytes.NewReader(reqBody))
	w := httptest.NewRecorder()
	s.mux.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", w.Code, w.Body.String())
	}
}

func TestHandleSearchRejectsGET(t *testing.T) {
	s := testServer(t)
	req := httptest.NewRequest(http.MethodGet, "/v1/search", nil)
	w := httptest.NewRecorder()
	s.mux.ServeHTTP(w, req)

	if w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", w.Code)
	}
}

func TestHandleSearchBatch(t *testing.T) {
	s := testServer(t)
	reqBody, _ := json.Marshal(batchSearchRequest{Queries: [][]float32{{1, 0, 0, 0}, {0, 0, 1, 0}}, TopK: 1, W: 1})
	req := httptest.NewRequest(http.MethodPost, "/v1/search/batch", bytes.NewReader(reqBody))
	w := httptest.NewRecorder()
	s.mux.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", w.Code, w.Body.String())
	}
}

func TestRateLimitMiddlewareBlocksAfterBurst(t *testing.T) {
	rl := NewRateLimiter(0.001, 1)
	handler := RateLimitMiddleware(rl)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/health", nil)
	req.RemoteAddr = "10.0.0.1:1234"

	w1 := httptest.NewRecorder()
	handler.ServeHTTP(w1, req)
	if w1.Code != http.StatusOK {
		t.Fatalf("first request status = %d, want 200", w1.Code)
	}

	w2 := httptest.NewRecorder()
	handler.ServeHTTP(w2, req)
	if w2.Code != http.StatusTooManyRequests {
		t.Fatalf("second request status = %d, want 429", w2.Code)
	}
}
