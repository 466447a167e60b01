// Package httpserve implements the optional query-serving HTTP mode (A6):
// a long-lived process exposing the query engine's search/search_batch
// over HTTP, rate-limited and metrics-instrumented, one process one
// in-memory index, no distribution across machines.
package httpserve

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vladindex/ivfadc/internal/queryengine"
	"github.com/vladindex/ivfadc/pkg/config"
	"github.com/vladindex/ivfadc/pkg/observability"
)

// Server serves search requests against one loaded Engine.
type Server struct {
	cfg        config.ServeConfig
	engine     *queryengine.Engine
	logger     *observability.Logger
	access     *observability.AccessLogger
	metrics    *observability.Metrics
	limiter    *RateLimiter
	httpServer *http.Server
	mux        *http.ServeMux
}

// NewServer builds a Server wired to engine (already Loaded). The caller
// is responsible for calling engine.Serve() before or after NewServer;
// Search requests against an engine that was never Loaded fail with the
// same ConfigError the engine itself would return.
func NewServer(cfg config.ServeConfig, engine *queryengine.Engine, logger *observability.Logger, metrics *observability.Metrics) *Server {
	s := &Server{
		cfg:     cfg,
		engine:  engine,
		logger:  logger,
		access:  observability.NewAccessLogger(logger),
		metrics: metrics,
		limiter: NewRateLimiter(cfg.RatePerSec, cfg.RateBurst),
		mux:     http.NewServeMux(),
	}
	s.setupRoutes()
	s.httpServer = &http.Server{
		Addr:         cfg.ServeAddr,
		Handler:      s.withMiddleware(s.mux),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Handler returns the fully wrapped HTTP handler (routes plus rate
// limiting and access logging), for tests and for embedding this server
// inside another process's mux.
func (s *Server) Handler() http.Handler {
	return s.withMiddleware(s.mux)
}

func (s *Server) setupRoutes() {
	s.mux.HandleFunc("/v1/health", s.handleHealth)
	s.mux.HandleFunc("/v1/search", s.handleSearch)
	s.mux.HandleFunc("/v1/search/batch", s.handleSearchBatch)
	s.mux.Handle("/metrics", promhttp.Handler())
}

// searchRequest is the body of POST /v1/search.
type searchRequest struct {
	Query []float32 `json:"query"`
	TopK  int       `json:"top_k"`
	W     int       `json:"w"`
}

// batchSearchRequest is the body of POST /v1/search/batch.
type batchSearchRequest struct {
	Queries [][]float32 `json:"queries"`
	TopK    int         `json:"top_k"`
	W       int         `json:"w"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]interface{}{
		"state": s.engine.State().String(),
	}, http.StatusOK)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.metrics.RecordQueryError("bad_request")
		writeError(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return
	}

	start := time.Now()
	matches, err := s.engine.Search(req.Query, req.TopK, req.W)
	duration := time.Since(start)
	if err != nil {
		s.metrics.RecordQueryError("search_failed")
		s.access.LogSearch(r.URL.Path, fmt.Sprintf("%d", http.StatusServiceUnavailable), duration, req.TopK, req.W, 0)
		writeError(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	s.metrics.RecordQuery(duration, req.W, len(matches))
	s.access.LogSearch(r.URL.Path, fmt.Sprintf("%d", http.StatusOK), duration, req.TopK, req.W, len(matches))
	writeJSON(w, map[string]interface{}{"matches": matches}, http.StatusOK)
}

func (s *Server) handleSearchBatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req batchSearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.metrics.RecordQueryError("bad_request")
		writeError(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return
	}

	start := time.Now()
	results, errs := s.engine.SearchBatch(req.Queries, req.TopK, req.W, len(req.Queries))
	duration := time.Since(start)
	for _, err := range errs {
		if err != nil {
			s.metrics.RecordQueryError("search_failed")
			s.access.LogSearch(r.URL.Path, fmt.Sprintf("%d", http.StatusServiceUnavailable), duration, req.TopK, req.W, 0)
			writeError(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
	}
	s.metrics.RecordQuery(duration, req.W, len(results))
	s.access.LogSearch(r.URL.Path, fmt.Sprintf("%d", http.StatusOK), duration, req.TopK, req.W, len(results))
	writeJSON(w, map[string]interface{}{"results": results}, http.StatusOK)
}

// withMiddleware chains logging then rate limiting around the mux, the
// same order the REST API server uses minus the authentication layer this
// single-tenant, read-only service has no use for.
func (s *Server) withMiddleware(handler http.Handler) http.Handler {
	handler = RateLimitMiddleware(s.limiter)(handler)
	handler = s.loggingMiddleware(handler)
	return handler
}

// loggingMiddleware logs a plain request entry for every route except the
// search endpoints, which log their own richer entry (via LogSearch) once
// the handler knows the probe width and result count.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start)
		status := fmt.Sprintf("%d", wrapped.status)

		if r.URL.Path != "/v1/search" && r.URL.Path != "/v1/search/batch" {
			s.access.LogAccess(r.Method, r.URL.Path, status, duration, nil)
		}
		s.metrics.RecordRequest(r.URL.Path, status, duration)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// ListenAndServe starts serving until the context is canceled, then
// gracefully shuts down.
func (s *Server) ListenAndServe(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("serving", map[string]interface{}{"addr": s.cfg.ServeAddr})
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func writeJSON(w http.ResponseWriter, data interface{}, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, map[string]interface{}{"error": message, "status": status}, status)
}
