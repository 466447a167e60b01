package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the IVFADC pipeline: training,
// indexing and query-serving.
type Metrics struct {
	// Training metrics
	TrainingAttempts    *prometheus.CounterVec
	TrainingIterations  *prometheus.CounterVec
	TrainingCost        *prometheus.GaugeVec
	TrainingDuration    *prometheus.HistogramVec
	TrainingVectorCount *prometheus.GaugeVec

	// Indexing metrics
	VectorsIndexed   prometheus.Counter
	IndexingDuration prometheus.Histogram
	PostingListSize  *prometheus.GaugeVec
	CellPopulation   prometheus.Histogram

	// Query-serving metrics
	QueriesServed    prometheus.Counter
	QueryLatency     prometheus.Histogram
	CellsProbed      prometheus.Histogram
	QueryResultSize  prometheus.Histogram
	QueryErrorsTotal *prometheus.CounterVec

	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
}

var (
	metricsOnce    sync.Once
	processMetrics *Metrics
)

// NewMetrics returns the process-wide metrics set, creating and registering
// it with the default Prometheus registry on the first call; later calls
// return the same instance.
func NewMetrics() *Metrics {
	metricsOnce.Do(func() { processMetrics = newMetrics() })
	return processMetrics
}

func newMetrics() *Metrics {
	m := &Metrics{
		TrainingAttempts: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ivfadc_training_attempts_total",
				Help: "Total number of k-means attempts run, by stage",
			},
			[]string{"stage"},
		),
		TrainingIterations: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ivfadc_training_iterations_total",
				Help: "Total number of Lloyd iterations run, by stage",
			},
			[]string{"stage"},
		),
		TrainingCost: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "ivfadc_training_cost",
				Help: "Final k-means cost (sum of squared distances to assigned centroid), by stage",
			},
			[]string{"stage"},
		),
		TrainingDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ivfadc_training_duration_seconds",
				Help:    "Wall-clock duration of a training stage",
				Buckets: []float64{.1, .5, 1, 5, 10, 30, 60, 300, 600},
			},
			[]string{"stage"},
		),
		TrainingVectorCount: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "ivfadc_training_vectors",
				Help: "Number of vectors fed into a training stage",
			},
			[]string{"stage"},
		),

		VectorsIndexed: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "ivfadc_vectors_indexed_total",
				Help: "Total number of descriptor vectors assigned a cell and PQ code",
			},
		),
		IndexingDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "ivfadc_indexing_duration_seconds",
				Help:    "Wall-clock duration of the two-pass indexing run",
				Buckets: []float64{.1, .5, 1, 5, 10, 30, 60, 300, 600},
			},
		),
		PostingListSize: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "ivfadc_posting_list_size",
				Help: "Number of entries in a coarse cell's posting list",
			},
			[]string{"cell"},
		),
		CellPopulation: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "ivfadc_cell_population",
				Help:    "Distribution of posting-list sizes across coarse cells",
				Buckets: []float64{0, 1, 2, 5, 10, 25, 50, 100, 500, 1000},
			},
		),

		QueriesServed: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "ivfadc_queries_served_total",
				Help: "Total number of search queries served",
			},
		),
		QueryLatency: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "ivfadc_query_latency_seconds",
				Help:    "End-to-end search latency",
				Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
			},
		),
		CellsProbed: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "ivfadc_cells_probed",
				Help:    "Number of coarse cells probed per query",
				Buckets: []float64{1, 2, 4, 8, 16, 32, 64},
			},
		),
		QueryResultSize: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "ivfadc_query_result_size",
				Help:    "Number of results returned per query",
				Buckets: []float64{0, 1, 5, 10, 20, 50, 100},
			},
		),
		QueryErrorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ivfadc_query_errors_total",
				Help: "Total number of failed queries by reason",
			},
			[]string{"reason"},
		),

		RequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ivfadc_http_requests_total",
				Help: "Total number of HTTP requests by route and status",
			},
			[]string{"route", "status"},
		),
		RequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ivfadc_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds by route",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
			},
			[]string{"route"},
		),
	}

	return m
}

// RecordAttempt records one k-means attempt's final cost for a stage
// ("coarse" or "pq-sub-<i>").
func (m *Metrics) RecordAttempt(stage string, cost float32) {
	m.TrainingAttempts.WithLabelValues(stage).Inc()
	m.TrainingCost.WithLabelValues(stage).Set(float64(cost))
}

// RecordIteration records one Lloyd iteration for a stage.
func (m *Metrics) RecordIteration(stage string) {
	m.TrainingIterations.WithLabelValues(stage).Inc()
}

// RecordTrainingRun records the duration and input size of a training stage.
func (m *Metrics) RecordTrainingRun(stage string, duration time.Duration, numVectors int) {
	m.TrainingDuration.WithLabelValues(stage).Observe(duration.Seconds())
	m.TrainingVectorCount.WithLabelValues(stage).Set(float64(numVectors))
}

// RecordIndexing records the result of a full indexing run, including the
// per-cell posting list sizes.
func (m *Metrics) RecordIndexing(duration time.Duration, numVectors int, cellSizes []int) {
	m.IndexingDuration.Observe(duration.Seconds())
	m.VectorsIndexed.Add(float64(numVectors))
	for cell, size := range cellSizes {
		m.PostingListSize.WithLabelValues(strconv.Itoa(cell)).Set(float64(size))
		m.CellPopulation.Observe(float64(size))
	}
}

// RecordQuery records one served search query.
func (m *Metrics) RecordQuery(duration time.Duration, cellsProbed, resultSize int) {
	m.QueriesServed.Inc()
	m.QueryLatency.Observe(duration.Seconds())
	m.CellsProbed.Observe(float64(cellsProbed))
	m.QueryResultSize.Observe(float64(resultSize))
}

// RecordQueryError records a failed query by reason (e.g. "not_loaded",
// "bad_request").
func (m *Metrics) RecordQueryError(reason string) {
	m.QueryErrorsTotal.WithLabelValues(reason).Inc()
}

// RecordRequest records an HTTP request with duration and status.
func (m *Metrics) RecordRequest(route, status string, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(route, status).Inc()
	m.RequestDuration.WithLabelValues(route).Observe(duration.Seconds())
}
