package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// IngestMetrics tracks rows, batches, resolver cache activity and ledger
// finalizations.
type IngestMetrics struct {
	rowsTotal          *prometheus.CounterVec
	batchesTotal       *prometheus.CounterVec
	batchDuration      *prometheus.HistogramVec
	unresolvedTotal    prometheus.Counter
	cacheLoadsTotal    *prometheus.CounterVec
	cacheLookupsTotal  *prometheus.CounterVec
	filesTotal         *prometheus.CounterVec
	chunksDispatched   prometheus.Counter
	finalizationsTotal *prometheus.CounterVec
	operationsTotal    *prometheus.CounterVec
	errorsTotal        *prometheus.CounterVec

	collectors []prometheus.Collector
}

// NewIngestMetrics creates and registers the ingest collectors.
func NewIngestMetrics(registry *prometheus.Registry) (*IngestMetrics, error) {
	m := &IngestMetrics{}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *IngestMetrics) initMetrics() {
	m.rowsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voterimport_rows_total",
			Help: "Rows processed by outcome",
		},
		[]string{"outcome"}, // imported, failed
	)

	m.batchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voterimport_batches_total",
			Help: "Batches processed by status",
		},
		[]string{"status"},
	)

	m.batchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "voterimport_batch_duration_seconds",
			Help:    "Time taken to process one batch",
			Buckets: prometheus.ExponentialBuckets(BucketStart10ms, BucketFactor2, BucketCount12),
		},
		[]string{"status"},
	)

	m.unresolvedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "voterimport_unresolved_surnames_total",
		Help: "Distinct unresolved surnames reported per batch",
	})

	m.cacheLoadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voterimport_resolver_cache_loads_total",
			Help: "Full reloads of the surname mapping snapshot",
		},
		[]string{"status"},
	)

	m.cacheLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voterimport_resolver_lookups_total",
			Help: "Surname resolutions by result",
		},
		[]string{"result"}, // hit, miss
	)

	m.filesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voterimport_files_total",
			Help: "Files read and dispatched by status",
		},
		[]string{"status"},
	)

	m.chunksDispatched = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "voterimport_chunks_dispatched_total",
		Help: "import_batch jobs dispatched",
	})

	m.finalizationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voterimport_ledger_finalizations_total",
			Help: "Upload ledger entries finalized by terminal status",
		},
		[]string{"status"},
	)

	m.operationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voterimport_operations_total",
			Help: "Generic operations by status",
		},
		[]string{"operation", "status"},
	)

	m.errorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voterimport_errors_total",
			Help: "Errors by operation and category",
		},
		[]string{"operation", "error_type"},
	)

	m.collectors = []prometheus.Collector{
		m.rowsTotal,
		m.batchesTotal,
		m.batchDuration,
		m.unresolvedTotal,
		m.cacheLoadsTotal,
		m.cacheLookupsTotal,
		m.filesTotal,
		m.chunksDispatched,
		m.finalizationsTotal,
		m.operationsTotal,
		m.errorsTotal,
	}
}

// Describe implements the Collector interface
func (m *IngestMetrics) Describe(ch chan<- *prometheus.Desc) {
	for _, collector := range m.collectors {
		collector.Describe(ch)
	}
}

// Collect implements the Collector interface
func (m *IngestMetrics) Collect(ch chan<- prometheus.Metric) {
	for _, collector := range m.collectors {
		collector.Collect(ch)
	}
}

// RecordBatch records one processed batch.
func (m *IngestMetrics) RecordBatch(imported, failed int, seconds float64, err error) {
	status := StatusSuccess
	if err != nil {
		status = StatusError
	}
	m.batchesTotal.WithLabelValues(status).Inc()
	m.batchDuration.WithLabelValues(status).Observe(seconds)
	m.rowsTotal.WithLabelValues(OutcomeImported).Add(float64(imported))
	m.rowsTotal.WithLabelValues(OutcomeFailed).Add(float64(failed))
}

// RecordUnresolved adds n unresolved surnames.
func (m *IngestMetrics) RecordUnresolved(n int) {
	m.unresolvedTotal.Add(float64(n))
}

// RecordCacheLoad records a resolver snapshot reload.
func (m *IngestMetrics) RecordCacheLoad(err error) {
	if err != nil {
		m.cacheLoadsTotal.WithLabelValues(StatusError).Inc()
		return
	}
	m.cacheLoadsTotal.WithLabelValues(StatusSuccess).Inc()
}

// RecordResolution records a surname lookup result.
func (m *IngestMetrics) RecordResolution(hit bool) {
	if hit {
		m.cacheLookupsTotal.WithLabelValues(ResultHit).Inc()
		return
	}
	m.cacheLookupsTotal.WithLabelValues(ResultMiss).Inc()
}

// RecordFileDispatch records a file read and fanned out into chunks.
func (m *IngestMetrics) RecordFileDispatch(chunks int, err error) {
	if err != nil {
		m.filesTotal.WithLabelValues(StatusError).Inc()
		return
	}
	m.filesTotal.WithLabelValues(StatusSuccess).Inc()
	m.chunksDispatched.Add(float64(chunks))
}

// RecordFinalization records a ledger entry reaching a terminal status.
func (m *IngestMetrics) RecordFinalization(status string) {
	m.finalizationsTotal.WithLabelValues(status).Inc()
}

// RecordOperation implements Recorder.
func (m *IngestMetrics) RecordOperation(operation, status string) {
	m.operationsTotal.WithLabelValues(operation, status).Inc()
}

// RecordDuration implements Recorder. Only batch durations are histogrammed.
func (m *IngestMetrics) RecordDuration(operation string, seconds float64) {
	if operation == OpBatch {
		m.batchDuration.WithLabelValues(StatusSuccess).Observe(seconds)
	}
}

// RecordError implements Recorder.
func (m *IngestMetrics) RecordError(operation, errorType string) {
	m.errorsTotal.WithLabelValues(operation, errorType).Inc()
}

var _ Recorder = (*IngestMetrics)(nil)
