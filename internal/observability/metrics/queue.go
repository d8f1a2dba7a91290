package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// QueueMetrics tracks job executor activity.
type QueueMetrics struct {
	jobsTotal    *prometheus.CounterVec
	retriesTotal *prometheus.CounterVec
	jobDuration  *prometheus.HistogramVec
	queueDepth   prometheus.Gauge

	collectors []prometheus.Collector
}

// NewQueueMetrics creates and registers the queue collectors.
func NewQueueMetrics(registry *prometheus.Registry) (*QueueMetrics, error) {
	m := &QueueMetrics{}

	m.jobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voterimport_jobs_total",
			Help: "Jobs that reached a terminal state",
		},
		[]string{"task_type", "status"}, // completed, failed, cancelled
	)
	m.retriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voterimport_job_retries_total",
			Help: "Job retry attempts scheduled",
		},
		[]string{"task_type"},
	)
	m.jobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "voterimport_job_duration_seconds",
			Help:    "Duration of a single job attempt",
			Buckets: prometheus.ExponentialBuckets(BucketStart100ms, BucketFactor2, BucketCount10),
		},
		[]string{"task_type"},
	)
	m.queueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "voterimport_queue_depth",
		Help: "Jobs pending or waiting for retry",
	})

	m.collectors = []prometheus.Collector{m.jobsTotal, m.retriesTotal, m.jobDuration, m.queueDepth}

	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

// Describe implements the Collector interface
func (m *QueueMetrics) Describe(ch chan<- *prometheus.Desc) {
	for _, c := range m.collectors {
		c.Describe(ch)
	}
}

// Collect implements the Collector interface
func (m *QueueMetrics) Collect(ch chan<- prometheus.Metric) {
	for _, c := range m.collectors {
		c.Collect(ch)
	}
}

// RecordJob counts a job that reached a terminal status.
func (m *QueueMetrics) RecordJob(taskType, status string) {
	m.jobsTotal.WithLabelValues(taskType, status).Inc()
}

// RecordRetry counts a scheduled retry.
func (m *QueueMetrics) RecordRetry(taskType string) {
	m.retriesTotal.WithLabelValues(taskType).Inc()
}

// RecordJobDuration observes one attempt's duration.
func (m *QueueMetrics) RecordJobDuration(taskType string, seconds float64) {
	m.jobDuration.WithLabelValues(taskType).Observe(seconds)
}

// SetQueueDepth sets the number of jobs not yet terminal.
func (m *QueueMetrics) SetQueueDepth(n int) {
	m.queueDepth.Set(float64(n))
}
