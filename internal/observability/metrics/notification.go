package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// NotificationMetrics covers upload completion notifications.
type NotificationMetrics struct {
	sentTotal    *prometheus.CounterVec
	sendDuration prometheus.Histogram
}

// NewNotificationMetrics creates and registers the notification collectors.
func NewNotificationMetrics(registry *prometheus.Registry) (*NotificationMetrics, error) {
	m := &NotificationMetrics{
		sentTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "voterimport_notifications_total",
				Help: "Completion notifications by status",
			},
			[]string{"status"},
		),
		sendDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "voterimport_notification_send_duration_seconds",
			Help:    "Time spent delivering one notification",
			Buckets: prometheus.ExponentialBuckets(BucketStart10ms, BucketFactor2, BucketCount10),
		}),
	}
	for _, c := range []prometheus.Collector{m.sentTotal, m.sendDuration} {
		if err := registry.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register notification metrics: %w", err)
		}
	}
	return m, nil
}

// RecordSend records one delivery attempt.
func (m *NotificationMetrics) RecordSend(seconds float64, err error) {
	status := StatusSuccess
	if err != nil {
		status = StatusError
	}
	m.sentTotal.WithLabelValues(status).Inc()
	m.sendDuration.Observe(seconds)
}
