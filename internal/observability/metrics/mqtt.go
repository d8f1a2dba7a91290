package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// MQTTMetrics covers the resolver invalidation broadcast client.
type MQTTMetrics struct {
	ConnectionStatus  prometheus.Gauge
	MessagesPublished prometheus.Counter
	MessagesReceived  prometheus.Counter
	Errors            prometheus.Counter
	LastConnectTime   prometheus.Gauge

	collectors []prometheus.Collector
}

// NewMQTTMetrics creates and registers the MQTT collectors.
func NewMQTTMetrics(registry *prometheus.Registry) (*MQTTMetrics, error) {
	m := &MQTTMetrics{
		ConnectionStatus: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "voterimport_mqtt_connection_status",
			Help: "1 when connected to the broker, 0 otherwise",
		}),
		MessagesPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "voterimport_mqtt_messages_published_total",
			Help: "Invalidation messages published",
		}),
		MessagesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "voterimport_mqtt_messages_received_total",
			Help: "Invalidation messages received",
		}),
		Errors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "voterimport_mqtt_errors_total",
			Help: "MQTT connect and publish errors",
		}),
		LastConnectTime: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "voterimport_mqtt_last_connect_timestamp_seconds",
			Help: "Unix time of the last successful connection",
		}),
	}
	m.collectors = []prometheus.Collector{
		m.ConnectionStatus, m.MessagesPublished, m.MessagesReceived, m.Errors, m.LastConnectTime,
	}

	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register MQTT metrics: %w", err)
	}
	return m, nil
}

// Describe implements the Collector interface
func (m *MQTTMetrics) Describe(ch chan<- *prometheus.Desc) {
	for _, c := range m.collectors {
		c.Describe(ch)
	}
}

// Collect implements the Collector interface
func (m *MQTTMetrics) Collect(ch chan<- prometheus.Metric) {
	for _, c := range m.collectors {
		c.Collect(ch)
	}
}

// SetConnected updates the connection gauge.
func (m *MQTTMetrics) SetConnected(connected bool) {
	if connected {
		m.ConnectionStatus.Set(1)
		m.LastConnectTime.Set(float64(time.Now().Unix()))
		return
	}
	m.ConnectionStatus.Set(0)
}

// RecordPublish counts a publish attempt.
func (m *MQTTMetrics) RecordPublish(err error) {
	if err != nil {
		m.Errors.Inc()
		return
	}
	m.MessagesPublished.Inc()
}

// RecordReceived counts a received invalidation.
func (m *MQTTMetrics) RecordReceived() {
	m.MessagesReceived.Inc()
}
