package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIngestMetricsRecordBatch(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewIngestMetrics(reg)
	require.NoError(t, err)

	m.RecordBatch(9, 1, 0.2, nil)
	m.RecordBatch(0, 0, 0.1, errors.New("deadlock"))

	assert.InDelta(t, 9, testutil.ToFloat64(m.rowsTotal.WithLabelValues(OutcomeImported)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.rowsTotal.WithLabelValues(OutcomeFailed)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.batchesTotal.WithLabelValues(StatusError)), 0)
}

func TestIngestMetricsResolutionAndFinalization(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewIngestMetrics(reg)
	require.NoError(t, err)

	m.RecordResolution(true)
	m.RecordResolution(true)
	m.RecordResolution(false)
	m.RecordFinalization("completed")
	m.RecordFileDispatch(11, nil)

	assert.InDelta(t, 2, testutil.ToFloat64(m.cacheLookupsTotal.WithLabelValues(ResultHit)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.cacheLookupsTotal.WithLabelValues(ResultMiss)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.finalizationsTotal.WithLabelValues("completed")), 0)
	assert.InDelta(t, 11, testutil.ToFloat64(m.chunksDispatched), 0)
}

func TestDuplicateRegistrationFails(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := NewQueueMetrics(reg)
	require.NoError(t, err)
	_, err = NewQueueMetrics(reg)
	assert.Error(t, err)
}

func TestQueueMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewQueueMetrics(reg)
	require.NoError(t, err)

	m.RecordJob("import_batch", "completed")
	m.RecordRetry("import_batch")
	m.SetQueueDepth(7)

	assert.InDelta(t, 1, testutil.ToFloat64(m.jobsTotal.WithLabelValues("import_batch", "completed")), 0)
	assert.InDelta(t, 7, testutil.ToFloat64(m.queueDepth), 0)
}

func TestMQTTMetricsConnectionGauge(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewMQTTMetrics(reg)
	require.NoError(t, err)

	m.SetConnected(true)
	m.RecordPublish(nil)
	m.RecordPublish(errors.New("not connected"))

	var out dto.Metric
	require.NoError(t, m.ConnectionStatus.Write(&out))
	assert.InDelta(t, 1, out.GetGauge().GetValue(), 0)

	out.Reset()
	require.NoError(t, m.Errors.Write(&out))
	assert.InDelta(t, 1, out.GetCounter().GetValue(), 0)
}
