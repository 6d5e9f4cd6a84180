package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngineMetrics(t *testing.T) *EngineMetrics {
	t.Helper()
	m, err := NewEngineMetrics(prometheus.NewRegistry())
	require.NoError(t, err)
	return m
}

func TestNewEngineMetricsDuplicateRegistration(t *testing.T) {
	t.Parallel()

	registry := prometheus.NewRegistry()
	_, err := NewEngineMetrics(registry)
	require.NoError(t, err)

	_, err = NewEngineMetrics(registry)
	assert.Error(t, err, "registering the same collectors twice must fail")
}

func TestEngineGauges(t *testing.T) {
	t.Parallel()
	m := newTestEngineMetrics(t)

	m.UpdateActiveStreams(3)
	m.UpdateGlobalLatency(512)
	assert.InDelta(t, 3.0, testutil.ToFloat64(m.activeStreams), 0)
	assert.InDelta(t, 512.0, testutil.ToFloat64(m.globalLatency), 0)

	m.UpdateActiveStreams(0)
	m.UpdateGlobalLatency(0)
	assert.InDelta(t, 0.0, testutil.ToFloat64(m.activeStreams), 0)
	assert.InDelta(t, 0.0, testutil.ToFloat64(m.globalLatency), 0)
}

func TestRecordStreamOperations(t *testing.T) {
	t.Parallel()
	m := newTestEngineMetrics(t)

	testCases := []struct {
		operation string
		status    string
		times     int
	}{
		{OpStreamInit, StatusSuccess, 2},
		{OpStreamStart, StatusSuccess, 1},
		{OpStreamStart, StatusError, 3},
		{OpStreamDestroy, StatusSuccess, 1},
	}

	for _, tc := range testCases {
		for range tc.times {
			m.RecordOperation(tc.operation, tc.status)
		}
	}

	for _, tc := range testCases {
		t.Run(tc.operation+"_"+tc.status, func(t *testing.T) {
			got := testutil.ToFloat64(m.streamOperations.WithLabelValues(tc.operation, tc.status))
			assert.InDelta(t, float64(tc.times), got, 0)
		})
	}
}

func TestRecordBufferSizeNegotiation(t *testing.T) {
	t.Parallel()
	m := newTestEngineMetrics(t)

	m.RecordBufferSizeNegotiation("output", StatusSuccess, 1)
	m.RecordBufferSizeNegotiation("output", StatusTimeout, 30)
	m.RecordBufferSizeNegotiation("input", StatusSkipped, 0)

	assert.InDelta(t, 1.0, testutil.ToFloat64(m.bufferSizeNegotiation.WithLabelValues("output", StatusTimeout)), 0)
	assert.InDelta(t, 1.0, testutil.ToFloat64(m.bufferSizeNegotiation.WithLabelValues("input", StatusSkipped)), 0)

	// skipped negotiations never waited, so they add no poll samples
	assert.Equal(t, 1, testutil.CollectAndCount(m.bufferSizePolls, "duplexaudio_buffer_size_polls"))
}

// histogramOf reads the current state of a single histogram series
func histogramOf(t *testing.T, obs prometheus.Observer) *dto.Histogram {
	t.Helper()
	metric, ok := obs.(prometheus.Metric)
	require.True(t, ok, "observer is not a metric")
	var out dto.Metric
	require.NoError(t, metric.Write(&out))
	require.NotNil(t, out.GetHistogram())
	return out.GetHistogram()
}

func TestBufferSizePollHistogram(t *testing.T) {
	t.Parallel()
	m := newTestEngineMetrics(t)

	m.RecordBufferSizeNegotiation("output", StatusSuccess, 1)
	m.RecordBufferSizeNegotiation("output", StatusTimeout, 30)

	h := histogramOf(t, m.bufferSizePolls.WithLabelValues("output"))
	assert.Equal(t, uint64(2), h.GetSampleCount())
	assert.InDelta(t, 31.0, h.GetSampleSum(), 0)
}

func TestDeviceSwitchHistogram(t *testing.T) {
	t.Parallel()
	m := newTestEngineMetrics(t)

	m.RecordDeviceSwitch("default_output", StatusSuccess, 0.004)
	m.RecordDeviceSwitch("device_dead", StatusError, 0.25)

	h := histogramOf(t, m.deviceSwitchDuration)
	assert.Equal(t, uint64(2), h.GetSampleCount())
	assert.InDelta(t, 0.254, h.GetSampleSum(), 1e-9)
	assert.InDelta(t, 1.0, testutil.ToFloat64(m.deviceSwitches.WithLabelValues("device_dead", StatusError)), 0)
}

func TestRecordDataPathCounters(t *testing.T) {
	t.Parallel()
	m := newTestEngineMetrics(t)

	m.RecordSilencePadding(279)
	m.RecordSilencePadding(21)
	m.RecordCaptureOverflow(2)
	m.RecordCallbackError(CallbackErrorRender)
	m.RecordError(OpDeviceSwitch, "device_unavailable")
	m.RecordStateTransition("drained")
	m.RecordDeviceSwitch("default_output_device", StatusSuccess, 0.02)

	assert.InDelta(t, 300.0, testutil.ToFloat64(m.silenceFrames), 0)
	assert.InDelta(t, 2.0, testutil.ToFloat64(m.captureOverflows), 0)
	assert.InDelta(t, 1.0, testutil.ToFloat64(m.callbackErrors.WithLabelValues(CallbackErrorRender)), 0)
	assert.InDelta(t, 1.0, testutil.ToFloat64(m.operationErrors.WithLabelValues(OpDeviceSwitch, "device_unavailable")), 0)
	assert.InDelta(t, 1.0, testutil.ToFloat64(m.stateTransitions.WithLabelValues("drained")), 0)
	assert.InDelta(t, 1.0, testutil.ToFloat64(m.deviceSwitches.WithLabelValues("default_output_device", StatusSuccess)), 0)
}
