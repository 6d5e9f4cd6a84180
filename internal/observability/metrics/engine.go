package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/tphakala/duplexaudio/internal/logger"
)

// EngineMetrics contains Prometheus metrics for the duplex audio engine.
// Nothing here is updated per audio tick; real-time paths only touch counters
// that the engine batches into RecordSilencePadding and RecordCaptureOverflow.
type EngineMetrics struct {
	registry *prometheus.Registry

	// Stream metrics
	activeStreams     prometheus.Gauge
	streamOperations  *prometheus.CounterVec
	stateTransitions  *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	operationErrors   *prometheus.CounterVec
	globalLatency     prometheus.Gauge

	// Device metrics
	deviceSwitches        *prometheus.CounterVec
	deviceSwitchDuration  prometheus.Histogram
	bufferSizeNegotiation *prometheus.CounterVec
	bufferSizePolls       *prometheus.HistogramVec

	// Data path metrics
	silenceFrames    prometheus.Counter
	captureOverflows prometheus.Counter
	callbackErrors   *prometheus.CounterVec

	// collectors is a slice of all collectors for easier iteration
	collectors []prometheus.Collector
}

// NewEngineMetrics creates and registers new engine metrics
func NewEngineMetrics(registry *prometheus.Registry) (*EngineMetrics, error) {
	m := &EngineMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

// initMetrics initializes all Prometheus metrics
func (m *EngineMetrics) initMetrics() {
	m.activeStreams = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "duplexaudio_active_streams",
		Help: "Number of streams holding hardware units",
	})

	m.streamOperations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "duplexaudio_stream_operations_total",
			Help: "Total number of stream control operations",
		},
		[]string{"operation", "status"},
	)

	m.stateTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "duplexaudio_state_notifications_total",
			Help: "Total number of state notifications delivered to applications",
		},
		[]string{"state"},
	)

	m.operationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "duplexaudio_operation_duration_seconds",
			Help:    "Duration of engine control operations",
			Buckets: prometheus.ExponentialBuckets(BucketStart1ms, BucketFactor2, BucketCount12),
		},
		[]string{"operation"},
	)

	m.operationErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "duplexaudio_operation_errors_total",
			Help: "Total number of engine operation errors",
		},
		[]string{"operation", "error_type"},
	)

	m.globalLatency = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "duplexaudio_global_latency_frames",
		Help: "Latency in frames shared by all active streams, 0 when none are active",
	})

	m.deviceSwitches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "duplexaudio_device_switches_total",
			Help: "Total number of device switch sequences",
		},
		[]string{"reason", "status"},
	)

	m.deviceSwitchDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "duplexaudio_device_switch_duration_seconds",
		Help:    "Time taken to rebuild a stream after a device change",
		Buckets: prometheus.ExponentialBuckets(BucketStart1ms, BucketFactor2, BucketCount12),
	})

	m.bufferSizeNegotiation = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "duplexaudio_buffer_size_negotiations_total",
			Help: "Total number of hardware buffer size negotiations",
		},
		[]string{"direction", "status"},
	)

	m.bufferSizePolls = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "duplexaudio_buffer_size_polls",
			Help:    "Number of polls spent waiting for a buffer size acknowledgement",
			Buckets: prometheus.LinearBuckets(0, BucketPollWidth, BucketPollCount),
		},
		[]string{"direction"},
	)

	m.silenceFrames = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "duplexaudio_silence_frames_inserted_total",
		Help: "Total number of silent input frames inserted to keep the resampler fed",
	})

	m.captureOverflows = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "duplexaudio_capture_overflows_total",
		Help: "Total number of capture blocks dropped because the capture buffer was full",
	})

	m.callbackErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "duplexaudio_callback_errors_total",
			Help: "Total number of data callbacks that reported an error",
		},
		[]string{"path"},
	)

	m.collectors = []prometheus.Collector{
		m.activeStreams,
		m.streamOperations,
		m.stateTransitions,
		m.operationDuration,
		m.operationErrors,
		m.globalLatency,
		m.deviceSwitches,
		m.deviceSwitchDuration,
		m.bufferSizeNegotiation,
		m.bufferSizePolls,
		m.silenceFrames,
		m.captureOverflows,
		m.callbackErrors,
	}
}

// Describe implements the prometheus.Collector interface
func (m *EngineMetrics) Describe(ch chan<- *prometheus.Desc) {
	for _, collector := range m.collectors {
		collector.Describe(ch)
	}
}

// Collect implements the prometheus.Collector interface
func (m *EngineMetrics) Collect(ch chan<- prometheus.Metric) {
	for _, collector := range m.collectors {
		collector.Collect(ch)
	}
}

// UpdateActiveStreams sets the number of active streams
func (m *EngineMetrics) UpdateActiveStreams(count int) {
	m.activeStreams.Set(float64(count))
}

// UpdateGlobalLatency sets the shared latency in frames
func (m *EngineMetrics) UpdateGlobalLatency(frames uint32) {
	m.globalLatency.Set(float64(frames))
}

// RecordStreamOperation records a stream control operation
func (m *EngineMetrics) RecordStreamOperation(operation, status string) {
	m.streamOperations.WithLabelValues(operation, status).Inc()
}

// RecordStateTransition records a state notification delivered to the application
func (m *EngineMetrics) RecordStateTransition(state string) {
	m.stateTransitions.WithLabelValues(state).Inc()
}

// RecordDeviceSwitch records a completed device switch sequence
func (m *EngineMetrics) RecordDeviceSwitch(reason, status string, seconds float64) {
	m.deviceSwitches.WithLabelValues(reason, status).Inc()
	m.deviceSwitchDuration.Observe(seconds)
}

// RecordBufferSizeNegotiation records the outcome of a buffer size change
func (m *EngineMetrics) RecordBufferSizeNegotiation(direction, status string, polls int) {
	m.bufferSizeNegotiation.WithLabelValues(direction, status).Inc()
	if status == StatusSkipped {
		return
	}
	m.bufferSizePolls.WithLabelValues(direction).Observe(float64(polls))
	if status == StatusTimeout {
		log.Debug("buffer size negotiation timed out",
			logger.String("direction", direction),
			logger.Int("polls", polls))
	}
}

// RecordSilencePadding adds inserted silence frames
func (m *EngineMetrics) RecordSilencePadding(frames uint64) {
	m.silenceFrames.Add(float64(frames))
}

// RecordCaptureOverflow adds dropped capture blocks
func (m *EngineMetrics) RecordCaptureOverflow(count uint64) {
	m.captureOverflows.Add(float64(count))
}

// RecordCallbackError records a data callback failure on the render or capture path
func (m *EngineMetrics) RecordCallbackError(path string) {
	m.callbackErrors.WithLabelValues(path).Inc()
}

// RecordOperation implements the Recorder interface.
func (m *EngineMetrics) RecordOperation(operation, status string) {
	m.RecordStreamOperation(operation, status)
}

// RecordDuration implements the Recorder interface.
func (m *EngineMetrics) RecordDuration(operation string, seconds float64) {
	m.operationDuration.WithLabelValues(operation).Observe(seconds)
}

// RecordError implements the Recorder interface.
func (m *EngineMetrics) RecordError(operation, errorType string) {
	m.operationErrors.WithLabelValues(operation, errorType).Inc()
}

var _ Recorder = (*EngineMetrics)(nil)
