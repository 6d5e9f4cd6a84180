// Package metrics provides constants used across metric definitions.
package metrics

import "time"

// Operation names recorded by the engine.
const (
	// OpStreamInit represents stream creation.
	OpStreamInit = "stream_init"
	// OpStreamStart represents stream start.
	OpStreamStart = "stream_start"
	// OpStreamStop represents stream stop.
	OpStreamStop = "stream_stop"
	// OpStreamDestroy represents stream teardown.
	OpStreamDestroy = "stream_destroy"
	// OpDeviceSwitch represents a device switch sequence.
	OpDeviceSwitch = "device_switch"
	// OpBufferSize represents a buffer size negotiation.
	OpBufferSize = "set_buffer_size"
	// OpEnumerate represents device enumeration.
	OpEnumerate = "enumerate_devices"
)

// Status label values.
const (
	StatusSuccess = "success"
	StatusError   = "error"
	StatusTimeout = "timeout"
	StatusSkipped = "skipped"
)

// Callback error kinds.
const (
	CallbackErrorRender  = "render"
	CallbackErrorCapture = "capture"
)

// Histogram bucket configuration constants.
const (
	// BucketStart1ms is the starting bucket for 1ms histograms (1ms to ~4s range).
	BucketStart1ms = 0.001
	// BucketFactor2 is the common exponential growth factor of 2 for histogram buckets.
	BucketFactor2 = 2
	// BucketCount12 defines 12 exponential buckets.
	BucketCount12 = 12
	// BucketPollWidth is the width of the poll count histogram buckets.
	BucketPollWidth = 3
	// BucketPollCount covers 0 to 30 polls.
	BucketPollCount = 11
)

// Time and conversion constants.
const (
	// ShutdownTimeout is the timeout for graceful shutdown operations.
	ShutdownTimeout = 5 * time.Second
)
