package audiocore

import "time"

// Latency bounds, in frames. Streams never run below SafeMinLatencyFrames,
// and the first stream of a generation never negotiates above SafeMaxLatencyFrames.
const (
	SafeMinLatencyFrames = 256
	SafeMaxLatencyFrames = 512
)

// Buffer size negotiation defaults. The acknowledgement wait polls every
// BufferSizePollInterval, at most BufferSizePollAttempts times.
const (
	BufferSizePollInterval = 100 * time.Millisecond
	BufferSizePollAttempts = 30
)

const (
	// inputOnlyCaptureMultiplier sizes the capture buffer for input-only streams
	inputOnlyCaptureMultiplier = 1

	// duplexCaptureMultiplier sizes the capture buffer for duplex streams to absorb jitter
	duplexCaptureMultiplier = 8

	// fallbackLatencyLo and fallbackLatencyHi are reported by enumeration when a
	// device exposes no buffer size range
	fallbackLatencyLo = 10 * time.Millisecond
	fallbackLatencyHi = 100 * time.Millisecond

	// defaultDeviceCacheTTL bounds how long enumeration results are reused
	defaultDeviceCacheTTL = 30 * time.Second

	// rtWarningsPerSecond limits warnings logged from audio callbacks
	rtWarningsPerSecond = 1
)
