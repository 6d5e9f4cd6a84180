// Package audiocore implements a duplex audio I/O engine on top of a pluggable
// hardware backend.
//
// # Architecture Overview
//
//   - Context: process-wide registry of active streams, the shared global latency
//     and the serial task queue that runs device switches off the audio threads.
//   - Stream: owns up to two HardwareUnits (input and output), the capture buffer,
//     the resampler and the lifecycle state machine.
//   - LinearCaptureBuffer: hands captured samples from the capture callback to the
//     render callback.
//   - Resampler: converts between the native hardware rates and the rate the
//     application asked for, invoking the data callback once per tick.
//   - Backend / HardwareUnit: the platform abstraction. See backends/malgo for the
//     miniaudio implementation and backends/simulated for a manually driven one.
//
// # Threads
//
// Three execution contexts touch a Stream:
//
//  1. Real-time callbacks (render and capture). They only use atomics and the
//     capture buffer's short lock, and never block.
//  2. Control calls from the application (NewStream, Start, Stop, Destroy, ...).
//     These take the Context mutex for cross-stream decisions and the Stream mutex
//     for per-stream state, always in that order.
//  3. The Context's serial queue, which runs device switch sequences, deferred
//     drain stops and the stopped notification for real-time failures.
//
// Callbacks registered by the application run on those threads. Calling Stop or
// Destroy from inside a data, state or device-changed callback deadlocks.
//
// # Error Handling
//
// All errors use the enhanced error system. KindOf maps an error to one of
// the engine's error kinds:
//
//	stream, err := ctx.NewStream(opts)
//	if audiocore.KindOf(err) == audiocore.KindFormatUnsupported {
//	    // retry with different parameters
//	}
package audiocore
