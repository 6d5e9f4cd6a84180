package simulated

import (
	"fmt"
	"sync"
	"time"

	"github.com/tphakala/duplexaudio/internal/audiocore"
)

// Unit is a simulated hardware endpoint. Callbacks only run from Render and
// Capture, on the caller's goroutine, while the unit is initialized and started.
type Unit struct {
	backend *Backend
	dir     audiocore.Direction
	device  audiocore.DeviceID

	mu                sync.Mutex
	format            audiocore.StreamFormat
	maxFramesPerSlice uint32
	render            audiocore.RenderFunc
	capture           audiocore.CaptureFunc
	bufferListener    audiocore.BufferSizeListener
	bufferRemovals    int
	initialized       bool
	running           bool
	closed            bool
	volume            float32
	delay             time.Duration
	buf               []float32
}

// Direction implements audiocore.HardwareUnit
func (u *Unit) Direction() audiocore.Direction {
	return u.dir
}

// Device implements audiocore.HardwareUnit
func (u *Unit) Device() audiocore.DeviceID {
	return u.device
}

func (u *Unit) deviceLocked() (*device, error) {
	d, ok := u.backend.devices[u.device]
	if !ok {
		return nil, fmt.Errorf("simulated device %q is gone: %w", u.device, audiocore.ErrDeviceUnavailable)
	}
	return d, nil
}

// NativeFormat implements audiocore.HardwareUnit
func (u *Unit) NativeFormat() (audiocore.NativeFormat, error) {
	if err := u.backend.failure(OpNativeFormat); err != nil {
		return audiocore.NativeFormat{}, err
	}
	u.backend.mu.Lock()
	defer u.backend.mu.Unlock()
	d, err := u.deviceLocked()
	if err != nil {
		return audiocore.NativeFormat{}, err
	}
	ep := d.endpoint(u.dir)
	return audiocore.NativeFormat{Rate: ep.Rate, Channels: ep.Channels}, nil
}

// SetStreamFormat implements audiocore.HardwareUnit
func (u *Unit) SetStreamFormat(f audiocore.StreamFormat) error {
	if err := u.backend.failure(OpSetStreamFormat); err != nil {
		return err
	}
	switch f.Format {
	case audiocore.SampleS16LE, audiocore.SampleS16BE, audiocore.SampleFloat32LE, audiocore.SampleFloat32BE:
	default:
		return fmt.Errorf("simulated unit cannot run %s: %w", f.Format, audiocore.ErrFormatUnsupported)
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	u.format = f
	return nil
}

// Format returns the format set by SetStreamFormat
func (u *Unit) Format() audiocore.StreamFormat {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.format
}

// BufferFrames implements audiocore.HardwareUnit
func (u *Unit) BufferFrames() (uint32, error) {
	if err := u.backend.failure(OpBufferFrames); err != nil {
		return 0, err
	}
	u.backend.mu.Lock()
	defer u.backend.mu.Unlock()
	d, err := u.deviceLocked()
	if err != nil {
		return 0, err
	}
	return d.bufferFrames, nil
}

// BufferFrameRange implements audiocore.HardwareUnit
func (u *Unit) BufferFrameRange() (lo, hi uint32, err error) {
	u.backend.mu.Lock()
	defer u.backend.mu.Unlock()
	d, err := u.deviceLocked()
	if err != nil {
		return 0, 0, err
	}
	ep := d.endpoint(u.dir)
	return ep.BufferFrameMin, ep.BufferFrameMax, nil
}

// SetBufferFrames implements audiocore.HardwareUnit. The change is applied
// and acknowledged synchronously unless acknowledgements are suppressed.
func (u *Unit) SetBufferFrames(frames uint32) error {
	if err := u.backend.failure(OpSetBufferFrames); err != nil {
		return err
	}

	u.backend.mu.Lock()
	d, err := u.deviceLocked()
	if err != nil {
		u.backend.mu.Unlock()
		return err
	}
	d.bufferFrames = frames
	suppress, wrongScope := u.backend.suppressAck, u.backend.wrongScopeAck
	u.backend.mu.Unlock()

	if suppress {
		return nil
	}

	u.mu.Lock()
	fn := u.bufferListener
	u.mu.Unlock()
	if fn == nil {
		return nil
	}

	scope := u.dir
	if wrongScope {
		scope = opposite(u.dir)
	}
	fn(scope, frames)
	return nil
}

func opposite(dir audiocore.Direction) audiocore.Direction {
	if dir == audiocore.DirectionInput {
		return audiocore.DirectionOutput
	}
	return audiocore.DirectionInput
}

// AddBufferSizeListener implements audiocore.HardwareUnit
func (u *Unit) AddBufferSizeListener(fn audiocore.BufferSizeListener) error {
	if err := u.backend.failure(OpAddBufferListener); err != nil {
		return err
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	u.bufferListener = fn
	return nil
}

// RemoveBufferSizeListener implements audiocore.HardwareUnit
func (u *Unit) RemoveBufferSizeListener() error {
	u.mu.Lock()
	u.bufferRemovals++
	u.bufferListener = nil
	u.mu.Unlock()
	return u.backend.failure(OpRemoveBufferListener)
}

// BufferSizeListenerRemovals counts RemoveBufferSizeListener calls
func (u *Unit) BufferSizeListenerRemovals() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.bufferRemovals
}

// SetMaxFramesPerSlice implements audiocore.HardwareUnit
func (u *Unit) SetMaxFramesPerSlice(frames uint32) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.maxFramesPerSlice = frames
	return nil
}

// MaxFramesPerSlice returns the value set by SetMaxFramesPerSlice
func (u *Unit) MaxFramesPerSlice() uint32 {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.maxFramesPerSlice
}

// SetRenderCallback implements audiocore.HardwareUnit
func (u *Unit) SetRenderCallback(fn audiocore.RenderFunc) error {
	if u.dir != audiocore.DirectionOutput {
		return fmt.Errorf("render callback on an input unit: %w", audiocore.ErrInvalidParameter)
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	u.render = fn
	return nil
}

// SetCaptureCallback implements audiocore.HardwareUnit
func (u *Unit) SetCaptureCallback(fn audiocore.CaptureFunc) error {
	if u.dir != audiocore.DirectionInput {
		return fmt.Errorf("capture callback on an output unit: %w", audiocore.ErrInvalidParameter)
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	u.capture = fn
	return nil
}

// Initialize implements audiocore.HardwareUnit
func (u *Unit) Initialize() error {
	if err := u.backend.failure(OpInitialize); err != nil {
		return err
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	u.initialized = true
	return nil
}

// Start implements audiocore.HardwareUnit
func (u *Unit) Start() error {
	if err := u.backend.failure(OpStart); err != nil {
		return err
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	if !u.initialized || u.closed {
		return fmt.Errorf("simulated unit not initialized: %w", audiocore.ErrGeneric)
	}
	u.running = true
	return nil
}

// Stop implements audiocore.HardwareUnit
func (u *Unit) Stop() error {
	if err := u.backend.failure(OpStop); err != nil {
		return err
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	u.running = false
	return nil
}

// Close implements audiocore.HardwareUnit
func (u *Unit) Close() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.running = false
	u.initialized = false
	u.closed = true
	u.render = nil
	u.capture = nil
	return nil
}

// Running reports whether the unit is started
func (u *Unit) Running() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.running
}

// Closed reports whether the unit was closed
func (u *Unit) Closed() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.closed
}

// Latency implements audiocore.HardwareUnit
func (u *Unit) Latency() (audiocore.LatencyInfo, error) {
	if err := u.backend.failure(OpLatency); err != nil {
		return audiocore.LatencyInfo{}, err
	}
	u.backend.mu.Lock()
	defer u.backend.mu.Unlock()
	d, err := u.deviceLocked()
	if err != nil {
		return audiocore.LatencyInfo{}, err
	}
	ep := d.endpoint(u.dir)
	return audiocore.LatencyInfo{
		DeviceLatencyFrames: ep.PresentationLatency,
		SafetyOffsetFrames:  ep.SafetyOffset,
	}, nil
}

// SetVolume implements audiocore.HardwareUnit
func (u *Unit) SetVolume(volume float32) error {
	if err := u.backend.failure(OpSetVolume); err != nil {
		return err
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	u.volume = volume
	return nil
}

// Volume returns the value set by SetVolume
func (u *Unit) Volume() float32 {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.volume
}

// DataSource implements audiocore.HardwareUnit
func (u *Unit) DataSource() (string, error) {
	if err := u.backend.failure(OpDataSource); err != nil {
		return "", err
	}
	u.backend.mu.Lock()
	defer u.backend.mu.Unlock()
	d, err := u.deviceLocked()
	if err != nil {
		return "", err
	}
	if d.cfg.DataSource == "" {
		return "", fmt.Errorf("device %q has no data source: %w", u.device, audiocore.ErrGeneric)
	}
	return d.cfg.DataSource, nil
}

// SetPresentationDelay sets the delay passed to subsequent render callbacks
func (u *Unit) SetPresentationDelay(d time.Duration) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.delay = d
}

// Render runs one render callback for frames frames and returns the
// interleaved samples it produced. A unit that is not running renders silence.
func (u *Unit) Render(frames int) []float32 {
	u.mu.Lock()
	fn, running, delay := u.render, u.running, u.delay
	channels := int(u.format.Channels)
	u.mu.Unlock()

	if channels == 0 {
		channels = 1
	}
	out := make([]float32, frames*channels)
	if fn == nil || !running {
		return out
	}
	fn(out, frames, delay)
	return out
}

// Capture runs one capture callback with interleaved samples. It reports
// whether the callback ran.
func (u *Unit) Capture(samples []float32) bool {
	u.mu.Lock()
	fn, running := u.capture, u.running
	channels := int(u.format.Channels)
	u.mu.Unlock()

	if fn == nil || !running || channels == 0 {
		return false
	}
	fn(samples, len(samples)/channels)
	return true
}

// CaptureSilence runs one capture callback with frames silent frames
func (u *Unit) CaptureSilence(frames int) bool {
	u.mu.Lock()
	channels := int(u.format.Channels)
	if cap(u.buf) < frames*channels {
		u.buf = make([]float32, frames*channels)
	}
	buf := u.buf[:frames*channels]
	u.mu.Unlock()
	clear(buf)
	return u.Capture(buf)
}
