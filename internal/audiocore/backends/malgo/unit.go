package malgo

import (
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/gen2brain/malgo"

	"github.com/tphakala/duplexaudio/internal/audiocore"
	"github.com/tphakala/duplexaudio/internal/errors"
	"github.com/tphakala/duplexaudio/internal/logger"
)

// rtState is what the miniaudio data callback reads. It is replaced as a
// whole whenever the device is (re)initialized.
type rtState struct {
	render    audiocore.RenderFunc
	capture   audiocore.CaptureFunc
	format    malgo.FormatType
	channels  int
	maxFrames int
	delay     time.Duration
	scratch   []float32
}

// Unit is one miniaudio device in one direction
type Unit struct {
	backend *Backend
	dir     audiocore.Direction
	id      audiocore.DeviceID
	info    malgo.DeviceInfo
	log     logger.Logger

	mu             sync.Mutex
	native         *audiocore.NativeFormat
	format         audiocore.StreamFormat
	deviceFormat   malgo.FormatType
	periodFrames   uint32
	maxFrames      uint32
	render         audiocore.RenderFunc
	capture        audiocore.CaptureFunc
	bufferListener audiocore.BufferSizeListener
	device         *malgo.Device
	devicePtr      unsafe.Pointer
	running        bool
	closed         bool

	rt       atomic.Pointer[rtState]
	gainBits atomic.Uint32
	stopping atomic.Bool
}

func newUnit(b *Backend, dir audiocore.Direction, info malgo.DeviceInfo) *Unit {
	id := deviceIDFor(info.ID)
	u := &Unit{
		backend: b,
		dir:     dir,
		id:      id,
		info:    info,
		log: b.log.With(
			logger.String("device", string(id)),
			logger.String("direction", dir.String())),
	}
	u.gainBits.Store(math.Float32bits(1))
	return u
}

// Direction implements audiocore.HardwareUnit
func (u *Unit) Direction() audiocore.Direction { return u.dir }

// Device implements audiocore.HardwareUnit
func (u *Unit) Device() audiocore.DeviceID { return u.id }

// deviceTypeConfig returns a device config for u with the sub config of its
// direction filled in.
func (u *Unit) deviceTypeConfig(format malgo.FormatType, channels, rate uint32) malgo.DeviceConfig {
	cfg := malgo.DefaultDeviceConfig(deviceType(u.dir))
	cfg.SampleRate = rate
	cfg.PerformanceProfile = malgo.LowLatency
	if u.backend.noMMap {
		cfg.Alsa.NoMMap = 1
	}

	if u.devicePtr == nil {
		u.devicePtr = u.info.ID.Pointer()
	}
	sub := &cfg.Playback
	if u.dir == audiocore.DirectionInput {
		sub = &cfg.Capture
	}
	sub.Format = format
	sub.Channels = channels
	sub.DeviceID = u.devicePtr
	return cfg
}

func (u *Unit) openError(err error, operation string) error {
	return errors.New(fmt.Errorf("%s on %s device %q: %w: %w", operation, u.dir, u.id, audiocore.ErrDeviceUnavailable, err)).
		Component(audiocore.ComponentAudioCore).
		Category(errors.CategoryAudioSource).
		DeviceContext(u.dir.String(), string(u.id)).
		Context("operation", operation).
		Build()
}

// NativeFormat implements audiocore.HardwareUnit. miniaudio reports the
// native rate of a device opened with rate and channels left at 0, so the
// device is opened once and closed again.
func (u *Unit) NativeFormat() (audiocore.NativeFormat, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.closed {
		return audiocore.NativeFormat{}, fmt.Errorf("unit closed: %w", audiocore.ErrDeviceUnavailable)
	}
	if u.native != nil {
		return *u.native, nil
	}

	cfg := u.deviceTypeConfig(malgo.FormatF32, 0, 0)
	dev, err := malgo.InitDevice(u.backend.ctx.Context, cfg, malgo.DeviceCallbacks{})
	if err != nil {
		return audiocore.NativeFormat{}, u.openError(err, "probe_native_format")
	}
	defer dev.Uninit()

	native := audiocore.NativeFormat{Rate: dev.SampleRate(), Channels: dev.PlaybackChannels()}
	if u.dir == audiocore.DirectionInput {
		native.Channels = dev.CaptureChannels()
	}
	u.native = &native

	u.log.Debug("native format",
		logger.Uint32("rate", native.Rate),
		logger.Uint32("channels", native.Channels))
	return native, nil
}

// SetStreamFormat implements audiocore.HardwareUnit
func (u *Unit) SetStreamFormat(f audiocore.StreamFormat) error {
	devFormat, err := deviceFormat(f.Format)
	if err != nil {
		return err
	}
	if f.Rate == 0 || f.Channels == 0 {
		return fmt.Errorf("stream format needs rate and channels: %w", audiocore.ErrInvalidParameter)
	}

	u.mu.Lock()
	defer u.mu.Unlock()
	u.format = f
	u.deviceFormat = devFormat
	return nil
}

// BufferFrames implements audiocore.HardwareUnit. It reports the period size
// last requested, 0 while miniaudio picks its own.
func (u *Unit) BufferFrames() (uint32, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.periodFrames, nil
}

// BufferFrameRange implements audiocore.HardwareUnit. miniaudio does not
// publish the device's limits.
func (u *Unit) BufferFrameRange() (lo, hi uint32, err error) {
	return 0, 0, nil
}

// SetBufferFrames implements audiocore.HardwareUnit. miniaudio fixes the
// period at init, so an initialized device is rebuilt with the new size.
// The listener is told from another goroutine once that is done.
func (u *Unit) SetBufferFrames(frames uint32) error {
	if frames == 0 {
		return fmt.Errorf("buffer size must be positive: %w", audiocore.ErrInvalidParameter)
	}

	u.mu.Lock()
	u.periodFrames = frames
	var err error
	if u.device != nil {
		err = u.reinitLocked()
	}
	listener := u.bufferListener
	u.mu.Unlock()

	if err != nil {
		return err
	}
	if listener != nil {
		go listener(u.dir, frames)
	}
	return nil
}

// AddBufferSizeListener implements audiocore.HardwareUnit
func (u *Unit) AddBufferSizeListener(fn audiocore.BufferSizeListener) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.bufferListener != nil {
		return fmt.Errorf("buffer size listener already installed: %w", audiocore.ErrInvalidParameter)
	}
	u.bufferListener = fn
	return nil
}

// RemoveBufferSizeListener implements audiocore.HardwareUnit
func (u *Unit) RemoveBufferSizeListener() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.bufferListener = nil
	return nil
}

// SetMaxFramesPerSlice implements audiocore.HardwareUnit. Larger device
// periods are delivered to the callbacks in pieces.
func (u *Unit) SetMaxFramesPerSlice(frames uint32) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.maxFrames = frames
	return nil
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
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.closed {
		return fmt.Errorf("unit closed: %w", audiocore.ErrDeviceUnavailable)
	}
	if u.deviceFormat == malgo.FormatUnknown {
		return fmt.Errorf("initialize before stream format: %w", audiocore.ErrInvalidParameter)
	}
	if u.device != nil {
		return nil
	}
	return u.initLocked()
}

func (u *Unit) initLocked() error {
	cfg := u.deviceTypeConfig(u.deviceFormat, u.format.Channels, u.format.Rate)
	cfg.PeriodSizeInFrames = u.periodFrames

	dev, err := malgo.InitDevice(u.backend.ctx.Context, cfg, malgo.DeviceCallbacks{
		Data: u.onData,
		Stop: u.onStop,
	})
	if err != nil {
		return u.openError(err, "init_device")
	}
	u.device = dev

	channels := int(u.format.Channels)
	maxFrames := int(u.maxFrames)
	if maxFrames == 0 {
		maxFrames = int(max(u.periodFrames, audiocore.SafeMaxLatencyFrames))
	}
	var delay time.Duration
	if u.periodFrames > 0 && u.format.Rate > 0 {
		delay = time.Duration(u.periodFrames) * time.Second / time.Duration(u.format.Rate)
	}
	u.rt.Store(&rtState{
		render:    u.render,
		capture:   u.capture,
		format:    u.deviceFormat,
		channels:  channels,
		maxFrames: maxFrames,
		delay:     delay,
		scratch:   make([]float32, maxFrames*channels),
	})

	u.log.Debug("device initialized",
		logger.Uint32("rate", u.format.Rate),
		logger.Uint32("channels", u.format.Channels),
		logger.Uint32("period_frames", u.periodFrames))
	return nil
}

// reinitLocked rebuilds the device, keeping it running if it was
func (u *Unit) reinitLocked() error {
	wasRunning := u.running
	u.teardownLocked()
	if err := u.initLocked(); err != nil {
		return err
	}
	if wasRunning {
		return u.startLocked()
	}
	return nil
}

func (u *Unit) teardownLocked() {
	if u.device == nil {
		return
	}
	u.stopping.Store(true)
	if u.running {
		_ = u.device.Stop()
		u.running = false
	}
	u.device.Uninit()
	u.device = nil
	u.rt.Store(nil)
	u.stopping.Store(false)
}

// Start implements audiocore.HardwareUnit
func (u *Unit) Start() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.device == nil {
		return fmt.Errorf("unit not initialized: %w", audiocore.ErrGeneric)
	}
	return u.startLocked()
}

func (u *Unit) startLocked() error {
	if u.running {
		return nil
	}
	if err := u.device.Start(); err != nil {
		return u.openError(err, "start_device")
	}
	u.running = true
	return nil
}

// Stop implements audiocore.HardwareUnit
func (u *Unit) Stop() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.device == nil || !u.running {
		return nil
	}

	u.stopping.Store(true)
	defer u.stopping.Store(false)
	if err := u.device.Stop(); err != nil {
		return errors.New(err).
			Component(audiocore.ComponentAudioCore).
			Category(errors.CategoryAudio).
			DeviceContext(u.dir.String(), string(u.id)).
			Context("operation", "stop_device").
			Build()
	}
	u.running = false
	return nil
}

// Close implements audiocore.HardwareUnit
func (u *Unit) Close() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.closed {
		return nil
	}
	u.teardownLocked()
	u.closed = true
	u.bufferListener = nil
	return nil
}

// Latency implements audiocore.HardwareUnit. Only the period is known.
func (u *Unit) Latency() (audiocore.LatencyInfo, error) {
	if rt := u.rt.Load(); rt != nil {
		return audiocore.LatencyInfo{UnitLatency: rt.delay}, nil
	}
	return audiocore.LatencyInfo{}, nil
}

// SetVolume implements audiocore.HardwareUnit. The gain is applied in
// software to rendered samples.
func (u *Unit) SetVolume(volume float32) error {
	if volume < 0 || volume > 1 {
		return fmt.Errorf("volume %v out of range: %w", volume, audiocore.ErrInvalidParameter)
	}
	u.gainBits.Store(math.Float32bits(volume))
	return nil
}

// DataSource implements audiocore.HardwareUnit. miniaudio has no data
// sources, the device name stands in.
func (u *Unit) DataSource() (string, error) {
	return u.info.Name(), nil
}

// onData runs on the miniaudio device thread
func (u *Unit) onData(pOutput, pInput []byte, framecount uint32) {
	rt := u.rt.Load()
	if rt == nil || rt.channels == 0 {
		return
	}
	frameBytes := bytesPerSample(rt.format) * rt.channels

	remaining := int(framecount)
	offset := 0
	for remaining > 0 {
		n := min(remaining, rt.maxFrames)
		samples := rt.scratch[:n*rt.channels]
		region := offset * frameBytes

		switch {
		case u.dir == audiocore.DirectionOutput && rt.render != nil:
			clear(samples)
			rt.render(samples, n, rt.delay)
			applyGain(samples, math.Float32frombits(u.gainBits.Load()))
			if _, err := encodeSamples(samples, rt.format, pOutput[region:region+n*frameBytes]); err != nil {
				return
			}
		case u.dir == audiocore.DirectionInput && rt.capture != nil:
			if _, err := decodeSamples(pInput[region:region+n*frameBytes], rt.format, samples); err != nil {
				return
			}
			rt.capture(samples, n)
		default:
			return
		}

		remaining -= n
		offset += n
	}
}

// onStop is called when miniaudio stops the device. A stop the unit did not
// ask for means the device went away.
func (u *Unit) onStop() {
	if u.stopping.Load() {
		return
	}
	u.log.Warn("device stopped unexpectedly")
	go u.backend.fire(audiocore.PropertyEvent{Device: u.id, Property: audiocore.PropertyDeviceIsAlive})
}
