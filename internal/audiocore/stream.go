package audiocore

import (
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/tphakala/duplexaudio/internal/errors"
	"github.com/tphakala/duplexaudio/internal/logger"
	"github.com/tphakala/duplexaudio/internal/observability/metrics"
)

// Stream is one duplex, input-only or output-only audio stream.
//
// Fields read by the real-time callbacks are atomics, or are only written
// while the stream's units are stopped or closed.
type Stream struct {
	id   string
	name string
	ctx  *Context
	log  logger.Logger

	inputParams      *StreamParams
	outputParams     *StreamParams
	requestedLatency uint32
	duplex           bool
	inChannels       int
	outChannels      int

	dataCb  DataCallback
	stateCb StateCallback

	// mu guards everything below up to the atomics
	mu              sync.Mutex
	inputDevice     DeviceID
	outputDevice    DeviceID
	isDefaultInput  bool
	inputUnit       HardwareUnit
	outputUnit      HardwareUnit
	listeners       []ListenerID
	deviceChangedCb DeviceChangedCallback
	volume          float32
	volumeSet       bool
	hwLatencyFrames uint32
	hwLatencyValid  bool

	reportedSilence   uint64
	reportedOverflows uint64

	// written during setup, read by the callbacks
	inputHWRate                   uint32
	outputHWRate                  uint32
	inputBufferFrames             uint32
	latencyFrames                 uint32
	expectedOutputCallbacksInARow int
	capture                       *LinearCaptureBuffer
	resampler                     *Resampler

	shutdown        atomic.Bool
	draining        atomic.Bool
	switchingDevice atomic.Bool
	bufferSizeAcked atomic.Bool
	destroyed       atomic.Bool
	drainStopQueued atomic.Bool

	lifecycle    atomic.Int32
	lastNotified atomic.Int32

	framesRead           atomic.Int64
	availableInputFrames atomic.Int64
	framesPlayed         atomic.Uint64
	framesQueued         atomic.Uint64
	currentLatencyFrames atomic.Uint32
	panning              atomic.Uint32

	silenceFrames         atomic.Uint64
	captureOverflows      atomic.Uint64
	outputCallbacksInARow atomic.Int32

	rtLimiter *rate.Limiter
}

// NewStream validates opts, opens and configures the hardware units and
// returns a stream in LifecycleConfigured. On any failure everything opened
// so far is released.
func (c *Context) NewStream(opts StreamOptions) (*Stream, error) {
	started := time.Now()
	if err := validateStreamOptions(&opts); err != nil {
		c.metrics.operation(metrics.OpStreamInit, err, started)
		return nil, err
	}

	s := &Stream{
		id:               uuid.NewString(),
		name:             opts.Name,
		ctx:              c,
		inputParams:      cloneParams(opts.InputParams),
		outputParams:     cloneParams(opts.OutputParams),
		requestedLatency: opts.LatencyFrames,
		dataCb:           opts.DataCallback,
		stateCb:          opts.StateCallback,
		inputDevice:      opts.InputDevice,
		outputDevice:     opts.OutputDevice,
		rtLimiter:        rate.NewLimiter(rate.Limit(rtWarningsPerSecond), 1),
	}
	s.duplex = s.inputParams != nil && s.outputParams != nil
	if s.inputParams != nil {
		s.inChannels = int(s.inputParams.Channels)
	}
	if s.outputParams != nil {
		s.outChannels = int(s.outputParams.Channels)
	}
	s.log = c.log.With(logger.String("stream", s.name), logger.String("stream_id", s.id))
	s.shutdown.Store(true)
	s.lifecycle.Store(int32(LifecycleCreated))

	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		err := newError(KindGeneric, "stream_init", ErrContextDestroyed, "context %s is destroyed", c.name).Build()
		c.metrics.operation(metrics.OpStreamInit, err, started)
		return nil, err
	}
	c.registerStreamLocked()
	s.mu.Lock()
	err := s.setupLocked()
	if err != nil {
		s.closeUnitsLocked()
	}
	s.mu.Unlock()
	if err != nil {
		c.unregisterStreamLocked()
		c.mu.Unlock()
		s.log.Error("stream setup failed", logger.Error(err))
		c.metrics.operation(metrics.OpStreamInit, err, started)
		return nil, err
	}
	c.mu.Unlock()

	s.mu.Lock()
	err = s.installListenersLocked()
	s.mu.Unlock()
	if err != nil {
		s.destroyed.Store(true)
		if teardownErr := s.teardown(); teardownErr != nil {
			s.log.Warn("teardown after listener failure", logger.Error(teardownErr))
		}
		c.metrics.operation(metrics.OpStreamInit, err, started)
		return nil, err
	}

	s.lifecycle.Store(int32(LifecycleConfigured))
	c.metrics.operation(metrics.OpStreamInit, nil, started)
	s.log.Info("stream created",
		logger.Uint32("latency_frames", s.latencyFrames),
		logger.Bool("duplex", s.duplex),
		logger.Uint32("input_rate", s.inputHWRate),
		logger.Uint32("output_rate", s.outputHWRate))
	return s, nil
}

func validateStreamOptions(opts *StreamOptions) error {
	if opts.DataCallback == nil {
		return newError(KindInvalidParameter, "stream_init", nil, "data callback is required").Build()
	}
	if opts.InputParams == nil && opts.OutputParams == nil {
		return newError(KindInvalidParameter, "stream_init", nil, "stream needs an input or an output").Build()
	}
	if opts.InputDevice != DefaultDevice && opts.InputParams == nil {
		return newError(KindInvalidParameter, "stream_init", nil, "input device %q given without input parameters", opts.InputDevice).Build()
	}
	if opts.OutputDevice != DefaultDevice && opts.OutputParams == nil {
		return newError(KindInvalidParameter, "stream_init", nil, "output device %q given without output parameters", opts.OutputDevice).Build()
	}
	if opts.InputParams != nil {
		if err := opts.InputParams.validate(DirectionInput); err != nil {
			return err
		}
	}
	if opts.OutputParams != nil {
		if err := opts.OutputParams.validate(DirectionOutput); err != nil {
			return err
		}
	}
	if opts.InputParams != nil && opts.OutputParams != nil && opts.InputParams.Rate != opts.OutputParams.Rate {
		return newError(KindFormatUnsupported, "stream_init", nil,
			"duplex streams need one rate, got input %d and output %d", opts.InputParams.Rate, opts.OutputParams.Rate).Build()
	}
	return nil
}

func cloneParams(p *StreamParams) *StreamParams {
	if p == nil {
		return nil
	}
	clone := *p
	return &clone
}

// setupLocked opens, configures and initializes the units. c.mu and s.mu must be held.
func (s *Stream) setupLocked() error {
	backend := s.ctx.backend

	if s.inputParams != nil {
		u, err := backend.OpenUnit(DirectionInput, s.inputDevice)
		if err != nil {
			return s.deviceError(err, "open_unit", DirectionInput, s.inputDevice)
		}
		s.inputUnit = u
	}
	if s.outputParams != nil {
		u, err := backend.OpenUnit(DirectionOutput, s.outputDevice)
		if err != nil {
			return s.deviceError(err, "open_unit", DirectionOutput, s.outputDevice)
		}
		s.outputUnit = u
	}
	s.isDefaultInput = s.inputParams != nil && s.inputDevice == DefaultDevice

	s.latencyFrames = s.ctx.clampLatencyLocked(s.requestedLatency, s.inputUnit, s.outputUnit)

	if s.inputUnit != nil {
		if err := s.configureInputLocked(); err != nil {
			return err
		}
	}
	if s.outputUnit != nil {
		if err := s.configureOutputLocked(); err != nil {
			return err
		}
	}

	targetRate := s.outputParams.GetRate()
	if s.inputParams != nil {
		targetRate = s.inputParams.Rate
	}
	r, err := NewResampler(ResamplerConfig{
		InputRate:      s.inputHWRate,
		OutputRate:     s.outputHWRate,
		TargetRate:     targetRate,
		InputChannels:  s.inChannels,
		OutputChannels: s.outChannels,
		MaxFrames:      int(s.latencyFrames),
	}, s.fill)
	if err != nil {
		return err
	}
	s.resampler = r

	if s.duplex {
		s.expectedOutputCallbacksInARow = int(math.Ceil(float64(s.outputHWRate) / float64(s.inputHWRate)))
	}

	if s.inputUnit != nil {
		if err := s.inputUnit.Initialize(); err != nil {
			return wrapBackend(err, "initialize", DirectionInput)
		}
	}
	if s.outputUnit != nil {
		if err := s.outputUnit.Initialize(); err != nil {
			return wrapBackend(err, "initialize", DirectionOutput)
		}
	}

	s.hwLatencyValid = false
	s.framesRead.Store(0)
	s.availableInputFrames.Store(0)
	s.draining.Store(false)
	s.drainStopQueued.Store(false)
	return nil
}

func (s *Stream) configureInputLocked() error {
	u := s.inputUnit
	native, err := u.NativeFormat()
	if err != nil {
		return wrapBackend(err, "native_format", DirectionInput)
	}
	if native.Rate == 0 {
		return newError(KindDeviceUnavailable, "native_format", nil, "input device reports no sample rate").Build()
	}
	s.inputHWRate = native.Rate
	s.inputBufferFrames = s.latencyFrames

	if err := s.setBufferSize(u, s.latencyFrames); err != nil {
		return err
	}

	p := s.inputParams
	if err := u.SetStreamFormat(StreamFormat{Format: p.Format, Rate: native.Rate, Channels: p.Channels, Layout: p.Layout}); err != nil {
		return wrapBackend(err, "set_stream_format", DirectionInput)
	}
	if err := u.SetMaxFramesPerSlice(s.latencyFrames); err != nil {
		return wrapBackend(err, "set_max_frames_per_slice", DirectionInput)
	}

	multiplier := inputOnlyCaptureMultiplier
	if s.duplex {
		multiplier = duplexCaptureMultiplier
	}
	buf, err := NewLinearCaptureBuffer(int(s.latencyFrames) * s.inChannels * multiplier)
	if err != nil {
		return err
	}
	s.capture = buf

	if err := u.SetCaptureCallback(s.captureCallback); err != nil {
		return wrapBackend(err, "set_capture_callback", DirectionInput)
	}
	return nil
}

func (s *Stream) configureOutputLocked() error {
	u := s.outputUnit
	native, err := u.NativeFormat()
	if err != nil {
		return wrapBackend(err, "native_format", DirectionOutput)
	}
	if native.Rate == 0 {
		return newError(KindDeviceUnavailable, "native_format", nil, "output device reports no sample rate").Build()
	}
	s.outputHWRate = native.Rate

	if err := s.setBufferSize(u, s.latencyFrames); err != nil {
		return err
	}

	p := s.outputParams
	if err := u.SetStreamFormat(StreamFormat{Format: p.Format, Rate: native.Rate, Channels: p.Channels, Layout: p.Layout}); err != nil {
		return wrapBackend(err, "set_stream_format", DirectionOutput)
	}
	if err := u.SetMaxFramesPerSlice(s.latencyFrames); err != nil {
		return wrapBackend(err, "set_max_frames_per_slice", DirectionOutput)
	}
	if err := u.SetRenderCallback(s.render); err != nil {
		return wrapBackend(err, "set_render_callback", DirectionOutput)
	}
	if s.volumeSet {
		if err := u.SetVolume(s.volume); err != nil {
			return wrapBackend(err, "set_volume", DirectionOutput)
		}
	}
	return nil
}

func (s *Stream) deviceError(err error, operation string, dir Direction, device DeviceID) error {
	kind := KindOf(err)
	if kind == KindGeneric {
		kind = KindDeviceUnavailable
	}
	return newError(kind, operation, err, "cannot open %s device", dir).
		DeviceContext(dir.String(), string(device)).
		Build()
}

// closeUnitsLocked closes and forgets both units. s.mu must be held.
func (s *Stream) closeUnitsLocked() {
	for _, u := range []HardwareUnit{s.inputUnit, s.outputUnit} {
		if u == nil {
			continue
		}
		if err := u.Close(); err != nil {
			s.log.Warn("failed to close unit", logger.String("direction", u.Direction().String()), logger.Error(err))
		}
	}
	s.inputUnit = nil
	s.outputUnit = nil
}

// startUnitsLocked starts input before output so the first render finds capture data. s.mu must be held.
func (s *Stream) startUnitsLocked() error {
	if s.inputUnit == nil && s.outputUnit == nil {
		return newError(KindDeviceUnavailable, "stream_start", nil, "stream has no open units").Build()
	}
	if s.inputUnit != nil {
		if err := s.inputUnit.Start(); err != nil {
			return wrapBackend(err, "stream_start", DirectionInput)
		}
	}
	if s.outputUnit != nil {
		if err := s.outputUnit.Start(); err != nil {
			if s.inputUnit != nil {
				_ = s.inputUnit.Stop()
			}
			return wrapBackend(err, "stream_start", DirectionOutput)
		}
	}
	return nil
}

// stopUnitsLocked stops both units. c.mu and s.mu must be held.
func (s *Stream) stopUnitsLocked() error {
	var errs []error
	if s.inputUnit != nil {
		if err := s.inputUnit.Stop(); err != nil {
			errs = append(errs, wrapBackend(err, "stream_stop", DirectionInput))
		}
	}
	if s.outputUnit != nil {
		if err := s.outputUnit.Stop(); err != nil {
			errs = append(errs, wrapBackend(err, "stream_stop", DirectionOutput))
		}
	}
	return errors.Join(errs...)
}

// Start starts the hardware units and notifies StateStarted.
func (s *Stream) Start() error {
	started := time.Now()
	if s.destroyed.Load() {
		return newError(KindGeneric, "stream_start", nil, "stream is destroyed").Build()
	}

	s.ctx.mu.Lock()
	s.mu.Lock()
	s.shutdown.Store(false)
	s.draining.Store(false)
	s.drainStopQueued.Store(false)
	err := s.startUnitsLocked()
	if err != nil {
		s.shutdown.Store(true)
	} else {
		s.lifecycle.Store(int32(LifecycleStarted))
	}
	s.mu.Unlock()
	s.ctx.mu.Unlock()

	s.ctx.metrics.operation(metrics.OpStreamStart, err, started)
	if err != nil {
		s.log.Error("stream start failed", logger.Error(err))
		return err
	}

	s.log.Debug("stream started")
	s.notify(StateStarted)
	return nil
}

// Stop stops the hardware units and notifies StateStopped. Stopping a stopped
// stream notifies nothing.
func (s *Stream) Stop() error {
	started := time.Now()
	if s.destroyed.Load() {
		return newError(KindGeneric, "stream_stop", nil, "stream is destroyed").Build()
	}

	s.ctx.mu.Lock()
	s.mu.Lock()
	s.shutdown.Store(true)
	err := s.stopUnitsLocked()
	s.lifecycle.Store(int32(LifecycleStopped))
	s.flushCountersLocked()
	s.mu.Unlock()
	s.ctx.mu.Unlock()

	s.ctx.metrics.operation(metrics.OpStreamStop, err, started)
	if err != nil {
		s.log.Warn("stream stop reported errors", logger.Error(err))
	}
	s.notify(StateStopped)
	return err
}

// Destroy stops the stream, releases its units and counts it out of the
// Context. It waits for an in-flight device switch. Destroying twice is a no-op.
func (s *Stream) Destroy() error {
	if !s.destroyed.CompareAndSwap(false, true) {
		return nil
	}
	started := time.Now()
	s.shutdown.Store(true)

	var err error
	s.ctx.queue.Sync(func() {
		err = s.teardown()
	})

	s.ctx.metrics.operation(metrics.OpStreamDestroy, err, started)
	if err != nil {
		s.log.Warn("stream destroyed with errors", logger.Error(err))
		return err
	}
	s.log.Info("stream destroyed")
	return nil
}

func (s *Stream) teardown() error {
	c := s.ctx
	c.mu.Lock()
	defer c.mu.Unlock()

	s.mu.Lock()
	stopErr := s.stopUnitsLocked()
	listenerErr := s.uninstallListenersLocked()
	s.closeUnitsLocked()
	s.lifecycle.Store(int32(LifecycleDestroyed))
	s.flushCountersLocked()
	s.mu.Unlock()

	c.unregisterStreamLocked()
	return errors.Join(stopErr, listenerErr)
}

// flushCountersLocked reports data path counters accumulated since the last flush. s.mu must be held.
func (s *Stream) flushCountersLocked() {
	silence := s.silenceFrames.Load()
	overflows := s.captureOverflows.Load()
	s.ctx.metrics.silence(silence - s.reportedSilence)
	s.ctx.metrics.overflows(overflows - s.reportedOverflows)
	s.reportedSilence = silence
	s.reportedOverflows = overflows
}

// ID returns the stream's unique id
func (s *Stream) ID() string {
	return s.id
}

// Name returns the name given in StreamOptions
func (s *Stream) Name() string {
	return s.name
}

// Lifecycle returns the controller state
func (s *Stream) Lifecycle() Lifecycle {
	return Lifecycle(s.lifecycle.Load())
}

// SwitchingDevice reports whether a device switch is in progress
func (s *Stream) SwitchingDevice() bool {
	return s.switchingDevice.Load()
}

// LatencyFrames returns the negotiated buffer latency in frames
func (s *Stream) LatencyFrames() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latencyFrames
}

// Position returns the number of frames played so far, at the output rate.
// It never decreases while the stream lives.
func (s *Stream) Position() (uint64, error) {
	if s.destroyed.Load() {
		return 0, newError(KindGeneric, "get_position", nil, "stream is destroyed").Build()
	}
	return s.framesPlayed.Load(), nil
}

// Stats returns a snapshot of the stream's counters
func (s *Stream) Stats() StreamStats {
	return StreamStats{
		FramesRead:            s.framesRead.Load(),
		FramesPlayed:          s.framesPlayed.Load(),
		FramesQueued:          s.framesQueued.Load(),
		AvailableInputFrames:  s.availableInputFrames.Load(),
		SilenceFramesInserted: s.silenceFrames.Load(),
		CaptureOverflows:      s.captureOverflows.Load(),
	}
}

// SetVolume sets the output unit's gain
func (s *Stream) SetVolume(volume float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.outputUnit == nil {
		return newError(KindInvalidParameter, "set_volume", nil, "stream has no output").Build()
	}
	if volume < 0 || volume > 1 {
		return newError(KindInvalidParameter, "set_volume", nil, "volume %.3f outside [0, 1]", volume).Build()
	}
	if err := s.outputUnit.SetVolume(volume); err != nil {
		return wrapBackend(err, "set_volume", DirectionOutput)
	}
	s.volume = volume
	s.volumeSet = true
	return nil
}

// SetPanning sets the stereo position, -1 is full left and 1 full right.
// Only streams with one or two output channels can pan.
func (s *Stream) SetPanning(pan float32) error {
	if s.outputParams == nil || s.outputParams.Channels > 2 {
		return newError(KindInvalidParameter, "set_panning", nil, "panning needs a mono or stereo output").Build()
	}
	if pan < -1 || pan > 1 || math.IsNaN(float64(pan)) {
		return newError(KindInvalidParameter, "set_panning", nil, "panning %.3f outside [-1, 1]", pan).Build()
	}
	s.panning.Store(math.Float32bits(pan))
	return nil
}

// Panning returns the current stereo position
func (s *Stream) Panning() float32 {
	return math.Float32frombits(s.panning.Load())
}

// CurrentDevice returns the data source names of the stream's devices.
// A name the backend cannot report is left empty.
func (s *Stream) CurrentDevice() (StreamDevices, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.destroyed.Load() {
		return StreamDevices{}, newError(KindGeneric, "get_current_device", nil, "stream is destroyed").Build()
	}

	var devices StreamDevices
	if s.outputUnit != nil {
		if name, err := s.outputUnit.DataSource(); err == nil {
			devices.Output = name
		}
	}
	if s.inputUnit != nil {
		if name, err := s.inputUnit.DataSource(); err == nil {
			devices.Input = name
		}
	}
	return devices, nil
}

// RegisterDeviceChangedCallback sets the callback invoked when a device
// change is detected, before the stream is rebuilt. A nil cb unregisters.
func (s *Stream) RegisterDeviceChangedCallback(cb DeviceChangedCallback) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cb != nil && s.deviceChangedCb != nil {
		return newError(KindInvalidParameter, "register_device_changed", nil, "a device changed callback is already registered").Build()
	}
	s.deviceChangedCb = cb
	return nil
}
