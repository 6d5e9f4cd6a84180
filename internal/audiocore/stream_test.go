package audiocore_test

import (
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/duplexaudio/internal/audiocore"
	"github.com/tphakala/duplexaudio/internal/audiocore/backends/simulated"
	"github.com/tphakala/duplexaudio/internal/errors"
	"github.com/tphakala/duplexaudio/internal/observability/metrics"
)

func TestStreamInitDestroyBalancesCount(t *testing.T) {
	t.Parallel()

	b := simulated.NewDefault()
	ctx := newTestContext(t, b)
	require.Equal(t, 3, b.ListenerCount())

	s, err := ctx.NewStream(audiocore.StreamOptions{
		OutputParams:  &stereo48k,
		LatencyFrames: 256,
		DataCallback:  constantOutput(0),
	})
	require.NoError(t, err)
	assert.Equal(t, audiocore.LifecycleConfigured, s.Lifecycle())
	assert.Equal(t, 1, ctx.ActiveStreams())
	assert.Equal(t, uint32(256), ctx.GlobalLatency())
	assert.Equal(t, 5, b.ListenerCount())
	assert.Len(t, b.OpenUnits(), 1)

	require.NoError(t, s.Destroy())
	require.NoError(t, s.Destroy(), "second destroy is a no-op")

	assert.Equal(t, audiocore.LifecycleDestroyed, s.Lifecycle())
	assert.Equal(t, 0, ctx.ActiveStreams())
	assert.Equal(t, uint32(0), ctx.GlobalLatency())
	assert.Empty(t, b.OpenUnits())
	assert.Equal(t, 3, b.ListenerCount())

	assert.Error(t, s.Start())
	_, err = s.Position()
	assert.Error(t, err)
}

func TestStreamInitFailureReleasesEverything(t *testing.T) {
	t.Parallel()

	b := simulated.NewDefault()
	ctx := newTestContext(t, b)
	b.FailOn(simulated.OpInitialize, errors.NewStd("hardware refused"))

	_, err := ctx.NewStream(audiocore.StreamOptions{
		InputParams:   &mono48k,
		OutputParams:  &stereo48k,
		LatencyFrames: 256,
		DataCallback:  constantOutput(0),
	})
	require.Error(t, err)

	assert.Equal(t, 0, ctx.ActiveStreams())
	assert.Equal(t, uint32(0), ctx.GlobalLatency())
	assert.Empty(t, b.OpenUnits())
	assert.Equal(t, 3, b.ListenerCount())
}

func TestNewStreamRejectsInvalidOptions(t *testing.T) {
	t.Parallel()

	b := simulated.NewDefault()
	ctx := newTestContext(t, b)

	be := audiocore.StreamParams{Format: audiocore.SampleFloat32BE, Rate: 48000, Channels: 2}
	rate44 := audiocore.StreamParams{Format: audiocore.SampleFloat32NE, Rate: 44100, Channels: 1}

	tests := []struct {
		name string
		opts audiocore.StreamOptions
		kind audiocore.Kind
	}{
		{"no callback", audiocore.StreamOptions{OutputParams: &stereo48k}, audiocore.KindInvalidParameter},
		{"no direction", audiocore.StreamOptions{DataCallback: constantOutput(0)}, audiocore.KindInvalidParameter},
		{"device without params", audiocore.StreamOptions{InputDevice: simulated.DefaultMicrophone, OutputParams: &stereo48k, DataCallback: constantOutput(0)}, audiocore.KindInvalidParameter},
		{"big endian", audiocore.StreamOptions{OutputParams: &be, DataCallback: constantOutput(0)}, audiocore.KindFormatUnsupported},
		{"duplex rate mismatch", audiocore.StreamOptions{InputParams: &rate44, OutputParams: &stereo48k, DataCallback: constantOutput(0)}, audiocore.KindFormatUnsupported},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ctx.NewStream(tt.opts)
			require.Error(t, err)
			assert.Equal(t, tt.kind, audiocore.KindOf(err))
		})
	}
	assert.Equal(t, 0, ctx.ActiveStreams())
	assert.Empty(t, b.Units())
}

func TestNewStreamUnknownDevice(t *testing.T) {
	t.Parallel()

	b := simulated.NewDefault()
	ctx := newTestContext(t, b)

	_, err := ctx.NewStream(audiocore.StreamOptions{
		OutputDevice: "no-such-device",
		OutputParams: &stereo48k,
		DataCallback: constantOutput(0),
	})
	require.Error(t, err)
	assert.Equal(t, audiocore.KindDeviceUnavailable, audiocore.KindOf(err))
	assert.ErrorIs(t, err, audiocore.ErrDeviceUnavailable)
	assert.Equal(t, 0, ctx.ActiveStreams())
}

func TestStreamStopTwiceNotifiesOnce(t *testing.T) {
	t.Parallel()

	b := simulated.NewDefault()
	ctx := newTestContext(t, b)
	rec := &stateRecorder{}
	s := newTestStream(t, ctx, audiocore.StreamOptions{
		OutputParams:  &stereo48k,
		LatencyFrames: 256,
		DataCallback:  constantOutput(0),
		StateCallback: rec.callback,
	})

	require.NoError(t, s.Start())
	assert.Equal(t, audiocore.LifecycleStarted, s.Lifecycle())
	assert.True(t, b.OpenUnitFor(audiocore.DirectionOutput).Running())

	require.NoError(t, s.Stop())
	require.NoError(t, s.Stop())
	assert.Equal(t, []audiocore.State{audiocore.StateStarted, audiocore.StateStopped}, rec.get())
	assert.False(t, b.OpenUnitFor(audiocore.DirectionOutput).Running())

	require.NoError(t, s.Start())
	assert.Equal(t, []audiocore.State{audiocore.StateStarted, audiocore.StateStopped, audiocore.StateStarted}, rec.get())
}

func TestStreamsShareGlobalLatency(t *testing.T) {
	t.Parallel()

	b := simulated.NewDefault()
	ctx := newTestContext(t, b)

	first, err := ctx.NewStream(audiocore.StreamOptions{OutputParams: &stereo48k, LatencyFrames: 300, DataCallback: constantOutput(0)})
	require.NoError(t, err)
	second, err := ctx.NewStream(audiocore.StreamOptions{OutputParams: &stereo48k, LatencyFrames: 400, DataCallback: constantOutput(0)})
	require.NoError(t, err)

	assert.Equal(t, uint32(300), first.LatencyFrames())
	assert.Equal(t, uint32(300), second.LatencyFrames())
	assert.Equal(t, uint32(300), ctx.GlobalLatency())
	assert.Equal(t, 2, ctx.ActiveStreams())

	require.NoError(t, first.Destroy())
	assert.Equal(t, uint32(300), ctx.GlobalLatency(), "global latency is kept while a stream is active")
	require.NoError(t, second.Destroy())
	assert.Equal(t, uint32(0), ctx.GlobalLatency())

	third := newTestStream(t, ctx, audiocore.StreamOptions{OutputParams: &stereo48k, LatencyFrames: 400, DataCallback: constantOutput(0)})
	assert.Equal(t, uint32(400), third.LatencyFrames())
}

func TestStreamLatencyIsClamped(t *testing.T) {
	t.Parallel()

	tests := []struct {
		requested, want uint32
	}{
		{16, audiocore.SafeMinLatencyFrames},
		{10000, audiocore.SafeMaxLatencyFrames},
	}
	for _, tt := range tests {
		b := simulated.NewDefault()
		ctx := newTestContext(t, b)
		s := newTestStream(t, ctx, audiocore.StreamOptions{OutputParams: &stereo48k, LatencyFrames: tt.requested, DataCallback: constantOutput(0)})
		assert.Equal(t, tt.want, s.LatencyFrames())
	}
}

func TestFirstRenderBeforeCapturePadsMinimumFrames(t *testing.T) {
	t.Parallel()

	b := simulated.New()
	b.AddDevice(simulated.DeviceConfig{
		ID:           "mic",
		Input:        simulated.Endpoint{Channels: 1, Rate: 48000, BufferFrameMin: 64, BufferFrameMax: 4096},
		BufferFrames: 1024,
	})
	b.AddDevice(simulated.DeviceConfig{
		ID:           "speakers",
		Output:       simulated.Endpoint{Channels: 2, Rate: 44100, BufferFrameMin: 64, BufferFrameMax: 4096},
		BufferFrames: 1024,
	})
	reg := prometheus.NewRegistry()
	m, err := metrics.NewEngineMetrics(reg)
	require.NoError(t, err)
	ctx := newTestContext(t, b, audiocore.WithMetrics(m))

	var callbackFrames atomic.Int64
	var nonZeroInput atomic.Bool
	s, err := ctx.NewStream(audiocore.StreamOptions{
		InputDevice:   "mic",
		InputParams:   &mono48k,
		OutputDevice:  "speakers",
		OutputParams:  &stereo48k,
		LatencyFrames: 256,
		DataCallback: func(_ *audiocore.Stream, input, output []float32, frames int) int {
			callbackFrames.Store(int64(frames))
			for _, v := range input {
				if v != 0 {
					nonZeroInput.Store(true)
				}
			}
			clear(output)
			return frames
		},
	})
	require.NoError(t, err)
	require.NoError(t, s.Start())

	out := b.OpenUnitFor(audiocore.DirectionOutput)
	require.NotNil(t, out)
	out.Render(256)

	stats := s.Stats()
	assert.Equal(t, uint64(279), stats.SilenceFramesInserted)
	assert.Equal(t, int64(0), stats.AvailableInputFrames)
	assert.Equal(t, int64(279), callbackFrames.Load())
	assert.False(t, nonZeroInput.Load())
	assert.Equal(t, uint64(256), stats.FramesQueued)

	require.NoError(t, s.Destroy())
	expected := `
# HELP duplexaudio_silence_frames_inserted_total Total number of silent input frames inserted to keep the resampler fed
# TYPE duplexaudio_silence_frames_inserted_total counter
duplexaudio_silence_frames_inserted_total 279
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "duplexaudio_silence_frames_inserted_total"))
}

func TestDuplexRenderConsumesCapturedInput(t *testing.T) {
	t.Parallel()

	b := simulated.NewDefault()
	ctx := newTestContext(t, b)

	var sawInput atomic.Bool
	s := newTestStream(t, ctx, audiocore.StreamOptions{
		InputParams:   &mono48k,
		OutputParams:  &stereo48k,
		LatencyFrames: 256,
		DataCallback: func(_ *audiocore.Stream, input, output []float32, frames int) int {
			ok := len(input) == frames
			for _, v := range input {
				ok = ok && v == 0.25
			}
			sawInput.Store(ok)
			clear(output)
			return frames
		},
	})
	require.NoError(t, s.Start())

	in := b.OpenUnitFor(audiocore.DirectionInput)
	captured := make([]float32, 256)
	for i := range captured {
		captured[i] = 0.25
	}
	require.True(t, in.Capture(captured))
	b.OpenUnitFor(audiocore.DirectionOutput).Render(256)

	stats := s.Stats()
	assert.True(t, sawInput.Load())
	assert.Equal(t, uint64(0), stats.SilenceFramesInserted)
	assert.Equal(t, int64(256), stats.FramesRead)
	assert.Equal(t, int64(0), stats.AvailableInputFrames)
}

func TestDuplexCaptureOverflowDropsBlock(t *testing.T) {
	t.Parallel()

	b := simulated.NewDefault()
	ctx := newTestContext(t, b)
	s := newTestStream(t, ctx, audiocore.StreamOptions{
		InputParams:   &mono48k,
		OutputParams:  &stereo48k,
		LatencyFrames: 256,
		DataCallback:  constantOutput(0),
	})
	require.NoError(t, s.Start())

	in := b.OpenUnitFor(audiocore.DirectionInput)
	// the duplex capture buffer holds eight buffers
	for range 8 {
		require.True(t, in.CaptureSilence(256))
	}
	require.True(t, in.CaptureSilence(256))

	stats := s.Stats()
	assert.Equal(t, uint64(1), stats.CaptureOverflows)
	assert.Equal(t, int64(8*256), stats.FramesRead)
}

func TestOutputDrainZeroFillsAndStops(t *testing.T) {
	t.Parallel()

	b := simulated.NewDefault()
	ctx := newTestContext(t, b)
	rec := &stateRecorder{}

	var ticks atomic.Int32
	s := newTestStream(t, ctx, audiocore.StreamOptions{
		OutputParams:  &stereo48k,
		LatencyFrames: 256,
		DataCallback: func(_ *audiocore.Stream, _, output []float32, frames int) int {
			n := frames
			if ticks.Add(1) > 1 {
				n = frames / 2
			}
			for i := range output[:n*2] {
				output[i] = 1
			}
			return n
		},
		StateCallback: rec.callback,
	})
	require.NoError(t, s.Start())
	out := b.OpenUnitFor(audiocore.DirectionOutput)

	full := out.Render(256)
	for _, v := range full {
		require.InDelta(t, 1, v, 0)
	}

	short := out.Render(256)
	for i, v := range short {
		if i < 128*2 {
			require.InDelta(t, 1, v, 0, "sample %d", i)
		} else {
			require.InDelta(t, 0, v, 0, "sample %d must be zero filled", i)
		}
	}
	assert.Equal(t, audiocore.LifecycleDraining, s.Lifecycle())

	after := out.Render(256)
	for _, v := range after {
		require.InDelta(t, 0, v, 0)
	}

	require.Eventually(t, func() bool { return s.Lifecycle() == audiocore.LifecycleStopped }, eventuallyWait, eventuallyTick)
	assert.Equal(t, []audiocore.State{audiocore.StateStarted, audiocore.StateDrained}, rec.get())
	assert.False(t, out.Running())
	assert.Equal(t, uint64(256+128), s.Stats().FramesQueued)
}

func TestRenderCallbackErrorStopsStream(t *testing.T) {
	t.Parallel()

	b := simulated.NewDefault()
	ctx := newTestContext(t, b)
	rec := &stateRecorder{}
	s := newTestStream(t, ctx, audiocore.StreamOptions{
		OutputParams:  &stereo48k,
		LatencyFrames: 256,
		DataCallback: func(_ *audiocore.Stream, _, output []float32, _ int) int {
			for i := range output {
				output[i] = 1
			}
			return -1
		},
		StateCallback: rec.callback,
	})
	require.NoError(t, s.Start())

	out := b.OpenUnitFor(audiocore.DirectionOutput).Render(256)
	for _, v := range out {
		require.InDelta(t, 0, v, 0)
	}
	require.Eventually(t, func() bool { return rec.has(audiocore.StateStopped) }, eventuallyWait, eventuallyTick)
	assert.Equal(t, audiocore.LifecycleStopped, s.Lifecycle())
}

func TestInputOnlyStreamDeliversCapture(t *testing.T) {
	t.Parallel()

	b := simulated.NewDefault()
	ctx := newTestContext(t, b)

	var delivered atomic.Int64
	s := newTestStream(t, ctx, audiocore.StreamOptions{
		InputParams:   &mono48k,
		LatencyFrames: 256,
		DataCallback: func(_ *audiocore.Stream, input, output []float32, frames int) int {
			if output == nil && len(input) == frames {
				delivered.Add(int64(frames))
			}
			return frames
		},
	})
	require.NoError(t, s.Start())

	in := b.OpenUnitFor(audiocore.DirectionInput)
	for range 3 {
		require.True(t, in.CaptureSilence(256))
	}
	assert.Equal(t, int64(768), delivered.Load())
	assert.Equal(t, int64(768), s.Stats().FramesRead)
	assert.Equal(t, audiocore.LifecycleStarted, s.Lifecycle())
}

func TestInputOnlyShortReturnDrains(t *testing.T) {
	t.Parallel()

	b := simulated.NewDefault()
	ctx := newTestContext(t, b)
	rec := &stateRecorder{}
	s := newTestStream(t, ctx, audiocore.StreamOptions{
		InputParams:   &mono48k,
		LatencyFrames: 256,
		DataCallback:  func(*audiocore.Stream, []float32, []float32, int) int { return 0 },
		StateCallback: rec.callback,
	})
	require.NoError(t, s.Start())

	in := b.OpenUnitFor(audiocore.DirectionInput)
	require.True(t, in.CaptureSilence(256))

	require.Eventually(t, func() bool { return s.Lifecycle() == audiocore.LifecycleStopped }, eventuallyWait, eventuallyTick)
	assert.Equal(t, []audiocore.State{audiocore.StateStarted, audiocore.StateDrained}, rec.get())
	assert.False(t, in.Running())
}

func TestStreamLatencyAndPosition(t *testing.T) {
	t.Parallel()

	b := simulated.NewDefault()
	ctx := newTestContext(t, b)
	s := newTestStream(t, ctx, audiocore.StreamOptions{
		OutputParams:  &stereo48k,
		LatencyFrames: 256,
		DataCallback:  constantOutput(0),
	})
	require.NoError(t, s.Start())

	out := b.OpenUnitFor(audiocore.DirectionOutput)
	out.SetPresentationDelay(10 * time.Millisecond)
	for range 3 {
		out.Render(256)
	}

	pos, err := s.Position()
	require.NoError(t, err)
	assert.Equal(t, uint64(512), pos, "position is the played frame counter")

	latency, err := s.Latency()
	require.NoError(t, err)
	assert.Equal(t, uint32(48+16+480), latency)
}

func TestStreamPositionIgnoresDelayChanges(t *testing.T) {
	t.Parallel()

	b := simulated.NewDefault()
	ctx := newTestContext(t, b)
	s := newTestStream(t, ctx, audiocore.StreamOptions{
		OutputParams:  &stereo48k,
		LatencyFrames: 256,
		DataCallback:  constantOutput(0),
	})
	require.NoError(t, s.Start())

	out := b.OpenUnitFor(audiocore.DirectionOutput)
	var last uint64
	for i, delay := range []time.Duration{0, 0, 0, 20 * time.Millisecond, 5 * time.Millisecond, 40 * time.Millisecond} {
		out.SetPresentationDelay(delay)
		out.Render(256)

		pos, err := s.Position()
		require.NoError(t, err)
		assert.GreaterOrEqual(t, pos, last, "position went backwards after render %d", i)
		last = pos
	}
	assert.Equal(t, uint64(5*256), last)
}

func TestStreamVolumeAndPanning(t *testing.T) {
	t.Parallel()

	b := simulated.NewDefault()
	ctx := newTestContext(t, b)
	s := newTestStream(t, ctx, audiocore.StreamOptions{
		OutputParams:  &stereo48k,
		LatencyFrames: 256,
		DataCallback: func(_ *audiocore.Stream, _, output []float32, frames int) int {
			for i := 0; i < len(output); i += 2 {
				output[i], output[i+1] = 1, 0
			}
			return frames
		},
	})

	require.NoError(t, s.SetVolume(0.5))
	assert.InDelta(t, 0.5, b.OpenUnitFor(audiocore.DirectionOutput).Volume(), 1e-6)
	assert.Equal(t, audiocore.KindInvalidParameter, audiocore.KindOf(s.SetVolume(1.5)))

	require.NoError(t, s.SetPanning(1))
	assert.InDelta(t, 1, s.Panning(), 0)
	assert.Equal(t, audiocore.KindInvalidParameter, audiocore.KindOf(s.SetPanning(-2)))

	require.NoError(t, s.Start())
	out := b.OpenUnitFor(audiocore.DirectionOutput).Render(4)
	for i := 0; i < len(out); i += 2 {
		assert.InDelta(t, 0, out[i], 1e-6)
		assert.InDelta(t, 1, out[i+1], 1e-6)
	}
}

func TestStreamPanningNeedsStereoOutput(t *testing.T) {
	t.Parallel()

	b := simulated.NewDefault()
	ctx := newTestContext(t, b)
	s := newTestStream(t, ctx, audiocore.StreamOptions{
		InputParams:  &mono48k,
		DataCallback: constantOutput(0),
	})

	assert.Equal(t, audiocore.KindInvalidParameter, audiocore.KindOf(s.SetPanning(0.5)))
	assert.Equal(t, audiocore.KindInvalidParameter, audiocore.KindOf(s.SetVolume(0.5)))
}

func TestStreamCurrentDevice(t *testing.T) {
	t.Parallel()

	b := simulated.NewDefault()
	ctx := newTestContext(t, b)
	s := newTestStream(t, ctx, audiocore.StreamOptions{
		InputParams:  &mono48k,
		OutputParams: &stereo48k,
		DataCallback: constantOutput(0),
	})

	devices, err := s.CurrentDevice()
	require.NoError(t, err)
	assert.Equal(t, audiocore.StreamDevices{Output: "Internal Speakers", Input: "Internal Microphone"}, devices)
}
