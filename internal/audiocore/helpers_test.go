package audiocore_test

import (
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/tphakala/duplexaudio/internal/audiocore"
	"github.com/tphakala/duplexaudio/internal/audiocore/backends/simulated"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const (
	eventuallyWait = 2 * time.Second
	eventuallyTick = time.Millisecond
)

var (
	stereo48k = audiocore.StreamParams{Format: audiocore.SampleFloat32NE, Rate: 48000, Channels: 2, Layout: audiocore.LayoutStereo}
	mono48k   = audiocore.StreamParams{Format: audiocore.SampleFloat32NE, Rate: 48000, Channels: 1, Layout: audiocore.LayoutMono}
)

// newTestContext returns a Context on b with a fast buffer size poll,
// destroyed when the test ends.
func newTestContext(t *testing.T, b *simulated.Backend, opts ...audiocore.ContextOption) *audiocore.Context {
	t.Helper()

	opts = append([]audiocore.ContextOption{audiocore.WithBufferSizePoll(time.Millisecond, 30)}, opts...)
	ctx, err := audiocore.NewContext(t.Name(), b, opts...)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, ctx.Destroy())
	})
	return ctx
}

// newTestStream creates a stream and destroys it when the test ends
func newTestStream(t *testing.T, ctx *audiocore.Context, opts audiocore.StreamOptions) *audiocore.Stream {
	t.Helper()

	if opts.Name == "" {
		opts.Name = t.Name()
	}
	s, err := ctx.NewStream(opts)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, s.Destroy())
	})
	return s
}

// stateRecorder collects state notifications from any goroutine
type stateRecorder struct {
	mu     sync.Mutex
	states []audiocore.State
}

func (r *stateRecorder) callback(_ *audiocore.Stream, state audiocore.State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, state)
}

func (r *stateRecorder) get() []audiocore.State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.states)
}

func (r *stateRecorder) has(state audiocore.State) bool {
	return slices.Contains(r.get(), state)
}

// constantOutput fills every output sample with v and accepts all frames
func constantOutput(v float32) audiocore.DataCallback {
	return func(_ *audiocore.Stream, _, output []float32, frames int) int {
		for i := range output {
			output[i] = v
		}
		return frames
	}
}

// waitForSwitch waits until s has no device switch in progress
func waitForSwitch(t *testing.T, s *audiocore.Stream) {
	t.Helper()
	require.Eventually(t, func() bool { return !s.SwitchingDevice() }, eventuallyWait, eventuallyTick, "device switch did not finish")
}

func addUSBDAC(b *simulated.Backend) audiocore.DeviceID {
	const id audiocore.DeviceID = "usb-dac"
	b.AddDevice(simulated.DeviceConfig{
		ID:           id,
		Name:         "USB DAC",
		DataSource:   "Line Out",
		Output:       simulated.Endpoint{Channels: 2, Rate: 44100, BufferFrameMin: 32, BufferFrameMax: 2048, PresentationLatency: 24},
		BufferFrames: 512,
	})
	return id
}

func addUSBMic(b *simulated.Backend) audiocore.DeviceID {
	const id audiocore.DeviceID = "usb-mic"
	b.AddDevice(simulated.DeviceConfig{
		ID:           id,
		Name:         "USB Microphone",
		Input:        simulated.Endpoint{Channels: 1, Rate: 48000, BufferFrameMin: 64, BufferFrameMax: 4096},
		BufferFrames: 512,
	})
	return id
}
