package audiocore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ramp(frames, channels int) []float32 {
	out := make([]float32, frames*channels)
	for i := range frames {
		for c := range channels {
			out[i*channels+c] = float32(i)
		}
	}
	return out
}

func TestLinearConverterPassthrough(t *testing.T) {
	t.Parallel()

	c := newLinearConverter(48000, 48000, 2)
	in := ramp(10, 2)
	out := make([]float32, 20)

	consumed, produced := c.convert(in, 10, out, 6)
	assert.Equal(t, 6, consumed)
	assert.Equal(t, 6, produced)
	assert.Equal(t, in[:12], out[:12])
	assert.Equal(t, 7, c.framesNeeded(7))
}

func TestLinearConverterDownsample(t *testing.T) {
	t.Parallel()

	c := newLinearConverter(48000, 24000, 1)
	in := ramp(9, 1)
	out := make([]float32, 10)

	consumed, produced := c.convert(in, 9, out, 10)
	require.Equal(t, 5, produced)
	assert.Equal(t, []float32{0, 2, 4, 6, 8}, out[:5])
	assert.Equal(t, 9, consumed)
}

func TestLinearConverterInterpolatesAcrossCalls(t *testing.T) {
	t.Parallel()

	// 2 input frames for every 3 output frames
	c := newLinearConverter(32000, 48000, 1)
	in := ramp(8, 1)

	out := make([]float32, 4)
	consumed, produced := c.convert(in, 4, out, 4)
	require.Equal(t, 4, produced)
	assert.InDeltaSlice(t, []float32{0, 2.0 / 3, 4.0 / 3, 2}, out, 1e-5)
	assert.Equal(t, 2, consumed)

	// the converter resumes exactly where it stopped
	out = make([]float32, 3)
	_, produced = c.convert(in[consumed:], 8-consumed, out, 3)
	require.Equal(t, 3, produced)
	assert.InDeltaSlice(t, []float32{2.0/3 + 2, 4.0/3 + 2, 4}, out, 1e-5)
}

func TestLinearConverterFramesNeeded(t *testing.T) {
	t.Parallel()

	c := newLinearConverter(48000, 44100, 2)
	need := c.framesNeeded(256)
	assert.Equal(t, 279, need)

	in := make([]float32, need*2)
	out := make([]float32, 256*2)
	_, produced := c.convert(in, need, out, 256)
	assert.Equal(t, 256, produced, "framesNeeded input must be enough for the requested output")

	c = newLinearConverter(48000, 44100, 2)
	_, produced = c.convert(in, need-1, out, 256)
	assert.Less(t, produced, 256)
}

func TestResamplerDuplexCallsOncePerTick(t *testing.T) {
	t.Parallel()

	calls := 0
	var lastFrames int
	r, err := NewResampler(ResamplerConfig{
		InputRate: 48000, OutputRate: 44100, TargetRate: 48000,
		InputChannels: 1, OutputChannels: 2, MaxFrames: 256,
	}, func(in, out []float32, frames int) int {
		calls++
		lastFrames = frames
		assert.Len(t, in, frames)
		assert.Len(t, out, frames*2)
		for i := range out {
			out[i] = 0.5
		}
		return frames
	})
	require.NoError(t, err)

	input := make([]float32, 400)
	inputFrames := 400
	out := make([]float32, 256*2)
	produced := r.Fill(input, &inputFrames, out, 256)

	assert.Equal(t, 1, calls)
	assert.Equal(t, 279, lastFrames)
	assert.Equal(t, 256, produced)
	assert.Equal(t, 279, inputFrames, "consumed input matches the frames handed to the callback")
	for _, v := range out {
		assert.InDelta(t, 0.5, v, 1e-6)
	}
}

func TestResamplerShortCallbackDrains(t *testing.T) {
	t.Parallel()

	r, err := NewResampler(ResamplerConfig{OutputRate: 48000, TargetRate: 48000, OutputChannels: 1, MaxFrames: 256},
		func(_, out []float32, frames int) int { return frames / 2 })
	require.NoError(t, err)

	out := make([]float32, 256)
	assert.Equal(t, 128, r.Fill(nil, nil, out, 256))
}

func TestResamplerPropagatesError(t *testing.T) {
	t.Parallel()

	r, err := NewResampler(ResamplerConfig{OutputRate: 44100, TargetRate: 48000, OutputChannels: 2, MaxFrames: 256},
		func(_, _ []float32, _ int) int { return -1 })
	require.NoError(t, err)

	assert.Equal(t, -1, r.Fill(nil, nil, make([]float32, 512), 256))
}

func TestResamplerInputOnly(t *testing.T) {
	t.Parallel()

	var seen int
	r, err := NewResampler(ResamplerConfig{InputRate: 48000, TargetRate: 16000, InputChannels: 1, MaxFrames: 256},
		func(in, out []float32, frames int) int {
			assert.Nil(t, out)
			seen += frames
			return frames
		})
	require.NoError(t, err)

	for range 4 {
		frames := 256
		got := r.Fill(make([]float32, 256), &frames, nil, 0)
		assert.Equal(t, 256, got, "accepted input reports every hardware frame")
	}
	// 1024 frames at 48 kHz are about 341 frames at 16 kHz
	assert.InDelta(t, 341, seen, 2)
}

func TestNewResamplerRejectsBadConfig(t *testing.T) {
	t.Parallel()

	cb := func(_, _ []float32, frames int) int { return frames }
	_, err := NewResampler(ResamplerConfig{OutputChannels: 2, TargetRate: 48000}, cb)
	assert.Equal(t, KindResamplerFailure, KindOf(err))

	_, err = NewResampler(ResamplerConfig{TargetRate: 48000}, cb)
	assert.Equal(t, KindResamplerFailure, KindOf(err))

	_, err = NewResampler(ResamplerConfig{OutputRate: 48000, TargetRate: 48000, OutputChannels: 2}, nil)
	assert.Equal(t, KindResamplerFailure, KindOf(err))
}
