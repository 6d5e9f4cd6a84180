package play

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tphakala/duplexaudio/internal/audiocore"
	"github.com/tphakala/duplexaudio/internal/wavio"
)

func stereoClip() *wavio.Clip {
	return &wavio.Clip{
		Samples:  []float32{0.1, -0.1, 0.2, -0.2, 0.3, -0.3},
		Rate:     44100,
		Channels: 2,
	}
}

func TestPlayerReturnsShortAtEnd(t *testing.T) {
	t.Parallel()

	p := &player{clip: stereoClip()}
	out := make([]float32, 4)

	assert.Equal(t, 2, p.callback(nil, nil, out, 2))
	assert.Equal(t, []float32{0.1, -0.1, 0.2, -0.2}, out)

	assert.Equal(t, 1, p.callback(nil, nil, out, 2))
	assert.Equal(t, []float32{0.3, -0.3, 0, 0}, out)

	assert.Equal(t, 0, p.callback(nil, nil, out, 2))
	assert.Equal(t, []float32{0, 0, 0, 0}, out)
}

func TestPlayerLoops(t *testing.T) {
	t.Parallel()

	p := &player{clip: stereoClip(), loop: true}
	out := make([]float32, 8)

	assert.Equal(t, 4, p.callback(nil, nil, out, 4))
	assert.Equal(t, []float32{0.1, -0.1, 0.2, -0.2, 0.3, -0.3, 0.1, -0.1}, out)
	assert.Equal(t, 1, p.pos)
}

func TestPlayerEmptyClipDrainsImmediately(t *testing.T) {
	t.Parallel()

	p := &player{clip: &wavio.Clip{Rate: 48000, Channels: 1}, loop: true}
	out := []float32{1, 1}
	assert.Equal(t, 0, p.callback(nil, nil, out, 2))
	assert.Equal(t, []float32{0, 0}, out)
}

func TestDescribe(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "finished", describe(audiocore.StateDrained))
	assert.Equal(t, "stopped", describe(audiocore.StateStopped))
	assert.Equal(t, "stopped", describe(0))
}
