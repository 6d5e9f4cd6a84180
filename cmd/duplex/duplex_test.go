package duplex

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPassthroughSpreadsMonoToStereo(t *testing.T) {
	t.Parallel()

	cb := passthrough(1, 2, 1)
	output := make([]float32, 6)
	got := cb(nil, []float32{0.1, 0.2, 0.3}, output, 3)

	assert.Equal(t, 3, got)
	assert.Equal(t, []float32{0.1, 0.1, 0.2, 0.2, 0.3, 0.3}, output)
}

func TestPassthroughDropsExtraInputChannels(t *testing.T) {
	t.Parallel()

	cb := passthrough(2, 1, 0.5)
	output := make([]float32, 2)
	cb(nil, []float32{0.4, -1, 0.8, -1}, output, 2)

	assert.InDeltaSlice(t, []float32{0.2, 0.4}, output, 1e-6)
}

func TestPassthroughSilenceWithoutInput(t *testing.T) {
	t.Parallel()

	cb := passthrough(2, 2, 1)
	output := []float32{9, 9, 9, 9}
	assert.Equal(t, 2, cb(nil, nil, output, 2))
	assert.Equal(t, []float32{0, 0, 0, 0}, output)
}
