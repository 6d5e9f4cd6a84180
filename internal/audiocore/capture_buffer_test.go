package audiocore

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/duplexaudio/internal/errors"
)

func TestLinearCaptureBufferOrdering(t *testing.T) {
	t.Parallel()

	b, err := NewLinearCaptureBuffer(16)
	require.NoError(t, err)

	require.NoError(t, b.Push([]float32{1, 2, 3}))
	require.NoError(t, b.PushSilence(2))
	require.NoError(t, b.Push([]float32{4}))

	assert.Equal(t, 6, b.Length())
	assert.Equal(t, []float32{1, 2, 3, 0, 0, 4}, b.Data())

	b.Pop(4)
	assert.Equal(t, 2, b.Length())
	assert.Equal(t, []float32{0, 4}, b.Data())

	b.Pop(10)
	assert.Equal(t, 0, b.Length())
	assert.Empty(t, b.Data())
}

func TestLinearCaptureBufferOverflow(t *testing.T) {
	t.Parallel()

	b, err := NewLinearCaptureBuffer(4)
	require.NoError(t, err)

	require.NoError(t, b.Push([]float32{1, 2, 3}))
	err = b.Push([]float32{4, 5})
	require.ErrorIs(t, err, ErrCaptureOverflow)
	assert.Equal(t, 3, b.Length(), "a rejected push must not be partially applied")

	require.ErrorIs(t, b.PushSilence(2), ErrCaptureOverflow)
	require.NoError(t, b.Push([]float32{4}))
	assert.Equal(t, b.Capacity(), b.Length())
}

func TestLinearCaptureBufferClear(t *testing.T) {
	t.Parallel()

	b, err := NewLinearCaptureBuffer(8)
	require.NoError(t, err)
	require.NoError(t, b.Push([]float32{1, 2}))
	_ = b.Data()
	require.NoError(t, b.Push([]float32{3}))

	b.Clear()
	assert.Equal(t, 0, b.Length())
	require.NoError(t, b.Push(make([]float32, 8)))
}

func TestLinearCaptureBufferInvalidCapacity(t *testing.T) {
	t.Parallel()

	_, err := NewLinearCaptureBuffer(0)
	require.Error(t, err)
	assert.Equal(t, KindInvalidParameter, KindOf(err))
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation))
}

func TestLinearCaptureBufferConcurrentProducer(t *testing.T) {
	t.Parallel()

	const blocks, blockSize = 200, 8
	b, err := NewLinearCaptureBuffer(blocks * blockSize)
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Go(func() {
		for i := range blocks {
			block := make([]float32, blockSize)
			for j := range block {
				block[j] = float32(i)
			}
			assert.NoError(t, b.Push(block))
		}
	})

	var got []float32
	for len(got) < blocks*blockSize {
		data := b.Data()
		got = append(got, data...)
		b.Pop(len(data))
	}
	wg.Wait()

	for i := range blocks {
		assert.InDelta(t, float32(i), got[i*blockSize], 0, "block %d out of order", i)
	}
}
