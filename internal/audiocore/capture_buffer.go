package audiocore

import (
	"encoding/binary"
	"math"
	"sync"

	"github.com/smallnest/ringbuffer"

	"github.com/tphakala/duplexaudio/internal/errors"
)

const bytesPerFloat32 = 4

// LinearCaptureBuffer carries captured samples from the capture callback to
// the render callback. The capture side appends into a byte ring; the render
// side drains the ring into a linear slice it can read and pop from.
//
// Length never exceeds Capacity. A push that would exceed it is rejected whole
// with ErrCaptureOverflow.
type LinearCaptureBuffer struct {
	mu       sync.Mutex
	ring     *ringbuffer.RingBuffer
	linear   []float32
	capacity int
	total    int

	writeScratch []byte
	readScratch  []byte
}

// NewLinearCaptureBuffer allocates a buffer holding at most capacity samples
func NewLinearCaptureBuffer(capacity int) (*LinearCaptureBuffer, error) {
	if capacity <= 0 {
		return nil, newError(KindInvalidParameter, "capture_buffer", nil, "capture buffer capacity must be positive, got %d", capacity).Build()
	}
	return &LinearCaptureBuffer{
		ring:         ringbuffer.New(capacity * bytesPerFloat32),
		linear:       make([]float32, 0, capacity),
		capacity:     capacity,
		writeScratch: make([]byte, capacity*bytesPerFloat32),
		readScratch:  make([]byte, capacity*bytesPerFloat32),
	}, nil
}

// Push appends samples. Called from the capture callback.
func (b *LinearCaptureBuffer) Push(samples []float32) error {
	if len(samples) == 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.total+len(samples) > b.capacity {
		return ErrCaptureOverflow
	}

	need := len(samples) * bytesPerFloat32
	// ringbuffer.Write may accept a prefix; only write when the whole block fits
	if b.ring.Free() < need {
		b.drainLocked()
	}
	if b.ring.Free() < need {
		return ErrCaptureOverflow
	}

	buf := b.writeScratch[:need]
	for i, v := range samples {
		binary.LittleEndian.PutUint32(buf[i*bytesPerFloat32:], math.Float32bits(v))
	}
	n, err := b.ring.Write(buf)
	if err != nil {
		if errors.Is(err, ringbuffer.ErrIsFull) {
			return ErrCaptureOverflow
		}
		return newError(KindGeneric, "capture_buffer", err, "capture ring write failed").Build()
	}
	b.total += n / bytesPerFloat32
	return nil
}

// PushSilence appends samples zero values
func (b *LinearCaptureBuffer) PushSilence(samples int) error {
	if samples <= 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.total+samples > b.capacity {
		return ErrCaptureOverflow
	}
	b.drainLocked()
	start := len(b.linear)
	b.linear = b.linear[:start+samples]
	clear(b.linear[start:])
	b.total += samples
	return nil
}

// Data returns every buffered sample in arrival order. The slice is valid
// until the next Pop, PushSilence or Clear and must only be used by the consumer.
func (b *LinearCaptureBuffer) Data() []float32 {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.drainLocked()
	return b.linear
}

// Pop discards up to samples samples from the front
func (b *LinearCaptureBuffer) Pop(samples int) {
	if samples <= 0 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if samples > len(b.linear) {
		b.drainLocked()
	}
	n := min(samples, len(b.linear))
	remaining := copy(b.linear, b.linear[n:])
	b.linear = b.linear[:remaining]
	b.total -= n
}

// Length returns the number of buffered samples
func (b *LinearCaptureBuffer) Length() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.total
}

// Capacity returns the maximum number of samples the buffer holds
func (b *LinearCaptureBuffer) Capacity() int {
	return b.capacity
}

// Clear drops all buffered samples
func (b *LinearCaptureBuffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.ring.Reset()
	b.linear = b.linear[:0]
	b.total = 0
}

// drainLocked moves everything in the ring to the end of linear. b.mu must be held.
func (b *LinearCaptureBuffer) drainLocked() {
	pending := b.ring.Length()
	if pending == 0 {
		return
	}
	n, err := b.ring.Read(b.readScratch[:pending])
	if err != nil && n == 0 {
		return
	}
	start := len(b.linear)
	count := n / bytesPerFloat32
	b.linear = b.linear[:start+count]
	for i := range count {
		b.linear[start+i] = math.Float32frombits(binary.LittleEndian.Uint32(b.readScratch[i*bytesPerFloat32:]))
	}
}
