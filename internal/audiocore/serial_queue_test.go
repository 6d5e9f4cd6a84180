package audiocore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSerialQueueRunsInOrder(t *testing.T) {
	t.Parallel()

	q := newSerialQueue()
	defer q.Close()

	var mu sync.Mutex
	var order []int
	for i := range 50 {
		require.True(t, q.Async(func() {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		}))
	}
	q.Sync(func() {})

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, order, 50)
	for i, v := range order {
		assert.Equal(t, i, v)
	}
}

func TestSerialQueueAsyncFromTask(t *testing.T) {
	t.Parallel()

	q := newSerialQueue()
	defer q.Close()

	done := make(chan struct{})
	q.Async(func() {
		q.Async(func() { close(done) })
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("nested task did not run")
	}
}

func TestSerialQueueCloseDrainsAndRejects(t *testing.T) {
	t.Parallel()

	q := newSerialQueue()
	ran := 0
	for range 10 {
		q.Async(func() { ran++ })
	}
	q.Close()
	assert.Equal(t, 10, ran)

	assert.False(t, q.Async(func() { ran++ }))
	q.Sync(func() { ran++ })
	assert.Equal(t, 11, ran, "Sync after Close runs inline")

	q.Close()
}

func TestWaitForAckImmediate(t *testing.T) {
	t.Parallel()

	ack := make(chan struct{}, 1)
	ack <- struct{}{}
	polls, acked := waitForAck(context.Background(), ack, time.Hour, 30)
	assert.True(t, acked)
	assert.Equal(t, 0, polls)
}

func TestWaitForAckTimesOutAfterAttempts(t *testing.T) {
	t.Parallel()

	ack := make(chan struct{})
	polls, acked := waitForAck(context.Background(), ack, time.Millisecond, 30)
	assert.False(t, acked)
	assert.Equal(t, 30, polls)
}

func TestWaitForAckLateSignal(t *testing.T) {
	t.Parallel()

	ack := make(chan struct{}, 1)
	go func() {
		time.Sleep(5 * time.Millisecond)
		ack <- struct{}{}
	}()
	polls, acked := waitForAck(context.Background(), ack, time.Millisecond, 1000)
	assert.True(t, acked)
	assert.Less(t, polls, 1000)
}

func TestWaitForAckCanceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, acked := waitForAck(ctx, make(chan struct{}), time.Hour, 30)
	assert.False(t, acked)
}
