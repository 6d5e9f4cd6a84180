package audiocore

import (
	"sync"
)

// serialQueue runs tasks one at a time, in submission order, on a single
// goroutine. Async never blocks so it is safe to call from backend listener
// goroutines and from tasks running on the queue itself.
type serialQueue struct {
	mu      sync.Mutex
	tasks   []func()
	closed  bool
	wake    chan struct{}
	done    chan struct{}
	running sync.Mutex // held while a task executes
}

func newSerialQueue() *serialQueue {
	q := &serialQueue{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go q.loop()
	return q
}

// Async enqueues fn. Tasks submitted after Close are dropped and Async reports false.
func (q *serialQueue) Async(fn func()) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.tasks = append(q.tasks, fn)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return true
}

// Sync runs fn on the queue and waits for it. After Close, fn runs inline
// once any in-flight task has finished. Sync must not be called from a task.
func (q *serialQueue) Sync(fn func()) {
	finished := make(chan struct{})
	if q.Async(func() {
		defer close(finished)
		fn()
	}) {
		<-finished
		return
	}

	q.running.Lock()
	defer q.running.Unlock()
	fn()
}

// Close runs the tasks already queued, then stops the goroutine and waits for it.
func (q *serialQueue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		<-q.done
		return
	}
	q.closed = true
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	<-q.done
}

func (q *serialQueue) loop() {
	defer close(q.done)
	for {
		q.mu.Lock()
		if len(q.tasks) == 0 {
			if q.closed {
				q.mu.Unlock()
				return
			}
			q.mu.Unlock()
			<-q.wake
			continue
		}
		fn := q.tasks[0]
		q.tasks[0] = nil
		q.tasks = q.tasks[1:]
		q.mu.Unlock()

		q.running.Lock()
		fn()
		q.running.Unlock()
	}
}
