package audiocore

import (
	"math"
	"time"

	"github.com/tphakala/duplexaudio/internal/logger"
	"github.com/tphakala/duplexaudio/internal/observability/metrics"
)

// fill adapts the application's data callback for the resampler
func (s *Stream) fill(input, output []float32, frames int) int {
	return s.dataCb(s, input, output, frames)
}

// render is the output unit's callback
func (s *Stream) render(out []float32, frames int, delay time.Duration) {
	ch := s.outChannels
	out = out[:frames*ch]

	if s.shutdown.Load() {
		clear(out)
		return
	}

	s.currentLatencyFrames.Store(uint32(delay.Seconds() * float64(s.outputHWRate)))

	if s.draining.Load() {
		clear(out)
		s.notify(StateDrained)
		if s.drainStopQueued.CompareAndSwap(false, true) {
			s.ctx.queue.Async(s.stopAfterDrain)
		}
		return
	}

	var input []float32
	var inputFrames *int
	consumed := 0
	if s.duplex {
		if n := s.outputCallbacksInARow.Add(1); int(n) > s.expectedOutputCallbacksInARow && s.rtLimiter.Allow() {
			s.log.Debug("output callbacks ahead of input", logger.Int("in_a_row", int(n)))
		}

		minFrames := s.minimumResamplingInputFrames()
		if s.framesRead.Load() == 0 || s.availableInputFrames.Load() < int64(minFrames) {
			if err := s.capture.PushSilence(minFrames * s.inChannels); err != nil {
				s.captureOverflows.Add(1)
			} else {
				s.availableInputFrames.Add(int64(minFrames))
				s.silenceFrames.Add(uint64(minFrames))
			}
		}

		input = s.capture.Data()
		consumed = min(len(input)/s.inChannels, int(s.availableInputFrames.Load()))
		inputFrames = &consumed
	}

	got := s.resampler.Fill(input, inputFrames, out, frames)

	if s.duplex {
		s.availableInputFrames.Add(-int64(consumed))
		s.capture.Pop(consumed * s.inChannels)
	}

	if got < 0 {
		s.shutdown.Store(true)
		clear(out)
		s.ctx.queue.Async(func() { s.failFromCallback(metrics.CallbackErrorRender, got) })
		return
	}

	if got < frames {
		s.draining.Store(true)
		s.lifecycle.CompareAndSwap(int32(LifecycleStarted), int32(LifecycleDraining))
	}

	s.framesPlayed.Store(s.framesQueued.Load())
	s.framesQueued.Add(uint64(got))

	clear(out[got*ch:])

	if ch == 2 {
		if pan := math.Float32frombits(s.panning.Load()); pan != 0 {
			panStereo(out, frames, pan)
		}
	}
}

// captureCallback is the input unit's callback
func (s *Stream) captureCallback(in []float32, frames int) {
	if s.shutdown.Load() {
		return
	}

	if err := s.capture.Push(in[:frames*s.inChannels]); err != nil {
		s.captureOverflows.Add(1)
		if s.rtLimiter.Allow() {
			s.log.Warn("capture buffer full, dropping input",
				logger.Int("frames", frames),
				logger.Int("capacity", s.capture.Capacity()))
		}
		return
	}
	s.framesRead.Add(int64(frames))
	s.availableInputFrames.Add(int64(frames))

	if s.duplex {
		s.outputCallbacksInARow.Store(0)
		return
	}

	data := s.capture.Data()
	buffered := len(data) / s.inChannels
	inputFrames := buffered
	got := s.resampler.Fill(data, &inputFrames, nil, 0)
	s.capture.Clear()
	s.availableInputFrames.Store(0)

	switch {
	case got < 0:
		s.shutdown.Store(true)
		s.ctx.queue.Async(func() { s.failFromCallback(metrics.CallbackErrorCapture, got) })
	case got != buffered:
		// input-only streams drain by returning short
		s.shutdown.Store(true)
		s.lifecycle.CompareAndSwap(int32(LifecycleStarted), int32(LifecycleDraining))
		if s.drainStopQueued.CompareAndSwap(false, true) {
			s.ctx.queue.Async(func() {
				s.notify(StateDrained)
				s.stopAfterDrain()
			})
		}
	}
}

// stopAfterDrain runs on the serial queue once the last drained buffer was delivered
func (s *Stream) stopAfterDrain() {
	if s.destroyed.Load() {
		return
	}
	s.ctx.mu.Lock()
	defer s.ctx.mu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()

	if Lifecycle(s.lifecycle.Load()) != LifecycleDraining {
		return
	}
	s.shutdown.Store(true)
	if err := s.stopUnitsLocked(); err != nil {
		s.log.Warn("failed to stop units after drain", logger.Error(err))
	}
	s.lifecycle.Store(int32(LifecycleStopped))
	s.log.Debug("stream drained")
}

// failFromCallback runs on the serial queue after the data callback reported an error
func (s *Stream) failFromCallback(path string, code int) {
	if s.destroyed.Load() {
		return
	}
	s.ctx.metrics.callbackError(path)
	s.log.Error("data callback failed, stream stopped", logger.String("path", path), logger.Int("result", code))
	s.lifecycle.Store(int32(LifecycleStopped))
	s.notify(StateStopped)
}

// notify delivers state to the state callback unless it was the last state delivered
func (s *Stream) notify(state State) {
	if State(s.lastNotified.Swap(int32(state))) == state {
		return
	}
	s.ctx.metrics.state(state)
	if s.stateCb != nil {
		s.stateCb(s, state)
	}
}

// panStereo applies an equal-power pan to interleaved stereo frames.
// The channel being panned away from is folded into the other one.
func panStereo(buf []float32, frames int, pan float32) {
	p := float64(pan+1) / 2
	left := float32(math.Cos(p * math.Pi / 2))
	right := float32(math.Sin(p * math.Pi / 2))

	for i := range frames {
		l, r := buf[2*i], buf[2*i+1]
		if p < 0.5 {
			buf[2*i] = l + r*left
			buf[2*i+1] = r * right
		} else {
			buf[2*i] = l * left
			buf[2*i+1] = r + l*right
		}
	}
}
