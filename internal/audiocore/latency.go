package audiocore

import (
	"time"

	"github.com/tphakala/duplexaudio/internal/logger"
	"github.com/tphakala/duplexaudio/internal/observability/metrics"
)

// clampLatencyLocked picks the latency for a stream that has just been
// counted in. The first active stream clamps into the safe range intersected
// with every unit's buffer range and publishes it; later streams reuse it.
// c.mu must be held.
func (c *Context) clampLatencyLocked(requested uint32, units ...HardwareUnit) uint32 {
	if c.activeStreams > 1 && c.globalLatency != 0 {
		return c.globalLatency
	}

	lo, hi := uint32(SafeMinLatencyFrames), uint32(SafeMaxLatencyFrames)
	for _, u := range units {
		if u == nil {
			continue
		}
		unitLo, unitHi, err := u.BufferFrameRange()
		if err != nil || unitLo == 0 || unitHi == 0 {
			continue
		}
		lo, hi = intersectRange(lo, hi, unitLo, unitHi)
	}

	latency := clampFrames(requested, lo, hi)
	c.globalLatency = latency
	c.metrics.streams(c.activeStreams, c.globalLatency)
	return latency
}

// intersectRange narrows [lo, hi] by [unitLo, unitHi]. Disjoint ranges keep [lo, hi].
func intersectRange(lo, hi, unitLo, unitHi uint32) (uint32, uint32) {
	nlo, nhi := max(lo, unitLo), min(hi, unitHi)
	if nlo > nhi {
		return lo, hi
	}
	return nlo, nhi
}

func clampFrames(v, lo, hi uint32) uint32 {
	switch {
	case v < lo:
		return lo
	case v > hi:
		return hi
	default:
		return v
	}
}

// setBufferSize negotiates the hardware buffer size of unit. Backends may
// apply the change asynchronously; the acknowledgement arrives through the
// buffer size listener and is awaited for at most pollAttempts × pollInterval.
func (s *Stream) setBufferSize(unit HardwareUnit, frames uint32) error {
	dir := unit.Direction()
	log := s.log.With(logger.String("direction", dir.String()), logger.Uint32("frames", frames))

	current, err := unit.BufferFrames()
	if err != nil {
		s.ctx.metrics.bufferSize(dir, metrics.StatusError, 0)
		return wrapBackend(err, "set_buffer_size", dir)
	}
	if current == frames {
		log.Trace("buffer size already set")
		s.ctx.metrics.bufferSize(dir, metrics.StatusSkipped, 0)
		return nil
	}

	ack := make(chan struct{}, 1)
	if err := unit.AddBufferSizeListener(func(scope Direction, _ uint32) {
		if scope != dir {
			return
		}
		s.bufferSizeAcked.Store(true)
		select {
		case ack <- struct{}{}:
		default:
		}
	}); err != nil {
		s.ctx.metrics.bufferSize(dir, metrics.StatusError, 0)
		return wrapBackend(err, "set_buffer_size", dir)
	}

	s.bufferSizeAcked.Store(false)

	if err := unit.SetBufferFrames(frames); err != nil {
		if rmErr := unit.RemoveBufferSizeListener(); rmErr != nil {
			log.Warn("failed to remove buffer size listener", logger.Error(rmErr))
		}
		s.ctx.metrics.bufferSize(dir, metrics.StatusError, 0)
		return wrapBackend(err, "set_buffer_size", dir)
	}

	started := time.Now()
	polls, acked := waitForAck(s.ctx.base, ack, s.ctx.pollInterval, s.ctx.pollAttempts)
	acked = acked || s.bufferSizeAcked.Load()

	if err := unit.RemoveBufferSizeListener(); err != nil {
		s.ctx.metrics.bufferSize(dir, metrics.StatusError, polls)
		return wrapBackend(err, "set_buffer_size", dir)
	}

	if !acked {
		s.ctx.metrics.bufferSize(dir, metrics.StatusTimeout, polls)
		return newError(KindTimeout, "set_buffer_size", nil,
			"%s buffer size change to %d frames was not acknowledged", dir, frames).
			Context("polls", polls).
			Context("direction", dir.String()).
			Timing("set_buffer_size", time.Since(started)).
			Build()
	}

	s.ctx.metrics.bufferSize(dir, metrics.StatusSuccess, polls)
	log.Debug("buffer size changed", logger.Int("polls", polls))
	return nil
}

// Latency returns the stream's output latency in frames: the hardware
// latency plus the presentation delay reported by the last render callback.
func (s *Stream) Latency() (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.lifecycle.Load() == int32(LifecycleDestroyed) {
		return 0, newError(KindGeneric, "get_latency", nil, "stream is destroyed").Build()
	}

	if !s.hwLatencyValid {
		unit, rate := s.outputUnit, s.outputHWRate
		if unit == nil {
			unit, rate = s.inputUnit, s.inputHWRate
		}
		if unit == nil {
			return 0, newError(KindGeneric, "get_latency", nil, "stream has no units").Build()
		}
		info, err := unit.Latency()
		if err != nil {
			return 0, wrapBackend(err, "get_latency", unit.Direction())
		}
		s.hwLatencyFrames = uint32(info.UnitLatency.Seconds()*float64(rate)) + info.DeviceLatencyFrames + info.SafetyOffsetFrames
		s.hwLatencyValid = true
	}

	return s.hwLatencyFrames + s.currentLatencyFrames.Load(), nil
}

// minimumResamplingInputFrames is the number of input frames the resampler
// needs to produce one output buffer.
func (s *Stream) minimumResamplingInputFrames() int {
	if s.inputHWRate == s.outputHWRate || s.outputHWRate == 0 {
		return int(s.inputBufferFrames)
	}
	num := uint64(s.inputHWRate) * uint64(s.inputBufferFrames)
	den := uint64(s.outputHWRate)
	return int((num + den - 1) / den)
}
