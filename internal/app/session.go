package app

import (
	"context"
	"time"

	"github.com/tphakala/duplexaudio/internal/audiocore"
	"github.com/tphakala/duplexaudio/internal/logger"
)

// StreamWaiter reports the first terminal state of a stream
type StreamWaiter struct {
	done chan audiocore.State
}

// NewStreamWaiter returns a waiter whose Callback goes into StreamOptions
func NewStreamWaiter() *StreamWaiter {
	return &StreamWaiter{done: make(chan audiocore.State, 1)}
}

// Callback is an audiocore.StateCallback
func (w *StreamWaiter) Callback(s *audiocore.Stream, state audiocore.State) {
	GetLogger().Debug("stream state",
		logger.String("stream", s.Name()),
		logger.String("state", state.String()))

	if state != audiocore.StateStopped && state != audiocore.StateDrained {
		return
	}
	select {
	case w.done <- state:
	default:
	}
}

// Done delivers StateStopped or StateDrained once
func (w *StreamWaiter) Done() <-chan audiocore.State {
	return w.done
}

// PlayStream starts s and keeps it running until ctx ends, duration passes
// (when positive) or the stream stops or drains by itself. It returns the
// terminal state the stream reported, 0 when it was stopped from outside.
func PlayStream(ctx context.Context, s *audiocore.Stream, w *StreamWaiter, duration time.Duration) (audiocore.State, error) {
	if err := s.Start(); err != nil {
		return 0, err
	}

	var timeout <-chan time.Time
	if duration > 0 {
		timer := time.NewTimer(duration)
		defer timer.Stop()
		timeout = timer.C
	}

	var state audiocore.State
	select {
	case <-ctx.Done():
	case <-timeout:
	case state = <-w.Done():
	}

	if err := s.Stop(); err != nil {
		return state, err
	}

	stats := s.Stats()
	GetLogger().Info("stream finished",
		logger.String("stream", s.Name()),
		logger.String("state", state.String()),
		logger.Int64("frames_read", stats.FramesRead),
		logger.Uint64("frames_played", stats.FramesPlayed),
		logger.Uint64("silence_frames", stats.SilenceFramesInserted),
		logger.Uint64("capture_overflows", stats.CaptureOverflows))
	return state, nil
}
