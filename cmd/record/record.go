package record

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/tphakala/duplexaudio/internal/app"
	"github.com/tphakala/duplexaudio/internal/audiocore"
	"github.com/tphakala/duplexaudio/internal/conf"
	"github.com/tphakala/duplexaudio/internal/errors"
	"github.com/tphakala/duplexaudio/internal/logger"
	"github.com/tphakala/duplexaudio/internal/wavio"
)

// queueDepth is how many capture buffers may wait for the file writer
const queueDepth = 64

// Command creates a new cobra.Command that records the input device to a WAV file.
func Command(settings *conf.Settings) *cobra.Command {
	var duration time.Duration

	cmd := &cobra.Command{
		Use:   "record [output.wav]",
		Short: "Record the input device to a WAV file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := app.New(settings)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			return a.Run(cmd.Context(), func(ctx context.Context) error {
				frames, err := run(ctx, a, args[0], duration)
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "wrote %d frames to %s\n", frames, args[0])
				return nil
			})
		},
	}

	cmd.Flags().DurationVar(&duration, "duration", 0, "Stop after this long, 0 records until interrupted")

	return cmd
}

// recorder hands captured buffers from the audio callback to the file writer
type recorder struct {
	channels int
	buffers  chan []float32
	dropped  atomic.Uint64
}

func newRecorder(channels uint32) *recorder {
	return &recorder{channels: int(channels), buffers: make(chan []float32, queueDepth)}
}

// callback copies the input and never blocks. Buffers that do not fit in
// the queue are dropped and counted.
func (r *recorder) callback(_ *audiocore.Stream, input, _ []float32, frames int) int {
	buf := make([]float32, min(len(input), frames*r.channels))
	copy(buf, input)
	select {
	case r.buffers <- buf:
	default:
		r.dropped.Add(1)
	}
	return frames
}

// drain writes buffers until the channel is closed
func (r *recorder) drain(w *wavio.Writer) error {
	for buf := range r.buffers {
		if err := w.Write(buf); err != nil {
			return err
		}
	}
	return nil
}

func run(ctx context.Context, a *app.App, path string, duration time.Duration) (int, error) {
	params, err := a.InputParams()
	if err != nil {
		return 0, err
	}

	writer, err := wavio.NewWriter(path, params.Rate, params.Channels)
	if err != nil {
		return 0, err
	}

	rec := newRecorder(params.Channels)
	w := app.NewStreamWaiter()
	s, err := a.Context.NewStream(audiocore.StreamOptions{
		Name:          "record",
		InputDevice:   audiocore.DeviceID(a.Settings.Audio.Devices.Input),
		InputParams:   &params,
		LatencyFrames: a.Settings.Audio.Stream.LatencyFrames,
		DataCallback:  rec.callback,
		StateCallback: w.Callback,
	})
	if err != nil {
		_ = writer.Close()
		return 0, err
	}

	var g errgroup.Group
	g.Go(func() error { return rec.drain(writer) })

	_, playErr := app.PlayStream(ctx, s, w, duration)
	destroyErr := s.Destroy()

	// no callback runs after Destroy, so the queue can be closed
	close(rec.buffers)
	writeErr := g.Wait()
	closeErr := writer.Close()

	if dropped := rec.dropped.Load(); dropped > 0 {
		app.GetLogger().Warn("recording dropped capture buffers", logger.Uint64("buffers", dropped))
	}

	return writer.Frames(), errors.Join(playErr, destroyErr, writeErr, closeErr)
}
