package duplex

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/tphakala/duplexaudio/internal/app"
	"github.com/tphakala/duplexaudio/internal/audiocore"
	"github.com/tphakala/duplexaudio/internal/conf"
)

// Command creates a new cobra.Command that routes the input device to the output device.
func Command(settings *conf.Settings) *cobra.Command {
	var duration time.Duration
	var gain float32

	cmd := &cobra.Command{
		Use:   "duplex",
		Short: "Pass captured audio through to the output",
		Long:  "Opens a duplex stream and copies every input frame to the output, spreading input channels over the output channels.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := app.New(settings)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			return a.Run(cmd.Context(), func(ctx context.Context) error {
				return run(ctx, a, duration, gain, cmd)
			})
		},
	}

	cmd.Flags().DurationVar(&duration, "duration", 0, "Stop after this long, 0 runs until interrupted")
	cmd.Flags().Float32Var(&gain, "gain", 1, "Gain applied to the passed through signal")

	return cmd
}

func run(ctx context.Context, a *app.App, duration time.Duration, gain float32, cmd *cobra.Command) error {
	in, err := a.InputParams()
	if err != nil {
		return err
	}
	out, err := a.OutputParams()
	if err != nil {
		return err
	}

	w := app.NewStreamWaiter()
	s, err := a.Context.NewStream(audiocore.StreamOptions{
		Name:          "duplex",
		InputDevice:   audiocore.DeviceID(a.Settings.Audio.Devices.Input),
		InputParams:   &in,
		OutputDevice:  audiocore.DeviceID(a.Settings.Audio.Devices.Output),
		OutputParams:  &out,
		LatencyFrames: a.Settings.Audio.Stream.LatencyFrames,
		DataCallback:  passthrough(int(in.Channels), int(out.Channels), gain),
		StateCallback: w.Callback,
	})
	if err != nil {
		return err
	}
	defer func() { _ = s.Destroy() }()

	if err := s.SetVolume(a.Settings.Audio.Stream.Volume); err != nil {
		return err
	}

	if _, err := app.PlayStream(ctx, s, w, duration); err != nil {
		return err
	}

	stats := s.Stats()
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "frames read %d, played %d, silence inserted %d, capture overflows %d\n",
		stats.FramesRead, stats.FramesPlayed, stats.SilenceFramesInserted, stats.CaptureOverflows)
	return nil
}

// passthrough copies input frames to the output. Output channel c takes
// input channel c modulo the input channel count.
func passthrough(inChannels, outChannels int, gain float32) audiocore.DataCallback {
	return func(_ *audiocore.Stream, input, output []float32, frames int) int {
		for f := range frames {
			for c := range outChannels {
				var v float32
				if i := f*inChannels + c%inChannels; i < len(input) {
					v = input[i] * gain
				}
				output[f*outChannels+c] = v
			}
		}
		return frames
	}
}
