package play

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tphakala/duplexaudio/internal/app"
	"github.com/tphakala/duplexaudio/internal/audiocore"
	"github.com/tphakala/duplexaudio/internal/conf"
	"github.com/tphakala/duplexaudio/internal/logger"
	"github.com/tphakala/duplexaudio/internal/wavio"
)

// Command creates a new cobra.Command that plays a WAV file on the output device.
func Command(settings *conf.Settings) *cobra.Command {
	var loop bool

	cmd := &cobra.Command{
		Use:   "play [input.wav]",
		Short: "Play a WAV file",
		Long:  "Plays a 16, 24 or 32 bit PCM WAV file. The stream runs at the file's rate and channel count.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			clip, err := wavio.ReadFile(args[0])
			if err != nil {
				return err
			}

			a, err := app.New(settings)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			return a.Run(cmd.Context(), func(ctx context.Context) error {
				state, err := run(ctx, a, clip, loop)
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "playback %s after %d frames\n", describe(state), clip.Frames())
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&loop, "loop", false, "Repeat the file until interrupted")

	return cmd
}

func describe(state audiocore.State) string {
	if state == audiocore.StateDrained {
		return "finished"
	}
	return "stopped"
}

// player feeds a clip to the output. Only the audio callback touches pos.
type player struct {
	clip *wavio.Clip
	pos  int
	loop bool
}

// callback copies the next frames of the clip and returns fewer frames
// than requested at the end, which drains the stream.
func (p *player) callback(_ *audiocore.Stream, _, output []float32, frames int) int {
	ch := int(p.clip.Channels)
	total := p.clip.Frames()
	written := 0

	for written < frames {
		if p.pos >= total {
			if !p.loop || total == 0 {
				break
			}
			p.pos = 0
		}
		n := min(frames-written, total-p.pos)
		copy(output[written*ch:(written+n)*ch], p.clip.Samples[p.pos*ch:(p.pos+n)*ch])
		written += n
		p.pos += n
	}

	clear(output[written*ch : frames*ch])
	return written
}

func run(ctx context.Context, a *app.App, clip *wavio.Clip, loop bool) (audiocore.State, error) {
	format, err := audiocore.ParseSampleFormat(a.Settings.Audio.Stream.Format)
	if err != nil {
		return 0, err
	}
	params := audiocore.StreamParams{
		Format:   format,
		Rate:     clip.Rate,
		Channels: clip.Channels,
		Layout:   audiocore.LayoutForChannels(clip.Channels),
	}

	p := &player{clip: clip, loop: loop}
	w := app.NewStreamWaiter()
	s, err := a.Context.NewStream(audiocore.StreamOptions{
		Name:          "play",
		OutputDevice:  audiocore.DeviceID(a.Settings.Audio.Devices.Output),
		OutputParams:  &params,
		LatencyFrames: a.Settings.Audio.Stream.LatencyFrames,
		DataCallback:  p.callback,
		StateCallback: w.Callback,
	})
	if err != nil {
		return 0, err
	}
	defer func() { _ = s.Destroy() }()

	if err := s.SetVolume(a.Settings.Audio.Stream.Volume); err != nil {
		return 0, err
	}

	app.GetLogger().Info("playing clip",
		logger.Uint32("rate", clip.Rate),
		logger.Uint32("channels", clip.Channels),
		logger.Int("frames", clip.Frames()),
		logger.Bool("loop", loop))

	return app.PlayStream(ctx, s, w, 0)
}
