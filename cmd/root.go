package cmd

import (
	"github.com/spf13/cobra"

	"github.com/tphakala/duplexaudio/cmd/devices"
	"github.com/tphakala/duplexaudio/cmd/duplex"
	"github.com/tphakala/duplexaudio/cmd/monitor"
	"github.com/tphakala/duplexaudio/cmd/play"
	"github.com/tphakala/duplexaudio/cmd/record"
	"github.com/tphakala/duplexaudio/internal/app"
	"github.com/tphakala/duplexaudio/internal/buildinfo"
	"github.com/tphakala/duplexaudio/internal/conf"
	"github.com/tphakala/duplexaudio/internal/logger"
)

// RootCommand creates and returns the root command
func RootCommand(settings *conf.Settings, info *buildinfo.Info) *cobra.Command {
	var flushSentry func()

	rootCmd := &cobra.Command{
		Use:           "duplexaudio",
		Short:         "Duplex audio engine CLI",
		Version:       info.String(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Set up the global flags for the root command.
	setupFlags(rootCmd, settings)

	rootCmd.AddCommand(
		devices.Command(settings),
		duplex.Command(settings),
		record.Command(settings),
		play.Command(settings),
		monitor.Command(settings),
	)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if err := conf.ValidateSettings(settings); err != nil {
			return err
		}

		if _, err := app.InitLogging(settings); err != nil {
			return err
		}

		flush, err := app.InitSentry(settings, info)
		if err != nil {
			// error reporting is optional, keep going without it
			logger.Global().Module("main").Warn("error reporting disabled", logger.Error(err))
		}
		flushSentry = flush
		return nil
	}

	rootCmd.PersistentPostRun = func(cmd *cobra.Command, args []string) {
		if flushSentry != nil {
			flushSentry()
		}
		if err := logger.Global().Flush(); err != nil {
			cmd.PrintErrln("failed to flush logs:", err)
		}
	}

	return rootCmd
}

// setupFlags defines flags that are global to the command line interface.
// Defaults come from the loaded settings so flags override file and env values.
func setupFlags(rootCmd *cobra.Command, settings *conf.Settings) {
	flags := rootCmd.PersistentFlags()
	flags.BoolVarP(&settings.Debug, "debug", "d", settings.Debug, "Enable debug output")
	flags.StringVar(&settings.Audio.Backend, "backend", settings.Audio.Backend, "Audio backend (auto, malgo, simulated)")
	flags.StringVar(&settings.Audio.Malgo.Backend, "malgo-backend", settings.Audio.Malgo.Backend, "miniaudio backend (alsa, pulseaudio, jack, wasapi, coreaudio, null)")
	flags.StringVar(&settings.Audio.Devices.Input, "input-device", settings.Audio.Devices.Input, "Input device id, empty for the system default")
	flags.StringVar(&settings.Audio.Devices.Output, "output-device", settings.Audio.Devices.Output, "Output device id, empty for the system default")
	flags.Uint32Var(&settings.Audio.Stream.Rate, "rate", settings.Audio.Stream.Rate, "Stream sample rate in Hz")
	flags.Uint32Var(&settings.Audio.Stream.Channels, "channels", settings.Audio.Stream.Channels, "Output channel count")
	flags.Uint32Var(&settings.Audio.Stream.InputChannels, "input-channels", settings.Audio.Stream.InputChannels, "Input channel count")
	flags.StringVar(&settings.Audio.Stream.Format, "format", settings.Audio.Stream.Format, "Sample format (s16le, s16be, f32le, f32be)")
	flags.Uint32Var(&settings.Audio.Stream.LatencyFrames, "latency", settings.Audio.Stream.LatencyFrames, "Requested latency in frames")
	flags.Float32Var(&settings.Audio.Stream.Volume, "volume", settings.Audio.Stream.Volume, "Output volume between 0.0 and 1.0")
	flags.BoolVar(&settings.Telemetry.Enabled, "telemetry", settings.Telemetry.Enabled, "Enable Prometheus telemetry endpoint")
	flags.StringVar(&settings.Telemetry.Listen, "listen", settings.Telemetry.Listen, "Listen address and port of telemetry endpoint")
}
