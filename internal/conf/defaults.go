// conf/defaults.go default values for settings
package conf

import (
	"time"

	"github.com/spf13/viper"

	"github.com/tphakala/duplexaudio/internal/audiocore"
	"github.com/tphakala/duplexaudio/internal/logger"
)

// Sets default values for the configuration.
func setDefaultConfig(v *viper.Viper) {
	v.SetDefault("debug", false)

	v.SetDefault("audio.backend", BackendAuto)
	v.SetDefault("audio.malgo.backend", "")
	v.SetDefault("audio.malgo.pollinterval", 500*time.Millisecond)
	v.SetDefault("audio.malgo.nommap", false)

	v.SetDefault("audio.devices.input", "")
	v.SetDefault("audio.devices.output", "")

	v.SetDefault("audio.stream.rate", 48000)
	v.SetDefault("audio.stream.channels", 2)
	v.SetDefault("audio.stream.inputchannels", 1)
	v.SetDefault("audio.stream.format", audiocore.SampleFloat32NE.String())
	v.SetDefault("audio.stream.latencyframes", audiocore.SafeMinLatencyFrames)
	v.SetDefault("audio.stream.volume", 1.0)

	v.SetDefault("audio.buffersizepoll.interval", audiocore.BufferSizePollInterval)
	v.SetDefault("audio.buffersizepoll.attempts", audiocore.BufferSizePollAttempts)
	v.SetDefault("audio.devicecachettl", 30*time.Second)

	v.SetDefault("logging.default_level", logger.DefaultLogLevel)
	v.SetDefault("logging.timezone", "Local")
	v.SetDefault("logging.console.enabled", logger.DefaultConsoleEnabled)
	v.SetDefault("logging.console.level", logger.DefaultLogLevel)
	v.SetDefault("logging.file_output.enabled", logger.DefaultFileEnabled)
	v.SetDefault("logging.file_output.path", logger.DefaultLogPath)
	v.SetDefault("logging.file_output.level", logger.DefaultLogLevel)

	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.listen", "0.0.0.0:8090")

	v.SetDefault("sentry.enabled", false)
	v.SetDefault("sentry.dsn", "")
	v.SetDefault("sentry.environment", "production")
}
