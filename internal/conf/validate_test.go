package conf

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validSettings() *Settings {
	return &Settings{
		Audio: AudioSettings{
			Backend: BackendAuto,
			Stream: StreamSettings{
				Rate:          48000,
				Channels:      2,
				InputChannels: 1,
				Format:        "f32le",
				LatencyFrames: 256,
				Volume:        1,
			},
			BufferSizePoll: PollSettings{Interval: 100 * time.Millisecond, Attempts: 30},
		},
		Telemetry: TelemetrySettings{Listen: "localhost:8090"},
	}
}

func TestValidateSettings(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(s *Settings)
		wantErr string
	}{
		{"valid", func(*Settings) {}, ""},
		{"simulated backend", func(s *Settings) { s.Audio.Backend = "Simulated" }, ""},
		{"unknown backend", func(s *Settings) { s.Audio.Backend = "portaudio" }, "unknown audio backend"},
		{"unknown malgo backend", func(s *Settings) { s.Audio.Malgo.Backend = "oss" }, "unknown malgo backend"},
		{"rate too low", func(s *Settings) { s.Audio.Stream.Rate = 4000 }, "sample rate 4000"},
		{"too many channels", func(s *Settings) { s.Audio.Stream.Channels = 9 }, "output channel count 9"},
		{"no input channels", func(s *Settings) { s.Audio.Stream.InputChannels = 0 }, "input channel count 0"},
		{"bad format", func(s *Settings) { s.Audio.Stream.Format = "u8" }, "unknown sample format"},
		{"volume above one", func(s *Settings) { s.Audio.Stream.Volume = 1.5 }, "volume"},
		{"zero poll interval", func(s *Settings) { s.Audio.BufferSizePoll.Interval = 0 }, "poll interval"},
		{"zero poll attempts", func(s *Settings) { s.Audio.BufferSizePoll.Attempts = 0 }, "poll attempts"},
		{"negative cache ttl", func(s *Settings) { s.Audio.DeviceCacheTTL = -time.Second }, "cache TTL"},
		{"telemetry without port", func(s *Settings) {
			s.Telemetry.Enabled = true
			s.Telemetry.Listen = "localhost"
		}, "telemetry listen address"},
		{"telemetry disabled ignores address", func(s *Settings) { s.Telemetry.Listen = "" }, ""},
		{"sentry without dsn", func(s *Settings) { s.Sentry.Enabled = true }, "no DSN"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := validSettings()
			tt.mutate(s)
			err := ValidateSettings(s)
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestEnvValidators(t *testing.T) {
	t.Parallel()

	assert.NoError(t, validateEnvBool("true"))
	assert.Error(t, validateEnvBool("yes please"))
	assert.NoError(t, validateEnvDuration("250ms"))
	assert.Error(t, validateEnvDuration("soon"))
	assert.NoError(t, validateEnvRate("44100"))
	assert.Error(t, validateEnvRate("100"))
	assert.Error(t, validateEnvChannels("many"))
	assert.NoError(t, validateEnvFormat("s16le"))
	assert.Error(t, validateEnvFormat("mp3"))
	assert.NoError(t, validateEnvBackend("malgo"))
}
