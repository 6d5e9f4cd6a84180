// env.go - Environment variable configuration and validation for duplexaudio
package conf

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/tphakala/duplexaudio/internal/audiocore"
)

// envBinding holds metadata for environment variable bindings (internal use)
type envBinding struct {
	ConfigKey string             // Viper config key
	EnvVar    string             // Environment variable name
	Validate  func(string) error // Optional validation function
}

// getEnvBindings returns all environment variable bindings with validation
func getEnvBindings() []envBinding {
	return []envBinding{
		{"debug", "DUPLEXAUDIO_DEBUG", validateEnvBool},

		// Audio backend
		{"audio.backend", "DUPLEXAUDIO_BACKEND", validateEnvBackend},
		{"audio.malgo.backend", "DUPLEXAUDIO_MALGO_BACKEND", nil},
		{"audio.malgo.pollinterval", "DUPLEXAUDIO_MALGO_POLLINTERVAL", validateEnvDuration},
		{"audio.malgo.nommap", "DUPLEXAUDIO_MALGO_NOMMAP", validateEnvBool},

		// Devices
		{"audio.devices.input", "DUPLEXAUDIO_INPUT_DEVICE", nil},
		{"audio.devices.output", "DUPLEXAUDIO_OUTPUT_DEVICE", nil},

		// Stream
		{"audio.stream.rate", "DUPLEXAUDIO_RATE", validateEnvRate},
		{"audio.stream.channels", "DUPLEXAUDIO_CHANNELS", validateEnvChannels},
		{"audio.stream.inputchannels", "DUPLEXAUDIO_INPUT_CHANNELS", validateEnvChannels},
		{"audio.stream.format", "DUPLEXAUDIO_FORMAT", validateEnvFormat},
		{"audio.stream.latencyframes", "DUPLEXAUDIO_LATENCY_FRAMES", validateEnvUint},

		// Observability
		{"logging.default_level", "DUPLEXAUDIO_LOG_LEVEL", nil},
		{"telemetry.enabled", "DUPLEXAUDIO_TELEMETRY_ENABLED", validateEnvBool},
		{"telemetry.listen", "DUPLEXAUDIO_TELEMETRY_LISTEN", nil},
		{"sentry.enabled", "DUPLEXAUDIO_SENTRY_ENABLED", validateEnvBool},
		{"sentry.dsn", "DUPLEXAUDIO_SENTRY_DSN", nil},
	}
}

// bindEnvVars sets up environment variable bindings with validation (internal)
func bindEnvVars(v *viper.Viper) error {
	var warnings []string

	for _, binding := range getEnvBindings() {
		// Bind the environment variable to the config key
		if err := v.BindEnv(binding.ConfigKey, binding.EnvVar); err != nil {
			warnings = append(warnings, fmt.Sprintf("Failed to bind %s: %v", binding.EnvVar, err))
			continue
		}

		// Validate the value if it's set and validation function is provided
		if binding.Validate != nil {
			if envValue := os.Getenv(binding.EnvVar); envValue != "" {
				if err := binding.Validate(envValue); err != nil {
					warnings = append(warnings, fmt.Sprintf("Invalid %s value '%s': %v", binding.EnvVar, envValue, err))
				}
			}
		}
	}

	if len(warnings) > 0 {
		return fmt.Errorf("environment variable issues:\n  - %s", strings.Join(warnings, "\n  - "))
	}

	return nil
}

// Environment variable validation functions

// validateEnvBool validates boolean environment variables
func validateEnvBool(value string) error {
	if _, err := strconv.ParseBool(value); err != nil {
		return fmt.Errorf("must be true or false")
	}
	return nil
}

func validateEnvDuration(value string) error {
	if _, err := time.ParseDuration(value); err != nil {
		return fmt.Errorf("must be a duration such as 500ms")
	}
	return nil
}

func validateEnvUint(value string) error {
	if _, err := strconv.ParseUint(value, 10, 32); err != nil {
		return fmt.Errorf("must be a non-negative integer")
	}
	return nil
}

func validateEnvRate(value string) error {
	rate, err := strconv.ParseUint(value, 10, 32)
	if err != nil {
		return fmt.Errorf("must be an integer sample rate")
	}
	return validateRate(uint32(rate))
}

func validateEnvChannels(value string) error {
	channels, err := strconv.ParseUint(value, 10, 32)
	if err != nil {
		return fmt.Errorf("must be an integer channel count")
	}
	return validateChannels(uint32(channels))
}

func validateEnvFormat(value string) error {
	_, err := audiocore.ParseSampleFormat(value)
	return err
}

func validateEnvBackend(value string) error {
	return validateBackend(value)
}
