// conf/validate.go

package conf

import (
	"fmt"
	"net"
	"slices"
	"strings"

	"github.com/tphakala/duplexaudio/internal/audiocore"
)

// Limits on stream settings
const (
	MinSampleRate = 8000
	MaxSampleRate = 384000
	MaxChannels   = 8
)

// malgoBackends are the miniaudio backend names audio.malgo.backend accepts
var malgoBackends = []string{"", "auto", "alsa", "pulseaudio", "jack", "wasapi", "coreaudio", "null"}

// ValidationError represents a collection of validation errors
type ValidationError struct {
	Errors []string
}

// Error returns a string representation of the validation errors
func (ve ValidationError) Error() string {
	return fmt.Sprintf("Validation errors: %v", ve.Errors)
}

// ValidateSettings validates the entire Settings struct
func ValidateSettings(settings *Settings) error {
	ve := ValidationError{}

	// Validate Audio settings
	if err := validateAudioSettings(&settings.Audio); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}

	// Validate Telemetry settings
	if err := validateTelemetrySettings(&settings.Telemetry); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}

	// Validate Sentry settings
	if settings.Sentry.Enabled && settings.Sentry.DSN == "" {
		ve.Errors = append(ve.Errors, "sentry is enabled but no DSN is set")
	}

	if len(ve.Errors) > 0 {
		return ve
	}
	return nil
}

func validateBackend(name string) error {
	switch strings.ToLower(name) {
	case BackendAuto, BackendMalgo, BackendSimulated:
		return nil
	}
	return fmt.Errorf("unknown audio backend %q, expected auto, malgo or simulated", name)
}

func validateRate(rate uint32) error {
	if rate < MinSampleRate || rate > MaxSampleRate {
		return fmt.Errorf("sample rate %d outside %d-%d", rate, MinSampleRate, MaxSampleRate)
	}
	return nil
}

func validateChannels(channels uint32) error {
	if channels == 0 || channels > MaxChannels {
		return fmt.Errorf("channel count %d outside 1-%d", channels, MaxChannels)
	}
	return nil
}

// validateAudioSettings validates the engine settings
func validateAudioSettings(settings *AudioSettings) error {
	var errs []string

	if err := validateBackend(settings.Backend); err != nil {
		errs = append(errs, err.Error())
	}
	if !slices.Contains(malgoBackends, strings.ToLower(settings.Malgo.Backend)) {
		errs = append(errs, fmt.Sprintf("unknown malgo backend %q", settings.Malgo.Backend))
	}

	stream := &settings.Stream
	if err := validateRate(stream.Rate); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateChannels(stream.Channels); err != nil {
		errs = append(errs, "output "+err.Error())
	}
	if err := validateChannels(stream.InputChannels); err != nil {
		errs = append(errs, "input "+err.Error())
	}
	if _, err := audiocore.ParseSampleFormat(stream.Format); err != nil {
		errs = append(errs, fmt.Sprintf("unknown sample format %q", stream.Format))
	}
	if stream.Volume < 0 || stream.Volume > 1 {
		errs = append(errs, fmt.Sprintf("volume %v outside 0-1", stream.Volume))
	}

	if settings.BufferSizePoll.Interval <= 0 {
		errs = append(errs, "buffer size poll interval must be positive")
	}
	if settings.BufferSizePoll.Attempts <= 0 {
		errs = append(errs, "buffer size poll attempts must be positive")
	}
	if settings.DeviceCacheTTL < 0 {
		errs = append(errs, "device cache TTL must not be negative")
	}

	if len(errs) > 0 {
		return fmt.Errorf("audio settings: %s", strings.Join(errs, "; "))
	}
	return nil
}

// validateTelemetrySettings checks the metrics listen address when enabled
func validateTelemetrySettings(settings *TelemetrySettings) error {
	if !settings.Enabled {
		return nil
	}
	if _, _, err := net.SplitHostPort(settings.Listen); err != nil {
		return fmt.Errorf("telemetry listen address %q: %w", settings.Listen, err)
	}
	return nil
}
