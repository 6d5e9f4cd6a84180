// Package conf provides configuration management for duplexaudio.
package conf

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/viper"

	"github.com/tphakala/duplexaudio/internal/errors"
	"github.com/tphakala/duplexaudio/internal/logger"
)

//go:embed config.yaml
var configFiles embed.FS

// Backend names accepted in audio.backend
const (
	BackendAuto      = "auto"
	BackendMalgo     = "malgo"
	BackendSimulated = "simulated"
)

// Settings contains all configuration options for duplexaudio.
type Settings struct {
	Debug bool `yaml:"debug" mapstructure:"debug"`

	Audio     AudioSettings        `yaml:"audio" mapstructure:"audio"`
	Logging   logger.LoggingConfig `yaml:"logging" mapstructure:"logging"`
	Telemetry TelemetrySettings    `yaml:"telemetry" mapstructure:"telemetry"`
	Sentry    SentrySettings       `yaml:"sentry" mapstructure:"sentry"`
}

// AudioSettings configures the engine and its backend
type AudioSettings struct {
	Backend string        `yaml:"backend" mapstructure:"backend"` // auto, malgo or simulated
	Malgo   MalgoSettings `yaml:"malgo" mapstructure:"malgo"`

	Devices DeviceSettings `yaml:"devices" mapstructure:"devices"`
	Stream  StreamSettings `yaml:"stream" mapstructure:"stream"`

	BufferSizePoll PollSettings  `yaml:"buffersizepoll" mapstructure:"buffersizepoll"`
	DeviceCacheTTL time.Duration `yaml:"devicecachettl" mapstructure:"devicecachettl"` // enumeration cache lifetime
}

// MalgoSettings configures the miniaudio backend
type MalgoSettings struct {
	Backend      string        `yaml:"backend" mapstructure:"backend"`           // alsa, pulseaudio, jack, wasapi, coreaudio, null; empty for platform default
	PollInterval time.Duration `yaml:"pollinterval" mapstructure:"pollinterval"` // device watcher period
	NoMMap       bool          `yaml:"nommap" mapstructure:"nommap"`             // disable ALSA mmap
}

// DeviceSettings pins streams to devices. Empty follows the system default.
type DeviceSettings struct {
	Input  string `yaml:"input" mapstructure:"input"`
	Output string `yaml:"output" mapstructure:"output"`
}

// StreamSettings are the application-side stream parameters
type StreamSettings struct {
	Rate          uint32  `yaml:"rate" mapstructure:"rate"`
	Channels      uint32  `yaml:"channels" mapstructure:"channels"`
	InputChannels uint32  `yaml:"inputchannels" mapstructure:"inputchannels"`
	Format        string  `yaml:"format" mapstructure:"format"` // s16le, s16be, f32le, f32be
	LatencyFrames uint32  `yaml:"latencyframes" mapstructure:"latencyframes"`
	Volume        float32 `yaml:"volume" mapstructure:"volume"`
}

// PollSettings bounds the wait for a buffer size change
type PollSettings struct {
	Interval time.Duration `yaml:"interval" mapstructure:"interval"`
	Attempts int           `yaml:"attempts" mapstructure:"attempts"`
}

// TelemetrySettings controls the Prometheus metrics endpoint
type TelemetrySettings struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Listen  string `yaml:"listen" mapstructure:"listen"`
}

// SentrySettings controls error reporting
type SentrySettings struct {
	Enabled     bool   `yaml:"enabled" mapstructure:"enabled"`
	DSN         string `yaml:"dsn" mapstructure:"dsn"`
	Environment string `yaml:"environment" mapstructure:"environment"`
}

// settingsInstance is the current settings instance
var (
	settingsInstance *Settings
	settingsMutex    sync.RWMutex
)

// Load reads the configuration file and environment variables. An empty
// configPath searches the default locations and writes the embedded default
// config there when none exists.
func Load(configPath string) (*Settings, error) {
	v := viper.New()
	settings, err := loadWith(v, configPath)
	if err != nil {
		return nil, err
	}

	settingsMutex.Lock()
	settingsInstance = settings
	settingsMutex.Unlock()
	return settings, nil
}

func loadWith(v *viper.Viper, configPath string) (*Settings, error) {
	if err := initViper(v, configPath); err != nil {
		return nil, fmt.Errorf("error initializing viper: %w", err)
	}

	settings := &Settings{}
	if err := v.Unmarshal(settings); err != nil {
		return nil, errors.New(err).
			Category(errors.CategoryConfiguration).
			Context("operation", "unmarshal-config").
			Build()
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, fmt.Errorf("error validating settings: %w", err)
	}

	GetLogger().Debug("settings loaded",
		logger.String("config_file", v.ConfigFileUsed()),
		logger.String("backend", settings.Audio.Backend))
	return settings, nil
}

// initViper sets defaults, binds the environment and reads the config file.
func initViper(v *viper.Viper, configPath string) error {
	setDefaultConfig(v)

	if err := bindEnvVars(v); err != nil {
		// ValidateSettings rejects values that cannot be used
		GetLogger().Warn("environment configuration issues", logger.Error(err))
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return errors.New(err).
				Category(errors.CategoryFileIO).
				Context("operation", "read-config").
				Context("path", configPath).
				Build()
		}
		return nil
	}

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return fmt.Errorf("error getting default config paths: %w", err)
	}
	for _, path := range configPaths {
		v.AddConfigPath(path)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return createDefaultConfig(v, configPaths[0])
		}
		return fmt.Errorf("fatal error reading config file: %w", err)
	}
	return nil
}

// createDefaultConfig writes the embedded default config into dir and reads it
func createDefaultConfig(v *viper.Viper, dir string) error {
	data, err := DefaultConfig()
	if err != nil {
		return err
	}

	configPath := filepath.Join(dir, "config.yaml")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("error creating directories for config file: %w", err)
	}
	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		return fmt.Errorf("error writing default config file: %w", err)
	}

	GetLogger().Info("created default config file", logger.String("path", configPath))
	v.SetConfigFile(configPath)
	return v.ReadInConfig()
}

// DefaultConfig returns the embedded default config.yaml
func DefaultConfig() ([]byte, error) {
	data, err := fs.ReadFile(configFiles, "config.yaml")
	if err != nil {
		return nil, errors.New(err).
			Category(errors.CategoryConfiguration).
			Context("operation", "read-embedded-config").
			Build()
	}
	return data, nil
}

// GetSettings returns the settings of the last successful Load, or nil
func GetSettings() *Settings {
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}
