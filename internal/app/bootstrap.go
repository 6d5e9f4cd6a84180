package app

import (
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/tphakala/duplexaudio/internal/buildinfo"
	"github.com/tphakala/duplexaudio/internal/conf"
	"github.com/tphakala/duplexaudio/internal/errors"
	"github.com/tphakala/duplexaudio/internal/logger"
)

// sentryFlushTimeout bounds the wait for queued events on shutdown
const sentryFlushTimeout = 2 * time.Second

// InitLogging replaces the global logger with one built from settings
func InitLogging(settings *conf.Settings) (*logger.CentralLogger, error) {
	cfg := settings.Logging
	if settings.Debug {
		cfg.DefaultLevel = "debug"
		if cfg.Console != nil {
			console := *cfg.Console
			console.Level = "debug"
			cfg.Console = &console
		}
	}

	cl, err := logger.NewCentralLogger(&cfg)
	if err != nil {
		return nil, errors.New(err).
			Component(componentApp).
			Category(errors.CategoryConfiguration).
			Context("operation", "init_logging").
			Build()
	}
	logger.SetGlobal(cl)
	return cl, nil
}

// InitSentry starts error reporting when it is enabled. The returned function
// flushes pending events and is safe to call when reporting is off.
func InitSentry(settings *conf.Settings, info *buildinfo.Info) (func(), error) {
	if !settings.Sentry.Enabled {
		return func() {}, nil
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:              settings.Sentry.DSN,
		SampleRate:       1.0,
		AttachStacktrace: false,
		Environment:      settings.Sentry.Environment,
		ServerName:       "", // Explicitly clear server name to prevent hostname leakage
		Release:          fmt.Sprintf("duplexaudio@%s", info.Version()),
	})
	if err != nil {
		return func() {}, fmt.Errorf("sentry initialization failed: %w", err)
	}

	sentry.ConfigureScope(func(scope *sentry.Scope) {
		scope.SetTag("system_id", info.SystemID())
		scope.SetTag("build_date", info.BuildDate())
	})

	errors.SetTelemetryReporter(errors.NewSentryReporter(true))
	GetLogger().Info("error reporting enabled", logger.String("environment", settings.Sentry.Environment))

	return func() { sentry.Flush(sentryFlushTimeout) }, nil
}
