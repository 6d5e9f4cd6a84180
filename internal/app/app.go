// Package app turns settings into a running engine: it picks the audio
// backend, creates the audiocore context and serves metrics while a command
// runs.
package app

import (
	"context"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/tphakala/duplexaudio/internal/audiocore"
	"github.com/tphakala/duplexaudio/internal/audiocore/backends/malgo"
	"github.com/tphakala/duplexaudio/internal/audiocore/backends/simulated"
	"github.com/tphakala/duplexaudio/internal/conf"
	"github.com/tphakala/duplexaudio/internal/errors"
	"github.com/tphakala/duplexaudio/internal/logger"
	"github.com/tphakala/duplexaudio/internal/observability"
)

const componentApp = "app"

// App owns the backend, the engine context and the metrics registry
type App struct {
	Settings *conf.Settings
	Backend  audiocore.Backend
	Context  *audiocore.Context
	Metrics  *observability.Metrics

	log logger.Logger
}

// GetLogger returns the app module logger
func GetLogger() logger.Logger {
	return logger.Global().Module("app")
}

// New opens the configured backend and creates an engine context on it
func New(settings *conf.Settings) (*App, error) {
	log := GetLogger()

	m, err := observability.NewMetrics()
	if err != nil {
		return nil, errors.New(err).
			Component(componentApp).
			Category(errors.CategorySystem).
			Context("operation", "create_metrics").
			Build()
	}

	backend, err := OpenBackend(&settings.Audio)
	if err != nil {
		return nil, err
	}

	ctx, err := audiocore.NewContext("duplexaudio", backend,
		audiocore.WithBufferSizePoll(settings.Audio.BufferSizePoll.Interval, settings.Audio.BufferSizePoll.Attempts),
		audiocore.WithDeviceCacheTTL(settings.Audio.DeviceCacheTTL),
		audiocore.WithMetrics(m.Engine),
	)
	if err != nil {
		_ = backend.Close()
		return nil, err
	}

	log.Info("engine ready", logger.String("backend", ctx.BackendID()))
	return &App{
		Settings: settings,
		Backend:  backend,
		Context:  ctx,
		Metrics:  m,
		log:      log,
	}, nil
}

// OpenBackend creates the backend named by settings. "auto" uses miniaudio
// and falls back to the simulated backend when no audio system is reachable.
func OpenBackend(settings *conf.AudioSettings) (audiocore.Backend, error) {
	malgoConfig := malgo.Config{
		Backend:      settings.Malgo.Backend,
		PollInterval: settings.Malgo.PollInterval,
		NoMMap:       settings.Malgo.NoMMap,
	}

	switch strings.ToLower(settings.Backend) {
	case conf.BackendSimulated:
		return simulated.NewDefault(), nil
	case conf.BackendMalgo:
		return malgo.New(malgoConfig)
	case conf.BackendAuto, "":
		b, err := malgo.New(malgoConfig)
		if err != nil {
			GetLogger().Warn("no audio system available, using simulated devices", logger.Error(err))
			return simulated.NewDefault(), nil
		}
		return b, nil
	default:
		return nil, errors.Newf("unknown audio backend %q", settings.Backend).
			Component(componentApp).
			Category(errors.CategoryConfiguration).
			Build()
	}
}

// OutputParams returns the configured output stream parameters
func (a *App) OutputParams() (audiocore.StreamParams, error) {
	return a.params(a.Settings.Audio.Stream.Channels)
}

// InputParams returns the configured input stream parameters
func (a *App) InputParams() (audiocore.StreamParams, error) {
	return a.params(a.Settings.Audio.Stream.InputChannels)
}

func (a *App) params(channels uint32) (audiocore.StreamParams, error) {
	format, err := audiocore.ParseSampleFormat(a.Settings.Audio.Stream.Format)
	if err != nil {
		return audiocore.StreamParams{}, err
	}
	return audiocore.StreamParams{
		Format:   format,
		Rate:     a.Settings.Audio.Stream.Rate,
		Channels: channels,
		Layout:   audiocore.LayoutForChannels(channels),
	}, nil
}

// Run calls fn with a context that is cancelled when ctx ends or fn returns,
// serving the metrics endpoint alongside when telemetry is enabled.
func (a *App) Run(ctx context.Context, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)

	if a.Settings.Telemetry.Enabled {
		endpoint, err := observability.NewEndpoint(a.Settings, a.Metrics)
		if err != nil {
			return err
		}
		var wg sync.WaitGroup
		quit := make(chan struct{})
		endpoint.Start(&wg, quit)

		g.Go(func() error {
			<-gctx.Done()
			close(quit)
			wg.Wait()
			return nil
		})
	}

	g.Go(func() error {
		defer cancel()
		return fn(gctx)
	})

	return g.Wait()
}

// Close destroys the engine context and releases the backend
func (a *App) Close() error {
	ctxErr := a.Context.Destroy()
	backendErr := a.Backend.Close()
	return errors.Join(ctxErr, backendErr)
}
