// Package malgo implements audiocore.Backend on miniaudio through the malgo
// bindings. miniaudio has no change notifications, so default device and
// device collection changes are found by polling.
package malgo

import (
	"encoding/hex"
	"fmt"
	"runtime"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gen2brain/malgo"

	"github.com/tphakala/duplexaudio/internal/audiocore"
	"github.com/tphakala/duplexaudio/internal/errors"
	"github.com/tphakala/duplexaudio/internal/logger"
)

const (
	// DefaultPollInterval is how often the device watcher looks for changes
	DefaultPollInterval = 500 * time.Millisecond

	fallbackRate           = 48000
	fallbackOutputChannels = 2
	fallbackInputChannels  = 1
)

// Config selects the miniaudio backend and watcher behavior
type Config struct {
	// Backend names the platform API: alsa, pulseaudio, jack, wasapi,
	// coreaudio or null. Empty picks the platform default.
	Backend string

	// PollInterval is the device watcher period. Zero uses
	// DefaultPollInterval, a negative value disables the watcher.
	PollInterval time.Duration

	// NoMMap disables ALSA mmap access
	NoMMap bool
}

type propertyListener struct {
	device audiocore.DeviceID
	prop   audiocore.Property
	fn     audiocore.PropertyListener
}

// Backend is an audiocore.Backend over a miniaudio context
type Backend struct {
	ctx    *malgo.AllocatedContext
	name   string
	noMMap bool
	log    logger.Logger

	mu        sync.Mutex
	listeners map[audiocore.ListenerID]propertyListener
	nextID    audiocore.ListenerID
	closed    bool

	watcher *watcher
}

var backendNames = map[string]malgo.Backend{
	"alsa":       malgo.BackendAlsa,
	"pulseaudio": malgo.BackendPulseaudio,
	"jack":       malgo.BackendJack,
	"wasapi":     malgo.BackendWasapi,
	"coreaudio":  malgo.BackendCoreaudio,
	"null":       malgo.BackendNull,
}

// backendForPlatform returns the malgo backend for the current platform
func backendForPlatform() (malgo.Backend, string, error) {
	switch runtime.GOOS {
	case "linux":
		return malgo.BackendAlsa, "alsa", nil
	case "windows":
		return malgo.BackendWasapi, "wasapi", nil
	case "darwin":
		return malgo.BackendCoreaudio, "coreaudio", nil
	default:
		return malgo.BackendNull, "null", errors.Newf("unsupported operating system").
			Component(audiocore.ComponentAudioCore).
			Category(errors.CategoryConfiguration).
			Context("os", runtime.GOOS).
			Build()
	}
}

// resolveBackend maps a configured backend name to malgo
func resolveBackend(name string) (malgo.Backend, string, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" || name == "auto" {
		return backendForPlatform()
	}
	b, ok := backendNames[name]
	if !ok {
		return malgo.BackendNull, name, errors.New(fmt.Errorf("unknown audio backend %q: %w", name, audiocore.ErrInvalidParameter)).
			Component(audiocore.ComponentAudioCore).
			Category(errors.CategoryConfiguration).
			Context("backend", name).
			Build()
	}
	return b, name, nil
}

// New initializes a miniaudio context and starts the device watcher
func New(cfg Config) (*Backend, error) {
	mb, name, err := resolveBackend(cfg.Backend)
	if err != nil {
		return nil, err
	}

	log := logger.Global().Module("malgo").With(logger.String("backend", name))
	ctx, err := malgo.InitContext([]malgo.Backend{mb}, malgo.ContextConfig{}, func(message string) {
		log.Debug("miniaudio", logger.String("message", strings.TrimSpace(message)))
	})
	if err != nil {
		return nil, errors.New(fmt.Errorf("init miniaudio context: %w: %w", audiocore.ErrDeviceUnavailable, err)).
			Component(audiocore.ComponentAudioCore).
			Category(errors.CategoryAudioSource).
			Context("operation", "init_context").
			Context("backend", name).
			Build()
	}

	b := &Backend{
		ctx:       ctx,
		name:      name,
		noMMap:    cfg.NoMMap,
		log:       log,
		listeners: make(map[audiocore.ListenerID]propertyListener),
	}

	interval := cfg.PollInterval
	if interval == 0 {
		interval = DefaultPollInterval
	}
	if interval > 0 {
		snap, err := b.snapshot()
		if err != nil {
			_ = ctx.Uninit()
			ctx.Free()
			return nil, err
		}
		b.watcher = startWatcher(b, interval, snap)
	}

	log.Info("audio backend initialized", logger.Duration("poll_interval", interval))
	return b, nil
}

// ID implements audiocore.Backend
func (b *Backend) ID() string {
	return "malgo/" + b.name
}

// deviceIDFor returns the engine id of a miniaudio device. ALSA ids decode to
// readable strings like "hw:1,0"; anything else stays hex.
func deviceIDFor(id malgo.DeviceID) audiocore.DeviceID {
	raw := id.String()
	decoded, err := hexToASCII(raw)
	if err != nil || !isPrintable(decoded) {
		return audiocore.DeviceID(raw)
	}
	return audiocore.DeviceID(decoded)
}

// hexToASCII converts a hexadecimal string to an ASCII string
func hexToASCII(hexStr string) (string, error) {
	bytes, err := hex.DecodeString(hexStr)
	if err != nil {
		return "", err
	}
	return strings.TrimRight(string(bytes), "\x00"), nil
}

func isPrintable(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < 0x20 || r > 0x7e {
			return false
		}
	}
	return true
}

func deviceType(dir audiocore.Direction) malgo.DeviceType {
	if dir == audiocore.DirectionInput {
		return malgo.Capture
	}
	return malgo.Playback
}

// devices lists the miniaudio devices of one direction, minus the null sink
func (b *Backend) devices(dir audiocore.Direction) ([]malgo.DeviceInfo, error) {
	infos, err := b.ctx.Devices(deviceType(dir))
	if err != nil {
		return nil, errors.New(fmt.Errorf("enumerate %s devices: %w: %w", dir, audiocore.ErrGeneric, err)).
			Component(audiocore.ComponentAudioCore).
			Category(errors.CategoryAudio).
			Context("operation", "enumerate_devices").
			Context("direction", dir.String()).
			Build()
	}
	return slices.DeleteFunc(infos, func(info malgo.DeviceInfo) bool {
		return strings.Contains(info.Name(), "Discard all samples")
	}), nil
}

// lookup finds a device by engine id in one direction
func (b *Backend) lookup(id audiocore.DeviceID, dir audiocore.Direction) (malgo.DeviceInfo, bool, error) {
	infos, err := b.devices(dir)
	if err != nil {
		return malgo.DeviceInfo{}, false, err
	}
	for i := range infos {
		if deviceIDFor(infos[i].ID) == id {
			return infos[i], true, nil
		}
	}
	return malgo.DeviceInfo{}, false, nil
}

// defaultInfo returns the device miniaudio flags as default, or the first one
func defaultInfo(infos []malgo.DeviceInfo) (malgo.DeviceInfo, bool) {
	for i := range infos {
		if infos[i].IsDefault == 1 {
			return infos[i], true
		}
	}
	if len(infos) > 0 {
		return infos[0], true
	}
	return malgo.DeviceInfo{}, false
}

// DefaultDevice implements audiocore.Backend
func (b *Backend) DefaultDevice(dir audiocore.Direction) (audiocore.DeviceID, error) {
	infos, err := b.devices(dir)
	if err != nil {
		return "", err
	}
	info, ok := defaultInfo(infos)
	if !ok {
		return "", fmt.Errorf("no default %s device: %w", dir, audiocore.ErrDeviceUnavailable)
	}
	return deviceIDFor(info.ID), nil
}

// Devices implements audiocore.Backend. Playback devices come first; a
// device present in both directions is listed once.
func (b *Backend) Devices() ([]audiocore.DeviceID, error) {
	var ids []audiocore.DeviceID
	for _, dir := range []audiocore.Direction{audiocore.DirectionOutput, audiocore.DirectionInput} {
		infos, err := b.devices(dir)
		if err != nil {
			return nil, err
		}
		for i := range infos {
			id := deviceIDFor(infos[i].ID)
			if !slices.Contains(ids, id) {
				ids = append(ids, id)
			}
		}
	}
	return ids, nil
}

// DeviceProperties implements audiocore.Backend. miniaudio does not expose
// buffer size ranges or presentation latency, so those stay 0.
func (b *Backend) DeviceProperties(id audiocore.DeviceID, dir audiocore.Direction) (audiocore.DeviceProperties, error) {
	info, ok, err := b.lookup(id, dir)
	if err != nil {
		return audiocore.DeviceProperties{}, err
	}
	if !ok {
		// present in the other direction only
		if _, other, err := b.lookup(id, dir.Opposite()); err == nil && other {
			return audiocore.DeviceProperties{UID: string(id)}, nil
		}
		return audiocore.DeviceProperties{}, fmt.Errorf("malgo device %q: %w", id, audiocore.ErrDeviceUnavailable)
	}

	detailed, err := b.ctx.DeviceInfo(deviceType(dir), info.ID, malgo.Shared)
	if err != nil {
		b.log.Debug("device info query failed, using enumeration data",
			logger.String("device", string(id)),
			logger.Error(err))
		detailed = info
	}

	props := audiocore.DeviceProperties{
		UID:  string(id),
		Name: info.Name(),
	}
	for _, f := range detailed.Formats {
		props.Channels = max(props.Channels, f.Channels)
		if f.SampleRate == 0 {
			continue
		}
		if props.DefaultRate == 0 {
			props.DefaultRate = f.SampleRate
		}
		if props.MinRate == 0 || f.SampleRate < props.MinRate {
			props.MinRate = f.SampleRate
		}
		props.MaxRate = max(props.MaxRate, f.SampleRate)
	}

	// a zero in miniaudio's native formats means any value is accepted
	if props.Channels == 0 {
		props.Channels = fallbackOutputChannels
		if dir == audiocore.DirectionInput {
			props.Channels = fallbackInputChannels
		}
	}
	if props.DefaultRate == 0 {
		props.DefaultRate = fallbackRate
	}
	props.Layout = audiocore.LayoutForChannels(props.Channels)
	return props, nil
}

// OpenUnit implements audiocore.Backend
func (b *Backend) OpenUnit(dir audiocore.Direction, device audiocore.DeviceID) (audiocore.HardwareUnit, error) {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return nil, fmt.Errorf("malgo backend is closed: %w", audiocore.ErrGeneric)
	}

	infos, err := b.devices(dir)
	if err != nil {
		return nil, err
	}

	var (
		info  malgo.DeviceInfo
		found bool
	)
	if device == audiocore.DefaultDevice {
		info, found = defaultInfo(infos)
	} else {
		for i := range infos {
			if deviceIDFor(infos[i].ID) == device {
				info, found = infos[i], true
				break
			}
		}
	}
	if !found {
		return nil, errors.New(fmt.Errorf("no %s device %q: %w", dir, device, audiocore.ErrDeviceUnavailable)).
			Component(audiocore.ComponentAudioCore).
			Category(errors.CategoryAudioSource).
			DeviceContext(dir.String(), string(device)).
			Build()
	}

	return newUnit(b, dir, info), nil
}

// AddPropertyListener implements audiocore.Backend
func (b *Backend) AddPropertyListener(device audiocore.DeviceID, prop audiocore.Property, fn audiocore.PropertyListener) (audiocore.ListenerID, error) {
	if fn == nil {
		return 0, fmt.Errorf("nil property listener: %w", audiocore.ErrInvalidParameter)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return 0, fmt.Errorf("malgo backend is closed: %w", audiocore.ErrGeneric)
	}
	b.nextID++
	b.listeners[b.nextID] = propertyListener{device: device, prop: prop, fn: fn}
	return b.nextID, nil
}

// RemovePropertyListener implements audiocore.Backend
func (b *Backend) RemovePropertyListener(id audiocore.ListenerID) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.listeners[id]; !ok {
		return fmt.Errorf("unknown property listener %d: %w", id, audiocore.ErrInvalidParameter)
	}
	delete(b.listeners, id)
	return nil
}

// fire delivers ev to matching listeners without holding b.mu
func (b *Backend) fire(ev audiocore.PropertyEvent) {
	b.mu.Lock()
	var targets []audiocore.PropertyListener
	for _, l := range b.listeners {
		if l.device == ev.Device && l.prop == ev.Property {
			targets = append(targets, l.fn)
		}
	}
	b.mu.Unlock()

	if len(targets) > 0 {
		b.log.Debug("property changed",
			logger.String("device", string(ev.Device)),
			logger.String("property", ev.Property.String()),
			logger.Int("listeners", len(targets)))
	}
	for _, fn := range targets {
		fn(ev)
	}
}

// Close stops the watcher and releases the miniaudio context. Units must be
// closed first.
func (b *Backend) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	clear(b.listeners)
	b.mu.Unlock()

	if b.watcher != nil {
		b.watcher.stop()
	}

	err := b.ctx.Uninit()
	b.ctx.Free()
	if err != nil {
		return errors.New(err).
			Component(audiocore.ComponentAudioCore).
			Category(errors.CategoryAudio).
			Context("operation", "uninit_context").
			Build()
	}
	return nil
}
