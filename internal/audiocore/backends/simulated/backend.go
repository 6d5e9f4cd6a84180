// Package simulated provides an audiocore.Backend whose devices exist only in
// memory. Audio callbacks run when the caller ticks a unit, and property
// notifications fire when the caller changes the simulated system, so engine
// behavior can be driven step by step.
package simulated

import (
	"fmt"
	"slices"
	"sync"

	"github.com/tphakala/duplexaudio/internal/audiocore"
	"github.com/tphakala/duplexaudio/internal/errors"
)

// Op names a backend operation that can be made to fail
type Op string

const (
	OpOpenUnit             Op = "open_unit"
	OpNativeFormat         Op = "native_format"
	OpSetStreamFormat      Op = "set_stream_format"
	OpBufferFrames         Op = "buffer_frames"
	OpSetBufferFrames      Op = "set_buffer_frames"
	OpAddBufferListener    Op = "add_buffer_size_listener"
	OpRemoveBufferListener Op = "remove_buffer_size_listener"
	OpInitialize           Op = "initialize"
	OpStart                Op = "start"
	OpStop                 Op = "stop"
	OpAddListener          Op = "add_property_listener"
	OpRemoveListener       Op = "remove_property_listener"
	OpDataSource           Op = "data_source"
	OpLatency              Op = "latency"
	OpSetVolume            Op = "set_volume"
)

// DeviceConfig describes a simulated device. Input or Output may have zero
// channels when the device lacks that direction.
type DeviceConfig struct {
	ID           audiocore.DeviceID
	Name         string
	DataSource   string
	Vendor       string
	Input        Endpoint
	Output       Endpoint
	BufferFrames uint32
}

// Endpoint is one direction of a simulated device
type Endpoint struct {
	Channels            uint32
	Rate                uint32
	BufferFrameMin      uint32
	BufferFrameMax      uint32
	PresentationLatency uint32
	SafetyOffset        uint32
}

type device struct {
	cfg          DeviceConfig
	bufferFrames uint32
}

type propertyListener struct {
	device audiocore.DeviceID
	prop   audiocore.Property
	fn     audiocore.PropertyListener
}

// Backend is a simulated audio system
type Backend struct {
	mu        sync.Mutex
	devices   map[audiocore.DeviceID]*device
	order     []audiocore.DeviceID
	defaults  map[audiocore.Direction]audiocore.DeviceID
	listeners map[audiocore.ListenerID]propertyListener
	nextID    audiocore.ListenerID
	failures  map[Op]error
	units     []*Unit
	closed    bool

	suppressAck   bool
	wrongScopeAck bool

	listenerAdds    int
	listenerRemoves int
}

// New returns a backend with no devices
func New() *Backend {
	return &Backend{
		devices:   make(map[audiocore.DeviceID]*device),
		defaults:  make(map[audiocore.Direction]audiocore.DeviceID),
		listeners: make(map[audiocore.ListenerID]propertyListener),
		failures:  make(map[Op]error),
	}
}

// Default device ids of NewDefault
const (
	DefaultMicrophone audiocore.DeviceID = "sim-microphone"
	DefaultSpeakers   audiocore.DeviceID = "sim-speakers"
)

// NewDefault returns a backend with a mono 48 kHz microphone and stereo
// 48 kHz speakers, both set as the system defaults.
func NewDefault() *Backend {
	b := New()
	b.AddDevice(DeviceConfig{
		ID:           DefaultMicrophone,
		Name:         "Simulated Microphone",
		DataSource:   "Internal Microphone",
		Vendor:       "duplexaudio",
		Input:        Endpoint{Channels: 1, Rate: 48000, BufferFrameMin: 64, BufferFrameMax: 4096, PresentationLatency: 32},
		BufferFrames: 1024,
	})
	b.AddDevice(DeviceConfig{
		ID:           DefaultSpeakers,
		Name:         "Simulated Speakers",
		DataSource:   "Internal Speakers",
		Vendor:       "duplexaudio",
		Output:       Endpoint{Channels: 2, Rate: 48000, BufferFrameMin: 64, BufferFrameMax: 4096, PresentationLatency: 48, SafetyOffset: 16},
		BufferFrames: 1024,
	})
	b.mu.Lock()
	b.defaults[audiocore.DirectionInput] = DefaultMicrophone
	b.defaults[audiocore.DirectionOutput] = DefaultSpeakers
	b.mu.Unlock()
	return b
}

// ID implements audiocore.Backend
func (b *Backend) ID() string {
	return "simulated"
}

// AddDevice plugs in a device and fires a collection change
func (b *Backend) AddDevice(cfg DeviceConfig) {
	b.mu.Lock()
	if _, exists := b.devices[cfg.ID]; !exists {
		b.order = append(b.order, cfg.ID)
	}
	b.devices[cfg.ID] = &device{cfg: cfg, bufferFrames: cfg.BufferFrames}
	b.mu.Unlock()

	b.Fire(audiocore.PropertyEvent{Device: audiocore.SystemObject, Property: audiocore.PropertyDeviceCollection})
}

// RemoveDevice unplugs a device. Listeners see the device die, then the
// collection change, then a default change if it was a default.
func (b *Backend) RemoveDevice(id audiocore.DeviceID) {
	b.mu.Lock()
	if _, ok := b.devices[id]; !ok {
		b.mu.Unlock()
		return
	}
	delete(b.devices, id)
	b.order = slices.DeleteFunc(b.order, func(d audiocore.DeviceID) bool { return d == id })
	var changed []audiocore.Direction
	for _, dir := range []audiocore.Direction{audiocore.DirectionInput, audiocore.DirectionOutput} {
		if def, ok := b.defaults[dir]; !ok || def != id {
			continue
		}
		delete(b.defaults, dir)
		// the system promotes the first remaining device of that direction
		for _, other := range b.order {
			if b.devices[other].endpoint(dir).Channels > 0 {
				b.defaults[dir] = other
				break
			}
		}
		changed = append(changed, dir)
	}
	b.mu.Unlock()

	b.Fire(audiocore.PropertyEvent{Device: id, Property: audiocore.PropertyDeviceIsAlive})
	b.Fire(audiocore.PropertyEvent{Device: audiocore.SystemObject, Property: audiocore.PropertyDeviceCollection})
	for _, dir := range changed {
		b.Fire(audiocore.PropertyEvent{Device: audiocore.SystemObject, Property: defaultProperty(dir)})
	}
}

// SetDefault changes the system default for dir and fires the matching notification
func (b *Backend) SetDefault(dir audiocore.Direction, id audiocore.DeviceID) error {
	b.mu.Lock()
	if _, ok := b.devices[id]; !ok {
		b.mu.Unlock()
		return fmt.Errorf("simulated device %q: %w", id, audiocore.ErrDeviceUnavailable)
	}
	b.defaults[dir] = id
	b.mu.Unlock()

	b.Fire(audiocore.PropertyEvent{Device: audiocore.SystemObject, Property: defaultProperty(dir)})
	return nil
}

// SetDataSource renames a device's data source and fires the notification
func (b *Backend) SetDataSource(id audiocore.DeviceID, name string) {
	b.mu.Lock()
	if d, ok := b.devices[id]; ok {
		d.cfg.DataSource = name
	}
	b.mu.Unlock()

	b.Fire(audiocore.PropertyEvent{Device: id, Property: audiocore.PropertyDataSource})
}

func defaultProperty(dir audiocore.Direction) audiocore.Property {
	if dir == audiocore.DirectionInput {
		return audiocore.PropertyDefaultInputDevice
	}
	return audiocore.PropertyDefaultOutputDevice
}

// Fire delivers ev to every matching listener on the calling goroutine.
// No backend lock is held while listeners run.
func (b *Backend) Fire(ev audiocore.PropertyEvent) {
	b.mu.Lock()
	ids := make([]audiocore.ListenerID, 0, len(b.listeners))
	for id, l := range b.listeners {
		if l.prop == ev.Property && l.device == ev.Device {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	fns := make([]audiocore.PropertyListener, 0, len(ids))
	for _, id := range ids {
		fns = append(fns, b.listeners[id].fn)
	}
	b.mu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}

// FailOn makes op return err until cleared with a nil err
func (b *Backend) FailOn(op Op, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err == nil {
		delete(b.failures, op)
		return
	}
	b.failures[op] = err
}

func (b *Backend) failure(op Op) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures[op]
}

// SuppressBufferSizeAck stops units from acknowledging buffer size changes
func (b *Backend) SuppressBufferSizeAck(suppress bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.suppressAck = suppress
}

// AckWrongScope makes units acknowledge buffer size changes in the opposite direction's scope
func (b *Backend) AckWrongScope(wrong bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.wrongScopeAck = wrong
}

// DefaultDevice implements audiocore.Backend
func (b *Backend) DefaultDevice(dir audiocore.Direction) (audiocore.DeviceID, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id, ok := b.defaults[dir]
	if !ok {
		return "", fmt.Errorf("no default %s device: %w", dir, audiocore.ErrDeviceUnavailable)
	}
	return id, nil
}

// Devices implements audiocore.Backend
func (b *Backend) Devices() ([]audiocore.DeviceID, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.order), nil
}

// DeviceProperties implements audiocore.Backend
func (b *Backend) DeviceProperties(id audiocore.DeviceID, dir audiocore.Direction) (audiocore.DeviceProperties, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	d, ok := b.devices[id]
	if !ok {
		return audiocore.DeviceProperties{}, fmt.Errorf("simulated device %q: %w", id, audiocore.ErrDeviceUnavailable)
	}
	return d.properties(dir), nil
}

func (d *device) endpoint(dir audiocore.Direction) Endpoint {
	if dir == audiocore.DirectionInput {
		return d.cfg.Input
	}
	return d.cfg.Output
}

func (d *device) properties(dir audiocore.Direction) audiocore.DeviceProperties {
	ep := d.endpoint(dir)
	return audiocore.DeviceProperties{
		UID:                 string(d.cfg.ID),
		Name:                d.cfg.Name,
		DataSourceName:      d.cfg.DataSource,
		Vendor:              d.cfg.Vendor,
		Channels:            ep.Channels,
		Layout:              audiocore.LayoutForChannels(ep.Channels),
		DefaultRate:         ep.Rate,
		MinRate:             ep.Rate,
		MaxRate:             ep.Rate,
		PresentationLatency: ep.PresentationLatency,
		BufferFrameMin:      ep.BufferFrameMin,
		BufferFrameMax:      ep.BufferFrameMax,
	}
}

// OpenUnit implements audiocore.Backend
func (b *Backend) OpenUnit(dir audiocore.Direction, id audiocore.DeviceID) (audiocore.HardwareUnit, error) {
	if err := b.failure(OpOpenUnit); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, errors.NewStd("simulated backend is closed")
	}
	if id == audiocore.DefaultDevice {
		def, ok := b.defaults[dir]
		if !ok {
			return nil, fmt.Errorf("no default %s device: %w", dir, audiocore.ErrDeviceUnavailable)
		}
		id = def
	}
	d, ok := b.devices[id]
	if !ok || d.endpoint(dir).Channels == 0 {
		return nil, fmt.Errorf("simulated device %q has no %s: %w", id, dir, audiocore.ErrDeviceUnavailable)
	}

	u := &Unit{
		backend: b,
		dir:     dir,
		device:  id,
	}
	b.units = append(b.units, u)
	return u, nil
}

// AddPropertyListener implements audiocore.Backend
func (b *Backend) AddPropertyListener(device audiocore.DeviceID, prop audiocore.Property, fn audiocore.PropertyListener) (audiocore.ListenerID, error) {
	if err := b.failure(OpAddListener); err != nil {
		return 0, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	b.listeners[b.nextID] = propertyListener{device: device, prop: prop, fn: fn}
	b.listenerAdds++
	return b.nextID, nil
}

// RemovePropertyListener implements audiocore.Backend
func (b *Backend) RemovePropertyListener(id audiocore.ListenerID) error {
	if err := b.failure(OpRemoveListener); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.listeners[id]; !ok {
		return fmt.Errorf("listener %d not installed", id)
	}
	delete(b.listeners, id)
	b.listenerRemoves++
	return nil
}

// ListenerCount returns the number of installed property listeners
func (b *Backend) ListenerCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.listeners)
}

// ListenerStats returns how many property listeners were added and removed
func (b *Backend) ListenerStats() (added, removed int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.listenerAdds, b.listenerRemoves
}

// Units returns every unit opened so far, closed ones included
func (b *Backend) Units() []*Unit {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.units)
}

// OpenUnits returns the units that are not closed
func (b *Backend) OpenUnits() []*Unit {
	b.mu.Lock()
	units := slices.Clone(b.units)
	b.mu.Unlock()

	return slices.DeleteFunc(units, func(u *Unit) bool { return u.Closed() })
}

// OpenUnitFor returns the most recently opened unit for dir that is not closed, or nil
func (b *Backend) OpenUnitFor(dir audiocore.Direction) *Unit {
	units := b.OpenUnits()
	for i := len(units) - 1; i >= 0; i-- {
		if units[i].Direction() == dir {
			return units[i]
		}
	}
	return nil
}

// Close implements audiocore.Backend
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	clear(b.listeners)
	return nil
}
