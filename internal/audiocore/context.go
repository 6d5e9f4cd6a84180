package audiocore

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"

	"github.com/tphakala/duplexaudio/internal/errors"
	"github.com/tphakala/duplexaudio/internal/logger"
	"github.com/tphakala/duplexaudio/internal/observability/metrics"
)

// Context owns a backend and coordinates every stream opened on it.
type Context struct {
	name    string
	backend Backend
	log     logger.Logger
	metrics engineMetrics

	pollInterval time.Duration
	pollAttempts int
	cacheTTL     time.Duration

	queue   *serialQueue
	devices *cache.Cache
	enum    singleflight.Group

	// base is cancelled by Destroy and aborts buffer size waits
	base   context.Context
	cancel context.CancelFunc

	// mu guards cross-stream state. Lock order: Context.mu before Stream.mu.
	mu            sync.Mutex
	activeStreams int
	globalLatency uint32
	destroyed     bool

	collectionMu   sync.Mutex
	collectionType DeviceType
	collectionCb   CollectionChangedCallback
	lastCollection []DeviceID

	listeners []ListenerID
}

// ContextOption configures a Context
type ContextOption func(*Context)

// WithBufferSizePoll overrides the buffer size acknowledgement wait
func WithBufferSizePoll(interval time.Duration, attempts int) ContextOption {
	return func(c *Context) {
		if interval > 0 {
			c.pollInterval = interval
		}
		if attempts > 0 {
			c.pollAttempts = attempts
		}
	}
}

// WithMetrics records engine metrics into m
func WithMetrics(m *metrics.EngineMetrics) ContextOption {
	return func(c *Context) {
		c.metrics = engineMetrics{m: m}
	}
}

// WithLogger replaces the module logger
func WithLogger(l logger.Logger) ContextOption {
	return func(c *Context) {
		if l != nil {
			c.log = l
		}
	}
}

// WithDeviceCacheTTL sets how long enumeration results are reused
func WithDeviceCacheTTL(ttl time.Duration) ContextOption {
	return func(c *Context) {
		c.cacheTTL = ttl
	}
}

// NewContext creates a Context on backend. The caller keeps ownership of the
// backend and closes it after Destroy.
func NewContext(name string, backend Backend, opts ...ContextOption) (*Context, error) {
	if backend == nil {
		return nil, newError(KindInvalidParameter, "context_init", nil, "backend is nil").Build()
	}

	c := &Context{
		name:         name,
		backend:      backend,
		log:          GetLogger(),
		pollInterval: BufferSizePollInterval,
		pollAttempts: BufferSizePollAttempts,
		cacheTTL:     defaultDeviceCacheTTL,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.With(logger.String("context", name), logger.String("backend", backend.ID()))

	// no janitor goroutine; expired entries are dropped on access and on Flush
	c.devices = cache.New(c.cacheTTL, 0)
	c.base, c.cancel = context.WithCancel(context.Background())
	c.queue = newSerialQueue()

	if err := c.installListeners(); err != nil {
		c.removeListeners()
		c.cancel()
		c.queue.Close()
		return nil, err
	}

	c.log.Info("audio context created")
	return c, nil
}

func (c *Context) installListeners() error {
	add := func(prop Property, fn PropertyListener) error {
		id, err := c.backend.AddPropertyListener(SystemObject, prop, fn)
		if err != nil {
			return wrapBackend(err, "add_property_listener", DirectionOutput)
		}
		c.listeners = append(c.listeners, id)
		return nil
	}

	if err := add(PropertyDeviceCollection, c.onDeviceCollectionChanged); err != nil {
		return err
	}
	if err := add(PropertyDefaultInputDevice, c.onDefaultDeviceChanged); err != nil {
		return err
	}
	return add(PropertyDefaultOutputDevice, c.onDefaultDeviceChanged)
}

func (c *Context) removeListeners() error {
	var errs []error
	for _, id := range c.listeners {
		if err := c.backend.RemovePropertyListener(id); err != nil {
			errs = append(errs, err)
		}
	}
	c.listeners = nil
	return errors.Join(errs...)
}

func (c *Context) onDefaultDeviceChanged(PropertyEvent) {
	c.devices.Flush()
}

func (c *Context) onDeviceCollectionChanged(PropertyEvent) {
	c.devices.Flush()
	c.queue.Async(c.dispatchCollectionChanged)
}

// dispatchCollectionChanged runs on the serial queue
func (c *Context) dispatchCollectionChanged() {
	c.collectionMu.Lock()
	cb, typ := c.collectionCb, c.collectionType
	if cb == nil {
		c.collectionMu.Unlock()
		return
	}
	ids, err := c.deviceIDs(typ)
	if err != nil {
		c.collectionMu.Unlock()
		c.log.Warn("failed to list devices after collection change", logger.Error(err))
		return
	}
	if slices.Equal(ids, c.lastCollection) {
		c.collectionMu.Unlock()
		return
	}
	c.lastCollection = ids
	c.collectionMu.Unlock()

	c.log.Debug("device collection changed", logger.Int("devices", len(ids)), logger.String("type", typ.String()))
	cb(c)
}

// deviceIDs returns the sorted ids of devices with channels in any direction of typ
func (c *Context) deviceIDs(typ DeviceType) ([]DeviceID, error) {
	all, err := c.backend.Devices()
	if err != nil {
		return nil, wrapBackend(err, "list_devices", DirectionOutput)
	}
	ids := make([]DeviceID, 0, len(all))
	for _, id := range all {
		for _, dir := range typ.directions() {
			props, err := c.backend.DeviceProperties(id, dir)
			if err != nil || props.Channels == 0 {
				continue
			}
			ids = append(ids, id)
			break
		}
	}
	slices.Sort(ids)
	return ids, nil
}

// RegisterDeviceCollectionChanged subscribes cb to device arrivals and removals
// of the given type. cb runs on the Context's serial queue and only when the
// filtered device list actually changed. A nil cb unsubscribes.
func (c *Context) RegisterDeviceCollectionChanged(typ DeviceType, cb CollectionChangedCallback) error {
	if cb == nil {
		c.collectionMu.Lock()
		c.collectionCb = nil
		c.collectionType = DeviceTypeUnknown
		c.lastCollection = nil
		c.collectionMu.Unlock()
		return nil
	}
	if typ&DeviceTypeAll == 0 || typ&^DeviceTypeAll != 0 {
		return newError(KindInvalidParameter, "register_collection_changed", nil, "invalid device type %d", int(typ)).Build()
	}
	if c.isDestroyed() {
		return newError(KindGeneric, "register_collection_changed", ErrContextDestroyed, "context %s is destroyed", c.name).Build()
	}

	c.collectionMu.Lock()
	defer c.collectionMu.Unlock()
	if c.collectionCb != nil {
		return newError(KindInvalidParameter, "register_collection_changed", nil, "a collection changed callback is already registered").Build()
	}
	ids, err := c.deviceIDs(typ)
	if err != nil {
		return err
	}
	c.collectionCb = cb
	c.collectionType = typ
	c.lastCollection = ids
	return nil
}

// Destroy releases the Context. Streams still alive are left untouched and
// logged. The backend is not closed.
func (c *Context) Destroy() error {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return nil
	}
	c.destroyed = true
	active := c.activeStreams
	c.mu.Unlock()

	if active > 0 {
		c.log.Warn("destroying context with active streams", logger.Int("active_streams", active))
	}

	err := c.removeListeners()
	c.cancel()
	c.queue.Close()
	c.devices.Flush()

	if err != nil {
		return wrapBackend(err, "context_destroy", DirectionOutput)
	}
	c.log.Info("audio context destroyed")
	return nil
}

func (c *Context) isDestroyed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.destroyed
}

// Name returns the name passed to NewContext
func (c *Context) Name() string {
	return c.name
}

// BackendID names the backend in use
func (c *Context) BackendID() string {
	return c.backend.ID()
}

// ActiveStreams returns the number of streams holding hardware units
func (c *Context) ActiveStreams() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.activeStreams
}

// GlobalLatency returns the latency shared by active streams, 0 when none are active
func (c *Context) GlobalLatency() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.globalLatency
}

func (c *Context) defaultProperties(dir Direction, operation string) (DeviceProperties, error) {
	id, err := c.backend.DefaultDevice(dir)
	if err != nil {
		return DeviceProperties{}, wrapBackend(err, operation, dir)
	}
	props, err := c.backend.DeviceProperties(id, dir)
	if err != nil {
		return DeviceProperties{}, wrapBackend(err, operation, dir)
	}
	return props, nil
}

// MaxChannelCount returns the channel count of the default output device
func (c *Context) MaxChannelCount() (uint32, error) {
	props, err := c.defaultProperties(DirectionOutput, "max_channel_count")
	if err != nil {
		return 0, err
	}
	return props.Channels, nil
}

// MinLatency returns the smallest latency in frames a stream on the default
// output device can use.
func (c *Context) MinLatency() (uint32, error) {
	props, err := c.defaultProperties(DirectionOutput, "min_latency")
	if err != nil {
		return 0, err
	}
	return max(props.BufferFrameMin, SafeMinLatencyFrames), nil
}

// PreferredSampleRate returns the default output device's rate
func (c *Context) PreferredSampleRate() (uint32, error) {
	props, err := c.defaultProperties(DirectionOutput, "preferred_sample_rate")
	if err != nil {
		return 0, err
	}
	if props.DefaultRate == 0 {
		return 0, newError(KindDeviceUnavailable, "preferred_sample_rate", nil, "default output device reports no rate").Build()
	}
	return props.DefaultRate, nil
}

// PreferredChannelLayout returns the default output device's layout, derived
// from its channel count when the device does not report one.
func (c *Context) PreferredChannelLayout() (ChannelLayout, error) {
	props, err := c.defaultProperties(DirectionOutput, "preferred_channel_layout")
	if err != nil {
		return LayoutUndefined, err
	}
	if props.Layout != LayoutUndefined {
		return props.Layout, nil
	}
	if layout := LayoutForChannels(props.Channels); layout != LayoutUndefined {
		return layout, nil
	}
	return LayoutUndefined, newError(KindGeneric, "preferred_channel_layout", nil,
		"no layout for %d channels", props.Channels).Build()
}

// registerStreamLocked counts a new stream in. c.mu must be held.
func (c *Context) registerStreamLocked() {
	c.activeStreams++
}

// unregisterStreamLocked counts a stream out. c.mu must be held.
func (c *Context) unregisterStreamLocked() {
	if c.activeStreams > 0 {
		c.activeStreams--
	}
	if c.activeStreams == 0 {
		c.globalLatency = 0
	}
	c.metrics.streams(c.activeStreams, c.globalLatency)
}
