package audiocore

import "time"

// Property identifies a change notification published by a Backend
type Property int

const (
	PropertyDefaultOutputDevice Property = iota + 1
	PropertyDefaultInputDevice
	PropertyDeviceIsAlive
	PropertyDataSource
	PropertyDeviceCollection
)

func (p Property) String() string {
	switch p {
	case PropertyDefaultOutputDevice:
		return "default_output_device"
	case PropertyDefaultInputDevice:
		return "default_input_device"
	case PropertyDeviceIsAlive:
		return "device_is_alive"
	case PropertyDataSource:
		return "data_source"
	case PropertyDeviceCollection:
		return "device_collection"
	default:
		return "unknown"
	}
}

// SystemObject is the device id used for system-wide properties
// (default devices and the device collection).
const SystemObject DeviceID = ""

// PropertyEvent is delivered to property listeners
type PropertyEvent struct {
	Device   DeviceID
	Property Property
}

// PropertyListener receives property change notifications on a backend goroutine.
// Listeners must not block.
type PropertyListener func(ev PropertyEvent)

// ListenerID is returned by AddPropertyListener
type ListenerID uint64

// Backend is a platform audio API. Implementations live under backends/.
type Backend interface {
	// ID names the backend, e.g. "malgo/alsa"
	ID() string

	// OpenUnit opens one endpoint. DefaultDevice follows the system default.
	OpenUnit(dir Direction, device DeviceID) (HardwareUnit, error)

	// DefaultDevice returns the current system default for dir
	DefaultDevice(dir Direction) (DeviceID, error)

	// Devices lists every device id known to the backend
	Devices() ([]DeviceID, error)

	// DeviceProperties describes one device in one direction. A device without
	// channels in dir reports Channels == 0.
	DeviceProperties(id DeviceID, dir Direction) (DeviceProperties, error)

	AddPropertyListener(device DeviceID, prop Property, fn PropertyListener) (ListenerID, error)
	RemovePropertyListener(id ListenerID) error

	Close() error
}

// DeviceProperties is the raw device description a backend reports
type DeviceProperties struct {
	UID            string
	Name           string
	DataSourceName string
	Vendor         string
	Channels       uint32
	Layout         ChannelLayout
	DefaultRate    uint32
	MinRate        uint32
	MaxRate        uint32

	// PresentationLatency is the device latency in frames, excluding buffering
	PresentationLatency uint32

	// BufferFrameMin and BufferFrameMax bound the negotiable buffer size, 0 if unknown
	BufferFrameMin uint32
	BufferFrameMax uint32
}

// NativeFormat is what a unit's device runs at
type NativeFormat struct {
	Rate     uint32
	Channels uint32
}

// StreamFormat configures the application-facing side of a unit. Rate is
// always the unit's native rate; conversion happens in the resampler.
type StreamFormat struct {
	Format   SampleFormat
	Rate     uint32
	Channels uint32
	Layout   ChannelLayout
}

// LatencyInfo is reported by HardwareUnit.Latency
type LatencyInfo struct {
	UnitLatency         time.Duration
	DeviceLatencyFrames uint32
	SafetyOffsetFrames  uint32
}

// RenderFunc fills out (frames × channels interleaved float32). delay is the
// time until the first frame of out reaches the speaker, 0 if unknown.
type RenderFunc func(out []float32, frames int, delay time.Duration)

// CaptureFunc receives captured interleaved float32 samples
type CaptureFunc func(in []float32, frames int)

// BufferSizeListener is told when a unit's buffer size changed, and in which direction's scope
type BufferSizeListener func(scope Direction, frames uint32)

// HardwareUnit is one opened platform endpoint
type HardwareUnit interface {
	Direction() Direction

	// Device returns the device the unit actually opened
	Device() DeviceID

	NativeFormat() (NativeFormat, error)
	SetStreamFormat(f StreamFormat) error

	BufferFrames() (uint32, error)
	BufferFrameRange() (lo, hi uint32, err error)

	// SetBufferFrames requests a new buffer size. The change may complete
	// asynchronously; completion is reported through the buffer size listener.
	SetBufferFrames(frames uint32) error
	AddBufferSizeListener(fn BufferSizeListener) error
	RemoveBufferSizeListener() error

	SetMaxFramesPerSlice(frames uint32) error

	SetRenderCallback(fn RenderFunc) error
	SetCaptureCallback(fn CaptureFunc) error

	Initialize() error
	Start() error
	Stop() error
	Close() error

	Latency() (LatencyInfo, error)
	SetVolume(volume float32) error
	DataSource() (string, error)
}
