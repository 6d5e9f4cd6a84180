package audiocore

import (
	"fmt"
)

// SampleFormat is the sample encoding exchanged with the hardware
type SampleFormat int

const (
	SampleFormatUnknown SampleFormat = iota
	SampleS16LE
	SampleS16BE
	SampleFloat32LE
	SampleFloat32BE
)

// Native-endian aliases. Every supported target is little-endian.
const (
	SampleS16NE     = SampleS16LE
	SampleFloat32NE = SampleFloat32LE
)

func (f SampleFormat) String() string {
	switch f {
	case SampleS16LE:
		return "s16le"
	case SampleS16BE:
		return "s16be"
	case SampleFloat32LE:
		return "f32le"
	case SampleFloat32BE:
		return "f32be"
	default:
		return "unknown"
	}
}

// BytesPerSample returns the encoded width of one sample, or 0 for unknown formats
func (f SampleFormat) BytesPerSample() int {
	switch f {
	case SampleS16LE, SampleS16BE:
		return 2
	case SampleFloat32LE, SampleFloat32BE:
		return 4
	default:
		return 0
	}
}

// IsFloat reports whether the format carries float samples
func (f SampleFormat) IsFloat() bool {
	return f == SampleFloat32LE || f == SampleFloat32BE
}

// ParseSampleFormat parses the names produced by SampleFormat.String
func ParseSampleFormat(s string) (SampleFormat, error) {
	switch s {
	case "s16le", "s16":
		return SampleS16LE, nil
	case "s16be":
		return SampleS16BE, nil
	case "f32le", "f32", "float32":
		return SampleFloat32LE, nil
	case "f32be":
		return SampleFloat32BE, nil
	}
	return SampleFormatUnknown, newError(KindFormatUnsupported, "parse_format", nil, "unknown sample format %q", s).Build()
}

// ChannelLayout describes the speaker arrangement of a stream
type ChannelLayout int

const (
	LayoutUndefined ChannelLayout = iota
	LayoutDualMono
	LayoutDualMonoLFE
	LayoutMono
	LayoutMonoLFE
	LayoutStereo
	LayoutStereoLFE
	Layout3F
	Layout3FLFE
	Layout2F1
	Layout2F1LFE
	Layout3F1
	Layout3F1LFE
	Layout2F2
	Layout2F2LFE
	Layout3F2
	Layout3F2LFE
	Layout3F3RLFE
	Layout3F4LFE
)

var layoutInfo = map[ChannelLayout]struct {
	name     string
	channels uint32
}{
	LayoutUndefined:   {"undefined", 0},
	LayoutDualMono:    {"dual-mono", 2},
	LayoutDualMonoLFE: {"dual-mono-lfe", 3},
	LayoutMono:        {"mono", 1},
	LayoutMonoLFE:     {"mono-lfe", 2},
	LayoutStereo:      {"stereo", 2},
	LayoutStereoLFE:   {"stereo-lfe", 3},
	Layout3F:          {"3f", 3},
	Layout3FLFE:       {"3f-lfe", 4},
	Layout2F1:         {"2f1", 3},
	Layout2F1LFE:      {"2f1-lfe", 4},
	Layout3F1:         {"3f1", 4},
	Layout3F1LFE:      {"3f1-lfe", 5},
	Layout2F2:         {"2f2", 4},
	Layout2F2LFE:      {"2f2-lfe", 5},
	Layout3F2:         {"3f2", 5},
	Layout3F2LFE:      {"3f2-lfe", 6},
	Layout3F3RLFE:     {"3f3r-lfe", 7},
	Layout3F4LFE:      {"3f4-lfe", 8},
}

func (l ChannelLayout) String() string {
	if info, ok := layoutInfo[l]; ok {
		return info.name
	}
	return fmt.Sprintf("layout(%d)", int(l))
}

// Channels returns the channel count of the layout, 0 for LayoutUndefined
func (l ChannelLayout) Channels() uint32 {
	return layoutInfo[l].channels
}

// LayoutForChannels returns the conventional layout for a channel count
func LayoutForChannels(channels uint32) ChannelLayout {
	switch channels {
	case 1:
		return LayoutMono
	case 2:
		return LayoutStereo
	case 3:
		return Layout3F
	case 4:
		return Layout2F2
	case 5:
		return Layout3F2
	case 6:
		return Layout3F2LFE
	case 7:
		return Layout3F3RLFE
	case 8:
		return Layout3F4LFE
	default:
		return LayoutUndefined
	}
}

// StreamParams describes one direction of a stream as the application sees it
type StreamParams struct {
	Format   SampleFormat  `yaml:"format"`
	Rate     uint32        `yaml:"rate"`
	Channels uint32        `yaml:"channels"`
	Layout   ChannelLayout `yaml:"layout"`
}

// GetRate returns the rate, 0 for nil params
func (p *StreamParams) GetRate() uint32 {
	if p == nil {
		return 0
	}
	return p.Rate
}

// validate checks the parameters in isolation
func (p *StreamParams) validate(dir Direction) error {
	switch {
	case p.Rate == 0:
		return newError(KindInvalidParameter, "stream_init", nil, "%s rate must be positive", dir).Build()
	case p.Channels == 0:
		return newError(KindInvalidParameter, "stream_init", nil, "%s channel count must be positive", dir).Build()
	case p.Layout != LayoutUndefined && p.Layout.Channels() != p.Channels:
		return newError(KindInvalidParameter, "stream_init", nil,
			"%s layout %s has %d channels, stream has %d", dir, p.Layout, p.Layout.Channels(), p.Channels).Build()
	}

	switch p.Format {
	case SampleS16LE, SampleFloat32LE:
		return nil
	case SampleS16BE, SampleFloat32BE:
		return newError(KindFormatUnsupported, "stream_init", nil, "%s format %s is not native on this platform", dir, p.Format).Build()
	default:
		return newError(KindFormatUnsupported, "stream_init", nil, "%s format %d is not supported", dir, int(p.Format)).Build()
	}
}

// Direction selects the input or output side of a stream or unit
type Direction int

const (
	DirectionInput Direction = iota + 1
	DirectionOutput
)

func (d Direction) String() string {
	switch d {
	case DirectionInput:
		return "input"
	case DirectionOutput:
		return "output"
	default:
		return "unknown"
	}
}

// Opposite returns the other direction
func (d Direction) Opposite() Direction {
	if d == DirectionInput {
		return DirectionOutput
	}
	return DirectionInput
}

// DeviceID identifies a hardware device. The empty id follows the system default.
type DeviceID string

// DefaultDevice follows whatever the system considers the default device
const DefaultDevice DeviceID = ""

// DeviceType is a bitmask of directions used by enumeration and collection subscriptions
type DeviceType int

const (
	DeviceTypeUnknown DeviceType = 0
	DeviceTypeInput   DeviceType = 1 << 0
	DeviceTypeOutput  DeviceType = 1 << 1
	DeviceTypeAll                = DeviceTypeInput | DeviceTypeOutput
)

func (t DeviceType) String() string {
	switch t {
	case DeviceTypeInput:
		return "input"
	case DeviceTypeOutput:
		return "output"
	case DeviceTypeAll:
		return "all"
	default:
		return "unknown"
	}
}

// MarshalYAML renders the type by name
func (t DeviceType) MarshalYAML() (any, error) {
	return t.String(), nil
}

// directions expands the mask into concrete directions, input first
func (t DeviceType) directions() []Direction {
	var dirs []Direction
	if t&DeviceTypeInput != 0 {
		dirs = append(dirs, DirectionInput)
	}
	if t&DeviceTypeOutput != 0 {
		dirs = append(dirs, DirectionOutput)
	}
	return dirs
}

func deviceTypeFor(dir Direction) DeviceType {
	if dir == DirectionInput {
		return DeviceTypeInput
	}
	return DeviceTypeOutput
}

// DeviceState reports whether an enumerated device is usable
type DeviceState int

const (
	DeviceStateDisabled DeviceState = iota
	DeviceStateUnplugged
	DeviceStateEnabled
)

func (s DeviceState) String() string {
	switch s {
	case DeviceStateEnabled:
		return "enabled"
	case DeviceStateUnplugged:
		return "unplugged"
	default:
		return "disabled"
	}
}

// MarshalYAML renders the state by name
func (s DeviceState) MarshalYAML() (any, error) {
	return s.String(), nil
}

// DevicePref is a bitmask of roles for which a device is the system default
type DevicePref int

const (
	DevicePrefNone         DevicePref = 0
	DevicePrefMultimedia   DevicePref = 1 << 0
	DevicePrefVoice        DevicePref = 1 << 1
	DevicePrefNotification DevicePref = 1 << 2
	DevicePrefAll                     = DevicePrefMultimedia | DevicePrefVoice | DevicePrefNotification
)

// MarshalYAML renders the preference as a short word
func (p DevicePref) MarshalYAML() (any, error) {
	switch p {
	case DevicePrefNone:
		return "none", nil
	case DevicePrefAll:
		return "all", nil
	}
	return int(p), nil
}

// DeviceFormat is a bitmask of sample formats a device accepts
type DeviceFormat int

const (
	DeviceFormatS16LE DeviceFormat = 1 << 0
	DeviceFormatS16BE DeviceFormat = 1 << 1
	DeviceFormatF32LE DeviceFormat = 1 << 2
	DeviceFormatF32BE DeviceFormat = 1 << 3
	DeviceFormatAll                = DeviceFormatS16LE | DeviceFormatS16BE | DeviceFormatF32LE | DeviceFormatF32BE
)

// DeviceInfo describes one device in one direction
type DeviceInfo struct {
	ID            DeviceID     `yaml:"id" json:"id"`
	DevID         string       `yaml:"devid" json:"devid"`
	FriendlyName  string       `yaml:"friendly_name" json:"friendly_name"`
	GroupID       string       `yaml:"group_id" json:"group_id"`
	VendorName    string       `yaml:"vendor_name,omitempty" json:"vendor_name,omitempty"`
	Type          DeviceType   `yaml:"type" json:"type"`
	State         DeviceState  `yaml:"state" json:"state"`
	Preferred     DevicePref   `yaml:"preferred" json:"preferred"`
	Format        DeviceFormat `yaml:"-" json:"format"`
	DefaultFormat SampleFormat `yaml:"-" json:"default_format"`
	MaxChannels   uint32       `yaml:"max_channels" json:"max_channels"`
	DefaultRate   uint32       `yaml:"default_rate" json:"default_rate"`
	MinRate       uint32       `yaml:"min_rate" json:"min_rate"`
	MaxRate       uint32       `yaml:"max_rate" json:"max_rate"`
	LatencyLo     uint32       `yaml:"latency_lo" json:"latency_lo"`
	LatencyHi     uint32       `yaml:"latency_hi" json:"latency_hi"`
}

// State is delivered to the application's state callback
type State int

const (
	StateStarted State = iota + 1
	StateStopped
	StateDrained
)

func (s State) String() string {
	switch s {
	case StateStarted:
		return "started"
	case StateStopped:
		return "stopped"
	case StateDrained:
		return "drained"
	default:
		return "unknown"
	}
}

// Lifecycle is the stream controller's internal state
type Lifecycle int32

const (
	LifecycleCreated Lifecycle = iota
	LifecycleConfigured
	LifecycleStarted
	LifecycleDraining
	LifecycleStopped
	LifecycleDestroyed
)

func (l Lifecycle) String() string {
	switch l {
	case LifecycleCreated:
		return "created"
	case LifecycleConfigured:
		return "configured"
	case LifecycleStarted:
		return "started"
	case LifecycleDraining:
		return "draining"
	case LifecycleStopped:
		return "stopped"
	case LifecycleDestroyed:
		return "destroyed"
	default:
		return "unknown"
	}
}

// DataCallback exchanges interleaved float32 samples at the requested rate.
// input is nil for output-only streams and output is nil for input-only streams.
// Returning fewer than frames starts a drain; a negative value is a fatal error.
type DataCallback func(s *Stream, input, output []float32, frames int) int

// StateCallback receives lifecycle notifications, each at most once per transition
type StateCallback func(s *Stream, state State)

// DeviceChangedCallback is invoked when the stream's device changes underneath it
type DeviceChangedCallback func(s *Stream)

// CollectionChangedCallback is invoked when devices appear or disappear
type CollectionChangedCallback func(c *Context)

// StreamOptions are the arguments of Context.NewStream
type StreamOptions struct {
	Name          string
	InputDevice   DeviceID
	InputParams   *StreamParams
	OutputDevice  DeviceID
	OutputParams  *StreamParams
	LatencyFrames uint32
	DataCallback  DataCallback
	StateCallback StateCallback
}

// StreamDevices names the data sources a stream is currently using
type StreamDevices struct {
	Output string
	Input  string
}

// StreamStats is a snapshot of a stream's counters
type StreamStats struct {
	FramesRead            int64
	FramesPlayed          uint64
	FramesQueued          uint64
	AvailableInputFrames  int64
	SilenceFramesInserted uint64
	CaptureOverflows      uint64
}
