package audiocore_test

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/duplexaudio/internal/audiocore"
	"github.com/tphakala/duplexaudio/internal/audiocore/backends/simulated"
)

func TestNewContextRequiresBackend(t *testing.T) {
	t.Parallel()

	_, err := audiocore.NewContext("nil", nil)
	require.Error(t, err)
	assert.Equal(t, audiocore.KindInvalidParameter, audiocore.KindOf(err))
}

func TestContextDestroyRemovesListeners(t *testing.T) {
	t.Parallel()

	b := simulated.NewDefault()
	ctx, err := audiocore.NewContext("destroy", b)
	require.NoError(t, err)
	assert.Equal(t, "simulated", ctx.BackendID())
	assert.Equal(t, 3, b.ListenerCount())

	require.NoError(t, ctx.Destroy())
	require.NoError(t, ctx.Destroy())
	assert.Equal(t, 0, b.ListenerCount())

	_, err = ctx.NewStream(audiocore.StreamOptions{OutputParams: &stereo48k, DataCallback: constantOutput(0)})
	require.Error(t, err)
	assert.ErrorIs(t, err, audiocore.ErrContextDestroyed)
}

func TestContextDefaultDeviceQueries(t *testing.T) {
	t.Parallel()

	b := simulated.NewDefault()
	ctx := newTestContext(t, b)

	channels, err := ctx.MaxChannelCount()
	require.NoError(t, err)
	assert.Equal(t, uint32(2), channels)

	rate, err := ctx.PreferredSampleRate()
	require.NoError(t, err)
	assert.Equal(t, uint32(48000), rate)

	layout, err := ctx.PreferredChannelLayout()
	require.NoError(t, err)
	assert.Equal(t, audiocore.LayoutStereo, layout)

	minLatency, err := ctx.MinLatency()
	require.NoError(t, err)
	assert.Equal(t, uint32(audiocore.SafeMinLatencyFrames), minLatency)
}

func TestContextQueriesWithoutDefaultOutput(t *testing.T) {
	t.Parallel()

	b := simulated.New()
	ctx := newTestContext(t, b)

	_, err := ctx.MaxChannelCount()
	assert.Equal(t, audiocore.KindDeviceUnavailable, audiocore.KindOf(err))
	_, err = ctx.PreferredSampleRate()
	assert.Equal(t, audiocore.KindDeviceUnavailable, audiocore.KindOf(err))
}

func TestEnumerateDevices(t *testing.T) {
	t.Parallel()

	b := simulated.NewDefault()
	ctx := newTestContext(t, b)

	outputs, err := ctx.EnumerateDevices(audiocore.DeviceTypeOutput)
	require.NoError(t, err)
	require.Len(t, outputs, 1)

	spk := outputs[0]
	assert.Equal(t, simulated.DefaultSpeakers, spk.ID)
	assert.Equal(t, string(simulated.DefaultSpeakers), spk.DevID)
	assert.Equal(t, "Internal Speakers", spk.FriendlyName)
	assert.Equal(t, "duplexaudio", spk.VendorName)
	assert.Equal(t, audiocore.DeviceTypeOutput, spk.Type)
	assert.Equal(t, audiocore.DeviceStateEnabled, spk.State)
	assert.Equal(t, audiocore.DevicePrefAll, spk.Preferred)
	assert.Equal(t, audiocore.SampleFloat32NE, spk.DefaultFormat)
	assert.Equal(t, uint32(2), spk.MaxChannels)
	assert.Equal(t, uint32(48000), spk.DefaultRate)
	assert.Equal(t, uint32(48+64), spk.LatencyLo)
	assert.Equal(t, uint32(48+4096), spk.LatencyHi)

	all, err := ctx.EnumerateDevices(audiocore.DeviceTypeAll)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, audiocore.DeviceTypeInput, all[0].Type)
	assert.Equal(t, audiocore.DeviceTypeOutput, all[1].Type)

	_, err = ctx.EnumerateDevices(audiocore.DeviceTypeUnknown)
	assert.Equal(t, audiocore.KindInvalidParameter, audiocore.KindOf(err))
}

func TestEnumerateDevicesFallbackLatencyAndPreference(t *testing.T) {
	t.Parallel()

	b := simulated.NewDefault()
	b.AddDevice(simulated.DeviceConfig{
		ID:     "hdmi",
		Name:   "HDMI Output",
		Output: simulated.Endpoint{Channels: 8, Rate: 48000},
	})
	ctx := newTestContext(t, b)

	outputs, err := ctx.EnumerateDevices(audiocore.DeviceTypeOutput)
	require.NoError(t, err)
	require.Len(t, outputs, 2)

	hdmi := outputs[1]
	assert.Equal(t, audiocore.DeviceID("hdmi"), hdmi.ID)
	assert.Equal(t, "HDMI Output", hdmi.FriendlyName, "the device name is used without a data source")
	assert.Equal(t, audiocore.DevicePrefNone, hdmi.Preferred)
	assert.Equal(t, uint32(480), hdmi.LatencyLo)
	assert.Equal(t, uint32(4800), hdmi.LatencyHi)
}

func TestEnumerationCacheFollowsCollection(t *testing.T) {
	t.Parallel()

	b := simulated.NewDefault()
	ctx := newTestContext(t, b)

	first, err := ctx.EnumerateDevices(audiocore.DeviceTypeOutput)
	require.NoError(t, err)
	require.Len(t, first, 1)

	first[0].FriendlyName = "mutated"
	again, err := ctx.EnumerateDevices(audiocore.DeviceTypeOutput)
	require.NoError(t, err)
	assert.Equal(t, "Internal Speakers", again[0].FriendlyName, "callers get their own copy")

	addUSBDAC(b)
	after, err := ctx.EnumerateDevices(audiocore.DeviceTypeOutput)
	require.NoError(t, err)
	assert.Len(t, after, 2)

	require.NoError(t, b.SetDefault(audiocore.DirectionOutput, "usb-dac"))
	after, err = ctx.EnumerateDevices(audiocore.DeviceTypeOutput)
	require.NoError(t, err)
	assert.Equal(t, audiocore.DevicePrefNone, after[0].Preferred)
	assert.Equal(t, audiocore.DevicePrefAll, after[1].Preferred)
}

func TestCollectionChangedFiltersByType(t *testing.T) {
	t.Parallel()

	b := simulated.NewDefault()
	ctx := newTestContext(t, b)

	var calls atomic.Int32
	require.NoError(t, ctx.RegisterDeviceCollectionChanged(audiocore.DeviceTypeOutput, func(*audiocore.Context) {
		calls.Add(1)
	}))
	err := ctx.RegisterDeviceCollectionChanged(audiocore.DeviceTypeOutput, func(*audiocore.Context) {})
	assert.Equal(t, audiocore.KindInvalidParameter, audiocore.KindOf(err), "only one subscriber at a time")

	addUSBMic(b)
	addUSBDAC(b)
	require.Eventually(t, func() bool { return calls.Load() == 1 }, eventuallyWait, eventuallyTick)

	// dispatches run in order, so the input-only arrival was already filtered out
	assert.Equal(t, int32(1), calls.Load())

	b.RemoveDevice("usb-dac")
	require.Eventually(t, func() bool { return calls.Load() == 2 }, eventuallyWait, eventuallyTick)

	require.NoError(t, ctx.RegisterDeviceCollectionChanged(audiocore.DeviceTypeOutput, nil))
	addUSBDAC(b)
	require.NoError(t, ctx.RegisterDeviceCollectionChanged(audiocore.DeviceTypeInput, func(*audiocore.Context) {}))
	assert.Equal(t, int32(2), calls.Load())
}

func TestCollectionChangedRejectsUnknownType(t *testing.T) {
	t.Parallel()

	ctx := newTestContext(t, simulated.NewDefault())
	err := ctx.RegisterDeviceCollectionChanged(audiocore.DeviceTypeUnknown, func(*audiocore.Context) {})
	assert.Equal(t, audiocore.KindInvalidParameter, audiocore.KindOf(err))
}
