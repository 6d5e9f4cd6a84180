package malgo

import (
	"runtime"
	"testing"

	"github.com/gen2brain/malgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/duplexaudio/internal/audiocore"
)

func TestResolveBackend(t *testing.T) {
	t.Parallel()

	b, name, err := resolveBackend(" PulseAudio ")
	require.NoError(t, err)
	assert.Equal(t, malgo.Backend(malgo.BackendPulseaudio), b)
	assert.Equal(t, "pulseaudio", name)

	_, _, err = resolveBackend("oss")
	require.ErrorIs(t, err, audiocore.ErrInvalidParameter)

	if runtime.GOOS == "linux" {
		b, name, err = resolveBackend("")
		require.NoError(t, err)
		assert.Equal(t, malgo.Backend(malgo.BackendAlsa), b)
		assert.Equal(t, "alsa", name)
	}
}

func TestDeviceIDFor(t *testing.T) {
	t.Parallel()

	var alsa malgo.DeviceID
	copy(alsa[:], "hw:1,0")
	assert.Equal(t, audiocore.DeviceID("hw:1,0"), deviceIDFor(alsa))

	var binaryID malgo.DeviceID
	copy(binaryID[:], []byte{0x7b, 0x00, 0x30, 0x00})
	assert.Equal(t, audiocore.DeviceID("7b0030"), deviceIDFor(binaryID), "ids that do not decode to text stay hex")
}

func TestDefaultInfo(t *testing.T) {
	t.Parallel()

	_, ok := defaultInfo(nil)
	assert.False(t, ok)

	infos := []malgo.DeviceInfo{{}, {IsDefault: 1}}
	copy(infos[0].ID[:], "first")
	copy(infos[1].ID[:], "flagged")

	got, ok := defaultInfo(infos)
	require.True(t, ok)
	assert.Equal(t, audiocore.DeviceID("flagged"), deviceIDFor(got.ID))

	got, ok = defaultInfo(infos[:1])
	require.True(t, ok)
	assert.Equal(t, audiocore.DeviceID("first"), deviceIDFor(got.ID), "the first device stands in without a flag")
}

func TestDiffSnapshots(t *testing.T) {
	t.Parallel()

	base := deviceSnapshot{
		outputs:       []audiocore.DeviceID{"speakers", "usb"},
		inputs:        []audiocore.DeviceID{"mic", "usb"},
		defaultOutput: "usb",
		defaultInput:  "usb",
	}

	t.Run("no change", func(t *testing.T) {
		t.Parallel()
		reordered := base
		reordered.outputs = []audiocore.DeviceID{"usb", "speakers"}
		assert.Empty(t, diffSnapshots(base, reordered))
	})

	t.Run("unplug", func(t *testing.T) {
		t.Parallel()
		next := deviceSnapshot{
			outputs:       []audiocore.DeviceID{"speakers"},
			inputs:        []audiocore.DeviceID{"mic"},
			defaultOutput: "speakers",
			defaultInput:  "mic",
		}
		assert.Equal(t, []audiocore.PropertyEvent{
			{Device: "usb", Property: audiocore.PropertyDeviceIsAlive},
			{Device: audiocore.SystemObject, Property: audiocore.PropertyDeviceCollection},
			{Device: audiocore.SystemObject, Property: audiocore.PropertyDefaultOutputDevice},
			{Device: audiocore.SystemObject, Property: audiocore.PropertyDefaultInputDevice},
		}, diffSnapshots(base, next))
	})

	t.Run("default moves", func(t *testing.T) {
		t.Parallel()
		next := base
		next.defaultOutput = "speakers"
		assert.Equal(t, []audiocore.PropertyEvent{
			{Device: audiocore.SystemObject, Property: audiocore.PropertyDefaultOutputDevice},
		}, diffSnapshots(base, next))
	})

	t.Run("plug in", func(t *testing.T) {
		t.Parallel()
		next := base
		next.inputs = []audiocore.DeviceID{"mic", "usb", "headset"}
		assert.Equal(t, []audiocore.PropertyEvent{
			{Device: audiocore.SystemObject, Property: audiocore.PropertyDeviceCollection},
		}, diffSnapshots(base, next))
	})
}

func TestNullBackend(t *testing.T) {
	if testing.Short() {
		t.Skip("opens a miniaudio context")
	}

	b, err := New(Config{Backend: "null", PollInterval: -1})
	if err != nil {
		t.Skipf("miniaudio null backend unavailable: %v", err)
	}
	t.Cleanup(func() { require.NoError(t, b.Close()) })

	assert.Equal(t, "malgo/null", b.ID())

	ids, err := b.Devices()
	require.NoError(t, err)
	assert.NotEmpty(t, ids)

	_, err = b.OpenUnit(audiocore.DirectionOutput, "no-such-device")
	require.ErrorIs(t, err, audiocore.ErrDeviceUnavailable)

	id, err := b.AddPropertyListener(audiocore.SystemObject, audiocore.PropertyDeviceCollection, func(audiocore.PropertyEvent) {})
	require.NoError(t, err)
	require.NoError(t, b.RemovePropertyListener(id))
	require.ErrorIs(t, b.RemovePropertyListener(id), audiocore.ErrInvalidParameter)
}
