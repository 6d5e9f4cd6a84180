package monitor

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/duplexaudio/internal/audiocore"
	"github.com/tphakala/duplexaudio/internal/audiocore/backends/simulated"
	"github.com/tphakala/duplexaudio/internal/testutil"
)

// lineWriter forwards each write to a channel
type lineWriter chan string

func (w lineWriter) Write(p []byte) (int, error) {
	w <- string(p)
	return len(p), nil
}

func next(t *testing.T, lines lineWriter) string {
	t.Helper()
	return testutil.Receive[string](t, lines, testutil.DefaultTestTimeout, "no output from monitor")
}

func TestWatchPrintsOnCollectionChange(t *testing.T) {
	t.Parallel()

	b := simulated.NewDefault()
	c, err := audiocore.NewContext(t.Name(), b)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, c.Destroy()) })

	lines := make(lineWriter, 4)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- watch(ctx, c, lines) }()

	first := next(t, lines)
	assert.True(t, strings.HasPrefix(first, "2 devices:"), first)

	b.AddDevice(simulated.DeviceConfig{
		ID:           "usb-headset",
		Name:         "USB Headset",
		Output:       simulated.Endpoint{Channels: 2, Rate: 48000, BufferFrameMin: 64, BufferFrameMax: 4096},
		BufferFrames: 512,
	})

	second := next(t, lines)
	assert.True(t, strings.HasPrefix(second, "3 devices:"), second)
	assert.Contains(t, second, "output:usb-headset")

	cancel()
	require.NoError(t, testutil.Receive(t, done, testutil.DefaultTestTimeout, "watch did not return after cancel"))

	// the subscription is released, so a new one can be made
	require.NoError(t, c.RegisterDeviceCollectionChanged(audiocore.DeviceTypeAll, func(*audiocore.Context) {}))
	require.NoError(t, c.RegisterDeviceCollectionChanged(audiocore.DeviceTypeAll, nil))
}
