package monitor

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tphakala/duplexaudio/internal/app"
	"github.com/tphakala/duplexaudio/internal/audiocore"
	"github.com/tphakala/duplexaudio/internal/conf"
	"github.com/tphakala/duplexaudio/internal/logger"
)

// Command creates a new cobra.Command that reports device arrivals and removals.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Watch for audio devices being added or removed",
		Long:  "Prints the device list on start and again every time the set of input or output devices changes, until interrupted.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := app.New(settings)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			return a.Run(cmd.Context(), func(ctx context.Context) error {
				return watch(ctx, a.Context, cmd.OutOrStdout())
			})
		},
	}

	return cmd
}

// watch prints the device list whenever it changes until ctx ends
func watch(ctx context.Context, c *audiocore.Context, w io.Writer) error {
	changed := make(chan struct{}, 1)
	err := c.RegisterDeviceCollectionChanged(audiocore.DeviceTypeAll, func(*audiocore.Context) {
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	if err != nil {
		return err
	}
	defer func() { _ = c.RegisterDeviceCollectionChanged(audiocore.DeviceTypeAll, nil) }()

	if err := printSnapshot(c, w); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-changed:
			app.GetLogger().Info("device collection changed")
			if err := printSnapshot(c, w); err != nil {
				app.GetLogger().Warn("failed to list devices", logger.Error(err))
			}
		}
	}
}

func printSnapshot(c *audiocore.Context, w io.Writer) error {
	list, err := c.EnumerateDevices(audiocore.DeviceTypeAll)
	if err != nil {
		return err
	}
	names := make([]string, 0, len(list))
	for i := range list {
		names = append(names, fmt.Sprintf("%s:%s", list[i].Type, list[i].ID))
	}
	_, err = fmt.Fprintf(w, "%d devices: %s\n", len(list), strings.Join(names, " "))
	return err
}
