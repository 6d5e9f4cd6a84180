package devices

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/tphakala/duplexaudio/internal/app"
	"github.com/tphakala/duplexaudio/internal/audiocore"
	"github.com/tphakala/duplexaudio/internal/conf"
)

// Command creates a new cobra.Command that lists audio devices.
func Command(settings *conf.Settings) *cobra.Command {
	var deviceType, format string

	cmd := &cobra.Command{
		Use:   "devices",
		Short: "List audio devices",
		Long:  "Enumerates the input and output devices of the configured backend.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			typ, err := parseDeviceType(deviceType)
			if err != nil {
				return err
			}

			a, err := app.New(settings)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			list, err := a.Context.EnumerateDevices(typ)
			if err != nil {
				return err
			}
			return printDevices(cmd.OutOrStdout(), list, format)
		},
	}

	cmd.Flags().StringVar(&deviceType, "type", "all", "Device type to list (all, input, output)")
	cmd.Flags().StringVar(&format, "output", "text", "Output format (text, yaml)")

	return cmd
}

func parseDeviceType(s string) (audiocore.DeviceType, error) {
	switch strings.ToLower(s) {
	case "", "all":
		return audiocore.DeviceTypeAll, nil
	case "input", "in":
		return audiocore.DeviceTypeInput, nil
	case "output", "out":
		return audiocore.DeviceTypeOutput, nil
	default:
		return audiocore.DeviceTypeUnknown, fmt.Errorf("unknown device type %q", s)
	}
}

func printDevices(w io.Writer, list []audiocore.DeviceInfo, format string) error {
	switch format {
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(list); err != nil {
			return fmt.Errorf("failed to encode devices: %w", err)
		}
		return enc.Close()
	case "text", "":
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintln(tw, "TYPE\tID\tNAME\tCHANNELS\tRATE\tLATENCY\tDEFAULT")
		for i := range list {
			d := &list[i]
			_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d (%d-%d)\t%d-%d\t%t\n",
				d.Type, d.ID, d.FriendlyName, d.MaxChannels,
				d.DefaultRate, d.MinRate, d.MaxRate,
				d.LatencyLo, d.LatencyHi,
				d.Preferred != audiocore.DevicePrefNone)
		}
		return tw.Flush()
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}
