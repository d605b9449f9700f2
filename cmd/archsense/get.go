package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/archsense/internal/adapter/output"
	"github.com/jmylchreest/archsense/internal/protocol"
)

var getOpts struct {
	field        string
	template     string
	noTelemetry  bool
	showRevision bool
}

var getCmd = &cobra.Command{
	Use:   "get",
	Short: "Show the current hardware state",
	Long: `Show the daemon's current view of the hardware.

Examples:
  # Human-readable summary
  archsense get

  # Single value for scripts
  archsense get --field fan

  # Machine-readable
  archsense get --format json

  # Custom template
  archsense get --template '{{.RgbMode}} {{.FanMode}} {{temp .Telemetry.CPUTempC}}'`,
	Args: cobra.NoArgs,
	RunE: runGet,
}

func init() {
	rootCmd.AddCommand(getCmd)

	getCmd.Flags().StringVar(&getOpts.field, "field", "",
		"Output a single field (mode, speed, brightness, color, fan, usb, temp, revision or a feature name)")
	getCmd.Flags().StringVar(&getOpts.template, "template", "",
		"Custom Go template for plain output")
	getCmd.Flags().BoolVar(&getOpts.noTelemetry, "no-telemetry", false,
		"Omit live temperature and fan readings")
	getCmd.Flags().BoolVar(&getOpts.showRevision, "revision", false,
		"Include the state revision")
}

func runGet(cmd *cobra.Command, args []string) error {
	snap, err := execute(cmd.Context(), protocol.GetState{})
	if err != nil {
		return err
	}

	if getOpts.field != "" {
		value, err := output.FormatField(snap, getOpts.field)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), value)
		return err
	}

	opts := output.DefaultFormatterOptions()
	opts.Template = getOpts.template
	opts.ShowTelemetry = !getOpts.noTelemetry
	opts.ShowRevision = getOpts.showRevision
	return printState(cmd.OutOrStdout(), snap, opts)
}
