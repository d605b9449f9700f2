package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/archsense/internal/adapter/output"
	"github.com/jmylchreest/archsense/internal/protocol"
)

var statusOpts struct {
	template string
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Output Waybar-compatible JSON status",
	Long: `Output CPU temperature and fan profile in Waybar's custom module JSON format.

This is designed to be used with Waybar's custom module:

  "custom/archsense": {
    "exec": "archsense status",
    "interval": 5,
    "return-type": "json",
    "on-click": "archsense fan turbo",
    "on-click-right": "archsense fan auto"
  }

The output includes:
  - text: CPU temperature and fan profile
  - alt: fan profile
  - tooltip: every setting, one per line
  - class: fan-<profile>, plus warning/critical by temperature and
    degraded when some hardware is unsupported

If the daemon cannot be reached an "error" module is printed so the bar
keeps rendering.`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)

	statusCmd.Flags().StringVar(&statusOpts.template, "template", "",
		"Custom Go template for the module text")
}

func runStatus(cmd *cobra.Command, args []string) error {
	snap, err := execute(cmd.Context(), protocol.GetState{})
	if err != nil {
		logger.Debug("status unavailable", "error", err)
		return writeStatusError(cmd.OutOrStdout(), err)
	}

	opts := output.DefaultFormatterOptions()
	opts.Template = statusOpts.template
	return output.NewWaybarFormatter(opts).Format(cmd.OutOrStdout(), snap)
}

// writeStatusError prints a Waybar module describing err.
func writeStatusError(w io.Writer, err error) error {
	data, mErr := json.Marshal(map[string]any{
		"text":    "",
		"alt":     "error",
		"tooltip": fmt.Sprintf("archsensed: %v", err),
		"class":   []string{"error"},
	})
	if mErr != nil {
		return mErr
	}
	_, wErr := fmt.Fprintln(w, string(data))
	return wErr
}
