package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/archsense/internal/adapter/output"
	"github.com/jmylchreest/archsense/internal/protocol"
)

// usbCmd shows the powered-off USB charging threshold.
var usbCmd = &cobra.Command{
	Use:   "usb",
	Short: "Show or cycle the USB charging threshold",
	Long: `Show the battery level below which USB charging stops while the
laptop is off. Use 'archsense usb cycle' to step through off, 10%, 20% and 30%.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		snap, err := execute(cmd.Context(), protocol.GetState{})
		if err != nil {
			return err
		}
		value, err := output.FormatField(snap, "usb")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), value)
		return err
	},
}

var usbCycleCmd = &cobra.Command{
	Use:   "cycle",
	Short: "Advance to the next USB charging threshold",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMutation(cmd, protocol.CycleUsbThreshold{})
	},
}

func init() {
	usbCmd.AddCommand(usbCycleCmd)
	rootCmd.AddCommand(usbCmd)
}
