package main

import (
	"github.com/spf13/cobra"

	"github.com/jmylchreest/archsense/internal/model"
	"github.com/jmylchreest/archsense/internal/protocol"
)

var fanCmd = &cobra.Command{
	Use:   "fan <auto|balanced|turbo>",
	Short: "Set the fan profile",
	Long: `Set the fan profile.

  auto      temperature-driven fan curve, firmware-controlled when
            archsensed has the curve disabled
  balanced  fixed medium fan speed
  turbo     maximum fan speed`,
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{string(model.FanAuto), string(model.FanBalanced), string(model.FanTurbo)},
	RunE: func(cmd *cobra.Command, args []string) error {
		mode, err := model.ParseFanMode(args[0])
		if err != nil {
			return err
		}
		return runMutation(cmd, protocol.SetFanMode{Mode: mode})
	},
}

func init() {
	rootCmd.AddCommand(fanCmd)
}
