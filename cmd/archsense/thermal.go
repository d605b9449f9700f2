package main

import (
	"github.com/spf13/cobra"

	"github.com/jmylchreest/archsense/internal/model"
	"github.com/jmylchreest/archsense/internal/protocol"
)

var thermalCmd = &cobra.Command{
	Use:   "thermal <profile>",
	Short: "Set the ACPI thermal profile",
	Long: `Set the ACPI platform profile.

The firmware offers a subset of low-power, cool, quiet, balanced,
balanced-performance, performance and custom. "archsense get" lists the
profiles this machine accepts.`,
	Args:      cobra.ExactArgs(1),
	ValidArgs: thermalProfileNames(),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := model.ParseThermalProfile(args[0])
		if err != nil {
			return err
		}
		return runMutation(cmd, protocol.SetThermalProfile{Profile: p})
	},
}

func thermalProfileNames() []string {
	names := make([]string, len(model.ThermalProfiles))
	for i, p := range model.ThermalProfiles {
		names[i] = string(p)
	}
	return names
}

func init() {
	rootCmd.AddCommand(thermalCmd)
}
