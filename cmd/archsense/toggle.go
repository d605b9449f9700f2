package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/archsense/internal/model"
	"github.com/jmylchreest/archsense/internal/protocol"
)

var toggleCmd = &cobra.Command{
	Use:   "toggle <feature> [on|off]",
	Short: "Turn a feature on or off",
	Long: `Turn a boolean feature on or off. Without a value the feature is flipped.

Features:
  battery-limiter      stop charging at 80%
  battery-calibration  run a battery calibration cycle
  lcd-overdrive        panel overdrive
  boot-animation       firmware boot animation and sound
  backlight-timeout    turn the keyboard backlight off after 30s idle`,
	Args:      cobra.RangeArgs(1, 2),
	ValidArgs: featureNames(),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := buildToggle(args)
		if err != nil {
			return err
		}
		return runMutation(cmd, c)
	},
}

func init() {
	rootCmd.AddCommand(toggleCmd)
}

// buildToggle turns "toggle <feature> [on|off]" arguments into a command.
func buildToggle(args []string) (protocol.ToggleFeature, error) {
	feat, err := model.ParseFeature(args[0])
	if err != nil {
		return protocol.ToggleFeature{}, err
	}
	c := protocol.ToggleFeature{Feature: feat}
	if len(args) > 1 {
		v, err := parseOnOff(args[1])
		if err != nil {
			return protocol.ToggleFeature{}, err
		}
		c.Value = protocol.Bool(v)
	}
	return c, nil
}

func parseOnOff(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "on", "true", "1", "yes", "enable":
		return true, nil
	case "off", "false", "0", "no", "disable":
		return false, nil
	}
	return false, fmt.Errorf("expected on or off, got %q", s)
}

func featureNames() []string {
	names := make([]string, len(model.Features))
	for i, f := range model.Features {
		names[i] = strings.ReplaceAll(string(f), "_", "-")
	}
	return names
}
