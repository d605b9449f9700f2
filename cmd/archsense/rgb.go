package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/archsense/internal/model"
	"github.com/jmylchreest/archsense/internal/protocol"
)

// rgbCmd represents the keyboard lighting command group.
var rgbCmd = &cobra.Command{
	Use:   "rgb",
	Short: "Control keyboard lighting",
	Long: `Control the four-zone keyboard backlight.

Use 'archsense rgb mode <mode>' to pick an animation.
Use 'archsense rgb color <color>' to pick a colour (static, breathing, shifting and zoom only).
Use 'archsense rgb speed <1-10>' to set the animation speed.
Use 'archsense rgb brightness <0-100>' to set the brightness.`,
}

var rgbModeCmd = &cobra.Command{
	Use:       "mode <mode>",
	Short:     "Set the lighting mode",
	Long:      `Set the lighting mode: off, static, breathing, neon, wave, shifting or zoom.`,
	Args:      cobra.ExactArgs(1),
	ValidArgs: rgbModeNames(),
	RunE: func(cmd *cobra.Command, args []string) error {
		mode, err := model.ParseRgbMode(args[0])
		if err != nil {
			return err
		}
		return runMutation(cmd, protocol.SetRgbMode{Mode: mode})
	},
}

var rgbColorCmd = &cobra.Command{
	Use:       "color <color>",
	Aliases:   []string{"colour"},
	Short:     "Set the lighting colour",
	Long:      `Set the lighting colour. "random" is not available in static mode.`,
	Args:      cobra.ExactArgs(1),
	ValidArgs: rgbColorNames(),
	RunE: func(cmd *cobra.Command, args []string) error {
		color, err := model.ParseRgbColor(args[0])
		if err != nil {
			return err
		}
		return runMutation(cmd, protocol.SetRgbColor{Color: color})
	},
}

var rgbSpeedCmd = &cobra.Command{
	Use:   "speed <1-10>",
	Short: "Set the animation speed",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		speed, err := parseBounded(args[0], "speed", model.MinRgbSpeed, model.MaxRgbSpeed)
		if err != nil {
			return err
		}
		return runMutation(cmd, protocol.SetRgbSpeed{Speed: speed})
	},
}

var rgbBrightnessCmd = &cobra.Command{
	Use:   "brightness <0-100>",
	Short: "Set the keyboard brightness",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		b, err := parseBounded(args[0], "brightness", model.MinRgbBrightness, model.MaxRgbBrightness)
		if err != nil {
			return err
		}
		return runMutation(cmd, protocol.SetRgbBrightness{Brightness: b})
	},
}

func init() {
	rgbCmd.AddCommand(rgbModeCmd)
	rgbCmd.AddCommand(rgbColorCmd)
	rgbCmd.AddCommand(rgbSpeedCmd)
	rgbCmd.AddCommand(rgbBrightnessCmd)

	rootCmd.AddCommand(rgbCmd)
}

// parseBounded parses an integer argument in [lo, hi]. A trailing % is
// accepted so "archsense rgb brightness 50%" works.
func parseBounded(s, name string, lo, hi int) (int, error) {
	if n := len(s); n > 0 && s[n-1] == '%' {
		s = s[:n-1]
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%s must be a number, got %q", name, s)
	}
	if v < lo || v > hi {
		return 0, fmt.Errorf("%s must be between %d and %d, got %d", name, lo, hi, v)
	}
	return v, nil
}

func rgbModeNames() []string {
	names := make([]string, len(model.RgbModes))
	for i, m := range model.RgbModes {
		names[i] = string(m)
	}
	return names
}

func rgbColorNames() []string {
	var names []string
	for _, c := range model.RgbColors {
		if c.Selectable() {
			names = append(names, string(c))
		}
	}
	return names
}
