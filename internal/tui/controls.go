package tui

import (
	"fmt"
	"slices"
	"strconv"

	"github.com/jmylchreest/archsense/internal/model"
	"github.com/jmylchreest/archsense/internal/protocol"
)

// brightnessStep is the brightness change per key press.
const brightnessStep = 10

type controlKind int

const (
	controlRgbMode controlKind = iota
	controlRgbColor
	controlRgbSpeed
	controlRgbBrightness
	controlFan
	controlFeature
	controlUsb
	controlThermal
)

// control is one adjustable row.
type control struct {
	kind    controlKind
	feature model.Feature
}

func controls() []control {
	out := []control{
		{kind: controlRgbMode},
		{kind: controlRgbColor},
		{kind: controlRgbSpeed},
		{kind: controlRgbBrightness},
		{kind: controlFan},
	}
	for _, f := range model.Features {
		out = append(out, control{kind: controlFeature, feature: f})
	}
	return append(out, control{kind: controlUsb}, control{kind: controlThermal})
}

func (c control) capability() model.Capability {
	switch c.kind {
	case controlFan:
		return model.CapFan
	case controlFeature:
		return model.CapabilityOf(c.feature)
	case controlUsb:
		return model.CapUsbCharging
	case controlThermal:
		return model.CapThermal
	default:
		return model.CapRGB
	}
}

func (c control) label() string {
	switch c.kind {
	case controlRgbMode:
		return "Keyboard mode"
	case controlRgbColor:
		return "Keyboard colour"
	case controlRgbSpeed:
		return "Effect speed"
	case controlRgbBrightness:
		return "Brightness"
	case controlFan:
		return "Fan"
	case controlFeature:
		return featureLabels[c.feature]
	case controlUsb:
		return "USB charging"
	case controlThermal:
		return "Thermal profile"
	}
	return ""
}

var featureLabels = map[model.Feature]string{
	model.FeatureBatteryLimiter:     "Battery limiter",
	model.FeatureBatteryCalibration: "Battery calibration",
	model.FeatureLcdOverdrive:       "LCD overdrive",
	model.FeatureBootAnimation:      "Boot animation",
	model.FeatureBacklightTimeout:   "Backlight timeout",
}

// value renders the control's current setting.
func (c control) value(s *model.Snapshot) string {
	switch c.kind {
	case controlRgbMode:
		return string(s.RgbMode)
	case controlRgbColor:
		if !s.RgbMode.UsesColor() {
			return "-"
		}
		return string(s.RgbColor)
	case controlRgbSpeed:
		return fmt.Sprintf("%d/%d", s.RgbSpeed, model.MaxRgbSpeed)
	case controlRgbBrightness:
		return strconv.Itoa(s.RgbBrightness) + "%"
	case controlFan:
		return string(s.FanMode)
	case controlFeature:
		if s.Toggle(c.feature) {
			return "on"
		}
		return "off"
	case controlUsb:
		if s.UsbThreshold == 0 {
			return "off"
		}
		return fmt.Sprintf("stop at %d%%", int(s.UsbThreshold))
	case controlThermal:
		return string(s.ThermalProfile)
	}
	return ""
}

// adjust returns the command that moves the control one step in dir
// (+1 or -1). A nil command means there is nothing to do.
func (c control) adjust(s *model.Snapshot, dir int) (protocol.Command, error) {
	if !s.Supports(c.capability()) {
		return nil, fmt.Errorf("%s is not supported on this machine", c.label())
	}

	switch c.kind {
	case controlRgbMode:
		return protocol.SetRgbMode{Mode: step(model.RgbModes, s.RgbMode, dir)}, nil

	case controlRgbColor:
		if !s.RgbMode.UsesColor() {
			return nil, fmt.Errorf("%s mode has no colour", s.RgbMode)
		}
		choices := selectableColors(s.RgbMode)
		return protocol.SetRgbColor{Color: step(choices, s.RgbColor, dir)}, nil

	case controlRgbSpeed:
		v := min(max(s.RgbSpeed+dir, model.MinRgbSpeed), model.MaxRgbSpeed)
		if v == s.RgbSpeed {
			return nil, nil
		}
		return protocol.SetRgbSpeed{Speed: v}, nil

	case controlRgbBrightness:
		v := min(max(s.RgbBrightness+dir*brightnessStep, model.MinRgbBrightness), model.MaxRgbBrightness)
		if v == s.RgbBrightness {
			return nil, nil
		}
		return protocol.SetRgbBrightness{Brightness: v}, nil

	case controlFan:
		return protocol.SetFanMode{Mode: step(model.FanModes, s.FanMode, dir)}, nil

	case controlFeature:
		return protocol.ToggleFeature{Feature: c.feature}, nil

	case controlUsb:
		return protocol.CycleUsbThreshold{}, nil

	case controlThermal:
		choices := s.ThermalChoices
		if len(choices) == 0 {
			choices = model.ThermalProfiles
		}
		next := step(choices, s.ThermalProfile, dir)
		if next == s.ThermalProfile {
			return nil, nil
		}
		return protocol.SetThermalProfile{Profile: next}, nil
	}
	return nil, nil
}

// selectableColors lists the colours mode can show.
func selectableColors(mode model.RgbMode) []model.RgbColor {
	var out []model.RgbColor
	for _, c := range model.RgbColors {
		if !c.Selectable() {
			continue
		}
		if mode == model.RgbStatic && c == model.ColorRandom {
			continue
		}
		out = append(out, c)
	}
	return out
}

// step moves dir places through values starting at cur, wrapping around.
// A cur not in values starts from the first element.
func step[T comparable](values []T, cur T, dir int) T {
	i := slices.Index(values, cur)
	if i < 0 {
		return values[0]
	}
	n := len(values)
	return values[((i+dir)%n+n)%n]
}
