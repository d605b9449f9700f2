// Package model defines the hardware state shared by archsensed and its clients.
package model

import (
	"errors"
	"fmt"
	"strings"
)

// RgbMode is a keyboard lighting animation.
type RgbMode string

// Keyboard lighting modes.
const (
	RgbOff       RgbMode = "off"
	RgbStatic    RgbMode = "static"
	RgbBreathing RgbMode = "breathing"
	RgbNeon      RgbMode = "neon"
	RgbWave      RgbMode = "wave"
	RgbShifting  RgbMode = "shifting"
	RgbZoom      RgbMode = "zoom"
)

// RgbModes lists every lighting mode in display order.
var RgbModes = []RgbMode{RgbOff, RgbStatic, RgbBreathing, RgbNeon, RgbWave, RgbShifting, RgbZoom}

// Valid reports whether m is a known mode.
func (m RgbMode) Valid() bool {
	for _, v := range RgbModes {
		if m == v {
			return true
		}
	}
	return false
}

// UsesColor reports whether the mode renders the selected colour.
// Off, neon and wave cycle through firmware colours on their own.
func (m RgbMode) UsesColor() bool {
	switch m {
	case RgbStatic, RgbBreathing, RgbShifting, RgbZoom:
		return true
	}
	return false
}

// ParseRgbMode parses a mode name, case-insensitively.
func ParseRgbMode(s string) (RgbMode, error) {
	m := RgbMode(strings.ToLower(strings.TrimSpace(s)))
	if !m.Valid() {
		return "", fmt.Errorf("%w: unknown rgb mode %q", ErrOutOfDomain, s)
	}
	return m, nil
}

// RgbColor is a named keyboard colour.
type RgbColor string

// Palette colours. ColorCustom is reported when the live colour matches no
// palette entry and can never be requested by a client.
const (
	ColorRed     RgbColor = "red"
	ColorOrange  RgbColor = "orange"
	ColorGold    RgbColor = "gold"
	ColorGreen   RgbColor = "green"
	ColorCyan    RgbColor = "cyan"
	ColorBlue    RgbColor = "blue"
	ColorPurple  RgbColor = "purple"
	ColorMagenta RgbColor = "magenta"
	ColorPink    RgbColor = "pink"
	ColorWhite   RgbColor = "white"
	ColorRandom  RgbColor = "random"
	ColorCustom  RgbColor = "custom"
)

// RGB is a raw 24-bit colour.
type RGB struct {
	R, G, B uint8
}

// RgbColors lists the selectable colours in display order.
var RgbColors = []RgbColor{
	ColorRed, ColorOrange, ColorGold, ColorGreen, ColorCyan,
	ColorBlue, ColorPurple, ColorMagenta, ColorPink, ColorWhite, ColorRandom,
}

var palette = map[RgbColor]RGB{
	ColorRed:     {255, 0, 0},
	ColorOrange:  {255, 128, 0},
	ColorGold:    {255, 215, 0},
	ColorGreen:   {0, 255, 0},
	ColorCyan:    {0, 255, 255},
	ColorBlue:    {0, 0, 255},
	ColorPurple:  {128, 0, 255},
	ColorMagenta: {255, 0, 255},
	ColorPink:    {255, 105, 180},
	ColorWhite:   {255, 255, 255},
	// The firmware treats an all-zero colour on an effect as "random".
	ColorRandom: {0, 0, 0},
}

// Valid reports whether c is a known colour, including ColorCustom.
func (c RgbColor) Valid() bool {
	return c == ColorCustom || c.Selectable()
}

// Selectable reports whether a client may request c.
func (c RgbColor) Selectable() bool {
	_, ok := palette[c]
	return ok
}

// RGB returns the raw value of a palette colour. ok is false for ColorCustom
// and unknown names.
func (c RgbColor) RGB() (RGB, bool) {
	v, ok := palette[c]
	return v, ok
}

// ColorFromRGB maps a raw colour back to its palette name, or ColorCustom.
func ColorFromRGB(v RGB) RgbColor {
	for _, c := range RgbColors {
		if palette[c] == v {
			return c
		}
	}
	return ColorCustom
}

// ParseRgbColor parses a colour name, case-insensitively. Only selectable
// colours parse; "custom" is rejected.
func ParseRgbColor(s string) (RgbColor, error) {
	c := RgbColor(strings.ToLower(strings.TrimSpace(s)))
	if !c.Selectable() {
		return "", fmt.Errorf("%w: unknown rgb color %q", ErrOutOfDomain, s)
	}
	return c, nil
}

// FanMode is a fan profile.
type FanMode string

// Fan profiles.
const (
	FanAuto     FanMode = "auto"
	FanBalanced FanMode = "balanced"
	FanTurbo    FanMode = "turbo"
)

// FanModes lists every fan profile in display order.
var FanModes = []FanMode{FanAuto, FanBalanced, FanTurbo}

// Valid reports whether f is a known profile.
func (f FanMode) Valid() bool {
	return f == FanAuto || f == FanBalanced || f == FanTurbo
}

// ParseFanMode parses a fan profile name, case-insensitively.
func ParseFanMode(s string) (FanMode, error) {
	f := FanMode(strings.ToLower(strings.TrimSpace(s)))
	if !f.Valid() {
		return "", fmt.Errorf("%w: unknown fan mode %q", ErrOutOfDomain, s)
	}
	return f, nil
}

// ThermalProfile is an ACPI platform profile, as named by the kernel's
// platform_profile interface.
type ThermalProfile string

// Platform profiles. A given machine offers only a subset.
const (
	ThermalLowPower            ThermalProfile = "low-power"
	ThermalCool                ThermalProfile = "cool"
	ThermalQuiet               ThermalProfile = "quiet"
	ThermalBalanced            ThermalProfile = "balanced"
	ThermalBalancedPerformance ThermalProfile = "balanced-performance"
	ThermalPerformance         ThermalProfile = "performance"
	ThermalCustom              ThermalProfile = "custom"
)

// ThermalProfiles lists every profile the kernel defines, coolest first.
var ThermalProfiles = []ThermalProfile{
	ThermalLowPower,
	ThermalCool,
	ThermalQuiet,
	ThermalBalanced,
	ThermalBalancedPerformance,
	ThermalPerformance,
	ThermalCustom,
}

// Valid reports whether p is a profile the kernel defines.
func (p ThermalProfile) Valid() bool {
	for _, v := range ThermalProfiles {
		if p == v {
			return true
		}
	}
	return false
}

// ParseThermalProfile parses a profile name. Underscores are accepted in
// place of dashes.
func ParseThermalProfile(s string) (ThermalProfile, error) {
	p := ThermalProfile(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "_", "-"))
	if !p.Valid() {
		return "", fmt.Errorf("%w: unknown thermal profile %q", ErrOutOfDomain, s)
	}
	return p, nil
}

// Feature identifies a boolean hardware toggle.
type Feature string

// Toggle features.
const (
	FeatureBatteryLimiter     Feature = "battery_limiter"
	FeatureBatteryCalibration Feature = "battery_calibration"
	FeatureLcdOverdrive       Feature = "lcd_overdrive"
	FeatureBootAnimation      Feature = "boot_animation"
	FeatureBacklightTimeout   Feature = "backlight_timeout"
)

// Features lists every toggle in reconciliation order.
var Features = []Feature{
	FeatureBatteryLimiter,
	FeatureBatteryCalibration,
	FeatureLcdOverdrive,
	FeatureBootAnimation,
	FeatureBacklightTimeout,
}

// Valid reports whether f is a known toggle.
func (f Feature) Valid() bool {
	for _, v := range Features {
		if f == v {
			return true
		}
	}
	return false
}

// ParseFeature parses a toggle id. Dashes are accepted in place of underscores.
func ParseFeature(s string) (Feature, error) {
	f := Feature(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_"))
	if !f.Valid() {
		return "", fmt.Errorf("%w: unknown feature %q", ErrOutOfDomain, s)
	}
	return f, nil
}

// UsbThreshold is the battery percentage below which powered-off USB
// charging stops. Zero disables USB charging while the lid is closed.
type UsbThreshold int

// UsbThresholds is the cyclic set walked by UsbThreshold.Next.
var UsbThresholds = []UsbThreshold{0, 10, 20, 30}

// Valid reports whether t is one of UsbThresholds.
func (t UsbThreshold) Valid() bool {
	for _, v := range UsbThresholds {
		if t == v {
			return true
		}
	}
	return false
}

// Next returns the following threshold, wrapping 30 back to 0.
// An invalid threshold restarts the cycle.
func (t UsbThreshold) Next() UsbThreshold {
	for i, v := range UsbThresholds {
		if t == v {
			return UsbThresholds[(i+1)%len(UsbThresholds)]
		}
	}
	return UsbThresholds[0]
}

// Speed and brightness domains.
const (
	MinRgbSpeed      = 1
	MaxRgbSpeed      = 10
	MinRgbBrightness = 0
	MaxRgbBrightness = 100
)

// ErrOutOfDomain is wrapped by every validation failure.
var ErrOutOfDomain = errors.New("value out of domain")

// ValidateSpeed checks an rgb speed against its domain.
func ValidateSpeed(v int) error {
	if v < MinRgbSpeed || v > MaxRgbSpeed {
		return fmt.Errorf("%w: rgb speed %d not in %d..%d", ErrOutOfDomain, v, MinRgbSpeed, MaxRgbSpeed)
	}
	return nil
}

// ValidateBrightness checks an rgb brightness against its domain.
func ValidateBrightness(v int) error {
	if v < MinRgbBrightness || v > MaxRgbBrightness {
		return fmt.Errorf("%w: rgb brightness %d not in %d..%d", ErrOutOfDomain, v, MinRgbBrightness, MaxRgbBrightness)
	}
	return nil
}

// HardwareState is the full set of controllable settings.
type HardwareState struct {
	RgbMode            RgbMode        `json:"rgb_mode"`
	RgbSpeed           int            `json:"rgb_speed"`
	RgbBrightness      int            `json:"rgb_brightness"`
	RgbColor           RgbColor       `json:"rgb_color"`
	FanMode            FanMode        `json:"fan_mode"`
	BatteryLimiter     bool           `json:"battery_limiter"`
	BatteryCalibration bool           `json:"battery_calibration"`
	LcdOverdrive       bool           `json:"lcd_overdrive"`
	BootAnimation      bool           `json:"boot_animation"`
	BacklightTimeout   bool           `json:"backlight_timeout"`
	UsbThreshold       UsbThreshold   `json:"usb_threshold"`
	ThermalProfile     ThermalProfile `json:"thermal_profile"`
}

// DefaultHardwareState returns the state assumed for anything the backend
// cannot report.
func DefaultHardwareState() HardwareState {
	return HardwareState{
		RgbMode:        RgbStatic,
		RgbSpeed:       5,
		RgbBrightness:  100,
		RgbColor:       ColorCyan,
		FanMode:        FanAuto,
		ThermalProfile: ThermalBalanced,
	}
}

// Validate checks every field against its domain.
func (s HardwareState) Validate() error {
	if !s.RgbMode.Valid() {
		return fmt.Errorf("%w: unknown rgb mode %q", ErrOutOfDomain, s.RgbMode)
	}
	if err := ValidateSpeed(s.RgbSpeed); err != nil {
		return err
	}
	if err := ValidateBrightness(s.RgbBrightness); err != nil {
		return err
	}
	if !s.RgbColor.Valid() {
		return fmt.Errorf("%w: unknown rgb color %q", ErrOutOfDomain, s.RgbColor)
	}
	if !s.FanMode.Valid() {
		return fmt.Errorf("%w: unknown fan mode %q", ErrOutOfDomain, s.FanMode)
	}
	if !s.UsbThreshold.Valid() {
		return fmt.Errorf("%w: usb threshold %d not one of %v", ErrOutOfDomain, s.UsbThreshold, UsbThresholds)
	}
	if !s.ThermalProfile.Valid() {
		return fmt.Errorf("%w: unknown thermal profile %q", ErrOutOfDomain, s.ThermalProfile)
	}
	return nil
}

// Toggle returns the value of a boolean feature.
func (s HardwareState) Toggle(f Feature) bool {
	switch f {
	case FeatureBatteryLimiter:
		return s.BatteryLimiter
	case FeatureBatteryCalibration:
		return s.BatteryCalibration
	case FeatureLcdOverdrive:
		return s.LcdOverdrive
	case FeatureBootAnimation:
		return s.BootAnimation
	case FeatureBacklightTimeout:
		return s.BacklightTimeout
	}
	return false
}

// WithToggle returns a copy of s with feature f set to v.
func (s HardwareState) WithToggle(f Feature, v bool) HardwareState {
	switch f {
	case FeatureBatteryLimiter:
		s.BatteryLimiter = v
	case FeatureBatteryCalibration:
		s.BatteryCalibration = v
	case FeatureLcdOverdrive:
		s.LcdOverdrive = v
	case FeatureBootAnimation:
		s.BootAnimation = v
	case FeatureBacklightTimeout:
		s.BacklightTimeout = v
	}
	return s
}
