package protocol

import (
	"fmt"
	"slices"

	"github.com/jmylchreest/archsense/internal/model"
)

// Tag names a command on the wire.
type Tag string

// Command tags.
const (
	TagSetRgbMode        Tag = "set_rgb_mode"
	TagSetRgbSpeed       Tag = "set_rgb_speed"
	TagSetRgbBrightness  Tag = "set_rgb_brightness"
	TagSetRgbColor       Tag = "set_rgb_color"
	TagSetFanMode        Tag = "set_fan_mode"
	TagToggleFeature     Tag = "toggle_feature"
	TagCycleUsbThreshold Tag = "cycle_usb_threshold"
	TagSetThermalProfile Tag = "set_thermal_profile"
	TagGetState          Tag = "get_state"
)

// Tags lists every command tag the daemon understands.
var Tags = []Tag{
	TagSetRgbMode,
	TagSetRgbSpeed,
	TagSetRgbBrightness,
	TagSetRgbColor,
	TagSetFanMode,
	TagToggleFeature,
	TagCycleUsbThreshold,
	TagSetThermalProfile,
	TagGetState,
}

// Known reports whether t is one of Tags.
func (t Tag) Known() bool {
	return slices.Contains(Tags, t)
}

// Command is a client request. The set of implementations is closed.
type Command interface {
	Tag() Tag
	// Validate checks the command's fields against their domains.
	Validate() error
	isCommand()
}

// SetRgbMode switches the keyboard lighting animation.
type SetRgbMode struct {
	Mode model.RgbMode
}

// SetRgbSpeed sets the animation speed (1..10).
type SetRgbSpeed struct {
	Speed int
}

// SetRgbBrightness sets the keyboard brightness (0..100).
type SetRgbBrightness struct {
	Brightness int
}

// SetRgbColor selects a palette colour.
type SetRgbColor struct {
	Color model.RgbColor
}

// SetFanMode selects a fan profile.
type SetFanMode struct {
	Mode model.FanMode
}

// ToggleFeature sets a boolean feature. A nil Value flips the current value.
type ToggleFeature struct {
	Feature model.Feature
	Value   *bool
}

// CycleUsbThreshold advances the USB charging threshold to its next value.
type CycleUsbThreshold struct{}

// SetThermalProfile selects an ACPI platform profile. The profile must be
// one the firmware offers.
type SetThermalProfile struct {
	Profile model.ThermalProfile
}

// GetState returns the current snapshot without changing anything.
type GetState struct{}

func (SetRgbMode) Tag() Tag        { return TagSetRgbMode }
func (SetRgbSpeed) Tag() Tag       { return TagSetRgbSpeed }
func (SetRgbBrightness) Tag() Tag  { return TagSetRgbBrightness }
func (SetRgbColor) Tag() Tag       { return TagSetRgbColor }
func (SetFanMode) Tag() Tag        { return TagSetFanMode }
func (ToggleFeature) Tag() Tag     { return TagToggleFeature }
func (CycleUsbThreshold) Tag() Tag { return TagCycleUsbThreshold }
func (SetThermalProfile) Tag() Tag { return TagSetThermalProfile }
func (GetState) Tag() Tag          { return TagGetState }

func (SetRgbMode) isCommand()        {}
func (SetRgbSpeed) isCommand()       {}
func (SetRgbBrightness) isCommand()  {}
func (SetRgbColor) isCommand()       {}
func (SetFanMode) isCommand()        {}
func (ToggleFeature) isCommand()     {}
func (CycleUsbThreshold) isCommand() {}
func (SetThermalProfile) isCommand() {}
func (GetState) isCommand()          {}

func (c SetRgbMode) Validate() error {
	if !c.Mode.Valid() {
		return fmt.Errorf("%w: unknown rgb mode %q", model.ErrOutOfDomain, c.Mode)
	}
	return nil
}

func (c SetRgbSpeed) Validate() error {
	return model.ValidateSpeed(c.Speed)
}

func (c SetRgbBrightness) Validate() error {
	return model.ValidateBrightness(c.Brightness)
}

func (c SetRgbColor) Validate() error {
	if !c.Color.Selectable() {
		return fmt.Errorf("%w: rgb color %q cannot be selected", model.ErrOutOfDomain, c.Color)
	}
	return nil
}

func (c SetFanMode) Validate() error {
	if !c.Mode.Valid() {
		return fmt.Errorf("%w: unknown fan mode %q", model.ErrOutOfDomain, c.Mode)
	}
	return nil
}

func (c ToggleFeature) Validate() error {
	if !c.Feature.Valid() {
		return fmt.Errorf("%w: unknown feature %q", model.ErrOutOfDomain, c.Feature)
	}
	return nil
}

func (c SetThermalProfile) Validate() error {
	if !c.Profile.Valid() {
		return fmt.Errorf("%w: unknown thermal profile %q", model.ErrOutOfDomain, c.Profile)
	}
	return nil
}

func (CycleUsbThreshold) Validate() error { return nil }
func (GetState) Validate() error          { return nil }

// IsMutation reports whether cmd may change hardware state.
func IsMutation(cmd Command) bool {
	_, ok := cmd.(GetState)
	return !ok
}

// Bool returns a pointer to v, for ToggleFeature.Value.
func Bool(v bool) *bool {
	return &v
}
