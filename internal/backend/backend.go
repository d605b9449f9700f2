// Package backend talks to the privileged hardware interface. Every write
// touches exactly one feature group and blocks for at most the configured
// I/O timeout.
package backend

import (
	"context"
	"errors"
	"fmt"

	"github.com/jmylchreest/archsense/internal/model"
)

// Kind classifies a backend failure.
type Kind int

const (
	// Unsupported means the feature does not exist on this machine.
	Unsupported Kind = iota + 1
	// Unavailable means the feature exists but cannot be used right now.
	Unavailable
	// IoFailure is any other I/O error.
	IoFailure
)

func (k Kind) String() string {
	switch k {
	case Unsupported:
		return "unsupported"
	case Unavailable:
		return "unavailable"
	case IoFailure:
		return "io failure"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ErrorKind maps k to its wire error kind.
func (k Kind) ErrorKind() model.ErrorKind {
	switch k {
	case Unsupported:
		return model.KindUnsupported
	case Unavailable:
		return model.KindUnavailable
	}
	return model.KindIoFailure
}

// Sentinels for errors.Is matching on Kind.
var (
	ErrUnsupported = &Error{Kind: Unsupported}
	ErrUnavailable = &Error{Kind: Unavailable}
	ErrIoFailure   = &Error{Kind: IoFailure}
)

// Error is a failed backend operation.
type Error struct {
	Kind Kind
	Attr string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Attr != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Attr, e.Kind, e.Err)
	case e.Attr != "":
		return fmt.Sprintf("%s: %s", e.Attr, e.Kind)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return e.Kind.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind && t.Attr == "" && t.Err == nil
}

// KindOf returns the Kind of err, or IoFailure when err is not an *Error.
func KindOf(err error) Kind {
	var be *Error
	if errors.As(err, &be) {
		return be.Kind
	}
	return IoFailure
}

// RGBSettings is the full keyboard lighting configuration, written as one
// unit.
type RGBSettings struct {
	Mode       model.RgbMode
	Speed      int
	Brightness int
	Color      model.RgbColor
}

// RGBOf extracts the lighting settings from s.
func RGBOf(s model.HardwareState) RGBSettings {
	return RGBSettings{
		Mode:       s.RgbMode,
		Speed:      s.RgbSpeed,
		Brightness: s.RgbBrightness,
		Color:      s.RgbColor,
	}
}

// Capabilities is the probe result. Missing entries are unsupported.
type Capabilities map[model.Capability]bool

// Has reports whether c is supported.
func (c Capabilities) Has(want model.Capability) bool {
	return c[want]
}

// Missing returns the unsupported capabilities in reconciliation order.
func (c Capabilities) Missing() []model.Capability {
	var out []model.Capability
	for _, k := range model.AllCapabilities() {
		if !c[k] {
			out = append(out, k)
		}
	}
	return out
}

// LiveState is what the backend could read back. Nil fields and absent
// toggles could not be read.
type LiveState struct {
	RGB     *RGBSettings
	Fan     *model.FanMode
	Toggles map[model.Feature]bool
	Usb     *model.UsbThreshold
	Thermal *model.ThermalProfile
	// ThermalChoices are the profiles the firmware offers, nil if unreadable.
	ThermalChoices []model.ThermalProfile
}

// Merge overlays the readable fields onto base. When the keyboard is off
// the colour cannot be read back and base's colour is kept.
func (l LiveState) Merge(base model.HardwareState) model.HardwareState {
	if l.RGB != nil {
		base.RgbMode = l.RGB.Mode
		base.RgbSpeed = l.RGB.Speed
		base.RgbBrightness = l.RGB.Brightness
		if l.RGB.Mode != model.RgbOff {
			base.RgbColor = l.RGB.Color
		}
	}
	if l.Fan != nil {
		base.FanMode = *l.Fan
	}
	for f, v := range l.Toggles {
		base = base.WithToggle(f, v)
	}
	if l.Usb != nil {
		base.UsbThreshold = *l.Usb
	}
	if l.Thermal != nil {
		base.ThermalProfile = *l.Thermal
	}
	return base
}

// Backend is a hardware interface.
type Backend interface {
	// Probe reports which capabilities exist on this machine.
	Probe(ctx context.Context) Capabilities
	SetRGB(ctx context.Context, rgb RGBSettings) error
	SetFan(ctx context.Context, mode model.FanMode) error
	SetToggle(ctx context.Context, f model.Feature, v bool) error
	SetUsbThreshold(ctx context.Context, t model.UsbThreshold) error
	SetThermalProfile(ctx context.Context, p model.ThermalProfile) error
	// SetFanSpeed writes explicit duty cycles for the fan curve. The fan
	// keeps reading back as auto until the next SetFan.
	SetFanSpeed(ctx context.Context, cpu, gpu int) error
	// ReadState reads back as much as possible. The returned error joins
	// per-attribute failures; the LiveState is usable either way.
	ReadState(ctx context.Context) (LiveState, error)
	ReadTelemetry(ctx context.Context) (model.Telemetry, error)
	ReadCPUTemp(ctx context.Context) (float64, error)
}

// Empty reports whether nothing at all could be read.
func (l LiveState) Empty() bool {
	return l.RGB == nil && l.Fan == nil && l.Usb == nil && l.Thermal == nil && len(l.Toggles) == 0
}
