package model

import (
	"slices"
	"time"
)

// Capability is a feature group the backend may or may not provide.
type Capability string

// Capabilities outside the toggle features.
const (
	CapRGB         Capability = "rgb"
	CapFan         Capability = "fan"
	CapUsbCharging Capability = "usb_charging"
	CapThermal     Capability = "thermal_profile"
)

// CapabilityOf returns the capability backing a toggle feature.
func CapabilityOf(f Feature) Capability {
	return Capability(f)
}

// AllCapabilities lists every capability in reconciliation order.
func AllCapabilities() []Capability {
	caps := []Capability{CapRGB, CapFan}
	for _, f := range Features {
		caps = append(caps, CapabilityOf(f))
	}
	return append(caps, CapUsbCharging, CapThermal)
}

// Telemetry holds read-only live readings. Zero values mean "not available".
type Telemetry struct {
	CPUTempC      float64   `json:"cpu_temp_c,omitempty"`
	GPUTempC      float64   `json:"gpu_temp_c,omitempty"`
	CPUFanPercent int       `json:"cpu_fan_percent,omitempty"`
	GPUFanPercent int       `json:"gpu_fan_percent,omitempty"`
	UpdatedAt     time.Time `json:"updated_at,omitzero"`
}

// Snapshot is the immutable view of daemon state handed to clients.
type Snapshot struct {
	HardwareState
	Unsupported    []Capability     `json:"unsupported,omitempty"`
	// ThermalChoices are the profiles the firmware offers. Empty when unknown.
	ThermalChoices []ThermalProfile `json:"thermal_choices,omitempty"`
	Telemetry      Telemetry        `json:"telemetry"`
	Revision       uint64           `json:"revision"`
}

// Supports reports whether capability c has not been marked unsupported.
func (s *Snapshot) Supports(c Capability) bool {
	return !slices.Contains(s.Unsupported, c)
}

// OffersThermal reports whether the firmware accepts profile p. An unknown
// choice list accepts every valid profile.
func (s *Snapshot) OffersThermal(p ThermalProfile) bool {
	return len(s.ThermalChoices) == 0 || slices.Contains(s.ThermalChoices, p)
}

// Clone returns a deep copy of the snapshot.
func (s *Snapshot) Clone() *Snapshot {
	c := *s
	c.Unsupported = slices.Clone(s.Unsupported)
	c.ThermalChoices = slices.Clone(s.ThermalChoices)
	return &c
}
