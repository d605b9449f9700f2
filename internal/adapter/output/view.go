package output

import (
	"time"

	"github.com/jmylchreest/archsense/internal/model"
)

// stateView is the structured shape shared by the JSON and YAML formatters.
type stateView struct {
	Rgb         rgbView            `json:"rgb" yaml:"rgb"`
	Fan         model.FanMode      `json:"fan_mode" yaml:"fan_mode"`
	Features    map[string]bool    `json:"features" yaml:"features"`
	Usb         model.UsbThreshold `json:"usb_threshold" yaml:"usb_threshold"`
	Thermal     *thermalView       `json:"thermal,omitempty" yaml:"thermal,omitempty"`
	Unsupported []model.Capability `json:"unsupported,omitempty" yaml:"unsupported,omitempty"`
	Telemetry   *telemetryView     `json:"telemetry,omitempty" yaml:"telemetry,omitempty"`
	Revision    *uint64            `json:"revision,omitempty" yaml:"revision,omitempty"`
}

type thermalView struct {
	Profile model.ThermalProfile   `json:"profile" yaml:"profile"`
	Choices []model.ThermalProfile `json:"choices,omitempty" yaml:"choices,omitempty"`
}

type rgbView struct {
	Mode       model.RgbMode  `json:"mode" yaml:"mode"`
	Speed      int            `json:"speed" yaml:"speed"`
	Brightness int            `json:"brightness" yaml:"brightness"`
	Color      model.RgbColor `json:"color" yaml:"color"`
}

type telemetryView struct {
	CPUTempC      float64    `json:"cpu_temp_c,omitempty" yaml:"cpu_temp_c,omitempty"`
	GPUTempC      float64    `json:"gpu_temp_c,omitempty" yaml:"gpu_temp_c,omitempty"`
	CPUFanPercent int        `json:"cpu_fan_percent" yaml:"cpu_fan_percent"`
	GPUFanPercent int        `json:"gpu_fan_percent" yaml:"gpu_fan_percent"`
	UpdatedAt     *time.Time `json:"updated_at,omitempty" yaml:"updated_at,omitempty"`
}

func newStateView(snap *model.Snapshot, opts FormatterOptions) stateView {
	v := stateView{
		Rgb: rgbView{
			Mode:       snap.RgbMode,
			Speed:      snap.RgbSpeed,
			Brightness: snap.RgbBrightness,
			Color:      snap.RgbColor,
		},
		Fan:         snap.FanMode,
		Features:    make(map[string]bool, len(model.Features)),
		Usb:         snap.UsbThreshold,
		Unsupported: snap.Unsupported,
	}
	for _, f := range model.Features {
		if snap.Supports(model.CapabilityOf(f)) {
			v.Features[string(f)] = snap.Toggle(f)
		}
	}
	if snap.Supports(model.CapThermal) {
		v.Thermal = &thermalView{Profile: snap.ThermalProfile, Choices: snap.ThermalChoices}
	}
	if opts.ShowTelemetry {
		t := &telemetryView{
			CPUTempC:      snap.Telemetry.CPUTempC,
			GPUTempC:      snap.Telemetry.GPUTempC,
			CPUFanPercent: snap.Telemetry.CPUFanPercent,
			GPUFanPercent: snap.Telemetry.GPUFanPercent,
		}
		if !snap.Telemetry.UpdatedAt.IsZero() {
			at := snap.Telemetry.UpdatedAt
			t.UpdatedAt = &at
		}
		v.Telemetry = t
	}
	if opts.ShowRevision {
		rev := snap.Revision
		v.Revision = &rev
	}
	return v
}
