package output

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/template"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/jmylchreest/archsense/internal/model"
)

// PlainFormatter formats the snapshot as aligned plain text.
type PlainFormatter struct {
	opts     FormatterOptions
	template *template.Template
}

// NewPlainFormatter creates a new plain text formatter.
func NewPlainFormatter(opts FormatterOptions) *PlainFormatter {
	f := &PlainFormatter{opts: opts}

	// Parse custom template if provided
	if opts.Template != "" {
		tmpl, err := template.New("plain").Funcs(templateFuncs()).Parse(opts.Template)
		if err == nil {
			f.template = tmpl
		}
	}

	return f
}

// Format writes one "key: value" line per setting.
func (f *PlainFormatter) Format(w io.Writer, snap *model.Snapshot) error {
	if f.template != nil {
		if err := f.template.Execute(w, snap); err != nil {
			return err
		}
		_, err := io.WriteString(w, "\n")
		return err
	}

	var sb strings.Builder
	line := func(key, value string) {
		fmt.Fprintf(&sb, "%-20s %s\n", key+":", value)
	}
	unsupported := func(c model.Capability) bool { return !snap.Supports(c) }

	if unsupported(model.CapRGB) {
		line("rgb", "unsupported")
	} else {
		line("rgb_mode", string(snap.RgbMode))
		if snap.RgbMode.UsesColor() {
			line("rgb_color", string(snap.RgbColor))
		}
		line("rgb_speed", strconv.Itoa(snap.RgbSpeed))
		line("rgb_brightness", strconv.Itoa(snap.RgbBrightness)+"%")
	}

	if unsupported(model.CapFan) {
		line("fan_mode", "unsupported")
	} else {
		line("fan_mode", string(snap.FanMode))
	}

	for _, feat := range model.Features {
		if unsupported(model.CapabilityOf(feat)) {
			line(string(feat), "unsupported")
			continue
		}
		line(string(feat), onOff(snap.Toggle(feat)))
	}

	if unsupported(model.CapUsbCharging) {
		line("usb_threshold", "unsupported")
	} else {
		line("usb_threshold", usbLabel(snap.UsbThreshold))
	}

	if unsupported(model.CapThermal) {
		line("thermal_profile", "unsupported")
	} else {
		line("thermal_profile", string(snap.ThermalProfile))
	}

	if f.opts.ShowTelemetry {
		t := snap.Telemetry
		if t.CPUTempC > 0 {
			line("cpu_temp", tempLabel(t.CPUTempC))
		}
		if t.GPUTempC > 0 {
			line("gpu_temp", tempLabel(t.GPUTempC))
		}
		if snap.Supports(model.CapFan) {
			line("fan_speed", fmt.Sprintf("cpu %d%% / gpu %d%%", t.CPUFanPercent, t.GPUFanPercent))
		}
		if !t.UpdatedAt.IsZero() {
			line("updated", relativeTime(t.UpdatedAt))
		}
	}

	if f.opts.ShowRevision {
		line("revision", strconv.FormatUint(snap.Revision, 10))
	}

	_, err := io.WriteString(w, sb.String())
	return err
}

// FormatField returns a single setting as text, for scripting.
func FormatField(snap *model.Snapshot, field string) (string, error) {
	field = strings.ReplaceAll(strings.ToLower(strings.TrimSpace(field)), "-", "_")
	switch field {
	case "rgb_mode", "mode":
		return string(snap.RgbMode), nil
	case "rgb_speed", "speed":
		return strconv.Itoa(snap.RgbSpeed), nil
	case "rgb_brightness", "brightness":
		return strconv.Itoa(snap.RgbBrightness), nil
	case "rgb_color", "color", "colour":
		return string(snap.RgbColor), nil
	case "fan_mode", "fan":
		return string(snap.FanMode), nil
	case "usb_threshold", "usb":
		return strconv.Itoa(int(snap.UsbThreshold)), nil
	case "cpu_temp", "temp":
		return strconv.FormatFloat(snap.Telemetry.CPUTempC, 'f', 1, 64), nil
	case "gpu_temp":
		return strconv.FormatFloat(snap.Telemetry.GPUTempC, 'f', 1, 64), nil
	case "thermal_profile", "thermal", "profile":
		return string(snap.ThermalProfile), nil
	case "revision":
		return strconv.FormatUint(snap.Revision, 10), nil
	}
	if feat, err := model.ParseFeature(field); err == nil {
		return onOff(snap.Toggle(feat)), nil
	}
	return "", fmt.Errorf("unknown field %q", field)
}

// templateFuncs returns template helper functions.
func templateFuncs() template.FuncMap {
	return template.FuncMap{
		"onoff": onOff,
		"temp":  tempLabel,
		"usb":   usbLabel,
		"reltime": func(t time.Time) string {
			return relativeTime(t)
		},
		"upper": func(v any) string {
			return strings.ToUpper(fmt.Sprint(v))
		},
	}
}

func onOff(v bool) string {
	if v {
		return "on"
	}
	return "off"
}

func tempLabel(c float64) string {
	if c <= 0 {
		return "n/a"
	}
	return fmt.Sprintf("%.0f°C", c)
}

func usbLabel(t model.UsbThreshold) string {
	if t == 0 {
		return "off"
	}
	return fmt.Sprintf("%d%%", int(t))
}

// relativeTime returns a human-readable relative time string.
func relativeTime(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	if time.Since(t) < time.Second {
		return "now"
	}
	return humanize.Time(t)
}
