package output

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/template"

	"github.com/jmylchreest/archsense/internal/model"
)

// waybarModule is the JSON object read by a Waybar custom module with
// "return-type": "json".
type waybarModule struct {
	Text       string   `json:"text"`
	Alt        string   `json:"alt"`
	Tooltip    string   `json:"tooltip"`
	Class      []string `json:"class"`
	Percentage int      `json:"percentage"`
}

// WaybarFormatter formats the snapshot for a Waybar custom module.
type WaybarFormatter struct {
	opts     FormatterOptions
	template *template.Template
}

// NewWaybarFormatter creates a new Waybar formatter. A custom template
// replaces the module text.
func NewWaybarFormatter(opts FormatterOptions) *WaybarFormatter {
	f := &WaybarFormatter{opts: opts}
	if opts.Template != "" {
		tmpl, err := template.New("waybar").Funcs(templateFuncs()).Parse(opts.Template)
		if err == nil {
			f.template = tmpl
		}
	}
	return f
}

// Format writes a single-line Waybar JSON object.
func (f *WaybarFormatter) Format(w io.Writer, snap *model.Snapshot) error {
	mod := waybarModule{
		Alt:        string(snap.FanMode),
		Class:      []string{"fan-" + string(snap.FanMode)},
		Percentage: snap.Telemetry.CPUFanPercent,
	}

	text := string(snap.FanMode)
	if snap.Telemetry.CPUTempC > 0 {
		text = tempLabel(snap.Telemetry.CPUTempC) + " " + text
	}
	if f.template != nil {
		var sb strings.Builder
		if err := f.template.Execute(&sb, snap); err == nil {
			text = sb.String()
		}
	}
	mod.Text = text

	hottest := max(snap.Telemetry.CPUTempC, snap.Telemetry.GPUTempC)
	if hottest >= 90 {
		mod.Class = append(mod.Class, "critical")
	} else if hottest >= 75 {
		mod.Class = append(mod.Class, "warning")
	}
	if len(snap.Unsupported) > 0 {
		mod.Class = append(mod.Class, "degraded")
	}

	var tip []string
	tip = append(tip, fmt.Sprintf("Keyboard: %s, %s, %d%%", snap.RgbMode, snap.RgbColor, snap.RgbBrightness))
	tip = append(tip, fmt.Sprintf("Fan: %s (cpu %d%%, gpu %d%%)", snap.FanMode, snap.Telemetry.CPUFanPercent, snap.Telemetry.GPUFanPercent))
	tip = append(tip, "USB charging: "+usbLabel(snap.UsbThreshold))
	if snap.Supports(model.CapThermal) {
		tip = append(tip, "Thermal profile: "+string(snap.ThermalProfile))
	}
	if snap.Telemetry.GPUTempC > 0 {
		tip = append(tip, "GPU: "+tempLabel(snap.Telemetry.GPUTempC))
	}
	for _, feat := range model.Features {
		if snap.Supports(model.CapabilityOf(feat)) {
			tip = append(tip, fmt.Sprintf("%s: %s", feat, onOff(snap.Toggle(feat))))
		}
	}
	mod.Tooltip = strings.Join(tip, "\n")

	return json.NewEncoder(w).Encode(mod)
}
