package backend

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/jmylchreest/archsense/internal/model"
)

// Default linuwu-sense driver locations.
const (
	DefaultSysfsRoot   = "/sys/module/linuwu_sense/drivers/platform:acer-wmi/acer-wmi"
	DefaultCPUTempPath = "/sys/class/thermal/thermal_zone0/temp"
	DefaultIOTimeout   = 2 * time.Second

	DefaultPlatformProfilePath = "/sys/firmware/acpi/platform_profile"
)

// DefaultGPUTempCommand prints the discrete GPU temperature in degrees.
var DefaultGPUTempCommand = []string{
	"nvidia-smi", "--query-gpu=temperature.gpu", "--format=csv,noheader,nounits",
}

const (
	senseDir     = "predator_sense"
	keyboardAttr = "four_zoned_kb/four_zone_mode"
	fanAttr      = "fan_speed"
	usbAttr      = "usb_charging"
)

var toggleAttrs = map[model.Feature]string{
	model.FeatureBatteryLimiter:     "battery_limiter",
	model.FeatureBatteryCalibration: "battery_calibration",
	model.FeatureLcdOverdrive:       "lcd_override",
	model.FeatureBootAnimation:      "boot_animation_sound",
	model.FeatureBacklightTimeout:   "backlight_timeout",
}

// Keyboard effect numbers understood by four_zone_mode. Off is written as
// static with an all-zero colour.
var effectIDs = map[model.RgbMode]int{
	model.RgbOff:       0,
	model.RgbStatic:    0,
	model.RgbBreathing: 1,
	model.RgbNeon:      2,
	model.RgbWave:      3,
	model.RgbShifting:  4,
	model.RgbZoom:      5,
}

// Fan set points written to fan_speed as "cpu,gpu".
var fanSetPoints = map[model.FanMode]int{
	model.FanAuto:     0,
	model.FanBalanced: 50,
	model.FanTurbo:    100,
}

const waveDirection = 1

// SysfsConfig locates the driver attributes.
type SysfsConfig struct {
	Root        string
	CPUTempPath string
	IOTimeout   time.Duration

	// PlatformProfilePath is the ACPI platform_profile attribute. The
	// choices are read from the same path with a "_choices" suffix.
	PlatformProfilePath string
	// GPUTempPath reads the GPU temperature in millidegrees. When empty,
	// GPUTempCommand is run instead; when both are empty GPU temperature
	// is not reported.
	GPUTempPath    string
	GPUTempCommand []string
}

// Sysfs drives the linuwu-sense kernel module through its sysfs attributes.
type Sysfs struct {
	cfg    SysfsConfig
	logger *slog.Logger

	mu sync.Mutex
	// last colour read back that matched no palette entry
	custom model.RGB
	// fanMu orders fan_speed writes against the read-back of curve.
	fanMu sync.Mutex
	// duty written by SetFanSpeed, reported as auto when read back
	curve *[2]int
	// GPUTempCommand is not installed
	gpuCmdMissing bool
}

// NewSysfs creates a sysfs backend. Empty config fields take their defaults.
func NewSysfs(cfg SysfsConfig, logger *slog.Logger) *Sysfs {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Root == "" {
		cfg.Root = DefaultSysfsRoot
	}
	if cfg.CPUTempPath == "" {
		cfg.CPUTempPath = DefaultCPUTempPath
	}
	if cfg.IOTimeout <= 0 {
		cfg.IOTimeout = DefaultIOTimeout
	}
	if cfg.PlatformProfilePath == "" {
		cfg.PlatformProfilePath = DefaultPlatformProfilePath
	}
	return &Sysfs{
		cfg:    cfg,
		logger: logger,
		custom: model.RGB{R: 255, G: 255, B: 255},
	}
}

func (s *Sysfs) sensePath(attr string) string {
	return filepath.Join(s.cfg.Root, senseDir, attr)
}

func (s *Sysfs) keyboardPath() string {
	return filepath.Join(s.cfg.Root, keyboardAttr)
}

// Probe stats every attribute. A present attribute is assumed usable.
func (s *Sysfs) Probe(ctx context.Context) Capabilities {
	paths := map[model.Capability]string{
		model.CapRGB:         s.keyboardPath(),
		model.CapFan:         s.sensePath(fanAttr),
		model.CapUsbCharging: s.sensePath(usbAttr),
		model.CapThermal:     s.cfg.PlatformProfilePath,
	}
	for f, attr := range toggleAttrs {
		paths[model.CapabilityOf(f)] = s.sensePath(attr)
	}

	caps := make(Capabilities, len(paths))
	for c, p := range paths {
		err := s.io(ctx, p, func() error {
			_, err := os.Stat(p)
			return err
		})
		caps[c] = err == nil
		if err != nil && KindOf(err) != Unsupported {
			// Present but not statable right now; let writes report the details.
			caps[c] = true
			s.logger.Debug("probe failed", "capability", c, "error", err)
		}
	}
	return caps
}

// SetRGB writes the full lighting configuration in one attribute write.
func (s *Sysfs) SetRGB(ctx context.Context, rgb RGBSettings) error {
	value, err := s.encodeRGB(rgb)
	if err != nil {
		return &Error{Kind: IoFailure, Attr: keyboardAttr, Err: err}
	}
	return s.write(ctx, s.keyboardPath(), value)
}

func (s *Sysfs) encodeRGB(rgb RGBSettings) (string, error) {
	effect, ok := effectIDs[rgb.Mode]
	if !ok {
		return "", fmt.Errorf("unknown rgb mode %q", rgb.Mode)
	}

	var c model.RGB
	switch {
	case rgb.Mode == model.RgbOff:
	case rgb.Color == model.ColorCustom:
		s.mu.Lock()
		c = s.custom
		s.mu.Unlock()
	default:
		c, ok = rgb.Color.RGB()
		if !ok {
			return "", fmt.Errorf("unknown rgb color %q", rgb.Color)
		}
		if rgb.Mode == model.RgbStatic && rgb.Color == model.ColorRandom {
			return "", errors.New("static mode has no random colour")
		}
	}

	return fmt.Sprintf("%d,%d,%d,%d,%d,%d,%d",
		effect, rgb.Speed-1, rgb.Brightness, waveDirection, c.R, c.G, c.B), nil
}

func (s *Sysfs) decodeRGB(raw string) (RGBSettings, error) {
	parts := strings.Split(strings.TrimSpace(raw), ",")
	if len(parts) != 7 {
		return RGBSettings{}, fmt.Errorf("expected 7 fields, got %d", len(parts))
	}
	vals := make([]int, len(parts))
	for i, p := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return RGBSettings{}, fmt.Errorf("field %d: %w", i, err)
		}
		vals[i] = v
	}

	rgb := RGBSettings{Speed: vals[1] + 1, Brightness: vals[2]}
	if err := model.ValidateSpeed(rgb.Speed); err != nil {
		return RGBSettings{}, err
	}
	if err := model.ValidateBrightness(rgb.Brightness); err != nil {
		return RGBSettings{}, err
	}
	for i := 4; i < 7; i++ {
		if vals[i] < 0 || vals[i] > 255 {
			return RGBSettings{}, fmt.Errorf("colour component %d out of range", vals[i])
		}
	}
	c := model.RGB{R: uint8(vals[4]), G: uint8(vals[5]), B: uint8(vals[6])}

	switch vals[0] {
	case 0:
		rgb.Mode = model.RgbStatic
	case 1:
		rgb.Mode = model.RgbBreathing
	case 2:
		rgb.Mode = model.RgbNeon
	case 3:
		rgb.Mode = model.RgbWave
	case 4:
		rgb.Mode = model.RgbShifting
	case 5:
		rgb.Mode = model.RgbZoom
	default:
		return RGBSettings{}, fmt.Errorf("unknown effect %d", vals[0])
	}

	rgb.Color = model.ColorFromRGB(c)
	if rgb.Mode == model.RgbStatic && rgb.Color == model.ColorRandom {
		rgb.Mode = model.RgbOff
		rgb.Color = model.ColorCustom
	}
	if rgb.Color == model.ColorCustom && rgb.Mode != model.RgbOff {
		s.mu.Lock()
		s.custom = c
		s.mu.Unlock()
	}
	return rgb, nil
}

// SetFan writes the profile's set point to both fans.
func (s *Sysfs) SetFan(ctx context.Context, mode model.FanMode) error {
	pct, ok := fanSetPoints[mode]
	if !ok {
		return &Error{Kind: IoFailure, Attr: fanAttr, Err: fmt.Errorf("unknown fan mode %q", mode)}
	}
	s.fanMu.Lock()
	defer s.fanMu.Unlock()
	if err := s.write(ctx, s.sensePath(fanAttr), fmt.Sprintf("%d,%d", pct, pct)); err != nil {
		return err
	}
	s.mu.Lock()
	s.curve = nil
	s.mu.Unlock()
	return nil
}

// SetFanSpeed writes explicit duty cycles to both fans.
func (s *Sysfs) SetFanSpeed(ctx context.Context, cpu, gpu int) error {
	if cpu < 0 || cpu > 100 || gpu < 0 || gpu > 100 {
		return &Error{Kind: IoFailure, Attr: fanAttr, Err: fmt.Errorf("fan speed %d,%d not in 0..100", cpu, gpu)}
	}
	s.fanMu.Lock()
	defer s.fanMu.Unlock()
	if err := s.write(ctx, s.sensePath(fanAttr), fmt.Sprintf("%d,%d", cpu, gpu)); err != nil {
		return err
	}
	s.mu.Lock()
	s.curve = &[2]int{cpu, gpu}
	s.mu.Unlock()
	return nil
}

// SetThermalProfile writes the ACPI platform profile.
func (s *Sysfs) SetThermalProfile(ctx context.Context, p model.ThermalProfile) error {
	if !p.Valid() {
		return &Error{Kind: IoFailure, Attr: s.cfg.PlatformProfilePath, Err: fmt.Errorf("unknown thermal profile %q", p)}
	}
	return s.write(ctx, s.cfg.PlatformProfilePath, string(p))
}

// SetToggle writes a boolean feature.
func (s *Sysfs) SetToggle(ctx context.Context, f model.Feature, v bool) error {
	attr, ok := toggleAttrs[f]
	if !ok {
		return &Error{Kind: Unsupported, Attr: string(f)}
	}
	value := "0"
	if v {
		value = "1"
	}
	return s.write(ctx, s.sensePath(attr), value)
}

// SetUsbThreshold writes the powered-off USB charging threshold.
func (s *Sysfs) SetUsbThreshold(ctx context.Context, t model.UsbThreshold) error {
	if !t.Valid() {
		return &Error{Kind: IoFailure, Attr: usbAttr, Err: fmt.Errorf("invalid threshold %d", t)}
	}
	return s.write(ctx, s.sensePath(usbAttr), strconv.Itoa(int(t)))
}

// ReadState reads every attribute independently.
func (s *Sysfs) ReadState(ctx context.Context) (LiveState, error) {
	var (
		live LiveState
		errs []error
	)

	if raw, err := s.read(ctx, s.keyboardPath()); err != nil {
		errs = append(errs, err)
	} else if rgb, err := s.decodeRGB(raw); err != nil {
		errs = append(errs, &Error{Kind: IoFailure, Attr: keyboardAttr, Err: err})
	} else {
		live.RGB = &rgb
	}

	if mode, err := s.readFanMode(ctx); err != nil {
		errs = append(errs, err)
	} else {
		live.Fan = &mode
	}

	live.Toggles = make(map[model.Feature]bool, len(toggleAttrs))
	for _, f := range model.Features {
		raw, err := s.read(ctx, s.sensePath(toggleAttrs[f]))
		if err != nil {
			errs = append(errs, err)
			continue
		}
		switch strings.TrimSpace(raw) {
		case "0":
			live.Toggles[f] = false
		case "1":
			live.Toggles[f] = true
		default:
			errs = append(errs, &Error{Kind: IoFailure, Attr: toggleAttrs[f], Err: fmt.Errorf("unexpected value %q", raw)})
		}
	}

	if raw, err := s.read(ctx, s.sensePath(usbAttr)); err != nil {
		errs = append(errs, err)
	} else if v, err := strconv.Atoi(strings.TrimSpace(raw)); err != nil || !model.UsbThreshold(v).Valid() {
		errs = append(errs, &Error{Kind: IoFailure, Attr: usbAttr, Err: fmt.Errorf("unexpected value %q", raw)})
	} else {
		t := model.UsbThreshold(v)
		live.Usb = &t
	}

	if raw, err := s.read(ctx, s.cfg.PlatformProfilePath); err != nil {
		errs = append(errs, err)
	} else if p, err := model.ParseThermalProfile(raw); err != nil {
		errs = append(errs, &Error{Kind: IoFailure, Attr: s.cfg.PlatformProfilePath, Err: err})
	} else {
		live.Thermal = &p
	}

	if raw, err := s.read(ctx, s.cfg.PlatformProfilePath+"_choices"); err != nil {
		errs = append(errs, err)
	} else {
		live.ThermalChoices = parseThermalChoices(raw)
	}

	return live, errors.Join(errs...)
}

// parseThermalChoices splits platform_profile_choices. Names this daemon
// does not know are dropped.
func parseThermalChoices(raw string) []model.ThermalProfile {
	choices := []model.ThermalProfile{}
	for _, f := range strings.Fields(raw) {
		if p, err := model.ParseThermalProfile(f); err == nil {
			choices = append(choices, p)
		}
	}
	return choices
}

// ReadTelemetry reads the temperatures and the current fan set points.
func (s *Sysfs) ReadTelemetry(ctx context.Context) (model.Telemetry, error) {
	tel := model.Telemetry{UpdatedAt: time.Now()}
	var errs []error

	if c, err := s.ReadCPUTemp(ctx); err != nil {
		errs = append(errs, err)
	} else {
		tel.CPUTempC = c
	}

	if c, ok, err := s.readGPUTemp(ctx); err != nil {
		errs = append(errs, err)
	} else if ok {
		tel.GPUTempC = c
	}

	if cpu, gpu, err := s.readFan(ctx); err != nil {
		errs = append(errs, err)
	} else {
		tel.CPUFanPercent = cpu
		tel.GPUFanPercent = gpu
	}

	return tel, errors.Join(errs...)
}

// ReadCPUTemp reads the CPU thermal zone in degrees Celsius.
func (s *Sysfs) ReadCPUTemp(ctx context.Context) (float64, error) {
	return s.readMilli(ctx, s.cfg.CPUTempPath)
}

func (s *Sysfs) readMilli(ctx context.Context, path string) (float64, error) {
	raw, err := s.read(ctx, path)
	if err != nil {
		return 0, err
	}
	milli, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, &Error{Kind: IoFailure, Attr: path, Err: err}
	}
	return float64(milli) / 1000, nil
}

// readGPUTemp reports ok=false when no GPU source is configured or the
// command is not installed.
func (s *Sysfs) readGPUTemp(ctx context.Context) (float64, bool, error) {
	if s.cfg.GPUTempPath != "" {
		c, err := s.readMilli(ctx, s.cfg.GPUTempPath)
		return c, err == nil, err
	}

	s.mu.Lock()
	missing := s.gpuCmdMissing
	s.mu.Unlock()
	if len(s.cfg.GPUTempCommand) == 0 || missing {
		return 0, false, nil
	}

	name := s.cfg.GPUTempCommand[0]
	ctx, cancel := context.WithTimeout(ctx, s.cfg.IOTimeout)
	defer cancel()
	out, err := exec.CommandContext(ctx, name, s.cfg.GPUTempCommand[1:]...).Output()
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			s.mu.Lock()
			s.gpuCmdMissing = true
			s.mu.Unlock()
			s.logger.Info("gpu temperature command not found, not reporting gpu temperature", "command", name)
			return 0, false, nil
		}
		if ctx.Err() != nil {
			return 0, false, &Error{Kind: Unavailable, Attr: name, Err: ctx.Err()}
		}
		return 0, false, &Error{Kind: IoFailure, Attr: name, Err: err}
	}

	line, _, _ := strings.Cut(strings.TrimSpace(string(out)), "\n")
	c, err := strconv.ParseFloat(strings.TrimSpace(line), 64)
	if err != nil {
		return 0, false, &Error{Kind: IoFailure, Attr: name, Err: fmt.Errorf("unexpected output %q", line)}
	}
	return c, true, nil
}

// readFanMode maps fan_speed back to a profile. The duty last written by
// SetFanSpeed reads as auto.
func (s *Sysfs) readFanMode(ctx context.Context) (model.FanMode, error) {
	s.fanMu.Lock()
	defer s.fanMu.Unlock()

	cpu, gpu, err := s.readFan(ctx)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.curve != nil && *s.curve == [2]int{cpu, gpu} {
		return model.FanAuto, nil
	}
	return fanModeOf(cpu, gpu), nil
}

func (s *Sysfs) readFan(ctx context.Context) (cpu, gpu int, err error) {
	raw, err := s.read(ctx, s.sensePath(fanAttr))
	if err != nil {
		return 0, 0, err
	}
	cpuStr, gpuStr, ok := strings.Cut(strings.TrimSpace(raw), ",")
	if !ok {
		return 0, 0, &Error{Kind: IoFailure, Attr: fanAttr, Err: fmt.Errorf("unexpected value %q", raw)}
	}
	cpu, err1 := strconv.Atoi(strings.TrimSpace(cpuStr))
	gpu, err2 := strconv.Atoi(strings.TrimSpace(gpuStr))
	if err := errors.Join(err1, err2); err != nil {
		return 0, 0, &Error{Kind: IoFailure, Attr: fanAttr, Err: err}
	}
	return cpu, gpu, nil
}

// fanModeOf maps fan set points back to a profile. Anything that is neither
// firmware-managed nor maxed out is reported as balanced.
func fanModeOf(cpu, gpu int) model.FanMode {
	switch {
	case cpu == 0 && gpu == 0:
		return model.FanAuto
	case cpu >= 100 && gpu >= 100:
		return model.FanTurbo
	}
	return model.FanBalanced
}

func (s *Sysfs) read(ctx context.Context, path string) (string, error) {
	var out []byte
	err := s.io(ctx, path, func() error {
		b, err := os.ReadFile(path)
		out = b
		return err
	})
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func (s *Sysfs) write(ctx context.Context, path, value string) error {
	s.logger.Debug("writing attribute", "path", path, "value", value)
	return s.io(ctx, path, func() error {
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC, 0)
		if err != nil {
			return err
		}
		if _, err := f.WriteString(value); err != nil {
			f.Close()
			return err
		}
		return f.Close()
	})
}

// io runs fn with the configured timeout. A hung attribute access is
// abandoned and reported as Unavailable.
func (s *Sysfs) io(ctx context.Context, path string, fn func() error) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.IOTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- fn() }()

	attr := strings.TrimPrefix(path, s.cfg.Root+string(filepath.Separator))
	select {
	case err := <-done:
		return classify(attr, err)
	case <-ctx.Done():
		return &Error{Kind: Unavailable, Attr: attr, Err: ctx.Err()}
	}
}

func classify(attr string, err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, fs.ErrNotExist),
		errors.Is(err, unix.ENODEV),
		errors.Is(err, unix.ENXIO),
		errors.Is(err, unix.EOPNOTSUPP):
		return &Error{Kind: Unsupported, Attr: attr, Err: err}
	case errors.Is(err, unix.EBUSY),
		errors.Is(err, unix.EAGAIN),
		errors.Is(err, unix.EACCES),
		errors.Is(err, unix.EPERM),
		errors.Is(err, unix.ETIMEDOUT):
		return &Error{Kind: Unavailable, Attr: attr, Err: err}
	}
	return &Error{Kind: IoFailure, Attr: attr, Err: err}
}
