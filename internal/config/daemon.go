package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/jmylchreest/archsense/internal/model"
)

// Duration is a time.Duration that can be unmarshaled from human-readable strings.
// Supports formats like "500ms", "2s", "1m", or integer milliseconds.
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler for TOML parsing.
func (d *Duration) UnmarshalText(text []byte) error {
	s := string(text)

	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		*d = Duration(time.Duration(ms) * time.Millisecond)
		return nil
	}

	dur, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: must be like '500ms', '2s', '1m' or milliseconds: %w", s, err)
	}
	*d = Duration(dur)
	return nil
}

// MarshalText implements encoding.TextMarshaler for TOML output.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Duration returns the underlying time.Duration.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// DefaultDaemonConfigPath is where archsensed looks for its configuration.
const DefaultDaemonConfigPath = "/etc/archsense/archsensed.toml"

// DefaultSocketPath is the control socket shared by archsensed and its clients.
const DefaultSocketPath = "/run/archsense/archsensed.sock"

// DaemonConfig is the configuration for archsensed.
// Loaded from /etc/archsense/archsensed.toml
type DaemonConfig struct {
	Server    ServerConfig    `toml:"server"`
	Store     StoreConfig     `toml:"store"`
	Backend   BackendConfig   `toml:"backend"`
	Telemetry TelemetryConfig `toml:"telemetry"`
	FanCurve  FanCurveConfig  `toml:"fan_curve"`
	Metrics   MetricsConfig   `toml:"metrics"`
	Log       LogConfig       `toml:"log"`
	Resume    ResumeConfig    `toml:"resume"`
}

// ServerConfig contains control socket settings.
type ServerConfig struct {
	Socket       string   `toml:"socket"`
	SocketMode   string   `toml:"socket_mode"`   // Octal permission bits, e.g. "0660"
	SocketGroup  string   `toml:"socket_group"`  // Group owning the socket, empty = unchanged
	ReadTimeout  Duration `toml:"read_timeout"`  // Idle time before a silent client is dropped, 0 = never
	WriteTimeout Duration `toml:"write_timeout"` // Bound on writing one response
}

// StoreConfig contains persisted settings location.
type StoreConfig struct {
	Path string `toml:"path"`
}

// BackendConfig selects and locates the hardware backend.
type BackendConfig struct {
	Kind                string   `toml:"kind"`                  // "sysfs" or "fake"
	SysfsRoot           string   `toml:"sysfs_root"`            // linuwu-sense acer-wmi directory
	CPUTempPath         string   `toml:"cpu_temp_path"`         // Thermal zone temperature in millidegrees
	PlatformProfilePath string   `toml:"platform_profile_path"` // ACPI platform_profile attribute
	GPUTempPath         string   `toml:"gpu_temp_path"`         // GPU temperature in millidegrees, overrides the command
	GPUTempCommand      string   `toml:"gpu_temp_command"`      // Prints the GPU temperature in degrees, empty = none
	IOTimeout           Duration `toml:"io_timeout"`            // Bound on a single attribute access
}

// GPUTempArgv splits gpu_temp_command on whitespace.
func (b BackendConfig) GPUTempArgv() []string {
	return strings.Fields(b.GPUTempCommand)
}

// Backend kinds.
const (
	BackendSysfs = "sysfs"
	BackendFake  = "fake"
)

// TelemetryConfig contains live reading settings.
type TelemetryConfig struct {
	PollInterval Duration `toml:"poll_interval"` // 0 disables polling
}

// FanCurveConfig controls the temperature-driven fan curve used while the
// fan mode is auto.
type FanCurveConfig struct {
	Enabled  bool            `toml:"enabled"`
	Interval Duration        `toml:"interval"` // How often the CPU temperature is sampled
	Points   []FanCurvePoint `toml:"points"`
}

// FanCurvePoint is one (temperature, duty) pair.
type FanCurvePoint struct {
	TempC   float64 `toml:"temp"`
	Percent int     `toml:"percent"`
}

// Curve converts the configured points.
func (f FanCurveConfig) Curve() model.FanCurve {
	curve := make(model.FanCurve, len(f.Points))
	for i, p := range f.Points {
		curve[i] = model.FanCurvePoint{TempC: p.TempC, Percent: p.Percent}
	}
	return curve
}

// ActiveInterval is the job interval, or zero when the curve is disabled.
func (f FanCurveConfig) ActiveInterval() time.Duration {
	if !f.Enabled {
		return 0
	}
	return f.Interval.Duration()
}

func defaultFanCurvePoints() []FanCurvePoint {
	var pts []FanCurvePoint
	for _, p := range model.DefaultFanCurve() {
		pts = append(pts, FanCurvePoint{TempC: p.TempC, Percent: p.Percent})
	}
	return pts
}

// MetricsConfig contains Prometheus exposition settings.
type MetricsConfig struct {
	Socket string `toml:"socket"` // Unix socket serving /metrics, empty = disabled
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level string `toml:"level"` // "debug", "info", "warn" or "error"
}

// ResumeConfig controls re-applying settings after suspend.
type ResumeConfig struct {
	Reapply bool `toml:"reapply"`
}

// DefaultDaemonConfig returns a new DaemonConfig with default values.
func DefaultDaemonConfig() *DaemonConfig {
	return &DaemonConfig{
		Server: ServerConfig{
			Socket:       DefaultSocketPath,
			SocketMode:   "0660",
			ReadTimeout:  Duration(0),
			WriteTimeout: Duration(5 * time.Second),
		},
		Store: StoreConfig{
			Path: "/var/lib/archsense/state.json",
		},
		Backend: BackendConfig{
			Kind:                BackendSysfs,
			SysfsRoot:           "/sys/module/linuwu_sense/drivers/platform:acer-wmi/acer-wmi",
			CPUTempPath:         "/sys/class/thermal/thermal_zone0/temp",
			PlatformProfilePath: "/sys/firmware/acpi/platform_profile",
			GPUTempCommand:      "nvidia-smi --query-gpu=temperature.gpu --format=csv,noheader,nounits",
			IOTimeout:           Duration(2 * time.Second),
		},
		Telemetry: TelemetryConfig{
			PollInterval: Duration(2 * time.Second),
		},
		FanCurve: FanCurveConfig{
			Enabled:  true,
			Interval: Duration(2 * time.Second),
			Points:   defaultFanCurvePoints(),
		},
		Log: LogConfig{
			Level: "info",
		},
		Resume: ResumeConfig{
			Reapply: true,
		},
	}
}

// LoadDaemonConfig loads the daemon configuration from path.
// If the file doesn't exist, returns the default configuration.
func LoadDaemonConfig(path string) (*DaemonConfig, error) {
	if path == "" {
		path = DefaultDaemonConfigPath
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultDaemonConfig(), nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Start with defaults, then overlay with file contents
	config := DefaultDaemonConfig()
	if err := toml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// SaveDaemonConfig writes the daemon configuration to path.
func SaveDaemonConfig(path string, config *DaemonConfig) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := toml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// Write atomically via temp file
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return os.Rename(tmpPath, path)
}

// Validate checks if the configuration is valid.
func (c *DaemonConfig) Validate() error {
	if c.Server.Socket == "" {
		return fmt.Errorf("server.socket must not be empty")
	}
	if !filepath.IsAbs(c.Server.Socket) {
		return fmt.Errorf("server.socket must be an absolute path, got %q", c.Server.Socket)
	}
	if _, err := c.SocketMode(); err != nil {
		return err
	}
	if c.Server.WriteTimeout < 0 || c.Server.ReadTimeout < 0 {
		return fmt.Errorf("server timeouts must not be negative")
	}

	if c.Store.Path == "" {
		return fmt.Errorf("store.path must not be empty")
	}

	switch c.Backend.Kind {
	case BackendSysfs, BackendFake:
	default:
		return fmt.Errorf("invalid backend kind %q, must be one of: %v", c.Backend.Kind, []string{BackendSysfs, BackendFake})
	}
	if c.Backend.IOTimeout.Duration() < 10*time.Millisecond || c.Backend.IOTimeout.Duration() > time.Minute {
		return fmt.Errorf("backend.io_timeout must be between 10ms and 1m, got %s", c.Backend.IOTimeout.Duration())
	}

	if c.Telemetry.PollInterval < 0 {
		return fmt.Errorf("telemetry.poll_interval must not be negative")
	}
	if p := c.Telemetry.PollInterval.Duration(); p > 0 && p < 100*time.Millisecond {
		return fmt.Errorf("telemetry.poll_interval must be 0 or at least 100ms, got %s", p)
	}

	if c.FanCurve.Enabled {
		if i := c.FanCurve.Interval.Duration(); i < 100*time.Millisecond {
			return fmt.Errorf("fan_curve.interval must be at least 100ms, got %s", i)
		}
		if err := c.FanCurve.Curve().Validate(); err != nil {
			return fmt.Errorf("invalid fan_curve.points: %w", err)
		}
	}

	if c.Metrics.Socket != "" && !filepath.IsAbs(c.Metrics.Socket) {
		return fmt.Errorf("metrics.socket must be an absolute path, got %q", c.Metrics.Socket)
	}

	if _, err := ParseLevel(c.Log.Level); err != nil {
		return err
	}

	return nil
}

// SocketMode parses server.socket_mode.
func (c *DaemonConfig) SocketMode() (os.FileMode, error) {
	mode, err := strconv.ParseUint(c.Server.SocketMode, 8, 32)
	if err != nil || mode > 0o777 {
		return 0, fmt.Errorf("invalid server.socket_mode %q, must be octal like \"0660\"", c.Server.SocketMode)
	}
	return os.FileMode(mode), nil
}

// ParseLevel converts a level name to a slog.Level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("invalid log level %q, must be one of: debug, info, warn, error", s)
}
