package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDuration_UnmarshalText(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{"2s", 2 * time.Second, false},
		{"500ms", 500 * time.Millisecond, false},
		{"1500", 1500 * time.Millisecond, false},
		{"0", 0, false},
		{"soon", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			var d Duration
			err := d.UnmarshalText([]byte(tt.in))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, d.Duration())
		})
	}
}

func TestDefaultDaemonConfig_Valid(t *testing.T) {
	cfg := DefaultDaemonConfig()
	require.NoError(t, cfg.Validate())

	mode, err := cfg.SocketMode()
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o660), mode)
}

func TestLoadDaemonConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "archsensed.toml")

	content := `
[server]
socket = "/tmp/archsensed.sock"
socket_mode = "0600"

[backend]
kind = "fake"
io_timeout = "250ms"

[telemetry]
poll_interval = "0"

[log]
level = "debug"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := LoadDaemonConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/archsensed.sock", cfg.Server.Socket)
	assert.Equal(t, BackendFake, cfg.Backend.Kind)
	assert.Equal(t, 250*time.Millisecond, cfg.Backend.IOTimeout.Duration())
	assert.Zero(t, cfg.Telemetry.PollInterval)
	assert.Equal(t, "debug", cfg.Log.Level)

	// Untouched sections keep their defaults
	assert.Equal(t, DefaultDaemonConfig().Store.Path, cfg.Store.Path)
	assert.True(t, cfg.Resume.Reapply)
}

func TestLoadDaemonConfig_MissingFile(t *testing.T) {
	cfg, err := LoadDaemonConfig(filepath.Join(t.TempDir(), "nope.toml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultDaemonConfig(), cfg)
}

func TestDaemonConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*DaemonConfig)
	}{
		{"relative socket", func(c *DaemonConfig) { c.Server.Socket = "archsensed.sock" }},
		{"bad socket mode", func(c *DaemonConfig) { c.Server.SocketMode = "rw" }},
		{"socket mode too wide", func(c *DaemonConfig) { c.Server.SocketMode = "7777" }},
		{"empty store", func(c *DaemonConfig) { c.Store.Path = "" }},
		{"unknown backend", func(c *DaemonConfig) { c.Backend.Kind = "usb" }},
		{"io timeout too short", func(c *DaemonConfig) { c.Backend.IOTimeout = Duration(time.Millisecond) }},
		{"poll too fast", func(c *DaemonConfig) { c.Telemetry.PollInterval = Duration(time.Millisecond) }},
		{"relative metrics socket", func(c *DaemonConfig) { c.Metrics.Socket = "metrics.sock" }},
		{"bad log level", func(c *DaemonConfig) { c.Log.Level = "loud" }},
		{"fan curve too fast", func(c *DaemonConfig) { c.FanCurve.Interval = Duration(time.Millisecond) }},
		{"fan curve empty", func(c *DaemonConfig) { c.FanCurve.Points = nil }},
		{"fan curve unordered", func(c *DaemonConfig) {
			c.FanCurve.Points = []FanCurvePoint{{TempC: 70, Percent: 60}, {TempC: 50, Percent: 30}}
		}},
		{"fan curve duty too high", func(c *DaemonConfig) { c.FanCurve.Points = []FanCurvePoint{{TempC: 70, Percent: 150}} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultDaemonConfig()
			tt.modify(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadDaemonConfig_FanCurve(t *testing.T) {
	path := filepath.Join(t.TempDir(), "archsensed.toml")
	content := `
[backend]
gpu_temp_command = ""
gpu_temp_path = "/sys/class/hwmon/hwmon3/temp1_input"

[fan_curve]
interval = "5s"
points = [
  { temp = 50, percent = 30 },
  { temp = 80, percent = 90 },
]
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := LoadDaemonConfig(path)
	require.NoError(t, err)
	assert.True(t, cfg.FanCurve.Enabled)
	assert.Equal(t, 5*time.Second, cfg.FanCurve.ActiveInterval())
	assert.Equal(t, 60, cfg.FanCurve.Curve().Percent(65))
	assert.Empty(t, cfg.Backend.GPUTempArgv())
	assert.Equal(t, "/sys/class/hwmon/hwmon3/temp1_input", cfg.Backend.GPUTempPath)

	cfg.FanCurve.Enabled = false
	assert.Zero(t, cfg.FanCurve.ActiveInterval())
	cfg.FanCurve.Points = nil
	assert.NoError(t, cfg.Validate(), "a disabled curve is not checked")
}

func TestDefaultDaemonConfig_GPUTempArgv(t *testing.T) {
	argv := DefaultDaemonConfig().Backend.GPUTempArgv()
	require.NotEmpty(t, argv)
	assert.Equal(t, "nvidia-smi", argv[0])
}

func TestSaveDaemonConfig_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "etc", "archsensed.toml")

	cfg := DefaultDaemonConfig()
	cfg.Metrics.Socket = "/run/archsense/metrics.sock"
	cfg.Telemetry.PollInterval = Duration(5 * time.Second)
	require.NoError(t, SaveDaemonConfig(path, cfg))

	loaded, err := LoadDaemonConfig(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestParseLevel(t *testing.T) {
	lvl, err := ParseLevel("WARN")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelWarn, lvl)

	lvl, err = ParseLevel("")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelInfo, lvl)
}

func TestWatcher_ReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "archsensed.toml")
	require.NoError(t, SaveDaemonConfig(path, DefaultDaemonConfig()))

	changes := make(chan *DaemonConfig, 4)
	w, err := NewWatcher(path, func(c *DaemonConfig) { changes <- c }, nil)
	require.NoError(t, err)
	require.NoError(t, w.Start())
	defer w.Stop()

	// An invalid edit is ignored
	require.NoError(t, os.WriteFile(path, []byte("[log]\nlevel = \"loud\"\n"), 0o644))

	cfg := DefaultDaemonConfig()
	cfg.Log.Level = "debug"
	require.NoError(t, SaveDaemonConfig(path, cfg))

	deadline := time.After(5 * time.Second)
	for {
		select {
		case got := <-changes:
			if got.Log.Level == "debug" {
				return
			}
		case <-deadline:
			t.Fatal("config change not observed")
		}
	}
}
