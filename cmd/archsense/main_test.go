package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/archsense/internal/adapter/output"
	"github.com/jmylchreest/archsense/internal/backend"
	"github.com/jmylchreest/archsense/internal/config"
	"github.com/jmylchreest/archsense/internal/daemon"
	"github.com/jmylchreest/archsense/internal/model"
	"github.com/jmylchreest/archsense/internal/protocol"
	"github.com/jmylchreest/archsense/internal/store"
)

func TestParseBounded(t *testing.T) {
	tests := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{"5", 5, false},
		{"50%", 50, false},
		{"0", 0, false},
		{"101", 0, true},
		{"-1", 0, true},
		{"fast", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseBounded(tt.in, "brightness", 0, 100)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBuildToggle(t *testing.T) {
	c, err := buildToggle([]string{"lcd-overdrive"})
	require.NoError(t, err)
	assert.Equal(t, model.FeatureLcdOverdrive, c.Feature)
	assert.Nil(t, c.Value)

	c, err = buildToggle([]string{"battery_limiter", "on"})
	require.NoError(t, err)
	require.NotNil(t, c.Value)
	assert.True(t, *c.Value)

	c, err = buildToggle([]string{"boot-animation", "OFF"})
	require.NoError(t, err)
	require.NotNil(t, c.Value)
	assert.False(t, *c.Value)

	_, err = buildToggle([]string{"turbo-mode"})
	assert.Error(t, err)

	_, err = buildToggle([]string{"lcd-overdrive", "maybe"})
	assert.Error(t, err)
}

func TestParseFormat(t *testing.T) {
	ft, err := parseFormat("")
	require.NoError(t, err)
	assert.Equal(t, output.FormatPlain, ft)

	ft, err = parseFormat("waybar")
	require.NoError(t, err)
	assert.Equal(t, output.FormatWaybar, ft)

	_, err = parseFormat("xml")
	assert.Error(t, err)
}

func TestFeatureNames(t *testing.T) {
	names := featureNames()
	assert.Len(t, names, len(model.Features))
	assert.Contains(t, names, "battery-limiter")
	for _, n := range names {
		_, err := model.ParseFeature(n)
		assert.NoError(t, err, n)
	}
}

func TestWriteStatusError(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeStatusError(&buf, errors.New("connection refused")))

	var mod map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &mod))
	assert.Equal(t, "error", mod["alt"])
	assert.Equal(t, []any{"error"}, mod["class"])
	assert.Contains(t, mod["tooltip"], "connection refused")
}

// startDaemon serves a fake-backed manager and points the CLI globals at it.
func startDaemon(t *testing.T) *backend.Fake {
	t.Helper()

	dir, err := os.MkdirTemp("", "asc")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })

	fake := backend.NewFake(model.DefaultHardwareState())
	m := daemon.NewManager(fake, store.NewFileStore(filepath.Join(dir, "state.json"), nil), nil)
	m.Reconcile(context.Background())

	sock := filepath.Join(dir, "d.sock")
	srv := daemon.NewServer(daemon.ServerConfig{
		SocketPath:   sock,
		SocketMode:   0o600,
		WriteTimeout: time.Second,
	}, m, nil)
	require.NoError(t, srv.Start())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Stop(ctx)
	})

	cfg = config.DefaultConfig()
	cfg.Socket = sock
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	return fake
}

func TestExecute_AgainstDaemon(t *testing.T) {
	fake := startDaemon(t)
	ctx := context.Background()

	snap, err := execute(ctx, protocol.SetFanMode{Mode: model.FanTurbo})
	require.NoError(t, err)
	assert.Equal(t, model.FanTurbo, snap.FanMode)
	assert.Equal(t, model.FanTurbo, fake.Hardware().FanMode)

	snap, err = execute(ctx, protocol.GetState{})
	require.NoError(t, err)
	assert.Equal(t, model.FanTurbo, snap.FanMode)

	var buf bytes.Buffer
	cfg.Output.Format = "plain"
	require.NoError(t, printState(&buf, snap, output.DefaultFormatterOptions()))
	assert.Contains(t, buf.String(), "turbo")
}

func TestExecute_ThermalProfile(t *testing.T) {
	fake := startDaemon(t)
	ctx := context.Background()

	snap, err := execute(ctx, protocol.SetThermalProfile{Profile: model.ThermalLowPower})
	require.NoError(t, err)
	assert.Equal(t, model.ThermalLowPower, snap.ThermalProfile)
	assert.Equal(t, model.ThermalLowPower, fake.Hardware().ThermalProfile)

	_, err = execute(ctx, protocol.SetThermalProfile{Profile: model.ThermalCool})
	var cmdErr *model.CommandError
	require.ErrorAs(t, err, &cmdErr)
	assert.Equal(t, model.KindInvalidArgument, cmdErr.Kind)
}

func TestThermalProfileNames(t *testing.T) {
	names := thermalProfileNames()
	assert.Len(t, names, len(model.ThermalProfiles))
	assert.Contains(t, names, "balanced-performance")
}

func TestExecute_CommandError(t *testing.T) {
	startDaemon(t)

	_, err := execute(context.Background(), protocol.SetRgbColor{Color: model.ColorRandom})
	var cmdErr *model.CommandError
	require.ErrorAs(t, err, &cmdErr)
	assert.Equal(t, model.KindInvalidArgument, cmdErr.Kind)
}

func TestExecute_ValidatesLocally(t *testing.T) {
	cfg = config.DefaultConfig()
	cfg.Socket = filepath.Join(t.TempDir(), "missing.sock")
	logger = slog.Default()

	_, err := execute(context.Background(), protocol.SetRgbSpeed{Speed: 11})
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "cannot reach")
}

func TestExecute_NoDaemon(t *testing.T) {
	cfg = config.DefaultConfig()
	cfg.Socket = filepath.Join(t.TempDir(), "missing.sock")
	logger = slog.Default()

	_, err := execute(context.Background(), protocol.GetState{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot reach archsensed")
}
