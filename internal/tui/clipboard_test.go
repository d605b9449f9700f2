package tui

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/archsense/internal/config"
)

func lookPathFor(installed ...string) func(string) (string, error) {
	return func(name string) (string, error) {
		for _, n := range installed {
			if n == name {
				return "/usr/bin/" + name, nil
			}
		}
		return "", errors.New("not found")
	}
}

func TestClipboardArgv_Configured(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Clipboard.Command = "wl-copy --primary"

	argv, err := clipboardArgv(cfg, lookPathFor())
	require.NoError(t, err)
	assert.Equal(t, []string{"wl-copy", "--primary"}, argv)
}

func TestClipboardArgv_PrefersWaylandInWaylandSession(t *testing.T) {
	t.Setenv("WAYLAND_DISPLAY", "wayland-1")

	argv, err := clipboardArgv(nil, lookPathFor("wl-copy", "xclip"))
	require.NoError(t, err)
	assert.Equal(t, []string{"wl-copy"}, argv)
}

func TestClipboardArgv_SkipsWaylandOnX11(t *testing.T) {
	t.Setenv("WAYLAND_DISPLAY", "")

	argv, err := clipboardArgv(nil, lookPathFor("wl-copy", "xsel"))
	require.NoError(t, err)
	assert.Equal(t, []string{"xsel", "--clipboard", "--input"}, argv)
}

func TestClipboardArgv_NoneInstalled(t *testing.T) {
	_, err := clipboardArgv(nil, lookPathFor())
	assert.ErrorIs(t, err, errNoClipboard)
}
