package tui

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/jmylchreest/archsense/internal/config"
)

// clipboardTimeout bounds a clipboard helper run.
const clipboardTimeout = 5 * time.Second

var errNoClipboard = errors.New("no clipboard command available (set clipboard.command)")

// clipboardTools are tried in order. Wayland tools only count under a
// Wayland session.
var clipboardTools = []struct {
	argv    []string
	wayland bool
}{
	{argv: []string{"wl-copy"}, wayland: true},
	{argv: []string{"xclip", "-selection", "clipboard"}},
	{argv: []string{"xsel", "--clipboard", "--input"}},
}

// copyText pipes text into the clipboard helper.
func copyText(text string, cfg *config.Config) error {
	argv, err := clipboardArgv(cfg, exec.LookPath)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), clipboardTimeout)
	defer cancel()

	c := exec.CommandContext(ctx, argv[0], argv[1:]...)
	c.Stdin = strings.NewReader(text)
	return c.Run()
}

// clipboardArgv picks the configured command, or the first installed tool
// that fits the session.
func clipboardArgv(cfg *config.Config, lookPath func(string) (string, error)) ([]string, error) {
	if cfg != nil && strings.TrimSpace(cfg.Clipboard.Command) != "" {
		return strings.Fields(cfg.Clipboard.Command), nil
	}

	wayland := os.Getenv("WAYLAND_DISPLAY") != ""
	for _, tool := range clipboardTools {
		if tool.wayland && !wayland {
			continue
		}
		if _, err := lookPath(tool.argv[0]); err == nil {
			return tool.argv, nil
		}
	}
	return nil, errNoClipboard
}
