// Package config handles configuration file loading and parsing.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config represents the archsense client configuration.
type Config struct {
	Socket    string          `toml:"socket"`  // archsensed control socket
	Timeout   Duration        `toml:"timeout"` // Bound on one request
	Output    OutputConfig    `toml:"output"`
	TUI       TUIConfig       `toml:"tui"`
	Clipboard ClipboardConfig `toml:"clipboard"`
}

// OutputConfig holds default CLI output options.
type OutputConfig struct {
	Format string `toml:"format"` // plain, json, yaml, waybar
}

// ClipboardConfig holds clipboard settings.
type ClipboardConfig struct {
	Command string `toml:"command"` // e.g. "wl-copy", empty = auto-detect
}

// TUIConfig holds TUI-specific settings.
type TUIConfig struct {
	Refresh  Duration `toml:"refresh"` // GetState polling interval
	ShowHelp bool     `toml:"show_help"`
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	return &Config{
		Socket:  DefaultSocketPath,
		Timeout: Duration(5 * time.Second),
		Output: OutputConfig{
			Format: "plain",
		},
		TUI: TUIConfig{
			Refresh:  Duration(time.Second),
			ShowHelp: true,
		},
	}
}

// ConfigPath returns the default client config path.
// Uses XDG_CONFIG_HOME or defaults to ~/.config/archsense/config.toml.
func ConfigPath() string {
	configHome := os.Getenv("XDG_CONFIG_HOME")
	if configHome == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		configHome = filepath.Join(home, ".config")
	}
	return filepath.Join(configHome, "archsense", "config.toml")
}

// LoadConfig loads configuration from the specified path.
// If path is empty, uses the default config path.
// Returns default config if file doesn't exist.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		path = ConfigPath()
	}

	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, err
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	if cfg.TUI.Refresh.Duration() < 100*time.Millisecond {
		cfg.TUI.Refresh = Duration(100 * time.Millisecond)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}

	return cfg, nil
}

// Save writes the configuration to the specified path.
// Creates parent directories if needed.
func (c *Config) Save(path string) error {
	if path == "" {
		path = ConfigPath()
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	data, err := toml.Marshal(c)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0o644)
}
