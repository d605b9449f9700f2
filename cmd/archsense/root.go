// Package main provides the CLI entrypoint for archsense.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/archsense/internal/adapter/output"
	"github.com/jmylchreest/archsense/internal/config"
	"github.com/jmylchreest/archsense/internal/model"
	"github.com/jmylchreest/archsense/internal/protocol"
)

// Build-time variables (set via ldflags)
var (
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
)

// Global configuration and state
var (
	cfg        *config.Config
	globalOpts struct {
		verbose    bool
		quiet      bool
		configPath string
		socket     string
		format     string
		timeout    time.Duration
	}
	logger *slog.Logger
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "archsense",
	Short: "Control Acer laptop lighting, fans and battery features",
	Long: `archsense talks to the archsensed daemon to read and change keyboard
lighting, fan profiles, battery features and USB charging.

Running archsense without a subcommand launches the interactive TUI.`,
	Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildTime),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		setupLogger()

		var err error
		cfg, err = config.LoadConfig(globalOpts.configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		applyGlobalOverrides(cfg)
		return nil
	},
	// Default to TUI when no subcommand is provided
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTUI(cmd, args)
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&globalOpts.verbose, "verbose", "v", false,
		"Enable verbose logging")
	rootCmd.PersistentFlags().BoolVarP(&globalOpts.quiet, "quiet", "q", false,
		"Do not print the resulting state after a change")
	rootCmd.PersistentFlags().StringVar(&globalOpts.configPath, "config", "",
		"Path to config file (default: ~/.config/archsense/config.toml)")
	rootCmd.PersistentFlags().StringVar(&globalOpts.socket, "socket", "",
		"Path to the archsensed control socket (default: "+config.DefaultSocketPath+")")
	rootCmd.PersistentFlags().StringVarP(&globalOpts.format, "format", "f", "",
		"Output format (plain, json, yaml, waybar)")
	rootCmd.PersistentFlags().DurationVar(&globalOpts.timeout, "timeout", 0,
		"Bound on one request to the daemon (default from config)")
}

// setupLogger configures the global slog logger.
func setupLogger() {
	level := slog.LevelWarn
	if globalOpts.verbose {
		level = slog.LevelDebug
	}

	// Log to stderr so stdout is clean for output
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	logger = slog.New(handler)
	slog.SetDefault(logger)
}

// applyGlobalOverrides lets command-line flags win over the config file.
func applyGlobalOverrides(c *config.Config) {
	if globalOpts.socket != "" {
		c.Socket = globalOpts.socket
	}
	if globalOpts.format != "" {
		c.Output.Format = globalOpts.format
	}
	if globalOpts.timeout > 0 {
		c.Timeout = config.Duration(globalOpts.timeout)
	}
}

// execute sends one command to archsensed and returns the resulting state.
// Warnings are reported on stderr; the command still succeeded.
func execute(ctx context.Context, c protocol.Command) (*model.Snapshot, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout.Duration())
	defer cancel()

	client, err := protocol.Dial(ctx, cfg.Socket)
	if err != nil {
		return nil, fmt.Errorf("cannot reach archsensed at %s: %w", cfg.Socket, err)
	}
	defer func() { _ = client.Close() }()

	logger.Debug("sending command", "command", c.Tag(), "socket", cfg.Socket)
	snap, warnings, err := client.Exec(ctx, c)
	if err != nil {
		return nil, err
	}
	for _, w := range warnings {
		fmt.Fprintf(os.Stderr, "warning: %s\n", w.Message)
	}
	return snap, nil
}

// parseFormat checks a --format value.
func parseFormat(s string) (output.FormatType, error) {
	if s == "" {
		return output.FormatPlain, nil
	}
	ft := output.FormatType(s)
	if !slices.Contains(output.FormatTypes, ft) {
		return "", fmt.Errorf("unknown format %q (want one of %v)", s, output.FormatTypes)
	}
	return ft, nil
}

// printState writes snap in the configured format.
func printState(w io.Writer, snap *model.Snapshot, opts output.FormatterOptions) error {
	ft, err := parseFormat(cfg.Output.Format)
	if err != nil {
		return err
	}
	return output.NewFormatter(ft, opts).Format(w, snap)
}

// runMutation executes c and prints the resulting state unless --quiet.
func runMutation(cmd *cobra.Command, c protocol.Command) error {
	snap, err := execute(cmd.Context(), c)
	if err != nil {
		return err
	}
	if globalOpts.quiet {
		return nil
	}
	return printState(cmd.OutOrStdout(), snap, output.DefaultFormatterOptions())
}
