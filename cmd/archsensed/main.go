// Package main is the entry point for the archsensed hardware control daemon.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jmylchreest/archsense/internal/config"
	"github.com/jmylchreest/archsense/internal/daemon"
)

// Build-time variables (set via ldflags)
var (
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
)

func main() {
	configPath := flag.String("config", config.DefaultDaemonConfigPath, "Path to the daemon config file")
	fake := flag.Bool("fake", false, "Use the in-memory backend instead of sysfs (for development)")
	verbose := flag.Bool("verbose", false, "Enable debug logging, overriding the configured level")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("archsensed %s (commit: %s, built: %s)\n", version, commit, buildTime)
		os.Exit(0)
	}

	level := new(slog.LevelVar)
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	os.Exit(run(*configPath, *fake, *verbose, level, logger))
}

func run(configPath string, fake, verbose bool, level *slog.LevelVar, logger *slog.Logger) int {
	cfg, err := config.LoadDaemonConfig(configPath)
	if err != nil {
		logger.Error("failed to load config", "path", configPath, "error", err)
		return 1
	}

	if verbose {
		level.Set(slog.LevelDebug)
	} else if l, err := config.ParseLevel(cfg.Log.Level); err == nil {
		level.Set(l)
	}

	d, err := daemon.New(cfg, daemon.Options{
		ConfigPath: configPath,
		ForceFake:  fake,
		Level:      level,
		Version:    version,
	}, logger)
	if err != nil {
		logger.Error("failed to initialise daemon", "error", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := d.Run(ctx); err != nil {
		if errors.Is(err, daemon.ErrAlreadyRunning) {
			logger.Error("another archsensed is already running", "socket", cfg.Server.Socket)
			return 2
		}
		logger.Error("daemon exited with error", "error", err)
		return 1
	}

	logger.Info("archsensed stopped")
	return 0
}
