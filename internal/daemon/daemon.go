package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jmylchreest/archsense/internal/backend"
	"github.com/jmylchreest/archsense/internal/config"
	"github.com/jmylchreest/archsense/internal/dbus"
	"github.com/jmylchreest/archsense/internal/metrics"
	"github.com/jmylchreest/archsense/internal/model"
	"github.com/jmylchreest/archsense/internal/store"
)

// shutdownTimeout bounds how long Run waits for clients on exit.
const shutdownTimeout = 5 * time.Second

// Options are process-level settings that are not part of the config file.
type Options struct {
	ConfigPath string
	ForceFake  bool           // use the in-memory backend regardless of config
	Level      *slog.LevelVar // adjusted on config reload, may be nil
	Version    string
}

// Daemon wires the state manager to its clients, the poller, config
// reloads and suspend/resume.
type Daemon struct {
	mu  sync.Mutex
	cfg *config.DaemonConfig

	opts    Options
	logger  *slog.Logger
	backend backend.Backend

	manager    *Manager
	server     *Server
	poller     *Poller
	watcher    *config.Watcher
	monitor    *dbus.Monitor
	metricsSrv *metrics.Server
	recorder   metrics.Recorder
}

// New builds a daemon from cfg. Nothing is started until Run.
func New(cfg *config.DaemonConfig, opts Options, logger *slog.Logger) (*Daemon, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	mode, err := cfg.SocketMode()
	if err != nil {
		return nil, err
	}

	d := &Daemon{
		cfg:      cfg,
		opts:     opts,
		logger:   logger,
		recorder: metrics.NoopRecorder{},
	}

	if cfg.Metrics.Socket != "" {
		reg := metrics.NewRegistry()
		d.recorder = metrics.NewPrometheusRecorder(reg)
		d.metricsSrv = metrics.NewServer(cfg.Metrics.Socket, reg, logger.With("component", "metrics"))
	}

	d.backend = newBackend(cfg.Backend, opts.ForceFake, logger)

	d.manager = NewManager(d.backend, store.NewFileStore(cfg.Store.Path, logger), logger.With("component", "manager"))
	d.manager.SetRecorder(d.recorder)

	d.server = NewServer(ServerConfig{
		SocketPath:   cfg.Server.Socket,
		SocketMode:   mode,
		SocketGroup:  cfg.Server.SocketGroup,
		ReadTimeout:  cfg.Server.ReadTimeout.Duration(),
		WriteTimeout: cfg.Server.WriteTimeout.Duration(),
	}, d.manager, logger.With("component", "server"))
	d.server.SetRecorder(d.recorder)

	d.poller, err = NewPoller(d.manager, cfg.Telemetry.PollInterval.Duration(), logger.With("component", "poller"))
	if err != nil {
		return nil, err
	}
	d.poller.SetRecorder(d.recorder)
	if err := d.poller.SetFanCurve(d.manager, cfg.FanCurve.Curve(), cfg.FanCurve.ActiveInterval()); err != nil {
		return nil, err
	}

	return d, nil
}

func newBackend(cfg config.BackendConfig, forceFake bool, logger *slog.Logger) backend.Backend {
	if forceFake || cfg.Kind == config.BackendFake {
		logger.Warn("using in-memory fake backend, hardware will not be touched")
		return backend.NewFake(model.DefaultHardwareState())
	}
	return backend.NewSysfs(backend.SysfsConfig{
		Root:                cfg.SysfsRoot,
		CPUTempPath:         cfg.CPUTempPath,
		IOTimeout:           cfg.IOTimeout.Duration(),
		PlatformProfilePath: cfg.PlatformProfilePath,
		GPUTempPath:         cfg.GPUTempPath,
		GPUTempCommand:      cfg.GPUTempArgv(),
	}, logger.With("component", "sysfs"))
}

// Manager returns the state manager.
func (d *Daemon) Manager() *Manager {
	return d.manager
}

// Config returns the active configuration.
func (d *Daemon) Config() *config.DaemonConfig {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cfg
}

// Run reconciles the hardware, starts every component and blocks until
// ctx is cancelled. Only a failure to bind the control socket is fatal;
// optional components log and carry on.
func (d *Daemon) Run(ctx context.Context) error {
	d.logger.Info("starting archsensed", "version", d.opts.Version)

	// Nothing touches the hardware or the store until this instance owns
	// the lock.
	if err := d.server.Lock(); err != nil {
		return err
	}

	d.manager.Reconcile(ctx)

	if err := d.server.Start(); err != nil {
		return err
	}

	if err := d.poller.Start(ctx); err != nil {
		d.logger.Warn("failed to start poller", "error", err)
	}

	if d.metricsSrv != nil {
		if err := d.metricsSrv.Start(); err != nil {
			d.logger.Warn("failed to start metrics server", "error", err)
			d.metricsSrv = nil
		}
	}

	if d.opts.ConfigPath != "" {
		w, err := config.NewWatcher(d.opts.ConfigPath, d.applyConfig, d.logger.With("component", "config"))
		if err != nil {
			d.logger.Warn("failed to create config watcher", "error", err)
		} else if err := w.Start(); err != nil {
			d.logger.Warn("failed to start config watcher", "error", err)
			w.Stop()
		} else {
			d.watcher = w
		}
	}

	d.monitor = dbus.NewMonitor(d.logger.With("component", "dbus"))
	d.monitor.SetSleepHandler(d.onSleep)
	if err := d.monitor.Start(ctx); err != nil {
		d.logger.Warn("resume handling disabled", "error", err)
		d.monitor = nil
	}

	snap := d.manager.Snapshot()
	d.logger.Info("archsensed ready",
		"socket", d.Config().Server.Socket,
		"revision", snap.Revision,
		"unsupported", snap.Unsupported)

	<-ctx.Done()
	return d.shutdown()
}

func (d *Daemon) shutdown() error {
	d.logger.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error
	if d.monitor != nil {
		if err := d.monitor.Stop(); err != nil {
			d.logger.Debug("error stopping dbus monitor", "error", err)
		}
	}
	if d.watcher != nil {
		d.watcher.Stop()
	}
	if err := d.poller.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("stop poller: %w", err))
	}
	if err := d.server.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stop server: %w", err))
	}
	if d.metricsSrv != nil {
		if err := d.metricsSrv.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop metrics: %w", err))
		}
	}

	d.logger.Info("archsensed stopped")
	return errors.Join(errs...)
}

func (d *Daemon) onSleep(ctx context.Context, phase dbus.SleepPhase) {
	if phase != dbus.PhaseResumed {
		return
	}
	if !d.Config().Resume.Reapply {
		d.logger.Debug("resumed, re-apply disabled")
		return
	}
	d.logger.Info("resumed from sleep, re-applying settings")
	d.manager.Reapply(ctx)
}
