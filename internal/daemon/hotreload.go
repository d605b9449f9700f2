package daemon

import (
	"slices"

	"github.com/jmylchreest/archsense/internal/config"
)

// applyConfig takes over a reloaded config. Settings that only take effect
// at startup are logged and otherwise ignored until restart.
func (d *Daemon) applyConfig(next *config.DaemonConfig) {
	d.mu.Lock()
	prev := d.cfg
	d.cfg = next
	d.mu.Unlock()

	if d.opts.Level != nil {
		if level, err := config.ParseLevel(next.Log.Level); err == nil && level != d.opts.Level.Level() {
			d.opts.Level.Set(level)
			d.logger.Info("log level changed", "level", level)
		}
	}

	if next.Telemetry.PollInterval != prev.Telemetry.PollInterval {
		if err := d.poller.SetInterval(next.Telemetry.PollInterval.Duration()); err != nil {
			d.logger.Warn("failed to change poll interval", "error", err)
		}
	}

	if !sameFanCurve(prev.FanCurve, next.FanCurve) {
		if err := d.poller.SetFanCurve(d.manager, next.FanCurve.Curve(), next.FanCurve.ActiveInterval()); err != nil {
			d.logger.Warn("failed to change fan curve", "error", err)
		}
	}

	if next.Resume.Reapply != prev.Resume.Reapply {
		d.logger.Info("resume re-apply changed", "enabled", next.Resume.Reapply)
	}

	for _, changed := range restartOnly(prev, next) {
		d.logger.Warn("setting changed, restart archsensed to apply", "setting", changed)
	}

	d.logger.Info("config reloaded")
}

func sameFanCurve(a, b config.FanCurveConfig) bool {
	return a.Enabled == b.Enabled && a.Interval == b.Interval && slices.Equal(a.Points, b.Points)
}

func restartOnly(prev, next *config.DaemonConfig) []string {
	var out []string
	if prev.Server != next.Server {
		out = append(out, "server")
	}
	if prev.Store != next.Store {
		out = append(out, "store")
	}
	if prev.Backend != next.Backend {
		out = append(out, "backend")
	}
	if prev.Metrics != next.Metrics {
		out = append(out, "metrics")
	}
	return out
}
