package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/jmylchreest/archsense/internal/metrics"
	"github.com/jmylchreest/archsense/internal/model"
)

// Refresher is refreshed on every poll.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// FanController follows a fan curve.
type FanController interface {
	ApplyFanCurve(ctx context.Context, curve model.FanCurve) error
}

// Poller periodically refreshes live readings and drives the fan curve on
// a gocron scheduler.
type Poller struct {
	mu        sync.Mutex
	scheduler gocron.Scheduler
	job       gocron.Job
	target    Refresher
	interval  time.Duration
	ctx       context.Context
	started   bool

	fans          FanController
	curve         model.FanCurve
	curveInterval time.Duration
	curveJob      gocron.Job

	logger   *slog.Logger
	recorder metrics.Recorder
}

// NewPoller creates a poller. An interval of zero disables polling.
func NewPoller(target Refresher, interval time.Duration, logger *slog.Logger) (*Poller, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create gocron scheduler: %w", err)
	}
	return &Poller{
		scheduler: s,
		target:    target,
		interval:  interval,
		ctx:       context.Background(),
		logger:    logger,
		recorder:  metrics.NoopRecorder{},
	}, nil
}

// SetRecorder sets the metrics recorder.
func (p *Poller) SetRecorder(r metrics.Recorder) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if r == nil {
		r = metrics.NoopRecorder{}
	}
	p.recorder = r
}

// Start schedules the poll job and starts the scheduler.
func (p *Poller) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.ctx = ctx
	if err := p.schedule(p.interval); err != nil {
		return err
	}
	if err := p.scheduleCurve(); err != nil {
		return err
	}
	p.scheduler.Start()
	p.started = true
	p.logger.Debug("poller started", "interval", p.interval, "fan_curve_interval", p.curveInterval)
	return nil
}

// SetFanCurve makes the poller apply curve through fans every interval.
// A nil fans or zero interval stops the fan curve. Safe before and after
// Start.
func (p *Poller) SetFanCurve(fans FanController, curve model.FanCurve, interval time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if fans == nil {
		interval = 0
	}
	p.fans, p.curve, p.curveInterval = fans, curve, interval
	if !p.started {
		return nil
	}
	p.logger.Info("fan curve changed", "interval", interval, "points", len(curve))
	return p.scheduleCurve()
}

// scheduleCurve replaces the fan curve job. Caller holds mu.
func (p *Poller) scheduleCurve() error {
	if p.curveJob != nil {
		if err := p.scheduler.RemoveJob(p.curveJob.ID()); err != nil {
			return fmt.Errorf("failed to remove fan curve job: %w", err)
		}
		p.curveJob = nil
	}
	if p.curveInterval <= 0 || p.fans == nil {
		return nil
	}

	job, err := p.scheduler.NewJob(
		gocron.DurationJob(p.curveInterval),
		gocron.NewTask(p.followCurve),
		gocron.WithName("fan-curve"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		return fmt.Errorf("failed to create fan curve job: %w", err)
	}
	p.curveJob = job
	return nil
}

func (p *Poller) followCurve() {
	p.mu.Lock()
	ctx, fans, curve := p.ctx, p.fans, p.curve
	p.mu.Unlock()

	if ctx.Err() != nil || fans == nil {
		return
	}
	if err := fans.ApplyFanCurve(ctx, curve); err != nil {
		p.logger.Debug("fan curve step failed", "error", err)
	}
}

// SetInterval changes the poll interval of a running poller. Zero stops
// polling until a non-zero interval is set again.
func (p *Poller) SetInterval(d time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if d == p.interval {
		return nil
	}
	p.logger.Info("poll interval changed", "from", p.interval, "to", d)
	p.interval = d
	return p.schedule(d)
}

// schedule replaces the poll job. Caller holds mu.
func (p *Poller) schedule(d time.Duration) error {
	if p.job != nil {
		if err := p.scheduler.RemoveJob(p.job.ID()); err != nil {
			return fmt.Errorf("failed to remove poll job: %w", err)
		}
		p.job = nil
	}
	if d <= 0 {
		return nil
	}

	job, err := p.scheduler.NewJob(
		gocron.DurationJob(d),
		gocron.NewTask(p.poll),
		gocron.WithName("telemetry-poll"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		return fmt.Errorf("failed to create poll job: %w", err)
	}
	p.job = job
	return nil
}

func (p *Poller) poll() {
	p.mu.Lock()
	ctx, recorder := p.ctx, p.recorder
	p.mu.Unlock()

	if ctx.Err() != nil {
		return
	}
	start := time.Now()
	err := p.target.Refresh(ctx)
	recorder.ObservePoll(time.Since(start), err == nil)
	if err != nil {
		p.logger.Debug("poll failed", "error", err)
	}
}

// Stop shuts the scheduler down and waits for a running poll to finish.
func (p *Poller) Stop() error {
	return p.scheduler.Shutdown()
}
