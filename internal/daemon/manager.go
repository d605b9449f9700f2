package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jmylchreest/archsense/internal/backend"
	"github.com/jmylchreest/archsense/internal/metrics"
	"github.com/jmylchreest/archsense/internal/model"
	"github.com/jmylchreest/archsense/internal/protocol"
	"github.com/jmylchreest/archsense/internal/store"
)

// Manager owns the authoritative hardware state. Every backend write goes
// through mu, in arrival order. Periodic reads run outside mu and are
// merged under it. Readers load the current snapshot without locking;
// snapshots are replaced whole and never modified after publication.
type Manager struct {
	mu          sync.Mutex
	backend     backend.Backend
	store       store.Persistence
	unsupported map[model.Capability]bool
	// profiles the firmware offers, nil until read
	thermalChoices []model.ThermalProfile
	// duty last written by the fan curve, -1 after any fan mode write
	curvePercent int

	snap atomic.Pointer[model.Snapshot]

	logger   *slog.Logger
	recorder metrics.Recorder
}

// NewManager creates a Manager. Call Reconcile before serving clients.
func NewManager(b backend.Backend, s store.Persistence, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		backend:     b,
		store:       s,
		unsupported:  make(map[model.Capability]bool),
		curvePercent: -1,
		logger:       logger,
		recorder:     metrics.NoopRecorder{},
	}
	m.snap.Store(&model.Snapshot{HardwareState: model.DefaultHardwareState()})
	return m
}

// SetRecorder sets the metrics recorder. Not safe once serving.
func (m *Manager) SetRecorder(r metrics.Recorder) {
	if r == nil {
		r = metrics.NoopRecorder{}
	}
	m.recorder = r
}

// Snapshot returns the current state. The result must not be modified.
func (m *Manager) Snapshot() *model.Snapshot {
	return m.snap.Load()
}

// Reconcile brings hardware and daemon state in line at startup. Persisted
// settings are applied field by field in a fixed order; a field that fails
// keeps its live value. Without persisted settings the live state becomes
// the new baseline. Reconcile never fails because of a single feature.
func (m *Manager) Reconcile(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, c := range m.backend.Probe(ctx).Missing() {
		m.markUnsupported(c)
	}

	live, err := m.backend.ReadState(ctx)
	if err != nil {
		m.logger.Debug("live state partially unreadable", "error", err)
	}
	if live.ThermalChoices != nil {
		m.thermalChoices = live.ThermalChoices
	}
	state := live.Merge(model.DefaultHardwareState())
	if err := state.Validate(); err != nil {
		m.logger.Warn("live state out of domain, using defaults", "error", err)
		state = model.DefaultHardwareState()
	}

	persisted, err := m.store.Load()
	if err != nil {
		m.logger.Warn("ignoring persisted settings", "error", err)
		persisted = nil
	}

	if persisted == nil {
		m.logger.Info("no persisted settings, adopting live state")
		m.publish(state, nil)
		if w := m.persist(state); w != nil {
			m.logger.Warn("failed to persist baseline", "error", w.Message)
		}
		return
	}

	state = m.restore(ctx, state, persisted.HardwareState)
	m.publish(state, nil)
	m.logger.Info("reconciled hardware state",
		"rgb_mode", state.RgbMode,
		"fan_mode", state.FanMode,
		"unsupported", m.unsupportedList())
}

// restore applies want over the live state in reconciliation order and
// returns what was confirmed.
func (m *Manager) restore(ctx context.Context, state, want model.HardwareState) model.HardwareState {
	rgbSteps := []struct {
		field string
		set   func(s model.HardwareState) model.HardwareState
	}{
		{"rgb_mode", func(s model.HardwareState) model.HardwareState { return withRgbMode(s, want.RgbMode) }},
		{"rgb_speed", func(s model.HardwareState) model.HardwareState { s.RgbSpeed = want.RgbSpeed; return s }},
		{"rgb_brightness", func(s model.HardwareState) model.HardwareState { s.RgbBrightness = want.RgbBrightness; return s }},
		{"rgb_color", func(s model.HardwareState) model.HardwareState { s.RgbColor = want.RgbColor; return s }},
	}
	for _, step := range rgbSteps {
		next := step.set(state)
		if next.RgbMode == model.RgbStatic && next.RgbColor == model.ColorRandom {
			m.logger.Debug("skipping restore of random colour in static mode", "field", step.field)
			continue
		}
		if m.tryApply(ctx, model.CapRGB, step.field, func(ctx context.Context) error {
			return m.backend.SetRGB(ctx, backend.RGBOf(next))
		}) {
			state = next
		}
	}

	if m.tryApply(ctx, model.CapFan, "fan_mode", func(ctx context.Context) error {
		return m.setFan(ctx, want.FanMode)
	}) {
		state.FanMode = want.FanMode
	}

	for _, f := range model.Features {
		v := want.Toggle(f)
		if m.tryApply(ctx, model.CapabilityOf(f), string(f), func(ctx context.Context) error {
			return m.backend.SetToggle(ctx, f, v)
		}) {
			state = state.WithToggle(f, v)
		}
	}

	if m.tryApply(ctx, model.CapUsbCharging, "usb_threshold", func(ctx context.Context) error {
		return m.backend.SetUsbThreshold(ctx, want.UsbThreshold)
	}) {
		state.UsbThreshold = want.UsbThreshold
	}

	if !m.offersThermal(want.ThermalProfile) {
		m.logger.Warn("firmware does not offer thermal profile, keeping live profile",
			"profile", want.ThermalProfile, "choices", m.thermalChoices)
	} else if m.tryApply(ctx, model.CapThermal, "thermal_profile", func(ctx context.Context) error {
		return m.backend.SetThermalProfile(ctx, want.ThermalProfile)
	}) {
		state.ThermalProfile = want.ThermalProfile
	}

	return state
}

func (m *Manager) offersThermal(p model.ThermalProfile) bool {
	return len(m.thermalChoices) == 0 || slices.Contains(m.thermalChoices, p)
}

// setFan writes a fan profile. The fan curve starts over from it.
func (m *Manager) setFan(ctx context.Context, mode model.FanMode) error {
	if err := m.backend.SetFan(ctx, mode); err != nil {
		return err
	}
	m.curvePercent = -1
	return nil
}

// tryApply runs one backend write during reconcile or reapply. Failures are
// logged and reported as false.
func (m *Manager) tryApply(ctx context.Context, c model.Capability, field string, write func(context.Context) error) bool {
	if m.unsupported[c] {
		return false
	}
	if err := write(ctx); err != nil {
		kind := backend.KindOf(err)
		m.recorder.IncBackendError(string(c), kind.String())
		if kind == backend.Unsupported {
			m.markUnsupported(c)
		}
		m.logger.Warn("failed to apply setting", "field", field, "kind", kind, "error", err)
		return false
	}
	return true
}

// Handle executes one command and returns its response.
func (m *Manager) Handle(ctx context.Context, cmd protocol.Command) *protocol.Response {
	start := time.Now()
	resp := m.handle(ctx, cmd)

	result := metrics.ResultOK
	if resp.Err != nil {
		result = string(resp.Err.Kind)
	}
	m.recorder.ObserveCommand(string(cmd.Tag()), result, time.Since(start))
	return resp
}

func (m *Manager) handle(ctx context.Context, cmd protocol.Command) *protocol.Response {
	if err := cmd.Validate(); err != nil {
		return protocol.Fail(model.KindInvalidArgument, err.Error())
	}
	if _, ok := cmd.(protocol.GetState); ok {
		return protocol.OK(m.Snapshot())
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	cur := m.snap.Load()
	mut, err := m.plan(cur.HardwareState, cmd)
	if err != nil {
		return protocol.FailWith(err)
	}
	if err := mut.next.Validate(); err != nil {
		return protocol.Fail(model.KindInvalidArgument, err.Error())
	}
	if m.unsupported[mut.capability] {
		return protocol.Fail(model.KindUnsupported, fmt.Sprintf("%s is not supported on this machine", mut.capability))
	}

	if err := mut.write(ctx); err != nil {
		kind := backend.KindOf(err)
		m.recorder.IncBackendError(string(mut.capability), kind.String())
		if kind == backend.Unsupported {
			m.markUnsupported(mut.capability)
			m.publish(cur.HardwareState, cur)
		}
		m.logger.Warn("command failed", "command", cmd.Tag(), "kind", kind, "error", err)
		return protocol.Fail(kind.ErrorKind(), fmt.Sprintf("%s: %v", cmd.Tag(), err))
	}

	snap := m.publish(mut.next, nil)
	m.logger.Debug("command applied", "command", cmd.Tag(), "revision", snap.Revision)

	if w := m.persist(mut.next); w != nil {
		return protocol.OK(snap, *w)
	}
	return protocol.OK(snap)
}

// mutation is a planned state change and the single backend write that
// realizes it.
type mutation struct {
	next       model.HardwareState
	capability model.Capability
	write      func(ctx context.Context) error
}

func (m *Manager) plan(cur model.HardwareState, cmd protocol.Command) (mutation, error) {
	next := cur
	setRGB := func(next model.HardwareState) mutation {
		return mutation{next: next, capability: model.CapRGB, write: func(ctx context.Context) error {
			return m.backend.SetRGB(ctx, backend.RGBOf(next))
		}}
	}

	switch c := cmd.(type) {
	case protocol.SetRgbMode:
		return setRGB(withRgbMode(cur, c.Mode)), nil

	case protocol.SetRgbSpeed:
		next.RgbSpeed = c.Speed
		return setRGB(next), nil

	case protocol.SetRgbBrightness:
		next.RgbBrightness = c.Brightness
		return setRGB(next), nil

	case protocol.SetRgbColor:
		if !cur.RgbMode.UsesColor() {
			return mutation{}, model.NewCommandError(model.KindInvalidArgument,
				"rgb mode %s does not use a colour", cur.RgbMode)
		}
		if cur.RgbMode == model.RgbStatic && c.Color == model.ColorRandom {
			return mutation{}, model.NewCommandError(model.KindInvalidArgument,
				"random colour is not available in static mode")
		}
		next.RgbColor = c.Color
		return setRGB(next), nil

	case protocol.SetFanMode:
		next.FanMode = c.Mode
		return mutation{next: next, capability: model.CapFan, write: func(ctx context.Context) error {
			return m.setFan(ctx, c.Mode)
		}}, nil

	case protocol.ToggleFeature:
		v := !cur.Toggle(c.Feature)
		if c.Value != nil {
			v = *c.Value
		}
		next = next.WithToggle(c.Feature, v)
		return mutation{next: next, capability: model.CapabilityOf(c.Feature), write: func(ctx context.Context) error {
			return m.backend.SetToggle(ctx, c.Feature, v)
		}}, nil

	case protocol.CycleUsbThreshold:
		next.UsbThreshold = cur.UsbThreshold.Next()
		return mutation{next: next, capability: model.CapUsbCharging, write: func(ctx context.Context) error {
			return m.backend.SetUsbThreshold(ctx, next.UsbThreshold)
		}}, nil

	case protocol.SetThermalProfile:
		if !m.offersThermal(c.Profile) {
			return mutation{}, model.NewCommandError(model.KindInvalidArgument,
				"thermal profile %s is not offered by the firmware (choices: %v)", c.Profile, m.thermalChoices)
		}
		next.ThermalProfile = c.Profile
		return mutation{next: next, capability: model.CapThermal, write: func(ctx context.Context) error {
			return m.backend.SetThermalProfile(ctx, c.Profile)
		}}, nil
	}

	return mutation{}, model.NewCommandError(model.KindUnsupported, "unhandled command %s", cmd.Tag())
}

// withRgbMode switches mode. Static cannot show the random colour, so
// entering static from random falls back to the default colour.
func withRgbMode(s model.HardwareState, mode model.RgbMode) model.HardwareState {
	s.RgbMode = mode
	if mode == model.RgbStatic && s.RgbColor == model.ColorRandom {
		s.RgbColor = model.DefaultHardwareState().RgbColor
	}
	return s
}

// Refresh re-reads live state and telemetry into a new snapshot. The
// reads run without holding mu so a hung attribute never delays commands.
// A live read that a command overtook is dropped; the telemetry is kept.
// The persisted settings are left alone.
func (m *Manager) Refresh(ctx context.Context) error {
	base := m.snap.Load().Revision

	live, liveErr := m.backend.ReadState(ctx)
	tel, telErr := m.backend.ReadTelemetry(ctx)
	if telErr != nil {
		m.logger.Debug("telemetry partially unreadable", "error", telErr)
	}
	if tel.CPUTempC > 0 {
		m.recorder.SetCPUTemp(tel.CPUTempC)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	cur := m.snap.Load()
	state := cur.HardwareState
	if cur.Revision != base {
		m.logger.Debug("discarding live read overtaken by a command",
			"read_at", base, "revision", cur.Revision)
	} else {
		state = live.Merge(cur.HardwareState)
		if err := state.Validate(); err != nil {
			m.logger.Debug("discarding out-of-domain live read", "error", err)
			state = cur.HardwareState
		}
		if live.ThermalChoices != nil {
			m.thermalChoices = live.ThermalChoices
		}
	}

	next := &model.Snapshot{
		HardwareState:  state,
		Unsupported:    m.unsupportedList(),
		ThermalChoices: m.thermalChoices,
		Telemetry:      tel,
		Revision:       cur.Revision,
	}
	if state != cur.HardwareState {
		next.Revision++
		m.logger.Debug("hardware changed outside the daemon", "revision", next.Revision)
	}
	m.snap.Store(next)

	if liveErr != nil && live.Empty() {
		return fmt.Errorf("failed to read hardware state: %w", liveErr)
	}
	return nil
}

// ApplyFanCurve sets both fans to the curve's duty for the current CPU
// temperature. It does nothing unless the fan mode is auto, and writes
// only when the duty changes.
func (m *Manager) ApplyFanCurve(ctx context.Context, curve model.FanCurve) error {
	if snap := m.snap.Load(); snap.FanMode != model.FanAuto || !snap.Supports(model.CapFan) {
		return nil
	}

	temp, err := m.backend.ReadCPUTemp(ctx)
	if err != nil {
		return fmt.Errorf("failed to read cpu temperature: %w", err)
	}
	if temp <= 0 {
		return nil
	}
	pct := curve.Percent(temp)

	m.mu.Lock()
	defer m.mu.Unlock()

	cur := m.snap.Load()
	if cur.FanMode != model.FanAuto || m.unsupported[model.CapFan] || pct == m.curvePercent {
		return nil
	}
	if err := m.backend.SetFanSpeed(ctx, pct, pct); err != nil {
		kind := backend.KindOf(err)
		m.recorder.IncBackendError(string(model.CapFan), kind.String())
		if kind == backend.Unsupported {
			m.markUnsupported(model.CapFan)
			m.publish(cur.HardwareState, cur)
		}
		return fmt.Errorf("failed to apply fan curve: %w", err)
	}
	m.curvePercent = pct
	m.logger.Debug("fan curve applied", "cpu_temp_c", temp, "percent", pct)
	return nil
}

// Reapply writes the current snapshot back to the hardware, for example
// after firmware reset it during suspend.
func (m *Manager) Reapply(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur := m.snap.Load()
	state := m.restore(ctx, cur.HardwareState, cur.HardwareState)
	if state != cur.HardwareState {
		m.logger.Warn("some settings could not be re-applied", "unsupported", m.unsupportedList())
		m.publish(state, nil)
		return
	}
	m.publish(state, cur)
	m.logger.Info("re-applied hardware settings")
}

// publish stores a new snapshot built from state. When same is non-nil the
// revision and telemetry are carried over unchanged.
func (m *Manager) publish(state model.HardwareState, same *model.Snapshot) *model.Snapshot {
	cur := m.snap.Load()
	next := &model.Snapshot{
		HardwareState:  state,
		Unsupported:    m.unsupportedList(),
		ThermalChoices: m.thermalChoices,
		Telemetry:      cur.Telemetry,
		Revision:       cur.Revision + 1,
	}
	if same != nil {
		next.Revision = same.Revision
	}
	m.snap.Store(next)
	return next
}

func (m *Manager) persist(state model.HardwareState) *protocol.Warning {
	if err := m.store.Save(store.PersistedConfig{HardwareState: state}); err != nil {
		m.recorder.IncPersistenceFailure()
		m.logger.Warn("failed to persist settings", "error", err)
		return &protocol.Warning{
			Kind:    model.KindPersistenceFailure,
			Message: fmt.Sprintf("settings applied but not saved: %v", err),
		}
	}
	return nil
}

func (m *Manager) markUnsupported(c model.Capability) {
	if m.unsupported[c] {
		return
	}
	m.unsupported[c] = true
	m.recorder.SetUnsupported(string(c))
	m.logger.Info("capability unsupported for this session", "capability", c)
}

func (m *Manager) unsupportedList() []model.Capability {
	var out []model.Capability
	for _, c := range model.AllCapabilities() {
		if m.unsupported[c] {
			out = append(out, c)
		}
	}
	return out
}
