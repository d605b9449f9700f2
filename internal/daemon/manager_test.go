package daemon

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/archsense/internal/backend"
	"github.com/jmylchreest/archsense/internal/model"
	"github.com/jmylchreest/archsense/internal/protocol"
	"github.com/jmylchreest/archsense/internal/store"
)

// memStore is an in-memory store.Persistence.
type memStore struct {
	mu      sync.Mutex
	cfg     *store.PersistedConfig
	saves   int
	saveErr error
	loadErr error
}

func (s *memStore) Load() (*store.PersistedConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	if s.cfg == nil {
		return nil, nil
	}
	c := *s.cfg
	return &c, nil
}

func (s *memStore) Save(cfg store.PersistedConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.saves++
	s.cfg = &cfg
	return nil
}

func (s *memStore) saved() (store.PersistedConfig, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cfg == nil {
		return store.PersistedConfig{}, s.saves
	}
	return *s.cfg, s.saves
}

func persisted(s model.HardwareState) *memStore {
	return &memStore{cfg: &store.PersistedConfig{HardwareState: s, SchemaVersion: store.CurrentSchemaVersion}}
}

func newTestManager(t *testing.T, hw model.HardwareState, st *memStore) (*Manager, *backend.Fake) {
	t.Helper()
	fake := backend.NewFake(hw)
	m := NewManager(fake, st, nil)
	m.Reconcile(context.Background())
	return m, fake
}

func requireOK(t *testing.T, resp *protocol.Response) *model.Snapshot {
	t.Helper()
	require.NotNil(t, resp)
	require.Nil(t, resp.Err, "unexpected error response: %v", resp.Err)
	require.NotNil(t, resp.State)
	return resp.State
}

func requireKind(t *testing.T, resp *protocol.Response, kind model.ErrorKind) {
	t.Helper()
	require.NotNil(t, resp)
	require.NotNil(t, resp.Err, "expected %s error", kind)
	assert.Equal(t, kind, resp.Err.Kind)
	assert.Nil(t, resp.State)
}

func TestManager_ReconcileAdoptsLiveStateWithoutPersisted(t *testing.T) {
	hw := model.DefaultHardwareState()
	hw.FanMode = model.FanTurbo
	hw.RgbSpeed = 3
	st := &memStore{}

	m, fake := newTestManager(t, hw, st)

	snap := m.Snapshot()
	assert.Equal(t, hw, snap.HardwareState)
	assert.Empty(t, snap.Unsupported)
	assert.Empty(t, fake.Writes(), "adopting live state must not write hardware")

	saved, n := st.saved()
	assert.Equal(t, 1, n)
	assert.Equal(t, hw, saved.HardwareState)
}

func TestManager_ReconcileRestoresPersisted(t *testing.T) {
	want := model.DefaultHardwareState()
	want.RgbMode = model.RgbBreathing
	want.RgbSpeed = 7
	want.RgbColor = model.ColorPurple
	want.FanMode = model.FanBalanced
	want.BatteryLimiter = true
	want.UsbThreshold = 20
	st := persisted(want)

	m, fake := newTestManager(t, model.DefaultHardwareState(), st)

	assert.Equal(t, want, m.Snapshot().HardwareState)
	assert.Equal(t, want, fake.Hardware())

	_, saves := st.saved()
	assert.Zero(t, saves, "restoring persisted settings must not re-save them")
}

func TestManager_ReconcileIgnoresUnreadableStore(t *testing.T) {
	hw := model.DefaultHardwareState()
	hw.RgbBrightness = 40
	st := &memStore{loadErr: store.ErrCorrupt}

	m, _ := newTestManager(t, hw, st)
	assert.Equal(t, 40, m.Snapshot().RgbBrightness)
}

func TestManager_ReconcileUnsupportedFanKeepsLiveValue(t *testing.T) {
	hw := model.DefaultHardwareState()
	hw.FanMode = model.FanTurbo

	fake := backend.NewFake(hw)
	fake.Fail(model.CapFan, backend.Unsupported)

	want := model.DefaultHardwareState()
	want.FanMode = model.FanAuto
	want.RgbSpeed = 9

	m := NewManager(fake, persisted(want), nil)
	m.Reconcile(context.Background())

	snap := m.Snapshot()
	assert.Equal(t, model.FanTurbo, snap.FanMode)
	assert.Equal(t, 9, snap.RgbSpeed, "other features are still restored")
	assert.Contains(t, snap.Unsupported, model.CapFan)
	assert.False(t, snap.Supports(model.CapFan))
}

func TestManager_ProbeMissingCapability(t *testing.T) {
	fake := backend.NewFake(model.DefaultHardwareState())
	fake.SetUnsupported(model.CapUsbCharging)

	m := NewManager(fake, &memStore{}, nil)
	m.Reconcile(context.Background())

	assert.Equal(t, []model.Capability{model.CapUsbCharging}, m.Snapshot().Unsupported)

	requireKind(t, m.Handle(context.Background(), protocol.CycleUsbThreshold{}), model.KindUnsupported)
	assert.NotContains(t, fake.Writes(), model.CapUsbCharging)
}

func TestManager_SetRgbSpeed(t *testing.T) {
	st := &memStore{}
	m, fake := newTestManager(t, model.DefaultHardwareState(), st)
	before := m.Snapshot()

	snap := requireOK(t, m.Handle(context.Background(), protocol.SetRgbSpeed{Speed: 8}))

	assert.Equal(t, 8, snap.RgbSpeed)
	assert.Equal(t, before.Revision+1, snap.Revision)
	assert.Equal(t, 8, fake.Hardware().RgbSpeed)
	assert.Same(t, snap, m.Snapshot())

	saved, _ := st.saved()
	assert.Equal(t, 8, saved.RgbSpeed)
}

func TestManager_OutOfRangeRejectedWithoutSideEffects(t *testing.T) {
	st := &memStore{}
	m, fake := newTestManager(t, model.DefaultHardwareState(), st)
	before := m.Snapshot()
	_, savesBefore := st.saved()

	for range 2 {
		resp := m.Handle(context.Background(), protocol.SetRgbSpeed{Speed: 11})
		requireKind(t, resp, model.KindInvalidArgument)

		resp = m.Handle(context.Background(), protocol.SetRgbBrightness{Brightness: -1})
		requireKind(t, resp, model.KindInvalidArgument)
	}

	assert.Same(t, before, m.Snapshot())
	assert.Empty(t, fake.Writes())
	_, saves := st.saved()
	assert.Equal(t, savesBefore, saves)
}

func TestManager_GetStateIsStable(t *testing.T) {
	m, _ := newTestManager(t, model.DefaultHardwareState(), &memStore{})

	a := requireOK(t, m.Handle(context.Background(), protocol.GetState{}))
	b := requireOK(t, m.Handle(context.Background(), protocol.GetState{}))
	assert.Equal(t, a.Revision, b.Revision)
	assert.Equal(t, a.HardwareState, b.HardwareState)
}

func TestManager_UnavailableLeavesStateUnchanged(t *testing.T) {
	st := &memStore{}
	m, fake := newTestManager(t, model.DefaultHardwareState(), st)
	fake.Fail(model.CapFan, backend.Unavailable)
	before := m.Snapshot()

	resp := m.Handle(context.Background(), protocol.SetFanMode{Mode: model.FanTurbo})
	requireKind(t, resp, model.KindUnavailable)
	assert.True(t, resp.Err.Kind.Retryable())

	snap := m.Snapshot()
	assert.Equal(t, model.FanAuto, snap.FanMode)
	assert.Equal(t, before.Revision, snap.Revision)
	assert.NotContains(t, snap.Unsupported, model.CapFan, "unavailable is transient")

	fake.Recover(model.CapFan)
	snap = requireOK(t, m.Handle(context.Background(), protocol.SetFanMode{Mode: model.FanTurbo}))
	assert.Equal(t, model.FanTurbo, snap.FanMode)
}

func TestManager_UnsupportedWriteIsRemembered(t *testing.T) {
	m, fake := newTestManager(t, model.DefaultHardwareState(), &memStore{})
	fake.Fail(model.CapabilityOf(model.FeatureLcdOverdrive), backend.Unsupported)

	cmd := protocol.ToggleFeature{Feature: model.FeatureLcdOverdrive}
	requireKind(t, m.Handle(context.Background(), cmd), model.KindUnsupported)
	assert.Contains(t, m.Snapshot().Unsupported, model.CapabilityOf(model.FeatureLcdOverdrive))

	// Recovering the fake does not bring the capability back this session.
	fake.Recover(model.CapabilityOf(model.FeatureLcdOverdrive))
	requireKind(t, m.Handle(context.Background(), cmd), model.KindUnsupported)
	assert.False(t, fake.Hardware().LcdOverdrive)
}

func TestManager_PersistenceFailureIsWarning(t *testing.T) {
	st := &memStore{}
	m, fake := newTestManager(t, model.DefaultHardwareState(), st)
	st.saveErr = errors.New("disk full")

	resp := m.Handle(context.Background(), protocol.SetRgbBrightness{Brightness: 30})
	snap := requireOK(t, resp)
	assert.Equal(t, 30, snap.RgbBrightness)
	assert.Equal(t, 30, fake.Hardware().RgbBrightness)

	require.Len(t, resp.Warnings, 1)
	assert.Equal(t, model.KindPersistenceFailure, resp.Warnings[0].Kind)
	assert.Contains(t, resp.Warnings[0].Message, "disk full")
}

func TestManager_ConcurrentBrightness(t *testing.T) {
	m, fake := newTestManager(t, model.DefaultHardwareState(), &memStore{})
	start := m.Snapshot().Revision

	const n = 40
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func(v int) {
			defer wg.Done()
			resp := m.Handle(context.Background(), protocol.SetRgbBrightness{Brightness: v})
			assert.Nil(t, resp.Err)
		}(i)
	}
	wg.Wait()

	snap := m.Snapshot()
	assert.Equal(t, start+n, snap.Revision)
	assert.Equal(t, fake.Hardware().RgbBrightness, snap.RgbBrightness, "snapshot matches the last write")
}

func TestManager_RgbColor(t *testing.T) {
	ctx := context.Background()

	t.Run("rejected when mode has no colour", func(t *testing.T) {
		hw := model.DefaultHardwareState()
		hw.RgbMode = model.RgbWave
		m, _ := newTestManager(t, hw, &memStore{})

		requireKind(t, m.Handle(ctx, protocol.SetRgbColor{Color: model.ColorRed}), model.KindInvalidArgument)
	})

	t.Run("random rejected in static", func(t *testing.T) {
		m, _ := newTestManager(t, model.DefaultHardwareState(), &memStore{})
		requireKind(t, m.Handle(ctx, protocol.SetRgbColor{Color: model.ColorRandom}), model.KindInvalidArgument)
	})

	t.Run("static from random falls back to default colour", func(t *testing.T) {
		hw := model.DefaultHardwareState()
		hw.RgbMode = model.RgbBreathing
		hw.RgbColor = model.ColorRandom
		m, fake := newTestManager(t, hw, &memStore{})

		snap := requireOK(t, m.Handle(ctx, protocol.SetRgbMode{Mode: model.RgbStatic}))
		assert.Equal(t, model.RgbStatic, snap.RgbMode)
		assert.Equal(t, model.ColorCyan, snap.RgbColor)
		assert.Equal(t, model.ColorCyan, fake.Hardware().RgbColor)
	})

	t.Run("applied", func(t *testing.T) {
		m, fake := newTestManager(t, model.DefaultHardwareState(), &memStore{})
		snap := requireOK(t, m.Handle(ctx, protocol.SetRgbColor{Color: model.ColorGold}))
		assert.Equal(t, model.ColorGold, snap.RgbColor)
		assert.Equal(t, model.ColorGold, fake.Hardware().RgbColor)
	})
}

func TestManager_ToggleFeature(t *testing.T) {
	ctx := context.Background()
	m, fake := newTestManager(t, model.DefaultHardwareState(), &memStore{})

	snap := requireOK(t, m.Handle(ctx, protocol.ToggleFeature{Feature: model.FeatureBootAnimation}))
	assert.True(t, snap.BootAnimation)

	snap = requireOK(t, m.Handle(ctx, protocol.ToggleFeature{Feature: model.FeatureBootAnimation}))
	assert.False(t, snap.BootAnimation)

	snap = requireOK(t, m.Handle(ctx, protocol.ToggleFeature{Feature: model.FeatureBatteryLimiter, Value: protocol.Bool(true)}))
	assert.True(t, snap.BatteryLimiter)
	snap = requireOK(t, m.Handle(ctx, protocol.ToggleFeature{Feature: model.FeatureBatteryLimiter, Value: protocol.Bool(true)}))
	assert.True(t, snap.BatteryLimiter, "explicit value is idempotent")
	assert.True(t, fake.Hardware().BatteryLimiter)
}

func TestManager_CycleUsbThreshold(t *testing.T) {
	m, fake := newTestManager(t, model.DefaultHardwareState(), &memStore{})

	var seen []model.UsbThreshold
	for range 5 {
		snap := requireOK(t, m.Handle(context.Background(), protocol.CycleUsbThreshold{}))
		seen = append(seen, snap.UsbThreshold)
	}
	assert.Equal(t, []model.UsbThreshold{10, 20, 30, 0, 10}, seen)
	assert.Equal(t, model.UsbThreshold(10), fake.Hardware().UsbThreshold)
}

func TestManager_RefreshPicksUpExternalChanges(t *testing.T) {
	st := &memStore{}
	m, fake := newTestManager(t, model.DefaultHardwareState(), st)
	_, savesBefore := st.saved()
	rev := m.Snapshot().Revision

	fake.SetTelemetry(model.Telemetry{CPUTempC: 61.5})
	require.NoError(t, m.Refresh(context.Background()))
	snap := m.Snapshot()
	assert.Equal(t, rev, snap.Revision, "telemetry alone does not bump the revision")
	assert.InDelta(t, 61.5, snap.Telemetry.CPUTempC, 0.001)

	require.NoError(t, fake.SetFan(context.Background(), model.FanTurbo))
	require.NoError(t, m.Refresh(context.Background()))
	snap = m.Snapshot()
	assert.Equal(t, model.FanTurbo, snap.FanMode)
	assert.Equal(t, rev+1, snap.Revision)

	_, saves := st.saved()
	assert.Equal(t, savesBefore, saves, "refresh does not persist")
}

func TestManager_Reapply(t *testing.T) {
	m, fake := newTestManager(t, model.DefaultHardwareState(), &memStore{})
	requireOK(t, m.Handle(context.Background(), protocol.SetRgbMode{Mode: model.RgbZoom}))
	requireOK(t, m.Handle(context.Background(), protocol.SetFanMode{Mode: model.FanBalanced}))
	want := m.Snapshot()

	// Firmware resets the keyboard and fan across suspend.
	require.NoError(t, fake.SetRGB(context.Background(), backend.RGBOf(model.DefaultHardwareState())))
	require.NoError(t, fake.SetFan(context.Background(), model.FanAuto))

	m.Reapply(context.Background())

	assert.Equal(t, want.HardwareState, fake.Hardware())
	assert.Equal(t, want.HardwareState, m.Snapshot().HardwareState)
	assert.Equal(t, want.Revision, m.Snapshot().Revision)
}

func TestManager_RefreshDoesNotBlockCommands(t *testing.T) {
	m, fake := newTestManager(t, model.DefaultHardwareState(), &memStore{})
	rev := m.Snapshot().Revision
	fake.SetReadDelay(400 * time.Millisecond)

	done := make(chan error, 1)
	go func() { done <- m.Refresh(context.Background()) }()
	time.Sleep(50 * time.Millisecond)

	start := time.Now()
	snap := requireOK(t, m.Handle(context.Background(), protocol.SetRgbSpeed{Speed: 8}))
	assert.Less(t, time.Since(start), 200*time.Millisecond, "command waited for a slow read")
	assert.Equal(t, 8, snap.RgbSpeed)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("refresh did not finish")
	}
	assert.Equal(t, 8, m.Snapshot().RgbSpeed)
	assert.Equal(t, rev+1, m.Snapshot().Revision)
}

func TestManager_RefreshDropsReadOvertakenByCommand(t *testing.T) {
	ctx := context.Background()
	m, fake := newTestManager(t, model.DefaultHardwareState(), &memStore{})
	fake.SetReadDelay(200 * time.Millisecond)
	fake.SetTelemetry(model.Telemetry{CPUTempC: 66})

	done := make(chan error, 1)
	go func() { done <- m.Refresh(ctx) }()
	time.Sleep(50 * time.Millisecond)

	// An external fan change lands together with a command.
	require.NoError(t, fake.SetFan(ctx, model.FanTurbo))
	requireOK(t, m.Handle(ctx, protocol.SetRgbBrightness{Brightness: 20}))
	rev := m.Snapshot().Revision

	require.NoError(t, <-done)
	snap := m.Snapshot()
	assert.Equal(t, model.FanAuto, snap.FanMode, "overtaken read must not be merged")
	assert.Equal(t, 20, snap.RgbBrightness)
	assert.Equal(t, rev, snap.Revision)
	assert.InDelta(t, 66, snap.Telemetry.CPUTempC, 0.001, "telemetry is still taken")

	fake.SetReadDelay(0)
	require.NoError(t, m.Refresh(ctx))
	assert.Equal(t, model.FanTurbo, m.Snapshot().FanMode)
	assert.Equal(t, rev+1, m.Snapshot().Revision)
}

func TestManager_SetThermalProfile(t *testing.T) {
	ctx := context.Background()
	st := &memStore{}
	m, fake := newTestManager(t, model.DefaultHardwareState(), st)
	assert.Equal(t, []model.ThermalProfile{model.ThermalLowPower, model.ThermalBalanced, model.ThermalPerformance},
		m.Snapshot().ThermalChoices)

	snap := requireOK(t, m.Handle(ctx, protocol.SetThermalProfile{Profile: model.ThermalPerformance}))
	assert.Equal(t, model.ThermalPerformance, snap.ThermalProfile)
	assert.Equal(t, model.ThermalPerformance, fake.Hardware().ThermalProfile)
	saved, _ := st.saved()
	assert.Equal(t, model.ThermalPerformance, saved.ThermalProfile)

	writes := len(fake.Writes())
	resp := m.Handle(ctx, protocol.SetThermalProfile{Profile: model.ThermalQuiet})
	requireKind(t, resp, model.KindInvalidArgument)
	assert.Contains(t, resp.Err.Message, "not offered")
	assert.Len(t, fake.Writes(), writes)
	assert.Equal(t, model.ThermalPerformance, m.Snapshot().ThermalProfile)
}

func TestManager_ThermalProfileUnsupported(t *testing.T) {
	fake := backend.NewFake(model.DefaultHardwareState())
	fake.SetUnsupported(model.CapThermal)
	m := NewManager(fake, &memStore{}, nil)
	m.Reconcile(context.Background())

	assert.Equal(t, []model.Capability{model.CapThermal}, m.Snapshot().Unsupported)
	assert.Empty(t, m.Snapshot().ThermalChoices)
	requireKind(t, m.Handle(context.Background(), protocol.SetThermalProfile{Profile: model.ThermalQuiet}), model.KindUnsupported)
}

func TestManager_ReconcileSkipsThermalProfileNotOffered(t *testing.T) {
	want := model.DefaultHardwareState()
	want.ThermalProfile = model.ThermalQuiet
	want.RgbSpeed = 2

	fake := backend.NewFake(model.DefaultHardwareState())
	m := NewManager(fake, persisted(want), nil)
	m.Reconcile(context.Background())

	snap := m.Snapshot()
	assert.Equal(t, model.ThermalBalanced, snap.ThermalProfile)
	assert.Equal(t, 2, snap.RgbSpeed)
	assert.NotContains(t, fake.Writes(), model.CapThermal)

	fake.SetThermalChoices(model.ThermalQuiet, model.ThermalBalanced)
	m2 := NewManager(fake, persisted(want), nil)
	m2.Reconcile(context.Background())
	assert.Equal(t, model.ThermalQuiet, m2.Snapshot().ThermalProfile)
	assert.Equal(t, model.ThermalQuiet, fake.Hardware().ThermalProfile)
}

func TestManager_ApplyFanCurve(t *testing.T) {
	ctx := context.Background()
	curve := model.DefaultFanCurve()
	m, fake := newTestManager(t, model.DefaultHardwareState(), &memStore{})
	rev := m.Snapshot().Revision

	fake.SetTelemetry(model.Telemetry{CPUTempC: 62.5})
	require.NoError(t, m.ApplyFanCurve(ctx, curve))
	cpu, gpu, ok := fake.FanSpeed()
	require.True(t, ok)
	assert.Equal(t, 52, cpu)
	assert.Equal(t, 52, gpu)

	writes := len(fake.Writes())
	require.NoError(t, m.ApplyFanCurve(ctx, curve))
	assert.Len(t, fake.Writes(), writes, "same duty is not rewritten")

	fake.SetTelemetry(model.Telemetry{CPUTempC: 90})
	require.NoError(t, m.ApplyFanCurve(ctx, curve))
	cpu, _, _ = fake.FanSpeed()
	assert.Equal(t, 100, cpu)

	require.NoError(t, m.Refresh(ctx))
	snap := m.Snapshot()
	assert.Equal(t, model.FanAuto, snap.FanMode, "curve duty still reads as auto")
	assert.Equal(t, 100, snap.Telemetry.CPUFanPercent)
	assert.Equal(t, rev, snap.Revision, "curve steps are not state changes")
}

func TestManager_ApplyFanCurveOnlyInAuto(t *testing.T) {
	ctx := context.Background()
	curve := model.DefaultFanCurve()
	m, fake := newTestManager(t, model.DefaultHardwareState(), &memStore{})
	fake.SetTelemetry(model.Telemetry{CPUTempC: 70})

	require.NoError(t, m.ApplyFanCurve(ctx, curve))
	requireOK(t, m.Handle(ctx, protocol.SetFanMode{Mode: model.FanTurbo}))
	_, _, ok := fake.FanSpeed()
	assert.False(t, ok, "switching profile replaces the curve duty")

	writes := len(fake.Writes())
	require.NoError(t, m.ApplyFanCurve(ctx, curve))
	assert.Len(t, fake.Writes(), writes)

	// Back to auto: the curve starts over even at the same temperature.
	requireOK(t, m.Handle(ctx, protocol.SetFanMode{Mode: model.FanAuto}))
	require.NoError(t, m.ApplyFanCurve(ctx, curve))
	cpu, _, ok := fake.FanSpeed()
	require.True(t, ok)
	assert.Equal(t, 65, cpu)
}

func TestManager_ApplyFanCurveUnsupportedFan(t *testing.T) {
	ctx := context.Background()
	m, fake := newTestManager(t, model.DefaultHardwareState(), &memStore{})
	fake.Fail(model.CapFan, backend.Unsupported)

	err := m.ApplyFanCurve(ctx, model.DefaultFanCurve())
	assert.ErrorIs(t, err, backend.ErrUnsupported)
	assert.Contains(t, m.Snapshot().Unsupported, model.CapFan)

	require.NoError(t, m.ApplyFanCurve(ctx, model.DefaultFanCurve()))
}
