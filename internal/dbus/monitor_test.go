package dbus

import (
	"context"
	"testing"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sleepSignal(body ...any) *dbus.Signal {
	return &dbus.Signal{
		Path: Login1Path,
		Name: PrepareForSleepSignal,
		Body: body,
	}
}

func TestParseSleepSignal(t *testing.T) {
	tests := []struct {
		name    string
		sig     *dbus.Signal
		phase   SleepPhase
		ok      bool
		wantErr bool
	}{
		{name: "suspending", sig: sleepSignal(true), phase: PhaseSuspending, ok: true},
		{name: "resumed", sig: sleepSignal(false), phase: PhaseResumed, ok: true},
		{name: "nil", sig: nil},
		{name: "other signal", sig: &dbus.Signal{Name: Login1Interface + ".SessionNew", Body: []any{"1"}}},
		{name: "no body", sig: sleepSignal(), ok: true, wantErr: true},
		{name: "wrong type", sig: sleepSignal("yes"), ok: true, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			phase, ok, err := ParseSleepSignal(tt.sig)
			assert.Equal(t, tt.ok, ok)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			if ok {
				assert.Equal(t, tt.phase, phase)
			}
		})
	}
}

func TestMonitorDispatch(t *testing.T) {
	m := NewMonitor(nil)

	var phases []SleepPhase
	m.SetSleepHandler(func(_ context.Context, p SleepPhase) {
		phases = append(phases, p)
	})

	ctx := context.Background()
	m.Dispatch(ctx, sleepSignal(true))
	m.Dispatch(ctx, &dbus.Signal{Name: "org.example.Other", Body: []any{false}})
	m.Dispatch(ctx, sleepSignal(42))
	m.Dispatch(ctx, sleepSignal(false))

	assert.Equal(t, []SleepPhase{PhaseSuspending, PhaseResumed}, phases)
}

func TestMonitorStopWithoutStart(t *testing.T) {
	m := NewMonitor(nil)
	assert.NoError(t, m.Stop())
}

func TestMonitorStopLeavesSignalChannelOpen(t *testing.T) {
	m := NewMonitor(nil)
	got := make(chan SleepPhase, 1)
	m.SetSleepHandler(func(_ context.Context, p SleepPhase) {
		got <- p
	})

	ch := make(chan *dbus.Signal, 1)
	m.listen(context.Background(), ch)

	ch <- sleepSignal(true)
	select {
	case p := <-got:
		assert.Equal(t, PhaseSuspending, p)
	case <-time.After(time.Second):
		t.Fatal("signal not dispatched")
	}

	stopped := make(chan error, 1)
	go func() { stopped <- m.Stop() }()
	select {
	case err := <-stopped:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Stop did not return")
	}

	// A late delivery from the bus must not hit a closed channel.
	assert.NotPanics(t, func() { ch <- sleepSignal(false) })
	assert.NoError(t, m.Stop())
}

func TestMonitorExitsOnContextCancel(t *testing.T) {
	m := NewMonitor(nil)
	ctx, cancel := context.WithCancel(context.Background())
	m.listen(ctx, make(chan *dbus.Signal))

	m.mu.Lock()
	done := m.done
	m.mu.Unlock()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("monitor goroutine still running after cancel")
	}
	assert.NoError(t, m.Stop())
}

func TestSleepPhaseString(t *testing.T) {
	assert.Equal(t, "suspending", PhaseSuspending.String())
	assert.Equal(t, "resumed", PhaseResumed.String())
	assert.Equal(t, "unknown", SleepPhase(9).String())
}
