package daemon

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/archsense/internal/model"
)

type countingRefresher struct {
	calls atomic.Int32
	err   error
}

func (c *countingRefresher) Refresh(context.Context) error {
	c.calls.Add(1)
	return c.err
}

func TestPoller_PollsImmediatelyAndRepeatedly(t *testing.T) {
	r := &countingRefresher{}
	p, err := NewPoller(r, 20*time.Millisecond, nil)
	require.NoError(t, err)

	require.NoError(t, p.Start(context.Background()))
	defer p.Stop()

	assert.Eventually(t, func() bool { return r.calls.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
}

func TestPoller_ZeroIntervalDisables(t *testing.T) {
	r := &countingRefresher{}
	p, err := NewPoller(r, 0, nil)
	require.NoError(t, err)

	require.NoError(t, p.Start(context.Background()))
	defer p.Stop()

	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, r.calls.Load())

	require.NoError(t, p.SetInterval(10*time.Millisecond))
	assert.Eventually(t, func() bool { return r.calls.Load() >= 1 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, p.SetInterval(0))
	time.Sleep(30 * time.Millisecond)
	n := r.calls.Load()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, n, r.calls.Load())
}

func TestPoller_FailuresDoNotStopPolling(t *testing.T) {
	r := &countingRefresher{err: errors.New("sensor gone")}
	p, err := NewPoller(r, 10*time.Millisecond, nil)
	require.NoError(t, err)

	require.NoError(t, p.Start(context.Background()))
	defer p.Stop()

	assert.Eventually(t, func() bool { return r.calls.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)
}

func TestPoller_RefreshesManagerTelemetry(t *testing.T) {
	m, fake := newTestManager(t, model.DefaultHardwareState(), &memStore{})
	fake.SetTelemetry(model.Telemetry{CPUTempC: 72})

	p, err := NewPoller(m, 10*time.Millisecond, nil)
	require.NoError(t, err)
	require.NoError(t, p.Start(context.Background()))
	defer p.Stop()

	assert.Eventually(t, func() bool {
		return m.Snapshot().Telemetry.CPUTempC == 72
	}, 2*time.Second, 5*time.Millisecond)
}

type countingFans struct {
	calls atomic.Int32
}

func (c *countingFans) ApplyFanCurve(context.Context, model.FanCurve) error {
	c.calls.Add(1)
	return nil
}

func TestPoller_FollowsFanCurve(t *testing.T) {
	m, fake := newTestManager(t, model.DefaultHardwareState(), &memStore{})
	fake.SetTelemetry(model.Telemetry{CPUTempC: 80})

	p, err := NewPoller(m, 0, nil)
	require.NoError(t, err)
	require.NoError(t, p.SetFanCurve(m, model.DefaultFanCurve(), 10*time.Millisecond))
	require.NoError(t, p.Start(context.Background()))
	defer p.Stop()

	assert.Eventually(t, func() bool {
		cpu, _, ok := fake.FanSpeed()
		return ok && cpu == 88
	}, 2*time.Second, 5*time.Millisecond)

	fake.SetTelemetry(model.Telemetry{CPUTempC: 30})
	assert.Eventually(t, func() bool {
		cpu, _, ok := fake.FanSpeed()
		return ok && cpu == 20
	}, 2*time.Second, 5*time.Millisecond)
}

func TestPoller_SetFanCurveWhileRunning(t *testing.T) {
	fans := &countingFans{}
	p, err := NewPoller(&countingRefresher{}, 0, nil)
	require.NoError(t, err)
	require.NoError(t, p.Start(context.Background()))
	defer p.Stop()

	time.Sleep(30 * time.Millisecond)
	assert.Zero(t, fans.calls.Load())

	require.NoError(t, p.SetFanCurve(fans, model.DefaultFanCurve(), 10*time.Millisecond))
	assert.Eventually(t, func() bool { return fans.calls.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, p.SetFanCurve(nil, nil, 10*time.Millisecond))
	time.Sleep(30 * time.Millisecond)
	n := fans.calls.Load()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, n, fans.calls.Load())
}
