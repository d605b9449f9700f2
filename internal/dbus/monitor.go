package dbus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/godbus/dbus/v5"
)

// SleepHandler is called for every sleep transition.
type SleepHandler func(ctx context.Context, phase SleepPhase)

// Monitor subscribes to logind's PrepareForSleep signal.
type Monitor struct {
	mu      sync.Mutex
	conn    *dbus.Conn
	signals chan *dbus.Signal
	stop    chan struct{}
	done    chan struct{}
	logger  *slog.Logger

	onSleep SleepHandler
}

// NewMonitor creates a sleep monitor.
func NewMonitor(logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		logger: logger,
	}
}

// SetSleepHandler sets the callback for sleep transitions.
func (m *Monitor) SetSleepHandler(handler SleepHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onSleep = handler
}

// Start connects to the system bus and begins delivering signals. Handlers
// run on the monitor goroutine with ctx.
func (m *Monitor) Start(ctx context.Context) error {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return fmt.Errorf("failed to connect to system bus: %w", err)
	}
	return m.StartWithConn(ctx, conn)
}

// StartWithConn uses an existing bus connection, which Stop will close.
func (m *Monitor) StartWithConn(ctx context.Context, conn *dbus.Conn) error {
	err := conn.AddMatchSignal(
		dbus.WithMatchObjectPath(Login1Path),
		dbus.WithMatchInterface(Login1Interface),
		dbus.WithMatchMember(PrepareForSleepMember),
	)
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to add PrepareForSleep match: %w", err)
	}

	ch := make(chan *dbus.Signal, 8)
	conn.Signal(ch)

	m.mu.Lock()
	m.conn = conn
	m.mu.Unlock()
	m.listen(ctx, ch)

	m.logger.Info("watching for suspend/resume", "signal", PrepareForSleepSignal)
	return nil
}

// listen starts the goroutine that dispatches signals from ch until Stop or
// ctx ends it. The bus owns ch and it is never closed here.
func (m *Monitor) listen(ctx context.Context, ch chan *dbus.Signal) {
	stop, done := make(chan struct{}), make(chan struct{})
	m.mu.Lock()
	m.signals, m.stop, m.done = ch, stop, done
	m.mu.Unlock()

	go m.processSignals(ctx, ch, stop, done)
}

func (m *Monitor) processSignals(ctx context.Context, ch <-chan *dbus.Signal, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case sig, ok := <-ch:
			if !ok {
				return
			}
			m.Dispatch(ctx, sig)
		}
	}
}

// Dispatch routes one signal to the sleep handler. Unrelated signals are
// ignored.
func (m *Monitor) Dispatch(ctx context.Context, sig *dbus.Signal) {
	phase, ok, err := ParseSleepSignal(sig)
	if !ok {
		return
	}
	if err != nil {
		m.logger.Warn("malformed sleep signal", "error", err)
		return
	}

	m.logger.Debug("sleep transition", "phase", phase)

	m.mu.Lock()
	handler := m.onSleep
	m.mu.Unlock()
	if handler != nil {
		handler(ctx, phase)
	}
}

// Stop detaches from the bus, waits for the monitor goroutine and closes the
// connection.
func (m *Monitor) Stop() error {
	m.mu.Lock()
	conn, ch, stop, done := m.conn, m.signals, m.stop, m.done
	m.conn, m.signals, m.stop, m.done = nil, nil, nil, nil
	m.mu.Unlock()

	if done == nil {
		return nil
	}
	if conn != nil {
		conn.RemoveSignal(ch)
	}
	close(stop)
	<-done
	if conn == nil {
		return nil
	}
	return conn.Close()
}
