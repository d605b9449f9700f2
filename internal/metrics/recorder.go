package metrics

import "time"

// Result labels for command outcomes.
const (
	ResultOK = "ok"
)

// Recorder defines observability hooks for the control plane.
type Recorder interface {
	// ObserveCommand records one handled command. result is ResultOK or
	// the wire error kind.
	ObserveCommand(tag string, result string, d time.Duration)
	IncBackendError(capability string, kind string)
	IncPersistenceFailure()
	SetUnsupported(capability string)
	ConnectionOpened()
	ConnectionClosed()
	SetCPUTemp(celsius float64)
	ObservePoll(d time.Duration, success bool)
}

// NoopRecorder is a Recorder that does nothing (default when metrics not configured).
type NoopRecorder struct{}

func (NoopRecorder) ObserveCommand(string, string, time.Duration) {}
func (NoopRecorder) IncBackendError(string, string)               {}
func (NoopRecorder) IncPersistenceFailure()                       {}
func (NoopRecorder) SetUnsupported(string)                        {}
func (NoopRecorder) ConnectionOpened()                            {}
func (NoopRecorder) ConnectionClosed()                            {}
func (NoopRecorder) SetCPUTemp(float64)                           {}
func (NoopRecorder) ObservePoll(time.Duration, bool)              {}
