package dbus

import (
	"fmt"

	"github.com/godbus/dbus/v5"
)

// logind bus names.
const (
	Login1Service   = "org.freedesktop.login1"
	Login1Path      = "/org/freedesktop/login1"
	Login1Interface = "org.freedesktop.login1.Manager"

	PrepareForSleepMember = "PrepareForSleep"
	PrepareForSleepSignal = Login1Interface + "." + PrepareForSleepMember
)

// SleepPhase distinguishes the two PrepareForSleep emissions.
type SleepPhase int

const (
	// PhaseSuspending is emitted with true right before the system sleeps.
	PhaseSuspending SleepPhase = iota
	// PhaseResumed is emitted with false once the system is back.
	PhaseResumed
)

func (p SleepPhase) String() string {
	switch p {
	case PhaseSuspending:
		return "suspending"
	case PhaseResumed:
		return "resumed"
	default:
		return "unknown"
	}
}

// ParseSleepSignal extracts the phase from a PrepareForSleep signal.
// ok is false for any other signal.
func ParseSleepSignal(sig *dbus.Signal) (phase SleepPhase, ok bool, err error) {
	if sig == nil || sig.Name != PrepareForSleepSignal {
		return 0, false, nil
	}
	if len(sig.Body) != 1 {
		return 0, true, fmt.Errorf("PrepareForSleep: expected 1 argument, got %d", len(sig.Body))
	}
	start, valid := sig.Body[0].(bool)
	if !valid {
		return 0, true, fmt.Errorf("PrepareForSleep: argument is %T, not bool", sig.Body[0])
	}
	if start {
		return PhaseSuspending, true, nil
	}
	return PhaseResumed, true, nil
}
