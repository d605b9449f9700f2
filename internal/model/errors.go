package model

import "fmt"

// ErrorKind classifies a failed command on the wire.
type ErrorKind string

// Error kinds.
const (
	KindInvalidArgument    ErrorKind = "invalid_argument"
	KindUnsupported        ErrorKind = "unsupported"
	KindUnavailable        ErrorKind = "unavailable"
	KindIoFailure          ErrorKind = "io_failure"
	KindProtocolViolation  ErrorKind = "protocol_violation"
	KindPersistenceFailure ErrorKind = "persistence_failure"
)

// Valid reports whether k is a known kind.
func (k ErrorKind) Valid() bool {
	switch k {
	case KindInvalidArgument, KindUnsupported, KindUnavailable, KindIoFailure,
		KindProtocolViolation, KindPersistenceFailure:
		return true
	}
	return false
}

// Retryable reports whether a client may retry the same command unchanged.
func (k ErrorKind) Retryable() bool {
	return k == KindUnavailable || k == KindIoFailure
}

// CommandError is a failed command with its wire kind.
type CommandError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

// NewCommandError creates a CommandError with a formatted message.
func NewCommandError(kind ErrorKind, format string, args ...any) *CommandError {
	return &CommandError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func (e *CommandError) Error() string {
	if e.Err != nil && e.Message == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}
