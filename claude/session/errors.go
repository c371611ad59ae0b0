package session

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for session operations.
var (
	// ErrInvalidState indicates an operation was invoked outside its valid state.
	ErrInvalidState = errors.New("invalid session state")

	// ErrSessionClosed indicates the session was closed while the operation was pending.
	ErrSessionClosed = errors.New("session closed")

	// ErrControlTimeout indicates an outbound control request was not answered in time.
	ErrControlTimeout = errors.New("control request timed out")

	// ErrNoHandler indicates no callback is registered for an inbound control request.
	ErrNoHandler = errors.New("no handler registered")

	// ErrUnsupportedRequest indicates an inbound control request subtype is not supported.
	ErrUnsupportedRequest = errors.New("unsupported control request")

	// ErrCLINotFound indicates the claude executable could not be located.
	ErrCLINotFound = errors.New("claude CLI not found")
)

// ProcessError reports that the CLI process failed to start, exited
// unexpectedly, or its output stream broke.
type ProcessError struct {
	ExitCode int    // -1 when the process did not exit normally or never started
	Stderr   string // Tail of captured stderr
	Err      error  // Underlying error
}

// Error implements the error interface.
func (e *ProcessError) Error() string {
	msg := "claude process failed"
	if e.ExitCode >= 0 {
		msg = fmt.Sprintf("claude process exited with code %d", e.ExitCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Stderr != "" {
		msg += "\nstderr: " + e.Stderr
	}
	return msg
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *ProcessError) Unwrap() error {
	return e.Err
}

// ParseError reports a line of CLI output that could not be decoded.
// It is non-fatal: the session keeps reading.
type ParseError struct {
	Line []byte
	Err  error
}

const parseErrorPreview = 200

// Error implements the error interface.
func (e *ParseError) Error() string {
	return fmt.Sprintf("parse CLI output: %v (line: %s)", e.Err, linePreview(e.Line))
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *ParseError) Unwrap() error {
	return e.Err
}

func linePreview(line []byte) string {
	if len(line) > parseErrorPreview {
		return string(line[:parseErrorPreview]) + "..."
	}
	return string(line)
}

// ControlTimeoutError reports an outbound control request that got no
// response within Timeout.
type ControlTimeoutError struct {
	RequestID string
	Subtype   string
	Timeout   time.Duration
}

// Error implements the error interface.
func (e *ControlTimeoutError) Error() string {
	return fmt.Sprintf("control request %s (%s) timed out after %v", e.RequestID, e.Subtype, e.Timeout)
}

// Is matches ErrControlTimeout.
func (e *ControlTimeoutError) Is(target error) bool {
	return target == ErrControlTimeout
}

// ControlError is an error response from the CLI to an outbound control request.
type ControlError struct {
	RequestID string
	Subtype   string
	Message   string
}

// Error implements the error interface.
func (e *ControlError) Error() string {
	return fmt.Sprintf("control request %s (%s) failed: %s", e.RequestID, e.Subtype, e.Message)
}

// StateError reports an operation invoked in the wrong session state.
type StateError struct {
	Op     string
	Status SessionStatus
}

// Error implements the error interface.
func (e *StateError) Error() string {
	return fmt.Sprintf("%s: session is %s", e.Op, e.Status)
}

// Is matches ErrInvalidState.
func (e *StateError) Is(target error) bool {
	return target == ErrInvalidState
}
