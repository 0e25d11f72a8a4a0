package server

import (
	"errors"
	"fmt"
)

// Sentinel errors for common session and server error conditions.
var (
	// ErrUpstreamUnavailable is returned when no simulation handle can be
	// obtained or the first frame never arrives.
	ErrUpstreamUnavailable = errors.New("server: upstream simulation unavailable")

	// ErrConnectionClosed is returned when the WebSocket connection is closed
	// by the peer or by session teardown.
	ErrConnectionClosed = errors.New("server: connection closed")

	// ErrMaxSessionsReached is returned when the maximum number of sessions is reached.
	ErrMaxSessionsReached = errors.New("server: max sessions reached")

	// ErrSessionClosed is returned when an operation is attempted on a closed session.
	ErrSessionClosed = errors.New("server: session closed")

	// ErrServerClosed is returned by Register after Shutdown.
	ErrServerClosed = errors.New("server: shutting down")

	// ErrInvalidConfig is returned when the configuration cannot be used.
	ErrInvalidConfig = errors.New("server: invalid config")
)

// SessionError wraps an error with session context for debugging.
type SessionError struct {
	SessionID string
	Op        string // Operation that failed
	Err       error  // Underlying error
}

// Error returns the error message with session context.
func (e *SessionError) Error() string {
	if e.SessionID == "" {
		return fmt.Sprintf("server: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("server: session %s: %s: %v", e.SessionID, e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As.
func (e *SessionError) Unwrap() error {
	return e.Err
}

// NewSessionError creates a new SessionError.
func NewSessionError(sessionID, op string, err error) *SessionError {
	return &SessionError{
		SessionID: sessionID,
		Op:        op,
		Err:       err,
	}
}

// TransportError is a failed read or write on the client connection. It
// ends the session.
type TransportError struct {
	SessionID string
	Op        string // "read", "write" or "ping"
	Err       error
}

// Error returns the error message.
func (e *TransportError) Error() string {
	return fmt.Sprintf("server: transport error in session %s: %s: %v", e.SessionID, e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *TransportError) Unwrap() error {
	return e.Err
}

// PanicError wraps a panic recovered from a session task.
type PanicError struct {
	SessionID string
	Task      string
	Panic     any
	Stack     []byte
}

// Error returns the error message.
func (e *PanicError) Error() string {
	return fmt.Sprintf("server: panic in session %s, task %s: %v", e.SessionID, e.Task, e.Panic)
}
