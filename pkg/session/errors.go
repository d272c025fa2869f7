package session

import (
	"errors"
	"fmt"
	"time"
)

// Session errors.
var (
	ErrAlreadyStarted = errors.New("session already started")
	ErrNotActive      = errors.New("session not active")
	ErrClosed         = errors.New("session closed")
)

// TransportError reports a connection-level failure: a broken read or
// write, or server silence past the liveness deadline.
type TransportError struct {
	Op  string
	Err error
}

// Error returns the error message.
func (e *TransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("transport %s failed: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("transport %s failed", e.Op)
}

// Unwrap returns the underlying error.
func (e *TransportError) Unwrap() error { return e.Err }

// ProtocolError reports a frame the client could not interpret.
type ProtocolError struct {
	Err error
}

// Error returns the error message.
func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol violation: %v", e.Err)
}

// Unwrap returns the underlying error.
func (e *ProtocolError) Unwrap() error { return e.Err }

// AuthError reports rejected credentials. Never retried.
type AuthError struct {
	Code    int
	Message string
}

// Error returns the error message.
func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication rejected (code %d): %s", e.Code, e.Message)
}

// SessionExpiredError reports that the server no longer knows the
// session, so rebinding is pointless and a fresh session is required.
type SessionExpiredError struct {
	SessionID string
}

// Error returns the error message.
func (e *SessionExpiredError) Error() string {
	return fmt.Sprintf("session %q expired on the server", e.SessionID)
}

// ServerCloseError reports a server-initiated session end with a code
// other than expiry or authentication.
type ServerCloseError struct {
	Code    int
	Message string
}

// Error returns the error message.
func (e *ServerCloseError) Error() string {
	return fmt.Sprintf("server closed session (code %d): %s", e.Code, e.Message)
}

// RequestError reports a refused control request.
type RequestError struct {
	RequestID uint32
	Code      int
	Message   string
}

// Error returns the error message.
func (e *RequestError) Error() string {
	return fmt.Sprintf("request %d refused (code %d): %s", e.RequestID, e.Code, e.Message)
}

// errSilence describes a missed liveness deadline.
func errSilence(deadline time.Duration) error {
	return fmt.Errorf("no server traffic within %s", deadline)
}

// RebindRequestedError reports that the server asked the client to
// drop this transport and bind a new one to the same session.
type RebindRequestedError struct {
	Delay time.Duration
}

// Error returns the error message.
func (e *RebindRequestedError) Error() string {
	return fmt.Sprintf("server requested rebind after %s", e.Delay)
}
