package session

// Session states.
type State int

const (
	// StateUninitialized indicates the session has not been started.
	StateUninitialized State = iota

	// StateCreating indicates a session-create request is in flight.
	StateCreating

	// StateRebinding indicates a bind to an existing server session is
	// in flight.
	StateRebinding

	// StateActive indicates an established session.
	StateActive

	// StateClosing indicates a graceful close in progress.
	StateClosing

	// StateClosed indicates a clean, client-initiated shutdown.
	StateClosed

	// StateFailed indicates the session ended abnormally.
	StateFailed
)

// String returns the session state name.
func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "UNINITIALIZED"
	case StateCreating:
		return "CREATING"
	case StateRebinding:
		return "REBINDING"
	case StateActive:
		return "ACTIVE"
	case StateClosing:
		return "CLOSING"
	case StateClosed:
		return "CLOSED"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// Terminal reports whether the state is final.
func (s State) Terminal() bool {
	return s == StateClosed || s == StateFailed
}
