package log

// Logger is the interface applications implement to receive protocol
// log events. Pass nil or NoopLogger to disable logging.
type Logger interface {
	// Log records a protocol event. Implementations must be
	// thread-safe. The event should be processed quickly or queued;
	// blocking affects the read loop.
	Log(event Event)
}

// NoopLogger discards all events. Use when logging is disabled.
// NoopLogger is safe for concurrent use and usable as a zero value.
type NoopLogger struct{}

// Log discards the event.
func (NoopLogger) Log(Event) {}

// Compile-time interface satisfaction check.
var _ Logger = NoopLogger{}

// Emit logs an event if logger is non-nil. Components call this so a
// nil Logger never needs checking at the call site.
func Emit(logger Logger, event Event) {
	if logger != nil {
		logger.Log(event)
	}
}
