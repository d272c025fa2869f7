package log

// MultiLogger fans each event out to several loggers, typically a
// FileLogger capture plus a console adapter.
type MultiLogger struct {
	sinks []Logger
}

// NewMultiLogger wraps the given loggers into one.
func NewMultiLogger(loggers ...Logger) *MultiLogger {
	return &MultiLogger{sinks: loggers}
}

// Log forwards the event to every wrapped logger in order.
func (m *MultiLogger) Log(event Event) {
	for _, sink := range m.sinks {
		sink.Log(event)
	}
}

var _ Logger = (*MultiLogger)(nil)
