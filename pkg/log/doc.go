// Package log provides protocol event logging for the streaming
// client.
//
// Components emit structured Events (raw frames, session state
// transitions, subscription bindings, dropped updates, errors) to a
// Logger. Implementations include a CBOR file logger for complete
// session captures, adapters for slog and zerolog for console
// output, a fan-out MultiLogger, and a NoopLogger.
//
// Logging is always optional: components accept a nil Logger and the
// zero-value NoopLogger discards everything.
package log
