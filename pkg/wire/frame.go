package wire

import "time"

// Frame is a decoded server frame. The concrete type is one of the
// structs below; Type discriminates without a type switch.
type Frame interface {
	Type() FrameType
}

// SessionStarted reports a successful session create or bind (CONOK).
type SessionStarted struct {
	// SessionID is the opaque server-assigned session identifier.
	SessionID string

	// RequestLimit is the maximum control request length the server
	// accepts, in bytes. Zero means no limit was advertised.
	RequestLimit int

	// Keepalive is the interval within which the server promises to
	// send at least one frame (data or PROBE).
	Keepalive time.Duration

	// ControlLink is an alternate endpoint for control requests.
	// Empty if the session endpoint should be used.
	ControlLink string
}

// Type returns FrameSessionStarted.
func (SessionStarted) Type() FrameType { return FrameSessionStarted }

// SessionError reports a refused session create or bind (CONERR).
type SessionError struct {
	Code    int
	Message string
}

// Type returns FrameSessionError.
func (SessionError) Type() FrameType { return FrameSessionError }

// ControlAck acknowledges a control request (REQOK / REQERR).
// Code zero indicates success.
type ControlAck struct {
	RequestID uint32
	Code      int
	Message   string
}

// Type returns FrameControlAck.
func (ControlAck) Type() FrameType { return FrameControlAck }

// OK reports whether the acknowledgment indicates success.
func (a ControlAck) OK() bool { return a.Code == 0 }

// SubscriptionOK confirms a subscription and carries the
// server-assigned, session-scoped subscription identifier (SUBOK).
type SubscriptionOK struct {
	RequestID uint32
	SubID     int
	NumItems  int
	NumFields int
}

// Type returns FrameSubscriptionOK.
func (SubscriptionOK) Type() FrameType { return FrameSubscriptionOK }

// DataUpdate carries one item update for a subscription (U).
// Values are positional against the subscription's field schema.
type DataUpdate struct {
	SubID   int
	ItemKey string
	Values  []Field
}

// Type returns FrameDataUpdate.
func (DataUpdate) Type() FrameType { return FrameDataUpdate }

// Field is one positional value in a data update.
type Field struct {
	Kind FieldKind

	// Text is the field value when Kind is FieldValue; empty otherwise.
	Text string
}

// Unchanged returns the unchanged field marker.
func Unchanged() Field { return Field{Kind: FieldUnchanged} }

// Null returns the explicit-null field marker.
func Null() Field { return Field{Kind: FieldNull} }

// Value returns a set field carrying text.
func Value(text string) Field { return Field{Kind: FieldValue, Text: text} }

// EndOfSnapshot marks the end of the initial snapshot for one item of
// a subscription (EOS). Updates before this frame are snapshot state.
type EndOfSnapshot struct {
	SubID   int
	ItemKey string
}

// Type returns FrameEndOfSnapshot.
func (EndOfSnapshot) Type() FrameType { return FrameEndOfSnapshot }

// Heartbeat is a server keep-alive probe (PROBE).
type Heartbeat struct{}

// Type returns FrameHeartbeat.
func (Heartbeat) Type() FrameType { return FrameHeartbeat }

// Rebind asks the client to drop the transport and bind a new one to
// the same session after the given delay (LOOP).
type Rebind struct {
	Delay time.Duration
}

// Type returns FrameRebind.
func (Rebind) Type() FrameType { return FrameRebind }

// ServerError terminates the session (END). After this frame the
// server will accept no further requests on the session.
type ServerError struct {
	Code    int
	Message string
}

// Type returns FrameServerError.
func (ServerError) Type() FrameType { return FrameServerError }
