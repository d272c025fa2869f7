package log

import "time"

// Event represents a protocol log event captured at any layer.
// CBOR encoding uses integer keys for compactness.
type Event struct {
	// Timestamp when the event occurred (nanosecond precision).
	Timestamp time.Time `cbor:"1,keyasint"`

	// ConnectionID uniquely identifies the transport connection (UUID).
	ConnectionID string `cbor:"2,keyasint"`

	// Direction indicates message flow.
	Direction Direction `cbor:"3,keyasint"`

	// Layer where the event was captured.
	Layer Layer `cbor:"4,keyasint"`

	// Category classifies the event type.
	Category Category `cbor:"5,keyasint"`

	// SessionID is the server session identifier, once known.
	SessionID string `cbor:"6,keyasint,omitempty"`

	// RemoteAddr is the server address (host:port or URL).
	RemoteAddr string `cbor:"7,keyasint,omitempty"`

	// Type-specific payload (one of these will be set).
	Frame        *FrameEvent        `cbor:"10,keyasint,omitempty"` // Transport layer
	StateChange  *StateChangeEvent  `cbor:"11,keyasint,omitempty"` // Session/supervisor state
	Subscription *SubscriptionEvent `cbor:"12,keyasint,omitempty"` // Registry bindings
	Drop         *DropEvent         `cbor:"13,keyasint,omitempty"` // Dispatch drops
	Error        *ErrorEventData    `cbor:"14,keyasint,omitempty"` // Errors at any layer
}

// Direction indicates the direction of message flow.
type Direction uint8

const (
	// DirectionIn indicates an incoming frame.
	DirectionIn Direction = 0
	// DirectionOut indicates an outgoing request.
	DirectionOut Direction = 1
)

// String returns the direction name.
func (d Direction) String() string {
	switch d {
	case DirectionIn:
		return "IN"
	case DirectionOut:
		return "OUT"
	default:
		return "UNKNOWN"
	}
}

// Layer indicates which component captured the event.
type Layer uint8

const (
	// LayerTransport is the raw connection layer (frame text).
	LayerTransport Layer = 0
	// LayerSession is the session state machine.
	LayerSession Layer = 1
	// LayerSubscription is the subscription registry.
	LayerSubscription Layer = 2
	// LayerDispatch is the update dispatch engine.
	LayerDispatch Layer = 3
	// LayerSupervisor is the reconnection supervisor.
	LayerSupervisor Layer = 4
)

// String returns the layer name.
func (l Layer) String() string {
	switch l {
	case LayerTransport:
		return "TRANSPORT"
	case LayerSession:
		return "SESSION"
	case LayerSubscription:
		return "SUBSCRIPTION"
	case LayerDispatch:
		return "DISPATCH"
	case LayerSupervisor:
		return "SUPERVISOR"
	default:
		return "UNKNOWN"
	}
}

// Category classifies the event type.
type Category uint8

const (
	// CategoryMessage indicates a protocol frame or request.
	CategoryMessage Category = 0
	// CategoryState indicates a state change.
	CategoryState Category = 1
	// CategoryError indicates an error event.
	CategoryError Category = 2
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryMessage:
		return "MESSAGE"
	case CategoryState:
		return "STATE"
	case CategoryError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// MaxFrameTextSize is the maximum frame text to include in log
// events. Longer frames are truncated.
const MaxFrameTextSize = 4096

// FrameEvent captures one wire frame at the transport layer.
type FrameEvent struct {
	// Size is the full frame size in bytes.
	Size int `cbor:"1,keyasint"`

	// Text is the frame line (may be truncated).
	Text string `cbor:"2,keyasint,omitempty"`

	// Truncated indicates Text was cut at MaxFrameTextSize.
	Truncated bool `cbor:"3,keyasint,omitempty"`
}

// NewFrameEvent builds a FrameEvent, truncating long frame text.
func NewFrameEvent(text string) *FrameEvent {
	ev := &FrameEvent{Size: len(text)}
	if len(text) > MaxFrameTextSize {
		ev.Text = text[:MaxFrameTextSize]
		ev.Truncated = true
	} else {
		ev.Text = text
	}
	return ev
}

// StateChangeEvent captures session, transport and supervisor
// lifecycle transitions.
type StateChangeEvent struct {
	// OldState and NewState are the String() forms of the component's
	// state enum.
	OldState string `cbor:"1,keyasint"`
	NewState string `cbor:"2,keyasint"`

	// Reason is an optional human-readable cause.
	Reason string `cbor:"3,keyasint,omitempty"`
}

// SubscriptionEvent captures registry binding changes.
type SubscriptionEvent struct {
	// LocalID is the durable client-assigned identifier.
	LocalID uint32 `cbor:"1,keyasint"`

	// ServerID is the session-scoped identifier (0 when unbound).
	ServerID int `cbor:"2,keyasint,omitempty"`

	// ItemKey is the subscribed item.
	ItemKey string `cbor:"3,keyasint,omitempty"`

	// Action is one of "subscribe", "unsubscribe", "bind",
	// "invalidate", "replay".
	Action string `cbor:"4,keyasint"`
}

// DropEvent captures an update dropped by the dispatch engine after
// the consumer drain timeout.
type DropEvent struct {
	LocalID uint32 `cbor:"1,keyasint"`
	ItemKey string `cbor:"2,keyasint,omitempty"`

	// Dropped is the running per-subscription drop count.
	Dropped uint64 `cbor:"3,keyasint"`
}

// ErrorEventData captures errors at any layer.
type ErrorEventData struct {
	// Layer where the error occurred.
	Layer Layer `cbor:"1,keyasint"`

	// Message is the error text.
	Message string `cbor:"2,keyasint"`

	// Code is the protocol error code, when one exists.
	Code *int `cbor:"3,keyasint,omitempty"`
}
