package wire

import "fmt"

// Mode is the delivery mode of a subscription.
type Mode uint8

const (
	// ModeMerge delivers only changed fields; the receiver retains
	// last-known values for fields marked unchanged.
	ModeMerge Mode = iota

	// ModeDistinct delivers every update independently, no merging.
	ModeDistinct

	// ModeRaw delivers values exactly as received, no interpretation.
	ModeRaw
)

// String returns the wire name of the mode.
func (m Mode) String() string {
	switch m {
	case ModeMerge:
		return "MERGE"
	case ModeDistinct:
		return "DISTINCT"
	case ModeRaw:
		return "RAW"
	default:
		return "UNKNOWN"
	}
}

// IsValid reports whether the mode is a known delivery mode.
func (m Mode) IsValid() bool {
	return m <= ModeRaw
}

// ParseMode parses a wire mode name.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "MERGE":
		return ModeMerge, nil
	case "DISTINCT":
		return ModeDistinct, nil
	case "RAW":
		return ModeRaw, nil
	default:
		return 0, fmt.Errorf("unknown subscription mode %q", s)
	}
}

// FrameType identifies a decoded server frame.
type FrameType uint8

const (
	// FrameSessionStarted is a CONOK session acceptance.
	FrameSessionStarted FrameType = iota

	// FrameSessionError is a CONERR session refusal.
	FrameSessionError

	// FrameControlAck is a REQOK or REQERR control acknowledgment.
	FrameControlAck

	// FrameSubscriptionOK is a SUBOK subscription confirmation.
	FrameSubscriptionOK

	// FrameDataUpdate is a U item update.
	FrameDataUpdate

	// FrameEndOfSnapshot is an EOS marker.
	FrameEndOfSnapshot

	// FrameHeartbeat is a PROBE keep-alive.
	FrameHeartbeat

	// FrameRebind is a LOOP rebind request.
	FrameRebind

	// FrameServerError is an END session termination.
	FrameServerError
)

// String returns the frame type tag as it appears on the wire.
func (t FrameType) String() string {
	switch t {
	case FrameSessionStarted:
		return "CONOK"
	case FrameSessionError:
		return "CONERR"
	case FrameControlAck:
		return "REQOK"
	case FrameSubscriptionOK:
		return "SUBOK"
	case FrameDataUpdate:
		return "U"
	case FrameEndOfSnapshot:
		return "EOS"
	case FrameHeartbeat:
		return "PROBE"
	case FrameRebind:
		return "LOOP"
	case FrameServerError:
		return "END"
	default:
		return "UNKNOWN"
	}
}

// Server error codes with defined client behavior.
const (
	// CodeAuthRejected indicates the credentials were refused.
	// Not retried automatically.
	CodeAuthRejected = 1

	// CodeSessionExpired indicates the server no longer knows the
	// session; a rebind is impossible and a full create is required.
	CodeSessionExpired = 5
)

// FieldKind classifies one positional value in an update frame.
type FieldKind uint8

const (
	// FieldUnchanged marks a field whose value did not change since
	// the previous update for the item (empty token on the wire).
	FieldUnchanged FieldKind = iota

	// FieldNull marks an explicitly null field ("#" on the wire).
	FieldNull

	// FieldValue carries a string value ("$" encodes the empty string).
	FieldValue
)

// String returns the field kind name.
func (k FieldKind) String() string {
	switch k {
	case FieldUnchanged:
		return "UNCHANGED"
	case FieldNull:
		return "NULL"
	case FieldValue:
		return "VALUE"
	default:
		return "UNKNOWN"
	}
}
