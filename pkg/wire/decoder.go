package wire

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// FrameDecodeError reports malformed server input. It is fatal for
// the transport that produced it; the caller must not retry the
// decode at this layer.
type FrameDecodeError struct {
	// Offset is the absolute byte offset of the offending line within
	// the stream the decoder has consumed.
	Offset int64

	// Line is the offending line (possibly truncated).
	Line string

	// Reason describes what failed to parse.
	Reason string
}

// Error implements the error interface.
func (e *FrameDecodeError) Error() string {
	return fmt.Sprintf("frame decode error at byte %d: %s (line %q)", e.Offset, e.Reason, e.Line)
}

// maxErrorLine bounds the offending line echoed in decode errors.
const maxErrorLine = 128

// Decoder incrementally decodes server frames from a byte stream.
// It keeps no state beyond the leftover bytes of a partial line, so
// reads may be split at arbitrary boundaries. Not safe for concurrent
// use; the transport read loop is the single caller.
type Decoder struct {
	rem      []byte
	consumed int64
}

// NewDecoder returns a decoder with an empty buffer.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Feed appends data and returns all complete frames it terminates.
// A trailing partial line is retained for the next call. On a
// malformed line Feed returns the frames decoded before it along with
// a *FrameDecodeError; the decoder must not be fed further input.
func (d *Decoder) Feed(data []byte) ([]Frame, error) {
	d.rem = append(d.rem, data...)

	var frames []Frame
	for {
		idx := -1
		for i, b := range d.rem {
			if b == '\n' {
				idx = i
				break
			}
		}
		if idx < 0 {
			return frames, nil
		}

		line := string(d.rem[:idx])
		lineStart := d.consumed
		d.consumed += int64(idx + 1)
		d.rem = d.rem[idx+1:]

		line = strings.TrimSuffix(line, "\r")
		if line == "" {
			continue // blank keep-alive line
		}

		frame, err := ParseFrame(line)
		if err != nil {
			if len(line) > maxErrorLine {
				line = line[:maxErrorLine]
			}
			return frames, &FrameDecodeError{
				Offset: lineStart,
				Line:   line,
				Reason: err.Error(),
			}
		}
		frames = append(frames, frame)
	}
}

// Buffered returns the number of leftover bytes awaiting a line end.
func (d *Decoder) Buffered() int {
	return len(d.rem)
}

// ParseFrame decodes a single frame line (without terminator).
func ParseFrame(line string) (Frame, error) {
	tag, rest, _ := strings.Cut(line, ",")

	switch tag {
	case "CONOK":
		return parseSessionStarted(rest)
	case "CONERR":
		code, msg, err := parseCodeMessage(rest)
		if err != nil {
			return nil, err
		}
		return SessionError{Code: code, Message: msg}, nil
	case "REQOK":
		reqID, err := parseUint32(rest, "request id")
		if err != nil {
			return nil, err
		}
		return ControlAck{RequestID: reqID}, nil
	case "REQERR":
		return parseRequestError(rest)
	case "SUBOK":
		return parseSubscriptionOK(rest)
	case "U":
		return parseDataUpdate(rest)
	case "EOS":
		subID, itemKey, err := parseSubItem(rest)
		if err != nil {
			return nil, err
		}
		return EndOfSnapshot{SubID: subID, ItemKey: itemKey}, nil
	case "PROBE":
		if rest != "" {
			return nil, fmt.Errorf("unexpected PROBE payload")
		}
		return Heartbeat{}, nil
	case "LOOP":
		millis, err := strconv.Atoi(rest)
		if err != nil || millis < 0 {
			return nil, fmt.Errorf("invalid LOOP delay %q", rest)
		}
		return Rebind{Delay: time.Duration(millis) * time.Millisecond}, nil
	case "END":
		code, msg, err := parseCodeMessage(rest)
		if err != nil {
			return nil, err
		}
		return ServerError{Code: code, Message: msg}, nil
	default:
		return nil, fmt.Errorf("unknown frame tag %q", tag)
	}
}

func parseSessionStarted(rest string) (Frame, error) {
	parts := strings.SplitN(rest, ",", 4)
	if len(parts) != 4 {
		return nil, fmt.Errorf("CONOK needs 4 fields, got %d", len(parts))
	}
	if parts[0] == "" {
		return nil, fmt.Errorf("empty session id")
	}
	reqLimit, err := strconv.Atoi(parts[1])
	if err != nil || reqLimit < 0 {
		return nil, fmt.Errorf("invalid request limit %q", parts[1])
	}
	keepalive, err := strconv.Atoi(parts[2])
	if err != nil || keepalive <= 0 {
		return nil, fmt.Errorf("invalid keepalive %q", parts[2])
	}
	controlLink := parts[3]
	if controlLink == "*" {
		controlLink = ""
	}
	return SessionStarted{
		SessionID:    parts[0],
		RequestLimit: reqLimit,
		Keepalive:    time.Duration(keepalive) * time.Millisecond,
		ControlLink:  controlLink,
	}, nil
}

func parseRequestError(rest string) (Frame, error) {
	parts := strings.SplitN(rest, ",", 3)
	if len(parts) != 3 {
		return nil, fmt.Errorf("REQERR needs 3 fields, got %d", len(parts))
	}
	reqID, err := parseUint32(parts[0], "request id")
	if err != nil {
		return nil, err
	}
	code, err := strconv.Atoi(parts[1])
	if err != nil || code == 0 {
		return nil, fmt.Errorf("invalid error code %q", parts[1])
	}
	return ControlAck{RequestID: reqID, Code: code, Message: parts[2]}, nil
}

func parseSubscriptionOK(rest string) (Frame, error) {
	parts := strings.SplitN(rest, ",", 4)
	if len(parts) != 4 {
		return nil, fmt.Errorf("SUBOK needs 4 fields, got %d", len(parts))
	}
	reqID, err := parseUint32(parts[0], "request id")
	if err != nil {
		return nil, err
	}
	subID, err := strconv.Atoi(parts[1])
	if err != nil || subID <= 0 {
		return nil, fmt.Errorf("invalid subscription id %q", parts[1])
	}
	numItems, err := strconv.Atoi(parts[2])
	if err != nil || numItems <= 0 {
		return nil, fmt.Errorf("invalid item count %q", parts[2])
	}
	numFields, err := strconv.Atoi(parts[3])
	if err != nil || numFields <= 0 {
		return nil, fmt.Errorf("invalid field count %q", parts[3])
	}
	return SubscriptionOK{
		RequestID: reqID,
		SubID:     subID,
		NumItems:  numItems,
		NumFields: numFields,
	}, nil
}

func parseDataUpdate(rest string) (Frame, error) {
	parts := strings.SplitN(rest, ",", 3)
	if len(parts) != 3 {
		return nil, fmt.Errorf("U needs 3 fields, got %d", len(parts))
	}
	subID, err := strconv.Atoi(parts[0])
	if err != nil || subID <= 0 {
		return nil, fmt.Errorf("invalid subscription id %q", parts[0])
	}
	if parts[1] == "" {
		return nil, fmt.Errorf("empty item key")
	}
	values, err := decodeValues(parts[2])
	if err != nil {
		return nil, err
	}
	return DataUpdate{SubID: subID, ItemKey: parts[1], Values: values}, nil
}

func parseSubItem(rest string) (int, string, error) {
	parts := strings.SplitN(rest, ",", 2)
	if len(parts) != 2 {
		return 0, "", fmt.Errorf("expected subscription id and item key")
	}
	subID, err := strconv.Atoi(parts[0])
	if err != nil || subID <= 0 {
		return 0, "", fmt.Errorf("invalid subscription id %q", parts[0])
	}
	if parts[1] == "" {
		return 0, "", fmt.Errorf("empty item key")
	}
	return subID, parts[1], nil
}

func parseCodeMessage(rest string) (int, string, error) {
	parts := strings.SplitN(rest, ",", 2)
	if len(parts) != 2 {
		return 0, "", fmt.Errorf("expected code and message")
	}
	code, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, "", fmt.Errorf("invalid error code %q", parts[0])
	}
	return code, parts[1], nil
}

func parseUint32(s, what string) (uint32, error) {
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q", what, s)
	}
	return uint32(v), nil
}

// decodeValues splits a pipe-delimited value list and resolves the
// unchanged / null / empty markers and backslash escapes.
func decodeValues(s string) ([]Field, error) {
	var values []Field
	var cur strings.Builder
	escaped := false
	flush := func() error {
		token := cur.String()
		cur.Reset()
		switch token {
		case "":
			values = append(values, Unchanged())
		case "#":
			values = append(values, Null())
		case "$":
			values = append(values, Value(""))
		default:
			text, err := unescapeValue(token)
			if err != nil {
				return err
			}
			values = append(values, Value(text))
		}
		return nil
	}

	for _, r := range s {
		if escaped {
			cur.WriteRune('\\')
			cur.WriteRune(r)
			escaped = false
			continue
		}
		switch r {
		case '\\':
			escaped = true
		case '|':
			if err := flush(); err != nil {
				return nil, err
			}
		default:
			cur.WriteRune(r)
		}
	}
	if escaped {
		return nil, fmt.Errorf("dangling escape in update values")
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return values, nil
}

// unescapeValue resolves backslash escapes inside a single token.
func unescapeValue(token string) (string, error) {
	if !strings.ContainsRune(token, '\\') {
		return token, nil
	}
	var b strings.Builder
	escaped := false
	for _, r := range token {
		if !escaped {
			if r == '\\' {
				escaped = true
			} else {
				b.WriteRune(r)
			}
			continue
		}
		escaped = false
		switch r {
		case '\\', '|', '$', '#':
			b.WriteRune(r)
		case 'r':
			b.WriteRune('\r')
		case 'n':
			b.WriteRune('\n')
		default:
			return "", fmt.Errorf("invalid escape %q", string(r))
		}
	}
	if escaped {
		return "", fmt.Errorf("dangling escape in value")
	}
	return b.String(), nil
}
