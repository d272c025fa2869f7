package wire

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// Control request verbs.
const (
	VerbCreateSession = "create_session"
	VerbBindSession   = "bind_session"
	VerbControl       = "control"
	VerbHeartbeat     = "heartbeat"
)

// Control operation values for the LS_op parameter.
const (
	OpAdd     = "add"
	OpDelete  = "delete"
	OpDestroy = "destroy"
)

// Request is an outgoing control request. Params preserve insertion
// order so encoded requests are stable for correlation and tests.
type Request struct {
	Verb   string
	params []param
}

type param struct {
	key, value string
}

// NewRequest creates a control request with the given verb.
func NewRequest(verb string) *Request {
	return &Request{Verb: verb}
}

// Set appends a parameter. Later values for the same key win on the
// server; callers set each key once.
func (r *Request) Set(key, value string) *Request {
	r.params = append(r.params, param{key: key, value: value})
	return r
}

// Get returns the first value set for key, or "".
func (r *Request) Get(key string) string {
	for _, p := range r.params {
		if p.key == key {
			return p.value
		}
	}
	return ""
}

// RequestID returns the LS_reqId parameter, or 0 if unset.
func (r *Request) RequestID() uint32 {
	v, err := strconv.ParseUint(r.Get("LS_reqId"), 10, 32)
	if err != nil {
		return 0
	}
	return uint32(v)
}

// Validate checks the request is well formed for encoding.
func (r *Request) Validate() error {
	switch r.Verb {
	case VerbCreateSession, VerbBindSession, VerbControl, VerbHeartbeat:
	default:
		return fmt.Errorf("invalid request verb %q", r.Verb)
	}
	if r.Get("LS_reqId") == "" {
		return fmt.Errorf("missing LS_reqId")
	}
	return nil
}

// Encode serializes the request as a verb line plus a parameter line,
// both CRLF-terminated. Parameter values are percent-encoded.
func (r *Request) Encode() ([]byte, error) {
	if err := r.Validate(); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}

	var b strings.Builder
	b.WriteString(r.Verb)
	b.WriteString("\r\n")
	for i, p := range r.params {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(p.key))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(p.value))
	}
	b.WriteString("\r\n")
	return []byte(b.String()), nil
}

// NewCreateSession builds a session-create request.
func NewCreateSession(reqID uint32, user, password, adapterSet string) *Request {
	r := NewRequest(VerbCreateSession).
		Set("LS_reqId", strconv.FormatUint(uint64(reqID), 10)).
		Set("LS_user", user).
		Set("LS_password", password)
	if adapterSet != "" {
		r.Set("LS_adapter_set", adapterSet)
	}
	return r
}

// NewBindSession builds a rebind request attaching a new transport to
// an existing server-side session.
func NewBindSession(reqID uint32, sessionID string) *Request {
	return NewRequest(VerbBindSession).
		Set("LS_reqId", strconv.FormatUint(uint64(reqID), 10)).
		Set("LS_session", sessionID)
}

// NewSubscribe builds a subscription-add control request.
// Fields are space-joined in schema order.
func NewSubscribe(reqID uint32, sessionID, itemKey string, fields []string, mode Mode, snapshot bool) *Request {
	r := NewRequest(VerbControl).
		Set("LS_reqId", strconv.FormatUint(uint64(reqID), 10)).
		Set("LS_session", sessionID).
		Set("LS_op", OpAdd).
		Set("LS_group", itemKey).
		Set("LS_schema", strings.Join(fields, " ")).
		Set("LS_mode", mode.String())
	if snapshot {
		r.Set("LS_snapshot", "true")
	}
	return r
}

// NewUnsubscribe builds a subscription-delete control request for a
// server-assigned subscription identifier.
func NewUnsubscribe(reqID uint32, sessionID string, subID int) *Request {
	return NewRequest(VerbControl).
		Set("LS_reqId", strconv.FormatUint(uint64(reqID), 10)).
		Set("LS_session", sessionID).
		Set("LS_op", OpDelete).
		Set("LS_subId", strconv.Itoa(subID))
}

// NewDestroySession builds a session-close control request.
func NewDestroySession(reqID uint32, sessionID string) *Request {
	return NewRequest(VerbControl).
		Set("LS_reqId", strconv.FormatUint(uint64(reqID), 10)).
		Set("LS_session", sessionID).
		Set("LS_op", OpDestroy)
}

// NewHeartbeat builds a client keep-alive request.
func NewHeartbeat(reqID uint32, sessionID string) *Request {
	return NewRequest(VerbHeartbeat).
		Set("LS_reqId", strconv.FormatUint(uint64(reqID), 10)).
		Set("LS_session", sessionID)
}

// EncodeValue escapes a single update value token. Used by test
// servers; the client itself only decodes updates.
func EncodeValue(f Field) string {
	switch f.Kind {
	case FieldUnchanged:
		return ""
	case FieldNull:
		return "#"
	case FieldValue:
		return escapeValue(f.Text)
	default:
		return ""
	}
}

// EncodeValues joins update value tokens with the pipe delimiter.
func EncodeValues(values []Field) string {
	tokens := make([]string, len(values))
	for i, v := range values {
		tokens[i] = EncodeValue(v)
	}
	return strings.Join(tokens, "|")
}

func escapeValue(text string) string {
	if text == "" {
		return "$"
	}
	if text == "$" {
		return `\$`
	}
	if text == "#" {
		return `\#`
	}
	var b strings.Builder
	for _, r := range text {
		switch r {
		case '\\':
			b.WriteString(`\\`)
		case '|':
			b.WriteString(`\|`)
		case '\r':
			b.WriteString(`\r`)
		case '\n':
			b.WriteString(`\n`)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
