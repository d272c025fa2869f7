// Package wire defines the text wire format for the streaming push
// protocol.
//
// The protocol is line-oriented: every frame is one CRLF-terminated
// text line. Server frames carry a type tag in the first
// comma-separated field; client control requests are a verb line
// followed by a percent-encoded key=value parameter line.
//
// # Server Frames
//
//	CONOK,<sessionID>,<requestLimit>,<keepaliveMillis>,<controlLink>
//	CONERR,<code>,<message>
//	REQOK,<reqID>
//	REQERR,<reqID>,<code>,<message>
//	SUBOK,<reqID>,<subID>,<numItems>,<numFields>
//	U,<subID>,<itemKey>,<v1>|<v2>|...
//	EOS,<subID>,<itemKey>
//	PROBE
//	LOOP,<delayMillis>
//	END,<code>,<message>
//
// # Update Values
//
// Update values are pipe-delimited and positional against the
// subscription's field schema. An empty token means the field is
// unchanged since the previous update for that item. A bare "$" is
// the empty string, a bare "#" is null. Literal '|', '$', '#' and
// '\' are backslash-escaped, as are CR and LF.
//
// The decoder is incremental: it retains partial lines across Feed
// calls, so the transport may hand over reads split at arbitrary
// byte boundaries.
package wire
