// Package session implements the client side of the streaming session
// lifecycle: creating or rebinding a session over a transport
// connection, correlating control requests with their
// acknowledgements, and watching server liveness.
//
// A Session is bound to exactly one transport connection. When the
// connection is lost, the server refuses the session, or the server
// stays silent past twice the advertised keepalive interval, the
// session fails permanently and reports the cause; recovery is the
// caller's concern (see package connection).
package session
