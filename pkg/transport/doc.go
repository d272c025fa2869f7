// Package transport provides the raw bidirectional byte stream to
// the push server.
//
// A Conn hands out received chunks exactly as read from the network;
// framing is the wire package's job, so reads may split a protocol
// line anywhere. Writes are serialized internally so concurrent
// control requests never interleave on the wire.
//
// Two implementations exist: a plain TCP/TLS stream and a WebSocket
// stream (the production endpoint). Both are created through a
// Dialer so the session layer does not care which one it runs over.
package transport
