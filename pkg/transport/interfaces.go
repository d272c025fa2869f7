package transport

import (
	"context"
	"errors"
	"time"
)

// Transport errors.
var (
	// ErrConnClosed indicates the connection has been closed.
	ErrConnClosed = errors.New("connection closed")
)

// Default timeouts.
const (
	// DefaultConnectTimeout bounds Dial when the context has no
	// deadline of its own.
	DefaultConnectTimeout = 30 * time.Second

	// DefaultWriteTimeout bounds a single control write.
	DefaultWriteTimeout = 10 * time.Second
)

// Conn is an established connection to the push server.
//
// Read returns the next received chunk and blocks until data
// arrives, the peer closes, or Close is called (then ErrConnClosed
// or the underlying error). Chunks carry no framing guarantee.
//
// Write sends one encoded control request. Writes are serialized
// internally; callers may invoke Write from multiple goroutines.
//
// Close is idempotent and unblocks a pending Read.
type Conn interface {
	Read() ([]byte, error)
	Write(data []byte) error
	Close() error

	// ID is a unique identifier for this connection, used to
	// correlate log events.
	ID() string

	// RemoteAddr describes the server endpoint.
	RemoteAddr() string
}

// Dialer establishes connections to an endpoint.
type Dialer interface {
	Dial(ctx context.Context, endpoint string) (Conn, error)
}
