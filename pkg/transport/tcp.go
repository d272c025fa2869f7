package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
)

// readChunkSize is the buffer size for a single network read.
const readChunkSize = 4096

// TCPDialer connects over plain TCP, optionally wrapped in TLS.
type TCPDialer struct {
	// TLSConfig enables TLS when non-nil. Certificate material is
	// provisioned by the platform; this package only consumes it.
	TLSConfig *tls.Config

	// ConnectTimeout bounds Dial (default: DefaultConnectTimeout).
	ConnectTimeout time.Duration

	// WriteTimeout bounds each write (default: DefaultWriteTimeout).
	WriteTimeout time.Duration
}

// Dial establishes a connection to address (host:port).
func (d *TCPDialer) Dial(ctx context.Context, address string) (Conn, error) {
	timeout := d.ConnectTimeout
	if timeout == 0 {
		timeout = DefaultConnectTimeout
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	dialer := &net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("dial failed: %w", err)
	}

	if d.TLSConfig != nil {
		tlsConn := tls.Client(conn, d.TLSConfig)
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			conn.Close()
			return nil, fmt.Errorf("TLS handshake failed: %w", err)
		}
		conn = tlsConn
	}

	writeTimeout := d.WriteTimeout
	if writeTimeout == 0 {
		writeTimeout = DefaultWriteTimeout
	}

	return &tcpConn{
		conn:         conn,
		id:           uuid.NewString(),
		remote:       address,
		writeTimeout: writeTimeout,
		closeCh:      make(chan struct{}),
	}, nil
}

// tcpConn wraps a net.Conn as a transport Conn.
type tcpConn struct {
	conn         net.Conn
	id           string
	remote       string
	writeTimeout time.Duration

	writeMu   sync.Mutex
	closeOnce sync.Once
	closeCh   chan struct{}
}

func (c *tcpConn) Read() ([]byte, error) {
	buf := make([]byte, readChunkSize)
	n, err := c.conn.Read(buf)
	if err != nil {
		select {
		case <-c.closeCh:
			return nil, ErrConnClosed
		default:
			return nil, err
		}
	}
	return buf[:n], nil
}

func (c *tcpConn) Write(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	select {
	case <-c.closeCh:
		return ErrConnClosed
	default:
	}

	if c.writeTimeout > 0 {
		c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
		defer c.conn.SetWriteDeadline(time.Time{})
	}

	if _, err := c.conn.Write(data); err != nil {
		return fmt.Errorf("write failed: %w", err)
	}
	return nil
}

func (c *tcpConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closeCh)
		err = c.conn.Close()
	})
	return err
}

func (c *tcpConn) ID() string { return c.id }

func (c *tcpConn) RemoteAddr() string { return c.remote }
