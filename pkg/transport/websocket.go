package transport

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// WebSocketDialer connects over a WebSocket endpoint (ws:// or
// wss://). This is the production transport for the push server.
type WebSocketDialer struct {
	// Header is sent with the handshake request (auth tokens etc).
	Header http.Header

	// HandshakeTimeout bounds the upgrade handshake
	// (default: DefaultConnectTimeout).
	HandshakeTimeout time.Duration

	// WriteTimeout bounds each write (default: DefaultWriteTimeout).
	WriteTimeout time.Duration
}

// Dial establishes a WebSocket connection to the endpoint URL.
func (d *WebSocketDialer) Dial(ctx context.Context, endpoint string) (Conn, error) {
	timeout := d.HandshakeTimeout
	if timeout == 0 {
		timeout = DefaultConnectTimeout
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: timeout,
	}

	conn, _, err := dialer.DialContext(ctx, endpoint, d.Header)
	if err != nil {
		return nil, fmt.Errorf("websocket dial failed: %w", err)
	}

	writeTimeout := d.WriteTimeout
	if writeTimeout == 0 {
		writeTimeout = DefaultWriteTimeout
	}

	return &wsConn{
		conn:         conn,
		id:           uuid.NewString(),
		remote:       endpoint,
		writeTimeout: writeTimeout,
		closeCh:      make(chan struct{}),
	}, nil
}

// wsConn wraps a websocket connection as a transport Conn.
type wsConn struct {
	conn         *websocket.Conn
	id           string
	remote       string
	writeTimeout time.Duration

	writeMu   sync.Mutex
	closeOnce sync.Once
	closeCh   chan struct{}
}

func (c *wsConn) Read() ([]byte, error) {
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		select {
		case <-c.closeCh:
			return nil, ErrConnClosed
		default:
			return nil, err
		}
	}

	// A websocket message holds whole frame lines but may omit the
	// final terminator; restore it so the line decoder sees one.
	if len(data) == 0 || data[len(data)-1] != '\n' {
		data = append(data, '\r', '\n')
	}
	return data, nil
}

func (c *wsConn) Write(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	select {
	case <-c.closeCh:
		return ErrConnClosed
	default:
	}

	c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("websocket write failed: %w", err)
	}
	return nil
}

func (c *wsConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closeCh)
		c.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		err = c.conn.Close()
	})
	return err
}

func (c *wsConn) ID() string { return c.id }

func (c *wsConn) RemoteAddr() string { return c.remote }
