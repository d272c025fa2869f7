package transport

import (
	"sync"

	"github.com/google/uuid"
)

// Pipe returns a connected pair of in-memory Conns. Writes on one
// side surface as Reads on the other. Used by tests and local
// harnesses that script server behavior without a network.
func Pipe() (Conn, Conn) {
	a2b := make(chan []byte, 64)
	b2a := make(chan []byte, 64)
	done := make(chan struct{})
	var once sync.Once
	closeBoth := func() { once.Do(func() { close(done) }) }

	a := &pipeConn{
		id:    uuid.NewString(),
		in:    b2a,
		out:   a2b,
		done:  done,
		close: closeBoth,
	}
	b := &pipeConn{
		id:    uuid.NewString(),
		in:    a2b,
		out:   b2a,
		done:  done,
		close: closeBoth,
	}
	return a, b
}

type pipeConn struct {
	id    string
	in    <-chan []byte
	out   chan<- []byte
	done  chan struct{}
	close func()
}

func (c *pipeConn) Read() ([]byte, error) {
	select {
	case data := <-c.in:
		return data, nil
	case <-c.done:
		// Drain anything written before the close.
		select {
		case data := <-c.in:
			return data, nil
		default:
			return nil, ErrConnClosed
		}
	}
}

func (c *pipeConn) Write(data []byte) error {
	// Copy so the caller may reuse the buffer.
	buf := make([]byte, len(data))
	copy(buf, data)

	select {
	case <-c.done:
		return ErrConnClosed
	case c.out <- buf:
		return nil
	}
}

func (c *pipeConn) Close() error {
	c.close()
	return nil
}

func (c *pipeConn) ID() string { return c.id }

func (c *pipeConn) RemoteAddr() string { return "pipe" }
