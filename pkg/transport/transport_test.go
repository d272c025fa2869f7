package transport

import (
	"context"
	"net"
	"testing"
	"time"
)

func TestTCPDialAndRoundTrip(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen failed: %v", err)
	}
	defer ln.Close()

	serverDone := make(chan struct{})
	go func() {
		defer close(serverDone)
		sc, err := ln.Accept()
		if err != nil {
			return
		}
		defer sc.Close()

		// Echo one chunk back, then send a frame line.
		buf := make([]byte, 256)
		n, err := sc.Read(buf)
		if err != nil {
			return
		}
		sc.Write(buf[:n])
		sc.Write([]byte("PROBE\r\n"))
	}()

	d := &TCPDialer{ConnectTimeout: 2 * time.Second}
	conn, err := d.Dial(context.Background(), ln.Addr().String())
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()

	if conn.ID() == "" {
		t.Error("ID() is empty")
	}
	if conn.RemoteAddr() != ln.Addr().String() {
		t.Errorf("RemoteAddr = %q, want %q", conn.RemoteAddr(), ln.Addr().String())
	}

	request := []byte("heartbeat\r\nLS_reqId=1\r\n")
	if err := conn.Write(request); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	var got []byte
	for len(got) < len(request)+len("PROBE\r\n") {
		chunk, err := conn.Read()
		if err != nil {
			t.Fatalf("Read failed: %v", err)
		}
		got = append(got, chunk...)
	}

	want := string(request) + "PROBE\r\n"
	if string(got) != want {
		t.Errorf("received %q, want %q", got, want)
	}

	<-serverDone
}

func TestTCPCloseUnblocksRead(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen failed: %v", err)
	}
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		sc, err := ln.Accept()
		if err == nil {
			accepted <- sc
		}
	}()

	d := &TCPDialer{}
	conn, err := d.Dial(context.Background(), ln.Addr().String())
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer func() {
		if sc := <-accepted; sc != nil {
			sc.Close()
		}
	}()

	readErr := make(chan error, 1)
	go func() {
		_, err := conn.Read()
		readErr <- err
	}()

	time.Sleep(50 * time.Millisecond)
	conn.Close()

	select {
	case err := <-readErr:
		if err != ErrConnClosed {
			t.Errorf("Read error = %v, want ErrConnClosed", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Read did not unblock after Close")
	}

	if err := conn.Write([]byte("x")); err != ErrConnClosed {
		t.Errorf("Write after close = %v, want ErrConnClosed", err)
	}
}

func TestPipeRoundTrip(t *testing.T) {
	client, server := Pipe()

	if err := client.Write([]byte("create_session\r\nLS_reqId=1\r\n")); err != nil {
		t.Fatalf("client Write failed: %v", err)
	}

	chunk, err := server.Read()
	if err != nil {
		t.Fatalf("server Read failed: %v", err)
	}
	if string(chunk) != "create_session\r\nLS_reqId=1\r\n" {
		t.Errorf("server received %q", chunk)
	}

	if err := server.Write([]byte("CONOK,Sx,0,5000,*\r\n")); err != nil {
		t.Fatalf("server Write failed: %v", err)
	}
	chunk, err = client.Read()
	if err != nil {
		t.Fatalf("client Read failed: %v", err)
	}
	if string(chunk) != "CONOK,Sx,0,5000,*\r\n" {
		t.Errorf("client received %q", chunk)
	}

	client.Close()
	if err := server.Write([]byte("x")); err != ErrConnClosed {
		t.Errorf("Write after peer close = %v, want ErrConnClosed", err)
	}
}
