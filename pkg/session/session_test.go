package session

import (
	"bytes"
	"context"
	"errors"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/OpenLLT/ig-client/pkg/transport"
	"github.com/OpenLLT/ig-client/pkg/wire"
)

// captureHandler records session events on channels for assertions.
type captureHandler struct {
	updates   chan wire.DataUpdate
	snapshots chan wire.EndOfSnapshot
	states    chan [2]State
	end       chan error
}

func newCaptureHandler() *captureHandler {
	return &captureHandler{
		updates:   make(chan wire.DataUpdate, 16),
		snapshots: make(chan wire.EndOfSnapshot, 16),
		states:    make(chan [2]State, 16),
		end:       make(chan error, 1),
	}
}

func (h *captureHandler) OnUpdate(u wire.DataUpdate)            { h.updates <- u }
func (h *captureHandler) OnEndOfSnapshot(e wire.EndOfSnapshot)  { h.snapshots <- e }
func (h *captureHandler) OnStateChange(oldState, newState State) { h.states <- [2]State{oldState, newState} }
func (h *captureHandler) OnEnd(err error)                       { h.end <- err }

// serverLines pumps every non-blank line the server side receives onto
// a channel, so test servers can react to client requests.
func serverLines(conn transport.Conn) <-chan string {
	ch := make(chan string, 64)
	go func() {
		defer close(ch)
		var buf []byte
		for {
			data, err := conn.Read()
			if err != nil {
				return
			}
			buf = append(buf, data...)
			for {
				i := bytes.IndexByte(buf, '\n')
				if i < 0 {
					break
				}
				line := strings.TrimRight(string(buf[:i]), "\r")
				buf = buf[i+1:]
				if line != "" {
					ch <- line
				}
			}
		}
	}()
	return ch
}

// awaitRequest reads lines until it sees the given verb, then returns
// the following parameter line parsed as url values.
func awaitRequest(t *testing.T, lines <-chan string, verb string) url.Values {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case line, ok := <-lines:
			if !ok {
				t.Fatalf("server side closed while waiting for %q", verb)
			}
			if line != verb {
				continue
			}
			select {
			case params := <-lines:
				values, err := url.ParseQuery(params)
				if err != nil {
					t.Fatalf("bad parameter line %q: %v", params, err)
				}
				return values
			case <-deadline:
				t.Fatalf("no parameter line after %q", verb)
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %q request", verb)
		}
	}
}

func serverWrite(t *testing.T, conn transport.Conn, frames string) {
	t.Helper()
	if err := conn.Write([]byte(frames)); err != nil {
		t.Fatalf("server write failed: %v", err)
	}
}

// startActive establishes a session over an in-memory pipe and returns
// it together with the server side of the connection.
func startActive(t *testing.T, config Config) (*Session, transport.Conn, <-chan string, *captureHandler) {
	t.Helper()

	client, server := transport.Pipe()
	handler := newCaptureHandler()
	s := New(config, client, handler, nil)

	lines := serverLines(server)
	go func() {
		if params := awaitRequest(t, lines, wire.VerbCreateSession); params.Get("LS_user") == "" {
			t.Error("create request has no LS_user")
		}
		serverWrite(t, server, "CONOK,S7842,50000,5000,*\r\n")
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Create(ctx); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	t.Cleanup(func() {
		s.shutdown(nil, StateClosed)
		server.Close()
	})

	return s, server, lines, handler
}

func testConfig() Config {
	return Config{
		Credentials: Credentials{Identifier: "demo", Password: "secret", AdapterSet: "DEFAULT"},
	}
}

func TestCreateEstablishesSession(t *testing.T) {
	s, _, _, _ := startActive(t, testConfig())

	if got := s.State(); got != StateActive {
		t.Errorf("State() = %v, want %v", got, StateActive)
	}
	if got := s.ID(); got != "S7842" {
		t.Errorf("ID() = %q, want %q", got, "S7842")
	}
	if got := s.Keepalive(); got != 5*time.Second {
		t.Errorf("Keepalive() = %v, want %v", got, 5*time.Second)
	}
}

func TestCreateAuthRejected(t *testing.T) {
	client, server := transport.Pipe()
	handler := newCaptureHandler()
	s := New(testConfig(), client, handler, nil)

	lines := serverLines(server)
	go func() {
		awaitRequest(t, lines, wire.VerbCreateSession)
		serverWrite(t, server, "CONERR,1,invalid credentials\r\n")
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := s.Create(ctx)
	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("Create() error = %v, want *AuthError", err)
	}
	if authErr.Code != wire.CodeAuthRejected {
		t.Errorf("AuthError.Code = %d, want %d", authErr.Code, wire.CodeAuthRejected)
	}
	if got := s.State(); got != StateFailed {
		t.Errorf("State() = %v, want %v", got, StateFailed)
	}

	select {
	case endErr := <-handler.end:
		if !errors.As(endErr, &authErr) {
			t.Errorf("OnEnd() error = %v, want *AuthError", endErr)
		}
	case <-time.After(time.Second):
		t.Error("OnEnd() not called")
	}
}

func TestBindAttachesToExistingSession(t *testing.T) {
	client, server := transport.Pipe()
	handler := newCaptureHandler()
	s := New(testConfig(), client, handler, nil)

	lines := serverLines(server)
	go func() {
		params := awaitRequest(t, lines, wire.VerbBindSession)
		if got := params.Get("LS_session"); got != "S7842" {
			t.Errorf("bind LS_session = %q, want %q", got, "S7842")
		}
		serverWrite(t, server, "CONOK,S7842,50000,5000,*\r\n")
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Bind(ctx, "S7842"); err != nil {
		t.Fatalf("Bind() error = %v", err)
	}
	defer s.shutdown(nil, StateClosed)

	if got := s.State(); got != StateActive {
		t.Errorf("State() = %v, want %v", got, StateActive)
	}
}

func TestSubscribeReturnsServerID(t *testing.T) {
	s, server, lines, _ := startActive(t, testConfig())

	go func() {
		params := awaitRequest(t, lines, wire.VerbControl)
		if got := params.Get("LS_op"); got != wire.OpAdd {
			t.Errorf("LS_op = %q, want %q", got, wire.OpAdd)
		}
		if got := params.Get("LS_group"); got != "MARKET:CS.D.EURUSD.MINI.IP" {
			t.Errorf("LS_group = %q", got)
		}
		reqID := params.Get("LS_reqId")
		serverWrite(t, server, "REQOK,"+reqID+"\r\nSUBOK,"+reqID+",3,1,2\r\n")
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	serverID, err := s.Subscribe(ctx, "MARKET:CS.D.EURUSD.MINI.IP", []string{"BID", "OFFER"}, wire.ModeMerge, true)
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if serverID != 3 {
		t.Errorf("Subscribe() server ID = %d, want 3", serverID)
	}
}

func TestSubscribeRefused(t *testing.T) {
	s, server, lines, _ := startActive(t, testConfig())

	go func() {
		params := awaitRequest(t, lines, wire.VerbControl)
		serverWrite(t, server, "REQERR,"+params.Get("LS_reqId")+",19,unknown adapter\r\n")
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := s.Subscribe(ctx, "MARKET:BAD", []string{"BID"}, wire.ModeMerge, false)
	var reqErr *RequestError
	if !errors.As(err, &reqErr) {
		t.Fatalf("Subscribe() error = %v, want *RequestError", err)
	}
	if reqErr.Code != 19 {
		t.Errorf("RequestError.Code = %d, want 19", reqErr.Code)
	}
}

func TestUnsubscribeAcknowledged(t *testing.T) {
	s, server, lines, _ := startActive(t, testConfig())

	go func() {
		params := awaitRequest(t, lines, wire.VerbControl)
		if got := params.Get("LS_op"); got != wire.OpDelete {
			t.Errorf("LS_op = %q, want %q", got, wire.OpDelete)
		}
		serverWrite(t, server, "REQOK,"+params.Get("LS_reqId")+"\r\n")
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := s.Unsubscribe(ctx, 3); err != nil {
		t.Fatalf("Unsubscribe() error = %v", err)
	}
}

func TestUpdatesReachHandler(t *testing.T) {
	s, server, _, handler := startActive(t, testConfig())
	_ = s

	serverWrite(t, server, "U,3,MARKET:CS.D.EURUSD.MINI.IP,1.0842|1.0844\r\nEOS,3,MARKET:CS.D.EURUSD.MINI.IP\r\n")

	select {
	case u := <-handler.updates:
		if u.SubID != 3 {
			t.Errorf("update SubID = %d, want 3", u.SubID)
		}
		want := []wire.Field{wire.Value("1.0842"), wire.Value("1.0844")}
		if len(u.Values) != len(want) {
			t.Fatalf("update has %d values, want %d", len(u.Values), len(want))
		}
		for i := range want {
			if u.Values[i] != want[i] {
				t.Errorf("value[%d] = %+v, want %+v", i, u.Values[i], want[i])
			}
		}
	case <-time.After(time.Second):
		t.Fatal("update not delivered")
	}

	select {
	case e := <-handler.snapshots:
		if e.SubID != 3 || e.ItemKey != "MARKET:CS.D.EURUSD.MINI.IP" {
			t.Errorf("end-of-snapshot = %+v", e)
		}
	case <-time.After(time.Second):
		t.Fatal("end-of-snapshot not delivered")
	}
}

func TestSilenceTriggersFailure(t *testing.T) {
	client, server := transport.Pipe()
	handler := newCaptureHandler()
	s := New(testConfig(), client, handler, nil)

	lines := serverLines(server)
	go func() {
		awaitRequest(t, lines, wire.VerbCreateSession)
		// Advertise a 50ms keepalive, then go quiet.
		serverWrite(t, server, "CONOK,S1,50000,50,*\r\n")
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Create(ctx); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	select {
	case err := <-handler.end:
		var transportErr *TransportError
		if !errors.As(err, &transportErr) {
			t.Fatalf("OnEnd() error = %v, want *TransportError", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("silent server did not fail the session")
	}
	if got := s.State(); got != StateFailed {
		t.Errorf("State() = %v, want %v", got, StateFailed)
	}
}

func TestHeartbeatKeepsSessionAlive(t *testing.T) {
	client, server := transport.Pipe()
	handler := newCaptureHandler()
	s := New(testConfig(), client, handler, nil)

	lines := serverLines(server)
	go func() {
		awaitRequest(t, lines, wire.VerbCreateSession)
		serverWrite(t, server, "CONOK,S1,50000,60,*\r\n")
		// Probe well within every liveness deadline.
		for i := 0; i < 10; i++ {
			time.Sleep(40 * time.Millisecond)
			if err := server.Write([]byte("PROBE\r\n")); err != nil {
				return
			}
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Create(ctx); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	defer s.shutdown(nil, StateClosed)

	time.Sleep(350 * time.Millisecond)
	if got := s.State(); got != StateActive {
		t.Errorf("State() after probes = %v, want %v", got, StateActive)
	}
}

func TestRebindRequestEndsSession(t *testing.T) {
	s, server, _, handler := startActive(t, testConfig())
	_ = s

	serverWrite(t, server, "LOOP,200\r\n")

	select {
	case err := <-handler.end:
		var rebindErr *RebindRequestedError
		if !errors.As(err, &rebindErr) {
			t.Fatalf("OnEnd() error = %v, want *RebindRequestedError", err)
		}
		if rebindErr.Delay != 200*time.Millisecond {
			t.Errorf("Delay = %v, want 200ms", rebindErr.Delay)
		}
	case <-time.After(time.Second):
		t.Fatal("LOOP did not end the session")
	}
}

func TestServerEndMapsExpiry(t *testing.T) {
	s, server, _, handler := startActive(t, testConfig())
	_ = s

	serverWrite(t, server, "END,5,session forcibly closed\r\n")

	select {
	case err := <-handler.end:
		var expired *SessionExpiredError
		if !errors.As(err, &expired) {
			t.Fatalf("OnEnd() error = %v, want *SessionExpiredError", err)
		}
	case <-time.After(time.Second):
		t.Fatal("END did not end the session")
	}
}

func TestCloseDuringRebindDestroysSession(t *testing.T) {
	client, server := transport.Pipe()
	handler := newCaptureHandler()
	s := New(testConfig(), client, handler, nil)

	lines := serverLines(server)

	bindErr := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		bindErr <- s.Bind(ctx, "S7842")
	}()

	// Leave the bind unanswered so the session stays in Rebinding,
	// then close it.
	awaitRequest(t, lines, wire.VerbBindSession)

	go func() {
		params := awaitRequest(t, lines, wire.VerbControl)
		if got := params.Get("LS_op"); got != wire.OpDestroy {
			t.Errorf("LS_op = %q, want %q", got, wire.OpDestroy)
		}
		if got := params.Get("LS_session"); got != "S7842" {
			t.Errorf("LS_session = %q, want %q", got, "S7842")
		}
		serverWrite(t, server, "REQOK,"+params.Get("LS_reqId")+"\r\n")
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Close(ctx); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if got := s.State(); got != StateClosed {
		t.Errorf("State() = %v, want %v", got, StateClosed)
	}

	select {
	case err := <-bindErr:
		if !errors.Is(err, ErrClosed) {
			t.Errorf("Bind() error = %v, want %v", err, ErrClosed)
		}
	case <-time.After(time.Second):
		t.Error("Bind() did not return after close")
	}
}

func TestCloseDestroysSession(t *testing.T) {
	s, server, lines, handler := startActive(t, testConfig())

	go func() {
		params := awaitRequest(t, lines, wire.VerbControl)
		if got := params.Get("LS_op"); got != wire.OpDestroy {
			t.Errorf("LS_op = %q, want %q", got, wire.OpDestroy)
		}
		serverWrite(t, server, "REQOK,"+params.Get("LS_reqId")+"\r\n")
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Close(ctx); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if got := s.State(); got != StateClosed {
		t.Errorf("State() = %v, want %v", got, StateClosed)
	}

	select {
	case err := <-handler.end:
		if err != nil {
			t.Errorf("OnEnd() error = %v, want nil for clean close", err)
		}
	case <-time.After(time.Second):
		t.Error("OnEnd() not called on close")
	}
}

func TestConnectionLossFailsSession(t *testing.T) {
	s, server, _, handler := startActive(t, testConfig())
	_ = s

	server.Close()

	select {
	case err := <-handler.end:
		var transportErr *TransportError
		if !errors.As(err, &transportErr) {
			t.Fatalf("OnEnd() error = %v, want *TransportError", err)
		}
	case <-time.After(time.Second):
		t.Fatal("connection loss did not end the session")
	}
}

func TestMalformedFrameFailsSession(t *testing.T) {
	s, server, _, handler := startActive(t, testConfig())
	_ = s

	serverWrite(t, server, "GARBAGE,1,2\r\n")

	select {
	case err := <-handler.end:
		var protoErr *ProtocolError
		if !errors.As(err, &protoErr) {
			t.Fatalf("OnEnd() error = %v, want *ProtocolError", err)
		}
		var decodeErr *wire.FrameDecodeError
		if !errors.As(err, &decodeErr) {
			t.Errorf("OnEnd() error does not wrap *wire.FrameDecodeError")
		}
	case <-time.After(time.Second):
		t.Fatal("malformed frame did not end the session")
	}
}

func TestStateStrings(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateUninitialized, "UNINITIALIZED"},
		{StateCreating, "CREATING"},
		{StateRebinding, "REBINDING"},
		{StateActive, "ACTIVE"},
		{StateClosing, "CLOSING"},
		{StateClosed, "CLOSED"},
		{StateFailed, "FAILED"},
		{State(42), "UNKNOWN"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}
