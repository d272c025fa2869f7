package session

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/OpenLLT/ig-client/pkg/log"
	"github.com/OpenLLT/ig-client/pkg/transport"
	"github.com/OpenLLT/ig-client/pkg/wire"
)

// Session constants.
const (
	// DefaultKeepalive is assumed when the server does not advertise a
	// keepalive interval.
	DefaultKeepalive = 5 * time.Second

	// DefaultEstablishTimeout bounds the wait for the session-start
	// confirmation.
	DefaultEstablishTimeout = 15 * time.Second

	// DefaultCloseTimeout bounds the graceful destroy handshake.
	DefaultCloseTimeout = 5 * time.Second

	// silenceFactor multiplies the keepalive interval to obtain the
	// server liveness deadline.
	silenceFactor = 2
)

// Credentials identify the account to the streaming server.
type Credentials struct {
	Identifier string
	Password   string

	// AdapterSet selects the server-side adapter set. Optional.
	AdapterSet string
}

// Config configures a session.
type Config struct {
	Credentials Credentials

	// EstablishTimeout bounds session create and bind
	// (default: DefaultEstablishTimeout).
	EstablishTimeout time.Duration

	// CloseTimeout bounds the graceful close handshake
	// (default: DefaultCloseTimeout).
	CloseTimeout time.Duration

	// Keepalive overrides the assumed interval when the server does
	// not advertise one (default: DefaultKeepalive).
	Keepalive time.Duration
}

// Handler receives session events. Callbacks are invoked from the
// session's read goroutine and must not block.
type Handler interface {
	// OnUpdate is called for each data update frame.
	OnUpdate(u wire.DataUpdate)

	// OnEndOfSnapshot is called when an item's initial snapshot is
	// complete.
	OnEndOfSnapshot(e wire.EndOfSnapshot)

	// OnStateChange is called when the session state changes.
	OnStateChange(oldState, newState State)

	// OnEnd is called exactly once when the session terminates. The
	// error is nil for a clean client-initiated close.
	OnEnd(err error)
}

// Session drives one streaming session over one transport connection.
type Session struct {
	config  Config
	conn    transport.Conn
	handler Handler
	logger  log.Logger

	state     atomic.Int32
	closeOnce sync.Once
	doneCh    chan struct{}

	// Serializes writes to the connection.
	writeMu sync.Mutex

	requestSeq atomic.Uint32

	mu        sync.Mutex
	pending   map[uint32]chan wire.Frame
	sessionID string
	keepalive time.Duration
	endErr    error

	established chan wire.SessionStarted
	touchCh     chan struct{}
}

// New creates a session over an established transport connection.
// The session owns the connection and closes it on termination.
func New(config Config, conn transport.Conn, handler Handler, logger log.Logger) *Session {
	if config.EstablishTimeout == 0 {
		config.EstablishTimeout = DefaultEstablishTimeout
	}
	if config.CloseTimeout == 0 {
		config.CloseTimeout = DefaultCloseTimeout
	}
	if config.Keepalive == 0 {
		config.Keepalive = DefaultKeepalive
	}
	if logger == nil {
		logger = &log.NoopLogger{}
	}

	s := &Session{
		config:      config,
		conn:        conn,
		handler:     handler,
		logger:      logger,
		doneCh:      make(chan struct{}),
		pending:     make(map[uint32]chan wire.Frame),
		established: make(chan wire.SessionStarted, 1),
		touchCh:     make(chan struct{}, 1),
	}
	s.state.Store(int32(StateUninitialized))

	return s
}

// State returns the current session state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// ID returns the server-assigned session identifier, or "" before the
// session is established.
func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

// Keepalive returns the server-advertised keepalive interval.
func (s *Session) Keepalive() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.keepalive == 0 {
		return s.config.Keepalive
	}
	return s.keepalive
}

// Done is closed when the session terminates.
func (s *Session) Done() <-chan struct{} {
	return s.doneCh
}

// Err returns the termination cause, or nil while the session is live
// or after a clean close.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endErr
}

// Create starts a fresh session with the configured credentials.
func (s *Session) Create(ctx context.Context) error {
	if !s.state.CompareAndSwap(int32(StateUninitialized), int32(StateCreating)) {
		return ErrAlreadyStarted
	}
	s.notifyStateChange(StateUninitialized, StateCreating)

	go s.readLoop()

	creds := s.config.Credentials
	req := wire.NewCreateSession(s.nextRequestID(), creds.Identifier, creds.Password, creds.AdapterSet)

	return s.establish(ctx, req, StateCreating)
}

// Bind attaches this connection to an existing server-side session,
// typically after the previous transport was lost.
func (s *Session) Bind(ctx context.Context, sessionID string) error {
	if !s.state.CompareAndSwap(int32(StateUninitialized), int32(StateRebinding)) {
		return ErrAlreadyStarted
	}
	s.notifyStateChange(StateUninitialized, StateRebinding)

	s.mu.Lock()
	s.sessionID = sessionID
	s.mu.Unlock()

	go s.readLoop()

	req := wire.NewBindSession(s.nextRequestID(), sessionID)

	return s.establish(ctx, req, StateRebinding)
}

// establish sends the session-start request and waits for the server's
// confirmation. On success the session transitions to Active and
// liveness monitoring begins.
func (s *Session) establish(ctx context.Context, req *wire.Request, from State) error {
	ctx, cancel := context.WithTimeout(ctx, s.config.EstablishTimeout)
	defer cancel()

	if err := s.send(req); err != nil {
		s.fail(err)
		return err
	}

	select {
	case <-ctx.Done():
		err := &TransportError{Op: "establish", Err: ctx.Err()}
		s.fail(err)
		return err

	case <-s.doneCh:
		if err := s.Err(); err != nil {
			return err
		}
		return ErrClosed

	case started := <-s.established:
		keepalive := started.Keepalive
		if keepalive == 0 {
			keepalive = s.config.Keepalive
		}

		s.mu.Lock()
		s.sessionID = started.SessionID
		s.keepalive = keepalive
		s.mu.Unlock()

		if !s.state.CompareAndSwap(int32(from), int32(StateActive)) {
			// Lost a race with termination.
			if err := s.Err(); err != nil {
				return err
			}
			return ErrClosed
		}
		s.notifyStateChange(from, StateActive)

		go s.watchdog(keepalive)
		go s.heartbeatLoop(keepalive)

		return nil
	}
}

// Subscribe sends a subscription-add request and waits for the server
// to assign a subscription identifier.
func (s *Session) Subscribe(ctx context.Context, itemKey string, fields []string, mode wire.Mode, snapshot bool) (int, error) {
	if s.State() != StateActive {
		return 0, ErrNotActive
	}

	reqID := s.nextRequestID()
	ch := s.registerPending(reqID)
	defer s.unregisterPending(reqID)

	req := wire.NewSubscribe(reqID, s.ID(), itemKey, fields, mode, snapshot)
	if err := s.send(req); err != nil {
		return 0, err
	}

	for {
		select {
		case <-ctx.Done():
			return 0, ctx.Err()

		case <-s.doneCh:
			return 0, s.endedErr()

		case frame := <-ch:
			switch f := frame.(type) {
			case wire.ControlAck:
				if !f.OK() {
					return 0, s.requestError(f)
				}
				// Positive ack; the SUBOK carrying the server ID
				// follows on the same request ID.

			case wire.SubscriptionOK:
				return f.SubID, nil
			}
		}
	}
}

// Unsubscribe sends a subscription-delete request for a
// server-assigned identifier and waits for the acknowledgement.
func (s *Session) Unsubscribe(ctx context.Context, serverID int) error {
	if s.State() != StateActive {
		return ErrNotActive
	}

	reqID := s.nextRequestID()
	ch := s.registerPending(reqID)
	defer s.unregisterPending(reqID)

	req := wire.NewUnsubscribe(reqID, s.ID(), serverID)
	if err := s.send(req); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-s.doneCh:
			return s.endedErr()

		case frame := <-ch:
			if ack, ok := frame.(wire.ControlAck); ok {
				if !ack.OK() {
					return s.requestError(ack)
				}
				return nil
			}
		}
	}
}

// Close gracefully destroys the session. Safe to call in any state.
func (s *Session) Close(ctx context.Context) error {
	prev := s.State()
	if (prev == StateActive || prev == StateRebinding) &&
		s.state.CompareAndSwap(int32(prev), int32(StateClosing)) {
		s.notifyStateChange(prev, StateClosing)

		ctx, cancel := context.WithTimeout(ctx, s.config.CloseTimeout)
		defer cancel()

		reqID := s.nextRequestID()
		ch := s.registerPending(reqID)

		if err := s.send(wire.NewDestroySession(reqID, s.ID())); err == nil {
			select {
			case <-ctx.Done():
			case <-s.doneCh:
			case <-ch:
				// Destroy acknowledged.
			}
		}
		s.unregisterPending(reqID)
	}

	s.shutdown(nil, StateClosed)

	return nil
}

// fail terminates the session abnormally.
func (s *Session) fail(err error) {
	s.shutdown(err, StateFailed)
}

// shutdown terminates the session exactly once, closing the transport
// and notifying the handler.
func (s *Session) shutdown(err error, final State) {
	s.closeOnce.Do(func() {
		old := s.State()

		s.mu.Lock()
		s.endErr = err
		s.mu.Unlock()

		s.state.Store(int32(final))
		if old != final {
			s.notifyStateChange(old, final)
		}

		s.conn.Close()
		close(s.doneCh)

		if err != nil {
			s.logError(err)
		}
		if s.handler != nil {
			s.handler.OnEnd(err)
		}
	})
}

// endedErr returns the termination cause for callers blocked on a
// request when the session ends.
func (s *Session) endedErr() error {
	if err := s.Err(); err != nil {
		return err
	}
	return ErrClosed
}

// requestError maps a negative acknowledgement to a typed error.
func (s *Session) requestError(ack wire.ControlAck) error {
	if ack.Code == wire.CodeSessionExpired {
		return &SessionExpiredError{SessionID: s.ID()}
	}
	return &RequestError{RequestID: ack.RequestID, Code: ack.Code, Message: ack.Message}
}

// sessionRefused maps a session-level error frame to a typed error.
func (s *Session) sessionRefused(code int, message string) error {
	switch code {
	case wire.CodeAuthRejected:
		return &AuthError{Code: code, Message: message}
	case wire.CodeSessionExpired:
		return &SessionExpiredError{SessionID: s.ID()}
	default:
		return &ServerCloseError{Code: code, Message: message}
	}
}

func (s *Session) nextRequestID() uint32 {
	return s.requestSeq.Add(1)
}

func (s *Session) registerPending(reqID uint32) chan wire.Frame {
	// Capacity 2: a positive ack and the subscription confirmation may
	// both arrive before the caller drains.
	ch := make(chan wire.Frame, 2)
	s.mu.Lock()
	s.pending[reqID] = ch
	s.mu.Unlock()
	return ch
}

func (s *Session) unregisterPending(reqID uint32) {
	s.mu.Lock()
	delete(s.pending, reqID)
	s.mu.Unlock()
}

// deliverPending routes an acknowledgement frame to the waiting
// request. Unmatched frames are dropped; they belong to requests that
// already gave up or to fire-and-forget heartbeats.
func (s *Session) deliverPending(reqID uint32, frame wire.Frame) {
	s.mu.Lock()
	ch := s.pending[reqID]
	s.mu.Unlock()

	if ch == nil {
		return
	}
	select {
	case ch <- frame:
	default:
	}
}

// send encodes and writes one control request.
func (s *Session) send(req *wire.Request) error {
	data, err := req.Encode()
	if err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := s.conn.Write(data); err != nil {
		return &TransportError{Op: "write", Err: err}
	}

	log.Emit(s.logger, log.Event{
		Timestamp:    time.Now(),
		ConnectionID: s.conn.ID(),
		Direction:    log.DirectionOut,
		Layer:        log.LayerTransport,
		Category:     log.CategoryMessage,
		SessionID:    s.ID(),
		RemoteAddr:   s.conn.RemoteAddr(),
		Frame:        log.NewFrameEvent(string(data)),
	})

	return nil
}

// readLoop pulls data from the connection, feeds the frame decoder,
// and handles each decoded frame.
func (s *Session) readLoop() {
	var dec wire.Decoder

	for {
		data, err := s.conn.Read()
		if err != nil {
			if s.State().Terminal() || s.State() == StateClosing {
				return
			}
			s.fail(&TransportError{Op: "read", Err: err})
			return
		}

		// Any traffic proves the server is alive.
		s.touch()

		log.Emit(s.logger, log.Event{
			Timestamp:    time.Now(),
			ConnectionID: s.conn.ID(),
			Direction:    log.DirectionIn,
			Layer:        log.LayerTransport,
			Category:     log.CategoryMessage,
			SessionID:    s.ID(),
			RemoteAddr:   s.conn.RemoteAddr(),
			Frame:        log.NewFrameEvent(string(data)),
		})

		frames, err := dec.Feed(data)
		for _, frame := range frames {
			s.handleFrame(frame)
		}
		if err != nil {
			s.fail(&ProtocolError{Err: err})
			return
		}
	}
}

func (s *Session) handleFrame(frame wire.Frame) {
	switch f := frame.(type) {
	case wire.SessionStarted:
		select {
		case s.established <- f:
		default:
		}

	case wire.SessionError:
		s.fail(s.sessionRefused(f.Code, f.Message))

	case wire.ControlAck:
		s.deliverPending(f.RequestID, f)

	case wire.SubscriptionOK:
		s.deliverPending(f.RequestID, f)

	case wire.DataUpdate:
		if s.handler != nil {
			s.handler.OnUpdate(f)
		}

	case wire.EndOfSnapshot:
		if s.handler != nil {
			s.handler.OnEndOfSnapshot(f)
		}

	case wire.Heartbeat:
		// Liveness already recorded on read.

	case wire.Rebind:
		s.fail(&RebindRequestedError{Delay: f.Delay})

	case wire.ServerError:
		s.fail(s.sessionRefused(f.Code, f.Message))
	}
}

// touch resets the liveness deadline.
func (s *Session) touch() {
	select {
	case s.touchCh <- struct{}{}:
	default:
	}
}

// watchdog fails the session when the server stays silent past twice
// the keepalive interval.
func (s *Session) watchdog(keepalive time.Duration) {
	deadline := silenceFactor * keepalive
	timer := time.NewTimer(deadline)
	defer timer.Stop()

	for {
		select {
		case <-s.doneCh:
			return

		case <-s.touchCh:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(deadline)

		case <-timer.C:
			s.fail(&TransportError{Op: "liveness", Err: errSilence(deadline)})
			return
		}
	}
}

// heartbeatLoop keeps the outbound half of the connection warm with
// fire-and-forget heartbeat requests.
func (s *Session) heartbeatLoop(keepalive time.Duration) {
	ticker := time.NewTicker(keepalive)
	defer ticker.Stop()

	for {
		select {
		case <-s.doneCh:
			return

		case <-ticker.C:
			if s.State() != StateActive {
				return
			}
			// Errors surface through the read loop.
			_ = s.send(wire.NewHeartbeat(s.nextRequestID(), s.ID()))
		}
	}
}

func (s *Session) notifyStateChange(oldState, newState State) {
	log.Emit(s.logger, log.Event{
		Timestamp:    time.Now(),
		ConnectionID: s.conn.ID(),
		Direction:    log.DirectionIn,
		Layer:        log.LayerSession,
		Category:     log.CategoryState,
		SessionID:    s.ID(),
		RemoteAddr:   s.conn.RemoteAddr(),
		StateChange:  &log.StateChangeEvent{OldState: oldState.String(), NewState: newState.String()},
	})

	if s.handler != nil {
		s.handler.OnStateChange(oldState, newState)
	}
}

func (s *Session) logError(err error) {
	log.Emit(s.logger, log.Event{
		Timestamp:    time.Now(),
		ConnectionID: s.conn.ID(),
		Layer:        log.LayerSession,
		Category:     log.CategoryError,
		SessionID:    s.ID(),
		RemoteAddr:   s.conn.RemoteAddr(),
		Error:        &log.ErrorEventData{Layer: log.LayerSession, Message: err.Error()},
	})
}
