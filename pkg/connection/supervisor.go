package connection

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/OpenLLT/ig-client/pkg/dispatch"
	"github.com/OpenLLT/ig-client/pkg/log"
	"github.com/OpenLLT/ig-client/pkg/session"
	"github.com/OpenLLT/ig-client/pkg/subscription"
	"github.com/OpenLLT/ig-client/pkg/transport"
	"github.com/OpenLLT/ig-client/pkg/wire"
)

// Supervisor states.
type State uint8

const (
	// StateDisconnected indicates the supervisor has not started.
	StateDisconnected State = iota

	// StateConnecting indicates the initial connection is in progress.
	StateConnecting

	// StateConnected indicates an active session.
	StateConnected

	// StateReconnecting indicates automatic recovery is in progress.
	StateReconnecting

	// StateFailed indicates recovery gave up.
	StateFailed

	// StateClosed indicates a clean shutdown.
	StateClosed
)

// String returns the supervisor state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateReconnecting:
		return "RECONNECTING"
	case StateFailed:
		return "FAILED"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// DefaultRequestTimeout bounds individual control requests issued by
// the supervisor (subscribes, replays, unsubscribes).
const DefaultRequestTimeout = 10 * time.Second

// Config configures the supervisor.
type Config struct {
	// Endpoint is passed to the dialer for every connection attempt.
	Endpoint string

	// Session configures each session the supervisor creates.
	Session session.Config

	// Backoff paces reconnection attempts.
	Backoff BackoffConfig

	// RequestTimeout bounds control requests
	// (default: DefaultRequestTimeout).
	RequestTimeout time.Duration
}

// Supervisor drives the session lifecycle across connection failures.
type Supervisor struct {
	config     Config
	dialer     transport.Dialer
	registry   *subscription.Registry
	dispatcher *dispatch.Dispatcher
	logger     log.Logger

	backoff *Backoff

	mu        sync.RWMutex
	state     State
	sess      *session.Session
	sessEnd   chan error
	sessionID string
	closed    bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Callbacks
	onStateChange func(oldState, newState State)
	onSessionUp   func(sessionID string, rebound bool)
	onResubscribe func(err *PartialResubscribeError)
	onTerminal    func(err error)
}

// NewSupervisor creates a supervisor. It does not connect until Start.
func NewSupervisor(config Config, dialer transport.Dialer, registry *subscription.Registry, dispatcher *dispatch.Dispatcher, logger log.Logger) *Supervisor {
	if config.RequestTimeout == 0 {
		config.RequestTimeout = DefaultRequestTimeout
	}
	if config.Session.EstablishTimeout == 0 {
		config.Session.EstablishTimeout = session.DefaultEstablishTimeout
	}
	if logger == nil {
		logger = log.NoopLogger{}
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Supervisor{
		config:     config,
		dialer:     dialer,
		registry:   registry,
		dispatcher: dispatcher,
		logger:     logger,
		backoff:    NewBackoff(config.Backoff),
		state:      StateDisconnected,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// State returns the current supervisor state.
func (m *Supervisor) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// SessionID returns the current server session identifier, or "".
func (m *Supervisor) SessionID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessionID
}

// OnStateChange sets a callback for supervisor state changes.
func (m *Supervisor) OnStateChange(fn func(oldState, newState State)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onStateChange = fn
}

// OnSessionUp sets a callback invoked whenever a session becomes
// active, with rebound true when an existing server session was kept.
func (m *Supervisor) OnSessionUp(fn func(sessionID string, rebound bool)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onSessionUp = fn
}

// OnResubscribe sets a callback for partial replay failures.
func (m *Supervisor) OnResubscribe(fn func(err *PartialResubscribeError)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onResubscribe = fn
}

// OnTerminal sets a callback invoked when recovery gives up.
func (m *Supervisor) OnTerminal(fn func(err error)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onTerminal = fn
}

// Start establishes the initial session and begins supervising it.
// The initial attempt is not retried: a failure (bad endpoint, bad
// credentials) is returned directly.
func (m *Supervisor) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.state != StateDisconnected {
		state := m.state
		m.mu.Unlock()
		if state == StateClosed {
			return ErrClosed
		}
		return ErrAlreadyStarted
	}
	m.mu.Unlock()
	m.setState(StateConnecting)

	if err := m.establish(ctx, ""); err != nil {
		m.setState(StateFailed)
		return err
	}
	m.setState(StateConnected)

	if perr := m.resubscribe(); perr != nil {
		m.notifyResubscribe(perr)
	}
	m.notifySessionUp(false)

	m.wg.Add(1)
	go m.supervise()

	return nil
}

// Subscribe records the subscription as desired and, when a session is
// active, activates it immediately. The local ID is valid either way;
// a subscription that could not be activated now is replayed on the
// next session.
func (m *Supervisor) Subscribe(ctx context.Context, itemKey string, fields []string, mode wire.Mode) (uint32, error) {
	localID, err := m.registry.Subscribe(itemKey, fields, mode)
	if err != nil {
		return 0, err
	}

	// An identical subscribe resolves to an existing entry; when that
	// entry is already live on the server there is nothing to send.
	if entry, ok := m.registry.Get(localID); ok && entry.ServerID != 0 {
		return localID, nil
	}

	sess := m.activeSession()
	if sess == nil {
		return localID, nil
	}

	serverID, err := sess.Subscribe(ctx, itemKey, fields, mode, wantSnapshot(mode))
	if err != nil {
		// Still desired; the next replay retries it.
		return localID, err
	}
	if err := m.registry.BindServerID(localID, serverID); err != nil {
		return localID, err
	}
	m.logSubscription(localID, serverID, itemKey, "bind")

	return localID, nil
}

// Unsubscribe withdraws the subscription. With an active session the
// removal is confirmed by the server first; without one the entry is
// dropped immediately, since there is nothing to tear down remotely.
func (m *Supervisor) Unsubscribe(ctx context.Context, localID uint32) error {
	entry, ok := m.registry.Get(localID)
	if !ok {
		return subscription.ErrNotFound
	}
	if err := m.registry.Unsubscribe(localID); err != nil {
		return err
	}

	sess := m.activeSession()
	if sess != nil && entry.ServerID != 0 {
		if err := sess.Unsubscribe(ctx, entry.ServerID); err != nil {
			// Entry stays pending; the next replay prunes it.
			return err
		}
	}

	m.registry.ConfirmRemoved(localID)
	m.dispatcher.Release(localID)
	m.logSubscription(localID, entry.ServerID, entry.ItemKey, "unsubscribe")

	return nil
}

// Close shuts the supervisor down, destroying the current session.
func (m *Supervisor) Close(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	sess := m.sess
	m.mu.Unlock()

	if sess != nil {
		sess.Close(ctx)
	}
	m.cancel()
	m.wg.Wait()
	m.setState(StateClosed)

	return nil
}

// activeSession returns the current session if it is usable.
func (m *Supervisor) activeSession() *session.Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.sess != nil && m.sess.State() == session.StateActive {
		return m.sess
	}
	return nil
}

// establish dials and starts one session, binding to an existing
// server session when bindID is set.
func (m *Supervisor) establish(ctx context.Context, bindID string) error {
	conn, err := m.dialer.Dial(ctx, m.config.Endpoint)
	if err != nil {
		return &session.TransportError{Op: "dial", Err: err}
	}

	handler := &sessionHandler{dispatcher: m.dispatcher, end: make(chan error, 1)}
	sess := session.New(m.config.Session, conn, handler, m.logger)

	if bindID != "" {
		err = sess.Bind(ctx, bindID)
	} else {
		err = sess.Create(ctx)
	}
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.sess = sess
	m.sessEnd = handler.end
	m.sessionID = sess.ID()
	m.mu.Unlock()

	return nil
}

// supervise waits for the current session to end and recovers from
// abnormal endings until closed or recovery gives up.
func (m *Supervisor) supervise() {
	defer m.wg.Done()

	for {
		m.mu.RLock()
		end := m.sessEnd
		m.mu.RUnlock()

		var endErr error
		select {
		case <-m.ctx.Done():
			return
		case endErr = <-end:
		}

		if endErr == nil {
			// Clean close.
			return
		}

		m.registry.InvalidateBindings()
		m.dispatcher.SessionReset()
		m.logSubscriptionAction("invalidate")

		var authErr *session.AuthError
		if errors.As(endErr, &authErr) {
			m.terminal(endErr)
			return
		}

		if !m.recover(endErr) {
			return
		}
	}
}

// recover runs the backoff loop until a session is re-established.
// Returns false when the supervisor should stop.
func (m *Supervisor) recover(cause error) bool {
	m.setState(StateReconnecting)

	// A server-requested rebind carries its own initial delay.
	var rebindErr *session.RebindRequestedError
	if errors.As(cause, &rebindErr) && rebindErr.Delay > 0 {
		if !m.sleep(rebindErr.Delay) {
			return false
		}
	}

	lastErr := cause
	for {
		if m.backoff.Exhausted() {
			m.terminal(fmt.Errorf("%w: last error: %w", ErrRetriesExhausted, lastErr))
			return false
		}
		if !m.sleep(m.backoff.Next()) {
			return false
		}

		rebound, err := m.reconnectOnce()
		if err == nil {
			m.backoff.Reset()
			m.setState(StateConnected)
			if perr := m.resubscribe(); perr != nil {
				m.notifyResubscribe(perr)
			}
			m.notifySessionUp(rebound)
			return true
		}

		var authErr *session.AuthError
		if errors.As(err, &authErr) {
			m.terminal(err)
			return false
		}
		lastErr = err
	}
}

// reconnectOnce tries to rebind the previous server session, falling
// back to a fresh session when the server no longer knows it.
func (m *Supervisor) reconnectOnce() (rebound bool, err error) {
	ctx, cancel := context.WithTimeout(m.ctx, m.config.Session.EstablishTimeout+transport.DefaultConnectTimeout)
	defer cancel()

	m.mu.RLock()
	bindID := m.sessionID
	m.mu.RUnlock()

	if bindID != "" {
		err := m.establish(ctx, bindID)
		if err == nil {
			return true, nil
		}
		var expired *session.SessionExpiredError
		if !errors.As(err, &expired) {
			return false, err
		}
		// The server forgot the session; start over.
		m.mu.Lock()
		m.sessionID = ""
		m.mu.Unlock()
	}

	return false, m.establish(ctx, "")
}

// resubscribe replays the desired subscription set onto the current
// session and rebinds server IDs.
func (m *Supervisor) resubscribe() *PartialResubscribeError {
	m.registry.Prune()

	m.mu.RLock()
	sess := m.sess
	m.mu.RUnlock()
	if sess == nil {
		return nil
	}

	var failures []ResubscribeFailure
	for _, e := range m.registry.DesiredSnapshot() {
		ctx, cancel := context.WithTimeout(m.ctx, m.config.RequestTimeout)
		serverID, err := sess.Subscribe(ctx, e.ItemKey, e.FieldSchema, e.Mode, wantSnapshot(e.Mode))
		cancel()
		if err != nil {
			failures = append(failures, ResubscribeFailure{LocalID: e.LocalID, ItemKey: e.ItemKey, Err: err})
			continue
		}
		if err := m.registry.BindServerID(e.LocalID, serverID); err != nil {
			failures = append(failures, ResubscribeFailure{LocalID: e.LocalID, ItemKey: e.ItemKey, Err: err})
			continue
		}
		m.logSubscription(e.LocalID, serverID, e.ItemKey, "replay")
	}

	if len(failures) > 0 {
		return &PartialResubscribeError{Failures: failures}
	}
	return nil
}

// sleep waits for d unless the supervisor is cancelled first.
func (m *Supervisor) sleep(d time.Duration) bool {
	if d <= 0 {
		return m.ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-m.ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (m *Supervisor) terminal(err error) {
	m.setState(StateFailed)

	log.Emit(m.logger, log.Event{
		Timestamp: time.Now(),
		Layer:     log.LayerSupervisor,
		Category:  log.CategoryError,
		SessionID: m.SessionID(),
		Error:     &log.ErrorEventData{Layer: log.LayerSupervisor, Message: err.Error()},
	})

	m.mu.RLock()
	fn := m.onTerminal
	m.mu.RUnlock()
	if fn != nil {
		fn(err)
	}
}

func (m *Supervisor) setState(newState State) {
	m.mu.Lock()
	oldState := m.state
	m.state = newState
	fn := m.onStateChange
	m.mu.Unlock()

	if oldState == newState {
		return
	}

	log.Emit(m.logger, log.Event{
		Timestamp:   time.Now(),
		Layer:       log.LayerSupervisor,
		Category:    log.CategoryState,
		SessionID:   m.SessionID(),
		StateChange: &log.StateChangeEvent{OldState: oldState.String(), NewState: newState.String()},
	})

	if fn != nil {
		fn(oldState, newState)
	}
}

func (m *Supervisor) notifySessionUp(rebound bool) {
	m.mu.RLock()
	fn := m.onSessionUp
	id := m.sessionID
	m.mu.RUnlock()
	if fn != nil {
		fn(id, rebound)
	}
}

func (m *Supervisor) notifyResubscribe(err *PartialResubscribeError) {
	log.Emit(m.logger, log.Event{
		Timestamp: time.Now(),
		Layer:     log.LayerSupervisor,
		Category:  log.CategoryError,
		SessionID: m.SessionID(),
		Error:     &log.ErrorEventData{Layer: log.LayerSupervisor, Message: err.Error()},
	})

	m.mu.RLock()
	fn := m.onResubscribe
	m.mu.RUnlock()
	if fn != nil {
		fn(err)
	}
}

func (m *Supervisor) logSubscription(localID uint32, serverID int, itemKey, action string) {
	log.Emit(m.logger, log.Event{
		Timestamp: time.Now(),
		Layer:     log.LayerSubscription,
		Category:  log.CategoryState,
		SessionID: m.SessionID(),
		Subscription: &log.SubscriptionEvent{
			LocalID:  localID,
			ServerID: serverID,
			ItemKey:  itemKey,
			Action:   action,
		},
	})
}

func (m *Supervisor) logSubscriptionAction(action string) {
	log.Emit(m.logger, log.Event{
		Timestamp:    time.Now(),
		Layer:        log.LayerSubscription,
		Category:     log.CategoryState,
		SessionID:    m.SessionID(),
		Subscription: &log.SubscriptionEvent{Action: action},
	})
}

// wantSnapshot reports whether a mode asks the server for an initial
// snapshot. Raw subscriptions are live-only.
func wantSnapshot(mode wire.Mode) bool {
	return mode != wire.ModeRaw
}

// sessionHandler bridges session events into the dispatcher and the
// supervisor's end-of-session channel.
type sessionHandler struct {
	dispatcher *dispatch.Dispatcher
	end        chan error
}

func (h *sessionHandler) OnUpdate(u wire.DataUpdate) {
	h.dispatcher.HandleUpdate(u)
}

func (h *sessionHandler) OnEndOfSnapshot(e wire.EndOfSnapshot) {
	h.dispatcher.HandleEndOfSnapshot(e)
}

func (h *sessionHandler) OnStateChange(oldState, newState session.State) {}

func (h *sessionHandler) OnEnd(err error) {
	select {
	case h.end <- err:
	default:
	}
}
