package collab

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/jkivinie/stave/bus"
)

// State is the adapter's connection state. Disposed is terminal.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateDisposed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisposed:
		return "disposed"
	}
	return "unknown"
}

var (
	// ErrDisposed is returned when the adapter is used after Dispose.
	ErrDisposed = errors.New("adapter disposed")
	// ErrNotInitialized is returned when the adapter is used before
	// Initialize.
	ErrNotInitialized = errors.New("adapter not initialized")
	// ErrJoinTimeout is returned when the server does not answer a join
	// with a sync snapshot in time.
	ErrJoinTimeout = errors.New("join timed out waiting for sync")
	// ErrReconnectFailed is reported via OnError when the reconnect loop
	// gives up.
	ErrReconnectFailed = errors.New("reconnect attempts exhausted")
)

// Config tunes the adapter's timers. Zero values get defaults.
type Config struct {
	HeartbeatInterval    time.Duration // default 30s
	ReconnectBase        time.Duration // default 1s, doubled per attempt
	MaxReconnectAttempts int           // default 5
	JoinTimeout          time.Duration // default 10s
	Log                  logrus.FieldLogger
}

func (c Config) withDefaults() Config {
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 30 * time.Second
	}
	if c.ReconnectBase <= 0 {
		c.ReconnectBase = time.Second
	}
	if c.MaxReconnectAttempts <= 0 {
		c.MaxReconnectAttempts = 5
	}
	if c.JoinTimeout <= 0 {
		c.JoinTimeout = 10 * time.Second
	}
	if c.Log == nil {
		c.Log = logrus.StandardLogger()
	}
	return c
}

// Callbacks notify the hosting application. All callbacks are invoked from
// the adapter's receive goroutine, so they must not block for long. Nil
// callbacks are skipped.
type Callbacks struct {
	OnUserJoined       func(User)
	OnUserLeft         func(User)
	OnUserCursorMoved  func(User)
	OnOperation        func(Operation)
	OnConflictDetected func(Operation, []Conflict)
	OnStateChange      func(State)
	OnError            func(error)
}

// Adapter keeps one client's view of a collaboration session in sync with
// the server. It serializes local mutations into operations, transforms
// incoming operations against the pending local ones and republishes the
// accepted ones on the event bus under EventRemoteOperation.
type Adapter struct {
	transport Transport
	eventBus  *bus.Bus
	cfg       Config
	cb        Callbacks
	log       logrus.FieldLogger

	mu          sync.Mutex
	state       State
	initialized bool
	user        User
	session     *Session
	sessionID   string // last joined session, for automatic rejoin
	pending     map[string]Operation
	attempts    int
	heartbeat   chan struct{} // closed to stop the heartbeat goroutine
	reconnect   *time.Timer
	joinWaiters map[string][]chan *Session
	domainSubs  []bus.SubscriptionID
}

// NewAdapter wires a transport and an event bus into an adapter.
func NewAdapter(transport Transport, eventBus *bus.Bus, cfg Config, cb Callbacks) *Adapter {
	cfg = cfg.withDefaults()
	return &Adapter{
		transport:   transport,
		eventBus:    eventBus,
		cfg:         cfg,
		cb:          cb,
		log:         cfg.Log,
		pending:     map[string]Operation{},
		joinWaiters: map[string][]chan *Session{},
	}
}

// Initialize stores the local user identity and opens the transport.
func (a *Adapter) Initialize(ctx context.Context, user User) error {
	a.mu.Lock()
	if a.state == StateDisposed {
		a.mu.Unlock()
		return ErrDisposed
	}
	a.user = user
	a.initialized = true
	a.mu.Unlock()
	return a.Connect(ctx)
}

// Connect opens the transport. On success the heartbeat starts and the
// reconnect counter resets; on failure a reconnect attempt is scheduled.
func (a *Adapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	if a.state == StateDisposed {
		a.mu.Unlock()
		return ErrDisposed
	}
	if !a.initialized {
		a.mu.Unlock()
		return ErrNotInitialized
	}
	a.setStateLocked(StateConnecting)
	a.mu.Unlock()

	ch, err := a.transport.Dial(ctx)
	if err != nil {
		a.log.WithError(err).Warn("connect failed")
		a.mu.Lock()
		a.setStateLocked(StateDisconnected)
		a.mu.Unlock()
		a.reportError(err)
		a.scheduleReconnect()
		return err
	}

	a.mu.Lock()
	a.attempts = 0
	a.setStateLocked(StateConnected)
	a.startHeartbeatLocked()
	a.mu.Unlock()

	go a.receiveLoop(ch)
	return nil
}

// receiveLoop drains one connection's messages; the channel closing means
// the connection dropped.
func (a *Adapter) receiveLoop(ch <-chan Message) {
	for msg := range ch {
		a.handleMessage(msg)
	}
	a.mu.Lock()
	if a.state == StateDisposed {
		a.mu.Unlock()
		return
	}
	a.stopHeartbeatLocked()
	a.setStateLocked(StateDisconnected)
	a.mu.Unlock()
	a.log.Info("connection lost")
	a.scheduleReconnect()
}

// scheduleReconnect arms a timer with exponential backoff:
// base * 2^(attempt-1), giving up after MaxReconnectAttempts. After a
// successful reconnect the active session, if any, is rejoined.
func (a *Adapter) scheduleReconnect() {
	a.mu.Lock()
	if a.state == StateDisposed {
		a.mu.Unlock()
		return
	}
	a.attempts++
	if a.attempts > a.cfg.MaxReconnectAttempts {
		a.mu.Unlock()
		a.log.Error("reconnect attempts exhausted")
		a.reportError(ErrReconnectFailed)
		return
	}
	delay := a.cfg.ReconnectBase << (a.attempts - 1)
	attempt := a.attempts
	a.reconnect = time.AfterFunc(delay, func() {
		a.log.WithField("attempt", attempt).Info("reconnecting")
		if err := a.Connect(context.Background()); err != nil {
			return
		}
		if sid := a.activeSessionID(); sid != "" {
			ctx, cancel := context.WithTimeout(context.Background(), a.cfg.JoinTimeout)
			defer cancel()
			if _, err := a.JoinSession(ctx, sid); err != nil {
				a.log.WithError(err).WithField("sessionId", sid).Warn("session rejoin failed")
			}
		}
	})
	a.mu.Unlock()
	a.log.WithFields(logrus.Fields{"attempt": attempt, "delay": delay}).Info("reconnect scheduled")
}

func (a *Adapter) activeSessionID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sessionID
}

// JoinSession sends a join message and waits for the server's sync snapshot
// of that session, or fails after the configured join timeout.
func (a *Adapter) JoinSession(ctx context.Context, sessionID string) (*Session, error) {
	a.mu.Lock()
	switch {
	case a.state == StateDisposed:
		a.mu.Unlock()
		return nil, ErrDisposed
	case !a.initialized:
		a.mu.Unlock()
		return nil, ErrNotInitialized
	case a.state != StateConnected:
		a.mu.Unlock()
		return nil, ErrNotConnected
	}
	waiter := make(chan *Session, 1)
	a.joinWaiters[sessionID] = append(a.joinWaiters[sessionID], waiter)
	user := a.user
	a.mu.Unlock()

	msg, err := NewMessage(MessageJoin, sessionID, user.ID, user)
	if err != nil {
		a.removeWaiter(sessionID, waiter)
		return nil, err
	}
	if err := a.transport.Send(msg); err != nil {
		a.removeWaiter(sessionID, waiter)
		return nil, fmt.Errorf("send join: %w", err)
	}

	select {
	case s, ok := <-waiter:
		// Dispose closes the waiters; a closed channel is not a join.
		if !ok {
			return nil, ErrDisposed
		}
		return s, nil
	case <-ctx.Done():
		a.removeWaiter(sessionID, waiter)
		return nil, ctx.Err()
	case <-time.After(a.cfg.JoinTimeout):
		a.removeWaiter(sessionID, waiter)
		return nil, fmt.Errorf("%w: session %s", ErrJoinTimeout, sessionID)
	}
}

func (a *Adapter) removeWaiter(sessionID string, waiter chan *Session) {
	a.mu.Lock()
	defer a.mu.Unlock()
	list := a.joinWaiters[sessionID]
	for i, w := range list {
		if w == waiter {
			a.joinWaiters[sessionID] = append(list[:i], list[i+1:]...)
			return
		}
	}
}

// LeaveSession announces the departure and clears the local session state.
func (a *Adapter) LeaveSession() error {
	a.mu.Lock()
	if a.session == nil {
		a.mu.Unlock()
		return nil
	}
	sessionID := a.session.ID
	userID := a.user.ID
	a.session = nil
	a.sessionID = ""
	a.pending = map[string]Operation{}
	connected := a.state == StateConnected
	a.mu.Unlock()

	if !connected {
		return nil
	}
	msg, err := NewMessage(MessageLeave, sessionID, userID, nil)
	if err != nil {
		return err
	}
	if err := a.transport.Send(msg); err != nil {
		a.log.WithError(err).Warn("send leave failed")
	}
	return nil
}

// SendOperation stamps the operation with an id, timestamp, user and
// version, records it as pending so the server echo can be matched, and
// transmits it. Sending while disconnected is a logged no-op.
func (a *Adapter) SendOperation(op Operation) error {
	a.mu.Lock()
	if a.state == StateDisposed {
		a.mu.Unlock()
		return ErrDisposed
	}
	if a.state != StateConnected || a.session == nil {
		a.mu.Unlock()
		a.log.WithField("opType", op.Type).Warn("dropping operation: not in a connected session")
		return nil
	}
	if op.ID == "" {
		op.ID = uuid.NewString()
	}
	op.UserID = a.user.ID
	op.Timestamp = time.Now().UTC()
	if op.Version == 0 {
		op.Version = a.session.Version + 1
	}
	a.pending[op.ID] = op
	sessionID := a.session.ID
	a.mu.Unlock()

	msg, err := NewMessage(MessageOperation, sessionID, op.UserID, op)
	if err != nil {
		a.forgetPending(op.ID)
		return err
	}
	if err := a.transport.Send(msg); err != nil {
		a.forgetPending(op.ID)
		a.log.WithError(err).Warn("send operation failed")
		return nil
	}
	return nil
}

func (a *Adapter) forgetPending(id string) {
	a.mu.Lock()
	delete(a.pending, id)
	a.mu.Unlock()
}

// UpdateCursor broadcasts the local user's timeline position. Best effort:
// not part of the operation log, never an error.
func (a *Adapter) UpdateCursor(trackID string, position float64) {
	a.mu.Lock()
	if a.state != StateConnected || a.session == nil {
		a.mu.Unlock()
		return
	}
	sessionID := a.session.ID
	userID := a.user.ID
	a.mu.Unlock()

	msg, err := NewMessage(MessageCursor, sessionID, userID, CursorPos{TrackID: trackID, Position: position})
	if err != nil {
		return
	}
	if err := a.transport.Send(msg); err != nil {
		a.log.WithError(err).Debug("cursor update dropped")
	}
}

// Session returns a copy of the current session, or nil when not joined.
func (a *Adapter) Session() *Session {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.session == nil {
		return nil
	}
	return a.session.Copy()
}

// State returns the adapter's current state.
func (a *Adapter) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// PendingCount returns the number of local operations awaiting their echo.
func (a *Adapter) PendingCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.pending)
}

// Dispose closes the transport and drops all state. Terminal: a disposed
// adapter rejects every further call.
func (a *Adapter) Dispose() {
	a.mu.Lock()
	if a.state == StateDisposed {
		a.mu.Unlock()
		return
	}
	a.stopHeartbeatLocked()
	if a.reconnect != nil {
		a.reconnect.Stop()
	}
	a.setStateLocked(StateDisposed)
	a.session = nil
	a.sessionID = ""
	a.pending = map[string]Operation{}
	for _, waiters := range a.joinWaiters {
		for _, w := range waiters {
			close(w)
		}
	}
	a.joinWaiters = map[string][]chan *Session{}
	subs := a.domainSubs
	a.domainSubs = nil
	a.mu.Unlock()

	for _, id := range subs {
		a.eventBus.Unsubscribe(id)
	}
	if err := a.transport.Close(); err != nil {
		a.log.WithError(err).Debug("transport close")
	}
}

func (a *Adapter) setStateLocked(s State) {
	if a.state == s {
		return
	}
	a.state = s
	if a.cb.OnStateChange != nil {
		// Callbacks must not call back into the adapter from here.
		go a.cb.OnStateChange(s)
	}
}

func (a *Adapter) reportError(err error) {
	if a.cb.OnError != nil {
		a.cb.OnError(err)
	}
}

func (a *Adapter) startHeartbeatLocked() {
	a.stopHeartbeatLocked()
	stop := make(chan struct{})
	a.heartbeat = stop
	interval := a.cfg.HeartbeatInterval
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				a.sendHeartbeat()
			}
		}
	}()
}

func (a *Adapter) stopHeartbeatLocked() {
	if a.heartbeat != nil {
		close(a.heartbeat)
		a.heartbeat = nil
	}
}

func (a *Adapter) sendHeartbeat() {
	a.mu.Lock()
	if a.state != StateConnected {
		a.mu.Unlock()
		return
	}
	sessionID := a.sessionID
	userID := a.user.ID
	a.mu.Unlock()

	msg, err := NewMessage(MessageHeartbeat, sessionID, userID, nil)
	if err != nil {
		return
	}
	if err := a.transport.Send(msg); err != nil {
		a.log.WithError(err).Debug("heartbeat dropped")
	}
}
