package collab_test

import (
	"context"
	"encoding/json"
	"errors"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jkivinie/stave"
	"github.com/jkivinie/stave/bus"
	"github.com/jkivinie/stave/collab"
)

// fakeTransport is an in-memory Transport for driving the adapter without a
// network. Messages delivered with deliver show up on the receive channel;
// everything the adapter sends is recorded.
type fakeTransport struct {
	mu        sync.Mutex
	ch        chan collab.Message
	sent      []collab.Message
	dials     int
	dialErr   error
	sendErr   error
	failNext  int  // fail this many upcoming dials
	reuseConn bool // hand out the same channel on every dial
}

func (t *fakeTransport) Dial(ctx context.Context) (<-chan collab.Message, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.dials++
	if t.failNext > 0 {
		t.failNext--
		return nil, errors.New("connection refused")
	}
	if t.dialErr != nil {
		return nil, t.dialErr
	}
	if t.reuseConn && t.ch != nil {
		return t.ch, nil
	}
	t.ch = make(chan collab.Message, 16)
	return t.ch, nil
}

func (t *fakeTransport) Send(msg collab.Message) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sendErr != nil {
		return t.sendErr
	}
	t.sent = append(t.sent, msg)
	return nil
}

func (t *fakeTransport) Close() error {
	t.dropConn()
	return nil
}

func (t *fakeTransport) deliver(msg collab.Message) {
	t.mu.Lock()
	ch := t.ch
	t.mu.Unlock()
	if ch == nil {
		return
	}
	ch <- msg
}

// dropConn closes the current receive channel, as a dropped connection
// would, without touching the rest of the transport.
func (t *fakeTransport) dropConn() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.ch != nil {
		close(t.ch)
		t.ch = nil
	}
}

func (t *fakeTransport) setFailNext(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failNext = n
}

func (t *fakeTransport) dialCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dials
}

func (t *fakeTransport) countSent(typ collab.MessageType) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, msg := range t.sent {
		if msg.Type == typ {
			n++
		}
	}
	return n
}

// awaitSent waits until a message of the given type has been sent and
// returns it.
func (t *fakeTransport) awaitSent(typ collab.MessageType) (collab.Message, bool) {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		t.mu.Lock()
		for _, msg := range t.sent {
			if msg.Type == typ {
				t.mu.Unlock()
				return msg, true
			}
		}
		t.mu.Unlock()
		time.Sleep(5 * time.Millisecond)
	}
	return collab.Message{}, false
}

func (t *fakeTransport) lastOperation() (collab.Operation, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := len(t.sent) - 1; i >= 0; i-- {
		if t.sent[i].Type == collab.MessageOperation {
			var op collab.Operation
			if err := t.sent[i].DecodeData(&op); err != nil {
				return collab.Operation{}, false
			}
			return op, true
		}
	}
	return collab.Operation{}, false
}

func quietLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return log
}

func newTestAdapter(t *testing.T, cb collab.Callbacks) (*collab.Adapter, *fakeTransport, *bus.Bus) {
	t.Helper()
	tr := &fakeTransport{}
	b := bus.New()
	// Long timers so that neither heartbeats nor reconnects fire on their
	// own during a test.
	cfg := collab.Config{
		HeartbeatInterval:    time.Hour,
		ReconnectBase:        time.Hour,
		MaxReconnectAttempts: 1,
		JoinTimeout:          2 * time.Second,
		Log:                  quietLogger(),
	}
	a := collab.NewAdapter(tr, b, cfg, cb)
	t.Cleanup(a.Dispose)
	if err := a.Initialize(context.Background(), collab.User{ID: "alice", Name: "Alice"}); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	return a, tr, b
}

// join answers the adapter's join message with a sync snapshot and returns
// the session JoinSession saw.
func join(t *testing.T, a *collab.Adapter, tr *fakeTransport, snapshot collab.Session) *collab.Session {
	t.Helper()
	go func() {
		if _, ok := tr.awaitSent(collab.MessageJoin); !ok {
			return
		}
		msg, err := collab.NewMessage(collab.MessageSync, snapshot.ID, "server", snapshot)
		if err != nil {
			return
		}
		tr.deliver(msg)
	}()
	s, err := a.JoinSession(context.Background(), snapshot.ID)
	if err != nil {
		t.Fatalf("JoinSession failed: %v", err)
	}
	return s
}

func TestJoinSessionSync(t *testing.T) {
	a, tr, _ := newTestAdapter(t, collab.Callbacks{})
	snapshot := collab.Session{
		ID:      "jam",
		Version: 3,
		Users:   []collab.User{{ID: "bob", Name: "Bob"}},
	}
	s := join(t, a, tr, snapshot)
	if s.Version != 3 {
		t.Errorf("joined session version = %d, want 3", s.Version)
	}
	if a.State() != collab.StateConnected {
		t.Errorf("state = %v, want connected", a.State())
	}
	local := a.Session()
	if local == nil || local.ID != "jam" {
		t.Fatalf("Session() = %v, want session jam", local)
	}
	// Session returns a copy, not the adapter's own state.
	local.Version = 99
	if again := a.Session(); again.Version != 3 {
		t.Errorf("mutating the returned session leaked into the adapter")
	}
}

func TestJoinSessionTimeout(t *testing.T) {
	tr := &fakeTransport{}
	cfg := collab.Config{
		HeartbeatInterval:    time.Hour,
		ReconnectBase:        time.Hour,
		MaxReconnectAttempts: 1,
		JoinTimeout:          50 * time.Millisecond,
		Log:                  quietLogger(),
	}
	a := collab.NewAdapter(tr, bus.New(), cfg, collab.Callbacks{})
	t.Cleanup(a.Dispose)
	if err := a.Initialize(context.Background(), collab.User{ID: "alice"}); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	if _, err := a.JoinSession(context.Background(), "jam"); !errors.Is(err, collab.ErrJoinTimeout) {
		t.Errorf("JoinSession error = %v, want ErrJoinTimeout", err)
	}
}

func TestOperationEchoClearsPending(t *testing.T) {
	remoteOps := make(chan collab.Operation, 4)
	a, tr, b := newTestAdapter(t, collab.Callbacks{})
	if _, err := b.Subscribe(collab.EventRemoteOperation, func(evt bus.Event) error {
		remoteOps <- evt.Payload.(collab.Operation)
		return nil
	}); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	join(t, a, tr, collab.Session{ID: "jam", Version: 1})

	if err := a.SendOperation(collab.Operation{Type: collab.OpInsert, AggregateID: "clip1"}); err != nil {
		t.Fatalf("SendOperation failed: %v", err)
	}
	if a.PendingCount() != 1 {
		t.Fatalf("PendingCount = %d after send, want 1", a.PendingCount())
	}

	// The server echoes the operation back; that clears the pending entry
	// without republishing it as a remote change.
	echo, ok := tr.lastOperation()
	if !ok {
		t.Fatalf("operation was not sent")
	}
	echoMsg, err := collab.NewMessage(collab.MessageOperation, "jam", echo.UserID, echo)
	if err != nil {
		t.Fatalf("NewMessage failed: %v", err)
	}
	tr.deliver(echoMsg)

	// A genuinely remote operation follows and must come out on the bus.
	remote := collab.Operation{
		ID: "remote-1", Type: collab.OpUpdate, UserID: "bob",
		AggregateID: "clip2", AggregateType: "clip",
		Timestamp: time.Now().UTC(), Version: 5,
	}
	remoteMsg, err := collab.NewMessage(collab.MessageOperation, "jam", "bob", remote)
	if err != nil {
		t.Fatalf("NewMessage failed: %v", err)
	}
	tr.deliver(remoteMsg)

	select {
	case op := <-remoteOps:
		if op.ID != "remote-1" {
			t.Errorf("republished operation %q, want remote-1 (the echo must not be republished)", op.ID)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("remote operation never reached the bus")
	}
	if a.PendingCount() != 0 {
		t.Errorf("PendingCount = %d after echo, want 0", a.PendingCount())
	}
	if s := a.Session(); s.Version != 3 {
		t.Errorf("session version = %d after two operations, want 3", s.Version)
	}
}

func TestTransformFlagsConflicts(t *testing.T) {
	conflictCh := make(chan []collab.Conflict, 1)
	a, tr, _ := newTestAdapter(t, collab.Callbacks{
		OnConflictDetected: func(_ collab.Operation, cs []collab.Conflict) {
			conflictCh <- cs
		},
	})
	join(t, a, tr, collab.Session{ID: "jam", Version: 3})

	if err := a.SendOperation(collab.Operation{Type: collab.OpMove, AggregateID: "clip1"}); err != nil {
		t.Fatalf("SendOperation failed: %v", err)
	}

	// A remote operation on the same aggregate, created after the local one
	// but against an older session version.
	remote := collab.Operation{
		ID: "remote-1", Type: collab.OpUpdate, UserID: "bob",
		AggregateID: "clip1", AggregateType: "clip",
		Timestamp: time.Now().UTC().Add(time.Second), Version: 1,
	}
	msg, err := collab.NewMessage(collab.MessageOperation, "jam", "bob", remote)
	if err != nil {
		t.Fatalf("NewMessage failed: %v", err)
	}
	tr.deliver(msg)

	var conflicts []collab.Conflict
	select {
	case conflicts = <-conflictCh:
	case <-time.After(2 * time.Second):
		t.Fatalf("no conflicts reported")
	}
	kinds := map[collab.ConflictKind]bool{}
	for _, c := range conflicts {
		kinds[c.Kind] = true
	}
	if !kinds[collab.ConflictPendingOperation] {
		t.Errorf("missing pending-operation conflict, got %v", conflicts)
	}
	if !kinds[collab.ConflictStaleVersion] {
		t.Errorf("missing stale-version conflict, got %v", conflicts)
	}
	// Conflicts are data, not rejection: the operation is applied anyway.
	if s := a.Session(); s.Version != 4 {
		t.Errorf("session version = %d, want 4 (conflicting operation still applied)", s.Version)
	}
	if a.PendingCount() != 1 {
		t.Errorf("PendingCount = %d, want 1 (local operation still awaiting echo)", a.PendingCount())
	}
}

func TestJoinSessionDisposedWhileWaiting(t *testing.T) {
	a, tr, _ := newTestAdapter(t, collab.Callbacks{})
	go func() {
		if _, ok := tr.awaitSent(collab.MessageJoin); ok {
			a.Dispose()
		}
	}()
	s, err := a.JoinSession(context.Background(), "jam")
	if !errors.Is(err, collab.ErrDisposed) {
		t.Errorf("JoinSession error = %v, want ErrDisposed", err)
	}
	if s != nil {
		t.Errorf("JoinSession returned a session from a disposed adapter")
	}
}

// answerJoins answers every join message with a sync snapshot until stop is
// closed, standing in for the server across reconnects.
func answerJoins(tr *fakeTransport, snapshot collab.Session, stop <-chan struct{}) {
	answered := 0
	for {
		select {
		case <-stop:
			return
		default:
		}
		if n := tr.countSent(collab.MessageJoin); n > answered {
			if msg, err := collab.NewMessage(collab.MessageSync, snapshot.ID, "server", snapshot); err == nil {
				tr.deliver(msg)
			}
			answered++
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestReconnectRestoresSession(t *testing.T) {
	tr := &fakeTransport{}
	cfg := collab.Config{
		HeartbeatInterval:    time.Hour,
		ReconnectBase:        5 * time.Millisecond,
		MaxReconnectAttempts: 2,
		JoinTimeout:          2 * time.Second,
		Log:                  quietLogger(),
	}
	a := collab.NewAdapter(tr, bus.New(), cfg, collab.Callbacks{})
	t.Cleanup(a.Dispose)
	if err := a.Initialize(context.Background(), collab.User{ID: "alice"}); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	stop := make(chan struct{})
	defer close(stop)
	go answerJoins(tr, collab.Session{ID: "jam", Version: 2}, stop)

	if _, err := a.JoinSession(context.Background(), "jam"); err != nil {
		t.Fatalf("JoinSession failed: %v", err)
	}

	// The connection drops; the first redial fails, the second succeeds and
	// the session is rejoined without the caller doing anything.
	tr.setFailNext(1)
	tr.dropConn()
	waitFor(t, "automatic rejoin", func() bool {
		return a.State() == collab.StateConnected && tr.countSent(collab.MessageJoin) >= 2
	})
	waitFor(t, "session restore", func() bool { return a.Session() != nil })
	if s := a.Session(); s.ID != "jam" || s.Version != 2 {
		t.Errorf("restored session = %+v, want jam at version 2", s)
	}
	if got := tr.dialCount(); got != 3 {
		t.Errorf("dial count = %d, want 3 (initial, failed redial, successful redial)", got)
	}

	// The attempt counter reset on success: a second outage of the same
	// shape still recovers inside the two-attempt budget.
	tr.setFailNext(1)
	tr.dropConn()
	waitFor(t, "second recovery", func() bool {
		return a.State() == collab.StateConnected && tr.countSent(collab.MessageJoin) >= 3
	})
	if got := tr.dialCount(); got != 5 {
		t.Errorf("dial count = %d, want 5 after the second outage", got)
	}
}

func TestRepeatedConnectLeavesNoStrayGoroutines(t *testing.T) {
	tr := &fakeTransport{reuseConn: true}
	cfg := collab.Config{
		HeartbeatInterval:    time.Hour,
		ReconnectBase:        time.Hour,
		MaxReconnectAttempts: 1,
		JoinTimeout:          time.Second,
		Log:                  quietLogger(),
	}
	baseline := runtime.NumGoroutine()
	a := collab.NewAdapter(tr, bus.New(), cfg, collab.Callbacks{})
	if err := a.Initialize(context.Background(), collab.User{ID: "alice"}); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	// Each redundant connect must stop the previous heartbeat instead of
	// abandoning it.
	for i := 0; i < 5; i++ {
		if err := a.Connect(context.Background()); err != nil {
			t.Fatalf("Connect %d failed: %v", i, err)
		}
	}
	a.Dispose()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if runtime.NumGoroutine() <= baseline+2 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Errorf("%d goroutines linger after dispose, started from %d", runtime.NumGoroutine(), baseline)
}

func TestReconnectGivesUp(t *testing.T) {
	tr := &fakeTransport{dialErr: errors.New("connection refused")}
	gaveUp := make(chan struct{})
	cfg := collab.Config{
		HeartbeatInterval:    time.Hour,
		ReconnectBase:        5 * time.Millisecond,
		MaxReconnectAttempts: 2,
		JoinTimeout:          time.Second,
		Log:                  quietLogger(),
	}
	cb := collab.Callbacks{
		OnError: func(err error) {
			if errors.Is(err, collab.ErrReconnectFailed) {
				close(gaveUp)
			}
		},
	}
	a := collab.NewAdapter(tr, bus.New(), cfg, cb)
	t.Cleanup(a.Dispose)
	if err := a.Initialize(context.Background(), collab.User{ID: "alice"}); err == nil {
		t.Fatalf("Initialize should fail when the dial fails")
	}

	select {
	case <-gaveUp:
	case <-time.After(2 * time.Second):
		t.Fatalf("reconnect loop never gave up")
	}
	// The initial dial plus one per retry attempt.
	if got := tr.dialCount(); got != 3 {
		t.Errorf("dial count = %d, want 3", got)
	}
	if a.State() != collab.StateDisconnected {
		t.Errorf("state = %v, want disconnected", a.State())
	}
}

func TestDisposeIsTerminal(t *testing.T) {
	a, _, _ := newTestAdapter(t, collab.Callbacks{})
	a.Dispose()
	if a.State() != collab.StateDisposed {
		t.Fatalf("state = %v, want disposed", a.State())
	}
	if err := a.SendOperation(collab.Operation{Type: collab.OpInsert}); !errors.Is(err, collab.ErrDisposed) {
		t.Errorf("SendOperation error = %v, want ErrDisposed", err)
	}
	if _, err := a.JoinSession(context.Background(), "jam"); !errors.Is(err, collab.ErrDisposed) {
		t.Errorf("JoinSession error = %v, want ErrDisposed", err)
	}
	if err := a.Connect(context.Background()); !errors.Is(err, collab.ErrDisposed) {
		t.Errorf("Connect error = %v, want ErrDisposed", err)
	}
}

func TestSendOperationWhileDisconnectedIsDropped(t *testing.T) {
	tr := &fakeTransport{dialErr: errors.New("connection refused")}
	cfg := collab.Config{
		HeartbeatInterval:    time.Hour,
		ReconnectBase:        time.Hour,
		MaxReconnectAttempts: 1,
		JoinTimeout:          time.Second,
		Log:                  quietLogger(),
	}
	a := collab.NewAdapter(tr, bus.New(), cfg, collab.Callbacks{})
	t.Cleanup(a.Dispose)
	a.Initialize(context.Background(), collab.User{ID: "alice"})

	if err := a.SendOperation(collab.Operation{Type: collab.OpInsert, AggregateID: "clip1"}); err != nil {
		t.Errorf("sending while disconnected should be a silent drop, got %v", err)
	}
	if a.PendingCount() != 0 {
		t.Errorf("dropped operation must not linger as pending")
	}
}

func TestBindDomainEvents(t *testing.T) {
	a, tr, b := newTestAdapter(t, collab.Callbacks{})
	join(t, a, tr, collab.Session{ID: "jam", Version: 1})
	if err := a.BindDomainEvents(); err != nil {
		t.Fatalf("BindDomainEvents failed: %v", err)
	}

	r, err := stave.NewTimeRange(4, 2)
	if err != nil {
		t.Fatalf("NewTimeRange failed: %v", err)
	}
	clip, err := stave.NewMidiClip("lead", r, stave.InstrumentRef{Name: "saw", Kind: stave.InstrumentSynth})
	if err != nil {
		t.Fatalf("NewMidiClip failed: %v", err)
	}
	b.Publish(bus.Event{Type: collab.EventClipAdded, Payload: collab.ClipEvent{TrackID: "t1", Clip: clip}})

	op, ok := tr.lastOperation()
	if !ok {
		t.Fatalf("clip event did not produce an operation")
	}
	if op.Type != collab.OpInsert {
		t.Errorf("operation type = %q, want insert", op.Type)
	}
	if op.AggregateID != string(clip.ID) || op.AggregateType != "clip" {
		t.Errorf("operation aggregate = %s/%s, want clip/%s", op.AggregateType, op.AggregateID, clip.ID)
	}
	var ce collab.ClipEvent
	if err := json.Unmarshal(op.Data, &ce); err != nil {
		t.Fatalf("decoding operation data: %v", err)
	}
	if ce.Clip == nil || ce.Clip.ID != clip.ID {
		t.Errorf("operation payload lost the clip")
	}
}
