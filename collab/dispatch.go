package collab

import (
	"time"
)

// Event types the adapter republishes on the event bus.
const (
	EventRemoteOperation = "collab.operation"
	EventSessionSynced   = "collab.sync"
	EventUserJoined      = "collab.user.joined"
	EventUserLeft        = "collab.user.left"
)

// handleMessage dispatches one incoming transport message. Runs on the
// receive goroutine, so the handlers here are the single writer of the
// session state.
func (a *Adapter) handleMessage(msg Message) {
	switch msg.Type {
	case MessageJoin:
		a.handleJoin(msg)
	case MessageLeave:
		a.handleLeave(msg)
	case MessageCursor:
		a.handleCursor(msg)
	case MessageSync:
		a.handleSync(msg)
	case MessageOperation:
		a.handleOperation(msg)
	case MessageHeartbeat:
		a.handleHeartbeat(msg)
	default:
		a.log.WithField("type", msg.Type).Debug("ignoring unknown message")
	}
}

func (a *Adapter) handleJoin(msg Message) {
	var u User
	if err := msg.DecodeData(&u); err != nil {
		a.log.WithError(err).Warn("bad join message")
		return
	}
	u.LastSeen = time.Now().UTC()
	a.mu.Lock()
	if a.session != nil && a.session.ID == msg.SessionID {
		a.session.UpsertUser(u)
	}
	a.mu.Unlock()
	if a.cb.OnUserJoined != nil {
		a.cb.OnUserJoined(u)
	}
	a.publish(EventUserJoined, u)
}

func (a *Adapter) handleLeave(msg Message) {
	a.mu.Lock()
	var left User
	var ok bool
	if a.session != nil && a.session.ID == msg.SessionID {
		left, ok = a.session.RemoveUser(msg.UserID)
	}
	a.mu.Unlock()
	if !ok {
		return
	}
	if a.cb.OnUserLeft != nil {
		a.cb.OnUserLeft(left)
	}
	a.publish(EventUserLeft, left)
}

func (a *Adapter) handleCursor(msg Message) {
	var pos CursorPos
	if err := msg.DecodeData(&pos); err != nil {
		a.log.WithError(err).Warn("bad cursor message")
		return
	}
	a.mu.Lock()
	var moved *User
	if a.session != nil && a.session.ID == msg.SessionID {
		if u, ok := a.session.UserByID(msg.UserID); ok {
			u.Cursor = &pos
			u.LastSeen = time.Now().UTC()
			copied := *u
			moved = &copied
		}
	}
	a.mu.Unlock()
	if moved != nil && a.cb.OnUserCursorMoved != nil {
		a.cb.OnUserCursorMoved(*moved)
	}
}

// handleSync replaces the whole local session snapshot and wakes up any
// JoinSession call waiting for this session.
func (a *Adapter) handleSync(msg Message) {
	var s Session
	if err := msg.DecodeData(&s); err != nil {
		a.log.WithError(err).Warn("bad sync message")
		return
	}
	a.mu.Lock()
	a.session = &s
	a.sessionID = s.ID
	waiters := a.joinWaiters[s.ID]
	delete(a.joinWaiters, s.ID)
	a.mu.Unlock()

	a.log.WithField("sessionId", s.ID).WithField("version", s.Version).Info("session synced")
	for _, w := range waiters {
		w <- s.Copy()
	}
	a.publish(EventSessionSynced, s.Copy())
}

func (a *Adapter) handleOperation(msg Message) {
	var op Operation
	if err := msg.DecodeData(&op); err != nil {
		a.log.WithError(err).Warn("bad operation message")
		return
	}
	a.transformOperation(msg.SessionID, op)
}

func (a *Adapter) handleHeartbeat(msg Message) {
	a.mu.Lock()
	if a.session != nil && a.session.ID == msg.SessionID {
		if u, ok := a.session.UserByID(msg.UserID); ok {
			u.LastSeen = time.Now().UTC()
		}
	}
	a.mu.Unlock()
}

// transformOperation is the simplified transform step. It flags a conflict
// for every still-pending local operation on the same aggregate created
// before the incoming one, and a stale-version conflict when the incoming
// operation predates the session version. The operation is applied either
// way: conflicts are reported, last writer wins.
func (a *Adapter) transformOperation(sessionID string, op Operation) {
	a.mu.Lock()
	if a.session == nil || a.session.ID != sessionID {
		a.mu.Unlock()
		a.log.WithField("sessionId", sessionID).Debug("operation for inactive session dropped")
		return
	}

	var conflicts []Conflict
	for id, local := range a.pending {
		if id == op.ID {
			continue
		}
		if local.AggregateID == op.AggregateID && local.Timestamp.Before(op.Timestamp) {
			localCopy := local
			conflicts = append(conflicts, Conflict{
				Kind:    ConflictPendingOperation,
				Local:   &localCopy,
				Remote:  op,
				Details: "local operation on the same aggregate still in flight",
			})
		}
	}
	if op.Version < a.session.Version {
		conflicts = append(conflicts, Conflict{
			Kind:    ConflictStaleVersion,
			Remote:  op,
			Details: "operation made against an older session version",
		})
	}

	a.session.Append(op)
	_, wasLocal := a.pending[op.ID]
	delete(a.pending, op.ID)
	a.mu.Unlock()

	if len(conflicts) > 0 && a.cb.OnConflictDetected != nil {
		a.cb.OnConflictDetected(op, conflicts)
	}
	if a.cb.OnOperation != nil {
		a.cb.OnOperation(op)
	}
	if !wasLocal {
		a.publish(EventRemoteOperation, op)
	}
}

func (a *Adapter) publish(eventType string, payload any) {
	if a.eventBus == nil {
		return
	}
	a.eventBus.Publish(busEvent(eventType, payload))
}
