package collab

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// Server is the reference collaboration relay: it owns the sessions,
// answers joins with a sync snapshot, appends operations to the session log
// and fans messages out to the other session members. One process, no
// persistence; a production deployment would put the session log behind
// storage, which this core deliberately does not do.
type Server struct {
	log      logrus.FieldLogger
	upgrader websocket.Upgrader

	mu       sync.Mutex
	sessions map[string]*Session
	clients  map[*serverClient]struct{}
}

type serverClient struct {
	conn      *websocket.Conn
	writeMu   sync.Mutex
	userID    string
	sessionID string
}

func (c *serverClient) send(msg Message) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(msg)
}

// NewServer returns an empty relay.
func NewServer(log logrus.FieldLogger) *Server {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Server{
		log:      log,
		sessions: map[string]*Session{},
		clients:  map[*serverClient]struct{}{},
	}
}

// ServeHTTP upgrades the request to a websocket and serves it until the
// client disconnects.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).Warn("websocket upgrade failed")
		return
	}
	client := &serverClient{conn: conn}
	s.mu.Lock()
	s.clients[client] = struct{}{}
	s.mu.Unlock()

	defer s.disconnect(client)
	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		s.handle(client, msg)
	}
}

func (s *Server) handle(c *serverClient, msg Message) {
	switch msg.Type {
	case MessageJoin:
		s.handleJoin(c, msg)
	case MessageLeave:
		s.handleLeave(c, msg)
	case MessageOperation:
		s.handleOperation(c, msg)
	case MessageCursor:
		s.handleCursor(c, msg)
	case MessageHeartbeat:
		s.handleHeartbeat(c, msg)
	default:
		s.log.WithField("type", msg.Type).Debug("ignoring unknown message")
	}
}

func (s *Server) handleJoin(c *serverClient, msg Message) {
	var u User
	if err := msg.DecodeData(&u); err != nil {
		s.log.WithError(err).Warn("bad join message")
		return
	}
	if u.ID == "" {
		u.ID = msg.UserID
	}
	u.LastSeen = time.Now().UTC()

	s.mu.Lock()
	sess, ok := s.sessions[msg.SessionID]
	if !ok {
		now := time.Now().UTC()
		sess = &Session{ID: msg.SessionID, CreatedAt: now, UpdatedAt: now}
		s.sessions[msg.SessionID] = sess
	}
	sess.UpsertUser(u)
	c.userID = u.ID
	c.sessionID = msg.SessionID
	snapshot := sess.Copy()
	s.mu.Unlock()

	sync, err := NewMessage(MessageSync, msg.SessionID, u.ID, snapshot)
	if err != nil {
		s.log.WithError(err).Error("marshal sync snapshot")
		return
	}
	if err := c.send(sync); err != nil {
		s.log.WithError(err).Warn("send sync failed")
		return
	}
	s.broadcast(msg.SessionID, c, msg)
	s.log.WithFields(logrus.Fields{"sessionId": msg.SessionID, "userId": u.ID}).Info("user joined")
}

func (s *Server) handleLeave(c *serverClient, msg Message) {
	s.mu.Lock()
	if sess, ok := s.sessions[msg.SessionID]; ok {
		sess.RemoveUser(msg.UserID)
	}
	if c.sessionID == msg.SessionID {
		c.sessionID = ""
	}
	s.mu.Unlock()
	s.broadcast(msg.SessionID, c, msg)
	s.log.WithFields(logrus.Fields{"sessionId": msg.SessionID, "userId": msg.UserID}).Info("user left")
}

func (s *Server) handleOperation(c *serverClient, msg Message) {
	var op Operation
	if err := msg.DecodeData(&op); err != nil {
		s.log.WithError(err).Warn("bad operation message")
		return
	}
	s.mu.Lock()
	sess, ok := s.sessions[msg.SessionID]
	if ok {
		sess.Append(op)
	}
	s.mu.Unlock()
	if !ok {
		s.log.WithField("sessionId", msg.SessionID).Debug("operation for unknown session dropped")
		return
	}
	// Everybody gets the operation, the sender included: the echo is what
	// clears the sender's pending entry.
	s.broadcast(msg.SessionID, nil, msg)
}

func (s *Server) handleCursor(c *serverClient, msg Message) {
	var pos CursorPos
	if err := msg.DecodeData(&pos); err != nil {
		return
	}
	s.mu.Lock()
	if sess, ok := s.sessions[msg.SessionID]; ok {
		if u, found := sess.UserByID(msg.UserID); found {
			u.Cursor = &pos
			u.LastSeen = time.Now().UTC()
		}
	}
	s.mu.Unlock()
	s.broadcast(msg.SessionID, c, msg)
}

func (s *Server) handleHeartbeat(c *serverClient, msg Message) {
	s.mu.Lock()
	if sess, ok := s.sessions[msg.SessionID]; ok {
		if u, found := sess.UserByID(msg.UserID); found {
			u.LastSeen = time.Now().UTC()
		}
	}
	s.mu.Unlock()
}

// broadcast sends the message to every client in the session except skip.
func (s *Server) broadcast(sessionID string, skip *serverClient, msg Message) {
	s.mu.Lock()
	targets := make([]*serverClient, 0, len(s.clients))
	for client := range s.clients {
		if client == skip || client.sessionID != sessionID {
			continue
		}
		targets = append(targets, client)
	}
	s.mu.Unlock()
	for _, client := range targets {
		if err := client.send(msg); err != nil {
			s.log.WithError(err).WithField("userId", client.userID).Debug("broadcast send failed")
		}
	}
}

// disconnect drops a client, removing it from its session roster and
// announcing the departure.
func (s *Server) disconnect(c *serverClient) {
	c.conn.Close()
	s.mu.Lock()
	delete(s.clients, c)
	sessionID, userID := c.sessionID, c.userID
	if sess, ok := s.sessions[sessionID]; ok && userID != "" {
		sess.RemoveUser(userID)
	}
	s.mu.Unlock()
	if sessionID == "" || userID == "" {
		return
	}
	leave, err := NewMessage(MessageLeave, sessionID, userID, nil)
	if err == nil {
		s.broadcast(sessionID, c, leave)
	}
}

// SessionSnapshot returns a copy of a session's current state, or nil if
// the session does not exist. Used by monitoring endpoints and tests.
func (s *Server) SessionSnapshot(id string) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[id]; ok {
		return sess.Copy()
	}
	return nil
}

// Close disconnects every client.
func (s *Server) Close() {
	s.mu.Lock()
	clients := make([]*serverClient, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()
	for _, c := range clients {
		c.conn.Close()
	}
}
