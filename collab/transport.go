package collab

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"
)

// ErrNotConnected is returned by Send when no connection is open.
var ErrNotConnected = errors.New("transport not connected")

// Transport moves Messages between the adapter and the collaboration
// server. Dial opens a fresh connection and returns its receive channel;
// the channel is closed when the connection drops, which is how the adapter
// learns about disconnects. Tests substitute an in-memory implementation.
type Transport interface {
	Dial(ctx context.Context) (<-chan Message, error)
	Send(Message) error
	Close() error
}

// WebSocketTransport is the production Transport, JSON messages over a
// websocket.
type WebSocketTransport struct {
	url string

	mu   sync.Mutex
	conn *websocket.Conn
}

// NewWebSocketTransport returns a transport dialing the given ws:// or
// wss:// URL.
func NewWebSocketTransport(url string) *WebSocketTransport {
	return &WebSocketTransport{url: url}
}

// Dial opens a new websocket connection, replacing any previous one, and
// starts pumping incoming messages into the returned channel.
func (t *WebSocketTransport) Dial(ctx context.Context) (<-chan Message, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, t.url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", t.url, err)
	}
	t.mu.Lock()
	if t.conn != nil {
		t.conn.Close()
	}
	t.conn = conn
	t.mu.Unlock()

	ch := make(chan Message, 64)
	go func() {
		defer close(ch)
		for {
			var msg Message
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			ch <- msg
		}
	}()
	return ch, nil
}

// Send writes one message. The mutex serializes writers, as the underlying
// connection supports only one concurrent writer.
func (t *WebSocketTransport) Send(msg Message) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return ErrNotConnected
	}
	if err := t.conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("write %s message: %w", msg.Type, err)
	}
	return nil
}

// Close closes the current connection, ending its receive channel.
func (t *WebSocketTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return nil
	}
	err := t.conn.Close()
	t.conn = nil
	return err
}
