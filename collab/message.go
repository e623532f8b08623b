// Package collab keeps multiple editors' arrangements consistent over an
// unreliable network. An Adapter maintains a reconnecting websocket session
// to a collaboration server, wraps local domain mutations as operations,
// applies a simplified transform step to incoming operations (conflicts are
// flagged, last writer wins) and republishes accepted operations on the
// event bus. Server is the matching in-process relay.
package collab

import (
	"encoding/json"
	"fmt"
	"time"
)

// MessageType discriminates the collaboration wire messages.
type MessageType string

const (
	MessageJoin      MessageType = "join"
	MessageLeave     MessageType = "leave"
	MessageOperation MessageType = "operation"
	MessageCursor    MessageType = "cursor"
	MessageHeartbeat MessageType = "heartbeat"
	MessageSync      MessageType = "sync"
)

// Message is the JSON envelope exchanged over the transport. Data carries a
// payload depending on Type: a serialized Operation for "operation", a full
// Session snapshot for "sync", a CursorPos for "cursor" and a User for
// "join".
type Message struct {
	Type      MessageType     `json:"type"`
	SessionID string          `json:"sessionId"`
	UserID    string          `json:"userId"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewMessage builds an envelope, marshaling the payload into Data.
func NewMessage(t MessageType, sessionID, userID string, payload any) (Message, error) {
	msg := Message{
		Type:      t,
		SessionID: sessionID,
		UserID:    userID,
		Timestamp: time.Now().UTC(),
	}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return Message{}, fmt.Errorf("marshal %s payload: %w", t, err)
		}
		msg.Data = data
	}
	return msg, nil
}

// DecodeData unmarshals the payload into v.
func (m Message) DecodeData(v any) error {
	if len(m.Data) == 0 {
		return fmt.Errorf("%s message has no data", m.Type)
	}
	if err := json.Unmarshal(m.Data, v); err != nil {
		return fmt.Errorf("unmarshal %s payload: %w", m.Type, err)
	}
	return nil
}

// CursorPos is the payload of a cursor message: where on the timeline a
// user currently points.
type CursorPos struct {
	TrackID  string  `json:"trackId"`
	Position float64 `json:"position"`
}
