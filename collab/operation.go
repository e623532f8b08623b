package collab

import (
	"encoding/json"
	"time"
)

// OpType discriminates the kinds of collaborative change.
type OpType string

const (
	OpInsert OpType = "insert"
	OpDelete OpType = "delete"
	OpUpdate OpType = "update"
	OpMove   OpType = "move"
)

// Operation is the unit of collaborative change: one completed local domain
// mutation, serialized. Operations are never modified after creation; the
// transform step only reports conflicts alongside them.
type Operation struct {
	ID            string          `json:"id"`
	Type          OpType          `json:"type"`
	UserID        string          `json:"userId"`
	Timestamp     time.Time       `json:"timestamp"`
	AggregateID   string          `json:"aggregateId"`
	AggregateType string          `json:"aggregateType"`
	Data          json.RawMessage `json:"data,omitempty"`
	Version       int64           `json:"version"`
}

// ConflictKind names why an incoming operation conflicts with local state.
type ConflictKind string

const (
	// ConflictPendingOperation: a local operation on the same aggregate is
	// still in flight and was created before the incoming one.
	ConflictPendingOperation ConflictKind = "pending-operation"
	// ConflictStaleVersion: the incoming operation was made against an
	// older session version than the current one.
	ConflictStaleVersion ConflictKind = "stale-version"
)

// Conflict describes one detected conflict. Conflicts are data, not errors:
// the incoming operation is applied regardless, and the hosting application
// decides whether to surface them.
type Conflict struct {
	Kind    ConflictKind `json:"kind"`
	Local   *Operation   `json:"local,omitempty"`
	Remote  Operation    `json:"remote"`
	Details string       `json:"details,omitempty"`
}
