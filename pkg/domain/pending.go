package domain

import (
	"encoding/json"
	"time"
)

// OperationKind classifies a deferred mutation.
type OperationKind string

// Pending operation kinds.
const (
	// OperationCreate replays a whole aggregate created offline.
	OperationCreate OperationKind = "create"
	// OperationUpdate replays a single record upsert.
	OperationUpdate OperationKind = "update"
	// OperationComplete replays an audit completion with its final computed fields.
	OperationComplete OperationKind = "complete"
)

// PendingOperation is one entry of the durable, ordered mutation log kept
// while offline. The payload is self-contained: replay must not depend on
// ambient state. Entries for the same target collection are applied strictly
// in enqueue order; an entry is removed only after confirmed remote
// application.
type PendingOperation struct {
	Seq        uint64          `json:"seq"`
	Kind       OperationKind   `json:"kind"`
	Collection Collection      `json:"collection"`
	TargetID   string          `json:"target_id"`
	Payload    json.RawMessage `json:"payload"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
}

// ClonePendingOperation returns a defensive copy of a pending operation.
func ClonePendingOperation(op PendingOperation) PendingOperation {
	cp := op
	cp.Payload = append(json.RawMessage(nil), op.Payload...)
	return cp
}
