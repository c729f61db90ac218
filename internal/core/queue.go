package core

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"auditcore/pkg/domain"
)

// PendingQueue is the durable, ordered log of mutations deferred while
// offline. Entries live in the pendingSyncOperations collection; sequence
// numbers are zero-padded into the record key so enqueue order survives
// restarts.
type PendingQueue struct {
	store   LocalStore
	logger  Logger
	metrics MetricsRecorder
	clock   func() time.Time

	mu      sync.Mutex
	nextSeq uint64
	seeded  bool

	draining atomic.Bool

	conflictMu sync.Mutex
	conflicts  []ConflictRecord
}

// ConflictRecord describes a queued operation dropped during replay because
// its target no longer exists or was superseded remotely. Surfaced through
// the sync-status indicator rather than blocking interaction.
type ConflictRecord struct {
	Seq        uint64     `json:"seq"`
	Collection Collection `json:"collection"`
	TargetID   string     `json:"target_id"`
	Reason     string     `json:"reason"`
	DroppedAt  time.Time  `json:"dropped_at"`
}

// DrainOutcome summarizes one drain pass.
type DrainOutcome struct {
	// Skipped is true when another drain was already in flight.
	Skipped   bool
	Applied   int
	Dropped   int
	Remaining int
}

// NewPendingQueue builds a queue over the given store.
func NewPendingQueue(store LocalStore, logger Logger, metrics MetricsRecorder, clock func() time.Time) *PendingQueue {
	if logger == nil {
		logger = noopLogger{}
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	return &PendingQueue{store: store, logger: logger, metrics: metrics, clock: clock}
}

func seqKey(seq uint64) string { return fmt.Sprintf("%020d", seq) }

func (q *PendingQueue) seedLocked(ctx context.Context) error {
	if q.seeded {
		return nil
	}
	ops, err := domain.GetAllRecords[PendingOperation](ctx, q.store, CollectionPendingSyncOperations)
	if err != nil {
		return err
	}
	var max uint64
	for _, op := range ops {
		if op.Seq > max {
			max = op.Seq
		}
	}
	q.nextSeq = max + 1
	q.seeded = true
	return nil
}

// Enqueue appends a self-contained operation to the log. The payload must
// carry everything replay needs; nothing is resolved from ambient state at
// replay time.
func (q *PendingQueue) Enqueue(ctx context.Context, kind OperationKind, collection Collection, targetID string, payload any) (PendingOperation, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return PendingOperation{}, fmt.Errorf("encode pending payload: %w", err)
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.seedLocked(ctx); err != nil {
		return PendingOperation{}, err
	}
	op := PendingOperation{
		Seq:        q.nextSeq,
		Kind:       kind,
		Collection: collection,
		TargetID:   targetID,
		Payload:    raw,
		EnqueuedAt: q.clock(),
	}
	if err := domain.PutRecord(ctx, q.store, CollectionPendingSyncOperations, seqKey(op.Seq), op); err != nil {
		return PendingOperation{}, err
	}
	q.nextSeq++
	q.publishDepthLocked(ctx)
	return op, nil
}

// List returns every queued operation in enqueue order.
func (q *PendingQueue) List(ctx context.Context) ([]PendingOperation, error) {
	ops, err := domain.GetAllRecords[PendingOperation](ctx, q.store, CollectionPendingSyncOperations)
	if err != nil {
		return nil, err
	}
	sort.Slice(ops, func(i, j int) bool { return ops[i].Seq < ops[j].Seq })
	return ops, nil
}

// Depth returns the number of queued operations.
func (q *PendingQueue) Depth(ctx context.Context) (int, error) {
	ops, err := q.store.GetAll(ctx, CollectionPendingSyncOperations)
	if err != nil {
		return 0, err
	}
	return len(ops), nil
}

func (q *PendingQueue) publishDepthLocked(ctx context.Context) {
	if depth, err := q.Depth(ctx); err == nil {
		q.metrics.SetQueueDepth(depth)
	}
}

// Conflicts returns the replay conflicts dropped so far, newest last.
func (q *PendingQueue) Conflicts() []ConflictRecord {
	q.conflictMu.Lock()
	defer q.conflictMu.Unlock()
	return append([]ConflictRecord(nil), q.conflicts...)
}

func (q *PendingQueue) recordConflict(op PendingOperation, err error) {
	rec := ConflictRecord{
		Seq:        op.Seq,
		Collection: op.Collection,
		TargetID:   op.TargetID,
		Reason:     err.Error(),
		DroppedAt:  q.clock(),
	}
	q.conflictMu.Lock()
	q.conflicts = append(q.conflicts, rec)
	q.conflictMu.Unlock()
	q.metrics.IncReplayConflict(op.Collection)
	q.logger.Warn("replay conflict, entry dropped",
		"seq", op.Seq, "collection", string(op.Collection), "target", op.TargetID, "reason", err.Error())
}

// Drain replays queued operations through apply, strictly in enqueue order
// per target collection. A transient failure halts that collection's pass so
// entry N+1 never runs against state that assumed entry N succeeded; a
// replay conflict drops the entry and continues. At most one drain is in
// flight at a time; a second request while one is active is a no-op.
func (q *PendingQueue) Drain(ctx context.Context, apply func(ctx context.Context, op PendingOperation) error) (DrainOutcome, error) {
	if !q.draining.CompareAndSwap(false, true) {
		return DrainOutcome{Skipped: true}, nil
	}
	defer q.draining.Store(false)

	ops, err := q.List(ctx)
	if err != nil {
		return DrainOutcome{}, err
	}

	// Per-collection order matches global order because List sorts by seq.
	byCollection := make(map[Collection][]PendingOperation)
	var order []Collection
	for _, op := range ops {
		if _, seen := byCollection[op.Collection]; !seen {
			order = append(order, op.Collection)
		}
		byCollection[op.Collection] = append(byCollection[op.Collection], op)
	}

	var outcome DrainOutcome
collections:
	for _, collection := range order {
		for _, op := range byCollection[collection] {
			start := q.clock()
			err := apply(ctx, op)
			q.metrics.Observe(ctx, "replay_"+string(op.Kind), err == nil, q.clock().Sub(start))
			switch {
			case err == nil:
				if delErr := q.store.Delete(ctx, CollectionPendingSyncOperations, seqKey(op.Seq)); delErr != nil {
					q.logger.Error("failed to remove replayed entry", "seq", op.Seq, "error", delErr.Error())
				}
				outcome.Applied++
			case domain.IsReplayConflict(err):
				q.recordConflict(op, err)
				if delErr := q.store.Delete(ctx, CollectionPendingSyncOperations, seqKey(op.Seq)); delErr != nil {
					q.logger.Error("failed to remove conflicting entry", "seq", op.Seq, "error", delErr.Error())
				}
				outcome.Dropped++
			default:
				// Transient: retry this collection on the next transition.
				q.logger.Info("drain halted for collection",
					"collection", string(collection), "seq", op.Seq, "error", err.Error())
				continue collections
			}
		}
	}

	q.mu.Lock()
	q.publishDepthLocked(ctx)
	q.mu.Unlock()
	if depth, err := q.Depth(ctx); err == nil {
		outcome.Remaining = depth
	}
	return outcome, nil
}
