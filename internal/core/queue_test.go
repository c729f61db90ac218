package core

import (
	"context"
	"fmt"
	"testing"

	"auditcore/internal/infra/persistence/memory"
	"auditcore/pkg/domain"
)

func newTestQueue(store LocalStore) *PendingQueue {
	return NewPendingQueue(store, nil, nil, nil)
}

func TestQueueEnqueueAssignsMonotonicSequence(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(memory.NewStore())
	first, err := q.Enqueue(ctx, OperationCreate, CollectionAudits, "local-a", Audit{ID: "local-a"})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	second, err := q.Enqueue(ctx, OperationUpdate, CollectionAudits, "local-a", Audit{ID: "local-a"})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if second.Seq <= first.Seq {
		t.Fatalf("sequence not monotonic: %d then %d", first.Seq, second.Seq)
	}
}

func TestQueueSequenceSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	q := newTestQueue(store)
	op, _ := q.Enqueue(ctx, OperationCreate, CollectionAudits, "local-a", Audit{})

	// A new queue over the same store seeds from the persisted maximum.
	reopened := newTestQueue(store)
	next, err := reopened.Enqueue(ctx, OperationUpdate, CollectionAudits, "local-a", Audit{})
	if err != nil {
		t.Fatalf("enqueue after reopen: %v", err)
	}
	if next.Seq != op.Seq+1 {
		t.Fatalf("seq after reopen = %d, want %d", next.Seq, op.Seq+1)
	}
}

func TestQueueDrainAppliesInOrderAndRemovesEntries(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	q := newTestQueue(store)
	for i := 0; i < 3; i++ {
		if _, err := q.Enqueue(ctx, OperationUpdate, CollectionAuditItems, fmt.Sprintf("i%d", i), AuditItem{}); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}
	var applied []string
	outcome, err := q.Drain(ctx, func(_ context.Context, op PendingOperation) error {
		applied = append(applied, op.TargetID)
		return nil
	})
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if outcome.Applied != 3 || outcome.Remaining != 0 {
		t.Fatalf("outcome = %+v, want 3 applied 0 remaining", outcome)
	}
	for i, id := range []string{"i0", "i1", "i2"} {
		if applied[i] != id {
			t.Fatalf("applied order = %v", applied)
		}
	}
	if depth, _ := q.Depth(ctx); depth != 0 {
		t.Fatalf("depth after drain = %d, want 0", depth)
	}
}

func TestQueueDrainHaltsCollectionOnTransientFailure(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(memory.NewStore())
	// Two audit entries where the first fails, and an item entry that must
	// still be applied: a failure halts only its own collection's pass.
	_, _ = q.Enqueue(ctx, OperationUpdate, CollectionAudits, "a1", Audit{})
	_, _ = q.Enqueue(ctx, OperationUpdate, CollectionAudits, "a2", Audit{})
	_, _ = q.Enqueue(ctx, OperationUpdate, CollectionAuditItems, "i1", AuditItem{})

	var attempted []string
	outcome, err := q.Drain(ctx, func(_ context.Context, op PendingOperation) error {
		attempted = append(attempted, op.TargetID)
		if op.TargetID == "a1" {
			return domain.TransientRemote("update", fmt.Errorf("boom"))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	for _, id := range attempted {
		if id == "a2" {
			t.Fatalf("a2 replayed although a1 failed: %v", attempted)
		}
	}
	if outcome.Applied != 1 || outcome.Remaining != 2 {
		t.Fatalf("outcome = %+v, want 1 applied 2 remaining", outcome)
	}

	// The halted entries replay in their original order on the next pass.
	attempted = nil
	outcome, err = q.Drain(ctx, func(_ context.Context, op PendingOperation) error {
		attempted = append(attempted, op.TargetID)
		return nil
	})
	if err != nil {
		t.Fatalf("second drain: %v", err)
	}
	if outcome.Applied != 2 || len(attempted) != 2 || attempted[0] != "a1" || attempted[1] != "a2" {
		t.Fatalf("second pass = %+v, attempted %v", outcome, attempted)
	}
}

func TestQueueDrainDropsConflicts(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(memory.NewStore())
	op, _ := q.Enqueue(ctx, OperationUpdate, CollectionAudits, "gone", Audit{})
	_, _ = q.Enqueue(ctx, OperationUpdate, CollectionAudits, "a2", Audit{})

	outcome, err := q.Drain(ctx, func(_ context.Context, o PendingOperation) error {
		if o.TargetID == "gone" {
			return &domain.ReplayConflictError{Seq: o.Seq, Collection: o.Collection, TargetID: o.TargetID, Err: fmt.Errorf("target deleted remotely")}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if outcome.Dropped != 1 || outcome.Applied != 1 || outcome.Remaining != 0 {
		t.Fatalf("outcome = %+v, want 1 dropped 1 applied 0 remaining", outcome)
	}
	conflicts := q.Conflicts()
	if len(conflicts) != 1 || conflicts[0].Seq != op.Seq || conflicts[0].TargetID != "gone" {
		t.Fatalf("conflicts = %+v", conflicts)
	}
}

func TestQueueDrainSingleFlight(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(memory.NewStore())
	_, _ = q.Enqueue(ctx, OperationUpdate, CollectionAudits, "a1", Audit{})

	entered := make(chan struct{})
	release := make(chan struct{})
	done := make(chan DrainOutcome, 1)
	go func() {
		outcome, _ := q.Drain(ctx, func(_ context.Context, _ PendingOperation) error {
			close(entered)
			<-release
			return nil
		})
		done <- outcome
	}()
	<-entered

	second, err := q.Drain(ctx, func(_ context.Context, _ PendingOperation) error { return nil })
	if err != nil {
		t.Fatalf("second drain: %v", err)
	}
	if !second.Skipped {
		t.Fatalf("concurrent drain was not skipped: %+v", second)
	}
	close(release)
	first := <-done
	if first.Applied != 1 {
		t.Fatalf("first drain outcome = %+v", first)
	}
}
