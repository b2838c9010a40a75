package buffer

import (
	"path/filepath"
	"testing"
	"time"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "buffer.db"), "mirror")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestBatchFollowsPriorityThenEnqueueOrder(t *testing.T) {
	store := openStore(t)
	for _, item := range []Item{
		{Scope: "u1", Entity: EntityTask, Operation: OperationUpsert, EntityID: 1, Priority: 3},
		{Scope: "u1", Entity: EntityTask, Operation: OperationDelete, EntityID: 1, Priority: 3},
		{Scope: "u1", Entity: EntityPlan, Operation: OperationUpsert, EntityID: 7, Priority: 2},
	} {
		if err := store.Enqueue(item); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}

	items, err := store.GetBatch(10)
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("expected 3 items, got %d", len(items))
	}
	if items[0].Entity != EntityPlan {
		t.Fatalf("expected plan first, got %s", items[0].Entity)
	}
	if items[1].Operation != OperationUpsert || items[2].Operation != OperationDelete {
		t.Fatalf("task writes out of order: %s then %s", items[1].Operation, items[2].Operation)
	}
}

func TestRequeueKeepsPosition(t *testing.T) {
	store := openStore(t)
	_ = store.Enqueue(Item{Scope: "u1", Entity: EntityEvent, Operation: OperationUpsert, EntityID: 1})
	_ = store.Enqueue(Item{Scope: "u1", Entity: EntityEvent, Operation: OperationDelete, EntityID: 1})

	items, _ := store.GetBatch(1)
	first := items[0]
	first.Retries++
	if err := store.Requeue(first); err != nil {
		t.Fatalf("requeue: %v", err)
	}

	items, _ = store.GetBatch(10)
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}
	if items[0].Operation != OperationUpsert || items[0].Retries != 1 {
		t.Fatalf("requeued item moved or lost its retry count: %+v", items[0])
	}
}

func TestRemoveAndCleanup(t *testing.T) {
	store := openStore(t)
	_ = store.Enqueue(Item{Scope: "u1", Entity: EntityTask, Operation: OperationUpsert, Timestamp: time.Now().Add(-48 * time.Hour)})
	_ = store.Enqueue(Item{Scope: "u1", Entity: EntityTask, Operation: OperationUpsert})

	if err := store.Cleanup(time.Now().Add(-24 * time.Hour)); err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	size, _ := store.Size()
	if size != 1 {
		t.Fatalf("expected 1 item after cleanup, got %d", size)
	}

	items, _ := store.GetBatch(10)
	if err := store.Remove(items[0]); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if size, _ := store.Size(); size != 0 {
		t.Fatalf("expected empty buffer, got %d", size)
	}
}
