package memory

import (
	"context"
	"testing"
	"time"

	"github.com/fastygo/planner/domain"
	"github.com/fastygo/planner/repository"
)

func TestChangeRepositoryFiltersAndOrders(t *testing.T) {
	repo := NewChangeRepository(3)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	for i, c := range []domain.Change{
		{Scope: "a", Kind: domain.KindTask, EntityID: 1, Action: domain.ActionCreated},
		{Scope: "a", Kind: domain.KindTask, EntityID: 2, Action: domain.ActionCreated},
		{Scope: "b", Kind: domain.KindTask, EntityID: 1, Action: domain.ActionCreated},
		{Scope: "a", Kind: domain.KindEvent, EntityID: 1, Action: domain.ActionDeleted},
	} {
		c.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		if err := repo.Append(ctx, c); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	all, err := repo.List(ctx, repository.ChangeFilter{Scope: "a"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	// the first change was evicted by the size cap
	if len(all) != 2 {
		t.Fatalf("expected 2 changes for scope a, got %d", len(all))
	}
	if all[0].Kind != domain.KindEvent {
		t.Fatalf("expected newest first, got %+v", all[0])
	}

	tasks, _ := repo.List(ctx, repository.ChangeFilter{Scope: "a", Kind: domain.KindTask, EntityID: 2})
	if len(tasks) != 1 || tasks[0].EntityID != 2 {
		t.Fatalf("unexpected filtered result %+v", tasks)
	}
}

func TestChangeRepositoryRejectsUnscoped(t *testing.T) {
	repo := NewChangeRepository(0)
	if err := repo.Append(context.Background(), domain.Change{Kind: domain.KindTask}); !domain.IsDomainError(err, domain.ErrCodeInvalid) {
		t.Fatalf("expected INVALID, got %v", err)
	}
}
