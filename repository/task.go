package repository

import (
	"context"

	"github.com/fastygo/planner/domain"
)

// TaskRepository mirrors the confirmed task graph of each scope.
type TaskRepository interface {
	List(ctx context.Context, scope string) ([]domain.Task, error)
	Upsert(ctx context.Context, scope string, task domain.Task) error
	Delete(ctx context.Context, scope string, id int64) error
}
