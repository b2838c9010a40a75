package usecase

import (
	"context"

	"github.com/fastygo/planner/domain"
	"github.com/fastygo/planner/internal/engine"
)

const (
	OperationUpsert = "upsert"
	OperationDelete = "delete"
)

// Workspaces resolves the engine of a scope.
type Workspaces interface {
	Workspace(ctx context.Context, scope string) (*engine.Workspace, error)
}

// Mirror persists confirmed state so a restart can warm up without the backend.
// Implementations may buffer; errors never undo a confirmed change.
type Mirror interface {
	MirrorTask(ctx context.Context, scope, operation string, task domain.Task) error
	MirrorPlan(ctx context.Context, scope, operation string, plan domain.SchedulePlan) error
	MirrorScheduleTasks(ctx context.Context, scope string, planID int64, tasks []domain.ScheduleTask) error
	MirrorEvent(ctx context.Context, scope, operation string, event domain.ScheduleEvent) error
}

// Publisher receives invalidation signals for views derived from use case results.
type Publisher interface {
	Publish(ctx context.Context, change domain.Change)
}
