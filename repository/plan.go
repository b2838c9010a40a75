package repository

import (
	"context"

	"github.com/fastygo/planner/domain"
)

type PlanFilter struct {
	Scope    string
	Statuses []domain.PlanStatus
	Limit    int
	Offset   int
}

// PlanRepository mirrors plan versions and their task snapshots.
type PlanRepository interface {
	List(ctx context.Context, filter PlanFilter) ([]domain.SchedulePlan, error)
	Upsert(ctx context.Context, scope string, plan domain.SchedulePlan) error
	Delete(ctx context.Context, scope string, id int64) error
	ScheduleTasks(ctx context.Context, scope string, planID int64) ([]domain.ScheduleTask, error)
	ReplaceScheduleTasks(ctx context.Context, scope string, planID int64, tasks []domain.ScheduleTask) error
}
