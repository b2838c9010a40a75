package repository

import (
	"context"

	"github.com/fastygo/planner/domain"
)

// EventRepository mirrors confirmed event placements.
type EventRepository interface {
	ListByPlan(ctx context.Context, scope string, planID int64) ([]domain.ScheduleEvent, error)
	Upsert(ctx context.Context, scope string, event domain.ScheduleEvent) error
	Delete(ctx context.Context, scope string, id int64) error
	DeletePlan(ctx context.Context, scope string, planID int64) error
}
