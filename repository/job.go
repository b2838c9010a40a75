package repository

import (
	"context"

	"github.com/fastygo/planner/domain"
)

// JobRepository stores the reschedule job of each scope. Get returns domain.ErrJobNotFound when idle.
type JobRepository interface {
	Get(ctx context.Context, scope string) (domain.RescheduleJob, error)
	Save(ctx context.Context, job domain.RescheduleJob) error
	Delete(ctx context.Context, scope string) error
}
