package memory

import (
	"context"
	"sync"
	"time"

	"github.com/fastygo/planner/domain"
	"github.com/fastygo/planner/repository"
)

type jobRepository struct {
	mu   sync.RWMutex
	jobs map[string]domain.RescheduleJob
}

// NewJobRepository keeps reschedule jobs in process memory. Used when redis is not configured.
func NewJobRepository() repository.JobRepository {
	return &jobRepository{jobs: make(map[string]domain.RescheduleJob)}
}

func (r *jobRepository) Get(_ context.Context, scope string) (domain.RescheduleJob, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	job, ok := r.jobs[scope]
	if !ok {
		return domain.RescheduleJob{}, domain.ErrJobNotFound
	}
	return job.Clone(), nil
}

func (r *jobRepository) Save(_ context.Context, job domain.RescheduleJob) error {
	if job.Scope == "" || !job.State.Valid() {
		return domain.ErrInvalidPayload
	}
	if job.RequestedAt.IsZero() {
		job.RequestedAt = time.Now().UTC()
	}
	job.UpdatedAt = time.Now().UTC()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[job.Scope] = job.Clone()
	return nil
}

func (r *jobRepository) Delete(_ context.Context, scope string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.jobs, scope)
	return nil
}
