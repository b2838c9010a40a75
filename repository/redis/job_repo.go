package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	redislib "github.com/redis/go-redis/v9"

	"github.com/fastygo/planner/domain"
	"github.com/fastygo/planner/repository"
)

type jobRepository struct {
	client *redislib.Client
	prefix string
	ttl    time.Duration
}

// NewJobRepository creates a Redis-backed reschedule job repository.
// Finished jobs expire after ttl; jobs still in flight are kept without expiry.
func NewJobRepository(client *redislib.Client, ttl time.Duration) repository.JobRepository {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &jobRepository{
		client: client,
		prefix: "reschedule:",
		ttl:    ttl,
	}
}

func (r *jobRepository) Get(ctx context.Context, scope string) (domain.RescheduleJob, error) {
	result, err := r.client.Get(ctx, r.key(scope)).Result()
	if err != nil {
		if err == redislib.Nil {
			return domain.RescheduleJob{}, domain.ErrJobNotFound
		}
		return domain.RescheduleJob{}, domain.WrapError(domain.ErrCodeTransient, "load reschedule job", err)
	}

	var job domain.RescheduleJob
	if err := json.Unmarshal([]byte(result), &job); err != nil {
		return domain.RescheduleJob{}, err
	}
	return job, nil
}

func (r *jobRepository) Save(ctx context.Context, job domain.RescheduleJob) error {
	if job.Scope == "" || !job.State.Valid() {
		return domain.ErrInvalidPayload
	}
	if job.RequestedAt.IsZero() {
		job.RequestedAt = time.Now().UTC()
	}
	job.UpdatedAt = time.Now().UTC()

	payload, err := json.Marshal(job)
	if err != nil {
		return err
	}

	var ttl time.Duration
	if job.State.Terminal() {
		ttl = r.ttl
	}
	if err := r.client.Set(ctx, r.key(job.Scope), payload, ttl).Err(); err != nil {
		return domain.WrapError(domain.ErrCodeTransient, "save reschedule job", err)
	}
	return nil
}

func (r *jobRepository) Delete(ctx context.Context, scope string) error {
	return r.client.Del(ctx, r.key(scope)).Err()
}

func (r *jobRepository) key(scope string) string {
	return fmt.Sprintf("%s%s", r.prefix, scope)
}
