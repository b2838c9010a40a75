package postgres

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fastygo/planner/domain"
	"github.com/fastygo/planner/repository"
)

type taskRepository struct {
	pool *pgxpool.Pool
}

// NewTaskRepository returns a Postgres-backed implementation of TaskRepository.
func NewTaskRepository(pool *pgxpool.Pool) repository.TaskRepository {
	return &taskRepository{pool: pool}
}

func (r *taskRepository) List(ctx context.Context, scope string) ([]domain.Task, error) {
	const query = `
	SELECT id, project_id, parent_task_id, title, description, status, priority,
		estimated_duration_min, deadline_ms, is_deep_work, recurrence, tags,
		dependent_task_ids, created_at, updated_at
	FROM planner_tasks
	WHERE scope = $1
	ORDER BY id
	`
	rows, err := r.pool.Query(ctx, query, scope)
	if err != nil {
		return nil, storeErr(err, domain.ErrTaskNotFound, "list tasks")
	}
	defer rows.Close()

	var tasks []domain.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *task)
	}
	return tasks, storeErr(rows.Err(), domain.ErrTaskNotFound, "list tasks")
}

func (r *taskRepository) Upsert(ctx context.Context, scope string, task domain.Task) error {
	if task.ID <= 0 {
		return domain.Errorf(domain.ErrCodeInvalid, "task id %d is not server assigned", task.ID)
	}
	recurrence, err := marshalJSON(task.Recurrence)
	if err != nil {
		return err
	}
	tags, err := marshalJSON(task.Tags)
	if err != nil {
		return err
	}
	deps, err := marshalJSON(task.DependentTaskIDs)
	if err != nil {
		return err
	}

	const query = `
	INSERT INTO planner_tasks (scope, id, project_id, parent_task_id, title, description, status, priority,
		estimated_duration_min, deadline_ms, is_deep_work, recurrence, tags, dependent_task_ids, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, COALESCE($15, NOW()), COALESCE($16, NOW()))
	ON CONFLICT (scope, id) DO UPDATE SET
		project_id = EXCLUDED.project_id,
		parent_task_id = EXCLUDED.parent_task_id,
		title = EXCLUDED.title,
		description = EXCLUDED.description,
		status = EXCLUDED.status,
		priority = EXCLUDED.priority,
		estimated_duration_min = EXCLUDED.estimated_duration_min,
		deadline_ms = EXCLUDED.deadline_ms,
		is_deep_work = EXCLUDED.is_deep_work,
		recurrence = EXCLUDED.recurrence,
		tags = EXCLUDED.tags,
		dependent_task_ids = EXCLUDED.dependent_task_ids,
		updated_at = EXCLUDED.updated_at
	`
	_, err = r.pool.Exec(ctx, query,
		scope,
		task.ID,
		task.ProjectID,
		task.ParentTaskID,
		task.Title,
		task.Description,
		task.Status,
		task.Priority,
		task.EstimatedDurationMin,
		task.DeadlineMs,
		task.IsDeepWork,
		recurrence,
		tags,
		deps,
		nullTime(task.CreatedAt),
		nullTime(task.UpdatedAt),
	)
	return storeErr(err, domain.ErrTaskNotFound, "upsert task")
}

// Delete is idempotent so replayed buffer items settle.
func (r *taskRepository) Delete(ctx context.Context, scope string, id int64) error {
	const query = `DELETE FROM planner_tasks WHERE scope = $1 AND id = $2`
	_, err := r.pool.Exec(ctx, query, scope, id)
	return storeErr(err, domain.ErrTaskNotFound, "delete task")
}

func scanTask(row scanner) (*domain.Task, error) {
	var task domain.Task
	var recurrence, tags, deps []byte

	if err := row.Scan(
		&task.ID,
		&task.ProjectID,
		&task.ParentTaskID,
		&task.Title,
		&task.Description,
		&task.Status,
		&task.Priority,
		&task.EstimatedDurationMin,
		&task.DeadlineMs,
		&task.IsDeepWork,
		&recurrence,
		&tags,
		&deps,
		&task.CreatedAt,
		&task.UpdatedAt,
	); err != nil {
		return nil, storeErr(err, domain.ErrTaskNotFound, "scan task")
	}

	if err := unmarshalJSON(recurrence, &task.Recurrence); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(tags, &task.Tags); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(deps, &task.DependentTaskIDs); err != nil {
		return nil, err
	}
	return &task, nil
}
