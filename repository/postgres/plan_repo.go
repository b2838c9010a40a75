package postgres

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fastygo/planner/domain"
	"github.com/fastygo/planner/repository"
)

type planRepository struct {
	pool *pgxpool.Pool
}

// NewPlanRepository returns a Postgres-backed implementation of PlanRepository.
func NewPlanRepository(pool *pgxpool.Pool) repository.PlanRepository {
	return &planRepository{pool: pool}
}

func (r *planRepository) List(ctx context.Context, filter repository.PlanFilter) ([]domain.SchedulePlan, error) {
	const query = `
	SELECT id, status, algorithm, strategy, total_utility, scheduled_count, unscheduled_count,
		version, start_date_ms, end_date_ms, parent_plan_id, applied_at, created_at, updated_at
	FROM planner_plans
	WHERE scope = $1
	  AND (cardinality($2::text[]) = 0 OR status = ANY($2))
	ORDER BY updated_at DESC, id DESC
	LIMIT $3 OFFSET $4
	`
	statuses := make([]string, 0, len(filter.Statuses))
	for _, s := range filter.Statuses {
		statuses = append(statuses, string(s))
	}
	rows, err := r.pool.Query(ctx, query, filter.Scope, statuses, limitArg(filter.Limit), filter.Offset)
	if err != nil {
		return nil, storeErr(err, domain.ErrPlanNotFound, "list plans")
	}
	defer rows.Close()

	var plans []domain.SchedulePlan
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, err
		}
		plans = append(plans, *p)
	}
	return plans, storeErr(rows.Err(), domain.ErrPlanNotFound, "list plans")
}

func (r *planRepository) Upsert(ctx context.Context, scope string, p domain.SchedulePlan) error {
	if p.ID <= 0 {
		return domain.Errorf(domain.ErrCodeInvalid, "plan id %d is not server assigned", p.ID)
	}
	const query = `
	INSERT INTO planner_plans (scope, id, status, algorithm, strategy, total_utility, scheduled_count,
		unscheduled_count, version, start_date_ms, end_date_ms, parent_plan_id, applied_at, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, COALESCE($14, NOW()), COALESCE($15, NOW()))
	ON CONFLICT (scope, id) DO UPDATE SET
		status = EXCLUDED.status,
		algorithm = EXCLUDED.algorithm,
		strategy = EXCLUDED.strategy,
		total_utility = EXCLUDED.total_utility,
		scheduled_count = EXCLUDED.scheduled_count,
		unscheduled_count = EXCLUDED.unscheduled_count,
		version = EXCLUDED.version,
		start_date_ms = EXCLUDED.start_date_ms,
		end_date_ms = EXCLUDED.end_date_ms,
		parent_plan_id = EXCLUDED.parent_plan_id,
		applied_at = EXCLUDED.applied_at,
		updated_at = EXCLUDED.updated_at
	`
	_, err := r.pool.Exec(ctx, query,
		scope,
		p.ID,
		p.Status,
		p.Algorithm,
		p.Strategy,
		p.TotalUtility,
		p.ScheduledCount,
		p.UnscheduledCount,
		p.Version,
		p.StartDateMs,
		p.EndDateMs,
		p.ParentPlanID,
		nullTimePtr(p.AppliedAt),
		nullTime(p.CreatedAt),
		nullTime(p.UpdatedAt),
	)
	return storeErr(err, domain.ErrPlanNotFound, "upsert plan")
}

// Delete drops the plan with its snapshots and events.
func (r *planRepository) Delete(ctx context.Context, scope string, id int64) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		for _, query := range []string{
			`DELETE FROM planner_events WHERE scope = $1 AND plan_id = $2`,
			`DELETE FROM planner_schedule_tasks WHERE scope = $1 AND plan_id = $2`,
			`DELETE FROM planner_plans WHERE scope = $1 AND id = $2`,
		} {
			if _, err := tx.Exec(ctx, query, scope, id); err != nil {
				return storeErr(err, domain.ErrPlanNotFound, "delete plan")
			}
		}
		return nil
	})
}

func (r *planRepository) ScheduleTasks(ctx context.Context, scope string, planID int64) ([]domain.ScheduleTask, error) {
	const query = `
	SELECT payload
	FROM planner_schedule_tasks
	WHERE scope = $1 AND plan_id = $2
	ORDER BY task_id
	`
	rows, err := r.pool.Query(ctx, query, scope, planID)
	if err != nil {
		return nil, storeErr(err, domain.ErrPlanNotFound, "list schedule tasks")
	}
	defer rows.Close()

	var tasks []domain.ScheduleTask
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, storeErr(err, domain.ErrPlanNotFound, "scan schedule task")
		}
		var st domain.ScheduleTask
		if err := unmarshalJSON(payload, &st); err != nil {
			return nil, err
		}
		tasks = append(tasks, st)
	}
	return tasks, storeErr(rows.Err(), domain.ErrPlanNotFound, "list schedule tasks")
}

// ReplaceScheduleTasks swaps a plan's snapshot set in one transaction.
func (r *planRepository) ReplaceScheduleTasks(ctx context.Context, scope string, planID int64, tasks []domain.ScheduleTask) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM planner_schedule_tasks WHERE scope = $1 AND plan_id = $2`, scope, planID); err != nil {
			return storeErr(err, domain.ErrPlanNotFound, "clear schedule tasks")
		}
		if len(tasks) == 0 {
			return nil
		}

		const insert = `
		INSERT INTO planner_schedule_tasks (scope, plan_id, task_id, id, status, payload)
		VALUES ($1, $2, $3, $4, $5, $6)
		`
		batch := &pgx.Batch{}
		for _, st := range tasks {
			payload, err := json.Marshal(st)
			if err != nil {
				return domain.WrapError(domain.ErrCodeInternal, "encode schedule task", err)
			}
			batch.Queue(insert, scope, planID, st.TaskID, st.ID, st.Status, payload)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return storeErr(err, domain.ErrPlanNotFound, "insert schedule tasks")
		}
		return nil
	})
}

func scanPlan(row scanner) (*domain.SchedulePlan, error) {
	var p domain.SchedulePlan
	if err := row.Scan(
		&p.ID,
		&p.Status,
		&p.Algorithm,
		&p.Strategy,
		&p.TotalUtility,
		&p.ScheduledCount,
		&p.UnscheduledCount,
		&p.Version,
		&p.StartDateMs,
		&p.EndDateMs,
		&p.ParentPlanID,
		&p.AppliedAt,
		&p.CreatedAt,
		&p.UpdatedAt,
	); err != nil {
		return nil, storeErr(err, domain.ErrPlanNotFound, "scan plan")
	}
	return &p, nil
}
