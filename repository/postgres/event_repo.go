package postgres

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fastygo/planner/domain"
	"github.com/fastygo/planner/repository"
)

type eventRepository struct {
	pool *pgxpool.Pool
}

// NewEventRepository returns a Postgres-backed implementation of EventRepository.
func NewEventRepository(pool *pgxpool.Pool) repository.EventRepository {
	return &eventRepository{pool: pool}
}

func (r *eventRepository) ListByPlan(ctx context.Context, scope string, planID int64) ([]domain.ScheduleEvent, error) {
	const query = `
	SELECT id, plan_id, schedule_task_id, task_id, title, date_ms, start_min, end_min, status,
		part_index, total_parts, linked_event_id, utility_score, utility, is_manual_override,
		actual_start_min, actual_end_min, updated_at
	FROM planner_events
	WHERE scope = $1 AND plan_id = $2
	ORDER BY date_ms, start_min, id
	`
	rows, err := r.pool.Query(ctx, query, scope, planID)
	if err != nil {
		return nil, storeErr(err, domain.ErrEventNotFound, "list events")
	}
	defer rows.Close()

	var events []domain.ScheduleEvent
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, *ev)
	}
	return events, storeErr(rows.Err(), domain.ErrEventNotFound, "list events")
}

func (r *eventRepository) Upsert(ctx context.Context, scope string, ev domain.ScheduleEvent) error {
	if ev.ID <= 0 {
		return domain.Errorf(domain.ErrCodeInvalid, "event id %d is not server assigned", ev.ID)
	}
	utility, err := marshalJSON(ev.Utility)
	if err != nil {
		return err
	}

	const query = `
	INSERT INTO planner_events (scope, id, plan_id, schedule_task_id, task_id, title, date_ms, start_min,
		end_min, status, part_index, total_parts, linked_event_id, utility_score, utility,
		is_manual_override, actual_start_min, actual_end_min, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, COALESCE($19, NOW()))
	ON CONFLICT (scope, id) DO UPDATE SET
		plan_id = EXCLUDED.plan_id,
		schedule_task_id = EXCLUDED.schedule_task_id,
		task_id = EXCLUDED.task_id,
		title = EXCLUDED.title,
		date_ms = EXCLUDED.date_ms,
		start_min = EXCLUDED.start_min,
		end_min = EXCLUDED.end_min,
		status = EXCLUDED.status,
		part_index = EXCLUDED.part_index,
		total_parts = EXCLUDED.total_parts,
		linked_event_id = EXCLUDED.linked_event_id,
		utility_score = EXCLUDED.utility_score,
		utility = EXCLUDED.utility,
		is_manual_override = EXCLUDED.is_manual_override,
		actual_start_min = EXCLUDED.actual_start_min,
		actual_end_min = EXCLUDED.actual_end_min,
		updated_at = EXCLUDED.updated_at
	`
	_, err = r.pool.Exec(ctx, query,
		scope,
		ev.ID,
		ev.PlanID,
		ev.ScheduleTaskID,
		ev.TaskID,
		ev.Title,
		ev.DateMs,
		ev.StartMin,
		ev.EndMin,
		ev.Status,
		ev.PartIndex,
		ev.TotalParts,
		ev.LinkedEventID,
		ev.UtilityScore,
		utility,
		ev.IsManualOverride,
		ev.ActualStartMin,
		ev.ActualEndMin,
		nullTime(ev.UpdatedAt),
	)
	return storeErr(err, domain.ErrEventNotFound, "upsert event")
}

func (r *eventRepository) Delete(ctx context.Context, scope string, id int64) error {
	const query = `DELETE FROM planner_events WHERE scope = $1 AND id = $2`
	_, err := r.pool.Exec(ctx, query, scope, id)
	return storeErr(err, domain.ErrEventNotFound, "delete event")
}

func (r *eventRepository) DeletePlan(ctx context.Context, scope string, planID int64) error {
	const query = `DELETE FROM planner_events WHERE scope = $1 AND plan_id = $2`
	_, err := r.pool.Exec(ctx, query, scope, planID)
	return storeErr(err, domain.ErrEventNotFound, "delete plan events")
}

func scanEvent(row scanner) (*domain.ScheduleEvent, error) {
	var ev domain.ScheduleEvent
	var utility []byte
	if err := row.Scan(
		&ev.ID,
		&ev.PlanID,
		&ev.ScheduleTaskID,
		&ev.TaskID,
		&ev.Title,
		&ev.DateMs,
		&ev.StartMin,
		&ev.EndMin,
		&ev.Status,
		&ev.PartIndex,
		&ev.TotalParts,
		&ev.LinkedEventID,
		&ev.UtilityScore,
		&utility,
		&ev.IsManualOverride,
		&ev.ActualStartMin,
		&ev.ActualEndMin,
		&ev.UpdatedAt,
	); err != nil {
		return nil, storeErr(err, domain.ErrEventNotFound, "scan event")
	}
	if err := unmarshalJSON(utility, &ev.Utility); err != nil {
		return nil, err
	}
	return &ev, nil
}
