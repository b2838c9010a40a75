package transport

import "github.com/fastygo/planner/domain"

// TaskRequest creates a task. A non-nil Template fills unset fields.
type TaskRequest struct {
	ProjectID            *int64               `json:"project_id"`
	ParentTaskID         *int64               `json:"parent_task_id"`
	Title                string               `json:"title"`
	Description          string               `json:"description"`
	Status               domain.TaskStatus    `json:"status"`
	Priority             domain.Priority      `json:"priority"`
	EstimatedDurationMin int                  `json:"estimated_duration_min"`
	DeadlineMs           *int64               `json:"deadline_ms"`
	IsDeepWork           bool                 `json:"is_deep_work"`
	Recurrence           *domain.Recurrence   `json:"recurrence"`
	Tags                 []string             `json:"tags"`
	DependentTaskIDs     []int64              `json:"dependent_task_ids"`
	Template             *domain.TaskTemplate `json:"template"`
}

// Task converts the request into a domain task.
func (r TaskRequest) Task() domain.Task {
	return domain.Task{
		ProjectID:            r.ProjectID,
		ParentTaskID:         r.ParentTaskID,
		Title:                r.Title,
		Description:          r.Description,
		Status:               r.Status,
		Priority:             r.Priority,
		EstimatedDurationMin: r.EstimatedDurationMin,
		DeadlineMs:           r.DeadlineMs,
		IsDeepWork:           r.IsDeepWork,
		Recurrence:           r.Recurrence,
		Tags:                 r.Tags,
		DependentTaskIDs:     r.DependentTaskIDs,
	}
}

// ParentRequest moves a task. A null parent promotes it to a root.
type ParentRequest struct {
	ParentTaskID *int64 `json:"parent_task_id"`
}

type DependencyRequest struct {
	DependsOnID int64 `json:"depends_on_id"`
}

type PlanRequest struct {
	Algorithm   domain.Algorithm `json:"algorithm"`
	Strategy    domain.Strategy  `json:"strategy"`
	StartDateMs int64            `json:"start_date_ms"`
	EndDateMs   int64            `json:"end_date_ms"`
}

type EventRequest struct {
	PlanID         int64  `json:"plan_id"`
	ScheduleTaskID int64  `json:"schedule_task_id"`
	TaskID         int64  `json:"task_id"`
	Title          string `json:"title"`
	DateMs         int64  `json:"date_ms"`
	StartMin       int    `json:"start_min"`
	EndMin         int    `json:"end_min"`
}

// Event converts the request into a domain event.
func (r EventRequest) Event() domain.ScheduleEvent {
	return domain.ScheduleEvent{
		PlanID:         r.PlanID,
		ScheduleTaskID: r.ScheduleTaskID,
		TaskID:         r.TaskID,
		Title:          r.Title,
		DateMs:         r.DateMs,
		StartMin:       r.StartMin,
		EndMin:         r.EndMin,
	}
}

type MoveRequest struct {
	DateMs   int64 `json:"date_ms"`
	StartMin int   `json:"start_min"`
	EndMin   int   `json:"end_min"`
}

type SplitRequest struct {
	SplitPointMin int `json:"split_point_min"`
}

type CompleteRequest struct {
	ActualStartMin int `json:"actual_start_min"`
	ActualEndMin   int `json:"actual_end_min"`
}
