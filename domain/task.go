package domain

import (
	"sort"
	"strings"
	"time"
)

// TaskStatus is the closed set of task lifecycle states.
type TaskStatus string

const (
	TaskTodo       TaskStatus = "TODO"
	TaskInProgress TaskStatus = "IN_PROGRESS"
	TaskDone       TaskStatus = "DONE"
	TaskCancelled  TaskStatus = "CANCELLED"
)

func (s TaskStatus) Valid() bool {
	switch s {
	case TaskTodo, TaskInProgress, TaskDone, TaskCancelled:
		return true
	default:
		return false
	}
}

// Priority is the closed set of task priorities.
type Priority string

const (
	PriorityLow    Priority = "LOW"
	PriorityMedium Priority = "MEDIUM"
	PriorityHigh   Priority = "HIGH"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	default:
		return false
	}
}

// Recurrence describes how a task repeats.
type Recurrence struct {
	Frequency  string `json:"frequency"`
	Interval   int    `json:"interval,omitempty"`
	DaysOfWeek []int  `json:"days_of_week,omitempty"`
	UntilMs    *int64 `json:"until_ms,omitempty"`
}

func (r *Recurrence) clone() *Recurrence {
	if r == nil {
		return nil
	}
	cp := *r
	cp.DaysOfWeek = append([]int(nil), r.DaysOfWeek...)
	cp.UntilMs = cloneInt64(r.UntilMs)
	return &cp
}

// Task represents a user-owned unit of work that can be placed on the schedule.
type Task struct {
	ID                   int64       `json:"id"`
	ProjectID            *int64      `json:"project_id,omitempty"`
	ParentTaskID         *int64      `json:"parent_task_id,omitempty"`
	Title                string      `json:"title"`
	Description          string      `json:"description,omitempty"`
	Status               TaskStatus  `json:"status"`
	Priority             Priority    `json:"priority"`
	EstimatedDurationMin int         `json:"estimated_duration_min"`
	DeadlineMs           *int64      `json:"deadline_ms,omitempty"`
	IsDeepWork           bool        `json:"is_deep_work"`
	Recurrence           *Recurrence `json:"recurrence,omitempty"`
	Tags                 []string    `json:"tags,omitempty"`
	DependentTaskIDs     []int64     `json:"dependent_task_ids,omitempty"`
	IsBlocked            bool        `json:"is_blocked"`
	Depth                int         `json:"depth"`
	CreatedAt            time.Time   `json:"created_at"`
	UpdatedAt            time.Time   `json:"updated_at"`
}

func (t *Task) IsCompleted() bool {
	return t != nil && t.Status == TaskDone
}

func (t *Task) Touch() {
	if t == nil {
		return
	}
	t.UpdatedAt = time.Now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = t.UpdatedAt
	}
}

// Normalize fills defaults and canonicalizes set-valued fields.
func (t *Task) Normalize() {
	t.Title = strings.TrimSpace(t.Title)
	if t.Status == "" {
		t.Status = TaskTodo
	}
	if t.Priority == "" {
		t.Priority = PriorityMedium
	}
	t.Tags = NormalizeTags(t.Tags)
	t.DependentTaskIDs = uniqueIDs(t.DependentTaskIDs)
}

// Validate checks the fields a task cannot exist without.
func (t *Task) Validate() error {
	if t == nil {
		return ErrInvalidPayload
	}
	if strings.TrimSpace(t.Title) == "" {
		return NewError(ErrCodeInvalid, "title is required")
	}
	if !t.Status.Valid() {
		return Errorf(ErrCodeInvalid, "unknown task status %q", t.Status)
	}
	if !t.Priority.Valid() {
		return Errorf(ErrCodeInvalid, "unknown task priority %q", t.Priority)
	}
	if t.EstimatedDurationMin < 0 {
		return NewError(ErrCodeInvalid, "estimated duration must not be negative")
	}
	return nil
}

// DependsOn reports whether id is a direct dependency.
func (t *Task) DependsOn(id int64) bool {
	for _, dep := range t.DependentTaskIDs {
		if dep == id {
			return true
		}
	}
	return false
}

func (t Task) Clone() Task {
	cp := t
	cp.ProjectID = cloneInt64(t.ProjectID)
	cp.ParentTaskID = cloneInt64(t.ParentTaskID)
	cp.DeadlineMs = cloneInt64(t.DeadlineMs)
	cp.Recurrence = t.Recurrence.clone()
	if t.Tags != nil {
		cp.Tags = append([]string(nil), t.Tags...)
	}
	if t.DependentTaskIDs != nil {
		cp.DependentTaskIDs = append([]int64(nil), t.DependentTaskIDs...)
	}
	return cp
}

// TaskPatch is a partial update; nil fields are left untouched.
type TaskPatch struct {
	Title                *string     `json:"title,omitempty"`
	Description          *string     `json:"description,omitempty"`
	Status               *TaskStatus `json:"status,omitempty"`
	Priority             *Priority   `json:"priority,omitempty"`
	EstimatedDurationMin *int        `json:"estimated_duration_min,omitempty"`
	DeadlineMs           *int64      `json:"deadline_ms,omitempty"`
	ClearDeadline        bool        `json:"clear_deadline,omitempty"`
	IsDeepWork           *bool       `json:"is_deep_work,omitempty"`
	Recurrence           *Recurrence `json:"recurrence,omitempty"`
	Tags                 *[]string   `json:"tags,omitempty"`
	ProjectID            *int64      `json:"project_id,omitempty"`
}

func (p TaskPatch) IsEmpty() bool {
	return p.Title == nil && p.Description == nil && p.Status == nil && p.Priority == nil &&
		p.EstimatedDurationMin == nil && p.DeadlineMs == nil && !p.ClearDeadline &&
		p.IsDeepWork == nil && p.Recurrence == nil && p.Tags == nil && p.ProjectID == nil
}

// Apply returns a copy of t with the patch applied and validated.
func (p TaskPatch) Apply(t Task) (Task, error) {
	out := t.Clone()
	if p.Title != nil {
		out.Title = *p.Title
	}
	if p.Description != nil {
		out.Description = *p.Description
	}
	if p.Status != nil {
		out.Status = *p.Status
	}
	if p.Priority != nil {
		out.Priority = *p.Priority
	}
	if p.EstimatedDurationMin != nil {
		out.EstimatedDurationMin = *p.EstimatedDurationMin
	}
	if p.ClearDeadline {
		out.DeadlineMs = nil
	} else if p.DeadlineMs != nil {
		out.DeadlineMs = cloneInt64(p.DeadlineMs)
	}
	if p.IsDeepWork != nil {
		out.IsDeepWork = *p.IsDeepWork
	}
	if p.Recurrence != nil {
		out.Recurrence = p.Recurrence.clone()
	}
	if p.Tags != nil {
		out.Tags = append([]string(nil), (*p.Tags)...)
	}
	if p.ProjectID != nil {
		out.ProjectID = cloneInt64(p.ProjectID)
	}
	out.Normalize()
	if err := out.Validate(); err != nil {
		return t, err
	}
	return out, nil
}

// TaskTemplate seeds new tasks with preset attributes.
type TaskTemplate struct {
	Title                string      `json:"title"`
	Description          string      `json:"description,omitempty"`
	Priority             Priority    `json:"priority,omitempty"`
	EstimatedDurationMin int         `json:"estimated_duration_min,omitempty"`
	IsDeepWork           bool        `json:"is_deep_work,omitempty"`
	Recurrence           *Recurrence `json:"recurrence,omitempty"`
	Tags                 []string    `json:"tags,omitempty"`
}

// Instantiate builds a task from the template. A non-empty title overrides the template title.
func (tpl TaskTemplate) Instantiate(title string, parentID, projectID *int64) Task {
	t := Task{
		Title:                tpl.Title,
		Description:          tpl.Description,
		Priority:             tpl.Priority,
		EstimatedDurationMin: tpl.EstimatedDurationMin,
		IsDeepWork:           tpl.IsDeepWork,
		Recurrence:           tpl.Recurrence.clone(),
		Tags:                 append([]string(nil), tpl.Tags...),
		ParentTaskID:         cloneInt64(parentID),
		ProjectID:            cloneInt64(projectID),
	}
	if strings.TrimSpace(title) != "" {
		t.Title = title
	}
	t.Normalize()
	return t
}

// NormalizeTags trims, lowercases and deduplicates tags into sorted order.
func NormalizeTags(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if tag == "" {
			continue
		}
		if _, ok := seen[tag]; ok {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	sort.Strings(out)
	if len(out) == 0 {
		return nil
	}
	return out
}

func uniqueIDs(ids []int64) []int64 {
	if len(ids) == 0 {
		return nil
	}
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func cloneInt64(v *int64) *int64 {
	if v == nil {
		return nil
	}
	cp := *v
	return &cp
}

func cloneInt(v *int) *int {
	if v == nil {
		return nil
	}
	cp := *v
	return &cp
}

// Int64Ptr is a small helper for optional id fields.
func Int64Ptr(v int64) *int64 {
	return &v
}

// IntPtr is a small helper for optional minute fields.
func IntPtr(v int) *int {
	return &v
}
