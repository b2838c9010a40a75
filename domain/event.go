package domain

import "time"

const (
	MinutesPerDay = 1440
	DayMs         = int64(24 * time.Hour / time.Millisecond)
)

// EventStatus is the closed set of placement states.
type EventStatus string

const (
	EventScheduled EventStatus = "scheduled"
	EventCompleted EventStatus = "completed"
)

func (s EventStatus) Valid() bool {
	switch s {
	case EventScheduled, EventCompleted:
		return true
	default:
		return false
	}
}

// UtilityBreakdown is the optimizer's explanation of a placement score.
type UtilityBreakdown struct {
	PriorityScore        float64 `json:"priority_score"`
	DeadlineScore        float64 `json:"deadline_score"`
	ContextSwitchPenalty float64 `json:"context_switch_penalty"`
	FocusTimeBonus       float64 `json:"focus_time_bonus"`
	Reason               string  `json:"reason,omitempty"`
}

// ScheduleEvent is a concrete time block placing (part of) a task inside a plan.
type ScheduleEvent struct {
	ID               int64             `json:"id"`
	PlanID           int64             `json:"plan_id"`
	ScheduleTaskID   int64             `json:"schedule_task_id"`
	TaskID           int64             `json:"task_id"`
	Title            string            `json:"title,omitempty"`
	DateMs           int64             `json:"date_ms"`
	StartMin         int               `json:"start_min"`
	EndMin           int               `json:"end_min"`
	Status           EventStatus       `json:"status"`
	PartIndex        int               `json:"part_index"`
	TotalParts       int               `json:"total_parts"`
	LinkedEventID    *int64            `json:"linked_event_id,omitempty"`
	UtilityScore     float64           `json:"utility_score"`
	Utility          *UtilityBreakdown `json:"utility,omitempty"`
	IsManualOverride bool              `json:"is_manual_override"`
	ActualStartMin   *int              `json:"actual_start_min,omitempty"`
	ActualEndMin     *int              `json:"actual_end_min,omitempty"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

// Duration returns the planned length in minutes.
func (e ScheduleEvent) Duration() int {
	return e.EndMin - e.StartMin
}

// Overlaps reports whether two events share any minute on the same day.
func (e ScheduleEvent) Overlaps(other ScheduleEvent) bool {
	return e.DateMs == other.DateMs && e.StartMin < other.EndMin && other.StartMin < e.EndMin
}

// CanBeModified is false once the event is completed.
func (e ScheduleEvent) CanBeModified() bool {
	switch e.Status {
	case EventScheduled, "":
		return true
	case EventCompleted:
		return false
	default:
		return false
	}
}

func (e ScheduleEvent) Clone() ScheduleEvent {
	cp := e
	if e.Utility != nil {
		u := *e.Utility
		cp.Utility = &u
	}
	cp.LinkedEventID = cloneInt64(e.LinkedEventID)
	cp.ActualStartMin = cloneInt(e.ActualStartMin)
	cp.ActualEndMin = cloneInt(e.ActualEndMin)
	return cp
}

// Validate checks the placement invariants of an event produced outside this process.
func (e ScheduleEvent) Validate() error {
	if err := ValidateRange(e.StartMin, e.EndMin); err != nil {
		return err
	}
	if e.Status != "" && !e.Status.Valid() {
		return Errorf(ErrCodeInvalid, "unknown event status %q", e.Status)
	}
	if e.TotalParts > 0 && (e.PartIndex < 1 || e.PartIndex > e.TotalParts) {
		return Errorf(ErrCodeInvalid, "part %d outside 1..%d", e.PartIndex, e.TotalParts)
	}
	return nil
}

// ValidateRange enforces 0 <= start < end <= 1440.
func ValidateRange(startMin, endMin int) error {
	if startMin >= endMin {
		return Errorf(ErrCodeInvalidRange, "start %d must be before end %d", startMin, endMin)
	}
	if startMin < 0 || endMin > MinutesPerDay {
		return Errorf(ErrCodeInvalidRange, "range %d-%d outside the day", startMin, endMin)
	}
	return nil
}

// DayStart floors an epoch millisecond timestamp to UTC midnight.
func DayStart(ms int64) int64 {
	day := ms / DayMs
	if ms < 0 && ms%DayMs != 0 {
		day--
	}
	return day * DayMs
}
