package domain

import "time"

// PlanStatus is the closed set of plan version states.
type PlanStatus string

const (
	PlanActive   PlanStatus = "ACTIVE"
	PlanProposed PlanStatus = "PROPOSED"
	PlanArchived PlanStatus = "ARCHIVED"
)

func (s PlanStatus) Valid() bool {
	switch s {
	case PlanActive, PlanProposed, PlanArchived:
		return true
	default:
		return false
	}
}

// CanTransition reports whether a plan may move from s to next.
// Discard is not a transition: a discarded PROPOSED plan is deleted.
func (s PlanStatus) CanTransition(next PlanStatus) bool {
	switch s {
	case PlanProposed:
		return next == PlanActive
	case PlanActive:
		return next == PlanArchived
	case PlanArchived:
		return next == PlanActive
	default:
		return false
	}
}

// Algorithm names the optimizer flavour that produced a plan.
type Algorithm string

const (
	AlgorithmLocalHeuristic Algorithm = "local_heuristic"
	AlgorithmMILP           Algorithm = "milp_optimized"
	AlgorithmHybrid         Algorithm = "hybrid"
	AlgorithmManual         Algorithm = "manual"
)

// Strategy is the reschedule hint passed to the optimizer.
type Strategy string

const (
	StrategyRipple     Strategy = "ripple"
	StrategyInsertion  Strategy = "insertion"
	StrategyFullReplan Strategy = "full_replan"
)

func (s Strategy) Valid() bool {
	switch s {
	case StrategyRipple, StrategyInsertion, StrategyFullReplan:
		return true
	default:
		return false
	}
}

// SchedulePlan is one versioned scheduling outcome.
type SchedulePlan struct {
	ID               int64      `json:"id"`
	Status           PlanStatus `json:"status"`
	Algorithm        Algorithm  `json:"algorithm"`
	Strategy         Strategy   `json:"strategy,omitempty"`
	TotalUtility     float64    `json:"total_utility"`
	ScheduledCount   int        `json:"scheduled_count"`
	UnscheduledCount int        `json:"unscheduled_count"`
	Version          int        `json:"version"`
	StartDateMs      int64      `json:"start_date_ms"`
	EndDateMs        int64      `json:"end_date_ms"`
	ParentPlanID     *int64     `json:"parent_plan_id,omitempty"`
	AppliedAt        *time.Time `json:"applied_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

func (p *SchedulePlan) Touch() {
	if p == nil {
		return
	}
	p.UpdatedAt = time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = p.UpdatedAt
	}
}

func (p SchedulePlan) Clone() SchedulePlan {
	cp := p
	cp.ParentPlanID = cloneInt64(p.ParentPlanID)
	if p.AppliedAt != nil {
		at := *p.AppliedAt
		cp.AppliedAt = &at
	}
	return cp
}

// ValidateRange checks the plan date window.
func (p *SchedulePlan) ValidateRange() error {
	if p.EndDateMs != 0 && p.EndDateMs < p.StartDateMs {
		return NewError(ErrCodeInvalidRange, "plan end date precedes start date")
	}
	return nil
}

// PlanStats summarizes a plan for comparison views.
type PlanStats struct {
	PlanID           int64   `json:"plan_id"`
	TotalTasks       int     `json:"total_tasks"`
	ScheduledTasks   int     `json:"scheduled_tasks"`
	UnscheduledTasks int     `json:"unscheduled_tasks"`
	ExcludedTasks    int     `json:"excluded_tasks"`
	EventCount       int     `json:"event_count"`
	PinnedEvents     int     `json:"pinned_events"`
	TotalDurationMin int     `json:"total_duration_min"`
	UsedDurationMin  int     `json:"used_duration_min"`
	UtilizationPct   float64 `json:"utilization_pct"`
	TotalUtility     float64 `json:"total_utility"`
}
