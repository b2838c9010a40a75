package plan

import (
	"math"

	"github.com/fastygo/planner/domain"
)

// Stats summarizes a plan from its snapshots and placed events.
func (s *Store) Stats(planID int64, events []domain.ScheduleEvent) (domain.PlanStats, error) {
	tasks, err := s.Tasks(planID)
	if err != nil {
		return domain.PlanStats{}, err
	}
	return Summarize(planID, tasks, events), nil
}

// Summarize computes comparison figures without touching any store.
func Summarize(planID int64, tasks []domain.ScheduleTask, events []domain.ScheduleEvent) domain.PlanStats {
	stats := domain.PlanStats{PlanID: planID, TotalTasks: len(tasks), EventCount: len(events)}
	for _, st := range tasks {
		switch st.Status {
		case domain.ScheduleTaskScheduled:
			stats.ScheduledTasks++
		case domain.ScheduleTaskPending:
			stats.UnscheduledTasks++
		case domain.ScheduleTaskExcluded:
			stats.ExcludedTasks++
			continue
		}
		stats.TotalDurationMin += st.EstimatedDurationMin
	}
	for _, ev := range events {
		stats.UsedDurationMin += ev.Duration()
		stats.TotalUtility += ev.UtilityScore
		if ev.IsManualOverride {
			stats.PinnedEvents++
		}
	}
	if stats.TotalDurationMin > 0 {
		pct := float64(stats.UsedDurationMin) / float64(stats.TotalDurationMin) * 100
		stats.UtilizationPct = math.Round(pct*10) / 10
	}
	return stats
}
