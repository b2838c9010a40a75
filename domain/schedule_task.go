package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// ScheduleTaskStatus is the closed set of snapshot states inside a plan.
type ScheduleTaskStatus string

const (
	ScheduleTaskPending   ScheduleTaskStatus = "PENDING"
	ScheduleTaskScheduled ScheduleTaskStatus = "SCHEDULED"
	ScheduleTaskExcluded  ScheduleTaskStatus = "EXCLUDED"
)

func (s ScheduleTaskStatus) Valid() bool {
	switch s {
	case ScheduleTaskPending, ScheduleTaskScheduled, ScheduleTaskExcluded:
		return true
	default:
		return false
	}
}

// ScheduleTask is a plan-scoped copy of the scheduling-relevant part of a Task.
type ScheduleTask struct {
	ID                   int64              `json:"id"`
	PlanID               int64              `json:"plan_id"`
	TaskID               int64              `json:"task_id"`
	Status               ScheduleTaskStatus `json:"status"`
	Title                string             `json:"title"`
	Priority             Priority           `json:"priority"`
	EstimatedDurationMin int                `json:"estimated_duration_min"`
	DeadlineMs           *int64             `json:"deadline_ms,omitempty"`
	IsDeepWork           bool               `json:"is_deep_work"`
	DependsOn            []int64            `json:"depends_on,omitempty"`
	SnapshotHash         string             `json:"snapshot_hash"`
	SyncedAt             time.Time          `json:"synced_at"`
}

// NewScheduleTask snapshots a live task into a plan.
func NewScheduleTask(planID int64, task Task) ScheduleTask {
	st := ScheduleTask{
		PlanID: planID,
		TaskID: task.ID,
		Status: ScheduleTaskPending,
	}
	st.CopyFrom(task)
	return st
}

// CopyFrom refreshes the snapshot fields from the live task and recomputes the hash.
func (s *ScheduleTask) CopyFrom(task Task) {
	s.Title = task.Title
	s.Priority = task.Priority
	s.EstimatedDurationMin = task.EstimatedDurationMin
	s.DeadlineMs = cloneInt64(task.DeadlineMs)
	s.IsDeepWork = task.IsDeepWork
	if task.DependentTaskIDs != nil {
		s.DependsOn = append([]int64(nil), task.DependentTaskIDs...)
	} else {
		s.DependsOn = nil
	}
	s.SnapshotHash = SnapshotHash(task)
	s.SyncedAt = time.Now().UTC()
}

// IsStale reports whether the live task diverged from this snapshot.
func (s ScheduleTask) IsStale(task Task) bool {
	return s.SnapshotHash != SnapshotHash(task)
}

func (s ScheduleTask) Clone() ScheduleTask {
	cp := s
	cp.DeadlineMs = cloneInt64(s.DeadlineMs)
	if s.DependsOn != nil {
		cp.DependsOn = append([]int64(nil), s.DependsOn...)
	}
	return cp
}

// SnapshotHash fingerprints the fields the optimizer cares about.
func SnapshotHash(task Task) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s|%s|%s|%d|%t", task.Title, task.Status, task.Priority, task.EstimatedDurationMin, task.IsDeepWork)
	if task.DeadlineMs != nil {
		fmt.Fprintf(&b, "|d%d", *task.DeadlineMs)
	}
	for _, dep := range task.DependentTaskIDs {
		fmt.Fprintf(&b, "|dep%d", dep)
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}
