package optimistic

import (
	"github.com/fastygo/planner/domain"
	"github.com/fastygo/planner/internal/graph"
	"github.com/fastygo/planner/internal/placement"
)

// TaskStore exposes the task graph to the coordinator.
type TaskStore struct {
	Graph *graph.Store
}

func (a TaskStore) Capture(id int64) Snapshot {
	t, ok := a.Graph.Lookup(id)
	if !ok {
		return Snapshot{}
	}
	return Snapshot{Value: t, Present: true}
}

func (a TaskStore) Restore(id int64, snap Snapshot) error {
	if !snap.Present {
		return a.Graph.Restore(id, domain.Task{}, false)
	}
	t, ok := snap.Value.(domain.Task)
	if !ok {
		return domain.Errorf(domain.ErrCodeInternal, "snapshot of task %d holds %T", id, snap.Value)
	}
	return a.Graph.Restore(id, t, true)
}

func (a TaskStore) Rekey(from, to int64) error {
	return a.Graph.Rekey(from, to)
}

// EventStore exposes event placements to the coordinator.
type EventStore struct {
	Placement *placement.Store
}

func (a EventStore) Capture(id int64) Snapshot {
	ev, ok := a.Placement.Lookup(id)
	if !ok {
		return Snapshot{}
	}
	return Snapshot{Value: ev, Present: true}
}

func (a EventStore) Restore(id int64, snap Snapshot) error {
	if !snap.Present {
		return a.Placement.Restore(id, domain.ScheduleEvent{}, false)
	}
	ev, ok := snap.Value.(domain.ScheduleEvent)
	if !ok {
		return domain.Errorf(domain.ErrCodeInternal, "snapshot of event %d holds %T", id, snap.Value)
	}
	return a.Placement.Restore(id, ev, true)
}

func (a EventStore) Rekey(from, to int64) error {
	return a.Placement.Rekey(from, to)
}

// TaskSnapshot wraps a confirmed task for Result.Confirmed.
func TaskSnapshot(t domain.Task) Snapshot {
	return Snapshot{Value: t, Present: true}
}

// EventSnapshot wraps a confirmed event for Result.Confirmed.
func EventSnapshot(ev domain.ScheduleEvent) Snapshot {
	return Snapshot{Value: ev, Present: true}
}

// Gone marks an entity the server confirmed as deleted.
func Gone() Snapshot {
	return Snapshot{}
}
