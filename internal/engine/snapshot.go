package engine

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/fastygo/planner/domain"
	"github.com/fastygo/planner/repository"
)

// Snapshot is the confirmed state of one scope.
type Snapshot struct {
	Tasks         []domain.Task
	Plans         []domain.SchedulePlan
	ScheduleTasks map[int64][]domain.ScheduleTask
	Events        map[int64][]domain.ScheduleEvent
}

// Fetch reads a scope from src: tasks and plans first, then every plan's snapshots
// and events with at most parallel requests in flight.
func Fetch(ctx context.Context, src Source, scope string, parallel int) (Snapshot, error) {
	snap := Snapshot{
		ScheduleTasks: make(map[int64][]domain.ScheduleTask),
		Events:        make(map[int64][]domain.ScheduleEvent),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		tasks, err := src.ListTasks(gctx, scope)
		snap.Tasks = tasks
		return err
	})
	g.Go(func() error {
		plans, err := src.ListPlans(gctx, scope)
		snap.Plans = plans
		return err
	})
	if err := g.Wait(); err != nil {
		return Snapshot{}, err
	}

	var mu sync.Mutex
	g, gctx = errgroup.WithContext(ctx)
	if parallel > 0 {
		g.SetLimit(parallel)
	}
	for _, p := range snap.Plans {
		planID := p.ID
		g.Go(func() error {
			tasks, err := src.ListScheduleTasks(gctx, scope, planID)
			if err != nil {
				return err
			}
			mu.Lock()
			snap.ScheduleTasks[planID] = tasks
			mu.Unlock()
			return nil
		})
		g.Go(func() error {
			events, err := src.ListEvents(gctx, scope, planID)
			if err != nil {
				return err
			}
			mu.Lock()
			snap.Events[planID] = events
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

// Install loads the snapshot into a workspace's stores.
func (s Snapshot) Install(ws *Workspace) error {
	if err := ws.Tasks.Load(s.Tasks); err != nil {
		return err
	}
	if err := ws.Plans.Mirror(s.Plans); err != nil {
		return err
	}
	for _, p := range s.Plans {
		if err := ws.Plans.ReplaceTasks(p.ID, s.ScheduleTasks[p.ID]); err != nil {
			return err
		}
		if err := ws.Events.ReplacePlan(p.ID, s.Events[p.ID]); err != nil {
			return err
		}
	}
	return nil
}

// MirrorSource reads the postgres mirror through the repositories.
type MirrorSource struct {
	Tasks  repository.TaskRepository
	Plans  repository.PlanRepository
	Events repository.EventRepository
}

func (m MirrorSource) ListTasks(ctx context.Context, scope string) ([]domain.Task, error) {
	return m.Tasks.List(ctx, scope)
}

func (m MirrorSource) ListPlans(ctx context.Context, scope string) ([]domain.SchedulePlan, error) {
	return m.Plans.List(ctx, repository.PlanFilter{Scope: scope})
}

func (m MirrorSource) ListScheduleTasks(ctx context.Context, scope string, planID int64) ([]domain.ScheduleTask, error) {
	return m.Plans.ScheduleTasks(ctx, scope, planID)
}

func (m MirrorSource) ListEvents(ctx context.Context, scope string, planID int64) ([]domain.ScheduleEvent, error) {
	return m.Events.ListByPlan(ctx, scope, planID)
}
