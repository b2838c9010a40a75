package task

import (
	"context"

	"go.uber.org/zap"

	"github.com/fastygo/planner/domain"
	"github.com/fastygo/planner/internal/engine"
	"github.com/fastygo/planner/internal/graph"
	"github.com/fastygo/planner/internal/optimistic"
	"github.com/fastygo/planner/usecase"
)

// Backend is the task part of the remote API.
type Backend interface {
	CreateTask(ctx context.Context, scope string, task domain.Task) (domain.Task, error)
	UpdateTask(ctx context.Context, scope string, id int64, patch domain.TaskPatch) (domain.Task, error)
	DeleteTask(ctx context.Context, scope string, id int64) error
	SetParent(ctx context.Context, scope string, id int64, parentID *int64) (domain.Task, error)
	AddDependency(ctx context.Context, scope string, id, dependsOnID int64) (domain.Task, error)
	RemoveDependency(ctx context.Context, scope string, id, dependsOnID int64) (domain.Task, error)
}

type UseCase struct {
	spaces    usecase.Workspaces
	backend   Backend
	mirror    usecase.Mirror
	publisher usecase.Publisher
	logger    *zap.Logger
}

func New(spaces usecase.Workspaces, backend Backend, mirror usecase.Mirror, publisher usecase.Publisher, logger *zap.Logger) *UseCase {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &UseCase{
		spaces:    spaces,
		backend:   backend,
		mirror:    mirror,
		publisher: publisher,
		logger:    logger,
	}
}

func (uc *UseCase) ListTasks(ctx context.Context, scope string, filter graph.Filter) ([]domain.Task, error) {
	ws, err := uc.spaces.Workspace(ctx, scope)
	if err != nil {
		return nil, err
	}
	return ws.Tasks.List(filter), nil
}

func (uc *UseCase) GetTask(ctx context.Context, scope string, id int64) (domain.Task, error) {
	ws, err := uc.spaces.Workspace(ctx, scope)
	if err != nil {
		return domain.Task{}, err
	}
	return ws.Tasks.Get(resolve(ws, id))
}

func (uc *UseCase) Tree(ctx context.Context, scope string, id int64) (*graph.TreeNode, error) {
	ws, err := uc.spaces.Workspace(ctx, scope)
	if err != nil {
		return nil, err
	}
	return ws.Tasks.Subtree(resolve(ws, id))
}

func (uc *UseCase) IsBlocked(ctx context.Context, scope string, id int64) (bool, error) {
	ws, err := uc.spaces.Workspace(ctx, scope)
	if err != nil {
		return false, err
	}
	return ws.Tasks.IsBlocked(resolve(ws, id))
}

// TopologicalOrder lists task ids with dependencies first.
func (uc *UseCase) TopologicalOrder(ctx context.Context, scope string) ([]int64, error) {
	ws, err := uc.spaces.Workspace(ctx, scope)
	if err != nil {
		return nil, err
	}
	return ws.Tasks.TopologicalOrder()
}

// CreateTask inserts the task under a provisional id, then swaps in the server id.
func (uc *UseCase) CreateTask(ctx context.Context, scope string, task domain.Task) (domain.Task, error) {
	task.Normalize()
	if err := task.Validate(); err != nil {
		return domain.Task{}, err
	}
	ws, err := uc.spaces.Workspace(ctx, scope)
	if err != nil {
		return domain.Task{}, err
	}
	if task.ParentTaskID != nil {
		pid, err := confirmed(ws, *task.ParentTaskID)
		if err != nil {
			return domain.Task{}, err
		}
		task.ParentTaskID = &pid
	}
	for i, dep := range task.DependentTaskIDs {
		if task.DependentTaskIDs[i], err = confirmed(ws, dep); err != nil {
			return domain.Task{}, err
		}
	}
	task.Normalize()

	task.ID = ws.Tasks.ReserveID()
	key := taskKey(task.ID)
	var created domain.Task
	_, err = ws.Coordinator.Do(ctx, optimistic.Mutation{
		Name: "task.create",
		Keys: []optimistic.Key{key},
		Apply: func() error {
			_, err := ws.Tasks.Create(task)
			return err
		},
		Dispatch: func(ctx context.Context) (optimistic.Result, error) {
			confirmed, err := uc.backend.CreateTask(ctx, scope, task)
			if err != nil {
				return optimistic.Result{}, err
			}
			if confirmed.ID <= 0 {
				return optimistic.Result{}, domain.NewError(domain.ErrCodeInternal, "backend returned a task without id")
			}
			created = confirmed
			return optimistic.Result{
				Rekeys:    map[optimistic.Key]int64{key: confirmed.ID},
				Confirmed: map[optimistic.Key]optimistic.Snapshot{taskKey(confirmed.ID): optimistic.TaskSnapshot(confirmed)},
				Value:     confirmed,
			}, nil
		},
	})
	if err != nil {
		return domain.Task{}, err
	}
	return uc.settled(ctx, ws, created.ID), nil
}

// CreateFromTemplate instantiates a template and creates the result.
func (uc *UseCase) CreateFromTemplate(ctx context.Context, scope string, tpl domain.TaskTemplate, title string, parentID, projectID *int64) (domain.Task, error) {
	return uc.CreateTask(ctx, scope, tpl.Instantiate(title, parentID, projectID))
}

func (uc *UseCase) UpdateTask(ctx context.Context, scope string, id int64, patch domain.TaskPatch) (domain.Task, error) {
	if patch.IsEmpty() {
		return domain.Task{}, domain.NewError(domain.ErrCodeInvalid, "patch has no fields")
	}
	ws, err := uc.spaces.Workspace(ctx, scope)
	if err != nil {
		return domain.Task{}, err
	}
	if id, err = confirmed(ws, id); err != nil {
		return domain.Task{}, err
	}
	current, err := ws.Tasks.Get(id)
	if err != nil {
		return domain.Task{}, err
	}
	if _, err := patch.Apply(current); err != nil {
		return domain.Task{}, err
	}

	return uc.mutate(ctx, ws, "task.update", id,
		func() error {
			_, err := ws.Tasks.Patch(id, patch)
			return err
		},
		func(ctx context.Context) (domain.Task, error) {
			return uc.backend.UpdateTask(ctx, scope, id, patch)
		})
}

// Reparent moves a task under parentID; nil promotes it to a root.
func (uc *UseCase) Reparent(ctx context.Context, scope string, id int64, parentID *int64) (domain.Task, error) {
	ws, err := uc.spaces.Workspace(ctx, scope)
	if err != nil {
		return domain.Task{}, err
	}
	if id, err = confirmed(ws, id); err != nil {
		return domain.Task{}, err
	}
	if parentID != nil {
		pid, err := confirmed(ws, *parentID)
		if err != nil {
			return domain.Task{}, err
		}
		parentID = &pid
	}
	return uc.mutate(ctx, ws, "task.reparent", id,
		func() error {
			_, err := ws.Tasks.Reparent(id, parentID)
			return err
		},
		func(ctx context.Context) (domain.Task, error) {
			return uc.backend.SetParent(ctx, scope, id, parentID)
		})
}

func (uc *UseCase) Promote(ctx context.Context, scope string, id int64) (domain.Task, error) {
	return uc.Reparent(ctx, scope, id, nil)
}

func (uc *UseCase) AddDependency(ctx context.Context, scope string, id, dependsOnID int64) (domain.Task, error) {
	ws, err := uc.spaces.Workspace(ctx, scope)
	if err != nil {
		return domain.Task{}, err
	}
	if id, err = confirmed(ws, id); err != nil {
		return domain.Task{}, err
	}
	if dependsOnID, err = confirmed(ws, dependsOnID); err != nil {
		return domain.Task{}, err
	}
	return uc.mutate(ctx, ws, "task.add_dependency", id,
		func() error {
			_, err := ws.Tasks.AddDependency(id, dependsOnID)
			return err
		},
		func(ctx context.Context) (domain.Task, error) {
			return uc.backend.AddDependency(ctx, scope, id, dependsOnID)
		})
}

func (uc *UseCase) RemoveDependency(ctx context.Context, scope string, id, dependsOnID int64) (domain.Task, error) {
	ws, err := uc.spaces.Workspace(ctx, scope)
	if err != nil {
		return domain.Task{}, err
	}
	if id, err = confirmed(ws, id); err != nil {
		return domain.Task{}, err
	}
	if dependsOnID, err = confirmed(ws, dependsOnID); err != nil {
		return domain.Task{}, err
	}
	return uc.mutate(ctx, ws, "task.remove_dependency", id,
		func() error {
			_, err := ws.Tasks.RemoveDependency(id, dependsOnID)
			return err
		},
		func(ctx context.Context) (domain.Task, error) {
			return uc.backend.RemoveDependency(ctx, scope, id, dependsOnID)
		})
}

// DeleteTask removes the task and its direct subtasks. Their snapshots in the
// ACTIVE plan become EXCLUDED once the backend confirms.
func (uc *UseCase) DeleteTask(ctx context.Context, scope string, id int64) (graph.Removal, error) {
	ws, err := uc.spaces.Workspace(ctx, scope)
	if err != nil {
		return graph.Removal{}, err
	}
	if id, err = confirmed(ws, id); err != nil {
		return graph.Removal{}, err
	}
	impact, err := ws.Tasks.DeleteImpact(id)
	if err != nil {
		return graph.Removal{}, err
	}
	keys := make([]optimistic.Key, 0, len(impact))
	for _, tid := range impact {
		keys = append(keys, taskKey(tid))
	}

	var removal graph.Removal
	_, err = ws.Coordinator.Do(ctx, optimistic.Mutation{
		Name: "task.delete",
		Keys: keys,
		Apply: func() error {
			r, err := ws.Tasks.Delete(id)
			removal = r
			return err
		},
		Dispatch: func(ctx context.Context) (optimistic.Result, error) {
			if err := uc.backend.DeleteTask(ctx, scope, id); err != nil {
				return optimistic.Result{}, err
			}
			return optimistic.Result{}, nil
		},
	})
	if err != nil {
		return graph.Removal{}, err
	}

	if excluded := ws.Plans.ExcludeTasks(removal.Removed); len(excluded) > 0 {
		for _, st := range excluded {
			uc.signal(ctx, scope, domain.KindScheduleTask, st.ID, domain.ActionUpdated)
		}
		if active, ok := ws.Plans.Active(); ok {
			if snaps, err := ws.Plans.Tasks(active.ID); err == nil {
				uc.mirrorScheduleTasks(ctx, scope, active.ID, snaps)
			}
		}
	}
	for _, rid := range removal.Removed {
		uc.mirrorTask(ctx, scope, usecase.OperationDelete, domain.Task{ID: rid})
	}
	for _, tid := range append(append([]int64(nil), removal.Promoted...), removal.Detached...) {
		if t, ok := ws.Tasks.Lookup(tid); ok {
			uc.mirrorTask(ctx, scope, usecase.OperationUpsert, t)
		}
	}
	return removal, nil
}

// mutate runs a single-task optimistic edit whose server answer is the confirmed task.
func (uc *UseCase) mutate(
	ctx context.Context,
	ws *engine.Workspace,
	name string,
	target int64,
	apply func() error,
	dispatch func(ctx context.Context) (domain.Task, error),
) (domain.Task, error) {
	_, err := ws.Coordinator.Do(ctx, optimistic.Mutation{
		Name:  name,
		Keys:  []optimistic.Key{taskKey(target)},
		Apply: apply,
		Dispatch: func(ctx context.Context) (optimistic.Result, error) {
			confirmed, err := dispatch(ctx)
			if err != nil {
				return optimistic.Result{}, err
			}
			return optimistic.Result{
				Confirmed: map[optimistic.Key]optimistic.Snapshot{taskKey(target): optimistic.TaskSnapshot(confirmed)},
				Value:     confirmed,
			}, nil
		},
	})
	if err != nil {
		return domain.Task{}, err
	}
	return uc.settled(ctx, ws, target), nil
}

// settled mirrors the confirmed task and syncs it into the ACTIVE plan snapshot.
func (uc *UseCase) settled(ctx context.Context, ws *engine.Workspace, id int64) domain.Task {
	t, err := ws.Tasks.Get(id)
	if err != nil {
		return domain.Task{ID: id}
	}
	uc.mirrorTask(ctx, ws.Scope, usecase.OperationUpsert, t)
	if st, ok := ws.Plans.SyncLiveTask(t); ok {
		uc.signal(ctx, ws.Scope, domain.KindScheduleTask, st.ID, domain.ActionUpdated)
	}
	return t
}

func (uc *UseCase) mirrorTask(ctx context.Context, scope, operation string, t domain.Task) {
	if uc.mirror == nil {
		return
	}
	if err := uc.mirror.MirrorTask(ctx, scope, operation, t); err != nil {
		uc.logger.Error("failed to mirror task", zap.String("operation", operation), zap.Int64("task_id", t.ID), zap.Error(err))
	}
}

func (uc *UseCase) mirrorScheduleTasks(ctx context.Context, scope string, planID int64, snaps []domain.ScheduleTask) {
	if uc.mirror == nil {
		return
	}
	if err := uc.mirror.MirrorScheduleTasks(ctx, scope, planID, snaps); err != nil {
		uc.logger.Error("failed to mirror schedule tasks", zap.Int64("plan_id", planID), zap.Error(err))
	}
}

func (uc *UseCase) signal(ctx context.Context, scope string, kind domain.EntityKind, id int64, action domain.ChangeAction) {
	if uc.publisher == nil {
		return
	}
	uc.publisher.Publish(ctx, domain.Change{Scope: scope, Kind: kind, EntityID: id, Action: action})
}

func taskKey(id int64) optimistic.Key {
	return optimistic.Key{Kind: domain.KindTask, ID: id}
}

func resolve(ws *engine.Workspace, id int64) int64 {
	if id >= 0 {
		return id
	}
	return ws.Coordinator.Resolve(taskKey(id))
}

// confirmed resolves id and refuses ids the backend has not assigned yet.
func confirmed(ws *engine.Workspace, id int64) (int64, error) {
	if id = resolve(ws, id); id < 0 {
		return 0, domain.Errorf(domain.ErrCodeConflict, "task %d not yet confirmed", id)
	}
	return id, nil
}
