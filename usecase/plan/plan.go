package plan

import (
	"context"

	"go.uber.org/zap"

	"github.com/fastygo/planner/domain"
	"github.com/fastygo/planner/internal/engine"
	"github.com/fastygo/planner/internal/graph"
	"github.com/fastygo/planner/internal/reschedule"
	"github.com/fastygo/planner/usecase"
)

// Backend is the plan part of the remote API.
type Backend interface {
	CreatePlan(ctx context.Context, scope string, plan domain.SchedulePlan) (domain.SchedulePlan, error)
	ApplyPlan(ctx context.Context, scope string, id int64) ([]domain.SchedulePlan, error)
	RevertPlan(ctx context.Context, scope string, id int64) ([]domain.SchedulePlan, error)
	DiscardPlan(ctx context.Context, scope string, id int64) error
}

type Config struct {
	// ArchiveKeep bounds the ARCHIVED history kept after apply and revert. Zero keeps everything.
	ArchiveKeep int
}

type UseCase struct {
	spaces    usecase.Workspaces
	backend   Backend
	mirror    usecase.Mirror
	publisher usecase.Publisher
	cfg       Config
	logger    *zap.Logger
}

func New(spaces usecase.Workspaces, backend Backend, mirror usecase.Mirror, publisher usecase.Publisher, cfg Config, logger *zap.Logger) *UseCase {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &UseCase{
		spaces:    spaces,
		backend:   backend,
		mirror:    mirror,
		publisher: publisher,
		cfg:       cfg,
		logger:    logger,
	}
}

func (uc *UseCase) ListPlans(ctx context.Context, scope string, statuses ...domain.PlanStatus) ([]domain.SchedulePlan, error) {
	for _, st := range statuses {
		if !st.Valid() {
			return nil, domain.Errorf(domain.ErrCodeInvalid, "unknown plan status %q", st)
		}
	}
	ws, err := uc.spaces.Workspace(ctx, scope)
	if err != nil {
		return nil, err
	}
	return ws.Plans.List(statuses...), nil
}

func (uc *UseCase) ActivePlan(ctx context.Context, scope string) (domain.SchedulePlan, error) {
	ws, err := uc.spaces.Workspace(ctx, scope)
	if err != nil {
		return domain.SchedulePlan{}, err
	}
	active, ok := ws.Plans.Active()
	if !ok {
		return domain.SchedulePlan{}, domain.ErrNoActivePlan
	}
	return active, nil
}

func (uc *UseCase) GetPlan(ctx context.Context, scope string, id int64) (domain.SchedulePlan, error) {
	ws, err := uc.spaces.Workspace(ctx, scope)
	if err != nil {
		return domain.SchedulePlan{}, err
	}
	return ws.Plans.Get(id)
}

func (uc *UseCase) PlanTasks(ctx context.Context, scope string, id int64) ([]domain.ScheduleTask, error) {
	ws, err := uc.spaces.Workspace(ctx, scope)
	if err != nil {
		return nil, err
	}
	return ws.Plans.Tasks(id)
}

func (uc *UseCase) Stats(ctx context.Context, scope string, id int64) (domain.PlanStats, error) {
	ws, err := uc.spaces.Workspace(ctx, scope)
	if err != nil {
		return domain.PlanStats{}, err
	}
	return ws.Plans.Stats(id, ws.Events.ByPlan(id))
}

// History pages through ARCHIVED plans, newest first.
func (uc *UseCase) History(ctx context.Context, scope string, offset, limit int) ([]domain.SchedulePlan, int, error) {
	ws, err := uc.spaces.Workspace(ctx, scope)
	if err != nil {
		return nil, 0, err
	}
	plans, total := ws.Plans.History(offset, limit)
	return plans, total, nil
}

// CreatePlan makes the scope's first plan from the current task set.
func (uc *UseCase) CreatePlan(ctx context.Context, scope string, p domain.SchedulePlan) (domain.SchedulePlan, error) {
	if err := p.ValidateRange(); err != nil {
		return domain.SchedulePlan{}, err
	}
	ws, err := uc.spaces.Workspace(ctx, scope)
	if err != nil {
		return domain.SchedulePlan{}, err
	}
	if active, ok := ws.Plans.Active(); ok {
		return domain.SchedulePlan{}, domain.Errorf(domain.ErrCodeConflict, "plan %d is already active", active.ID)
	}

	p.Status = domain.PlanActive
	confirmed, err := uc.backend.CreatePlan(ctx, scope, p)
	if err != nil {
		return domain.SchedulePlan{}, err
	}
	created, err := ws.Plans.Create(confirmed, ws.Tasks.List(graph.Filter{}))
	if err != nil {
		return domain.SchedulePlan{}, err
	}

	uc.mirrorPlan(ctx, scope, usecase.OperationUpsert, created)
	uc.mirrorSnapshots(ctx, ws, created.ID)
	uc.signal(ctx, scope, created.ID, domain.ActionCreated)
	return created, nil
}

// ApplyPlan promotes a PROPOSED plan. The proposal of a READY reschedule job goes
// through the orchestrator so the job settles as APPLIED.
func (uc *UseCase) ApplyPlan(ctx context.Context, scope string, id int64) (domain.SchedulePlan, error) {
	ws, err := uc.spaces.Workspace(ctx, scope)
	if err != nil {
		return domain.SchedulePlan{}, err
	}

	var active domain.SchedulePlan
	if ws.Reschedule.Owns(ctx, id) {
		active, err = ws.Reschedule.Apply(ctx)
		if err != nil {
			return domain.SchedulePlan{}, err
		}
	} else {
		if err := ws.Plans.CheckApply(id); err != nil {
			return domain.SchedulePlan{}, err
		}
		confirmed, err := uc.backend.ApplyPlan(ctx, scope, id)
		if err != nil {
			return domain.SchedulePlan{}, err
		}
		active, err = reschedule.ApplyConfirmed(ws.Plans, id, confirmed)
		if err != nil {
			return domain.SchedulePlan{}, err
		}
		uc.signal(ctx, scope, id, domain.ActionConfirmed)
	}

	uc.afterTransition(ctx, ws, active.ID)
	return active, nil
}

// RevertPlan makes an ARCHIVED plan ACTIVE again. Its events stay attached.
func (uc *UseCase) RevertPlan(ctx context.Context, scope string, id int64) (domain.SchedulePlan, error) {
	ws, err := uc.spaces.Workspace(ctx, scope)
	if err != nil {
		return domain.SchedulePlan{}, err
	}
	if err := ws.Plans.CheckRevert(id); err != nil {
		return domain.SchedulePlan{}, err
	}
	confirmed, err := uc.backend.RevertPlan(ctx, scope, id)
	if err != nil {
		return domain.SchedulePlan{}, err
	}

	var active domain.SchedulePlan
	if len(confirmed) == 0 {
		tr, err := ws.Plans.Revert(id)
		if err != nil {
			return domain.SchedulePlan{}, err
		}
		active = tr.Active
	} else {
		for _, p := range confirmed {
			if err := ws.Plans.Upsert(p); err != nil {
				return domain.SchedulePlan{}, err
			}
		}
		var ok bool
		if active, ok = ws.Plans.Active(); !ok || active.ID != id {
			return domain.SchedulePlan{}, domain.Errorf(domain.ErrCodeConflict, "backend did not activate plan %d", id)
		}
	}

	uc.signal(ctx, scope, id, domain.ActionConfirmed)
	uc.afterTransition(ctx, ws, active.ID)
	return active, nil
}

// DiscardPlan deletes a PROPOSED plan and its events. The ACTIVE plan is untouched.
func (uc *UseCase) DiscardPlan(ctx context.Context, scope string, id int64) error {
	ws, err := uc.spaces.Workspace(ctx, scope)
	if err != nil {
		return err
	}
	if ws.Reschedule.Owns(ctx, id) {
		if err := ws.Reschedule.Discard(ctx); err != nil {
			return err
		}
	} else {
		if err := ws.Plans.CheckDiscard(id); err != nil {
			return err
		}
		if err := uc.backend.DiscardPlan(ctx, scope, id); err != nil && !domain.IsDomainError(err, domain.ErrCodeNotFound) {
			return err
		}
		if _, err := ws.Plans.Discard(id); err != nil {
			return err
		}
		ws.Events.DeletePlan(id)
		uc.signal(ctx, scope, id, domain.ActionDeleted)
	}
	uc.mirrorPlan(ctx, scope, usecase.OperationDelete, domain.SchedulePlan{ID: id})
	return nil
}

func (uc *UseCase) RequestReschedule(ctx context.Context, scope string, req domain.RescheduleRequest) (domain.RescheduleJob, error) {
	ws, err := uc.spaces.Workspace(ctx, scope)
	if err != nil {
		return domain.RescheduleJob{}, err
	}
	return ws.Reschedule.Request(ctx, req)
}

func (uc *UseCase) RescheduleStatus(ctx context.Context, scope string) (domain.RescheduleJob, error) {
	ws, err := uc.spaces.Workspace(ctx, scope)
	if err != nil {
		return domain.RescheduleJob{}, err
	}
	return ws.Reschedule.Status(ctx)
}

// afterTransition prunes old history and mirrors the new plan set.
func (uc *UseCase) afterTransition(ctx context.Context, ws *engine.Workspace, activeID int64) {
	if uc.cfg.ArchiveKeep > 0 {
		for _, id := range ws.Plans.PruneArchived(uc.cfg.ArchiveKeep) {
			ws.Events.DeletePlan(id)
			uc.mirrorPlan(ctx, ws.Scope, usecase.OperationDelete, domain.SchedulePlan{ID: id})
			uc.signal(ctx, ws.Scope, id, domain.ActionDeleted)
		}
	}
	for _, p := range ws.Plans.List(domain.PlanActive, domain.PlanArchived) {
		uc.mirrorPlan(ctx, ws.Scope, usecase.OperationUpsert, p)
	}
	uc.mirrorSnapshots(ctx, ws, activeID)
	if uc.mirror == nil {
		return
	}
	for _, ev := range ws.Events.ByPlan(activeID) {
		if err := uc.mirror.MirrorEvent(ctx, ws.Scope, usecase.OperationUpsert, ev); err != nil {
			uc.logger.Error("failed to mirror event", zap.Int64("event_id", ev.ID), zap.Error(err))
		}
	}
}

func (uc *UseCase) mirrorPlan(ctx context.Context, scope, operation string, p domain.SchedulePlan) {
	if uc.mirror == nil {
		return
	}
	if err := uc.mirror.MirrorPlan(ctx, scope, operation, p); err != nil {
		uc.logger.Error("failed to mirror plan", zap.String("operation", operation), zap.Int64("plan_id", p.ID), zap.Error(err))
	}
}

func (uc *UseCase) mirrorSnapshots(ctx context.Context, ws *engine.Workspace, planID int64) {
	if uc.mirror == nil {
		return
	}
	snaps, err := ws.Plans.Tasks(planID)
	if err != nil {
		return
	}
	if err := uc.mirror.MirrorScheduleTasks(ctx, ws.Scope, planID, snaps); err != nil {
		uc.logger.Error("failed to mirror schedule tasks", zap.Int64("plan_id", planID), zap.Error(err))
	}
}

func (uc *UseCase) signal(ctx context.Context, scope string, id int64, action domain.ChangeAction) {
	if uc.publisher == nil {
		return
	}
	uc.publisher.Publish(ctx, domain.Change{Scope: scope, Kind: domain.KindPlan, EntityID: id, Action: action})
}
