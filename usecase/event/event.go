package event

import (
	"context"

	"go.uber.org/zap"

	"github.com/fastygo/planner/domain"
	"github.com/fastygo/planner/internal/engine"
	"github.com/fastygo/planner/internal/optimistic"
	"github.com/fastygo/planner/internal/remote"
	"github.com/fastygo/planner/usecase"
)

// Backend is the event part of the remote API.
type Backend interface {
	CreateEvent(ctx context.Context, scope string, ev domain.ScheduleEvent) (domain.ScheduleEvent, error)
	MoveEvent(ctx context.Context, scope string, id int64, req remote.MoveRequest) (domain.ScheduleEvent, error)
	SplitEvent(ctx context.Context, scope string, id int64, splitPointMin int) (domain.ScheduleEvent, domain.ScheduleEvent, error)
	CompleteEvent(ctx context.Context, scope string, id int64, actualStartMin, actualEndMin int) (domain.ScheduleEvent, error)
	OverrideEvent(ctx context.Context, scope string, id int64) (domain.ScheduleEvent, error)
	DeleteEvent(ctx context.Context, scope string, id int64) error
}

// Range selects events of one plan. Zero PlanID means the ACTIVE plan; zero bounds mean all days.
type Range struct {
	PlanID int64
	FromMs int64
	ToMs   int64
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

func (uc *UseCase) ListEvents(ctx context.Context, scope string, r Range) ([]domain.ScheduleEvent, error) {
	ws, err := uc.spaces.Workspace(ctx, scope)
	if err != nil {
		return nil, err
	}
	planID, err := planOf(ws, r.PlanID)
	if err != nil {
		return nil, err
	}
	if r.FromMs == 0 && r.ToMs == 0 {
		return ws.Events.ByPlan(planID), nil
	}
	if r.ToMs == 0 {
		r.ToMs = r.FromMs
	}
	if r.ToMs < r.FromMs {
		return nil, domain.NewError(domain.ErrCodeInvalidRange, "range end precedes start")
	}
	return ws.Events.InRange(planID, r.FromMs, r.ToMs), nil
}

func (uc *UseCase) GetEvent(ctx context.Context, scope string, id int64) (domain.ScheduleEvent, error) {
	ws, err := uc.spaces.Workspace(ctx, scope)
	if err != nil {
		return domain.ScheduleEvent{}, err
	}
	return ws.Events.Get(resolve(ws, id))
}

// CreateEvent places a manual event under a provisional id.
func (uc *UseCase) CreateEvent(ctx context.Context, scope string, ev domain.ScheduleEvent) (domain.ScheduleEvent, error) {
	if err := ev.Validate(); err != nil {
		return domain.ScheduleEvent{}, err
	}
	ws, err := uc.spaces.Workspace(ctx, scope)
	if err != nil {
		return domain.ScheduleEvent{}, err
	}
	if ev.PlanID, err = planOf(ws, ev.PlanID); err != nil {
		return domain.ScheduleEvent{}, err
	}
	p, err := ws.Plans.Get(ev.PlanID)
	if err != nil {
		return domain.ScheduleEvent{}, err
	}
	if p.Status == domain.PlanArchived {
		return domain.ScheduleEvent{}, domain.Errorf(domain.ErrCodeConflict, "plan %d is archived", p.ID)
	}

	ev.ID = ws.Events.ReserveID()
	key := eventKey(ev.ID)
	var created domain.ScheduleEvent
	_, err = ws.Coordinator.Do(ctx, optimistic.Mutation{
		Name: "event.create",
		Keys: []optimistic.Key{key},
		Apply: func() error {
			_, err := ws.Events.Create(ev)
			return err
		},
		Dispatch: func(ctx context.Context) (optimistic.Result, error) {
			confirmed, err := uc.backend.CreateEvent(ctx, scope, ev)
			if err != nil {
				return optimistic.Result{}, err
			}
			if confirmed.ID <= 0 {
				return optimistic.Result{}, domain.NewError(domain.ErrCodeInternal, "backend returned an event without id")
			}
			created = confirmed
			return optimistic.Result{
				Rekeys:    map[optimistic.Key]int64{key: confirmed.ID},
				Confirmed: map[optimistic.Key]optimistic.Snapshot{eventKey(confirmed.ID): optimistic.EventSnapshot(confirmed)},
			}, nil
		},
	})
	if err != nil {
		return domain.ScheduleEvent{}, err
	}
	return uc.settled(ctx, ws, created.ID), nil
}

// MoveEvent re-places an event and pins it.
func (uc *UseCase) MoveEvent(ctx context.Context, scope string, id int64, dateMs int64, startMin, endMin int) (domain.ScheduleEvent, error) {
	if err := domain.ValidateRange(startMin, endMin); err != nil {
		return domain.ScheduleEvent{}, err
	}
	ws, err := uc.spaces.Workspace(ctx, scope)
	if err != nil {
		return domain.ScheduleEvent{}, err
	}
	if id, err = confirmed(ws, id); err != nil {
		return domain.ScheduleEvent{}, err
	}
	return uc.mutate(ctx, ws, "event.move", id,
		func() error {
			_, err := ws.Events.Move(id, dateMs, startMin, endMin)
			return err
		},
		func(ctx context.Context) (domain.ScheduleEvent, error) {
			return uc.backend.MoveEvent(ctx, scope, id, remote.MoveRequest{DateMs: domain.DayStart(dateMs), StartMin: startMin, EndMin: endMin})
		})
}

// SplitEvent cuts an event in two. Sibling parts are renumbered locally and
// restored together with the event when the backend rejects the split.
func (uc *UseCase) SplitEvent(ctx context.Context, scope string, id int64, splitPointMin int) (domain.ScheduleEvent, domain.ScheduleEvent, error) {
	ws, err := uc.spaces.Workspace(ctx, scope)
	if err != nil {
		return domain.ScheduleEvent{}, domain.ScheduleEvent{}, err
	}
	if id, err = confirmed(ws, id); err != nil {
		return domain.ScheduleEvent{}, domain.ScheduleEvent{}, err
	}
	current, err := ws.Events.Get(id)
	if err != nil {
		return domain.ScheduleEvent{}, domain.ScheduleEvent{}, err
	}
	if splitPointMin <= current.StartMin || splitPointMin >= current.EndMin {
		return domain.ScheduleEvent{}, domain.ScheduleEvent{}, domain.Errorf(domain.ErrCodeInvalidSplitPoint,
			"split point %d not strictly between %d and %d", splitPointMin, current.StartMin, current.EndMin)
	}
	siblings, err := ws.Events.SplitImpact(id)
	if err != nil {
		return domain.ScheduleEvent{}, domain.ScheduleEvent{}, err
	}

	secondID := ws.Events.ReserveID()
	secondKey := eventKey(secondID)
	keys := []optimistic.Key{eventKey(id), secondKey}
	for _, sid := range siblings {
		keys = append(keys, eventKey(sid))
	}

	var first, second domain.ScheduleEvent
	_, err = ws.Coordinator.Do(ctx, optimistic.Mutation{
		Name: "event.split",
		Keys: keys,
		Apply: func() error {
			_, _, err := ws.Events.SplitAs(id, splitPointMin, secondID)
			return err
		},
		Dispatch: func(ctx context.Context) (optimistic.Result, error) {
			a, b, err := uc.backend.SplitEvent(ctx, scope, id, splitPointMin)
			if err != nil {
				return optimistic.Result{}, err
			}
			if b.ID <= 0 {
				return optimistic.Result{}, domain.NewError(domain.ErrCodeInternal, "backend returned a split part without id")
			}
			first, second = a, b
			return optimistic.Result{
				Rekeys: map[optimistic.Key]int64{secondKey: b.ID},
				Confirmed: map[optimistic.Key]optimistic.Snapshot{
					eventKey(id):   optimistic.EventSnapshot(a),
					eventKey(b.ID): optimistic.EventSnapshot(b),
				},
			}, nil
		},
	})
	if err != nil {
		return domain.ScheduleEvent{}, domain.ScheduleEvent{}, err
	}
	for _, sid := range siblings {
		if sid != id {
			uc.settled(ctx, ws, sid)
		}
	}
	return uc.settled(ctx, ws, first.ID), uc.settled(ctx, ws, second.ID), nil
}

// CompleteEvent records actual times; the utility score stays as scheduled.
func (uc *UseCase) CompleteEvent(ctx context.Context, scope string, id int64, actualStartMin, actualEndMin int) (domain.ScheduleEvent, error) {
	if err := domain.ValidateRange(actualStartMin, actualEndMin); err != nil {
		return domain.ScheduleEvent{}, err
	}
	ws, err := uc.spaces.Workspace(ctx, scope)
	if err != nil {
		return domain.ScheduleEvent{}, err
	}
	if id, err = confirmed(ws, id); err != nil {
		return domain.ScheduleEvent{}, err
	}
	return uc.mutate(ctx, ws, "event.complete", id,
		func() error {
			_, err := ws.Events.Complete(id, actualStartMin, actualEndMin)
			return err
		},
		func(ctx context.Context) (domain.ScheduleEvent, error) {
			return uc.backend.CompleteEvent(ctx, scope, id, actualStartMin, actualEndMin)
		})
}

func (uc *UseCase) OverrideEvent(ctx context.Context, scope string, id int64) (domain.ScheduleEvent, error) {
	ws, err := uc.spaces.Workspace(ctx, scope)
	if err != nil {
		return domain.ScheduleEvent{}, err
	}
	if id, err = confirmed(ws, id); err != nil {
		return domain.ScheduleEvent{}, err
	}
	return uc.mutate(ctx, ws, "event.override", id,
		func() error {
			_, err := ws.Events.MarkManualOverride(id)
			return err
		},
		func(ctx context.Context) (domain.ScheduleEvent, error) {
			return uc.backend.OverrideEvent(ctx, scope, id)
		})
}

func (uc *UseCase) DeleteEvent(ctx context.Context, scope string, id int64) error {
	ws, err := uc.spaces.Workspace(ctx, scope)
	if err != nil {
		return err
	}
	if id, err = confirmed(ws, id); err != nil {
		return err
	}
	current, err := ws.Events.Get(id)
	if err != nil {
		return err
	}
	_, err = ws.Coordinator.Do(ctx, optimistic.Mutation{
		Name: "event.delete",
		Keys: []optimistic.Key{eventKey(id)},
		Apply: func() error {
			return ws.Events.Delete(id)
		},
		Dispatch: func(ctx context.Context) (optimistic.Result, error) {
			return optimistic.Result{}, uc.backend.DeleteEvent(ctx, scope, id)
		},
	})
	if err != nil {
		return err
	}
	uc.refreshUtility(ctx, ws, current.PlanID)
	uc.mirrorEvent(ctx, scope, usecase.OperationDelete, current)
	return nil
}

func (uc *UseCase) mutate(
	ctx context.Context,
	ws *engine.Workspace,
	name string,
	id int64,
	apply func() error,
	dispatch func(ctx context.Context) (domain.ScheduleEvent, error),
) (domain.ScheduleEvent, error) {
	_, err := ws.Coordinator.Do(ctx, optimistic.Mutation{
		Name:  name,
		Keys:  []optimistic.Key{eventKey(id)},
		Apply: apply,
		Dispatch: func(ctx context.Context) (optimistic.Result, error) {
			confirmed, err := dispatch(ctx)
			if err != nil {
				return optimistic.Result{}, err
			}
			return optimistic.Result{
				Confirmed: map[optimistic.Key]optimistic.Snapshot{eventKey(id): optimistic.EventSnapshot(confirmed)},
			}, nil
		},
	})
	if err != nil {
		return domain.ScheduleEvent{}, err
	}
	return uc.settled(ctx, ws, id), nil
}

// settled mirrors the confirmed event and refreshes its plan's utility.
func (uc *UseCase) settled(ctx context.Context, ws *engine.Workspace, id int64) domain.ScheduleEvent {
	ev, ok := ws.Events.Lookup(id)
	if !ok {
		return domain.ScheduleEvent{ID: id}
	}
	uc.refreshUtility(ctx, ws, ev.PlanID)
	uc.mirrorEvent(ctx, ws.Scope, usecase.OperationUpsert, ev)
	return ev
}

func (uc *UseCase) refreshUtility(ctx context.Context, ws *engine.Workspace, planID int64) {
	if err := ws.Plans.UpdateUtility(planID, ws.Events.TotalUtility(planID)); err != nil {
		uc.logger.Debug("plan utility not refreshed", zap.Int64("plan_id", planID), zap.Error(err))
		return
	}
	if uc.publisher != nil {
		uc.publisher.Publish(ctx, domain.Change{Scope: ws.Scope, Kind: domain.KindPlan, EntityID: planID, Action: domain.ActionUpdated})
	}
	if uc.mirror == nil {
		return
	}
	if p, err := ws.Plans.Get(planID); err == nil {
		if err := uc.mirror.MirrorPlan(ctx, ws.Scope, usecase.OperationUpsert, p); err != nil {
			uc.logger.Error("failed to mirror plan", zap.Int64("plan_id", planID), zap.Error(err))
		}
	}
}

func (uc *UseCase) mirrorEvent(ctx context.Context, scope, operation string, ev domain.ScheduleEvent) {
	if uc.mirror == nil {
		return
	}
	if err := uc.mirror.MirrorEvent(ctx, scope, operation, ev); err != nil {
		uc.logger.Error("failed to mirror event", zap.String("operation", operation), zap.Int64("event_id", ev.ID), zap.Error(err))
	}
}

func planOf(ws *engine.Workspace, planID int64) (int64, error) {
	if planID != 0 {
		return planID, nil
	}
	active, ok := ws.Plans.Active()
	if !ok {
		return 0, domain.ErrNoActivePlan
	}
	return active.ID, nil
}

func eventKey(id int64) optimistic.Key {
	return optimistic.Key{Kind: domain.KindEvent, ID: id}
}

func resolve(ws *engine.Workspace, id int64) int64 {
	if id >= 0 {
		return id
	}
	return ws.Coordinator.Resolve(eventKey(id))
}

// confirmed resolves id and refuses ids the backend has not assigned yet.
func confirmed(ws *engine.Workspace, id int64) (int64, error) {
	if id = resolve(ws, id); id < 0 {
		return 0, domain.Errorf(domain.ErrCodeConflict, "event %d not yet confirmed", id)
	}
	return id, nil
}
