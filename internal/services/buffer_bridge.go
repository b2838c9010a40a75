package services

import (
	"context"
	"encoding/json"

	"github.com/fastygo/planner/domain"
	"github.com/fastygo/planner/internal/infrastructure/buffer"
	"github.com/fastygo/planner/usecase"
)

// BufferBridge turns confirmed use case state into buffered mirror writes.
type BufferBridge struct {
	processor *BufferProcessor
}

func NewBufferBridge(processor *BufferProcessor) *BufferBridge {
	return &BufferBridge{processor: processor}
}

func (b *BufferBridge) MirrorTask(ctx context.Context, scope, operation string, task domain.Task) error {
	return b.send(ctx, buffer.Item{Scope: scope, Entity: buffer.EntityTask, Operation: operation, EntityID: task.ID}, task)
}

func (b *BufferBridge) MirrorPlan(ctx context.Context, scope, operation string, plan domain.SchedulePlan) error {
	return b.send(ctx, buffer.Item{Scope: scope, Entity: buffer.EntityPlan, Operation: operation, EntityID: plan.ID}, plan)
}

func (b *BufferBridge) MirrorScheduleTasks(ctx context.Context, scope string, planID int64, tasks []domain.ScheduleTask) error {
	if tasks == nil {
		tasks = []domain.ScheduleTask{}
	}
	return b.send(ctx, buffer.Item{Scope: scope, Entity: buffer.EntityScheduleTasks, Operation: buffer.OperationReplace, EntityID: planID}, tasks)
}

func (b *BufferBridge) MirrorEvent(ctx context.Context, scope, operation string, event domain.ScheduleEvent) error {
	return b.send(ctx, buffer.Item{Scope: scope, Entity: buffer.EntityEvent, Operation: operation, EntityID: event.ID}, event)
}

func (b *BufferBridge) send(ctx context.Context, item buffer.Item, v interface{}) error {
	if b == nil || b.processor == nil {
		return domain.ErrInvalidPayload
	}
	if item.EntityID <= 0 {
		return domain.Errorf(domain.ErrCodeInvalid, "refusing to mirror provisional %s %d", item.Entity, item.EntityID)
	}
	if item.Operation != buffer.OperationDelete {
		payload, err := json.Marshal(v)
		if err != nil {
			return err
		}
		item.Data = payload
	}
	return b.processor.BufferOperation(ctx, item)
}

var _ usecase.Mirror = (*BufferBridge)(nil)
