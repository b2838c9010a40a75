package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/fastygo/planner/domain"
	"github.com/fastygo/planner/internal/infrastructure/buffer"
	"github.com/fastygo/planner/repository"
)

// ConnectionHealth abstracts the connection monitor functionality.
type ConnectionHealth interface {
	IsOnline() bool
}

// BacklogObserver is told the buffer size after every drain and enqueue.
type BacklogObserver interface {
	MirrorBacklog(n int)
}

// ProcessorConfig controls how frequently the buffer is drained.
type ProcessorConfig struct {
	Interval   time.Duration
	BatchSize  int
	MaxRetries int
	Retention  time.Duration
	// MaxSize caps the backlog; zero means unbounded.
	MaxSize int
}

// Repositories are the mirror targets the buffer drains into.
type Repositories struct {
	Tasks  repository.TaskRepository
	Plans  repository.PlanRepository
	Events repository.EventRepository
}

// BufferProcessor replays buffered mirror writes into postgres.
type BufferProcessor struct {
	store    *buffer.Store
	monitor  ConnectionHealth
	repos    Repositories
	observer BacklogObserver
	logger   *zap.Logger
	cron     *cron.Cron
	cfg      ProcessorConfig
}

func NewBufferProcessor(
	store *buffer.Store,
	monitor ConnectionHealth,
	repos Repositories,
	observer BacklogObserver,
	logger *zap.Logger,
	cfg ProcessorConfig,
) *BufferProcessor {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	bp := &BufferProcessor{
		store:    store,
		monitor:  monitor,
		repos:    repos,
		observer: observer,
		logger:   logger,
		cfg:      cfg,
		cron:     cron.New(cron.WithSeconds()),
	}

	schedule := fmt.Sprintf("@every %ds", int(cfg.Interval.Seconds()))
	_, _ = bp.cron.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Interval)
		defer cancel()
		if err := bp.Drain(ctx); err != nil {
			bp.logger.Error("buffer drain failed", zap.Error(err))
		}
	})
	if cfg.Retention > 0 {
		_, _ = bp.cron.AddFunc("@hourly", func() {
			if err := bp.store.Cleanup(time.Now().Add(-cfg.Retention)); err != nil {
				bp.logger.Warn("buffer cleanup failed", zap.Error(err))
			}
			bp.reportBacklog()
		})
	}

	return bp
}

// Start launches the cron scheduler.
func (bp *BufferProcessor) Start() {
	if bp == nil || bp.cron == nil {
		return
	}
	bp.cron.Start()
	bp.logger.Info("buffer processor started")
}

// Stop gracefully stops the scheduler.
func (bp *BufferProcessor) Stop(ctx context.Context) {
	if bp == nil || bp.cron == nil {
		return
	}
	stopCtx := bp.cron.Stop()
	select {
	case <-stopCtx.Done():
	case <-ctx.Done():
	}
	bp.logger.Info("buffer processor stopped")
}

// Drain processes buffered items synchronously. It stops at the first failure
// so later writes to the same entity never overtake an earlier one.
func (bp *BufferProcessor) Drain(ctx context.Context) error {
	if bp == nil || bp.store == nil {
		return nil
	}
	defer bp.reportBacklog()
	if bp.monitor != nil && !bp.monitor.IsOnline() {
		bp.logger.Debug("skipping buffer drain (offline)")
		return nil
	}

	items, err := bp.store.GetBatch(bp.cfg.BatchSize)
	if err != nil {
		return err
	}

	for _, item := range items {
		if err := bp.processItem(ctx, item); err != nil {
			bp.logger.Error("failed to process buffer item",
				zap.String("item_id", item.ID),
				zap.String("scope", item.Scope),
				zap.String("entity", item.Entity),
				zap.Error(err))

			item.Retries++
			if item.Retries >= bp.cfg.MaxRetries || !domain.IsRetryable(err) {
				bp.logger.Warn("dropping buffer item", zap.String("item_id", item.ID), zap.Int("retries", item.Retries))
				_ = bp.store.Remove(item)
				continue
			}
			if err := bp.store.Requeue(item); err != nil {
				bp.logger.Error("failed to requeue buffer item", zap.Error(err))
			}
			return nil
		}

		if err := bp.store.Remove(item); err != nil {
			bp.logger.Warn("failed to purge processed buffer item", zap.Error(err))
		}
	}
	return nil
}

// BufferOperation attempts to run the operation immediately and falls back to persisting it.
// Once anything is queued every later write queues behind it.
func (bp *BufferProcessor) BufferOperation(ctx context.Context, item buffer.Item) error {
	if bp == nil || bp.store == nil {
		return fmt.Errorf("buffer processor not configured")
	}

	if (bp.monitor == nil || bp.monitor.IsOnline()) && bp.Size() == 0 {
		err := bp.processItem(ctx, item)
		if err == nil {
			return nil
		}
		if !domain.IsRetryable(err) {
			return err
		}
		bp.logger.Warn("immediate processing failed, buffering", zap.String("entity", item.Entity), zap.Error(err))
	}
	if bp.cfg.MaxSize > 0 && bp.Size() >= bp.cfg.MaxSize {
		return domain.NewError(domain.ErrCodeTransient, "mirror buffer full")
	}
	if err := bp.store.Enqueue(item); err != nil {
		return err
	}
	bp.reportBacklog()
	return nil
}

// Size returns the number of buffered items.
func (bp *BufferProcessor) Size() int {
	if bp == nil || bp.store == nil {
		return 0
	}
	size, err := bp.store.Size()
	if err != nil {
		return 0
	}
	return size
}

func (bp *BufferProcessor) reportBacklog() {
	if bp.observer != nil {
		bp.observer.MirrorBacklog(bp.Size())
	}
}

func (bp *BufferProcessor) processItem(ctx context.Context, item buffer.Item) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if item.Scope == "" {
		return domain.NewError(domain.ErrCodeInvalid, "buffer item without scope")
	}

	switch item.Entity {
	case buffer.EntityTask:
		if bp.repos.Tasks == nil {
			return nil
		}
		switch item.Operation {
		case buffer.OperationUpsert:
			var task domain.Task
			if err := decodeItem(item, &task); err != nil {
				return err
			}
			return bp.repos.Tasks.Upsert(ctx, item.Scope, task)
		case buffer.OperationDelete:
			return bp.repos.Tasks.Delete(ctx, item.Scope, item.EntityID)
		}

	case buffer.EntityPlan:
		if bp.repos.Plans == nil {
			return nil
		}
		switch item.Operation {
		case buffer.OperationUpsert:
			var p domain.SchedulePlan
			if err := decodeItem(item, &p); err != nil {
				return err
			}
			return bp.repos.Plans.Upsert(ctx, item.Scope, p)
		case buffer.OperationDelete:
			return bp.repos.Plans.Delete(ctx, item.Scope, item.EntityID)
		}

	case buffer.EntityScheduleTasks:
		if bp.repos.Plans == nil {
			return nil
		}
		if item.Operation == buffer.OperationReplace {
			var tasks []domain.ScheduleTask
			if err := decodeItem(item, &tasks); err != nil {
				return err
			}
			return bp.repos.Plans.ReplaceScheduleTasks(ctx, item.Scope, item.EntityID, tasks)
		}

	case buffer.EntityEvent:
		if bp.repos.Events == nil {
			return nil
		}
		switch item.Operation {
		case buffer.OperationUpsert:
			var ev domain.ScheduleEvent
			if err := decodeItem(item, &ev); err != nil {
				return err
			}
			return bp.repos.Events.Upsert(ctx, item.Scope, ev)
		case buffer.OperationDelete:
			return bp.repos.Events.Delete(ctx, item.Scope, item.EntityID)
		}

	default:
		return domain.Errorf(domain.ErrCodeInvalid, "unsupported entity %s", item.Entity)
	}
	return domain.Errorf(domain.ErrCodeInvalid, "unsupported operation %s for %s", item.Operation, item.Entity)
}

func decodeItem(item buffer.Item, dst interface{}) error {
	if err := json.Unmarshal(item.Data, dst); err != nil {
		return domain.WrapError(domain.ErrCodeInvalid, "decode buffer item", err)
	}
	return nil
}
