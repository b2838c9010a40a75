package notify

import (
	"context"

	"go.uber.org/zap"

	"github.com/fastygo/planner/domain"
	"github.com/fastygo/planner/repository"
)

// Audit appends settled changes to the change log. Plain "updated" invalidations are skipped.
type Audit struct {
	repo   repository.ChangeRepository
	logger *zap.Logger
}

func NewAudit(repo repository.ChangeRepository, logger *zap.Logger) *Audit {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Audit{repo: repo, logger: logger}
}

// Run drains the bus until it is closed or ctx ends.
func (a *Audit) Run(ctx context.Context, bus *Bus) {
	ch, unsubscribe := bus.SubscribeAll(1024)
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case change, ok := <-ch:
			if !ok {
				return
			}
			a.record(ctx, change)
		}
	}
}

func (a *Audit) record(ctx context.Context, change domain.Change) {
	if !Settled(change) {
		return
	}
	if err := a.repo.Append(ctx, change); err != nil {
		a.logger.Warn("append change",
			zap.String("scope", change.Scope),
			zap.String("kind", string(change.Kind)),
			zap.Int64("entity_id", change.EntityID),
			zap.Error(err),
		)
	}
}

// Settled reports whether a change belongs in the audit trail.
func Settled(change domain.Change) bool {
	return change.Action != domain.ActionUpdated && change.Action != ""
}
