package constraints

import (
	"context"

	"go.uber.org/zap"

	"github.com/fastygo/planner/domain"
	"github.com/fastygo/planner/usecase"
)

// Backend stores focus blocks and availability; the optimizer reads them from there.
type Backend interface {
	FocusBlocks(ctx context.Context, scope string) ([]domain.FocusTimeBlock, error)
	SaveFocusBlocks(ctx context.Context, scope string, blocks []domain.FocusTimeBlock) ([]domain.FocusTimeBlock, error)
	Availability(ctx context.Context, scope string) ([]domain.AvailabilityCalendar, error)
	SaveAvailability(ctx context.Context, scope string, slots []domain.AvailabilityCalendar) ([]domain.AvailabilityCalendar, error)
}

type UseCase struct {
	backend   Backend
	publisher usecase.Publisher
	logger    *zap.Logger
}

func New(backend Backend, publisher usecase.Publisher, logger *zap.Logger) *UseCase {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &UseCase{backend: backend, publisher: publisher, logger: logger}
}

func (uc *UseCase) FocusBlocks(ctx context.Context, scope string) ([]domain.FocusTimeBlock, error) {
	return uc.backend.FocusBlocks(ctx, scope)
}

// SaveFocusBlocks replaces the whole set. Nothing is sent when any block is invalid.
func (uc *UseCase) SaveFocusBlocks(ctx context.Context, scope string, blocks []domain.FocusTimeBlock) ([]domain.FocusTimeBlock, error) {
	if err := (domain.Constraints{FocusBlocks: blocks}).Validate(); err != nil {
		return nil, err
	}
	saved, err := uc.backend.SaveFocusBlocks(ctx, scope, blocks)
	if err != nil {
		return nil, err
	}
	uc.signal(ctx, scope)
	return saved, nil
}

func (uc *UseCase) Availability(ctx context.Context, scope string) ([]domain.AvailabilityCalendar, error) {
	return uc.backend.Availability(ctx, scope)
}

func (uc *UseCase) SaveAvailability(ctx context.Context, scope string, slots []domain.AvailabilityCalendar) ([]domain.AvailabilityCalendar, error) {
	if err := (domain.Constraints{Availability: slots}).Validate(); err != nil {
		return nil, err
	}
	saved, err := uc.backend.SaveAvailability(ctx, scope, slots)
	if err != nil {
		return nil, err
	}
	uc.signal(ctx, scope)
	return saved, nil
}

func (uc *UseCase) signal(ctx context.Context, scope string) {
	if uc.publisher == nil {
		return
	}
	uc.publisher.Publish(ctx, domain.Change{Scope: scope, Kind: domain.KindConstraints, Action: domain.ActionUpdated})
}
