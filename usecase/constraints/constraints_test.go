package constraints

import (
	"context"
	"testing"

	"github.com/fastygo/planner/domain"
)

type fakeBackend struct {
	blocks []domain.FocusTimeBlock
	slots  []domain.AvailabilityCalendar
	saves  int
}

func (f *fakeBackend) FocusBlocks(context.Context, string) ([]domain.FocusTimeBlock, error) {
	return f.blocks, nil
}

func (f *fakeBackend) SaveFocusBlocks(_ context.Context, _ string, blocks []domain.FocusTimeBlock) ([]domain.FocusTimeBlock, error) {
	f.saves++
	f.blocks = blocks
	return blocks, nil
}

func (f *fakeBackend) Availability(context.Context, string) ([]domain.AvailabilityCalendar, error) {
	return f.slots, nil
}

func (f *fakeBackend) SaveAvailability(_ context.Context, _ string, slots []domain.AvailabilityCalendar) ([]domain.AvailabilityCalendar, error) {
	f.saves++
	f.slots = slots
	return slots, nil
}

type recorder struct{ changes []domain.Change }

func (r *recorder) Publish(_ context.Context, c domain.Change) { r.changes = append(r.changes, c) }

func TestInvalidConstraintsNeverReachBackend(t *testing.T) {
	tests := []struct {
		name   string
		save   func(uc *UseCase) error
		wanted domain.ErrorCode
	}{
		{
			name: "focus block day out of range",
			save: func(uc *UseCase) error {
				_, err := uc.SaveFocusBlocks(context.Background(), "u1", []domain.FocusTimeBlock{{DayOfWeek: 7, StartMin: 60, EndMin: 120}})
				return err
			},
			wanted: domain.ErrCodeInvalid,
		},
		{
			name: "focus block reversed",
			save: func(uc *UseCase) error {
				_, err := uc.SaveFocusBlocks(context.Background(), "u1", []domain.FocusTimeBlock{{DayOfWeek: 1, StartMin: 120, EndMin: 60}})
				return err
			},
			wanted: domain.ErrCodeInvalidRange,
		},
		{
			name: "unknown slot type",
			save: func(uc *UseCase) error {
				_, err := uc.SaveAvailability(context.Background(), "u1", []domain.AvailabilityCalendar{{DayOfWeek: 1, StartMin: 60, EndMin: 120, SlotType: "nap"}})
				return err
			},
			wanted: domain.ErrCodeInvalid,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := &fakeBackend{}
			uc := New(backend, nil, nil)
			if err := tt.save(uc); !domain.IsDomainError(err, tt.wanted) {
				t.Fatalf("expected %s, got %v", tt.wanted, err)
			}
			if backend.saves != 0 {
				t.Fatalf("backend called %d times", backend.saves)
			}
		})
	}
}

func TestSaveSignalsConstraintsChange(t *testing.T) {
	backend := &fakeBackend{}
	rec := &recorder{}
	uc := New(backend, rec, nil)

	blocks := []domain.FocusTimeBlock{{DayOfWeek: 2, StartMin: 540, EndMin: 660, Label: "deep"}}
	saved, err := uc.SaveFocusBlocks(context.Background(), "u1", blocks)
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if len(saved) != 1 || saved[0].Label != "deep" {
		t.Fatalf("unexpected result %+v", saved)
	}
	if len(rec.changes) != 1 || rec.changes[0].Kind != domain.KindConstraints || rec.changes[0].Scope != "u1" {
		t.Fatalf("unexpected signals %+v", rec.changes)
	}
}
