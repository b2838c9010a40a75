package placement

import (
	"reflect"
	"testing"

	"github.com/fastygo/planner/domain"
)

const day = int64(1_700_006_400_000) // 2023-11-15 00:00 UTC

func seed(t *testing.T) (*Store, domain.ScheduleEvent) {
	t.Helper()
	s := NewStore(nil)
	events, err := s.InsertBulk(7, []domain.ScheduleEvent{
		{ID: 1, ScheduleTaskID: 100, TaskID: 10, DateMs: day, StartMin: 540, EndMin: 660, UtilityScore: 42.5,
			Utility: &domain.UtilityBreakdown{PriorityScore: 30, DeadlineScore: 15, ContextSwitchPenalty: 2.5, Reason: "morning focus"}},
		{ID: 2, ScheduleTaskID: 200, TaskID: 20, DateMs: day, StartMin: 700, EndMin: 760, UtilityScore: 10},
	})
	if err != nil {
		t.Fatalf("InsertBulk: %v", err)
	}
	return s, events[0]
}

func TestInsertBulkIsAllOrNothing(t *testing.T) {
	s := NewStore(nil)
	_, err := s.InsertBulk(1, []domain.ScheduleEvent{
		{ID: 1, StartMin: 60, EndMin: 120},
		{ID: 2, StartMin: 200, EndMin: 100},
	})
	if !domain.IsDomainError(err, domain.ErrCodeInvalidRange) {
		t.Fatalf("expected INVALID_RANGE, got %v", err)
	}
	if s.Count(1) != 0 {
		t.Fatalf("partial insert left %d events", s.Count(1))
	}
}

func TestMoveValidatesRange(t *testing.T) {
	s, ev := seed(t)
	tests := []struct {
		name       string
		start, end int
	}{
		{"start equals end", 600, 600},
		{"start after end", 700, 650},
		{"negative start", -10, 30},
		{"end past midnight", 1400, 1441},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := s.Move(ev.ID, day, tt.start, tt.end); !domain.IsDomainError(err, domain.ErrCodeInvalidRange) {
				t.Fatalf("expected INVALID_RANGE, got %v", err)
			}
			got, _ := s.Get(ev.ID)
			if !reflect.DeepEqual(got, ev) {
				t.Fatalf("rejected move changed the event")
			}
		})
	}
}

func TestMovePinsAndFloorsDay(t *testing.T) {
	s, ev := seed(t)
	moved, err := s.Move(ev.ID, day+domain.DayMs+3_600_000, 60, 180)
	if err != nil {
		t.Fatalf("Move: %v", err)
	}
	if moved.DateMs != day+domain.DayMs {
		t.Fatalf("date not floored to day: %d", moved.DateMs)
	}
	if !moved.IsManualOverride {
		t.Fatal("moved event must be pinned")
	}
	if moved.UtilityScore != ev.UtilityScore {
		t.Fatal("move must not touch the utility score")
	}
	if pinned := s.Pinned(7); len(pinned) != 1 || pinned[0].ID != ev.ID {
		t.Fatalf("pinned = %+v", pinned)
	}
}

func TestSplitPreservesDuration(t *testing.T) {
	for _, p := range []int{541, 600, 659} {
		s, ev := seed(t)
		first, second, err := s.Split(ev.ID, p)
		if err != nil {
			t.Fatalf("Split(%d): %v", p, err)
		}
		if first.Duration()+second.Duration() != ev.Duration() {
			t.Fatalf("split at %d: %d + %d != %d", p, first.Duration(), second.Duration(), ev.Duration())
		}
		if first.EndMin != second.StartMin || first.StartMin != ev.StartMin || second.EndMin != ev.EndMin {
			t.Fatalf("split at %d not contiguous: %+v / %+v", p, first, second)
		}
		if first.ScheduleTaskID != second.ScheduleTaskID {
			t.Fatal("both parts must reference the same schedule task")
		}
		if first.PartIndex != 1 || second.PartIndex != 2 || first.TotalParts != 2 || second.TotalParts != 2 {
			t.Fatalf("parts misnumbered: %d/%d and %d/%d", first.PartIndex, first.TotalParts, second.PartIndex, second.TotalParts)
		}
		if second.LinkedEventID == nil || *second.LinkedEventID != ev.ID {
			t.Fatalf("second part not linked to first: %v", second.LinkedEventID)
		}
	}
}

func TestSplitRejectsPointsOutsideEvent(t *testing.T) {
	for _, p := range []int{0, 539, 540, 660, 661, 1440} {
		s, ev := seed(t)
		if _, _, err := s.Split(ev.ID, p); !domain.IsDomainError(err, domain.ErrCodeInvalidSplitPoint) {
			t.Fatalf("Split(%d): expected INVALID_SPLIT_POINT, got %v", p, err)
		}
		if got := s.ByPlan(7); len(got) != 2 {
			t.Fatalf("Split(%d) created events on failure: %d", p, len(got))
		}
	}
}

func TestSplitRenumbersLaterParts(t *testing.T) {
	s, ev := seed(t)
	first, second, err := s.Split(ev.ID, 600)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	// split the first part again; the old second part must shift to index 3
	_, middle, err := s.Split(first.ID, 570)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	last, _ := s.Get(second.ID)
	if middle.PartIndex != 2 || last.PartIndex != 3 || last.TotalParts != 3 {
		t.Fatalf("renumbering wrong: middle %d, last %d/%d", middle.PartIndex, last.PartIndex, last.TotalParts)
	}
	other, _ := s.Get(2)
	if other.TotalParts != 1 {
		t.Fatalf("unrelated event renumbered: %+v", other)
	}
}

func TestSplitOfManualEventLeavesOtherManualEventsAlone(t *testing.T) {
	s := NewStore(nil)
	a, err := s.Create(domain.ScheduleEvent{PlanID: 7, TaskID: 10, DateMs: day, StartMin: 60, EndMin: 120})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	b, err := s.Create(domain.ScheduleEvent{PlanID: 7, TaskID: 20, DateMs: day, StartMin: 200, EndMin: 260})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	impact, err := s.SplitImpact(a.ID)
	if err != nil {
		t.Fatalf("SplitImpact: %v", err)
	}
	if !reflect.DeepEqual(impact, []int64{a.ID}) {
		t.Fatalf("impact = %v, want only %d", impact, a.ID)
	}

	first, second, err := s.Split(a.ID, 90)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if first.TotalParts != 2 || second.TotalParts != 2 {
		t.Fatalf("parts = %d/%d, want 2/2", first.TotalParts, second.TotalParts)
	}
	got, _ := s.Get(b.ID)
	if !reflect.DeepEqual(got, b) {
		t.Fatalf("unrelated manual event changed: %+v -> %+v", b, got)
	}

	// the two parts stay linked, so splitting again renumbers both and nothing else
	_, third, err := s.Split(second.ID, 110)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	head, _ := s.Get(a.ID)
	if head.TotalParts != 3 || third.PartIndex != 3 {
		t.Fatalf("linked parts not renumbered: head %d parts, third index %d", head.TotalParts, third.PartIndex)
	}
	if got, _ := s.Get(b.ID); got.TotalParts != 1 || got.PartIndex != 1 {
		t.Fatalf("unrelated manual event renumbered: %+v", got)
	}
}

func TestCompleteKeepsUtility(t *testing.T) {
	s, ev := seed(t)
	done, err := s.Complete(ev.ID, 545, 650)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if done.Status != domain.EventCompleted || *done.ActualStartMin != 545 || *done.ActualEndMin != 650 {
		t.Fatalf("unexpected completion %+v", done)
	}
	if done.UtilityScore != ev.UtilityScore || !reflect.DeepEqual(done.Utility, ev.Utility) {
		t.Fatal("completion altered the utility score")
	}
	if _, err := s.Complete(ev.ID, 545, 650); !domain.IsDomainError(err, domain.ErrCodeInvalid) {
		t.Fatalf("second completion: expected INVALID, got %v", err)
	}
	if _, err := s.Move(ev.ID, day, 0, 30); !domain.IsDomainError(err, domain.ErrCodeInvalid) {
		t.Fatalf("moving completed event: expected INVALID, got %v", err)
	}
}

func TestRestoreIsExact(t *testing.T) {
	s, ev := seed(t)
	if _, err := s.Move(ev.ID, day+domain.DayMs, 0, 30); err != nil {
		t.Fatalf("Move: %v", err)
	}
	if err := s.Restore(ev.ID, ev, true); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	got, _ := s.Get(ev.ID)
	if !reflect.DeepEqual(got, ev) {
		t.Fatalf("restore mismatch:\nwant %+v\ngot  %+v", ev, got)
	}
}

func TestInRangeAndTotals(t *testing.T) {
	s, _ := seed(t)
	if _, err := s.Create(domain.ScheduleEvent{PlanID: 7, ScheduleTaskID: 300, DateMs: day + 2*domain.DayMs, StartMin: 60, EndMin: 90}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if got := s.InRange(7, day, day+domain.DayMs); len(got) != 2 {
		t.Fatalf("InRange = %d events, want 2", len(got))
	}
	if got := s.InRange(7, day, day+2*domain.DayMs+1); len(got) != 3 {
		t.Fatalf("InRange = %d events, want 3", len(got))
	}
	if total := s.TotalUtility(7); total != 52.5 {
		t.Fatalf("TotalUtility = %v", total)
	}
	removed := s.DeletePlan(7)
	if len(removed) != 3 || s.Count(7) != 0 {
		t.Fatalf("DeletePlan removed %d, left %d", len(removed), s.Count(7))
	}
}

func TestRekeyUpdatesLinks(t *testing.T) {
	s, ev := seed(t)
	_, second, err := s.Split(ev.ID, 600)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if second.ID >= 0 {
		t.Fatalf("expected provisional id, got %d", second.ID)
	}
	if err := s.Rekey(second.ID, 55); err != nil {
		t.Fatalf("Rekey: %v", err)
	}
	if _, ok := s.Lookup(second.ID); ok {
		t.Fatal("provisional id still present")
	}
	got, err := s.Get(55)
	if err != nil || got.PlanID != 7 {
		t.Fatalf("rekeyed event missing: %v", err)
	}
}
