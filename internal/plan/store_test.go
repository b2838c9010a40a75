package plan

import (
	"reflect"
	"testing"

	"github.com/fastygo/planner/domain"
)

func activeStore(t *testing.T) (*Store, domain.SchedulePlan) {
	t.Helper()
	s := NewStore(nil)
	active, err := s.Create(domain.SchedulePlan{ID: 1, Algorithm: domain.AlgorithmLocalHeuristic, TotalUtility: 283.7}, []domain.Task{
		{ID: 10, Title: "write report", Priority: domain.PriorityHigh, EstimatedDurationMin: 90},
		{ID: 11, Title: "review", Priority: domain.PriorityLow, EstimatedDurationMin: 30},
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return s, active
}

func countActive(s *Store) int {
	return len(s.List(domain.PlanActive))
}

func TestCreateFirstPlanIsActive(t *testing.T) {
	s, active := activeStore(t)
	if active.Status != domain.PlanActive || active.Version != 1 {
		t.Fatalf("unexpected first plan %+v", active)
	}
	if active.UnscheduledCount != 2 {
		t.Fatalf("UnscheduledCount = %d, want 2", active.UnscheduledCount)
	}
	if _, err := s.Create(domain.SchedulePlan{ID: 2}, nil); !domain.IsDomainError(err, domain.ErrCodeConflict) {
		t.Fatalf("second create: expected CONFLICT, got %v", err)
	}
}

func TestApplyThenRevert(t *testing.T) {
	s, active := activeStore(t)
	proposed, err := s.Propose(domain.SchedulePlan{ID: 2, Algorithm: domain.AlgorithmMILP, Strategy: domain.StrategyRipple}, nil)
	if err != nil {
		t.Fatalf("Propose: %v", err)
	}
	if proposed.ParentPlanID == nil || *proposed.ParentPlanID != active.ID || proposed.Version != 2 {
		t.Fatalf("proposal lineage wrong: %+v", proposed)
	}
	if countActive(s) != 1 {
		t.Fatal("proposing must not add an active plan")
	}

	tr, err := s.Apply(proposed.ID)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if tr.Active.ID != 2 || tr.Archived == nil || tr.Archived.ID != 1 || tr.Archived.Status != domain.PlanArchived {
		t.Fatalf("unexpected transition %+v", tr)
	}
	if tr.Active.AppliedAt == nil {
		t.Fatal("AppliedAt not set")
	}
	if countActive(s) != 1 {
		t.Fatalf("%d active plans after apply", countActive(s))
	}

	tr, err = s.Revert(active.ID)
	if err != nil {
		t.Fatalf("Revert: %v", err)
	}
	if tr.Active.ID != 1 || tr.Archived == nil || tr.Archived.ID != 2 {
		t.Fatalf("unexpected revert %+v", tr)
	}
	got, _ := s.Active()
	if got.ID != 1 || got.TotalUtility != 283.7 {
		t.Fatalf("revert did not restore the original plan: %+v", got)
	}
}

func TestTransitionsRejectWrongStatus(t *testing.T) {
	s, active := activeStore(t)
	tests := []struct {
		name string
		run  func() error
		code domain.ErrorCode
	}{
		{"apply active", func() error { _, err := s.Apply(active.ID); return err }, domain.ErrCodeConflict},
		{"revert active", func() error { _, err := s.Revert(active.ID); return err }, domain.ErrCodeConflict},
		{"discard active", func() error { _, err := s.Discard(active.ID); return err }, domain.ErrCodeConflict},
		{"apply missing", func() error { _, err := s.Apply(99); return err }, domain.ErrCodeNotFound},
		{"check apply active", func() error { return s.CheckApply(active.ID) }, domain.ErrCodeConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.run(); !domain.IsDomainError(err, tt.code) {
				t.Fatalf("expected %s, got %v", tt.code, err)
			}
			if got, _ := s.Active(); got.ID != active.ID {
				t.Fatal("rejected transition changed the active plan")
			}
		})
	}
}

func TestDiscardLeavesActiveUntouched(t *testing.T) {
	s, _ := activeStore(t)
	before, _ := s.Active()
	beforeTasks, _ := s.Tasks(before.ID)

	proposed, err := s.Propose(domain.SchedulePlan{ID: 2}, []domain.ScheduleTask{
		{TaskID: 10, Status: domain.ScheduleTaskScheduled, Title: "write report"},
	})
	if err != nil {
		t.Fatalf("Propose: %v", err)
	}
	if _, err := s.Discard(proposed.ID); err != nil {
		t.Fatalf("Discard: %v", err)
	}
	if _, err := s.Get(proposed.ID); !domain.IsDomainError(err, domain.ErrCodeNotFound) {
		t.Fatalf("discarded plan still present: %v", err)
	}
	if _, err := s.Tasks(proposed.ID); !domain.IsDomainError(err, domain.ErrCodeNotFound) {
		t.Fatal("discarded snapshots still present")
	}

	after, _ := s.Active()
	afterTasks, _ := s.Tasks(after.ID)
	if !reflect.DeepEqual(before, after) || !reflect.DeepEqual(beforeTasks, afterTasks) {
		t.Fatal("discard modified the active plan")
	}
}

func TestSyncLiveTaskOnlyTouchesActive(t *testing.T) {
	s, active := activeStore(t)
	proposed, err := s.Propose(domain.SchedulePlan{ID: 2}, []domain.ScheduleTask{
		{TaskID: 10, Status: domain.ScheduleTaskScheduled, Title: "write report"},
	})
	if err != nil {
		t.Fatalf("Propose: %v", err)
	}

	edited := domain.Task{ID: 10, Title: "write final report", Priority: domain.PriorityHigh, EstimatedDurationMin: 120}
	st, ok := s.SyncLiveTask(edited)
	if !ok || st.PlanID != active.ID || st.Title != "write final report" || st.IsStale(edited) {
		t.Fatalf("active snapshot not synced: %+v", st)
	}

	frozen, _ := s.Tasks(proposed.ID)
	if frozen[0].Title != "write report" {
		t.Fatalf("proposed snapshot changed: %+v", frozen[0])
	}

	// unknown task gets a fresh snapshot in the active plan
	if st, ok := s.SyncLiveTask(domain.Task{ID: 12, Title: "new", EstimatedDurationMin: 15}); !ok || st.Status != domain.ScheduleTaskPending {
		t.Fatalf("new task not snapshotted: %+v", st)
	}
	tasks, _ := s.Tasks(active.ID)
	if len(tasks) != 3 {
		t.Fatalf("active plan has %d snapshots, want 3", len(tasks))
	}
}

func TestExcludeTasks(t *testing.T) {
	s, active := activeStore(t)
	changed := s.ExcludeTasks([]int64{11, 99})
	if len(changed) != 1 || changed[0].TaskID != 11 || changed[0].Status != domain.ScheduleTaskExcluded {
		t.Fatalf("unexpected exclusions %+v", changed)
	}
	if again := s.ExcludeTasks([]int64{11}); len(again) != 0 {
		t.Fatal("excluding twice must be a no-op")
	}
	// excluded snapshots ignore live edits
	if _, ok := s.SyncLiveTask(domain.Task{ID: 11, Title: "gone"}); ok {
		t.Fatal("excluded snapshot was synced")
	}
	got, _ := s.Get(active.ID)
	if got.UnscheduledCount != 1 {
		t.Fatalf("UnscheduledCount = %d, want 1", got.UnscheduledCount)
	}
}

func TestMirrorRejectsTwoActive(t *testing.T) {
	s, active := activeStore(t)
	err := s.Mirror([]domain.SchedulePlan{
		{ID: 1, Status: domain.PlanActive},
		{ID: 2, Status: domain.PlanActive},
	})
	if !domain.IsDomainError(err, domain.ErrCodeConflict) {
		t.Fatalf("expected CONFLICT, got %v", err)
	}
	if got, _ := s.Active(); got.ID != active.ID {
		t.Fatal("rejected mirror changed state")
	}

	if err := s.Mirror([]domain.SchedulePlan{
		{ID: 1, Status: domain.PlanArchived, Version: 1},
		{ID: 3, Status: domain.PlanActive, Version: 2},
	}); err != nil {
		t.Fatalf("Mirror: %v", err)
	}
	if got, ok := s.Active(); !ok || got.ID != 3 {
		t.Fatalf("active after mirror = %+v", got)
	}
	if tasks, err := s.Tasks(1); err != nil || len(tasks) != 2 {
		t.Fatalf("snapshots of a kept plan dropped: %v", err)
	}
}

func TestUpsertDemotesPreviousActive(t *testing.T) {
	s, active := activeStore(t)
	if err := s.Upsert(domain.SchedulePlan{ID: 5, Status: domain.PlanActive, Version: 2}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	prev, _ := s.Get(active.ID)
	if prev.Status != domain.PlanArchived || countActive(s) != 1 {
		t.Fatalf("previous plan not archived: %+v", prev)
	}
}

func TestPruneArchivedKeepsNewest(t *testing.T) {
	s, _ := activeStore(t)
	for id := int64(2); id <= 5; id++ {
		if _, err := s.Propose(domain.SchedulePlan{ID: id}, nil); err != nil {
			t.Fatalf("Propose: %v", err)
		}
		if _, err := s.Apply(id); err != nil {
			t.Fatalf("Apply: %v", err)
		}
	}
	// plans 1..4 are archived, 5 is active
	removed := s.PruneArchived(2)
	if len(removed) != 2 {
		t.Fatalf("removed %v, want two plans", removed)
	}
	history, total := s.History(0, 10)
	if total != 2 || len(history) != 2 {
		t.Fatalf("history = %d/%d, want 2", len(history), total)
	}
	if got, _ := s.Active(); got.ID != 5 {
		t.Fatal("prune touched the active plan")
	}
}

func TestRekeyMovesSnapshotsAndLineage(t *testing.T) {
	s, _ := activeStore(t)
	proposed, err := s.Propose(domain.SchedulePlan{}, []domain.ScheduleTask{{TaskID: 10, Status: domain.ScheduleTaskPending}})
	if err != nil {
		t.Fatalf("Propose: %v", err)
	}
	if proposed.ID >= 0 {
		t.Fatalf("expected provisional id, got %d", proposed.ID)
	}
	if err := s.Rekey(proposed.ID, 40); err != nil {
		t.Fatalf("Rekey: %v", err)
	}
	tasks, err := s.Tasks(40)
	if err != nil || len(tasks) != 1 || tasks[0].PlanID != 40 {
		t.Fatalf("snapshots not rekeyed: %+v %v", tasks, err)
	}
}

func TestSummarize(t *testing.T) {
	tasks := []domain.ScheduleTask{
		{TaskID: 1, Status: domain.ScheduleTaskScheduled, EstimatedDurationMin: 120},
		{TaskID: 2, Status: domain.ScheduleTaskPending, EstimatedDurationMin: 80},
		{TaskID: 3, Status: domain.ScheduleTaskExcluded, EstimatedDurationMin: 500},
	}
	events := []domain.ScheduleEvent{
		{StartMin: 540, EndMin: 600, UtilityScore: 100.2},
		{StartMin: 600, EndMin: 660, UtilityScore: 50.5, IsManualOverride: true},
	}
	got := Summarize(9, tasks, events)
	want := domain.PlanStats{
		PlanID: 9, TotalTasks: 3, ScheduledTasks: 1, UnscheduledTasks: 1, ExcludedTasks: 1,
		EventCount: 2, PinnedEvents: 1, TotalDurationMin: 200, UsedDurationMin: 120,
		UtilizationPct: 60, TotalUtility: 150.7,
	}
	if got.TotalUtility < 150.69 || got.TotalUtility > 150.71 {
		t.Fatalf("TotalUtility = %v", got.TotalUtility)
	}
	got.TotalUtility = want.TotalUtility
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Summarize:\nwant %+v\ngot  %+v", want, got)
	}
}
