package plan

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/fastygo/planner/domain"
	"github.com/fastygo/planner/internal/engine"
	"github.com/fastygo/planner/internal/graph"
	"github.com/fastygo/planner/internal/optimistic"
	"github.com/fastygo/planner/internal/placement"
	planstore "github.com/fastygo/planner/internal/plan"
	"github.com/fastygo/planner/internal/reschedule"
	"github.com/fastygo/planner/repository/memory"
	"github.com/fastygo/planner/usecase"
)

const day = int64(1_700_006_400_000)

type spaces struct{ ws *engine.Workspace }

func (s spaces) Workspace(context.Context, string) (*engine.Workspace, error) { return s.ws, nil }

type fakeBackend struct {
	mu        sync.Mutex
	err       error
	calls     int
	nextPlan  int64
	applied   []int64
	discarded []int64
}

func (f *fakeBackend) hit() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.err
}

func (f *fakeBackend) CreatePlan(_ context.Context, _ string, p domain.SchedulePlan) (domain.SchedulePlan, error) {
	if err := f.hit(); err != nil {
		return domain.SchedulePlan{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextPlan++
	p.ID = f.nextPlan
	return p, nil
}

func (f *fakeBackend) ApplyPlan(_ context.Context, _ string, id int64) ([]domain.SchedulePlan, error) {
	if err := f.hit(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.applied = append(f.applied, id)
	return nil, nil
}

func (f *fakeBackend) RevertPlan(context.Context, string, int64) ([]domain.SchedulePlan, error) {
	return nil, f.hit()
}

func (f *fakeBackend) DiscardPlan(_ context.Context, _ string, id int64) error {
	if err := f.hit(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.discarded = append(f.discarded, id)
	return nil
}

func (f *fakeBackend) TriggerReschedule(context.Context, string, domain.RescheduleRequest) (string, error) {
	return "job-9", nil
}

func (f *fakeBackend) JobStatus(context.Context, string, string) (domain.RemoteJob, error) {
	return domain.RemoteJob{ID: "job-9", Status: domain.RemoteReady, PlanID: 40}, nil
}

func (f *fakeBackend) GetPlan(_ context.Context, _ string, id int64) (domain.SchedulePlan, error) {
	return domain.SchedulePlan{ID: id, Algorithm: domain.AlgorithmMILP, Strategy: domain.StrategyInsertion}, nil
}

func (f *fakeBackend) ListScheduleTasks(_ context.Context, _ string, planID int64) ([]domain.ScheduleTask, error) {
	return []domain.ScheduleTask{{ID: 4000, PlanID: planID, TaskID: 1, Status: domain.ScheduleTaskScheduled}}, nil
}

func (f *fakeBackend) ListEvents(_ context.Context, _ string, planID int64) ([]domain.ScheduleEvent, error) {
	return []domain.ScheduleEvent{{ID: 4001, PlanID: planID, ScheduleTaskID: 4000, TaskID: 1, DateMs: day, StartMin: 600, EndMin: 660, UtilityScore: 42}}, nil
}

type mirrorLog struct {
	mu    sync.Mutex
	plans map[int64]string
	snaps map[int64]int
}

func (m *mirrorLog) MirrorTask(context.Context, string, string, domain.Task) error { return nil }

func (m *mirrorLog) MirrorPlan(_ context.Context, _ string, op string, p domain.SchedulePlan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.plans[p.ID] = op
	return nil
}

func (m *mirrorLog) MirrorScheduleTasks(_ context.Context, _ string, planID int64, tasks []domain.ScheduleTask) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snaps[planID] = len(tasks)
	return nil
}

func (m *mirrorLog) MirrorEvent(context.Context, string, string, domain.ScheduleEvent) error {
	return nil
}

type fixture struct {
	uc      *UseCase
	ws      *engine.Workspace
	backend *fakeBackend
	mirror  *mirrorLog
}

func newFixture(t *testing.T, keep int, withActive bool) *fixture {
	t.Helper()
	ws := &engine.Workspace{
		Scope:  "user-1",
		Tasks:  graph.NewStore(graph.DanglingRemove, nil),
		Plans:  planstore.NewStore(nil),
		Events: placement.NewStore(nil),
	}
	if err := ws.Tasks.Load([]domain.Task{
		{ID: 1, Title: "Write", Status: domain.TaskTodo, Priority: domain.PriorityHigh, EstimatedDurationMin: 60},
		{ID: 2, Title: "Read", Status: domain.TaskTodo, Priority: domain.PriorityLow, EstimatedDurationMin: 30},
	}); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if withActive {
		if _, err := ws.Plans.Create(domain.SchedulePlan{ID: 1}, ws.Tasks.List(graph.Filter{})); err != nil {
			t.Fatalf("Create: %v", err)
		}
		if _, err := ws.Events.InsertBulk(1, []domain.ScheduleEvent{
			{ID: 11, ScheduleTaskID: 1, TaskID: 1, DateMs: day, StartMin: 540, EndMin: 600, UtilityScore: 70},
		}); err != nil {
			t.Fatalf("InsertBulk: %v", err)
		}
	}
	ws.Coordinator = optimistic.New(optimistic.Options{Scope: ws.Scope, Strict: true})

	backend := &fakeBackend{nextPlan: 1}
	ws.Reschedule = reschedule.New(reschedule.Options{
		Scope:   ws.Scope,
		Backend: backend,
		Plans:   ws.Plans,
		Events:  ws.Events,
		Jobs:    memory.NewJobRepository(),
		Poll:    reschedule.PollConfig{InitialInterval: time.Millisecond, MaxInterval: 5 * time.Millisecond, MaxElapsedTime: 2 * time.Second, Multiplier: 1.5},
	})
	t.Cleanup(ws.Reschedule.Close)

	mirror := &mirrorLog{plans: make(map[int64]string), snaps: make(map[int64]int)}
	return &fixture{
		uc:      New(spaces{ws}, backend, mirror, nil, Config{ArchiveKeep: keep}, nil),
		ws:      ws,
		backend: backend,
		mirror:  mirror,
	}
}

func (f *fixture) propose(t *testing.T, id int64) {
	t.Helper()
	if _, err := f.ws.Plans.Propose(domain.SchedulePlan{ID: id}, nil); err != nil {
		t.Fatalf("Propose %d: %v", id, err)
	}
	if _, err := f.ws.Events.InsertBulk(id, []domain.ScheduleEvent{
		{ID: id * 100, ScheduleTaskID: 2, TaskID: 2, DateMs: day, StartMin: 800, EndMin: 830, UtilityScore: 10},
	}); err != nil {
		t.Fatalf("InsertBulk: %v", err)
	}
}

func (f *fixture) activeID(t *testing.T) int64 {
	t.Helper()
	active, err := f.uc.ActivePlan(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("ActivePlan: %v", err)
	}
	return active.ID
}

func TestCreatePlanSnapshotsTasks(t *testing.T) {
	f := newFixture(t, 0, false)

	created, err := f.uc.CreatePlan(context.Background(), "user-1", domain.SchedulePlan{StartDateMs: day, EndDateMs: day + 7*domain.DayMs})
	if err != nil {
		t.Fatalf("CreatePlan: %v", err)
	}
	if created.ID != 2 || created.Status != domain.PlanActive || created.Algorithm != domain.AlgorithmManual {
		t.Fatalf("created = %+v", created)
	}
	if created.UnscheduledCount != 2 {
		t.Fatalf("unscheduled = %d, want 2", created.UnscheduledCount)
	}
	if f.mirror.snaps[2] != 2 || f.mirror.plans[2] != usecase.OperationUpsert {
		t.Fatalf("mirror plans=%v snaps=%v", f.mirror.plans, f.mirror.snaps)
	}
}

func TestCreatePlanConflictsWithActive(t *testing.T) {
	f := newFixture(t, 0, true)

	_, err := f.uc.CreatePlan(context.Background(), "user-1", domain.SchedulePlan{})
	if !domain.IsDomainError(err, domain.ErrCodeConflict) {
		t.Fatalf("err = %v, want CONFLICT", err)
	}
	if f.backend.calls != 0 {
		t.Fatal("conflict should be detected before the backend")
	}
}

func TestApplyThenRevertKeepsEvents(t *testing.T) {
	f := newFixture(t, 0, true)
	f.propose(t, 7)

	active, err := f.uc.ApplyPlan(context.Background(), "user-1", 7)
	if err != nil {
		t.Fatalf("ApplyPlan: %v", err)
	}
	if active.ID != 7 {
		t.Fatalf("active = %d", active.ID)
	}
	old, _ := f.uc.GetPlan(context.Background(), "user-1", 1)
	if old.Status != domain.PlanArchived {
		t.Fatalf("old status = %s", old.Status)
	}

	reverted, err := f.uc.RevertPlan(context.Background(), "user-1", 1)
	if err != nil {
		t.Fatalf("RevertPlan: %v", err)
	}
	if reverted.ID != 1 || f.activeID(t) != 1 {
		t.Fatalf("reverted = %+v", reverted)
	}
	if got := f.ws.Events.Count(1); got != 1 {
		t.Fatalf("events of reverted plan = %d, want 1", got)
	}
	if got := f.ws.Events.Count(7); got != 1 {
		t.Fatalf("events of archived plan 7 = %d, want 1", got)
	}
}

func TestRejectedApplyChangesNothing(t *testing.T) {
	f := newFixture(t, 0, true)
	f.propose(t, 7)
	f.backend.err = domain.NewError(domain.ErrCodeConflict, "plan superseded")

	if _, err := f.uc.ApplyPlan(context.Background(), "user-1", 7); !domain.IsDomainError(err, domain.ErrCodeConflict) {
		t.Fatalf("err = %v", err)
	}
	if f.activeID(t) != 1 {
		t.Fatal("active plan changed after a rejected apply")
	}
	p, _ := f.uc.GetPlan(context.Background(), "user-1", 7)
	if p.Status != domain.PlanProposed {
		t.Fatalf("proposal status = %s", p.Status)
	}
}

func TestTransitionsValidateStatus(t *testing.T) {
	f := newFixture(t, 0, true)

	if _, err := f.uc.ApplyPlan(context.Background(), "user-1", 1); err == nil {
		t.Fatal("applying the ACTIVE plan should fail")
	}
	if _, err := f.uc.RevertPlan(context.Background(), "user-1", 1); err == nil {
		t.Fatal("reverting the ACTIVE plan should fail")
	}
	if err := f.uc.DiscardPlan(context.Background(), "user-1", 1); err == nil {
		t.Fatal("discarding the ACTIVE plan should fail")
	}
	if f.backend.calls != 0 {
		t.Fatalf("backend called %d times", f.backend.calls)
	}
}

func TestDiscardProposal(t *testing.T) {
	f := newFixture(t, 0, true)
	f.propose(t, 7)

	if err := f.uc.DiscardPlan(context.Background(), "user-1", 7); err != nil {
		t.Fatalf("DiscardPlan: %v", err)
	}
	if _, err := f.uc.GetPlan(context.Background(), "user-1", 7); !domain.IsDomainError(err, domain.ErrCodeNotFound) {
		t.Fatalf("discarded plan still present: %v", err)
	}
	if f.ws.Events.Count(7) != 0 || f.ws.Events.Count(1) != 1 {
		t.Fatal("discard touched the wrong events")
	}
	if f.mirror.plans[7] != usecase.OperationDelete {
		t.Fatalf("mirror = %v", f.mirror.plans)
	}
}

func TestArchiveRetention(t *testing.T) {
	f := newFixture(t, 1, true)
	for _, id := range []int64{7, 8} {
		f.propose(t, id)
		if _, err := f.uc.ApplyPlan(context.Background(), "user-1", id); err != nil {
			t.Fatalf("ApplyPlan %d: %v", id, err)
		}
	}

	history, total, err := f.uc.History(context.Background(), "user-1", 0, 10)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if total != 1 || len(history) != 1 || history[0].ID != 7 {
		t.Fatalf("history = %+v (total %d)", history, total)
	}
	if f.ws.Events.Count(1) != 0 {
		t.Fatal("events of the pruned plan were kept")
	}
	if f.mirror.plans[1] != usecase.OperationDelete {
		t.Fatalf("pruned plan not deleted from mirror: %v", f.mirror.plans)
	}
}

func TestRescheduleProposalAppliesThroughOrchestrator(t *testing.T) {
	f := newFixture(t, 0, true)

	if _, err := f.uc.RequestReschedule(context.Background(), "user-1", domain.RescheduleRequest{Strategy: domain.StrategyInsertion}); err != nil {
		t.Fatalf("RequestReschedule: %v", err)
	}
	deadline := time.Now().Add(3 * time.Second)
	for {
		job, err := f.uc.RescheduleStatus(context.Background(), "user-1")
		if err != nil {
			t.Fatalf("RescheduleStatus: %v", err)
		}
		if job.State == domain.JobReady {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("job stuck in %s", job.State)
		}
		time.Sleep(2 * time.Millisecond)
	}

	active, err := f.uc.ApplyPlan(context.Background(), "user-1", 40)
	if err != nil {
		t.Fatalf("ApplyPlan: %v", err)
	}
	if active.ID != 40 {
		t.Fatalf("active = %d, want 40", active.ID)
	}
	job, _ := f.uc.RescheduleStatus(context.Background(), "user-1")
	if job.State != domain.JobApplied {
		t.Fatalf("job state = %s, want APPLIED", job.State)
	}
	if f.mirror.snaps[40] != 1 {
		t.Fatalf("snapshots of the applied proposal not mirrored: %v", f.mirror.snaps)
	}
}

func TestListPlansRejectsUnknownStatus(t *testing.T) {
	f := newFixture(t, 0, true)
	if _, err := f.uc.ListPlans(context.Background(), "user-1", "DRAFT"); !domain.IsDomainError(err, domain.ErrCodeInvalid) {
		t.Fatalf("err = %v", err)
	}
	plans, err := f.uc.ListPlans(context.Background(), "user-1", domain.PlanActive)
	if err != nil || len(plans) != 1 {
		t.Fatalf("plans = %+v, err = %v", plans, err)
	}
}
