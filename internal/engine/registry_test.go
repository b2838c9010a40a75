package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fastygo/planner/domain"
	"github.com/fastygo/planner/repository/memory"
)

const day = int64(1_700_006_400_000)

type fakeSource struct {
	mu      sync.Mutex
	listErr error
	delay   time.Duration
	hits    int32
	tasks   []domain.Task
	plans   []domain.SchedulePlan
	snaps   map[int64][]domain.ScheduleTask
	events  map[int64][]domain.ScheduleEvent
}

func seeded() *fakeSource {
	parent := int64(1)
	return &fakeSource{
		tasks: []domain.Task{
			{ID: 1, Title: "Write report", Status: domain.TaskTodo, Priority: domain.PriorityHigh, EstimatedDurationMin: 90},
			{ID: 2, Title: "Collect numbers", ParentTaskID: &parent, Status: domain.TaskDone, Priority: domain.PriorityMedium},
			{ID: 3, Title: "Review", Status: domain.TaskTodo, Priority: domain.PriorityLow, DependentTaskIDs: []int64{1}},
		},
		plans: []domain.SchedulePlan{
			{ID: 10, Status: domain.PlanActive, Algorithm: domain.AlgorithmMILP, Version: 2, TotalUtility: 150},
			{ID: 9, Status: domain.PlanArchived, Algorithm: domain.AlgorithmLocalHeuristic, Version: 1},
		},
		snaps: map[int64][]domain.ScheduleTask{
			10: {{ID: 100, TaskID: 1, Status: domain.ScheduleTaskScheduled}},
		},
		events: map[int64][]domain.ScheduleEvent{
			10: {{ID: 1000, ScheduleTaskID: 100, TaskID: 1, DateMs: day, StartMin: 540, EndMin: 630, UtilityScore: 150}},
			9:  {{ID: 900, ScheduleTaskID: 90, TaskID: 1, DateMs: day, StartMin: 600, EndMin: 690, UtilityScore: 80}},
		},
	}
}

func (f *fakeSource) ListTasks(context.Context, string) ([]domain.Task, error) {
	atomic.AddInt32(&f.hits, 1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.tasks, nil
}

func (f *fakeSource) ListPlans(context.Context, string) ([]domain.SchedulePlan, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.plans, nil
}

func (f *fakeSource) ListScheduleTasks(_ context.Context, _ string, planID int64) ([]domain.ScheduleTask, error) {
	return f.snaps[planID], nil
}

func (f *fakeSource) ListEvents(_ context.Context, _ string, planID int64) ([]domain.ScheduleEvent, error) {
	return f.events[planID], nil
}

type fakeBackend struct {
	*fakeSource
}

func (fakeBackend) TriggerReschedule(context.Context, string, domain.RescheduleRequest) (string, error) {
	return "job-1", nil
}

func (fakeBackend) JobStatus(context.Context, string, string) (domain.RemoteJob, error) {
	return domain.RemoteJob{Status: domain.RemotePending}, nil
}

func (fakeBackend) GetPlan(context.Context, string, int64) (domain.SchedulePlan, error) {
	return domain.SchedulePlan{}, domain.ErrPlanNotFound
}

func (fakeBackend) ApplyPlan(context.Context, string, int64) ([]domain.SchedulePlan, error) {
	return nil, nil
}

func (fakeBackend) DiscardPlan(context.Context, string, int64) error {
	return nil
}

func newRegistry(backend *fakeSource, fallback Source) *Registry {
	opts := Options{
		Backend: fakeBackend{backend},
		Jobs:    memory.NewJobRepository(),
	}
	if fallback != nil {
		opts.Fallback = fallback
	}
	opts.Strict = true
	return NewRegistry(opts)
}

func TestWorkspaceHydratesFromBackend(t *testing.T) {
	reg := newRegistry(seeded(), nil)
	defer reg.Close()

	ws, err := reg.Workspace(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("Workspace: %v", err)
	}

	if ws.Tasks.Len() != 3 {
		t.Fatalf("tasks = %d, want 3", ws.Tasks.Len())
	}
	child, _ := ws.Tasks.Get(2)
	if child.Depth != 1 {
		t.Fatalf("child depth = %d, want 1", child.Depth)
	}
	review, _ := ws.Tasks.Get(3)
	if !review.IsBlocked {
		t.Fatal("task depending on an open task should be blocked")
	}
	active, ok := ws.Plans.Active()
	if !ok || active.ID != 10 {
		t.Fatalf("active plan = %+v, %v", active, ok)
	}
	if got := ws.Events.Count(9); got != 1 {
		t.Fatalf("archived plan events = %d, want 1", got)
	}
	snaps, _ := ws.Plans.Tasks(10)
	if len(snaps) != 1 || snaps[0].PlanID != 10 {
		t.Fatalf("snapshots = %+v", snaps)
	}

	again, err := reg.Workspace(context.Background(), "user-1")
	if err != nil || again != ws {
		t.Fatal("second lookup should reuse the workspace")
	}
}

func TestConcurrentFirstUseHydratesOnce(t *testing.T) {
	src := seeded()
	src.delay = 30 * time.Millisecond
	reg := newRegistry(src, nil)
	defer reg.Close()

	var wg sync.WaitGroup
	spaces := make([]*Workspace, 8)
	for i := range spaces {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ws, err := reg.Workspace(context.Background(), "user-1")
			if err != nil {
				t.Errorf("Workspace: %v", err)
				return
			}
			spaces[i] = ws
		}(i)
	}
	wg.Wait()

	if hits := atomic.LoadInt32(&src.hits); hits != 1 {
		t.Fatalf("backend hydrations = %d, want 1", hits)
	}
	for _, ws := range spaces[1:] {
		if ws != spaces[0] {
			t.Fatal("callers received different workspaces")
		}
	}
}

func TestHydrationFallsBackToMirror(t *testing.T) {
	down := seeded()
	down.listErr = domain.NewError(domain.ErrCodeTransient, "backend unreachable")
	mirror := seeded()
	mirror.tasks = mirror.tasks[:1]

	reg := newRegistry(down, mirror)
	defer reg.Close()

	ws, err := reg.Workspace(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("Workspace: %v", err)
	}
	if ws.Tasks.Len() != 1 {
		t.Fatalf("tasks = %d, want the mirror's 1", ws.Tasks.Len())
	}
}

func TestFailedHydrationIsRetried(t *testing.T) {
	src := seeded()
	src.listErr = domain.NewError(domain.ErrCodeUnauthorized, "bad token")
	reg := newRegistry(src, seeded())
	defer reg.Close()

	if _, err := reg.Workspace(context.Background(), "user-1"); !domain.IsDomainError(err, domain.ErrCodeUnauthorized) {
		t.Fatalf("err = %v, want UNAUTHORIZED without fallback", err)
	}

	src.mu.Lock()
	src.listErr = nil
	src.mu.Unlock()

	if _, err := reg.Workspace(context.Background(), "user-1"); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if got := reg.Scopes(); len(got) != 1 || got[0] != "user-1" {
		t.Fatalf("scopes = %v", got)
	}
}

func TestWorkspaceRejectsEmptyScopeAndClosedRegistry(t *testing.T) {
	reg := newRegistry(seeded(), nil)
	if _, err := reg.Workspace(context.Background(), ""); !domain.IsDomainError(err, domain.ErrCodeUnauthorized) {
		t.Fatalf("empty scope err = %v", err)
	}
	reg.Close()
	reg.Close()
	if _, err := reg.Workspace(context.Background(), "user-2"); !domain.IsRetryable(err) {
		t.Fatalf("closed registry err = %v, want transient", err)
	}
}

func TestCyclicSnapshotIsRejected(t *testing.T) {
	src := seeded()
	src.tasks[0].DependentTaskIDs = []int64{3}
	reg := newRegistry(src, nil)
	defer reg.Close()

	if _, err := reg.Workspace(context.Background(), "user-1"); !domain.IsDomainError(err, domain.ErrCodeCycleDetected) {
		t.Fatalf("err = %v, want CYCLE_DETECTED", err)
	}
}
