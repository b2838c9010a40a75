package reschedule

import (
	"context"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/fastygo/planner/domain"
	"github.com/fastygo/planner/internal/placement"
	"github.com/fastygo/planner/internal/plan"
	"github.com/fastygo/planner/repository/memory"
)

const day = int64(1_700_006_400_000)

type fakeBackend struct {
	mu        sync.Mutex
	statuses  []domain.RemoteJob
	errs      []error
	polls     int
	applied   []int64
	discarded []int64
	requests  []domain.RescheduleRequest
	proposal  []domain.ScheduleEvent
}

func (f *fakeBackend) TriggerReschedule(_ context.Context, _ string, req domain.RescheduleRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req.Clone())
	return "job-1", nil
}

func (f *fakeBackend) JobStatus(context.Context, string, string) (domain.RemoteJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.polls
	f.polls++
	if i < len(f.errs) && f.errs[i] != nil {
		return domain.RemoteJob{}, f.errs[i]
	}
	if i >= len(f.statuses) {
		i = len(f.statuses) - 1
	}
	return f.statuses[i], nil
}

func (f *fakeBackend) GetPlan(_ context.Context, _ string, id int64) (domain.SchedulePlan, error) {
	return domain.SchedulePlan{ID: id, Status: domain.PlanProposed, Algorithm: domain.AlgorithmMILP, Strategy: domain.StrategyRipple}, nil
}

func (f *fakeBackend) ListScheduleTasks(_ context.Context, _ string, planID int64) ([]domain.ScheduleTask, error) {
	return []domain.ScheduleTask{{ID: 900, PlanID: planID, TaskID: 10, Status: domain.ScheduleTaskScheduled}}, nil
}

func (f *fakeBackend) ListEvents(_ context.Context, _ string, planID int64) ([]domain.ScheduleEvent, error) {
	if f.proposal != nil {
		out := make([]domain.ScheduleEvent, len(f.proposal))
		for i, ev := range f.proposal {
			ev.PlanID = planID
			out[i] = ev
		}
		return out, nil
	}
	return []domain.ScheduleEvent{
		{ID: 501, PlanID: planID, ScheduleTaskID: 900, TaskID: 10, DateMs: day, StartMin: 480, EndMin: 540, UtilityScore: 90},
		{ID: 502, PlanID: planID, ScheduleTaskID: 900, TaskID: 10, DateMs: day, StartMin: 600, EndMin: 630, UtilityScore: 12.5},
	}, nil
}

func (f *fakeBackend) ApplyPlan(_ context.Context, _ string, id int64) ([]domain.SchedulePlan, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.applied = append(f.applied, id)
	return nil, nil
}

func (f *fakeBackend) DiscardPlan(_ context.Context, _ string, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.discarded = append(f.discarded, id)
	return nil
}

type harness struct {
	orch    *Orchestrator
	backend *fakeBackend
	plans   *plan.Store
	events  *placement.Store
	active  domain.SchedulePlan
}

func newHarness(t *testing.T, backend *fakeBackend) harness {
	t.Helper()
	plans := plan.NewStore(nil)
	events := placement.NewStore(nil)
	active, err := plans.Create(domain.SchedulePlan{ID: 1, TotalUtility: 283.7}, []domain.Task{{ID: 10, Title: "a", EstimatedDurationMin: 60}})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := events.InsertBulk(1, []domain.ScheduleEvent{
		{ID: 1, ScheduleTaskID: 1, DateMs: day, StartMin: 540, EndMin: 600, UtilityScore: 100.2},
		{ID: 2, ScheduleTaskID: 1, DateMs: day, StartMin: 600, EndMin: 660, UtilityScore: 80},
		{ID: 3, ScheduleTaskID: 2, DateMs: day, StartMin: 700, EndMin: 760, UtilityScore: 60},
		{ID: 4, ScheduleTaskID: 3, DateMs: day + domain.DayMs, StartMin: 540, EndMin: 570, UtilityScore: 43.5},
	}); err != nil {
		t.Fatalf("InsertBulk: %v", err)
	}
	o := New(Options{
		Scope:   "u1",
		Backend: backend,
		Plans:   plans,
		Events:  events,
		Jobs:    memory.NewJobRepository(),
		Poll:    PollConfig{InitialInterval: time.Millisecond, MaxInterval: 5 * time.Millisecond, MaxElapsedTime: 2 * time.Second, Multiplier: 1.5},
	})
	t.Cleanup(o.Close)
	return harness{orch: o, backend: backend, plans: plans, events: events, active: active}
}

func waitForState(t *testing.T, o *Orchestrator, want domain.JobState) domain.RescheduleJob {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		job, err := o.Status(context.Background())
		if err != nil {
			t.Fatalf("Status: %v", err)
		}
		if job.State == want {
			return job
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %s, last state %s (%s)", want, job.State, job.Error)
		case <-time.After(2 * time.Millisecond):
		}
	}
}

func readyBackend() *fakeBackend {
	return &fakeBackend{statuses: []domain.RemoteJob{
		{ID: "job-1", Status: domain.RemotePending},
		{ID: "job-1", Status: domain.RemoteRunning},
		{ID: "job-1", Status: domain.RemoteReady, PlanID: 7},
	}}
}

func TestRequestInstallsProposal(t *testing.T) {
	h := newHarness(t, readyBackend())
	job, err := h.orch.Request(context.Background(), domain.RescheduleRequest{Strategy: domain.StrategyRipple})
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if job.State != domain.JobRequested || job.JobID != "job-1" {
		t.Fatalf("unexpected job %+v", job)
	}

	ready := waitForState(t, h.orch, domain.JobReady)
	if ready.PlanID == nil || *ready.PlanID != 7 || ready.Polls < 3 {
		t.Fatalf("unexpected ready job %+v", ready)
	}
	proposed, err := h.plans.Get(7)
	if err != nil || proposed.Status != domain.PlanProposed || proposed.TotalUtility != 102.5 {
		t.Fatalf("proposal not installed: %+v %v", proposed, err)
	}
	if h.events.Count(7) != 2 {
		t.Fatalf("proposal has %d events", h.events.Count(7))
	}
	if active, _ := h.plans.Active(); active.ID != h.active.ID {
		t.Fatal("installing a proposal changed the active plan")
	}
}

func TestRequestWhileInFlightConflicts(t *testing.T) {
	h := newHarness(t, readyBackend())
	if _, err := h.orch.Request(context.Background(), domain.RescheduleRequest{}); err != nil {
		t.Fatalf("Request: %v", err)
	}
	if _, err := h.orch.Request(context.Background(), domain.RescheduleRequest{}); !domain.IsDomainError(err, domain.ErrCodeConflict) {
		t.Fatalf("expected CONFLICT, got %v", err)
	}
	waitForState(t, h.orch, domain.JobReady)
	if _, err := h.orch.Request(context.Background(), domain.RescheduleRequest{}); !domain.IsDomainError(err, domain.ErrCodeConflict) {
		t.Fatalf("request while READY: expected CONFLICT, got %v", err)
	}
}

func TestRequestValidatesBeforeDispatch(t *testing.T) {
	h := newHarness(t, readyBackend())
	_, err := h.orch.Request(context.Background(), domain.RescheduleRequest{Strategy: "greedy"})
	if !domain.IsDomainError(err, domain.ErrCodeInvalid) {
		t.Fatalf("expected INVALID, got %v", err)
	}
	job, _ := h.orch.Status(context.Background())
	if job.State != domain.JobIdle {
		t.Fatalf("state = %s, want IDLE", job.State)
	}
}

func TestDiscardKeepsActivePlanIdentical(t *testing.T) {
	h := newHarness(t, readyBackend())
	beforePlan, _ := h.plans.Active()
	beforeEvents := h.events.ByPlan(beforePlan.ID)

	if _, err := h.orch.Request(context.Background(), domain.RescheduleRequest{}); err != nil {
		t.Fatalf("Request: %v", err)
	}
	waitForState(t, h.orch, domain.JobReady)
	if err := h.orch.Discard(context.Background()); err != nil {
		t.Fatalf("Discard: %v", err)
	}

	if _, err := h.plans.Get(7); !domain.IsDomainError(err, domain.ErrCodeNotFound) {
		t.Fatalf("discarded proposal still present: %v", err)
	}
	if h.events.Count(7) != 0 {
		t.Fatal("discarded proposal left events behind")
	}
	afterPlan, _ := h.plans.Active()
	afterEvents := h.events.ByPlan(afterPlan.ID)
	if !reflect.DeepEqual(beforePlan, afterPlan) || !reflect.DeepEqual(beforeEvents, afterEvents) {
		t.Fatal("discard changed the active plan or its events")
	}
	if afterPlan.TotalUtility != 283.7 || len(afterEvents) != 4 {
		t.Fatalf("active plan = %v utility, %d events", afterPlan.TotalUtility, len(afterEvents))
	}
	if job, _ := h.orch.Status(context.Background()); job.State != domain.JobDiscarded {
		t.Fatalf("state = %s, want DISCARDED", job.State)
	}
}

func TestApplyPromotesProposal(t *testing.T) {
	h := newHarness(t, readyBackend())
	if _, err := h.orch.Apply(context.Background()); !domain.IsDomainError(err, domain.ErrCodeConflict) {
		t.Fatalf("apply while idle: expected CONFLICT, got %v", err)
	}
	if _, err := h.orch.Request(context.Background(), domain.RescheduleRequest{}); err != nil {
		t.Fatalf("Request: %v", err)
	}
	waitForState(t, h.orch, domain.JobReady)

	active, err := h.orch.Apply(context.Background())
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if active.ID != 7 || active.Status != domain.PlanActive {
		t.Fatalf("unexpected active plan %+v", active)
	}
	old, _ := h.plans.Get(h.active.ID)
	if old.Status != domain.PlanArchived {
		t.Fatalf("previous plan is %s", old.Status)
	}
	// revert keeps the archived plan's events attached
	if h.events.Count(h.active.ID) != 4 {
		t.Fatal("archived plan lost its events")
	}
	if job, _ := h.orch.Status(context.Background()); job.State != domain.JobApplied {
		t.Fatalf("state = %s, want APPLIED", job.State)
	}
	if err := h.orch.Discard(context.Background()); err == nil {
		t.Fatal("discard after apply must fail")
	}
}

func TestFailedJobAllowsNewRequest(t *testing.T) {
	backend := &fakeBackend{statuses: []domain.RemoteJob{
		{ID: "job-1", Status: domain.RemoteRunning},
		{ID: "job-1", Status: domain.RemoteFailed, Error: "infeasible"},
	}}
	h := newHarness(t, backend)
	if _, err := h.orch.Request(context.Background(), domain.RescheduleRequest{}); err != nil {
		t.Fatalf("Request: %v", err)
	}
	failed := waitForState(t, h.orch, domain.JobFailed)
	if failed.Error != "infeasible" {
		t.Fatalf("error = %q", failed.Error)
	}
	if len(h.plans.List(domain.PlanProposed)) != 0 {
		t.Fatal("failed job installed a proposal")
	}

	backend.mu.Lock()
	backend.polls = 0
	backend.statuses = readyBackend().statuses
	backend.mu.Unlock()
	if _, err := h.orch.Request(context.Background(), domain.RescheduleRequest{}); err != nil {
		t.Fatalf("Request after failure: %v", err)
	}
	waitForState(t, h.orch, domain.JobReady)
}

func TestTransientPollErrorsAreRetried(t *testing.T) {
	backend := readyBackend()
	backend.errs = []error{domain.ErrBackendUnhealthy, domain.ErrBackendUnhealthy}
	h := newHarness(t, backend)
	if _, err := h.orch.Request(context.Background(), domain.RescheduleRequest{}); err != nil {
		t.Fatalf("Request: %v", err)
	}
	waitForState(t, h.orch, domain.JobReady)
}

func TestRequestNeedsActivePlan(t *testing.T) {
	o := New(Options{
		Scope:   "empty",
		Backend: readyBackend(),
		Plans:   plan.NewStore(nil),
		Events:  placement.NewStore(nil),
		Jobs:    memory.NewJobRepository(),
	})
	defer o.Close()
	if _, err := o.Request(context.Background(), domain.RescheduleRequest{}); !domain.IsDomainError(err, domain.ErrCodeConflict) {
		t.Fatalf("expected CONFLICT, got %v", err)
	}
}

type fixedConstraints struct{}

func (fixedConstraints) FocusBlocks(context.Context, string) ([]domain.FocusTimeBlock, error) {
	return []domain.FocusTimeBlock{{ID: 1, DayOfWeek: 1, StartMin: 540, EndMin: 660}}, nil
}

func (fixedConstraints) Availability(context.Context, string) ([]domain.AvailabilityCalendar, error) {
	return []domain.AvailabilityCalendar{{ID: 2, DayOfWeek: 1, StartMin: 480, EndMin: 1020, SlotType: domain.SlotRegular, IsAvailable: true}}, nil
}

func TestRequestCarriesPinnedEventsAndConstraints(t *testing.T) {
	backend := readyBackend()
	h := newHarness(t, backend)
	if _, err := h.events.Move(1, day, 100, 160); err != nil {
		t.Fatalf("Move: %v", err)
	}
	o := New(Options{
		Scope:       "u1",
		Backend:     backend,
		Plans:       h.plans,
		Events:      h.events,
		Jobs:        memory.NewJobRepository(),
		Poll:        PollConfig{InitialInterval: time.Millisecond, MaxInterval: 5 * time.Millisecond, MaxElapsedTime: 2 * time.Second, Multiplier: 1.5},
		Constraints: fixedConstraints{},
	})
	t.Cleanup(o.Close)

	job, err := o.Request(context.Background(), domain.RescheduleRequest{Strategy: domain.StrategyFullReplan, PinnedEventIDs: []int64{99}})
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if !reflect.DeepEqual(job.Request.PinnedEventIDs, []int64{1}) {
		t.Fatalf("job pins = %v, want [1]", job.Request.PinnedEventIDs)
	}

	backend.mu.Lock()
	sent := backend.requests[0]
	backend.mu.Unlock()
	if !reflect.DeepEqual(sent.PinnedEventIDs, []int64{1}) {
		t.Fatalf("sent pins = %v, want [1]", sent.PinnedEventIDs)
	}
	if sent.Constraints == nil || len(sent.Constraints.FocusBlocks) != 1 || len(sent.Constraints.Availability) != 1 {
		t.Fatalf("constraints not attached: %+v", sent.Constraints)
	}
}

func TestPinnedPlacementsSurviveReschedule(t *testing.T) {
	moved := []domain.ScheduleEvent{
		{ID: 501, ScheduleTaskID: 900, TaskID: 10, DateMs: day, StartMin: 480, EndMin: 540, UtilityScore: 90},
	}
	kept := []domain.ScheduleEvent{
		{ID: 501, ScheduleTaskID: 900, TaskID: 10, DateMs: day, StartMin: 480, EndMin: 540, UtilityScore: 90},
		{ID: 502, ScheduleTaskID: 901, DateMs: day, StartMin: 100, EndMin: 160, UtilityScore: 5},
	}
	tests := []struct {
		name          string
		proposal      []domain.ScheduleEvent
		allowOverride bool
		wantState     domain.JobState
	}{
		{"proposal moves the pinned event", moved, false, domain.JobFailed},
		{"override allowed", moved, true, domain.JobReady},
		{"proposal keeps the pinned placement", kept, false, domain.JobReady},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := readyBackend()
			backend.proposal = tt.proposal
			h := newHarness(t, backend)
			if _, err := h.events.Move(1, day, 100, 160); err != nil {
				t.Fatalf("Move: %v", err)
			}

			if _, err := h.orch.Request(context.Background(), domain.RescheduleRequest{
				Strategy:      domain.StrategyFullReplan,
				AllowOverride: tt.allowOverride,
			}); err != nil {
				t.Fatalf("Request: %v", err)
			}
			job := waitForState(t, h.orch, tt.wantState)

			if tt.wantState == domain.JobFailed {
				if _, err := h.plans.Get(7); err == nil {
					t.Fatal("rejected proposal was installed")
				}
				backend.mu.Lock()
				discarded := append([]int64(nil), backend.discarded...)
				backend.mu.Unlock()
				if !reflect.DeepEqual(discarded, []int64{7}) {
					t.Fatalf("discarded = %v, want [7]", discarded)
				}
				if job.Error == "" {
					t.Fatal("failed job carries no reason")
				}
				pinned, _ := h.events.Get(1)
				if !pinned.IsManualOverride || pinned.StartMin != 100 || pinned.EndMin != 160 {
					t.Fatalf("pinned event changed: %+v", pinned)
				}
				return
			}

			if h.events.Count(7) != len(tt.proposal) {
				t.Fatalf("installed %d events, want %d", h.events.Count(7), len(tt.proposal))
			}
			if !tt.allowOverride {
				ev, err := h.events.Get(502)
				if err != nil || !ev.IsManualOverride {
					t.Fatalf("kept placement lost its pin: %+v (%v)", ev, err)
				}
			}
		})
	}
}
