package reschedule

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fastygo/planner/domain"
	"github.com/fastygo/planner/internal/placement"
	"github.com/fastygo/planner/internal/plan"
	"github.com/fastygo/planner/repository"
)

// Backend is the subset of the remote client the orchestrator drives.
type Backend interface {
	TriggerReschedule(ctx context.Context, scope string, req domain.RescheduleRequest) (string, error)
	JobStatus(ctx context.Context, scope, jobID string) (domain.RemoteJob, error)
	GetPlan(ctx context.Context, scope string, id int64) (domain.SchedulePlan, error)
	ListScheduleTasks(ctx context.Context, scope string, planID int64) ([]domain.ScheduleTask, error)
	ListEvents(ctx context.Context, scope string, planID int64) ([]domain.ScheduleEvent, error)
	ApplyPlan(ctx context.Context, scope string, id int64) ([]domain.SchedulePlan, error)
	DiscardPlan(ctx context.Context, scope string, id int64) error
}

// ConstraintSource supplies the focus blocks and availability sent along with a request.
type ConstraintSource interface {
	FocusBlocks(ctx context.Context, scope string) ([]domain.FocusTimeBlock, error)
	Availability(ctx context.Context, scope string) ([]domain.AvailabilityCalendar, error)
}

// Publisher receives job and plan change signals.
type Publisher interface {
	Publish(ctx context.Context, change domain.Change)
}

// PollConfig shapes the exponential readiness polling.
type PollConfig struct {
	InitialInterval     time.Duration
	MaxInterval         time.Duration
	MaxElapsedTime      time.Duration
	Multiplier          float64
	RandomizationFactor float64
}

func DefaultPollConfig() PollConfig {
	return PollConfig{
		InitialInterval:     500 * time.Millisecond,
		MaxInterval:         10 * time.Second,
		MaxElapsedTime:      5 * time.Minute,
		Multiplier:          1.5,
		RandomizationFactor: 0.3,
	}
}

type Options struct {
	Scope     string
	Backend   Backend
	Plans     *plan.Store
	Events    *placement.Store
	Jobs      repository.JobRepository
	Poll      PollConfig
	Publisher Publisher
	OnState   func(state domain.JobState)
	Logger    *zap.Logger

	// Constraints is optional; without it requests carry no constraints.
	Constraints ConstraintSource
}

var errNotReady = errors.New("reschedule job not ready")

// Orchestrator runs the reschedule lifecycle of one scope:
// IDLE -> REQUESTED -> READY -> APPLIED | DISCARDED, with FAILED when the backend gives up.
type Orchestrator struct {
	scope       string
	backend     Backend
	constraints ConstraintSource
	plans       *plan.Store
	events      *placement.Store
	jobs        repository.JobRepository
	poll        PollConfig
	publisher   Publisher
	onState     func(domain.JobState)
	logger      *zap.Logger

	mu     sync.Mutex
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

func New(opts Options) *Orchestrator {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	poll := opts.Poll
	defaults := DefaultPollConfig()
	if poll.InitialInterval <= 0 {
		poll.InitialInterval = defaults.InitialInterval
	}
	if poll.MaxInterval <= 0 {
		poll.MaxInterval = defaults.MaxInterval
	}
	if poll.MaxElapsedTime <= 0 {
		poll.MaxElapsedTime = defaults.MaxElapsedTime
	}
	if poll.Multiplier < 1 {
		poll.Multiplier = defaults.Multiplier
	}
	if poll.RandomizationFactor < 0 || poll.RandomizationFactor > 1 {
		poll.RandomizationFactor = defaults.RandomizationFactor
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		scope:       opts.Scope,
		backend:     opts.Backend,
		constraints: opts.Constraints,
		plans:       opts.Plans,
		events:      opts.Events,
		jobs:        opts.Jobs,
		poll:        poll,
		publisher:   opts.Publisher,
		onState:     opts.OnState,
		logger:      logger.With(zap.String("scope", opts.Scope)),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Status returns the current job, IDLE when none was ever requested.
func (o *Orchestrator) Status(ctx context.Context) (domain.RescheduleJob, error) {
	job, err := o.jobs.Get(ctx, o.scope)
	if errors.Is(err, domain.ErrJobNotFound) {
		return domain.RescheduleJob{Scope: o.scope, State: domain.JobIdle}, nil
	}
	return job, err
}

// Request asks the backend for a new plan and returns once the job is accepted.
// The proposal is installed in the background when the backend reports it ready.
func (o *Orchestrator) Request(ctx context.Context, req domain.RescheduleRequest) (domain.RescheduleJob, error) {
	if err := req.Validate(); err != nil {
		return domain.RescheduleJob{}, err
	}
	active, ok := o.plans.Active()
	if !ok {
		return domain.RescheduleJob{}, domain.ErrNoActivePlan
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	current, err := o.Status(ctx)
	if err != nil {
		return domain.RescheduleJob{}, err
	}
	if !current.State.Terminal() {
		return domain.RescheduleJob{}, domain.ErrPlanProcessing
	}

	req.PinnedEventIDs = nil
	for _, ev := range o.events.Pinned(active.ID) {
		req.PinnedEventIDs = append(req.PinnedEventIDs, ev.ID)
	}
	req.Constraints, err = o.loadConstraints(ctx)
	if err != nil {
		return domain.RescheduleJob{}, err
	}

	jobID, err := o.backend.TriggerReschedule(ctx, o.scope, req)
	if err != nil {
		o.logger.Warn("reschedule request rejected", zap.Error(err))
		return domain.RescheduleJob{}, err
	}

	job := domain.RescheduleJob{
		Scope:       o.scope,
		State:       domain.JobRequested,
		JobID:       jobID,
		Request:     req,
		RequestedAt: time.Now().UTC(),
	}
	if err := o.save(ctx, job); err != nil {
		return domain.RescheduleJob{}, err
	}
	o.logger.Info("reschedule requested",
		zap.String("job_id", jobID),
		zap.String("strategy", string(req.Strategy)))

	o.startPolling(job)
	return job, nil
}

// Resume restarts polling for a job left REQUESTED by a previous process.
func (o *Orchestrator) Resume(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	job, err := o.Status(ctx)
	if err != nil {
		return err
	}
	if job.State == domain.JobRequested && job.JobID != "" {
		o.logger.Info("resuming reschedule polling", zap.String("job_id", job.JobID))
		o.startPolling(job)
	}
	return nil
}

// Apply makes the READY proposal the ACTIVE plan.
func (o *Orchestrator) Apply(ctx context.Context) (domain.SchedulePlan, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	job, planID, err := o.ready(ctx)
	if err != nil {
		return domain.SchedulePlan{}, err
	}
	if err := o.plans.CheckApply(planID); err != nil {
		return domain.SchedulePlan{}, err
	}
	confirmed, err := o.backend.ApplyPlan(ctx, o.scope, planID)
	if err != nil {
		return domain.SchedulePlan{}, err
	}
	active, err := ApplyConfirmed(o.plans, planID, confirmed)
	if err != nil {
		return domain.SchedulePlan{}, err
	}

	job.State = domain.JobApplied
	if err := o.save(ctx, job); err != nil {
		o.logger.Warn("applied plan but failed to record job state", zap.Error(err))
	}
	o.signal(ctx, domain.KindPlan, planID, domain.ActionConfirmed)
	return active, nil
}

// Discard drops the READY proposal. The ACTIVE plan and its events are untouched.
func (o *Orchestrator) Discard(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	job, planID, err := o.ready(ctx)
	if err != nil {
		return err
	}
	if err := o.plans.CheckDiscard(planID); err != nil {
		return err
	}
	if err := o.backend.DiscardPlan(ctx, o.scope, planID); err != nil && !domain.IsDomainError(err, domain.ErrCodeNotFound) {
		return err
	}
	if _, err := o.plans.Discard(planID); err != nil {
		return err
	}
	o.events.DeletePlan(planID)

	job.State = domain.JobDiscarded
	if err := o.save(ctx, job); err != nil {
		o.logger.Warn("discarded plan but failed to record job state", zap.Error(err))
	}
	o.signal(ctx, domain.KindPlan, planID, domain.ActionDeleted)
	return nil
}

// Owns reports whether planID is the proposal of the READY job.
func (o *Orchestrator) Owns(ctx context.Context, planID int64) bool {
	job, err := o.Status(ctx)
	return err == nil && job.State == domain.JobReady && job.PlanID != nil && *job.PlanID == planID
}

// Close stops background polling and waits for it to exit.
func (o *Orchestrator) Close() {
	o.cancel()
	o.wg.Wait()
}

func (o *Orchestrator) ready(ctx context.Context) (domain.RescheduleJob, int64, error) {
	job, err := o.Status(ctx)
	if err != nil {
		return domain.RescheduleJob{}, 0, err
	}
	if job.State != domain.JobReady || job.PlanID == nil {
		return domain.RescheduleJob{}, 0, domain.Errorf(domain.ErrCodeConflict, "no proposal ready, reschedule is %s", job.State)
	}
	return job, *job.PlanID, nil
}

func (o *Orchestrator) startPolling(job domain.RescheduleJob) {
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.pollUntilReady(o.ctx, job)
	}()
}

func (o *Orchestrator) pollUntilReady(ctx context.Context, job domain.RescheduleJob) {
	var remote domain.RemoteJob
	operation := func() error {
		status, err := o.backend.JobStatus(ctx, o.scope, job.JobID)
		if err != nil {
			if domain.IsRetryable(err) && ctx.Err() == nil {
				return err
			}
			return backoff.Permanent(err)
		}
		job.Polls++
		switch status.Status {
		case domain.RemotePending, domain.RemoteRunning:
			return errNotReady
		case domain.RemoteReady:
			remote = status
			return nil
		case domain.RemoteFailed:
			msg := status.Error
			if msg == "" {
				msg = "optimization failed"
			}
			return backoff.Permanent(domain.NewError(domain.ErrCodeConflict, msg))
		default:
			return backoff.Permanent(domain.Errorf(domain.ErrCodeInternal, "unknown job status %q", status.Status))
		}
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = o.poll.InitialInterval
	policy.MaxInterval = o.poll.MaxInterval
	policy.MaxElapsedTime = o.poll.MaxElapsedTime
	policy.Multiplier = o.poll.Multiplier
	policy.RandomizationFactor = o.poll.RandomizationFactor

	err := backoff.Retry(operation, backoff.WithContext(policy, ctx))
	if err == nil {
		err = o.install(ctx, remote.PlanID, job.Request.AllowOverride)
	}

	saveCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	o.mu.Lock()
	defer o.mu.Unlock()
	if err != nil {
		if ctx.Err() != nil {
			// shutting down; the job stays REQUESTED and Resume picks it up
			return
		}
		if errors.Is(err, errNotReady) {
			err = domain.NewError(domain.ErrCodeTransient, "reschedule job did not finish in time")
		}
		job.State = domain.JobFailed
		job.Error = err.Error()
		o.logger.Warn("reschedule failed", zap.String("job_id", job.JobID), zap.Error(err))
		if serr := o.save(saveCtx, job); serr != nil {
			o.logger.Error("failed to record reschedule failure", zap.Error(serr))
		}
		o.signal(saveCtx, domain.KindReschedule, 0, domain.ActionUpdated)
		return
	}

	job.State = domain.JobReady
	job.PlanID = domain.Int64Ptr(remote.PlanID)
	job.Error = ""
	if serr := o.save(saveCtx, job); serr != nil {
		o.logger.Error("failed to record ready proposal", zap.Error(serr))
	}
	o.logger.Info("reschedule proposal ready",
		zap.String("job_id", job.JobID),
		zap.Int64("plan_id", remote.PlanID),
		zap.Int("polls", job.Polls))
	o.signal(saveCtx, domain.KindPlan, remote.PlanID, domain.ActionCreated)
}

// install fetches the proposal, its snapshots and events concurrently, then installs them locally.
// Unless allowOverride is set, a proposal that moves a pinned event of the ACTIVE plan is
// discarded and the job fails with CONFLICT.
func (o *Orchestrator) install(ctx context.Context, planID int64, allowOverride bool) error {
	var (
		proposed domain.SchedulePlan
		tasks    []domain.ScheduleTask
		events   []domain.ScheduleEvent
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		proposed, err = o.backend.GetPlan(gctx, o.scope, planID)
		return err
	})
	g.Go(func() error {
		var err error
		tasks, err = o.backend.ListScheduleTasks(gctx, o.scope, planID)
		return err
	})
	g.Go(func() error {
		var err error
		events, err = o.backend.ListEvents(gctx, o.scope, planID)
		return err
	})
	if err := g.Wait(); err != nil {
		return err
	}

	if !allowOverride {
		if err := o.keepPinned(events); err != nil {
			if derr := o.backend.DiscardPlan(ctx, o.scope, planID); derr != nil && !domain.IsDomainError(derr, domain.ErrCodeNotFound) {
				o.logger.Warn("failed to discard rejected proposal", zap.Int64("plan_id", planID), zap.Error(derr))
			}
			return err
		}
	}

	proposed.ID = planID
	if _, err := o.plans.Propose(proposed, tasks); err != nil {
		return err
	}
	if _, err := o.events.InsertBulk(planID, events); err != nil {
		if _, derr := o.plans.Discard(planID); derr != nil {
			o.logger.Error("failed to drop half-installed proposal", zap.Error(derr))
		}
		return err
	}
	if err := o.plans.UpdateUtility(planID, o.events.TotalUtility(planID)); err != nil {
		return err
	}
	return nil
}

// keepPinned requires every pinned event of the ACTIVE plan to reappear in the proposal
// with the same task and placement. Matched proposal events stay pinned.
func (o *Orchestrator) keepPinned(proposal []domain.ScheduleEvent) error {
	active, ok := o.plans.Active()
	if !ok {
		return nil
	}
	used := make(map[int]struct{}, len(proposal))
	for _, pin := range o.events.Pinned(active.ID) {
		found := false
		for i := range proposal {
			if _, taken := used[i]; taken || !samePlacement(pin, proposal[i]) {
				continue
			}
			used[i] = struct{}{}
			proposal[i].IsManualOverride = true
			found = true
			break
		}
		if !found {
			return domain.Errorf(domain.ErrCodeConflict,
				"proposal moves pinned event %d (task %d, %d-%d)", pin.ID, pin.TaskID, pin.StartMin, pin.EndMin)
		}
	}
	return nil
}

func samePlacement(a, b domain.ScheduleEvent) bool {
	return a.TaskID == b.TaskID &&
		domain.DayStart(a.DateMs) == domain.DayStart(b.DateMs) &&
		a.StartMin == b.StartMin &&
		a.EndMin == b.EndMin
}

func (o *Orchestrator) loadConstraints(ctx context.Context) (*domain.Constraints, error) {
	if o.constraints == nil {
		return nil, nil
	}
	var c domain.Constraints
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		c.FocusBlocks, err = o.constraints.FocusBlocks(gctx, o.scope)
		return err
	})
	g.Go(func() error {
		var err error
		c.Availability, err = o.constraints.Availability(gctx, o.scope)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (o *Orchestrator) save(ctx context.Context, job domain.RescheduleJob) error {
	if err := o.jobs.Save(ctx, job); err != nil {
		return err
	}
	if o.onState != nil {
		o.onState(job.State)
	}
	return nil
}

func (o *Orchestrator) signal(ctx context.Context, kind domain.EntityKind, id int64, action domain.ChangeAction) {
	if o.publisher == nil {
		return
	}
	o.publisher.Publish(ctx, domain.Change{
		Scope:     o.scope,
		Kind:      kind,
		EntityID:  id,
		Action:    action,
		CreatedAt: time.Now().UTC(),
	})
}

// ApplyConfirmed mirrors a confirmed apply into the plan store.
// Without a confirmed plan set the local transition is applied instead.
func ApplyConfirmed(plans *plan.Store, planID int64, confirmed []domain.SchedulePlan) (domain.SchedulePlan, error) {
	if len(confirmed) == 0 {
		tr, err := plans.Apply(planID)
		if err != nil {
			return domain.SchedulePlan{}, err
		}
		return tr.Active, nil
	}
	for _, p := range confirmed {
		if err := plans.Upsert(p); err != nil {
			return domain.SchedulePlan{}, err
		}
	}
	active, ok := plans.Active()
	if !ok {
		return domain.SchedulePlan{}, domain.ErrNoActivePlan
	}
	return active, nil
}
