package engine

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/fastygo/planner/domain"
	"github.com/fastygo/planner/internal/graph"
	"github.com/fastygo/planner/internal/optimistic"
	"github.com/fastygo/planner/internal/placement"
	"github.com/fastygo/planner/internal/plan"
	"github.com/fastygo/planner/internal/reschedule"
	"github.com/fastygo/planner/repository"
)

// Source supplies the confirmed state a workspace starts from.
type Source interface {
	ListTasks(ctx context.Context, scope string) ([]domain.Task, error)
	ListPlans(ctx context.Context, scope string) ([]domain.SchedulePlan, error)
	ListScheduleTasks(ctx context.Context, scope string, planID int64) ([]domain.ScheduleTask, error)
	ListEvents(ctx context.Context, scope string, planID int64) ([]domain.ScheduleEvent, error)
}

// Backend is the remote authority: hydration source and reschedule driver.
type Backend interface {
	Source
	reschedule.Backend
}

type Publisher interface {
	Publish(ctx context.Context, change domain.Change)
}

type Config struct {
	Dangling       graph.DanglingPolicy
	Strict         bool
	Poll           reschedule.PollConfig
	HydrateTimeout time.Duration
	FetchParallel  int
}

type Options struct {
	Config
	Backend Backend
	// Fallback is read when the backend is unreachable during hydration.
	Fallback   Source
	Jobs       repository.JobRepository
	Publisher  Publisher
	Observer   optimistic.Observer
	OnJobState func(scope string, from, to domain.JobState)
	Logger     *zap.Logger
}

// Workspace is the in-memory engine of one scope.
type Workspace struct {
	Scope       string
	Tasks       *graph.Store
	Plans       *plan.Store
	Events      *placement.Store
	Coordinator *optimistic.Coordinator
	Reschedule  *reschedule.Orchestrator
}

// Registry opens workspaces lazily and keeps them for the process lifetime.
type Registry struct {
	opts   Options
	logger *zap.Logger

	mu     sync.RWMutex
	spaces map[string]*Workspace
	group  singleflight.Group
	closed bool
}

func NewRegistry(opts Options) *Registry {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Dangling == "" {
		opts.Dangling = graph.DanglingRemove
	}
	if opts.HydrateTimeout <= 0 {
		opts.HydrateTimeout = 30 * time.Second
	}
	if opts.FetchParallel <= 0 {
		opts.FetchParallel = 4
	}
	return &Registry{
		opts:   opts,
		logger: logger,
		spaces: make(map[string]*Workspace),
	}
}

// Workspace returns the scope's workspace, hydrating it on first use.
// Concurrent first calls share one hydration; a failed hydration is not cached.
func (r *Registry) Workspace(ctx context.Context, scope string) (*Workspace, error) {
	if scope == "" {
		return nil, domain.ErrUnauthorized
	}
	r.mu.RLock()
	ws, ok := r.spaces[scope]
	closed := r.closed
	r.mu.RUnlock()
	if ok {
		return ws, nil
	}
	if closed {
		return nil, domain.NewError(domain.ErrCodeTransient, "engine is shutting down")
	}

	ch := r.group.DoChan(scope, func() (interface{}, error) {
		r.mu.RLock()
		existing, ok := r.spaces[scope]
		r.mu.RUnlock()
		if ok {
			return existing, nil
		}

		hctx, cancel := context.WithTimeout(context.Background(), r.opts.HydrateTimeout)
		defer cancel()
		ws, err := r.open(hctx, scope)
		if err != nil {
			return nil, err
		}

		r.mu.Lock()
		defer r.mu.Unlock()
		if r.closed {
			ws.Reschedule.Close()
			return nil, domain.NewError(domain.ErrCodeTransient, "engine is shutting down")
		}
		r.spaces[scope] = ws
		return ws, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Workspace), nil
	case <-ctx.Done():
		return nil, domain.WrapError(domain.ErrCodeTransient, "workspace hydration interrupted", ctx.Err())
	}
}

// Scopes lists the open workspaces.
func (r *Registry) Scopes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.spaces))
	for scope := range r.spaces {
		out = append(out, scope)
	}
	sort.Strings(out)
	return out
}

// Close stops every orchestrator poller. In-flight jobs stay REQUESTED for the next Resume.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	for _, ws := range r.spaces {
		ws.Reschedule.Close()
	}
	r.logger.Info("engine workspaces closed", zap.Int("count", len(r.spaces)))
}

func (r *Registry) open(ctx context.Context, scope string) (*Workspace, error) {
	logger := r.logger.With(zap.String("scope", scope))
	started := time.Now()

	snap, err := Fetch(ctx, r.opts.Backend, scope, r.opts.FetchParallel)
	source := "backend"
	if err != nil {
		if r.opts.Fallback == nil || !domain.IsRetryable(err) {
			return nil, err
		}
		logger.Warn("backend unavailable, hydrating from mirror", zap.Error(err))
		snap, err = Fetch(ctx, r.opts.Fallback, scope, r.opts.FetchParallel)
		if err != nil {
			return nil, err
		}
		source = "mirror"
	}

	ws := &Workspace{
		Scope:  scope,
		Tasks:  graph.NewStore(r.opts.Dangling, logger),
		Plans:  plan.NewStore(logger),
		Events: placement.NewStore(logger),
	}
	if err := snap.Install(ws); err != nil {
		return nil, err
	}

	ws.Coordinator = optimistic.New(optimistic.Options{
		Scope:     scope,
		Strict:    r.opts.Strict,
		Logger:    logger,
		Publisher: r.opts.Publisher,
		Observer:  r.opts.Observer,
	})
	ws.Coordinator.Register(domain.KindTask, optimistic.TaskStore{Graph: ws.Tasks})
	ws.Coordinator.Register(domain.KindEvent, optimistic.EventStore{Placement: ws.Events})

	constraints, _ := r.opts.Backend.(reschedule.ConstraintSource)
	ws.Reschedule = reschedule.New(reschedule.Options{
		Scope:       scope,
		Backend:     r.opts.Backend,
		Constraints: constraints,
		Plans:       ws.Plans,
		Events:      ws.Events,
		Jobs:        r.opts.Jobs,
		Poll:        r.opts.Poll,
		Publisher:   r.opts.Publisher,
		OnState:     r.jobObserver(scope),
		Logger:      logger,
	})
	if err := ws.Reschedule.Resume(ctx); err != nil {
		logger.Warn("resume reschedule job", zap.Error(err))
	}

	logger.Info("workspace hydrated",
		zap.String("source", source),
		zap.Int("tasks", len(snap.Tasks)),
		zap.Int("plans", len(snap.Plans)),
		zap.Duration("elapsed", time.Since(started)),
	)
	return ws, nil
}

func (r *Registry) jobObserver(scope string) func(domain.JobState) {
	if r.opts.OnJobState == nil {
		return nil
	}
	var (
		mu   sync.Mutex
		last domain.JobState
	)
	return func(state domain.JobState) {
		mu.Lock()
		prev := last
		last = state
		mu.Unlock()
		r.opts.OnJobState(scope, prev, state)
	}
}
