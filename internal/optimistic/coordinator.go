package optimistic

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fastygo/planner/domain"
)

// Key identifies one entity touched by a mutation.
type Key struct {
	Kind domain.EntityKind
	ID   int64
}

func (k Key) String() string {
	return fmt.Sprintf("%s:%d", k.Kind, k.ID)
}

// Snapshot is the captured state of one entity. Present is false for an entity that did not exist.
type Snapshot struct {
	Value   interface{}
	Present bool
}

// Store adapts a local store to the coordinator.
type Store interface {
	Capture(id int64) Snapshot
	Restore(id int64, snap Snapshot) error
	Rekey(from, to int64) error
}

// Publisher receives a change signal after every settled mutation.
type Publisher interface {
	Publish(ctx context.Context, change domain.Change)
}

// Observer records coordinator activity.
type Observer interface {
	MutationStarted(name string)
	MutationSettled(name, outcome string, elapsed time.Duration)
	RollbackFailed(kind string)
}

// Mutation is one optimistic change.
// Apply runs under the coordinator lock and must only touch local stores.
// Dispatch performs the remote call and never runs under the lock.
type Mutation struct {
	Name     string
	Keys     []Key
	Apply    func() error
	Dispatch func(ctx context.Context) (Result, error)
}

// Result carries what the server confirmed.
// Rekeys are applied first; Confirmed keys use the rekeyed ids.
type Result struct {
	Rekeys    map[Key]int64
	Confirmed map[Key]Snapshot
	Value     interface{}
}

type entry struct {
	seq   uint64
	name  string
	keys  []Key
	snaps map[Key]Snapshot
}

type Options struct {
	Scope     string
	Strict    bool
	Logger    *zap.Logger
	Publisher Publisher
	Observer  Observer
}

// Coordinator applies mutations locally, dispatches them, and rolls back or reconciles
// per entity. Concurrent mutations on one entity form a chain: each entry owns the
// snapshot its failure must restore, and hands it to its successor when it settles first.
type Coordinator struct {
	mu      sync.Mutex
	stores  map[domain.EntityKind]Store
	chains  map[Key][]*entry
	aliases map[Key]int64
	seq     uint64

	scope     string
	strict    bool
	logger    *zap.Logger
	publisher Publisher
	observer  Observer
}

func New(opts Options) *Coordinator {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		stores:    make(map[domain.EntityKind]Store),
		chains:    make(map[Key][]*entry),
		aliases:   make(map[Key]int64),
		scope:     opts.Scope,
		strict:    opts.Strict,
		logger:    logger.With(zap.String("scope", opts.Scope)),
		publisher: opts.Publisher,
		observer:  opts.Observer,
	}
}

// Register binds a store to an entity kind.
func (c *Coordinator) Register(kind domain.EntityKind, store Store) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stores[kind] = store
}

// Resolve maps a provisional id to the server id once it is known.
func (c *Coordinator) Resolve(key Key) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if id, ok := c.aliases[key]; ok {
		return id
	}
	return key.ID
}

// Pending reports how many unsettled mutations touch the key.
func (c *Coordinator) Pending(key Key) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.chains[key])
}

// Do runs one mutation end to end. Apply errors are returned without dispatching.
func (c *Coordinator) Do(ctx context.Context, m Mutation) (Result, error) {
	if m.Apply == nil || m.Dispatch == nil {
		return Result{}, domain.Errorf(domain.ErrCodeInternal, "mutation %q is incomplete", m.Name)
	}
	e, err := c.begin(m)
	if err != nil {
		return Result{}, err
	}

	started := time.Now()
	if c.observer != nil {
		c.observer.MutationStarted(m.Name)
	}

	res, err := m.Dispatch(ctx)

	outcome := "confirmed"
	if err != nil {
		outcome = "rolled_back"
		c.logger.Warn("mutation rejected",
			zap.String("mutation", m.Name),
			zap.String("class", domain.ClassOf(err).String()),
			zap.Error(err))
		c.rollback(e)
	} else {
		c.reconcile(e, res)
	}
	if c.observer != nil {
		c.observer.MutationSettled(m.Name, outcome, time.Since(started))
	}
	c.publish(ctx, e, outcome)
	return res, err
}

func (c *Coordinator) begin(m Mutation) (*entry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := dedupe(m.Keys)
	snaps := make(map[Key]Snapshot, len(keys))
	for _, k := range keys {
		store, ok := c.stores[k.Kind]
		if !ok {
			err := domain.Errorf(domain.ErrCodeInternal, "no store registered for %s", k.Kind)
			c.fatal(err)
			return nil, err
		}
		snaps[k] = store.Capture(k.ID)
	}

	if err := m.Apply(); err != nil {
		for _, k := range keys {
			if rerr := c.stores[k.Kind].Restore(k.ID, snaps[k]); rerr != nil {
				c.restoreFailed(k, rerr)
			}
		}
		return nil, err
	}

	c.seq++
	e := &entry{seq: c.seq, name: m.Name, keys: keys, snaps: snaps}
	for _, k := range keys {
		c.chains[k] = append(c.chains[k], e)
	}
	return e, nil
}

func (c *Coordinator) rollback(e *entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range e.keys {
		next := c.unlink(k, e)
		if next != nil {
			next.snaps[k] = e.snaps[k]
			continue
		}
		if err := c.stores[k.Kind].Restore(k.ID, e.snaps[k]); err != nil {
			c.restoreFailed(k, err)
		}
	}
}

func (c *Coordinator) reconcile(e *entry, res Result) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, k := range e.keys {
		to, ok := res.Rekeys[k]
		if !ok || to == k.ID {
			continue
		}
		if err := c.stores[k.Kind].Rekey(k.ID, to); err != nil {
			c.restoreFailed(k, err)
			continue
		}
		c.rekeyChains(k, to)
	}

	for _, k := range e.keys {
		next := c.unlink(k, e)
		confirmed, ok := res.Confirmed[k]
		if !ok {
			continue
		}
		if next != nil {
			next.snaps[k] = confirmed
			continue
		}
		if err := c.stores[k.Kind].Restore(k.ID, confirmed); err != nil {
			c.restoreFailed(k, err)
		}
	}
}

// unlink removes e from the key's chain and returns its successor, if any.
func (c *Coordinator) unlink(k Key, e *entry) *entry {
	chain := c.chains[k]
	for i, cur := range chain {
		if cur != e {
			continue
		}
		var next *entry
		if i+1 < len(chain) {
			next = chain[i+1]
		}
		chain = append(chain[:i], chain[i+1:]...)
		if len(chain) == 0 {
			delete(c.chains, k)
		} else {
			c.chains[k] = chain
		}
		return next
	}
	return nil
}

func (c *Coordinator) rekeyChains(from Key, to int64) {
	newKey := Key{Kind: from.Kind, ID: to}
	c.aliases[from] = to
	chain := c.chains[from]
	if len(chain) == 0 {
		return
	}
	delete(c.chains, from)
	c.chains[newKey] = append(c.chains[newKey], chain...)
	for _, other := range chain {
		other.rename(from, newKey)
	}
}

func (e *entry) rename(from, to Key) {
	if snap, ok := e.snaps[from]; ok {
		delete(e.snaps, from)
		e.snaps[to] = snap
	}
	for i, k := range e.keys {
		if k == from {
			e.keys[i] = to
		}
	}
}

func (c *Coordinator) restoreFailed(k Key, err error) {
	if domain.ClassOf(err) == domain.ClassConflict && !domain.IsDomainError(err, domain.ErrCodeNotFound) {
		c.logger.Warn("rollback adjusted to keep store consistent",
			zap.String("entity", k.String()), zap.Error(err))
		return
	}
	if c.observer != nil {
		c.observer.RollbackFailed(string(k.Kind))
	}
	c.fatal(fmt.Errorf("restore %s: %w", k, err))
}

func (c *Coordinator) fatal(err error) {
	c.logger.Error("coordinator invariant broken", zap.Error(err))
	if c.strict {
		panic(err)
	}
}

func (c *Coordinator) publish(ctx context.Context, e *entry, outcome string) {
	if c.publisher == nil {
		return
	}
	action := domain.ActionConfirmed
	if outcome != "confirmed" {
		action = domain.ActionRolledBack
	}
	for _, k := range e.keys {
		c.publisher.Publish(ctx, domain.Change{
			Scope:     c.scope,
			Kind:      k.Kind,
			EntityID:  k.ID,
			Action:    action,
			Version:   int64(e.seq),
			Metadata:  map[string]string{"mutation": e.name},
			CreatedAt: time.Now().UTC(),
		})
	}
}

func dedupe(keys []Key) []Key {
	seen := make(map[Key]struct{}, len(keys))
	out := make([]Key, 0, len(keys))
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		return out[i].ID < out[j].ID
	})
	return out
}
