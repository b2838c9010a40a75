package notify

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fastygo/planner/domain"
)

// Bus fans change signals out to in-process subscribers, keyed by scope.
// Publishing never blocks: a full subscriber misses the signal and should refetch.
type Bus struct {
	mu      sync.RWMutex
	subs    map[string]map[uint64]chan domain.Change
	allSubs map[uint64]chan domain.Change
	next    uint64
	closed  bool
	onDrop  func()
}

func NewBus() *Bus {
	return &Bus{
		subs:    make(map[string]map[uint64]chan domain.Change),
		allSubs: make(map[uint64]chan domain.Change),
	}
}

// OnDrop registers a callback invoked for each signal dropped on a full subscriber.
func (b *Bus) OnDrop(fn func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onDrop = fn
}

// Subscribe returns the change stream of one scope and a function ending the subscription.
func (b *Bus) Subscribe(scope string, bufSize int) (<-chan domain.Change, func()) {
	if bufSize <= 0 {
		bufSize = 256
	}
	ch := make(chan domain.Change, bufSize)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	b.next++
	id := b.next
	set, ok := b.subs[scope]
	if !ok {
		set = make(map[uint64]chan domain.Change)
		b.subs[scope] = set
	}
	set[id] = ch
	return ch, func() { b.unsubscribe(scope, id) }
}

// SubscribeAll receives the signals of every scope.
func (b *Bus) SubscribeAll(bufSize int) (<-chan domain.Change, func()) {
	if bufSize <= 0 {
		bufSize = 256
	}
	ch := make(chan domain.Change, bufSize)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	b.next++
	id := b.next
	b.allSubs[id] = ch
	return ch, func() { b.unsubscribe("", id) }
}

// Publish delivers the change to the scope's subscribers and to SubscribeAll channels.
func (b *Bus) Publish(_ context.Context, change domain.Change) {
	change = stamp(change)

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, ch := range b.subs[change.Scope] {
		b.send(ch, change)
	}
	for _, ch := range b.allSubs {
		b.send(ch, change)
	}
}

// Close closes every subscriber channel. Safe to call more than once.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, set := range b.subs {
		for _, ch := range set {
			close(ch)
		}
	}
	for _, ch := range b.allSubs {
		close(ch)
	}
	b.subs = nil
	b.allSubs = nil
}

func (b *Bus) send(ch chan domain.Change, change domain.Change) {
	select {
	case ch <- change:
	default:
		if b.onDrop != nil {
			b.onDrop()
		}
	}
}

func (b *Bus) unsubscribe(scope string, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	if scope == "" {
		if ch, ok := b.allSubs[id]; ok {
			delete(b.allSubs, id)
			close(ch)
		}
		return
	}
	set := b.subs[scope]
	if ch, ok := set[id]; ok {
		delete(set, id)
		close(ch)
		if len(set) == 0 {
			delete(b.subs, scope)
		}
	}
}

// Publisher is anything accepting change signals.
type Publisher interface {
	Publish(ctx context.Context, change domain.Change)
}

// Fanout publishes to several publishers in order.
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, change domain.Change) {
	change = stamp(change)
	for _, p := range f {
		if p != nil {
			p.Publish(ctx, change)
		}
	}
}

func stamp(change domain.Change) domain.Change {
	if change.ID == "" {
		change.ID = uuid.NewString()
	}
	if change.CreatedAt.IsZero() {
		change.CreatedAt = time.Now().UTC()
	}
	return change
}
