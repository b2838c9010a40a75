package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/fastygo/planner/domain"
	"github.com/fastygo/planner/repository"
)

type changeRepository struct {
	mu      sync.RWMutex
	changes []domain.Change
	max     int
}

// NewChangeRepository keeps the newest max changes in memory. Used when postgres is not configured.
func NewChangeRepository(max int) repository.ChangeRepository {
	if max <= 0 {
		max = 10_000
	}
	return &changeRepository{max: max}
}

func (r *changeRepository) Append(_ context.Context, change domain.Change) error {
	if change.Scope == "" || change.Kind == "" {
		return domain.ErrInvalidPayload
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, change)
	if over := len(r.changes) - r.max; over > 0 {
		r.changes = append([]domain.Change(nil), r.changes[over:]...)
	}
	return nil
}

func (r *changeRepository) List(_ context.Context, filter repository.ChangeFilter) ([]domain.Change, error) {
	r.mu.RLock()
	var out []domain.Change
	for _, c := range r.changes {
		if c.Scope != filter.Scope {
			continue
		}
		if filter.Kind != "" && c.Kind != filter.Kind {
			continue
		}
		if filter.EntityID != 0 && c.EntityID != filter.EntityID {
			continue
		}
		out = append(out, c)
	}
	r.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	limit := filter.Limit
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	if filter.Offset >= len(out) {
		return []domain.Change{}, nil
	}
	out = out[filter.Offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
