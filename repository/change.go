package repository

import (
	"context"

	"github.com/fastygo/planner/domain"
)

type ChangeFilter struct {
	Scope    string
	Kind     domain.EntityKind
	EntityID int64
	Limit    int
	Offset   int
}

// ChangeRepository keeps the audit trail of confirmed and rolled back changes.
type ChangeRepository interface {
	Append(ctx context.Context, change domain.Change) error
	List(ctx context.Context, filter ChangeFilter) ([]domain.Change, error)
}
