package postgres

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fastygo/planner/domain"
	"github.com/fastygo/planner/repository"
)

type changeRepository struct {
	pool *pgxpool.Pool
}

// NewChangeRepository creates a Postgres-backed ChangeRepository implementation.
func NewChangeRepository(pool *pgxpool.Pool) repository.ChangeRepository {
	return &changeRepository{pool: pool}
}

func (r *changeRepository) Append(ctx context.Context, change domain.Change) error {
	if change.ID == "" {
		change.ID = uuid.NewString()
	}
	var payload []byte
	if len(change.Payload) > 0 {
		payload = change.Payload
	}

	const query = `
	INSERT INTO planner_changes (id, scope, kind, entity_id, action, version, payload, metadata, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, COALESCE($9, NOW()))
	ON CONFLICT (id) DO NOTHING
	`
	_, err := r.pool.Exec(ctx, query,
		change.ID,
		change.Scope,
		change.Kind,
		change.EntityID,
		change.Action,
		change.Version,
		payload,
		marshalMap(change.Metadata),
		nullTime(change.CreatedAt),
	)
	return storeErr(err, domain.ErrInvalidPayload, "append change")
}

func (r *changeRepository) List(ctx context.Context, filter repository.ChangeFilter) ([]domain.Change, error) {
	const query = `
	SELECT id, scope, kind, entity_id, action, version, payload, metadata, created_at
	FROM planner_changes
	WHERE scope = $1
	  AND ($2 = '' OR kind = $2)
	  AND ($3::bigint = 0 OR entity_id = $3)
	ORDER BY created_at DESC
	LIMIT $4 OFFSET $5
	`
	rows, err := r.pool.Query(ctx, query, filter.Scope, string(filter.Kind), filter.EntityID, clampLimit(filter.Limit), filter.Offset)
	if err != nil {
		return nil, storeErr(err, domain.ErrInvalidPayload, "list changes")
	}
	defer rows.Close()

	var changes []domain.Change
	for rows.Next() {
		change, err := scanChange(rows)
		if err != nil {
			return nil, err
		}
		changes = append(changes, *change)
	}
	return changes, storeErr(rows.Err(), domain.ErrInvalidPayload, "list changes")
}

func scanChange(row scanner) (*domain.Change, error) {
	var change domain.Change
	var id uuid.UUID
	var payload, metadata []byte
	if err := row.Scan(
		&id,
		&change.Scope,
		&change.Kind,
		&change.EntityID,
		&change.Action,
		&change.Version,
		&payload,
		&metadata,
		&change.CreatedAt,
	); err != nil {
		return nil, storeErr(err, domain.ErrInvalidPayload, "scan change")
	}
	change.ID = id.String()
	if len(payload) > 0 {
		change.Payload = json.RawMessage(payload)
	}
	if err := unmarshalJSON(metadata, &change.Metadata); err != nil {
		return nil, err
	}
	return &change, nil
}
