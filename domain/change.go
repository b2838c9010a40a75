package domain

import (
	"encoding/json"
	"time"
)

// EntityKind names the entity families that emit change signals.
type EntityKind string

const (
	KindTask         EntityKind = "task"
	KindPlan         EntityKind = "plan"
	KindScheduleTask EntityKind = "schedule_task"
	KindEvent        EntityKind = "event"
	KindReschedule   EntityKind = "reschedule"
	KindConstraints  EntityKind = "constraints"
)

// ChangeAction describes what happened to an entity.
type ChangeAction string

const (
	ActionCreated    ChangeAction = "created"
	ActionUpdated    ChangeAction = "updated"
	ActionDeleted    ChangeAction = "deleted"
	ActionConfirmed  ChangeAction = "confirmed"
	ActionRolledBack ChangeAction = "rolled_back"
)

// Change is an invalidation signal telling dependent views to refresh an entity.
type Change struct {
	ID        string            `json:"id"`
	Scope     string            `json:"scope"`
	Kind      EntityKind        `json:"kind"`
	EntityID  int64             `json:"entity_id"`
	Action    ChangeAction      `json:"action"`
	Version   int64             `json:"version"`
	Payload   json.RawMessage   `json:"payload,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}
