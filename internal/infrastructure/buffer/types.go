package buffer

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

const (
	EntityTask          = "task"
	EntityPlan          = "plan"
	EntityScheduleTasks = "schedule_tasks"
	EntityEvent         = "event"

	OperationUpsert = "upsert"
	OperationDelete = "delete"
	// OperationReplace swaps a plan's whole snapshot set.
	OperationReplace = "replace"
)

// Item is a mirror write that could not reach postgres yet.
type Item struct {
	ID        string          `json:"id"`
	Scope     string          `json:"scope"`
	Entity    string          `json:"entity"`
	Operation string          `json:"operation"`
	EntityID  int64           `json:"entity_id"`
	Data      json.RawMessage `json:"data,omitempty"`
	Priority  int             `json:"priority"`
	Retries   int             `json:"retries"`
	Timestamp time.Time       `json:"timestamp"`

	bucketKey []byte
}

func (i *Item) normalize() {
	if i.ID == "" {
		i.ID = uuid.NewString()
	}
	if i.Priority <= 0 || i.Priority > 5 {
		i.Priority = 3
	}
	if i.Timestamp.IsZero() {
		i.Timestamp = time.Now()
	}
}
