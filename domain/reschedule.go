package domain

import "time"

// JobState is the orchestrator view of one reschedule request.
type JobState string

const (
	JobIdle      JobState = "IDLE"
	JobRequested JobState = "REQUESTED"
	JobReady     JobState = "READY"
	JobApplied   JobState = "APPLIED"
	JobDiscarded JobState = "DISCARDED"
	JobFailed    JobState = "FAILED"
)

func (s JobState) Valid() bool {
	switch s {
	case JobIdle, JobRequested, JobReady, JobApplied, JobDiscarded, JobFailed:
		return true
	default:
		return false
	}
}

// Terminal reports whether a new request may start after this state.
func (s JobState) Terminal() bool {
	switch s {
	case JobIdle, JobApplied, JobDiscarded, JobFailed:
		return true
	case JobRequested, JobReady:
		return false
	default:
		return false
	}
}

// RemoteJobStatus is what the backend reports while optimizing.
type RemoteJobStatus string

const (
	RemotePending RemoteJobStatus = "pending"
	RemoteRunning RemoteJobStatus = "running"
	RemoteReady   RemoteJobStatus = "ready"
	RemoteFailed  RemoteJobStatus = "failed"
)

// RescheduleRequest asks the backend for a new PROPOSED plan.
type RescheduleRequest struct {
	Strategy    Strategy  `json:"strategy"`
	Algorithm   Algorithm `json:"algorithm,omitempty"`
	StartDateMs int64     `json:"start_date_ms,omitempty"`
	EndDateMs   int64     `json:"end_date_ms,omitempty"`
	Reason      string    `json:"reason,omitempty"`
	// AllowOverride lets the optimizer move manually pinned events.
	AllowOverride bool `json:"allow_override,omitempty"`
	// PinnedEventIDs and Constraints are filled in from local state when the request is sent.
	PinnedEventIDs []int64      `json:"pinned_event_ids,omitempty"`
	Constraints    *Constraints `json:"constraints,omitempty"`
}

func (r RescheduleRequest) Clone() RescheduleRequest {
	cp := r
	if r.PinnedEventIDs != nil {
		cp.PinnedEventIDs = append([]int64(nil), r.PinnedEventIDs...)
	}
	if r.Constraints != nil {
		c := Constraints{
			FocusBlocks:  append([]FocusTimeBlock(nil), r.Constraints.FocusBlocks...),
			Availability: append([]AvailabilityCalendar(nil), r.Constraints.Availability...),
		}
		cp.Constraints = &c
	}
	return cp
}

// Validate checks the request before it leaves the process.
func (r *RescheduleRequest) Validate() error {
	if r.Strategy == "" {
		r.Strategy = StrategyRipple
	}
	if !r.Strategy.Valid() {
		return Errorf(ErrCodeInvalid, "unknown reschedule strategy %q", r.Strategy)
	}
	if r.EndDateMs != 0 && r.EndDateMs < r.StartDateMs {
		return NewError(ErrCodeInvalidRange, "reschedule window end precedes start")
	}
	return nil
}

// RemoteJob is a backend job status snapshot.
type RemoteJob struct {
	ID     string          `json:"id"`
	Status RemoteJobStatus `json:"status"`
	PlanID int64           `json:"plan_id,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// RescheduleJob tracks one request through the orchestrator.
type RescheduleJob struct {
	Scope       string            `json:"scope"`
	State       JobState          `json:"state"`
	JobID       string            `json:"job_id,omitempty"`
	Request     RescheduleRequest `json:"request"`
	PlanID      *int64            `json:"plan_id,omitempty"`
	Error       string            `json:"error,omitempty"`
	Polls       int               `json:"polls"`
	RequestedAt time.Time         `json:"requested_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

func (j RescheduleJob) Clone() RescheduleJob {
	cp := j
	cp.PlanID = cloneInt64(j.PlanID)
	cp.Request = j.Request.Clone()
	return cp
}
