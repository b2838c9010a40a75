package remote

import (
	"context"
	"net/url"

	"github.com/tidwall/gjson"
	"github.com/valyala/fasthttp"

	"github.com/fastygo/planner/domain"
)

func (c *Client) ListPlans(ctx context.Context, scope string) ([]domain.SchedulePlan, error) {
	r, err := c.do(ctx, scope, call{method: fasthttp.MethodGet, path: "/schedule-plans"})
	if err != nil {
		return nil, err
	}
	var plans []domain.SchedulePlan
	if err := decode(r.data(), &plans); err != nil {
		return nil, err
	}
	return plans, nil
}

func (c *Client) GetPlan(ctx context.Context, scope string, id int64) (domain.SchedulePlan, error) {
	r, err := c.do(ctx, scope, call{method: fasthttp.MethodGet, path: path("/schedule-plans/%d", id)})
	if err != nil {
		return domain.SchedulePlan{}, err
	}
	var plan domain.SchedulePlan
	if err := decode(r.data(), &plan); err != nil {
		return domain.SchedulePlan{}, err
	}
	return plan, nil
}

// CreatePlan creates the first plan of a scope from its current tasks.
func (c *Client) CreatePlan(ctx context.Context, scope string, plan domain.SchedulePlan) (domain.SchedulePlan, error) {
	body := plan.Clone()
	if body.ID < 0 {
		body.ID = 0
	}
	r, err := c.do(ctx, scope, call{method: fasthttp.MethodPost, path: "/schedule-plans", body: body, mutation: true})
	if err != nil {
		return domain.SchedulePlan{}, err
	}
	var created domain.SchedulePlan
	if err := decode(r.data(), &created); err != nil {
		return domain.SchedulePlan{}, err
	}
	return created, nil
}

// TriggerReschedule starts an optimization job and returns its id. The backend answers 202.
func (c *Client) TriggerReschedule(ctx context.Context, scope string, req domain.RescheduleRequest) (string, error) {
	r, err := c.do(ctx, scope, call{method: fasthttp.MethodPost, path: "/schedule-plans/reschedule", body: req, mutation: true})
	if err != nil {
		return "", err
	}
	jobID := r.data().Get("job_id").String()
	if jobID == "" {
		jobID = r.data().Get("id").String()
	}
	if jobID == "" {
		return "", domain.NewError(domain.ErrCodeInternal, "backend accepted reschedule without a job id")
	}
	return jobID, nil
}

func (c *Client) JobStatus(ctx context.Context, scope, jobID string) (domain.RemoteJob, error) {
	r, err := c.do(ctx, scope, call{
		method:   fasthttp.MethodGet,
		path:     "/schedule-jobs/" + url.PathEscape(jobID),
		notFound: domain.ErrCodeNotFound,
	})
	if err != nil {
		return domain.RemoteJob{}, err
	}
	data := r.data()
	job := domain.RemoteJob{
		ID:     data.Get("id").String(),
		Status: domain.RemoteJobStatus(data.Get("status").String()),
		PlanID: data.Get("plan_id").Int(),
		Error:  data.Get("error").String(),
	}
	if job.ID == "" {
		job.ID = jobID
	}
	switch job.Status {
	case domain.RemotePending, domain.RemoteRunning, domain.RemoteReady, domain.RemoteFailed:
	default:
		return domain.RemoteJob{}, domain.Errorf(domain.ErrCodeInternal, "unknown job status %q", job.Status)
	}
	return job, nil
}

// ApplyPlan activates a PROPOSED plan and returns the confirmed plan set.
func (c *Client) ApplyPlan(ctx context.Context, scope string, id int64) ([]domain.SchedulePlan, error) {
	return c.transition(ctx, scope, path("/schedule-plans/%d/apply", id))
}

// RevertPlan reactivates an ARCHIVED plan and returns the confirmed plan set.
func (c *Client) RevertPlan(ctx context.Context, scope string, id int64) ([]domain.SchedulePlan, error) {
	return c.transition(ctx, scope, path("/schedule-plans/%d/revert", id))
}

func (c *Client) DiscardPlan(ctx context.Context, scope string, id int64) error {
	_, err := c.do(ctx, scope, call{
		method:   fasthttp.MethodDelete,
		path:     path("/schedule-plans/%d", id),
		mutation: true,
		notFound: domain.ErrCodeNotFound,
	})
	return err
}

func (c *Client) ListScheduleTasks(ctx context.Context, scope string, planID int64) ([]domain.ScheduleTask, error) {
	r, err := c.do(ctx, scope, call{method: fasthttp.MethodGet, path: path("/schedule-tasks?planId=%d", planID)})
	if err != nil {
		return nil, err
	}
	var tasks []domain.ScheduleTask
	if err := decode(r.data(), &tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

func (c *Client) ListEvents(ctx context.Context, scope string, planID int64) ([]domain.ScheduleEvent, error) {
	r, err := c.do(ctx, scope, call{method: fasthttp.MethodGet, path: path("/schedule-plans/%d/events", planID)})
	if err != nil {
		return nil, err
	}
	var events []domain.ScheduleEvent
	if err := decode(r.data(), &events); err != nil {
		return nil, err
	}
	return events, nil
}

// transition accepts either {"plans": [...]} or a single plan as the payload.
func (c *Client) transition(ctx context.Context, scope, p string) ([]domain.SchedulePlan, error) {
	r, err := c.do(ctx, scope, call{method: fasthttp.MethodPost, path: p, mutation: true})
	if err != nil {
		return nil, err
	}
	data := r.data()
	if plans := data.Get("plans"); plans.IsArray() {
		var out []domain.SchedulePlan
		if err := decode(plans, &out); err != nil {
			return nil, err
		}
		return out, nil
	}
	if data.Type == gjson.Null || !data.Exists() {
		return nil, nil
	}
	var plan domain.SchedulePlan
	if err := decode(data, &plan); err != nil {
		return nil, err
	}
	return []domain.SchedulePlan{plan}, nil
}
