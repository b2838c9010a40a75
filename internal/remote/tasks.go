package remote

import (
	"context"

	"github.com/valyala/fasthttp"

	"github.com/fastygo/planner/domain"
)

type parentRequest struct {
	ParentTaskID *int64 `json:"parent_task_id"`
}

type dependencyRequest struct {
	DependsOnID int64 `json:"depends_on_id"`
}

func (c *Client) ListTasks(ctx context.Context, scope string) ([]domain.Task, error) {
	r, err := c.do(ctx, scope, call{method: fasthttp.MethodGet, path: "/tasks"})
	if err != nil {
		return nil, err
	}
	var tasks []domain.Task
	if err := decode(r.data(), &tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

func (c *Client) CreateTask(ctx context.Context, scope string, task domain.Task) (domain.Task, error) {
	body := task.Clone()
	if body.ID < 0 {
		body.ID = 0
	}
	return c.taskCall(ctx, scope, call{method: fasthttp.MethodPost, path: "/tasks", body: body, mutation: true})
}

func (c *Client) UpdateTask(ctx context.Context, scope string, id int64, patch domain.TaskPatch) (domain.Task, error) {
	return c.taskCall(ctx, scope, call{method: fasthttp.MethodPatch, path: path("/tasks/%d", id), body: patch, mutation: true})
}

func (c *Client) DeleteTask(ctx context.Context, scope string, id int64) error {
	_, err := c.do(ctx, scope, call{method: fasthttp.MethodDelete, path: path("/tasks/%d", id), mutation: true})
	return err
}

// SetParent reparents a task; a nil parent promotes it to a root.
func (c *Client) SetParent(ctx context.Context, scope string, id int64, parentID *int64) (domain.Task, error) {
	return c.taskCall(ctx, scope, call{
		method:   fasthttp.MethodPost,
		path:     path("/tasks/%d/parent", id),
		body:     parentRequest{ParentTaskID: parentID},
		mutation: true,
	})
}

func (c *Client) AddDependency(ctx context.Context, scope string, id, dependsOnID int64) (domain.Task, error) {
	return c.taskCall(ctx, scope, call{
		method:   fasthttp.MethodPost,
		path:     path("/tasks/%d/dependencies", id),
		body:     dependencyRequest{DependsOnID: dependsOnID},
		mutation: true,
	})
}

func (c *Client) RemoveDependency(ctx context.Context, scope string, id, dependsOnID int64) (domain.Task, error) {
	return c.taskCall(ctx, scope, call{
		method:   fasthttp.MethodDelete,
		path:     path("/tasks/%d/dependencies/%d", id, dependsOnID),
		mutation: true,
	})
}

func (c *Client) taskCall(ctx context.Context, scope string, op call) (domain.Task, error) {
	r, err := c.do(ctx, scope, op)
	if err != nil {
		return domain.Task{}, err
	}
	var task domain.Task
	if err := decode(r.data(), &task); err != nil {
		return domain.Task{}, err
	}
	return task, nil
}
