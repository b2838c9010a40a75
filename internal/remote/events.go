package remote

import (
	"context"

	"github.com/valyala/fasthttp"

	"github.com/fastygo/planner/domain"
)

// MoveRequest is the body of an event move.
type MoveRequest struct {
	DateMs   int64 `json:"date_ms"`
	StartMin int   `json:"start_min"`
	EndMin   int   `json:"end_min"`
}

type splitRequest struct {
	SplitPointMin int `json:"split_point_min"`
}

type completeRequest struct {
	ActualStartMin int `json:"actual_start_min"`
	ActualEndMin   int `json:"actual_end_min"`
}

func (c *Client) CreateEvent(ctx context.Context, scope string, ev domain.ScheduleEvent) (domain.ScheduleEvent, error) {
	body := ev.Clone()
	if body.ID < 0 {
		body.ID = 0
	}
	return c.eventCall(ctx, scope, call{method: fasthttp.MethodPost, path: "/schedule-events", body: body, mutation: true, badRequest: domain.ErrCodeInvalidRange})
}

func (c *Client) MoveEvent(ctx context.Context, scope string, id int64, req MoveRequest) (domain.ScheduleEvent, error) {
	return c.eventCall(ctx, scope, call{
		method:     fasthttp.MethodPost,
		path:       path("/schedule-events/%d/move", id),
		body:       req,
		mutation:   true,
		badRequest: domain.ErrCodeInvalidRange,
	})
}

// SplitEvent returns both confirmed parts.
func (c *Client) SplitEvent(ctx context.Context, scope string, id int64, splitPointMin int) (domain.ScheduleEvent, domain.ScheduleEvent, error) {
	r, err := c.do(ctx, scope, call{
		method:     fasthttp.MethodPost,
		path:       path("/schedule-events/%d/split", id),
		body:       splitRequest{SplitPointMin: splitPointMin},
		mutation:   true,
		badRequest: domain.ErrCodeInvalidSplitPoint,
	})
	if err != nil {
		return domain.ScheduleEvent{}, domain.ScheduleEvent{}, err
	}
	data := r.data()
	firstRaw, secondRaw := data.Get("first"), data.Get("second")
	if data.IsArray() {
		firstRaw, secondRaw = data.Get("0"), data.Get("1")
	}
	var first, second domain.ScheduleEvent
	if err := decode(firstRaw, &first); err != nil {
		return domain.ScheduleEvent{}, domain.ScheduleEvent{}, err
	}
	if err := decode(secondRaw, &second); err != nil {
		return domain.ScheduleEvent{}, domain.ScheduleEvent{}, err
	}
	return first, second, nil
}

func (c *Client) CompleteEvent(ctx context.Context, scope string, id int64, actualStartMin, actualEndMin int) (domain.ScheduleEvent, error) {
	return c.eventCall(ctx, scope, call{
		method:     fasthttp.MethodPost,
		path:       path("/schedule-events/%d/complete", id),
		body:       completeRequest{ActualStartMin: actualStartMin, ActualEndMin: actualEndMin},
		mutation:   true,
		badRequest: domain.ErrCodeInvalidRange,
	})
}

// OverrideEvent pins an event without moving it.
func (c *Client) OverrideEvent(ctx context.Context, scope string, id int64) (domain.ScheduleEvent, error) {
	return c.eventCall(ctx, scope, call{method: fasthttp.MethodPost, path: path("/schedule-events/%d/override", id), mutation: true})
}

func (c *Client) DeleteEvent(ctx context.Context, scope string, id int64) error {
	_, err := c.do(ctx, scope, call{method: fasthttp.MethodDelete, path: path("/schedule-events/%d", id), mutation: true})
	return err
}

func (c *Client) eventCall(ctx context.Context, scope string, op call) (domain.ScheduleEvent, error) {
	r, err := c.do(ctx, scope, op)
	if err != nil {
		return domain.ScheduleEvent{}, err
	}
	var ev domain.ScheduleEvent
	if err := decode(r.data(), &ev); err != nil {
		return domain.ScheduleEvent{}, err
	}
	return ev, nil
}
