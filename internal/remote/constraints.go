package remote

import (
	"context"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/fastygo/planner/domain"
)

func (c *Client) FocusBlocks(ctx context.Context, scope string) ([]domain.FocusTimeBlock, error) {
	r, err := c.do(ctx, scope, call{method: fasthttp.MethodGet, path: "/schedule/focus-blocks"})
	if err != nil {
		return nil, err
	}
	var blocks []domain.FocusTimeBlock
	if err := decode(r.data(), &blocks); err != nil {
		return nil, err
	}
	return blocks, nil
}

func (c *Client) SaveFocusBlocks(ctx context.Context, scope string, blocks []domain.FocusTimeBlock) ([]domain.FocusTimeBlock, error) {
	r, err := c.do(ctx, scope, call{method: fasthttp.MethodPost, path: "/schedule/focus-blocks", body: blocks, mutation: true})
	if err != nil {
		return nil, err
	}
	var saved []domain.FocusTimeBlock
	if err := decode(r.data(), &saved); err != nil {
		return nil, err
	}
	return saved, nil
}

func (c *Client) Availability(ctx context.Context, scope string) ([]domain.AvailabilityCalendar, error) {
	r, err := c.do(ctx, scope, call{method: fasthttp.MethodGet, path: "/schedule/availability"})
	if err != nil {
		return nil, err
	}
	var slots []domain.AvailabilityCalendar
	if err := decode(r.data(), &slots); err != nil {
		return nil, err
	}
	return slots, nil
}

func (c *Client) SaveAvailability(ctx context.Context, scope string, slots []domain.AvailabilityCalendar) ([]domain.AvailabilityCalendar, error) {
	r, err := c.do(ctx, scope, call{method: fasthttp.MethodPost, path: "/schedule/availability", body: slots, mutation: true})
	if err != nil {
		return nil, err
	}
	var saved []domain.AvailabilityCalendar
	if err := decode(r.data(), &saved); err != nil {
		return nil, err
	}
	return saved, nil
}

// Ping checks the backend health endpoint without going through the breaker.
func (c *Client) Ping(ctx context.Context) error {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(c.baseURL + "/health")
	req.Header.SetMethod(fasthttp.MethodGet)
	timeout := c.timeout
	if d, ok := ctx.Deadline(); ok {
		timeout = time.Until(d)
	}
	if err := c.http.DoTimeout(req, resp, timeout); err != nil {
		return domain.WrapError(domain.ErrCodeTransient, "backend unreachable", err)
	}
	if resp.StatusCode() != fasthttp.StatusOK {
		return domain.Errorf(domain.ErrCodeTransient, "backend health returned %d", resp.StatusCode())
	}
	return nil
}
