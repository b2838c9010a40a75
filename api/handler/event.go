package handler

import (
	"net/http"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/fastygo/planner/api/transport"
	"github.com/fastygo/planner/pkg/httpcontext"
	eventUC "github.com/fastygo/planner/usecase/event"
)

type EventHandler struct {
	baseHandler
	uc *eventUC.UseCase
}

func NewEventHandler(uc *eventUC.UseCase, adapter *httpcontext.Adapter, logger *zap.Logger) *EventHandler {
	return &EventHandler{
		baseHandler: newBaseHandler(adapter, logger),
		uc:          uc,
	}
}

// @Summary List events of a plan, optionally by day range
// @Tags events
// @Router /api/v1/events [get]
func (h *EventHandler) ListEvents(ctx *fasthttp.RequestCtx) {
	scope := h.scope(ctx)
	if scope == "" {
		return
	}
	args := ctx.QueryArgs()
	var r eventUC.Range
	if v, ok := parseInt64(args.Peek("planId")); ok {
		r.PlanID = v
	}
	if v, ok := parseInt64(args.Peek("from")); ok {
		r.FromMs = v
	}
	if v, ok := parseInt64(args.Peek("to")); ok {
		r.ToMs = v
	}

	stdCtx, cancel := h.requestContext(ctx)
	defer cancel()

	events, err := h.uc.ListEvents(stdCtx, scope, r)
	if err != nil {
		h.respondError(ctx, err)
		return
	}
	h.respondSuccess(ctx, http.StatusOK, events)
}

// @Summary Get event
// @Tags events
// @Router /api/v1/events/{id} [get]
func (h *EventHandler) GetEvent(ctx *fasthttp.RequestCtx) {
	scope := h.scope(ctx)
	if scope == "" {
		return
	}
	id, ok := h.pathID(ctx, "id")
	if !ok {
		return
	}

	stdCtx, cancel := h.requestContext(ctx)
	defer cancel()

	ev, err := h.uc.GetEvent(stdCtx, scope, id)
	if err != nil {
		h.respondError(ctx, err)
		return
	}
	h.respondSuccess(ctx, http.StatusOK, ev)
}

// @Summary Create event
// @Tags events
// @Router /api/v1/events [post]
func (h *EventHandler) CreateEvent(ctx *fasthttp.RequestCtx) {
	scope := h.scope(ctx)
	if scope == "" {
		return
	}
	var req transport.EventRequest
	if !h.decode(ctx, &req) {
		return
	}

	stdCtx, cancel := h.requestContext(ctx)
	defer cancel()

	ev, err := h.uc.CreateEvent(stdCtx, scope, req.Event())
	if err != nil {
		h.respondError(ctx, err)
		return
	}
	h.respondSuccess(ctx, http.StatusCreated, ev)
}

// @Summary Move event
// @Tags events
// @Router /api/v1/events/{id}/move [post]
func (h *EventHandler) MoveEvent(ctx *fasthttp.RequestCtx) {
	scope := h.scope(ctx)
	if scope == "" {
		return
	}
	id, ok := h.pathID(ctx, "id")
	if !ok {
		return
	}
	var req transport.MoveRequest
	if !h.decode(ctx, &req) {
		return
	}

	stdCtx, cancel := h.requestContext(ctx)
	defer cancel()

	ev, err := h.uc.MoveEvent(stdCtx, scope, id, req.DateMs, req.StartMin, req.EndMin)
	if err != nil {
		h.respondError(ctx, err)
		return
	}
	h.respondSuccess(ctx, http.StatusOK, ev)
}

// @Summary Split event
// @Tags events
// @Router /api/v1/events/{id}/split [post]
func (h *EventHandler) SplitEvent(ctx *fasthttp.RequestCtx) {
	scope := h.scope(ctx)
	if scope == "" {
		return
	}
	id, ok := h.pathID(ctx, "id")
	if !ok {
		return
	}
	var req transport.SplitRequest
	if !h.decode(ctx, &req) {
		return
	}

	stdCtx, cancel := h.requestContext(ctx)
	defer cancel()

	first, second, err := h.uc.SplitEvent(stdCtx, scope, id, req.SplitPointMin)
	if err != nil {
		h.respondError(ctx, err)
		return
	}
	h.respondSuccess(ctx, http.StatusOK, transport.SplitResponse{First: first, Second: second})
}

// @Summary Complete event
// @Tags events
// @Router /api/v1/events/{id}/complete [post]
func (h *EventHandler) CompleteEvent(ctx *fasthttp.RequestCtx) {
	scope := h.scope(ctx)
	if scope == "" {
		return
	}
	id, ok := h.pathID(ctx, "id")
	if !ok {
		return
	}
	var req transport.CompleteRequest
	if !h.decode(ctx, &req) {
		return
	}

	stdCtx, cancel := h.requestContext(ctx)
	defer cancel()

	ev, err := h.uc.CompleteEvent(stdCtx, scope, id, req.ActualStartMin, req.ActualEndMin)
	if err != nil {
		h.respondError(ctx, err)
		return
	}
	h.respondSuccess(ctx, http.StatusOK, ev)
}

// @Summary Pin event
// @Tags events
// @Router /api/v1/events/{id}/override [post]
func (h *EventHandler) OverrideEvent(ctx *fasthttp.RequestCtx) {
	scope := h.scope(ctx)
	if scope == "" {
		return
	}
	id, ok := h.pathID(ctx, "id")
	if !ok {
		return
	}

	stdCtx, cancel := h.requestContext(ctx)
	defer cancel()

	ev, err := h.uc.OverrideEvent(stdCtx, scope, id)
	if err != nil {
		h.respondError(ctx, err)
		return
	}
	h.respondSuccess(ctx, http.StatusOK, ev)
}

// @Summary Delete event
// @Tags events
// @Router /api/v1/events/{id} [delete]
func (h *EventHandler) DeleteEvent(ctx *fasthttp.RequestCtx) {
	scope := h.scope(ctx)
	if scope == "" {
		return
	}
	id, ok := h.pathID(ctx, "id")
	if !ok {
		return
	}

	stdCtx, cancel := h.requestContext(ctx)
	defer cancel()

	if err := h.uc.DeleteEvent(stdCtx, scope, id); err != nil {
		h.respondError(ctx, err)
		return
	}
	h.respondSuccess(ctx, http.StatusOK, map[string]int64{"deleted": id})
}
