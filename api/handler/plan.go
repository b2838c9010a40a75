package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/fastygo/planner/api/transport"
	"github.com/fastygo/planner/domain"
	"github.com/fastygo/planner/pkg/httpcontext"
	planUC "github.com/fastygo/planner/usecase/plan"
)

type PlanHandler struct {
	baseHandler
	uc *planUC.UseCase
}

func NewPlanHandler(uc *planUC.UseCase, adapter *httpcontext.Adapter, logger *zap.Logger) *PlanHandler {
	return &PlanHandler{
		baseHandler: newBaseHandler(adapter, logger),
		uc:          uc,
	}
}

// @Summary List plans, optionally by status (comma separated)
// @Tags plans
// @Router /api/v1/plans [get]
func (h *PlanHandler) ListPlans(ctx *fasthttp.RequestCtx) {
	scope := h.scope(ctx)
	if scope == "" {
		return
	}
	var statuses []domain.PlanStatus
	if raw := string(ctx.QueryArgs().Peek("status")); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			statuses = append(statuses, domain.PlanStatus(strings.ToUpper(strings.TrimSpace(s))))
		}
	}

	stdCtx, cancel := h.requestContext(ctx)
	defer cancel()

	plans, err := h.uc.ListPlans(stdCtx, scope, statuses...)
	if err != nil {
		h.respondError(ctx, err)
		return
	}
	h.respondSuccess(ctx, http.StatusOK, plans)
}

// @Summary Active plan
// @Tags plans
// @Router /api/v1/plans/active [get]
func (h *PlanHandler) ActivePlan(ctx *fasthttp.RequestCtx) {
	scope := h.scope(ctx)
	if scope == "" {
		return
	}

	stdCtx, cancel := h.requestContext(ctx)
	defer cancel()

	plan, err := h.uc.ActivePlan(stdCtx, scope)
	if err != nil {
		h.respondError(ctx, err)
		return
	}
	h.respondSuccess(ctx, http.StatusOK, plan)
}

// @Summary Archived plans, newest first
// @Tags plans
// @Router /api/v1/plans/history [get]
func (h *PlanHandler) History(ctx *fasthttp.RequestCtx) {
	scope := h.scope(ctx)
	if scope == "" {
		return
	}
	offset := parseInt(string(ctx.QueryArgs().Peek("offset")), 0)
	limit := parseInt(string(ctx.QueryArgs().Peek("limit")), 20)

	stdCtx, cancel := h.requestContext(ctx)
	defer cancel()

	plans, total, err := h.uc.History(stdCtx, scope, offset, limit)
	if err != nil {
		h.respondError(ctx, err)
		return
	}
	h.respondPage(ctx, plans, transport.PageMeta{Total: total, Offset: offset, Limit: limit})
}

// @Summary Get plan
// @Tags plans
// @Router /api/v1/plans/{id} [get]
func (h *PlanHandler) GetPlan(ctx *fasthttp.RequestCtx) {
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

	plan, err := h.uc.GetPlan(stdCtx, scope, id)
	if err != nil {
		h.respondError(ctx, err)
		return
	}
	h.respondSuccess(ctx, http.StatusOK, plan)
}

// @Summary Plan task snapshots
// @Tags plans
// @Router /api/v1/plans/{id}/tasks [get]
func (h *PlanHandler) PlanTasks(ctx *fasthttp.RequestCtx) {
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

	tasks, err := h.uc.PlanTasks(stdCtx, scope, id)
	if err != nil {
		h.respondError(ctx, err)
		return
	}
	h.respondSuccess(ctx, http.StatusOK, tasks)
}

// @Summary Plan statistics
// @Tags plans
// @Router /api/v1/plans/{id}/stats [get]
func (h *PlanHandler) Stats(ctx *fasthttp.RequestCtx) {
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

	stats, err := h.uc.Stats(stdCtx, scope, id)
	if err != nil {
		h.respondError(ctx, err)
		return
	}
	h.respondSuccess(ctx, http.StatusOK, stats)
}

// @Summary Create the first plan
// @Tags plans
// @Router /api/v1/plans [post]
func (h *PlanHandler) CreatePlan(ctx *fasthttp.RequestCtx) {
	scope := h.scope(ctx)
	if scope == "" {
		return
	}
	var req transport.PlanRequest
	if !h.decode(ctx, &req) {
		return
	}

	stdCtx, cancel := h.requestContext(ctx)
	defer cancel()

	plan, err := h.uc.CreatePlan(stdCtx, scope, domain.SchedulePlan{
		Algorithm:   req.Algorithm,
		Strategy:    req.Strategy,
		StartDateMs: req.StartDateMs,
		EndDateMs:   req.EndDateMs,
	})
	if err != nil {
		h.respondError(ctx, err)
		return
	}
	h.respondSuccess(ctx, http.StatusCreated, plan)
}

// @Summary Apply a proposed plan
// @Tags plans
// @Router /api/v1/plans/{id}/apply [post]
func (h *PlanHandler) ApplyPlan(ctx *fasthttp.RequestCtx) {
	h.transition(ctx, "apply", h.uc.ApplyPlan)
}

// @Summary Revert to an archived plan
// @Tags plans
// @Router /api/v1/plans/{id}/revert [post]
func (h *PlanHandler) RevertPlan(ctx *fasthttp.RequestCtx) {
	h.transition(ctx, "revert", h.uc.RevertPlan)
}

// @Summary Discard a proposed plan
// @Tags plans
// @Router /api/v1/plans/{id} [delete]
func (h *PlanHandler) DiscardPlan(ctx *fasthttp.RequestCtx) {
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

	if err := h.uc.DiscardPlan(stdCtx, scope, id); err != nil {
		h.respondError(ctx, err)
		return
	}
	h.respondSuccess(ctx, http.StatusOK, map[string]int64{"discarded": id})
}

// @Summary Request a reschedule
// @Tags plans
// @Router /api/v1/plans/reschedule [post]
func (h *PlanHandler) RequestReschedule(ctx *fasthttp.RequestCtx) {
	scope := h.scope(ctx)
	if scope == "" {
		return
	}
	var req domain.RescheduleRequest
	if !h.decode(ctx, &req) {
		return
	}

	stdCtx, cancel := h.requestContext(ctx)
	defer cancel()

	job, err := h.uc.RequestReschedule(stdCtx, scope, req)
	if err != nil {
		h.respondError(ctx, err)
		return
	}
	h.log(stdCtx).Info("reschedule requested", zap.String("strategy", string(req.Strategy)))
	h.respondSuccess(ctx, http.StatusAccepted, job)
}

// @Summary Reschedule job status
// @Tags plans
// @Router /api/v1/plans/reschedule [get]
func (h *PlanHandler) RescheduleStatus(ctx *fasthttp.RequestCtx) {
	scope := h.scope(ctx)
	if scope == "" {
		return
	}

	stdCtx, cancel := h.requestContext(ctx)
	defer cancel()

	job, err := h.uc.RescheduleStatus(stdCtx, scope)
	if err != nil {
		h.respondError(ctx, err)
		return
	}
	h.respondSuccess(ctx, http.StatusOK, job)
}

func (h *PlanHandler) transition(ctx *fasthttp.RequestCtx, action string, fn func(ctx context.Context, scope string, id int64) (domain.SchedulePlan, error)) {
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

	plan, err := fn(stdCtx, scope, id)
	if err != nil {
		h.respondError(ctx, err)
		return
	}
	h.log(stdCtx).Info("plan transition", zap.String("action", action), zap.Int64("plan_id", plan.ID))
	h.respondSuccess(ctx, http.StatusOK, plan)
}
