package handler

import (
	"net/http"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/fastygo/planner/domain"
	"github.com/fastygo/planner/pkg/httpcontext"
	constraintsUC "github.com/fastygo/planner/usecase/constraints"
)

type ConstraintsHandler struct {
	baseHandler
	uc *constraintsUC.UseCase
}

func NewConstraintsHandler(uc *constraintsUC.UseCase, adapter *httpcontext.Adapter, logger *zap.Logger) *ConstraintsHandler {
	return &ConstraintsHandler{
		baseHandler: newBaseHandler(adapter, logger),
		uc:          uc,
	}
}

// @Router /api/v1/focus-blocks [get]
func (h *ConstraintsHandler) FocusBlocks(ctx *fasthttp.RequestCtx) {
	scope := h.scope(ctx)
	if scope == "" {
		return
	}
	stdCtx, cancel := h.requestContext(ctx)
	defer cancel()

	blocks, err := h.uc.FocusBlocks(stdCtx, scope)
	if err != nil {
		h.respondError(ctx, err)
		return
	}
	h.respondSuccess(ctx, http.StatusOK, blocks)
}

// @Router /api/v1/focus-blocks [put]
func (h *ConstraintsHandler) SaveFocusBlocks(ctx *fasthttp.RequestCtx) {
	scope := h.scope(ctx)
	if scope == "" {
		return
	}
	var blocks []domain.FocusTimeBlock
	if !h.decode(ctx, &blocks) {
		return
	}
	stdCtx, cancel := h.requestContext(ctx)
	defer cancel()

	saved, err := h.uc.SaveFocusBlocks(stdCtx, scope, blocks)
	if err != nil {
		h.respondError(ctx, err)
		return
	}
	h.respondSuccess(ctx, http.StatusOK, saved)
}

// @Router /api/v1/availability [get]
func (h *ConstraintsHandler) Availability(ctx *fasthttp.RequestCtx) {
	scope := h.scope(ctx)
	if scope == "" {
		return
	}
	stdCtx, cancel := h.requestContext(ctx)
	defer cancel()

	slots, err := h.uc.Availability(stdCtx, scope)
	if err != nil {
		h.respondError(ctx, err)
		return
	}
	h.respondSuccess(ctx, http.StatusOK, slots)
}

// @Router /api/v1/availability [put]
func (h *ConstraintsHandler) SaveAvailability(ctx *fasthttp.RequestCtx) {
	scope := h.scope(ctx)
	if scope == "" {
		return
	}
	var slots []domain.AvailabilityCalendar
	if !h.decode(ctx, &slots) {
		return
	}
	stdCtx, cancel := h.requestContext(ctx)
	defer cancel()

	saved, err := h.uc.SaveAvailability(stdCtx, scope, slots)
	if err != nil {
		h.respondError(ctx, err)
		return
	}
	h.respondSuccess(ctx, http.StatusOK, saved)
}
