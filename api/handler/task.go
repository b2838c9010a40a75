package handler

import (
	"net/http"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/fastygo/planner/api/transport"
	"github.com/fastygo/planner/domain"
	"github.com/fastygo/planner/internal/graph"
	"github.com/fastygo/planner/pkg/httpcontext"
	taskUC "github.com/fastygo/planner/usecase/task"
)

type TaskHandler struct {
	baseHandler
	uc *taskUC.UseCase
}

func NewTaskHandler(uc *taskUC.UseCase, adapter *httpcontext.Adapter, logger *zap.Logger) *TaskHandler {
	return &TaskHandler{
		baseHandler: newBaseHandler(adapter, logger),
		uc:          uc,
	}
}

// @Summary List tasks
// @Tags tasks
// @Router /api/v1/tasks [get]
func (h *TaskHandler) GetTasks(ctx *fasthttp.RequestCtx) {
	scope := h.scope(ctx)
	if scope == "" {
		return
	}

	args := ctx.QueryArgs()
	filter := graph.Filter{
		RootsOnly: args.GetBool("roots"),
		Status:    domain.TaskStatus(args.Peek("status")),
		Tag:       string(args.Peek("tag")),
		Limit:     parseInt(string(args.Peek("limit")), 0),
		Offset:    parseInt(string(args.Peek("offset")), 0),
	}
	if id, ok := parseInt64(args.Peek("parent_id")); ok {
		filter.ParentID = &id
	}
	if id, ok := parseInt64(args.Peek("project_id")); ok {
		filter.ProjectID = &id
	}

	stdCtx, cancel := h.requestContext(ctx)
	defer cancel()

	tasks, err := h.uc.ListTasks(stdCtx, scope, filter)
	if err != nil {
		h.respondError(ctx, err)
		return
	}
	h.respondSuccess(ctx, http.StatusOK, tasks)
}

// @Summary Get task
// @Tags tasks
// @Router /api/v1/tasks/{id} [get]
func (h *TaskHandler) GetTask(ctx *fasthttp.RequestCtx) {
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

	task, err := h.uc.GetTask(stdCtx, scope, id)
	if err != nil {
		h.respondError(ctx, err)
		return
	}
	h.respondSuccess(ctx, http.StatusOK, task)
}

// @Summary Create task
// @Tags tasks
// @Router /api/v1/tasks [post]
func (h *TaskHandler) CreateTask(ctx *fasthttp.RequestCtx) {
	scope := h.scope(ctx)
	if scope == "" {
		return
	}
	var req transport.TaskRequest
	if !h.decode(ctx, &req) {
		return
	}

	stdCtx, cancel := h.requestContext(ctx)
	defer cancel()

	var (
		created domain.Task
		err     error
	)
	if req.Template != nil {
		created, err = h.uc.CreateFromTemplate(stdCtx, scope, *req.Template, req.Title, req.ParentTaskID, req.ProjectID)
	} else {
		created, err = h.uc.CreateTask(stdCtx, scope, req.Task())
	}
	if err != nil {
		h.respondError(ctx, err)
		return
	}
	h.respondSuccess(ctx, http.StatusCreated, created)
}

// @Summary Update task
// @Tags tasks
// @Router /api/v1/tasks/{id} [patch]
func (h *TaskHandler) UpdateTask(ctx *fasthttp.RequestCtx) {
	scope := h.scope(ctx)
	if scope == "" {
		return
	}
	id, ok := h.pathID(ctx, "id")
	if !ok {
		return
	}
	var patch domain.TaskPatch
	if !h.decode(ctx, &patch) {
		return
	}

	stdCtx, cancel := h.requestContext(ctx)
	defer cancel()

	updated, err := h.uc.UpdateTask(stdCtx, scope, id, patch)
	if err != nil {
		h.respondError(ctx, err)
		return
	}
	h.respondSuccess(ctx, http.StatusOK, updated)
}

// @Summary Delete task and its direct children
// @Tags tasks
// @Router /api/v1/tasks/{id} [delete]
func (h *TaskHandler) DeleteTask(ctx *fasthttp.RequestCtx) {
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

	removal, err := h.uc.DeleteTask(stdCtx, scope, id)
	if err != nil {
		h.respondError(ctx, err)
		return
	}
	h.respondSuccess(ctx, http.StatusOK, removal)
}

// @Summary Task subtree
// @Tags tasks
// @Router /api/v1/tasks/{id}/tree [get]
func (h *TaskHandler) Tree(ctx *fasthttp.RequestCtx) {
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

	tree, err := h.uc.Tree(stdCtx, scope, id)
	if err != nil {
		h.respondError(ctx, err)
		return
	}
	h.respondSuccess(ctx, http.StatusOK, tree)
}

// @Summary Move task under a new parent
// @Tags tasks
// @Router /api/v1/tasks/{id}/parent [post]
func (h *TaskHandler) Reparent(ctx *fasthttp.RequestCtx) {
	scope := h.scope(ctx)
	if scope == "" {
		return
	}
	id, ok := h.pathID(ctx, "id")
	if !ok {
		return
	}
	var req transport.ParentRequest
	if !h.decode(ctx, &req) {
		return
	}

	stdCtx, cancel := h.requestContext(ctx)
	defer cancel()

	task, err := h.uc.Reparent(stdCtx, scope, id, req.ParentTaskID)
	if err != nil {
		h.respondError(ctx, err)
		return
	}
	h.respondSuccess(ctx, http.StatusOK, task)
}

// @Summary Promote task to root
// @Tags tasks
// @Router /api/v1/tasks/{id}/promote [post]
func (h *TaskHandler) Promote(ctx *fasthttp.RequestCtx) {
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

	task, err := h.uc.Promote(stdCtx, scope, id)
	if err != nil {
		h.respondError(ctx, err)
		return
	}
	h.respondSuccess(ctx, http.StatusOK, task)
}

// @Summary Add dependency
// @Tags tasks
// @Router /api/v1/tasks/{id}/dependencies [post]
func (h *TaskHandler) AddDependency(ctx *fasthttp.RequestCtx) {
	scope := h.scope(ctx)
	if scope == "" {
		return
	}
	id, ok := h.pathID(ctx, "id")
	if !ok {
		return
	}
	var req transport.DependencyRequest
	if !h.decode(ctx, &req) {
		return
	}
	if req.DependsOnID == 0 {
		h.respondInvalid(ctx, "depends_on_id is required")
		return
	}

	stdCtx, cancel := h.requestContext(ctx)
	defer cancel()

	task, err := h.uc.AddDependency(stdCtx, scope, id, req.DependsOnID)
	if err != nil {
		h.respondError(ctx, err)
		return
	}
	h.respondSuccess(ctx, http.StatusOK, task)
}

// @Summary Remove dependency
// @Tags tasks
// @Router /api/v1/tasks/{id}/dependencies/{dep} [delete]
func (h *TaskHandler) RemoveDependency(ctx *fasthttp.RequestCtx) {
	scope := h.scope(ctx)
	if scope == "" {
		return
	}
	id, ok := h.pathID(ctx, "id")
	if !ok {
		return
	}
	dep, ok := h.pathID(ctx, "dep")
	if !ok {
		return
	}

	stdCtx, cancel := h.requestContext(ctx)
	defer cancel()

	task, err := h.uc.RemoveDependency(stdCtx, scope, id, dep)
	if err != nil {
		h.respondError(ctx, err)
		return
	}
	h.respondSuccess(ctx, http.StatusOK, task)
}

// @Summary Blocked status
// @Tags tasks
// @Router /api/v1/tasks/{id}/blocked [get]
func (h *TaskHandler) Blocked(ctx *fasthttp.RequestCtx) {
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

	blocked, err := h.uc.IsBlocked(stdCtx, scope, id)
	if err != nil {
		h.respondError(ctx, err)
		return
	}
	h.respondSuccess(ctx, http.StatusOK, map[string]interface{}{"task_id": id, "blocked": blocked})
}

// @Summary Dependency order
// @Tags tasks
// @Router /api/v1/tasks/order [get]
func (h *TaskHandler) Order(ctx *fasthttp.RequestCtx) {
	scope := h.scope(ctx)
	if scope == "" {
		return
	}

	stdCtx, cancel := h.requestContext(ctx)
	defer cancel()

	order, err := h.uc.TopologicalOrder(stdCtx, scope)
	if err != nil {
		h.respondError(ctx, err)
		return
	}
	h.respondSuccess(ctx, http.StatusOK, order)
}
