package router

import (
	"net/http"

	"github.com/fasthttp/router"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
	"github.com/valyala/fasthttp/pprofhandler"

	apiHandler "github.com/fastygo/planner/api/handler"
)

type Handlers struct {
	Task        *apiHandler.TaskHandler
	Plan        *apiHandler.PlanHandler
	Event       *apiHandler.EventHandler
	Constraints *apiHandler.ConstraintsHandler
	Changes     *apiHandler.ChangesHandler
	Health      *apiHandler.HealthHandler

	// Metrics is served unauthenticated when set.
	Metrics http.Handler
	Pprof   bool
}

func New(handlers Handlers, authMiddleware func(fasthttp.RequestHandler) fasthttp.RequestHandler) *router.Router {
	r := router.New()

	r.GET("/health", handlers.Health.Check)
	if handlers.Metrics != nil {
		r.GET("/metrics", fasthttpadaptor.NewFastHTTPHandler(handlers.Metrics))
	}
	if handlers.Pprof {
		r.GET("/debug/pprof/{profile:*}", pprofhandler.PprofHandler)
	}

	api := r.Group("/api/v1")

	api.GET("/tasks", authMiddleware(handlers.Task.GetTasks))
	api.POST("/tasks", authMiddleware(handlers.Task.CreateTask))
	api.GET("/tasks/order", authMiddleware(handlers.Task.Order))
	api.GET("/tasks/{id}", authMiddleware(handlers.Task.GetTask))
	api.PATCH("/tasks/{id}", authMiddleware(handlers.Task.UpdateTask))
	api.DELETE("/tasks/{id}", authMiddleware(handlers.Task.DeleteTask))
	api.GET("/tasks/{id}/tree", authMiddleware(handlers.Task.Tree))
	api.GET("/tasks/{id}/blocked", authMiddleware(handlers.Task.Blocked))
	api.POST("/tasks/{id}/parent", authMiddleware(handlers.Task.Reparent))
	api.POST("/tasks/{id}/promote", authMiddleware(handlers.Task.Promote))
	api.POST("/tasks/{id}/dependencies", authMiddleware(handlers.Task.AddDependency))
	api.DELETE("/tasks/{id}/dependencies/{dep}", authMiddleware(handlers.Task.RemoveDependency))

	api.GET("/plans", authMiddleware(handlers.Plan.ListPlans))
	api.POST("/plans", authMiddleware(handlers.Plan.CreatePlan))
	api.GET("/plans/active", authMiddleware(handlers.Plan.ActivePlan))
	api.GET("/plans/history", authMiddleware(handlers.Plan.History))
	api.GET("/plans/reschedule", authMiddleware(handlers.Plan.RescheduleStatus))
	api.POST("/plans/reschedule", authMiddleware(handlers.Plan.RequestReschedule))
	api.GET("/plans/{id}", authMiddleware(handlers.Plan.GetPlan))
	api.DELETE("/plans/{id}", authMiddleware(handlers.Plan.DiscardPlan))
	api.GET("/plans/{id}/tasks", authMiddleware(handlers.Plan.PlanTasks))
	api.GET("/plans/{id}/stats", authMiddleware(handlers.Plan.Stats))
	api.POST("/plans/{id}/apply", authMiddleware(handlers.Plan.ApplyPlan))
	api.POST("/plans/{id}/revert", authMiddleware(handlers.Plan.RevertPlan))

	api.GET("/events", authMiddleware(handlers.Event.ListEvents))
	api.POST("/events", authMiddleware(handlers.Event.CreateEvent))
	api.GET("/events/{id}", authMiddleware(handlers.Event.GetEvent))
	api.DELETE("/events/{id}", authMiddleware(handlers.Event.DeleteEvent))
	api.POST("/events/{id}/move", authMiddleware(handlers.Event.MoveEvent))
	api.POST("/events/{id}/split", authMiddleware(handlers.Event.SplitEvent))
	api.POST("/events/{id}/complete", authMiddleware(handlers.Event.CompleteEvent))
	api.POST("/events/{id}/override", authMiddleware(handlers.Event.OverrideEvent))

	api.GET("/focus-blocks", authMiddleware(handlers.Constraints.FocusBlocks))
	api.PUT("/focus-blocks", authMiddleware(handlers.Constraints.SaveFocusBlocks))
	api.GET("/availability", authMiddleware(handlers.Constraints.Availability))
	api.PUT("/availability", authMiddleware(handlers.Constraints.SaveAvailability))

	api.GET("/changes", authMiddleware(handlers.Changes.Stream))

	return r
}
