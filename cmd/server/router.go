package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/promptops/dispatch-api/internal/api"
	apiMiddleware "github.com/promptops/dispatch-api/internal/api/middleware"
)

// setupRouter creates the control-plane router with all routes and
// middleware. Everything except the liveness probe requires an operator
// bearer token.
func (app *application) setupRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(apiMiddleware.TraceMiddleware)

	taskHandler := api.NewTaskHandler(app.manager)
	submissionHandler := api.NewLoopHandler("submission", app.submissionLoop)
	pollingHandler := api.NewLoopHandler("polling", app.pollingLoop)
	consistencyHandler := api.NewConsistencyHandler(app.checker)
	recoveryHandler := api.NewRecoveryHandler(app.engine)
	healthHandler := api.NewHealthHandler(app.monitors)
	authMiddleware := apiMiddleware.NewAuthMiddleware(app.tokenService)

	// Liveness probe (public)
	r.Get("/healthz", api.Liveness)

	// Operator control plane (protected)
	r.Group(func(r chi.Router) {
		r.Use(authMiddleware.Authenticate)

		r.Post("/tasks", taskHandler.CreateTask)
		r.Get("/tasks/{id}/status", taskHandler.GetStatus)
		r.Post("/tasks/{id}/transition", taskHandler.Transition)
		r.Get("/tasks/counts", taskHandler.StatusCounts)
		r.Get("/tasks/transitions/stats", taskHandler.TransitionStats)
		r.Get("/tasks/transitions/paths", taskHandler.TransitionPaths)

		r.Post("/tasks/submission/enable", submissionHandler.Enable)
		r.Post("/tasks/submission/disable", submissionHandler.Disable)
		r.Post("/tasks/submission/trigger", submissionHandler.Trigger)
		r.Post("/tasks/polling/enable", pollingHandler.Enable)
		r.Post("/tasks/polling/disable", pollingHandler.Disable)
		r.Post("/tasks/polling/trigger", pollingHandler.Trigger)

		r.Post("/tasks/consistency/check", consistencyHandler.Check)

		r.Post("/recovery/trigger", recoveryHandler.Trigger)
		r.Get("/recovery/history", recoveryHandler.History)
		r.Post("/recovery/history/clear", recoveryHandler.ClearHistory)
		r.Get("/recovery/stats", recoveryHandler.Stats)
		r.Get("/recovery/configuration", recoveryHandler.Configuration)
		r.Post("/recovery/configuration", recoveryHandler.Configure)

		r.Get("/health/{resource}", healthHandler.Get)
		r.Post("/health/{resource}/check", healthHandler.Check)
		r.Post("/health/{resource}/reset", healthHandler.Reset)
	})

	return r
}
