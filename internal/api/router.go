package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(s.accessLog)
	r.Use(s.recoverJSON)
	r.Use(s.cors)
	r.Use(middleware.RequestSize(maxRequestBodySize))

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeNotFound(w, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, ErrCodeMethodNotAllow, "method not allowed")
	})

	if s.metrics != nil {
		r.Handle("/metrics", s.metrics)
	}
	if s.frontend != nil {
		r.Handle("/*", s.frontend)
	}

	r.Route("/api", func(r chi.Router) {
		// Unauthenticated
		r.Get("/health", s.handleHealth)
		r.HandleFunc("/webhook/{webhook_id}", s.handleWebhook)

		// The WebSocket authenticates inside the protocol.
		r.Get("/websocket", s.handleWebSocket)

		r.Group(func(r chi.Router) {
			r.Use(s.requireToken)

			r.Get("/", s.handleAPIStatus)
			r.Get("/config", s.handleConfig)

			r.Route("/states", func(r chi.Router) {
				r.Get("/", s.handleListStates)
				r.Get("/{entity_id}", s.handleGetState)
				r.Post("/{entity_id}", s.handleSetState)
				r.Delete("/{entity_id}", s.handleDeleteState)
			})

			r.Get("/services", s.handleListServices)
			r.Post("/services/{domain}/{service}", s.handleCallService)

			r.Get("/events", s.handleListEvents)
			r.Post("/events/{event_type}", s.handleFireEvent)

			r.Post("/template", s.handleRenderTemplate)

			r.Get("/history/period", s.handleHistory)
			r.Get("/history/period/{timestamp}", s.handleHistory)
			r.Get("/logbook", s.handleLogbook)
			r.Get("/logbook/{timestamp}", s.handleLogbook)

			r.Route("/config/automation/config/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetAutomationConfig)
				r.Post("/", s.handleSaveAutomationConfig)
				r.Delete("/", s.handleDeleteAutomationConfig)
			})
			r.Route("/config/scene/config/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetSceneConfig)
				r.Post("/", s.handleSaveSceneConfig)
				r.Delete("/", s.handleDeleteSceneConfig)
			})
		})
	})

	return r
}
