package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter wires the handlers. An empty origin list allows any origin.
func NewRouter(h *Handler, allowedOrigins []string) http.Handler {
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"*"},
	}))

	r.Get("/health", h.Health)

	r.Route("/api", func(r chi.Router) {
		r.Get("/trip", h.GetTrip)
		r.Post("/trip", h.StartTrip)
		r.Delete("/trip", h.StopTrip)
		r.Post("/trip/restart", h.RestartTrip)
		r.Get("/trip/route", h.GetRoute)

		r.Post("/positions", h.PostPosition)

		r.Get("/preferences", h.GetPreferences)
		r.Put("/preferences", h.PutPreferences)

		r.Get("/training-routes", h.ListTrainingRoutes)
		r.Get("/history", h.ListHistory)
		r.Get("/points", h.GetPoints)
	})
	return r
}
