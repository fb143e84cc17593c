package statusapi

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter builds the status API router; every route is registered under
// the /v1 prefix by the router itself.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(LoggingMiddleware)
	r.Use(middleware.Recoverer)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/status", h.Status)
		r.Get("/session", h.Session)
		r.Get("/changes/pending", h.PendingChanges)
		r.Get("/conflicts", h.Conflicts)
		r.Get("/events", h.Events)
	})

	return r
}
