package journals

import "github.com/go-chi/chi/v5"

// MountRoutes registers journal endpoints.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/", h.create)
	r.Route("/{id}", func(r chi.Router) {
		r.Get("/", h.get)
		r.Put("/", h.update)
		r.Delete("/", h.delete)
		r.Post("/post", h.post)
		r.Post("/cancel", h.cancel)
		r.Post("/void", h.void)
	})
}
