package documents

import (
	"github.com/go-chi/chi/v5"
)

// MountRoutes registers document routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/documents", func(r chi.Router) {
		r.Get("/", h.list)
		r.Post("/", h.create)
		r.Post("/preview", h.preview)
		r.Get("/next-number", h.nextNumber)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.show)
			r.Patch("/", h.update)
			r.Delete("/", h.delete)
			r.Post("/duplicate", h.duplicate)
			r.Post("/status", h.changeStatus)
			r.Get("/pdf", h.pdf)
		})
	})
}
