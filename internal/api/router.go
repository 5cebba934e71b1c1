package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewIngressRouter mounts the enqueue API. key, when non-empty, must be
// sent in KeyHeader on POST /notes.
func NewIngressRouter(h *IngressHandler, key string) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health", health("notesq-ingress"))
	r.With(KeyMiddleware(key)).Post("/notes", h.CreateNote)
	return r
}

// NewBridgeRouter mounts the host bridge. Every route except /health
// requires the bearer token.
func NewBridgeRouter(h *BridgeHandler, token string) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health", health("notesq-bridge"))
	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(true, token))
		r.Post("/create", h.Create)
	})
	return r
}
