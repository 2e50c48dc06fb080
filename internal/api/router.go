package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// wsHandler, if non-nil, is mounted at GET /events inside the auth group as
// an HTTP-side alias for the websocket channel.
func NewRouter(svc *Service, authEnabled bool, token string, wsHandler http.Handler) chi.Router {
	h := NewHandler(svc)
	ih := NewImageHandler(svc)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	// Subjects and their timeline slots.
	r.Get("/subjects", h.ListSubjects)
	r.Get("/subjects/{id}", h.GetSubject)
	r.Get("/subjects/{id}/slots", h.GetSlots)
	r.Get("/subjects/{id}/images/{age}", ih.ServeImage)
	r.Post("/subjects/{id}/export", h.ExportSubject)

	// Ingest ledger.
	r.Get("/ingests", h.ListIngests)

	// Websocket channel alias (protected by the same auth middleware).
	if wsHandler != nil {
		r.Get("/events", wsHandler.ServeHTTP)
	}

	return r
}
