package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/DataConservancy/dcs-packaging-tool-sub000/internal/session"
	"github.com/DataConservancy/dcs-packaging-tool-sub000/internal/storage"
)

// Mounts carries the optional handlers mounted next to the tree routes.
type Mounts struct {
	// Events, if non-nil, is mounted at GET /events inside the auth group.
	Events http.Handler
	// Metrics, if non-nil, is mounted at GET /metrics outside the auth group.
	Metrics http.Handler
	// Exports, if non-nil, receives graph exports under /exports.
	Exports storage.Provider
}

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
func NewRouter(sess *session.Session, authEnabled bool, token string, m Mounts) chi.Router {
	h := NewHandler(sess)

	r := chi.NewRouter()
	if m.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", m.Metrics)
	}

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(authEnabled, token))

		r.Get("/tree", h.Tree)
		r.Get("/profile", h.Profile)
		r.Get("/validation", h.Validate)
		r.Post("/refresh", h.Refresh)
		r.Get("/graph", h.Graph)

		r.Route("/nodes/{id}", func(r chi.Router) {
			r.Get("/", h.GetNode)
			r.Get("/valid-types", h.ValidTypes)
			r.Put("/type", h.ChangeType)
			r.Put("/ignored", h.SetIgnored)
			r.Put("/properties", h.SetProperties)
			r.Post("/sub-types", h.AddSubType)
			r.Delete("/sub-types", h.RemoveSubType)
			r.Post("/combo", h.Split)
			r.Post("/collapse", h.Collapse)
			r.Post("/transforms", h.Transform)
			r.Post("/propagate", h.Propagate)
		})

		if m.Exports != nil {
			eh := NewExportHandler(sess, m.Exports)
			r.Get("/exports", eh.List)
			r.Post("/exports", eh.Create)
			r.Get("/exports/{filename}", eh.ServeFile)
			r.Delete("/exports/{filename}", eh.Delete)
		}

		if m.Events != nil {
			r.Get("/events", m.Events.ServeHTTP)
		}
	})

	return r
}
