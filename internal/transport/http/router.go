// Package httptransport assembles the HTTP surface: middleware, health and
// metrics endpoints, and the per-domain handlers.
package httptransport

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"attesto/pkg/platform/httputil"
)

// Registrar is implemented by per-domain handlers that mount their routes.
type Registrar interface {
	Register(r chi.Router)
}

// NewRouter wires middleware and mounts every handler.
func NewRouter(handlers ...Registrar) http.Handler {
	r := chi.NewRouter()
	r.Use(RequestContext)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	for _, h := range handlers {
		h.Register(r)
	}
	return r
}
