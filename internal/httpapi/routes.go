package httpapi

import (
	"net/http"

	"github.com/adred-codev/ws_poc/internal/metrics"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func newRouter(s *Server) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(recoverPanic(s.Logger))
	r.Use(requestLogging(s.Logger))
	r.Use(securityHeaders)

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", metrics.Handler())
	r.Post("/internal/broadcast/{gatewayId}", s.handleInternalBroadcast)

	r.Route("/v1", func(r chi.Router) {
		r.Use(requireAuth(s.Verifier))

		r.Route("/sync/{gatewayId}", func(r chi.Router) {
			r.Post("/push", s.handlePush)
			r.Get("/pull", s.handlePull)
			r.Get("/checkpoint", s.handleCheckpoint)
			r.Get("/ws", s.handleWS)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(requireRole("admin"))
			r.Post("/flush/{gatewayId}", s.handleAdminFlush)
			r.Post("/schema/{gatewayId}", s.handleAdminSchema)
			r.Post("/sync-rules/{gatewayId}", s.handleAdminSyncRules)
		})
	})

	// Legacy routes predate the /v1 prefix; redirect permanently.
	r.Get("/sync/{gatewayId}/pull", legacyRedirect)
	r.Post("/sync/{gatewayId}/push", legacyRedirect)
	r.Get("/sync/{gatewayId}/checkpoint", legacyRedirect)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, struct {
			Error string `json:"error"`
		}{Error: "not found"})
	})

	return r
}

func legacyRedirect(w http.ResponseWriter, r *http.Request) {
	target := "/v1" + r.URL.Path
	if r.URL.RawQuery != "" {
		target += "?" + r.URL.RawQuery
	}
	http.Redirect(w, r, target, http.StatusMovedPermanently)
}
