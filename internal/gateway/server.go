package gateway

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// buildRouter constructs the chi mux with every spec §6 route wired.
// The Auth Gate middleware wraps the whole router — CheckAuthGate
// itself honors the configured exempt-paths list, so public endpoints
// like /health are listed there in config rather than routed outside
// the middleware group.
func (g *Gateway) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(g.authMiddleware())

	r.Get("/health", g.handleHealth())

	r.Post("/v1/messages", g.handleMessages())
	r.Post("/v1/messages/count_tokens", g.handleCountTokens())

	r.Get("/providers", g.handleListProviders())
	r.Post("/providers/reload", g.handleReloadProviders())

	r.Route("/oauth", func(r chi.Router) {
		r.Get("/status", g.handleOAuthStatus())
		r.Post("/exchange-code", g.handleOAuthExchangeCode())
		r.Post("/refresh-token", g.handleOAuthRefreshToken())
		r.Delete("/tokens/{email}", g.handleOAuthDeleteToken())
		r.Delete("/tokens", g.handleOAuthClearTokens())
	})

	if g.metrics != nil {
		r.Handle("/metrics", g.metrics.Handler())
	}

	return r
}
