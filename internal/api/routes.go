package api

import (
	"github.com/go-chi/chi/v5"
)

// setupAPIRoutes sets up API v1 routes
func (s *RESTServer) setupAPIRoutes(r chi.Router) {
	// Health check
	r.Get("/health", s.HandleHealth)
	r.Get("/", s.HandleRoot)

	// Decoder over HTTP, raw envelope
	r.Post("/process", s.HandleProcess)

	// Network server webhooks
	r.Route("/webhooks", func(r chi.Router) {
		r.Use(s.webhookKeyMiddleware)
		r.Post("/tts", s.HandleTTSWebhook)
		r.Post("/chirpstack", s.HandleChirpStackWebhook)
	})

	// Stored fixes
	r.Route("/fixes", func(r chi.Router) {
		r.Use(s.storeMiddleware)
		r.Use(s.authMiddleware)
		r.Get("/", s.HandleListFixes)
		r.Get("/{id}", s.HandleGetFix)
	})
}
