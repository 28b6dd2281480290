package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/lorawan-server/field-tester-server/internal/auth"
	"github.com/lorawan-server/field-tester-server/internal/config"
	"github.com/lorawan-server/field-tester-server/internal/envelope"
	"github.com/lorawan-server/field-tester-server/internal/service"
	"github.com/lorawan-server/field-tester-server/internal/storage"
	"github.com/lorawan-server/field-tester-server/internal/validation"
)

type contextKey string

const claimsKey contextKey = "claims"

// RESTServer represents the REST API server
type RESTServer struct {
	config     *config.Config
	store      storage.Store
	auth       *auth.JWTManager
	validator  *validation.Validator
	processors map[envelope.Type]*service.Processor
	router     chi.Router
	server     *http.Server
}

// NewRESTServer creates a new REST API server. The store is nil when fix
// storage is disabled.
func NewRESTServer(cfg *config.Config, store storage.Store) *RESTServer {
	s := &RESTServer{
		config:     cfg,
		store:      store,
		auth:       auth.NewJWTManager(&cfg.JWT),
		validator:  validation.NewValidator(),
		processors: make(map[envelope.Type]*service.Processor),
		router:     chi.NewRouter(),
	}

	for _, t := range envelope.Types {
		env, err := envelope.New(t)
		if err != nil {
			log.Fatal().Err(err).Str("envelope", string(t)).Msg("api: create envelope")
		}
		s.processors[t] = service.NewProcessor(env, store)
	}

	s.setupRoutes()

	s.server = &http.Server{
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// setupRoutes configures all routes
func (s *RESTServer) setupRoutes() {
	// Middleware
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(60 * time.Second))

	// CORS
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.config.API.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", webhookKeyHeader},
		MaxAge:         300,
	}))

	s.router.Handle("/metrics", promhttp.Handler())

	// API routes
	s.router.Route("/api/v1", func(r chi.Router) {
		s.setupAPIRoutes(r)
	})
}

// Handler returns the router, for serving without ListenAndServe
func (s *RESTServer) Handler() http.Handler {
	return s.router
}

// ListenAndServe starts the server
func (s *RESTServer) ListenAndServe(addr string) error {
	s.server.Addr = addr

	log.Info().Str("addr", addr).Msg("Starting REST API server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *RESTServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// authMiddleware is the authentication middleware
func (s *RESTServer) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Get token from header
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			s.respondError(w, http.StatusUnauthorized, "missing authorization header")
			return
		}

		// Parse Bearer token
		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			s.respondError(w, http.StatusUnauthorized, "invalid authorization header")
			return
		}

		// Validate token
		claims, err := s.auth.ValidateToken(parts[1])
		if err != nil {
			s.respondError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		if claims.Scope != auth.ScopeFixesRead {
			s.respondError(w, http.StatusForbidden, "insufficient scope")
			return
		}

		// Add claims to context
		ctx := context.WithValue(r.Context(), claimsKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// webhookKeyMiddleware checks the webhook key when a key hash is configured
func (s *RESTServer) webhookKeyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hash := s.config.API.WebhookKeyHash
		if hash == "" {
			next.ServeHTTP(w, r)
			return
		}

		key := r.Header.Get(webhookKeyHeader)
		if key == "" {
			s.respondError(w, http.StatusUnauthorized, "missing webhook key")
			return
		}
		if !auth.VerifyWebhookKey(key, hash) {
			s.respondError(w, http.StatusUnauthorized, "invalid webhook key")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// storeMiddleware rejects requests when fix storage is disabled
func (s *RESTServer) storeMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.store == nil {
			s.respondError(w, http.StatusServiceUnavailable, "fix storage is disabled")
			return
		}
		next.ServeHTTP(w, r)
	})
}
