package api

import (
	"context"
	"crypto/tls"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/org/assetgate/internal/audit"
	"github.com/org/assetgate/internal/auth"
	"github.com/org/assetgate/internal/engine"
	"github.com/org/assetgate/internal/policy"
	"github.com/org/assetgate/internal/storage"
	"github.com/org/assetgate/internal/whitelist"
	"github.com/org/assetgate/pkg/models"
	"github.com/rs/zerolog/log"
)

// Config holds server configuration.
type Config struct {
	ListenAddr     string
	TLSCertFile    string
	TLSKeyFile     string
	RateLimitRPS   int
	RateLimitBurst int
}

// Server is the API server.
type Server struct {
	store     storage.Backend
	tokens    *auth.TokenService
	policies  *policy.Service
	whitelist *whitelist.Registry
	evaluator *engine.Evaluator
	auditor   *audit.Recorder
	cfg       Config
	httpSrv   *http.Server
}

// NewServer creates a fully wired Server.
func NewServer(store storage.Backend, cfg Config) *Server {
	auditor := audit.NewRecorder(store)
	return &Server{
		store:     store,
		tokens:    auth.NewTokenService(store),
		policies:  policy.NewService(store, auditor),
		whitelist: whitelist.NewRegistry(store, auditor),
		evaluator: engine.NewEvaluator(store, auditor),
		auditor:   auditor,
		cfg:       cfg,
	}
}

// Bootstrap creates the initial management token when none exists.
// Returns its plaintext (shown once), or "" when tokens already exist.
func (s *Server) Bootstrap(ctx context.Context) (string, error) {
	return s.tokens.Bootstrap(ctx)
}

// BuildRouter wires up all routes and returns a chi router.
func (s *Server) BuildRouter() http.Handler {
	r := chi.NewRouter()

	rps := s.cfg.RateLimitRPS
	if rps <= 0 {
		rps = 100
	}
	burst := s.cfg.RateLimitBurst
	if burst <= 0 {
		burst = 200
	}

	// Global middleware
	r.Use(chimiddleware.Recoverer)
	r.Use(requestIDMiddleware)
	r.Use(metricsMiddleware)
	r.Use(newRateLimiter(rps, burst).middleware)

	// Prometheus metrics (unauthenticated)
	r.Handle("/metrics", MetricsHandler())

	// Public routes (no auth required)
	r.Group(func(r chi.Router) {
		r.Get("/v1/sys/health", s.HealthHandler)
	})

	// Authenticated routes
	r.Group(func(r chi.Router) {
		r.Use(authMiddleware(s.tokens))

		// Decision endpoints (validate capability suffices)
		r.Post("/v1/validate", s.ValidateHandler)
		r.Post("/v1/preview", s.PreviewHandler)

		// Reads
		r.Get("/v1/policy/{asset}", s.PolicyListHandler)
		r.Get("/v1/policy/{asset}/{opType}", s.PolicyReadHandler)
		r.Get("/v1/whitelist/{asset}/{opType}", s.WhitelistListHandler)
		r.Get("/v1/whitelist/{asset}/{opType}/{id}", s.WhitelistMemberHandler)

		// Management-only
		r.Group(func(r chi.Router) {
			r.Use(requireCapability(models.CapManagement))

			r.Post("/v1/policy/{asset}/{opType}", s.PolicyCreateHandler)
			r.Patch("/v1/policy/{asset}/{opType}", s.PolicyUpdateHandler)
			r.Put("/v1/policy/{asset}/{opType}/window", s.PolicyWindowHandler)
			r.Post("/v1/policy/{asset}/{opType}/whitelist/require", s.WhitelistRequireHandler)

			r.Post("/v1/whitelist/{asset}/{opType}", s.WhitelistAddHandler)
			r.Post("/v1/whitelist/{asset}/{opType}/batch", s.WhitelistAddBatchHandler)
			r.Delete("/v1/whitelist/{asset}/{opType}/{id}", s.WhitelistRemoveHandler)

			r.Get("/v1/audit/events", s.AuditEventsHandler)

			r.Post("/v1/auth/token/create", s.TokenCreateHandler)
			r.Post("/v1/auth/token/revoke", s.TokenRevokeHandler)
		})
	})

	return r
}

// Start begins listening on the configured address.
func (s *Server) Start() error {
	handler := s.BuildRouter()

	s.httpSrv = &http.Server{
		Addr:         s.cfg.ListenAddr,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	if s.cfg.TLSCertFile != "" && s.cfg.TLSKeyFile != "" {
		tlsCfg := &tls.Config{
			MinVersion: tls.VersionTLS12,
			CurvePreferences: []tls.CurveID{
				tls.CurveP256,
				tls.X25519,
			},
		}
		s.httpSrv.TLSConfig = tlsCfg
		log.Info().Str("addr", s.cfg.ListenAddr).Msg("starting HTTPS server")
		return s.httpSrv.ListenAndServeTLS(s.cfg.TLSCertFile, s.cfg.TLSKeyFile)
	}

	log.Info().Str("addr", s.cfg.ListenAddr).Msg("starting HTTP server")
	return s.httpSrv.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

// refreshGauges recomputes the store-derived gauges. Called after
// mutations that change the underlying counts.
func (s *Server) refreshGauges(ctx context.Context) {
	if n, err := s.store.CountPolicies(ctx); err == nil {
		policiesTotal.Set(float64(n))
	}
	if n, err := s.store.CountActiveTokens(ctx); err == nil {
		activeTokensTotal.Set(float64(n))
	}
}
