package server

import (
	"context"

	"github.com/fulmenhq/gofulmen/signals"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/kektech/kektech/internal/appid"
	"github.com/kektech/kektech/internal/core"
	"github.com/kektech/kektech/internal/observability"
	"github.com/kektech/kektech/internal/server/handlers"
)

// registerRoutes registers all HTTP routes
func (s *Server) registerRoutes() {
	if s.health != nil {
		s.router.Get("/health", s.health.HealthHandler)
		s.router.Get("/health/live", s.health.LivenessHandler)
		s.router.Get("/health/ready", s.health.ReadinessHandler)
		s.router.Get("/health/startup", s.health.StartupHandler)
	}

	s.router.Get("/version", handlers.VersionHandler)

	s.router.Get("/metrics", MetricsHandler)

	if s.debug {
		s.router.Mount("/debug", middleware.Profiler())
	}

	if s.api != nil {
		s.registerAPI(s.api)
	}

	// Admin signal endpoint (optional, requires KEKTECH_ADMIN_TOKEN)
	s.registerAdminEndpoint()
}

// registerAPI mounts the quota-gated /api routes. Preflight consumes its own
// use-case quota, so it sits outside the api quota group.
func (s *Server) registerAPI(api *handlers.API) {
	s.router.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(RateLimit(api.Limiters.For(core.UseCaseAPI)))
			r.Get("/rankings", api.Rankings)
			r.Get("/nfts", api.Tokens)
			r.Get("/nfts/{tokenID}", api.Token)
		})

		r.With(RateLimit(api.Limiters.For(core.UseCaseRPC))).Post("/rpc", api.RPC)

		r.Post("/preflight/{useCase}", api.Preflight)
	})
}

// registerAdminEndpoint optionally registers the admin signal endpoint
func (s *Server) registerAdminEndpoint() {
	ctx := context.Background()
	adminToken := appid.Getenv(ctx, "ADMIN_TOKEN")
	logger := observability.ServerLogger

	if adminToken == "" {
		if logger != nil {
			logger.Debug("Admin signal endpoint disabled (no " + appid.EnvPrefix(ctx) + "ADMIN_TOKEN set)")
		}
		return
	}

	handler := signals.NewHTTPHandler(signals.HTTPConfig{
		TokenAuth: adminToken,
		RateLimit: 10,  // 10 requests per minute
		RateBurst: 5,   // burst size
		Manager:   nil, // use default global manager
	})

	s.router.Post("/admin/signal", handler.ServeHTTP)

	if logger != nil {
		logger.Info("Admin signal endpoint enabled",
			zap.String("path", "/admin/signal"),
			zap.String("auth", "bearer token"),
			zap.String("rate_limit", "10/min, burst 5"))
		logger.Warn("Admin endpoint enabled - ensure this server is not exposed to public internet")
	}
}
