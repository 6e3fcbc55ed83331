// Package rest wires the HTTP surface: graph CRUD and traversal under
// /api/v1, the operational admin endpoints, health probes, and metrics.
package rest

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"meshmind-backend/interfaces/http/rest/handlers"
	"meshmind-backend/interfaces/http/rest/middleware"
	"meshmind-backend/pkg/observability"
	"meshmind-backend/pkg/ratelimit"
)

// Router creates and configures the HTTP router
type Router struct {
	graphHandler  *handlers.GraphHandler
	adminHandler  *handlers.AdminHandler
	healthHandler *handlers.HealthHandler
	limiter       *ratelimit.TokenBucketLimiter
	metrics       *observability.Collector
	logger        *zap.Logger
}

// NewRouter creates a new router instance
func NewRouter(
	graphHandler *handlers.GraphHandler,
	adminHandler *handlers.AdminHandler,
	healthHandler *handlers.HealthHandler,
	limiter *ratelimit.TokenBucketLimiter,
	metrics *observability.Collector,
	logger *zap.Logger,
) *Router {
	return &Router{
		graphHandler:  graphHandler,
		adminHandler:  adminHandler,
		healthHandler: healthHandler,
		limiter:       limiter,
		metrics:       metrics,
		logger:        logger,
	}
}

// Setup configures all routes and middleware
func (rt *Router) Setup() http.Handler {
	router := chi.NewRouter()

	// Global middleware
	router.Use(chimiddleware.RequestID)
	router.Use(chimiddleware.RealIP)
	router.Use(chimiddleware.Recoverer)
	router.Use(middleware.Logger(rt.logger))

	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID", middleware.TenantHeader},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Probes and metrics stay outside tenant resolution
	router.Get("/health/live", rt.healthHandler.Live)
	router.Get("/health/ready", rt.healthHandler.Ready)
	if rt.metrics != nil {
		router.Method(http.MethodGet, "/metrics",
			promhttp.HandlerFor(rt.metrics.GetRegistry(), promhttp.HandlerOpts{}))
	}

	// Graph API
	router.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.ResolveTenant(rt.logger))
		if rt.limiter != nil {
			r.Use(middleware.RateLimit(rt.limiter))
		}

		r.Route("/nodes", func(r chi.Router) {
			r.Post("/", rt.graphHandler.CreateNode)
			r.Get("/", rt.graphHandler.ListNodes)
			r.Get("/{nodeID}", rt.graphHandler.GetNode)
			r.Put("/{nodeID}", rt.graphHandler.UpdateNode)
			r.Delete("/{nodeID}", rt.graphHandler.DeleteNode)
			r.Get("/{nodeID}/related", rt.graphHandler.FindRelated)
			r.Get("/{nodeID}/entities", rt.graphHandler.NodeEntities)
		})

		r.Route("/edges", func(r chi.Router) {
			r.Post("/", rt.graphHandler.CreateEdge)
			r.Get("/", rt.graphHandler.EdgesBetween)
		})

		r.Get("/paths", rt.graphHandler.ShortestPath)
		r.Post("/entities", rt.graphHandler.CreateEntity)
		r.Post("/entity-edges", rt.graphHandler.CreateEntityEdge)
		r.Post("/batch", rt.graphHandler.ApplyBatch)

		r.Route("/admin", func(r chi.Router) {
			r.Post("/snapshots", rt.adminHandler.ExportSnapshot)
			r.Get("/snapshots", rt.adminHandler.ListSnapshots)
			r.Post("/restore", rt.adminHandler.Restore)
			r.Post("/integrity/scan", rt.adminHandler.ScanIntegrity)
			r.Get("/stats", rt.healthHandler.Stats)
		})
	})

	return router
}
