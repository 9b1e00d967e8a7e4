// Package server exposes the guarded retrieval pipeline over HTTP: a query
// endpoint backed by the orchestrator and streaming synthesis adapter, and
// an admin surface over the tenant configuration store. The router is
// chi with the usual middleware stack (request id, real ip, request
// logging, recovery, CORS) plus health and readiness endpoints.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/knoguchi/rag/internal/audit"
	"github.com/knoguchi/rag/internal/auth"
	"github.com/knoguchi/rag/internal/metrics"
	"github.com/knoguchi/rag/internal/orchestrator"
	"github.com/knoguchi/rag/internal/synthesis"
	"github.com/knoguchi/rag/internal/tenantconfig"
)

// Config holds the HTTP server's own settings; collaborator wiring is
// passed separately to New.
type Config struct {
	Port           int
	AdminAPIKey    string
	AllowedOrigins []string
	Collection     string
	Logger         *slog.Logger
}

// Server wires the guarded retrieval pipeline onto an HTTP router.
type Server struct {
	http    *http.Server
	router  *chi.Mux
	log     *slog.Logger
	orch    *orchestrator.Orchestrator
	synth   *synthesis.Adapter
	jwt     *auth.JWTManager
	tc      *tenantconfig.Store
	audit   audit.Sink
	metrics *metrics.Collectors
	rolling metrics.RollingCounter
	coll    string
}

// WithRollingCounter attaches a per-tenant rolling request counter (Redis-
// backed or in-process; see internal/metrics.RollingCounter). Unset, query
// handling skips rolling-count tracking entirely.
func (s *Server) WithRollingCounter(rc metrics.RollingCounter) *Server {
	s.rolling = rc
	return s
}

// New builds a Server. metricsCollectors and auditSink may be nil, in which
// case metrics are not exposed and audit records are dropped.
func New(cfg Config, orch *orchestrator.Orchestrator, synth *synthesis.Adapter, jwtManager *auth.JWTManager, tc *tenantconfig.Store, auditSink audit.Sink, metricsCollectors *metrics.Collectors) *Server {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	if auditSink == nil {
		auditSink = audit.NoopSink{}
	}
	collection := cfg.Collection
	if collection == "" {
		collection = "documents"
	}

	s := &Server{
		log:     log,
		orch:    orch,
		synth:   synth,
		jwt:     jwtManager,
		tc:      tc,
		audit:   auditSink,
		metrics: metricsCollectors,
		coll:    collection,
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(requestLoggingMiddleware(log))
	router.Use(middleware.Recoverer)
	router.Use(corsMiddleware(cfg.AllowedOrigins))

	router.Get("/healthz", healthCheckHandler())
	router.Get("/readyz", readinessCheckHandler())
	if metricsCollectors != nil {
		router.Handle("/metrics", promhttp.Handler())
	}

	router.Group(func(r chi.Router) {
		r.Use(s.authenticate)
		r.Post("/v1/query", s.handleQuery)
	})

	router.Group(func(r chi.Router) {
		r.Use(auth.RequireAdminKey(cfg.AdminAPIKey))
		r.Get("/v1/admin/tenants/{tenantID}/config", s.handleGetTenantConfig)
		r.Put("/v1/admin/tenants/{tenantID}/config", s.handlePutTenantConfig)
		r.Post("/v1/admin/tenants/{tenantID}/config/reset", s.handleResetTenantConfig)
	})

	s.router = router
	s.http = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute, // streaming synthesis responses run long
		IdleTimeout:  120 * time.Second,
	}

	return s
}

// Router exposes the underlying chi router for tests.
func (s *Server) Router() *chi.Mux { return s.router }

// Start runs the HTTP server until it is shut down.
func (s *Server) Start() error {
	s.log.Info("starting HTTP server", "address", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("HTTP server error: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down HTTP server")
	if err := s.http.Shutdown(ctx); err != nil {
		return fmt.Errorf("HTTP server shutdown error: %w", err)
	}
	return nil
}

func requestLoggingMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Info("HTTP request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"remote_addr", r.RemoteAddr,
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}

func corsMiddleware(allowedOrigins []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			allowed := false
			if len(allowedOrigins) == 0 {
				allowed = true
				origin = "*"
			} else {
				for _, o := range allowedOrigins {
					if o == "*" || o == origin {
						allowed = true
						break
					}
				}
			}
			if allowed {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type, X-Request-ID, X-Admin-Key")
				w.Header().Set("Access-Control-Allow-Credentials", "true")
				w.Header().Set("Access-Control-Max-Age", "86400")
			}
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func healthCheckHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	}
}

func readinessCheckHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{"status": "ready"})
	}
}
