package httpserver

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/wisbric/gatewayd/internal/config"
	"github.com/wisbric/gatewayd/internal/docs"
	"github.com/wisbric/gatewayd/internal/version"
)

// Server holds the HTTP server dependencies. DB and Redis are optional:
// a memory/filesystem-backed deployment runs with both nil, and readyz
// only pings the ones that are configured.
type Server struct {
	Router    *chi.Mux
	APIRouter chi.Router // mounted after auth middleware; domain handlers attach here
	Logger    *slog.Logger
	DB        *pgxpool.Pool
	Redis     *redis.Client
	Metrics   *prometheus.Registry
	startedAt time.Time
}

// NewServer creates an HTTP server with baseline middleware and the
// unauthenticated health/metrics/ping endpoints mounted. Callers mount
// pre-auth routes (token claim/lookup, public blob download, short-link
// redirect, SSE subscribe) directly on Router, then wrap and mount
// authenticated domain handlers on APIRouter.
func NewServer(cfg *config.Config, logger *slog.Logger, db *pgxpool.Pool, rdb *redis.Client, metricsReg *prometheus.Registry) *Server {
	s := &Server{
		Router:    chi.NewRouter(),
		Logger:    logger,
		DB:        db,
		Redis:     rdb,
		Metrics:   metricsReg,
		startedAt: time.Now(),
	}

	s.Router.Use(RequestID)
	s.Router.Use(Logger(logger))
	s.Router.Use(Metrics)
	s.Router.Use(middleware.Recoverer)
	s.Router.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.CORSAllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{
			"Accept", "Authorization", "Content-Type", "Content-Length",
			"X-Blob-Namespace", "X-Blob-Key", "X-Blob-Public", "X-Blob-Visibility",
			"X-Channel-Token", "X-Request-ID",
		},
		ExposedHeaders:   []string{"X-Request-ID", "Content-Length", "Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	s.Router.Use(privateNetworkAccess)

	s.Router.Get("/healthz", s.handleHealthz)
	s.Router.Get("/readyz", s.handleReadyz)
	s.Router.Get("/ping", s.handlePing)
	s.Router.Get("/openapi", docs.OpenAPISpecHandler())
	s.Router.Handle("/metrics", promhttp.HandlerFor(metricsReg, promhttp.HandlerOpts{}))

	return s
}

// privateNetworkAccess echoes Access-Control-Request-Private-Network on
// preflight so browsers permit requests from public pages to a
// localhost-addressed gateway, per the Private Network Access spec.
func privateNetworkAccess(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Private-Network") == "true" {
			w.Header().Set("Access-Control-Allow-Private-Network", "true")
		}
		next.ServeHTTP(w, r)
	})
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.Router.ServeHTTP(w, r)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	Respond(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handlePing(w http.ResponseWriter, _ *http.Request) {
	Respond(w, http.StatusOK, map[string]string{"status": "ok", "version": version.Version})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if s.DB != nil {
		if err := s.DB.Ping(ctx); err != nil {
			s.Logger.Error("readiness check: database ping failed", "error", err)
			Respond(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "reason": "database not ready"})
			return
		}
	}
	if s.Redis != nil {
		if err := s.Redis.Ping(ctx).Err(); err != nil {
			s.Logger.Error("readiness check: redis ping failed", "error", err)
			Respond(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "reason": "redis not ready"})
			return
		}
	}
	Respond(w, http.StatusOK, map[string]string{"status": "ready"})
}
