package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/raakeshmj/imagegate/internal/audit"
	"github.com/raakeshmj/imagegate/internal/auth"
	"github.com/raakeshmj/imagegate/internal/cache"
	"github.com/raakeshmj/imagegate/internal/config"
	"github.com/raakeshmj/imagegate/internal/gateway"
	"github.com/raakeshmj/imagegate/internal/limiter"
	"github.com/raakeshmj/imagegate/internal/metrics"
	"github.com/raakeshmj/imagegate/internal/middleware"
	"github.com/raakeshmj/imagegate/internal/service"
	"github.com/raakeshmj/imagegate/internal/store"
	"github.com/raakeshmj/imagegate/internal/token"
)

type Server struct {
	cfg      *config.Config
	log      zerolog.Logger
	router   chi.Router
	handler  http.Handler
	auditLog *audit.Logger
	registry *limiter.Registry
	limiter  *limiter.Limiter
	gateway  *gateway.Gateway
	authSvc  *service.AuthService
	metrics  *metrics.Metrics
	promReg  *prometheus.Registry

	memStore    *limiter.MemoryStore // nil when Redis is configured
	redisClient *redis.Client        // nil when the memory store is used
}

func New(cfg *config.Config, log zerolog.Logger) (*Server, error) {
	auditLog, err := audit.New(cfg.DataDir, audit.Options{
		MaxFileSize:   cfg.Rotation.MaxFileSize,
		Retention:     cfg.Rotation.Retention,
		CheckInterval: cfg.Rotation.Interval,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("init audit logger: %w", err)
	}

	s := &Server{
		cfg:      cfg,
		log:      log,
		auditLog: auditLog,
		registry: limiter.NewRegistry(limitClasses(cfg.Limits)),
	}

	var limStore limiter.Store
	if cfg.RedisAddr != "" {
		s.redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		limStore = limiter.NewRedisStore(s.redisClient)
	} else {
		s.memStore = limiter.NewMemoryStore()
		limStore = s.memStore
	}
	s.limiter = limiter.New(limStore, s.registry, log)

	s.promReg = prometheus.NewRegistry()
	s.promReg.MustRegister(collectors.NewGoCollector())
	s.promReg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	s.metrics = metrics.New(s.promReg)

	repo := store.NewMemory()
	sessions := auth.NewSessionManager(repo, auth.SessionTTL)
	s.authSvc = service.NewAuthService(repo, sessions)

	codec := token.NewCodec(cfg.JWTSecret, cfg.TokenTTL)
	tokenSvc := service.NewTokenService(codec, cache.NewTokenCache())

	s.gateway = gateway.New(cfg, codec, tokenSvc, s.authSvc, s.limiter, auditLog, s.metrics, log)

	s.router = chi.NewRouter()
	s.routes()
	s.handler = middleware.Chain(s.router,
		middleware.RequestID(),
		middleware.RequestLog(log),
		middleware.SecureHeaders(),
	)
	return s, nil
}

func (s *Server) routes() {
	s.router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	s.router.Method(http.MethodGet, "/metrics",
		promhttp.HandlerFor(s.promReg, promhttp.HandlerOpts{}))

	s.router.Group(func(r chi.Router) {
		r.Use(middleware.Instrument(s.metrics, "auth"))
		r.With(middleware.RateLimit(limiter.ClassLogin, s.limiter, s.auditLog, s.metrics)).
			Post("/api/auth/login", s.gateway.Login)
		r.With(middleware.RateLimit(limiter.ClassLogin, s.limiter, s.auditLog, s.metrics)).
			Post("/api/auth/register", s.gateway.Register)
		r.Post("/api/auth/logout", s.gateway.Logout)
	})

	s.router.Group(func(r chi.Router) {
		r.Use(middleware.Instrument(s.metrics, "tokens"))
		// Rate limiting happens inside the handlers: token endpoints
		// check their class budget before reading the body or the
		// session, so the client-observable order is stable.
		r.Post("/api/images/token", s.gateway.IssueToken)
		r.Post("/api/images/tokens", s.gateway.IssueTokenBatch)
	})

	s.router.Group(func(r chi.Router) {
		r.Use(middleware.Instrument(s.metrics, "images"))
		r.Get("/images/*", s.gateway.ServeImage)
	})

	s.router.Group(func(r chi.Router) {
		r.Use(middleware.Instrument(s.metrics, "admin"))
		r.Use(middleware.AdminAuth(s.cfg.AdminToken, s.auditLog))
		r.Use(middleware.RateLimit(limiter.ClassAPI, s.limiter, s.auditLog, s.metrics))
		r.Get("/api/admin/limits", s.ListLimits)
		r.Post("/api/admin/limits/reload", s.ReloadLimits)
	})
}

// Start runs the server until SIGINT/SIGTERM, then drains in-flight
// requests before returning.
func (s *Server) Start() error {
	srv := &http.Server{
		Addr:              s.cfg.ListenAddr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", s.cfg.ListenAddr).Msg("server starting")
		serverErrors <- srv.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)

	case sig := <-shutdown:
		s.log.Info().Str("signal", sig.String()).Msg("shutdown started")

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			srv.Close()
			return fmt.Errorf("could not stop server gracefully: %w", err)
		}
	}

	s.close()
	return nil
}

func (s *Server) close() {
	s.auditLog.Close()
	if s.memStore != nil {
		s.memStore.Close()
	}
	if s.redisClient != nil {
		s.redisClient.Close()
	}
}

// Handler exposes the fully composed stack for tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

func limitClasses(l config.LimitsConfig) map[string]limiter.Config {
	return map[string]limiter.Config{
		limiter.ClassImage:      {MaxRequests: l.Image, Window: l.Window},
		limiter.ClassToken:      {MaxRequests: l.Token, Window: l.Window},
		limiter.ClassTokenBatch: {MaxRequests: l.TokenBatch, Window: l.Window},
		limiter.ClassAPI:        {MaxRequests: l.API, Window: l.Window},
		limiter.ClassLogin:      {MaxRequests: l.Login, Window: l.Window},
	}
}
