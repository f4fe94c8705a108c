package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	apihttp "github.com/GriffinCanCode/AgentOS/fetchbridge/internal/api/http"
	"github.com/GriffinCanCode/AgentOS/fetchbridge/internal/api/middleware"
	"github.com/GriffinCanCode/AgentOS/fetchbridge/internal/api/ws"
	"github.com/GriffinCanCode/AgentOS/fetchbridge/internal/cookies"
	"github.com/GriffinCanCode/AgentOS/fetchbridge/internal/corsproxy"
	"github.com/GriffinCanCode/AgentOS/fetchbridge/internal/fetch"
	"github.com/GriffinCanCode/AgentOS/fetchbridge/internal/infrastructure/config"
	"github.com/GriffinCanCode/AgentOS/fetchbridge/internal/infrastructure/logging"
	"github.com/GriffinCanCode/AgentOS/fetchbridge/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/fetchbridge/internal/session"
	"github.com/GriffinCanCode/AgentOS/fetchbridge/internal/shared/paths"
)

// ShutdownTimeout bounds graceful shutdown.
const ShutdownTimeout = 10 * time.Second

// Server wraps the HTTP server and dependencies
type Server struct {
	router   *gin.Engine
	builder  *fetch.Builder
	sessions *session.Manager
	proxy    *corsproxy.Proxy
	jar      *cookies.Jar
	logger   *logging.Logger
	config   *config.Config
	metrics  *monitoring.Metrics
	stopRate func()

	closeOnce sync.Once
}

// New creates a new server instance
func New(cfg *config.Config) (*Server, error) {
	logger, err := newLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}

	logger.Info("Initializing fetch bridge",
		zap.String("host", cfg.Server.Host),
		zap.String("port", cfg.Server.Port),
	)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := monitoring.NewMetrics(registry)

	jar, err := openJar(cfg.Cookies, logger, metrics)
	if err != nil {
		return nil, err
	}

	builderOpts := []fetch.BuilderOption{
		fetch.WithUserAgent(cfg.Fetch.UserAgent),
		fetch.WithLogger(logger.Component("fetch")),
	}
	if jar != nil {
		builderOpts = append(builderOpts, fetch.WithCookieJar(jar))
	}
	builder := fetch.NewBuilder(builderOpts...)

	sessions := session.NewManager(builder,
		session.WithIdleTTL(cfg.Session.IdleTTL),
		session.WithLogger(logger.Component("session")),
		session.WithMetrics(metrics),
		session.WithFetchOptions(
			fetch.WithLimiter(outboundLimiter(cfg.Fetch)),
			fetch.WithChunkSize(cfg.Fetch.ChunkSize),
		),
	)

	proxy := corsproxy.New(
		corsproxy.WithLogger(logger.Component("corsproxy")),
		corsproxy.WithMetrics(metrics),
	)

	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(middleware.RequestLogger(logger.Component("http")))
	router.Use(monitoring.Middleware(metrics))
	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))

	stopRate := func() {}
	if cfg.RateLimit.Enabled {
		logger.Info("Rate limiting enabled",
			zap.Int("rps", cfg.RateLimit.RequestsPerSecond),
			zap.Int("burst", cfg.RateLimit.Burst),
		)
		limit, stop := middleware.RateLimit(middleware.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			Burst:             cfg.RateLimit.Burst,
		})
		router.Use(limit)
		stopRate = stop
	}

	handlers := apihttp.NewHandlers(sessions, jar)
	handlers.Register(router)

	wsHandler := ws.NewHandler(sessions,
		ws.WithLogger(logger.Component("ws")),
		ws.WithMetrics(metrics),
	)
	router.GET("/sessions/:sid/stream", wsHandler.HandleConnection)

	router.Any("/cors/proxy/*target", proxy.Handle)
	router.POST("/cors/cancel/:id", proxy.HandleCancel)

	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	logger.Info("Server initialized successfully")

	return &Server{
		router:   router,
		builder:  builder,
		sessions: sessions,
		proxy:    proxy,
		jar:      jar,
		logger:   logger,
		config:   cfg,
		metrics:  metrics,
		stopRate: stopRate,
	}, nil
}

// Handler returns the bridge's HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	addr := net.JoinHostPort(s.config.Server.Host, s.config.Server.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done, then shuts down gracefully. The
// server's resources are released before it returns.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info("Starting HTTP server", zap.String("addr", ln.Addr().String()))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		s.logger.Info("Shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()

		// Hijacked websocket connections are not tracked by Shutdown; closing
		// the sessions ends their streams.
		s.sessions.CloseAll()
		s.proxy.Close()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	})

	err := g.Wait()
	_ = s.Close()
	return err
}

// Close releases everything the server holds and flushes the cookie jar.
// A failed flush is logged, not returned. It is safe to call more than once.
func (s *Server) Close() error {
	s.closeOnce.Do(s.close)
	return nil
}

func (s *Server) close() {
	s.sessions.CloseAll()
	s.proxy.Close()
	s.stopRate()
	s.builder.CloseIdleConnections()

	if s.jar != nil {
		ctx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		if err := s.jar.Flush(ctx); err != nil {
			s.logger.Error("Failed to save cookie jar", zap.Error(err))
		}
	}
	_ = s.logger.Sync()
}

func newLogger(cfg config.LogConfig) (*logging.Logger, error) {
	logger, err := logging.New(logging.Config{
		Level:       cfg.Level,
		Development: cfg.Development,
		Components:  cfg.Components,
	})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	return logger, nil
}

// openJar returns nil when the jar is disabled.
func openJar(cfg config.CookieConfig, logger *logging.Logger, metrics *monitoring.Metrics) (*cookies.Jar, error) {
	if !cfg.Enabled {
		logger.Info("Cookie jar disabled")
		return nil, nil
	}
	path := cfg.Path
	if path == "" {
		var err error
		if path, err = paths.CookieJar(); err != nil {
			return nil, err
		}
	}
	logger.Info("Cookie jar", zap.String("path", path))
	return cookies.Open(path,
		cookies.WithLogger(logger.Component("cookies")),
		cookies.WithMetrics(metrics),
	), nil
}

// outboundLimiter returns an unlimited limiter when cfg sets no rate.
func outboundLimiter(cfg config.FetchConfig) *rate.Limiter {
	if cfg.RequestsPerSecond <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
}
