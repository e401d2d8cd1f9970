package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/danmincu/pulstrate/engine/infra/monitoring"
	"github.com/danmincu/pulstrate/engine/infra/server/appstate"
	"github.com/danmincu/pulstrate/engine/infra/server/middleware/ratelimit"
	"github.com/danmincu/pulstrate/pkg/logger"
)

const (
	statusNotReady        = "not_ready"
	statusReady           = "ready"
	httpReadTimeout       = 15 * time.Second
	httpIdleTimeout       = 60 * time.Second
	serverShutdownTimeout = 5 * time.Second
)

// RateLimitConfig expresses the limit as requests per second with a burst
// allowance, the shape operators are used to configuring.
type RateLimitConfig struct {
	Enabled bool    `json:"enabled" yaml:"enabled" mapstructure:"enabled"`
	RPS     float64 `json:"rps"     yaml:"rps"     mapstructure:"rps"`
	Burst   int64   `json:"burst"   yaml:"burst"   mapstructure:"burst"`
}

// Config holds the HTTP server settings.
type Config struct {
	Host        string          `json:"host"         yaml:"host"         mapstructure:"host"`
	Port        int             `json:"port"         yaml:"port"         mapstructure:"port"`
	CORSEnabled bool            `json:"cors_enabled" yaml:"cors_enabled" mapstructure:"cors_enabled"`
	RateLimit   RateLimitConfig `json:"rate_limit"   yaml:"rate_limit"   mapstructure:"rate_limit"`
}

// FullAddress returns the host:port string the listener binds to.
func (c *Config) FullAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Server wires the gin router, middleware stack, and HTTP listener around an
// already-assembled application state.
type Server struct {
	config      *Config
	state       *appstate.State
	monitoring  *monitoring.Service
	redisClient *redis.Client
	router      *gin.Engine
	httpServer  *http.Server
}

// New builds the router and middleware chain up front so configuration errors
// surface before the listener starts. The redis client is optional; when
// present it backs the rate limiter store so limits hold across replicas.
func New(
	ctx context.Context,
	cfg *Config,
	state *appstate.State,
	monitoringSvc *monitoring.Service,
	redisClient *redis.Client,
) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("server config is required")
	}
	if state == nil {
		return nil, fmt.Errorf("app state is required")
	}
	s := &Server{
		config:      cfg,
		state:       state,
		monitoring:  monitoringSvc,
		redisClient: redisClient,
	}
	router, err := s.buildRouter(ctx)
	if err != nil {
		return nil, err
	}
	s.router = router
	return s, nil
}

// Router exposes the configured engine for tests and embedding.
func (s *Server) Router() *gin.Engine {
	return s.router
}

func (s *Server) buildRouter(ctx context.Context) (*gin.Engine, error) {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	if err := s.applyRateLimit(ctx, router); err != nil {
		return nil, err
	}
	if s.monitoring != nil {
		router.Use(s.monitoring.GinMiddleware(ctx))
	}
	router.Use(LoggerMiddleware(logger.FromContext(ctx)))
	if s.config.CORSEnabled {
		router.Use(CORSMiddleware())
	}
	router.Use(appstate.StateMiddleware(s.state))
	if s.monitoring != nil && s.monitoring.IsInitialized() {
		router.GET(s.monitoring.Path(), gin.WrapH(s.monitoring.ExporterHandler()))
	}
	if err := RegisterRoutes(ctx, router, s.state); err != nil {
		return nil, fmt.Errorf("failed to register routes: %w", err)
	}
	return router, nil
}

func (s *Server) applyRateLimit(ctx context.Context, router *gin.Engine) error {
	if !s.config.RateLimit.Enabled {
		return nil
	}
	rlConfig, err := convertRateLimitConfig(&s.config.RateLimit)
	if err != nil {
		return err
	}
	var manager *ratelimit.Manager
	if s.monitoring != nil && s.monitoring.IsInitialized() {
		manager, err = ratelimit.NewManagerWithMetrics(ctx, rlConfig, s.redisClient, s.monitoring.Meter())
	} else {
		manager, err = ratelimit.NewManager(rlConfig, s.redisClient)
	}
	if err != nil {
		return fmt.Errorf("failed to create rate limit manager: %w", err)
	}
	router.Use(manager.Middleware())
	return nil
}

// convertRateLimitConfig maps the rps/burst knobs onto the limiter's
// period/limit model: a full burst refills over burst/rps seconds.
func convertRateLimitConfig(rl *RateLimitConfig) (*ratelimit.Config, error) {
	if rl.RPS <= 0 {
		return nil, fmt.Errorf("rate limit rps must be positive")
	}
	if rl.Burst <= 0 {
		return nil, fmt.Errorf("rate limit burst must be positive")
	}
	cfg := ratelimit.DefaultConfig()
	cfg.GlobalRate = ratelimit.RateConfig{
		Period: time.Duration(float64(rl.Burst) / rl.RPS * float64(time.Second)),
		Limit:  rl.Burst,
	}
	return cfg, nil
}

// Run serves HTTP until the context is canceled, then drains in-flight
// requests before returning.
func (s *Server) Run(ctx context.Context) error {
	log := logger.FromContext(ctx)
	s.httpServer = &http.Server{
		Addr:        s.config.FullAddress(),
		Handler:     s.router,
		ReadTimeout: httpReadTimeout,
		// WriteTimeout stays zero so event streams can outlive slow tasks.
		WriteTimeout: 0,
		IdleTimeout:  httpIdleTimeout,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		log.Info("Starting HTTP server", "address", s.config.FullAddress())
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		return s.shutdown(log)
	})
	return group.Wait()
}

func (s *Server) shutdown(log logger.Logger) error {
	log.Info("Shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), serverShutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown failed: %w", err)
	}
	return nil
}
