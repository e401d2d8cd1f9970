package postgres

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/danmincu/pulstrate/pkg/logger"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	defaultMaxConns           = 20
	defaultMinConns           = 0
	defaultHealthCheckPeriod  = 30 * time.Second
	defaultConnectTimeout     = 5 * time.Second
	defaultPingTimeout        = 3 * time.Second
	defaultHealthCheckTimeout = 1 * time.Second
)

// Store is the concrete PostgreSQL driver backed by pgxpool.Pool.
// It intentionally does not leak pgx types through its public API.
type Store struct {
	pool               *pgxpool.Pool
	metrics            *poolMetrics
	healthCheckTimeout time.Duration
}

// NewStore initializes the pgx pool from the provided config and verifies the
// connection with a bounded ping before returning.
func NewStore(ctx context.Context, cfg *Config) (*Store, error) {
	if cfg == nil {
		return nil, fmt.Errorf("postgres: config is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("postgres: parse config: %w", err)
	}
	applyPoolSettings(cfg, poolCfg)
	metricsTracker, mErr := newPoolMetrics(cfg)
	if mErr != nil {
		logger.FromContext(ctx).Warn("Postgres pool metrics not initialized; continuing without them", "error", mErr)
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: new pool: %w", err)
	}
	if err := verifyConnection(ctx, pool, cfg.PingTimeout); err != nil {
		return nil, err
	}
	if metricsTracker != nil {
		metricsTracker.attach(pool)
	}
	healthCheckTimeout := cfg.HealthCheckTimeout
	if healthCheckTimeout <= 0 {
		healthCheckTimeout = defaultHealthCheckTimeout
	}
	logger.FromContext(ctx).With(
		"store_driver", "postgres",
		"host", cfg.Host,
		"port", cfg.Port,
		"db_name", cfg.DBName,
		"ssl_mode", cfg.SSLMode,
		"max_conns", poolCfg.MaxConns,
		"min_conns", poolCfg.MinConns,
	).Info("Store initialized")
	return &Store{pool: pool, metrics: metricsTracker, healthCheckTimeout: healthCheckTimeout}, nil
}

// Close shuts down the connection pool.
func (s *Store) Close(ctx context.Context) error {
	if s.metrics != nil {
		s.metrics.unregister()
	}
	s.pool.Close()
	logger.FromContext(ctx).Info("Postgres store closed")
	return nil
}

// Pool exposes the internal pool for driver-local usage. Do not export pgx
// types through higher layers; keep them local to the driver.
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

// TaskRepo returns the task repository backed by this store's pool.
func (s *Store) TaskRepo() *TaskRepo { return NewTaskRepo(s.pool) }

// HealthCheck verifies the connection is alive.
func (s *Store) HealthCheck(ctx context.Context) error {
	timeout := s.healthCheckTimeout
	if timeout <= 0 {
		timeout = defaultHealthCheckTimeout
	}
	hctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := s.pool.Ping(hctx); err != nil {
		return fmt.Errorf("postgres: health check failed: %w", err)
	}
	return nil
}

// applyPoolSettings copies pool tuning from cfg onto poolCfg, falling back to
// the package defaults for unset values.
func applyPoolSettings(cfg *Config, poolCfg *pgxpool.Config) {
	maxConns := int32(defaultMaxConns)
	if cfg.MaxConns > 0 {
		maxConns = clampToInt32(cfg.MaxConns)
	}
	minConns := int32(defaultMinConns)
	if cfg.MinConns > 0 {
		minConns = clampToInt32(cfg.MinConns)
	}
	if minConns > maxConns {
		minConns = maxConns
	}
	poolCfg.MaxConns = maxConns
	poolCfg.MinConns = minConns
	if cfg.HealthCheckPeriod > 0 {
		poolCfg.HealthCheckPeriod = cfg.HealthCheckPeriod
	} else {
		poolCfg.HealthCheckPeriod = defaultHealthCheckPeriod
	}
	if cfg.ConnectTimeout > 0 {
		poolCfg.ConnConfig.ConnectTimeout = cfg.ConnectTimeout
	} else {
		poolCfg.ConnConfig.ConnectTimeout = defaultConnectTimeout
	}
	if cfg.ConnMaxLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime
	}
	if cfg.ConnMaxIdleTime > 0 {
		poolCfg.MaxConnIdleTime = cfg.ConnMaxIdleTime
	}
}

func clampToInt32(value int) int32 {
	if value > math.MaxInt32 {
		return math.MaxInt32
	}
	return int32(value)
}

// verifyConnection pings the pool and cleans up on failure.
func verifyConnection(ctx context.Context, pool *pgxpool.Pool, pingTimeout time.Duration) error {
	if pingTimeout <= 0 {
		pingTimeout = defaultPingTimeout
	}
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return fmt.Errorf("postgres: ping: %w", err)
	}
	return nil
}
