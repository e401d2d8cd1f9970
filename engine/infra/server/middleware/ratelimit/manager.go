package ratelimit

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	redisstore "github.com/ulule/limiter/v3/drivers/store/redis"
	"go.opentelemetry.io/otel/metric"

	"github.com/danmincu/pulstrate/pkg/logger"
)

// Manager owns the limiter store and hands out the gin middleware.
type Manager struct {
	config  *Config
	limiter *limiter.Limiter
}

// NewManager creates a manager backed by Redis when a client is provided and
// by an in-memory store otherwise.
func NewManager(cfg *Config, redisClient *redis.Client) (*Manager, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid rate limit config: %w", err)
	}
	var store limiter.Store
	if redisClient != nil {
		redisStore, err := redisstore.NewStoreWithOptions(redisClient, limiter.StoreOptions{
			Prefix:   cfg.Prefix,
			MaxRetry: cfg.MaxRetry,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create redis rate limit store: %w", err)
		}
		store = redisStore
	} else {
		store = memory.NewStore()
	}
	return &Manager{
		config:  cfg,
		limiter: limiter.New(store, cfg.GlobalRate.ToLimiterRate()),
	}, nil
}

// NewManagerWithMetrics creates a manager and registers its block counter on
// the given meter.
func NewManagerWithMetrics(
	ctx context.Context,
	cfg *Config,
	redisClient *redis.Client,
	meter metric.Meter,
) (*Manager, error) {
	manager, err := NewManager(cfg, redisClient)
	if err != nil {
		return nil, err
	}
	if meter != nil {
		if err := InitMetrics(meter); err != nil {
			logger.FromContext(ctx).Warn("Failed to initialize rate limit metrics", "error", err)
		}
	}
	return manager, nil
}
