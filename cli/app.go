package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/segmentio/ksuid"

	"github.com/danmincu/pulstrate/engine/executor"
	"github.com/danmincu/pulstrate/engine/executor/builtin"
	"github.com/danmincu/pulstrate/engine/group"
	"github.com/danmincu/pulstrate/engine/history"
	"github.com/danmincu/pulstrate/engine/infra/memstore"
	"github.com/danmincu/pulstrate/engine/infra/monitoring"
	"github.com/danmincu/pulstrate/engine/infra/postgres"
	"github.com/danmincu/pulstrate/engine/infra/server/appstate"
	"github.com/danmincu/pulstrate/engine/progress"
	"github.com/danmincu/pulstrate/engine/queue"
	"github.com/danmincu/pulstrate/engine/service"
	"github.com/danmincu/pulstrate/engine/streaming"
	"github.com/danmincu/pulstrate/engine/task"
	"github.com/danmincu/pulstrate/engine/worker"
	"github.com/danmincu/pulstrate/pkg/config"
	"github.com/danmincu/pulstrate/pkg/logger"
)

const redisPingTimeout = 5 * time.Second

// app holds the assembled engine the serve command runs.
type app struct {
	state      *appstate.State
	monitoring *monitoring.Service
	redis      *redis.Client
}

type cleanup func(context.Context)

// buildApp assembles the engine from configuration: repository, queue,
// event hub, history recorder, group registry, task service, and dispatcher.
// The returned cleanups must run in reverse order even when err is non-nil;
// partially built apps release what they acquired.
func buildApp(ctx context.Context, cfg *config.Config) (*app, []cleanup, error) {
	log := logger.FromContext(ctx)
	var cleanups []cleanup

	monitoringSvc := monitoring.NewMonitoringServiceWithFallback(ctx, &monitoring.Config{
		Enabled: cfg.Metrics.Enabled,
		Path:    cfg.Metrics.Path,
	})
	cleanups = append(cleanups, func(ctx context.Context) {
		if err := monitoringSvc.Shutdown(ctx); err != nil {
			logger.FromContext(ctx).Error("Failed to shut down monitoring", "error", err)
		}
	})

	redisClient, err := buildRedisClient(ctx, &cfg.Redis)
	if err != nil {
		return nil, cleanups, err
	}
	if redisClient != nil {
		cleanups = append(cleanups, func(ctx context.Context) {
			if err := redisClient.Close(); err != nil {
				logger.FromContext(ctx).Error("Failed to close redis client", "error", err)
			}
		})
	}

	repo, storeHealth, storeCleanups, err := buildRepository(ctx, cfg)
	cleanups = append(cleanups, storeCleanups...)
	if err != nil {
		return nil, cleanups, err
	}
	mutator := task.NewMutator(repo)

	var hub streaming.Hub
	if redisClient != nil {
		hub, err = streaming.NewRedisHub(redisClient)
		if err != nil {
			return nil, cleanups, fmt.Errorf("failed to create redis event hub: %w", err)
		}
	} else {
		hub = streaming.NewBroker(nil)
	}
	recorder, err := history.NewRecorder(hub, repo, &history.Config{
		Disabled:     !cfg.History.Enabled,
		TaskCapacity: cfg.History.TaskCapacity,
		RingSize:     cfg.History.RingSize,
	})
	if err != nil {
		return nil, cleanups, fmt.Errorf("failed to create history recorder: %w", err)
	}
	events := streaming.NewEvents(recorder)

	groups := group.NewRegistry(cfg.Engine.DefaultGroupParallelism)
	if err := groups.Seed(groupConfigs(cfg.Groups)); err != nil {
		return nil, cleanups, fmt.Errorf("failed to seed groups: %w", err)
	}

	q := queue.New()
	aggregator := progress.NewAggregator(repo, mutator, events)
	cancels := worker.NewCancelRegistry()
	svc, err := service.New(service.Options{
		Repo:       repo,
		Mutator:    mutator,
		Queue:      q,
		Events:     events,
		Aggregator: aggregator,
		Canceller:  cancels,
	})
	if err != nil {
		return nil, cleanups, err
	}

	executors := executor.NewRegistry()
	if err := builtin.Register(executors); err != nil {
		return nil, cleanups, fmt.Errorf("failed to register builtin executors: %w", err)
	}

	metrics, err := worker.NewMetrics(ctx, monitoringSvc.Meter())
	if err != nil {
		log.Warn("Worker metrics not initialized; continuing without them", "error", err)
		metrics = nil
	} else if err := metrics.ObserveQueueDepth(q); err != nil {
		log.Warn("Queue depth gauge not registered", "error", err)
	}

	dispatcher, err := worker.NewDispatcher(worker.Options{
		Repo:            repo,
		Mutator:         mutator,
		Queue:           q,
		Service:         svc,
		Executors:       executors,
		Gates:           worker.NewGates(groups),
		Cancels:         cancels,
		Events:          events,
		Aggregator:      aggregator,
		Metrics:         metrics,
		TaskTimeout:     cfg.Engine.DefaultTaskTimeout,
		PollInterval:    cfg.Engine.QueuePollInterval,
		ShutdownTimeout: cfg.Engine.ShutdownTimeout,
	})
	if err != nil {
		return nil, cleanups, err
	}
	if err := dispatcher.Start(ctx); err != nil {
		return nil, cleanups, err
	}
	cleanups = append(cleanups, func(ctx context.Context) {
		if err := dispatcher.Stop(ctx); err != nil {
			logger.FromContext(ctx).Error("Failed to stop dispatcher", "error", err)
		}
	})
	cleanups = append(cleanups, startHeartbeat(ctx, &cfg.Engine))

	deps := appstate.NewBaseDeps(svc, repo, recorder, recorder, groups, monitoringSvc, storeHealth)
	state, err := appstate.NewState(deps, dispatcher)
	if err != nil {
		return nil, cleanups, err
	}
	return &app{state: state, monitoring: monitoringSvc, redis: redisClient}, cleanups, nil
}

// buildRepository selects the task store backend. The memory driver needs no
// health probe; postgres runs its migrations before serving.
func buildRepository(ctx context.Context, cfg *config.Config) (task.Repository, appstate.HealthChecker, []cleanup, error) {
	switch cfg.Database.Driver {
	case "postgres":
		pgCfg := &postgres.Config{
			ConnString: cfg.Database.ConnString,
			Host:       cfg.Database.Host,
			Port:       cfg.Database.Port,
			User:       cfg.Database.User,
			Password:   cfg.Database.Password.Value(),
			DBName:     cfg.Database.DBName,
			SSLMode:    cfg.Database.SSLMode,
		}
		if err := postgres.ApplyMigrationsWithLock(ctx, pgCfg.DSN()); err != nil {
			return nil, nil, nil, fmt.Errorf("failed to apply migrations: %w", err)
		}
		store, err := postgres.NewStore(ctx, pgCfg)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}
		closer := func(ctx context.Context) {
			if err := store.Close(ctx); err != nil {
				logger.FromContext(ctx).Error("Failed to close postgres store", "error", err)
			}
		}
		return store.TaskRepo(), store, []cleanup{closer}, nil
	default:
		return memstore.NewStore(), nil, nil, nil
	}
}

// buildRedisClient returns nil when redis is disabled.
func buildRedisClient(ctx context.Context, cfg *config.RedisConfig) (*redis.Client, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	var opts *redis.Options
	if cfg.URL != "" {
		parsed, err := redis.ParseURL(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("invalid redis url: %w", err)
		}
		opts = parsed
	} else {
		opts = &redis.Options{
			Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
			Password: cfg.Password.Value(),
			DB:       cfg.DB,
		}
	}
	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

// startHeartbeat registers this dispatch loop for health tracking and beats
// until the context ends. The returned cleanup unregisters it.
func startHeartbeat(ctx context.Context, cfg *config.EngineConfig) cleanup {
	id := fmt.Sprintf("dispatcher-%s", ksuid.New().String())
	monitoring.RegisterDispatcher(ctx, id, cfg.DispatcherStaleThreshold)
	interval := cfg.DispatcherHeartbeatInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				monitoring.UpdateDispatcherHeartbeat(ctx, id)
			}
		}
	}()
	return func(ctx context.Context) {
		monitoring.UnregisterDispatcher(ctx, id)
	}
}

// runCleanups releases resources in reverse acquisition order, detached from
// the (likely cancelled) run context.
func runCleanups(ctx context.Context, cleanups []cleanup) {
	base := context.WithoutCancel(ctx)
	for i := len(cleanups) - 1; i >= 0; i-- {
		cleanups[i](base)
	}
}

// groupConfigs maps the configuration's group list onto registry entries.
func groupConfigs(groups []config.GroupConfig) []group.Config {
	configs := make([]group.Config, 0, len(groups))
	for _, g := range groups {
		configs = append(configs, group.Config{
			ID:             g.ID,
			Name:           g.Name,
			MaxParallelism: g.MaxParallelism,
		})
	}
	return configs
}
