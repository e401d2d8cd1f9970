package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/danmincu/pulstrate/engine/infra/server"
	"github.com/danmincu/pulstrate/pkg/config"
	"github.com/danmincu/pulstrate/pkg/logger"
	"github.com/danmincu/pulstrate/pkg/version"
)

// ServeCmd returns the serve command that boots the engine and HTTP API.
func ServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "serve",
		Aliases: []string{"server", "start"},
		Short:   "Start the pulstrate server",
		Long:    "Start the task execution engine and its HTTP API.",
		RunE:    handleServeCmd,
	}

	defaults := config.Default()

	// Server configuration flags
	cmd.Flags().String("host", defaults.Server.Host, "Host to bind the server to")
	cmd.Flags().Int("port", defaults.Server.Port, "Port to run the server on")
	cmd.Flags().Bool("cors", defaults.Server.CORSEnabled, "Enable CORS")

	// Database configuration flags
	cmd.Flags().String("db-driver", defaults.Database.Driver, "Task store driver: memory or postgres")
	cmd.Flags().String("db-host", "", "Database host (env: PULSTRATE_DATABASE_HOST)")
	cmd.Flags().String("db-port", "", "Database port (env: PULSTRATE_DATABASE_PORT)")
	cmd.Flags().String("db-user", "", "Database user (env: PULSTRATE_DATABASE_USER)")
	cmd.Flags().String("db-password", "", "Database password (env: PULSTRATE_DATABASE_PASSWORD)")
	cmd.Flags().String("db-name", "", "Database name (env: PULSTRATE_DATABASE_NAME)")
	cmd.Flags().String("db-ssl-mode", "", "Database SSL mode (env: PULSTRATE_DATABASE_SSL_MODE)")
	cmd.Flags().String("db-conn-string", "", "Database connection string (env: PULSTRATE_DATABASE_CONN_STRING)")

	// Redis configuration flags
	cmd.Flags().Bool("redis", defaults.Redis.Enabled, "Enable the redis event hub and rate limit store")
	cmd.Flags().String("redis-url", "", "Redis connection URL (env: PULSTRATE_REDIS_URL)")

	// Logging configuration flags
	cmd.Flags().String("log-level", defaults.Logging.Level, "Log level (debug, info, warn, error)")
	cmd.Flags().Bool("log-json", defaults.Logging.JSON, "Output logs in JSON format")
	cmd.Flags().Bool("debug", false, "Enable debug mode (sets log level to debug)")

	cmd.PreRunE = func(cmd *cobra.Command, _ []string) error {
		debug, err := cmd.Flags().GetBool("debug")
		if err != nil {
			return fmt.Errorf("failed to get debug flag: %w", err)
		}
		if debug {
			return cmd.Flags().Set("log-level", "debug")
		}
		return nil
	}

	return cmd
}

func handleServeCmd(cmd *cobra.Command, _ []string) error {
	gin.SetMode(gin.ReleaseMode)
	if _, err := loadEnvFile(cmd); err != nil {
		return err
	}
	configFile, err := cmd.Flags().GetString("config")
	if err != nil {
		return fmt.Errorf("failed to get config flag: %w", err)
	}
	ctx := context.Background()
	manager := config.NewManager(config.NewService())
	cfg, err := manager.Load(ctx, buildConfigSources(cmd, configFile)...)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	log := logger.NewLogger(&logger.Config{
		Level: logger.LogLevel(cfg.Logging.Level),
		JSON:  cfg.Logging.JSON,
	})
	logger.SetDefault(log)
	ctx = logger.ContextWithLogger(ctx, log)
	ctx = config.ContextWithManager(ctx, manager)
	defer func() {
		if err := manager.Close(context.WithoutCancel(ctx)); err != nil {
			log.Error("Failed to close configuration manager", "error", err)
		}
	}()
	if !isPortAvailable(ctx, cfg.Server.Host, cfg.Server.Port) {
		return fmt.Errorf("port %d is not available on host %s", cfg.Server.Port, cfg.Server.Host)
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	return runServer(ctx, manager, cfg)
}

// buildConfigSources assembles configuration sources in precedence order:
// defaults, environment, the YAML file, then explicit CLI flags.
func buildConfigSources(cmd *cobra.Command, configFile string) []config.Source {
	sources := []config.Source{
		config.NewDefaultProvider(),
		config.NewEnvProvider(),
	}
	if configFile != "" {
		sources = append(sources, config.NewYAMLProvider(configFile))
	}
	cliFlags := make(map[string]any)
	extractCLIFlags(cmd, cliFlags)
	if len(cliFlags) > 0 {
		sources = append(sources, config.NewCLIProvider(cliFlags))
	}
	return sources
}

func runServer(ctx context.Context, manager *config.Manager, cfg *config.Config) error {
	log := logger.FromContext(ctx)
	log.Info("Starting pulstrate server", "version", version.GetVersion())
	application, cleanups, err := buildApp(ctx, cfg)
	defer runCleanups(ctx, cleanups)
	if err != nil {
		return err
	}
	watchGroupChanges(ctx, manager, application)
	srv, err := server.New(ctx, serverConfig(cfg), application.state, application.monitoring, application.redis)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}
	return srv.Run(ctx)
}

// watchGroupChanges re-seeds the scheduling groups when the configuration
// file changes, so parallelism caps can be tuned without a restart.
func watchGroupChanges(ctx context.Context, manager *config.Manager, application *app) {
	log := logger.FromContext(ctx)
	manager.OnChange(func(updated *config.Config) {
		if err := application.state.Groups.Seed(groupConfigs(updated.Groups)); err != nil {
			log.Error("Failed to apply group configuration change", "error", err)
			return
		}
		log.Info("Configuration reloaded", "groups", len(updated.Groups))
	})
}

// serverConfig maps the application configuration onto the HTTP server's.
func serverConfig(cfg *config.Config) *server.Config {
	return &server.Config{
		Host:        cfg.Server.Host,
		Port:        cfg.Server.Port,
		CORSEnabled: cfg.Server.CORSEnabled,
		RateLimit: server.RateLimitConfig{
			Enabled: cfg.Server.RateLimit.Enabled,
			RPS:     cfg.Server.RateLimit.RPS,
			Burst:   cfg.Server.RateLimit.Burst,
		},
	}
}
