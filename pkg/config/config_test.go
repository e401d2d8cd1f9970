package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pulstrate.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefault(t *testing.T) {
	t.Run("Should provide a runnable configuration", func(t *testing.T) {
		cfg := Default()
		require.NoError(t, NewService().Validate(cfg))
		assert.Equal(t, "0.0.0.0", cfg.Server.Host)
		assert.Equal(t, 5480, cfg.Server.Port)
		assert.Equal(t, "memory", cfg.Database.Driver)
		assert.Equal(t, 60*time.Minute, cfg.Engine.DefaultTaskTimeout)
		assert.Equal(t, 100*time.Millisecond, cfg.Engine.QueuePollInterval)
		assert.Equal(t, 32, cfg.Engine.DefaultGroupParallelism)
		assert.True(t, cfg.History.Enabled)
		assert.Equal(t, 1024, cfg.History.TaskCapacity)
		assert.Equal(t, 256, cfg.History.RingSize)
		assert.Equal(t, "/metrics", cfg.Metrics.Path)
		assert.Equal(t, "info", cfg.Logging.Level)
	})
}

func TestLoad(t *testing.T) {
	t.Run("Should apply environment overrides over defaults", func(t *testing.T) {
		t.Setenv("PULSTRATE_SERVER_PORT", "9000")
		t.Setenv("PULSTRATE_LOGGING_LEVEL", "debug")
		svc := NewService()
		cfg, err := svc.Load(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 9000, cfg.Server.Port)
		assert.Equal(t, "debug", cfg.Logging.Level)
		assert.Equal(t, SourceEnv, svc.GetSource("server.port"))
		assert.Equal(t, SourceDefault, svc.GetSource("server.host"))
	})

	t.Run("Should map nested rate limit env vars through explicit tags", func(t *testing.T) {
		t.Setenv("PULSTRATE_SERVER_RATE_LIMIT_ENABLED", "true")
		t.Setenv("PULSTRATE_SERVER_RATE_LIMIT_RPS", "2.5")
		cfg, err := NewService().Load(context.Background())
		require.NoError(t, err)
		assert.True(t, cfg.Server.RateLimit.Enabled)
		assert.Equal(t, 2.5, cfg.Server.RateLimit.RPS)
	})

	t.Run("Should parse extended duration forms", func(t *testing.T) {
		t.Setenv("PULSTRATE_ENGINE_DEFAULT_TASK_TIMEOUT", "1d2h")
		cfg, err := NewService().Load(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 26*time.Hour, cfg.Engine.DefaultTaskTimeout)
	})

	t.Run("Should layer yaml between defaults and environment", func(t *testing.T) {
		path := writeConfigFile(t, "server:\n  port: 7000\n  cors_enabled: true\nlogging:\n  level: warn\n")
		t.Setenv("PULSTRATE_LOGGING_LEVEL", "error")
		svc := NewService()
		cfg, err := svc.Load(context.Background(), NewYAMLProvider(path))
		require.NoError(t, err)
		assert.Equal(t, 7000, cfg.Server.Port)
		assert.True(t, cfg.Server.CORSEnabled)
		assert.Equal(t, "error", cfg.Logging.Level)
		assert.Equal(t, "0.0.0.0", cfg.Server.Host)
		assert.Equal(t, SourceYAML, svc.GetSource("server.port"))
		assert.Equal(t, SourceEnv, svc.GetSource("logging.level"))
	})

	t.Run("Should load group declarations from yaml", func(t *testing.T) {
		path := writeConfigFile(t, "groups:\n  - id: encoding\n    name: Encoding\n    max_parallelism: 4\n  - id: previews\n")
		cfg, err := NewService().Load(context.Background(), NewYAMLProvider(path))
		require.NoError(t, err)
		require.Len(t, cfg.Groups, 2)
		assert.Equal(t, "encoding", cfg.Groups[0].ID)
		assert.Equal(t, "Encoding", cfg.Groups[0].Name)
		assert.Equal(t, 4, cfg.Groups[0].MaxParallelism)
		assert.Equal(t, "previews", cfg.Groups[1].ID)
	})

	t.Run("Should let CLI flags override yaml", func(t *testing.T) {
		path := writeConfigFile(t, "server:\n  port: 7000\n")
		flags := NewCLIProvider(map[string]any{"server.port": 8123})
		cfg, err := NewService().Load(context.Background(), NewYAMLProvider(path), flags)
		require.NoError(t, err)
		assert.Equal(t, 8123, cfg.Server.Port)
	})

	t.Run("Should tolerate a missing yaml file", func(t *testing.T) {
		cfg, err := NewService().Load(context.Background(), NewYAMLProvider("/nonexistent/pulstrate.yaml"))
		require.NoError(t, err)
		assert.Equal(t, 5480, cfg.Server.Port)
	})

	t.Run("Should reject an out-of-range port", func(t *testing.T) {
		t.Setenv("PULSTRATE_SERVER_PORT", "70000")
		_, err := NewService().Load(context.Background())
		require.Error(t, err)
	})

	t.Run("Should reject duplicate group ids", func(t *testing.T) {
		path := writeConfigFile(t, "groups:\n  - id: encoding\n  - id: encoding\n")
		_, err := NewService().Load(context.Background(), NewYAMLProvider(path))
		require.Error(t, err)
		require.Contains(t, err.Error(), "duplicate group id")
	})

	t.Run("Should reject an incomplete postgres configuration", func(t *testing.T) {
		t.Setenv("PULSTRATE_DATABASE_DRIVER", "postgres")
		t.Setenv("PULSTRATE_DATABASE_USER", "")
		_, err := NewService().Load(context.Background())
		require.Error(t, err)
	})

	t.Run("Should accept postgres via conn_string alone", func(t *testing.T) {
		t.Setenv("PULSTRATE_DATABASE_DRIVER", "postgres")
		t.Setenv("PULSTRATE_DATABASE_CONN_STRING", "postgres://app:secret@db:5432/tasks")
		cfg, err := NewService().Load(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "postgres", cfg.Database.Driver)
	})

	t.Run("Should reject a stale threshold below the heartbeat interval", func(t *testing.T) {
		t.Setenv("PULSTRATE_ENGINE_DISPATCHER_STALE_THRESHOLD", "1s")
		_, err := NewService().Load(context.Background())
		require.Error(t, err)
		require.Contains(t, err.Error(), "stale threshold")
	})

	t.Run("Should keep database passwords out of rendered output", func(t *testing.T) {
		t.Setenv("PULSTRATE_DATABASE_PASSWORD", "hunter2")
		cfg, err := NewService().Load(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "hunter2", cfg.Database.Password.Value())
		assert.Equal(t, "[REDACTED]", cfg.Database.Password.String())
	})
}
