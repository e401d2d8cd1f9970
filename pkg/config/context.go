package config

import (
	"context"
	"sync"

	"github.com/danmincu/pulstrate/pkg/logger"
)

type contextKey string

const managerCtxKey contextKey = "config_manager"

// ContextWithManager stores the configuration manager in the context.
func ContextWithManager(ctx context.Context, m *Manager) context.Context {
	return context.WithValue(ctx, managerCtxKey, m)
}

var (
	defaultManager     *Manager
	defaultManagerOnce sync.Once
)

// ManagerFromContext retrieves the configuration manager from the context.
// If none is attached it falls back to a lazily-initialized default manager
// that loads defaults plus environment overrides, so components keep a
// usable configuration even when wiring skipped the context.
func ManagerFromContext(ctx context.Context) *Manager {
	if ctx != nil {
		if m, ok := ctx.Value(managerCtxKey).(*Manager); ok && m != nil {
			return m
		}
	}
	return getDefaultManager(ctx)
}

// FromContext returns the active configuration for the provided context.
func FromContext(ctx context.Context) *Config {
	m := ManagerFromContext(ctx)
	if m == nil {
		return nil
	}
	return m.Get()
}

func getDefaultManager(ctx context.Context) *Manager {
	defaultManagerOnce.Do(func() {
		m := NewManager(NewService())
		if _, err := m.Load(ctx, NewDefaultProvider(), NewEnvProvider()); err != nil {
			logger.FromContext(ctx).Warn("Failed to load default configuration, using built-in defaults", "error", err)
		}
		defaultManager = m
	})
	return defaultManager
}
