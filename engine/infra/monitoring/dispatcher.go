package monitoring

import (
	"context"
	"sync"
	"time"

	"github.com/danmincu/pulstrate/engine/infra/monitoring/metrics"
	"github.com/danmincu/pulstrate/pkg/logger"
	"go.opentelemetry.io/otel/metric"
)

// DispatcherHealth tracks liveness of a dispatch loop based on heartbeats.
type DispatcherHealth struct {
	DispatcherID        string
	LastHeartbeat       time.Time
	IsHealthy           bool
	StaleThreshold      time.Duration
	LastHealthCheck     time.Time
	ConsecutiveFailures int
}

// IsStale reports whether the dispatcher missed its heartbeat window.
func (h *DispatcherHealth) IsStale() bool {
	return time.Since(h.LastHeartbeat) > h.StaleThreshold
}

// UpdateHealthAt recomputes the health flag against the given instant.
// Consecutive failures accumulate until a fresh heartbeat clears them.
func (h *DispatcherHealth) UpdateHealthAt(now time.Time) {
	if now.Sub(h.LastHeartbeat) > h.StaleThreshold {
		h.IsHealthy = false
		h.ConsecutiveFailures++
	} else {
		h.IsHealthy = true
		h.ConsecutiveFailures = 0
	}
	h.LastHealthCheck = now
}

var dispatcherRegistry = struct {
	mu      sync.RWMutex
	entries map[string]*DispatcherHealth
}{entries: make(map[string]*DispatcherHealth)}

var (
	dispatcherHeartbeats   metric.Int64Counter
	dispatcherHealthyGauge metric.Int64ObservableGauge
	dispatcherStaleGauge   metric.Int64ObservableGauge
	dispatcherRegistration metric.Registration
	dispatcherMetricsOnce  sync.Once
	dispatcherResetMutex   sync.Mutex
)

// InitDispatcherHealthMetrics registers instruments observing the health of
// registered dispatch loops.
func InitDispatcherHealthMetrics(ctx context.Context, meter metric.Meter) {
	log := logger.FromContext(ctx)
	dispatcherMetricsOnce.Do(func() {
		var err error
		dispatcherHeartbeats, err = meter.Int64Counter(
			metrics.MetricNameWithSubsystem("dispatcher", "heartbeats_total"),
			metric.WithDescription("Total heartbeats received from dispatch loops"),
		)
		if err != nil {
			log.Error("Failed to create dispatcher heartbeat counter", "error", err)
		}
		dispatcherHealthyGauge, err = meter.Int64ObservableGauge(
			metrics.MetricNameWithSubsystem("dispatcher", "healthy"),
			metric.WithDescription("Registered dispatchers with a recent heartbeat"),
		)
		if err != nil {
			log.Error("Failed to create healthy dispatcher gauge", "error", err)
			return
		}
		dispatcherStaleGauge, err = meter.Int64ObservableGauge(
			metrics.MetricNameWithSubsystem("dispatcher", "stale"),
			metric.WithDescription("Registered dispatchers past their stale threshold"),
		)
		if err != nil {
			log.Error("Failed to create stale dispatcher gauge", "error", err)
			return
		}
		dispatcherRegistration, err = meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
			o.ObserveInt64(dispatcherHealthyGauge, int64(GetHealthyDispatcherCount()))
			o.ObserveInt64(dispatcherStaleGauge, int64(GetStaleDispatcherCount()))
			return nil
		}, dispatcherHealthyGauge, dispatcherStaleGauge)
		if err != nil {
			log.Error("Failed to register dispatcher health callback", "error", err)
		}
	})
}

// RegisterDispatcher starts heartbeat tracking for a dispatch loop.
func RegisterDispatcher(ctx context.Context, dispatcherID string, staleThreshold time.Duration) {
	now := time.Now()
	dispatcherRegistry.mu.Lock()
	dispatcherRegistry.entries[dispatcherID] = &DispatcherHealth{
		DispatcherID:    dispatcherID,
		LastHeartbeat:   now,
		IsHealthy:       true,
		StaleThreshold:  staleThreshold,
		LastHealthCheck: now,
	}
	dispatcherRegistry.mu.Unlock()
	logger.FromContext(ctx).Debug("Dispatcher registered for health tracking",
		"dispatcher_id", dispatcherID,
		"stale_threshold", staleThreshold,
	)
}

// UpdateDispatcherHeartbeat records a heartbeat for the dispatcher.
func UpdateDispatcherHeartbeat(ctx context.Context, dispatcherID string) {
	now := time.Now()
	dispatcherRegistry.mu.Lock()
	if entry, ok := dispatcherRegistry.entries[dispatcherID]; ok {
		entry.LastHeartbeat = now
		entry.UpdateHealthAt(now)
	}
	dispatcherRegistry.mu.Unlock()
	if dispatcherHeartbeats != nil {
		dispatcherHeartbeats.Add(ctx, 1)
	}
}

// UnregisterDispatcher stops heartbeat tracking for the dispatcher.
func UnregisterDispatcher(ctx context.Context, dispatcherID string) {
	dispatcherRegistry.mu.Lock()
	delete(dispatcherRegistry.entries, dispatcherID)
	dispatcherRegistry.mu.Unlock()
	logger.FromContext(ctx).Debug("Dispatcher unregistered from health tracking",
		"dispatcher_id", dispatcherID,
	)
}

// GetDispatcherHealth returns a point-in-time health snapshot for a dispatcher.
func GetDispatcherHealth(dispatcherID string) (*DispatcherHealth, bool) {
	dispatcherRegistry.mu.RLock()
	entry, ok := dispatcherRegistry.entries[dispatcherID]
	var snapshot DispatcherHealth
	if ok {
		snapshot = *entry
	}
	dispatcherRegistry.mu.RUnlock()
	if !ok {
		return nil, false
	}
	snapshot.UpdateHealthAt(time.Now())
	return &snapshot, true
}

// GetAllDispatcherHealth returns health snapshots for every registered dispatcher.
func GetAllDispatcherHealth() map[string]*DispatcherHealth {
	now := time.Now()
	dispatcherRegistry.mu.RLock()
	defer dispatcherRegistry.mu.RUnlock()
	all := make(map[string]*DispatcherHealth, len(dispatcherRegistry.entries))
	for id, entry := range dispatcherRegistry.entries {
		snapshot := *entry
		snapshot.UpdateHealthAt(now)
		all[id] = &snapshot
	}
	return all
}

// GetHealthyDispatcherCount returns how many dispatchers have a recent heartbeat.
func GetHealthyDispatcherCount() int {
	dispatcherRegistry.mu.RLock()
	defer dispatcherRegistry.mu.RUnlock()
	count := 0
	for _, entry := range dispatcherRegistry.entries {
		if !entry.IsStale() {
			count++
		}
	}
	return count
}

// GetStaleDispatcherCount returns how many dispatchers missed their heartbeat window.
func GetStaleDispatcherCount() int {
	dispatcherRegistry.mu.RLock()
	defer dispatcherRegistry.mu.RUnlock()
	count := 0
	for _, entry := range dispatcherRegistry.entries {
		if entry.IsStale() {
			count++
		}
	}
	return count
}

// ResetDispatcherHealthMetricsForTesting clears the registry and instrument
// state so tests start from a clean slate.
func ResetDispatcherHealthMetricsForTesting(ctx context.Context) {
	dispatcherResetMutex.Lock()
	defer dispatcherResetMutex.Unlock()
	dispatcherRegistry.mu.Lock()
	dispatcherRegistry.entries = make(map[string]*DispatcherHealth)
	dispatcherRegistry.mu.Unlock()
	if dispatcherRegistration != nil {
		if err := dispatcherRegistration.Unregister(); err != nil {
			logger.FromContext(ctx).Error("Failed to unregister dispatcher health callback", "error", err)
		}
		dispatcherRegistration = nil
	}
	dispatcherHeartbeats = nil
	dispatcherHealthyGauge = nil
	dispatcherStaleGauge = nil
	dispatcherMetricsOnce = sync.Once{}
}
