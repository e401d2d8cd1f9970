package ratelimit

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	rateLimitBlocksTotal metric.Int64Counter
	metricsInit          sync.Once
)

// InitMetrics registers the block counter on the given meter. Only the first
// call registers; later calls are no-ops.
func InitMetrics(meter metric.Meter) error {
	var err error
	metricsInit.Do(func() {
		rateLimitBlocksTotal, err = meter.Int64Counter(
			"rate_limit_blocks_total",
			metric.WithDescription("Total number of requests blocked by rate limiting"),
			metric.WithUnit("1"),
		)
	})
	return err
}

// IncrementBlockedRequests counts a request rejected by the limiter.
func IncrementBlockedRequests(ctx context.Context, route string, keyType string) {
	if rateLimitBlocksTotal != nil {
		rateLimitBlocksTotal.Add(ctx, 1,
			metric.WithAttributes(
				attribute.String("route", route),
				attribute.String("key_type", keyType),
			),
		)
	}
}
