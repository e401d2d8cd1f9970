package worker

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/danmincu/pulstrate/engine/core"
	monitoringmetrics "github.com/danmincu/pulstrate/engine/infra/monitoring/metrics"
	"github.com/danmincu/pulstrate/engine/queue"
)

// Metrics instruments the dispatch loop and its workers. All methods are
// nil-instrument safe so a zero value disables instrumentation.
type Metrics struct {
	meter              metric.Meter
	dispatchedTotal    metric.Int64Counter
	finishedTotal      metric.Int64Counter
	executionHistogram metric.Float64Histogram
	gateWaitHistogram  metric.Float64Histogram
	runningGauge       metric.Int64UpDownCounter
}

// NewMetrics initializes dispatcher metrics on the provided meter.
func NewMetrics(_ context.Context, meter metric.Meter) (*Metrics, error) {
	m := &Metrics{meter: meter}
	if err := m.init(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Metrics) init() error {
	if m.meter == nil {
		return nil
	}
	var err error
	m.dispatchedTotal, err = m.meter.Int64Counter(
		monitoringmetrics.MetricNameWithSubsystem("dispatcher", "dispatched_total"),
		metric.WithDescription("Total tasks handed to a worker goroutine"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create dispatcher dispatched counter: %w", err)
	}
	m.finishedTotal, err = m.meter.Int64Counter(
		monitoringmetrics.MetricNameWithSubsystem("dispatcher", "finished_total"),
		metric.WithDescription("Total tasks finished by the dispatcher, partitioned by terminal state"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create dispatcher finished counter: %w", err)
	}
	m.executionHistogram, err = m.meter.Float64Histogram(
		monitoringmetrics.MetricNameWithSubsystem("dispatcher", "execution_duration_seconds"),
		metric.WithDescription("Wall-clock execution duration per task"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(monitoringmetrics.TaskDurationBuckets...),
	)
	if err != nil {
		return fmt.Errorf("failed to create dispatcher execution histogram: %w", err)
	}
	m.gateWaitHistogram, err = m.meter.Float64Histogram(
		monitoringmetrics.MetricNameWithSubsystem("dispatcher", "gate_wait_duration_seconds"),
		metric.WithDescription("Time spent waiting for a group concurrency slot"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(.001, .005, .01, .05, .1, .5, 1, 5, 30, 60),
	)
	if err != nil {
		return fmt.Errorf("failed to create dispatcher gate wait histogram: %w", err)
	}
	m.runningGauge, err = m.meter.Int64UpDownCounter(
		monitoringmetrics.MetricNameWithSubsystem("dispatcher", "running_tasks"),
		metric.WithDescription("Number of tasks currently held by a worker goroutine"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create dispatcher running gauge: %w", err)
	}
	return nil
}

// ObserveQueueDepth registers an observable gauge backed by the queue's live
// entry count.
func (m *Metrics) ObserveQueueDepth(q *queue.Queue) error {
	if m.meter == nil || q == nil {
		return nil
	}
	depth, err := m.meter.Int64ObservableGauge(
		monitoringmetrics.MetricNameWithSubsystem("dispatcher", "queue_depth"),
		metric.WithDescription("Number of tasks waiting in the priority queue"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create dispatcher queue depth gauge: %w", err)
	}
	_, err = m.meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		o.ObserveInt64(depth, int64(q.Len()))
		return nil
	}, depth)
	if err != nil {
		return fmt.Errorf("failed to register dispatcher queue depth callback: %w", err)
	}
	return nil
}

func (m *Metrics) OnDispatched(ctx context.Context, groupID string) {
	if m.dispatchedTotal != nil {
		m.dispatchedTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("group", groupID)))
	}
	if m.runningGauge != nil {
		m.runningGauge.Add(ctx, 1)
	}
}

func (m *Metrics) OnWorkerDone(ctx context.Context) {
	if m.runningGauge != nil {
		m.runningGauge.Add(ctx, -1)
	}
}

func (m *Metrics) OnFinished(ctx context.Context, state core.StatusType) {
	if m.finishedTotal != nil {
		m.finishedTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("state", string(state))))
	}
}

func (m *Metrics) ObserveExecution(ctx context.Context, taskType string, d time.Duration) {
	if m.executionHistogram != nil {
		m.executionHistogram.Record(ctx, d.Seconds(),
			metric.WithAttributes(attribute.String("type", taskType)))
	}
}

func (m *Metrics) ObserveGateWait(ctx context.Context, groupID string, d time.Duration) {
	if m.gateWaitHistogram != nil {
		m.gateWaitHistogram.Record(ctx, d.Seconds(),
			metric.WithAttributes(attribute.String("group", groupID)))
	}
}
