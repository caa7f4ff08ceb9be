// ABOUTME: Tick instruments: outcome counter, duration histogram, rejections, in-flight gauge
// ABOUTME: A nil *TickMetrics records nothing, so callers never need to check

package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// TickMetrics records agent tick activity.
type TickMetrics struct {
	ticks    metric.Int64Counter
	duration metric.Float64Histogram
	rejected metric.Int64Counter
	inFlight metric.Int64UpDownCounter
}

// NewTickMetrics creates the tick instruments on meter.
func NewTickMetrics(meter metric.Meter) (*TickMetrics, error) {
	ticks, err := meter.Int64Counter("poller.ticks",
		metric.WithDescription("Completed ticks by agent, source and outcome"))
	if err != nil {
		return nil, fmt.Errorf("telemetry: ticks counter: %w", err)
	}
	duration, err := meter.Float64Histogram("poller.tick.duration",
		metric.WithDescription("Tick wall time"), metric.WithUnit("s"))
	if err != nil {
		return nil, fmt.Errorf("telemetry: duration histogram: %w", err)
	}
	rejected, err := meter.Int64Counter("poller.ticks.rejected",
		metric.WithDescription("Tick requests not executed, by reason"))
	if err != nil {
		return nil, fmt.Errorf("telemetry: rejected counter: %w", err)
	}
	inFlight, err := meter.Int64UpDownCounter("poller.ticks.in_flight",
		metric.WithDescription("Ticks currently executing"))
	if err != nil {
		return nil, fmt.Errorf("telemetry: in-flight counter: %w", err)
	}
	return &TickMetrics{ticks: ticks, duration: duration, rejected: rejected, inFlight: inFlight}, nil
}

// Started marks a tick as in flight.
func (m *TickMetrics) Started(ctx context.Context, agentID string) {
	if m == nil {
		return
	}
	m.inFlight.Add(ctx, 1, metric.WithAttributes(attribute.String("agent_id", agentID)))
}

// Finished records a tick outcome and clears its in-flight mark.
func (m *TickMetrics) Finished(ctx context.Context, agentID, source, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("agent_id", agentID),
		attribute.String("source", source),
		attribute.String("outcome", outcome),
	)
	m.inFlight.Add(ctx, -1, metric.WithAttributes(attribute.String("agent_id", agentID)))
	m.ticks.Add(ctx, 1, attrs)
	m.duration.Record(ctx, elapsed.Seconds(), attrs)
}

// Rejected records a tick request that did not execute.
func (m *TickMetrics) Rejected(ctx context.Context, agentID, source, reason string) {
	if m == nil {
		return
	}
	m.rejected.Add(ctx, 1, metric.WithAttributes(
		attribute.String("agent_id", agentID),
		attribute.String("source", source),
		attribute.String("reason", reason),
	))
}
