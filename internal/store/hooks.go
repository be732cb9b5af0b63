package store

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Hooks captures store-level observability events.
type Hooks interface {
	ObserveOperation(op, status string, dur time.Duration)
	IncConflict(op string)
	IncRetry(op string)
}

type noopHooks struct{}

func (noopHooks) ObserveOperation(string, string, time.Duration) {}
func (noopHooks) IncConflict(string)                             {}
func (noopHooks) IncRetry(string)                                {}

type meterHooks struct {
	operations metric.Int64Counter
	conflicts  metric.Int64Counter
	retries    metric.Int64Counter
	duration   metric.Float64Histogram
}

// NewMeterHooks records store metrics through an OpenTelemetry meter.
func NewMeterHooks(meter metric.Meter) (Hooks, error) {
	ops, err := meter.Int64Counter("engagement.store.operations",
		metric.WithDescription("Store operations by op and outcome"))
	if err != nil {
		return nil, err
	}
	conflicts, err := meter.Int64Counter("engagement.store.conflicts",
		metric.WithDescription("Optimistic version conflicts"))
	if err != nil {
		return nil, err
	}
	retries, err := meter.Int64Counter("engagement.store.retries",
		metric.WithDescription("Store operation retries"))
	if err != nil {
		return nil, err
	}
	dur, err := meter.Float64Histogram("engagement.store.duration",
		metric.WithDescription("Store operation latency"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}
	return &meterHooks{operations: ops, conflicts: conflicts, retries: retries, duration: dur}, nil
}

func (h *meterHooks) ObserveOperation(op, status string, dur time.Duration) {
	ctx := context.Background()
	h.operations.Add(ctx, 1, metric.WithAttributes(attribute.String("op", op), attribute.String("status", status)))
	h.duration.Record(ctx, dur.Seconds(), metric.WithAttributes(attribute.String("op", op)))
}

func (h *meterHooks) IncConflict(op string) {
	h.conflicts.Add(context.Background(), 1, metric.WithAttributes(attribute.String("op", op)))
}

func (h *meterHooks) IncRetry(op string) {
	h.retries.Add(context.Background(), 1, metric.WithAttributes(attribute.String("op", op)))
}
