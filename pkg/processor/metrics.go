package processor

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	outcomeTransformed = "transformed"
	outcomeSkipped     = "skipped"
)

var (
	metricsOnce     sync.Once
	metricsInitErr  error
	recordsCounter  metric.Int64Counter
)

// recordProcessed emits the per-processor record counter.
func recordProcessed(ctx context.Context, processor, outcome string) {
	if err := ensureMetrics(); err != nil {
		return
	}
	recordsCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("processor.name", processor),
		attribute.String("processor.outcome", outcome),
	))
}

func ensureMetrics() error {
	metricsOnce.Do(func() {
		meter := otel.GetMeterProvider().Meter("relay.processor")

		recordsCounter, metricsInitErr = meter.Int64Counter(
			"relay.processor.records_total",
			metric.WithDescription("Telemetry records examined by processors, partitioned by outcome"),
			metric.WithUnit("{record}"),
		)
	})
	return metricsInitErr
}

// ResetMetricsForTest clears cached metric instruments so tests can
// reinitialize them against a fresh MeterProvider. This is intended for
// use in test code only.
func ResetMetricsForTest() {
	metricsOnce = sync.Once{}
	metricsInitErr = nil
	recordsCounter = nil
}
