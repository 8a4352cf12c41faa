package retriever

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const retrieverInstrumentationName = "github.com/uththunga/promptlib/internal/retriever"

// Metrics holds all retrieval-related metrics.
type Metrics struct {
	meter      metric.Meter
	logger     *zap.Logger
	duration   metric.Float64Histogram
	chunksUsed metric.Int64Histogram
}

// NewMetrics creates a new Metrics instance for retrieval.
func NewMetrics(logger *zap.Logger) *Metrics {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Metrics{
		meter:  otel.Meter(retrieverInstrumentationName),
		logger: logger,
	}
	m.init()
	return m
}

func (m *Metrics) init() {
	var err error

	m.duration, err = m.meter.Float64Histogram(
		"promptlib.retrieval.duration_seconds",
		metric.WithDescription("End-to-end retrieval duration in seconds, covering query embedding, search, enrichment and formatting"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0),
	)
	if err != nil {
		m.logger.Warn("failed to create duration histogram", zap.Error(err))
	}

	m.chunksUsed, err = m.meter.Int64Histogram(
		"promptlib.retrieval.chunks_used",
		metric.WithDescription("Chunks included in the formatted context per retrieval"),
		metric.WithUnit("{chunk}"),
		metric.WithExplicitBucketBoundaries(0, 1, 2, 3, 5, 10, 20),
	)
	if err != nil {
		m.logger.Warn("failed to create chunks used histogram", zap.Error(err))
	}
}

// RecordRetrieval records one retrieval.
func (m *Metrics) RecordRetrieval(ctx context.Context, owner string, duration time.Duration, chunksUsed int) {
	attrs := metric.WithAttributes(attribute.String("owner", owner))

	if m.duration != nil {
		m.duration.Record(ctx, duration.Seconds(), attrs)
	}
	if m.chunksUsed != nil {
		m.chunksUsed.Record(ctx, int64(chunksUsed), attrs)
	}
}
