package vectorindex

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const indexInstrumentationName = "github.com/uththunga/promptlib/internal/vectorindex"

// Metrics holds all index-related metrics.
type Metrics struct {
	meter          metric.Meter
	logger         *zap.Logger
	searchDuration metric.Float64Histogram
	addDuration    metric.Float64Histogram
	vectorsAdded   metric.Int64Counter
	errors         metric.Int64Counter
}

// NewMetrics creates a new Metrics instance for vector indexes.
func NewMetrics(logger *zap.Logger) *Metrics {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Metrics{
		meter:  otel.Meter(indexInstrumentationName),
		logger: logger,
	}
	m.init()
	return m
}

func (m *Metrics) init() {
	var err error

	m.searchDuration, err = m.meter.Float64Histogram(
		"promptlib.index.search_duration_seconds",
		metric.WithDescription("Duration of vector index searches in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0),
	)
	if err != nil {
		m.logger.Warn("failed to create search duration histogram", zap.Error(err))
	}

	m.addDuration, err = m.meter.Float64Histogram(
		"promptlib.index.add_duration_seconds",
		metric.WithDescription("Duration of index insert-and-persist operations in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0),
	)
	if err != nil {
		m.logger.Warn("failed to create add duration histogram", zap.Error(err))
	}

	m.vectorsAdded, err = m.meter.Int64Counter(
		"promptlib.index.vectors_added_total",
		metric.WithDescription("Total vectors inserted into indexes"),
		metric.WithUnit("{vector}"),
	)
	if err != nil {
		m.logger.Warn("failed to create vectors counter", zap.Error(err))
	}

	m.errors, err = m.meter.Int64Counter(
		"promptlib.index.errors_total",
		metric.WithDescription("Total index operation failures, including persistence errors"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		m.logger.Warn("failed to create errors counter", zap.Error(err))
	}
}

// RecordAdd records an insert-and-persist operation.
func (m *Metrics) RecordAdd(ctx context.Context, owner string, duration time.Duration, added int, err error) {
	attrs := metric.WithAttributes(attribute.String("owner", owner))

	if m.addDuration != nil {
		m.addDuration.Record(ctx, duration.Seconds(), attrs)
	}
	if added > 0 && m.vectorsAdded != nil {
		m.vectorsAdded.Add(ctx, int64(added), attrs)
	}
	if err != nil && m.errors != nil {
		m.errors.Add(ctx, 1, attrs)
	}
}

// RecordSearch records a search operation.
func (m *Metrics) RecordSearch(ctx context.Context, owner string, duration time.Duration, hits int) {
	if m.searchDuration != nil {
		m.searchDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attribute.String("owner", owner)))
	}
}
