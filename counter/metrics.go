package counter

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const meterName = "github.com/teranos/nex/counter"

// Merge outcomes recorded on nex.counter.merges.
const (
	OutcomeIncrement  = "increment"
	OutcomeInitialize = "initialize"
	OutcomeFailed     = "failed"
)

// Metrics holds the aggregator's OpenTelemetry instruments.
type Metrics struct {
	// Merges counts finished per-key merges by outcome.
	Merges metric.Int64Counter

	// Fallbacks counts Initialize attempts taken after an absent increment.
	Fallbacks metric.Int64Counter

	// Failures counts per-key failures by error code.
	Failures metric.Int64Counter

	// BatchDuration tracks how long one Merge call takes.
	BatchDuration metric.Float64Histogram
}

// NewMetrics creates the instruments on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.Merges, err = m.Int64Counter("nex.counter.merges",
		metric.WithDescription("Per-key merges by outcome."),
	); err != nil {
		return nil, err
	}
	if met.Fallbacks, err = m.Int64Counter("nex.counter.fallbacks",
		metric.WithDescription("Initialize calls taken because the counter was absent."),
	); err != nil {
		return nil, err
	}
	if met.Failures, err = m.Int64Counter("nex.counter.failures",
		metric.WithDescription("Per-key merge failures by error code."),
	); err != nil {
		return nil, err
	}
	if met.BatchDuration, err = m.Float64Histogram("nex.counter.batch.duration",
		metric.WithDescription("Latency of one batch merge."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	return met, nil
}

func noopMetrics() *Metrics {
	met, err := NewMetrics(noop.NewMeterProvider())
	if err != nil {
		panic(err) // noop instruments never fail
	}
	return met
}

func (m *Metrics) recordOutcome(ctx context.Context, outcome string) {
	m.Merges.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (m *Metrics) recordFailure(ctx context.Context, kind Kind) {
	m.recordOutcome(ctx, OutcomeFailed)
	m.Failures.Add(ctx, 1, metric.WithAttributes(attribute.String("code", kind.Code())))
}

func (m *Metrics) recordBatch(ctx context.Context, started time.Time, failed bool) {
	m.BatchDuration.Record(ctx, time.Since(started).Seconds(),
		metric.WithAttributes(attribute.Bool("partial", failed)))
}
