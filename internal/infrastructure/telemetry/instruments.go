package telemetry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Counter is a monotonically increasing int64 instrument
type Counter struct {
	counter metric.Int64Counter
}

// Add adds n
func (c *Counter) Add(ctx context.Context, n int64, attrs ...attribute.KeyValue) {
	c.counter.Add(ctx, n, metric.WithAttributes(attrs...))
}

// Inc adds one
func (c *Counter) Inc(ctx context.Context, attrs ...attribute.KeyValue) {
	c.Add(ctx, 1, attrs...)
}

// Histogram records durations in seconds
type Histogram struct {
	histogram metric.Float64Histogram
}

// Observe records d
func (h *Histogram) Observe(ctx context.Context, d time.Duration, attrs ...attribute.KeyValue) {
	h.histogram.Record(ctx, d.Seconds(), metric.WithAttributes(attrs...))
}

// Instruments creates instruments on one meter and collects creation errors.
// Callers check Err once before using anything it returned.
type Instruments struct {
	meter metric.Meter
	errs  []error
}

// NewInstruments starts building on meter
func NewInstruments(meter metric.Meter) (*Instruments, error) {
	if meter == nil {
		return nil, ErrMeterNil
	}
	return &Instruments{meter: meter}, nil
}

// Counter creates a counter
func (b *Instruments) Counter(name, description, unit string) *Counter {
	c, err := b.meter.Int64Counter(name, metric.WithDescription(description), metric.WithUnit(unit))
	b.track(name, err)
	return &Counter{counter: c}
}

// Seconds creates a duration histogram with explicit bucket bounds
func (b *Instruments) Seconds(name, description string, buckets ...float64) *Histogram {
	opts := []metric.Float64HistogramOption{
		metric.WithDescription(description),
		metric.WithUnit("s"),
	}
	if len(buckets) > 0 {
		opts = append(opts, metric.WithExplicitBucketBoundaries(buckets...))
	}
	h, err := b.meter.Float64Histogram(name, opts...)
	b.track(name, err)
	return &Histogram{histogram: h}
}

// InFlight creates an up/down counter
func (b *Instruments) InFlight(name, description, unit string) metric.Int64UpDownCounter {
	g, err := b.meter.Int64UpDownCounter(name, metric.WithDescription(description), metric.WithUnit(unit))
	b.track(name, err)
	return g
}

// Err joins every creation error
func (b *Instruments) Err() error {
	return errors.Join(b.errs...)
}

func (b *Instruments) track(name string, err error) {
	if err != nil {
		b.errs = append(b.errs, fmt.Errorf("telemetry: instrument %s: %w", name, err))
	}
}
