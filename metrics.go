package rulecache

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const meterName = "github.com/always-cache/rulecache"

type metrics struct {
	keyBuilds   metric.Int64Counter
	keyFailures metric.Int64Counter
	keySize     metric.Int64Histogram
	lookups     metric.Int64Counter
}

func newMetrics(meter metric.Meter) (*metrics, error) {
	if meter == nil {
		meter = noop.NewMeterProvider().Meter(meterName)
	}
	keyBuilds, err := meter.Int64Counter(
		"rulecache.key.builds",
		metric.WithDescription("Number of cache keys built"),
		metric.WithUnit("{key}"),
	)
	if err != nil {
		return nil, err
	}
	keyFailures, err := meter.Int64Counter(
		"rulecache.key.failures",
		metric.WithDescription("Number of requests that bypassed the cache because no key could be built"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}
	keySize, err := meter.Int64Histogram(
		"rulecache.key.size",
		metric.WithDescription("Size of built cache keys"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return nil, err
	}
	lookups, err := meter.Int64Counter(
		"rulecache.lookups",
		metric.WithDescription("Cache lookups by result"),
		metric.WithUnit("{lookup}"),
	)
	if err != nil {
		return nil, err
	}
	return &metrics{
		keyBuilds:   keyBuilds,
		keyFailures: keyFailures,
		keySize:     keySize,
		lookups:     lookups,
	}, nil
}

func (m *metrics) recordKey(ctx context.Context, rule string, size int, err error) {
	opt := metric.WithAttributes(attribute.String("rule", rule))
	if err != nil {
		m.keyFailures.Add(ctx, 1, opt)
		return
	}
	m.keyBuilds.Add(ctx, 1, opt)
	m.keySize.Record(ctx, int64(size), opt)
}

func (m *metrics) recordLookup(ctx context.Context, rule string, result string) {
	m.lookups.Add(ctx, 1, metric.WithAttributes(
		attribute.String("rule", rule),
		attribute.String("result", result),
	))
}
