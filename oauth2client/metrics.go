package oauth2client

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/AmmannChristian/go-tokenflow/oauth2client"

type managerMetrics struct {
	cacheLookups     metric.Int64Counter
	endpointRequests metric.Int64Counter
	endpointDuration metric.Float64Histogram
}

func newManagerMetrics(provider metric.MeterProvider) (*managerMetrics, error) {
	if provider == nil {
		provider = otel.GetMeterProvider()
	}
	meter := provider.Meter(meterName)

	cacheLookups, err := meter.Int64Counter(
		"tokenflow.token.cache.lookups",
		metric.WithDescription("Token cache lookups by result"),
	)
	if err != nil {
		return nil, err
	}

	endpointRequests, err := meter.Int64Counter(
		"tokenflow.token.endpoint.requests",
		metric.WithDescription("Token endpoint exchanges by client and outcome"),
	)
	if err != nil {
		return nil, err
	}

	endpointDuration, err := meter.Float64Histogram(
		"tokenflow.token.endpoint.duration",
		metric.WithDescription("Token endpoint exchange duration"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return &managerMetrics{
		cacheLookups:     cacheLookups,
		endpointRequests: endpointRequests,
		endpointDuration: endpointDuration,
	}, nil
}

func (m *managerMetrics) recordLookup(ctx context.Context, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

func (m *managerMetrics) recordExchange(ctx context.Context, client string, started time.Time, err error) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("client", client),
		attribute.String("outcome", exchangeOutcome(err)),
	)
	m.endpointRequests.Add(ctx, 1, attrs)
	m.endpointDuration.Record(ctx, time.Since(started).Seconds(), attrs)
}

func exchangeOutcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrTransport):
		return "transport_error"
	case errors.Is(err, ErrEndpoint):
		return "endpoint_error"
	default:
		return "error"
	}
}
