// Package instrumentation exposes the OpenTelemetry counters recorded by the backend and the
// client. Without a configured MeterProvider every instrument is a no-op.
package instrumentation

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const meterName = "github.com/jrsteele09/go-sso-bff"

// Outcome attribute values.
const (
	OutcomeSuccess     = "success"
	OutcomeRejected    = "rejected"
	OutcomeUnavailable = "unavailable"
)

// Metrics holds the instruments. A nil *Metrics records nothing.
type Metrics struct {
	// Backend
	CodeExchanged     metric.Int64Counter
	TokenRefreshed    metric.Int64Counter
	TokenRevoked      metric.Int64Counter
	RateLimitExceeded metric.Int64Counter

	// Client
	RefreshFlights  metric.Int64Counter
	RefreshJoiners  metric.Int64Counter
	RequestReplayed metric.Int64Counter
}

// New creates the instruments from provider. A nil provider uses the no-op provider.
func New(provider metric.MeterProvider) (*Metrics, error) {
	if provider == nil {
		provider = noop.NewMeterProvider()
	}
	meter := provider.Meter(meterName)

	m := &Metrics{}
	counters := []struct {
		dst        *metric.Int64Counter
		name, desc string
		unit       string
	}{
		{&m.CodeExchanged, "sso.code.exchanged", "Authorization codes exchanged with the provider", "{exchange}"},
		{&m.TokenRefreshed, "sso.token.refreshed", "Refresh grants sent to the provider", "{refresh}"},
		{&m.TokenRevoked, "sso.token.revoked", "Refresh token revocations", "{revocation}"},
		{&m.RateLimitExceeded, "sso.ratelimit.exceeded", "Requests rejected by the rate limiter", "{request}"},
		{&m.RefreshFlights, "sso.client.refresh.flights", "Refresh flights started by the client coordinator", "{flight}"},
		{&m.RefreshJoiners, "sso.client.refresh.joiners", "Callers that joined an in-flight refresh", "{caller}"},
		{&m.RequestReplayed, "sso.client.request.replayed", "Requests replayed after a refresh", "{request}"},
	}

	for _, c := range counters {
		counter, err := meter.Int64Counter(c.name, metric.WithDescription(c.desc), metric.WithUnit(c.unit))
		if err != nil {
			return nil, fmt.Errorf("failed to create %s counter: %w", c.name, err)
		}
		*c.dst = counter
	}
	return m, nil
}

// Nop returns metrics backed by the no-op provider.
func Nop() *Metrics {
	m, _ := New(nil)
	return m
}

func (m *Metrics) RecordCodeExchange(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.CodeExchanged.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (m *Metrics) RecordTokenRefresh(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.TokenRefreshed.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (m *Metrics) RecordTokenRevoke(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.TokenRevoked.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (m *Metrics) RecordRateLimitExceeded(ctx context.Context, path string) {
	if m == nil {
		return
	}
	m.RateLimitExceeded.Add(ctx, 1, metric.WithAttributes(attribute.String("path", path)))
}

func (m *Metrics) RecordRefreshFlight(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.RefreshFlights.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (m *Metrics) RecordRefreshJoiner(ctx context.Context) {
	if m == nil {
		return
	}
	m.RefreshJoiners.Add(ctx, 1)
}

func (m *Metrics) RecordReplay(ctx context.Context, method string) {
	if m == nil {
		return
	}
	m.RequestReplayed.Add(ctx, 1, metric.WithAttributes(attribute.String("method", method)))
}
