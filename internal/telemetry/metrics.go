package telemetry

import (
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const (
	meterName = "github.com/wolfeidau/famblog"
)

// Metrics holds the OpenTelemetry instruments used by the route gate.
type Metrics struct {
	// Gate decisions, attributes: outcome, privilege
	GateDecisionsTotal metric.Int64Counter

	// Backend calls made while resolving a request, attributes: component, result
	BackendCallsTotal   metric.Int64Counter
	BackendCallDuration metric.Float64Histogram

	// Session maintenance
	SessionRefreshesTotal metric.Int64Counter
	SessionsExpiredTotal  metric.Int64Counter
}

var (
	once    sync.Once
	metrics *Metrics
)

// GetMetrics returns the singleton Metrics instance. Instruments bind to the
// global meter provider on first use, so call InitTelemetry before serving.
func GetMetrics() *Metrics {
	once.Do(func() {
		metrics = initMetrics()
	})
	return metrics
}

func initMetrics() *Metrics {
	meter := otel.GetMeterProvider().Meter(meterName)

	m := &Metrics{}

	m.GateDecisionsTotal, _ = meter.Int64Counter(
		"famblog.gate.decisions.total",
		metric.WithDescription("Route gate decisions by outcome and required privilege"),
		metric.WithUnit("{decision}"),
	)

	m.BackendCallsTotal, _ = meter.Int64Counter(
		"famblog.backend.calls.total",
		metric.WithDescription("Identity and profile backend calls by component and result"),
		metric.WithUnit("{call}"),
	)

	m.BackendCallDuration, _ = meter.Float64Histogram(
		"famblog.backend.calls.duration",
		metric.WithDescription("Duration of identity and profile backend calls"),
		metric.WithUnit("ms"),
	)

	m.SessionRefreshesTotal, _ = meter.Int64Counter(
		"famblog.sessions.refreshed.total",
		metric.WithDescription("Sessions whose cookies were reissued after a token refresh or expiry extension"),
		metric.WithUnit("{session}"),
	)

	m.SessionsExpiredTotal, _ = meter.Int64Counter(
		"famblog.sessions.expired.total",
		metric.WithDescription("Expired server-side sessions removed by the janitor"),
		metric.WithUnit("{session}"),
	)

	return m
}
