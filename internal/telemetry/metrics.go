package telemetry

import (
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const (
	meterName = "github.com/salesloop/crmgate"
)

// Metrics holds all the OpenTelemetry metric instruments
type Metrics struct {
	// Session lifecycle metrics
	LoginsTotal          metric.Int64Counter
	LoginFailuresTotal   metric.Int64Counter
	LogoutsTotal         metric.Int64Counter
	RefreshesTotal       metric.Int64Counter
	RefreshesSharedTotal metric.Int64Counter
	RefreshFailuresTotal metric.Int64Counter

	// Authenticated request metrics
	RequestRetriesTotal metric.Int64Counter
	ProxyRequestsTotal  metric.Int64Counter
	ProxyDuration       metric.Float64Histogram

	// Backend transport metrics
	BackendErrorsTotal metric.Int64Counter
}

var (
	once    sync.Once
	metrics *Metrics
)

// GetMetrics returns the singleton Metrics instance, initializing it if necessary
func GetMetrics() *Metrics {
	once.Do(func() {
		metrics = initMetrics()
	})
	return metrics
}

// initMetrics creates and registers all metric instruments
func initMetrics() *Metrics {
	meter := otel.GetMeterProvider().Meter(meterName)

	m := &Metrics{}

	// Session lifecycle metrics
	m.LoginsTotal, _ = meter.Int64Counter(
		"crmgate.session.logins.total",
		metric.WithDescription("Total number of successful logins"),
		metric.WithUnit("{login}"),
	)

	m.LoginFailuresTotal, _ = meter.Int64Counter(
		"crmgate.session.login_failures.total",
		metric.WithDescription("Total number of failed login attempts"),
		metric.WithUnit("{login}"),
	)

	m.LogoutsTotal, _ = meter.Int64Counter(
		"crmgate.session.logouts.total",
		metric.WithDescription("Total number of logouts"),
		metric.WithUnit("{logout}"),
	)

	m.RefreshesTotal, _ = meter.Int64Counter(
		"crmgate.session.refreshes.total",
		metric.WithDescription("Total number of refresh calls sent to the backend"),
		metric.WithUnit("{refresh}"),
	)

	m.RefreshesSharedTotal, _ = meter.Int64Counter(
		"crmgate.session.refreshes_shared.total",
		metric.WithDescription("Total number of refresh waiters served by an already in-flight refresh"),
		metric.WithUnit("{refresh}"),
	)

	m.RefreshFailuresTotal, _ = meter.Int64Counter(
		"crmgate.session.refresh_failures.total",
		metric.WithDescription("Total number of refreshes rejected by the backend"),
		metric.WithUnit("{refresh}"),
	)

	// Authenticated request metrics
	m.RequestRetriesTotal, _ = meter.Int64Counter(
		"crmgate.requests.retries.total",
		metric.WithDescription("Total number of requests retried after a refresh"),
		metric.WithUnit("{request}"),
	)

	m.ProxyRequestsTotal, _ = meter.Int64Counter(
		"crmgate.proxy.requests.total",
		metric.WithDescription("Total number of proxied resource requests"),
		metric.WithUnit("{request}"),
	)

	m.ProxyDuration, _ = meter.Float64Histogram(
		"crmgate.proxy.duration",
		metric.WithDescription("Duration of proxied resource requests"),
		metric.WithUnit("ms"),
	)

	// Backend transport metrics
	m.BackendErrorsTotal, _ = meter.Int64Counter(
		"crmgate.backend.errors.total",
		metric.WithDescription("Total number of transport-level backend failures"),
		metric.WithUnit("{error}"),
	)

	return m
}
