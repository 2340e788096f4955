package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

// TelemetryConfig controls how metrics are exported.
type TelemetryConfig struct {
	Enabled     bool
	ServiceName string
}

// Setup configures OpenTelemetry metrics with a Prometheus exporter.
// It returns a Recorder, the Prometheus HTTP handler, and a shutdown function.
func Setup(ctx context.Context, cfg TelemetryConfig) (*Recorder, http.Handler, func(context.Context) error, error) {
	if !cfg.Enabled {
		return NewRecorder(), nil, func(context.Context) error { return nil }, nil
	}

	if cfg.ServiceName == "" {
		cfg.ServiceName = "waterpolo-stats"
	}

	promReader, promHandler, err := prometheusComponents()
	if err != nil {
		return nil, nil, nil, err
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceName(cfg.ServiceName)),
	)
	if err != nil {
		return nil, nil, nil, err
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(promReader),
		sdkmetric.WithResource(res),
	)

	otelInst, err := newOtelInstruments(provider, cfg.ServiceName)
	if err != nil {
		return nil, nil, nil, err
	}

	rec := newRecorder(otelInst)
	shutdown := func(c context.Context) error {
		return provider.Shutdown(c)
	}

	return rec, promHandler, shutdown, nil
}

func prometheusComponents() (sdkmetric.Reader, http.Handler, error) {
	reg := prometheus.NewRegistry()
	promExp, err := promexporter.New(promexporter.WithRegisterer(reg))
	if err != nil {
		return nil, nil, err
	}
	return promExp, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), nil
}

type otelInstruments struct {
	ctx              context.Context
	requests         metric.Int64Counter
	requestLatencyMs metric.Float64Histogram
	actions          metric.Int64Counter
	merges           metric.Int64Counter
	mergeFailures    metric.Int64Counter
	mergeLatencyMs   metric.Float64Histogram
	clockCycles      metric.Int64Counter
	clockGames       metric.Int64Histogram
	clockLatencyMs   metric.Float64Histogram
	publishErrors    metric.Int64Counter
}

func newOtelInstruments(provider metric.MeterProvider, name string) (*otelInstruments, error) {
	meter := provider.Meter(name)

	requests, err := meter.Int64Counter("http_requests_total")
	if err != nil {
		return nil, err
	}
	requestLatency, err := meter.Float64Histogram("http_request_duration_ms")
	if err != nil {
		return nil, err
	}
	actions, err := meter.Int64Counter("game_actions_total")
	if err != nil {
		return nil, err
	}
	merges, err := meter.Int64Counter("session_merges_total")
	if err != nil {
		return nil, err
	}
	mergeFailures, err := meter.Int64Counter("session_merge_failures_total")
	if err != nil {
		return nil, err
	}
	mergeLatency, err := meter.Float64Histogram("session_merge_duration_ms")
	if err != nil {
		return nil, err
	}
	clockCycles, err := meter.Int64Counter("clock_cycles_total")
	if err != nil {
		return nil, err
	}
	clockGames, err := meter.Int64Histogram("clock_running_games")
	if err != nil {
		return nil, err
	}
	clockLatency, err := meter.Float64Histogram("clock_cycle_duration_ms")
	if err != nil {
		return nil, err
	}
	publishErrors, err := meter.Int64Counter("event_publish_errors_total")
	if err != nil {
		return nil, err
	}

	return &otelInstruments{
		ctx:              context.Background(),
		requests:         requests,
		requestLatencyMs: requestLatency,
		actions:          actions,
		merges:           merges,
		mergeFailures:    mergeFailures,
		mergeLatencyMs:   mergeLatency,
		clockCycles:      clockCycles,
		clockGames:       clockGames,
		clockLatencyMs:   clockLatency,
		publishErrors:    publishErrors,
	}, nil
}

func (o *otelInstruments) recordHTTPRequest(method, path string, status int, duration time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String(AttrMethod, method),
		attribute.String(AttrPath, path),
		attribute.Int(AttrStatus, status),
	)
	o.requests.Add(o.ctx, 1, attrs)
	o.requestLatencyMs.Record(o.ctx, float64(duration.Milliseconds()), attrs)
}

func (o *otelInstruments) recordAction(actionType string) {
	o.actions.Add(o.ctx, 1, metric.WithAttributes(attribute.String(AttrAction, actionType)))
}

func (o *otelInstruments) recordMerge(duration time.Duration, err error) {
	o.merges.Add(o.ctx, 1)
	o.mergeLatencyMs.Record(o.ctx, float64(duration.Milliseconds()))
	if err != nil {
		o.mergeFailures.Add(o.ctx, 1)
	}
}

func (o *otelInstruments) recordClockCycle(games int, duration time.Duration) {
	o.clockCycles.Add(o.ctx, 1)
	o.clockGames.Record(o.ctx, int64(games))
	o.clockLatencyMs.Record(o.ctx, float64(duration.Microseconds())/1000)
}

func (o *otelInstruments) recordPublishError(feed string) {
	o.publishErrors.Add(o.ctx, 1, metric.WithAttributes(attribute.String(AttrFeed, feed)))
}
