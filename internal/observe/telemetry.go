package observe

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Telemetry owns the global meter and tracer providers installed by [Init].
type Telemetry struct {
	MeterProvider  *sdkmetric.MeterProvider
	TracerProvider *sdktrace.TracerProvider
}

type telemetryOptions struct {
	service    string
	version    string
	registerer prometheus.Registerer
	exporter   sdktrace.SpanExporter
	sampler    sdktrace.Sampler
}

// TelemetryOption configures [Init].
type TelemetryOption func(*telemetryOptions)

// WithService sets the reported service name and version.
func WithService(name, version string) TelemetryOption {
	return func(o *telemetryOptions) { o.service, o.version = name, version }
}

// WithRegisterer sends the Prometheus collectors to r instead of the
// default registry.
func WithRegisterer(r prometheus.Registerer) TelemetryOption {
	return func(o *telemetryOptions) { o.registerer = r }
}

// WithSpanExporter batches finished spans to exp. Without one spans are
// sampled and correlated in logs but never leave the process.
func WithSpanExporter(exp sdktrace.SpanExporter) TelemetryOption {
	return func(o *telemetryOptions) { o.exporter = exp }
}

// WithSampler overrides the default parent-based always-on sampler.
func WithSampler(s sdktrace.Sampler) TelemetryOption {
	return func(o *telemetryOptions) { o.sampler = s }
}

// Init builds the meter and tracer providers, installs them globally along
// with the W3C trace-context propagator, and returns a handle whose
// Shutdown flushes both. Metrics are served through the Prometheus bridge.
func Init(ctx context.Context, opts ...TelemetryOption) (*Telemetry, error) {
	o := telemetryOptions{
		service: "concierge",
		sampler: sdktrace.ParentBased(sdktrace.AlwaysSample()),
	}
	for _, opt := range opts {
		opt(&o)
	}

	res, err := resource.New(ctx,
		resource.WithFromEnv(),
		resource.WithTelemetrySDK(),
		resource.WithAttributes(
			semconv.ServiceName(o.service),
			semconv.ServiceVersion(o.version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("observe: resource: %w", err)
	}

	var promOpts []promexporter.Option
	if o.registerer != nil {
		promOpts = append(promOpts, promexporter.WithRegisterer(o.registerer))
	}
	reader, err := promexporter.New(promOpts...)
	if err != nil {
		return nil, fmt.Errorf("observe: prometheus exporter: %w", err)
	}

	tpOpts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(o.sampler),
	}
	if o.exporter != nil {
		tpOpts = append(tpOpts, sdktrace.WithBatcher(o.exporter))
	}

	t := &Telemetry{
		MeterProvider:  sdkmetric.NewMeterProvider(sdkmetric.WithResource(res), sdkmetric.WithReader(reader)),
		TracerProvider: sdktrace.NewTracerProvider(tpOpts...),
	}
	otel.SetMeterProvider(t.MeterProvider)
	otel.SetTracerProvider(t.TracerProvider)
	otel.SetTextMapPropagator(propagation.TraceContext{})
	return t, nil
}

// Shutdown flushes pending spans and metrics. Both providers are shut down
// even if the first fails.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	return errors.Join(
		t.TracerProvider.Shutdown(ctx),
		t.MeterProvider.Shutdown(ctx),
	)
}
