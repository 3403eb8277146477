// Package observe provides application-wide observability primitives for the
// concierge: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is installed by [Init] so that metrics can be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all concierge metrics.
const meterName = "github.com/dreamit/concierge"

// Session start outcomes.
const (
	OutcomeOK               = "ok"
	OutcomeAcquisitionError = "acquisition_error"
	OutcomeConnectionError  = "connection_error"
	OutcomeCredentialError  = "credential_error"
)

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Session lifecycle ---

	// SessionStarts counts start attempts. Use with attribute:
	//   attribute.String("outcome", ...)
	SessionStarts metric.Int64Counter

	// ActiveSessions tracks sessions that have received the open signal and
	// not yet been torn down.
	ActiveSessions metric.Int64UpDownCounter

	// ConnectDuration tracks how long the provider handshake takes.
	ConnectDuration metric.Float64Histogram

	// ProviderErrors counts errors reported by the remote session. Use with
	// attributes: attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- Capture ---

	// AudioFramesSent counts microphone packets delivered to the session.
	AudioFramesSent metric.Int64Counter

	// AudioSendErrors counts packets the session refused.
	AudioSendErrors metric.Int64Counter

	// --- Playback ---

	// SegmentsScheduled counts agent audio segments placed on the timeline.
	SegmentsScheduled metric.Int64Counter

	// DecodeErrors counts agent audio chunks dropped as malformed.
	DecodeErrors metric.Int64Counter

	// Interruptions counts barge-in flushes.
	Interruptions metric.Int64Counter

	// ActiveSegments reports the size of the active segment set after each
	// schedule or flush.
	ActiveSegments metric.Int64Gauge

	// --- Tools ---

	// ToolCalls counts tool invocations. Use with attributes:
	//   attribute.String("tool", ...), attribute.String("status", ...)
	ToolCalls metric.Int64Counter

	// ToolExecutionDuration tracks tool handler latency including the
	// response send.
	ToolExecutionDuration metric.Float64Histogram

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks control surface latency. Use with attributes:
	//   attribute.String("route", ...), attribute.String("status", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets are the histogram boundaries, in seconds, for handshake
// and tool latencies.
var latencyBuckets = []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

// instruments creates instruments on one meter and keeps every creation
// error, so NewMetrics reports all bad definitions at once.
type instruments struct {
	meter metric.Meter
	errs  []error
}

func (b *instruments) counter(name, desc string) metric.Int64Counter {
	c, err := b.meter.Int64Counter(name, metric.WithDescription(desc))
	b.errs = append(b.errs, err)
	return c
}

func (b *instruments) upDown(name, desc string) metric.Int64UpDownCounter {
	c, err := b.meter.Int64UpDownCounter(name, metric.WithDescription(desc))
	b.errs = append(b.errs, err)
	return c
}

func (b *instruments) gauge(name, desc string) metric.Int64Gauge {
	g, err := b.meter.Int64Gauge(name, metric.WithDescription(desc))
	b.errs = append(b.errs, err)
	return g
}

// seconds creates a latency histogram. Nil buckets keep the SDK defaults.
func (b *instruments) seconds(name, desc string, buckets []float64) metric.Float64Histogram {
	opts := []metric.Float64HistogramOption{metric.WithDescription(desc), metric.WithUnit("s")}
	if buckets != nil {
		opts = append(opts, metric.WithExplicitBucketBoundaries(buckets...))
	}
	h, err := b.meter.Float64Histogram(name, opts...)
	b.errs = append(b.errs, err)
	return h
}

// NewMetrics creates every concierge instrument on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	b := &instruments{meter: mp.Meter(meterName)}
	m := &Metrics{
		SessionStarts:   b.counter("concierge.session.starts", "Session start attempts by outcome."),
		ActiveSessions:  b.upDown("concierge.session.active", "Number of open concierge sessions."),
		ConnectDuration: b.seconds("concierge.session.connect.duration", "Latency of the provider handshake.", latencyBuckets),
		ProviderErrors:  b.counter("concierge.provider.errors", "Provider errors by provider and kind."),

		AudioFramesSent: b.counter("concierge.capture.frames_sent", "Microphone frames delivered to the session."),
		AudioSendErrors: b.counter("concierge.capture.send_errors", "Microphone frames the session failed to accept."),

		SegmentsScheduled: b.counter("concierge.playback.segments", "Agent audio segments scheduled for playback."),
		DecodeErrors:      b.counter("concierge.playback.decode_errors", "Agent audio chunks dropped as malformed."),
		Interruptions:     b.counter("concierge.playback.interruptions", "Barge-in flushes of the playback queue."),
		ActiveSegments:    b.gauge("concierge.playback.active_segments", "Segments scheduled and not yet ended."),

		ToolCalls:             b.counter("concierge.tool.calls", "Tool invocations by tool name and status."),
		ToolExecutionDuration: b.seconds("concierge.tool.duration", "Latency of tool execution and acknowledgement.", latencyBuckets),

		HTTPRequestDuration: b.seconds("concierge.http.request.duration", "HTTP request latency by route and status code.", nil),
	}
	if err := errors.Join(b.errs...); err != nil {
		return nil, fmt.Errorf("observe: create instruments: %w", err)
	}
	return m, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the process-wide [Metrics], created on first use
// from the global meter provider. Call it after [Init] so the instruments
// reach the Prometheus exporter.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// RecordSessionStart records one start attempt with its outcome.
func (m *Metrics) RecordSessionStart(ctx context.Context, outcome string) {
	m.SessionStarts.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordToolCall records a tool call counter increment and its latency with
// the standard attribute set.
func (m *Metrics) RecordToolCall(ctx context.Context, tool, status string, seconds float64) {
	attrs := metric.WithAttributes(
		attribute.String("tool", tool),
		attribute.String("status", status),
	)
	m.ToolCalls.Add(ctx, 1, attrs)
	m.ToolExecutionDuration.Record(ctx, seconds, attrs)
}

// RecordProviderError counts one error reported by the remote session.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordAudioSend counts one capture send attempt.
func (m *Metrics) RecordAudioSend(ctx context.Context, err error) {
	if err != nil {
		m.AudioSendErrors.Add(ctx, 1)
		return
	}
	m.AudioFramesSent.Add(ctx, 1)
}
