package observe

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// HeaderCorrelationID carries the request's trace id back to the caller so
// operator reports can be matched against logs.
const HeaderCorrelationID = "X-Correlation-ID"

// probeRoutes complete at debug level; load balancers and scrapers hit them
// every few seconds.
var probeRoutes = map[string]bool{
	"GET /healthz": true,
	"GET /readyz":  true,
	"GET /metrics": true,
}

type recorder struct {
	http.ResponseWriter
	status int
	wrote  bool
}

func (r *recorder) WriteHeader(code int) {
	if !r.wrote {
		r.status, r.wrote = code, true
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *recorder) Write(b []byte) (int, error) {
	if !r.wrote {
		r.status, r.wrote = http.StatusOK, true
	}
	return r.ResponseWriter.Write(b)
}

// Unwrap lets [http.ResponseController] reach the underlying writer.
func (r *recorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

// route is the mux pattern that served r, falling back to the method and raw
// path for unmatched requests. Only the pattern is used as a metric label so
// path values such as resort names do not explode cardinality.
func route(r *http.Request) string {
	if r.Pattern != "" {
		return r.Pattern
	}
	return r.Method + " " + r.URL.Path
}

// Middleware instruments the control surface. Each request continues any
// incoming W3C trace, runs inside a server span renamed to the matched route
// once the mux has dispatched, and reports its trace id in
// [HeaderCorrelationID]. Durations land in [Metrics.HTTPRequestDuration]
// keyed by route and status code. Server errors mark the span as failed and
// log at warn.
func Middleware(m *Metrics) func(http.Handler) http.Handler {
	prop := propagation.TraceContext{}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ctx := prop.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
			ctx, span := StartSpan(ctx, r.Method+" "+r.URL.Path,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					semconv.HTTPRequestMethodKey.String(r.Method),
					semconv.URLPath(r.URL.Path),
				),
			)
			defer span.End()

			if cid := CorrelationID(ctx); cid != "" {
				w.Header().Set(HeaderCorrelationID, cid)
			}
			prop.Inject(ctx, propagation.HeaderCarrier(w.Header()))

			rec := &recorder{ResponseWriter: w, status: http.StatusOK}
			r = r.WithContext(ctx)
			next.ServeHTTP(rec, r)

			elapsed := time.Since(start)
			rt := route(r)
			span.SetName(rt)
			span.SetAttributes(
				semconv.HTTPRoute(rt),
				semconv.HTTPResponseStatusCode(rec.status),
			)
			if rec.status >= http.StatusInternalServerError {
				span.SetStatus(codes.Error, http.StatusText(rec.status))
			}

			m.HTTPRequestDuration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(
				attribute.String("route", rt),
				attribute.String("status", strconv.Itoa(rec.status)),
			))

			level := slog.LevelInfo
			switch {
			case rec.status >= http.StatusInternalServerError:
				level = slog.LevelWarn
			case probeRoutes[rt]:
				level = slog.LevelDebug
			}
			Logger(ctx).LogAttrs(ctx, level, "http request",
				slog.String("route", rt),
				slog.String("path", r.URL.Path),
				slog.Int("status", rec.status),
				slog.Duration("elapsed", elapsed),
			)
		})
	}
}
