package observe

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// testMux mimics the control surface: a wildcard route, a probe and a
// handler that fails.
func testMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/resorts/{name}", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	})
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("POST /v1/concierge/start", func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "agent unreachable", http.StatusBadGateway)
	})
	return mux
}

func serve(h http.Handler, method, target string, hdr map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestMiddleware_SpanNamedAfterRoute(t *testing.T) {
	exp := installTracer(t)
	m, _ := newTestMetrics(t)
	h := Middleware(m)(testMux())

	rec := serve(h, "GET", "/v1/resorts/whistler", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("spans = %d, want 1", len(spans))
	}
	if spans[0].Name != "GET /v1/resorts/{name}" {
		t.Errorf("span name = %q, want the route pattern", spans[0].Name)
	}
	attrs := map[string]string{}
	for _, kv := range spans[0].Attributes {
		attrs[string(kv.Key)] = kv.Value.Emit()
	}
	if attrs["http.route"] != "GET /v1/resorts/{name}" {
		t.Errorf("http.route = %q", attrs["http.route"])
	}
	if attrs["url.path"] != "/v1/resorts/whistler" {
		t.Errorf("url.path = %q", attrs["url.path"])
	}
	if attrs["http.response.status_code"] != "200" {
		t.Errorf("status attribute = %q", attrs["http.response.status_code"])
	}

	cid := rec.Header().Get(HeaderCorrelationID)
	if cid != spans[0].SpanContext.TraceID().String() {
		t.Errorf("%s = %q, want the span's trace id", HeaderCorrelationID, cid)
	}
}

func TestMiddleware_ContinuesIncomingTrace(t *testing.T) {
	installTracer(t)
	m, _ := newTestMetrics(t)

	const traceID = "4bf92f3577b34da6a3ce929d0e0e4736"
	var inner string
	h := Middleware(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		inner = CorrelationID(r.Context())
	}))

	rec := serve(h, "GET", "/v1/concierge", map[string]string{
		"traceparent": "00-" + traceID + "-00f067aa0ba902b7-01",
	})
	if inner != traceID {
		t.Errorf("handler trace id = %q, want %q", inner, traceID)
	}
	if got := rec.Header().Get(HeaderCorrelationID); got != traceID {
		t.Errorf("%s = %q, want %q", HeaderCorrelationID, got, traceID)
	}
	if tp := rec.Header().Get("traceparent"); !strings.Contains(tp, traceID) {
		t.Errorf("traceparent = %q, want it to carry %s", tp, traceID)
	}
}

func TestMiddleware_ServerErrorMarksSpan(t *testing.T) {
	exp := installTracer(t)
	m, _ := newTestMetrics(t)
	buf := captureLogs(t)

	rec := serve(Middleware(m)(testMux()), "POST", "/v1/concierge/start", nil)
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d", rec.Code)
	}
	span := exp.GetSpans()[0]
	if span.Status.Code != codes.Error {
		t.Errorf("span status = %v, want Error", span.Status)
	}
	if out := buf.String(); !strings.Contains(out, "level=WARN") || !strings.Contains(out, "status=502") {
		t.Errorf("log = %q, want a warn line with status=502", out)
	}
}

func TestMiddleware_RecordsRouteAndStatus(t *testing.T) {
	installTracer(t)
	m, reader := newTestMetrics(t)
	h := Middleware(m)(testMux())

	serve(h, "GET", "/v1/resorts/aspen", nil)
	serve(h, "GET", "/v1/resorts/zermatt", nil)
	serve(h, "GET", "/nowhere", nil)

	met := findMetric(collect(t, reader), "concierge.http.request.duration")
	if met == nil {
		t.Fatal("metric not found")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatal("metric is not a histogram")
	}

	counts := map[string]uint64{}
	for _, dp := range hist.DataPoints {
		rt, _ := dp.Attributes.Value("route")
		st, _ := dp.Attributes.Value("status")
		counts[rt.AsString()+" "+st.AsString()] += dp.Count
	}
	want := map[string]uint64{
		"GET /v1/resorts/{name} 200": 2,
		"GET /nowhere 404":           1,
	}
	for k, n := range want {
		if counts[k] != n {
			t.Errorf("count[%q] = %d, want %d (all: %v)", k, counts[k], n, counts)
		}
	}
	if len(counts) != len(want) {
		t.Errorf("series = %v, want only %v", counts, want)
	}
}

func TestMiddleware_LogLevels(t *testing.T) {
	installTracer(t)
	m, _ := newTestMetrics(t)
	h := Middleware(m)(testMux())

	tests := []struct {
		name   string
		method string
		target string
		logged bool
	}{
		{"probe is quiet", "GET", "/healthz", false},
		{"api request", "GET", "/v1/resorts/vail", true},
		{"server error", "POST", "/v1/concierge/start", true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			buf := captureLogs(t)
			serve(h, tc.method, tc.target, nil)
			if got := strings.Contains(buf.String(), "http request"); got != tc.logged {
				t.Errorf("logged = %v, want %v: %q", got, tc.logged, buf.String())
			}
		})
	}
}

func TestRecorder_ImplicitStatus(t *testing.T) {
	t.Parallel()
	rec := &recorder{ResponseWriter: httptest.NewRecorder(), status: http.StatusOK}
	_, _ = rec.Write([]byte("x"))
	rec.WriteHeader(http.StatusTeapot)
	if rec.status != http.StatusOK {
		t.Errorf("status = %d, want the implicit 200 from the first write", rec.status)
	}
}
