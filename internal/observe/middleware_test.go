package observe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// instrumented builds a middleware-wrapped mux with one OK route and returns
// hooks to inspect the metrics and spans it produces.
type instrumented struct {
	handler http.Handler
	reader  *sdkmetric.ManualReader
	spans   *tracetest.InMemoryExporter
	lastCtx context.Context
}

func newInstrumented(t *testing.T) *instrumented {
	t.Helper()
	in := &instrumented{
		reader: sdkmetric.NewManualReader(),
		spans:  tracetest.NewInMemoryExporter(),
	}

	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(in.reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(in.spans))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		in.lastCtx = r.Context()
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("GET /missing", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	in.handler = Middleware(m)(mux)
	return in
}

func (in *instrumented) get(t *testing.T, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	in.handler.ServeHTTP(rec, httptest.NewRequest("GET", path, nil))
	return rec
}

func (in *instrumented) durations(t *testing.T) metricdata.Histogram[float64] {
	t.Helper()
	rm := collect(t, in.reader)
	met := findMetric(rm, "callyx.http.request.duration")
	if met == nil {
		t.Fatal("callyx.http.request.duration not recorded")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("request duration has kind %T, want histogram", met.Data)
	}
	return hist
}

// attrValue pulls a string attribute out of a data point attribute set.
func attrValue(dp metricdata.HistogramDataPoint[float64], key string) string {
	for _, kv := range dp.Attributes.ToSlice() {
		if string(kv.Key) == key {
			return kv.Value.AsString()
		}
	}
	return ""
}

// ─── Correlation ─────────────────────────────────────────────────────────────

func TestMiddlewareIssuesCorrelationID(t *testing.T) {
	in := newInstrumented(t)
	rec := in.get(t, "/healthz")

	cid := CorrelationID(in.lastCtx)
	if len(cid) != 32 {
		t.Fatalf("handler saw correlation ID %q, want 32 hex chars", cid)
	}
	for _, c := range cid {
		if !strings.ContainsRune("0123456789abcdef", c) {
			t.Fatalf("correlation ID %q is not lowercase hex", cid)
		}
	}
	if got := rec.Header().Get("X-Correlation-ID"); got != cid {
		t.Errorf("X-Correlation-ID = %q, want the handler's %q", got, cid)
	}
}

func TestMiddlewareJoinsUpstreamTrace(t *testing.T) {
	in := newInstrumented(t)

	const upstream = "4bf92f3577b34da6a3ce929d0e0e4736"
	req := httptest.NewRequest("GET", "/healthz", nil)
	req.Header.Set("traceparent", "00-"+upstream+"-00f067aa0ba902b7-01")
	rec := httptest.NewRecorder()
	in.handler.ServeHTTP(rec, req)

	if got := CorrelationID(in.lastCtx); got != upstream {
		t.Errorf("correlation ID = %q, want the upstream trace ID %q", got, upstream)
	}
	if got := rec.Header().Get("X-Correlation-ID"); got != upstream {
		t.Errorf("X-Correlation-ID = %q, want %q", got, upstream)
	}
}

func TestCorrelationIDWithoutSpan(t *testing.T) {
	if got := CorrelationID(context.Background()); got != "" {
		t.Errorf("CorrelationID(background) = %q, want empty", got)
	}
}

// ─── Spans ───────────────────────────────────────────────────────────────────

func TestMiddlewareSpanNameAndStatus(t *testing.T) {
	in := newInstrumented(t)
	in.get(t, "/missing")

	spans := in.spans.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("recorded %d spans, want 1", len(spans))
	}
	if spans[0].Name != "GET /missing" {
		t.Errorf("span name = %q, want GET /missing", spans[0].Name)
	}

	var gotStatus int64 = -1
	for _, a := range spans[0].Attributes {
		if string(a.Key) == "http.response.status_code" {
			gotStatus = a.Value.AsInt64()
		}
	}
	if gotStatus != http.StatusNotFound {
		t.Errorf("span status attribute = %d, want 404", gotStatus)
	}
}

// ─── Metrics ─────────────────────────────────────────────────────────────────

func TestMiddlewareRecordsRouteDuration(t *testing.T) {
	in := newInstrumented(t)
	in.get(t, "/healthz")

	hist := in.durations(t)
	if len(hist.DataPoints) != 1 {
		t.Fatalf("got %d duration series, want 1", len(hist.DataPoints))
	}
	dp := hist.DataPoints[0]
	if dp.Count != 1 {
		t.Errorf("sample count = %d, want 1", dp.Count)
	}
	if got := attrValue(dp, "method"); got != "GET" {
		t.Errorf("method label = %q, want GET", got)
	}
	if got := attrValue(dp, "route"); got != "/healthz" {
		t.Errorf("route label = %q, want the matched pattern path", got)
	}
}

func TestMiddlewareCollapsesUnknownPaths(t *testing.T) {
	in := newInstrumented(t)
	// Scanner noise: three distinct paths, none routed.
	for _, path := range []string{"/wp-admin", "/.env", "/admin/config.php"} {
		in.get(t, path)
	}

	hist := in.durations(t)
	if len(hist.DataPoints) != 1 {
		t.Fatalf("got %d duration series, want all unknown paths folded into 1", len(hist.DataPoints))
	}
	if got := attrValue(hist.DataPoints[0], "route"); got != "unmatched" {
		t.Errorf("route label = %q, want unmatched", got)
	}
}

// ─── Status capture ──────────────────────────────────────────────────────────

func TestMiddlewarePreservesHandlerStatus(t *testing.T) {
	in := newInstrumented(t)
	if rec := in.get(t, "/missing"); rec.Code != http.StatusNotFound {
		t.Errorf("client saw %d, want 404", rec.Code)
	}
	if rec := in.get(t, "/healthz"); rec.Code != http.StatusOK {
		t.Errorf("client saw %d, want 200", rec.Code)
	}
}
