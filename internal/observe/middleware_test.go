package observe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// instrument installs an in-memory tracer provider globally and returns
// metrics backed by a manual reader.
func instrument(t *testing.T) (*Metrics, *sdkmetric.ManualReader, *tracetest.InMemoryExporter) {
	t.Helper()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = tp.Shutdown(context.Background())
		_ = mp.Shutdown(context.Background())
	})
	return m, reader, exp
}

// chatMux mimics the routes served by the web API.
func chatMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/chat", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"session_id":"x"}`))
	})
	mux.HandleFunc("GET /api/history", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	return mux
}

func durationPoints(t *testing.T, reader *sdkmetric.ManualReader) []metricdata.HistogramDataPoint[float64] {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	met := findMetric(rm, "notesmcp.http.request.duration")
	if met == nil {
		t.Fatal("notesmcp.http.request.duration not recorded")
	}
	return met.Data.(metricdata.Histogram[float64]).DataPoints
}

func attrOf(dp metricdata.HistogramDataPoint[float64], key string) string {
	for _, kv := range dp.Attributes.ToSlice() {
		if string(kv.Key) == key {
			return kv.Value.AsString()
		}
	}
	return ""
}

func TestMiddleware_LabelsByRoute(t *testing.T) {
	m, reader, exp := instrument(t)
	h := Middleware(m)(chatMux())

	for _, path := range []string{"/api/history?session_id=a", "/api/history?session_id=b"} {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", path, nil))
	}

	points := durationPoints(t, reader)
	if len(points) != 1 {
		t.Fatalf("got %d series, want 1 for a single route", len(points))
	}
	dp := points[0]
	if dp.Count != 2 {
		t.Errorf("count = %d, want 2", dp.Count)
	}
	if got := attrOf(dp, "route"); got != "GET /api/history" {
		t.Errorf("route = %q", got)
	}
	if got := attrOf(dp, "status_class"); got != "5xx" {
		t.Errorf("status_class = %q, want 5xx", got)
	}

	spans := exp.GetSpans()
	if len(spans) != 2 {
		t.Fatalf("spans = %d, want 2", len(spans))
	}
	if spans[0].Name != "HTTP GET /api/history" {
		t.Errorf("span name = %q", spans[0].Name)
	}
	if spans[0].Status.Code != codes.Error {
		t.Errorf("span status = %v, want error for 502", spans[0].Status.Code)
	}
}

func TestMiddleware_UnmatchedRoute(t *testing.T) {
	m, reader, _ := instrument(t)
	h := Middleware(m)(chatMux())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/wp-admin/setup.php", nil))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
	dp := durationPoints(t, reader)[0]
	if got := attrOf(dp, "route"); got != unmatchedRoute {
		t.Errorf("route = %q, want %q", got, unmatchedRoute)
	}
	if got := attrOf(dp, "status_class"); got != "4xx" {
		t.Errorf("status_class = %q", got)
	}
}

func TestMiddleware_ImplicitOK(t *testing.T) {
	m, reader, exp := instrument(t)
	h := Middleware(m)(chatMux())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("POST", "/api/chat", nil))

	if got := attrOf(durationPoints(t, reader)[0], "status_class"); got != "2xx" {
		t.Errorf("status_class = %q", got)
	}
	if exp.GetSpans()[0].Status.Code == codes.Error {
		t.Error("a 200 must not fail the span")
	}
}

func TestMiddleware_CorrelationHeader(t *testing.T) {
	m, _, _ := instrument(t)

	var inHandler string
	h := Middleware(m)(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		inHandler = CorrelationID(r.Context())
	}))

	tests := []struct {
		name        string
		traceparent string
		want        string
	}{
		{name: "new trace"},
		{
			name:        "continued trace",
			traceparent: "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01",
			want:        "4bf92f3577b34da6a3ce929d0e0e4736",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/api/chat", nil)
			if tt.traceparent != "" {
				req.Header.Set("traceparent", tt.traceparent)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			got := rec.Header().Get(CorrelationHeader)
			if len(got) != 32 || got != inHandler {
				t.Fatalf("header = %q, handler saw %q", got, inHandler)
			}
			if tt.want != "" && got != tt.want {
				t.Errorf("correlation ID = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestMiddleware_ForwardsFlush(t *testing.T) {
	m, _, _ := instrument(t)

	h := Middleware(m)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("event: endpoint\n\n"))
		if err := http.NewResponseController(w).Flush(); err != nil {
			t.Errorf("Flush: %v", err)
		}
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/sse", nil))
	if !rec.Flushed {
		t.Error("SSE stream was not flushed")
	}
}

func TestStatusClass(t *testing.T) {
	for code, want := range map[int]string{200: "2xx", 204: "2xx", 301: "3xx", 429: "4xx", 503: "5xx"} {
		if got := statusClass(code); got != want {
			t.Errorf("statusClass(%d) = %q, want %q", code, got, want)
		}
	}
}
