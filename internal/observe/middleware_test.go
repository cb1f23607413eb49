package observe

import (
	"bufio"
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func testSetup(t *testing.T) (*Metrics, *sdkmetric.ManualReader, *tracetest.InMemoryExporter) {
	t.Helper()
	m, reader := newTestMetrics(t)

	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	origTP := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(origTP) })

	return m, reader, exp
}

func TestMiddleware_CorrelationIDAndSpan(t *testing.T) {
	m, _, exp := testSetup(t)

	var cid string
	h := Middleware(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cid = CorrelationID(r.Context())
		w.WriteHeader(http.StatusNotFound)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/bot/status", nil))

	if len(cid) != 32 {
		t.Fatalf("correlation ID = %q, want 32 hex chars", cid)
	}
	if got := rec.Header().Get("X-Correlation-ID"); got != cid {
		t.Errorf("X-Correlation-ID = %q, want %q", got, cid)
	}

	spans := exp.GetSpans()
	if len(spans) != 1 || spans[0].Name != "HTTP GET /bot/status" {
		t.Fatalf("spans = %v", spans)
	}
	var status int64
	for _, a := range spans[0].Attributes {
		if a.Key == "http.response.status_code" {
			status = a.Value.AsInt64()
		}
	}
	if status != http.StatusNotFound {
		t.Errorf("span status attribute = %d, want 404", status)
	}
}

func TestMiddleware_PropagatesW3CTraceContext(t *testing.T) {
	m, _, _ := testSetup(t)
	const traceID = "4bf92f3577b34da6a3ce929d0e0e4736"

	var cid string
	h := Middleware(m)(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		cid = CorrelationID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("traceparent", "00-"+traceID+"-00f067aa0ba902b7-01")
	h.ServeHTTP(httptest.NewRecorder(), req)

	if cid != traceID {
		t.Errorf("correlation ID = %q, want %q", cid, traceID)
	}
}

func TestMiddleware_RecordsRoutePattern(t *testing.T) {
	m, reader, _ := testSetup(t)

	r := chi.NewRouter()
	r.Use(Middleware(m))
	r.Get("/calls/{callID}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/calls/CA123", nil))

	rm := collect(t, reader)
	met := findMetric(rm, "callbridge.http.request.duration")
	if met == nil {
		t.Fatal("metric not found")
	}
	hist := met.Data.(metricdata.Histogram[float64])
	if len(hist.DataPoints) != 1 {
		t.Fatalf("data points = %d, want 1", len(hist.DataPoints))
	}
	path, _ := hist.DataPoints[0].Attributes.Value("path")
	if got := path.AsString(); got != "/calls/{callID}" {
		t.Errorf("path attribute = %q, want route pattern", got)
	}
}

// hijackWriter is a ResponseWriter that supports Hijack.
type hijackWriter struct {
	*httptest.ResponseRecorder
	hijacked bool
}

func (w *hijackWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	w.hijacked = true
	c1, c2 := net.Pipe()
	_ = c2.Close()
	return c1, bufio.NewReadWriter(bufio.NewReader(c1), bufio.NewWriter(c1)), nil
}

func TestMiddleware_ForwardsHijack(t *testing.T) {
	m, _, _ := testSetup(t)

	h := Middleware(m)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		conn, _, err := http.NewResponseController(w).Hijack()
		if err != nil {
			t.Errorf("Hijack: %v", err)
			return
		}
		_ = conn.Close()
	}))

	w := &hijackWriter{ResponseRecorder: httptest.NewRecorder()}
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/media-stream", nil))
	if !w.hijacked {
		t.Error("underlying writer was not hijacked")
	}
}
