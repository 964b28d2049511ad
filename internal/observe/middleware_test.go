package observe

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

func TestMiddleware_RecordsRequestDuration(t *testing.T) {
	m, reader := newTestMetrics(t)
	installTracer(t)

	handler := Middleware(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/metrics", nil))

	rm := collect(t, reader)
	met := findMetric(rm, "streamscribe.http.request.duration")
	if met == nil {
		t.Fatal("duration metric not found")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("metric data is %T, want Histogram[float64]", met.Data)
	}
	if len(hist.DataPoints) != 1 {
		t.Fatalf("data points = %d, want 1", len(hist.DataPoints))
	}
	dp := hist.DataPoints[0]
	if dp.Count != 1 {
		t.Errorf("sample count = %d, want 1", dp.Count)
	}
	attrs := map[string]string{}
	for _, kv := range dp.Attributes.ToSlice() {
		attrs[string(kv.Key)] = kv.Value.Emit()
	}
	if attrs["method"] != "GET" || attrs["path"] != "/metrics" {
		t.Errorf("attributes = %v, want method=GET path=/metrics", attrs)
	}
}

func TestMiddleware_SpanCarriesStatusCode(t *testing.T) {
	m, _ := newTestMetrics(t)
	exp := installTracer(t)

	handler := Middleware(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/readyz", nil))

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("exported spans = %d, want 1", len(spans))
	}
	span := spans[0]
	if span.Name != "HTTP GET /readyz" {
		t.Errorf("span name = %q, want HTTP GET /readyz", span.Name)
	}
	found := false
	for _, attr := range span.Attributes {
		if attr.Key == semconv.HTTPResponseStatusCodeKey {
			found = true
			if got := attr.Value.AsInt64(); got != http.StatusServiceUnavailable {
				t.Errorf("status attribute = %d, want %d", got, http.StatusServiceUnavailable)
			}
		}
	}
	if !found {
		t.Error("span has no response status attribute")
	}
}

func TestMiddleware_DefaultsStatusToOK(t *testing.T) {
	m, _ := newTestMetrics(t)
	exp := installTracer(t)

	// Handler writes a body without an explicit WriteHeader.
	handler := Middleware(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/healthz", nil))

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("exported spans = %d, want 1", len(spans))
	}
	for _, attr := range spans[0].Attributes {
		if attr.Key == semconv.HTTPResponseStatusCodeKey {
			if got := attr.Value.AsInt64(); got != http.StatusOK {
				t.Errorf("status attribute = %d, want 200", got)
			}
			return
		}
	}
	t.Error("span has no response status attribute")
}

func TestMiddleware_PropagatesSpanContext(t *testing.T) {
	m, _ := newTestMetrics(t)
	installTracer(t)

	var sawSpan bool
	handler := Middleware(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sawSpan = trace.SpanContextFromContext(r.Context()).IsValid()
		w.WriteHeader(http.StatusOK)
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/metrics", nil))

	if !sawSpan {
		t.Error("wrapped handler did not see the request span context")
	}
}
