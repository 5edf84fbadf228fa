package httpmw

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"go.opentelemetry.io/otel/trace"
)

func TestTraceResponseHeaders_NoSpan(t *testing.T) {
	h := TraceResponseHeaders("", "")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", http.NoBody))

	if got := rec.Header().Get("X-Trace-Id"); got != "" {
		t.Fatalf("X-Trace-Id = %q, want empty without a span", got)
	}
}

func TestTraceResponseHeaders_WithSpanContext(t *testing.T) {
	traceID, _ := trace.TraceIDFromHex("0102030405060708090a0b0c0d0e0f10")
	spanID, _ := trace.SpanIDFromHex("0102030405060708")
	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID: traceID,
		SpanID:  spanID,
	})

	h := TraceResponseHeaders("X-Custom-Trace", "X-Custom-Span")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	req = req.WithContext(trace.ContextWithSpanContext(req.Context(), sc))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if got := rec.Header().Get("X-Custom-Trace"); got != traceID.String() {
		t.Fatalf("trace header = %q, want %q", got, traceID.String())
	}
	if got := rec.Header().Get("X-Custom-Span"); got != spanID.String() {
		t.Fatalf("span header = %q, want %q", got, spanID.String())
	}
}
