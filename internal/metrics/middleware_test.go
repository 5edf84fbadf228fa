package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
)

func TestMiddleware_CountsRequests(t *testing.T) {
	m := New()

	r := chi.NewRouter()
	r.Use(m.Middleware)
	r.Get("/v1/matters/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest("GET", "/v1/matters/42", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
	}

	f := gatherFamily(t, m, "http_requests_total")
	if f == nil {
		t.Fatal("http_requests_total not gathered")
	}
	found := false
	for _, metric := range f.GetMetric() {
		if labelValue(metric, "route") == "/v1/matters/{id}" &&
			labelValue(metric, "method") == "GET" &&
			labelValue(metric, "status") == "200" {
			found = true
			if got := metric.GetCounter().GetValue(); got != 3 {
				t.Fatalf("count = %v, want 3", got)
			}
		}
	}
	if !found {
		t.Fatal("route-labeled series missing; route pattern not captured")
	}
}

func TestMiddleware_Counts5xxAsErrors(t *testing.T) {
	m := New()

	r := chi.NewRouter()
	r.Use(m.Middleware)
	r.Get("/boom", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/boom", nil))

	f := gatherFamily(t, m, "http_errors_total")
	if f == nil {
		t.Fatal("http_errors_total not gathered")
	}
	if got := f.GetMetric()[0].GetCounter().GetValue(); got != 1 {
		t.Fatalf("errors = %v, want 1", got)
	}
}

func TestMiddleware_4xxNotCountedAsError(t *testing.T) {
	m := New()

	r := chi.NewRouter()
	r.Use(m.Middleware)
	r.Get("/missing", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/missing", nil))

	f := gatherFamily(t, m, "http_errors_total")
	if f != nil && len(f.GetMetric()) > 0 {
		t.Fatal("4xx counted as server error")
	}
}

func TestMiddleware_DefaultStatus200(t *testing.T) {
	m := New()

	h := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// handler never writes
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/silent", nil))

	f := gatherFamily(t, m, "http_requests_total")
	if f == nil {
		t.Fatal("http_requests_total not gathered")
	}
	if labelValue(f.GetMetric()[0], "status") != "200" {
		t.Fatalf("status label = %q, want 200", labelValue(f.GetMetric()[0], "status"))
	}
}
