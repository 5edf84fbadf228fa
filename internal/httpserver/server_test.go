package httpserver

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/briefvault/briefvault-api/internal/httpmw"
	"github.com/briefvault/briefvault-api/internal/log"
	"github.com/briefvault/briefvault-api/internal/probe"
)

// test helpers

// defaultOpts returns minimal valid Options for testing.
func defaultOpts() Options {
	return Options{
		Logger: log.Nop(),
	}
}

// doRequest is a helper to send a request through a handler and return the recorder.
func doRequest(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, nil)
	h.ServeHTTP(rec, req)
	return rec
}

// getFreePort finds a free TCP port.
func getFreePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp4", ":0")
	if err != nil {
		t.Fatalf("find free port: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()
	return port
}

// Security headers

func TestNewHandler_SecurityHeaders(t *testing.T) {
	opts := defaultOpts()
	h := NewHandler(&opts)

	rec := doRequest(t, h, http.MethodGet, "/")

	for _, hdr := range []string{
		"Strict-Transport-Security",
		"Content-Security-Policy",
		"X-Content-Type-Options",
		"X-Frame-Options",
		"Referrer-Policy",
	} {
		if rec.Header().Get(hdr) == "" {
			t.Errorf("missing security header: %s", hdr)
		}
	}
}

func TestNewHandler_SecurityHeaders_On404(t *testing.T) {
	opts := defaultOpts()
	h := NewHandler(&opts)

	rec := doRequest(t, h, http.MethodGet, "/does-not-exist")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	if rec.Header().Get("Strict-Transport-Security") == "" {
		t.Error("HSTS missing on 404 response")
	}
}

func TestNewHandler_NotFoundIsJSON(t *testing.T) {
	opts := defaultOpts()
	h := NewHandler(&opts)

	rec := doRequest(t, h, http.MethodGet, "/nope")
	if got := rec.Header().Get("Content-Type"); !strings.HasPrefix(got, "application/json") {
		t.Errorf("404 Content-Type = %q, want JSON", got)
	}
	if !strings.Contains(rec.Body.String(), "error") {
		t.Errorf("404 body = %q, want JSON error", rec.Body.String())
	}
}

func TestNewHandler_MethodNotAllowedIsJSON(t *testing.T) {
	opts := defaultOpts()
	opts.APIRoutes = func(r chi.Router) {
		r.Get("/thing", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
	}
	h := NewHandler(&opts)

	rec := doRequest(t, h, http.MethodDelete, "/thing")
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", rec.Code)
	}
	if got := rec.Header().Get("Content-Type"); !strings.HasPrefix(got, "application/json") {
		t.Errorf("405 Content-Type = %q, want JSON", got)
	}
}

// Request ID

func TestNewHandler_RequestID_Generated(t *testing.T) {
	opts := defaultOpts()
	h := NewHandler(&opts)

	rec := doRequest(t, h, http.MethodGet, "/")
	if rec.Header().Get("X-Request-Id") == "" {
		t.Error("X-Request-Id not set")
	}
}

func TestNewHandler_RequestID_UniquePerRequest(t *testing.T) {
	opts := defaultOpts()
	h := NewHandler(&opts)

	first := doRequest(t, h, http.MethodGet, "/").Header().Get("X-Request-Id")
	second := doRequest(t, h, http.MethodGet, "/").Header().Get("X-Request-Id")
	if first == second {
		t.Errorf("request IDs not unique: %q", first)
	}
}

// API routes

func TestNewHandler_APIRoutes(t *testing.T) {
	opts := defaultOpts()
	opts.APIRoutes = func(r chi.Router) {
		r.Get("/api/v1/ping", func(w http.ResponseWriter, _ *http.Request) {
			w.Write([]byte("pong"))
		})
	}
	h := NewHandler(&opts)

	rec := doRequest(t, h, http.MethodGet, "/api/v1/ping")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if rec.Body.String() != "pong" {
		t.Errorf("body = %q, want pong", rec.Body.String())
	}
}

func TestNewHandler_APIRoutes_Nil(t *testing.T) {
	opts := defaultOpts()
	h := NewHandler(&opts)

	rec := doRequest(t, h, http.MethodGet, "/api/v1/ping")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

// Health endpoints

func TestNewHandler_HealthEndpoint(t *testing.T) {
	opts := defaultOpts()
	opts.Health = probe.Static(true, "")
	h := NewHandler(&opts)

	rec := doRequest(t, h, http.MethodGet, "/-/healthy")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestNewHandler_HealthEndpoint_Unhealthy(t *testing.T) {
	opts := defaultOpts()
	opts.Health = probe.Static(false, "broken")
	h := NewHandler(&opts)

	rec := doRequest(t, h, http.MethodGet, "/-/healthy")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}

func TestNewHandler_ReadyEndpoint_NotReady(t *testing.T) {
	opts := defaultOpts()
	opts.Readiness = probe.Static(false, "db: connection refused")
	h := NewHandler(&opts)

	rec := doRequest(t, h, http.MethodGet, "/-/ready")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "db: connection refused") {
		t.Errorf("body = %q, want probe reason", rec.Body.String())
	}
}

func TestNewHandler_HealthEndpoint_NilProbe(t *testing.T) {
	opts := defaultOpts()
	h := NewHandler(&opts)

	rec := doRequest(t, h, http.MethodGet, "/-/healthy")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("nil probe should not register route, status = %d", rec.Code)
	}
}

// Pluggable middleware

func TestNewHandler_RateLimitMW_Applied(t *testing.T) {
	opts := defaultOpts()
	opts.RateLimitMW = func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Rate-Limited", "yes")
			next.ServeHTTP(w, r)
		})
	}
	h := NewHandler(&opts)

	rec := doRequest(t, h, http.MethodGet, "/")
	if rec.Header().Get("X-Rate-Limited") != "yes" {
		t.Error("rate limit middleware not applied")
	}
}

func TestNewHandler_RateLimitMW_SeesResolvedClientIP(t *testing.T) {
	var sawIP string
	opts := defaultOpts()
	opts.ClientIPOpts = httpmw.ClientIPOptions{TrustedHops: 1}
	opts.RateLimitMW = func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sawIP = httpmw.ClientIPFromContext(r.Context())
			next.ServeHTTP(w, r)
		})
	}
	h := NewHandler(&opts)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.2:1234"
	req.Header.Set("X-Forwarded-For", "203.0.113.50")
	h.ServeHTTP(rec, req)

	if sawIP != "203.0.113.50" {
		t.Errorf("rate limiter saw IP %q, want forwarded client", sawIP)
	}
}

func TestNewHandler_MetricsMW_Applied(t *testing.T) {
	var called bool
	opts := defaultOpts()
	opts.MetricsMW = func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			called = true
			next.ServeHTTP(w, r)
		})
	}
	h := NewHandler(&opts)

	doRequest(t, h, http.MethodGet, "/")
	if !called {
		t.Error("metrics middleware not applied")
	}
}

// Panic recovery

func TestNewHandler_RecoverMW_Enabled(t *testing.T) {
	opts := defaultOpts()
	opts.UseRecoverMW = true
	opts.APIRoutes = func(r chi.Router) {
		r.Get("/panic", func(http.ResponseWriter, *http.Request) {
			panic("boom")
		})
	}
	h := NewHandler(&opts)

	rec := doRequest(t, h, http.MethodGet, "/panic")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
}

func TestNewHandler_RecoverMW_CallsOnPanic(t *testing.T) {
	var panics int
	opts := defaultOpts()
	opts.UseRecoverMW = true
	opts.OnPanic = func() { panics++ }
	opts.APIRoutes = func(r chi.Router) {
		r.Get("/panic", func(http.ResponseWriter, *http.Request) {
			panic("boom")
		})
	}
	h := NewHandler(&opts)

	doRequest(t, h, http.MethodGet, "/panic")
	if panics != 1 {
		t.Errorf("OnPanic called %d times, want 1", panics)
	}
}

// Body limits

func TestNewHandler_MaxBodyEnforced(t *testing.T) {
	opts := defaultOpts()
	opts.MaxBodyBytes = 8
	opts.APIRoutes = func(r chi.Router) {
		r.Post("/echo", func(w http.ResponseWriter, r *http.Request) {
			buf := make([]byte, 1024)
			if _, err := r.Body.Read(buf); err != nil {
				http.Error(w, err.Error(), http.StatusRequestEntityTooLarge)
				return
			}
			w.WriteHeader(http.StatusOK)
		})
	}
	h := NewHandler(&opts)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/echo", strings.NewReader(strings.Repeat("x", 100)))
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want 413", rec.Code)
	}
}

// Compression

func TestNewHandler_CompressesJSON(t *testing.T) {
	opts := defaultOpts()
	opts.APIRoutes = func(r chi.Router) {
		r.Get("/big", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"data":"` + strings.Repeat("a", 4096) + `"}`))
		})
	}
	h := NewHandler(&opts)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/big", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	h.ServeHTTP(rec, req)

	if got := rec.Header().Get("Content-Encoding"); got != "gzip" {
		t.Errorf("Content-Encoding = %q, want gzip", got)
	}
}

// NewServer

func TestNewServer_TimeoutsNonZero(t *testing.T) {
	srv := NewServer(":0", http.NotFoundHandler())
	if srv.ReadHeaderTimeout == 0 || srv.ReadTimeout == 0 || srv.WriteTimeout == 0 || srv.IdleTimeout == 0 {
		t.Error("server timeouts must all be set")
	}
	if srv.MaxHeaderBytes == 0 {
		t.Error("MaxHeaderBytes must be set")
	}
}

// Start lifecycle

func TestStart_GracefulShutdown(t *testing.T) {
	port := getFreePort(t)
	ctx := context.Background()

	opts := defaultOpts()
	opts.Port = port
	stop, err := Start(ctx, &opts)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	addr := fmt.Sprintf("http://127.0.0.1:%d/", port)
	resp, err := http.Get(addr)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := stop(shutdownCtx); err != nil {
		t.Fatalf("stop: %v", err)
	}

	time.Sleep(50 * time.Millisecond)
	if _, err := http.Get(addr); err == nil {
		t.Fatal("server still accepting connections after shutdown")
	}
}

func TestStart_StopIdempotent(t *testing.T) {
	port := getFreePort(t)
	ctx := context.Background()

	opts := defaultOpts()
	opts.Port = port
	stop, err := Start(ctx, &opts)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	if err := stop(ctx); err != nil {
		t.Fatalf("first stop: %v", err)
	}
	if err := stop(ctx); err != nil {
		t.Fatalf("second stop: %v", err)
	}
}

func TestStart_PortConflict(t *testing.T) {
	port := getFreePort(t)
	ctx := context.Background()

	opts1 := defaultOpts()
	opts1.Port = port
	stop1, err := Start(ctx, &opts1)
	if err != nil {
		t.Fatalf("first Start: %v", err)
	}
	defer stop1(ctx)

	opts2 := defaultOpts()
	opts2.Port = port
	if _, err := Start(ctx, &opts2); err == nil {
		t.Fatal("expected error for port conflict")
	}
}
