package httpmw

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/briefvault/briefvault-api/internal/log"
)

func newTestLogger(t *testing.T) (log.Logger, *bytes.Buffer) {
	t.Helper()
	buf := &bytes.Buffer{}
	L, err := log.New(log.Options{App: "test", Level: slog.LevelDebug, JsonFormat: true, Writer: buf})
	if err != nil {
		t.Fatalf("log.New: %v", err)
	}
	return L, buf
}

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			t.Fatalf("bad log line %q: %v", line, err)
		}
		out = append(out, m)
	}
	return out
}

func TestWithLogger_SeedsRequestFields(t *testing.T) {
	L, buf := newTestLogger(t)

	h := Chain(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			log.FromContext(r.Context()).Info(r.Context(), "inside handler")
		}),
		RequestID(""),
		ClientIP,
		WithLogger(L),
	)

	req := httptest.NewRequest(http.MethodGet, "/v1/matters?page=2", http.NoBody)
	req.RemoteAddr = "203.0.113.7:44000"
	h.ServeHTTP(httptest.NewRecorder(), req)

	lines := decodeLines(t, buf)
	if len(lines) != 1 {
		t.Fatalf("got %d log lines, want 1", len(lines))
	}
	m := lines[0]
	if m["url.path"] != "/v1/matters" {
		t.Fatalf("url.path = %v", m["url.path"])
	}
	if m["url.query"] != "page=2" {
		t.Fatalf("url.query = %v", m["url.query"])
	}
	if m["client.address"] != "203.0.113.7" {
		t.Fatalf("client.address = %v", m["client.address"])
	}
	if m["http.request.method"] != "GET" {
		t.Fatalf("http.request.method = %v", m["http.request.method"])
	}
	if m["request_id"] == "" || m["request_id"] == nil {
		t.Fatal("request_id missing")
	}
}

func TestAccessLog_LogsRequest(t *testing.T) {
	L, buf := newTestLogger(t)

	h := Chain(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTeapot)
			w.Write([]byte("short and stout"))
		}),
		WithLogger(L),
		AccessLog(),
	)

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/orgs", http.NoBody))

	lines := decodeLines(t, buf)
	if len(lines) != 1 {
		t.Fatalf("got %d log lines, want 1", len(lines))
	}
	m := lines[0]
	if m["msg"] != "http request" {
		t.Fatalf("msg = %v", m["msg"])
	}
	if int(m["http.response.status_code"].(float64)) != http.StatusTeapot {
		t.Fatalf("status = %v", m["http.response.status_code"])
	}
	if int(m["http.response.body.size"].(float64)) != len("short and stout") {
		t.Fatalf("body size = %v", m["http.response.body.size"])
	}
}

func TestAccessLog_SkipsHealthEndpoints(t *testing.T) {
	L, buf := newTestLogger(t)

	h := Chain(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}),
		WithLogger(L),
		AccessLog(),
	)

	for _, path := range []string{"/-/healthy", "/-/ready"} {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, http.NoBody))
	}

	if strings.TrimSpace(buf.String()) != "" {
		t.Fatalf("health endpoints were logged: %s", buf.String())
	}
}

func TestAccessLog_DefaultStatus200(t *testing.T) {
	L, buf := newTestLogger(t)

	h := Chain(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// no explicit WriteHeader
			w.Write([]byte("ok"))
		}),
		WithLogger(L),
		AccessLog(),
	)

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/ping", http.NoBody))

	lines := decodeLines(t, buf)
	if len(lines) != 1 {
		t.Fatalf("got %d log lines", len(lines))
	}
	if int(lines[0]["http.response.status_code"].(float64)) != http.StatusOK {
		t.Fatalf("status = %v", lines[0]["http.response.status_code"])
	}
}

func TestSchemeFromRequest(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	req.URL.Scheme = ""
	if got := schemeFromRequest(req); got != "http" {
		t.Fatalf("scheme = %q, want http", got)
	}

	req.Header.Set("X-Forwarded-Proto", "https, http")
	if got := schemeFromRequest(req); got != "https" {
		t.Fatalf("scheme = %q, want https from X-Forwarded-Proto", got)
	}
}
