package ratelimit

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/briefvault/briefvault-api/internal/httpmw"
	"github.com/briefvault/briefvault-api/internal/log"
	"github.com/briefvault/briefvault-api/internal/xerrors"
)

// errorStore always fails, simulating an unreachable backing store.
type errorStore struct{}

func (errorStore) Check(context.Context, string, Policy) (Decision, error) {
	return Decision{}, xerrors.New("store down")
}

// recordingStore captures the keys handed to the store.
type recordingStore struct {
	mu   sync.Mutex
	keys []string
	next Decision
}

func (s *recordingStore) Check(_ context.Context, key string, _ Policy) (Decision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys = append(s.keys, key)
	return s.next, nil
}

func testPolicies() []Policy {
	return []Policy{
		{Name: "read", Window: time.Minute, MaxRequests: 5},
		{Name: "write", Window: time.Minute, MaxRequests: 2},
	}
}

func TestNewGate_RejectsInvalidPolicy(t *testing.T) {
	bad := []Policy{{Name: "read", Window: 0, MaxRequests: 5}}
	_, err := NewGate(&recordingStore{}, log.Nop(), bad)
	if err == nil {
		t.Fatal("expected ConfigError for zero window")
	}
	var ce *ConfigError
	if !errors.As(err, &ce) {
		t.Fatalf("error type = %T, want *ConfigError", err)
	}
}

func TestNewGate_RejectsDuplicateNames(t *testing.T) {
	dup := []Policy{
		{Name: "read", Window: time.Minute, MaxRequests: 5},
		{Name: "read", Window: time.Hour, MaxRequests: 1},
	}
	if _, err := NewGate(&recordingStore{}, log.Nop(), dup); err == nil {
		t.Fatal("expected error for duplicate policy names")
	}
}

func TestGate_KeysNamespacedByPolicy(t *testing.T) {
	store := &recordingStore{next: Decision{Admitted: true}}
	g, err := NewGate(store, log.Nop(), testPolicies())
	if err != nil {
		t.Fatal(err)
	}

	g.Check(context.Background(), "1.2.3.4", "read")
	g.Check(context.Background(), "1.2.3.4", "write")

	if store.keys[0] != "read:1.2.3.4" || store.keys[1] != "write:1.2.3.4" {
		t.Fatalf("keys = %v, want policy-prefixed", store.keys)
	}
}

func TestGate_FailOpenDefault(t *testing.T) {
	g, err := NewGate(errorStore{}, log.Nop(), testPolicies())
	if err != nil {
		t.Fatal(err)
	}

	d := g.Check(context.Background(), "k", "read")
	if !d.Admitted {
		t.Fatal("store error rejected request; default is fail-open")
	}
}

func TestGate_FailClosed(t *testing.T) {
	g, err := NewGate(errorStore{}, log.Nop(), testPolicies(), WithFailClosed())
	if err != nil {
		t.Fatal(err)
	}

	d := g.Check(context.Background(), "k", "read")
	if d.Admitted {
		t.Fatal("store error admitted request under fail-closed")
	}
	if d.RetryAfter <= 0 {
		t.Fatal("fail-closed rejection has no retry hint")
	}
}

func TestGate_OnStoreErrorFires(t *testing.T) {
	var fired int
	g, err := NewGate(errorStore{}, log.Nop(), testPolicies(),
		WithOnStoreError(func() { fired++ }),
	)
	if err != nil {
		t.Fatal(err)
	}

	g.Check(context.Background(), "k", "read")
	if fired != 1 {
		t.Fatalf("onStoreError fired %d times, want 1", fired)
	}

	// An unknown policy is a wiring bug, not a store failure.
	g.Check(context.Background(), "k", "nope")
	if fired != 1 {
		t.Fatalf("onStoreError fired %d times after unknown policy, want 1", fired)
	}
}

func TestGate_UnknownPolicyAdmits(t *testing.T) {
	var outcomes []string
	g, err := NewGate(&recordingStore{}, log.Nop(), testPolicies(),
		WithOnDecision(func(policy, outcome string) {
			outcomes = append(outcomes, policy+"/"+outcome)
		}),
	)
	if err != nil {
		t.Fatal(err)
	}

	d := g.Check(context.Background(), "k", "nope")
	if !d.Admitted {
		t.Fatal("unknown policy rejected request")
	}
	if len(outcomes) != 1 || outcomes[0] != "nope/error" {
		t.Fatalf("outcomes = %v", outcomes)
	}
}

func TestGate_OnDecisionOutcomes(t *testing.T) {
	var outcomes []string
	store := &recordingStore{next: Decision{Admitted: true, Remaining: 1}}
	g, err := NewGate(store, log.Nop(), testPolicies(),
		WithOnDecision(func(policy, outcome string) {
			outcomes = append(outcomes, outcome)
		}),
	)
	if err != nil {
		t.Fatal(err)
	}

	g.Check(context.Background(), "k", "read")
	store.next = Decision{Admitted: false, RetryAfter: time.Second}
	g.Check(context.Background(), "k", "read")

	if len(outcomes) != 2 || outcomes[0] != "allowed" || outcomes[1] != "denied" {
		t.Fatalf("outcomes = %v, want [allowed denied]", outcomes)
	}
}

func TestGate_SetPolicies_RejectsBadSetWhole(t *testing.T) {
	g, err := NewGate(&recordingStore{next: Decision{Admitted: true}}, log.Nop(), testPolicies())
	if err != nil {
		t.Fatal(err)
	}

	bad := []Policy{
		{Name: "read", Window: time.Minute, MaxRequests: 10},
		{Name: "broken", Window: time.Minute, MaxRequests: 0},
	}
	if err := g.SetPolicies(bad); err == nil {
		t.Fatal("bad set accepted")
	}

	// original set still live
	if p, ok := g.Policy("read"); !ok || p.MaxRequests != 5 {
		t.Fatalf("read policy = %+v, want original preserved", p)
	}
}

func TestGate_SetPolicies_Swaps(t *testing.T) {
	g, err := NewGate(&recordingStore{next: Decision{Admitted: true}}, log.Nop(), testPolicies())
	if err != nil {
		t.Fatal(err)
	}

	next := []Policy{{Name: "read", Window: 30 * time.Second, MaxRequests: 99}}
	if err := g.SetPolicies(next); err != nil {
		t.Fatal(err)
	}
	if p, ok := g.Policy("read"); !ok || p.MaxRequests != 99 {
		t.Fatalf("read policy = %+v after swap", p)
	}
	if _, ok := g.Policy("write"); ok {
		t.Fatal("stale policy survived swap")
	}
}

// Middleware

func newTestGate(t *testing.T, opts ...GateOption) *Gate {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	store := NewMemoryStore(ctx)
	g, err := NewGate(store, log.Nop(), []Policy{
		{Name: "tiny", Window: time.Minute, MaxRequests: 2},
	}, opts...)
	if err != nil {
		t.Fatal(err)
	}
	return g
}

func serveWithIP(h http.Handler, ip string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	req = req.WithContext(httpmw.WithClientIP(req.Context(), ip))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestLimit_AdmitsAndAnnotatesRemaining(t *testing.T) {
	g := newTestGate(t)
	h := g.Limit("tiny")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	rec := serveWithIP(h, "9.9.9.9")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got := rec.Header().Get("X-RateLimit-Remaining"); got != "1" {
		t.Fatalf("X-RateLimit-Remaining = %q, want 1", got)
	}
}

func TestLimit_RejectsWith429(t *testing.T) {
	g := newTestGate(t)
	handlerCalls := 0
	h := g.Limit("tiny")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handlerCalls++
	}))

	serveWithIP(h, "9.9.9.9")
	serveWithIP(h, "9.9.9.9")
	rec := serveWithIP(h, "9.9.9.9")

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	if handlerCalls != 2 {
		t.Fatalf("handler calls = %d, want 2 (rejection short-circuits)", handlerCalls)
	}
	if rec.Body.String() != `{"error":"Too many requests"}` {
		t.Fatalf("body = %q", rec.Body.String())
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatal("Retry-After header missing")
	}
	if rec.Header().Get("Content-Type") != "application/json; charset=utf-8" {
		t.Fatalf("content type = %q", rec.Header().Get("Content-Type"))
	}
}

func TestLimit_DistinctIPsIndependent(t *testing.T) {
	g := newTestGate(t)
	h := g.Limit("tiny")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	serveWithIP(h, "1.1.1.1")
	serveWithIP(h, "1.1.1.1")
	if rec := serveWithIP(h, "1.1.1.1"); rec.Code != http.StatusTooManyRequests {
		t.Fatal("first ip not limited")
	}
	if rec := serveWithIP(h, "2.2.2.2"); rec.Code != http.StatusOK {
		t.Fatal("second ip hit by first ip's quota")
	}
}

func TestLimit_KeyFuncPreferred(t *testing.T) {
	store := &recordingStore{next: Decision{Admitted: true}}
	g, err := NewGate(store, log.Nop(), testPolicies(),
		WithKeyFunc(func(r *http.Request) string { return "user:42" }),
	)
	if err != nil {
		t.Fatal(err)
	}

	h := g.Limit("read")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	serveWithIP(h, "9.9.9.9")

	if len(store.keys) != 1 || store.keys[0] != "read:user:42" {
		t.Fatalf("keys = %v, want [read:user:42]", store.keys)
	}
}

func TestRetryAfterSeconds_RoundsUp(t *testing.T) {
	if got := retryAfterSeconds(Decision{RetryAfter: 1200 * time.Millisecond}); got != 2 {
		t.Fatalf("1.2s -> %d, want 2", got)
	}
	if got := retryAfterSeconds(Decision{RetryAfter: 0}); got != 1 {
		t.Fatalf("0 -> %d, want 1", got)
	}
}
