package log

import (
	"context"
	"testing"
)

func TestFromContext_MissingReturnsNop(t *testing.T) {
	l := FromContext(context.Background())
	if l == nil {
		t.Fatal("FromContext returned nil")
	}
	if _, ok := l.(nopLogger); !ok {
		t.Fatalf("FromContext without logger = %T, want nopLogger", l)
	}
}

func TestWithContext_RoundTrip(t *testing.T) {
	lg, _ := newTestLogger(t, 0)
	ctx := WithContext(context.Background(), lg)

	got := FromContext(ctx)
	if got != lg {
		t.Fatal("FromContext did not return the stored logger")
	}
}
