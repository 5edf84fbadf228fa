package xerrors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

type hasStack interface{ StackPCs() []uintptr }
type hasPC interface{ PC() uintptr }

func TestNew_CapturesStack(t *testing.T) {
	err := New("boom")
	if err == nil {
		t.Fatal("New returned nil")
	}
	if err.Error() != "boom" {
		t.Fatalf("Error() = %q, want %q", err.Error(), "boom")
	}

	hs, ok := err.(hasStack)
	if !ok {
		t.Fatalf("New error does not expose StackPCs, got %T", err)
	}
	if len(hs.StackPCs()) == 0 {
		t.Fatal("New error has empty stack")
	}
}

func TestNewf_FormatsMessage(t *testing.T) {
	err := Newf("bad value %d for %s", 42, "limit")
	want := "bad value 42 for limit"
	if err.Error() != want {
		t.Fatalf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestWrap_NilPassthrough(t *testing.T) {
	if Wrap(nil, "ctx") != nil {
		t.Fatal("Wrap(nil) != nil")
	}
	if Wrapf(nil, "ctx %d", 1) != nil {
		t.Fatal("Wrapf(nil) != nil")
	}
	if WithStack(nil) != nil {
		t.Fatal("WithStack(nil) != nil")
	}
	if EnsureTrace(nil) != nil {
		t.Fatal("EnsureTrace(nil) != nil")
	}
}

func TestWrap_MessageAndUnwrap(t *testing.T) {
	base := errors.New("connection refused")
	err := Wrap(base, "dial redis")

	if got := err.Error(); got != "dial redis: connection refused" {
		t.Fatalf("Error() = %q", got)
	}
	if !errors.Is(err, base) {
		t.Fatal("wrapped error does not unwrap to base")
	}

	hp, ok := err.(hasPC)
	if !ok {
		t.Fatalf("Wrap error does not expose PC, got %T", err)
	}
	if hp.PC() == 0 {
		t.Fatal("Wrap captured zero PC")
	}
}

func TestWrapf_Formats(t *testing.T) {
	base := errors.New("nope")
	err := Wrapf(base, "get parameter %s", "/app/x")
	if !strings.HasPrefix(err.Error(), "get parameter /app/x: ") {
		t.Fatalf("Error() = %q", err.Error())
	}
}

func TestEnsureTrace_DoesNotDoubleStack(t *testing.T) {
	base := New("boom")
	again := EnsureTrace(base)
	if again != base {
		t.Fatal("EnsureTrace re-wrapped an error that already had a stack")
	}
}

func TestEnsureTrace_AddsStackToPlainError(t *testing.T) {
	base := errors.New("plain")
	err := EnsureTrace(base)
	if err == base {
		t.Fatal("EnsureTrace did not wrap a plain error")
	}

	var hs hasStack
	if !errors.As(err, &hs) || len(hs.StackPCs()) == 0 {
		t.Fatal("EnsureTrace did not attach a stack")
	}
	if !errors.Is(err, base) {
		t.Fatal("EnsureTrace broke the error chain")
	}
}

func TestEnsureTrace_FindsStackDeepInChain(t *testing.T) {
	base := New("root")
	outer := fmt.Errorf("outer: %w", base)

	got := EnsureTrace(outer)
	if got != outer {
		t.Fatal("EnsureTrace re-wrapped a chain that already carries a stack")
	}
}

func TestErrorsIs_ThroughWrappers(t *testing.T) {
	sentinel := errors.New("not found")
	err := Wrap(WithStack(sentinel), "load document")
	if !errors.Is(err, sentinel) {
		t.Fatal("errors.Is failed through xerrors wrappers")
	}
}
