package version

import "testing"

func TestGet_Defaults(t *testing.T) {
	vi := Get()

	if vi.AppName != AppName {
		t.Errorf("AppName = %q, want %q", vi.AppName, AppName)
	}
	if vi.Version == "" {
		t.Error("Version is empty")
	}
	// GoVersion is always available via ReadBuildInfo in tests
	if vi.GoVersion == "" {
		t.Error("GoVersion is empty")
	}
}

func TestGet_DoesNotMutateGlobals(t *testing.T) {
	before := Version
	_ = Get()
	if Version != before {
		t.Errorf("Get mutated Version: %q -> %q", before, Version)
	}
}
