package ratelimit

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/briefvault/briefvault-api/internal/xerrors"
)

// Policy defines one rate limit rule: at most MaxRequests admissions per key
// within each Window. Read-only after startup; the watcher swaps whole sets,
// never mutates a Policy in place.
type Policy struct {
	Name        string        `json:"name"`
	Window      time.Duration `json:"-"`
	MaxRequests int           `json:"max_requests"`

	// WindowMs is the wire form of Window for JSON policy documents.
	WindowMs int64 `json:"window_ms"`
}

// ConfigError reports an invalid policy. Fatal at setup time: callers should
// fail application startup rather than degrade silently at request time.
type ConfigError struct {
	Policy string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("ratelimit: invalid policy %q: %s", e.Policy, e.Reason)
}

// Validate returns a *ConfigError when the policy cannot be enforced.
func (p Policy) Validate() error {
	if p.Name == "" {
		return &ConfigError{Policy: p.Name, Reason: "name is empty"}
	}
	if p.Window <= 0 {
		return &ConfigError{Policy: p.Name, Reason: "window must be > 0"}
	}
	if p.MaxRequests <= 0 {
		return &ConfigError{Policy: p.Name, Reason: "max_requests must be > 0"}
	}
	return nil
}

// DefaultPolicies returns the built-in policy set. Overridable by the
// policies flag/env and by the policy watcher at runtime.
func DefaultPolicies() []Policy {
	return []Policy{
		{Name: "global", Window: time.Minute, MaxRequests: 300},
		{Name: "read", Window: time.Minute, MaxRequests: 120},
		{Name: "write", Window: time.Minute, MaxRequests: 30},
		{Name: "upload", Window: time.Minute, MaxRequests: 10},
		{Name: "export", Window: time.Hour, MaxRequests: 5},
	}
}

// ParsePolicies decodes a JSON policy document, e.g.
//
//	[{"name":"upload","window_ms":60000,"max_requests":10}]
//
// Every entry is validated; one bad policy rejects the whole document.
func ParsePolicies(data []byte) ([]Policy, error) {
	var raw []Policy
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, xerrors.Wrap(err, "parse rate limit policies")
	}

	seen := make(map[string]bool, len(raw))
	out := make([]Policy, 0, len(raw))
	for _, p := range raw {
		p.Window = time.Duration(p.WindowMs) * time.Millisecond
		if err := p.Validate(); err != nil {
			return nil, err
		}
		if seen[p.Name] {
			return nil, &ConfigError{Policy: p.Name, Reason: "duplicate policy name"}
		}
		seen[p.Name] = true
		out = append(out, p)
	}
	if len(out) == 0 {
		return nil, xerrors.New("ratelimit: policy document contains no policies")
	}
	return out, nil
}
