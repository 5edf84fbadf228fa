package ratelimit

import (
	"context"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/briefvault/briefvault-api/internal/log"
	"github.com/briefvault/briefvault-api/internal/xerrors"
)

// Decision is the outcome of a single admission check.
type Decision struct {
	Admitted   bool
	Remaining  int
	RetryAfter time.Duration
}

// Store holds the per-key counters. Check performs the whole
// lookup-reset-increment sequence atomically for the given key.
// The gate exclusively owns the entries; nothing else mutates them.
type Store interface {
	Check(ctx context.Context, key string, policy Policy) (Decision, error)
}

// KeyFunc derives a rate limit key from an incoming request, e.g. the
// authenticated user ID or the resolved client IP.
type KeyFunc func(r *http.Request) string

// Gate decides whether requests may proceed under named policies.
type Gate struct {
	store  Store
	logger log.Logger

	mu       sync.RWMutex
	policies map[string]Policy

	keyFunc    KeyFunc
	failClosed bool

	// OnDecision is called for every check with the policy name and
	// outcome (allowed, denied, error). Used for prometheus counters.
	onDecision func(policy, outcome string)

	// onStoreError is called when the backing store fails a check,
	// regardless of the fail-open/fail-closed outcome.
	onStoreError func()

	// denials are logged through this throttle so a single abuser
	// cannot flood the logs
	denyLog *rate.Limiter
}

type GateOption func(*Gate)

// WithKeyFunc sets how the middleware derives keys from requests.
func WithKeyFunc(fn KeyFunc) GateOption {
	return func(g *Gate) { g.keyFunc = fn }
}

// WithFailClosed rejects requests when the backing store errors.
// Default is fail-open: rate limiting is a protective control, not a
// correctness-critical one, so an unreachable store admits with a warning.
func WithFailClosed() GateOption {
	return func(g *Gate) { g.failClosed = true }
}

// WithOnStoreError sets a callback fired on backing store failures.
func WithOnStoreError(fn func()) GateOption {
	return func(g *Gate) { g.onStoreError = fn }
}

// WithOnDecision sets the per-check outcome callback.
func WithOnDecision(fn func(policy, outcome string)) GateOption {
	return func(g *Gate) { g.onDecision = fn }
}

// NewGate validates every policy up front and returns a *ConfigError on the
// first invalid one, so misconfiguration fails startup instead of surfacing
// at request time.
func NewGate(store Store, logger log.Logger, policies []Policy, opts ...GateOption) (*Gate, error) {
	if store == nil {
		return nil, xerrors.New("ratelimit: nil store")
	}
	if logger == nil {
		logger = log.Nop()
	}

	byName := make(map[string]Policy, len(policies))
	for _, p := range policies {
		if err := p.Validate(); err != nil {
			return nil, err
		}
		if _, dup := byName[p.Name]; dup {
			return nil, &ConfigError{Policy: p.Name, Reason: "duplicate policy name"}
		}
		byName[p.Name] = p
	}

	g := &Gate{
		store:    store,
		logger:   logger,
		policies: byName,
		denyLog:  rate.NewLimiter(rate.Every(time.Second), 1),
	}
	for _, o := range opts {
		o(g)
	}
	return g, nil
}

// Check runs the admission decision for callerKey under the named policy.
// Counters are namespaced by policy name, so policies with different windows
// never share an entry.
func (g *Gate) Check(ctx context.Context, callerKey, policyName string) Decision {
	policy, ok := g.Policy(policyName)
	if !ok {
		// Unknown policy means a wiring bug; admit rather than take the
		// endpoint down, and say so.
		g.logger.Warn(ctx, "rate limit policy not found, admitting",
			"policy", policyName,
		)
		if g.onDecision != nil {
			g.onDecision(policyName, "error")
		}
		return Decision{Admitted: true, Remaining: 0}
	}

	key := policy.Name + ":" + callerKey
	d, err := g.store.Check(ctx, key, policy)
	if err != nil {
		if g.onStoreError != nil {
			g.onStoreError()
		}
		if g.onDecision != nil {
			g.onDecision(policy.Name, "error")
		}
		if g.failClosed {
			g.logger.Error(ctx, err, "rate limit store error, rejecting (fail-closed)",
				"policy", policy.Name,
			)
			return Decision{Admitted: false, RetryAfter: policy.Window}
		}
		g.logger.Warn(ctx, "rate limit store error, admitting (fail-open)",
			"policy", policy.Name,
			"error", err.Error(),
		)
		return Decision{Admitted: true, Remaining: 0}
	}

	if g.onDecision != nil {
		if d.Admitted {
			g.onDecision(policy.Name, "allowed")
		} else {
			g.onDecision(policy.Name, "denied")
		}
	}

	if !d.Admitted && g.denyLog.Allow() {
		g.logger.Warn(ctx, "rate limit exceeded",
			"policy", policy.Name,
			"key", callerKey,
			"retry_after", d.RetryAfter.String(),
		)
	}

	return d
}

// Policy returns the named policy from the current set.
func (g *Gate) Policy(name string) (Policy, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	p, ok := g.policies[name]
	return p, ok
}

// SetPolicies atomically replaces the active policy set. Invalid sets are
// rejected whole so a bad runtime update never degrades a running gate.
func (g *Gate) SetPolicies(policies []Policy) error {
	byName := make(map[string]Policy, len(policies))
	for _, p := range policies {
		if err := p.Validate(); err != nil {
			return err
		}
		if _, dup := byName[p.Name]; dup {
			return &ConfigError{Policy: p.Name, Reason: "duplicate policy name"}
		}
		byName[p.Name] = p
	}

	g.mu.Lock()
	g.policies = byName
	g.mu.Unlock()
	return nil
}

// PolicyNames returns the names in the current set, for logging.
func (g *Gate) PolicyNames() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	names := make([]string, 0, len(g.policies))
	for name := range g.policies {
		names = append(names, name)
	}
	return names
}
