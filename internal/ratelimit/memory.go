package ratelimit

import (
	"context"
	"sync"
	"time"
)

// entry tracks one key's counter within its current window.
type entry struct {
	count       int
	windowStart time.Time

	// window is recorded so the sweeper can expire entries belonging to
	// policies with different window sizes
	window time.Duration
}

// MemoryStore is an in-process fixed-window counter table.
//
// Safe for concurrent use. State is local to the process: each instance
// enforces its own limit, which only approximates a global one. Deploy
// RedisStore when replicas must share a single ceiling.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*entry

	// now is injectable for tests
	now func() time.Time

	sweepInterval time.Duration

	// maxKeys bounds the entry table. 0 means unlimited. When full, requests
	// for unseen keys are rejected rather than growing the map; existing keys
	// are unaffected.
	maxKeys int

	// OnCapacity is called each time a new key is turned away at capacity
	onCapacity func()
}

type MemoryOption func(*MemoryStore)

// WithSweepInterval controls how often the background sweep runs.
func WithSweepInterval(d time.Duration) MemoryOption {
	return func(s *MemoryStore) { s.sweepInterval = d }
}

// WithMaxKeys caps the number of tracked keys.
func WithMaxKeys(n int) MemoryOption {
	return func(s *MemoryStore) { s.maxKeys = n }
}

// WithOnCapacity sets a callback invoked when the key cap turns a request away.
func WithOnCapacity(fn func()) MemoryOption {
	return func(s *MemoryStore) { s.onCapacity = fn }
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) { s.now = now }
}

// NewMemoryStore creates the store and starts the background sweep goroutine.
// The provided context cancels the sweeper on app shutdown.
func NewMemoryStore(ctx context.Context, opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		entries:       make(map[string]*entry),
		now:           time.Now,
		sweepInterval: time.Minute,
	}
	for _, o := range opts {
		o(s)
	}
	go s.sweep(ctx)
	return s
}

// Check performs the lookup-reset-increment sequence atomically under the
// store lock:
//
//  1. absent or expired entry: reset with count=0, windowStart=now
//  2. count at the ceiling: reject with the time left in the window
//  3. otherwise increment and admit
func (s *MemoryStore) Check(_ context.Context, key string, policy Policy) (Decision, error) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	e, exists := s.entries[key]
	if !exists {
		if s.maxKeys > 0 && len(s.entries) >= s.maxKeys {
			if s.onCapacity != nil {
				s.onCapacity()
			}
			return Decision{Admitted: false, RetryAfter: policy.Window}, nil
		}
		e = &entry{}
		s.entries[key] = e
		e.windowStart = now
		e.window = policy.Window
	} else if now.Sub(e.windowStart) >= policy.Window {
		e.count = 0
		e.windowStart = now
		e.window = policy.Window
	}

	if e.count >= policy.MaxRequests {
		retryAfter := policy.Window - now.Sub(e.windowStart)
		if retryAfter < 0 {
			retryAfter = 0
		}
		return Decision{Admitted: false, Remaining: 0, RetryAfter: retryAfter}, nil
	}

	e.count++
	remaining := policy.MaxRequests - e.count
	if remaining < 0 {
		remaining = 0
	}
	return Decision{Admitted: true, Remaining: remaining}, nil
}

// Len reports the current number of tracked keys, for the metrics gauge.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// sweep periodically purges entries whose window expired more than two
// windows ago, so memory is bounded by distinct recently-active keys.
func (s *MemoryStore) sweep(ctx context.Context) {
	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepOnce()
		}
	}
}

func (s *MemoryStore) sweepOnce() {
	now := s.now()
	s.mu.Lock()
	for key, e := range s.entries {
		if now.Sub(e.windowStart) > 3*e.window {
			delete(s.entries, key)
		}
	}
	s.mu.Unlock()
}
