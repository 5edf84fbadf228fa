// Package ratelimit is a fixed-window request gate for per-caller rate limiting.
//
// Each caller key gets a counter that resets when its window elapses. A request
// is admitted while the counter is below the policy ceiling and rejected with a
// retry-after hint otherwise. The check-and-increment step is atomic per call,
// so concurrent requests can never over-admit past the ceiling.
//
// Two backing stores are provided:
//   - MemoryStore: mutex-guarded map with background eviction. State is local to
//     the process, so limits apply per instance, not globally.
//   - RedisStore: a Lua script runs the same window logic server-side, giving a
//     single global limit across replicas.
//
// What this does protect against:
//   - a single caller flooding the app (connection/goroutine exhaustion)
//   - gives observability insight into who/what/when/where/how
//   - single log entry per second for denials to prevent log spam, metrics for counting every denial
//
// What this does NOT protect against:
//   - distributed attacks across many caller identities
//   - bandwidth-bill attacks, inbound data is already accepted by the time this runs
package ratelimit
