package httpserver

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/briefvault/briefvault-api/internal/httpmw"
	"github.com/briefvault/briefvault-api/internal/log"
	"github.com/briefvault/briefvault-api/internal/probe"
)

type Options struct {
	Logger       log.Logger
	Port         int
	UseRecoverMW bool
	OnPanic      func() // Optional callback for when panics are recovered
	MetricsMW    func(http.Handler) http.Handler
	RateLimitMW  func(http.Handler) http.Handler // Global per-client limiter
	ClientIPOpts httpmw.ClientIPOptions
	Health       probe.Probe
	Readiness    probe.Probe

	// APIRoutes registers the application's routes on the router.
	APIRoutes func(chi.Router)

	// MaxBodyBytes caps request bodies server-wide. Must be at least the
	// document upload limit. Zero means DefaultMaxBodyBytes.
	MaxBodyBytes int64
}
