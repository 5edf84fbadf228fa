package cfg

import (
	"errors"
	"flag"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"

	"github.com/briefvault/briefvault-api/internal/log"
	"github.com/briefvault/briefvault-api/internal/ratelimit"
)

type App struct {
	LogJSON         bool
	LogLevel        string
	StacktraceLevel string

	HTTPPort    int
	AdminPort   int
	TrustedHops int

	EnablePprof     bool
	EnablePyroscope bool
	EnableTracing   bool
	PyroServer      string
	PyroTenantID    string
	OTLPEndpoint    string
	TraceSample     float64

	PostgresDSN string
	RedisAddr   string
	QueueName   string

	DocsS3Bucket string
	DocsS3Prefix string
	MaxUploadMB  int64

	AuditSigningKeyARN string

	RateLimitBackend    string
	RateLimitFailClosed bool
	RateLimitMaxKeys    int
	PoliciesJSON        string
	EnablePolicyUpdates bool
	PolicySSMParam      string

	DrainSeconds int
}

// Register binds all config fields to the given FlagSet with defaults inline
func Register(fs *flag.FlagSet, c *App) {
	fs.BoolVar(&c.LogJSON, "log-json", true, "JSON logs (true) or logfmt (false)")
	fs.StringVar(&c.LogLevel, "log-level", "info", "debug|info|warn|error")
	fs.StringVar(&c.StacktraceLevel, "stacktrace-level", "error", "debug|info|warn|error")
	fs.IntVar(&c.HTTPPort, "http-port", 8080, "listen TCP port (1..65535)")
	fs.IntVar(&c.AdminPort, "admin-port", 9000, "admin listen TCP port (1..65535)")
	fs.IntVar(&c.TrustedHops, "trusted-hops", 1, "reverse proxies between client and server (0..10)")
	fs.BoolVar(&c.EnablePprof, "enable-pprof", true, "Enable pprof profiling (on admin port only)")
	fs.BoolVar(&c.EnableTracing, "enable-tracing", false, "Enable OTLP tracing and push to otlp-endpoint")
	fs.BoolVar(&c.EnablePyroscope, "enable-pyroscope", false, "Enable pushing Pyroscope data to server set in -pyro-server")
	fs.StringVar(&c.PyroServer, "pyro-server", "", "pyroscope server url to push to")
	fs.StringVar(&c.PyroTenantID, "pyro-tenant", "", "tenant (x-scope-orgid) to use for pyro-server")
	fs.StringVar(&c.OTLPEndpoint, "otlp-endpoint", "", "OTLP endpoint to push to (gRPC) (host:port)")
	fs.Float64Var(&c.TraceSample, "trace-sample", 0.0, "trace sampling ratio (0..1)")
	fs.StringVar(&c.PostgresDSN, "postgres-dsn", "", "postgres connection string")
	fs.StringVar(&c.RedisAddr, "redis-addr", "localhost:6379", "redis address (host:port)")
	fs.StringVar(&c.QueueName, "queue-name", "document-processing", "processing queue name")
	fs.StringVar(&c.DocsS3Bucket, "docs-s3-bucket", "", "s3 bucket for document content")
	fs.StringVar(&c.DocsS3Prefix, "docs-s3-prefix", "documents", "s3 key prefix for document content")
	fs.Int64Var(&c.MaxUploadMB, "max-upload-mb", 50, "document upload size cap in MiB (1..1024)")
	fs.StringVar(&c.AuditSigningKeyARN, "audit-signing-key-arn", "", "KMS key ARN for audit export signing")
	fs.StringVar(&c.RateLimitBackend, "ratelimit-backend", "memory", "rate limit store: memory|redis")
	fs.BoolVar(&c.RateLimitFailClosed, "ratelimit-fail-closed", false, "reject requests when the rate limit store errors")
	fs.IntVar(&c.RateLimitMaxKeys, "ratelimit-max-keys", 100000, "max distinct keys tracked by the memory store (1..10000000)")
	fs.StringVar(&c.PoliciesJSON, "ratelimit-policies", "", "JSON rate limit policies (empty = built-in defaults)")
	fs.BoolVar(&c.EnablePolicyUpdates, "enable-policy-updates", true, "Enable refreshing rate limit policies from SSM")
	fs.StringVar(&c.PolicySSMParam, "policy-ssm-param", "/app/briefvault-api/ratelimit/policies", "ssm parameter name holding rate limit policies JSON")
	fs.IntVar(&c.DrainSeconds, "drain-seconds", 25, "graceful shutdown drain period in seconds (0..300)")
}

// FillFromEnv sets any flag not explicitly passed on the CLI from
// environment variables. Flag "foo-bar" maps to PREFIX_FOO_BAR.
// Precedence: cli flag > env var > default.
func FillFromEnv(fs *flag.FlagSet, prefix string, logf func(string, ...any)) {
	explicit := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { explicit[f.Name] = true })

	fs.VisitAll(func(f *flag.Flag) {
		key := prefix + strings.ReplaceAll(strings.ToUpper(f.Name), "-", "_")
		envVal, envSet := os.LookupEnv(key)
		if !envSet {
			return
		}
		if explicit[f.Name] {
			if logf != nil {
				logf("flag -%s: cli value %q overrides env %s=%q", f.Name, f.Value.String(), key, envVal)
			}
			return
		}
		prev := f.Value.String()
		if err := fs.Set(f.Name, envVal); err != nil {
			fs.Set(f.Name, prev)
			if logf != nil {
				logf("flag -%s: ignoring invalid env %s=%q: %v", f.Name, key, envVal, err)
			}
		}
	})
}

// Validate checks that config values are within expected ranges and formats.
// Returns an error describing all invalid fields, or nil if all valid.
func Validate(c App) error {
	var errs []error

	// Ports
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.HTTPPort))
	}
	if c.AdminPort < 1 || c.AdminPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid ADMIN_PORT %d (must be 1..65535)", c.AdminPort))
	}
	if c.AdminPort == c.HTTPPort {
		errs = append(errs, fmt.Errorf("ADMIN_PORT and HTTP_PORT must differ (both %d)", c.HTTPPort))
	}

	if c.TrustedHops < 0 || c.TrustedHops > 10 {
		errs = append(errs, fmt.Errorf("TRUSTED_HOPS must be 0..10 (got %d)", c.TrustedHops))
	}

	// Log levels
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("invalid LOG_LEVEL %q: %w", c.LogLevel, err))
	}
	if c.StacktraceLevel != "" {
		if _, err := log.ParseLevel(c.StacktraceLevel); err != nil {
			errs = append(errs, fmt.Errorf("invalid STACKTRACE_LEVEL %q: %w", c.StacktraceLevel, err))
		}
	}

	// Tracing sample
	if c.TraceSample < 0 || c.TraceSample > 1 {
		errs = append(errs, fmt.Errorf("invalid TRACE_SAMPLE %.3f (must be 0..1)", c.TraceSample))
	}

	// Pyroscope (URL and scheme)
	if c.EnablePyroscope {
		if c.PyroServer == "" {
			errs = append(errs, fmt.Errorf("PYRO_SERVER required when ENABLE_PYROSCOPE=true"))
		} else if u, err := url.Parse(c.PyroServer); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("PYRO_SERVER must be a URL (got %q)", c.PyroServer))
		}
		if c.PyroTenantID == "" {
			errs = append(errs, fmt.Errorf("PYRO_TENANT required when ENABLE_PYROSCOPE=true"))
		}
	}

	// OTLP tracing (grpc exporter wants host:port, no scheme)
	if c.EnableTracing {
		if c.OTLPEndpoint == "" {
			errs = append(errs, fmt.Errorf("OTLP_ENDPOINT required when ENABLE_TRACING=true"))
		} else if _, _, err := net.SplitHostPort(c.OTLPEndpoint); err != nil {
			errs = append(errs, fmt.Errorf("OTLP_ENDPOINT must be host:port (got %q): %v", c.OTLPEndpoint, err))
		}
	}

	// Data stores
	if c.PostgresDSN == "" {
		errs = append(errs, fmt.Errorf("POSTGRES_DSN is required"))
	}
	if c.RedisAddr == "" {
		errs = append(errs, fmt.Errorf("REDIS_ADDR is required"))
	} else if _, _, err := net.SplitHostPort(c.RedisAddr); err != nil {
		errs = append(errs, fmt.Errorf("REDIS_ADDR must be host:port (got %q): %v", c.RedisAddr, err))
	}
	if c.QueueName == "" {
		errs = append(errs, fmt.Errorf("QUEUE_NAME is required"))
	}

	// Document storage
	if c.DocsS3Bucket == "" {
		errs = append(errs, fmt.Errorf("DOCS_S3_BUCKET is required"))
	}
	if c.MaxUploadMB < 1 || c.MaxUploadMB > 1024 {
		errs = append(errs, fmt.Errorf("MAX_UPLOAD_MB must be 1..1024 (got %d)", c.MaxUploadMB))
	}

	// Audit exports cannot be produced without the signing key.
	if c.AuditSigningKeyARN == "" {
		errs = append(errs, fmt.Errorf("AUDIT_SIGNING_KEY_ARN is required"))
	}

	// Rate limiting
	switch c.RateLimitBackend {
	case "memory", "redis":
	default:
		errs = append(errs, fmt.Errorf("RATELIMIT_BACKEND must be memory or redis (got %q)", c.RateLimitBackend))
	}
	if c.RateLimitMaxKeys < 1 || c.RateLimitMaxKeys > 10_000_000 {
		errs = append(errs, fmt.Errorf("RATELIMIT_MAX_KEYS must be 1..10000000 (got %d)", c.RateLimitMaxKeys))
	}
	if c.PoliciesJSON != "" {
		if _, err := ratelimit.ParsePolicies([]byte(c.PoliciesJSON)); err != nil {
			errs = append(errs, fmt.Errorf("invalid RATELIMIT_POLICIES: %w", err))
		}
	}
	if c.EnablePolicyUpdates && c.PolicySSMParam == "" {
		errs = append(errs, fmt.Errorf("POLICY_SSM_PARAM is required when ENABLE_POLICY_UPDATES=true"))
	}

	if c.DrainSeconds < 0 || c.DrainSeconds > 300 {
		errs = append(errs, fmt.Errorf("DRAIN_SECONDS must be 0..300 (got %d)", c.DrainSeconds))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
