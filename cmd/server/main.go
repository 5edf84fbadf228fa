package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/redis/go-redis/v9"

	"github.com/briefvault/briefvault-api/internal/api"
	"github.com/briefvault/briefvault-api/internal/cfg"
	"github.com/briefvault/briefvault-api/internal/cryptoutil"
	"github.com/briefvault/briefvault-api/internal/data"
	"github.com/briefvault/briefvault-api/internal/docstore"
	"github.com/briefvault/briefvault-api/internal/httpmw"
	"github.com/briefvault/briefvault-api/internal/httpserver"
	"github.com/briefvault/briefvault-api/internal/log"
	"github.com/briefvault/briefvault-api/internal/metrics"
	"github.com/briefvault/briefvault-api/internal/opshttp"
	"github.com/briefvault/briefvault-api/internal/otelx"
	"github.com/briefvault/briefvault-api/internal/probe"
	"github.com/briefvault/briefvault-api/internal/prof"
	"github.com/briefvault/briefvault-api/internal/queue"
	"github.com/briefvault/briefvault-api/internal/ratelimit"
	v "github.com/briefvault/briefvault-api/internal/version"
)

const queueStatsInterval = 15 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	vi := v.Get()

	var conf cfg.App
	var showVersion bool

	// Parse config from flags and env
	cfg.Register(flag.CommandLine, &conf)
	flag.BoolVar(&showVersion, "V", false, "Print version+build information and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf(
			"%s %s (commit=%s, commit_date=%s, build_id=%s, build_date=%s, go=%s, dirty=%v)\n",
			vi.AppName, vi.Version, vi.Commit, vi.CommitDate, vi.BuildId, vi.BuildDate, vi.GoVersion,
			vi.VCSDirty != nil && *vi.VCSDirty,
		)
		os.Exit(0)
	}

	cfg.FillFromEnv(flag.CommandLine, "BRIEFVAULT_", func(format string, args ...any) {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	})

	if err := cfg.Validate(conf); err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(1)
	}

	// Setup logging
	lvl, err := log.ParseLevel(conf.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid log level %s: %v\n", conf.LogLevel, err)
		os.Exit(1)
	}
	stLvl, err := log.ParseLevel(conf.StacktraceLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid stacktrace level %s: %v\n", conf.StacktraceLevel, err)
		os.Exit(1)
	}
	lg, err := log.New(log.Options{
		App:             v.AppName,
		Level:           lvl,
		StacktraceLevel: stLvl,
		JsonFormat:      conf.LogJSON,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger init error:", err)
		os.Exit(1)
	}
	defer lg.Sync()
	L := lg.With("component", "server")
	ctx = log.WithContext(ctx, L)

	L.Info(ctx, "initializing application",
		"version", vi.Version,
		"commit", vi.Commit,
		"build_id", vi.BuildId,
		"go_version", vi.GoVersion,
		"http_port", conf.HTTPPort,
		"admin_port", conf.AdminPort,
		"enable_pprof", conf.EnablePprof,
		"enable_pyroscope", conf.EnablePyroscope,
		"enable_tracing", conf.EnableTracing,
		"enable_policy_updates", conf.EnablePolicyUpdates,
		"ratelimit_backend", conf.RateLimitBackend,
		"ratelimit_fail_closed", conf.RateLimitFailClosed,
		"queue_name", conf.QueueName,
		"docs_s3_bucket", conf.DocsS3Bucket,
		"docs_s3_prefix", conf.DocsS3Prefix,
		"max_upload_mb", conf.MaxUploadMB,
		"policy_ssm_param", conf.PolicySSMParam,
		"drain_seconds", conf.DrainSeconds,
	)

	// Setup pyroscope profiling
	stopProf, err := prof.Start(ctx, prof.Options{
		Enabled:       conf.EnablePyroscope,
		AppName:       v.AppName,
		ServerAddress: conf.PyroServer,
		TenantID:      conf.PyroTenantID,
		Tags: map[string]string{
			"app":       v.AppName,
			"component": "server",
			"version":   vi.Version,
			"commit":    vi.Commit,
			"build_id":  vi.BuildId,
			"source":    "go-agent",
		},
	})
	if err != nil {
		L.Error(ctx, err, "pyroscope start failed", "pyro_server", conf.PyroServer)
	}
	defer func() { stopProf() }()

	// Setup otel for tracing
	// Insecure is true because we are only writing to a collector on localhost
	shutdownOTEL, err := otelx.Init(ctx, otelx.Options{
		Enabled:   conf.EnableTracing,
		Endpoint:  conf.OTLPEndpoint,
		Insecure:  true,
		Sample:    conf.TraceSample,
		Service:   v.AppName,
		Component: "server",
		Version:   vi.Version,
	})
	if err != nil {
		L.Error(ctx, err, "otel init failed")
	}
	defer func() { _ = shutdownOTEL(context.Background()) }()

	m := metrics.New()
	m.SetBuildInfoFromVersion(v.AppName, "server", vi)
	m.SetProfilingActive(conf.EnablePyroscope)

	// Postgres
	var pool data.PoolWrapper
	if err := pool.CreatePool(ctx, conf.PostgresDSN); err != nil {
		L.Error(ctx, err, "failed to create postgres pool")
		os.Exit(1)
	}
	defer pool.Close()
	models := data.NewModels(&pool)

	// Redis, shared by the job queue and the redis rate limit backend
	redisClient := redis.NewClient(&redis.Options{Addr: conf.RedisAddr})
	defer redisClient.Close()

	jobQueue, err := queue.New(redisClient, conf.QueueName)
	if err != nil {
		L.Error(ctx, err, "failed to create job queue")
		os.Exit(1)
	}

	// AWS clients
	awsCfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		L.Error(ctx, err, "failed to load AWS config")
		os.Exit(1)
	}
	s3Client := s3.NewFromConfig(awsCfg)
	kmsClient := kms.NewFromConfig(awsCfg)

	blobs, err := docstore.New(s3Client, conf.DocsS3Bucket, conf.DocsS3Prefix)
	if err != nil {
		L.Error(ctx, err, "failed to create document store")
		os.Exit(1)
	}

	signer, err := cryptoutil.NewKMSSigner(kmsClient, conf.AuditSigningKeyARN)
	if err != nil {
		L.Error(ctx, err, "failed to create audit export signer")
		os.Exit(1)
	}

	// Rate limit policies: explicit document wins, defaults otherwise
	policies := ratelimit.DefaultPolicies()
	if conf.PoliciesJSON != "" {
		policies, err = ratelimit.ParsePolicies([]byte(conf.PoliciesJSON))
		if err != nil {
			L.Error(ctx, err, "invalid rate limit policy document")
			os.Exit(1)
		}
	}

	var gateStore ratelimit.Store
	var memStore *ratelimit.MemoryStore
	switch conf.RateLimitBackend {
	case "redis":
		rs, err := ratelimit.NewRedisStore(redisClient)
		if err != nil {
			L.Error(ctx, err, "failed to create redis rate limit store")
			os.Exit(1)
		}
		gateStore = rs
	default:
		memStore = ratelimit.NewMemoryStore(ctx,
			ratelimit.WithMaxKeys(conf.RateLimitMaxKeys),
			ratelimit.WithOnCapacity(func() {
				m.IncRateLimitCapacity()
				L.Warn(ctx, "rate limit store at capacity, new keys rejected until eviction")
			}),
		)
		gateStore = memStore
	}

	gateOpts := []ratelimit.GateOption{
		ratelimit.WithKeyFunc(api.RateLimitKey),
		ratelimit.WithOnDecision(m.IncRateLimitDecision),
		ratelimit.WithOnStoreError(func() {
			m.IncRateLimitStoreError(conf.RateLimitBackend)
		}),
	}
	if conf.RateLimitFailClosed {
		gateOpts = append(gateOpts, ratelimit.WithFailClosed())
	}
	gate, err := ratelimit.NewGate(gateStore, L, policies, gateOpts...)
	if err != nil {
		L.Error(ctx, err, "failed to create rate limit gate")
		os.Exit(1)
	}

	// Hot policy updates from SSM
	if conf.EnablePolicyUpdates {
		ssmClient := ssm.NewFromConfig(awsCfg)
		fetcher, err := ratelimit.NewSSMFetcher(ssmClient, conf.PolicySSMParam)
		if err != nil {
			L.Error(ctx, err, "failed to create policy fetcher")
			os.Exit(1)
		}
		watcher := ratelimit.NewWatcher(&ratelimit.WatcherOptions{
			Logger:  L,
			Fetcher: fetcher,
			Gate:    gate,
			Metrics: m,
			OnSwap: func(names []string) {
				L.Info(ctx, "rate limit policies updated", "policies", names)
			},
		})
		go func() {
			if err := watcher.Run(ctx); err != nil && ctx.Err() == nil {
				L.Error(ctx, err, "policy watcher stopped")
			}
		}()
	}

	// Periodic gauges: queue depth per state, tracked rate limit keys
	go func() {
		ticker := time.NewTicker(queueStatsInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				stats, err := jobQueue.Stats(ctx)
				if err != nil {
					L.Warn(ctx, "queue stats poll failed", "error", err)
					continue
				}
				for state, depth := range stats.Depths() {
					m.SetQueueDepth(state, depth)
				}
				if memStore != nil {
					m.SetRateLimitTrackedKeys(memStore.Len())
				}
			}
		}
	}()

	apiSrv, err := api.New(api.Options{
		Organizations:  models.Organization,
		Users:          models.User,
		Matters:        models.Matter,
		Documents:      models.Document,
		Frameworks:     models.Framework,
		Audit:          models.Audit,
		Blobs:          blobs,
		Jobs:           jobQueue,
		Signer:         signer,
		Gate:           gate,
		Metrics:        m,
		Logger:         L,
		MaxUploadBytes: conf.MaxUploadMB << 20,
	})
	if err != nil {
		L.Error(ctx, err, "failed to create api")
		os.Exit(1)
	}

	var sdGate probe.ShutdownGate

	// Readiness requires the shutdown gate open and the database reachable.
	readiness := probe.All(
		sdGate.Probe(),
		probe.Func(func(ctx context.Context) error {
			return pool.Ping(ctx)
		}),
	)

	// The global body cap must clear the upload route's own limit.
	maxBody := conf.MaxUploadMB<<20 + 1<<20

	apiHTTPStop, err := httpserver.Start(ctx, &httpserver.Options{
		Logger:       L,
		Port:         conf.HTTPPort,
		Health:       probe.Static(true, ""),
		Readiness:    readiness,
		APIRoutes:    apiSrv.RegisterRoutes,
		UseRecoverMW: true,
		OnPanic:      m.IncHttpPanic,
		MetricsMW:    m.Middleware,
		RateLimitMW:  gate.Limit("global"),
		ClientIPOpts: httpmw.ClientIPOptions{TrustedHops: conf.TrustedHops},
		MaxBodyBytes: maxBody,
	})
	if err != nil {
		L.Error(ctx, err, "failed to start api http listener")
		os.Exit(1)
	}
	defer func() { _ = apiHTTPStop(context.Background()) }()

	// Admin/ops listener serves metrics, health checks and pprof.
	// The security group restricts inbound to internal monitoring infrastructure;
	// we also reject connections from public ips in middleware in case the
	// sg is ever misconfigured or a load balancer sends traffic there.
	opsHTTPStop, err := opshttp.Start(ctx, L, &opshttp.Options{
		Port:         conf.AdminPort,
		Metrics:      m.Handler(),
		EnablePprof:  conf.EnablePprof,
		Health:       probe.Static(true, ""),
		Readiness:    readiness,
		UseRecoverMW: true,
		OnPanic:      m.IncHttpPanic,
	})
	if err != nil {
		L.Error(ctx, err, "failed to start ops http listener")
		os.Exit(1)
	}
	defer func() { _ = opsHTTPStop(context.Background()) }()

	// notify systemd that we started successfully if started under systemd
	if err := notifySystemd(); err != nil {
		// log and dont exit, worst case systemd will kill the process after timeout
		L.Warn(ctx, "failed to notify systemd of readiness", "error", err)
	}

	// block until signal so we dont exit
	sigCtx, stopSig := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSig()
	<-sigCtx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	L.Info(context.Background(), "shutdown signal received")

	// fail readiness to drain connections
	sdGate.Set("draining")
	L.Info(context.Background(), "shutdown gate closed")

	// wait for in-flight requests to finish and the load balancer to see us unready
	drain := time.Duration(conf.DrainSeconds) * time.Second
	L.Info(context.Background(), "draining before shutdown", "drain_seconds", conf.DrainSeconds)
	forceCh := make(chan os.Signal, 1)
	signal.Notify(forceCh, os.Interrupt, syscall.SIGTERM)
	select {
	case <-time.After(drain):
		L.Info(context.Background(), "drain period complete")
	case <-forceCh:
		L.Warn(context.Background(), "second signal received, skipping drain")
	}
	signal.Stop(forceCh)

	if err := apiHTTPStop(shutdownCtx); err != nil {
		L.Error(context.Background(), err, "api http server shutdown")
	}

	if err := opsHTTPStop(shutdownCtx); err != nil {
		L.Error(context.Background(), err, "ops http server shutdown")
	}

	if err := shutdownOTEL(shutdownCtx); err != nil {
		L.Error(context.Background(), err, "otel shutdown")
	}

	stopProf()

	L.Info(context.Background(), "shutdown complete")
	os.Exit(0)
}

func notifySystemd() error {
	// systemd will set NOTIFY_SOCKET to a unix socket path if we were started under systemd with type=notify
	addr := os.Getenv("NOTIFY_SOCKET")
	if addr == "" {
		return fmt.Errorf("NOTIFY_SOCKET not set, skipping systemd notify")
	}
	conn, err := net.Dial("unixgram", addr)
	if err != nil {
		return fmt.Errorf("systemd notify failed: dial failed: %w", err)
	}
	conn.Write([]byte("READY=1"))
	if err := conn.Close(); err != nil {
		return fmt.Errorf("systemd notify failed: close failed: %w", err)
	}
	return nil
}
