package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/briefvault/briefvault-api/internal/version"
)

type ServerMetrics struct {
	reg      *prometheus.Registry
	handler  http.Handler
	inflight prometheus.Gauge
	reqTotal *prometheus.CounterVec
	reqDur   *prometheus.HistogramVec

	respBytes      *prometheus.HistogramVec
	httpPanicTotal prometheus.Counter
	buildInfo      *prometheus.GaugeVec

	errorsTotal *prometheus.CounterVec

	profilingActive prometheus.Gauge

	// rate limiter metrics
	ratelimitDecisions     *prometheus.CounterVec
	ratelimitCapacityTotal prometheus.Counter
	ratelimitStoreErrors   *prometheus.CounterVec
	ratelimitTrackedKeys   prometheus.Gauge

	// domain metrics
	documentsUploadedTotal prometheus.Counter
	documentBytesTotal     prometheus.Counter
	auditEventsTotal       *prometheus.CounterVec
	auditExportsTotal      prometheus.Counter
	queueDepth             *prometheus.GaugeVec
	queueEnqueuedTotal     prometheus.Counter

	// policy watcher metrics
	policyPollsTotal     prometheus.Counter
	policySwapsTotal     prometheus.Counter
	policyErrorsTotal    *prometheus.CounterVec
	policyLastSuccessTs  prometheus.Gauge
	policyLoadedTimestmp prometheus.Gauge
}

// New returns a fresh registry + standard collectors + HTTP metrics
// safe labels only (method, route, code) to avoid path/cardinality explosions
func New() *ServerMetrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &ServerMetrics{
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "http_inflight_requests",
			Help: "Current number of in-flight HTTP requests",
		}),
		reqTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests by method, route, and status",
		}, []string{"method", "route", "status"}),
		reqDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Request latency by method and route",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"method", "route"}),
		respBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_response_size_bytes",
			Help:    "Response size by method and route",
			Buckets: []float64{256, 1024, 4096, 16384, 65536, 262144, 1048576, 4194304, 16777216, 52428800},
		}, []string{"method", "route"}),
		httpPanicTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "http_panic_total",
			Help: "Total number of recovered httpserver panics",
		}),
		buildInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "build_info",
			Help: "Build metadata (value is always 1)",
		}, []string{"app", "component", "version", "commit", "commit_date", "build_id", "build_date", "vcs_dirty", "go_version"}),
		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_errors_total",
			Help: "Total 5xx HTTP server errors by method and route (SLI)",
		}, []string{"method", "route"}),
		profilingActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "profiling_active",
			Help: "Whether continuous profiling is active (1) or disabled/failed (0)",
		}),
		ratelimitDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ratelimit_decisions_total",
			Help: "Rate limiter decisions by policy and outcome (allowed, denied, error)",
		}, []string{"policy", "outcome"}),
		ratelimitCapacityTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ratelimit_capacity_evictions_total",
			Help: "Total number of times the in-memory limiter hit its key capacity",
		}),
		ratelimitStoreErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ratelimit_store_errors_total",
			Help: "Rate limiter backing store errors by store type",
		}, []string{"store"}),
		ratelimitTrackedKeys: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ratelimit_tracked_keys",
			Help: "Current number of keys tracked by the in-memory limiter",
		}),
		documentsUploadedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "documents_uploaded_total",
			Help: "Total documents accepted for processing",
		}),
		documentBytesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "documents_uploaded_bytes_total",
			Help: "Total bytes of document content accepted",
		}),
		auditEventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "audit_events_total",
			Help: "Audit events recorded by action",
		}, []string{"action"}),
		auditExportsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "audit_exports_total",
			Help: "Total signed audit log exports",
		}),
		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "processing_queue_depth",
			Help: "Document processing queue depth by state",
		}, []string{"state"}),
		queueEnqueuedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "processing_jobs_enqueued_total",
			Help: "Total processing jobs enqueued",
		}),
		policyPollsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ratelimit_policy_polls_total",
			Help: "Total number of policy watcher poll cycles",
		}),
		policySwapsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ratelimit_policy_swaps_total",
			Help: "Total number of successful policy set swaps",
		}),
		policyErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ratelimit_policy_errors_total",
			Help: "Total policy watcher errors by type",
		}, []string{"type"}),
		policyLastSuccessTs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ratelimit_policy_last_success_timestamp_seconds",
			Help: "Unix timestamp of the last successful policy poll",
		}),
		policyLoadedTimestmp: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ratelimit_policy_loaded_timestamp_seconds",
			Help: "Unix timestamp of when the current policy set was loaded",
		}),
	}
	reg.MustRegister(
		m.inflight,
		m.reqTotal,
		m.reqDur,
		m.respBytes,
		m.httpPanicTotal,
		m.buildInfo,
		m.errorsTotal,
		m.profilingActive,
		m.ratelimitDecisions,
		m.ratelimitCapacityTotal,
		m.ratelimitStoreErrors,
		m.ratelimitTrackedKeys,
		m.documentsUploadedTotal,
		m.documentBytesTotal,
		m.auditEventsTotal,
		m.auditExportsTotal,
		m.queueDepth,
		m.queueEnqueuedTotal,
		m.policyPollsTotal,
		m.policySwapsTotal,
		m.policyErrorsTotal,
		m.policyLastSuccessTs,
		m.policyLoadedTimestmp,
	)

	m.handler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
	m.reg = reg
	return m
}

func (m *ServerMetrics) IncHttpPanic() {
	m.httpPanicTotal.Inc()
}

func (m *ServerMetrics) Handler() http.Handler {
	return m.handler
}

// set once at startup.
func (m *ServerMetrics) SetBuildInfoFromVersion(app, component string, vi *version.Info) {
	dirty := "unknown"
	if vi.VCSDirty != nil {
		dirty = strconv.FormatBool(*vi.VCSDirty)
	}
	m.buildInfo.With(prometheus.Labels{
		"app":         app,
		"component":   component,
		"version":     vi.Version,
		"commit":      vi.Commit,
		"commit_date": vi.CommitDate,
		"build_id":    vi.BuildId,
		"build_date":  vi.BuildDate,
		"go_version":  vi.GoVersion,
		"vcs_dirty":   dirty,
	}).Set(1)
}

func (m *ServerMetrics) IncRateLimitDecision(policy, outcome string) {
	m.ratelimitDecisions.WithLabelValues(policy, outcome).Inc()
}

func (m *ServerMetrics) IncRateLimitCapacity() {
	m.ratelimitCapacityTotal.Inc()
}

func (m *ServerMetrics) IncRateLimitStoreError(store string) {
	m.ratelimitStoreErrors.WithLabelValues(store).Inc()
}

func (m *ServerMetrics) SetRateLimitTrackedKeys(n int) {
	m.ratelimitTrackedKeys.Set(float64(n))
}

func (m *ServerMetrics) SetProfilingActive(active bool) {
	if active {
		m.profilingActive.Set(1)
	} else {
		m.profilingActive.Set(0)
	}
}

func (m *ServerMetrics) IncDocumentUploaded(bytes int64) {
	m.documentsUploadedTotal.Inc()
	m.documentBytesTotal.Add(float64(bytes))
}

func (m *ServerMetrics) IncAuditEvent(action string) {
	m.auditEventsTotal.WithLabelValues(action).Inc()
}

func (m *ServerMetrics) IncAuditExport() {
	m.auditExportsTotal.Inc()
}

func (m *ServerMetrics) SetQueueDepth(state string, depth int64) {
	m.queueDepth.WithLabelValues(state).Set(float64(depth))
}

func (m *ServerMetrics) IncJobEnqueued() {
	m.queueEnqueuedTotal.Inc()
}

func (m *ServerMetrics) IncPolicyPolls() {
	m.policyPollsTotal.Inc()
}

func (m *ServerMetrics) IncPolicySwaps() {
	m.policySwapsTotal.Inc()
}

func (m *ServerMetrics) IncPolicyError(errType string) {
	m.policyErrorsTotal.WithLabelValues(errType).Inc()
}

func (m *ServerMetrics) SetPolicyLastSuccess(unixSeconds float64) {
	m.policyLastSuccessTs.Set(unixSeconds)
}

func (m *ServerMetrics) SetPolicyLoadedTimestamp(t time.Time) {
	m.policyLoadedTimestmp.Set(float64(t.Unix()))
}
