package ratelimit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"math"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"

	"github.com/briefvault/briefvault-api/internal/log"
	"github.com/briefvault/briefvault-api/internal/xerrors"
)

const (
	// DefaultPollInterval is how often the watcher checks SSM for a new
	// policy document.
	DefaultPollInterval = 30 * time.Second

	// maxBackoff caps exponential backoff on consecutive fetch errors.
	maxBackoff = 5 * time.Minute
)

// pollResult describes what happened during a single poll cycle.
type pollResult int

const (
	pollNoChange   pollResult = iota // document matches current - nothing to do
	pollSwapped                      // new document detected, parsed and applied
	pollFetchError                   // SSM fetch failed - caller should back off
	pollParseError                   // fetch succeeded but the document was rejected
)

// PolicyFetcher is the interface the Watcher needs from a policy source.
// Extracted to decouple the poll loop from SSM for test doubles.
type PolicyFetcher interface {
	FetchPolicyDocument(ctx context.Context) (string, error)
}

// WatcherMetrics is implemented by the metrics package to observe watcher behavior.
type WatcherMetrics interface {
	IncPolicyPolls()
	IncPolicySwaps()
	IncPolicyError(errType string)
	SetPolicyLastSuccess(unixSeconds float64)
	SetPolicyLoadedTimestamp(t time.Time)
}

// WatcherOptions configures the policy watcher.
type WatcherOptions struct {
	Logger       log.Logger
	Fetcher      PolicyFetcher
	Gate         *Gate
	PollInterval time.Duration

	// OnSwap is called after a successful policy swap, synchronously on
	// the poll goroutine.
	OnSwap func(names []string)

	// Metrics receives watcher observability signals.
	Metrics WatcherMetrics
}

// Watcher polls a policy source and hot-swaps valid policy sets into the gate.
// A rejected document never disturbs the running set.
type Watcher struct {
	fetcher  PolicyFetcher
	gate     *Gate
	logger   log.Logger
	interval time.Duration
	onSwap   func(names []string)
	metrics  WatcherMetrics

	// digest of the currently applied document, for change detection
	currentDigest string

	consecutiveErrs int

	pollCount int64
	swapCount int64
}

// NewWatcher creates a policy watcher. Call Run to start the poll loop.
func NewWatcher(opts *WatcherOptions) *Watcher {
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	interval := opts.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	return &Watcher{
		fetcher:  opts.Fetcher,
		gate:     opts.Gate,
		logger:   opts.Logger,
		interval: interval,
		onSwap:   opts.OnSwap,
		metrics:  opts.Metrics,
	}
}

// Run starts the poll loop. Blocks until ctx is cancelled.
// Intended to be launched as: go watcher.Run(ctx)
func (w *Watcher) Run(ctx context.Context) error {
	w.logger.Info(ctx, "policy watcher starting",
		"poll_interval", w.interval.String(),
	)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info(ctx, "policy watcher stopping",
				"reason", ctx.Err(),
				"polls", w.pollCount,
				"swaps", w.swapCount,
			)
			return ctx.Err()
		case <-ticker.C:
			result := w.checkOnce(ctx)

			if result == pollFetchError {
				w.consecutiveErrs++
				backoff := w.backoffDuration()
				w.logger.Warn(ctx, "policy watcher: backing off",
					"consecutive_errors", w.consecutiveErrs,
					"next_poll_in", backoff.String(),
				)
				ticker.Reset(backoff)
			} else if w.consecutiveErrs > 0 {
				w.logger.Info(ctx, "policy watcher: recovered, resuming normal interval",
					"had_consecutive_errors", w.consecutiveErrs,
				)
				w.consecutiveErrs = 0
				ticker.Reset(w.interval)
			}
		}
	}
}

// checkOnce performs a single poll-compare-swap cycle.
func (w *Watcher) checkOnce(ctx context.Context) pollResult {
	w.pollCount++
	if w.metrics != nil {
		w.metrics.IncPolicyPolls()
	}

	doc, err := w.fetcher.FetchPolicyDocument(ctx)
	if err != nil {
		w.logger.Error(ctx, err, "policy watcher: fetch failed")
		if w.metrics != nil {
			w.metrics.IncPolicyError("fetch")
		}
		return pollFetchError
	}

	now := time.Now()
	if w.metrics != nil {
		w.metrics.SetPolicyLastSuccess(float64(now.Unix()))
	}

	digest := docDigest(doc)
	if digest == w.currentDigest {
		return pollNoChange
	}

	policies, err := ParsePolicies([]byte(doc))
	if err != nil {
		w.logger.Error(ctx, err, "policy watcher: document rejected, keeping current policies")
		if w.metrics != nil {
			w.metrics.IncPolicyError("parse")
		}
		return pollParseError
	}

	if err := w.gate.SetPolicies(policies); err != nil {
		w.logger.Error(ctx, err, "policy watcher: swap rejected, keeping current policies")
		if w.metrics != nil {
			w.metrics.IncPolicyError("validate")
		}
		return pollParseError
	}

	w.currentDigest = digest
	w.swapCount++

	names := w.gate.PolicyNames()
	w.logger.Info(ctx, "policy watcher: policies swapped",
		"policies", strings.Join(names, ","),
		"total_swaps", w.swapCount,
	)

	if w.metrics != nil {
		w.metrics.IncPolicySwaps()
		w.metrics.SetPolicyLoadedTimestamp(now)
	}

	if w.onSwap != nil {
		func() {
			defer func() {
				if r := recover(); r != nil {
					w.logger.Error(ctx, xerrors.Newf("OnSwap panic: %v", r),
						"policy watcher: OnSwap callback panicked, continuing",
					)
				}
			}()
			w.onSwap(names)
		}()
	}

	return pollSwapped
}

// backoffDuration computes exponential backoff capped at maxBackoff.
// consecutiveErrs=1 → 2x interval, =2 → 4x, =3 → 8x, etc.
func (w *Watcher) backoffDuration() time.Duration {
	mult := math.Pow(2, float64(w.consecutiveErrs))
	d := time.Duration(float64(w.interval) * mult)
	if d > maxBackoff {
		d = maxBackoff
	}
	return d
}

func docDigest(doc string) string {
	sum := sha256.Sum256([]byte(doc))
	return hex.EncodeToString(sum[:])
}

// SSMFetcher reads the policy document from an SSM parameter.
type SSMFetcher struct {
	client *ssm.Client
	param  string
}

// NewSSMFetcher wraps an SSM client for the given parameter name.
func NewSSMFetcher(client *ssm.Client, param string) (*SSMFetcher, error) {
	if param == "" {
		return nil, xerrors.New("ratelimit: SSM parameter name is required")
	}
	return &SSMFetcher{client: client, param: param}, nil
}

func (f *SSMFetcher) FetchPolicyDocument(ctx context.Context) (string, error) {
	out, err := f.client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(f.param),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return "", xerrors.Wrapf(err, "get SSM parameter %s", f.param)
	}
	if out.Parameter == nil || out.Parameter.Value == nil {
		return "", xerrors.Newf("SSM parameter %s has no value", f.param)
	}

	doc := strings.TrimSpace(*out.Parameter.Value)
	if doc == "" {
		return "", xerrors.Newf("SSM parameter %s is empty", f.param)
	}
	return doc, nil
}
