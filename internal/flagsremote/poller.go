// Package flagsremote implements the background local-evaluation poller,
// the remote /flags decide-endpoint client, and the facade that routes a
// flag lookup between them.
package flagsremote

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/matt-riley/posthog-go/internal/flags"
	"github.com/matt-riley/posthog-go/internal/telemetry"
)

const localEvaluationPath = "/api/feature_flag/local_evaluation/"

// DefaultPollInterval matches the reference SDK's default local-evaluation
// refresh cadence.
const DefaultPollInterval = 30 * time.Second

// ErrorReporter is invoked whenever a poll cycle fails or is skipped.
type ErrorReporter func(status int, message string)

// MetricsRecorder is the subset of internal/metrics.Metrics the Poller
// reports into.
type MetricsRecorder interface {
	RecordPollerFetch(status string)
	SetPollerCacheAge(seconds float64)
}

type noopMetrics struct{}

func (noopMetrics) RecordPollerFetch(string)  {}
func (noopMetrics) SetPollerCacheAge(float64) {}

// PollerConfig configures a Poller.
type PollerConfig struct {
	Host             string
	APIKey           string
	PersonalAPIKey   string
	PollInterval     time.Duration
	HTTPClient       *http.Client
	Evaluator        *flags.LocalEvaluator
	OnError          ErrorReporter
	Logger           *slog.Logger
	Metrics          MetricsRecorder
	MaxFetchesPerMin float64 // self-limit; 0 disables limiting
}

// Poller periodically fetches flag/cohort definitions from the
// local-evaluation endpoint and loads them into a LocalEvaluator, grounded
// on the teacher's RateLimiter cleanup loop
// (internal/middleware/ratelimit.go: ctx-cancellable background goroutine,
// ticker-driven, with a Stop method that cancels and an explicit
// synchronous first pass before the loop proper).
type Poller struct {
	cfg PollerConfig

	mu          sync.Mutex
	etag        string
	running     bool
	lastFetchAt time.Time

	limiter *rate.Limiter

	cancel context.CancelFunc
	done   chan struct{}
}

// NewPoller creates a Poller. Call Start to begin polling.
func NewPoller(cfg PollerConfig) *Poller {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	if cfg.OnError == nil {
		cfg.OnError = func(int, string) {}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = noopMetrics{}
	}

	var limiter *rate.Limiter
	if cfg.MaxFetchesPerMin > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.MaxFetchesPerMin/60.0), 1)
	}

	return &Poller{cfg: cfg, limiter: limiter}
}

// Start performs a synchronous first fetch so that subsequent flag queries
// see cached data immediately, then launches the background poll loop.
// Start is a no-op if PersonalAPIKey is unset, per spec.md §4.12.
func (p *Poller) Start(ctx context.Context) {
	if p.cfg.PersonalAPIKey == "" {
		return
	}

	p.PollOnce(ctx)

	ctx, cancel := context.WithCancel(ctx)
	p.mu.Lock()
	p.cancel = cancel
	p.running = true
	p.done = make(chan struct{})
	p.mu.Unlock()

	go p.run(ctx)
}

func (p *Poller) run(ctx context.Context) {
	defer close(p.done)
	defer func() {
		p.mu.Lock()
		p.running = false
		p.mu.Unlock()
	}()

	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.PollOnce(ctx)
		}
	}
}

// PollOnce performs a single fetch cycle immediately; used for the
// synchronous first fetch and for manual refresh (reloadFeatureFlags).
func (p *Poller) PollOnce(ctx context.Context) {
	ctx, span := telemetry.StartSpan(ctx, "posthog.poller.poll_once")
	defer span.End()

	if p.limiter != nil && !p.limiter.Allow() {
		p.cfg.Logger.Debug("posthog: local evaluation poll self-throttled")
		return
	}

	status, body, etag, err := p.fetch(ctx)
	if err != nil {
		p.cfg.Metrics.RecordPollerFetch("error")
		p.cfg.OnError(-1, err.Error())
		p.cfg.Logger.Warn("posthog: local evaluation fetch failed", "error", err)
		return
	}

	switch {
	case status == http.StatusOK:
		flagsByKey, cohortsByID, groupTypeMapping, err := decodeLocalEvaluation(body)
		if err != nil {
			p.cfg.Metrics.RecordPollerFetch("decode_error")
			p.cfg.OnError(status, err.Error())
			p.cfg.Logger.Warn("posthog: local evaluation decode failed", "error", err)
			return
		}
		p.cfg.Evaluator.SetDefinitions(flagsByKey, cohortsByID, groupTypeMapping)
		now := time.Now()
		p.mu.Lock()
		p.etag = etag
		p.lastFetchAt = now
		p.mu.Unlock()
		p.cfg.Metrics.RecordPollerFetch("fetched")
		p.cfg.Metrics.SetPollerCacheAge(0)
	case status == http.StatusNotModified:
		// No change; retain cache and ETag.
		p.cfg.Metrics.RecordPollerFetch("not_modified")
		p.mu.Lock()
		lastFetchAt := p.lastFetchAt
		p.mu.Unlock()
		if !lastFetchAt.IsZero() {
			p.cfg.Metrics.SetPollerCacheAge(time.Since(lastFetchAt).Seconds())
		}
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		p.cfg.Metrics.RecordPollerFetch("unauthorized")
		p.cfg.OnError(status, "posthog: local evaluation unauthorized")
	case status == http.StatusPaymentRequired:
		p.cfg.Metrics.RecordPollerFetch("quota_limited")
		p.cfg.OnError(status, "posthog: local evaluation quota limited")
	default:
		p.cfg.Metrics.RecordPollerFetch("error")
		p.cfg.OnError(status, fmt.Sprintf("posthog: local evaluation fetch returned status %d", status))
	}
}

func (p *Poller) fetch(ctx context.Context) (status int, body []byte, etag string, err error) {
	url := fmt.Sprintf("%s%s?token=%s&send_cohorts", p.cfg.Host, localEvaluationPath, p.cfg.APIKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, nil, "", err
	}
	req.Header.Set("Authorization", "Bearer "+p.cfg.PersonalAPIKey)

	p.mu.Lock()
	currentETag := p.etag
	p.mu.Unlock()
	if currentETag != "" {
		req.Header.Set("If-None-Match", currentETag)
	}

	resp, err := p.cfg.HTTPClient.Do(req)
	if err != nil {
		return 0, nil, "", err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, "", err
	}
	return resp.StatusCode, data, resp.Header.Get("ETag"), nil
}

// Stop cancels the background poll loop and blocks until it exits.
func (p *Poller) Stop() {
	p.mu.Lock()
	cancel := p.cancel
	done := p.done
	p.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// IsRunning reports whether the background poll loop is active.
func (p *Poller) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}
