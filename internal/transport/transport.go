// Package transport implements retrying HTTP delivery of batched payloads
// to the PostHog ingest endpoint, grounded on the flagz HTTP client's
// request/response idiom and generalized with decorrelated-jitter backoff.
package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"
)

const userAgentPrefix = "posthog-go"

// MetricsRecorder is the subset of internal/metrics.Metrics the Transport
// reports into. Kept as a narrow interface here so this package never
// imports internal/metrics directly.
type MetricsRecorder interface {
	RecordBatchSend(duration time.Duration, success bool)
	RecordRetry(status int)
}

type noopMetrics struct{}

func (noopMetrics) RecordBatchSend(time.Duration, bool) {}
func (noopMetrics) RecordRetry(int)                     {}

// Config configures a Transport.
type Config struct {
	Host       string
	HTTPClient *http.Client
	Timeout    time.Duration
	Backoff    *BackoffPolicy
	Logger     *slog.Logger
	Metrics    MetricsRecorder
	Version    string
}

// Transport POSTs serialized payloads to the ingest endpoint with retry.
type Transport struct {
	host       string
	httpClient *http.Client
	timeout    time.Duration
	backoff    *BackoffPolicy
	logger     *slog.Logger
	metrics    MetricsRecorder
	userAgent  string
}

// New creates a Transport from cfg, applying defaults for any zero field.
func New(cfg Config) *Transport {
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	backoff := cfg.Backoff
	if backoff == nil {
		backoff = NewBackoffPolicy(0, 0, 0, 0)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = noopMetrics{}
	}
	version := cfg.Version
	if version == "" {
		version = "1.0.0"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Transport{
		host:       cfg.Host,
		httpClient: hc,
		timeout:    timeout,
		backoff:    backoff,
		logger:     logger,
		metrics:    metrics,
		userAgent:  fmt.Sprintf("%s/%s", userAgentPrefix, version),
	}
}

// Post sends body to host+path, retrying per the BackoffPolicy until
// success, a non-retryable error, or budget exhaustion. It never returns a
// Go error to the caller — all failures are represented in the Response.
func (t *Transport) Post(ctx context.Context, path string, body []byte) Response {
	start := time.Now()
	var last Response

	for attempt := 0; ; attempt++ {
		last = t.doOnce(ctx, path, body)
		if last.Success() {
			t.backoff.Reset()
			t.metrics.RecordBatchSend(time.Since(start), true)
			return last
		}
		if !last.ShouldRetry() {
			t.metrics.RecordBatchSend(time.Since(start), false)
			return last
		}
		t.metrics.RecordRetry(last.Status)
		if !t.backoff.ShouldRetry(attempt) {
			t.logger.Warn("posthog: retry budget exhausted", "status", last.Status, "attempts", attempt+1)
			t.metrics.RecordBatchSend(time.Since(start), false)
			return last
		}

		wait := t.backoff.NextInterval()
		if last.RateLimited() && last.RetryAfter > 0 {
			wait = last.RetryAfter
		}
		t.logger.Debug("posthog: retrying request", "status", last.Status, "wait", wait, "attempt", attempt+1)

		select {
		case <-ctx.Done():
			last.Err = ctx.Err()
			t.metrics.RecordBatchSend(time.Since(start), false)
			return last
		case <-time.After(wait):
		}
	}
}

func (t *Transport) doOnce(ctx context.Context, path string, body []byte) Response {
	reqCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, t.host+path, bytes.NewReader(body))
	if err != nil {
		return Response{Status: -1, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", t.userAgent)

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return Response{Status: -1, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Response{Status: -1, Err: err}
	}

	r := Response{Status: resp.StatusCode, Body: respBody}
	if resp.StatusCode == http.StatusTooManyRequests {
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if secs, err := strconv.Atoi(ra); err == nil {
				r.RetryAfter = time.Duration(secs) * time.Second
			}
		}
	}
	return r
}
