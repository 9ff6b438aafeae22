// Package posthog is the public surface of the client library: capture
// and identify calls for the ingestion pipeline, and flag/payload lookups
// for the feature-flag subsystem. Construct a Client with New and close it
// with Shutdown before the host process exits.
package posthog

import (
	"context"
	"crypto/tls"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/matt-riley/posthog-go/internal/config"
	"github.com/matt-riley/posthog-go/internal/exception"
	"github.com/matt-riley/posthog-go/internal/flags"
	"github.com/matt-riley/posthog-go/internal/flagsremote"
	"github.com/matt-riley/posthog-go/internal/ingest"
	"github.com/matt-riley/posthog-go/internal/logging"
	"github.com/matt-riley/posthog-go/internal/metrics"
	"github.com/matt-riley/posthog-go/internal/telemetry"
	"github.com/matt-riley/posthog-go/internal/transport"
	"github.com/matt-riley/posthog-go/internal/worker"

	"go.opentelemetry.io/otel"
)

const flushPollInterval = 10 * time.Millisecond

// Client is the library's only public surface. It owns the lifecycle of
// the Worker, the Poller (when local evaluation is enabled), the
// Transport, and the flag-call telemetry dedup cache, grounded on the
// teacher's cmd/server/main.go wiring order (config → dependencies →
// background tasks → graceful shutdown).
type Client struct {
	cfg     config.Config
	logger  *slog.Logger
	metrics *metrics.Metrics

	transport *transport.Transport
	worker    *worker.Worker
	evaluator *flags.LocalEvaluator
	poller    *flagsremote.Poller
	facade    *flagsremote.FlagFacade

	messages chan ingest.Message
	control  chan worker.Signal

	tracerShutdown func(context.Context) error

	queueSize  atomic.Int64
	isShutdown atomic.Bool
}

// New constructs a Client from apiKey and the given options. It builds the
// Transport, spawns the Worker if AsyncMode is set, constructs the
// FlagFacade, and — if a personal API key was supplied — starts the
// Poller synchronously so the first flag query after New returns sees
// cached definitions.
func New(apiKey string, opts ...Option) (*Client, error) {
	raw := config.RawConfig{APIKey: apiKey}
	for _, opt := range opts {
		opt(&raw)
	}

	cfg, err := config.New(raw)
	if err != nil {
		return nil, err
	}

	logger := cfg.Logger
	if logger == nil {
		logger = logging.New("info")
	}
	m := metrics.New(cfg.MetricsRegisterer)

	var tracerShutdown func(context.Context) error
	if cfg.TracerProvider != nil {
		otel.SetTracerProvider(cfg.TracerProvider)
	} else if shutdown, err := telemetry.Init(context.Background()); err != nil {
		logger.Warn("posthog: tracing init failed", "error", err)
	} else {
		tracerShutdown = shutdown
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	} else {
		cloned := *httpClient
		httpClient = &cloned
	}
	if cfg.SkipTLSVerification {
		httpClient = cloneWithInsecureTLS(httpClient)
	}
	httpClient.Transport = telemetry.WrapTransport(baseRoundTripper(httpClient))
	flagHTTPClient := *httpClient
	flagHTTPClient.Timeout = cfg.FeatureFlagRequestTimeout

	c := &Client{
		cfg:            cfg,
		logger:         logger,
		metrics:        m,
		messages:       make(chan ingest.Message, cfg.MaxQueueSize),
		control:        make(chan worker.Signal, 2),
		tracerShutdown: tracerShutdown,
	}

	c.transport = transport.New(transport.Config{
		Host:       cfg.Host,
		HTTPClient: httpClient,
		Timeout:    cfg.RequestTimeout,
		Backoff:    transport.NewBackoffPolicy(0, 0, 0, cfg.MaxRetries),
		Logger:     logger,
		Metrics:    m,
		Version:    ingest.LibraryVersion,
	})

	if cfg.AsyncMode {
		c.worker = worker.New(worker.Config{
			APIKey:    cfg.APIKey,
			BatchSize: cfg.BatchSize,
			Transport: c.transport,
			OnError:   worker.ErrorReporter(cfg.OnError),
			OnDequeue: func() {
				c.queueSize.Add(-1)
				c.metrics.SetQueueDepth(int(c.queueSize.Load()))
			},
			Logger:    logger,
			Metrics:   m,
		})
		go c.worker.Run(context.Background(), c.messages, c.control)
	}

	c.evaluator = flags.NewLocalEvaluator(logger)
	remote := flagsremote.NewRemoteEvaluator(flagsremote.RemoteEvaluatorConfig{
		Host:       cfg.Host,
		APIKey:     cfg.APIKey,
		HTTPClient: &flagHTTPClient,
		OnError:    flagsremote.ErrorReporter(cfg.OnError),
		Logger:     logger,
	})
	c.facade = flagsremote.NewFlagFacade(flagsremote.FacadeConfig{
		Evaluator:              c.evaluator,
		Remote:                 remote,
		LocalEvaluationEnabled: cfg.LocalEvaluationEnabled(),
	})

	if cfg.LocalEvaluationEnabled() {
		c.poller = flagsremote.NewPoller(flagsremote.PollerConfig{
			Host:           cfg.Host,
			APIKey:         cfg.APIKey,
			PersonalAPIKey: cfg.PersonalAPIKey,
			PollInterval:   cfg.FeatureFlagPollInterval,
			HTTPClient:     &flagHTTPClient,
			Evaluator:      c.evaluator,
			OnError:        flagsremote.ErrorReporter(cfg.OnError),
			Logger:         logger,
			Metrics:        m,
		})
		c.poller.Start(context.Background())
	}

	return c, nil
}

func baseRoundTripper(hc *http.Client) http.RoundTripper {
	if hc.Transport != nil {
		return hc.Transport
	}
	return http.DefaultTransport
}

func cloneWithInsecureTLS(hc *http.Client) *http.Client {
	clone := *hc
	transport, ok := clone.Transport.(*http.Transport)
	if !ok || transport == nil {
		transport = http.DefaultTransport.(*http.Transport).Clone()
	} else {
		transport = transport.Clone()
	}
	if transport.TLSClientConfig == nil {
		transport.TLSClientConfig = &tls.Config{}
	}
	transport.TLSClientConfig.InsecureSkipVerify = true
	clone.Transport = transport
	return &clone
}

// enqueue implements spec.md §4.7's per-call ingestion algorithm: validate
// via the Normalizer, apply BeforeSend, then deliver synchronously,
// asynchronously, or not at all in TestMode.
func (c *Client) enqueue(msg ingest.Message, vErr error) bool {
	if vErr != nil {
		c.metrics.IncMessagesDropped("validation_error")
		c.cfg.OnError(-1, vErr.Error())
		return false
	}

	if c.cfg.BeforeSend != nil {
		mutated, ok := c.cfg.BeforeSend(msg.Properties)
		if !ok {
			c.metrics.IncMessagesDropped("before_send_dropped")
			return false
		}
		msg.Properties = mutated
	}

	if c.cfg.TestMode {
		return true
	}

	if !c.cfg.AsyncMode {
		batch := ingest.NewBatch(c.cfg.APIKey, 1)
		outcome, err := batch.Add(msg)
		if err != nil {
			c.cfg.OnError(-1, err.Error())
			return false
		}
		if outcome != ingest.Added {
			c.metrics.IncMessagesDropped("message_too_large")
			c.cfg.OnError(-1, "message too large")
			return false
		}
		payload, err := batch.Encode()
		if err != nil {
			c.cfg.OnError(-1, err.Error())
			return false
		}
		resp := c.transport.Post(context.Background(), "/batch", payload)
		if !resp.Success() {
			c.cfg.OnError(resp.Status, resp.ErrorMessage())
			return false
		}
		return true
	}

	if int(c.queueSize.Load()) >= c.cfg.MaxQueueSize {
		c.metrics.IncMessagesDropped("queue_full")
		c.cfg.OnError(-1, "queue full")
		return false
	}

	select {
	case c.messages <- msg:
		c.queueSize.Add(1)
		c.metrics.SetQueueDepth(int(c.queueSize.Load()))
		c.metrics.MessagesEnqueuedTotal.Inc()
		return true
	default:
		c.metrics.IncMessagesDropped("queue_full")
		c.cfg.OnError(-1, "queue full")
		return false
	}
}

// Capture records an event for subjectID.
func (c *Client) Capture(in ingest.CaptureInput) bool {
	msg, err := ingest.Capture(in)
	return c.enqueue(msg, err)
}

// Identify records or updates a subject's properties.
func (c *Client) Identify(in ingest.IdentifyInput) bool {
	msg, err := ingest.Identify(in)
	return c.enqueue(msg, err)
}

// Alias links two subject ids as the same underlying person.
func (c *Client) Alias(in ingest.AliasInput) bool {
	msg, err := ingest.Alias(in)
	return c.enqueue(msg, err)
}

// GroupIdentify records or updates a group's properties.
func (c *Client) GroupIdentify(in ingest.GroupIdentifyInput) bool {
	msg, err := ingest.GroupIdentify(in)
	return c.enqueue(msg, err)
}

// CaptureException records a native exception as a structured event.
func (c *Client) CaptureException(subjectID string, exc exception.Input) bool {
	msg, err := ingest.Exception(ingest.ExceptionInput{SubjectID: subjectID, Exception: exc})
	return c.enqueue(msg, err)
}

func (c *Client) evalContext(subjectID string, groups map[string]string, personProps map[string]any, groupProps map[string]map[string]any) (map[string]string, flags.Properties, map[string]flags.Properties) {
	gp := make(map[string]flags.Properties, len(groupProps))
	for k, v := range groupProps {
		gp[k] = v
	}
	return groups, flags.Properties(personProps), gp
}

// FlagEnabled reports whether key is enabled (truthy) for subjectID.
func (c *Client) FlagEnabled(key, subjectID string, groups map[string]string, personProps map[string]any, groupProps map[string]map[string]any) bool {
	value, ok := c.FlagValue(key, subjectID, groups, personProps, groupProps, false)
	if !ok {
		return false
	}
	if b, isBool := value.(bool); isBool {
		return b
	}
	return value != nil
}

// FlagValue resolves key for subjectID, returning the decided value (bool,
// string variant, or nil) and whether a decision could be made at all.
func (c *Client) FlagValue(key, subjectID string, groups map[string]string, personProps map[string]any, groupProps map[string]map[string]any, onlyEvaluateLocally bool) (any, bool) {
	g, pp, gp := c.evalContext(subjectID, groups, personProps, groupProps)
	result, ok := c.facade.Resolve(context.Background(), key, subjectID, g, pp, gp, onlyEvaluateLocally)
	if !ok {
		return nil, false
	}
	c.metrics.RecordFlagEvaluation(result.LocallyEvaluated)
	return result.Value, true
}

// FlagPayload resolves key's payload for subjectID, evaluating the flag
// first. Returns nil if the flag could not be decided or carries no
// payload for its decided value.
func (c *Client) FlagPayload(key, subjectID string, groups map[string]string, personProps map[string]any, groupProps map[string]map[string]any) any {
	g, pp, gp := c.evalContext(subjectID, groups, personProps, groupProps)
	result, ok := c.facade.Resolve(context.Background(), key, subjectID, g, pp, gp, false)
	if !ok {
		return nil
	}
	return result.Payload
}

// AllFlags evaluates every known flag for subjectID.
func (c *Client) AllFlags(subjectID string, groups map[string]string, personProps map[string]any, groupProps map[string]map[string]any, onlyEvaluateLocally bool) map[string]any {
	g, pp, gp := c.evalContext(subjectID, groups, personProps, groupProps)
	results := c.facade.AllFlags(context.Background(), subjectID, g, pp, gp, onlyEvaluateLocally)
	out := make(map[string]any, len(results))
	for k, r := range results {
		out[k] = r.Value
	}
	return out
}

// AllFlagsAndPayloads evaluates every known flag for subjectID, returning
// both values and payloads.
func (c *Client) AllFlagsAndPayloads(subjectID string, groups map[string]string, personProps map[string]any, groupProps map[string]map[string]any, onlyEvaluateLocally bool) (map[string]any, map[string]any) {
	g, pp, gp := c.evalContext(subjectID, groups, personProps, groupProps)
	results := c.facade.AllFlags(context.Background(), subjectID, g, pp, gp, onlyEvaluateLocally)
	values := make(map[string]any, len(results))
	payloads := make(map[string]any, len(results))
	for k, r := range results {
		values[k] = r.Value
		if r.Payload != nil {
			payloads[k] = r.Payload
		}
	}
	return values, payloads
}

// ReloadFeatureFlags forces an immediate, synchronous local-evaluation
// fetch, regardless of the poll interval.
func (c *Client) ReloadFeatureFlags() {
	if c.poller != nil {
		c.poller.PollOnce(context.Background())
	}
}

// LocalEvaluationEnabled reports whether a personal API key was configured
// and the Poller is therefore active.
func (c *Client) LocalEvaluationEnabled() bool {
	return c.cfg.LocalEvaluationEnabled()
}

// QueueSize returns the current number of messages queued for delivery.
func (c *Client) QueueSize() int {
	return int(c.queueSize.Load())
}

// IsShutdown reports whether Shutdown has been called. It becomes true as
// soon as Shutdown starts, before the Worker has drained.
func (c *Client) IsShutdown() bool {
	return c.isShutdown.Load()
}

// Flush blocks until the queue is empty and the Worker is not mid-request.
func (c *Client) Flush() {
	if !c.cfg.AsyncMode || c.worker == nil {
		return
	}
	c.control <- worker.Flush
	for c.queueSize.Load() > 0 || c.worker.Busy() {
		time.Sleep(flushPollInterval)
	}
}

// Shutdown is idempotent. It flushes pending flag-called telemetry as
// $feature_flag_called events, stops the Poller, stops the Worker (waiting
// for it to drain), closes the message and control channels, and shuts
// down the client's own tracer provider if it started one. The Transport
// is not closed: its HTTP client and idle connections are left as they are.
func (c *Client) Shutdown() {
	if c.isShutdown.Swap(true) {
		return
	}

	for _, ev := range c.facade.Flush() {
		c.enqueue(ingest.Capture(flagCalledInput(ev)))
	}

	if c.poller != nil {
		c.poller.Stop()
	}

	if c.worker != nil {
		c.control <- worker.Shutdown
		<-c.worker.Done()
	}

	close(c.messages)
	close(c.control)

	if c.tracerShutdown != nil {
		if err := c.tracerShutdown(context.Background()); err != nil {
			c.logger.Warn("posthog: tracing shutdown failed", "error", err)
		}
	}
}

func flagCalledInput(ev flagsremote.FlagCallEvent) ingest.CaptureInput {
	props := map[string]any{
		"$feature_flag":          ev.FlagKey,
		"$feature_flag_response": ev.Value,
		"$feature/" + ev.FlagKey: ev.Value,
		"locally_evaluated":      ev.LocallyEvaluated,
	}
	if ev.Payload != nil {
		props["$feature_flag_payload"] = ev.Payload
	}
	if ev.Reason != "" {
		props["$feature_flag_reason"] = string(ev.Reason)
	}
	if ev.FlagID != 0 {
		props["$feature_flag_id"] = ev.FlagID
	}
	if ev.FlagVersion != 0 {
		props["$feature_flag_version"] = ev.FlagVersion
	}
	return ingest.CaptureInput{
		SubjectID: ev.SubjectID,
		EventName: "$feature_flag_called",
		Properties: props,
	}
}
