package posthog

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/matt-riley/posthog-go/internal/config"
)

// Option configures a Client at construction time, mirroring the
// functional-options idiom the spec's Config surface calls for in place
// of the teacher's environment-variable sourcing.
type Option func(*config.RawConfig)

// WithHost overrides the default ingest/decide host.
func WithHost(host string) Option {
	return func(raw *config.RawConfig) { raw.Host = host }
}

// WithPersonalAPIKey enables local feature-flag evaluation: it starts the
// background Poller and lets FlagFacade consult the LocalEvaluator before
// falling back to the network.
func WithPersonalAPIKey(key string) Option {
	return func(raw *config.RawConfig) { raw.PersonalAPIKey = key }
}

// WithMaxQueueSize overrides the default bounded-queue capacity (10000).
func WithMaxQueueSize(n int) Option {
	return func(raw *config.RawConfig) { raw.MaxQueueSize = n }
}

// WithBatchSize overrides the default batch size (100 messages).
func WithBatchSize(n int) Option {
	return func(raw *config.RawConfig) { raw.BatchSize = n }
}

// WithRequestTimeout overrides the default per-request HTTP timeout (10s).
func WithRequestTimeout(d time.Duration) Option {
	return func(raw *config.RawConfig) { raw.RequestTimeout = d }
}

// WithSkipTLSVerification disables TLS certificate verification. Intended
// for testing against a local ingest server only.
func WithSkipTLSVerification(skip bool) Option {
	return func(raw *config.RawConfig) { raw.SkipTLSVerification = skip }
}

// WithAsyncMode overrides the default asynchronous (background Worker)
// delivery mode. Passing false delivers every message synchronously on
// the caller's goroutine.
func WithAsyncMode(async bool) Option {
	return func(raw *config.RawConfig) {
		raw.AsyncMode = async
		raw.AsyncModeSet = true
	}
}

// WithTestMode makes ingestion calls skip delivery without touching the
// network: a message that passes validation and BeforeSend reports success;
// a validation failure or a BeforeSend veto still reports false. Intended
// for unit tests of host applications that embed this client.
func WithTestMode(test bool) Option {
	return func(raw *config.RawConfig) { raw.TestMode = test }
}

// WithMaxRetries overrides the default transport retry budget (10).
func WithMaxRetries(n int) Option {
	return func(raw *config.RawConfig) { raw.MaxRetries = n }
}

// WithFeatureFlagPollInterval overrides the default Poller interval (30s).
func WithFeatureFlagPollInterval(d time.Duration) Option {
	return func(raw *config.RawConfig) { raw.FeatureFlagPollInterval = d }
}

// WithFeatureFlagRequestTimeout overrides the default decide/local-eval
// request timeout (3s).
func WithFeatureFlagRequestTimeout(d time.Duration) Option {
	return func(raw *config.RawConfig) { raw.FeatureFlagRequestTimeout = d }
}

// WithOnError registers a callback invoked on drops, transport failures,
// and poll errors.
func WithOnError(fn func(status int, message string)) Option {
	return func(raw *config.RawConfig) { raw.OnError = config.ErrorReporter(fn) }
}

// WithBeforeSend registers a hook that may mutate or veto a Message's
// properties before it is enqueued.
func WithBeforeSend(fn func(properties map[string]any) (map[string]any, bool)) Option {
	return func(raw *config.RawConfig) { raw.BeforeSend = config.BeforeSendHook(fn) }
}

// WithHTTPClient overrides the *http.Client used for all outbound
// requests (ingest, decide, and local evaluation).
func WithHTTPClient(hc *http.Client) Option {
	return func(raw *config.RawConfig) { raw.HTTPClient = hc }
}

// WithLogger overrides the *slog.Logger used by the Worker, Poller, and
// Transport. Defaults to a JSON logger on stderr at info level
// (logging.New("info")) when unset.
func WithLogger(logger *slog.Logger) Option {
	return func(raw *config.RawConfig) { raw.Logger = logger }
}

// WithMetricsRegisterer registers this Client's Prometheus collectors into
// reg instead of a private registry, so a host can expose them on its own
// /metrics endpoint.
func WithMetricsRegisterer(reg *prometheus.Registry) Option {
	return func(raw *config.RawConfig) { raw.MetricsRegisterer = reg }
}

// WithTracerProvider installs a host-supplied OpenTelemetry TracerProvider
// in place of the client's own OTLP-HTTP-exporter Init (which is otherwise
// gated by OTEL_EXPORTER_OTLP_ENDPOINT).
func WithTracerProvider(tp oteltrace.TracerProvider) Option {
	return func(raw *config.RawConfig) { raw.TracerProvider = tp }
}
