// Package config validates and defaults the client's programmatic
// configuration, keeping the teacher's config.Load shape — defaults
// applied, then validated, first error wins — but sourced from a
// RawConfig struct built by functional options rather than os.Getenv.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	oteltrace "go.opentelemetry.io/otel/trace"
)

const (
	defaultHost                      = "https://us.i.posthog.com"
	defaultMaxQueueSize              = 10000
	defaultBatchSize                 = 100
	defaultRequestTimeout            = 10 * time.Second
	defaultMaxRetries                = 10
	defaultFeatureFlagPollInterval   = 30 * time.Second
	defaultFeatureFlagRequestTimeout = 3 * time.Second
)

// ErrorReporter is invoked for drops, transport failures, and poll errors.
type ErrorReporter func(status int, message string)

// BeforeSendHook may mutate or veto a Message's properties before it is
// enqueued; returning ok=false drops the message silently.
type BeforeSendHook func(properties map[string]any) (mutated map[string]any, ok bool)

// RawConfig is the caller-supplied configuration before defaulting and
// validation, built from posthog.Option functional options.
type RawConfig struct {
	APIKey                    string
	Host                      string
	PersonalAPIKey            string
	MaxQueueSize              int
	BatchSize                 int
	RequestTimeout            time.Duration
	SkipTLSVerification       bool
	AsyncMode                 bool
	TestMode                  bool
	MaxRetries                int
	FeatureFlagPollInterval   time.Duration
	FeatureFlagRequestTimeout time.Duration
	OnError                   ErrorReporter
	BeforeSend                BeforeSendHook
	HTTPClient                *http.Client
	Logger                    *slog.Logger
	MetricsRegisterer         *prometheus.Registry
	TracerProvider            oteltrace.TracerProvider
	// AsyncModeSet distinguishes an explicit AsyncMode(false) from the
	// zero value, since AsyncMode defaults to true.
	AsyncModeSet bool
}

// Config is the validated, defaulted, immutable configuration used to
// construct a Client.
type Config struct {
	APIKey                    string
	Host                      string
	PersonalAPIKey            string
	MaxQueueSize              int
	BatchSize                 int
	RequestTimeout            time.Duration
	SkipTLSVerification       bool
	AsyncMode                 bool
	TestMode                  bool
	MaxRetries                int
	FeatureFlagPollInterval   time.Duration
	FeatureFlagRequestTimeout time.Duration
	OnError                   ErrorReporter
	BeforeSend                BeforeSendHook
	HTTPClient                *http.Client
	Logger                    *slog.Logger
	MetricsRegisterer         *prometheus.Registry
	TracerProvider            oteltrace.TracerProvider
}

// LocalEvaluationEnabled reports whether a PersonalAPIKey was configured,
// which is what gates whether the Poller and LocalEvaluator run at all.
func (c Config) LocalEvaluationEnabled() bool {
	return c.PersonalAPIKey != ""
}

// New validates raw and returns a defaulted Config, or the first
// validation error encountered.
func New(raw RawConfig) (Config, error) {
	if raw.APIKey == "" {
		return Config{}, errors.New("posthog: APIKey is required")
	}

	cfg := Config{
		APIKey:              raw.APIKey,
		Host:                orDefault(raw.Host, defaultHost),
		PersonalAPIKey:      raw.PersonalAPIKey,
		SkipTLSVerification: raw.SkipTLSVerification,
		AsyncMode:           !raw.TestMode,
		TestMode:            raw.TestMode,
		OnError:             raw.OnError,
		BeforeSend:          raw.BeforeSend,
		HTTPClient:          raw.HTTPClient,
		Logger:              raw.Logger,
		MetricsRegisterer:   raw.MetricsRegisterer,
		TracerProvider:      raw.TracerProvider,
	}
	if raw.AsyncModeSet {
		cfg.AsyncMode = raw.AsyncMode
	}

	var err error
	if cfg.MaxQueueSize, err = positiveOrDefault(raw.MaxQueueSize, defaultMaxQueueSize, "MaxQueueSize"); err != nil {
		return Config{}, err
	}
	if cfg.BatchSize, err = positiveOrDefault(raw.BatchSize, defaultBatchSize, "BatchSize"); err != nil {
		return Config{}, err
	}
	if cfg.MaxRetries, err = positiveOrDefault(raw.MaxRetries, defaultMaxRetries, "MaxRetries"); err != nil {
		return Config{}, err
	}
	if cfg.RequestTimeout, err = positiveDurationOrDefault(raw.RequestTimeout, defaultRequestTimeout, "RequestTimeout"); err != nil {
		return Config{}, err
	}
	if cfg.FeatureFlagPollInterval, err = positiveDurationOrDefault(raw.FeatureFlagPollInterval, defaultFeatureFlagPollInterval, "FeatureFlagPollInterval"); err != nil {
		return Config{}, err
	}
	if cfg.FeatureFlagRequestTimeout, err = positiveDurationOrDefault(raw.FeatureFlagRequestTimeout, defaultFeatureFlagRequestTimeout, "FeatureFlagRequestTimeout"); err != nil {
		return Config{}, err
	}

	if cfg.OnError == nil {
		cfg.OnError = func(int, string) {}
	}

	return cfg, nil
}

func orDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}

func positiveOrDefault(value, fallback int, field string) (int, error) {
	if value == 0 {
		return fallback, nil
	}
	if value < 0 {
		return 0, fmt.Errorf("posthog: %s must be > 0", field)
	}
	return value, nil
}

func positiveDurationOrDefault(value, fallback time.Duration, field string) (time.Duration, error) {
	if value == 0 {
		return fallback, nil
	}
	if value < 0 {
		return 0, fmt.Errorf("posthog: %s must be > 0", field)
	}
	return value, nil
}
