package posthog

import (
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/matt-riley/posthog-go/internal/config"
)

func applyOptions(opts ...Option) config.RawConfig {
	raw := config.RawConfig{APIKey: "key"}
	for _, opt := range opts {
		opt(&raw)
	}
	return raw
}

func TestOptions_SetRawConfigFields(t *testing.T) {
	raw := applyOptions(
		WithHost("https://example.test"),
		WithPersonalAPIKey("personal-key"),
		WithMaxQueueSize(42),
		WithBatchSize(7),
		WithRequestTimeout(5*time.Second),
		WithSkipTLSVerification(true),
		WithMaxRetries(3),
		WithFeatureFlagPollInterval(time.Minute),
		WithFeatureFlagRequestTimeout(2*time.Second),
	)

	if raw.Host != "https://example.test" {
		t.Errorf("Host = %q", raw.Host)
	}
	if raw.PersonalAPIKey != "personal-key" {
		t.Errorf("PersonalAPIKey = %q", raw.PersonalAPIKey)
	}
	if raw.MaxQueueSize != 42 {
		t.Errorf("MaxQueueSize = %d", raw.MaxQueueSize)
	}
	if raw.BatchSize != 7 {
		t.Errorf("BatchSize = %d", raw.BatchSize)
	}
	if raw.RequestTimeout != 5*time.Second {
		t.Errorf("RequestTimeout = %v", raw.RequestTimeout)
	}
	if !raw.SkipTLSVerification {
		t.Error("SkipTLSVerification = false")
	}
	if raw.MaxRetries != 3 {
		t.Errorf("MaxRetries = %d", raw.MaxRetries)
	}
	if raw.FeatureFlagPollInterval != time.Minute {
		t.Errorf("FeatureFlagPollInterval = %v", raw.FeatureFlagPollInterval)
	}
	if raw.FeatureFlagRequestTimeout != 2*time.Second {
		t.Errorf("FeatureFlagRequestTimeout = %v", raw.FeatureFlagRequestTimeout)
	}
}

func TestWithAsyncMode_TracksExplicitSet(t *testing.T) {
	raw := applyOptions(WithAsyncMode(false))
	if raw.AsyncMode {
		t.Error("AsyncMode = true, want false")
	}
	if !raw.AsyncModeSet {
		t.Error("AsyncModeSet = false after WithAsyncMode was called")
	}

	unset := applyOptions()
	if unset.AsyncModeSet {
		t.Error("AsyncModeSet = true without WithAsyncMode being called")
	}
}

func TestWithTestMode(t *testing.T) {
	raw := applyOptions(WithTestMode(true))
	if !raw.TestMode {
		t.Error("TestMode = false, want true")
	}
}

func TestWithOnError_InvokesCallback(t *testing.T) {
	var gotStatus int
	var gotMessage string
	raw := applyOptions(WithOnError(func(status int, message string) {
		gotStatus = status
		gotMessage = message
	}))
	raw.OnError(404, "not found")
	if gotStatus != 404 || gotMessage != "not found" {
		t.Errorf("callback received (%d, %q), want (404, \"not found\")", gotStatus, gotMessage)
	}
}

func TestWithBeforeSend_InvokesHook(t *testing.T) {
	raw := applyOptions(WithBeforeSend(func(props map[string]any) (map[string]any, bool) {
		props["added"] = true
		return props, true
	}))
	out, ok := raw.BeforeSend(map[string]any{})
	if !ok || out["added"] != true {
		t.Errorf("BeforeSend hook did not apply, out=%#v ok=%v", out, ok)
	}
}

func TestWithHTTPClient(t *testing.T) {
	hc := &http.Client{Timeout: 3 * time.Second}
	raw := applyOptions(WithHTTPClient(hc))
	if raw.HTTPClient != hc {
		t.Error("HTTPClient was not stored verbatim")
	}
}

func TestWithMetricsRegisterer(t *testing.T) {
	reg := prometheus.NewRegistry()
	raw := applyOptions(WithMetricsRegisterer(reg))
	if raw.MetricsRegisterer != reg {
		t.Error("MetricsRegisterer was not stored verbatim")
	}
}

func TestWithLogger_NilIsAcceptedAndOverridable(t *testing.T) {
	raw := applyOptions()
	if raw.Logger != nil {
		t.Error("Logger should default to nil before New() fills in a default")
	}
}
