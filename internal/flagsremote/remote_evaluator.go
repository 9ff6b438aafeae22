package flagsremote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/matt-riley/posthog-go/internal/flags"
)

const decidePath = "/flags?v=2"

// RemoteEvaluatorConfig configures a RemoteEvaluator.
type RemoteEvaluatorConfig struct {
	Host       string
	APIKey     string
	HTTPClient *http.Client
	OnError    ErrorReporter
	Logger     *slog.Logger
}

// RemoteEvaluator calls the decide endpoint for flags that cannot be
// resolved locally, grounded on the teacher's clients/go/http/client.go
// request/response marshal idiom (build body, POST, decode wire struct).
type RemoteEvaluator struct {
	cfg RemoteEvaluatorConfig
}

// NewRemoteEvaluator creates a RemoteEvaluator.
func NewRemoteEvaluator(cfg RemoteEvaluatorConfig) *RemoteEvaluator {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	if cfg.OnError == nil {
		cfg.OnError = func(int, string) {}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &RemoteEvaluator{cfg: cfg}
}

// RemoteResult is the decoded outcome of a decide-endpoint call.
type RemoteResult struct {
	Flags         map[string]flags.FlagResult
	QuotaLimited  []string
}

type decideRequest struct {
	APIKey          string                      `json:"api_key"`
	DistinctID      string                      `json:"distinct_id"`
	Groups          map[string]string           `json:"groups,omitempty"`
	PersonProps     flags.Properties            `json:"person_properties,omitempty"`
	GroupProps      map[string]flags.Properties `json:"group_properties,omitempty"`
	GeoIPDisable    bool                        `json:"geoip_disable"`
}

type wireDecideV2Flag struct {
	Key     string `json:"key"`
	Enabled bool   `json:"enabled"`
	Variant string `json:"variant"`
	Reason  struct {
		Description string `json:"description"`
	} `json:"reason"`
	Metadata struct {
		ID      int64 `json:"id"`
		Version int   `json:"version"`
		Payload any   `json:"payload"`
	} `json:"metadata"`
}

type wireDecideResponse struct {
	Flags               map[string]wireDecideV2Flag `json:"flags"`
	FeatureFlags        map[string]any              `json:"featureFlags"`
	FeatureFlagPayloads map[string]any              `json:"featureFlagPayloads"`
	QuotaLimited        json.RawMessage             `json:"quotaLimited"`
}

// Fetch calls the decide endpoint and returns the parsed flags, or an error
// for a transport failure, non-2xx status, or undecodable body. A 402
// (quota exceeded) is not an error: it yields an empty, quota-limited
// result so the caller can still proceed gracefully.
func (r *RemoteEvaluator) Fetch(ctx context.Context, subjectID string, groups map[string]string, personProps flags.Properties, groupProps map[string]flags.Properties) (RemoteResult, error) {
	body, err := json.Marshal(decideRequest{
		APIKey:       r.cfg.APIKey,
		DistinctID:   subjectID,
		Groups:       groups,
		PersonProps:  personProps,
		GroupProps:   groupProps,
		GeoIPDisable: true,
	})
	if err != nil {
		return RemoteResult{}, fmt.Errorf("posthog: marshal decide request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.cfg.Host+decidePath, bytes.NewReader(body))
	if err != nil {
		return RemoteResult{}, fmt.Errorf("posthog: create decide request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.cfg.HTTPClient.Do(req)
	if err != nil {
		r.cfg.OnError(-1, err.Error())
		return RemoteResult{}, fmt.Errorf("posthog: decide request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		r.cfg.OnError(resp.StatusCode, err.Error())
		return RemoteResult{}, fmt.Errorf("posthog: read decide response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusPaymentRequired:
		return RemoteResult{QuotaLimited: []string{"feature_flags"}}, nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		r.cfg.OnError(resp.StatusCode, "posthog: decide request unauthorized")
		return RemoteResult{}, fmt.Errorf("posthog: decide request unauthorized: status %d", resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		r.cfg.OnError(resp.StatusCode, string(respBody))
		return RemoteResult{}, fmt.Errorf("posthog: decide request failed: status %d", resp.StatusCode)
	}

	return decodeDecideResponse(respBody)
}

func decodeDecideResponse(body []byte) (RemoteResult, error) {
	var wire wireDecideResponse
	if err := json.Unmarshal(body, &wire); err != nil {
		return RemoteResult{}, fmt.Errorf("posthog: decode decide response: %w", err)
	}

	result := RemoteResult{Flags: map[string]flags.FlagResult{}}

	if len(wire.Flags) > 0 {
		for key, wf := range wire.Flags {
			var value any = wf.Enabled
			if wf.Variant != "" {
				value = wf.Variant
			}
			result.Flags[key] = flags.FlagResult{
				Value:       value,
				FlagID:      wf.Metadata.ID,
				FlagVersion: wf.Metadata.Version,
				Payload:     flags.DecodeJSONPayload(wf.Metadata.Payload),
			}
		}
	} else if len(wire.FeatureFlags) > 0 {
		for key, raw := range wire.FeatureFlags {
			fr := flags.FlagResult{Value: raw}
			if payload, ok := wire.FeatureFlagPayloads[key]; ok {
				fr.Payload = flags.DecodeJSONPayload(payload)
			}
			result.Flags[key] = fr
		}
	}

	result.QuotaLimited = decodeQuotaLimited(wire.QuotaLimited)
	return result, nil
}

func decodeQuotaLimited(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var asBool bool
	if err := json.Unmarshal(raw, &asBool); err == nil {
		if asBool {
			return []string{"feature_flags"}
		}
		return nil
	}
	var asList []string
	if err := json.Unmarshal(raw, &asList); err == nil {
		return asList
	}
	return nil
}
