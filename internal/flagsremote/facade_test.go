package flagsremote

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/matt-riley/posthog-go/internal/flags"
)

func TestFlagFacade_Resolve_PrefersLocalEvaluation(t *testing.T) {
	evaluator := flags.NewLocalEvaluator(nil)
	flagsByKey, cohortsByID, groupTypeMapping, err := decodeLocalEvaluation([]byte(sampleLocalEvaluationResponse))
	if err != nil {
		t.Fatalf("decodeLocalEvaluation() error = %v", err)
	}
	evaluator.SetDefinitions(flagsByKey, cohortsByID, groupTypeMapping)

	remoteCalled := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		remoteCalled = true
		w.Write([]byte(`{"flags":{}}`))
	}))
	defer srv.Close()

	facade := NewFlagFacade(FacadeConfig{
		Evaluator:              evaluator,
		Remote:                 NewRemoteEvaluator(RemoteEvaluatorConfig{Host: srv.URL, APIKey: "key"}),
		LocalEvaluationEnabled: true,
	})

	result, ok := facade.Resolve(context.Background(), "beta-feature", "u1", map[string]string{"company": "c1"},
		flags.Properties{"plan": "enterprise", "country": "US"}, map[string]flags.Properties{"company": {"plan": "enterprise", "country": "US"}}, false)
	if !ok {
		t.Fatal("Resolve() ok = false, want true")
	}
	if !result.LocallyEvaluated {
		t.Error("expected a locally-evaluated result when the evaluator has cached data")
	}
	if remoteCalled {
		t.Error("remote decide endpoint should not be called when local evaluation succeeds")
	}
}

func TestFlagFacade_Resolve_FallsBackToRemote(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"flags":{"unknown-flag":{"key":"unknown-flag","enabled":true}}}`))
	}))
	defer srv.Close()

	facade := NewFlagFacade(FacadeConfig{
		Evaluator:              flags.NewLocalEvaluator(nil),
		Remote:                 NewRemoteEvaluator(RemoteEvaluatorConfig{Host: srv.URL, APIKey: "key"}),
		LocalEvaluationEnabled: false,
	})

	result, ok := facade.Resolve(context.Background(), "unknown-flag", "u1", nil, nil, nil, false)
	if !ok {
		t.Fatal("Resolve() ok = false, want true")
	}
	if result.LocallyEvaluated {
		t.Error("expected a remotely-evaluated result")
	}
}

func TestFlagFacade_Resolve_OnlyLocalSkipsRemoteWhenInconclusive(t *testing.T) {
	remoteCalled := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		remoteCalled = true
		w.Write([]byte(`{"flags":{}}`))
	}))
	defer srv.Close()

	facade := NewFlagFacade(FacadeConfig{
		Evaluator:              flags.NewLocalEvaluator(nil),
		Remote:                 NewRemoteEvaluator(RemoteEvaluatorConfig{Host: srv.URL, APIKey: "key"}),
		LocalEvaluationEnabled: true,
	})

	_, ok := facade.Resolve(context.Background(), "missing-flag", "u1", nil, nil, nil, true)
	if ok {
		t.Error("Resolve() ok = true, want false for an uncached flag under onlyEvaluateLocally")
	}
	if remoteCalled {
		t.Error("remote decide endpoint should not be called when onlyEvaluateLocally is true")
	}
}

func TestFlagFacade_FlushDeduplicatesByValue(t *testing.T) {
	evaluator := flags.NewLocalEvaluator(nil)
	flagsByKey, cohortsByID, groupTypeMapping, _ := decodeLocalEvaluation([]byte(sampleLocalEvaluationResponse))
	evaluator.SetDefinitions(flagsByKey, cohortsByID, groupTypeMapping)

	facade := NewFlagFacade(FacadeConfig{
		Evaluator:              evaluator,
		Remote:                 NewRemoteEvaluator(RemoteEvaluatorConfig{Host: "http://unused"}),
		LocalEvaluationEnabled: true,
	})

	ctx := context.Background()
	props := flags.Properties{"plan": "enterprise", "country": "US"}
	groupProps := map[string]flags.Properties{"company": {"plan": "enterprise", "country": "US"}}
	groups := map[string]string{"company": "c1"}

	facade.Resolve(ctx, "beta-feature", "u1", groups, props, groupProps, true)
	facade.Resolve(ctx, "beta-feature", "u1", groups, props, groupProps, true)

	events := facade.Flush()
	if len(events) != 1 {
		t.Fatalf("len(events) = %d, want 1 (duplicate resolves should be deduplicated)", len(events))
	}
	if len(facade.Flush()) != 0 {
		t.Error("Flush() should drain the dedup cache")
	}
}
