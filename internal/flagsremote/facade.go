package flagsremote

import (
	"context"
	"fmt"
	"sync"

	"github.com/matt-riley/posthog-go/internal/flags"
	"github.com/matt-riley/posthog-go/internal/telemetry"
)

// FacadeConfig configures a FlagFacade.
type FacadeConfig struct {
	Evaluator             *flags.LocalEvaluator
	Remote                *RemoteEvaluator
	LocalEvaluationEnabled bool
}

// FlagCallEvent is one deduplicated flag-evaluation outcome, captured for
// the $feature_flag_called analytics event on flush.
type FlagCallEvent struct {
	SubjectID        string
	FlagKey          string
	Value            any
	LocallyEvaluated bool
	Payload          any
	FlagID           int64
	FlagVersion      int
	Reason           flags.Reason
}

// FlagFacade routes a flag lookup to the LocalEvaluator when possible and
// falls back to the RemoteEvaluator otherwise, grounded on the teacher's
// internal/service.go ResolveBoolean fallback-to-default structure
// (generalized here to fallback-to-remote-call instead of a static
// default).
type FlagFacade struct {
	cfg FacadeConfig

	mu    sync.Mutex
	dedup map[dedupKey]FlagCallEvent
}

type dedupKey struct {
	subjectID string
	flagKey   string
	value     string
}

// NewFlagFacade creates a FlagFacade.
func NewFlagFacade(cfg FacadeConfig) *FlagFacade {
	return &FlagFacade{cfg: cfg, dedup: map[dedupKey]FlagCallEvent{}}
}

// Resolve evaluates one flag per spec.md §4.14's four-step algorithm. When
// onlyEvaluateLocally is true, an inconclusive local result yields a nil
// value rather than falling back to the network.
func (f *FlagFacade) Resolve(ctx context.Context, key, subjectID string, groups map[string]string, personProps flags.Properties, groupProps map[string]flags.Properties, onlyEvaluateLocally bool) (flags.FlagResult, bool) {
	ctx, span := telemetry.StartSpan(ctx, "posthog.flag.resolve")
	defer span.End()

	if f.cfg.LocalEvaluationEnabled && f.cfg.Evaluator.HasData() {
		result, err := f.cfg.Evaluator.Evaluate(key, flags.EvaluationContext{
			SubjectID:   subjectID,
			PersonProps: personProps,
			Groups:      groups,
			GroupProps:  groupProps,
		})
		if err == nil {
			f.record(subjectID, key, result)
			return result, true
		}
	}

	if onlyEvaluateLocally {
		return flags.FlagResult{}, false
	}

	remote, err := f.cfg.Remote.Fetch(ctx, subjectID, groups, personProps, groupProps)
	if err != nil {
		return flags.FlagResult{}, false
	}
	result, ok := remote.Flags[key]
	if !ok {
		return flags.FlagResult{}, false
	}
	f.record(subjectID, key, result)
	return result, true
}

// AllFlags evaluates every locally-known flag key, falling back to a
// single remote decide call for anything not in the local cache (or when
// local evaluation is disabled or empty).
func (f *FlagFacade) AllFlags(ctx context.Context, subjectID string, groups map[string]string, personProps flags.Properties, groupProps map[string]flags.Properties, onlyEvaluateLocally bool) map[string]flags.FlagResult {
	ctx, span := telemetry.StartSpan(ctx, "posthog.flag.all")
	defer span.End()

	results := map[string]flags.FlagResult{}

	if f.cfg.LocalEvaluationEnabled && f.cfg.Evaluator.HasData() {
		for _, key := range f.cfg.Evaluator.AllKeys() {
			result, err := f.cfg.Evaluator.Evaluate(key, flags.EvaluationContext{
				SubjectID:   subjectID,
				PersonProps: personProps,
				Groups:      groups,
				GroupProps:  groupProps,
			})
			if err == nil {
				results[key] = result
				f.record(subjectID, key, result)
			}
		}
	}

	if onlyEvaluateLocally {
		return results
	}

	remote, err := f.cfg.Remote.Fetch(ctx, subjectID, groups, personProps, groupProps)
	if err != nil {
		return results
	}
	for key, result := range remote.Flags {
		if _, ok := results[key]; ok {
			continue
		}
		results[key] = result
		f.record(subjectID, key, result)
	}
	return results
}

func (f *FlagFacade) record(subjectID, flagKey string, result flags.FlagResult) {
	key := dedupKey{subjectID: subjectID, flagKey: flagKey, value: fmt.Sprintf("%v", result.Value)}

	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.dedup[key]; ok {
		return
	}
	f.dedup[key] = FlagCallEvent{
		SubjectID:        subjectID,
		FlagKey:          flagKey,
		Value:            result.Value,
		LocallyEvaluated: result.LocallyEvaluated,
		Payload:          result.Payload,
		FlagID:           result.FlagID,
		FlagVersion:      result.FlagVersion,
		Reason:           result.Reason,
	}
}

// Flush atomically drains and returns the deduplicated flag-call cache.
func (f *FlagFacade) Flush() []FlagCallEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	events := make([]FlagCallEvent, 0, len(f.dedup))
	for _, ev := range f.dedup {
		events = append(events, ev)
	}
	f.dedup = map[dedupKey]FlagCallEvent{}
	return events
}
