// Package flags' LocalEvaluator mirrors the teacher's internal/service
// mutex-guarded, atomically-replaced cache (internal/service/service.go's
// config snapshot swap) applied to flag/cohort definitions instead of
// service config, and its condition-group walk is grounded on the
// reference SDK's checkIfSimpleFlagEnabled / matchFeatureFlagProperties.
package flags

import (
	"log/slog"
	"sync"
)

// LocalEvaluator evaluates flags against a cached snapshot of flag and
// cohort definitions, without any network access. The Poller is the sole
// writer (via SetDefinitions); Evaluate callers are concurrent readers.
type LocalEvaluator struct {
	mu sync.RWMutex

	flagsByKey       map[string]FlagDefinition
	cohortsByID      map[string]CohortDefinition
	groupTypeMapping map[string]int

	logger *slog.Logger
}

// NewLocalEvaluator creates an evaluator with an empty cache.
func NewLocalEvaluator(logger *slog.Logger) *LocalEvaluator {
	if logger == nil {
		logger = slog.Default()
	}
	return &LocalEvaluator{
		flagsByKey:       map[string]FlagDefinition{},
		cohortsByID:      map[string]CohortDefinition{},
		groupTypeMapping: map[string]int{},
		logger:           logger,
	}
}

// SetDefinitions atomically replaces the cached flag/cohort/group-type
// snapshot. The Poller calls this after every successful fetch.
func (le *LocalEvaluator) SetDefinitions(flagsByKey map[string]FlagDefinition, cohortsByID map[string]CohortDefinition, groupTypeMapping map[string]int) {
	le.mu.Lock()
	defer le.mu.Unlock()
	le.flagsByKey = flagsByKey
	le.cohortsByID = cohortsByID
	le.groupTypeMapping = groupTypeMapping
}

// HasData reports whether the current definitions snapshot holds at least
// one flag. A loaded snapshot with no flags reports false.
func (le *LocalEvaluator) HasData() bool {
	le.mu.RLock()
	defer le.mu.RUnlock()
	return len(le.flagsByKey) > 0
}

// AllKeys returns the locally-cached flag keys, used by AllFlags to drive
// a full local evaluation pass.
func (le *LocalEvaluator) AllKeys() []string {
	le.mu.RLock()
	defer le.mu.RUnlock()
	keys := make([]string, 0, len(le.flagsByKey))
	for k := range le.flagsByKey {
		keys = append(keys, k)
	}
	return keys
}

func (le *LocalEvaluator) cohortByID(id string) (CohortDefinition, bool) {
	le.mu.RLock()
	defer le.mu.RUnlock()
	def, ok := le.cohortsByID[id]
	return def, ok
}

func (le *LocalEvaluator) flagByKey(key string) (FlagDefinition, bool) {
	le.mu.RLock()
	defer le.mu.RUnlock()
	def, ok := le.flagsByKey[key]
	return def, ok
}

// Evaluate resolves one flag for ctx using only cached data. It returns
// *RequiresServerEvaluationError when the flag demands it explicitly (an
// uncached cohort, ensureExperienceContinuity) and *InconclusiveMatchError
// when no condition group could be decided (including an unknown flag
// key) — the flags facade treats both as "fall back to remote" unless the
// caller asked for local-only evaluation.
func (le *LocalEvaluator) Evaluate(key string, ctx EvaluationContext) (FlagResult, error) {
	session := &evalSession{le: le, cache: map[string]FlagResult{}}
	return session.evaluate(key, ctx, false)
}

// evalSession threads a per-top-level-call cache through recursive
// flag_evaluates_to resolution, so a flag referenced by several sibling
// conditions is only evaluated once per top-level Evaluate call.
type evalSession struct {
	le    *LocalEvaluator
	cache map[string]FlagResult
}

func (s *evalSession) evaluate(key string, ctx EvaluationContext, isDependency bool) (FlagResult, error) {
	if cached, ok := s.cache[key]; ok {
		return cached, nil
	}
	result, err := s.le.evaluateFlag(key, ctx, s, isDependency)
	if err != nil {
		return FlagResult{}, err
	}
	s.cache[key] = result
	return result, nil
}

// evaluateDependency resolves a flag referenced via flag_evaluates_to.
// Dependency resolution still honors activity gating (an inactive
// dependency resolves to false) but skips the experience-continuity gate,
// which only applies to a subject's own top-level flag lookup.
func (s *evalSession) evaluateDependency(flagKey string, ctx EvaluationContext) (FlagResult, error) {
	return s.evaluate(flagKey, ctx, true)
}

func (s *evalSession) cohortByID(id string) (CohortDefinition, bool) {
	return s.le.cohortByID(id)
}

func (le *LocalEvaluator) evaluateFlag(key string, ctx EvaluationContext, resolver dependencyResolver, isDependency bool) (FlagResult, error) {
	def, ok := le.flagByKey(key)
	if !ok {
		return FlagResult{}, inconclusive("flag %q not cached locally", key)
	}
	if !def.Active {
		return FlagResult{Value: false, Reason: ReasonInactive, FlagID: def.ID, FlagVersion: def.Version, LocallyEvaluated: true}, nil
	}
	if def.EnsureExperienceContinuity && !isDependency {
		return FlagResult{}, requiresServer("flag %q requires experience continuity", key)
	}

	props, subjectID, ok := le.effectiveProperties(def, ctx)
	if !ok {
		return FlagResult{}, requiresServer("flag %q targets an ungrouped subject for group type index %v", key, def.Filters.AggregationGroupTypeIndex)
	}

	var lastInconclusive error
	for _, group := range def.Filters.Groups {
		matched, err := matchPropertyGroup(conditionsAsGroup(group.Properties), props, ctx, resolver)
		if err != nil {
			if _, ok := err.(*RequiresServerEvaluationError); ok {
				return FlagResult{}, err
			}
			// Inconclusive: this group can't be decided locally; remember
			// it and try the next condition group.
			lastInconclusive = err
			le.logger.Debug("posthog: condition group inconclusive, trying next", "flag", key, "error", err)
			continue
		}
		if !matched {
			continue
		}
		if group.RolloutPercentage != nil && !InRollout(key, subjectID, *group.RolloutPercentage) {
			continue
		}

		value := any(true)
		if def.Filters.Multivariate != nil && len(def.Filters.Multivariate.Variants) > 0 {
			if variant := Variant(key, subjectID, def.Filters.Multivariate.Variants); variant != "" {
				value = variant
			}
		}
		result := FlagResult{
			Value:            value,
			Reason:           ReasonConditionMatch,
			FlagID:           def.ID,
			FlagVersion:      def.Version,
			LocallyEvaluated: true,
		}
		result.Payload = ResolvePayload(def, result)
		return result, nil
	}

	if lastInconclusive != nil {
		return FlagResult{}, lastInconclusive
	}
	return FlagResult{Value: false, Reason: ReasonNoConditions, FlagID: def.ID, FlagVersion: def.Version, LocallyEvaluated: true}, nil
}

// effectiveProperties resolves which subject id and property bag a flag's
// conditions should be matched against: the person's own, or — for
// group-scoped flags — the relevant group's.
func (le *LocalEvaluator) effectiveProperties(def FlagDefinition, ctx EvaluationContext) (Properties, string, bool) {
	if def.Filters.AggregationGroupTypeIndex == nil {
		return ctx.PersonProps, ctx.SubjectID, true
	}

	groupType := le.groupTypeName(*def.Filters.AggregationGroupTypeIndex)
	groupKey, ok := ctx.Groups[groupType]
	if !ok || groupKey == "" {
		return nil, "", false
	}
	return ctx.GroupProps[groupType], groupKey, true
}

func (le *LocalEvaluator) groupTypeName(index int) string {
	le.mu.RLock()
	defer le.mu.RUnlock()
	for name, idx := range le.groupTypeMapping {
		if idx == index {
			return name
		}
	}
	return ""
}

func conditionsAsGroup(conds []PropertyCondition) PropertyGroup {
	values := make([]any, len(conds))
	for i, c := range conds {
		values[i] = c
	}
	return PropertyGroup{Type: "AND", Values: values}
}
