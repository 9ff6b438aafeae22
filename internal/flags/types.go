// Package flags implements deterministic local evaluation of feature flags:
// property matching, cohort matching, consistent-hash rollout, variant
// assignment, and flag-dependency resolution.
//
// It holds no network or transport dependencies — just logic, grounded on
// the teacher's internal/core package's pure-function-over-plain-structs
// style.
package flags

// Properties is a property bag keyed by attribute name.
type Properties map[string]any

// MultivariateVariant is one outcome of a multivariate flag.
type MultivariateVariant struct {
	Key               string
	RolloutPercentage float64
}

// Multivariate holds the ordered variant list of a multivariate flag.
type Multivariate struct {
	Variants []MultivariateVariant
}

// ConditionGroup is one element of FlagDefinition.Filters.Groups: an AND of
// PropertyConditions gated by an optional rollout percentage.
type ConditionGroup struct {
	Properties        []PropertyCondition
	RolloutPercentage *float64 // nil means "no rollout gate, always applies"
}

// Filters holds a flag's targeting configuration.
type Filters struct {
	Groups                    []ConditionGroup
	Multivariate              *Multivariate
	Payloads                  map[string]any // keyed by variant key, or "true"/"false"
	AggregationGroupTypeIndex *int
}

// FlagDefinition is the cached, opaque payload for one flag as delivered by
// the local-evaluation endpoint.
type FlagDefinition struct {
	Key                        string
	ID                         int64
	Version                    int
	Active                     bool
	EnsureExperienceContinuity bool
	Filters                    Filters
}

// PropertyCondition is a single leaf condition: a property match, or a
// reference to a cohort or another flag.
type PropertyCondition struct {
	Key             string
	Operator        string
	Value           any
	Negation        bool
	Type            string // "" | "cohort" | "flag"
	DependencyChain []string
}

// CohortDefinition is a recursive property group keyed by cohort id.
type CohortDefinition struct {
	Type   string // "AND" | "OR"
	Values []any  // each element is either a PropertyGroup or a PropertyCondition
}

// PropertyGroup is a nested AND/OR group of conditions or further groups.
type PropertyGroup struct {
	Type   string // "AND" | "OR"
	Values []any
}

// Reason enumerates why a FlagResult has the value it does.
type Reason string

const (
	ReasonConditionMatch Reason = "condition_match"
	ReasonNoConditions   Reason = "no_condition_group_match"
	ReasonInactive       Reason = "flag_inactive"
	ReasonNotFound       Reason = "flag_not_found"
	ReasonInconclusive   Reason = "inconclusive"
)

// FlagResult is the outcome of evaluating one flag for one subject.
type FlagResult struct {
	Value            any // bool | string | nil
	Reason           Reason
	FlagID           int64
	FlagVersion      int
	Payload          any
	LocallyEvaluated bool
}

// EvaluationContext is the per-call state threaded through evaluation:
// the subject id, the relevant property bag, and (for group flags) the
// group-type → group-key mapping and per-group-type property bags.
type EvaluationContext struct {
	SubjectID     string
	PersonProps   Properties
	Groups        map[string]string    // groupType -> groupKey
	GroupProps    map[string]Properties // groupType -> properties
}
