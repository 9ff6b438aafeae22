package flagsremote

import (
	"encoding/json"
	"fmt"

	"github.com/matt-riley/posthog-go/internal/flags"
)

// wireLocalEvaluation is the body of a 200 response from the
// local-evaluation endpoint, per spec.md §6.
type wireLocalEvaluation struct {
	Flags            []wireFlag                 `json:"flags"`
	Cohorts          map[string]json.RawMessage `json:"cohorts"`
	GroupTypeMapping map[string]string          `json:"group_type_mapping"`
}

type wireFlag struct {
	Key                        string      `json:"key"`
	ID                         int64       `json:"id"`
	Version                    int         `json:"version"`
	Active                     bool        `json:"active"`
	EnsureExperienceContinuity bool        `json:"ensure_experience_continuity"`
	Filters                    wireFilters `json:"filters"`
}

type wireFilters struct {
	Groups                    []wireConditionGroup `json:"groups"`
	Multivariate              *wireMultivariate     `json:"multivariate"`
	Payloads                  map[string]any        `json:"payloads"`
	AggregationGroupTypeIndex *int                  `json:"aggregation_group_type_index"`
}

type wireConditionGroup struct {
	Properties        []wireCondition `json:"properties"`
	RolloutPercentage *float64        `json:"rollout_percentage"`
}

type wireMultivariate struct {
	Variants []wireVariant `json:"variants"`
}

type wireVariant struct {
	Key               string  `json:"key"`
	RolloutPercentage float64 `json:"rollout_percentage"`
}

type wireCondition struct {
	Key             string   `json:"key"`
	Operator        string   `json:"operator"`
	Value           any      `json:"value"`
	Negation        bool     `json:"negation"`
	Type            string   `json:"type"`
	DependencyChain []string `json:"dependency_chain"`
}

type wirePropertyGroup struct {
	Type   string            `json:"type"`
	Values []json.RawMessage `json:"values"`
}

func decodeLocalEvaluation(body []byte) (map[string]flags.FlagDefinition, map[string]flags.CohortDefinition, map[string]int, error) {
	var wire wireLocalEvaluation
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, nil, nil, fmt.Errorf("posthog: decode local evaluation response: %w", err)
	}

	flagsByKey := make(map[string]flags.FlagDefinition, len(wire.Flags))
	for _, wf := range wire.Flags {
		flagsByKey[wf.Key] = decodeFlag(wf)
	}

	cohortsByID := make(map[string]flags.CohortDefinition, len(wire.Cohorts))
	for id, raw := range wire.Cohorts {
		def, err := decodeCohort(raw)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("posthog: decode cohort %s: %w", id, err)
		}
		cohortsByID[id] = def
	}

	groupTypeMapping := make(map[string]int, len(wire.GroupTypeMapping))
	for index, name := range wire.GroupTypeMapping {
		var idx int
		if _, err := fmt.Sscanf(index, "%d", &idx); err == nil {
			groupTypeMapping[name] = idx
		}
	}

	return flagsByKey, cohortsByID, groupTypeMapping, nil
}

func decodeFlag(wf wireFlag) flags.FlagDefinition {
	groups := make([]flags.ConditionGroup, len(wf.Filters.Groups))
	for i, wg := range wf.Filters.Groups {
		props := make([]flags.PropertyCondition, len(wg.Properties))
		for j, wc := range wg.Properties {
			props[j] = decodeCondition(wc)
		}
		groups[i] = flags.ConditionGroup{Properties: props, RolloutPercentage: wg.RolloutPercentage}
	}

	var multivariate *flags.Multivariate
	if wf.Filters.Multivariate != nil {
		variants := make([]flags.MultivariateVariant, len(wf.Filters.Multivariate.Variants))
		for i, wv := range wf.Filters.Multivariate.Variants {
			variants[i] = flags.MultivariateVariant{Key: wv.Key, RolloutPercentage: wv.RolloutPercentage}
		}
		multivariate = &flags.Multivariate{Variants: variants}
	}

	return flags.FlagDefinition{
		Key:                        wf.Key,
		ID:                         wf.ID,
		Version:                    wf.Version,
		Active:                     wf.Active,
		EnsureExperienceContinuity: wf.EnsureExperienceContinuity,
		Filters: flags.Filters{
			Groups:                    groups,
			Multivariate:              multivariate,
			Payloads:                  wf.Filters.Payloads,
			AggregationGroupTypeIndex: wf.Filters.AggregationGroupTypeIndex,
		},
	}
}

func decodeCondition(wc wireCondition) flags.PropertyCondition {
	return flags.PropertyCondition{
		Key:             wc.Key,
		Operator:        wc.Operator,
		Value:           wc.Value,
		Negation:        wc.Negation,
		Type:            wc.Type,
		DependencyChain: wc.DependencyChain,
	}
}

// decodeCohort parses a cohort's top-level property group. Cohorts are
// delivered as a PropertyGroup (not a FlagDefinition), so this is the
// entry point into the same recursive group/condition decoding the
// flag filters use.
func decodeCohort(raw json.RawMessage) (flags.CohortDefinition, error) {
	group, err := decodePropertyGroup(raw)
	if err != nil {
		return flags.CohortDefinition{}, err
	}
	return flags.CohortDefinition{Type: group.Type, Values: group.Values}, nil
}

func decodePropertyGroup(raw json.RawMessage) (flags.PropertyGroup, error) {
	var wg wirePropertyGroup
	if err := json.Unmarshal(raw, &wg); err != nil {
		return flags.PropertyGroup{}, err
	}
	values := make([]any, 0, len(wg.Values))
	for _, rawValue := range wg.Values {
		v, err := decodeGroupValue(rawValue)
		if err != nil {
			return flags.PropertyGroup{}, err
		}
		values = append(values, v)
	}
	return flags.PropertyGroup{Type: wg.Type, Values: values}, nil
}

// decodeGroupValue distinguishes a nested group from a leaf condition by
// the presence of a "values" key — cohort condition groups nest
// arbitrarily, and there is no explicit discriminator in the wire format
// beyond shape.
func decodeGroupValue(raw json.RawMessage) (any, error) {
	var probe struct {
		Values *json.RawMessage `json:"values"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, err
	}
	if probe.Values != nil {
		return decodePropertyGroup(raw)
	}
	var wc wireCondition
	if err := json.Unmarshal(raw, &wc); err != nil {
		return nil, err
	}
	return decodeCondition(wc), nil
}
