package flags

// dependencyResolver is the subset of LocalEvaluator that cohort and flag
// dependency conditions need: cohort lookup by id, and recursive flag
// evaluation for flag_evaluates_to conditions. Kept as an interface so this
// file has no direct dependency on evaluator.go's cache locking.
type dependencyResolver interface {
	cohortByID(id string) (CohortDefinition, bool)
	evaluateDependency(flagKey string, ctx EvaluationContext) (FlagResult, error)
}

// matchPropertyGroup evaluates a PropertyGroup (a recursive AND/OR tree of
// further groups and leaf conditions) against props. An empty group always
// matches, per spec.md §4.10.
func matchPropertyGroup(g PropertyGroup, props Properties, ctx EvaluationContext, r dependencyResolver) (bool, error) {
	if len(g.Values) == 0 {
		return true, nil
	}

	isAnd := g.Type != "OR"
	var firstErr error
	for _, v := range g.Values {
		ok, err := matchGroupValue(v, props, ctx, r)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			if isAnd {
				// An inconclusive/unresolved AND member makes the whole
				// group undecidable; propagate the most specific error.
				return false, err
			}
			continue
		}
		if isAnd && !ok {
			return false, nil
		}
		if !isAnd && ok {
			return true, nil
		}
	}
	if isAnd {
		return true, nil
	}
	if firstErr != nil {
		return false, firstErr
	}
	return false, nil
}

// matchGroupValue dispatches a single element of a PropertyGroup.Values or
// CohortDefinition.Values slice: it is either a nested PropertyGroup or a
// leaf PropertyCondition.
func matchGroupValue(v any, props Properties, ctx EvaluationContext, r dependencyResolver) (bool, error) {
	switch item := v.(type) {
	case PropertyGroup:
		return matchPropertyGroup(item, props, ctx, r)
	case PropertyCondition:
		return matchCondition(item, props, ctx, r)
	default:
		return false, inconclusive("unrecognized condition group element %T", v)
	}
}

// matchCondition evaluates a single PropertyCondition, routing cohort and
// flag references to their respective resolvers and applying negation as a
// pure XOR over the underlying result (an inconclusive inner result stays
// inconclusive; negation never masks it).
func matchCondition(cond PropertyCondition, props Properties, ctx EvaluationContext, r dependencyResolver) (bool, error) {
	var result bool
	var err error

	switch cond.Type {
	case "cohort":
		result, err = matchCohort(cond, ctx, r)
	case "flag":
		result, err = matchFlagDependency(cond, ctx, r)
	default:
		result, err = matchProperty(cond, props)
	}
	if err != nil {
		return false, err
	}
	if cond.Negation {
		return !result, nil
	}
	return result, nil
}

func matchCohort(cond PropertyCondition, ctx EvaluationContext, r dependencyResolver) (bool, error) {
	cohortID := toString(cond.Value)
	def, ok := r.cohortByID(cohortID)
	if !ok {
		return false, requiresServer("cohort %q not cached locally", cohortID)
	}

	group := PropertyGroup{Type: def.Type, Values: def.Values}
	return matchPropertyGroup(group, ctx.PersonProps, ctx, r)
}

// matchFlagDependency implements the flag_evaluates_to operator: cond.Key
// is the depended-on flag, cond.Value is the expected result, and
// cond.DependencyChain (when present) lists dependency keys that must be
// resolved, in order, before cond.Key itself. A DependencyChain that is
// present but empty signals a circular reference the server already
// detected, per spec.md §4.10.
func matchFlagDependency(cond PropertyCondition, ctx EvaluationContext, r dependencyResolver) (bool, error) {
	if cond.Operator != "" && cond.Operator != "flag_evaluates_to" {
		return false, inconclusive("flag dependency condition has unsupported operator %q", cond.Operator)
	}
	if cond.DependencyChain != nil && len(cond.DependencyChain) == 0 {
		return false, inconclusive("circular flag dependency chain for %q", cond.Key)
	}

	for _, depKey := range cond.DependencyChain {
		if _, err := r.evaluateDependency(depKey, ctx); err != nil {
			return false, err
		}
	}

	result, err := r.evaluateDependency(cond.Key, ctx)
	if err != nil {
		return false, err
	}
	return flagEvaluatesTo(result.Value, cond.Value), nil
}

// flagEvaluatesTo implements the flag_evaluates_to comparison rules:
// expected true matches an actual true or any non-empty string variant;
// expected false matches an actual false or an actual nil; expected string
// matches only an equal actual string, case-sensitively.
func flagEvaluatesTo(actual, expected any) bool {
	switch want := expected.(type) {
	case bool:
		if want {
			if b, ok := actual.(bool); ok {
				return b
			}
			if s, ok := actual.(string); ok {
				return s != ""
			}
			return false
		}
		if b, ok := actual.(bool); ok {
			return !b
		}
		return actual == nil
	case string:
		s, ok := actual.(string)
		return ok && s == want
	default:
		return false
	}
}
