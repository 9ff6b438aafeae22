package flags

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// InconclusiveMatchError means this condition group cannot be decided
// locally (e.g. a missing property) — evaluation should try the next
// condition group rather than treating the flag as off.
type InconclusiveMatchError struct {
	Reason string
}

func (e *InconclusiveMatchError) Error() string { return "inconclusive match: " + e.Reason }

func inconclusive(format string, args ...any) error {
	return &InconclusiveMatchError{Reason: fmt.Sprintf(format, args...)}
}

// RequiresServerEvaluationError means local evaluation cannot resolve this
// flag at all (e.g. an unknown cohort) and the caller must fall back to a
// remote evaluation call.
type RequiresServerEvaluationError struct {
	Reason string
}

func (e *RequiresServerEvaluationError) Error() string {
	return "requires server evaluation: " + e.Reason
}

func requiresServer(format string, args ...any) error {
	return &RequiresServerEvaluationError{Reason: fmt.Sprintf(format, args...)}
}

// matchProperty evaluates one PropertyCondition against a property bag,
// grounded on the reference SDK's matchProperty and the teacher's
// evaluator.go valueIn/numeric-coercion helpers.
func matchProperty(cond PropertyCondition, props Properties) (bool, error) {
	op := cond.Operator
	if op == "" {
		op = "exact"
	}

	value, present := props[cond.Key]
	if !present {
		if op == "is_not_set" {
			return true, nil
		}
		return false, inconclusive("property %q not set", cond.Key)
	}
	if op == "is_set" {
		return true, nil
	}
	if op == "is_not_set" {
		return false, nil
	}

	switch op {
	case "exact", "":
		return matchExact(value, cond.Value), nil
	case "is_not":
		return !matchExact(value, cond.Value), nil
	case "icontains":
		return strings.Contains(strings.ToLower(toString(value)), strings.ToLower(toString(cond.Value))), nil
	case "not_icontains":
		return !strings.Contains(strings.ToLower(toString(value)), strings.ToLower(toString(cond.Value))), nil
	case "regex":
		return matchRegex(toString(value), toString(cond.Value))
	case "not_regex":
		ok, err := matchRegex(toString(value), toString(cond.Value))
		if err != nil {
			return false, err
		}
		return !ok, nil
	case "gt":
		return compareOrdered(value, cond.Value, func(c int) bool { return c > 0 })
	case "gte":
		return compareOrdered(value, cond.Value, func(c int) bool { return c >= 0 })
	case "lt":
		return compareOrdered(value, cond.Value, func(c int) bool { return c < 0 })
	case "lte":
		return compareOrdered(value, cond.Value, func(c int) bool { return c <= 0 })
	case "is_date_before":
		return compareDates(value, cond.Value, func(c int) bool { return c < 0 })
	case "is_date_after":
		return compareDates(value, cond.Value, func(c int) bool { return c > 0 })
	default:
		return false, inconclusive("unsupported operator %q", op)
	}
}

func matchExact(value, target any) bool {
	if list, ok := target.([]any); ok {
		for _, item := range list {
			if matchExact(value, item) {
				return true
			}
		}
		return false
	}
	if fv, ok := asFloat(value); ok {
		if ft, ok := asFloat(target); ok {
			return fv == ft
		}
	}
	return strings.EqualFold(toString(value), toString(target))
}

func matchRegex(value, pattern string) (bool, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return false, inconclusive("invalid regex %q: %v", pattern, err)
	}
	return re.MatchString(value), nil
}

// compareOrdered implements gt/gte/lt/lte, preferring numeric comparison
// and falling back to lexicographic string comparison when either operand
// is not numeric.
func compareOrdered(value, target any, test func(cmp int) bool) (bool, error) {
	if fv, ok := asFloat(value); ok {
		if ft, ok := asFloat(target); ok {
			return test(compareFloat(fv, ft)), nil
		}
	}
	return test(strings.Compare(toString(value), toString(target))), nil
}

func compareFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// compareDates compares value (the property) against target (the
// condition's operand, which may be an absolute timestamp or a relative
// duration like "-30d") per spec.md §4.9's date grammar: -?\d+[hdwmy],
// magnitude capped at 10000.
func compareDates(value, target any, test func(cmp int) bool) (bool, error) {
	valueTime, err := parseDate(toString(value))
	if err != nil {
		return false, inconclusive("cannot parse date %q: %v", toString(value), err)
	}
	targetTime, err := resolveDateOperand(toString(target))
	if err != nil {
		return false, inconclusive("cannot parse date operand %q: %v", toString(target), err)
	}
	switch {
	case valueTime.Before(targetTime):
		return test(-1), nil
	case valueTime.After(targetTime):
		return test(1), nil
	default:
		return test(0), nil
	}
}

var relativeDatePattern = regexp.MustCompile(`^(-?\d+)([hdwmy])$`)

func resolveDateOperand(s string) (time.Time, error) {
	if m := relativeDatePattern.FindStringSubmatch(s); m != nil {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			return time.Time{}, err
		}
		if n < 0 {
			n = -n
		}
		if n > 10000 {
			return time.Time{}, fmt.Errorf("relative date magnitude %d exceeds 10000", n)
		}
		return applyRelativeDate(time.Now().UTC(), n, m[2]), nil
	}
	return parseDate(s)
}

func applyRelativeDate(from time.Time, n int, unit string) time.Time {
	switch unit {
	case "h":
		return from.Add(-time.Duration(n) * time.Hour)
	case "d":
		return from.AddDate(0, 0, -n)
	case "w":
		return from.AddDate(0, 0, -7*n)
	case "m":
		return from.AddDate(0, -n, 0)
	case "y":
		return from.AddDate(-n, 0, 0)
	default:
		return from
	}
}

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05.000Z07:00",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func parseDate(s string) (time.Time, error) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date format %q", s)
}

func toString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprintf("%v", t)
	}
}

func asFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(t, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}
