package matcher

import (
	"fmt"
	"strings"

	"github.com/cortexflow/cortex/pkg/models"
)

// Evaluate applies one of the closed set of rule operators (spec §4.3's
// condition grammar) to a field value pulled from an Event's payload.
func Evaluate(op models.Operator, actual, expected any) (bool, error) {
	switch op {
	case models.OpIsNull:
		return actual == nil, nil
	case models.OpIsNotNull:
		return actual != nil, nil
	case models.OpEq:
		return equal(actual, expected), nil
	case models.OpNeq:
		return !equal(actual, expected), nil
	case models.OpIn:
		return member(actual, expected), nil
	case models.OpNotIn:
		return !member(actual, expected), nil
	case models.OpContains:
		return contains(actual, expected)
	case models.OpStartsWith:
		return strings.HasPrefix(stringOf(actual), stringOf(expected)), nil
	case models.OpBetween:
		return between(actual, expected)
	case models.OpGt, models.OpGte, models.OpLt, models.OpLte:
		return compareNumeric(op, actual, expected)
	default:
		return false, fmt.Errorf("matcher: unknown operator %q", op)
	}
}

func equal(a, b any) bool {
	return stringOf(a) == stringOf(b)
}

func member(actual, expected any) bool {
	list, ok := expected.([]any)
	if !ok {
		return false
	}
	for _, v := range list {
		if equal(actual, v) {
			return true
		}
	}
	return false
}

func contains(actual, expected any) (bool, error) {
	switch v := actual.(type) {
	case string:
		return strings.Contains(v, stringOf(expected)), nil
	case []any:
		return member(expected, actual), nil
	default:
		return false, nil
	}
}

func between(actual, expected any) (bool, error) {
	bounds, ok := expected.([]any)
	if !ok || len(bounds) != 2 {
		return false, fmt.Errorf("matcher: between requires a two-element bound")
	}
	val, err := toFloat(actual)
	if err != nil {
		return false, err
	}
	low, err := toFloat(bounds[0])
	if err != nil {
		return false, err
	}
	high, err := toFloat(bounds[1])
	if err != nil {
		return false, err
	}
	return val >= low && val <= high, nil
}

func compareNumeric(op models.Operator, actual, expected any) (bool, error) {
	a, err := toFloat(actual)
	if err != nil {
		return false, err
	}
	b, err := toFloat(expected)
	if err != nil {
		return false, err
	}
	switch op {
	case models.OpGt:
		return a > b, nil
	case models.OpGte:
		return a >= b, nil
	case models.OpLt:
		return a < b, nil
	case models.OpLte:
		return a <= b, nil
	}
	return false, fmt.Errorf("matcher: unreachable operator %q", op)
}

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	default:
		return 0, fmt.Errorf("matcher: value %v is not numeric", v)
	}
}

func stringOf(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}
