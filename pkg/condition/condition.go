// Package condition evaluates declarative condition trees against a flat
// variable state. It backs guard evaluation for form flows and is shared by
// every graph walker in the engine.
package condition

import "strings"

// Supported leaf operators.
const (
	OpEqual          = "="
	OpNotEqual       = "!="
	OpGreater        = ">"
	OpGreaterOrEqual = ">="
	OpLess           = "<"
	OpLessOrEqual    = "<="
	OpIn             = "in"
	OpNotIn          = "notIn"
	OpContains       = "contains"
	OpStartsWith     = "startsWith"
	OpExists         = "exists"
)

// Condition is either a leaf comparison (Field set) or a combinator over
// sub-conditions. A leaf takes precedence when both shapes are present.
type Condition struct {
	Field string `json:"field,omitempty"`
	Op    string `json:"op,omitempty"`
	Value any    `json:"value,omitempty"`

	All []Condition `json:"all,omitempty"`
	Any []Condition `json:"any,omitempty"`
}

// Evaluate reports whether the condition holds for the given state. A nil
// condition always holds. Unknown operators and type mismatches evaluate to
// false rather than erroring, so a malformed guard can never open a branch.
func Evaluate(state map[string]any, cond *Condition) bool {
	if cond == nil {
		return true
	}

	if cond.Field != "" {
		return evaluateLeaf(state, cond)
	}

	if cond.All != nil {
		for i := range cond.All {
			if !Evaluate(state, &cond.All[i]) {
				return false
			}
		}

		return true
	}

	if cond.Any != nil {
		for i := range cond.Any {
			if Evaluate(state, &cond.Any[i]) {
				return true
			}
		}

		return false
	}

	return true
}

func evaluateLeaf(state map[string]any, cond *Condition) bool {
	left, present := state[cond.Field]

	switch cond.Op {
	case OpEqual:
		return equal(left, cond.Value)
	case OpNotEqual:
		return !equal(left, cond.Value)
	case OpGreater:
		cmp, ok := compare(left, cond.Value)

		return ok && cmp > 0
	case OpGreaterOrEqual:
		cmp, ok := compare(left, cond.Value)

		return ok && cmp >= 0
	case OpLess:
		cmp, ok := compare(left, cond.Value)

		return ok && cmp < 0
	case OpLessOrEqual:
		cmp, ok := compare(left, cond.Value)

		return ok && cmp <= 0
	case OpIn:
		return contains(cond.Value, left)
	case OpNotIn:
		set, ok := asSlice(cond.Value)
		if !ok {
			return false
		}

		for _, item := range set {
			if equal(left, item) {
				return false
			}
		}

		return true
	case OpContains:
		l, r, ok := asStrings(left, cond.Value)

		return ok && strings.Contains(l, r)
	case OpStartsWith:
		l, r, ok := asStrings(left, cond.Value)

		return ok && strings.HasPrefix(l, r)
	case OpExists:
		return present && left != nil
	default:
		return false
	}
}

func equal(left, right any) bool {
	if ln, ok := asNumber(left); ok {
		rn, ok := asNumber(right)

		return ok && ln == rn
	}

	return left == right
}

// compare returns -1, 0 or 1 for ordered operands. Numbers compare
// numerically, strings lexicographically; anything else is unordered.
func compare(left, right any) (int, bool) {
	if ln, lok := asNumber(left); lok {
		rn, rok := asNumber(right)
		if !rok {
			return 0, false
		}

		switch {
		case ln < rn:
			return -1, true
		case ln > rn:
			return 1, true
		default:
			return 0, true
		}
	}

	ls, lok := left.(string)
	rs, rok := right.(string)

	if lok && rok {
		return strings.Compare(ls, rs), true
	}

	return 0, false
}

func contains(set, item any) bool {
	items, ok := asSlice(set)
	if !ok {
		return false
	}

	for _, candidate := range items {
		if equal(item, candidate) {
			return true
		}
	}

	return false
}

func asSlice(value any) ([]any, bool) {
	switch v := value.(type) {
	case []any:
		return v, true
	case []string:
		items := make([]any, len(v))
		for i, s := range v {
			items[i] = s
		}

		return items, true
	default:
		return nil, false
	}
}

func asStrings(left, right any) (string, string, bool) {
	l, lok := left.(string)
	r, rok := right.(string)

	return l, r, lok && rok
}

// asNumber widens every numeric type that can come out of JSON decoding or
// test literals to float64.
func asNumber(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint:
		return float64(v), true
	case uint32:
		return float64(v), true
	case uint64:
		return float64(v), true
	default:
		return 0, false
	}
}
