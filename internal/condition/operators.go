package condition

import (
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
)

// Operator names a SIMPLE comparison.
type Operator string

const (
	OpEquals      Operator = "equals"
	OpNotEquals   Operator = "notEquals"
	OpContains    Operator = "contains"
	OpNotContains Operator = "notContains"
	OpStartsWith  Operator = "startsWith"
	OpEndsWith    Operator = "endsWith"
	OpRegex       Operator = "regex"
	OpGt          Operator = "gt"
	OpGte         Operator = "gte"
	OpLt          Operator = "lt"
	OpLte         Operator = "lte"
	OpIn          Operator = "in"
	OpNotIn       Operator = "notIn"
	OpIsNull      Operator = "isNull"
	OpIsNotNull   Operator = "isNotNull"
	OpIsEmpty     Operator = "isEmpty"
	OpIsNotEmpty  Operator = "isNotEmpty"
)

var operators = map[Operator]bool{
	OpEquals: true, OpNotEquals: true, OpContains: true, OpNotContains: true,
	OpStartsWith: true, OpEndsWith: true, OpRegex: true,
	OpGt: true, OpGte: true, OpLt: true, OpLte: true,
	OpIn: true, OpNotIn: true,
	OpIsNull: true, OpIsNotNull: true, OpIsEmpty: true, OpIsNotEmpty: true,
}

// Known reports whether op is a supported operator.
func (op Operator) Known() bool { return operators[op] }

// Unary reports whether op ignores the target value.
func (op Operator) Unary() bool {
	switch op {
	case OpIsNull, OpIsNotNull, OpIsEmpty, OpIsNotEmpty:
		return true
	}
	return false
}

// toFloat64 coerces a numeric value to float64.
func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

// toNumber accepts numeric values and their string representations.
func toNumber(v any) (float64, bool) {
	if f, ok := toFloat64(v); ok {
		return f, true
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(stringify(v)), 64)
	if err != nil || math.IsNaN(f) {
		return 0, false
	}
	return f, true
}

// stringify renders a value the way substring operators see it.
func stringify(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case []string:
		return strings.Join(s, ", ")
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case fmt.Stringer:
		return s.String()
	}
	if items, ok := asList(v); ok {
		parts := make([]string, len(items))
		for i, it := range items {
			parts[i] = stringify(it)
		}
		return strings.Join(parts, ", ")
	}
	return fmt.Sprint(v)
}

// asList unpacks slice values (tags, YAML/JSON arrays) into []any.
func asList(v any) ([]any, bool) {
	switch l := v.(type) {
	case []any:
		return l, true
	case []string:
		out := make([]any, len(l))
		for i, s := range l {
			out[i] = s
		}
		return out, true
	case nil, string:
		return nil, false
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

// equal does deep-ish equality: numeric types are compared by value.
func equal(left, right any, ignoreCase bool) bool {
	if left == nil || right == nil {
		return left == nil && right == nil
	}
	ls, lstr := left.(string)
	rs, rstr := right.(string)
	if lstr && rstr {
		if ignoreCase {
			return strings.EqualFold(ls, rs)
		}
		return ls == rs
	}
	lf, lok := toFloat64(left)
	rf, rok := toFloat64(right)
	if lok && rok {
		return math.Abs(lf-rf) < 1e-9
	}
	if lb, ok := left.(bool); ok {
		if rb, ok := right.(bool); ok {
			return lb == rb
		}
		return false
	}
	// string fallback
	return stringify(left) == stringify(right)
}

type substringFn func(s, sub string) bool

func substring(fn substringFn, left, right any, ignoreCase bool) bool {
	if left == nil || right == nil {
		return false
	}
	ls, rs := stringify(left), stringify(right)
	if ignoreCase {
		ls, rs = strings.ToLower(ls), strings.ToLower(rs)
	}
	return fn(ls, rs)
}

// numericCompare returns the sign of left-right; ok is false when either
// operand is missing or not a number.
func numericCompare(left, right any) (cmp int, ok bool) {
	if left == nil || right == nil {
		return 0, false
	}
	lf, lok := toNumber(left)
	rf, rok := toNumber(right)
	if !lok || !rok {
		return 0, false
	}
	switch {
	case lf < rf:
		return -1, true
	case lf > rf:
		return 1, true
	}
	return 0, true
}

// membership implements in/notIn. Matching is always case-insensitive.
func membership(left, right any) bool {
	if left == nil || right == nil {
		return false
	}
	targets := tokens(right)
	if items, ok := asList(left); ok {
		for _, it := range items {
			if matchesAny(stringify(it), targets) {
				return true
			}
		}
		return false
	}
	return matchesAny(stringify(left), targets)
}

func tokens(v any) []string {
	if s, ok := v.(string); ok {
		parts := strings.Split(s, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts
	}
	if items, ok := asList(v); ok {
		out := make([]string, len(items))
		for i, it := range items {
			out[i] = stringify(it)
		}
		return out
	}
	return []string{stringify(v)}
}

func matchesAny(s string, targets []string) bool {
	for _, t := range targets {
		if strings.EqualFold(s, t) {
			return true
		}
	}
	return false
}

func isEmpty(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return x == ""
	case map[string]any:
		return len(x) == 0
	}
	if items, ok := asList(v); ok {
		return len(items) == 0
	}
	return false
}
