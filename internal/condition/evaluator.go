package condition

import (
	"log/slog"
	"strings"
)

// Fields resolves named document fields. *document.Document implements it;
// the interface keeps this package free of the document model.
type Fields interface {
	Resolve(field string) (any, bool)
}

// Evaluate walks the tree and reports whether doc satisfies it.
// A nil condition always matches. Evaluation never fails: unknown operators,
// bad patterns and non-numeric comparisons resolve to a non-match and are logged.
func Evaluate(c Condition, doc Fields) bool {
	return evaluate(c, doc, slog.Default())
}

// Evaluator is Evaluate bound to a specific logger.
type Evaluator struct {
	Logger *slog.Logger
}

// Evaluate implements the package-level Evaluate with e.Logger.
func (e Evaluator) Evaluate(c Condition, doc Fields) bool {
	l := e.Logger
	if l == nil {
		l = slog.Default()
	}
	return evaluate(c, doc, l)
}

func evaluate(c Condition, doc Fields, log *slog.Logger) bool {
	switch n := c.(type) {
	case nil:
		return true
	case Always:
		return bool(n)
	case *And:
		if n == nil {
			return true
		}
		for _, child := range n.Children {
			if !evaluate(child, doc, log) {
				return false // short-circuit
			}
		}
		return true
	case *Or:
		if n == nil {
			return false
		}
		for _, child := range n.Children {
			if evaluate(child, doc, log) {
				return true // short-circuit
			}
		}
		return false
	case *Not:
		if n == nil || n.Child == nil {
			return true
		}
		return !evaluate(n.Child, doc, log)
	case *Simple:
		if n == nil {
			return true
		}
		return evalSimple(n, doc, log)
	default:
		log.Warn("unknown condition type", "type", c.Kind())
		return false
	}
}

func evalSimple(s *Simple, doc Fields, log *slog.Logger) bool {
	var field any
	if doc != nil {
		if v, ok := doc.Resolve(s.Field); ok {
			field = v
		}
	}
	target := s.Value
	op := s.Operator
	if op == "" {
		op = OpEquals
	}

	switch op {
	case OpEquals:
		return equal(field, target, s.IgnoreCase)
	case OpNotEquals:
		return !equal(field, target, s.IgnoreCase)
	case OpContains:
		return substring(strings.Contains, field, target, s.IgnoreCase)
	case OpNotContains:
		return !substring(strings.Contains, field, target, s.IgnoreCase)
	case OpStartsWith:
		return substring(strings.HasPrefix, field, target, s.IgnoreCase)
	case OpEndsWith:
		return substring(strings.HasSuffix, field, target, s.IgnoreCase)
	case OpRegex:
		return evalRegex(s, field, log)
	case OpGt, OpGte, OpLt, OpLte:
		cmp, ok := numericCompare(field, target)
		if !ok {
			if field != nil && target != nil {
				log.Warn("cannot compare as numbers", "field", s.Field, "value", field, "target", target)
			}
			return false
		}
		switch op {
		case OpGt:
			return cmp > 0
		case OpGte:
			return cmp >= 0
		case OpLt:
			return cmp < 0
		default:
			return cmp <= 0
		}
	case OpIn:
		return membership(field, target)
	case OpNotIn:
		return !membership(field, target)
	case OpIsNull:
		return field == nil
	case OpIsNotNull:
		return field != nil
	case OpIsEmpty:
		return isEmpty(field)
	case OpIsNotEmpty:
		return !isEmpty(field)
	default:
		log.Warn("unknown operator", "operator", string(op), "field", s.Field)
		return false
	}
}

func evalRegex(s *Simple, field any, log *slog.Logger) bool {
	if field == nil || s.Value == nil {
		return false
	}
	re, err := s.re, s.reErr
	if re == nil && err == nil {
		re, err = compileFullMatch(stringify(s.Value))
	}
	if err != nil {
		log.Warn("invalid regex pattern", "pattern", stringify(s.Value), "err", err)
		return false
	}
	return re.MatchString(stringify(field))
}
