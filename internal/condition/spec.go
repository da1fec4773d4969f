package condition

import (
	"fmt"
	"strings"
)

// maxDepth bounds nesting of decoded trees.
const maxDepth = 64

// Spec is the serialised form of a condition used by the admin API, the
// YAML rule files and the database. Either the structured fields or
// Expression (textual syntax, see Parse) describe the node.
type Spec struct {
	Type       Kind   `json:"type,omitempty" yaml:"type,omitempty"`
	Field      string `json:"field,omitempty" yaml:"field,omitempty"`
	Operator   string `json:"operator,omitempty" yaml:"operator,omitempty"`
	Value      any    `json:"value,omitempty" yaml:"value,omitempty"`
	IgnoreCase *bool  `json:"ignoreCase,omitempty" yaml:"ignore_case,omitempty"`
	Children   []Spec `json:"children,omitempty" yaml:"children,omitempty"`
	Expression string `json:"expression,omitempty" yaml:"expression,omitempty"`
}

// FromSpec builds an immutable tree from its serialised form. It rejects
// structurally malformed nodes (AND/OR without children, NOT without exactly
// one child, SIMPLE without a field). Operators are checked by Validate.
func FromSpec(s *Spec) (Condition, error) {
	if s == nil {
		return nil, nil
	}
	return fromSpec(s, "condition", 0)
}

func fromSpec(s *Spec, at string, depth int) (Condition, error) {
	if depth > maxDepth {
		return nil, fmt.Errorf("%s: nesting deeper than %d", at, maxDepth)
	}
	kind := Kind(strings.ToUpper(string(s.Type)))
	if kind == "" {
		switch {
		case s.Expression != "":
			c, err := Parse(s.Expression)
			if err != nil {
				return nil, fmt.Errorf("%s: expression: %w", at, err)
			}
			return c, nil
		case s.Field != "":
			kind = KindSimple
		default:
			return True, nil
		}
	}

	switch kind {
	case KindSimple:
		if strings.TrimSpace(s.Field) == "" {
			return nil, fmt.Errorf("%s: field is required for SIMPLE condition", at)
		}
		op := Operator(s.Operator)
		if op == "" {
			op = OpEquals
		}
		ignoreCase := true
		if s.IgnoreCase != nil {
			ignoreCase = *s.IgnoreCase
		}
		return NewSimple(s.Field, op, s.Value, ignoreCase), nil
	case KindAnd, KindOr:
		if len(s.Children) == 0 {
			return nil, fmt.Errorf("%s: children are required for %s condition", at, kind)
		}
		children := make([]Condition, 0, len(s.Children))
		for i := range s.Children {
			c, err := fromSpec(&s.Children[i], fmt.Sprintf("%s.children[%d]", at, i), depth+1)
			if err != nil {
				return nil, err
			}
			children = append(children, c)
		}
		if kind == KindAnd {
			return &And{Children: children}, nil
		}
		return &Or{Children: children}, nil
	case KindNot:
		if len(s.Children) != 1 {
			return nil, fmt.Errorf("%s: NOT condition requires exactly one child, got %d", at, len(s.Children))
		}
		c, err := fromSpec(&s.Children[0], at+".children[0]", depth+1)
		if err != nil {
			return nil, err
		}
		return &Not{Child: c}, nil
	case KindAlwaysTrue:
		return True, nil
	case KindAlwaysFalse:
		return False, nil
	default:
		return nil, fmt.Errorf("%s: unknown condition type %q", at, s.Type)
	}
}

// ToSpec serialises a tree. A nil condition yields nil.
func ToSpec(c Condition) *Spec {
	switch n := c.(type) {
	case nil:
		return nil
	case Always:
		return &Spec{Type: n.Kind()}
	case *Simple:
		ic := n.IgnoreCase
		return &Spec{Type: KindSimple, Field: n.Field, Operator: string(n.Operator), Value: n.Value, IgnoreCase: &ic}
	case *And:
		return &Spec{Type: KindAnd, Children: toSpecs(n.Children)}
	case *Or:
		return &Spec{Type: KindOr, Children: toSpecs(n.Children)}
	case *Not:
		s := &Spec{Type: KindNot}
		if n.Child != nil {
			s.Children = []Spec{*ToSpec(n.Child)}
		}
		return s
	}
	return nil
}

func toSpecs(cs []Condition) []Spec {
	out := make([]Spec, 0, len(cs))
	for _, c := range cs {
		if s := ToSpec(c); s != nil {
			out = append(out, *s)
		}
	}
	return out
}

// Validate checks a tree the way rules are checked before they are saved:
// structure, known operators, a target value for binary operators and
// compilable regex patterns. All problems are reported together.
func Validate(c Condition) error {
	var errs []string
	validate(c, "condition", 0, &errs)
	if len(errs) > 0 {
		return fmt.Errorf("invalid condition:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func validate(c Condition, at string, depth int, errs *[]string) {
	if depth > maxDepth {
		// Trees are built top-down, so this only trips on a cycle or absurd nesting.
		*errs = append(*errs, fmt.Sprintf("%s: nesting deeper than %d", at, maxDepth))
		return
	}
	switch n := c.(type) {
	case nil, Always:
	case *Simple:
		if strings.TrimSpace(n.Field) == "" {
			*errs = append(*errs, fmt.Sprintf("%s: field is required", at))
		}
		op := n.Operator
		if op == "" {
			op = OpEquals
		}
		if !op.Known() {
			*errs = append(*errs, fmt.Sprintf("%s: unknown operator %q", at, n.Operator))
			return
		}
		if !op.Unary() && n.Value == nil {
			*errs = append(*errs, fmt.Sprintf("%s: operator %s requires a value", at, op))
		}
		if op == OpRegex && n.Value != nil {
			if _, err := compileFullMatch(stringify(n.Value)); err != nil {
				*errs = append(*errs, fmt.Sprintf("%s: invalid regex: %v", at, err))
			}
		}
	case *And:
		validateChildren(n.Children, KindAnd, at, depth, errs)
	case *Or:
		validateChildren(n.Children, KindOr, at, depth, errs)
	case *Not:
		if n.Child == nil {
			*errs = append(*errs, fmt.Sprintf("%s: NOT condition requires exactly one child", at))
			return
		}
		validate(n.Child, at+".children[0]", depth+1, errs)
	default:
		*errs = append(*errs, fmt.Sprintf("%s: unsupported condition %T", at, c))
	}
}

func validateChildren(children []Condition, kind Kind, at string, depth int, errs *[]string) {
	if len(children) == 0 {
		*errs = append(*errs, fmt.Sprintf("%s: children are required for %s condition", at, kind))
		return
	}
	for i, ch := range children {
		validate(ch, fmt.Sprintf("%s.children[%d]", at, i), depth+1, errs)
	}
}
