package condition

import (
	"regexp"
)

// Kind discriminates the condition variants.
type Kind string

const (
	KindSimple      Kind = "SIMPLE"
	KindAnd         Kind = "AND"
	KindOr          Kind = "OR"
	KindNot         Kind = "NOT"
	KindAlwaysTrue  Kind = "ALWAYS_TRUE"
	KindAlwaysFalse Kind = "ALWAYS_FALSE"
)

// Condition is a node of an immutable boolean expression tree.
// The set of implementations is closed: *Simple, *And, *Or, *Not and Always.
type Condition interface {
	Kind() Kind
	isCondition()
}

// Simple compares one document field against a target value.
type Simple struct {
	Field      string
	Operator   Operator
	Value      any
	IgnoreCase bool

	re    *regexp.Regexp // precompiled for OpRegex
	reErr error
}

// NewSimple builds a leaf and precompiles the pattern of a regex comparison.
func NewSimple(field string, op Operator, value any, ignoreCase bool) *Simple {
	s := &Simple{Field: field, Operator: op, Value: value, IgnoreCase: ignoreCase}
	if op == OpRegex && value != nil {
		s.re, s.reErr = compileFullMatch(stringify(value))
	}
	return s
}

func (*Simple) Kind() Kind { return KindSimple }
func (*Simple) isCondition() {}

// And is true iff every child is true. No children is vacuously true.
type And struct {
	Children []Condition
}

func (*And) Kind() Kind { return KindAnd }
func (*And) isCondition() {}

// Or is true iff any child is true. No children is false.
type Or struct {
	Children []Condition
}

func (*Or) Kind() Kind { return KindOr }
func (*Or) isCondition() {}

// Not negates its child. A NOT without a child evaluates to true.
type Not struct {
	Child Condition
}

func (*Not) Kind() Kind { return KindNot }
func (*Not) isCondition() {}

// Always is a constant condition.
type Always bool

func (a Always) Kind() Kind {
	if a {
		return KindAlwaysTrue
	}
	return KindAlwaysFalse
}
func (Always) isCondition() {}

// Constants for catch-all and disabled rules.
const (
	True  = Always(true)
	False = Always(false)
)

// All builds an AND node.
func All(children ...Condition) *And { return &And{Children: children} }

// Any builds an OR node.
func Any(children ...Condition) *Or { return &Or{Children: children} }

// Negate builds a NOT node.
func Negate(c Condition) *Not { return &Not{Child: c} }

// Field starts a case-insensitive SIMPLE condition on the named field.
func Field(name string, op Operator, value any) *Simple {
	return NewSimple(name, op, value, true)
}

func compileFullMatch(pattern string) (*regexp.Regexp, error) {
	return regexp.Compile(`^(?:` + pattern + `)$`)
}
