package rules

import (
	"fmt"
	"strings"
)

// Condition is a boolean expression tree evaluated against a fact snapshot.
// Evaluation is total and side-effect free: missing fields and kind
// mismatches resolve to false instead of failing.
//
// The variant set is closed: Equals, GreaterThan, LessThan, Contains,
// And, Or, Not and Expr.
type Condition interface {
	Evaluate(facts FactMap) bool
	condition()
}

// Equals is true when the field holds a value of the same kind and payload
type Equals struct {
	Field string
	Value Value
}

// GreaterThan is true when the field orders strictly after Value
type GreaterThan struct {
	Field string
	Value Value
}

// LessThan is true when the field orders strictly before Value
type LessThan struct {
	Field string
	Value Value
}

// Contains is true when the field is a string containing the rendering of Value
type Contains struct {
	Field string
	Value Value
}

// And is true when every child is true. An empty And is true.
type And []Condition

// Or is true when any child is true. An empty Or is false.
type Or []Condition

// Not negates its child
type Not struct {
	Condition Condition
}

func (Equals) condition()      {}
func (GreaterThan) condition() {}
func (LessThan) condition()    {}
func (Contains) condition()    {}
func (And) condition()         {}
func (Or) condition()          {}
func (Not) condition()         {}

func (c Equals) Evaluate(facts FactMap) bool {
	return facts.Get(c.Field).Compare(OpEqual, c.Value)
}

func (c GreaterThan) Evaluate(facts FactMap) bool {
	return facts.Get(c.Field).Compare(OpGreaterThan, c.Value)
}

func (c LessThan) Evaluate(facts FactMap) bool {
	return facts.Get(c.Field).Compare(OpLessThan, c.Value)
}

func (c Contains) Evaluate(facts FactMap) bool {
	s, err := facts.Get(c.Field).AsString()
	if err != nil || c.Value.IsMissing() {
		return false
	}
	return strings.Contains(s, c.Value.Render())
}

// Evaluate stops at the first false child
func (c And) Evaluate(facts FactMap) bool {
	for _, child := range c {
		if !Evaluate(child, facts) {
			return false
		}
	}
	return true
}

// Evaluate stops at the first true child
func (c Or) Evaluate(facts FactMap) bool {
	for _, child := range c {
		if Evaluate(child, facts) {
			return true
		}
	}
	return false
}

func (c Not) Evaluate(facts FactMap) bool {
	return !Evaluate(c.Condition, facts)
}

// Evaluate evaluates c against facts. A nil condition is false.
func Evaluate(c Condition, facts FactMap) bool {
	if c == nil {
		return false
	}
	return c.Evaluate(facts)
}

// validateCondition rejects nil nodes and leaves without a field name
func validateCondition(c Condition) error {
	switch t := c.(type) {
	case nil:
		return fmt.Errorf("%w: nil condition", ErrInvalidCondition)
	case Equals:
		return validateField("equals", t.Field)
	case GreaterThan:
		return validateField("greater_than", t.Field)
	case LessThan:
		return validateField("less_than", t.Field)
	case Contains:
		return validateField("contains", t.Field)
	case And:
		return validateChildren("and", t)
	case Or:
		return validateChildren("or", t)
	case Not:
		if t.Condition == nil {
			return fmt.Errorf("%w: not without operand", ErrInvalidCondition)
		}
		return validateCondition(t.Condition)
	case *Expr:
		if t == nil || t.program == nil {
			return fmt.Errorf("%w: expression is not compiled", ErrInvalidCondition)
		}
		return nil
	default:
		return fmt.Errorf("%w: unsupported condition type %T", ErrInvalidCondition, c)
	}
}

func validateField(op, field string) error {
	if field == "" {
		return fmt.Errorf("%w: %s requires a field", ErrInvalidCondition, op)
	}
	return nil
}

func validateChildren(op string, children []Condition) error {
	for i, child := range children {
		if err := validateCondition(child); err != nil {
			return fmt.Errorf("%s[%d]: %w", op, i, err)
		}
	}
	return nil
}

// cloneCondition deep-copies combinator slices so a built rule does not
// share backing arrays with the caller
func cloneCondition(c Condition) Condition {
	switch t := c.(type) {
	case And:
		out := make(And, len(t))
		for i, child := range t {
			out[i] = cloneCondition(child)
		}
		return out
	case Or:
		out := make(Or, len(t))
		for i, child := range t {
			out[i] = cloneCondition(child)
		}
		return out
	case Not:
		return Not{Condition: cloneCondition(t.Condition)}
	default:
		return c
	}
}
