package rules

import (
	"errors"
	"fmt"
)

const (
	MinPriority     = 0
	MaxPriority     = 255
	DefaultPriority = 50
)

// Rule is a named, prioritized pairing of one condition and an ordered list
// of actions. A Rule is immutable once built; changes are made by building a
// replacement and adding it under the same ID.
type Rule struct {
	id          string
	name        string
	description string
	condition   Condition
	actions     []Action
	priority    int
	enabled     bool
}

// ID returns the rule identifier, unique within a store
func (r *Rule) ID() string { return r.id }

// Name returns the display name
func (r *Rule) Name() string { return r.name }

// Description returns the optional description
func (r *Rule) Description() string { return r.description }

// Priority returns the priority in [0,255]; higher runs first
func (r *Rule) Priority() int { return r.priority }

// Enabled reports whether the rule takes part in execution
func (r *Rule) Enabled() bool { return r.enabled }

// Condition returns the condition tree
func (r *Rule) Condition() Condition { return r.condition }

// Actions returns a copy of the action list
func (r *Rule) Actions() []Action {
	out := make([]Action, len(r.actions))
	copy(out, r.actions)
	return out
}

// WithEnabled returns a copy of r with the enabled flag set
func (r *Rule) WithEnabled(enabled bool) *Rule {
	c := *r
	c.enabled = enabled
	return &c
}

// RuleBuilder assembles and validates a Rule
type RuleBuilder struct {
	id          string
	name        string
	description string
	condition   Condition
	actions     []Action
	priority    int
	enabled     bool
	errs        []error
}

// NewRuleBuilder starts a rule with the default priority, enabled
func NewRuleBuilder(id, name string) *RuleBuilder {
	return &RuleBuilder{
		id:       id,
		name:     name,
		priority: DefaultPriority,
		enabled:  true,
	}
}

// Description sets the optional description
func (b *RuleBuilder) Description(description string) *RuleBuilder {
	b.description = description
	return b
}

// Condition sets the condition, replacing any earlier one
func (b *RuleBuilder) Condition(c Condition) *RuleBuilder {
	b.condition = c
	return b
}

// Action appends an action; multiple calls accumulate in order
func (b *RuleBuilder) Action(a Action) *RuleBuilder {
	b.actions = append(b.actions, a)
	return b
}

// Priority sets the priority. Values outside [0,255] make Build fail.
func (b *RuleBuilder) Priority(p int) *RuleBuilder {
	if p < MinPriority || p > MaxPriority {
		b.errs = append(b.errs, fmt.Errorf("%w: got %d", ErrInvalidPriority, p))
		return b
	}
	b.priority = p
	return b
}

// Enabled sets the initial enabled state
func (b *RuleBuilder) Enabled(enabled bool) *RuleBuilder {
	b.enabled = enabled
	return b
}

// Build validates the accumulated settings and returns the rule
func (b *RuleBuilder) Build() (*Rule, error) {
	if b.id == "" {
		return nil, ErrEmptyID
	}
	if len(b.errs) > 0 {
		return nil, fmt.Errorf("rule %s: %w", b.id, errors.Join(b.errs...))
	}
	if b.condition == nil {
		return nil, fmt.Errorf("rule %s: %w", b.id, ErrMissingCondition)
	}
	if err := validateCondition(b.condition); err != nil {
		return nil, fmt.Errorf("rule %s: %w", b.id, err)
	}

	actions := make([]Action, len(b.actions))
	for i, a := range b.actions {
		if err := validateAction(a); err != nil {
			return nil, fmt.Errorf("rule %s: action %d: %w", b.id, i, err)
		}
		actions[i] = cloneAction(a)
	}

	return &Rule{
		id:          b.id,
		name:        b.name,
		description: b.description,
		condition:   cloneCondition(b.condition),
		actions:     actions,
		priority:    b.priority,
		enabled:     b.enabled,
	}, nil
}

// validateRule checks a rule that did not necessarily come from a builder
func validateRule(r *Rule) error {
	if r == nil {
		return fmt.Errorf("%w: nil rule", ErrInvalidRule)
	}
	if r.id == "" {
		return fmt.Errorf("%w: %v", ErrInvalidRule, ErrEmptyID)
	}
	if r.condition == nil {
		return fmt.Errorf("%w: rule %s: %v", ErrInvalidRule, r.id, ErrMissingCondition)
	}
	return nil
}
