package rules

import (
	"encoding/json"
	"fmt"
)

// RuleDocument is the persisted and exchanged form of a Rule. It maps 1:1
// onto the rule, condition and action variants and keeps the integer/float
// distinction of every value.
type RuleDocument struct {
	ID          string            `json:"id" yaml:"id"`
	Name        string            `json:"name" yaml:"name"`
	Description string            `json:"description,omitempty" yaml:"description,omitempty"`
	Priority    *int              `json:"priority,omitempty" yaml:"priority,omitempty"`
	Enabled     *bool             `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	Condition   ConditionDocument `json:"condition" yaml:"condition"`
	Actions     []ActionDocument  `json:"actions,omitempty" yaml:"actions,omitempty"`
}

// PredicateDocument is the payload of a leaf condition
type PredicateDocument struct {
	Field string `json:"field" yaml:"field"`
	Value Value  `json:"value" yaml:"value"`
}

// ConditionDocument holds exactly one condition variant
type ConditionDocument struct {
	Equals      *PredicateDocument   `json:"equals,omitempty" yaml:"equals,omitempty"`
	GreaterThan *PredicateDocument   `json:"greater_than,omitempty" yaml:"greater_than,omitempty"`
	LessThan    *PredicateDocument   `json:"less_than,omitempty" yaml:"less_than,omitempty"`
	Contains    *PredicateDocument   `json:"contains,omitempty" yaml:"contains,omitempty"`
	And         *[]ConditionDocument `json:"and,omitempty" yaml:"and,omitempty"`
	Or          *[]ConditionDocument `json:"or,omitempty" yaml:"or,omitempty"`
	Not         *ConditionDocument   `json:"not,omitempty" yaml:"not,omitempty"`
	Expr        *string              `json:"expr,omitempty" yaml:"expr,omitempty"`
}

// LogDocument is the payload of a log action
type LogDocument struct {
	Message string `json:"message" yaml:"message"`
}

// UpdateFieldDocument is the payload of an update_field action
type UpdateFieldDocument struct {
	Field string `json:"field" yaml:"field"`
	Value Value  `json:"value" yaml:"value"`
}

// ExternalCallDocument is the payload of a call_external_service action
type ExternalCallDocument struct {
	Endpoint string           `json:"endpoint" yaml:"endpoint"`
	Payload  map[string]Value `json:"payload,omitempty" yaml:"payload,omitempty"`
	Include  []string         `json:"include,omitempty" yaml:"include,omitempty"`
}

// EventDocument is the payload of a send_event action
type EventDocument struct {
	EventType string           `json:"event_type" yaml:"event_type"`
	Data      map[string]Value `json:"data,omitempty" yaml:"data,omitempty"`
}

// ActionDocument holds exactly one action variant
type ActionDocument struct {
	Log                 *LogDocument          `json:"log,omitempty" yaml:"log,omitempty"`
	UpdateField         *UpdateFieldDocument  `json:"update_field,omitempty" yaml:"update_field,omitempty"`
	CallExternalService *ExternalCallDocument `json:"call_external_service,omitempty" yaml:"call_external_service,omitempty"`
	SendEvent           *EventDocument        `json:"send_event,omitempty" yaml:"send_event,omitempty"`
	Composite           *[]ActionDocument     `json:"composite,omitempty" yaml:"composite,omitempty"`
}

// Build converts the document into a validated Rule
func (d RuleDocument) Build() (*Rule, error) {
	b := NewRuleBuilder(d.ID, d.Name).Description(d.Description)
	if d.Priority != nil {
		b.Priority(*d.Priority)
	}
	if d.Enabled != nil {
		b.Enabled(*d.Enabled)
	}

	cond, err := d.Condition.condition()
	if err != nil {
		return nil, fmt.Errorf("rule %s: condition: %w", d.ID, err)
	}
	b.Condition(cond)

	for i, ad := range d.Actions {
		a, err := ad.action()
		if err != nil {
			return nil, fmt.Errorf("rule %s: action %d: %w", d.ID, i, err)
		}
		b.Action(a)
	}

	return b.Build()
}

func (d ConditionDocument) condition() (Condition, error) {
	var (
		out Condition
		set int
	)

	if d.Equals != nil {
		out, set = Equals{Field: d.Equals.Field, Value: d.Equals.Value}, set+1
	}
	if d.GreaterThan != nil {
		out, set = GreaterThan{Field: d.GreaterThan.Field, Value: d.GreaterThan.Value}, set+1
	}
	if d.LessThan != nil {
		out, set = LessThan{Field: d.LessThan.Field, Value: d.LessThan.Value}, set+1
	}
	if d.Contains != nil {
		out, set = Contains{Field: d.Contains.Field, Value: d.Contains.Value}, set+1
	}
	if d.And != nil {
		children, err := conditions("and", *d.And)
		if err != nil {
			return nil, err
		}
		out, set = And(children), set+1
	}
	if d.Or != nil {
		children, err := conditions("or", *d.Or)
		if err != nil {
			return nil, err
		}
		out, set = Or(children), set+1
	}
	if d.Not != nil {
		child, err := d.Not.condition()
		if err != nil {
			return nil, fmt.Errorf("not: %w", err)
		}
		out, set = Not{Condition: child}, set+1
	}
	if d.Expr != nil {
		e, err := NewExpr(*d.Expr)
		if err != nil {
			return nil, err
		}
		out, set = e, set+1
	}

	if set != 1 {
		return nil, fmt.Errorf("%w: document must hold exactly one condition, found %d", ErrInvalidCondition, set)
	}
	return out, nil
}

func conditions(op string, docs []ConditionDocument) ([]Condition, error) {
	out := make([]Condition, len(docs))
	for i, cd := range docs {
		c, err := cd.condition()
		if err != nil {
			return nil, fmt.Errorf("%s[%d]: %w", op, i, err)
		}
		out[i] = c
	}
	return out, nil
}

func (d ActionDocument) action() (Action, error) {
	var (
		out Action
		set int
	)

	if d.Log != nil {
		out, set = Log{Message: d.Log.Message}, set+1
	}
	if d.UpdateField != nil {
		out, set = UpdateField{Field: d.UpdateField.Field, Value: d.UpdateField.Value}, set+1
	}
	if d.CallExternalService != nil {
		c := d.CallExternalService
		out, set = CallExternalService{Endpoint: c.Endpoint, Payload: c.Payload, Include: c.Include}, set+1
	}
	if d.SendEvent != nil {
		out, set = SendEvent{EventType: d.SendEvent.EventType, Data: d.SendEvent.Data}, set+1
	}
	if d.Composite != nil {
		children := make(Composite, len(*d.Composite))
		for i, cd := range *d.Composite {
			a, err := cd.action()
			if err != nil {
				return nil, fmt.Errorf("composite[%d]: %w", i, err)
			}
			children[i] = a
		}
		out, set = children, set+1
	}

	if set != 1 {
		return nil, fmt.Errorf("%w: document must hold exactly one action, found %d", ErrInvalidAction, set)
	}
	return out, nil
}

// DocumentOf converts a rule into its document form
func DocumentOf(r *Rule) RuleDocument {
	priority := r.priority
	enabled := r.enabled

	actions := make([]ActionDocument, len(r.actions))
	for i, a := range r.actions {
		actions[i] = actionDocument(a)
	}

	return RuleDocument{
		ID:          r.id,
		Name:        r.name,
		Description: r.description,
		Priority:    &priority,
		Enabled:     &enabled,
		Condition:   conditionDocument(r.condition),
		Actions:     actions,
	}
}

func conditionDocument(c Condition) ConditionDocument {
	switch t := c.(type) {
	case Equals:
		return ConditionDocument{Equals: &PredicateDocument{Field: t.Field, Value: t.Value}}
	case GreaterThan:
		return ConditionDocument{GreaterThan: &PredicateDocument{Field: t.Field, Value: t.Value}}
	case LessThan:
		return ConditionDocument{LessThan: &PredicateDocument{Field: t.Field, Value: t.Value}}
	case Contains:
		return ConditionDocument{Contains: &PredicateDocument{Field: t.Field, Value: t.Value}}
	case And:
		children := conditionDocuments(t)
		return ConditionDocument{And: &children}
	case Or:
		children := conditionDocuments(t)
		return ConditionDocument{Or: &children}
	case Not:
		child := conditionDocument(t.Condition)
		return ConditionDocument{Not: &child}
	case *Expr:
		src := t.source
		return ConditionDocument{Expr: &src}
	default:
		return ConditionDocument{}
	}
}

func conditionDocuments(children []Condition) []ConditionDocument {
	out := make([]ConditionDocument, len(children))
	for i, c := range children {
		out[i] = conditionDocument(c)
	}
	return out
}

func actionDocument(a Action) ActionDocument {
	switch t := a.(type) {
	case Log:
		return ActionDocument{Log: &LogDocument{Message: t.Message}}
	case UpdateField:
		return ActionDocument{UpdateField: &UpdateFieldDocument{Field: t.Field, Value: t.Value}}
	case CallExternalService:
		return ActionDocument{CallExternalService: &ExternalCallDocument{
			Endpoint: t.Endpoint,
			Payload:  t.Payload,
			Include:  t.Include,
		}}
	case SendEvent:
		return ActionDocument{SendEvent: &EventDocument{EventType: t.EventType, Data: t.Data}}
	case Composite:
		children := make([]ActionDocument, len(t))
		for i, child := range t {
			children[i] = actionDocument(child)
		}
		return ActionDocument{Composite: &children}
	default:
		return ActionDocument{}
	}
}

// MarshalRule encodes r as a JSON rule document
func MarshalRule(r *Rule) ([]byte, error) {
	return json.Marshal(DocumentOf(r))
}

// UnmarshalRule decodes and validates a JSON rule document
func UnmarshalRule(data []byte) (*Rule, error) {
	var doc RuleDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("invalid rule document: %w", err)
	}
	return doc.Build()
}
