package rules

import (
	"errors"
	"fmt"
	"maps"
)

// Action is a mutation or side effect applied when a rule fires.
// The variant set is closed: Log, UpdateField, CallExternalService,
// SendEvent and Composite.
type Action interface {
	kind() string
	apply(ctx *applyContext) error
}

// Log appends a message to the effect log
type Log struct {
	Message string
}

// UpdateField sets Field in the outputs, overwriting any earlier value
type UpdateField struct {
	Field string
	Value Value
}

// CallExternalService records the intent to call Endpoint. The engine never
// performs the call itself. Include names output fields whose current values
// are copied into the recorded payload.
type CallExternalService struct {
	Endpoint string
	Payload  map[string]Value
	Include  []string
}

// SendEvent records the intent to publish an event
type SendEvent struct {
	EventType string
	Data      map[string]Value
}

// Composite applies its children in order. A failing child does not stop
// the children after it.
type Composite []Action

type applyContext struct {
	ruleID  string
	outputs FactMap
	log     *EffectLog
}

func (ctx *applyContext) fail(action, reason string) error {
	err := &ActionError{RuleID: ctx.ruleID, Action: action, Reason: reason}
	ctx.log.record(Effect{
		RuleID:  ctx.ruleID,
		Kind:    EffectKindFailed,
		Message: reason,
		Err:     err,
	})
	return err
}

// Apply applies action to outputs, recording effects in log.
// A nil return means success; otherwise the error is an *ActionError or a
// join of them. Failures are also recorded in the log. outputs must be non-nil.
func Apply(action Action, outputs FactMap, log *EffectLog) error {
	if log == nil {
		log = &EffectLog{}
	}
	ctx := &applyContext{outputs: outputs, log: log}
	return applyAction(ctx, action)
}

func applyAction(ctx *applyContext, action Action) error {
	if action == nil {
		return ctx.fail("unknown", "nil action")
	}
	return action.apply(ctx)
}

func (Log) kind() string { return "log" }

func (a Log) apply(ctx *applyContext) error {
	ctx.log.record(Effect{RuleID: ctx.ruleID, Kind: EffectKindLog, Message: a.Message})
	return nil
}

func (UpdateField) kind() string { return "update_field" }

func (a UpdateField) apply(ctx *applyContext) error {
	if a.Field == "" {
		return ctx.fail(a.kind(), "field name is empty")
	}
	if a.Value.IsMissing() {
		return ctx.fail(a.kind(), fmt.Sprintf("cannot assign a missing value to %q", a.Field))
	}

	ctx.outputs[a.Field] = a.Value
	ctx.log.record(Effect{RuleID: ctx.ruleID, Kind: EffectKindUpdate, Field: a.Field, Value: a.Value})
	return nil
}

func (CallExternalService) kind() string { return "call_external_service" }

func (a CallExternalService) apply(ctx *applyContext) error {
	if a.Endpoint == "" {
		return ctx.fail(a.kind(), "endpoint is empty")
	}

	payload := make(map[string]Value, len(a.Payload)+len(a.Include))
	maps.Copy(payload, a.Payload)
	for _, field := range a.Include {
		if v := ctx.outputs.Get(field); !v.IsMissing() {
			payload[field] = v
		}
	}

	ctx.log.record(Effect{
		RuleID:   ctx.ruleID,
		Kind:     EffectKindExternalCall,
		Endpoint: a.Endpoint,
		Payload:  payload,
	})
	return nil
}

func (SendEvent) kind() string { return "send_event" }

func (a SendEvent) apply(ctx *applyContext) error {
	if a.EventType == "" {
		return ctx.fail(a.kind(), "event type is empty")
	}

	ctx.log.record(Effect{
		RuleID:    ctx.ruleID,
		Kind:      EffectKindEvent,
		EventType: a.EventType,
		Payload:   maps.Clone(a.Data),
	})
	return nil
}

func (Composite) kind() string { return "composite" }

func (a Composite) apply(ctx *applyContext) error {
	var errs []error
	for _, child := range a {
		if err := applyAction(ctx, child); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func validateAction(a Action) error {
	switch t := a.(type) {
	case nil:
		return fmt.Errorf("%w: nil action", ErrInvalidAction)
	case Composite:
		for i, child := range t {
			if err := validateAction(child); err != nil {
				return fmt.Errorf("composite[%d]: %w", i, err)
			}
		}
		return nil
	case Log, UpdateField, CallExternalService, SendEvent:
		return nil
	default:
		return fmt.Errorf("%w: unsupported action type %T", ErrInvalidAction, a)
	}
}

// cloneAction copies slices and maps so a built rule owns its actions
func cloneAction(a Action) Action {
	switch t := a.(type) {
	case Composite:
		out := make(Composite, len(t))
		for i, child := range t {
			out[i] = cloneAction(child)
		}
		return out
	case CallExternalService:
		t.Payload = maps.Clone(t.Payload)
		t.Include = append([]string(nil), t.Include...)
		return t
	case SendEvent:
		t.Data = maps.Clone(t.Data)
		return t
	default:
		return a
	}
}
