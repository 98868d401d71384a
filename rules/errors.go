package rules

import (
	"errors"
	"fmt"
)

// Rule construction errors
var (
	ErrEmptyID          = errors.New("rule id cannot be empty")
	ErrMissingCondition = errors.New("rule condition is required")
	ErrInvalidPriority  = errors.New("rule priority must be between 0 and 255")
	ErrInvalidCondition = errors.New("invalid condition")
	ErrInvalidAction    = errors.New("invalid action")
)

// Store and executor errors
var (
	ErrInvalidRule      = errors.New("invalid rule")
	ErrRuleNotFound     = errors.New("rule not found")
	ErrRuleExists       = errors.New("rule already exists")
	ErrReadOnlyStore    = errors.New("rule store is read-only")
	ErrCorruptRuleState = errors.New("corrupt rule state")
)

// ErrWrongKind is returned by the Value accessors when the value holds a different kind
var ErrWrongKind = errors.New("wrong value kind")

// ActionError reports a non-fatal action failure.
// It is recorded in the effect log and never aborts sibling actions or later rules.
type ActionError struct {
	RuleID string
	Action string
	Reason string
}

func (e *ActionError) Error() string {
	if e.RuleID == "" {
		return fmt.Sprintf("action %s failed: %s", e.Action, e.Reason)
	}
	return fmt.Sprintf("rule %s: action %s failed: %s", e.RuleID, e.Action, e.Reason)
}

// ExecError reports a whole-evaluation failure caused by an integrity fault
// in the rule store. Data mismatches never produce an ExecError.
type ExecError struct {
	RuleID string
	Err    error
}

func (e *ExecError) Error() string {
	if e.RuleID == "" {
		return fmt.Sprintf("execution aborted: %v", e.Err)
	}
	return fmt.Sprintf("execution aborted at rule %s: %v", e.RuleID, e.Err)
}

func (e *ExecError) Unwrap() error {
	return e.Err
}
