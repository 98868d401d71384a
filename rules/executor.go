package rules

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
)

// entry pairs a rule with its insertion sequence, used as the priority tie-break
type entry struct {
	rule *Rule
	seq  uint64
}

// ruleSet is an immutable snapshot of the executor's rules.
// ordered holds every rule sorted by priority desc, then insertion order.
type ruleSet struct {
	byID    map[string]*entry
	ordered []*entry
}

var emptyRuleSet = &ruleSet{byID: map[string]*entry{}}

func newRuleSet(byID map[string]*entry) *ruleSet {
	ordered := make([]*entry, 0, len(byID))
	for _, e := range byID {
		ordered = append(ordered, e)
	}
	sort.Slice(ordered, func(i, j int) bool {
		a, b := ordered[i], ordered[j]
		if a.rule.priority != b.rule.priority {
			return a.rule.priority > b.rule.priority
		}
		return a.seq < b.seq
	})
	return &ruleSet{byID: byID, ordered: ordered}
}

// Result is the outcome of one Execute call
type Result struct {
	// Outputs is the input facts plus every field update applied
	Outputs FactMap
	// Effects holds the EffectLog entries in rule priority order, then action order
	Effects []Effect
	// Fired lists the IDs of rules whose condition matched, in firing order
	Fired []string
}

// Failures returns the failed effect entries
func (r *Result) Failures() []Effect {
	return failedEffects(r.Effects)
}

// RuleExecutor holds the active rule set and evaluates it against facts.
//
// Mutations build a complete replacement snapshot under a mutex and publish
// it atomically, so Execute never takes a lock and never observes a
// partially updated rule. Concurrent Execute calls are safe.
type RuleExecutor struct {
	mu      sync.Mutex
	current atomic.Pointer[ruleSet]
	nextSeq uint64
}

// NewRuleExecutor creates an executor with no rules
func NewRuleExecutor() *RuleExecutor {
	x := &RuleExecutor{}
	x.current.Store(emptyRuleSet)
	return x
}

func (x *RuleExecutor) snapshot() *ruleSet {
	if s := x.current.Load(); s != nil {
		return s
	}
	return emptyRuleSet
}

// mutate copies the current snapshot's index, lets fn edit the copy and
// publishes the result. Callers must hold x.mu.
func (x *RuleExecutor) mutate(fn func(byID map[string]*entry) error) error {
	cur := x.snapshot()
	next := make(map[string]*entry, len(cur.byID)+1)
	for id, e := range cur.byID {
		next[id] = e
	}
	if err := fn(next); err != nil {
		return err
	}
	x.current.Store(newRuleSet(next))
	return nil
}

// put inserts or replaces r; a replacement keeps the original insertion sequence
func (x *RuleExecutor) put(byID map[string]*entry, r *Rule) {
	if old, ok := byID[r.id]; ok {
		byID[r.id] = &entry{rule: r, seq: old.seq}
		return
	}
	x.nextSeq++
	byID[r.id] = &entry{rule: r, seq: x.nextSeq}
}

// AddRule inserts r, or atomically replaces the rule with the same ID
func (x *RuleExecutor) AddRule(r *Rule) error {
	if err := validateRule(r); err != nil {
		return err
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	return x.mutate(func(byID map[string]*entry) error {
		x.put(byID, r)
		return nil
	})
}

// AddRules adds several rules in one publish. Nothing is added if any rule is invalid.
func (x *RuleExecutor) AddRules(rules ...*Rule) error {
	for _, r := range rules {
		if err := validateRule(r); err != nil {
			return err
		}
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	return x.mutate(func(byID map[string]*entry) error {
		for _, r := range rules {
			x.put(byID, r)
		}
		return nil
	})
}

// ReplaceAll swaps the whole rule set. Insertion order follows the slice order.
func (x *RuleExecutor) ReplaceAll(rules []*Rule) error {
	byID := make(map[string]*entry, len(rules))
	for _, r := range rules {
		if err := validateRule(r); err != nil {
			return err
		}
		if _, dup := byID[r.id]; dup {
			return fmt.Errorf("%w: duplicate id %s", ErrRuleExists, r.id)
		}
		byID[r.id] = nil
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	for _, r := range rules {
		x.nextSeq++
		byID[r.id] = &entry{rule: r, seq: x.nextSeq}
	}
	x.current.Store(newRuleSet(byID))
	return nil
}

// RemoveRule removes the rule with id. It reports whether a rule was removed.
func (x *RuleExecutor) RemoveRule(id string) bool {
	x.mu.Lock()
	defer x.mu.Unlock()

	if _, ok := x.snapshot().byID[id]; !ok {
		return false
	}
	_ = x.mutate(func(byID map[string]*entry) error {
		delete(byID, id)
		return nil
	})
	return true
}

// Enable marks the rule with id as enabled. It reports whether the rule exists.
func (x *RuleExecutor) Enable(id string) bool {
	return x.setEnabled(id, true)
}

// Disable marks the rule with id as disabled. Disabled rules are never evaluated.
func (x *RuleExecutor) Disable(id string) bool {
	return x.setEnabled(id, false)
}

func (x *RuleExecutor) setEnabled(id string, enabled bool) bool {
	x.mu.Lock()
	defer x.mu.Unlock()

	e, ok := x.snapshot().byID[id]
	if !ok {
		return false
	}
	if e.rule.enabled == enabled {
		return true
	}
	_ = x.mutate(func(byID map[string]*entry) error {
		byID[id] = &entry{rule: e.rule.WithEnabled(enabled), seq: e.seq}
		return nil
	})
	return true
}

// Rule returns the rule with id
func (x *RuleExecutor) Rule(id string) (*Rule, bool) {
	e, ok := x.snapshot().byID[id]
	if !ok {
		return nil, false
	}
	return e.rule, true
}

// Rules returns every rule, enabled or not, in execution order
func (x *RuleExecutor) Rules() []*Rule {
	set := x.snapshot()
	out := make([]*Rule, len(set.ordered))
	for i, e := range set.ordered {
		out[i] = e.rule
	}
	return out
}

// Len returns the number of rules held
func (x *RuleExecutor) Len() int {
	return len(x.snapshot().ordered)
}

// Execute evaluates the enabled rules in priority order against a copy of
// facts. Each rule sees the field updates of the rules before it. Action
// failures are recorded in the effect log and never stop execution; an
// error is returned only when the rule snapshot itself is corrupt.
// facts is never modified.
func (x *RuleExecutor) Execute(facts FactMap) (*Result, error) {
	set := x.snapshot()

	outputs := facts.Clone()
	log := &EffectLog{}
	var fired []string

	for _, e := range set.ordered {
		if e == nil || e.rule == nil {
			return nil, &ExecError{Err: fmt.Errorf("%w: nil rule in snapshot", ErrCorruptRuleState)}
		}
		r := e.rule
		if !r.enabled {
			continue
		}
		if r.condition == nil {
			return nil, &ExecError{RuleID: r.id, Err: fmt.Errorf("%w: rule has no condition", ErrCorruptRuleState)}
		}

		if !r.condition.Evaluate(outputs) {
			continue
		}

		fired = append(fired, r.id)
		ctx := &applyContext{ruleID: r.id, outputs: outputs, log: log}
		for _, a := range r.actions {
			// failures are already in the log
			_ = applyAction(ctx, a)
		}
	}

	return &Result{
		Outputs: outputs,
		Effects: log.entries,
		Fired:   fired,
	}, nil
}
