package rules

import (
	"fmt"
	"sync"

	"github.com/retrofor/Siamese/internal/logger"
)

// Engine couples a RuleStore with a RuleExecutor: mutations are persisted
// first and then published to the executor, evaluations never touch the store.
type Engine struct {
	store    RuleStore
	executor *RuleExecutor
	mu       sync.Mutex // keeps store and executor writes in the same order
}

// NewEngine creates an engine and loads every rule from store
func NewEngine(store RuleStore) (*Engine, error) {
	en := &Engine{
		store:    store,
		executor: NewRuleExecutor(),
	}

	if err := en.Reload(); err != nil {
		return nil, fmt.Errorf("failed to load rules: %w", err)
	}

	return en, nil
}

// Reload replaces the executor's rule set with the store's current content
func (en *Engine) Reload() error {
	en.mu.Lock()
	defer en.mu.Unlock()

	rules, err := en.store.List()
	if err != nil {
		return err
	}

	if err := en.executor.ReplaceAll(rules); err != nil {
		return err
	}

	logger.Debug("rules loaded", "count", len(rules))
	return nil
}

// AddRule persists a new rule and publishes it.
// Returns ErrRuleExists if a rule with the same ID is stored.
func (en *Engine) AddRule(r *Rule) error {
	if err := validateRule(r); err != nil {
		return err
	}

	en.mu.Lock()
	defer en.mu.Unlock()

	if err := en.store.Add(r); err != nil {
		return err
	}

	return en.executor.AddRule(r)
}

// UpdateRule replaces a stored rule and publishes the replacement
func (en *Engine) UpdateRule(r *Rule) error {
	if err := validateRule(r); err != nil {
		return err
	}

	en.mu.Lock()
	defer en.mu.Unlock()

	if err := en.store.Update(r); err != nil {
		return err
	}

	return en.executor.AddRule(r)
}

// DeleteRule removes a rule from the store and the executor
func (en *Engine) DeleteRule(id string) error {
	en.mu.Lock()
	defer en.mu.Unlock()

	if err := en.store.Delete(id); err != nil {
		return err
	}

	en.executor.RemoveRule(id)
	return nil
}

// SetEnabled enables or disables a stored rule
func (en *Engine) SetEnabled(id string, enabled bool) error {
	en.mu.Lock()
	defer en.mu.Unlock()

	r, err := en.store.Get(id)
	if err != nil {
		return err
	}

	updated := r.WithEnabled(enabled)
	if err := en.store.Update(updated); err != nil {
		return err
	}

	return en.executor.AddRule(updated)
}

// Rule returns the published rule with id
func (en *Engine) Rule(id string) (*Rule, error) {
	r, ok := en.executor.Rule(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRuleNotFound, id)
	}
	return r, nil
}

// Rules returns every published rule in execution order
func (en *Engine) Rules() []*Rule {
	return en.executor.Rules()
}

// Executor exposes the underlying executor
func (en *Engine) Executor() *RuleExecutor {
	return en.executor
}

// Execute evaluates the published rules against facts
func (en *Engine) Execute(facts FactMap) (*Result, error) {
	result, err := en.executor.Execute(facts)
	if err != nil {
		logger.Error("rule execution aborted", "error", err)
		return nil, err
	}

	for _, f := range result.Failures() {
		logger.WarnActionFailed(f.RuleID, f.Err)
	}

	return result, nil
}
