package rules

import (
	"errors"
	"fmt"
	"sync"
	"testing"
)

func storeRule(t *testing.T, id, name string) *Rule {
	t.Helper()
	return mustBuild(t, NewRuleBuilder(id, name).
		Condition(GreaterThan{Field: "age", Value: Int(18)}).
		Action(Log{Message: name}))
}

// TestRuleStoreInterfaceExists verifies the in-memory store satisfies RuleStore
func TestRuleStoreInterfaceExists(t *testing.T) {
	var _ RuleStore = (*InMemoryRuleStore)(nil)
	var _ RuleStore = (*PostgresRuleStore)(nil)
}

// TestInMemoryRuleStoreAdd verifies basic Add functionality
func TestInMemoryRuleStoreAdd(t *testing.T) {
	store := NewInMemoryRuleStore()

	rule := storeRule(t, "test-1", "Test Rule")
	if err := store.Add(rule); err != nil {
		t.Fatalf("Add() failed: %v", err)
	}

	retrieved, err := store.Get("test-1")
	if err != nil {
		t.Fatalf("Get() failed after Add(): %v", err)
	}
	if retrieved.ID() != rule.ID() || retrieved.Name() != rule.Name() {
		t.Errorf("Retrieved rule = %s/%s, want %s/%s", retrieved.ID(), retrieved.Name(), rule.ID(), rule.Name())
	}
}

// TestInMemoryRuleStoreAddDuplicate verifies duplicate IDs are rejected
func TestInMemoryRuleStoreAddDuplicate(t *testing.T) {
	store := NewInMemoryRuleStore()

	if err := store.Add(storeRule(t, "duplicate-id", "First Rule")); err != nil {
		t.Fatalf("First Add() should succeed: %v", err)
	}

	err := store.Add(storeRule(t, "duplicate-id", "Second Rule"))
	if !errors.Is(err, ErrRuleExists) {
		t.Fatalf("Add() with duplicate ID error = %v, want ErrRuleExists", err)
	}

	retrieved, err := store.Get("duplicate-id")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if retrieved.Name() != "First Rule" {
		t.Errorf("Rule should not have been overwritten, Name = %s, want 'First Rule'", retrieved.Name())
	}
}

// TestInMemoryRuleStoreAddInvalid verifies rules without a condition are rejected
func TestInMemoryRuleStoreAddInvalid(t *testing.T) {
	store := NewInMemoryRuleStore()

	if err := store.Add(nil); !errors.Is(err, ErrInvalidRule) {
		t.Errorf("Add(nil) error = %v, want ErrInvalidRule", err)
	}
	if err := store.Add(&Rule{id: "no-condition"}); !errors.Is(err, ErrInvalidRule) {
		t.Errorf("Add() error = %v, want ErrInvalidRule", err)
	}
}

// TestInMemoryRuleStoreGetNotFound verifies Get reports unknown IDs
func TestInMemoryRuleStoreGetNotFound(t *testing.T) {
	store := NewInMemoryRuleStore()

	if _, err := store.Get("non-existent-id"); !errors.Is(err, ErrRuleNotFound) {
		t.Fatalf("Get() error = %v, want ErrRuleNotFound", err)
	}
}

// TestInMemoryRuleStoreUpdate verifies Update replaces the rule in place
func TestInMemoryRuleStoreUpdate(t *testing.T) {
	store := NewInMemoryRuleStore()
	_ = store.Add(storeRule(t, "a", "A"))
	_ = store.Add(storeRule(t, "b", "B"))

	if err := store.Update(storeRule(t, "a", "A v2")); err != nil {
		t.Fatalf("Update() failed: %v", err)
	}

	list, _ := store.List()
	if len(list) != 2 || list[0].ID() != "a" || list[0].Name() != "A v2" {
		t.Errorf("Update should keep the insertion position: %v", list)
	}
}

// TestInMemoryRuleStoreUpdateNotFound verifies Update reports unknown IDs
func TestInMemoryRuleStoreUpdateNotFound(t *testing.T) {
	store := NewInMemoryRuleStore()

	if err := store.Update(storeRule(t, "missing", "Missing")); !errors.Is(err, ErrRuleNotFound) {
		t.Fatalf("Update() error = %v, want ErrRuleNotFound", err)
	}
}

// TestInMemoryRuleStoreList verifies List returns enabled and disabled rules in insertion order
func TestInMemoryRuleStoreList(t *testing.T) {
	store := NewInMemoryRuleStore()

	empty, err := store.List()
	if err != nil {
		t.Fatalf("List() failed: %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("List() on empty store = %d rules, want 0", len(empty))
	}

	_ = store.Add(storeRule(t, "z", "Z"))
	_ = store.Add(storeRule(t, "a", "A").WithEnabled(false))
	_ = store.Add(storeRule(t, "m", "M"))

	list, _ := store.List()
	if got := fmt.Sprint(ids(list)); got != "[z a m]" {
		t.Errorf("List() = %s, want [z a m]", got)
	}
}

// TestInMemoryRuleStoreDelete verifies Delete removes the rule and its position
func TestInMemoryRuleStoreDelete(t *testing.T) {
	store := NewInMemoryRuleStore()
	_ = store.Add(storeRule(t, "a", "A"))
	_ = store.Add(storeRule(t, "b", "B"))

	if err := store.Delete("a"); err != nil {
		t.Fatalf("Delete() failed: %v", err)
	}
	if _, err := store.Get("a"); !errors.Is(err, ErrRuleNotFound) {
		t.Errorf("Get() after Delete() error = %v, want ErrRuleNotFound", err)
	}

	list, _ := store.List()
	if got := fmt.Sprint(ids(list)); got != "[b]" {
		t.Errorf("List() = %s, want [b]", got)
	}

	if err := store.Delete("a"); !errors.Is(err, ErrRuleNotFound) {
		t.Errorf("second Delete() error = %v, want ErrRuleNotFound", err)
	}
}

// TestInMemoryRuleStoreConcurrentAdd verifies the store is safe for concurrent writers
func TestInMemoryRuleStoreConcurrentAdd(t *testing.T) {
	store := NewInMemoryRuleStore()

	var wg sync.WaitGroup
	numGoroutines := 10
	rulesPerGoroutine := 10

	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func(goroutineID int) {
			defer wg.Done()

			for j := 0; j < rulesPerGoroutine; j++ {
				r, err := NewRuleBuilder(fmt.Sprintf("%d-%d", goroutineID, j), "Concurrent Rule").
					Condition(And{}).
					Build()
				if err != nil {
					t.Errorf("Build() failed: %v", err)
					return
				}
				if err := store.Add(r); err != nil {
					t.Errorf("Concurrent Add() failed: %v", err)
				}
			}
		}(i)
	}

	wg.Wait()

	list, err := store.List()
	if err != nil {
		t.Fatalf("List() after concurrent adds failed: %v", err)
	}

	expected := numGoroutines * rulesPerGoroutine
	if len(list) != expected {
		t.Errorf("After concurrent adds, got %d rules, want %d", len(list), expected)
	}
}

// TestInMemoryRuleStoreConcurrentReadWrite verifies concurrent reads during updates and deletes
func TestInMemoryRuleStoreConcurrentReadWrite(t *testing.T) {
	store := NewInMemoryRuleStore()
	for i := 0; i < 10; i++ {
		_ = store.Add(storeRule(t, fmt.Sprintf("rule-%d", i), "Test Rule"))
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_, _ = store.Get(fmt.Sprintf("rule-%d", i))
				_, _ = store.List()
			}
		}(i)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("rule-%d", i)
			r, _ := NewRuleBuilder(id, "Updated").Condition(And{}).Build()
			_ = store.Update(r)
			if i%2 == 0 {
				_ = store.Delete(id)
			}
		}(i)
	}
	wg.Wait()

	list, _ := store.List()
	if len(list) != 5 {
		t.Errorf("expected 5 rules after deletes, got %d", len(list))
	}
}

func ids(list []*Rule) []string {
	out := make([]string, len(list))
	for i, r := range list {
		out[i] = r.ID()
	}
	return out
}
