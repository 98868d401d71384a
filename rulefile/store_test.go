package rulefile

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/retrofor/Siamese/rules"
)

const vipRuleYAML = `
id: vip-discount
name: VIP discount
priority: 100
condition:
  and:
    - equals: {field: user_type, value: VIP}
    - greater_than: {field: cart_total, value: 10000}
actions:
  - update_field: {field: discount, value: 0.15}
  - log: {message: vip discount applied}
`

const listRulesYAML = `
rules:
  - id: guest-banner
    name: Guest banner
    condition:
      equals: {field: user_type, value: Guest}
    actions:
      - log: {message: show banner}
  - id: big-cart
    name: Big cart
    priority: 10
    condition:
      expr: facts.cart_total > 20000
    actions:
      - send_event: {event_type: big_cart}
`

const jsonRules = `[
  {
    "id": "free-shipping",
    "name": "Free shipping",
    "condition": {"greater_than": {"field": "cart_total", "value": 5000}},
    "actions": [{"update_field": {"field": "free_shipping", "value": true}}]
  }
]`

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
}

// TestParseForms verifies the three accepted file layouts
func TestParseForms(t *testing.T) {
	testCases := []struct {
		name    string
		content string
		want    int
	}{
		{"Single document", vipRuleYAML, 1},
		{"Rules key", listRulesYAML, 2},
		{"JSON list", jsonRules, 1},
		{"Empty file", "", 0},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			docs, err := Parse([]byte(tc.content))
			if err != nil {
				t.Fatalf("Parse() failed: %v", err)
			}
			if len(docs) != tc.want {
				t.Errorf("Parse() = %d documents, want %d", len(docs), tc.want)
			}
		})
	}
}

// TestParseRejectsScalars verifies a scalar document is not a rule file
func TestParseRejectsScalars(t *testing.T) {
	if _, err := Parse([]byte("just a string")); err == nil {
		t.Error("Parse() should reject a scalar document")
	}
	if _, err := Parse([]byte("id: [unterminated")); err == nil {
		t.Error("Parse() should reject invalid YAML")
	}
}

// TestLoadFileKeepsValueKinds verifies YAML numbers keep their int/float kind
func TestLoadFileKeepsValueKinds(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "vip.yaml", vipRuleYAML)

	loaded, err := LoadFile(filepath.Join(dir, "vip.yaml"))
	if err != nil {
		t.Fatalf("LoadFile() failed: %v", err)
	}
	if len(loaded) != 1 {
		t.Fatalf("LoadFile() = %d rules, want 1", len(loaded))
	}

	r := loaded[0]
	if r.Priority() != 100 {
		t.Errorf("Priority() = %d, want 100", r.Priority())
	}
	gt := r.Condition().(rules.And)[1].(rules.GreaterThan)
	if gt.Value.Kind() != rules.KindInt {
		t.Errorf("cart_total operand kind = %s, want int", gt.Value.Kind())
	}
	update := r.Actions()[0].(rules.UpdateField)
	if !update.Value.Equal(rules.Float(0.15)) {
		t.Errorf("discount = %v, want 0.15", update.Value)
	}
}

// TestDirStoreList verifies files are read in lexical order and filtered by extension
func TestDirStoreList(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "b-list.yml", listRulesYAML)
	writeFile(t, dir, "a-vip.yaml", vipRuleYAML)
	writeFile(t, dir, "c.json", jsonRules)
	writeFile(t, dir, "notes.txt", "not a rule")
	writeFile(t, dir, ".hidden.yaml", "id: [broken")
	if err := os.Mkdir(filepath.Join(dir, "sub.yaml"), 0o755); err != nil {
		t.Fatal(err)
	}

	store := NewDirStore(dir)
	list, err := store.List()
	if err != nil {
		t.Fatalf("List() failed: %v", err)
	}

	want := []string{"vip-discount", "guest-banner", "big-cart", "free-shipping"}
	if len(list) != len(want) {
		t.Fatalf("List() = %d rules, want %d", len(list), len(want))
	}
	for i, id := range want {
		if list[i].ID() != id {
			t.Errorf("List()[%d] = %s, want %s", i, list[i].ID(), id)
		}
	}

	r, err := store.Get("big-cart")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if r.Priority() != 10 {
		t.Errorf("Priority() = %d, want 10", r.Priority())
	}
	if _, err := store.Get("unknown"); !errors.Is(err, rules.ErrRuleNotFound) {
		t.Errorf("Get() error = %v, want ErrRuleNotFound", err)
	}
}

// TestDirStoreDuplicateIDs verifies the same ID in two files is rejected
func TestDirStoreDuplicateIDs(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "one.yaml", vipRuleYAML)
	writeFile(t, dir, "two.yaml", vipRuleYAML)

	if _, err := NewDirStore(dir).List(); !errors.Is(err, rules.ErrRuleExists) {
		t.Errorf("List() error = %v, want ErrRuleExists", err)
	}
}

// TestDirStoreInvalidRule verifies a broken rule file fails the whole load
func TestDirStoreInvalidRule(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "bad.yaml", "id: bad\nname: Bad\npriority: 999\ncondition:\n  and: []\n")

	if _, err := NewDirStore(dir).List(); !errors.Is(err, rules.ErrInvalidPriority) {
		t.Errorf("List() error = %v, want ErrInvalidPriority", err)
	}
}

// TestDirStoreReadOnly verifies writes are refused
func TestDirStoreReadOnly(t *testing.T) {
	store := NewDirStore(t.TempDir())
	r, _ := rules.NewRuleBuilder("r", "r").Condition(rules.And{}).Build()

	if err := store.Add(r); !errors.Is(err, rules.ErrReadOnlyStore) {
		t.Errorf("Add() error = %v, want ErrReadOnlyStore", err)
	}
	if err := store.Update(r); !errors.Is(err, rules.ErrReadOnlyStore) {
		t.Errorf("Update() error = %v, want ErrReadOnlyStore", err)
	}
	if err := store.Delete("r"); !errors.Is(err, rules.ErrReadOnlyStore) {
		t.Errorf("Delete() error = %v, want ErrReadOnlyStore", err)
	}
}

// TestDirStoreEngineReload verifies an engine over a DirStore picks up file edits on Reload
func TestDirStoreEngineReload(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "vip.yaml", vipRuleYAML)

	engine, err := rules.NewEngine(NewDirStore(dir))
	if err != nil {
		t.Fatalf("NewEngine() failed: %v", err)
	}

	facts := rules.FactMap{"user_type": rules.String("VIP"), "cart_total": rules.Int(15000)}
	result, _ := engine.Execute(facts)
	if !result.Outputs.Get("discount").Equal(rules.Float(0.15)) {
		t.Fatalf("discount = %v, want 0.15", result.Outputs.Get("discount"))
	}

	writeFile(t, dir, "vip.yaml", `
id: vip-discount
name: VIP discount
priority: 100
condition:
  equals: {field: user_type, value: VIP}
actions:
  - update_field: {field: discount, value: 0.25}
`)
	if err := engine.Reload(); err != nil {
		t.Fatalf("Reload() failed: %v", err)
	}

	result, _ = engine.Execute(facts)
	if !result.Outputs.Get("discount").Equal(rules.Float(0.25)) {
		t.Errorf("discount = %v, want 0.25 after reload", result.Outputs.Get("discount"))
	}

	writeFile(t, dir, "vip.yaml", "id: [broken")
	if err := engine.Reload(); err == nil {
		t.Fatal("Reload() should fail on a broken file")
	}
	result, _ = engine.Execute(facts)
	if !result.Outputs.Get("discount").Equal(rules.Float(0.25)) {
		t.Error("a failed reload should keep the previous rules")
	}
}

func TestIsRuleFile(t *testing.T) {
	for name, want := range map[string]bool{
		"a.yaml": true,
		"a.YML":  true,
		"a.json": true,
		"a.txt":  false,
		"yaml":   false,
	} {
		if got := IsRuleFile(name); got != want {
			t.Errorf("IsRuleFile(%q) = %v, want %v", name, got, want)
		}
	}
}
