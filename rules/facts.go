package rules

import (
	"fmt"
	"maps"
	"sort"
)

// FactMap maps field names to values. It represents the input context of
// one evaluation and, cumulatively, the outputs produced so far.
type FactMap map[string]Value

// Get returns the value of field, or Missing when it is absent
func (f FactMap) Get(field string) Value {
	if v, ok := f[field]; ok {
		return v
	}
	return Missing()
}

// Clone returns a shallow copy. Values are immutable so this is a full copy.
func (f FactMap) Clone() FactMap {
	if f == nil {
		return FactMap{}
	}
	return maps.Clone(f)
}

// Fields returns the field names in sorted order
func (f FactMap) Fields() []string {
	fields := make([]string, 0, len(f))
	for k := range f {
		fields = append(fields, k)
	}
	sort.Strings(fields)
	return fields
}

// Native converts the facts to plain Go values (Missing becomes nil)
func (f FactMap) Native() map[string]any {
	out := make(map[string]any, len(f))
	for k, v := range f {
		out[k] = v.Native()
	}
	return out
}

// FactsFromNative converts decoded JSON/YAML facts into a FactMap.
// Nested objects and arrays are rejected: facts are scalars only.
func FactsFromNative(raw map[string]any) (FactMap, error) {
	facts := make(FactMap, len(raw))
	for field, x := range raw {
		v, err := FromNative(x)
		if err != nil {
			return nil, fmt.Errorf("fact %q: %w", field, err)
		}
		facts[field] = v
	}
	return facts, nil
}
