package multitenantengine

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/retrofor/Siamese/rules"
)

// Kind names accepted in a Schema
const (
	KindString = "string"
	KindInt    = "int"
	KindFloat  = "float"
	KindBool   = "bool"
)

// Schema declares a tenant's fact fields and their kinds
type Schema map[string]string

// Fields returns the declared field names in sorted order
func (s Schema) Fields() []string {
	fields := make([]string, 0, len(s))
	for f := range s {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	return fields
}

// DecodeFacts converts raw JSON facts into typed values following the
// schema. Undeclared fields are rejected; a JSON number becomes an Int or a
// Float according to the declared kind, so 15000 can feed a float field but
// 0.5 cannot feed an int field. A null fact is treated as absent.
func (s Schema) DecodeFacts(raw map[string]any) (rules.FactMap, error) {
	facts := make(rules.FactMap, len(raw))

	var problems []string
	for field, x := range raw {
		kind, declared := s[field]
		if !declared {
			problems = append(problems, fmt.Sprintf("%s: not declared in schema", field))
			continue
		}
		if x == nil {
			continue
		}

		v, err := decodeAs(kind, x)
		if err != nil {
			problems = append(problems, fmt.Sprintf("%s: %v", field, err))
			continue
		}
		facts[field] = v
	}

	if len(problems) > 0 {
		sort.Strings(problems)
		return nil, fmt.Errorf("invalid facts: %s", strings.Join(problems, "; "))
	}
	return facts, nil
}

func decodeAs(kind string, x any) (rules.Value, error) {
	switch kind {
	case KindString:
		if s, ok := x.(string); ok {
			return rules.String(s), nil
		}
	case KindBool:
		if b, ok := x.(bool); ok {
			return rules.Bool(b), nil
		}
	case KindInt:
		return decodeInt(x)
	case KindFloat:
		return decodeFloat(x)
	default:
		return rules.Missing(), fmt.Errorf("unknown kind %q", kind)
	}
	return rules.Missing(), fmt.Errorf("expected %s, got %T", kind, x)
}

func decodeInt(x any) (rules.Value, error) {
	switch t := x.(type) {
	case json.Number:
		if i, err := strconv.ParseInt(string(t), 10, 64); err == nil {
			return rules.Int(i), nil
		}
		// 15000.0 or 1.5e4 still name a whole number
		f, err := t.Float64()
		if err != nil {
			return rules.Missing(), fmt.Errorf("expected int, got %s", t)
		}
		return wholeFloat(f)
	case float64:
		return wholeFloat(t)
	default:
		v, err := rules.FromNative(x)
		if err != nil || v.Kind() != rules.KindInt {
			return rules.Missing(), fmt.Errorf("expected int, got %T", x)
		}
		return v, nil
	}
}

func wholeFloat(f float64) (rules.Value, error) {
	if f != math.Trunc(f) || f >= math.MaxInt64 || f < math.MinInt64 {
		return rules.Missing(), fmt.Errorf("expected int, got %v", f)
	}
	return rules.Int(int64(f)), nil
}

func decodeFloat(x any) (rules.Value, error) {
	switch t := x.(type) {
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return rules.Missing(), fmt.Errorf("expected float, got %s", t)
		}
		return rules.Float(f), nil
	default:
		v, err := rules.FromNative(x)
		if err != nil {
			return rules.Missing(), fmt.Errorf("expected float, got %T", x)
		}
		f, err := v.AsFloat()
		if err != nil {
			return rules.Missing(), fmt.Errorf("expected float, got %s", v.Kind())
		}
		return rules.Float(f), nil
	}
}
