// Package rules implements a small embeddable rule engine: typed fact values,
// condition trees, actions and a priority-ordered rule executor.
package rules

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Kind identifies which variant a Value holds
type Kind uint8

const (
	KindMissing Kind = iota
	KindString
	KindInt
	KindFloat
	KindBool
)

func (k Kind) String() string {
	switch k {
	case KindMissing:
		return "missing"
	case KindString:
		return "string"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindBool:
		return "bool"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Op is a comparison operator understood by Value.Compare
type Op uint8

const (
	OpEqual Op = iota
	OpGreaterThan
	OpLessThan
)

// Value is an immutable typed scalar. The zero Value is Missing.
type Value struct {
	kind Kind
	s    string
	i    int64
	f    float64
	b    bool
}

// String creates a string value
func String(s string) Value { return Value{kind: KindString, s: s} }

// Int creates an integer value
func Int(i int64) Value { return Value{kind: KindInt, i: i} }

// Float creates a floating point value
func Float(f float64) Value { return Value{kind: KindFloat, f: f} }

// Bool creates a boolean value
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Missing returns the sentinel used for absent fields
func Missing() Value { return Value{} }

// Kind returns the variant held by v
func (v Value) Kind() Kind { return v.kind }

// IsMissing reports whether v is the Missing sentinel
func (v Value) IsMissing() bool { return v.kind == KindMissing }

// Equal reports type-exact equality: same kind and same payload.
// Int(1) and Float(1.0) are not equal, and Missing is unequal to everything.
func (v Value) Equal(other Value) bool {
	if v.kind != other.kind {
		return false
	}
	switch v.kind {
	case KindString:
		return v.s == other.s
	case KindInt:
		return v.i == other.i
	case KindFloat:
		return v.f == other.f
	case KindBool:
		return v.b == other.b
	default:
		return false
	}
}

// Compare applies op between v (left) and other (right).
// Ordering promotes Int to Float when the kinds are mixed and compares
// strings lexicographically. Pairs that are not comparable yield false.
func (v Value) Compare(op Op, other Value) bool {
	if op == OpEqual {
		return v.Equal(other)
	}

	c, ok := v.order(other)
	if !ok {
		return false
	}

	switch op {
	case OpGreaterThan:
		return c > 0
	case OpLessThan:
		return c < 0
	default:
		return false
	}
}

// order returns -1, 0 or 1, and false when the pair has no defined ordering
func (v Value) order(other Value) (int, bool) {
	switch {
	case v.kind == KindInt && other.kind == KindInt:
		return cmpOrdered(v.i, other.i), true
	case v.isNumeric() && other.isNumeric():
		a, _ := v.AsFloat()
		b, _ := other.AsFloat()
		if math.IsNaN(a) || math.IsNaN(b) {
			return 0, false
		}
		return cmpOrdered(a, b), true
	case v.kind == KindString && other.kind == KindString:
		return strings.Compare(v.s, other.s), true
	default:
		return 0, false
	}
}

func cmpOrdered[T int64 | float64](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func (v Value) isNumeric() bool {
	return v.kind == KindInt || v.kind == KindFloat
}

// AsFloat returns the numeric payload as float64, promoting Int
func (v Value) AsFloat() (float64, error) {
	switch v.kind {
	case KindFloat:
		return v.f, nil
	case KindInt:
		return float64(v.i), nil
	default:
		return 0, v.wrongKind("float")
	}
}

// AsInt returns the integer payload
func (v Value) AsInt() (int64, error) {
	if v.kind != KindInt {
		return 0, v.wrongKind("int")
	}
	return v.i, nil
}

// AsBool returns the boolean payload
func (v Value) AsBool() (bool, error) {
	if v.kind != KindBool {
		return false, v.wrongKind("bool")
	}
	return v.b, nil
}

// AsString returns the string payload
func (v Value) AsString() (string, error) {
	if v.kind != KindString {
		return "", v.wrongKind("string")
	}
	return v.s, nil
}

func (v Value) wrongKind(want string) error {
	return fmt.Errorf("%w: want %s, have %s", ErrWrongKind, want, v.kind)
}

// Render returns the plain text form of v, used for substring matching.
// Missing renders as the empty string.
func (v Value) Render() string {
	switch v.kind {
	case KindString:
		return v.s
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindFloat:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.b)
	default:
		return ""
	}
}

// String implements fmt.Stringer
func (v Value) String() string {
	switch v.kind {
	case KindMissing:
		return "<missing>"
	case KindString:
		return strconv.Quote(v.s)
	case KindFloat:
		return formatFloat(v.f)
	default:
		return v.Render()
	}
}

// Native returns the Go representation of v (nil for Missing)
func (v Value) Native() any {
	switch v.kind {
	case KindString:
		return v.s
	case KindInt:
		return v.i
	case KindFloat:
		return v.f
	case KindBool:
		return v.b
	default:
		return nil
	}
}

// FromNative converts a decoded scalar into a Value.
// json.Number keeps the integer/float distinction of its literal.
func FromNative(x any) (Value, error) {
	switch t := x.(type) {
	case nil:
		return Missing(), nil
	case Value:
		return t, nil
	case string:
		return String(t), nil
	case bool:
		return Bool(t), nil
	case int:
		return Int(int64(t)), nil
	case int8:
		return Int(int64(t)), nil
	case int16:
		return Int(int64(t)), nil
	case int32:
		return Int(int64(t)), nil
	case int64:
		return Int(t), nil
	case uint:
		return fromUint(uint64(t))
	case uint8:
		return Int(int64(t)), nil
	case uint16:
		return Int(int64(t)), nil
	case uint32:
		return Int(int64(t)), nil
	case uint64:
		return fromUint(t)
	case float32:
		return Float(float64(t)), nil
	case float64:
		return Float(t), nil
	case json.Number:
		return parseNumber(string(t))
	default:
		return Missing(), fmt.Errorf("unsupported value type %T", x)
	}
}

func fromUint(u uint64) (Value, error) {
	if u > math.MaxInt64 {
		return Missing(), fmt.Errorf("integer %d overflows int64", u)
	}
	return Int(int64(u)), nil
}

// parseNumber decides int vs float from the literal itself
func parseNumber(lit string) (Value, error) {
	if strings.ContainsAny(lit, ".eE") {
		f, err := strconv.ParseFloat(lit, 64)
		if err != nil {
			return Missing(), fmt.Errorf("invalid float %q: %w", lit, err)
		}
		return Float(f), nil
	}
	i, err := strconv.ParseInt(lit, 10, 64)
	if err != nil {
		return Missing(), fmt.Errorf("invalid integer %q: %w", lit, err)
	}
	return Int(i), nil
}

// formatFloat always keeps a decimal point or exponent so the literal
// decodes back as a float
func formatFloat(f float64) string {
	s := strconv.FormatFloat(f, 'g', -1, 64)
	if !strings.ContainsAny(s, ".eEn") {
		s += ".0"
	}
	return s
}

// MarshalJSON encodes v as a plain JSON scalar
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindString:
		return json.Marshal(v.s)
	case KindInt:
		return strconv.AppendInt(nil, v.i, 10), nil
	case KindFloat:
		if math.IsNaN(v.f) || math.IsInf(v.f, 0) {
			return nil, fmt.Errorf("cannot encode float %v as JSON", v.f)
		}
		return []byte(formatFloat(v.f)), nil
	case KindBool:
		return strconv.AppendBool(nil, v.b), nil
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON decodes a JSON scalar; null decodes to Missing
func (v *Value) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0:
		return fmt.Errorf("empty value")
	case string(data) == "null":
		*v = Missing()
	case string(data) == "true":
		*v = Bool(true)
	case string(data) == "false":
		*v = Bool(false)
	case data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = String(s)
	case data[0] == '-' || (data[0] >= '0' && data[0] <= '9'):
		parsed, err := parseNumber(string(data))
		if err != nil {
			return err
		}
		*v = parsed
	default:
		return fmt.Errorf("value must be a scalar, got %s", data)
	}
	return nil
}

// MarshalYAML encodes v as a YAML scalar; floats are tagged so they stay floats
func (v Value) MarshalYAML() (interface{}, error) {
	switch v.kind {
	case KindString:
		return v.s, nil
	case KindInt:
		return v.i, nil
	case KindFloat:
		var lit string
		switch {
		case math.IsNaN(v.f):
			lit = ".nan"
		case math.IsInf(v.f, 1):
			lit = ".inf"
		case math.IsInf(v.f, -1):
			lit = "-.inf"
		default:
			lit = formatFloat(v.f)
		}
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!float", Value: lit}, nil
	case KindBool:
		return v.b, nil
	default:
		return nil, nil
	}
}

// UnmarshalYAML decodes a YAML scalar using its resolved tag
func (v *Value) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.AliasNode && node.Alias != nil {
		node = node.Alias
	}
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: value must be a scalar", node.Line)
	}

	switch node.ShortTag() {
	case "!!null":
		*v = Missing()
	case "!!str":
		*v = String(node.Value)
	case "!!bool":
		var b bool
		if err := node.Decode(&b); err != nil {
			return err
		}
		*v = Bool(b)
	case "!!int":
		var i int64
		if err := node.Decode(&i); err != nil {
			return err
		}
		*v = Int(i)
	case "!!float":
		var f float64
		if err := node.Decode(&f); err != nil {
			return err
		}
		*v = Float(f)
	default:
		return fmt.Errorf("line %d: unsupported value tag %s", node.Line, node.ShortTag())
	}
	return nil
}
