package multitenantengine

import (
	"fmt"
	"regexp"
	"strings"
)

const (
	maxSchemaFields   = 500
	maxIdentifierSize = 100
)

var validIdentifier = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// ValidateSchema validates a fact schema definition.
// Returns an error if validation fails, nil if schema is valid.
func ValidateSchema(schema Schema) error {
	if len(schema) == 0 {
		return fmt.Errorf("schema cannot be empty, must declare at least one fact field")
	}

	if len(schema) > maxSchemaFields {
		return fmt.Errorf("schema declares %d fields, maximum allowed is %d", len(schema), maxSchemaFields)
	}

	for _, field := range schema.Fields() {
		if err := validateIdentifier(field); err != nil {
			return fmt.Errorf("invalid field name %q: %w", field, err)
		}

		kind := schema[field]
		if kind == "" {
			return fmt.Errorf("field %q has empty kind", field)
		}
		if strings.TrimSpace(kind) != kind {
			return fmt.Errorf("field %q has kind with leading/trailing whitespace: %q", field, kind)
		}
		if !isValidKind(kind) {
			return fmt.Errorf("field %q has invalid kind %q (must be one of: string, int, float, bool)", field, kind)
		}
	}

	return nil
}

// validateIdentifier checks a fact field name. Names must be usable as
// `facts.<name>` inside expression conditions.
func validateIdentifier(name string) error {
	if len(name) == 0 {
		return fmt.Errorf("identifier cannot be empty")
	}
	if len(name) > maxIdentifierSize {
		return fmt.Errorf("identifier length %d exceeds maximum of %d characters", len(name), maxIdentifierSize)
	}

	if !validIdentifier.MatchString(name) {
		return fmt.Errorf("must match pattern ^[a-zA-Z_][a-zA-Z0-9_]*$ (start with letter or underscore, followed by letters, digits, or underscores)")
	}

	if isReservedKeyword(name) {
		return fmt.Errorf("cannot use reserved keyword %q as identifier", name)
	}

	return nil
}

// isValidKind checks a kind name; kind names are case-sensitive
func isValidKind(kind string) bool {
	switch kind {
	case KindString, KindInt, KindFloat, KindBool:
		return true
	default:
		return false
	}
}

// isReservedKeyword checks if a name is reserved by the expression language
func isReservedKeyword(name string) bool {
	reservedKeywords := map[string]bool{
		// Boolean and null literals
		"true":  true,
		"false": true,
		"null":  true,
		// Control flow
		"if":       true,
		"else":     true,
		"for":      true,
		"while":    true,
		"break":    true,
		"continue": true,
		"return":   true,
		// Declarations
		"var":      true,
		"let":      true,
		"const":    true,
		"function": true,
		// Other keywords
		"in":        true,
		"as":        true,
		"import":    true,
		"package":   true,
		"namespace": true,
		"loop":      true,
		"void":      true,
	}

	return reservedKeywords[name]
}
