package rules

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
)

// exprCostLimit bounds the runtime cost of a single expression evaluation
const exprCostLimit = 1000000

var (
	exprEnvOnce sync.Once
	exprEnv     *cel.Env
	exprEnvErr  error
)

// exprEnvironment returns the shared CEL environment. Facts are exposed as
// the map variable `facts`, e.g. `facts.cart_total > 10000`.
func exprEnvironment() (*cel.Env, error) {
	exprEnvOnce.Do(func() {
		exprEnv, exprEnvErr = cel.NewEnv(
			cel.Variable("facts", cel.MapType(cel.StringType, cel.DynType)),
			cel.CrossTypeNumericComparisons(true),
		)
	})
	return exprEnv, exprEnvErr
}

// Expr is a condition leaf backed by a compiled CEL expression.
// Evaluation errors (including references to missing facts) and non-boolean
// results evaluate to false.
type Expr struct {
	source  string
	program cel.Program
}

// NewExpr compiles source into an Expr condition
func NewExpr(source string) (*Expr, error) {
	env, err := exprEnvironment()
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	ast, issues := env.Compile(source)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("%w: compile error: %v", ErrInvalidCondition, issues.Err())
	}

	out := ast.OutputType()
	if !out.IsExactType(cel.BoolType) && !out.IsExactType(cel.DynType) {
		return nil, fmt.Errorf("%w: expression %q yields %s, want bool", ErrInvalidCondition, source, out)
	}

	prog, err := env.Program(ast, cel.CostLimit(exprCostLimit))
	if err != nil {
		return nil, fmt.Errorf("%w: program creation error: %v", ErrInvalidCondition, err)
	}

	return &Expr{source: source, program: prog}, nil
}

// MustExpr is like NewExpr but panics on error. Intended for tests and
// statically known expressions.
func MustExpr(source string) *Expr {
	e, err := NewExpr(source)
	if err != nil {
		panic(err)
	}
	return e
}

// Source returns the expression text
func (e *Expr) Source() string { return e.source }

func (*Expr) condition() {}

func (e *Expr) Evaluate(facts FactMap) bool {
	if e == nil || e.program == nil {
		return false
	}

	out, _, err := e.program.Eval(map[string]any{"facts": facts.Native()})
	if err != nil {
		return false
	}

	matched, ok := out.Value().(bool)
	return ok && matched
}
