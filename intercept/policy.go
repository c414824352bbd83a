package intercept

import (
	"fmt"

	"github.com/google/cel-go/cel"

	"github.com/zero-day-ai/gauntlet/tool"
)

// Policy decides which tool calls are eligible for interception. It is a CEL
// expression over three variables:
//
//	tool  string             the tool name
//	kind  string             "query" or "mutation"
//	args  map(string,string) the stringified call arguments
//
// and must evaluate to a bool, e.g. `kind == "query" && tool != "read_calendar"`.
type Policy struct {
	expr string
	prg  cel.Program
}

// CompilePolicy parses and type-checks expr. An empty expression yields a
// nil policy, which allows every call.
func CompilePolicy(expr string) (*Policy, error) {
	if expr == "" {
		return nil, nil
	}

	env, err := cel.NewEnv(
		cel.Variable("tool", cel.StringType),
		cel.Variable("kind", cel.StringType),
		cel.Variable("args", cel.MapType(cel.StringType, cel.StringType)),
	)
	if err != nil {
		return nil, fmt.Errorf("policy env: %w", err)
	}

	ast, iss := env.Compile(expr)
	if iss != nil && iss.Err() != nil {
		return nil, fmt.Errorf("compile policy %q: %w", expr, iss.Err())
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, fmt.Errorf("policy %q must evaluate to bool, got %s", expr, ast.OutputType())
	}

	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("program policy %q: %w", expr, err)
	}
	return &Policy{expr: expr, prg: prg}, nil
}

// MustCompilePolicy is like CompilePolicy but panics on error.
func MustCompilePolicy(expr string) *Policy {
	p, err := CompilePolicy(expr)
	if err != nil {
		panic(err)
	}
	return p
}

// String returns the source expression.
func (p *Policy) String() string {
	if p == nil {
		return ""
	}
	return p.expr
}

// Allow reports whether the call is eligible. A nil policy allows all calls.
func (p *Policy) Allow(t tool.Tool, args tool.Args) (bool, error) {
	if p == nil {
		return true, nil
	}
	out, _, err := p.prg.Eval(map[string]any{
		"tool": t.Name,
		"kind": string(t.Kind),
		"args": args.Stringified(),
	})
	if err != nil {
		return false, fmt.Errorf("evaluate policy %q: %w", p.expr, err)
	}
	allowed, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("policy %q returned %T", p.expr, out.Value())
	}
	return allowed, nil
}
