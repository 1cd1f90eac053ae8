package expressions

import (
	"context"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// ExprEngine implements Engine using expr-lang/expr. Record fields are
// top-level variables: `views > 10 && title contains "Signup"`.
// Thread-safe: compiled programs are cached and reused across goroutines.
type ExprEngine struct {
	cache *programCache[*vm.Program]
}

// NewExprEngine creates a new Expr expression engine.
func NewExprEngine() *ExprEngine {
	return &ExprEngine{cache: newProgramCache[*vm.Program](defaultCacheSize)}
}

func (e *ExprEngine) Name() string { return EngineExpr }

// Evaluate compiles (or retrieves from cache) an Expr expression and runs it
// with data as the environment. Unknown identifiers evaluate to nil.
func (e *ExprEngine) Evaluate(_ context.Context, expression string, data map[string]any) (any, error) {
	if expression == "" {
		return nil, compileError(EngineExpr, expression, errEmpty)
	}

	env := data
	if env == nil {
		env = map[string]any{}
	}

	prg, err := e.cache.getOrCompile(expression, func() (*vm.Program, error) {
		p, err := expr.Compile(expression, expr.AllowUndefinedVariables())
		if err != nil {
			return nil, compileError(EngineExpr, expression, err)
		}
		return p, nil
	})
	if err != nil {
		return nil, err
	}

	out, err := vm.Run(prg, env)
	if err != nil {
		return nil, evalError(EngineExpr, expression, err)
	}
	return out, nil
}

var _ Engine = (*ExprEngine)(nil)
