package expressions

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/cel-go/cel"
)

var errEmpty = errors.New("empty expression")

// celFields declares the record fields visible to CEL filters.
var celFields = map[string]*cel.Type{
	"id":        cel.StringType,
	"title":     cel.StringType,
	"code":      cel.StringType,
	"views":     cel.IntType,
	"isPublic":  cel.BoolType,
	"createdAt": cel.StringType,
	"nodes":     cel.IntType,
	"edges":     cel.IntType,
}

// CELEngine implements Engine using Google's Common Expression Language.
// Thread-safe: compiled programs are cached and reused across goroutines.
type CELEngine struct {
	env   *cel.Env
	cache *programCache[cel.Program]
}

// NewCELEngine creates a CEL engine whose environment declares the share
// record fields (id, title, code, views, isPublic, createdAt, nodes, edges).
func NewCELEngine() (*CELEngine, error) {
	opts := make([]cel.EnvOption, 0, len(celFields))
	for name, typ := range celFields {
		opts = append(opts, cel.Variable(name, typ))
	}
	env, err := cel.NewEnv(opts...)
	if err != nil {
		return nil, fmt.Errorf("create CEL environment: %w", err)
	}
	return &CELEngine{env: env, cache: newProgramCache[cel.Program](defaultCacheSize)}, nil
}

func (e *CELEngine) Name() string { return EngineCEL }

// Evaluate compiles (or retrieves from cache) a CEL expression and evaluates it
// against data. Missing fields take their zero value.
func (e *CELEngine) Evaluate(_ context.Context, expression string, data map[string]any) (any, error) {
	if expression == "" {
		return nil, compileError(EngineCEL, expression, errEmpty)
	}

	prg, err := e.cache.getOrCompile(expression, func() (cel.Program, error) {
		ast, issues := e.env.Compile(expression)
		if issues != nil && issues.Err() != nil {
			return nil, compileError(EngineCEL, expression, issues.Err())
		}
		p, err := e.env.Program(ast)
		if err != nil {
			return nil, compileError(EngineCEL, expression, err)
		}
		return p, nil
	})
	if err != nil {
		return nil, err
	}

	out, _, err := prg.Eval(buildActivation(data))
	if err != nil {
		return nil, evalError(EngineCEL, expression, err)
	}
	return out.Value(), nil
}

// buildActivation fills every declared field, converting Go integer kinds to
// int64 as CEL expects.
func buildActivation(data map[string]any) map[string]any {
	activation := make(map[string]any, len(celFields))
	for name, typ := range celFields {
		v, ok := data[name]
		if !ok || v == nil {
			activation[name] = celZero(typ)
			continue
		}
		switch n := v.(type) {
		case int:
			activation[name] = int64(n)
		case int32:
			activation[name] = int64(n)
		default:
			activation[name] = v
		}
	}
	return activation
}

func celZero(t *cel.Type) any {
	switch t {
	case cel.IntType:
		return int64(0)
	case cel.BoolType:
		return false
	default:
		return ""
	}
}

var _ Engine = (*CELEngine)(nil)
