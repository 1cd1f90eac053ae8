package expressions

import (
	"context"
	"fmt"
	"slices"

	"github.com/rendis/flowsketch/pkg/schema"
)

// Engine evaluates a filter expression against one record.
// Three implementations: Expr (default), CEL and GoJQ.
type Engine interface {
	Name() string
	Evaluate(ctx context.Context, expression string, data map[string]any) (any, error)
}

// Engine names accepted by New.
const (
	EngineExpr = "expr"
	EngineCEL  = "cel"
	EngineJQ   = "jq"
)

// defaultCacheSize bounds the number of compiled programs per engine.
const defaultCacheSize = 512

// Names lists the available engines.
func Names() []string {
	return []string{EngineExpr, EngineCEL, EngineJQ}
}

// New returns the engine registered under name. An empty name selects expr.
func New(name string) (Engine, error) {
	switch name {
	case "", EngineExpr:
		return NewExprEngine(), nil
	case EngineCEL:
		return NewCELEngine()
	case EngineJQ:
		return NewGoJQEngine(), nil
	default:
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"unknown expression engine %q", name).
			WithDetails(map[string]any{"available": Names()})
	}
}

// Registry holds one lazily built engine per name so compiled programs are
// shared between requests.
type Registry struct {
	engines map[string]Engine
}

// NewRegistry builds every engine up front.
func NewRegistry() (*Registry, error) {
	r := &Registry{engines: make(map[string]Engine, 3)}
	for _, name := range Names() {
		e, err := New(name)
		if err != nil {
			return nil, fmt.Errorf("build %s engine: %w", name, err)
		}
		r.engines[name] = e
	}
	return r, nil
}

// Get returns the engine for name; empty selects expr.
func (r *Registry) Get(name string) (Engine, error) {
	if name == "" {
		name = EngineExpr
	}
	e, ok := r.engines[name]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"unknown expression engine %q", name).
			WithDetails(map[string]any{"available": Names()})
	}
	return e, nil
}

// Match evaluates expression and reports whether the record passes. expr and
// CEL must produce a boolean; jq follows its own truthiness (null and false
// reject, anything else accepts).
func Match(ctx context.Context, e Engine, expression string, data map[string]any) (bool, error) {
	out, err := e.Evaluate(ctx, expression, data)
	if err != nil {
		return false, err
	}
	if e.Name() == EngineJQ {
		return jqTruthy(out), nil
	}
	b, ok := out.(bool)
	if !ok {
		return false, schema.NewErrorf(schema.ErrCodeValidation,
			"%s filter %q must evaluate to a boolean, got %T", e.Name(), expression, out).
			WithDetails(map[string]any{"expression": expression})
	}
	return b, nil
}

func jqTruthy(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	case []any:
		// Multiple outputs pass when any of them does.
		return slices.ContainsFunc(val, jqTruthy)
	default:
		return true
	}
}

func compileError(engine, expression string, err error) *schema.FlowsketchError {
	return schema.NewErrorf(schema.ErrCodeValidation,
		"%s compile error in %q: %s", engine, expression, err.Error()).
		WithCause(err).
		WithDetails(map[string]any{"expression": expression})
}

func evalError(engine, expression string, err error) *schema.FlowsketchError {
	return schema.NewErrorf(schema.ErrCodeValidation,
		"%s evaluation failed for %q: %s", engine, expression, err.Error()).
		WithCause(err).
		WithDetails(map[string]any{"expression": expression})
}
