package render

import (
	"context"

	"github.com/rendis/flowsketch/internal/diagram"
	"github.com/rendis/flowsketch/pkg/schema"
)

// Result describes a successful render.
type Result struct {
	Output []byte
	// Source is the text that was actually rendered; it differs from the
	// input when Repaired is true.
	Source   string
	Repaired bool
}

// RenderWithRepair renders source and, when that fails, renders
// diagram.Repair(source) once. The repaired attempt is skipped when repair
// leaves the text unchanged; in that case, or when the second attempt also
// fails, the error of the last attempt is returned unchanged.
func RenderWithRepair(ctx context.Context, r Renderer, source string, format schema.RenderFormat) (*Result, error) {
	out, firstErr := r.Render(ctx, source, format)
	if firstErr == nil {
		return &Result{Output: out, Source: source}, nil
	}
	if ctx.Err() != nil {
		return nil, firstErr
	}

	repaired := diagram.Repair(source)
	if repaired == source {
		return nil, firstErr
	}

	out, err := r.Render(ctx, repaired, format)
	if err != nil {
		return nil, err
	}
	return &Result{Output: out, Source: repaired, Repaired: true}, nil
}
