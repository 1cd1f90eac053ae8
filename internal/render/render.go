package render

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/rendis/flowsketch/internal/diagram"
	"github.com/rendis/flowsketch/internal/metrics"
	"github.com/rendis/flowsketch/pkg/schema"
)

const defaultCacheSize = 256

// Renderer turns flowchart source into an image or text artifact.
type Renderer interface {
	Render(ctx context.Context, source string, format schema.RenderFormat) ([]byte, error)
}

// GraphvizRenderer parses source with diagram.ParseFlowchart and renders it
// with graphviz, ASCII or Mermaid emitters. Results are cached by content.
type GraphvizRenderer struct {
	cache   *lru.Cache[string, []byte]
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// Option configures a GraphvizRenderer.
type Option func(*GraphvizRenderer)

// WithMetrics records render attempts on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *GraphvizRenderer) { r.metrics = m }
}

// WithLogger sets the logger used for render diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(r *GraphvizRenderer) { r.logger = l }
}

// NewGraphvizRenderer creates a renderer with an LRU cache of cacheSize
// entries. Non-positive sizes fall back to the default.
func NewGraphvizRenderer(cacheSize int, opts ...Option) *GraphvizRenderer {
	if cacheSize <= 0 {
		cacheSize = defaultCacheSize
	}
	// lru.New only fails on a non-positive size.
	cache, _ := lru.New[string, []byte](cacheSize)
	r := &GraphvizRenderer{cache: cache, logger: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Render implements Renderer. Syntax errors come back as RENDER_ERROR with the
// offending line in the details.
func (r *GraphvizRenderer) Render(ctx context.Context, source string, format schema.RenderFormat) ([]byte, error) {
	if !format.Valid() {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "unsupported render format %q", format)
	}

	key := cacheKey(source, format)
	if out, ok := r.cache.Get(key); ok {
		r.metrics.ObserveRender(string(format), metrics.RenderCached, 0)
		return out, nil
	}

	start := time.Now()
	out, err := r.render(ctx, source, format)
	if err != nil {
		r.metrics.ObserveRender(string(format), metrics.RenderFailed, time.Since(start))
		r.logger.DebugContext(ctx, "render failed", "format", format, "error", err)
		return nil, err
	}
	r.metrics.ObserveRender(string(format), metrics.RenderOK, time.Since(start))
	r.cache.Add(key, out)
	return out, nil
}

// Len reports the number of cached results.
func (r *GraphvizRenderer) Len() int {
	return r.cache.Len()
}

func (r *GraphvizRenderer) render(ctx context.Context, source string, format schema.RenderFormat) ([]byte, error) {
	model, err := diagram.ParseFlowchart(source)
	if err != nil {
		return nil, syntaxToError(err)
	}

	switch format {
	case schema.FormatSVG:
		out, err := diagram.RenderSVG(ctx, model)
		if err != nil {
			return nil, schema.NewError(schema.ErrCodeRender, "graphviz render failed").WithCause(err)
		}
		return out, nil
	case schema.FormatPNG:
		out, err := diagram.RenderPNG(ctx, model)
		if err != nil {
			return nil, schema.NewError(schema.ErrCodeRender, "graphviz render failed").WithCause(err)
		}
		return out, nil
	case schema.FormatASCII:
		return []byte(diagram.RenderASCII(model)), nil
	default:
		return []byte(diagram.RenderMermaid(model)), nil
	}
}

func syntaxToError(err error) error {
	var syn *diagram.SyntaxError
	if errors.As(err, &syn) {
		return schema.NewError(schema.ErrCodeRender, syn.Error()).
			WithCause(err).
			WithDetails(map[string]any{"line": syn.Line, "text": syn.Text, "reason": syn.Reason})
	}
	return schema.NewError(schema.ErrCodeRender, err.Error()).WithCause(err)
}

func cacheKey(source string, format schema.RenderFormat) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s\x00%s", format, source)))
	return hex.EncodeToString(sum[:])
}
