package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/rendis/flowsketch/internal/expressions"
	"github.com/rendis/flowsketch/internal/llm"
	"github.com/rendis/flowsketch/internal/logging"
	"github.com/rendis/flowsketch/internal/metrics"
	"github.com/rendis/flowsketch/internal/newsletter"
	"github.com/rendis/flowsketch/internal/render"
	"github.com/rendis/flowsketch/internal/secrets"
	"github.com/rendis/flowsketch/internal/server"
	"github.com/rendis/flowsketch/internal/share"
	"github.com/rendis/flowsketch/internal/stats"
	"github.com/rendis/flowsketch/internal/store"
	"github.com/rendis/flowsketch/internal/streaming"
	"github.com/rendis/flowsketch/internal/validation"
	"github.com/rendis/flowsketch/pkg/mcp"
)

// app owns the long-lived services. Handlers built from it can be swapped on
// reload while the store, hub and metrics registry stay put.
type app struct {
	logger    *slog.Logger
	store     store.Store
	hub       *streaming.MemoryHub
	registry  *prometheus.Registry
	metrics   *metrics.Metrics
	vault     *secrets.AESVault
	exprs     *expressions.Registry
	validator *validation.RequestValidator
	stats     *stats.Service
	news      *newsletter.Service
	startedAt time.Time
}

// newLogger builds the process logger with its level held in level.
func newLogger(w io.Writer, cfg Config, level *slog.LevelVar) (*slog.Logger, error) {
	lvl, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	level.Set(lvl)
	return logging.New(w, logging.Options{Format: cfg.LogFormat, Level: level})
}

func newApp(ctx context.Context, cfg Config, logger *slog.Logger) (*app, error) {
	if cfg.StoreBackend == store.BackendLibSQL && !strings.Contains(cfg.DBPath, "://") {
		if err := os.MkdirAll(filepath.Dir(strings.TrimPrefix(cfg.DBPath, "file:")), 0o700); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}
	st, err := store.Open(ctx, cfg.storeOptions())
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	a := &app{
		logger:    logger,
		store:     st,
		hub:       streaming.NewMemoryHub(),
		registry:  prometheus.NewRegistry(),
		startedAt: time.Now(),
	}
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.metrics = metrics.New(a.registry)

	key, err := secrets.LoadOrCreateMasterKey(masterKeyPath())
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	if a.vault, err = secrets.NewAESVault(st, secrets.VaultConfig{MasterKey: key}); err != nil {
		_ = st.Close()
		return nil, err
	}
	if a.exprs, err = expressions.NewRegistry(); err != nil {
		_ = st.Close()
		return nil, err
	}
	if a.validator, err = validation.NewRequestValidator(); err != nil {
		_ = st.Close()
		return nil, err
	}

	a.stats = stats.NewService(st,
		stats.WithHub(a.hub),
		stats.WithMetrics(a.metrics),
		stats.WithLogger(logger),
	)
	a.news = newsletter.NewService(st, a.hub, a.metrics, logger)
	return a, nil
}

func (a *app) Close() error {
	return a.store.Close()
}

// generation is the model client for one configuration. All fields are nil
// when no API key is configured.
type generation struct {
	apiKey    string
	generator llm.Generator
	gemini    *llm.GeminiGenerator
	breaker   *llm.CircuitBreaker
}

func (a *app) generation(ctx context.Context, cfg Config) (*generation, error) {
	apiKey, err := secrets.ResolveAPIKey(ctx, a.vault, cfg.APIKey)
	if err != nil {
		return nil, err
	}
	g := &generation{apiKey: apiKey}
	if apiKey == "" {
		a.logger.WarnContext(ctx, "no API key configured; generation disabled")
		return g, nil
	}

	g.gemini, err = llm.NewGeminiGenerator(ctx, llm.GeminiConfig{
		APIKey:  apiKey,
		Model:   cfg.GeminiModel,
		BaseURL: cfg.GeminiBaseURL,
	})
	if err != nil {
		return nil, err
	}
	g.breaker = llm.NewCircuitBreaker(llm.DefaultCircuitBreakerConfig())
	g.generator = llm.NewResilientGenerator(g.gemini, llm.DefaultRetryPolicy(), g.breaker, a.hub, a.logger)
	return g, nil
}

func (a *app) renderer(cfg Config) *render.GraphvizRenderer {
	return render.NewGraphvizRenderer(cfg.CacheSize,
		render.WithMetrics(a.metrics),
		render.WithLogger(a.logger),
	)
}

func (a *app) shares(cfg Config) *share.Service {
	return share.NewService(a.store, a.exprs, cfg.BaseURL,
		share.WithHub(a.hub),
		share.WithMetrics(a.metrics),
		share.WithLogger(a.logger),
	)
}

// handler builds the HTTP handler for cfg.
func (a *app) handler(ctx context.Context, cfg Config) (http.Handler, *generation, error) {
	gen, err := a.generation(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}

	deps := server.Deps{
		Generator:  gen.generator,
		Breaker:    gen.breaker,
		APIKey:     gen.apiKey,
		Renderer:   a.renderer(cfg),
		Shares:     a.shares(cfg),
		Stats:      a.stats,
		Newsletter: a.news,
		Validator:  a.validator,
		Hub:        a.hub,
		Metrics:    a.metrics,
		Logger:     a.logger,
		Version:    version,
		StartedAt:  a.startedAt,
	}
	if gen.gemini != nil {
		deps.Models = gen.gemini
	}
	if cfg.Metrics {
		deps.Gatherer = a.registry
	}
	return server.New(deps).Handler(), gen, nil
}

// mcpServer builds the stdio MCP server for cfg.
func (a *app) mcpServer(ctx context.Context, cfg Config) (*mcp.FlowsketchServer, error) {
	gen, err := a.generation(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return mcp.NewFlowsketchServer(mcp.FlowsketchServerDeps{
		Generator: gen.generator,
		Renderer:  a.renderer(cfg),
		Shares:    a.shares(cfg),
		Stats:     a.stats,
		Hub:       a.hub,
		Logger:    a.logger,
		Version:   version,
	}), nil
}
