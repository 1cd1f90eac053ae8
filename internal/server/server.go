package server

import (
	"context"
	"embed"
	"fmt"
	"html/template"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rendis/flowsketch/internal/llm"
	"github.com/rendis/flowsketch/internal/logging"
	"github.com/rendis/flowsketch/internal/metrics"
	"github.com/rendis/flowsketch/internal/newsletter"
	"github.com/rendis/flowsketch/internal/render"
	"github.com/rendis/flowsketch/internal/share"
	"github.com/rendis/flowsketch/internal/stats"
	"github.com/rendis/flowsketch/internal/streaming"
	"github.com/rendis/flowsketch/internal/validation"
)

//go:embed templates static
var content embed.FS

// ModelLister lists the models available to the configured API key.
type ModelLister interface {
	ListModels(ctx context.Context) ([]llm.ModelInfo, error)
}

// Deps holds the dependencies for the HTTP server. Generator and Models are
// nil when no API key is configured.
type Deps struct {
	Generator  llm.Generator
	Models     ModelLister
	Breaker    *llm.CircuitBreaker
	APIKey     string
	Renderer   render.Renderer
	Shares     *share.Service
	Stats      *stats.Service
	Newsletter *newsletter.Service
	Validator  *validation.RequestValidator
	Hub        streaming.EventHub
	Metrics    *metrics.Metrics
	Gatherer   prometheus.Gatherer
	Logger     *slog.Logger
	Version    string
	StartedAt  time.Time
}

// Server serves the JSON API, the live stats stream and the embedded pages.
type Server struct {
	deps  Deps
	pages map[string]*template.Template
}

// New creates a Server with parsed templates.
func New(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	if deps.StartedAt.IsZero() {
		deps.StartedAt = time.Now()
	}
	if deps.Version == "" {
		deps.Version = "dev"
	}

	funcMap := template.FuncMap{
		"timeAgo":  timeAgo,
		"truncate": truncate,
	}

	base := template.Must(template.New("").Funcs(funcMap).ParseFS(content, "templates/base.html"))

	// Each page clones the base set so its {{define "content"}} stays local.
	pageFiles := []string{"index.html", "share.html"}
	pages := make(map[string]*template.Template, len(pageFiles))
	for _, pf := range pageFiles {
		clone := template.Must(base.Clone())
		pages[pf] = template.Must(clone.ParseFS(content, "templates/"+pf))
	}

	return &Server{deps: deps, pages: pages}
}

// Handler returns the routed handler wrapped in the middleware chain.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	staticFS, _ := fs.Sub(content, "static")
	mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServer(http.FS(staticFS))))

	// Pages.
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("GET /share/{id}", s.handleSharePage)

	// Diagram source.
	mux.HandleFunc("POST /api/generate", s.handleGenerate)
	mux.HandleFunc("POST /api/normalize", s.handleNormalize)
	mux.HandleFunc("POST /api/render", s.handleRender)
	mux.HandleFunc("POST /api/lint", s.handleLint)

	// Sharing.
	mux.HandleFunc("POST /api/share", s.handleCreateShare)
	mux.HandleFunc("GET /api/share", s.handleGetShare)
	mux.HandleFunc("GET /api/gallery", s.handleGallery)
	mux.HandleFunc("POST /api/qr", s.handleQR)

	// Usage and subscribers.
	mux.HandleFunc("GET /api/stats", s.handleGetStats)
	mux.HandleFunc("POST /api/stats", s.handleRecordStats)
	mux.HandleFunc("GET /api/newsletter", s.handleNewsletterSummary)
	mux.HandleFunc("POST /api/newsletter", s.handleSubscribe)

	// Health.
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/validate-key", s.handleValidateKey)
	mux.HandleFunc("GET /api/list-models", s.handleListModels)

	mux.HandleFunc("GET /sse/stats", s.handleSSEStats)
	if s.deps.Gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{}))
	}

	return chi.Chain(
		middleware.RequestID,
		middleware.RealIP,
		s.observe,
		middleware.Recoverer,
	).Handler(mux)
}

// observe puts the request ID into the logging context and records the
// request once the mux has matched its route.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx := logging.WithRequestID(r.Context(), middleware.GetReqID(r.Context()))
		r = r.WithContext(ctx)
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		elapsed := time.Since(start)
		s.deps.Metrics.ObserveHTTP(r.Method, route, strconv.Itoa(status), elapsed)
		logging.LogWith(ctx, s.deps.Logger).DebugContext(ctx, "request served",
			"method", r.Method, "route", route, "status", status, "duration", elapsed)
	})
}

// renderPage executes a page template by name.
func (s *Server) renderPage(w http.ResponseWriter, page string, data any) {
	tmpl, ok := s.pages[page]
	if !ok {
		s.deps.Logger.Error("template not found", "page", page)
		http.Error(w, fmt.Sprintf("template %q not found", page), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := tmpl.ExecuteTemplate(w, "base", data); err != nil {
		s.deps.Logger.Error("template render error", "page", page, "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}
