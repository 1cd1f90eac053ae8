package server

import (
	"context"
	"fmt"
	"net/http"
	"runtime"
	"strings"
	"time"

	"github.com/rendis/flowsketch/internal/diagram"
	"github.com/rendis/flowsketch/internal/llm"
	"github.com/rendis/flowsketch/internal/logging"
	"github.com/rendis/flowsketch/internal/metrics"
	"github.com/rendis/flowsketch/internal/render"
	"github.com/rendis/flowsketch/internal/share"
	"github.com/rendis/flowsketch/internal/stats"
	"github.com/rendis/flowsketch/internal/store"
	"github.com/rendis/flowsketch/internal/streaming"
	"github.com/rendis/flowsketch/internal/validation"
	"github.com/rendis/flowsketch/pkg/schema"
)

const (
	// HeaderRepaired is set on render responses produced from repaired source.
	HeaderRepaired = "X-Flowsketch-Repaired"

	statusProbeTimeout = 5 * time.Second
)

type generateRequest struct {
	Prompt string `json:"prompt"`
	UserID string `json:"userId"`
}

type sourceRequest struct {
	Source string `json:"source"`
}

type renderRequest struct {
	Source string `json:"source"`
	Format string `json:"format"`
}

type statsRequest struct {
	Action string `json:"action"`
	UserID string `json:"userId"`
}

type newsletterRequest struct {
	Email     string   `json:"email"`
	Interests []string `json:"interests"`
}

type qrRequest struct {
	URL string `json:"url"`
}

// --- Diagram source ---

// handleGenerate turns a prompt into normalized flowchart source and records
// the outcome in the usage stats.
func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if err := s.decodeBody(r, validation.KindGenerate, &req); err != nil {
		writeFailure(w, err)
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		writeError(w, http.StatusBadRequest, "Prompt is required")
		return
	}
	if s.deps.Generator == nil {
		writeError(w, http.StatusInternalServerError, "API key not configured")
		return
	}

	ctx := r.Context()
	if req.UserID != "" {
		ctx = logging.WithUserID(ctx, req.UserID)
	}
	log := logging.LogWith(ctx, s.deps.Logger)

	flowchart, err := llm.Flowchart(ctx, s.deps.Generator, req.Prompt)
	if err != nil {
		s.deps.Metrics.IncGeneration("error")
		log.WarnContext(ctx, "generation failed", "error", err)
		s.recordStats(ctx, stats.ActionGenerationError, req.UserID)
		writeFailure(w, err)
		return
	}

	s.deps.Metrics.IncGeneration("ok")
	log.InfoContext(ctx, "flowchart generated", "bytes", len(flowchart))
	s.recordStats(ctx, stats.ActionFlowchartCreated, req.UserID)
	s.publish(ctx, streaming.TopicFlowcharts, schema.EventFlowchartGenerated, map[string]any{"bytes": len(flowchart)})

	writeJSON(w, http.StatusOK, map[string]any{"flowchart": flowchart})
}

// recordStats logs instead of failing the request; stats are best effort.
func (s *Server) recordStats(ctx context.Context, action, userID string) {
	if s.deps.Stats == nil {
		return
	}
	if _, err := s.deps.Stats.Record(ctx, action, userID); err != nil {
		logging.LogWith(ctx, s.deps.Logger).WarnContext(ctx, "record stats failed", "action", action, "error", err)
	}
}

func (s *Server) handleNormalize(w http.ResponseWriter, r *http.Request) {
	var req sourceRequest
	if err := s.decodeBody(r, validation.KindSource, &req); err != nil {
		writeFailure(w, err)
		return
	}

	doc := diagram.Parse(req.Source)
	s.deps.Metrics.AddDroppedLines(len(doc.Dropped))

	dropped := doc.Dropped
	if dropped == nil {
		dropped = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"flowchart": doc.String(),
		"dropped":   dropped,
	})
}

// handleRender writes the rendered bytes with the format's content type. A
// render that only succeeded after repair carries HeaderRepaired.
func (s *Server) handleRender(w http.ResponseWriter, r *http.Request) {
	var req renderRequest
	if err := s.decodeBody(r, validation.KindRender, &req); err != nil {
		writeFailure(w, err)
		return
	}
	if s.deps.Renderer == nil {
		writeError(w, http.StatusServiceUnavailable, "renderer not configured")
		return
	}

	format := schema.RenderFormat(req.Format)
	if format == "" {
		format = schema.FormatSVG
	}

	ctx := r.Context()
	start := time.Now()
	res, err := render.RenderWithRepair(ctx, s.deps.Renderer, req.Source, format)
	if err != nil {
		writeFailure(w, err)
		return
	}
	if res.Repaired {
		s.deps.Metrics.ObserveRender(string(format), metrics.RenderRepaired, time.Since(start))
		s.publish(ctx, streaming.TopicFlowcharts, schema.EventFlowchartRepaired, map[string]any{"source": res.Source})
		w.Header().Set(HeaderRepaired, "true")
	}

	w.Header().Set("Content-Type", format.ContentType())
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(res.Output)
}

func (s *Server) handleLint(w http.ResponseWriter, r *http.Request) {
	var req sourceRequest
	if err := s.decodeBody(r, validation.KindSource, &req); err != nil {
		writeFailure(w, err)
		return
	}

	res := diagram.Lint(req.Source)
	issues := make([]schema.ValidationIssue, 0, len(res.Errors)+len(res.Warnings))
	issues = append(issues, res.Errors...)
	issues = append(issues, res.Warnings...)
	writeJSON(w, http.StatusOK, map[string]any{
		"valid":  res.Valid(),
		"issues": issues,
	})
}

// --- Sharing ---

func (s *Server) handleCreateShare(w http.ResponseWriter, r *http.Request) {
	var req share.CreateRequest
	if err := s.decodeBody(r, validation.KindShare, &req); err != nil {
		writeFailure(w, err)
		return
	}

	created, err := s.deps.Shares.Create(r.Context(), req)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"shareId":  created.ShareID,
		"shareUrl": created.ShareURL,
		"message":  "Share link created successfully!",
	})
}

func (s *Server) handleGetShare(w http.ResponseWriter, r *http.Request) {
	sh, err := s.deps.Shares.Get(r.Context(), r.URL.Query().Get("id"))
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "flowchart": sh})
}

func (s *Server) handleGallery(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	items, err := s.deps.Shares.Gallery(r.Context(), share.GalleryQuery{
		Filter: q.Get("filter"),
		Engine: q.Get("engine"),
		Limit:  queryInt(r, "limit", 0),
		Offset: queryInt(r, "offset", 0),
	})
	if err != nil {
		writeFailure(w, err)
		return
	}
	if items == nil {
		items = []*store.Share{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "flowcharts": items, "count": len(items)})
}

func (s *Server) handleQR(w http.ResponseWriter, r *http.Request) {
	var req qrRequest
	if err := s.decodeBody(r, validation.KindQR, &req); err != nil {
		writeFailure(w, err)
		return
	}
	qr, err := share.QRCodeURL(req.URL)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"qrCodeUrl": qr,
		"message":   "QR code generated successfully!",
	})
}

// --- Usage and subscribers ---

func (s *Server) handleGetStats(w http.ResponseWriter, r *http.Request) {
	snap, err := s.deps.Stats.Snapshot(r.Context())
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "stats": snap})
}

func (s *Server) handleRecordStats(w http.ResponseWriter, r *http.Request) {
	var req statsRequest
	if err := s.decodeBody(r, validation.KindStats, &req); err != nil {
		writeFailure(w, err)
		return
	}
	snap, err := s.deps.Stats.Record(r.Context(), req.Action, req.UserID)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "stats": snap})
}

func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	var req newsletterRequest
	if err := s.decodeBody(r, validation.KindNewsletter, &req); err != nil {
		writeFailure(w, err)
		return
	}
	res, err := s.deps.Newsletter.Subscribe(r.Context(), req.Email, req.Interests)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":           true,
		"message":           res.Message,
		"alreadySubscribed": res.AlreadySubscribed,
		"subscriberCount":   res.SubscriberCount,
	})
}

func (s *Server) handleNewsletterSummary(w http.ResponseWriter, r *http.Request) {
	sum, err := s.deps.Newsletter.Summary(r.Context())
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "stats": sum})
}

// --- Health ---

// Upstream health values reported by /api/status.
const (
	UpstreamOperational   = "Operational"
	UpstreamDegraded      = "Degraded"
	UpstreamDown          = "Down"
	UpstreamNotConfigured = "Not Configured"
)

// handleStatus reports uptime, a live probe of the model API and runtime
// figures.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	uptime := time.Since(s.deps.StartedAt)
	hours := int(uptime.Hours())
	minutes := int(uptime.Minutes()) % 60

	api, responseTime := s.probeUpstream(r.Context())

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	status := map[string]any{
		"platform": "Operational",
		"api":      api,
		"uptime": map[string]any{
			"hours":   hours,
			"minutes": minutes,
			"total":   formatUptime(hours, minutes),
		},
		"performance": map[string]any{
			"apiResponseTime": responseTime.Milliseconds(),
			"memoryUsage":     mem.HeapAlloc / 1024 / 1024,
			"goroutines":      runtime.NumGoroutine(),
		},
		"environment": map[string]any{
			"runtime":   "go",
			"goVersion": runtime.Version(),
			"os":        runtime.GOOS,
			"arch":      runtime.GOARCH,
		},
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   s.deps.Version,
	}
	if s.deps.Breaker != nil {
		status["circuitBreaker"] = s.deps.Breaker.Stats()
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "status": status})
}

func formatUptime(hours, minutes int) string {
	return fmt.Sprintf("%dh %dm", hours, minutes)
}

// probeUpstream lists models as a health check. An open breaker is reported
// as degraded without calling out.
func (s *Server) probeUpstream(ctx context.Context) (string, time.Duration) {
	if s.deps.Models == nil {
		return UpstreamNotConfigured, 0
	}
	if s.deps.Breaker != nil && s.deps.Breaker.State() == llm.CircuitOpen {
		return UpstreamDegraded, 0
	}

	ctx, cancel := context.WithTimeout(ctx, statusProbeTimeout)
	defer cancel()

	start := time.Now()
	_, err := s.deps.Models.ListModels(ctx)
	elapsed := time.Since(start)
	if err == nil {
		return UpstreamOperational, elapsed
	}
	if ctx.Err() != nil {
		return UpstreamDown, elapsed
	}
	return UpstreamDegraded, elapsed
}

func (s *Server) handleValidateKey(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, llm.ValidateKey(s.deps.APIKey))
}

func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	if s.deps.Models == nil {
		writeError(w, http.StatusInternalServerError, "API key not configured")
		return
	}
	models, err := s.deps.Models.ListModels(r.Context())
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "models": models})
}

func (s *Server) publish(ctx context.Context, topic, eventType string, payload any) {
	if s.deps.Hub == nil {
		return
	}
	_ = s.deps.Hub.Publish(ctx, streaming.StreamEvent{
		Topic:     topic,
		EventType: eventType,
		Payload:   payload,
	})
}
