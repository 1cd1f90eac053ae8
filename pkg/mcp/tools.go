package mcp

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/flowsketch/internal/diagram"
	"github.com/rendis/flowsketch/internal/llm"
	"github.com/rendis/flowsketch/internal/render"
	"github.com/rendis/flowsketch/internal/share"
	"github.com/rendis/flowsketch/internal/stats"
	"github.com/rendis/flowsketch/pkg/schema"
)

// handleGenerate asks the model for a chart and normalizes the reply.
func (s *FlowsketchServer) handleGenerate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	prompt, err := req.RequireString("prompt")
	if err != nil {
		return mcp.NewToolResultError("prompt is required"), nil
	}
	if s.generator == nil {
		return mcp.NewToolResultError("API key not configured"), nil
	}
	userID := req.GetString("user_id", "")

	chart, genErr := llm.Flowchart(ctx, s.generator, prompt)
	if genErr != nil {
		s.recordStats(ctx, stats.ActionGenerationError, userID)
		return toolError("generation failed", genErr), nil
	}
	s.recordStats(ctx, stats.ActionFlowchartCreated, userID)
	return mcp.NewToolResultText(chart), nil
}

func (s *FlowsketchServer) recordStats(ctx context.Context, action, userID string) {
	if s.stats == nil {
		return
	}
	if _, err := s.stats.Record(ctx, action, userID); err != nil {
		s.logger.WarnContext(ctx, "record stats failed", "action", action, "error", err)
	}
}

// handleNormalize returns the canonical source and the lines it dropped.
func (s *FlowsketchServer) handleNormalize(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	source, err := req.RequireString("source")
	if err != nil {
		return mcp.NewToolResultError("source is required"), nil
	}
	doc := diagram.Parse(source)
	dropped := doc.Dropped
	if dropped == nil {
		dropped = []string{}
	}
	return marshalResult(map[string]any{
		"flowchart": doc.String(),
		"dropped":   dropped,
	})
}

func (s *FlowsketchServer) handleRepair(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	source, err := req.RequireString("source")
	if err != nil {
		return mcp.NewToolResultError("source is required"), nil
	}
	repaired := diagram.Repair(source)
	return marshalResult(map[string]any{
		"flowchart": repaired,
		"changed":   repaired != source,
	})
}

func (s *FlowsketchServer) handleLint(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	source, err := req.RequireString("source")
	if err != nil {
		return mcp.NewToolResultError("source is required"), nil
	}
	res := diagram.Lint(source)
	return marshalResult(map[string]any{
		"valid":    res.Valid(),
		"errors":   nonNilIssues(res.Errors),
		"warnings": nonNilIssues(res.Warnings),
	})
}

// handleRender renders source in the requested format. PNG comes back as an
// image content block; every other format is text.
func (s *FlowsketchServer) handleRender(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	source, err := req.RequireString("source")
	if err != nil {
		return mcp.NewToolResultError("source is required"), nil
	}
	format := schema.RenderFormat(req.GetString("format", string(schema.FormatSVG)))
	if !format.Valid() {
		return mcp.NewToolResultError("format must be svg, png, ascii, or mermaid"), nil
	}

	var (
		out      []byte
		repaired bool
	)
	if req.GetBool("repair", true) {
		res, renderErr := render.RenderWithRepair(ctx, s.renderer, source, format)
		if renderErr != nil {
			return toolError("render failed", renderErr), nil
		}
		out, repaired = res.Output, res.Repaired
	} else {
		out, err = s.renderer.Render(ctx, source, format)
		if err != nil {
			return toolError("render failed", err), nil
		}
	}

	note := ""
	if repaired {
		note = "rendered from repaired source"
	}
	if format == schema.FormatPNG {
		if note == "" {
			note = "flowchart.png"
		}
		return mcp.NewToolResultImage(note, base64.StdEncoding.EncodeToString(out), "image/png"), nil
	}

	result := mcp.NewToolResultText(string(out))
	if note != "" {
		result.Content = append(result.Content, mcp.NewTextContent(note))
	}
	return result, nil
}

// handleShare publishes a chart and remembers which session owns it so view
// notifications reach the right client.
func (s *FlowsketchServer) handleShare(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.shares == nil {
		return mcp.NewToolResultError("sharing is not configured"), nil
	}
	code, err := req.RequireString("flowchart_code")
	if err != nil {
		return mcp.NewToolResultError("flowchart_code is required"), nil
	}

	created, createErr := s.shares.Create(ctx, share.CreateRequest{
		FlowchartCode: code,
		Title:         req.GetString("title", ""),
		IsPublic:      req.GetBool("is_public", false),
	})
	if createErr != nil {
		return toolError("share failed", createErr), nil
	}
	s.captureSession(ctx, created.ShareID)

	qr, _ := share.QRCodeURL(created.ShareURL)
	return marshalResult(map[string]any{
		"share_id":    created.ShareID,
		"share_url":   created.ShareURL,
		"qr_code_url": qr,
	})
}

func (s *FlowsketchServer) handleGallery(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.shares == nil {
		return mcp.NewToolResultError("sharing is not configured"), nil
	}
	items, err := s.shares.Gallery(ctx, share.GalleryQuery{
		Filter: req.GetString("filter", ""),
		Engine: req.GetString("engine", ""),
		Limit:  req.GetInt("limit", 0),
		Offset: req.GetInt("offset", 0),
	})
	if err != nil {
		return toolError("gallery query failed", err), nil
	}

	records := make([]map[string]any, 0, len(items))
	for _, sh := range items {
		rec := share.Record(sh)
		rec["url"] = s.shares.URL(sh.ID)
		delete(rec, "code")
		records = append(records, rec)
	}
	return marshalResult(map[string]any{"flowcharts": records, "count": len(records)})
}

// --- Internal helpers ---

// captureSession maps the share ID to the current MCP session.
func (s *FlowsketchServer) captureSession(ctx context.Context, shareID string) {
	if session := server.ClientSessionFromContext(ctx); session != nil {
		s.sessions.Register(shareID, session.SessionID())
	}
}

// toolError formats err for the calling agent, including the error code and
// any details.
func toolError(prefix string, err error) *mcp.CallToolResult {
	var fe *schema.FlowsketchError
	if errors.As(err, &fe) {
		msg := fmt.Sprintf("%s: %s (%s)", prefix, fe.Message, fe.Code)
		if len(fe.Details) > 0 {
			if raw, mErr := json.Marshal(fe.Details); mErr == nil {
				msg += " " + string(raw)
			}
		}
		return mcp.NewToolResultError(msg)
	}
	return mcp.NewToolResultError(fmt.Sprintf("%s: %v", prefix, err))
}

func nonNilIssues(in []schema.ValidationIssue) []schema.ValidationIssue {
	if in == nil {
		return []schema.ValidationIssue{}
	}
	return in
}

// marshalResult converts a value to a JSON text tool result.
func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultJSON(json.RawMessage(data))
}
