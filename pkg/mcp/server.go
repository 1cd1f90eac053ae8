package mcp

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/flowsketch/internal/llm"
	"github.com/rendis/flowsketch/internal/render"
	"github.com/rendis/flowsketch/internal/share"
	"github.com/rendis/flowsketch/internal/stats"
	"github.com/rendis/flowsketch/internal/streaming"
)

// FlowsketchServerDeps holds the dependencies for creating a FlowsketchServer.
// Generator is nil when no API key is configured; the generate tool then
// reports an error. Shares and Stats are optional.
type FlowsketchServerDeps struct {
	Generator llm.Generator
	Renderer  render.Renderer
	Shares    *share.Service
	Stats     *stats.Service
	Hub       streaming.EventHub
	Logger    *slog.Logger
	Version   string
}

// FlowsketchServer wraps an MCP server with the flowchart tools.
type FlowsketchServer struct {
	generator llm.Generator
	renderer  render.Renderer
	shares    *share.Service
	stats     *stats.Service
	hub       streaming.EventHub
	logger    *slog.Logger
	sessions  *SessionRegistry
	notifier  *ShareNotifier
	mcpServer *server.MCPServer
}

// NewFlowsketchServer creates a FlowsketchServer with every tool registered.
func NewFlowsketchServer(deps FlowsketchServerDeps) *FlowsketchServer {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	version := deps.Version
	if version == "" {
		version = "dev"
	}
	renderer := deps.Renderer
	if renderer == nil {
		renderer = render.NewGraphvizRenderer(64)
	}

	s := &FlowsketchServer{
		generator: deps.Generator,
		renderer:  renderer,
		shares:    deps.Shares,
		stats:     deps.Stats,
		hub:       deps.Hub,
		logger:    logger,
		sessions:  NewSessionRegistry(),
	}

	mcpSrv := server.NewMCPServer(
		"flowsketch",
		version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions("FlowSketch turns descriptions into flowchart source and renders it. "+
			"Use flowsketch.generate to draft a chart from a description, flowsketch.normalize or "+
			"flowsketch.repair to clean up hand-written source, flowsketch.lint to list problems, "+
			"flowsketch.render to produce svg, png, ascii or mermaid output, flowsketch.share to "+
			"publish a chart and flowsketch.gallery to browse public charts."),
	)

	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	s.notifier = NewShareNotifier(mcpSrv, s.sessions, logger)
	return s
}

// Serve starts the stdio transport and blocks until ctx is cancelled or stdin
// closes. With a hub configured, share views are pushed to the session that
// created the share.
func (s *FlowsketchServer) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if s.hub != nil {
		if err := s.notifier.Watch(ctx, s.hub); err != nil {
			return err
		}
	}
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *FlowsketchServer) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// tools returns the registered MCP tools as ServerTool entries.
func (s *FlowsketchServer) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: generateTool(), Handler: s.handleGenerate},
		{Tool: normalizeTool(), Handler: s.handleNormalize},
		{Tool: repairTool(), Handler: s.handleRepair},
		{Tool: lintTool(), Handler: s.handleLint},
		{Tool: renderTool(), Handler: s.handleRender},
		{Tool: shareTool(), Handler: s.handleShare},
		{Tool: galleryTool(), Handler: s.handleGallery},
	}
}

// --- Tool definitions ---

func generateTool() mcp.Tool {
	return mcp.NewTool("flowsketch.generate",
		mcp.WithDescription("Generate normalized flowchart source from a plain-language description"),
		mcp.WithString("prompt", mcp.Required(), mcp.Description("Description of the process to chart")),
		mcp.WithString("user_id", mcp.Description("Caller ID recorded in usage stats")),
	)
}

func normalizeTool() mcp.Tool {
	return mcp.NewTool("flowsketch.normalize",
		mcp.WithDescription("Reshape loosely structured flowchart text into canonical source"),
		mcp.WithString("source", mcp.Required(), mcp.Description("Flowchart source text")),
	)
}

func repairTool() mcp.Tool {
	return mcp.NewTool("flowsketch.repair",
		mcp.WithDescription("Repair flowchart source after a failed render"),
		mcp.WithString("source", mcp.Required(), mcp.Description("Flowchart source text")),
	)
}

func lintTool() mcp.Tool {
	return mcp.NewTool("flowsketch.lint",
		mcp.WithDescription("List syntax problems in flowchart source without changing it"),
		mcp.WithString("source", mcp.Required(), mcp.Description("Flowchart source text")),
	)
}

func renderTool() mcp.Tool {
	return mcp.NewTool("flowsketch.render",
		mcp.WithDescription("Render flowchart source. Returns SVG or mermaid text, ASCII art, or a PNG image"),
		mcp.WithString("source", mcp.Required(), mcp.Description("Flowchart source text")),
		mcp.WithString("format",
			mcp.Enum("svg", "png", "ascii", "mermaid"),
			mcp.Description("Output format (default: svg)"),
		),
		mcp.WithBoolean("repair", mcp.Description("Retry with repaired source when the first render fails (default: true)")),
	)
}

func shareTool() mcp.Tool {
	return mcp.NewTool("flowsketch.share",
		mcp.WithDescription("Publish flowchart source under a share link"),
		mcp.WithString("flowchart_code", mcp.Required(), mcp.Description("Flowchart source to publish")),
		mcp.WithString("title", mcp.Description("Title shown on the share page")),
		mcp.WithBoolean("is_public", mcp.Description("List the chart in the public gallery (default: false)")),
	)
}

func galleryTool() mcp.Tool {
	return mcp.NewTool("flowsketch.gallery",
		mcp.WithDescription("List public shared flowcharts, newest first, optionally filtered by an expression"),
		mcp.WithString("filter", mcp.Description("Expression over id, title, code, views, nodes, edges, createdAt")),
		mcp.WithString("engine",
			mcp.Enum("expr", "cel", "jq"),
			mcp.Description("Expression language for filter (default: expr)"),
		),
		mcp.WithNumber("limit", mcp.Description("Maximum results (default: 20)")),
		mcp.WithNumber("offset", mcp.Description("Results to skip")),
	)
}
