package schema

// Event type constants published on the streaming hub.
const (
	EventStatsUpdated        = "stats.updated"
	EventStatsReset          = "stats.reset"
	EventShareCreated        = "share.created"
	EventShareViewed         = "share.viewed"
	EventFlowchartGenerated  = "flowchart.generated"
	EventFlowchartRepaired   = "flowchart.repaired"
	EventSubscriberAdded     = "newsletter.subscribed"
	EventCircuitBreakerOpen  = "circuit_breaker_open"
	EventCircuitBreakerClose = "circuit_breaker_closed"
)

// StatAction is a usage event recorded by the stats service.
type StatAction string

const (
	StatFlowchartCreated StatAction = "flowchart_created"
	StatUserActive       StatAction = "user_active"
	StatAPICall          StatAction = "api_call"
	StatGenerationError  StatAction = "generation_error"
)

// Valid reports whether the action is one the stats service understands.
func (a StatAction) Valid() bool {
	switch a {
	case StatFlowchartCreated, StatUserActive, StatAPICall, StatGenerationError:
		return true
	default:
		return false
	}
}

// Counter names persisted by the store.
const (
	CounterFlowchartsCreated     = "flowcharts_created"
	CounterTotalSessions         = "total_sessions"
	CounterPeakUsers             = "peak_users"
	CounterAPICalls              = "api_calls"
	CounterSuccessfulGenerations = "successful_generations"
	CounterErrors                = "error_count"
)

// RenderFormat selects the output of the renderer.
type RenderFormat string

const (
	FormatSVG     RenderFormat = "svg"
	FormatPNG     RenderFormat = "png"
	FormatASCII   RenderFormat = "ascii"
	FormatMermaid RenderFormat = "mermaid"
)

// Valid reports whether the format is supported.
func (f RenderFormat) Valid() bool {
	switch f {
	case FormatSVG, FormatPNG, FormatASCII, FormatMermaid:
		return true
	default:
		return false
	}
}

// ContentType returns the MIME type for the rendered output.
func (f RenderFormat) ContentType() string {
	switch f {
	case FormatSVG:
		return "image/svg+xml"
	case FormatPNG:
		return "image/png"
	default:
		return "text/plain; charset=utf-8"
	}
}
