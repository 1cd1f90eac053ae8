package diagram

import (
	"regexp"
	"strings"
)

// LineKind classifies one line of flowchart source.
type LineKind int

const (
	LineUnrecognized LineKind = iota
	LineGraphDecl
	LineClassDef
	LineConnection
	LineNodeDef
)

func (k LineKind) String() string {
	switch k {
	case LineGraphDecl:
		return "graph"
	case LineClassDef:
		return "classDef"
	case LineConnection:
		return "connection"
	case LineNodeDef:
		return "node"
	default:
		return "unrecognized"
	}
}

const (
	graphKeyword    = "graph"
	classDefKeyword = "classDef"
	arrowToken      = "-->"
	classSeparator  = ":::"
	indent          = "    "
	defaultGraph    = "graph TD"
)

// Line is a cleaned source line tagged with its kind.
// For LineNodeDef, Text may expand into several lines once split.
type Line struct {
	Kind LineKind
	Text string
}

var (
	whitespaceRun = regexp.MustCompile(`\s+`)
	arrowSpacing  = regexp.MustCompile(`\s*-->\s*`)
	labeledArrow  = regexp.MustCompile(` --> \|([^|]+)\|\s*`)
)

// cleanLine trims the line, removes semicolons and collapses whitespace runs.
func cleanLine(s string) string {
	s = strings.ReplaceAll(s, ";", "")
	s = whitespaceRun.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// normalizeArrows pads every arrow with single spaces and pulls a pipe label
// onto the arrow: "A-->|Yes|B" becomes "A -->|Yes| B".
func normalizeArrows(s string) string {
	s = arrowSpacing.ReplaceAllString(s, " --> ")
	s = labeledArrow.ReplaceAllString(s, " -->|$1| ")
	return strings.TrimSpace(s)
}

// ClassifyLine cleans one raw line and decides its kind. Connection lines come
// back with their arrows normalized; other kinds are returned cleaned.
func ClassifyLine(raw string) Line {
	text := cleanLine(raw)
	switch {
	case text == "":
		return Line{Kind: LineUnrecognized}
	case strings.HasPrefix(text, graphKeyword):
		return Line{Kind: LineGraphDecl, Text: text}
	case strings.HasPrefix(text, classDefKeyword):
		return Line{Kind: LineClassDef, Text: text}
	case strings.Contains(text, arrowToken):
		return Line{Kind: LineConnection, Text: normalizeArrows(text)}
	case strings.ContainsAny(text, "[{"):
		return Line{Kind: LineNodeDef, Text: text}
	default:
		return Line{Kind: LineUnrecognized, Text: text}
	}
}
