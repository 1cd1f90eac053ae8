package diagram

import (
	"fmt"
	"regexp"
	"strings"
)

// SyntaxError reports a line the flowchart reader could not understand.
type SyntaxError struct {
	Line   int
	Text   string
	Reason string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("syntax error on line %d: %s: %q", e.Line, e.Reason, e.Text)
}

type shapeDelims struct {
	open, close string
	shape       Shape
}

// Longer openers first so "((" wins over "(".
var shapeTable = []shapeDelims{
	{"([", "])", ShapeStadium},
	{"[[", "]]", ShapeSubroutine},
	{"[(", ")]", ShapeCylinder},
	{"((", "))", ShapeCircle},
	{"{{", "}}", ShapeHexagon},
	{"[", "]", ShapeRect},
	{"(", ")", ShapeRound},
	{"{", "}", ShapeDiamond},
	{">", "]", ShapeAsymmetric},
}

var (
	graphDecl   = regexp.MustCompile(`^(?:graph|flowchart)(?:\s+(TD|TB|LR|RL|BT))?$`)
	nodeID      = regexp.MustCompile(`^[A-Za-z0-9_]+`)
	className   = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_-]*$`)
	arrowSplit  = regexp.MustCompile(`\s*-->(?:\|([^|]*)\|)?\s*`)
	quotedLabel = regexp.MustCompile(`^"[^"]*"$`)
)

// ParseFlowchart reads flowchart source into a DiagramModel. Unlike Parse it
// is strict: every statement must be well formed or a *SyntaxError is
// returned.
func ParseFlowchart(source string) (*DiagramModel, error) {
	p := &flowParser{
		model: &DiagramModel{},
		index: make(map[string]*Node),
	}

	sawGraph := false
	for i, raw := range strings.Split(source, "\n") {
		lineNo := i + 1
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "%%") {
			continue
		}

		if !sawGraph {
			m := graphDecl.FindStringSubmatch(line)
			if m == nil {
				return nil, &SyntaxError{Line: lineNo, Text: line, Reason: "expected graph declaration"}
			}
			p.model.Direction = Direction(m[1])
			if p.model.Direction == "" {
				p.model.Direction = DirectionTD
			}
			sawGraph = true
			continue
		}

		if err := p.statement(line); err != nil {
			return nil, &SyntaxError{Line: lineNo, Text: line, Reason: err.Error()}
		}
	}

	if !sawGraph {
		return nil, &SyntaxError{Line: 1, Reason: "empty document"}
	}

	p.applyClassAssignments()
	p.model.Levels = computeLevels(p.model.Nodes, p.model.Edges)
	return p.model, nil
}

type flowParser struct {
	model   *DiagramModel
	index   map[string]*Node
	assigns [][2]string // node ID, class name from "class" statements
}

func (p *flowParser) statement(line string) error {
	switch {
	case graphDecl.MatchString(line):
		return fmt.Errorf("duplicate graph declaration")
	case strings.Contains(line, ";"):
		return fmt.Errorf("unexpected semicolon")
	case strings.HasPrefix(line, "classDef "):
		return p.classDef(strings.TrimPrefix(line, "classDef "))
	case strings.HasPrefix(line, "class "):
		return p.classAssign(strings.TrimPrefix(line, "class "))
	case strings.Contains(line, arrowToken):
		return p.connection(line)
	default:
		_, err := p.nodeRef(line)
		return err
	}
}

func (p *flowParser) classDef(rest string) error {
	name, props, ok := strings.Cut(strings.TrimSpace(rest), " ")
	if !ok || !className.MatchString(name) {
		return fmt.Errorf("malformed classDef")
	}
	props = strings.TrimSpace(props)
	style := &ClassStyle{Name: name, Raw: props}
	for _, prop := range strings.Split(props, ",") {
		k, v, ok := strings.Cut(prop, ":")
		if !ok {
			return fmt.Errorf("malformed style property %q", prop)
		}
		switch strings.TrimSpace(k) {
		case "fill":
			style.Fill = strings.TrimSpace(v)
		case "stroke":
			style.Stroke = strings.TrimSpace(v)
		case "stroke-width":
			style.StrokeWidth = strings.TrimSpace(v)
		case "color":
			style.Color = strings.TrimSpace(v)
		case "font-weight":
			style.FontWeight = strings.TrimSpace(v)
		}
	}
	if existing := p.model.Class(name); existing != nil {
		*existing = *style
		return nil
	}
	p.model.Classes = append(p.model.Classes, style)
	return nil
}

func (p *flowParser) classAssign(rest string) error {
	ids, name, ok := strings.Cut(strings.TrimSpace(rest), " ")
	if !ok || !className.MatchString(strings.TrimSpace(name)) {
		return fmt.Errorf("malformed class statement")
	}
	for _, id := range strings.Split(ids, ",") {
		id = strings.TrimSpace(id)
		if nodeID.FindString(id) != id {
			return fmt.Errorf("invalid node id %q", id)
		}
		p.assigns = append(p.assigns, [2]string{id, strings.TrimSpace(name)})
	}
	return nil
}

func (p *flowParser) applyClassAssignments() {
	for _, a := range p.assigns {
		if n, ok := p.index[a[0]]; ok {
			n.Class = a[1]
		}
	}
}

// connection handles chains such as A --> B -->|Yes| C["Done"]:::endNode.
func (p *flowParser) connection(line string) error {
	locs := arrowSplit.FindAllStringSubmatchIndex(line, -1)
	var segments, labels []string
	prev := 0
	for _, loc := range locs {
		segments = append(segments, line[prev:loc[0]])
		label := ""
		if loc[2] >= 0 {
			label = line[loc[2]:loc[3]]
		}
		labels = append(labels, label)
		prev = loc[1]
	}
	segments = append(segments, line[prev:])

	ids := make([]string, 0, len(segments))
	for _, seg := range segments {
		if strings.TrimSpace(seg) == "" {
			return fmt.Errorf("connection is missing an endpoint")
		}
		id, err := p.nodeRef(seg)
		if err != nil {
			return err
		}
		ids = append(ids, id)
	}

	for i := 0; i+1 < len(ids); i++ {
		p.model.Edges = append(p.model.Edges, Edge{
			From:  ids[i],
			To:    ids[i+1],
			Label: strings.TrimSpace(labels[i]),
		})
	}
	return nil
}

// nodeRef parses "ID", "ID<open>label<close>" or either with a ":::class"
// suffix, registering or updating the node. It returns the node ID.
func (p *flowParser) nodeRef(text string) (string, error) {
	text = strings.TrimSpace(text)
	id := nodeID.FindString(text)
	if id == "" {
		return "", fmt.Errorf("expected node identifier")
	}
	rest := text[len(id):]

	class := ""
	if i := strings.LastIndex(rest, classSeparator); i >= 0 {
		class = strings.TrimSpace(rest[i+len(classSeparator):])
		if !className.MatchString(class) {
			return "", fmt.Errorf("invalid class name %q", class)
		}
		rest = rest[:i]
	}

	node := p.ensureNode(id)
	if class != "" {
		node.Class = class
	}
	if rest == "" {
		return id, nil
	}

	for _, d := range shapeTable {
		if !strings.HasPrefix(rest, d.open) {
			continue
		}
		if !strings.HasSuffix(rest, d.close) || len(rest) < len(d.open)+len(d.close) {
			return "", fmt.Errorf("unterminated %s node", d.shape)
		}
		label, err := parseLabel(rest[len(d.open) : len(rest)-len(d.close)])
		if err != nil {
			return "", err
		}
		node.Label = label
		node.Shape = d.shape
		return id, nil
	}
	return "", fmt.Errorf("unexpected text after node identifier")
}

func parseLabel(inner string) (string, error) {
	inner = strings.TrimSpace(inner)
	if strings.HasPrefix(inner, `"`) {
		if !quotedLabel.MatchString(inner) {
			return "", fmt.Errorf("malformed quoted label")
		}
		return inner[1 : len(inner)-1], nil
	}
	if strings.ContainsAny(inner, `[]{}()"`) || strings.Contains(inner, classSeparator) {
		return "", fmt.Errorf("label contains reserved characters")
	}
	return inner, nil
}

func (p *flowParser) ensureNode(id string) *Node {
	if n, ok := p.index[id]; ok {
		return n
	}
	n := &Node{ID: id, Label: id, Shape: ShapeRect}
	p.index[id] = n
	p.model.Nodes = append(p.model.Nodes, n)
	return n
}
