package diagram

import (
	"strings"
)

// Document is flowchart source sorted into its canonical sections.
// It is produced by Parse and turned back into text by String.
type Document struct {
	Graph       string
	Nodes       []string
	Connections []string
	ClassDefs   []string
	// Dropped holds cleaned lines that matched no category.
	Dropped []string
}

// Parse classifies every non-blank line of raw into a Document. Only the first
// graph declaration is kept. Node definitions are split when a class tag is
// fused with the next node.
func Parse(raw string) *Document {
	doc := &Document{}
	for _, rawLine := range strings.Split(raw, "\n") {
		if strings.TrimSpace(rawLine) == "" {
			continue
		}
		line := ClassifyLine(rawLine)
		switch line.Kind {
		case LineGraphDecl:
			if doc.Graph == "" {
				doc.Graph = line.Text
			}
		case LineClassDef:
			doc.ClassDefs = append(doc.ClassDefs, line.Text)
		case LineConnection:
			doc.Connections = append(doc.Connections, line.Text)
		case LineNodeDef:
			doc.Nodes = append(doc.Nodes, SplitConcatenatedNode(line.Text)...)
		default:
			if line.Text != "" {
				doc.Dropped = append(doc.Dropped, line.Text)
			}
		}
	}
	return doc
}

// String reassembles the document: graph declaration, nodes, connections and
// class definitions, each non-empty section followed by a blank line. The
// default palette stands in for a missing class section.
func (d *Document) String() string {
	var b strings.Builder

	graph := d.Graph
	if graph == "" {
		graph = defaultGraph
	}
	b.WriteString(graph)
	b.WriteByte('\n')

	writeSection := func(lines []string) {
		for _, l := range lines {
			b.WriteString(indent)
			b.WriteString(l)
			b.WriteByte('\n')
		}
	}

	if len(d.Nodes) > 0 {
		writeSection(d.Nodes)
		b.WriteByte('\n')
	}
	if len(d.Connections) > 0 {
		writeSection(d.Connections)
		b.WriteByte('\n')
	}

	classDefs := d.ClassDefs
	if len(classDefs) == 0 {
		classDefs = DefaultPalette()
	}
	writeSection(classDefs)

	return strings.TrimSuffix(b.String(), "\n")
}

// Normalize reshapes loosely structured flowchart text into canonical source.
// It never fails; input with nothing classifiable yields a graph declaration
// followed by the default palette.
func Normalize(raw string) string {
	return Parse(raw).String()
}
