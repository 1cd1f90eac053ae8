package diagram

import (
	"fmt"
	"strings"
)

// RenderMermaid re-emits a DiagramModel as flowchart source in the same
// section layout Normalize produces: graph line, node definitions,
// connections, classDefs. Output from a parsed model parses back to an
// equivalent model.
func RenderMermaid(model *DiagramModel) string {
	var b strings.Builder

	dir := model.Direction
	if dir == "" {
		dir = DirectionTD
	}
	b.WriteString(fmt.Sprintf("%s %s\n", graphKeyword, dir))

	if model.Title != "" {
		b.WriteString(fmt.Sprintf("%s%%%% %s\n", indent, model.Title))
	}

	for _, node := range model.Nodes {
		b.WriteString(indent + mermaidNodeDef(node) + "\n")
	}

	if len(model.Edges) > 0 {
		b.WriteString("\n")
	}
	for _, edge := range model.Edges {
		label := ""
		if edge.Label != "" {
			label = fmt.Sprintf("|%s|", edge.Label)
		}
		b.WriteString(fmt.Sprintf("%s%s -->%s %s\n", indent, edge.From, label, edge.To))
	}

	if len(model.Classes) > 0 {
		b.WriteString("\n")
	}
	for _, c := range model.Classes {
		b.WriteString(fmt.Sprintf("%s%s %s %s\n", indent, classDefKeyword, c.Name, c.Raw))
	}

	return strings.TrimRight(b.String(), "\n")
}

// mermaidNodeDef returns a node definition with the delimiters for its shape.
func mermaidNodeDef(node *Node) string {
	open, closing := "[", "]"
	for _, d := range shapeTable {
		if d.shape == node.Shape {
			open, closing = d.open, d.close
			break
		}
	}

	def := fmt.Sprintf("%s%s%s%s", node.ID, open, mermaidQuoteLabel(firstLine(node.Label)), closing)
	if node.Class != "" {
		def += classSeparator + node.Class
	}
	return def
}

// mermaidQuoteLabel wraps a label in double quotes. Embedded quotes have no
// escape in flowchart syntax, so they are replaced with the #quot; entity.
func mermaidQuoteLabel(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, "#quot;") + `"`
}
