package diagram

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// boxCorners holds top-left, top-right, bottom-left and bottom-right runes.
type boxCorners [4]string

var (
	squareCorners  = boxCorners{"┌", "┐", "└", "┘"}
	roundedCorners = boxCorners{"╭", "╮", "╰", "╯"}
	doubleCorners  = boxCorners{"╔", "╗", "╚", "╝"}
)

// RenderASCII renders a DiagramModel as a text diagram. Nodes are drawn level
// by level with box-drawing characters, followed by the edge list so that
// labels and back edges are not lost.
func RenderASCII(model *DiagramModel) string {
	var b strings.Builder

	if model.Title != "" {
		b.WriteString(fmt.Sprintf("=== %s ===\n\n", model.Title))
	}

	for levelIdx, level := range model.Levels {
		var boxes []asciiBox
		for _, nodeID := range level {
			node := model.Node(nodeID)
			if node == nil {
				continue
			}
			boxes = append(boxes, makeBox(node))
		}

		renderBoxRow(&b, boxes)

		if levelIdx < len(model.Levels)-1 {
			renderConnector(&b, len(boxes))
		}
	}

	if len(model.Edges) > 0 {
		b.WriteString("\n--- edges ---\n")
		for _, edge := range model.Edges {
			label := ""
			if edge.Label != "" {
				label = fmt.Sprintf(" [%s]", edge.Label)
			}
			b.WriteString(fmt.Sprintf("  %s ─→ %s%s\n", edge.From, edge.To, label))
		}
	}

	return b.String()
}

type asciiBox struct {
	lines []string
	width int
}

func makeBox(node *Node) asciiBox {
	label := firstLine(node.Label)
	if node.Shape == ShapeDiamond || node.Shape == ShapeHexagon {
		label = "< " + label + " >"
	}
	content := []string{label}
	if node.Class != "" {
		content = append(content, "("+node.Class+")")
	}

	maxLen := 0
	for _, line := range content {
		if n := utf8.RuneCountInString(line); n > maxLen {
			maxLen = n
		}
	}
	width := maxLen + 4 // 2 border + 2 padding

	c := cornersFor(node.Shape)
	horizontal := "─"
	vertical := "│"
	if c == doubleCorners {
		horizontal, vertical = "═", "║"
	}

	lines := []string{c[0] + strings.Repeat(horizontal, width-2) + c[1]}
	for _, text := range content {
		padded := text + strings.Repeat(" ", maxLen-utf8.RuneCountInString(text))
		lines = append(lines, vertical+" "+padded+" "+vertical)
	}
	lines = append(lines, c[2]+strings.Repeat(horizontal, width-2)+c[3])

	return asciiBox{lines: lines, width: width}
}

func cornersFor(shape Shape) boxCorners {
	switch shape {
	case ShapeRound, ShapeStadium, ShapeCircle:
		return roundedCorners
	case ShapeSubroutine, ShapeCylinder:
		return doubleCorners
	default:
		return squareCorners
	}
}

// firstLine returns only the first line of a multi-line label.
func firstLine(s string) string {
	if i := strings.Index(s, "\n"); i >= 0 {
		return s[:i]
	}
	return s
}

func renderBoxRow(b *strings.Builder, boxes []asciiBox) {
	if len(boxes) == 0 {
		return
	}

	maxHeight := 0
	for _, box := range boxes {
		if len(box.lines) > maxHeight {
			maxHeight = len(box.lines)
		}
	}

	for row := 0; row < maxHeight; row++ {
		for i, box := range boxes {
			if i > 0 {
				b.WriteString("  ")
			}
			if row < len(box.lines) {
				b.WriteString(box.lines[row])
			} else {
				b.WriteString(strings.Repeat(" ", box.width))
			}
		}
		b.WriteByte('\n')
	}
}

func renderConnector(b *strings.Builder, boxCount int) {
	if boxCount == 0 {
		return
	}
	b.WriteString("       │\n")
	b.WriteString("       ▼\n")
}
