package diagram

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/goccy/go-graphviz"
	"github.com/goccy/go-graphviz/cgraph"
)

// RenderSVG lays out the model with graphviz and returns SVG bytes.
func RenderSVG(ctx context.Context, model *DiagramModel) ([]byte, error) {
	return renderGraphviz(ctx, model, graphviz.SVG)
}

// RenderPNG lays out the model with graphviz and returns PNG bytes.
func RenderPNG(ctx context.Context, model *DiagramModel) ([]byte, error) {
	return renderGraphviz(ctx, model, graphviz.PNG)
}

func renderGraphviz(ctx context.Context, model *DiagramModel, format graphviz.Format) ([]byte, error) {
	gv, err := graphviz.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("diagram: create graphviz: %w", err)
	}
	defer gv.Close()

	gv.SetLayout(graphviz.DOT)

	graph, err := gv.Graph()
	if err != nil {
		return nil, fmt.Errorf("diagram: create graph: %w", err)
	}
	defer graph.Close()

	graph.SetRankDir(rankDir(model.Direction))
	if model.Title != "" {
		graph.SetLabel(model.Title)
	}

	gvNodes := make(map[string]*cgraph.Node, len(model.Nodes))
	for _, node := range model.Nodes {
		gvNode, nErr := graph.CreateNodeByName(node.ID)
		if nErr != nil {
			return nil, fmt.Errorf("diagram: create node %s: %w", node.ID, nErr)
		}
		gvNode.SetLabel(firstLine(node.Label))
		applyNodeShape(gvNode, node.Shape)
		if style := model.Class(node.Class); style != nil {
			applyClassStyle(gvNode, node.Shape, style)
		}
		gvNodes[node.ID] = gvNode
	}

	for i, edge := range model.Edges {
		fromGV, toGV := gvNodes[edge.From], gvNodes[edge.To]
		if fromGV == nil || toGV == nil {
			return nil, fmt.Errorf("diagram: edge %s -> %s references unknown node", edge.From, edge.To)
		}
		e, eErr := graph.CreateEdgeByName(fmt.Sprintf("e%d", i), fromGV, toGV)
		if eErr != nil {
			return nil, fmt.Errorf("diagram: create edge %s -> %s: %w", edge.From, edge.To, eErr)
		}
		if edge.Label != "" {
			e.SetLabel(edge.Label)
		}
	}

	var buf bytes.Buffer
	if err := gv.Render(ctx, graph, format, &buf); err != nil {
		return nil, fmt.Errorf("diagram: render %s: %w", format, err)
	}
	return buf.Bytes(), nil
}

func rankDir(d Direction) cgraph.RankDir {
	switch d {
	case DirectionLR:
		return cgraph.LRRank
	case DirectionRL:
		return cgraph.RLRank
	case DirectionBT:
		return cgraph.BTRank
	default:
		return cgraph.TBRank
	}
}

// applyNodeShape sets the graphviz shape closest to the flowchart shape.
func applyNodeShape(gvNode *cgraph.Node, shape Shape) {
	switch shape {
	case ShapeDiamond:
		gvNode.SetShape(cgraph.DiamondShape)
	case ShapeCircle:
		gvNode.SetShape(cgraph.CircleShape)
	case ShapeHexagon:
		gvNode.SetShape(cgraph.HexagonShape)
	case ShapeCylinder:
		gvNode.SetShape(cgraph.CylinderShape)
	case ShapeAsymmetric:
		gvNode.SetShape(cgraph.Shape("cds"))
	case ShapeRound, ShapeStadium:
		gvNode.SetShape(cgraph.BoxShape)
		gvNode.SetStyle(cgraph.RoundedNodeStyle)
	case ShapeSubroutine:
		gvNode.SetShape(cgraph.Shape("box"))
		gvNode.SetPeripheries(2)
	default:
		gvNode.SetShape(cgraph.BoxShape)
	}
}

// applyClassStyle maps classDef properties onto graphviz attributes.
func applyClassStyle(gvNode *cgraph.Node, shape Shape, style *ClassStyle) {
	if style.Fill != "" {
		styles := []string{string(cgraph.FilledNodeStyle)}
		if shape == ShapeRound || shape == ShapeStadium {
			styles = append(styles, string(cgraph.RoundedNodeStyle))
		}
		gvNode.SetStyle(cgraph.NodeStyle(strings.Join(styles, ",")))
		gvNode.SetFillColor(expandHex(style.Fill))
	}
	if style.Stroke != "" {
		gvNode.SetColor(expandHex(style.Stroke))
	}
	if w := strings.TrimSuffix(style.StrokeWidth, "px"); w != "" {
		if f, err := strconv.ParseFloat(w, 64); err == nil {
			gvNode.SetPenWidth(f)
		}
	}
	if style.Color != "" {
		gvNode.SetFontColor(expandHex(style.Color))
	}
	if style.FontWeight == "bold" {
		gvNode.SetFontName("Helvetica-Bold")
	}
}

// expandHex turns CSS shorthand "#fff" into "#ffffff"; graphviz only accepts
// the long form.
func expandHex(c string) string {
	if len(c) != 4 || c[0] != '#' {
		return c
	}
	return "#" + strings.Repeat(c[1:2], 2) + strings.Repeat(c[2:3], 2) + strings.Repeat(c[3:4], 2)
}
