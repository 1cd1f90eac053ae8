package diagram

import (
	"bytes"
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decisionModel(t *testing.T) *DiagramModel {
	t.Helper()
	src := `graph TD
    A(["Start"]):::startNode
    B{"Approved?"}:::decisionNode
    C["Ship it"]:::successNode
    D[[Rework]]:::errorNode

    A --> B
    B -->|Yes| C
    B -->|No| D
    D --> B

    ` + defaultPalette[0] + `
    ` + defaultPalette[2] + `
    ` + defaultPalette[4] + `
    ` + defaultPalette[5]
	model, err := ParseFlowchart(src)
	require.NoError(t, err)
	return model
}

func TestRenderASCII(t *testing.T) {
	model := decisionModel(t)
	model.Title = "Release"

	out := RenderASCII(model)
	assert.Contains(t, out, "=== Release ===")
	assert.Contains(t, out, "╭")
	assert.Contains(t, out, "< Approved? >")
	assert.Contains(t, out, "╔")
	assert.Contains(t, out, "(successNode)")
	assert.Contains(t, out, "B ─→ C [Yes]")
	assert.Contains(t, out, "D ─→ B")
	assert.Contains(t, out, "▼")
}

func TestRenderASCII_Empty(t *testing.T) {
	assert.Empty(t, RenderASCII(&DiagramModel{}))
}

func TestRenderMermaid_RoundTrip(t *testing.T) {
	model := decisionModel(t)

	out := RenderMermaid(model)
	assert.Contains(t, out, `    A(["Start"]):::startNode`)
	assert.Contains(t, out, `    B -->|Yes| C`)

	again, err := ParseFlowchart(out)
	require.NoError(t, err)
	if diff := cmp.Diff(model, again); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestRenderMermaid_IsNormalized(t *testing.T) {
	out := RenderMermaid(decisionModel(t))
	assert.Equal(t, out, Normalize(out))
}

func TestRenderMermaid_QuotesLabels(t *testing.T) {
	model := &DiagramModel{Nodes: []*Node{{ID: "A", Label: `say "hi"`, Shape: ShapeRect}}}
	assert.Equal(t, "graph TD\n    A[\"say #quot;hi#quot;\"]", RenderMermaid(model))
}

func TestRenderPNG(t *testing.T) {
	png, err := RenderPNG(context.Background(), decisionModel(t))
	require.NoError(t, err)
	require.Greater(t, len(png), 8)
	assert.Equal(t, []byte{0x89, 'P', 'N', 'G'}, png[:4])
}

func TestRenderSVG(t *testing.T) {
	svg, err := RenderSVG(context.Background(), decisionModel(t))
	require.NoError(t, err)
	assert.True(t, bytes.Contains(svg, []byte("<svg")))
	assert.True(t, bytes.Contains(svg, []byte("Approved?")))
	assert.True(t, bytes.Contains(svg, []byte("#10b981")))
}

func TestRenderSVG_UnknownEdgeNode(t *testing.T) {
	model := &DiagramModel{
		Nodes: []*Node{{ID: "A", Label: "A", Shape: ShapeRect}},
		Edges: []Edge{{From: "A", To: "Z"}},
	}
	_, err := RenderSVG(context.Background(), model)
	assert.Error(t, err)
}

func TestExpandHex(t *testing.T) {
	assert.Equal(t, "#ffffff", expandHex("#fff"))
	assert.Equal(t, "#10b981", expandHex("#10b981"))
	assert.Equal(t, "red", expandHex("red"))
}
