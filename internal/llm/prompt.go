package llm

import (
	"context"
	"strings"

	"github.com/rendis/flowsketch/internal/diagram"
	"github.com/rendis/flowsketch/pkg/schema"
)

const promptRules = `CRITICAL SYNTAX REQUIREMENTS:
1. Return ONLY the mermaid code without any explanation or markdown formatting
2. Start with "graph TD" (top-down) or "graph LR" (left-right)
3. Use SINGLE LETTER node IDs: A, B, C, D, E, F, G, H, etc.
4. Use square brackets for process nodes: A["Label text"]
5. Use curly braces for decision nodes: B{"Question?"}
6. ALWAYS add space before and after arrows: A --> B
7. Add CSS classes using :::className syntax with proper spacing
8. NO SEMICOLONS anywhere in the diagram
9. Each connection must be on its own line
10. Node IDs must be single letters followed by proper spacing
11. NEVER concatenate node IDs with brackets or braces
12. ALWAYS separate node definitions from connections

CORRECT SYNTAX EXAMPLES:
- Process node: A["Start Process"]:::startNode
- Decision node: B{"Is Valid?"}:::decisionNode
- Connection: A --> B
- Conditional: B -->|Yes| C["Success"]:::successNode
- Conditional: B -->|No| D["Error"]:::errorNode

REQUIRED PROFESSIONAL COLOR CLASSES:
- startNode: Emerald green for start points
- processNode: Professional blue for main processes
- decisionNode: Amber orange for decision points
- endNode: Clean red for endpoints
- errorNode: Dark red for error handling
- successNode: Bright green for success states

EXAMPLE FORMAT:
graph TD
    A["Start Process"]:::startNode
    B["Validate Input"]:::processNode
    C{"Valid?"}:::decisionNode
    D["Process Data"]:::processNode
    E["Show Error"]:::errorNode
    F["Success"]:::successNode
    G["End"]:::endNode

    A --> B
    B --> C
    C -->|Yes| D
    C -->|No| E
    D --> F
    E --> G
    F --> G

`

// BuildPrompt wraps a user description in the instructions that steer the
// model toward source the normalizer and renderer accept.
func BuildPrompt(description string) string {
	var b strings.Builder
	b.WriteString("Create a professional, colorful mermaid.js flowchart diagram based on this description: \"")
	b.WriteString(strings.TrimSpace(description))
	b.WriteString("\".\n\n")
	b.WriteString(promptRules)
	for _, def := range diagram.DefaultPalette() {
		b.WriteString("    ")
		b.WriteString(def)
		b.WriteByte('\n')
	}
	b.WriteString("\nGenerate the professional flowchart now:")
	return b.String()
}

// Flowchart asks g for a diagram matching description and returns it fenced
// off and normalized. An empty description is a validation error; an empty
// model reply is an upstream error.
func Flowchart(ctx context.Context, g Generator, description string) (string, error) {
	if strings.TrimSpace(description) == "" {
		return "", schema.NewError(schema.ErrCodeValidation, "prompt is required")
	}

	text, err := g.Generate(ctx, BuildPrompt(description))
	if err != nil {
		return "", err
	}

	text = diagram.StripCodeFence(text)
	if text == "" {
		return "", schema.NewError(schema.ErrCodeUpstream, "model returned an empty response")
	}
	return diagram.Normalize(text), nil
}
