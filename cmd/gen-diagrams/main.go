// gen-diagrams generates sample diagram outputs for README documentation.
// Run: go run ./cmd/gen-diagrams
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rendis/flowsketch/internal/diagram"
)

// sample is the kind of reply the model tends to send back: fenced, with
// semicolons, a fused node pair and a stray sentence.
const sample = "```mermaid\n" +
	"graph TD;\n" +
	"A([\"Order received\"]):::startNodeB[\"Check stock\"]:::processNode\n" +
	"C{\"In stock?\"}:::decisionNode\n" +
	"D[\"Charge card\"]:::processNode\n" +
	"E[\"Notify restock\"]:::processNode\n" +
	"F([\"Ship\"]):::endNode\n" +
	"A-->B;\n" +
	"B --> C\n" +
	"C-->|Yes|D\n" +
	"C -->|No| E\n" +
	"D --> F\n" +
	"Here is your flowchart!\n" +
	"classDef startNode fill:#4CAF50,stroke:#2E7D32,color:#fff\n" +
	"classDef processNode fill:#2196F3,stroke:#1565C0,color:#fff\n" +
	"classDef decisionNode fill:#FF9800,stroke:#E65100,color:#fff\n" +
	"classDef endNode fill:#F44336,stroke:#C62828,color:#fff\n" +
	"```"

func main() {
	src := diagram.Normalize(diagram.StripCodeFence(sample))
	model, err := diagram.ParseFlowchart(src)
	if err != nil {
		fmt.Fprintf(os.Stderr, "parse error: %v\n", err)
		os.Exit(1)
	}

	outDir := filepath.Join("docs", "assets")
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "mkdir: %v\n", err)
		os.Exit(1)
	}

	write := func(name string, data []byte) {
		if err := os.WriteFile(filepath.Join(outDir, name), data, 0o644); err != nil {
			fmt.Fprintf(os.Stderr, "write %s: %v\n", name, err)
		}
	}

	write("sample-source.mmd", []byte(src+"\n"))
	fmt.Println("=== Normalized source ===")
	fmt.Println(src)

	ascii := diagram.RenderASCII(model)
	write("diagram-ascii.txt", []byte(ascii))
	fmt.Println("=== ASCII ===")
	fmt.Println(ascii)

	mermaid := diagram.RenderMermaid(model)
	write("diagram-mermaid.md", []byte("```mermaid\n"+mermaid+"\n```\n"))
	fmt.Println("=== Mermaid ===")
	fmt.Println(mermaid)

	ctx := context.Background()
	if svg, err := diagram.RenderSVG(ctx, model); err != nil {
		fmt.Fprintf(os.Stderr, "svg error: %v\n", err)
	} else {
		write("diagram-sample.svg", svg)
	}
	if png, err := diagram.RenderPNG(ctx, model); err != nil {
		fmt.Fprintf(os.Stderr, "image error: %v\n", err)
	} else {
		pngPath := filepath.Join(outDir, "diagram-sample.png")
		write("diagram-sample.png", png)
		fmt.Printf("=== Image (PNG) ===\nWritten: %s (%d bytes)\n", pngPath, len(png))
	}
}
