package diagram

// Default class names, one per semantic role.
const (
	ClassStart    = "startNode"
	ClassProcess  = "processNode"
	ClassDecision = "decisionNode"
	ClassEnd      = "endNode"
	ClassError    = "errorNode"
	ClassSuccess  = "successNode"
)

// defaultPalette must stay byte-identical: saved diagrams reference it.
var defaultPalette = []string{
	"classDef startNode fill:#10b981,stroke:#059669,stroke-width:3px,color:#000,font-weight:bold",
	"classDef processNode fill:#3b82f6,stroke:#1d4ed8,stroke-width:2px,color:#fff,font-weight:500",
	"classDef decisionNode fill:#f59e0b,stroke:#d97706,stroke-width:2px,color:#fff,font-weight:500",
	"classDef endNode fill:#ef4444,stroke:#dc2626,stroke-width:2px,color:#fff,font-weight:bold",
	"classDef errorNode fill:#991b1b,stroke:#7f1d1d,stroke-width:2px,color:#fff,font-weight:500",
	"classDef successNode fill:#22c55e,stroke:#16a34a,stroke-width:2px,color:#000,font-weight:bold",
}

// DefaultPalette returns a copy of the six default class definitions.
func DefaultPalette() []string {
	out := make([]string, len(defaultPalette))
	copy(out, defaultPalette)
	return out
}
