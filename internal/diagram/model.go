package diagram

// Direction is the layout orientation declared on the graph line.
type Direction string

const (
	DirectionTD Direction = "TD"
	DirectionTB Direction = "TB"
	DirectionLR Direction = "LR"
	DirectionRL Direction = "RL"
	DirectionBT Direction = "BT"
)

// Shape is the node outline selected by the delimiters around its label.
type Shape string

const (
	ShapeRect       Shape = "rect"       // A[label]
	ShapeRound      Shape = "round"      // A(label)
	ShapeDiamond    Shape = "diamond"    // A{label}
	ShapeCircle     Shape = "circle"     // A((label))
	ShapeStadium    Shape = "stadium"    // A([label])
	ShapeSubroutine Shape = "subroutine" // A[[label]]
	ShapeHexagon    Shape = "hexagon"    // A{{label}}
	ShapeCylinder   Shape = "cylinder"   // A[(label)]
	ShapeAsymmetric Shape = "asymmetric" // A>label]
)

// DiagramModel is the intermediate representation used by all renderers.
type DiagramModel struct {
	Title     string
	Direction Direction
	Nodes     []*Node
	Edges     []Edge
	Classes   []*ClassStyle
	Levels    [][]string
}

// Node represents a single flowchart node.
type Node struct {
	ID    string
	Label string
	Shape Shape
	Class string
}

// Edge represents a directed connection between two nodes.
type Edge struct {
	From  string
	To    string
	Label string
}

// ClassStyle is a parsed classDef rule.
type ClassStyle struct {
	Name        string
	Fill        string
	Stroke      string
	StrokeWidth string
	Color       string
	FontWeight  string
	// Raw is the property list exactly as declared.
	Raw string
}

// Node returns the node with the given ID, or nil.
func (m *DiagramModel) Node(id string) *Node {
	for _, n := range m.Nodes {
		if n.ID == id {
			return n
		}
	}
	return nil
}

// Class returns the class style with the given name, or nil.
func (m *DiagramModel) Class(name string) *ClassStyle {
	for _, c := range m.Classes {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// computeLevels assigns every node to a layer by longest path from a root.
// Nodes on cycles that never become ready are placed on a final layer.
func computeLevels(nodes []*Node, edges []Edge) [][]string {
	indegree := make(map[string]int, len(nodes))
	out := make(map[string][]string, len(nodes))
	for _, n := range nodes {
		indegree[n.ID] = 0
	}
	for _, e := range edges {
		if e.From == e.To {
			continue
		}
		out[e.From] = append(out[e.From], e.To)
		indegree[e.To]++
	}

	level := make(map[string]int, len(nodes))
	var queue []string
	for _, n := range nodes {
		if indegree[n.ID] == 0 {
			queue = append(queue, n.ID)
		}
	}

	placed := make(map[string]bool, len(nodes))
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		placed[id] = true
		for _, next := range out[id] {
			if level[id]+1 > level[next] {
				level[next] = level[id] + 1
			}
			indegree[next]--
			if indegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}

	depth := 0
	for _, l := range level {
		if l+1 > depth {
			depth = l + 1
		}
	}
	levels := make([][]string, depth)
	var cyclic []string
	for _, n := range nodes {
		if !placed[n.ID] {
			cyclic = append(cyclic, n.ID)
			continue
		}
		levels[level[n.ID]] = append(levels[level[n.ID]], n.ID)
	}
	if len(cyclic) > 0 {
		levels = append(levels, cyclic)
	}

	// Drop layers left empty by unplaced nodes.
	compact := levels[:0]
	for _, l := range levels {
		if len(l) > 0 {
			compact = append(compact, l)
		}
	}
	return compact
}
