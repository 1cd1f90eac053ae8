package diagram

import (
	"regexp"
	"strings"
)

// fusedClass matches a class name immediately followed by the next node's
// identifier and shape opener, e.g. "startNodeB[...". The class name is the
// leading alphabetic run; the node identifier is one uppercase letter.
var fusedClass = regexp.MustCompile(`^([a-zA-Z]+)([A-Z][\[{].*)$`)

// SplitConcatenatedNode separates node definitions that were emitted on one
// line with the class tag fused to the next node:
//
//	A["Start"]:::startNodeB["Next"]:::processNode
//
// becomes two lines. Lines without a class separator come back unchanged.
//
// Class names containing digits and multi-letter identifiers are not
// recognized and will mis-split.
func SplitConcatenatedNode(line string) []string {
	parts := strings.Split(line, classSeparator)
	if len(parts) == 1 {
		return []string{line}
	}

	var nodes []string
	current := strings.TrimSpace(parts[0])

	for _, part := range parts[1:] {
		part = strings.TrimSpace(part)
		if m := fusedClass.FindStringSubmatch(part); m != nil {
			nodes = append(nodes, current+classSeparator+m[1])
			current = m[2]
			continue
		}
		nodes = append(nodes, current+classSeparator+part)
		current = ""
	}

	if current != "" {
		nodes = append(nodes, current)
	}
	return nodes
}

// Repair is the second-chance pass run after a render failure. It rebuilds the
// whole document with the same classification as Normalize, so fused node
// definitions anywhere in the source are split onto their own lines.
func Repair(raw string) string {
	return Normalize(raw)
}
