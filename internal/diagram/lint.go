package diagram

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/rendis/flowsketch/pkg/schema"
)

var (
	wellFormedTaggedNode = regexp.MustCompile(`^[A-Z]\[.*\]:::[\w]+$`)
	fusedTag             = regexp.MustCompile(`:::\w+[A-Z]\[`)
	singleLetterNode     = regexp.MustCompile(`^\s*[A-Z]\s*[\[{]`)
)

// Lint reports the syntax problems the renderer most often chokes on. It works
// on the raw text line by line and does not modify it.
func Lint(source string) *schema.ValidationResult {
	res := &schema.ValidationResult{}
	sawGraph := false

	for i, raw := range strings.Split(source, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}
		path := fmt.Sprintf("line %d", i+1)

		if strings.HasPrefix(line, graphKeyword) {
			sawGraph = true
		}

		if strings.Contains(line, classSeparator) && strings.Contains(line, "[") &&
			!wellFormedTaggedNode.MatchString(line) && fusedTag.MatchString(line) {
			res.AddError(path, schema.LintConcatenatedNode, "concatenated node definition detected")
		}

		isNode := strings.ContainsAny(line, "[{") &&
			!strings.Contains(line, arrowToken) &&
			!strings.HasPrefix(line, classDefKeyword)
		if isNode && !singleLetterNode.MatchString(line) {
			res.AddWarning(path, schema.LintInvalidNodeID, "invalid node ID format")
		}

		if strings.Contains(line, ";") {
			res.AddError(path, schema.LintSemicolon, "semicolons are not allowed")
		}
	}

	if !sawGraph && strings.TrimSpace(source) != "" {
		res.AddWarning("line 1", schema.LintMissingGraph, "missing graph declaration")
	}
	return res
}
