package diagram

import (
	"testing"

	"github.com/rendis/flowsketch/pkg/schema"
	"github.com/stretchr/testify/assert"
)

func issueCodes(issues []schema.ValidationIssue) []string {
	codes := make([]string, 0, len(issues))
	for _, i := range issues {
		codes = append(codes, i.Code)
	}
	return codes
}

func TestLint_Clean(t *testing.T) {
	res := Lint(Normalize(sampleFlowchart))
	assert.True(t, res.Valid())
	assert.Empty(t, res.Warnings)
}

func TestLint_ConcatenatedNode(t *testing.T) {
	res := Lint("graph TD\n" + `A["Start"]:::startNodeB["Next"]:::processNode`)
	assert.False(t, res.Valid())
	assert.Contains(t, issueCodes(res.Errors), schema.LintConcatenatedNode)
	assert.Equal(t, "line 2", res.Errors[0].Path)
}

func TestLint_Semicolon(t *testing.T) {
	res := Lint("graph TD\nA --> B;")
	assert.Equal(t, []string{schema.LintSemicolon}, issueCodes(res.Errors))
}

func TestLint_InvalidNodeID(t *testing.T) {
	res := Lint("graph TD\nstart[Begin]")
	assert.True(t, res.Valid())
	assert.Equal(t, []string{schema.LintInvalidNodeID}, issueCodes(res.Warnings))
}

func TestLint_MissingGraph(t *testing.T) {
	res := Lint("A --> B")
	assert.Equal(t, []string{schema.LintMissingGraph}, issueCodes(res.Warnings))

	empty := Lint("   ")
	assert.Empty(t, empty.Warnings)
	assert.Empty(t, empty.Errors)
}
