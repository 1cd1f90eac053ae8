package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/flowsketch/internal/diagram"
	"github.com/rendis/flowsketch/pkg/schema"
)

type cmdResult struct {
	stdout string
	stderr string
	err    error
}

func execute(t *testing.T, stdin string, args ...string) cmdResult {
	t.Helper()
	root := newRootCmd()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(append([]string{"--log-format", "text"}, args...))
	err := root.Execute()
	return cmdResult{stdout: out.String(), stderr: errOut.String(), err: err}
}

const messy = "```mermaid\nA-->B;\nA[\"Start\"]:::startNodeB[\"Next\"]:::processNode\nsome prose\n```"

func TestNormalizeCommand(t *testing.T) {
	isolateHome(t)

	res := execute(t, messy, "normalize")
	require.NoError(t, res.err)
	assert.Equal(t, diagram.Normalize(messy)+"\n", res.stdout)
	assert.Contains(t, res.stderr, "dropped line")

	res = execute(t, messy, "normalize", "--json")
	require.NoError(t, res.err)
	var out struct {
		Flowchart string   `json:"flowchart"`
		Dropped   []string `json:"dropped"`
	}
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &out))
	assert.Equal(t, diagram.Normalize(messy), out.Flowchart)
	assert.Contains(t, out.Dropped, "some prose")
}

func TestNormalizeCommand_File(t *testing.T) {
	isolateHome(t)
	path := filepath.Join(t.TempDir(), "chart.mmd")
	require.NoError(t, os.WriteFile(path, []byte("A --> B"), 0o600))

	res := execute(t, "", "normalize", path)
	require.NoError(t, res.err)
	assert.Equal(t, diagram.Normalize("A --> B")+"\n", res.stdout)

	res = execute(t, "", "normalize", filepath.Join(t.TempDir(), "missing.mmd"))
	assert.Error(t, res.err)
}

func TestRepairCommand(t *testing.T) {
	isolateHome(t)
	src := "graph TD\n" + `A["Start"]:::startNodeB["Next"]:::processNode`

	res := execute(t, src, "repair", "-")
	require.NoError(t, res.err)
	assert.Equal(t, diagram.Repair(src)+"\n", res.stdout)
	assert.Contains(t, res.stdout, `B["Next"]:::processNode`)
}

func TestLintCommand(t *testing.T) {
	isolateHome(t)

	res := execute(t, "graph TD\nA --> B", "lint")
	require.NoError(t, res.err)
	assert.Empty(t, res.stdout)

	res = execute(t, "graph TD\nA --> B;", "lint")
	require.Error(t, res.err)
	assert.Contains(t, res.stdout, "line 2: error "+schema.LintSemicolon)

	res = execute(t, "graph TD\nA --> B;", "lint", "--json")
	require.Error(t, res.err)
	var out schema.ValidationResult
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &out))
	require.Len(t, out.Errors, 1)
	assert.Equal(t, schema.LintSemicolon, out.Errors[0].Code)
}

func TestRenderCommand(t *testing.T) {
	isolateHome(t)

	res := execute(t, "graph LR\nA --> B", "render", "--format", "mermaid")
	require.NoError(t, res.err)
	assert.True(t, strings.HasPrefix(res.stdout, "graph LR\n"), res.stdout)

	path := filepath.Join(t.TempDir(), "chart.txt")
	res = execute(t, "graph TD\nA[\"Start\"] --> B[\"Finish\"]", "render", "-f", "ascii", "-o", path)
	require.NoError(t, res.err)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Finish")
}

func TestRenderCommand_Errors(t *testing.T) {
	isolateHome(t)
	fused := "graph TD\n" + `A["Start"]:::startNodeB["Next"]:::processNode` + "\nA --> B"

	res := execute(t, fused, "render", "--format", "gif")
	assert.ErrorContains(t, res.err, "unknown format")

	res = execute(t, fused, "render", "--format", "mermaid", "--no-repair")
	assert.Error(t, res.err)

	res = execute(t, fused, "render", "--format", "mermaid")
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "Next")
	assert.Contains(t, res.stderr, "rendered from repaired source")
}

func TestGenerateCommand_NoKey(t *testing.T) {
	isolateHome(t)
	t.Setenv("FLOWSKETCH_STORE", "memory")

	res := execute(t, "", "generate", "make", "tea")
	assert.ErrorContains(t, res.err, "API key not configured")
}

func TestKeyCommands(t *testing.T) {
	isolateHome(t)

	res := execute(t, "", "key", "show")
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "no API key configured")

	res = execute(t, "", "key", "set", "not-a-key")
	assert.ErrorContains(t, res.err, "--force")

	res = execute(t, testKey+"\n", "key", "set")
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "AIza")
	assert.NotContains(t, res.stdout, testKey)

	res = execute(t, "", "key", "show")
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "(vault)")
	assert.NotContains(t, res.stdout, testKey)

	res = execute(t, "", "key", "check")
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, `"valid": true`)

	t.Setenv("GEMINI_API_KEY", "short")
	res = execute(t, "", "key", "show")
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "(GEMINI_API_KEY)")
	res = execute(t, "", "key", "check")
	assert.Error(t, res.err)
	t.Setenv("GEMINI_API_KEY", "")

	res = execute(t, "", "key", "delete")
	require.NoError(t, res.err)
	res = execute(t, "", "key", "show")
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "no API key configured")
}

func TestVersionCommand(t *testing.T) {
	isolateHome(t)
	res := execute(t, "", "version")
	require.NoError(t, res.err)
	assert.True(t, strings.HasPrefix(res.stdout, "flowsketch dev"))
}

func TestBadLogLevel(t *testing.T) {
	isolateHome(t)
	res := execute(t, "", "--log-level", "loud", "version")
	assert.ErrorContains(t, res.err, "configure logging")
}
