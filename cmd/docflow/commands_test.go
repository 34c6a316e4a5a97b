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

	"github.com/petrijr/docflow/pkg/api"
)

const testDefinitions = `
definitions:
  - id: ingest
    kind: pipeline
    nodes:
      - step_type: dedup
      - step_type: rule-filter
        config:
          min_tokens: 2
      - step_type: embed
`

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func memoryConfig(t *testing.T) (cfgPath, dir string) {
	t.Helper()
	dir = t.TempDir()
	defs := writeFile(t, dir, "definitions.yaml", testDefinitions)
	cfgPath = writeFile(t, dir, "docflow.toml", `
[cleanup]
enabled = false

[storage]
backend = "memory"
data_dir = "`+filepath.ToSlash(dir)+`"

[logging]
level = "error"

[definitions]
path = "`+filepath.ToSlash(defs)+`"
`)
	return cfgPath, dir
}

func TestConfigSample(t *testing.T) {
	out, err := execute(t, "config", "sample")
	require.NoError(t, err)
	assert.Contains(t, out, "[queue]")
	assert.Contains(t, out, "[storage]")
}

func TestDefinitionsValidate(t *testing.T) {
	dir := t.TempDir()
	good := writeFile(t, dir, "good.yaml", testDefinitions)

	out, err := execute(t, "definitions", "validate", good, "--json")
	require.NoError(t, err)
	var defs []api.Definition
	require.NoError(t, json.Unmarshal([]byte(out), &defs))
	require.Len(t, defs, 1)
	assert.Equal(t, "ingest", defs[0].ID)

	bad := writeFile(t, dir, "bad.yaml", strings.Replace(testDefinitions, "step_type: embed", "step_type: translate", 1))
	_, err = execute(t, "definitions", "validate", bad)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "translate")
}

func TestRunCommand(t *testing.T) {
	cfgPath, dir := memoryConfig(t)
	items := writeFile(t, dir, "items.txt", strings.Join([]string{
		"The quick brown fox",
		"the quick  brown fox",
		"short",
		`{"id":"j-1","content":"A JSON encoded item"}`,
		"",
	}, "\n"))

	out, err := execute(t, "--config", cfgPath, "--json", "run", "ingest", items, "--execution-id", "run-1")
	require.NoError(t, err)

	var res struct {
		Execution api.Execution `json:"execution"`
		Items     []api.Item    `json:"items"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, "run-1", res.Execution.ID)
	assert.Equal(t, api.ExecutionCompleted, res.Execution.Status)
	require.Len(t, res.Items, 2)
	assert.Equal(t, "item-1", res.Items[0].ID)
	assert.Equal(t, "j-1", res.Items[1].ID)
	assert.Equal(t, 2, res.Execution.Metrics.ItemsProcessed)
}

func TestRunCommand_UnknownDefinition(t *testing.T) {
	cfgPath, dir := memoryConfig(t)
	items := writeFile(t, dir, "items.txt", "hello world\n")

	_, err := execute(t, "--config", cfgPath, "run", "missing", items)
	require.Error(t, err)
}

func TestReadItems(t *testing.T) {
	items, err := readItems(strings.NewReader("plain line\n\n{\"content\":\"x y\",\"metadata\":{\"k\":\"v\"}}\n"))
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "plain line", items[0].Content)
	assert.Equal(t, "item-2", items[1].ID)
	assert.Equal(t, "v", items[1].Metadata["k"])

	_, err = readItems(strings.NewReader("{not json\n"))
	require.Error(t, err)
}
