package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const scenariosDir = "../harness/testdata/scenarios"

func TestTestCommand_Passes(t *testing.T) {
	out, _, err := execute(t, "test", scenariosDir)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ local_rules")
	assert.Contains(t, out, "✓ All scenarios passed")
}

func TestTestCommand_FilterJSON(t *testing.T) {
	out, _, err := execute(t, "--format", "json", "test", scenariosDir, "--filter", "local_*")
	require.NoError(t, err)

	var resp struct {
		Status string     `json:"status"`
		Data   TestResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 1, resp.Data.Total)
	require.Len(t, resp.Data.Scenarios, 1)
	assert.Equal(t, "local_rules", resp.Data.Scenarios[0].Name)
	assert.True(t, resp.Data.Scenarios[0].Pass)
}

func TestTestCommand_UpdateThenCompare(t *testing.T) {
	golden := t.TempDir()

	out, _, err := execute(t, "test", scenariosDir, "--golden", golden, "--filter", "shared_*", "--update")
	require.NoError(t, err)
	assert.Contains(t, out, "✓ shared_listener (golden updated)")

	written, err := os.ReadFile(filepath.Join(golden, "shared_listener.golden"))
	require.NoError(t, err)
	recorded, err := os.ReadFile("../harness/testdata/golden/shared_listener.golden")
	require.NoError(t, err)
	assert.Equal(t, string(recorded), string(written))

	_, _, err = execute(t, "test", scenariosDir, "--golden", golden, "--filter", "shared_*")
	require.NoError(t, err)
}

func TestTestCommand_GoldenMismatch(t *testing.T) {
	golden := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(golden, "shared_listener.golden"), []byte("# shared_listener\n"), 0o644))

	out, _, err := execute(t, "test", scenariosDir, "--golden", golden, "--filter", "shared_*")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ shared_listener")
	assert.Contains(t, out, "does not match golden file")
}

func TestTestCommand_FailedAssertion(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "scenarios")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	scenario := `name: wrong_count
description: "Expects more listeners than exist"
subscribe:
  - name: doctor
    document: doctors/d1
assertions:
  - type: listeners
    count: 5
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "wrong_count.yaml"), []byte(scenario), 0o644))

	out, _, err := execute(t, "test", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ wrong_count")
	assert.Contains(t, out, "1 failed")
}

func TestTestCommand_MissingDir(t *testing.T) {
	_, _, err := execute(t, "test", filepath.Join(t.TempDir(), "nope"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestTestCommand_NoScenarios(t *testing.T) {
	out, _, err := execute(t, "test", t.TempDir())
	require.NoError(t, err)
	assert.Contains(t, out, "No scenarios found.")
}
