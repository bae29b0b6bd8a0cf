package cli

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const doctorsReadOnly = `    - match: doctors/{id}
      allow: [read]
    - match: consultationRequests/{id}
      allow: [read, write]
`

func TestWrite_Accepted(t *testing.T) {
	cfg := localConfig(t, "")

	out, _, err := execute(t, "--config", cfg, "write", "create", "consultationRequests/r1", `{"status":"pending"}`)
	require.NoError(t, err)
	assert.Equal(t, "create consultationRequests/r1: ok\n", out)

	out, _, err = execute(t, "--config", cfg, "watch", "doc", "consultationRequests/r1", "--once")
	require.NoError(t, err)
	assert.Contains(t, out, `doc:consultationRequests/r1: r1 {"status":"pending"}`)
}

func TestWrite_Refused(t *testing.T) {
	cfg := localConfig(t, doctorsReadOnly)

	out, _, err := execute(t, "--config", cfg, "write", "set", "doctors/d1", `{"name":"Dr. Adeyemi"}`)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, err.Error(), "permission-denied")
	assert.Contains(t, out, "Error [E400]")
	assert.Contains(t, out, "Missing or insufficient permissions")
	assert.Contains(t, out, "/databases/(default)/documents/doctors/d1")
}

func TestWrite_RefusedJSON(t *testing.T) {
	cfg := localConfig(t, doctorsReadOnly)

	out, _, err := execute(t, "--config", cfg, "--format", "json", "write", "delete", "doctors/d1")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(out)), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeWrite, resp.Error.Code)

	details, ok := resp.Error.Details.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "delete", details["method"])
	assert.Equal(t, "/databases/(default)/documents/doctors/d1", details["path"])
	assert.NotContains(t, details, "request.resource.data")
}

func TestWrite_Add(t *testing.T) {
	cfg := localConfig(t, "")

	out, _, err := execute(t, "--config", cfg, "--format", "json", "write", "add", "consultationRequests", `{"status":"pending"}`)
	require.NoError(t, err)

	var resp struct {
		Status string      `json:"status"`
		Data   WriteResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "add", resp.Data.Kind)
	assert.True(t, strings.HasPrefix(resp.Data.Path, "consultationRequests/"), resp.Data.Path)
}

func TestWrite_UpdateMissingFails(t *testing.T) {
	cfg := localConfig(t, "")

	out, _, err := execute(t, "--config", cfg, "write", "update", "consultationRequests/nope", `{"status":"closed"}`)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "not-found")
}

func TestWrite_CommandErrors(t *testing.T) {
	cfg := localConfig(t, "")

	tests := []struct {
		name string
		args []string
	}{
		{"unknown kind", []string{"--config", cfg, "write", "upsert", "doctors/d1", "{}"}},
		{"bad payload", []string{"--config", cfg, "write", "set", "doctors/d1", "{"}},
		{"delete payload", []string{"--config", cfg, "write", "delete", "doctors/d1", "{}"}},
		{"missing config", []string{"--config", "/nonexistent/carelink.yaml", "write", "set", "doctors/d1", "{}"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := execute(t, tt.args...)
			require.Error(t, err)
			assert.Equal(t, ExitCommandError, GetExitCode(err))
		})
	}
}

func TestWrite_ConfigErrorCode(t *testing.T) {
	out, _, err := execute(t, "--config", "/nonexistent/carelink.yaml", "write", "set", "doctors/d1", "{}")
	require.Error(t, err)
	assert.Contains(t, out, "Error [E100]")
}
