package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// localConfig writes a config for a SQLite database in a temp directory
// and returns its path. rules is YAML for local.rules, or empty.
func localConfig(t *testing.T, rules string) string {
	t.Helper()
	dir := t.TempDir()
	cfg := "environment: test\nbackend: local\nworkers: 1\nlocal:\n  path: " + filepath.Join(dir, "care.db") + "\n"
	if rules != "" {
		cfg += "  rules:\n" + rules
	}
	path := filepath.Join(dir, "carelink.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o644))
	return path
}

// execute runs the CLI with args and returns stdout, stderr and the error.
func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	cmd := NewRootCommand()
	out := &bytes.Buffer{}
	errOut := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), errOut.String(), err
}
