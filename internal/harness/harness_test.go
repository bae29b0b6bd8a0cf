package harness

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/carelink/internal/backend"
)

func TestScenarios(t *testing.T) {
	files, err := filepath.Glob("testdata/scenarios/*.yaml")
	require.NoError(t, err)
	require.NotEmpty(t, files)

	for _, file := range files {
		name := strings.TrimSuffix(filepath.Base(file), ".yaml")
		t.Run(name, func(t *testing.T) {
			scenario, err := LoadScenario(file)
			require.NoError(t, err)
			require.Equal(t, name, scenario.Name, "scenario name must match its file")
			require.NoError(t, RunWithGolden(t, scenario))
		})
	}
}

func TestRun_DeterministicTrace(t *testing.T) {
	scenario, err := LoadScenario("testdata/scenarios/local_rules.yaml")
	require.NoError(t, err)

	first, err := Run(scenario)
	require.NoError(t, err)
	second, err := Run(scenario)
	require.NoError(t, err)

	assert.Equal(t, FormatTrace(first.Trace), FormatTrace(second.Trace))
	assert.True(t, first.Pass, first.Errors)
}

func TestRun_FailedAssertionsAreReported(t *testing.T) {
	scenario, err := ParseScenario([]byte(`
name: wrong_expectations
description: "Every assertion here is false"
subscribe:
  - name: pending
    query: { collection: consultationRequests }
steps:
  - push: pending
    docs:
      - { path: consultationRequests/r1, data: { status: pending } }
assertions:
  - type: state
    subscription: pending
    expect: { ids: [r2] }
  - type: emitted
  - type: listeners
    count: 3
`))
	require.NoError(t, err)

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 3)
	assert.Contains(t, result.Errors[0], "ids=[r2]")
	assert.Contains(t, result.Errors[0], "docs=[r1]")
	assert.Contains(t, result.Errors[1], "0 matching of 0 emitted")
	assert.Contains(t, result.Errors[2], "3 active listeners")
	assert.Equal(t, "docs=[r1]", result.State["pending"])
}

func TestRun_NoTargetSubscription(t *testing.T) {
	scenario, err := ParseScenario([]byte(`
name: no_target
description: "An empty document path never listens"
subscribe:
  - name: nothing
assertions:
  - type: state
    subscription: nothing
    expect: { no_target: true, loading: false, error: none }
  - type: listeners
    count: 0
`))
	require.NoError(t, err)

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, result.Errors)
	assert.Equal(t, "none", result.State["nothing"])
}

func TestRun_AddUsesGeneratedPath(t *testing.T) {
	scenario, err := ParseScenario([]byte(`
name: add_request
description: "Add stores a document under a generated id"
backend: local
subscribe:
  - name: all
    query: { collection: consultationRequests }
steps:
  - write: add
    path: consultationRequests
    data: { status: pending }
assertions:
  - type: state
    subscription: all
    expect: { ids: [doc-1] }
  - type: stored
    path: consultationRequests/doc-1
    data: { status: pending }
`))
	require.NoError(t, err)

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, result.Errors)
	assert.Contains(t, FormatTrace(result.Trace), "step 1: write add consultationRequests -> consultationRequests/doc-1\n")
}

func TestParseScenario_Invalid(t *testing.T) {
	base := `
name: s
description: d
subscribe:
  - name: a
    document: doctors/d1
`
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"missing name", "description: d\n", "name is required"},
		{"unknown field", base + "assertion: []\n", "failed to parse YAML"},
		{"no assertions", base, "assertions list is required"},
		{"unknown backend", base + "backend: mongo\nassertions: [{type: emitted}]\n", "backend must be fake or local"},
		{"seed on fake", base + "seed: [{path: a/b}]\nassertions: [{type: emitted}]\n", "require the local backend"},
		{"two actions", base + "steps: [{close: a, push: a}]\nassertions: [{type: emitted}]\n", "exactly one action"},
		{"unknown subscription", base + "steps: [{close: b}]\nassertions: [{type: emitted}]\n", `unknown subscription "b"`},
		{"bad write op", base + "steps: [{write: upsert, path: a/b}]\nassertions: [{type: emitted}]\n", "upsert"},
		{"bad code", base + "steps: [{push: a, error: nope}]\nassertions: [{type: emitted}]\n", `unknown error code "nope"`},
		{"push on local", "name: s\ndescription: d\nbackend: local\nsubscribe: [{name: a, document: d/1}]\nsteps: [{push: a}]\nassertions: [{type: emitted}]\n", "push requires the fake backend"},
		{"set_rules on fake", base + "steps: [{set_rules: []}]\nassertions: [{type: emitted}]\n", "set_rules requires the local backend"},
		{"listeners without count", base + "assertions: [{type: listeners}]\n", "count is required"},
		{"unknown assertion", base + "assertions: [{type: trace_count}]\n", "unknown assertion type"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestRender(t *testing.T) {
	tests := []struct {
		name string
		view view
		want string
	}{
		{"loading", view{loading: true}, "loading"},
		{"no target", view{noTarget: true}, "none"},
		{"docs", view{query: true, present: true, ids: []string{"a", "b"}}, "docs=[a,b]"},
		{"empty docs", view{query: true, present: true, ids: []string{}}, "docs=[]"},
		{"no docs with error", view{query: true, code: backend.CodeInvalidArgument}, "docs=none error=invalid-argument"},
		{"document", view{present: true, ids: []string{"r1"}, fields: map[string]any{"b": 1, "a": "x"}}, `doc=r1 {"a":"x","b":1}`},
		{"missing document", view{}, "doc=missing"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, render(tt.view))
		})
	}
}

func TestSubsetMatch(t *testing.T) {
	actual := backend.Fields{"status": "pending", "slots": float64(3), "address": map[string]any{"city": "Lagos"}}

	_, ok := subsetMatch(actual, map[string]any{"slots": 3, "address": map[string]any{"city": "Lagos"}})
	assert.True(t, ok)

	key, ok := subsetMatch(actual, map[string]any{"status": "accepted", "zip": "1"})
	assert.False(t, ok)
	assert.Equal(t, "status", key)
}

func TestFormatTrace(t *testing.T) {
	r := NewResult()
	r.addStep(0, "subscribe")
	r.addState(0, "a", "loading")
	r.addStep(1, "write delete doctors/d1")
	r.addEmit(1, "delete doctors/d1 permission-denied")

	want := "subscribe\n" +
		"  a: loading\n" +
		"step 1: write delete doctors/d1\n" +
		"  emit: delete doctors/d1 permission-denied\n"
	assert.Equal(t, want, FormatTrace(r.Trace))
}
