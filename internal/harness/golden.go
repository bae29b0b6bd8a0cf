package harness

import (
	"fmt"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"
)

// FormatTrace renders a trace one event per line:
//
//	subscribe
//	  pending: loading
//	step 1: push pending docs=[r1]
//	  pending: docs=[r1]
func FormatTrace(trace []TraceEvent) string {
	var b strings.Builder
	for _, ev := range trace {
		switch ev.Kind {
		case KindStep:
			if ev.Step == 0 {
				fmt.Fprintf(&b, "%s\n", ev.Detail)
			} else {
				fmt.Fprintf(&b, "step %d: %s\n", ev.Step, ev.Detail)
			}
		case KindState:
			fmt.Fprintf(&b, "  %s: %s\n", ev.Subject, ev.Detail)
		case KindEmit:
			fmt.Fprintf(&b, "  emit: %s\n", ev.Detail)
		}
	}
	return b.String()
}

// Snapshot is the golden form of a scenario run.
func Snapshot(name string, result *Result) []byte {
	return []byte("# " + name + "\n" + FormatTrace(result.Trace))
}

// RunWithGolden runs scenario, fails t on assertion errors and compares
// the trace against testdata/golden/{name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) error {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return err
	}
	for _, msg := range result.Errors {
		t.Error(msg)
	}
	AssertGolden(t, scenario.Name, result)
	return nil
}

// AssertGolden compares result's trace against a golden file.
func AssertGolden(t *testing.T, name string, result *Result) {
	t.Helper()

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, Snapshot(name, result))
}
