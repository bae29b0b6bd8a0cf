package harness

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/roach88/carelink/internal/backend"
)

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
	Trace    []TraceEvent
}

func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		buf.WriteString(indent(FormatTrace(e.Trace), "  "))
	}
	return buf.String()
}

func indent(s, prefix string) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	for i, l := range lines {
		lines[i] = prefix + l
	}
	return strings.Join(lines, "\n") + "\n"
}

// EvaluateAssertions checks every assertion and returns one message per
// failure.
func EvaluateAssertions(h *Harness, assertions []Assertion) []string {
	var errs []string
	for i, a := range assertions {
		var err error
		switch a.Type {
		case AssertState:
			err = h.assertState(a)
		case AssertEmitted:
			err = h.assertEmitted(a)
		case AssertListeners:
			err = h.assertListeners(a)
		case AssertStored:
			err = h.assertStored(a)
		default:
			err = fmt.Errorf("unknown assertion type %q", a.Type)
		}
		if err != nil {
			errs = append(errs, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return errs
}

func (h *Harness) assertState(a Assertion) error {
	r, ok := h.readers[a.Subscription]
	if !ok {
		return fmt.Errorf("unknown subscription %q", a.Subscription)
	}
	v := r.view()
	exp := a.Expect
	fail := func(expected, actual string) error {
		return &AssertionError{
			Type:     AssertState,
			Expected: fmt.Sprintf("%s: %s", a.Subscription, expected),
			Actual:   actual,
			Trace:    h.result.Trace,
		}
	}

	if exp.Loading != nil && v.loading != *exp.Loading {
		return fail(fmt.Sprintf("loading=%t", *exp.Loading), render(v))
	}
	if exp.NoTarget != nil && v.noTarget != *exp.NoTarget {
		return fail(fmt.Sprintf("no_target=%t", *exp.NoTarget), render(v))
	}
	if exp.IDs != nil {
		want := *exp.IDs
		got := v.ids
		if !v.present {
			got = nil
		}
		if strings.Join(want, ",") != strings.Join(got, ",") || (len(want) == 0 && !v.present) {
			return fail(fmt.Sprintf("ids=[%s]", strings.Join(want, ",")), render(v))
		}
	}
	if exp.Missing != nil && v.present == *exp.Missing {
		return fail(fmt.Sprintf("missing=%t", *exp.Missing), render(v))
	}
	if exp.Data != nil {
		if !v.present {
			return fail("document data", render(v))
		}
		if key, ok := subsetMatch(v.fields, exp.Data); !ok {
			return fail(fmt.Sprintf("field %q = %s", key, jsonOf(exp.Data[key])), render(v))
		}
	}
	switch exp.Error {
	case "":
	case "none":
		if v.code != "" {
			return fail("no error", render(v))
		}
	default:
		if string(v.code) != exp.Error {
			return fail("error="+exp.Error, render(v))
		}
	}
	return nil
}

func (h *Harness) assertEmitted(a Assertion) error {
	count := 0
	for _, pe := range h.emitted {
		if a.Operation != "" && string(pe.Operation) != a.Operation {
			continue
		}
		if a.Path != "" && pe.Path != a.Path {
			continue
		}
		if a.Code != "" && string(pe.Code) != a.Code {
			continue
		}
		count++
	}

	switch {
	case a.Count != nil && count != *a.Count:
	case a.Count == nil && count == 0:
	default:
		return nil
	}

	want := "at least 1"
	if a.Count != nil {
		want = fmt.Sprint(*a.Count)
	}
	return &AssertionError{
		Type:     AssertEmitted,
		Expected: fmt.Sprintf("%s failures matching %s", want, describeFilter(a)),
		Actual:   fmt.Sprintf("%d matching of %d emitted", count, len(h.emitted)),
		Trace:    h.result.Trace,
	}
}

func describeFilter(a Assertion) string {
	var parts []string
	if a.Operation != "" {
		parts = append(parts, "operation="+a.Operation)
	}
	if a.Path != "" {
		parts = append(parts, "path="+a.Path)
	}
	if a.Code != "" {
		parts = append(parts, "code="+a.Code)
	}
	if len(parts) == 0 {
		return "any"
	}
	return strings.Join(parts, " ")
}

func (h *Harness) assertListeners(a Assertion) error {
	got := h.scope.Listeners()
	if got == *a.Count {
		return nil
	}
	return &AssertionError{
		Type:     AssertListeners,
		Expected: fmt.Sprintf("%d active listeners", *a.Count),
		Actual:   fmt.Sprintf("%d active listeners", got),
	}
}

func (h *Harness) assertStored(a Assertion) error {
	if h.local == nil {
		return fmt.Errorf("stored requires the local backend")
	}
	doc, err := h.local.Get(context.Background(), a.Path)
	if err != nil {
		return fmt.Errorf("read %s: %w", a.Path, err)
	}

	fail := func(expected, actual string) error {
		return &AssertionError{Type: AssertStored, Expected: expected, Actual: actual}
	}
	if a.Missing {
		if doc.Exists {
			return fail(a.Path+" missing", jsonOf(doc.Data))
		}
		return nil
	}
	if !doc.Exists {
		return fail(a.Path+" stored", "missing")
	}
	if key, ok := subsetMatch(doc.Data, a.Data); !ok {
		return fail(fmt.Sprintf("%s field %q = %s", a.Path, key, jsonOf(a.Data[key])), jsonOf(doc.Data))
	}
	return nil
}

// subsetMatch reports whether actual holds every expected field. Values
// are compared in their JSON form, so YAML integers match decoded numbers.
// On mismatch it returns the first differing key in sorted order.
func subsetMatch(actual backend.Fields, expected map[string]any) (string, bool) {
	keys := make([]string, 0, len(expected))
	for k := range expected {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		got, ok := actual[k]
		if !ok || jsonOf(got) != jsonOf(expected[k]) {
			return k, false
		}
	}
	return "", true
}

func jsonOf(v any) string {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(raw)
}
