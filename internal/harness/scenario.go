package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/carelink/internal/backend"
	"github.com/roach88/carelink/internal/backend/localdb"
	"github.com/roach88/carelink/internal/mutation"
	"github.com/roach88/carelink/internal/query"
)

// Backends a scenario can run against.
const (
	BackendFake  = "fake"
	BackendLocal = "local"
)

// Scenario is one recorded interaction with the runtime.
type Scenario struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`

	// Backend is "fake" (pushes are scripted) or "local" (an in-memory
	// SQLite database). Empty means fake.
	Backend string `yaml:"backend,omitempty"`

	Rules []localdb.Rule `yaml:"rules,omitempty"`
	Seed  []Document     `yaml:"seed,omitempty"`

	Subscribe  []Subscription `yaml:"subscribe"`
	Steps      []Step         `yaml:"steps"`
	Assertions []Assertion    `yaml:"assertions"`
}

// Document is a path and its fields.
type Document struct {
	Path string         `yaml:"path"`
	Data map[string]any `yaml:"data"`
}

// Subscription opens a named reader on a document or a query.
type Subscription struct {
	Name     string     `yaml:"name"`
	Document string     `yaml:"document,omitempty"`
	Query    *QuerySpec `yaml:"query,omitempty"`
}

// QuerySpec is the YAML form of a query.
type QuerySpec struct {
	Collection string      `yaml:"collection"`
	Where      []WhereSpec `yaml:"where,omitempty"`
	OrderBy    []OrderSpec `yaml:"order_by,omitempty"`
	Limit      int         `yaml:"limit,omitempty"`
}

// WhereSpec is one filter term.
type WhereSpec struct {
	Field string `yaml:"field"`
	Op    string `yaml:"op"`
	Value any    `yaml:"value"`
}

// OrderSpec is one ordering term; Direction is "asc" (default) or "desc".
type OrderSpec struct {
	Field     string `yaml:"field"`
	Direction string `yaml:"direction,omitempty"`
}

// Build converts q to a query.
func (q QuerySpec) Build() (query.Query, error) {
	out := query.From(q.Collection)
	for i, w := range q.Where {
		op, err := query.ParseOp(w.Op)
		if err != nil {
			return query.Query{}, fmt.Errorf("where[%d]: %w", i, err)
		}
		out = out.Where(w.Field, op, w.Value)
	}
	for i, o := range q.OrderBy {
		switch o.Direction {
		case "", "asc":
			out = out.OrderBy(o.Field, query.Ascending)
		case "desc":
			out = out.OrderBy(o.Field, query.Descending)
		default:
			return query.Query{}, fmt.Errorf("order_by[%d]: direction must be asc or desc, got %q", i, o.Direction)
		}
	}
	if q.Limit > 0 {
		out = out.Limit(q.Limit)
	}
	return out, nil
}

// Step is one action. Exactly one of Push, Write, FailWrites, Retarget,
// Close or SetRules is set.
type Step struct {
	Push    string     `yaml:"push,omitempty"`
	Docs    []Document `yaml:"docs,omitempty"`
	Missing bool       `yaml:"missing,omitempty"`
	Error   string     `yaml:"error,omitempty"`

	Write string         `yaml:"write,omitempty"`
	Path  string         `yaml:"path,omitempty"`
	Data  map[string]any `yaml:"data,omitempty"`

	FailWrites string `yaml:"fail_writes,omitempty"`
	Code       string `yaml:"code,omitempty"`

	Retarget string     `yaml:"retarget,omitempty"`
	Document string     `yaml:"document,omitempty"`
	Query    *QuerySpec `yaml:"query,omitempty"`

	Close    string         `yaml:"close,omitempty"`
	SetRules []localdb.Rule `yaml:"set_rules,omitempty"`
}

func (s Step) actions() []string {
	var out []string
	if s.Push != "" {
		out = append(out, "push")
	}
	if s.Write != "" {
		out = append(out, "write")
	}
	if s.FailWrites != "" {
		out = append(out, "fail_writes")
	}
	if s.Retarget != "" {
		out = append(out, "retarget")
	}
	if s.Close != "" {
		out = append(out, "close")
	}
	if s.SetRules != nil {
		out = append(out, "set_rules")
	}
	return out
}

// Assertion checks the outcome of a scenario.
type Assertion struct {
	// Type is one of state, emitted, listeners, stored.
	Type string `yaml:"type"`

	// Subscription names the reader checked by state.
	Subscription string       `yaml:"subscription,omitempty"`
	Expect       *StateExpect `yaml:"expect,omitempty"`

	// Count is the expected number for emitted and listeners.
	Count *int `yaml:"count,omitempty"`

	// Operation, Path and Code filter emitted failures; Path also names the
	// document checked by stored.
	Operation string `yaml:"operation,omitempty"`
	Path      string `yaml:"path,omitempty"`
	Code      string `yaml:"code,omitempty"`

	// Data is the subset of fields stored must find; Missing expects the
	// document to be absent.
	Data    map[string]any `yaml:"data,omitempty"`
	Missing bool           `yaml:"missing,omitempty"`
}

// StateExpect is a subset match on a subscription state. Unset fields are
// not checked.
type StateExpect struct {
	Loading  *bool     `yaml:"loading,omitempty"`
	NoTarget *bool     `yaml:"no_target,omitempty"`
	IDs      *[]string `yaml:"ids,omitempty"`
	Missing  *bool     `yaml:"missing,omitempty"`
	// Data is a subset of the document's fields.
	Data map[string]any `yaml:"data,omitempty"`
	// Error is the expected error code, or "none".
	Error string `yaml:"error,omitempty"`
}

// Assertion type constants.
const (
	AssertState     = "state"
	AssertEmitted   = "emitted"
	AssertListeners = "listeners"
	AssertStored    = "stored"
)

var knownCodes = map[backend.Code]bool{
	backend.CodeUnknown:          true,
	backend.CodePermissionDenied: true,
	backend.CodeNotFound:         true,
	backend.CodeAlreadyExists:    true,
	backend.CodeInvalidArgument:  true,
	backend.CodeUnavailable:      true,
	backend.CodeCanceled:         true,
	backend.CodeInvalidData:      true,
}

// LoadScenario reads a scenario file. Unknown fields are rejected.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario decodes and validates a scenario document.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	switch s.Backend {
	case "":
		s.Backend = BackendFake
	case BackendFake, BackendLocal:
	default:
		return fmt.Errorf("backend must be fake or local, got %q", s.Backend)
	}
	local := s.Backend == BackendLocal
	if !local && (s.Rules != nil || len(s.Seed) > 0) {
		return fmt.Errorf("rules and seed require the local backend")
	}
	for i, d := range s.Seed {
		if d.Path == "" {
			return fmt.Errorf("seed[%d]: path is required", i)
		}
	}

	if len(s.Subscribe) == 0 {
		return fmt.Errorf("subscribe list is required and must be non-empty")
	}
	names := make(map[string]bool, len(s.Subscribe))
	for i, sub := range s.Subscribe {
		if sub.Name == "" {
			return fmt.Errorf("subscribe[%d]: name is required", i)
		}
		if names[sub.Name] {
			return fmt.Errorf("subscribe[%d]: duplicate name %q", i, sub.Name)
		}
		names[sub.Name] = true
		if sub.Document != "" && sub.Query != nil {
			return fmt.Errorf("subscribe[%d]: document and query are exclusive", i)
		}
	}

	for i, step := range s.Steps {
		if err := validateStep(step, names, local); err != nil {
			return fmt.Errorf("steps[%d]: %w", i, err)
		}
	}

	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}
	for i, a := range s.Assertions {
		if err := validateAssertion(a, names, local); err != nil {
			return fmt.Errorf("assertions[%d]: %w", i, err)
		}
	}
	return nil
}

func validateStep(step Step, names map[string]bool, local bool) error {
	actions := step.actions()
	if len(actions) != 1 {
		return fmt.Errorf("exactly one action is required, got %v", actions)
	}

	switch actions[0] {
	case "push":
		if local {
			return fmt.Errorf("push requires the fake backend")
		}
		if !names[step.Push] {
			return fmt.Errorf("unknown subscription %q", step.Push)
		}
		if step.Error != "" && !knownCodes[backend.Code(step.Error)] {
			return fmt.Errorf("unknown error code %q", step.Error)
		}
	case "write":
		if step.Write != "add" && step.Write != "merge" {
			if _, ok := mutation.ParseOp(step.Write); !ok {
				return fmt.Errorf("unknown write kind %q", step.Write)
			}
		}
		if step.Path == "" {
			return fmt.Errorf("write requires a path")
		}
	case "fail_writes":
		if local {
			return fmt.Errorf("fail_writes requires the fake backend")
		}
		if !knownCodes[backend.Code(step.Code)] {
			return fmt.Errorf("unknown error code %q", step.Code)
		}
	case "retarget":
		if !names[step.Retarget] {
			return fmt.Errorf("unknown subscription %q", step.Retarget)
		}
		if step.Document != "" && step.Query != nil {
			return fmt.Errorf("document and query are exclusive")
		}
	case "close":
		if !names[step.Close] {
			return fmt.Errorf("unknown subscription %q", step.Close)
		}
	case "set_rules":
		if !local {
			return fmt.Errorf("set_rules requires the local backend")
		}
	}
	return nil
}

func validateAssertion(a Assertion, names map[string]bool, local bool) error {
	switch a.Type {
	case AssertState:
		if !names[a.Subscription] {
			return fmt.Errorf("unknown subscription %q", a.Subscription)
		}
		if a.Expect == nil {
			return fmt.Errorf("expect is required for state")
		}
	case AssertEmitted:
		if a.Count != nil && *a.Count < 0 {
			return fmt.Errorf("count must be non-negative")
		}
	case AssertListeners:
		if a.Count == nil {
			return fmt.Errorf("count is required for listeners")
		}
	case AssertStored:
		if !local {
			return fmt.Errorf("stored requires the local backend")
		}
		if a.Path == "" {
			return fmt.Errorf("path is required for stored")
		}
	case "":
		return fmt.Errorf("type is required")
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
	return nil
}
