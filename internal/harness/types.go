package harness

// Trace event kinds.
const (
	KindStep  = "step"
	KindState = "state"
	KindEmit  = "emit"
)

// TraceEvent is one line of a scenario trace.
type TraceEvent struct {
	Kind string `json:"kind"`
	// Step is the 1-based step index; 0 for the subscribe phase.
	Step int `json:"step"`
	// Subject is the subscription name for state events.
	Subject string `json:"subject,omitempty"`
	Detail  string `json:"detail"`
}

// Result is the outcome of a scenario run.
type Result struct {
	Pass   bool         `json:"pass"`
	Trace  []TraceEvent `json:"trace"`
	Errors []string     `json:"errors,omitempty"`
	// State holds the final rendered state of every subscription.
	State map[string]string `json:"state,omitempty"`
}

// NewResult creates a passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
		State:  make(map[string]string),
	}
}

// AddError records a failure.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

func (r *Result) addStep(step int, detail string) {
	r.Trace = append(r.Trace, TraceEvent{Kind: KindStep, Step: step, Detail: detail})
}

func (r *Result) addState(step int, subject, detail string) {
	r.Trace = append(r.Trace, TraceEvent{Kind: KindState, Step: step, Subject: subject, Detail: detail})
}

func (r *Result) addEmit(step int, detail string) {
	r.Trace = append(r.Trace, TraceEvent{Kind: KindEmit, Step: step, Detail: detail})
}
