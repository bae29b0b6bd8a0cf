package harness

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/roach88/carelink/internal/backend"
	"github.com/roach88/carelink/internal/backend/localdb"
	"github.com/roach88/carelink/internal/connection"
	"github.com/roach88/carelink/internal/emitter"
	"github.com/roach88/carelink/internal/live"
	"github.com/roach88/carelink/internal/mutation"
	"github.com/roach88/carelink/internal/portal"
	"github.com/roach88/carelink/internal/testutil"
)

// settleTimeout bounds the wait for background writes after a step.
const settleTimeout = 5 * time.Second

// Harness executes one scenario.
type Harness struct {
	scenario *Scenario
	rt       *portal.Runtime
	fake     *testutil.FakeDatabase
	local    *localdb.Database
	scope    *live.Scope

	readers map[string]reader
	last    map[string]string
	emitted []*emitter.PermissionError
	result  *Result
	step    int
}

// Run executes scenario against a fresh backend and returns its trace.
// Assertion failures are reported in the result; the error is for
// scenarios that could not be executed.
func Run(scenario *Scenario) (*Result, error) {
	ctx := context.Background()
	h := &Harness{
		scenario: scenario,
		readers:  make(map[string]reader),
		last:     make(map[string]string),
		result:   NewResult(),
	}

	db, err := h.open()
	if err != nil {
		return nil, err
	}
	provider := connection.NewProvider([]connection.Strategy{connection.StrategyFunc{
		Label: scenario.Backend,
		Fn: func(context.Context) (*connection.Connection, error) {
			return connection.NewConnection(scenario.Backend, nil, db), nil
		},
	}})
	h.rt = portal.New(provider,
		portal.WithManualDispatch(),
		portal.WithWriterOptions(mutation.WithWorkers(1), mutation.WithIDs(testutil.NewSequentialIDs(""))),
	)
	defer h.rt.Close()

	h.rt.OnError(h.onError)
	if err := h.rt.Start(ctx); err != nil {
		return nil, fmt.Errorf("failed to start runtime: %w", err)
	}

	for i, d := range scenario.Seed {
		if err := db.Set(ctx, d.Path, d.Data, false); err != nil {
			return nil, fmt.Errorf("seed[%d]: %w", i, err)
		}
	}

	if h.scope, err = h.rt.Scope(ctx); err != nil {
		return nil, err
	}
	defer h.scope.Close()

	h.result.addStep(0, "subscribe")
	for i, sub := range scenario.Subscribe {
		if err := h.subscribe(sub); err != nil {
			return nil, fmt.Errorf("subscribe[%d]: %w", i, err)
		}
	}
	if err := h.settle(); err != nil {
		return nil, err
	}

	for i, step := range scenario.Steps {
		h.step = i + 1
		if err := h.execute(ctx, step); err != nil {
			return nil, fmt.Errorf("steps[%d]: %w", i, err)
		}
		if err := h.settle(); err != nil {
			return nil, fmt.Errorf("steps[%d]: %w", i, err)
		}
	}

	for name, r := range h.readers {
		h.result.State[name] = h.current(name, r)
	}
	for _, msg := range EvaluateAssertions(h, scenario.Assertions) {
		h.result.AddError(msg)
	}
	return h.result, nil
}

func (h *Harness) open() (backend.Database, error) {
	if h.scenario.Backend != BackendLocal {
		h.fake = testutil.NewFakeDatabase()
		return h.fake, nil
	}

	var rules *localdb.Rules
	if h.scenario.Rules != nil {
		var err error
		if rules, err = localdb.NewRules(h.scenario.Rules); err != nil {
			return nil, err
		}
	}
	db, err := localdb.Open(":memory:", rules)
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory database: %w", err)
	}
	h.local = db
	return db, nil
}

func (h *Harness) subscribe(sub Subscription) error {
	target, err := buildTarget(sub.Document, sub.Query)
	if err != nil {
		return err
	}

	var r reader
	if _, isQuery := target.Query(); isQuery || sub.Query != nil {
		r = newQueryReader(h.scope, target)
	} else {
		r = newDocReader(h.scope, target)
	}
	h.readers[sub.Name] = r
	r.watch(func() { h.observe(sub.Name, r) })
	return nil
}

func buildTarget(path string, q *QuerySpec) (live.Target, error) {
	if q == nil {
		return live.DocumentTarget(path), nil
	}
	built, err := q.Build()
	if err != nil {
		return live.Target{}, err
	}
	return live.QueryTarget(built), nil
}

// observe runs on the dispatch loop after a state change.
func (h *Harness) observe(name string, r reader) {
	rendered := render(r.view())
	if h.last[name] == rendered {
		return
	}
	h.last[name] = rendered
	h.result.addState(h.step, name, rendered)
}

func (h *Harness) current(name string, r reader) string {
	if r.closed() {
		return "closed"
	}
	return render(r.view())
}

func (h *Harness) onError(err *emitter.PermissionError) {
	h.emitted = append(h.emitted, err)
	h.result.addEmit(h.step, fmt.Sprintf("%s %s %s", err.Operation, err.Path, err.Code))
}

// settle waits for background writes, then applies every queued event.
func (h *Harness) settle() error {
	w, err := h.rt.Writer()
	if err != nil {
		return err
	}
	deadline := time.Now().Add(settleTimeout)
	for !w.Settled() {
		if time.Now().After(deadline) {
			return fmt.Errorf("writes did not settle within %s", settleTimeout)
		}
		time.Sleep(time.Millisecond)
	}
	h.rt.Drain()
	return nil
}

func (h *Harness) execute(ctx context.Context, step Step) error {
	switch {
	case step.Push != "":
		return h.push(step)
	case step.Write != "":
		return h.write(step)
	case step.FailWrites != "":
		h.result.addStep(h.step, fmt.Sprintf("fail_writes %s %s", step.FailWrites, step.Code))
		h.fake.FailWrites(step.FailWrites, scripted(backend.Code(step.Code), "write", step.FailWrites))
		return nil
	case step.Retarget != "":
		target, err := buildTarget(step.Document, step.Query)
		if err != nil {
			return err
		}
		h.result.addStep(h.step, fmt.Sprintf("retarget %s %s", step.Retarget, target))
		h.readers[step.Retarget].retarget(target)
		return nil
	case step.Close != "":
		h.result.addStep(h.step, "close "+step.Close)
		h.readers[step.Close].close()
		h.last[step.Close] = "closed"
		h.result.addState(h.step, step.Close, "closed")
		return nil
	case step.SetRules != nil:
		rules, err := localdb.NewRules(step.SetRules)
		if err != nil {
			return err
		}
		h.result.addStep(h.step, fmt.Sprintf("set_rules %d", len(step.SetRules)))
		h.local.SetRules(rules)
		return nil
	}
	return errors.New("step has no action")
}

func (h *Harness) push(step Step) error {
	target := h.readers[step.Push].target()
	if target.NoTarget() {
		return fmt.Errorf("push: subscription %q has no target", step.Push)
	}

	if _, isQuery := target.Query(); isQuery {
		collection := target.Path()
		if step.Error != "" {
			h.result.addStep(h.step, fmt.Sprintf("push %s error=%s", step.Push, step.Error))
			h.fake.PushQueryError(collection, scripted(backend.Code(step.Error), "list", collection))
			return nil
		}
		docs := make([]backend.Document, len(step.Docs))
		ids := make([]string, len(step.Docs))
		for i, d := range step.Docs {
			docs[i] = testutil.Doc(d.Path, d.Data)
			ids[i] = docs[i].ID
		}
		h.result.addStep(h.step, fmt.Sprintf("push %s docs=[%s]", step.Push, strings.Join(ids, ",")))
		h.fake.PushQuery(collection, docs...)
		return nil
	}

	path := target.Path()
	switch {
	case step.Error != "":
		h.result.addStep(h.step, fmt.Sprintf("push %s error=%s", step.Push, step.Error))
		h.fake.PushDocumentError(path, scripted(backend.Code(step.Error), "get", path))
	case step.Missing || len(step.Docs) == 0:
		h.result.addStep(h.step, fmt.Sprintf("push %s missing", step.Push))
		h.fake.PushDocument(path, nil)
	case len(step.Docs) == 1:
		h.result.addStep(h.step, fmt.Sprintf("push %s doc", step.Push))
		data := step.Docs[0].Data
		if data == nil {
			data = backend.Fields{}
		}
		h.fake.PushDocument(path, data)
	default:
		return fmt.Errorf("push: document subscription %q takes one document", step.Push)
	}
	return nil
}

func (h *Harness) write(step Step) error {
	w, err := h.rt.Writer()
	if err != nil {
		return err
	}

	switch step.Write {
	case "add":
		path := w.Add(step.Path, step.Data)
		h.result.addStep(h.step, fmt.Sprintf("write add %s -> %s", step.Path, path))
	case "merge":
		h.result.addStep(h.step, "write merge "+step.Path)
		w.Merge(step.Path, step.Data)
	default:
		op, ok := mutation.ParseOp(step.Write)
		if !ok {
			return fmt.Errorf("unknown write kind %q", step.Write)
		}
		h.result.addStep(h.step, fmt.Sprintf("write %s %s", op, step.Path))
		w.Write(op, step.Path, step.Data)
	}
	return nil
}

func scripted(code backend.Code, op, path string) error {
	if code == backend.CodePermissionDenied {
		return testutil.Denied(op, path)
	}
	return backend.Errorf(code, op, path, "scripted failure")
}

// view is a backend-neutral snapshot of a reader's state.
type view struct {
	loading  bool
	noTarget bool
	query    bool
	// present is false when Data is nil.
	present bool
	ids     []string
	fields  map[string]any
	code    backend.Code
}

type reader interface {
	view() view
	target() live.Target
	watch(fn func())
	retarget(t live.Target)
	close()
	closed() bool
}

type docReader struct {
	sub *live.Subscription[*live.Doc[map[string]any]]
}

func newDocReader(s *live.Scope, t live.Target) *docReader {
	return &docReader{sub: live.Document[map[string]any](s, t.Path())}
}

func (r *docReader) view() view {
	st := r.sub.State()
	v := view{loading: st.IsLoading, noTarget: r.sub.NoTarget(), code: errorCode(st.Err)}
	if st.Data != nil {
		v.present = true
		v.ids = []string{st.Data.ID}
		v.fields = st.Data.Data
	}
	return v
}

func (r *docReader) target() live.Target    { return r.sub.Target() }
func (r *docReader) retarget(t live.Target) { r.sub.Retarget(t) }
func (r *docReader) close()                 { r.sub.Close() }
func (r *docReader) closed() bool           { return r.sub.Closed() }

func (r *docReader) watch(fn func()) {
	r.sub.Watch(func(live.State[*live.Doc[map[string]any]]) { fn() })
}

type queryReader struct {
	sub *live.Subscription[[]live.Doc[map[string]any]]
}

func newQueryReader(s *live.Scope, t live.Target) *queryReader {
	q, _ := t.Query()
	return &queryReader{sub: live.Collection[map[string]any](s, q)}
}

func (r *queryReader) view() view {
	st := r.sub.State()
	v := view{loading: st.IsLoading, noTarget: r.sub.NoTarget(), query: true, code: errorCode(st.Err)}
	if st.Data != nil {
		v.present = true
		v.ids = make([]string, len(st.Data))
		for i, d := range st.Data {
			v.ids[i] = d.ID
		}
	}
	return v
}

func (r *queryReader) target() live.Target    { return r.sub.Target() }
func (r *queryReader) retarget(t live.Target) { r.sub.Retarget(t) }
func (r *queryReader) close()                 { r.sub.Close() }
func (r *queryReader) closed() bool           { return r.sub.Closed() }

func (r *queryReader) watch(fn func()) {
	r.sub.Watch(func(live.State[[]live.Doc[map[string]any]]) { fn() })
}

func errorCode(err error) backend.Code {
	if err == nil {
		return ""
	}
	var le *live.ListenError
	if errors.As(err, &le) {
		return le.Code
	}
	return backend.CodeOf(err)
}

// render formats a view as one trace detail, e.g. "docs=[r1,r2]" or
// "doc=r1 {"status":"pending"} error=permission-denied".
func render(v view) string {
	var b strings.Builder
	switch {
	case v.loading:
		b.WriteString("loading")
	case v.noTarget && v.code == "":
		b.WriteString("none")
	case v.query && v.present:
		fmt.Fprintf(&b, "docs=[%s]", strings.Join(v.ids, ","))
	case v.query:
		b.WriteString("docs=none")
	case v.present:
		fmt.Fprintf(&b, "doc=%s %s", v.ids[0], compactJSON(v.fields))
	default:
		b.WriteString("doc=missing")
	}
	if v.code != "" {
		fmt.Fprintf(&b, " error=%s", v.code)
	}
	return b.String()
}

func compactJSON(fields map[string]any) string {
	if fields == nil {
		return "{}"
	}
	raw, err := json.Marshal(fields)
	if err != nil {
		return fmt.Sprintf("%v", fields)
	}
	return string(raw)
}
