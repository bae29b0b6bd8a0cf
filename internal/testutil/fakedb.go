package testutil

import (
	"context"
	"strings"
	"sync"

	"github.com/roach88/carelink/internal/backend"
	"github.com/roach88/carelink/internal/query"
)

// WriteCall records one write that reached the fake.
type WriteCall struct {
	Op    string
	Path  string
	Data  backend.Fields
	Merge bool
}

type fakeListener struct {
	path     string
	query    query.Query
	docSink  backend.DocumentSink
	querySnk backend.QuerySink
	stopped  bool
}

// FakeDatabase is a backend.Database driven entirely by the test.
//
// Listeners never receive anything on their own; the test delivers pushes
// with PushDocument and PushQuery, synchronously on the calling goroutine.
// Writes are recorded and succeed unless a failure was configured with
// FailWrites.
type FakeDatabase struct {
	mu sync.Mutex

	listeners []*fakeListener
	listens   int
	stops     int

	// lateDelivery makes pushes reach stopped listeners too, the way
	// deliveries already in flight at Stop would.
	lateDelivery bool
	listenErr    error

	failures map[string]error
	gate     chan struct{}
	writes   []WriteCall
	started  int
	closed   bool
}

// NewFakeDatabase creates an empty fake.
func NewFakeDatabase() *FakeDatabase {
	return &FakeDatabase{failures: make(map[string]error)}
}

var _ backend.Database = (*FakeDatabase)(nil)

// SetLateDelivery controls whether pushes also reach stopped listeners.
func (f *FakeDatabase) SetLateDelivery(on bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lateDelivery = on
}

// FailListens makes every later Listen call fail with err (nil resets).
func (f *FakeDatabase) FailListens(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listenErr = err
}

// FailWrites makes writes to path fail with err. A path ending in "/*"
// matches every document below that prefix. A nil err removes the rule.
func (f *FakeDatabase) FailWrites(path string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.failures, path)
		return
	}
	f.failures[path] = err
}

// Block holds every write until the returned release func is called.
func (f *FakeDatabase) Block() (release func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	gate := make(chan struct{})
	f.gate = gate

	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			if f.gate == gate {
				f.gate = nil
			}
			f.mu.Unlock()
			close(gate)
		})
	}
}

func (f *FakeDatabase) ListenDocument(_ context.Context, path string, sink backend.DocumentSink) (backend.Listener, error) {
	return f.register(&fakeListener{path: path, docSink: sink})
}

func (f *FakeDatabase) ListenQuery(_ context.Context, q query.Query, sink backend.QuerySink) (backend.Listener, error) {
	return f.register(&fakeListener{path: q.Collection, query: q, querySnk: sink})
}

func (f *FakeDatabase) register(l *fakeListener) (backend.Listener, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return nil, backend.Errorf(backend.CodeUnavailable, "listen", l.path, "database closed")
	}
	if f.listenErr != nil {
		return nil, f.listenErr
	}
	f.listeners = append(f.listeners, l)
	f.listens++

	var once sync.Once
	return backend.ListenerFunc(func() {
		once.Do(func() {
			f.mu.Lock()
			defer f.mu.Unlock()
			l.stopped = true
			f.stops++
		})
	}), nil
}

// PushDocument delivers a document snapshot to the listeners of path.
// A nil data pushes a missing document. It returns how many listeners
// received it.
func (f *FakeDatabase) PushDocument(path string, data backend.Fields) int {
	doc := backend.NewDocument(path, lastSegment(path), data != nil, data, nil)
	return f.eachDocument(path, func(sink backend.DocumentSink) { sink(doc, nil) })
}

// PushDocumentError delivers a listener failure to the listeners of path.
func (f *FakeDatabase) PushDocumentError(path string, err error) int {
	return f.eachDocument(path, func(sink backend.DocumentSink) { sink(backend.Document{}, err) })
}

// PushQuery delivers a result set to every query listener on collection.
func (f *FakeDatabase) PushQuery(collection string, docs ...backend.Document) int {
	return f.eachQuery(collection, func(sink backend.QuerySink) { sink(docs, nil) })
}

// PushQueryError delivers a listener failure to every query listener on
// collection.
func (f *FakeDatabase) PushQueryError(collection string, err error) int {
	return f.eachQuery(collection, func(sink backend.QuerySink) { sink(nil, err) })
}

func (f *FakeDatabase) eachDocument(path string, fn func(backend.DocumentSink)) int {
	var sinks []backend.DocumentSink
	f.mu.Lock()
	for _, l := range f.listeners {
		if l.docSink != nil && l.path == path && (!l.stopped || f.lateDelivery) {
			sinks = append(sinks, l.docSink)
		}
	}
	f.mu.Unlock()

	for _, s := range sinks {
		fn(s)
	}
	return len(sinks)
}

func (f *FakeDatabase) eachQuery(collection string, fn func(backend.QuerySink)) int {
	var sinks []backend.QuerySink
	f.mu.Lock()
	for _, l := range f.listeners {
		if l.querySnk != nil && l.path == collection && (!l.stopped || f.lateDelivery) {
			sinks = append(sinks, l.querySnk)
		}
	}
	f.mu.Unlock()

	for _, s := range sinks {
		fn(s)
	}
	return len(sinks)
}

// Doc builds an existing document for PushQuery.
func Doc(path string, data backend.Fields) backend.Document {
	return backend.NewDocument(path, lastSegment(path), true, data, nil)
}

// Listens returns how many listeners were registered.
func (f *FakeDatabase) Listens() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listens
}

// Stops returns how many listeners were stopped.
func (f *FakeDatabase) Stops() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stops
}

// Active returns how many listeners are registered and not stopped.
func (f *FakeDatabase) Active() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listens - f.stops
}

// ActiveQueries returns the queries of listeners that are not stopped.
func (f *FakeDatabase) ActiveQueries() []query.Query {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []query.Query
	for _, l := range f.listeners {
		if l.querySnk != nil && !l.stopped {
			out = append(out, l.query)
		}
	}
	return out
}

// Writes returns the writes that completed, successfully or not.
func (f *FakeDatabase) Writes() []WriteCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]WriteCall, len(f.writes))
	copy(out, f.writes)
	return out
}

// Started returns how many writes have reached the fake, including ones
// still blocked.
func (f *FakeDatabase) Started() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.started
}

func (f *FakeDatabase) Create(ctx context.Context, path string, data backend.Fields) error {
	return f.write(ctx, WriteCall{Op: "create", Path: path, Data: data})
}

func (f *FakeDatabase) Set(ctx context.Context, path string, data backend.Fields, merge bool) error {
	return f.write(ctx, WriteCall{Op: "set", Path: path, Data: data, Merge: merge})
}

func (f *FakeDatabase) Update(ctx context.Context, path string, data backend.Fields) error {
	return f.write(ctx, WriteCall{Op: "update", Path: path, Data: data})
}

func (f *FakeDatabase) Delete(ctx context.Context, path string) error {
	return f.write(ctx, WriteCall{Op: "delete", Path: path})
}

func (f *FakeDatabase) write(ctx context.Context, call WriteCall) error {
	f.mu.Lock()
	f.started++
	gate := f.gate
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.writes = append(f.writes, call)
	if f.closed {
		return backend.Errorf(backend.CodeUnavailable, call.Op, call.Path, "database closed")
	}
	return f.failureFor(call.Path)
}

func (f *FakeDatabase) failureFor(path string) error {
	if err, ok := f.failures[path]; ok {
		return err
	}
	for pattern, err := range f.failures {
		prefix, ok := strings.CutSuffix(pattern, "/*")
		if ok && strings.HasPrefix(path, prefix+"/") {
			return err
		}
	}
	return nil
}

// Close marks the fake closed and stops every listener.
func (f *FakeDatabase) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true
	for _, l := range f.listeners {
		if !l.stopped {
			l.stopped = true
			f.stops++
		}
	}
	return nil
}

// Denied returns a permission-denied error like the one security rules
// produce.
func Denied(op, path string) error {
	return backend.Errorf(backend.CodePermissionDenied, op, path, "missing or insufficient permissions")
}

func lastSegment(path string) string {
	if i := strings.LastIndexByte(path, '/'); i >= 0 {
		return path[i+1:]
	}
	return path
}
