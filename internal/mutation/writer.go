package mutation

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/roach88/carelink/internal/backend"
	"github.com/roach88/carelink/internal/dispatch"
	"github.com/roach88/carelink/internal/docpath"
	"github.com/roach88/carelink/internal/emitter"
)

// DefaultWorkers is the worker pool size when none is configured.
const DefaultWorkers = 4

// SpanName names the span around each executed write.
const SpanName = "carelink/mutation"

const tracerName = "github.com/roach88/carelink/internal/mutation"

// Option configures a Writer.
type Option func(*Writer)

// WithWorkers sets the worker pool size. Values below 1 are ignored.
func WithWorkers(n int) Option {
	return func(w *Writer) {
		if n > 0 {
			w.workers = n
		}
	}
}

// WithIDs replaces the UUIDv7 identifier source.
func WithIDs(ids IDSource) Option {
	return func(w *Writer) {
		if ids != nil {
			w.ids = ids
		}
	}
}

// WithTracer replaces the global tracer.
func WithTracer(t trace.Tracer) Option {
	return func(w *Writer) {
		if t != nil {
			w.tracer = t
		}
	}
}

// Stats counts requests by outcome.
type Stats struct {
	Submitted int64
	Succeeded int64
	Failed    int64
	Dropped   int64
}

// Writer executes writes in the background.
//
// Thread-safety: every method is safe for concurrent use.
type Writer struct {
	db      backend.Database
	loop    *dispatch.Loop
	emit    *emitter.Emitter
	ids     IDSource
	tracer  trace.Tracer
	workers int

	mu      sync.Mutex
	pending []Request
	signal  chan struct{}
	started bool
	closed  bool
	wg      sync.WaitGroup
	stop    func() bool

	submitted atomic.Int64
	succeeded atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64
}

// NewWriter creates a writer over db. Failures are posted to loop and
// emitted through em. Call Start to begin executing requests.
func NewWriter(db backend.Database, loop *dispatch.Loop, em *emitter.Emitter, opts ...Option) *Writer {
	w := &Writer{
		db:      db,
		loop:    loop,
		emit:    em,
		ids:     UUIDv7IDs{},
		tracer:  otel.Tracer(tracerName),
		workers: DefaultWorkers,
		signal:  make(chan struct{}, 1),
		stop:    func() bool { return false },
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start launches the worker pool. Requests queued before Start run once it
// is called. Cancelling ctx closes the writer; writes already executing
// are not cancelled.
func (w *Writer) Start(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started || w.closed {
		return
	}
	w.started = true

	exec := context.WithoutCancel(ctx)
	for i := 0; i < w.workers; i++ {
		w.wg.Add(1)
		go w.work(exec, i)
	}
	w.stop = context.AfterFunc(ctx, func() { go w.Close() })

	slog.Debug("mutation writer started", "workers", w.workers)
}

// Close stops accepting writes and waits for queued and executing writes
// to finish. Requests still queued on a writer that was never started are
// dropped.
func (w *Writer) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		w.wg.Wait()
		return
	}
	w.closed = true
	started := w.started
	var abandoned int
	if !started {
		abandoned = len(w.pending)
		w.pending = nil
	}
	stop := w.stop
	w.mu.Unlock()

	stop()
	w.wake()
	w.wg.Wait()

	if abandoned > 0 {
		w.dropped.Add(int64(abandoned))
		slog.Warn("writer closed before start: writes dropped", "count", abandoned)
	}
	slog.Debug("mutation writer closed", "stats", w.Stats())
}

// Stats returns the request counters.
func (w *Writer) Stats() Stats {
	return Stats{
		Submitted: w.submitted.Load(),
		Succeeded: w.succeeded.Load(),
		Failed:    w.failed.Load(),
		Dropped:   w.dropped.Load(),
	}
}

// Settled reports whether every accepted request has finished executing.
func (w *Writer) Settled() bool {
	s := w.Stats()
	return s.Succeeded+s.Failed >= s.Submitted
}

// Pending returns how many requests wait for a worker.
func (w *Writer) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pending)
}

// Write enqueues a write of kind op. payload is ignored for deletes.
func (w *Writer) Write(op Op, path string, payload backend.Fields) {
	w.submit(Request{Op: op, Path: path, Payload: payload})
}

// Create writes a new document; it fails if the document exists.
func (w *Writer) Create(path string, payload backend.Fields) {
	w.Write(OpCreate, path, payload)
}

// Add creates a document with a generated ID in collection and returns its
// path. The path is returned even though the write has not happened yet.
func (w *Writer) Add(collection string, payload backend.Fields) string {
	col, err := docpath.Collection(collection)
	if err == nil {
		var doc docpath.Path
		if doc, err = col.Child(w.ids.DocumentID()); err == nil {
			w.Create(doc.String(), payload)
			return doc.String()
		}
	}
	w.reject(Request{ID: w.ids.RequestID(), Op: OpCreate, Path: collection, Payload: payload},
		&backend.Error{Code: backend.CodeInvalidArgument, Op: string(OpCreate), Path: collection, Err: err})
	return ""
}

// Set overwrites the document at path.
func (w *Writer) Set(path string, payload backend.Fields) {
	w.Write(OpSet, path, payload)
}

// Merge sets the fields in payload, keeping the document's other fields.
func (w *Writer) Merge(path string, payload backend.Fields) {
	w.submit(Request{Op: OpSet, Path: path, Payload: payload, Merge: true})
}

// Update changes fields of an existing document.
func (w *Writer) Update(path string, payload backend.Fields) {
	w.Write(OpUpdate, path, payload)
}

// Delete removes the document at path.
func (w *Writer) Delete(path string) {
	w.Write(OpDelete, path, nil)
}

func (w *Writer) submit(req Request) {
	if req.ID == "" {
		req.ID = w.ids.RequestID()
	}
	if req.Op == OpDelete {
		req.Payload = nil
	} else {
		req.Payload = clonePayload(req.Payload)
	}

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		w.dropped.Add(1)
		slog.Warn("write dropped: writer closed",
			"op", string(req.Op),
			"path", req.Path,
			"request_id", req.ID,
		)
		return
	}
	// Counted before a worker can see req, so Settled never runs ahead.
	w.submitted.Add(1)
	w.pending = append(w.pending, req)
	w.mu.Unlock()

	w.wake()
}

// reject reports req as failed without executing it.
func (w *Writer) reject(req Request, err error) {
	req.Payload = clonePayload(req.Payload)

	w.mu.Lock()
	closed := w.closed
	if !closed {
		w.submitted.Add(1)
	}
	w.mu.Unlock()
	if closed {
		w.dropped.Add(1)
		slog.Warn("write dropped: writer closed", "op", string(req.Op), "path", req.Path, "request_id", req.ID)
		return
	}
	w.fail(req, err)
}

func (w *Writer) wake() {
	select {
	case w.signal <- struct{}{}:
	default:
	}
}

// next blocks until a request is available. It returns false once the
// writer is closed and the queue is empty.
func (w *Writer) next() (Request, bool) {
	for {
		w.mu.Lock()
		if len(w.pending) > 0 {
			req := w.pending[0]
			w.pending[0] = Request{}
			w.pending = w.pending[1:]
			more := len(w.pending) > 0 || w.closed
			w.mu.Unlock()
			if more {
				w.wake()
			}
			return req, true
		}
		if w.closed {
			w.mu.Unlock()
			w.wake()
			return Request{}, false
		}
		w.mu.Unlock()

		<-w.signal
	}
}

func (w *Writer) work(ctx context.Context, id int) {
	defer w.wg.Done()
	for {
		req, ok := w.next()
		if !ok {
			slog.Debug("mutation worker exiting", "worker", id)
			return
		}
		w.execute(ctx, req)
	}
}

func (w *Writer) execute(ctx context.Context, req Request) {
	ctx, span := w.tracer.Start(ctx, SpanName, trace.WithAttributes(
		attribute.String("carelink.op", string(req.Op)),
		attribute.String("carelink.path", req.Path),
		attribute.String("carelink.request_id", req.ID),
	))
	defer span.End()

	err := w.apply(ctx, req)
	if err == nil {
		w.succeeded.Add(1)
		return
	}

	span.RecordError(err)
	span.SetStatus(otelcodes.Error, string(backend.CodeOf(err)))
	w.fail(req, err)
}

func (w *Writer) apply(ctx context.Context, req Request) error {
	path, err := docpath.Document(req.Path)
	if err != nil {
		return &backend.Error{Code: backend.CodeInvalidArgument, Op: string(req.Op), Path: req.Path, Err: err}
	}

	switch req.Op {
	case OpCreate:
		return w.db.Create(ctx, path.String(), req.Payload)
	case OpSet:
		return w.db.Set(ctx, path.String(), req.Payload, req.Merge)
	case OpUpdate:
		return w.db.Update(ctx, path.String(), req.Payload)
	case OpDelete:
		return w.db.Delete(ctx, path.String())
	default:
		return backend.Errorf(backend.CodeInvalidArgument, string(req.Op), req.Path, "unknown write kind %q", req.Op)
	}
}

// fail hands the enriched error to the loop, which emits it.
func (w *Writer) fail(req Request, err error) {
	pe := &emitter.PermissionError{
		Operation: req.Op.Operation(),
		Path:      req.Path,
		Payload:   req.Payload,
		Code:      backend.CodeOf(err),
		RequestID: req.ID,
		Err:       err,
	}
	slog.Debug("write failed",
		"op", string(req.Op),
		"path", req.Path,
		"request_id", req.ID,
		"code", string(pe.Code),
		"error", err,
	)

	posted := w.loop.Post(dispatch.Event{
		Type:   dispatch.EventMutationFailed,
		Target: req.Path,
		Apply:  func(int64) { w.emit.Emit(pe) },
	})
	if !posted {
		slog.Warn("write failure dropped: dispatch loop stopped",
			"path", req.Path,
			"request_id", req.ID,
		)
	}
	// Once Failed includes req, its event is already queued.
	w.failed.Add(1)
}
