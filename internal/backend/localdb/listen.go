package localdb

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"sync/atomic"

	"github.com/roach88/carelink/internal/backend"
	"github.com/roach88/carelink/internal/docpath"
	"github.com/roach88/carelink/internal/query"
)

type listener struct {
	id        uint64
	ctx       context.Context
	path      string
	query     *query.Query
	docSink   backend.DocumentSink
	querySink backend.QuerySink

	// last fingerprints the previous push; accessed under Database.mu.
	last    string
	pushed  bool
	stopped atomic.Bool
}

// ListenDocument pushes the current document at once and again after
// every committed write to it. Sinks run with the database lock held and
// must not call back into the database.
func (d *Database) ListenDocument(ctx context.Context, path string, sink backend.DocumentSink) (backend.Listener, error) {
	p, err := docpath.Document(path)
	if err != nil {
		return nil, &backend.Error{Code: backend.CodeInvalidArgument, Op: AccessGet, Path: path, Err: err}
	}
	return d.listen(&listener{ctx: ctx, path: p.String(), docSink: sink})
}

// ListenQuery pushes the current result set at once and again whenever a
// committed write to the collection changes it.
func (d *Database) ListenQuery(ctx context.Context, q query.Query, sink backend.QuerySink) (backend.Listener, error) {
	if err := query.Validate(q); err != nil {
		return nil, &backend.Error{Code: backend.CodeInvalidArgument, Op: AccessList, Path: q.Collection, Err: err}
	}
	return d.listen(&listener{ctx: ctx, path: q.Collection, query: &q, querySink: sink})
}

func (d *Database) listen(l *listener) (backend.Listener, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	op := AccessGet
	if l.query != nil {
		op = AccessList
	}
	if err := d.checkOpen(op, l.path); err != nil {
		return nil, err
	}

	d.lmu.Lock()
	d.nextID++
	l.id = d.nextID
	d.listeners[l.id] = l
	d.lmu.Unlock()

	d.refresh(l)

	return backend.ListenerFunc(func() { d.unlisten(l) }), nil
}

func (d *Database) unlisten(l *listener) {
	l.stopped.Store(true)
	d.lmu.Lock()
	delete(d.listeners, l.id)
	d.lmu.Unlock()
}

// Listeners returns the number of registered listeners.
func (d *Database) Listeners() int {
	d.lmu.Lock()
	defer d.lmu.Unlock()
	return len(d.listeners)
}

// SetRules replaces the access rules. Listeners that are no longer
// permitted receive a permission-denied push and end.
func (d *Database) SetRules(r *Rules) {
	if r == nil {
		r = AllowAll()
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	d.rules = r
	for _, l := range d.snapshotListeners() {
		d.refresh(l)
	}
}

func (d *Database) snapshotListeners() []*listener {
	d.lmu.Lock()
	defer d.lmu.Unlock()
	out := make([]*listener, 0, len(d.listeners))
	for _, l := range d.listeners {
		out = append(out, l)
	}
	sortListeners(out)
	return out
}

// notify refreshes the listeners a write to p can affect. Caller holds mu.
func (d *Database) notify(p docpath.Path) {
	collection := p.Parent().String()
	for _, l := range d.snapshotListeners() {
		switch {
		case l.query == nil && l.path == p.String():
			d.refresh(l)
		case l.query != nil && l.path == collection:
			d.refresh(l)
		}
	}
}

// refresh re-reads the listener's target and pushes it if it changed.
// A failure is pushed once and ends the listener, as a remote listener
// would end. Caller holds mu.
func (d *Database) refresh(l *listener) {
	if l.stopped.Load() {
		return
	}
	if l.ctx.Err() != nil {
		d.unlisten(l)
		return
	}

	if l.query == nil {
		d.refreshDocument(l)
		return
	}
	d.refreshQuery(l)
}

func (d *Database) refreshDocument(l *listener) {
	if !d.rules.Allows(AccessGet, l.path) {
		d.fail(l, denied(AccessGet, l.path))
		return
	}
	p, _ := docpath.Document(l.path)
	doc, err := d.readDocument(l.ctx, p)
	if err != nil {
		d.fail(l, err)
		return
	}
	if !l.changed(fingerprint(doc.Exists, doc.Data)) {
		return
	}
	l.docSink(doc, nil)
}

func (d *Database) refreshQuery(l *listener) {
	if !d.rules.Allows(AccessList, l.path) {
		d.fail(l, denied(AccessList, l.path))
		return
	}
	docs, err := d.runQuery(l.ctx, *l.query)
	if err != nil {
		d.fail(l, err)
		return
	}

	parts := make([]any, 0, len(docs))
	for _, doc := range docs {
		parts = append(parts, []any{doc.Path, doc.Data})
	}
	if !l.changed(fingerprint(true, parts)) {
		return
	}
	l.querySink(docs, nil)
}

func (d *Database) fail(l *listener, err error) {
	d.unlisten(l)
	slog.Debug("local listener ended", "path", l.path, "error", err)
	if l.query == nil {
		l.docSink(backend.Document{}, err)
		return
	}
	l.querySink(nil, err)
}

func (l *listener) changed(fp string) bool {
	if l.pushed && fp == l.last {
		return false
	}
	l.pushed = true
	l.last = fp
	return true
}

// fingerprint serializes a result for change detection. encoding/json
// sorts map keys, so equal results have equal fingerprints.
func fingerprint(exists bool, v any) string {
	raw, err := json.Marshal([]any{exists, v})
	if err != nil {
		return ""
	}
	return string(raw)
}

func sortListeners(ls []*listener) {
	sort.Slice(ls, func(i, j int) bool { return ls[i].id < ls[j].id })
}
