// Package firestoredb implements backend.Database over Cloud Firestore
// snapshot listeners.
package firestoredb

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/roach88/carelink/internal/backend"
	"github.com/roach88/carelink/internal/query"
)

// Database adapts a Firestore client.
type Database struct {
	client *firestore.Client

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

var _ backend.Database = (*Database)(nil)

// New wraps client. Close closes the client.
func New(client *firestore.Client) *Database {
	return &Database{client: client}
}

// Client returns the underlying Firestore client.
func (d *Database) Client() *firestore.Client {
	return d.client
}

func (d *Database) doc(op, path string) (*firestore.DocumentRef, error) {
	d.mu.Lock()
	closed := d.closed
	d.mu.Unlock()
	if closed {
		return nil, backend.Errorf(backend.CodeUnavailable, op, path, "database closed")
	}
	ref := d.client.Doc(path)
	if ref == nil {
		return nil, backend.Errorf(backend.CodeInvalidArgument, op, path, "not a document path")
	}
	return ref, nil
}

// ListenDocument pumps ref.Snapshots into sink on its own goroutine until
// the listener is stopped.
func (d *Database) ListenDocument(ctx context.Context, path string, sink backend.DocumentSink) (backend.Listener, error) {
	ref, err := d.doc("get", path)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	it := ref.Snapshots(ctx)
	stop := d.pump(cancel, it.Stop)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		for {
			snap, err := it.Next()
			if err != nil {
				if !finished(err) {
					sink(backend.Document{}, fmt.Errorf("listen %s: %w", path, err))
				}
				return
			}
			sink(toDocument(path, snap), nil)
		}
	}()
	return stop, nil
}

// ListenQuery pumps the query's snapshots into sink. Every push carries
// the full result set.
func (d *Database) ListenQuery(ctx context.Context, q query.Query, sink backend.QuerySink) (backend.Listener, error) {
	fq, err := d.compile(q)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	it := fq.Snapshots(ctx)
	stop := d.pump(cancel, it.Stop)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		for {
			qs, err := it.Next()
			if err != nil {
				if !finished(err) {
					sink(nil, fmt.Errorf("listen %s: %w", q.Collection, err))
				}
				return
			}
			snaps, err := qs.Documents.GetAll()
			if err != nil {
				if !finished(err) {
					sink(nil, fmt.Errorf("listen %s: %w", q.Collection, err))
				}
				return
			}
			docs := make([]backend.Document, 0, len(snaps))
			for _, s := range snaps {
				docs = append(docs, toDocument(relativePath(s.Ref.Path), s))
			}
			sink(docs, nil)
		}
	}()
	return stop, nil
}

func (d *Database) pump(cancel context.CancelFunc, stopIter func()) backend.Listener {
	var once sync.Once
	return backend.ListenerFunc(func() {
		once.Do(func() {
			stopIter()
			cancel()
		})
	})
}

func (d *Database) compile(q query.Query) (firestore.Query, error) {
	if err := query.Validate(q); err != nil {
		return firestore.Query{}, &backend.Error{Code: backend.CodeInvalidArgument, Op: "list", Path: q.Collection, Err: err}
	}

	d.mu.Lock()
	closed := d.closed
	d.mu.Unlock()
	if closed {
		return firestore.Query{}, backend.Errorf(backend.CodeUnavailable, "list", q.Collection, "database closed")
	}

	col := d.client.Collection(q.Collection)
	if col == nil {
		return firestore.Query{}, backend.Errorf(backend.CodeInvalidArgument, "list", q.Collection, "not a collection path")
	}

	fq := col.Query
	for _, w := range q.Conjuncts() {
		fq = fq.Where(w.Field, string(w.Op), w.Value)
	}
	for _, o := range q.Orders {
		dir := firestore.Asc
		if o.Direction == query.Descending {
			dir = firestore.Desc
		}
		fq = fq.OrderBy(o.Field, dir)
	}
	if q.Max > 0 {
		fq = fq.Limit(q.Max)
	}
	return fq, nil
}

func (d *Database) Create(ctx context.Context, path string, data backend.Fields) error {
	ref, err := d.doc("create", path)
	if err != nil {
		return err
	}
	if _, err := ref.Create(ctx, data); err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	return nil
}

func (d *Database) Set(ctx context.Context, path string, data backend.Fields, merge bool) error {
	ref, err := d.doc("set", path)
	if err != nil {
		return err
	}
	var opts []firestore.SetOption
	if merge {
		opts = append(opts, firestore.MergeAll)
	}
	if _, err := ref.Set(ctx, data, opts...); err != nil {
		return fmt.Errorf("set %s: %w", path, err)
	}
	return nil
}

func (d *Database) Update(ctx context.Context, path string, data backend.Fields) error {
	ref, err := d.doc("update", path)
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return backend.Errorf(backend.CodeInvalidArgument, "update", path, "no fields to update")
	}
	if _, err := ref.Update(ctx, updates(data)); err != nil {
		return fmt.Errorf("update %s: %w", path, err)
	}
	return nil
}

func (d *Database) Delete(ctx context.Context, path string) error {
	ref, err := d.doc("delete", path)
	if err != nil {
		return err
	}
	if _, err := ref.Delete(ctx); err != nil {
		return fmt.Errorf("delete %s: %w", path, err)
	}
	return nil
}

// Close waits for listener goroutines that already finished their last
// push, then closes the client. Listeners still registered end when the
// client closes.
func (d *Database) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.mu.Unlock()

	err := d.client.Close()
	d.wg.Wait()
	if err != nil {
		slog.Warn("firestore client close failed", "error", err)
		return fmt.Errorf("close firestore client: %w", err)
	}
	return nil
}

// updates converts top-level fields to Firestore updates in key order.
func updates(data backend.Fields) []firestore.Update {
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]firestore.Update, 0, len(keys))
	for _, k := range keys {
		out = append(out, firestore.Update{Path: k, Value: data[k]})
	}
	return out
}

func toDocument(path string, snap *firestore.DocumentSnapshot) backend.Document {
	if snap == nil || !snap.Exists() {
		return backend.NewDocument(path, lastSegment(path), false, nil, nil)
	}
	return backend.NewDocument(path, snap.Ref.ID, true, snap.Data(), nil)
}

// relativePath strips the "projects/<p>/databases/<d>/documents/" prefix
// from a full resource name.
func relativePath(full string) string {
	if _, rest, ok := strings.Cut(full, "/documents/"); ok {
		return rest
	}
	return full
}

func lastSegment(path string) string {
	if i := strings.LastIndexByte(path, '/'); i >= 0 {
		return path[i+1:]
	}
	return path
}

// finished reports whether err only signals the end of the iterator.
func finished(err error) bool {
	if errors.Is(err, iterator.Done) || errors.Is(err, context.Canceled) {
		return true
	}
	return status.Code(err) == codes.Canceled
}
