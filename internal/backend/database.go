package backend

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/roach88/carelink/internal/query"
)

// Fields is a write payload: top-level field names to values.
type Fields = map[string]any

// Document is one pushed document.
type Document struct {
	// Path is the full document path, e.g. "consultationRequests/r1".
	Path string
	// ID is the last path segment.
	ID string
	// Exists is false when the document is absent; Data is nil then.
	Exists bool
	Data   map[string]any

	decode func(v any) error
}

// NewDocument builds a Document. decode converts the stored form into a Go
// value; when nil, Decode round-trips Data through encoding/json.
func NewDocument(path, id string, exists bool, data map[string]any, decode func(v any) error) Document {
	return Document{Path: path, ID: id, Exists: exists, Data: data, decode: decode}
}

// Decode stores the document fields into v.
func (d Document) Decode(v any) error {
	if !d.Exists {
		return &Error{Code: CodeNotFound, Path: d.Path, Err: fmt.Errorf("document does not exist")}
	}
	if d.decode != nil {
		if err := d.decode(v); err != nil {
			return &Error{Code: CodeInvalidData, Path: d.Path, Err: err}
		}
		return nil
	}

	raw, err := json.Marshal(d.Data)
	if err != nil {
		return &Error{Code: CodeInvalidData, Path: d.Path, Err: err}
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return &Error{Code: CodeInvalidData, Path: d.Path, Err: err}
	}
	return nil
}

// DocumentSink receives pushes for a document listener.
type DocumentSink func(doc Document, err error)

// QuerySink receives pushes for a query listener. docs is the full result
// set in query order.
type QuerySink func(docs []Document, err error)

// Listener is a registered push subscription.
type Listener interface {
	Stop()
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func()

// Stop calls f.
func (f ListenerFunc) Stop() { f() }

// Database is the capability every backend provides.
type Database interface {
	// ListenDocument registers a listener for one document path.
	ListenDocument(ctx context.Context, path string, sink DocumentSink) (Listener, error)

	// ListenQuery registers a listener for a collection query.
	ListenQuery(ctx context.Context, q query.Query, sink QuerySink) (Listener, error)

	// Create writes a new document and fails with CodeAlreadyExists if present.
	Create(ctx context.Context, path string, data Fields) error

	// Set overwrites a document, or merges top-level fields when merge is true.
	Set(ctx context.Context, path string, data Fields, merge bool) error

	// Update changes fields of an existing document (CodeNotFound otherwise).
	Update(ctx context.Context, path string, data Fields) error

	// Delete removes a document. Deleting a missing document succeeds.
	Delete(ctx context.Context, path string) error

	// Close releases the client. Further calls fail with CodeUnavailable.
	Close() error
}
