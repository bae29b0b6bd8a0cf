package live

import (
	"fmt"

	"github.com/roach88/carelink/internal/emitter"
	"github.com/roach88/carelink/internal/query"
)

type targetKind int

const (
	kindNone targetKind = iota
	kindDocument
	kindQuery
)

// Target describes what a subscription listens to. The zero Target is the
// no-target descriptor.
type Target struct {
	kind  targetKind
	path  string
	query query.Query
}

// DocumentTarget targets one document. An empty path is the no-target
// descriptor.
func DocumentTarget(path string) Target {
	if path == "" {
		return Target{}
	}
	return Target{kind: kindDocument, path: path}
}

// QueryTarget targets a collection query. A query without a collection is
// the no-target descriptor.
func QueryTarget(q query.Query) Target {
	if q.Collection == "" {
		return Target{}
	}
	return Target{kind: kindQuery, path: q.Collection, query: q}
}

// NoTarget reports whether t is the no-target descriptor.
func (t Target) NoTarget() bool {
	return t.kind == kindNone
}

// Path returns the document path or the query's collection.
func (t Target) Path() string {
	return t.path
}

// Query returns the query of a query target.
func (t Target) Query() (query.Query, bool) {
	return t.query, t.kind == kindQuery
}

func (t Target) String() string {
	switch t.kind {
	case kindDocument:
		return "doc:" + t.path
	case kindQuery:
		return "query:" + t.path
	default:
		return "none"
	}
}

func (t Target) operation() emitter.Operation {
	if t.kind == kindQuery {
		return emitter.OpList
	}
	return emitter.OpGet
}

// Key returns the descriptor key used to share listeners. Equal targets
// have equal keys. The no-target descriptor has the empty key.
func (t Target) Key() (string, error) {
	switch t.kind {
	case kindNone:
		return "", nil
	case kindDocument:
		return query.DocumentKey(t.path)
	case kindQuery:
		if err := query.Validate(t.query); err != nil {
			return "", err
		}
		return query.Key(t.query)
	default:
		return "", fmt.Errorf("unknown target kind %d", t.kind)
	}
}
