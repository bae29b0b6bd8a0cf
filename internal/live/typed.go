package live

import (
	"github.com/roach88/carelink/internal/backend"
	"github.com/roach88/carelink/internal/query"
)

// Document subscribes to the document at path. Data is nil while loading,
// when the document does not exist and when path is empty.
func Document[T any](s *Scope, path string) *Subscription[*Doc[T]] {
	return newSubscription(s, kindDocument, decodeDocument[T], DocumentTarget(path))
}

// Collection subscribes to the result set of q. Data holds the documents
// in query order; it is nil until the first push.
func Collection[T any](s *Scope, q query.Query) *Subscription[[]Doc[T]] {
	return newSubscription(s, kindQuery, decodeCollection[T], QueryTarget(q))
}

func decodeDocument[T any](p push) (*Doc[T], error) {
	if p.doc == nil || !p.doc.Exists {
		return nil, nil
	}
	d, err := decodeOne[T](*p.doc)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func decodeCollection[T any](p push) ([]Doc[T], error) {
	out := make([]Doc[T], 0, len(p.docs))
	for _, raw := range p.docs {
		d, err := decodeOne[T](raw)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

func decodeOne[T any](raw backend.Document) (Doc[T], error) {
	var data T
	if err := raw.Decode(&data); err != nil {
		return Doc[T]{}, err
	}
	return Doc[T]{ID: raw.ID, Path: raw.Path, Data: data}, nil
}
