package live

import (
	"fmt"

	"github.com/roach88/carelink/internal/backend"
	"github.com/roach88/carelink/internal/emitter"
)

// State is a snapshot of a subscription. It is never mutated after it is
// published.
type State[T any] struct {
	Data      T
	IsLoading bool
	Err       error
	// Seq is the dispatch sequence number of the event that produced this
	// state, 0 for states set outside the loop.
	Seq int64
}

// Doc is a decoded document with its identity attached.
type Doc[T any] struct {
	ID   string
	Path string
	Data T
}

// ListenError reports a listener failure. It stays on the subscription that
// hit it and is never broadcast.
type ListenError struct {
	// Operation is OpGet for document targets and OpList for queries.
	Operation emitter.Operation
	Path      string
	Code      backend.Code
	Err       error
}

func (e *ListenError) Error() string {
	return fmt.Sprintf("%s %s: %s: %v", e.Operation, e.Path, e.Code, e.Err)
}

func (e *ListenError) Unwrap() error {
	return e.Err
}

func newListenError(op emitter.Operation, path string, err error) *ListenError {
	return &ListenError{
		Operation: op,
		Path:      path,
		Code:      backend.CodeOf(err),
		Err:       err,
	}
}
