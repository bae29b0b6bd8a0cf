package mutation

import (
	"strings"

	"github.com/google/uuid"

	"github.com/roach88/carelink/internal/backend"
	"github.com/roach88/carelink/internal/emitter"
)

// Op is a write kind.
type Op string

const (
	OpCreate Op = "create"
	OpSet    Op = "set"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// ParseOp parses a write kind as typed on the command line.
func ParseOp(s string) (Op, bool) {
	switch op := Op(strings.ToLower(s)); op {
	case OpCreate, OpSet, OpUpdate, OpDelete:
		return op, true
	default:
		return "", false
	}
}

// Operation maps the write kind to the operation reported in errors.
func (o Op) Operation() emitter.Operation {
	switch o {
	case OpCreate:
		return emitter.OpCreate
	case OpUpdate:
		return emitter.OpUpdate
	case OpDelete:
		return emitter.OpDelete
	default:
		return emitter.OpWrite
	}
}

// Request is one queued write.
type Request struct {
	ID      string
	Op      Op
	Path    string
	Payload backend.Fields
	// Merge makes a set keep fields absent from Payload.
	Merge bool
}

// IDSource produces request and document identifiers.
type IDSource interface {
	RequestID() string
	DocumentID() string
}

// UUIDv7IDs generates time-sortable UUIDv7 identifiers. Document IDs are
// the 32 hex digits without hyphens.
//
// Thread-safety: UUIDv7IDs is stateless and safe for concurrent use.
type UUIDv7IDs struct{}

func (UUIDv7IDs) RequestID() string {
	return uuid.Must(uuid.NewV7()).String()
}

func (UUIDv7IDs) DocumentID() string {
	return strings.ReplaceAll(uuid.Must(uuid.NewV7()).String(), "-", "")
}

// clonePayload deep-copies the maps and slices of p, so the caller may
// reuse its map once a write call returns.
func clonePayload(p backend.Fields) backend.Fields {
	if p == nil {
		return nil
	}
	return cloneValue(p).(map[string]any)
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, x := range val {
			out[k] = cloneValue(x)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, x := range val {
			out[i] = cloneValue(x)
		}
		return out
	case []map[string]any:
		out := make([]map[string]any, len(val))
		for i, x := range val {
			out[i] = cloneValue(x).(map[string]any)
		}
		return out
	case []string:
		return append([]string(nil), val...)
	default:
		return v
	}
}
