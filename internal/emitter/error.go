package emitter

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/roach88/carelink/internal/backend"
)

// Operation names what the denied request attempted.
type Operation string

const (
	OpGet    Operation = "get"
	OpList   Operation = "list"
	OpCreate Operation = "create"
	OpWrite  Operation = "write"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// documentsRoot prefixes paths in rendered requests, matching how security
// rules report the resource being accessed.
const documentsRoot = "/databases/(default)/documents/"

// PermissionError describes a write that the database refused, with enough
// context to display or log it away from the call site.
type PermissionError struct {
	Operation Operation
	Path      string
	// Payload is the data the write tried to store; nil for deletes.
	Payload map[string]any
	// Code is the backend classification of Err.
	Code backend.Code
	// RequestID correlates the failure with the write that caused it.
	RequestID string
	Err       error
}

// Request renders the denied request in the shape security rules use.
func (e *PermissionError) Request() map[string]any {
	req := map[string]any{
		"method": string(e.Operation),
		"path":   documentsRoot + e.Path,
	}
	if e.Payload != nil {
		req["request.resource.data"] = e.Payload
	}
	return req
}

func (e *PermissionError) Error() string {
	body, err := json.MarshalIndent(e.Request(), "", "  ")
	if err != nil {
		body = []byte(fmt.Sprintf("%v", e.Request()))
	}
	if e.Code == backend.CodePermissionDenied {
		return "Missing or insufficient permissions: The following request was denied by security rules:\n" + string(body)
	}
	return fmt.Sprintf("%s: %s %s failed: %v\n%s", e.Code, e.Operation, e.Path, e.Err, body)
}

func (e *PermissionError) Unwrap() error {
	return e.Err
}

// IsPermissionError reports whether err wraps a *PermissionError and
// returns it.
func IsPermissionError(err error) (*PermissionError, bool) {
	var pe *PermissionError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}
