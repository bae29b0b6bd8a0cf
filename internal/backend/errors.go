package backend

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Code classifies backend failures.
type Code string

const (
	CodeUnknown          Code = "unknown"
	CodePermissionDenied Code = "permission-denied"
	CodeNotFound         Code = "not-found"
	CodeAlreadyExists    Code = "already-exists"
	CodeInvalidArgument  Code = "invalid-argument"
	CodeUnavailable      Code = "unavailable"
	CodeCanceled         Code = "canceled"
	CodeInvalidData      Code = "invalid-data"
)

// Error is a coded backend failure.
type Error struct {
	Code Code
	// Op is the backend operation ("get", "list", "create", ...), if known.
	Op   string
	Path string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Path != "":
		return fmt.Sprintf("%s: %s %s: %v", e.Code, e.Op, e.Path, e.Err)
	case e.Path != "":
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Path, e.Err)
	default:
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Errorf builds a coded error.
func Errorf(code Code, op, path, format string, args ...any) *Error {
	return &Error{Code: code, Op: op, Path: path, Err: fmt.Errorf(format, args...)}
}

// CodeOf classifies err. It understands *Error anywhere in the chain, gRPC
// statuses (Firestore reports failures that way) and context errors.
// A nil error has no code and yields "".
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}

	var be *Error
	if errors.As(err, &be) {
		return be.Code
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return CodeCanceled
	}
	if st, ok := status.FromError(err); ok {
		return fromGRPC(st.Code())
	}
	return CodeUnknown
}

func fromGRPC(c codes.Code) Code {
	switch c {
	case codes.PermissionDenied, codes.Unauthenticated:
		return CodePermissionDenied
	case codes.NotFound:
		return CodeNotFound
	case codes.AlreadyExists:
		return CodeAlreadyExists
	case codes.InvalidArgument, codes.FailedPrecondition, codes.OutOfRange:
		return CodeInvalidArgument
	case codes.Unavailable, codes.ResourceExhausted, codes.Aborted:
		return CodeUnavailable
	case codes.Canceled, codes.DeadlineExceeded:
		return CodeCanceled
	default:
		return CodeUnknown
	}
}

// IsPermissionDenied reports whether err is a permission denial.
func IsPermissionDenied(err error) bool {
	return CodeOf(err) == CodePermissionDenied
}
