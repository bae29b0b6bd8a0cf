// Package docpath parses slash-separated document database paths.
//
// A path alternates collection and document segments:
//
//	consultationRequests            collection
//	consultationRequests/r1         document
//	doctors/d1/slots                collection (nested)
//	doctors/d1/slots/s9             document (nested)
//
// Odd segment counts name collections, even counts name documents.
package docpath

import (
	"fmt"
	"strings"
)

// Kind distinguishes collection paths from document paths.
type Kind int

const (
	// KindCollection is a path with an odd number of segments.
	KindCollection Kind = iota + 1
	// KindDocument is a path with an even number of segments.
	KindDocument
)

func (k Kind) String() string {
	switch k {
	case KindCollection:
		return "collection"
	case KindDocument:
		return "document"
	default:
		return "unknown"
	}
}

// Path is a validated database path.
type Path struct {
	segments []string
}

// PathError reports a malformed path.
type PathError struct {
	Path    string
	Message string
}

func (e *PathError) Error() string {
	return fmt.Sprintf("invalid path %q: %s", e.Path, e.Message)
}

// Parse validates raw and returns its Path.
// Leading and trailing slashes are ignored; empty inner segments are not.
func Parse(raw string) (Path, error) {
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return Path{}, &PathError{Path: raw, Message: "path is empty"}
	}

	segments := strings.Split(trimmed, "/")
	for i, seg := range segments {
		if seg == "" {
			return Path{}, &PathError{Path: raw, Message: fmt.Sprintf("segment %d is empty", i)}
		}
		if seg == "." || seg == ".." {
			return Path{}, &PathError{Path: raw, Message: fmt.Sprintf("segment %d is reserved: %q", i, seg)}
		}
		if strings.HasPrefix(seg, "__") && strings.HasSuffix(seg, "__") {
			return Path{}, &PathError{Path: raw, Message: fmt.Sprintf("segment %d is reserved: %q", i, seg)}
		}
	}

	return Path{segments: segments}, nil
}

// Document parses raw and requires it to name a document.
func Document(raw string) (Path, error) {
	p, err := Parse(raw)
	if err != nil {
		return Path{}, err
	}
	if p.Kind() != KindDocument {
		return Path{}, &PathError{Path: raw, Message: "expected a document path (even number of segments)"}
	}
	return p, nil
}

// Collection parses raw and requires it to name a collection.
func Collection(raw string) (Path, error) {
	p, err := Parse(raw)
	if err != nil {
		return Path{}, err
	}
	if p.Kind() != KindCollection {
		return Path{}, &PathError{Path: raw, Message: "expected a collection path (odd number of segments)"}
	}
	return p, nil
}

// Kind reports whether p names a collection or a document.
func (p Path) Kind() Kind {
	if len(p.segments) == 0 {
		return 0
	}
	if len(p.segments)%2 == 1 {
		return KindCollection
	}
	return KindDocument
}

// IsZero reports whether p is the zero Path.
func (p Path) IsZero() bool {
	return len(p.segments) == 0
}

// String returns the canonical form without leading or trailing slashes.
func (p Path) String() string {
	return strings.Join(p.segments, "/")
}

// ID returns the last segment.
func (p Path) ID() string {
	if len(p.segments) == 0 {
		return ""
	}
	return p.segments[len(p.segments)-1]
}

// Parent returns the collection containing a document, or the document
// containing a nested collection. The parent of a root collection is zero.
func (p Path) Parent() Path {
	if len(p.segments) <= 1 {
		return Path{}
	}
	return Path{segments: p.segments[:len(p.segments)-1]}
}

// Child appends id to a collection path, producing a document path.
func (p Path) Child(id string) (Path, error) {
	if p.Kind() != KindCollection {
		return Path{}, &PathError{Path: p.String(), Message: "child documents require a collection path"}
	}
	return Parse(p.String() + "/" + id)
}

// Segments returns a copy of the path segments.
func (p Path) Segments() []string {
	out := make([]string, len(p.segments))
	copy(out, p.segments)
	return out
}
