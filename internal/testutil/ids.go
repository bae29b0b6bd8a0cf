package testutil

import (
	"fmt"
	"sync"
)

// SequentialIDs hands out predictable identifiers: "<prefix>-1",
// "<prefix>-2", ... for documents and "req-1", "req-2", ... for requests.
//
// Thread-safety: all methods are safe for concurrent use.
type SequentialIDs struct {
	mu     sync.Mutex
	prefix string
	docs   int
	reqs   int
}

// NewSequentialIDs creates a generator. An empty prefix becomes "doc".
func NewSequentialIDs(prefix string) *SequentialIDs {
	if prefix == "" {
		prefix = "doc"
	}
	return &SequentialIDs{prefix: prefix}
}

// DocumentID returns the next document ID.
func (g *SequentialIDs) DocumentID() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.docs++
	return fmt.Sprintf("%s-%d", g.prefix, g.docs)
}

// RequestID returns the next request ID.
func (g *SequentialIDs) RequestID() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.reqs++
	return fmt.Sprintf("req-%d", g.reqs)
}

// Reset starts both sequences over.
func (g *SequentialIDs) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.docs = 0
	g.reqs = 0
}
