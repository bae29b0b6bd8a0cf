package query

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/roach88/carelink/internal/docpath"
)

// Domain prefixes keep document keys and query keys from colliding.
const (
	DomainQuery    = "carelink/query/v1"
	DomainDocument = "carelink/document/v1"
)

// hashWithDomain computes SHA256(domain + 0x00 + data).
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// Key returns the identity of q. Queries with equal keys select the same
// documents in the same order.
//
// Nested And predicates are flattened first, so
// From("a").Where(x).Where(y) and an explicit And{x, y} share a key.
func Key(q Query) (string, error) {
	col, err := docpath.Collection(q.Collection)
	if err != nil {
		return "", fmt.Errorf("query key: %w", err)
	}

	filters := make([]any, 0)
	for _, w := range q.Conjuncts() {
		val, err := Normalize(w.Value)
		if err != nil {
			return "", fmt.Errorf("query key: field %q: %w", w.Field, err)
		}
		filters = append(filters, map[string]any{
			"field": w.Field,
			"op":    string(w.Op),
			"value": val,
		})
	}

	orders := make([]any, 0, len(q.Orders))
	for _, o := range q.Orders {
		orders = append(orders, map[string]any{
			"field": o.Field,
			"dir":   o.Direction.String(),
		})
	}

	canonical, err := marshalCanonical(map[string]any{
		"collection": col.String(),
		"filters":    filters,
		"orders":     orders,
		"limit":      int64(q.Max),
	})
	if err != nil {
		return "", fmt.Errorf("query key: %w", err)
	}

	return hashWithDomain(DomainQuery, canonical), nil
}

// DocumentKey returns the identity of a document target.
func DocumentKey(path string) (string, error) {
	p, err := docpath.Document(path)
	if err != nil {
		return "", fmt.Errorf("document key: %w", err)
	}
	b, err := marshalCanonicalString(p.String())
	if err != nil {
		return "", fmt.Errorf("document key: %w", err)
	}
	return hashWithDomain(DomainDocument, b), nil
}

// MustKey is like Key but panics on error. Use only in tests.
func MustKey(q Query) string {
	k, err := Key(q)
	if err != nil {
		panic(err)
	}
	return k
}
