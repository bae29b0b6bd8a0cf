package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/roach88/carelink/internal/backend"
	"github.com/roach88/carelink/internal/query"
)

// symbolicOps are matched longest first so "<=" is not read as "<".
var symbolicOps = []query.Op{
	query.OpEqual,
	query.OpNotEqual,
	query.OpLessOrEqual,
	query.OpGreaterOrEqual,
	query.OpLess,
	query.OpGreater,
}

// parseWhere reads a filter flag: "field==value", "field<=3" or, for word
// operators, "field in [\"a\",\"b\"]". Values are JSON when they parse as
// JSON and plain strings otherwise.
func parseWhere(s string) (query.Where, error) {
	if fields := strings.SplitN(strings.TrimSpace(s), " ", 3); len(fields) == 3 {
		if op, err := query.ParseOp(fields[1]); err == nil && !isSymbolic(op) {
			if fields[0] == "" {
				return query.Where{}, fmt.Errorf("filter %q: field is empty", s)
			}
			return query.Where{Field: fields[0], Op: op, Value: parseValue(fields[2])}, nil
		}
	}

	for _, op := range symbolicOps {
		i := strings.Index(s, string(op))
		if i < 0 {
			continue
		}
		field := strings.TrimSpace(s[:i])
		if field == "" {
			return query.Where{}, fmt.Errorf("filter %q: field is empty", s)
		}
		return query.Where{Field: field, Op: op, Value: parseValue(strings.TrimSpace(s[i+len(op):]))}, nil
	}
	return query.Where{}, fmt.Errorf("filter %q: expected field, operator and value", s)
}

func isSymbolic(op query.Op) bool {
	for _, o := range symbolicOps {
		if o == op {
			return true
		}
	}
	return false
}

func parseValue(s string) any {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err == nil {
		return v
	}
	return s
}

// parseOrder reads an ordering flag: "field" or "field:desc".
func parseOrder(s string) (query.Order, error) {
	field, dir, found := strings.Cut(s, ":")
	if field == "" {
		return query.Order{}, fmt.Errorf("order %q: field is empty", s)
	}
	if !found {
		return query.Order{Field: field}, nil
	}
	switch strings.ToLower(dir) {
	case "asc":
		return query.Order{Field: field, Direction: query.Ascending}, nil
	case "desc":
		return query.Order{Field: field, Direction: query.Descending}, nil
	default:
		return query.Order{}, fmt.Errorf("order %q: direction must be asc or desc", s)
	}
}

// buildQuery assembles a query from the watch flags.
func buildQuery(collection string, where, orderBy []string, limit int) (query.Query, error) {
	q := query.From(collection)
	for _, w := range where {
		cond, err := parseWhere(w)
		if err != nil {
			return query.Query{}, err
		}
		q = q.Where(cond.Field, cond.Op, cond.Value)
	}
	for _, o := range orderBy {
		ord, err := parseOrder(o)
		if err != nil {
			return query.Query{}, err
		}
		q = q.OrderBy(ord.Field, ord.Direction)
	}
	if limit < 0 {
		return query.Query{}, fmt.Errorf("limit must not be negative, got %d", limit)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := query.Validate(q); err != nil {
		return query.Query{}, err
	}
	return q, nil
}

// parsePayload decodes a write payload. An empty argument is an empty
// document.
func parsePayload(arg string) (backend.Fields, error) {
	if strings.TrimSpace(arg) == "" {
		return backend.Fields{}, nil
	}
	var fields backend.Fields
	if err := json.Unmarshal([]byte(arg), &fields); err != nil {
		return nil, fmt.Errorf("payload must be a JSON object: %w", err)
	}
	if fields == nil {
		return nil, fmt.Errorf("payload must be a JSON object, got null")
	}
	return fields, nil
}
