// Package querysql compiles query descriptors to parameterized SQLite over
// the JSON document bodies of the local backend.
//
// Every compiled statement orders by path as the final key, so results are
// deterministic. Values and field paths are always bound as parameters,
// never interpolated.
package querysql

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/roach88/carelink/internal/query"
)

// Table is the documents table the compiler targets.
const Table = "documents"

// Columns is the column list every compiled SELECT returns, in order.
const Columns = "path, id, data"

// Compile converts q to a SELECT over Table. Returns (sql, params, error).
// q must be valid (see query.Validate).
//
// Field semantics follow Firestore: comparisons only match fields of the
// same type as the value, != and not-in skip documents missing the field,
// and ordering on a field skips documents that lack it.
func Compile(q query.Query) (string, []any, error) {
	if err := query.Validate(q); err != nil {
		return "", nil, err
	}

	var b builder
	b.where("collection = ?", q.Collection)

	for _, w := range q.Conjuncts() {
		if err := b.predicate(w); err != nil {
			return "", nil, fmt.Errorf("compile %s %s: %w", w.Field, w.Op, err)
		}
	}

	var orders []string
	for _, o := range q.Orders {
		b.where("json_type(data, ?) IS NOT NULL", jsonPath(o.Field))
		dir := "ASC"
		if o.Direction == query.Descending {
			dir = "DESC"
		}
		orders = append(orders, "json_extract(data, ?) "+dir)
		b.orderParams = append(b.orderParams, jsonPath(o.Field))
	}
	// Stable tiebreaker, matching document-name ordering.
	orders = append(orders, "path ASC COLLATE BINARY")

	sql := fmt.Sprintf("SELECT %s FROM %s WHERE %s ORDER BY %s",
		Columns, Table, strings.Join(b.clauses, " AND "), strings.Join(orders, ", "))

	params := append(b.params, b.orderParams...)
	if q.Max > 0 {
		sql += " LIMIT ?"
		params = append(params, int64(q.Max))
	}
	return sql, params, nil
}

type builder struct {
	clauses     []string
	params      []any
	orderParams []any
}

func (b *builder) where(clause string, params ...any) {
	b.clauses = append(b.clauses, clause)
	b.params = append(b.params, params...)
}

func (b *builder) predicate(w query.Where) error {
	path := jsonPath(w.Field)
	value, err := query.Normalize(w.Value)
	if err != nil {
		return err
	}

	switch w.Op {
	case query.OpEqual:
		return b.equal(path, value, "=")
	case query.OpNotEqual:
		b.where("json_type(data, ?) IS NOT NULL", path)
		return b.equal(path, value, "!=")
	case query.OpLess, query.OpLessOrEqual, query.OpGreater, query.OpGreaterOrEqual:
		guard, err := typeGuard(value)
		if err != nil {
			return err
		}
		param, err := toParam(value)
		if err != nil {
			return err
		}
		b.where(fmt.Sprintf("json_type(data, ?) %s AND json_extract(data, ?) %s ?", guard, w.Op), path, path, param)
		return nil
	case query.OpIn, query.OpNotIn:
		list := value.([]any)
		holders, params, err := listParams(list)
		if err != nil {
			return err
		}
		if w.Op == query.OpIn {
			b.where(fmt.Sprintf("json_extract(data, ?) IN (%s)", holders), append([]any{path}, params...)...)
		} else {
			b.where(fmt.Sprintf("json_type(data, ?) IS NOT NULL AND json_extract(data, ?) NOT IN (%s)", holders),
				append([]any{path, path}, params...)...)
		}
		return nil
	case query.OpArrayContains:
		param, err := toParam(value)
		if err != nil {
			return err
		}
		b.where("json_type(data, ?) = 'array' AND EXISTS (SELECT 1 FROM json_each(data, ?) WHERE value = ?)",
			path, path, param)
		return nil
	case query.OpArrayContainsAny:
		holders, params, err := listParams(value.([]any))
		if err != nil {
			return err
		}
		b.where(fmt.Sprintf("json_type(data, ?) = 'array' AND EXISTS (SELECT 1 FROM json_each(data, ?) WHERE value IN (%s))", holders),
			append([]any{path, path}, params...)...)
		return nil
	default:
		return fmt.Errorf("unsupported operator %q", w.Op)
	}
}

// equal compiles == and != (without the existence guard).
func (b *builder) equal(path string, value any, op string) error {
	switch v := value.(type) {
	case nil:
		if op == "=" {
			b.where("json_type(data, ?) = 'null'", path)
		} else {
			b.where("json_type(data, ?) != 'null'", path)
		}
		return nil
	case []any:
		raw, err := json.Marshal(v)
		if err != nil {
			return err
		}
		b.where(fmt.Sprintf("json_type(data, ?) = 'array' AND json_extract(data, ?) %s json(?)", op), path, path, string(raw))
		return nil
	}

	guard, err := typeGuard(value)
	if err != nil {
		return err
	}
	param, err := toParam(value)
	if err != nil {
		return err
	}
	if op == "=" {
		b.where(fmt.Sprintf("json_type(data, ?) %s AND json_extract(data, ?) = ?", guard), path, path, param)
	} else {
		b.where(fmt.Sprintf("(json_type(data, ?) NOT %s OR json_extract(data, ?) != ?)", guard), path, path, param)
	}
	return nil
}

// typeGuard restricts a comparison to stored values of the same JSON type.
func typeGuard(v any) (string, error) {
	switch v.(type) {
	case string:
		return "IN ('text')", nil
	case int64, float64:
		return "IN ('integer', 'real')", nil
	case bool:
		return "IN ('true', 'false')", nil
	default:
		return "", fmt.Errorf("value of type %T cannot be compared", v)
	}
}

// toParam converts a normalized scalar to the form json_extract returns.
func toParam(v any) (any, error) {
	switch val := v.(type) {
	case string, int64, float64:
		return val, nil
	case bool:
		if val {
			return int64(1), nil
		}
		return int64(0), nil
	case nil:
		return nil, nil
	default:
		return nil, fmt.Errorf("value of type %T cannot be used as a parameter", v)
	}
}

func listParams(list []any) (string, []any, error) {
	holders := make([]string, len(list))
	params := make([]any, len(list))
	for i, item := range list {
		p, err := toParam(item)
		if err != nil {
			return "", nil, err
		}
		holders[i] = "?"
		params[i] = p
	}
	return strings.Join(holders, ", "), params, nil
}

// jsonPath converts a dotted field path to a quoted SQLite JSON path:
// "address.city" becomes `$."address"."city"`.
func jsonPath(field string) string {
	parts := strings.Split(field, ".")
	var b strings.Builder
	b.WriteString("$")
	for _, p := range parts {
		b.WriteString(`."`)
		b.WriteString(strings.ReplaceAll(p, `"`, `\"`))
		b.WriteString(`"`)
	}
	return b.String()
}
