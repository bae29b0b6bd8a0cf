package query

import (
	"fmt"
	"strings"

	"github.com/roach88/carelink/internal/docpath"
)

// ValidationError describes one problem with a query.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Errors collects every validation problem of a query.
type Errors []ValidationError

func (e Errors) Error() string {
	parts := make([]string, len(e))
	for i, ve := range e {
		parts[i] = ve.Error()
	}
	return "invalid query: " + strings.Join(parts, "; ")
}

// Validate checks q and returns all problems found (not fail-fast).
// A zero query is invalid; callers that treat a missing target as
// "no subscription" must check IsZero first.
func Validate(q Query) error {
	v := &validator{}
	v.validate(q)
	if len(v.errs) == 0 {
		return nil
	}
	return v.errs
}

type validator struct {
	errs Errors
}

func (v *validator) add(field, format string, args ...any) {
	v.errs = append(v.errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
}

func (v *validator) validate(q Query) {
	if _, err := docpath.Collection(q.Collection); err != nil {
		v.add("collection", "%v", err)
	}
	if q.Max < 0 {
		v.add("limit", "must not be negative, got %d", q.Max)
	}

	v.validatePredicate("filter", q.Filter)

	for i, o := range q.Orders {
		if o.Field == "" {
			v.add(fmt.Sprintf("orders[%d].field", i), "field is required")
		}
	}
}

func (v *validator) validatePredicate(field string, p Predicate) {
	switch pred := p.(type) {
	case nil:
	case Where:
		v.validateWhere(field, pred)
	case *Where:
		v.validateWhere(field, *pred)
	case And:
		for i, sub := range pred.Predicates {
			v.validatePredicate(fmt.Sprintf("%s.and[%d]", field, i), sub)
		}
	case *And:
		for i, sub := range pred.Predicates {
			v.validatePredicate(fmt.Sprintf("%s.and[%d]", field, i), sub)
		}
	default:
		v.add(field, "unsupported predicate type %T", p)
	}
}

func (v *validator) validateWhere(field string, w Where) {
	if w.Field == "" {
		v.add(field+".field", "field is required")
	}
	if !ValidOps[w.Op] {
		v.add(field+".op", "unknown operator %q", w.Op)
		return
	}

	norm, err := Normalize(w.Value)
	if err != nil {
		v.add(field+".value", "%v", err)
		return
	}

	_, isList := norm.([]any)
	switch {
	case ListOp(w.Op) && !isList:
		v.add(field+".value", "operator %q requires a list value", w.Op)
	case ListOp(w.Op) && len(norm.([]any)) == 0:
		v.add(field+".value", "operator %q requires a non-empty list", w.Op)
	case !ListOp(w.Op) && isList && w.Op != OpEqual && w.Op != OpNotEqual:
		v.add(field+".value", "operator %q does not accept a list value", w.Op)
	}
}

// Normalize converts a filter value to its canonical Go form:
// int kinds become int64, float32 becomes float64, slices become []any.
func Normalize(v any) (any, error) {
	switch val := v.(type) {
	case nil, string, bool, int64, float64:
		return val, nil
	case int:
		return int64(val), nil
	case int32:
		return int64(val), nil
	case int16:
		return int64(val), nil
	case int8:
		return int64(val), nil
	case uint8:
		return int64(val), nil
	case uint16:
		return int64(val), nil
	case uint32:
		return int64(val), nil
	case float32:
		return float64(val), nil
	case []string:
		out := make([]any, len(val))
		for i, s := range val {
			out[i] = s
		}
		return out, nil
	case []int:
		out := make([]any, len(val))
		for i, n := range val {
			out[i] = int64(n)
		}
		return out, nil
	case []any:
		out := make([]any, len(val))
		for i, elem := range val {
			n, err := Normalize(elem)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			if _, nested := n.([]any); nested {
				return nil, fmt.Errorf("[%d]: nested lists are not supported", i)
			}
			out[i] = n
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported value type %T", v)
	}
}
