package query

import "fmt"

// Op is a comparison operator in a filter.
type Op string

const (
	OpEqual            Op = "=="
	OpNotEqual         Op = "!="
	OpLess             Op = "<"
	OpLessOrEqual      Op = "<="
	OpGreater          Op = ">"
	OpGreaterOrEqual   Op = ">="
	OpIn               Op = "in"
	OpNotIn            Op = "not-in"
	OpArrayContains    Op = "array-contains"
	OpArrayContainsAny Op = "array-contains-any"
)

// ValidOps lists every supported operator.
var ValidOps = map[Op]bool{
	OpEqual:            true,
	OpNotEqual:         true,
	OpLess:             true,
	OpLessOrEqual:      true,
	OpGreater:          true,
	OpGreaterOrEqual:   true,
	OpIn:               true,
	OpNotIn:            true,
	OpArrayContains:    true,
	OpArrayContainsAny: true,
}

// ListOp reports whether op takes a list operand.
func ListOp(op Op) bool {
	return op == OpIn || op == OpNotIn || op == OpArrayContainsAny
}

// ParseOp converts the textual operator form used in config files and flags.
func ParseOp(s string) (Op, error) {
	op := Op(s)
	if !ValidOps[op] {
		return "", fmt.Errorf("unknown operator %q", s)
	}
	return op, nil
}

// Predicate is a filter condition.
//
// Sealed: only Where and And implement it, so backend compilers can switch
// exhaustively.
type Predicate interface {
	predicateNode()
}

// Where compares one document field against a literal.
//
// Field may be a dotted path into nested maps ("patient.city").
type Where struct {
	Field string
	Op    Op
	Value any
}

func (Where) predicateNode() {}

// And is a conjunction. An empty And is always true.
type And struct {
	Predicates []Predicate
}

func (And) predicateNode() {}

// Direction orders results.
type Direction int

const (
	Ascending Direction = iota
	Descending
)

func (d Direction) String() string {
	if d == Descending {
		return "desc"
	}
	return "asc"
}

// Order is one ordering term.
type Order struct {
	Field     string
	Direction Direction
}

// Query selects documents from one collection.
type Query struct {
	// Collection is the collection path, e.g. "doctors/d1/slots".
	Collection string
	// Filter is nil when every document matches.
	Filter Predicate
	Orders []Order
	// Max is the result limit; zero means unlimited.
	Max int
}

// From starts a query over a collection.
func From(collection string) Query {
	return Query{Collection: collection}
}

// Where returns a copy of q with an additional conjunctive filter.
func (q Query) Where(field string, op Op, value any) Query {
	w := Where{Field: field, Op: op, Value: value}
	switch f := q.Filter.(type) {
	case nil:
		q.Filter = w
	case And:
		preds := make([]Predicate, 0, len(f.Predicates)+1)
		preds = append(preds, f.Predicates...)
		q.Filter = And{Predicates: append(preds, w)}
	default:
		q.Filter = And{Predicates: []Predicate{f, w}}
	}
	return q
}

// OrderBy returns a copy of q with an additional ordering term.
func (q Query) OrderBy(field string, dir Direction) Query {
	orders := make([]Order, 0, len(q.Orders)+1)
	orders = append(orders, q.Orders...)
	q.Orders = append(orders, Order{Field: field, Direction: dir})
	return q
}

// Limit returns a copy of q limited to n results.
func (q Query) Limit(n int) Query {
	q.Max = n
	return q
}

// IsZero reports whether q has no target collection.
func (q Query) IsZero() bool {
	return q.Collection == ""
}

// Conjuncts flattens the filter into its Where terms, in declaration order.
func (q Query) Conjuncts() []Where {
	var out []Where
	var walk func(p Predicate)
	walk = func(p Predicate) {
		switch pred := p.(type) {
		case Where:
			out = append(out, pred)
		case *Where:
			out = append(out, *pred)
		case And:
			for _, sub := range pred.Predicates {
				walk(sub)
			}
		case *And:
			for _, sub := range pred.Predicates {
				walk(sub)
			}
		}
	}
	walk(q.Filter)
	return out
}
