package query

import (
	"errors"
	"fmt"
	"slices"

	"github.com/ValentinKolb/layerkv/lib/entity"
)

// ErrInvalidQuery is returned by Validate for malformed queries.
var ErrInvalidQuery = errors.New("query: invalid query")

// Op is a filter comparison operator.
type Op string

const (
	OpEqual        Op = "="
	OpNotEqual     Op = "!="
	OpLess         Op = "<"
	OpLessEqual    Op = "<="
	OpGreater      Op = ">"
	OpGreaterEqual Op = ">="
	OpIn           Op = "in"
)

// Filter restricts results to entities whose property satisfies Op against Value.
// For OpIn, Value is a []any. Entities without the property never match.
type Filter struct {
	Property string
	Op       Op
	Value    any
}

// Order is one sort predicate. Property may be entity.KeyProperty.
type Order struct {
	Property   string
	Descending bool
}

// Query describes a kind/ancestor scan with property filters, sort orders,
// projection and paging. Queries are values: the builder methods return a
// modified copy and never touch the receiver.
type Query struct {
	Namespace  string
	Kind       string
	Ancestor   *entity.Key
	Filters    []Filter
	Orders     []Order
	Projection []string
	KeysOnly   bool

	// Limit < 0 means unlimited.
	Limit  int
	Offset int

	// ChunkSize is the number of results fetched per round trip by
	// streaming consumers. 0 means the consumer's default.
	ChunkSize int

	// Start resumes a previous query at the position of the cursor.
	// Offset is ignored when Start is set, the position already includes it.
	Start Cursor
}

// New creates an unlimited query over all entities of the given kind.
// An empty kind matches entities of every kind.
func New(kind string) Query {
	return Query{Kind: kind, Limit: -1}
}

// --------------------------------------------------------------------------
// Builder
// --------------------------------------------------------------------------

func (q Query) clone() Query {
	q.Filters = slices.Clone(q.Filters)
	q.Orders = slices.Clone(q.Orders)
	q.Projection = slices.Clone(q.Projection)
	return q
}

// InNamespace sets the namespace of the query.
func (q Query) InNamespace(ns string) Query {
	q = q.clone()
	q.Namespace = ns
	return q
}

// WithAncestor restricts results to descendants of k (k included).
// The namespace of the query is taken from the ancestor.
func (q Query) WithAncestor(k *entity.Key) Query {
	q = q.clone()
	q.Ancestor = k
	if k != nil {
		q.Namespace = k.Namespace()
	}
	return q
}

// Filter adds a property filter. The value is normalized, unsupported values
// are reported by Validate.
func (q Query) Filter(property string, op Op, value any) Query {
	q = q.clone()
	if op == OpIn {
		if vs, ok := value.([]any); ok {
			normalized := make([]any, len(vs))
			for i, v := range vs {
				normalized[i] = normalizeOrKeep(v)
			}
			value = normalized
		}
	} else {
		value = normalizeOrKeep(value)
	}
	q.Filters = append(q.Filters, Filter{Property: property, Op: op, Value: value})
	return q
}

// Order adds an ascending sort on property.
func (q Query) Order(property string) Query {
	q = q.clone()
	q.Orders = append(q.Orders, Order{Property: property})
	return q
}

// OrderDesc adds a descending sort on property.
func (q Query) OrderDesc(property string) Query {
	q = q.clone()
	q.Orders = append(q.Orders, Order{Property: property, Descending: true})
	return q
}

// Project limits the returned properties.
func (q Query) Project(properties ...string) Query {
	q = q.clone()
	q.Projection = append(q.Projection, properties...)
	return q
}

// KeysOnlyQuery returns a copy that yields entities without properties.
func (q Query) KeysOnlyQuery() Query {
	q = q.clone()
	q.KeysOnly = true
	return q
}

func (q Query) WithLimit(n int) Query {
	q = q.clone()
	q.Limit = n
	return q
}

func (q Query) WithOffset(n int) Query {
	q = q.clone()
	q.Offset = n
	return q
}

func (q Query) WithChunkSize(n int) Query {
	q = q.clone()
	q.ChunkSize = n
	return q
}

func (q Query) WithStart(c Cursor) Query {
	q = q.clone()
	q.Start = c
	return q
}

// Limited reports whether the query has a limit.
func (q Query) Limited() bool {
	return q.Limit >= 0
}

func normalizeOrKeep(v any) any {
	if nv, err := entity.NormalizeValue(v); err == nil {
		return nv
	}
	return v
}

// Validate checks that all filter values are storable and all operators known.
func (q Query) Validate() error {
	if q.Offset < 0 {
		return fmt.Errorf("%w: negative offset %d", ErrInvalidQuery, q.Offset)
	}
	if q.Ancestor != nil && q.Ancestor.Namespace() != q.Namespace {
		return fmt.Errorf("%w: ancestor namespace %q differs from %q", ErrInvalidQuery, q.Ancestor.Namespace(), q.Namespace)
	}
	for _, f := range q.Filters {
		switch f.Op {
		case OpEqual, OpNotEqual, OpLess, OpLessEqual, OpGreater, OpGreaterEqual:
			if _, err := entity.NormalizeValue(f.Value); err != nil {
				return fmt.Errorf("%w: filter on %q: %v", ErrInvalidQuery, f.Property, err)
			}
		case OpIn:
			vs, ok := f.Value.([]any)
			if !ok {
				return fmt.Errorf("%w: filter on %q: %q needs a []any value", ErrInvalidQuery, f.Property, f.Op)
			}
			for _, v := range vs {
				if _, err := entity.NormalizeValue(v); err != nil {
					return fmt.Errorf("%w: filter on %q: %v", ErrInvalidQuery, f.Property, err)
				}
			}
		default:
			return fmt.Errorf("%w: unknown operator %q", ErrInvalidQuery, f.Op)
		}
	}
	return nil
}

func (q Query) String() string {
	s := fmt.Sprintf("query(kind=%q", q.Kind)
	if q.Namespace != "" {
		s += fmt.Sprintf(" ns=%q", q.Namespace)
	}
	if q.Ancestor != nil {
		s += " ancestor=" + q.Ancestor.String()
	}
	for _, f := range q.Filters {
		s += fmt.Sprintf(" %s%s%v", f.Property, f.Op, f.Value)
	}
	for _, o := range q.Orders {
		if o.Descending {
			s += " order=-" + o.Property
		} else {
			s += " order=" + o.Property
		}
	}
	if q.KeysOnly {
		s += " keys-only"
	}
	if q.Limited() {
		s += fmt.Sprintf(" limit=%d", q.Limit)
	}
	if q.Offset > 0 {
		s += fmt.Sprintf(" offset=%d", q.Offset)
	}
	return s + ")"
}
