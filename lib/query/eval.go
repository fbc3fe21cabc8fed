package query

import (
	"github.com/ValentinKolb/layerkv/lib/entity"
)

// Matches reports whether e satisfies the namespace, kind, ancestor and
// property filters of the query. Paging and projection are not considered.
func (q Query) Matches(e *entity.Entity) bool {
	if e == nil || e.Key == nil {
		return false
	}
	if e.Key.Namespace() != q.Namespace {
		return false
	}
	if q.Kind != "" && e.Key.Kind() != q.Kind {
		return false
	}
	if q.Ancestor != nil && !e.Key.HasAncestor(q.Ancestor) {
		return false
	}
	for _, f := range q.Filters {
		if !f.matches(e) {
			return false
		}
	}
	return true
}

func (f Filter) matches(e *entity.Entity) bool {
	v, ok := e.Property(f.Property)
	if !ok {
		return false
	}
	if f.Op == OpIn {
		vs, _ := f.Value.([]any)
		for _, candidate := range vs {
			if entity.CompareValues(v, candidate) == 0 {
				return true
			}
		}
		return false
	}
	c := entity.CompareValues(v, f.Value)
	switch f.Op {
	case OpEqual:
		return c == 0
	case OpNotEqual:
		return c != 0
	case OpLess:
		return c < 0
	case OpLessEqual:
		return c <= 0
	case OpGreater:
		return c > 0
	case OpGreaterEqual:
		return c >= 0
	}
	return false
}

// Compare orders two results the way the query sorts them: by each Order in
// turn, then by native key order. A missing property sorts like nil.
func (q Query) Compare(a, b *entity.Entity) int {
	for _, o := range q.Orders {
		va, _ := a.Property(o.Property)
		vb, _ := b.Property(o.Property)
		c := entity.CompareValues(va, vb)
		if o.Descending {
			c = -c
		}
		if c != 0 {
			return c
		}
	}
	return entity.Compare(a.Key, b.Key)
}

// Apply returns the result form of e: without properties for keys-only
// queries, restricted to the projection if one is set, e itself otherwise.
func (q Query) Apply(e *entity.Entity) *entity.Entity {
	switch {
	case q.KeysOnly:
		return &entity.Entity{Key: e.Key, Properties: map[string]any{}}
	case len(q.Projection) > 0:
		props := make(map[string]any, len(q.Projection))
		for _, name := range q.Projection {
			if v, ok := e.Properties[name]; ok {
				props[name] = v
			}
		}
		return &entity.Entity{Key: e.Key, Properties: props}
	default:
		return e
	}
}

// OrderProperties returns the property names the sort orders read, without
// the key pseudo property.
func (q Query) OrderProperties() []string {
	var names []string
	for _, o := range q.Orders {
		if o.Property != entity.KeyProperty {
			names = append(names, o.Property)
		}
	}
	return names
}
