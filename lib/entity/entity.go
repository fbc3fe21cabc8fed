package entity

import (
	"fmt"
	"maps"
	"slices"
)

// Entity is a record: a key plus an unordered set of typed properties.
// Entities with equal keys are the same storage slot.
type Entity struct {
	Key        *Key
	Properties map[string]any
}

// New creates an entity, normalizing all property values.
// It returns ErrUnsupportedType if a value can not be stored.
func New(key *Key, props map[string]any) (*Entity, error) {
	normalized := make(map[string]any, len(props))
	for name, v := range props {
		nv, err := NormalizeValue(v)
		if err != nil {
			return nil, fmt.Errorf("property %q: %w", name, err)
		}
		normalized[name] = nv
	}
	return &Entity{Key: key, Properties: normalized}, nil
}

// MustNew is like New but panics on error. Intended for tests and literals.
func MustNew(key *Key, props map[string]any) *Entity {
	e, err := New(key, props)
	if err != nil {
		panic(err)
	}
	return e
}

// Property returns the value of a property and whether it is set.
// The pseudo property "__key__" resolves to the entity key.
func (e *Entity) Property(name string) (any, bool) {
	if name == KeyProperty {
		return e.Key, true
	}
	v, ok := e.Properties[name]
	return v, ok
}

// Clone returns a copy that shares no mutable state with e.
func (e *Entity) Clone() *Entity {
	props := make(map[string]any, len(e.Properties))
	for name, v := range e.Properties {
		if b, ok := v.([]byte); ok {
			v = slices.Clone(b)
		}
		props[name] = v
	}
	return &Entity{Key: e.Key, Properties: props}
}

// WithKey returns a new entity with the given key and identical properties.
func (e *Entity) WithKey(key *Key) *Entity {
	c := e.Clone()
	c.Key = key
	return c
}

// Equal reports whether both entities have equal keys and equal properties.
func (e *Entity) Equal(o *Entity) bool {
	if e == nil || o == nil {
		return e == o
	}
	if !e.Key.Equal(o.Key) || len(e.Properties) != len(o.Properties) {
		return false
	}
	for name, v := range e.Properties {
		ov, ok := o.Properties[name]
		if !ok || rankOf(v) != rankOf(ov) || CompareValues(v, ov) != 0 {
			return false
		}
	}
	return true
}

func (e *Entity) String() string {
	names := slices.Sorted(maps.Keys(e.Properties))
	s := e.Key.String() + " {"
	for i, name := range names {
		if i > 0 {
			s += ", "
		}
		s += fmt.Sprintf("%s: %v", name, e.Properties[name])
	}
	return s + "}"
}

// KeyProperty is the pseudo property name addressing the entity key in filters and orders.
const KeyProperty = "__key__"

// IDRange is a contiguous range of allocated numeric ids [Start, Start+Count).
type IDRange struct {
	Start int64
	Count int
}

// IDs expands the range.
func (r IDRange) IDs() []int64 {
	ids := make([]int64, r.Count)
	for i := range ids {
		ids[i] = r.Start + int64(i)
	}
	return ids
}
