package kv

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/ValentinKolb/layerkv/lib/entity"
	"github.com/ValentinKolb/layerkv/lib/query"
)

// --------------------------------------------------------------------------
// Values
// --------------------------------------------------------------------------

// parseJSONValue decodes a JSON literal. Integral numbers become int64,
// other numbers float64.
func parseJSONValue(s string) (any, error) {
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("trailing data after value %q", s)
	}
	return convertNumbers(v), nil
}

func convertNumbers(v any) any {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		f, _ := t.Float64()
		return f
	case []any:
		for i := range t {
			t[i] = convertNumbers(t[i])
		}
		return t
	case map[string]any:
		for k := range t {
			t[k] = convertNumbers(t[k])
		}
		return t
	default:
		return v
	}
}

// parseFilterValue reads a filter operand. Operands that are no valid JSON
// are taken as plain strings, so `name=alice` works without quoting.
func parseFilterValue(s string) any {
	s = strings.TrimSpace(s)
	if v, err := parseJSONValue(s); err == nil {
		return v
	}
	return s
}

// parseProperties reads the properties of an entity from a JSON object
func parseProperties(s string) (map[string]any, error) {
	if strings.TrimSpace(s) == "" {
		return map[string]any{}, nil
	}
	v, err := parseJSONValue(s)
	if err != nil {
		return nil, fmt.Errorf("invalid properties: %w", err)
	}
	props, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("invalid properties: expected a JSON object, got %s", s)
	}
	return props, nil
}

// --------------------------------------------------------------------------
// Queries
// --------------------------------------------------------------------------

// filterOps in match order, longer operators first
var filterOps = []query.Op{query.OpNotEqual, query.OpGreaterEqual, query.OpLessEqual, query.OpEqual, query.OpGreater, query.OpLess}

// parseFilter parses `prop OP value` where OP is one of = != < <= > >= or
// `prop in [v1, v2]`.
func parseFilter(s string) (query.Filter, error) {
	if prop, list, ok := strings.Cut(s, " in "); ok {
		v, err := parseJSONValue(strings.TrimSpace(list))
		if err != nil {
			return query.Filter{}, fmt.Errorf("invalid filter %q: %w", s, err)
		}
		values, ok := v.([]any)
		if !ok {
			return query.Filter{}, fmt.Errorf("invalid filter %q: 'in' needs a JSON array", s)
		}
		return query.Filter{Property: strings.TrimSpace(prop), Op: query.OpIn, Value: values}, nil
	}

	for i := 0; i < len(s); i++ {
		for _, op := range filterOps {
			if strings.HasPrefix(s[i:], string(op)) {
				prop := strings.TrimSpace(s[:i])
				if prop == "" {
					return query.Filter{}, fmt.Errorf("invalid filter %q: missing property", s)
				}
				return query.Filter{Property: prop, Op: op, Value: parseFilterValue(s[i+len(op):])}, nil
			}
		}
	}
	return query.Filter{}, fmt.Errorf("invalid filter %q: expected PROPERTY OP VALUE", s)
}

// queryArgs are the command line options of a query
type queryArgs struct {
	namespace string
	ancestor  string
	filters   []string
	orders    []string
	project   []string
	keysOnly  bool
	limit     int
	offset    int
	start     string
}

func (a queryArgs) build(kind string) (query.Query, error) {
	q := query.New(kind)
	if a.namespace != "" {
		q = q.InNamespace(a.namespace)
	}
	if a.ancestor != "" {
		k, err := entity.ParseKey(a.ancestor)
		if err != nil {
			return q, err
		}
		q = q.WithAncestor(k)
	}
	for _, s := range a.filters {
		f, err := parseFilter(s)
		if err != nil {
			return q, err
		}
		q = q.Filter(f.Property, f.Op, f.Value)
	}
	for _, o := range a.orders {
		if prop, desc := strings.CutPrefix(o, "-"); desc {
			q = q.OrderDesc(prop)
		} else {
			q = q.Order(o)
		}
	}
	if len(a.project) > 0 {
		q = q.Project(a.project...)
	}
	if a.keysOnly {
		q = q.KeysOnlyQuery()
	}
	if a.limit >= 0 {
		q = q.WithLimit(a.limit)
	}
	if a.offset > 0 {
		q = q.WithOffset(a.offset)
	}
	if a.start != "" {
		c, err := query.ParseCursor(a.start)
		if err != nil {
			return q, err
		}
		q = q.WithStart(c)
	}
	return q, q.Validate()
}

// --------------------------------------------------------------------------
// Output
// --------------------------------------------------------------------------

// formatEntity renders an entity as a single JSON line
func formatEntity(e *entity.Entity) (string, error) {
	props := make(map[string]any, len(e.Properties))
	for name, v := range e.Properties {
		if k, ok := v.(*entity.Key); ok {
			props[name] = k.String()
			continue
		}
		props[name] = v
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(struct {
		Key        string         `json:"key"`
		Properties map[string]any `json:"properties"`
	}{e.Key.String(), props}); err != nil {
		return "", err
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}
