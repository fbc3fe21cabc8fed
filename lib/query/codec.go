package query

import (
	"fmt"

	"github.com/ValentinKolb/layerkv/lib/entity"
	"github.com/vmihailenco/msgpack/v5"
)

type wireFilter struct {
	Property string             `msgpack:"p"`
	Op       Op                 `msgpack:"o"`
	Value    entity.WireValue   `msgpack:"v"`
	Values   []entity.WireValue `msgpack:"vs,omitempty"`
}

type wireQuery struct {
	Namespace  string       `msgpack:"ns,omitempty"`
	Kind       string       `msgpack:"k,omitempty"`
	Ancestor   []byte       `msgpack:"a,omitempty"`
	Filters    []wireFilter `msgpack:"f,omitempty"`
	Orders     []Order      `msgpack:"o,omitempty"`
	Projection []string     `msgpack:"p,omitempty"`
	KeysOnly   bool         `msgpack:"ko,omitempty"`
	Limit      int          `msgpack:"l"`
	Offset     int          `msgpack:"off,omitempty"`
	ChunkSize  int          `msgpack:"cs,omitempty"`
	Start      []byte       `msgpack:"s,omitempty"`
}

// Marshal encodes a query with msgpack.
func Marshal(q Query) ([]byte, error) {
	w := wireQuery{
		Namespace:  q.Namespace,
		Kind:       q.Kind,
		Ancestor:   q.Ancestor.Encode(),
		Orders:     q.Orders,
		Projection: q.Projection,
		KeysOnly:   q.KeysOnly,
		Limit:      q.Limit,
		Offset:     q.Offset,
		ChunkSize:  q.ChunkSize,
		Start:      q.Start,
	}
	for _, f := range q.Filters {
		wf := wireFilter{Property: f.Property, Op: f.Op}
		if f.Op == OpIn {
			vs, _ := f.Value.([]any)
			for _, v := range vs {
				wv, err := entity.EncodeValue(v)
				if err != nil {
					return nil, fmt.Errorf("filter on %q: %w", f.Property, err)
				}
				wf.Values = append(wf.Values, wv)
			}
		} else {
			wv, err := entity.EncodeValue(f.Value)
			if err != nil {
				return nil, fmt.Errorf("filter on %q: %w", f.Property, err)
			}
			wf.Value = wv
		}
		w.Filters = append(w.Filters, wf)
	}
	return msgpack.Marshal(&w)
}

// Unmarshal decodes a query encoded by Marshal.
func Unmarshal(b []byte) (Query, error) {
	var w wireQuery
	if err := msgpack.Unmarshal(b, &w); err != nil {
		return Query{}, fmt.Errorf("decode query: %w", err)
	}
	q := Query{
		Namespace:  w.Namespace,
		Kind:       w.Kind,
		Orders:     w.Orders,
		Projection: w.Projection,
		KeysOnly:   w.KeysOnly,
		Limit:      w.Limit,
		Offset:     w.Offset,
		ChunkSize:  w.ChunkSize,
		Start:      w.Start,
	}
	if len(w.Ancestor) > 0 {
		ancestor, err := entity.DecodeKey(w.Ancestor)
		if err != nil {
			return Query{}, err
		}
		q.Ancestor = ancestor
	}
	for _, wf := range w.Filters {
		f := Filter{Property: wf.Property, Op: wf.Op}
		if wf.Op == OpIn {
			vs := make([]any, 0, len(wf.Values))
			for _, wv := range wf.Values {
				v, err := entity.DecodeValue(wv)
				if err != nil {
					return Query{}, err
				}
				vs = append(vs, v)
			}
			f.Value = vs
		} else {
			v, err := entity.DecodeValue(wf.Value)
			if err != nil {
				return Query{}, err
			}
			f.Value = v
		}
		q.Filters = append(q.Filters, f)
	}
	return q, nil
}
