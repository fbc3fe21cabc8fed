package entity

import (
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// --------------------------------------------------------------------------
// Wire Types
// --------------------------------------------------------------------------

// value type tags of the wire format
const (
	wireNull uint8 = iota
	wireBool
	wireInt
	wireFloat
	wireString
	wireBytes
	wireTime
	wireKey
)

// WireValue is the msgpack envelope of a property value. The explicit type tag
// keeps int64/float64 and string/[]byte apart across a round trip.
type WireValue struct {
	Type  uint8   `msgpack:"t"`
	Int   int64   `msgpack:"i,omitempty"`
	Float float64 `msgpack:"f,omitempty"`
	Str   string  `msgpack:"s,omitempty"`
	Bytes []byte  `msgpack:"b,omitempty"`
}

type wireEntity struct {
	Key   []byte               `msgpack:"k"`
	Props map[string]WireValue `msgpack:"p,omitempty"`
}

// EncodeValue converts a normalized property value into its wire envelope.
func EncodeValue(v any) (WireValue, error) {
	switch t := v.(type) {
	case nil:
		return WireValue{Type: wireNull}, nil
	case bool:
		w := WireValue{Type: wireBool}
		if t {
			w.Int = 1
		}
		return w, nil
	case int64:
		return WireValue{Type: wireInt, Int: t}, nil
	case float64:
		return WireValue{Type: wireFloat, Float: t}, nil
	case string:
		return WireValue{Type: wireString, Str: t}, nil
	case []byte:
		return WireValue{Type: wireBytes, Bytes: t}, nil
	case time.Time:
		return WireValue{Type: wireTime, Int: t.UnixNano()}, nil
	case *Key:
		return WireValue{Type: wireKey, Bytes: t.Encode()}, nil
	default:
		return WireValue{}, fmt.Errorf("%w: %T", ErrUnsupportedType, v)
	}
}

// DecodeValue reverses EncodeValue.
func DecodeValue(w WireValue) (any, error) {
	switch w.Type {
	case wireNull:
		return nil, nil
	case wireBool:
		return w.Int != 0, nil
	case wireInt:
		return w.Int, nil
	case wireFloat:
		return w.Float, nil
	case wireString:
		return w.Str, nil
	case wireBytes:
		if w.Bytes == nil {
			return []byte{}, nil
		}
		return w.Bytes, nil
	case wireTime:
		return time.Unix(0, w.Int).UTC(), nil
	case wireKey:
		return DecodeKey(w.Bytes)
	default:
		return nil, fmt.Errorf("%w: wire type %d", ErrUnsupportedType, w.Type)
	}
}

// --------------------------------------------------------------------------
// Entity Encoding
// --------------------------------------------------------------------------

// Marshal encodes an entity with msgpack.
func Marshal(e *Entity) ([]byte, error) {
	w := wireEntity{Key: e.Key.Encode()}
	if len(e.Properties) > 0 {
		w.Props = make(map[string]WireValue, len(e.Properties))
		for name, v := range e.Properties {
			wv, err := EncodeValue(v)
			if err != nil {
				return nil, fmt.Errorf("property %q: %w", name, err)
			}
			w.Props[name] = wv
		}
	}
	return msgpack.Marshal(&w)
}

// Unmarshal decodes an entity encoded by Marshal.
func Unmarshal(b []byte) (*Entity, error) {
	var w wireEntity
	if err := msgpack.Unmarshal(b, &w); err != nil {
		return nil, fmt.Errorf("decode entity: %w", err)
	}
	key, err := DecodeKey(w.Key)
	if err != nil {
		return nil, err
	}
	props := make(map[string]any, len(w.Props))
	for name, wv := range w.Props {
		v, err := DecodeValue(wv)
		if err != nil {
			return nil, fmt.Errorf("property %q: %w", name, err)
		}
		props[name] = v
	}
	return &Entity{Key: key, Properties: props}, nil
}

// MarshalAll encodes a batch of entities.
func MarshalAll(entities []*Entity) ([][]byte, error) {
	out := make([][]byte, len(entities))
	for i, e := range entities {
		b, err := Marshal(e)
		if err != nil {
			return nil, err
		}
		out[i] = b
	}
	return out, nil
}

// UnmarshalAll decodes a batch of entities.
func UnmarshalAll(data [][]byte) ([]*Entity, error) {
	out := make([]*Entity, len(data))
	for i, b := range data {
		e, err := Unmarshal(b)
		if err != nil {
			return nil, err
		}
		out[i] = e
	}
	return out, nil
}

// EncodeKeys returns the binary form of every key.
func EncodeKeys(keys []*Key) [][]byte {
	out := make([][]byte, len(keys))
	for i, k := range keys {
		out[i] = k.Encode()
	}
	return out
}

// DecodeKeys reverses EncodeKeys.
func DecodeKeys(data [][]byte) ([]*Key, error) {
	out := make([]*Key, len(data))
	for i, b := range data {
		k, err := DecodeKey(b)
		if err != nil {
			return nil, err
		}
		out[i] = k
	}
	return out, nil
}
