package lstore

import (
	"encoding/binary"

	"github.com/ValentinKolb/layerkv/lib/entity"
)

// --------------------------------------------------------------------------
// Storage Layout
// --------------------------------------------------------------------------
//
//	e | key            -> msgpack entity            (entity rows)
//	k | len(kind) kind | key -> empty               (kind index)
//	c | len(parent) parent | kind -> uint64 BE      (last allocated id)
//
// key is the order preserving entity.Key encoding, so both the entity rows
// and every kind partition of the index are sorted in native key order and an
// ancestor (or namespace) restriction is a prefix scan.

const (
	prefixEntity  byte = 'e'
	prefixIndex   byte = 'k'
	prefixCounter byte = 'c'
)

func entityRowKey(k *entity.Key) []byte {
	return append([]byte{prefixEntity}, k.Encode()...)
}

func kindPrefix(kind string) []byte {
	buf := binary.AppendUvarint([]byte{prefixIndex}, uint64(len(kind)))
	return append(buf, kind...)
}

func indexKey(k *entity.Key) []byte {
	return append(kindPrefix(k.Kind()), k.Encode()...)
}

func counterKey(parent *entity.Key, kind string) []byte {
	p := parent.Encode()
	buf := binary.AppendUvarint([]byte{prefixCounter}, uint64(len(p)))
	buf = append(buf, p...)
	return append(buf, kind...)
}

// scanRange returns the byte range holding the candidates of a query and
// whether the range is the kind index (true) or the entity rows (false).
func scanRange(namespace, kind string, ancestor *entity.Key) (start, end []byte, index bool) {
	keyPrefix := entity.EncodePrefix(namespace, ancestor)
	if kind != "" {
		start = append(kindPrefix(kind), keyPrefix...)
		index = true
	} else {
		start = append([]byte{prefixEntity}, keyPrefix...)
	}
	return start, entity.PrefixEnd(start), index
}
