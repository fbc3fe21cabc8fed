// Package entity defines the data model shared by all stores: keys, typed
// property values and entities (records).
//
// Keys:
//
//	A Key is an immutable chain of (kind, identifier) segments. The identifier
//	is either a name chosen by the caller or a numeric id assigned by a store.
//	A key whose last segment has no identifier is incomplete and must be
//	completed (see the overlay package) before it is written.
//
//	Keys have a total order (Compare) and an order preserving binary form
//	(Encode). Stores rely on the binary form for range scans: the encoding of
//	an ancestor is a prefix of the encoding of every descendant, so an
//	ancestor query is a prefix scan.
//
// Values:
//
//	Properties hold nil, bool, int64, float64, string, []byte, time.Time or
//	*Key values. NormalizeValue converts other Go numeric types. Values of
//	mixed types are comparable (CompareValues), which is what sort orders in
//	queries use.
//
// Encoding:
//
//	Entities are encoded with msgpack (Marshal / Unmarshal). Property values
//	travel in a tagged envelope (WireValue) so that their type is preserved.
package entity
