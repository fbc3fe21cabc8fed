package entity

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	// ErrInvalidKey is returned when a key can not be decoded or parsed.
	ErrInvalidKey = errors.New("entity: invalid key")
)

// --------------------------------------------------------------------------
// Key Type
// --------------------------------------------------------------------------

// Key identifies an entity. A key is an immutable chain of (kind, identifier)
// segments, where the identifier is either a caller supplied name or a store
// assigned numeric id. The namespace is set on the root and inherited by
// every child, there is no ambient namespace state.
//
// Keys are never modified after construction, all "mutating" helpers return
// a new key. A nil *Key is the absence of a key (e.g. no parent).
type Key struct {
	parent    *Key
	namespace string
	kind      string
	id        int64
	name      string
}

// NameKey creates a key with a string identifier.
func NameKey(kind, name string, parent *Key) *Key {
	return &Key{parent: parent, namespace: parent.Namespace(), kind: kind, name: name}
}

// IDKey creates a key with a numeric identifier.
func IDKey(kind string, id int64, parent *Key) *Key {
	return &Key{parent: parent, namespace: parent.Namespace(), kind: kind, id: id}
}

// IncompleteKey creates a key whose identifier is assigned when the entity is stored.
func IncompleteKey(kind string, parent *Key) *Key {
	return &Key{parent: parent, namespace: parent.Namespace(), kind: kind}
}

// WithNamespace returns a copy of the whole chain living in the given namespace.
func (k *Key) WithNamespace(namespace string) *Key {
	if k == nil {
		return nil
	}
	parent := k.parent.WithNamespace(namespace)
	return &Key{parent: parent, namespace: namespace, kind: k.kind, id: k.id, name: k.name}
}

// --------------------------------------------------------------------------
// Accessors
// --------------------------------------------------------------------------

func (k *Key) Parent() *Key {
	if k == nil {
		return nil
	}
	return k.parent
}

func (k *Key) Namespace() string {
	if k == nil {
		return ""
	}
	return k.namespace
}

func (k *Key) Kind() string { return k.kind }

func (k *Key) ID() int64 { return k.id }

func (k *Key) Name() string { return k.name }

// Incomplete reports whether the last segment has no identifier yet.
func (k *Key) Incomplete() bool {
	return k.id == 0 && k.name == ""
}

// Complete reports whether every segment of the chain has an identifier.
func (k *Key) Complete() bool {
	for c := k; c != nil; c = c.parent {
		if c.Incomplete() {
			return false
		}
	}
	return k != nil
}

// Depth returns the number of segments in the chain.
func (k *Key) Depth() int {
	n := 0
	for c := k; c != nil; c = c.parent {
		n++
	}
	return n
}

// path returns the segments ordered from the root to k.
func (k *Key) path() []*Key {
	p := make([]*Key, k.Depth())
	i := len(p) - 1
	for c := k; c != nil; c = c.parent {
		p[i] = c
		i--
	}
	return p
}

// HasAncestor reports whether ancestor is k itself or one of its parents.
func (k *Key) HasAncestor(ancestor *Key) bool {
	if ancestor == nil {
		return true
	}
	for c := k; c != nil; c = c.parent {
		if c.Equal(ancestor) {
			return true
		}
	}
	return false
}

// --------------------------------------------------------------------------
// Equality and Ordering
// --------------------------------------------------------------------------

// Equal compares two keys structurally over the whole chain.
func (k *Key) Equal(o *Key) bool {
	for k != nil && o != nil {
		if k.namespace != o.namespace || k.kind != o.kind || k.id != o.id || k.name != o.name {
			return false
		}
		k, o = k.parent, o.parent
	}
	return k == nil && o == nil
}

// Compare orders keys the way the stores do: namespace first, then segment by
// segment from the root (kind, then numeric ids before names). An ancestor
// sorts before all of its descendants. The result matches bytes.Compare on
// the Encode() output of both keys.
func Compare(a, b *Key) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	if c := strings.Compare(a.namespace, b.namespace); c != 0 {
		return c
	}
	pa, pb := a.path(), b.path()
	for i := 0; i < len(pa) && i < len(pb); i++ {
		if c := compareSegment(pa[i], pb[i]); c != 0 {
			return c
		}
	}
	return len(pa) - len(pb)
}

func compareSegment(a, b *Key) int {
	if c := strings.Compare(a.kind, b.kind); c != 0 {
		return c
	}
	ra, rb := a.identRank(), b.identRank()
	if ra != rb {
		return ra - rb
	}
	switch byte(ra) {
	case identID:
		switch {
		case a.id < b.id:
			return -1
		case a.id > b.id:
			return 1
		}
		return 0
	case identName:
		return strings.Compare(a.name, b.name)
	}
	return 0
}

const (
	identNone byte = 0x00
	identID   byte = 0x01
	identName byte = 0x02
)

func (k *Key) identRank() int {
	switch {
	case k.name != "":
		return int(identName)
	case k.id != 0:
		return int(identID)
	default:
		return int(identNone)
	}
}

// --------------------------------------------------------------------------
// Binary Encoding (order preserving)
// --------------------------------------------------------------------------

// Encode returns an order preserving binary form of the key: for any two keys
// bytes.Compare(a.Encode(), b.Encode()) == Compare(a, b), and the encoding of
// an ancestor is a prefix of the encoding of each descendant.
//
// Format: escaped(namespace) then per segment escaped(kind) followed by
// 0x00 for incomplete, 0x01 + 8 byte sign flipped id or 0x02 + escaped(name).
// Strings are escaped by replacing 0x00 with 0x00 0xFF and terminated by 0x00 0x01.
func (k *Key) Encode() []byte {
	if k == nil {
		return nil
	}
	buf := make([]byte, 0, 16*k.Depth())
	buf = appendEscaped(buf, k.namespace)
	return k.appendSegments(buf)
}

func (k *Key) appendSegments(buf []byte) []byte {
	if k.parent != nil {
		buf = k.parent.appendSegments(buf)
	}
	buf = appendEscaped(buf, k.kind)
	switch byte(k.identRank()) {
	case identID:
		buf = append(buf, identID)
		buf = binary.BigEndian.AppendUint64(buf, uint64(k.id)^(1<<63))
	case identName:
		buf = append(buf, identName)
		buf = appendEscaped(buf, k.name)
	default:
		buf = append(buf, identNone)
	}
	return buf
}

// MapKey returns the canonical identity of the key, usable as a Go map key.
func (k *Key) MapKey() string {
	return string(k.Encode())
}

// DecodeKey reverses Encode.
func DecodeKey(b []byte) (*Key, error) {
	ns, rest, err := readEscaped(b)
	if err != nil {
		return nil, err
	}
	var k *Key
	for len(rest) > 0 {
		var kind string
		kind, rest, err = readEscaped(rest)
		if err != nil {
			return nil, err
		}
		if len(rest) == 0 {
			return nil, fmt.Errorf("%w: missing identifier for kind %q", ErrInvalidKey, kind)
		}
		seg := &Key{parent: k, namespace: ns, kind: kind}
		switch rest[0] {
		case identNone:
			rest = rest[1:]
		case identID:
			if len(rest) < 9 {
				return nil, fmt.Errorf("%w: truncated id", ErrInvalidKey)
			}
			seg.id = int64(binary.BigEndian.Uint64(rest[1:9]) ^ (1 << 63))
			rest = rest[9:]
		case identName:
			seg.name, rest, err = readEscaped(rest[1:])
			if err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("%w: unknown identifier type 0x%02x", ErrInvalidKey, rest[0])
		}
		k = seg
	}
	if k == nil {
		return nil, fmt.Errorf("%w: key without segments", ErrInvalidKey)
	}
	return k, nil
}

// EncodePrefix returns the byte prefix shared by all keys in the namespace
// that have the given ancestor (or all keys of the namespace if ancestor is nil).
func EncodePrefix(namespace string, ancestor *Key) []byte {
	if ancestor != nil {
		return ancestor.Encode()
	}
	return appendEscaped(nil, namespace)
}

func appendEscaped(buf []byte, s string) []byte {
	for i := 0; i < len(s); i++ {
		if s[i] == 0x00 {
			buf = append(buf, 0x00, 0xFF)
		} else {
			buf = append(buf, s[i])
		}
	}
	return append(buf, 0x00, 0x01)
}

func readEscaped(b []byte) (string, []byte, error) {
	var sb strings.Builder
	for i := 0; i < len(b); i++ {
		if b[i] != 0x00 {
			sb.WriteByte(b[i])
			continue
		}
		if i+1 >= len(b) {
			return "", nil, fmt.Errorf("%w: truncated string", ErrInvalidKey)
		}
		switch b[i+1] {
		case 0x01:
			return sb.String(), b[i+2:], nil
		case 0xFF:
			sb.WriteByte(0x00)
			i++
		default:
			return "", nil, fmt.Errorf("%w: bad escape 0x%02x", ErrInvalidKey, b[i+1])
		}
	}
	return "", nil, fmt.Errorf("%w: unterminated string", ErrInvalidKey)
}

// PrefixEnd returns the smallest byte string greater than every string with the given prefix.
// It returns nil if no such string exists (prefix is all 0xFF).
func PrefixEnd(prefix []byte) []byte {
	end := bytes.Clone(prefix)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xFF {
			end[i]++
			return end[:i+1]
		}
	}
	return nil
}

// --------------------------------------------------------------------------
// Text Form
// --------------------------------------------------------------------------

// String returns the text form of the key, e.g. `ns@User:12/Post:"hello"`.
// Incomplete segments are written as the kind alone.
func (k *Key) String() string {
	if k == nil {
		return "<nil>"
	}
	var sb strings.Builder
	if k.namespace != "" {
		sb.WriteString(k.namespace)
		sb.WriteByte('@')
	}
	for i, seg := range k.path() {
		if i > 0 {
			sb.WriteByte('/')
		}
		sb.WriteString(seg.kind)
		switch byte(seg.identRank()) {
		case identID:
			sb.WriteByte(':')
			sb.WriteString(strconv.FormatInt(seg.id, 10))
		case identName:
			sb.WriteByte(':')
			sb.WriteString(strconv.Quote(seg.name))
		}
	}
	return sb.String()
}

// ParseKey parses the text form produced by String. Only the last segment may be incomplete.
func ParseKey(s string) (*Key, error) {
	ns := ""
	if at := strings.IndexByte(s, '@'); at >= 0 && !strings.ContainsAny(s[:at], `/:"`) {
		ns, s = s[:at], s[at+1:]
	}
	parts, err := splitSegments(s)
	if err != nil {
		return nil, err
	}
	var k *Key
	for i, part := range parts {
		kind, ident, hasIdent := strings.Cut(part, ":")
		if kind == "" {
			return nil, fmt.Errorf("%w: empty kind in %q", ErrInvalidKey, s)
		}
		seg := &Key{parent: k, namespace: ns, kind: kind}
		switch {
		case !hasIdent:
			if i != len(parts)-1 {
				return nil, fmt.Errorf("%w: incomplete ancestor %q", ErrInvalidKey, part)
			}
		case strings.HasPrefix(ident, `"`):
			name, err := strconv.Unquote(ident)
			if err != nil {
				return nil, fmt.Errorf("%w: bad name %s: %v", ErrInvalidKey, ident, err)
			}
			seg.name = name
		default:
			id, err := strconv.ParseInt(ident, 10, 64)
			if err != nil || id == 0 {
				return nil, fmt.Errorf("%w: bad id %q", ErrInvalidKey, ident)
			}
			seg.id = id
		}
		k = seg
	}
	return k, nil
}

// splitSegments splits on '/' outside of quoted names.
func splitSegments(s string) ([]string, error) {
	var (
		parts   []string
		start   int
		quoted  bool
		escaped bool
	)
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case escaped:
			escaped = false
		case quoted && c == '\\':
			escaped = true
		case c == '"':
			quoted = !quoted
		case c == '/' && !quoted:
			parts = append(parts, s[start:i])
			start = i + 1
		}
	}
	if quoted {
		return nil, fmt.Errorf("%w: unterminated quote in %q", ErrInvalidKey, s)
	}
	parts = append(parts, s[start:])
	return parts, nil
}
