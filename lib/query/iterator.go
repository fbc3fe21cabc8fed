package query

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/ValentinKolb/layerkv/lib/entity"
)

var (
	// ErrNoSuchElement is returned by Iterator.Next on an exhausted stream.
	ErrNoSuchElement = errors.New("query: no such element")

	// ErrInvalidCursor is returned when a cursor can not be decoded.
	ErrInvalidCursor = errors.New("query: invalid cursor")
)

// Iterator streams query results.
//
// HasNext may fetch more results from the underlying store and is therefore
// side-effecting. Next must only be called after HasNext returned true, on
// an exhausted stream it fails with ErrNoSuchElement. Iterators are not safe
// for concurrent use.
type Iterator interface {
	HasNext(ctx context.Context) (bool, error)
	Next(ctx context.Context) (*entity.Entity, error)

	// Cursor returns a position that a query with the same parameters can be
	// resumed from (see Query.Start).
	Cursor() (Cursor, error)

	// Close releases the resources of the iterator. Calling Close more than
	// once is allowed.
	Close() error
}

// NextList returns up to n results. Fewer results on a shorter stream are not an error.
func NextList(ctx context.Context, it Iterator, n int) ([]*entity.Entity, error) {
	var out []*entity.Entity
	for len(out) < n {
		ok, err := it.HasNext(ctx)
		if err != nil {
			return out, err
		}
		if !ok {
			break
		}
		e, err := it.Next(ctx)
		if err != nil {
			return out, err
		}
		out = append(out, e)
	}
	return out, nil
}

// Drain reads all remaining results and closes the iterator.
func Drain(ctx context.Context, it Iterator) ([]*entity.Entity, error) {
	defer it.Close()
	var out []*entity.Entity
	for {
		ok, err := it.HasNext(ctx)
		if err != nil {
			return out, err
		}
		if !ok {
			return out, nil
		}
		e, err := it.Next(ctx)
		if err != nil {
			return out, err
		}
		out = append(out, e)
	}
}

// --------------------------------------------------------------------------
// Slice Iterator
// --------------------------------------------------------------------------

// SliceIterator iterates over a materialized result set.
type SliceIterator struct {
	items  []*entity.Entity
	pos    int
	origin int
	closed bool
}

// NewSliceIterator returns an iterator over items. origin is the absolute
// position of items[0] in the unpaged result set and is used for cursors.
func NewSliceIterator(items []*entity.Entity, origin int) *SliceIterator {
	return &SliceIterator{items: items, origin: origin}
}

func (it *SliceIterator) HasNext(context.Context) (bool, error) {
	return !it.closed && it.pos < len(it.items), nil
}

func (it *SliceIterator) Next(ctx context.Context) (*entity.Entity, error) {
	if ok, _ := it.HasNext(ctx); !ok {
		return nil, ErrNoSuchElement
	}
	e := it.items[it.pos]
	it.pos++
	return e, nil
}

// Cursor points behind the last returned result.
func (it *SliceIterator) Cursor() (Cursor, error) {
	return OffsetCursor(it.origin + it.pos), nil
}

func (it *SliceIterator) Close() error {
	it.closed = true
	it.items = nil
	return nil
}

// --------------------------------------------------------------------------
// Cursor
// --------------------------------------------------------------------------

const cursorMagic byte = 'o'

// Cursor is an opaque, serializable query position.
type Cursor []byte

// OffsetCursor creates a cursor at the given absolute position.
func OffsetCursor(pos int) Cursor {
	return binary.AppendUvarint([]byte{cursorMagic}, uint64(pos))
}

// Position returns the absolute position the cursor points to. An empty
// cursor points to the start.
func (c Cursor) Position() (int, error) {
	if len(c) == 0 {
		return 0, nil
	}
	if c[0] != cursorMagic {
		return 0, fmt.Errorf("%w: unknown cursor type", ErrInvalidCursor)
	}
	pos, n := binary.Uvarint(c[1:])
	if n <= 0 || n != len(c)-1 {
		return 0, fmt.Errorf("%w: bad position", ErrInvalidCursor)
	}
	return int(pos), nil
}

func (c Cursor) String() string {
	return base64.RawURLEncoding.EncodeToString(c)
}

// ParseCursor decodes the text form of a cursor.
func ParseCursor(s string) (Cursor, error) {
	b, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	c := Cursor(b)
	if _, err := c.Position(); err != nil {
		return nil, err
	}
	return c, nil
}
