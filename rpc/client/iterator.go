package client

import (
	"context"

	"github.com/ValentinKolb/layerkv/lib/entity"
	"github.com/ValentinKolb/layerkv/lib/query"
	"github.com/ValentinKolb/layerkv/lib/store"
	"github.com/ValentinKolb/layerkv/rpc/common"
)

// pagingIterator streams the results of a remote query. Every round trip
// asks for one page (the chunk size of the query, else the configured page
// size) at the position following the last page. A page shorter than
// requested ends the stream.
type pagingIterator struct {
	s  *rpcStore
	tx *store.Tx
	q  query.Query

	page      int
	next      int  // absolute position of the next page
	remaining int  // results still allowed by the limit, -1 for unlimited
	resume    bool // the query started at a cursor, pages are requested by cursor too

	buf       []*entity.Entity
	delivered int  // absolute position of the next result handed out
	cursors   bool // the remote store reported positions
	done      bool
	closed    bool
	err       error
}

func newPagingIterator(s *rpcStore, tx *store.Tx, q query.Query) (*pagingIterator, error) {
	it := &pagingIterator{
		s:         s,
		tx:        tx,
		q:         q,
		page:      q.ChunkSize,
		next:      q.Offset,
		remaining: -1,
	}
	if it.page <= 0 {
		it.page = s.config.EffectivePageSize()
	}
	if q.Limited() {
		it.remaining = q.Limit
	}
	if len(q.Start) > 0 {
		pos, err := q.Start.Position()
		if err != nil {
			return nil, store.NewError(store.RetCInvalidArgument, err.Error())
		}
		it.next, it.resume = pos, true
	}
	it.delivered = it.next
	return it, nil
}

func (it *pagingIterator) HasNext(ctx context.Context) (bool, error) {
	for {
		if it.err != nil {
			return false, it.err
		}
		if len(it.buf) > 0 {
			return true, nil
		}
		if it.done || it.closed {
			return false, nil
		}
		if err := it.fetch(ctx); err != nil {
			return false, err
		}
	}
}

func (it *pagingIterator) Next(ctx context.Context) (*entity.Entity, error) {
	ok, err := it.HasNext(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, store.NewError(store.RetCNoSuchElement, "iterator is exhausted")
	}
	e := it.buf[0]
	it.buf[0] = nil
	it.buf = it.buf[1:]
	it.delivered++
	return e, nil
}

// Cursor points behind the last result handed out. It is only available if
// the remote store supports cursors itself.
func (it *pagingIterator) Cursor() (query.Cursor, error) {
	if !it.cursors {
		return nil, store.NewError(store.RetCUnsupportedOperation, "the remote store does not support cursors")
	}
	return query.OffsetCursor(it.delivered), nil
}

func (it *pagingIterator) Close() error {
	it.closed = true
	it.buf = nil
	return nil
}

// fetch requests the next page and appends it to the buffer
func (it *pagingIterator) fetch(ctx context.Context) error {
	n := it.page
	if it.remaining >= 0 {
		n = min(n, it.remaining)
	}
	if n == 0 {
		it.done = true
		return nil
	}

	sub := it.q.WithLimit(n)
	if it.resume {
		sub.Offset = 0
		sub.Start = query.OffsetCursor(it.next)
	} else {
		sub.Offset = it.next
		sub.Start = nil
	}

	req, err := common.NewQueryRequest(it.tx, sub)
	if err != nil {
		return it.fail(store.AsError(err))
	}
	resp, err := it.s.invoke(ctx, req)
	if err != nil {
		return it.fail(err)
	}
	items, err := resp.DecodeEntities()
	if err != nil {
		return it.fail(err)
	}

	it.cursors = resp.Start >= 0
	it.buf = append(it.buf, items...)
	it.next += len(items)
	if it.remaining >= 0 {
		it.remaining -= len(items)
	}
	if len(items) < n {
		it.done = true
	}
	return nil
}

func (it *pagingIterator) fail(err error) error {
	it.err = err
	it.buf = nil
	return err
}
