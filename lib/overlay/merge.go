package overlay

import (
	"context"
	"errors"
	"slices"

	"github.com/ValentinKolb/layerkv/lib/entity"
	"github.com/ValentinKolb/layerkv/lib/query"
	"github.com/ValentinKolb/layerkv/lib/store"
)

// --------------------------------------------------------------------------
// Merge Query Engine
// --------------------------------------------------------------------------

// Run runs q against the overlay and the base store and merges both result
// streams lazily into one stream in query order. Overlay records win over
// base records with the same key, tombstoned keys are dropped.
//
// The returned iterator has no cursor: resuming a merged query is not
// supported, and queries with a start cursor are rejected.
func (s *Store) Run(ctx context.Context, tx *store.Tx, q query.Query) (query.Iterator, error) {
	countOp("run")
	return s.run(ctx, tx, q)
}

func (s *Store) run(ctx context.Context, tx *store.Tx, q query.Query) (*mergeIterator, error) {
	tx, err := s.txFor(tx)
	if err != nil {
		return nil, err
	}
	if len(q.Start) > 0 {
		return nil, store.NewError(store.RetCUnsupportedOperation, "cursors are not supported on overlay queries")
	}
	if err := q.Validate(); err != nil {
		return nil, store.NewError(store.RetCInvalidArgument, err.Error())
	}

	sub := subQuery(q)
	overlayIt, err := s.layer.Run(ctx, tx, sub)
	if err != nil {
		return nil, err
	}
	baseIt, err := s.base.Run(ctx, tx, sub)
	if err != nil {
		overlayIt.Close()
		return nil, err
	}

	chunk := q.ChunkSize
	if chunk < 1 {
		chunk = s.opts.DefaultChunkSize
	}
	remaining := -1
	if q.Limited() {
		remaining = q.Limit
	}
	return &mergeIterator{
		s:         s,
		tx:        tx,
		q:         q,
		chunk:     chunk,
		overlay:   overlayIt,
		base:      baseIt,
		skip:      q.Offset,
		remaining: remaining,
	}, nil
}

// subQuery is the query both stores run: the full, unpaged result stream.
// Paging must happen after the merge, a base row shadowed by the overlay
// would otherwise consume the limit. Projections are widened to the sort
// properties, the merge compares on them.
func subQuery(q query.Query) query.Query {
	sub := q
	sub.Offset = 0
	sub.Limit = -1
	sub.Start = nil

	if !q.KeysOnly && len(q.Projection) == 0 {
		return sub
	}
	need := q.OrderProperties()
	if q.KeysOnly {
		if len(need) > 0 {
			sub.KeysOnly = false
			sub.Projection = need
		}
		return sub
	}
	projection := slices.Clone(q.Projection)
	for _, name := range need {
		if !slices.Contains(projection, name) {
			projection = append(projection, name)
		}
	}
	sub.Projection = projection
	return sub
}

// mergeIterator merges the overlay and base result streams. It is not safe
// for concurrent use.
type mergeIterator struct {
	s     *Store
	tx    *store.Tx
	q     query.Query
	chunk int

	overlay, base         query.Iterator
	overlayDone, baseDone bool

	overlayBuf, baseBuf, out []*entity.Entity

	skip      int // offset left to discard
	remaining int // results left until the limit, < 0 if unlimited
	err       error
	closed    bool
}

// HasNext reports whether another result exists. It fetches chunks from the
// underlying stores as needed.
func (it *mergeIterator) HasNext(ctx context.Context) (bool, error) {
	if it.err != nil {
		return false, it.err
	}
	if it.closed || it.remaining == 0 {
		return false, nil
	}
	for it.skip > 0 {
		ok, err := it.fill(ctx)
		if err != nil || !ok {
			return false, it.fail(err)
		}
		it.out = it.out[1:]
		it.skip--
	}
	ok, err := it.fill(ctx)
	if err != nil || !ok {
		return false, it.fail(err)
	}
	return true, nil
}

func (it *mergeIterator) Next(ctx context.Context) (*entity.Entity, error) {
	ok, err := it.HasNext(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, store.NewError(store.RetCNoSuchElement, "merged query is exhausted")
	}
	e := it.out[0]
	it.out = it.out[1:]
	if it.remaining > 0 {
		it.remaining--
		if it.remaining == 0 {
			it.release()
		}
	}
	return it.q.Apply(e), nil
}

// Cursor is not supported: the position in a merged stream depends on both
// stores and can not be expressed as a single store cursor.
func (it *mergeIterator) Cursor() (query.Cursor, error) {
	return nil, store.NewError(store.RetCUnsupportedOperation, "cursors are not supported on overlay queries")
}

func (it *mergeIterator) Close() error {
	if it.closed {
		return nil
	}
	it.closed = true
	return it.release()
}

// fail records err (nil: end of stream) and releases the sub-iterators.
func (it *mergeIterator) fail(err error) error {
	if err != nil {
		it.err = err
	}
	it.closed = true
	if rerr := it.release(); err == nil {
		err = rerr
	}
	return err
}

// release clears all buffers and closes both sub-iterators.
func (it *mergeIterator) release() error {
	it.overlayBuf, it.baseBuf, it.out = nil, nil, nil
	var errs []error
	if it.overlay != nil {
		errs = append(errs, it.overlay.Close())
		it.overlay = nil
	}
	if it.base != nil {
		errs = append(errs, it.base.Close())
		it.base = nil
	}
	it.overlayDone, it.baseDone = true, true
	return errors.Join(errs...)
}

// fill makes sure the output buffer holds at least one element. It returns
// false once both streams are exhausted.
func (it *mergeIterator) fill(ctx context.Context) (bool, error) {
	for len(it.out) == 0 {
		if err := it.refill(ctx); err != nil {
			return false, err
		}
		switch {
		case len(it.overlayBuf) > 0 && len(it.baseBuf) > 0:
			it.merge()
		case len(it.overlayBuf) > 0 && it.baseDone:
			it.out = append(it.out, it.overlayBuf...)
			it.overlayBuf = nil
		case len(it.baseBuf) > 0 && it.overlayDone:
			it.out = append(it.out, it.baseBuf...)
			it.baseBuf = nil
		case it.overlayDone && it.baseDone:
			return false, nil
		}
	}
	return true, nil
}

// merge moves the smaller head to the output until one buffer is empty.
// The emptied side must be refilled before merging on, its next chunk may
// hold smaller elements than the other buffer.
func (it *mergeIterator) merge() {
	for len(it.overlayBuf) > 0 && len(it.baseBuf) > 0 {
		if it.q.Compare(it.overlayBuf[0], it.baseBuf[0]) <= 0 {
			it.out = append(it.out, it.overlayBuf[0])
			it.overlayBuf = it.overlayBuf[1:]
		} else {
			it.out = append(it.out, it.baseBuf[0])
			it.baseBuf = it.baseBuf[1:]
		}
	}
}

// refill pulls a chunk from every source whose buffer is empty.
func (it *mergeIterator) refill(ctx context.Context) error {
	if len(it.overlayBuf) == 0 && !it.overlayDone {
		chunk, done, err := it.pull(ctx, it.overlay)
		if err != nil {
			return err
		}
		it.overlayDone = done
		for _, e := range chunk {
			if !IsTombstone(e) {
				it.overlayBuf = append(it.overlayBuf, e)
			}
		}
	}
	if len(it.baseBuf) == 0 && !it.baseDone {
		chunk, done, err := it.pull(ctx, it.base)
		if err != nil {
			return err
		}
		it.baseDone = done
		visible, err := it.unshadowed(ctx, chunk)
		if err != nil {
			return err
		}
		it.baseBuf = append(it.baseBuf, visible...)
	}
	return nil
}

func (it *mergeIterator) pull(ctx context.Context, src query.Iterator) ([]*entity.Entity, bool, error) {
	chunk, err := query.NextList(ctx, src, it.chunk)
	if err != nil {
		return nil, false, err
	}
	if len(chunk) < it.chunk {
		return chunk, true, nil
	}
	return chunk, false, nil
}

// unshadowed drops the base records the overlay has a record or a tombstone
// for. The overlay lookup is a best-effort filter: unless strict conflict
// checking is enabled, a failed lookup is logged and treated as "no overlay
// records".
func (it *mergeIterator) unshadowed(ctx context.Context, chunk []*entity.Entity) ([]*entity.Entity, error) {
	if len(chunk) == 0 {
		return nil, nil
	}
	keys := make([]*entity.Key, len(chunk))
	for i, e := range chunk {
		keys[i] = e.Key
	}
	conflictChecksExecuted.Inc()
	found, err := it.s.overlayOnly(ctx, it.tx, withTombstoneKeys(keys))
	if err != nil {
		if it.s.opts.StrictConflictCheck {
			return nil, err
		}
		conflictCheckFailures.Inc()
		log.Warningf("overlay conflict check failed, base rows may be stale: %v", err)
		found = nil
	}

	visible := chunk[:0]
	for _, e := range chunk {
		_, inOverlay := found[e.Key.MapKey()]
		_, deleted := found[TombstoneKeyOf(e.Key).MapKey()]
		if inOverlay || deleted {
			baseRowsShadowed.Inc()
			continue
		}
		visible = append(visible, e)
	}
	return visible, nil
}
