package query

import (
	"context"
	"sort"
	"testing"

	"github.com/ValentinKolb/layerkv/lib/entity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func post(id int64, parent *entity.Key, props map[string]any) *entity.Entity {
	return entity.MustNew(entity.IDKey("Post", id, parent), props)
}

func TestBuilderDoesNotMutate(t *testing.T) {
	base := New("Post").Filter("a", OpEqual, 1)
	derived := base.Filter("b", OpEqual, 2).Order("a").WithLimit(3)

	assert.Len(t, base.Filters, 1)
	assert.Empty(t, base.Orders)
	assert.False(t, base.Limited())
	assert.Len(t, derived.Filters, 2)
	assert.Equal(t, 3, derived.Limit)
}

func TestMatches(t *testing.T) {
	user := entity.IDKey("User", 1, nil)
	other := entity.IDKey("User", 2, nil)
	e := post(10, user, map[string]any{"score": 5, "tag": "go"})

	tests := []struct {
		name string
		q    Query
		want bool
	}{
		{"kind", New("Post"), true},
		{"wrong kind", New("Comment"), false},
		{"any kind", New(""), true},
		{"ancestor", New("Post").WithAncestor(user), true},
		{"other ancestor", New("Post").WithAncestor(other), false},
		{"namespace", New("Post").InNamespace("x"), false},
		{"eq", New("Post").Filter("score", OpEqual, 5), true},
		{"eq float", New("Post").Filter("score", OpEqual, 5.0), true},
		{"ne", New("Post").Filter("score", OpNotEqual, 5), false},
		{"lt", New("Post").Filter("score", OpLess, 6), true},
		{"le", New("Post").Filter("score", OpLessEqual, 5), true},
		{"gt", New("Post").Filter("score", OpGreater, 5), false},
		{"ge", New("Post").Filter("score", OpGreaterEqual, 5), true},
		{"in", New("Post").Filter("tag", OpIn, []any{"rust", "go"}), true},
		{"not in", New("Post").Filter("tag", OpIn, []any{"rust"}), false},
		{"missing property", New("Post").Filter("nope", OpEqual, nil), false},
		{"key filter", New("Post").Filter(entity.KeyProperty, OpEqual, e.Key), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.q.Matches(e))
		})
	}
}

func TestCompare(t *testing.T) {
	a := post(1, nil, map[string]any{"score": 2, "name": "b"})
	b := post(2, nil, map[string]any{"score": 1, "name": "b"})
	c := post(3, nil, map[string]any{"name": "a"})

	items := []*entity.Entity{a, b, c}

	sortBy := func(q Query) []int64 {
		s := append([]*entity.Entity(nil), items...)
		sort.Slice(s, func(i, j int) bool { return q.Compare(s[i], s[j]) < 0 })
		ids := make([]int64, len(s))
		for i, e := range s {
			ids[i] = e.Key.ID()
		}
		return ids
	}

	assert.Equal(t, []int64{1, 2, 3}, sortBy(New("Post")))
	assert.Equal(t, []int64{3, 2, 1}, sortBy(New("Post").Order("score")), "missing property sorts like nil")
	assert.Equal(t, []int64{1, 2, 3}, sortBy(New("Post").OrderDesc("score")))
	assert.Equal(t, []int64{3, 1, 2}, sortBy(New("Post").Order("name")), "ties broken by key")
	assert.Equal(t, []int64{3, 2, 1}, sortBy(New("Post").OrderDesc(entity.KeyProperty)))
}

func TestApply(t *testing.T) {
	e := post(1, nil, map[string]any{"a": 1, "b": 2})

	assert.Same(t, e, New("Post").Apply(e))
	assert.Empty(t, New("Post").KeysOnlyQuery().Apply(e).Properties)

	p := New("Post").Project("a", "missing").Apply(e)
	assert.Equal(t, map[string]any{"a": int64(1)}, p.Properties)
	assert.Len(t, e.Properties, 2)
}

func TestValidate(t *testing.T) {
	assert.NoError(t, New("Post").Filter("a", OpIn, []any{1, "x"}).Validate())
	assert.ErrorIs(t, New("Post").Filter("a", Op("~"), 1).Validate(), ErrInvalidQuery)
	assert.ErrorIs(t, New("Post").Filter("a", OpEqual, struct{}{}).Validate(), ErrInvalidQuery)
	assert.ErrorIs(t, New("Post").Filter("a", OpIn, 1).Validate(), ErrInvalidQuery)
	assert.ErrorIs(t, New("Post").WithOffset(-1).Validate(), ErrInvalidQuery)
}

func TestSliceIterator(t *testing.T) {
	ctx := context.Background()
	items := []*entity.Entity{post(1, nil, nil), post(2, nil, nil), post(3, nil, nil)}
	it := NewSliceIterator(items, 10)

	first, err := NextList(ctx, it, 2)
	require.NoError(t, err)
	assert.Len(t, first, 2)

	c, err := it.Cursor()
	require.NoError(t, err)
	pos, err := c.Position()
	require.NoError(t, err)
	assert.Equal(t, 12, pos)

	rest, err := NextList(ctx, it, 5)
	require.NoError(t, err)
	assert.Len(t, rest, 1)

	ok, err := it.HasNext(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = it.Next(ctx)
	assert.ErrorIs(t, err, ErrNoSuchElement)
	assert.NoError(t, it.Close())
}

func TestCursorText(t *testing.T) {
	c := OffsetCursor(300)
	parsed, err := ParseCursor(c.String())
	require.NoError(t, err)
	pos, err := parsed.Position()
	require.NoError(t, err)
	assert.Equal(t, 300, pos)

	_, err = ParseCursor("!!")
	assert.ErrorIs(t, err, ErrInvalidCursor)
	_, err = Cursor{'x', 1}.Position()
	assert.ErrorIs(t, err, ErrInvalidCursor)

	pos, err = Cursor(nil).Position()
	require.NoError(t, err)
	assert.Zero(t, pos)
}

func TestQueryCodec(t *testing.T) {
	user := entity.NameKey("User", "u", nil).WithNamespace("ns")
	q := New("Post").
		WithAncestor(user).
		Filter("score", OpGreater, 3).
		Filter("tag", OpIn, []any{"a", int64(2)}).
		OrderDesc("score").
		Project("score").
		WithLimit(5).
		WithOffset(2).
		WithChunkSize(7).
		WithStart(OffsetCursor(4))

	b, err := Marshal(q)
	require.NoError(t, err)
	decoded, err := Unmarshal(b)
	require.NoError(t, err)

	assert.Equal(t, q.String(), decoded.String())
	assert.True(t, q.Ancestor.Equal(decoded.Ancestor))
	assert.Equal(t, q.Filters, decoded.Filters)
	assert.Equal(t, q.Orders, decoded.Orders)
	assert.Equal(t, q.Projection, decoded.Projection)
	assert.Equal(t, q.ChunkSize, decoded.ChunkSize)
	assert.Equal(t, q.Start, decoded.Start)
}
