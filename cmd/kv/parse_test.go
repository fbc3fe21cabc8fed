package kv

import (
	"testing"

	"github.com/ValentinKolb/layerkv/lib/entity"
	"github.com/ValentinKolb/layerkv/lib/query"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFilter(t *testing.T) {
	cases := []struct {
		in   string
		want query.Filter
	}{
		{"age>=18", query.Filter{Property: "age", Op: query.OpGreaterEqual, Value: int64(18)}},
		{"age <= 1.5", query.Filter{Property: "age", Op: query.OpLessEqual, Value: 1.5}},
		{"name=bob", query.Filter{Property: "name", Op: query.OpEqual, Value: "bob"}},
		{`name != "a b"`, query.Filter{Property: "name", Op: query.OpNotEqual, Value: "a b"}},
		{"done=true", query.Filter{Property: "done", Op: query.OpEqual, Value: true}},
		{"n<0", query.Filter{Property: "n", Op: query.OpLess, Value: int64(0)}},
		{"n>-3", query.Filter{Property: "n", Op: query.OpGreater, Value: int64(-3)}},
		{`tag in ["a", 2]`, query.Filter{Property: "tag", Op: query.OpIn, Value: []any{"a", int64(2)}}},
	}
	for _, c := range cases {
		t.Run(c.in, func(t *testing.T) {
			got, err := parseFilter(c.in)
			require.NoError(t, err)
			assert.Equal(t, c.want, got)
		})
	}

	for _, bad := range []string{"age", "=3", `tag in "a"`, "tag in [1,"} {
		_, err := parseFilter(bad)
		assert.Error(t, err, bad)
	}
}

func TestParseProperties(t *testing.T) {
	props, err := parseProperties(`{"name": "bob", "age": 42, "score": 0.5, "admin": false, "note": null}`)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"name": "bob", "age": int64(42), "score": 0.5, "admin": false, "note": nil}, props)

	props, err = parseProperties("")
	require.NoError(t, err)
	assert.Empty(t, props)

	_, err = parseProperties(`[1, 2]`)
	assert.Error(t, err)
	_, err = parseProperties(`{"a": 1} {"b": 2}`)
	assert.Error(t, err)

	// nested values are parsed but can not be stored
	props, err = parseProperties(`{"list": [1]}`)
	require.NoError(t, err)
	_, err = entity.New(entity.IDKey("A", 1, nil), props)
	assert.ErrorIs(t, err, entity.ErrUnsupportedType)
}

func TestBuildQuery(t *testing.T) {
	args := queryArgs{
		ancestor: `ns@User:"bob"`,
		filters:  []string{"age>=18"},
		orders:   []string{"-age", "name"},
		project:  []string{"age"},
		limit:    5,
		offset:   2,
	}
	q, err := args.build("Post")
	require.NoError(t, err)

	assert.Equal(t, "Post", q.Kind)
	assert.Equal(t, "ns", q.Namespace)
	assert.True(t, q.Ancestor.Equal(entity.NameKey("User", "bob", nil).WithNamespace("ns")))
	assert.Equal(t, []query.Filter{{Property: "age", Op: query.OpGreaterEqual, Value: int64(18)}}, q.Filters)
	assert.Equal(t, []query.Order{{Property: "age", Descending: true}, {Property: "name"}}, q.Orders)
	assert.Equal(t, []string{"age"}, q.Projection)
	assert.Equal(t, 5, q.Limit)
	assert.Equal(t, 2, q.Offset)

	q, err = queryArgs{limit: -1, start: query.OffsetCursor(7).String()}.build("")
	require.NoError(t, err)
	assert.False(t, q.Limited())
	pos, err := q.Start.Position()
	require.NoError(t, err)
	assert.Equal(t, 7, pos)

	_, err = queryArgs{limit: -1, start: "%%"}.build("A")
	assert.Error(t, err)
	_, err = queryArgs{limit: -1, ancestor: "A/B:1"}.build("A")
	assert.Error(t, err)
}

func TestFormatEntity(t *testing.T) {
	e := entity.MustNew(entity.IDKey("User", 1, nil), map[string]any{
		"name":   "bob",
		"friend": entity.NameKey("User", "alice", nil),
	})
	line, err := formatEntity(e)
	require.NoError(t, err)
	assert.JSONEq(t, `{"key": "User:1", "properties": {"name": "bob", "friend": "User:\"alice\""}}`, line)
}
