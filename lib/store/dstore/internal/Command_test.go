package internal

import (
	"testing"

	"github.com/ValentinKolb/layerkv/lib/db"
	"github.com/ValentinKolb/layerkv/lib/entity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPutCommand(t *testing.T) {
	user := entity.MustNew(entity.IDKey("User", 7, nil), map[string]any{"name": "ada", "age": 36})

	cmd, err := NewPutCommand([]*entity.Entity{user})
	require.NoError(t, err)
	data, err := cmd.Serialize()
	require.NoError(t, err)

	var decoded Command
	require.NoError(t, decoded.Deserialize(data))
	assert.Equal(t, CommandTPut, decoded.Type)

	entities, err := entity.UnmarshalAll(decoded.Entities)
	require.NoError(t, err)
	require.Len(t, entities, 1)
	assert.True(t, user.Equal(entities[0]))
}

func TestDeleteCommand(t *testing.T) {
	keys := []*entity.Key{entity.IDKey("User", 1, nil), entity.NameKey("Post", "hello", entity.IDKey("User", 1, nil))}

	cmd, err := NewDeleteCommand(keys)
	require.NoError(t, err)
	data, err := cmd.Serialize()
	require.NoError(t, err)

	var decoded Command
	require.NoError(t, decoded.Deserialize(data))
	got, err := entity.DecodeKeys(decoded.Keys)
	require.NoError(t, err)
	require.Len(t, got, 2)
	for i := range keys {
		assert.True(t, keys[i].Equal(got[i]))
	}

	_, err = NewDeleteCommand([]*entity.Key{nil})
	assert.Error(t, err)
}

func TestAllocateCommand(t *testing.T) {
	parent := entity.IDKey("User", 1, nil)
	cmd := NewAllocateCommand(parent, "Post", 10)
	data, err := cmd.Serialize()
	require.NoError(t, err)

	var decoded Command
	require.NoError(t, decoded.Deserialize(data))
	assert.Equal(t, "Post", decoded.Kind)
	assert.Equal(t, 10, decoded.Count)
	p, err := decoded.ParentKey()
	require.NoError(t, err)
	assert.True(t, parent.Equal(p))

	root := NewAllocateCommand(nil, "User", 1)
	p, err = root.ParentKey()
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestDeserializeReusesCommand(t *testing.T) {
	cmd := NewAllocateCommand(entity.IDKey("User", 1, nil), "Post", 3)
	data, err := cmd.Serialize()
	require.NoError(t, err)

	// stale fields of a previous command must not survive
	decoded := Command{Keys: [][]byte{[]byte("stale")}}
	require.NoError(t, decoded.Deserialize(data))
	assert.Nil(t, decoded.Keys)

	assert.Error(t, decoded.Deserialize(nil))
	assert.Error(t, decoded.Deserialize([]byte{0xc1}))
}

func TestCommandTypeFeatures(t *testing.T) {
	f, err := CommandTPut.ToDBFeature()
	require.NoError(t, err)
	assert.Equal(t, db.FeatureBatch, f)

	f, err = CommandTAllocate.ToDBFeature()
	require.NoError(t, err)
	assert.Equal(t, db.FeatureGet|db.FeatureSet, f)

	_, err = CommandType(42).ToDBFeature()
	assert.Error(t, err)
	assert.Equal(t, "Unknown(42)", CommandType(42).String())
}
