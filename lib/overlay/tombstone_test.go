package overlay

import (
	"testing"

	"github.com/ValentinKolb/layerkv/lib/entity"
	"github.com/ValentinKolb/layerkv/lib/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTombstoneKeys(t *testing.T) {
	keys := []*entity.Key{
		entity.IDKey("A", 1, nil),
		entity.NameKey("Post", "x", entity.IDKey("User", 3, nil)),
		entity.IDKey("Doc", 9, nil).WithNamespace("tenant"),
	}
	for _, k := range keys {
		t.Run(k.String(), func(t *testing.T) {
			tk := TombstoneKeyOf(k)
			assert.Equal(t, TombstoneKind, tk.Kind())
			assert.True(t, tk.HasAncestor(k))
			assert.Equal(t, k.Namespace(), tk.Namespace())

			back, err := DataKeyOf(tk)
			require.NoError(t, err)
			assert.True(t, k.Equal(back))

			assert.True(t, IsTombstone(newTombstone(k)))
			assert.False(t, IsTombstone(entity.MustNew(k, nil)))
		})
	}
}

func TestDataKeyOfRejectsPlainKeys(t *testing.T) {
	_, err := DataKeyOf(entity.IDKey("A", 1, nil))
	assert.ErrorIs(t, err, store.ErrInvalidArgument)

	// marker kind without the marker name
	_, err = DataKeyOf(entity.NameKey(TombstoneKind, "other", entity.IDKey("A", 1, nil)))
	assert.ErrorIs(t, err, store.ErrInvalidArgument)

	// a root marker segment has no data key
	_, err = DataKeyOf(entity.NameKey(TombstoneKind, TombstoneName, nil))
	assert.ErrorIs(t, err, store.ErrInvalidArgument)

	assert.False(t, IsTombstone(nil))
}

func TestReservedKind(t *testing.T) {
	assert.True(t, reservedKind(TombstoneKind))
	assert.True(t, reservedKind("__meta__"))
	assert.False(t, reservedKind("User"))
	assert.False(t, reservedKind("__"))
	assert.False(t, reservedKind("____"))
	assert.False(t, reservedKind("__private"))
}
