package overlay

import (
	"strings"

	"github.com/ValentinKolb/layerkv/lib/entity"
	"github.com/ValentinKolb/layerkv/lib/store"
)

// --------------------------------------------------------------------------
// Tombstone Codec
// --------------------------------------------------------------------------

const (
	// TombstoneKind is the kind of the marker segment appended to a deleted key.
	TombstoneKind = "__tombstone__"
	// TombstoneName is the name of the marker segment.
	TombstoneName = "__t__"
)

// TombstoneKeyOf returns the key the deletion marker of key is stored under:
// a child of key with the reserved marker segment.
func TombstoneKeyOf(key *entity.Key) *entity.Key {
	return entity.NameKey(TombstoneKind, TombstoneName, key)
}

// DataKeyOf reverses TombstoneKeyOf. It fails with RetCInvalidArgument if the
// last segment of tombstoneKey is not the marker segment.
func DataKeyOf(tombstoneKey *entity.Key) (*entity.Key, error) {
	if !isTombstoneKey(tombstoneKey) {
		return nil, store.Errorf(store.RetCInvalidArgument, "%s is not a tombstone key", tombstoneKey)
	}
	return tombstoneKey.Parent(), nil
}

// IsTombstone reports whether the record is a deletion marker.
func IsTombstone(e *entity.Entity) bool {
	return e != nil && isTombstoneKey(e.Key)
}

func isTombstoneKey(k *entity.Key) bool {
	return k != nil && k.Parent() != nil && k.Kind() == TombstoneKind && k.Name() == TombstoneName
}

func newTombstone(key *entity.Key) *entity.Entity {
	return &entity.Entity{Key: TombstoneKeyOf(key), Properties: map[string]any{}}
}

// reservedKind reports whether kind lies in the __name__ space used for
// internal markers. Records of such kinds can not be written through an overlay.
func reservedKind(kind string) bool {
	return len(kind) > 4 && strings.HasPrefix(kind, "__") && strings.HasSuffix(kind, "__")
}

// checkUserKey rejects keys that have a reserved kind on any level of their
// path. Such keys address internal markers, never user records.
func checkUserKey(key *entity.Key) error {
	for k := key; k != nil; k = k.Parent() {
		if reservedKind(k.Kind()) {
			return store.Errorf(store.RetCInvalidArgument, "key %s uses reserved kind %q", key, k.Kind())
		}
	}
	return nil
}
