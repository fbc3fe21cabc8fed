package serializer

import (
	"errors"
	"testing"

	"github.com/ValentinKolb/layerkv/lib/entity"
	"github.com/ValentinKolb/layerkv/lib/query"
	"github.com/ValentinKolb/layerkv/lib/store"
	"github.com/ValentinKolb/layerkv/rpc/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testSerializers is a map of serializer name to factory function
var testSerializers = map[string]func() IRPCSerializer{
	"JSON":    NewJSONSerializer,
	"GOB":     NewGOBSerializer,
	"Msgpack": NewMsgpackSerializer,
}

// transfer sends msg through s and returns what the receiver sees
func transfer(t *testing.T, s IRPCSerializer, msg *common.Message) *common.Message {
	t.Helper()
	data, err := s.Serialize(*msg)
	require.NoError(t, err)
	var out common.Message
	require.NoError(t, s.Deserialize(data, &out))
	return &out
}

func TestRequestsSurviveTransfer(t *testing.T) {
	parent := entity.IDKey("User", 7, nil)
	entities := []*entity.Entity{
		entity.MustNew(entity.IncompleteKey("Post", parent), map[string]any{"title": "hello", "views": 3}),
		entity.MustNew(entity.NameKey("Post", "pinned", parent).WithNamespace("tenant"), map[string]any{"score": 1.5, "raw": []byte("xy")}),
	}
	q := query.New("Post").WithAncestor(parent).Filter("views", query.OpGreater, 1).OrderDesc("views").WithOffset(2).WithLimit(5)
	tx := store.NewTx()

	for name, factory := range testSerializers {
		t.Run(name, func(t *testing.T) {
			s := factory()

			put, err := common.NewPutRequest(tx, entities)
			require.NoError(t, err)
			got := transfer(t, s, put)
			assert.Equal(t, common.MsgTPut, got.MsgType)
			decoded, err := got.DecodeEntities()
			require.NoError(t, err)
			require.Len(t, decoded, 2)
			for i := range entities {
				assert.True(t, entities[i].Equal(decoded[i]), "entity %d", i)
			}
			gotTx, err := got.TxOf()
			require.NoError(t, err)
			assert.Equal(t, tx.ID, gotTx.ID)

			qr, err := common.NewQueryRequest(nil, q)
			require.NoError(t, err)
			got = transfer(t, s, qr)
			decodedQ, err := got.DecodeQuery()
			require.NoError(t, err)
			assert.Equal(t, q.String(), decodedQ.String())
			noTx, err := got.TxOf()
			require.NoError(t, err)
			assert.Nil(t, noTx)

			got = transfer(t, s, common.NewAllocateRequest(parent, "Post", 4))
			p, err := got.DecodeParent()
			require.NoError(t, err)
			assert.True(t, parent.Equal(p))
			assert.Equal(t, "Post", got.Kind)
			assert.Equal(t, int64(4), got.Count)

			got = transfer(t, s, common.NewAllocateRequest(nil, "User", 1))
			p, err = got.DecodeParent()
			require.NoError(t, err)
			assert.Nil(t, p)
		})
	}
}

func TestErrorCodesSurviveTransfer(t *testing.T) {
	for name, factory := range testSerializers {
		t.Run(name, func(t *testing.T) {
			s := factory()

			got := transfer(t, s, common.NewGetResponse(nil, store.Errorf(store.RetCNotFound, "no entity")))
			assert.Equal(t, common.MsgTGet, got.MsgType)
			err := got.Failure()
			assert.ErrorIs(t, err, store.ErrNotFound)

			// errors without a store code become internal errors
			got = transfer(t, s, common.NewDeleteResponse(errors.New("disk on fire")))
			assert.ErrorIs(t, got.Failure(), store.ErrInternal)

			got = transfer(t, s, common.NewFailureResponse(store.RetCInvalidOperation, "shard not found"))
			assert.Equal(t, common.MsgTError, got.MsgType)
			assert.ErrorIs(t, got.Failure(), store.ErrInvalidOperation)

			got = transfer(t, s, common.NewCountResponse(12, nil))
			assert.NoError(t, got.Failure())
			assert.Equal(t, int64(12), got.Count)
		})
	}
}

func TestMessageTypeJSON(t *testing.T) {
	s := NewJSONSerializer()
	data, err := s.Serialize(common.Message{MsgType: common.MsgTAllocate})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg_type":"Allocate"`)

	var msg common.Message
	assert.Error(t, s.Deserialize([]byte(`{"msg_type":"Bogus"}`), &msg))
}

func TestInvalidData(t *testing.T) {
	for name, factory := range testSerializers {
		t.Run(name, func(t *testing.T) {
			var msg common.Message
			assert.Error(t, factory().Deserialize([]byte{0xc1, 0xff, 0x00}, &msg))
		})
	}
}

func TestDeserializeOverwritesMessage(t *testing.T) {
	for name, factory := range testSerializers {
		t.Run(name, func(t *testing.T) {
			s := factory()

			failed, err := s.Serialize(*common.NewFailureResponse(store.RetCNotFound, "gone"))
			require.NoError(t, err)
			ok, err := s.Serialize(*common.NewCountResponse(3, nil))
			require.NoError(t, err)

			var msg common.Message
			require.NoError(t, s.Deserialize(failed, &msg))
			require.Error(t, msg.Failure())

			require.NoError(t, s.Deserialize(ok, &msg))
			assert.NoError(t, msg.Failure())
			assert.Equal(t, int64(3), msg.Count)
		})
	}
}
