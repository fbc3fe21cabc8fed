package serializer

import (
	"fmt"
	"testing"

	"github.com/ValentinKolb/layerkv/lib/entity"
	"github.com/ValentinKolb/layerkv/lib/query"
	"github.com/ValentinKolb/layerkv/lib/store"
	"github.com/ValentinKolb/layerkv/rpc/common"
)

// benchmarkMessages returns a set of messages for targeted benchmarking
func benchmarkMessages(b *testing.B) map[string]common.Message {
	page := make([]*entity.Entity, 100)
	for i := range page {
		page[i] = entity.MustNew(entity.IDKey("Item", int64(i+1), nil), map[string]any{
			"name":  fmt.Sprintf("item-%d", i),
			"score": i % 10,
		})
	}
	keys := make([]*entity.Key, len(page))
	for i, e := range page {
		keys[i] = e.Key
	}

	put, err := common.NewPutRequest(store.NewTx(), page[:1])
	if err != nil {
		b.Fatal(err)
	}
	q, err := common.NewQueryRequest(nil, query.New("Item").OrderDesc("score").WithLimit(100))
	if err != nil {
		b.Fatal(err)
	}

	return map[string]common.Message{
		"Empty":     {MsgType: common.MsgTSuccess},
		"GetOneKey": *common.NewGetRequest(nil, keys[:1]),
		"Get100":    *common.NewGetRequest(nil, keys),
		"PutOne":    *put,
		"Query":     *q,
		"QueryPage": *common.NewQueryResponse(page, 0, nil),
		"Error":     *common.NewErrorResponse(common.MsgTGet, store.ErrNotFound),
	}
}

// BenchmarkSerialize benchmarks serialization for all implementations with various message types
func BenchmarkSerialize(b *testing.B) {
	messages := benchmarkMessages(b)

	for name, factory := range testSerializers {
		for msgName, msg := range messages {
			b.Run(name+"_"+msgName, func(b *testing.B) {
				serializer := factory()
				b.ResetTimer()

				for i := 0; i < b.N; i++ {
					if _, err := serializer.Serialize(msg); err != nil {
						b.Fatalf("Failed to serialize: %v", err)
					}
				}
			})
		}
	}
}

// BenchmarkDeserialize benchmarks deserialization for all implementations with various message types
func BenchmarkDeserialize(b *testing.B) {
	messages := benchmarkMessages(b)

	for name, factory := range testSerializers {
		for msgName, msg := range messages {
			b.Run(name+"_"+msgName, func(b *testing.B) {
				serializer := factory()
				data, err := serializer.Serialize(msg)
				if err != nil {
					b.Fatalf("Failed to serialize: %v", err)
				}
				b.ReportMetric(float64(len(data)), "bytes")
				b.ResetTimer()

				for i := 0; i < b.N; i++ {
					var out common.Message
					if err := serializer.Deserialize(data, &out); err != nil {
						b.Fatalf("Failed to deserialize: %v", err)
					}
				}
			})
		}
	}
}
