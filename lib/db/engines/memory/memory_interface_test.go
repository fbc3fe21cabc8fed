package memory

import (
	"testing"

	"github.com/ValentinKolb/layerkv/lib/db"
	dbtesting "github.com/ValentinKolb/layerkv/lib/db/testing"
)

func Test(t *testing.T) {
	dbtesting.RunKVDBTests(t, "MemoryDB", func() db.KVDB {
		return NewMemoryDB(nil)
	})
}

func Benchmark(b *testing.B) {
	dbtesting.RunKVDBBenchmarks(b, "MemoryDB", func() db.KVDB {
		return NewMemoryDB(nil)
	})
}
