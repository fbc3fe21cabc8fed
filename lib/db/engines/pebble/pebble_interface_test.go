package pebble

import (
	"bytes"
	"testing"

	"github.com/ValentinKolb/layerkv/lib/db"
	dbtesting "github.com/ValentinKolb/layerkv/lib/db/testing"
	"github.com/ValentinKolb/layerkv/lib/db/engines/memory"
	"github.com/stretchr/testify/require"
)

func newInMemory(t testing.TB) db.KVDB {
	d, err := NewPebbleDB(&DBOptions{InMemory: true})
	require.NoError(t, err)
	return d
}

func Test(t *testing.T) {
	dbtesting.RunKVDBTests(t, "PebbleDB", func() db.KVDB {
		return newInMemory(t)
	})
}

func Benchmark(b *testing.B) {
	dbtesting.RunKVDBBenchmarks(b, "PebbleDB", func() db.KVDB {
		return newInMemory(b)
	})
}

func TestPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()

	d, err := NewPebbleDB(&DBOptions{Dir: dir, Sync: true})
	require.NoError(t, err)
	require.NoError(t, d.Set([]byte("k"), []byte("v")))
	require.NoError(t, d.Close())

	d, err = NewPebbleDB(&DBOptions{Dir: dir})
	require.NoError(t, err)
	defer d.Close()

	v, ok, err := d.Get([]byte("k"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("v"), v)
}

func TestSnapshotPortableToMemory(t *testing.T) {
	src := newInMemory(t)
	defer src.Close()
	require.NoError(t, src.Set([]byte("a"), []byte("1")))
	require.NoError(t, src.Set([]byte("b"), []byte("2")))

	var buf bytes.Buffer
	require.NoError(t, src.Save(&buf))

	dst := memory.NewMemoryDB(nil)
	defer dst.Close()
	require.NoError(t, dst.Load(&buf))

	v, ok, err := dst.Get([]byte("b"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("2"), v)
}

func TestRequiresDir(t *testing.T) {
	_, err := NewPebbleDB(&DBOptions{})
	require.Error(t, err)
}
