package bolt

import (
	"path/filepath"
	"testing"

	"github.com/ValentinKolb/layerkv/lib/db"
	dbtesting "github.com/ValentinKolb/layerkv/lib/db/testing"
	"github.com/stretchr/testify/require"
)

func newTempDB(t testing.TB) db.KVDB {
	d, err := NewBoltDB(&DBOptions{Path: filepath.Join(t.TempDir(), "test.db"), NoSync: true})
	require.NoError(t, err)
	return d
}

func Test(t *testing.T) {
	dbtesting.RunKVDBTests(t, "BoltDB", func() db.KVDB {
		return newTempDB(t)
	})
}

func Benchmark(b *testing.B) {
	dbtesting.RunKVDBBenchmarks(b, "BoltDB", func() db.KVDB {
		return newTempDB(b)
	})
}

func TestClosed(t *testing.T) {
	d := newTempDB(t)
	require.NoError(t, d.Close())

	_, _, err := d.Get([]byte("k"))
	require.ErrorIs(t, err, db.ErrClosed)
}

func TestPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reopen.db")

	d, err := NewBoltDB(&DBOptions{Path: path})
	require.NoError(t, err)
	require.NoError(t, d.Set([]byte("k"), []byte("v")))
	require.NoError(t, d.Close())

	d, err = NewBoltDB(&DBOptions{Path: path})
	require.NoError(t, err)
	defer d.Close()

	ok, err := d.Has([]byte("k"))
	require.NoError(t, err)
	require.True(t, ok)
}
