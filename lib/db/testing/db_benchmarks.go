package testing

import (
	"bytes"
	"fmt"
	"math/rand"
	"testing"

	"github.com/ValentinKolb/layerkv/lib/db"
)

// RunKVDBBenchmarks runs all benchmarks for a key-value database implementations
func RunKVDBBenchmarks(b *testing.B, name string, factory DBFactory) {
	b.Run(name, func(b *testing.B) {
		b.Run("Set", func(b *testing.B) {
			benchmarkSet(b, factory())
		})

		b.Run("Batch", func(b *testing.B) {
			benchmarkBatch(b, factory())
		})

		b.Run("Get", func(b *testing.B) {
			benchmarkGet(b, factory())
		})

		b.Run("Iterate", func(b *testing.B) {
			benchmarkIterate(b, factory())
		})

		b.Run("SaveLoad", func(b *testing.B) {
			benchmarkSaveLoad(b, factory)
		})
	})
}

func benchKey(i int) []byte {
	return []byte(fmt.Sprintf("bench-key-%09d", i))
}

func fill(b *testing.B, database db.KVDB, n int) {
	b.Helper()
	value := bytes.Repeat([]byte("x"), 100)
	err := database.Batch(func(w db.Writer) error {
		for i := 0; i < n; i++ {
			if err := w.Set(benchKey(i), value); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		b.Fatal(err)
	}
}

func benchmarkSet(b *testing.B, database db.KVDB) {
	defer database.Close()
	requireFeature(b, database, db.FeatureSet)

	value := []byte("benchmark-value")
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := database.Set(benchKey(i), value); err != nil {
			b.Fatal(err)
		}
	}
}

func benchmarkBatch(b *testing.B, database db.KVDB) {
	defer database.Close()
	requireFeature(b, database, db.FeatureBatch)

	value := []byte("benchmark-value")
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		err := database.Batch(func(w db.Writer) error {
			for j := 0; j < 10; j++ {
				if err := w.Set(benchKey(i*10+j), value); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			b.Fatal(err)
		}
	}
}

func benchmarkGet(b *testing.B, database db.KVDB) {
	defer database.Close()
	requireFeature(b, database, db.FeatureGet|db.FeatureBatch)

	const n = 10_000
	fill(b, database, n)
	r := rand.New(rand.NewSource(1))

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, _, err := database.Get(benchKey(r.Intn(n))); err != nil {
			b.Fatal(err)
		}
	}
}

func benchmarkIterate(b *testing.B, database db.KVDB) {
	defer database.Close()
	requireFeature(b, database, db.FeatureIterate|db.FeatureBatch)

	fill(b, database, 10_000)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		n := 0
		err := database.Iterate(benchKey(1000), benchKey(1100), func(_, _ []byte) (bool, error) {
			n++
			return true, nil
		})
		if err != nil || n != 100 {
			b.Fatalf("iterated %d entries, err %v", n, err)
		}
	}
}

func benchmarkSaveLoad(b *testing.B, factory DBFactory) {
	source := factory()
	defer source.Close()
	requireFeature(b, source, db.FeatureSave|db.FeatureLoad|db.FeatureBatch)

	fill(b, source, 10_000)

	var buf bytes.Buffer
	b.Run("Save", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			buf.Reset()
			if err := source.Save(&buf); err != nil {
				b.Fatal(err)
			}
		}
	})

	b.Run("Load", func(b *testing.B) {
		target := factory()
		defer target.Close()
		for i := 0; i < b.N; i++ {
			if err := target.Load(bytes.NewReader(buf.Bytes())); err != nil {
				b.Fatal(err)
			}
		}
	})
}
