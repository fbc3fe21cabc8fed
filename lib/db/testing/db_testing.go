package testing

import (
	"bytes"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/ValentinKolb/layerkv/lib/db"
)

// DBFactory is a function that creates a new, empty instance of a KVDB implementation
type DBFactory func() db.KVDB

// RunKVDBTests runs a comprehensive test suite for a KVDB implementation.
func RunKVDBTests(t *testing.T, name string, factory DBFactory) {
	t.Run(name, func(t *testing.T) {
		t.Run("Set&Get", func(t *testing.T) {
			testSetGet(t, factory())
		})

		t.Run("Delete", func(t *testing.T) {
			testDelete(t, factory())
		})

		t.Run("Has", func(t *testing.T) {
			testHas(t, factory())
		})

		t.Run("Batch", func(t *testing.T) {
			testBatch(t, factory())
		})

		t.Run("BatchAbort", func(t *testing.T) {
			testBatchAbort(t, factory())
		})

		t.Run("IterateOrder", func(t *testing.T) {
			testIterateOrder(t, factory())
		})

		t.Run("IterateRange", func(t *testing.T) {
			testIterateRange(t, factory())
		})

		t.Run("IterateStop", func(t *testing.T) {
			testIterateStop(t, factory())
		})

		t.Run("SaveLoad", func(t *testing.T) {
			testSaveLoad(t, factory)
		})

		t.Run("EdgeCases", func(t *testing.T) {
			testEdgeCases(t, factory())
		})

		t.Run("Concurrent", func(t *testing.T) {
			testConcurrent(t, factory())
		})

		t.Run("Info", func(t *testing.T) {
			testInfo(t, factory())
		})
	})
}

// --------------------------------------------------------------------------
// Helper functions
// --------------------------------------------------------------------------

// Checks if the database supports the specified feature
// Skip the test if it is not supported
func requireFeature(t testing.TB, database db.KVDB, feature db.Feature) {
	if !database.SupportsFeature(feature) {
		t.Skip()
	}
}

func mustSet(t testing.TB, database db.KVDB, key, value string) {
	t.Helper()
	if err := database.Set([]byte(key), []byte(value)); err != nil {
		t.Fatalf("Set(%q) failed: %v", key, err)
	}
}

func mustGet(t testing.TB, database db.KVDB, key string) ([]byte, bool) {
	t.Helper()
	v, ok, err := database.Get([]byte(key))
	if err != nil {
		t.Fatalf("Get(%q) failed: %v", key, err)
	}
	return v, ok
}

func collect(t testing.TB, database db.KVDB, start, end []byte) []string {
	t.Helper()
	var keys []string
	err := database.Iterate(start, end, func(k, _ []byte) (bool, error) {
		keys = append(keys, string(k))
		return true, nil
	})
	if err != nil {
		t.Fatalf("Iterate failed: %v", err)
	}
	return keys
}

func equalKeys(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// --------------------------------------------------------------------------
// Test functions
// --------------------------------------------------------------------------

func testSetGet(t *testing.T, database db.KVDB) {
	defer database.Close()

	requireFeature(t, database, db.FeatureSet|db.FeatureGet)

	mustSet(t, database, "test-key", "test-value1")

	result, exists := mustGet(t, database, "test-key")
	if !exists {
		t.Errorf("Expected key to exist after Set")
	}
	if !bytes.Equal(result, []byte("test-value1")) {
		t.Errorf("Expected value test-value1, got %s", result)
	}

	mustSet(t, database, "test-key", "test-value2")

	result, _ = mustGet(t, database, "test-key")
	if !bytes.Equal(result, []byte("test-value2")) {
		t.Errorf("Expected value test-value2, got %s", result)
	}

	if _, exists = mustGet(t, database, "nonexistent-key"); exists {
		t.Errorf("Expected nonexistent key to return exists=false")
	}

	// the returned value must be a copy
	result[0] = 'X'
	result, _ = mustGet(t, database, "test-key")
	if result[0] == 'X' {
		t.Errorf("Modifying a returned value changed the stored value")
	}

	// the stored value must not alias the caller's slice
	input := []byte("abc")
	if err := database.Set([]byte("alias"), input); err != nil {
		t.Fatal(err)
	}
	input[0] = 'Z'
	result, _ = mustGet(t, database, "alias")
	if !bytes.Equal(result, []byte("abc")) {
		t.Errorf("Modifying the input slice changed the stored value: %s", result)
	}
}

func testDelete(t *testing.T, database db.KVDB) {
	defer database.Close()

	requireFeature(t, database, db.FeatureSet|db.FeatureGet|db.FeatureDelete)

	mustSet(t, database, "key", "value")
	if err := database.Delete([]byte("key")); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, exists := mustGet(t, database, "key"); exists {
		t.Errorf("Expected key to be gone after Delete")
	}

	if err := database.Delete([]byte("never-set")); err != nil {
		t.Errorf("Deleting a missing key should not fail: %v", err)
	}
}

func testHas(t *testing.T, database db.KVDB) {
	defer database.Close()

	requireFeature(t, database, db.FeatureSet|db.FeatureHas)

	mustSet(t, database, "key", "")
	ok, err := database.Has([]byte("key"))
	if err != nil || !ok {
		t.Errorf("Expected Has=true for a key with an empty value, got %v (err %v)", ok, err)
	}
	ok, err = database.Has([]byte("other"))
	if err != nil || ok {
		t.Errorf("Expected Has=false for a missing key, got %v (err %v)", ok, err)
	}
}

func testBatch(t *testing.T, database db.KVDB) {
	defer database.Close()

	requireFeature(t, database, db.FeatureBatch|db.FeatureGet)

	mustSet(t, database, "old", "1")
	err := database.Batch(func(w db.Writer) error {
		for i := 0; i < 10; i++ {
			if err := w.Set([]byte(fmt.Sprintf("k%02d", i)), []byte("v")); err != nil {
				return err
			}
		}
		return w.Delete([]byte("old"))
	})
	if err != nil {
		t.Fatalf("Batch failed: %v", err)
	}

	for i := 0; i < 10; i++ {
		if _, ok := mustGet(t, database, fmt.Sprintf("k%02d", i)); !ok {
			t.Errorf("Expected k%02d to exist after batch", i)
		}
	}
	if _, ok := mustGet(t, database, "old"); ok {
		t.Errorf("Expected old to be deleted by batch")
	}
}

func testBatchAbort(t *testing.T, database db.KVDB) {
	defer database.Close()

	requireFeature(t, database, db.FeatureBatch|db.FeatureGet)

	abort := errors.New("abort")
	err := database.Batch(func(w db.Writer) error {
		if err := w.Set([]byte("a"), []byte("1")); err != nil {
			return err
		}
		return abort
	})
	if !errors.Is(err, abort) {
		t.Errorf("Expected the callback error, got %v", err)
	}
	if _, ok := mustGet(t, database, "a"); ok {
		t.Errorf("Aborted batch must not write anything")
	}
}

func testIterateOrder(t *testing.T, database db.KVDB) {
	defer database.Close()

	requireFeature(t, database, db.FeatureSet|db.FeatureIterate)

	for _, k := range []string{"b", "a\x00", "c", "a", "\xff", "ab"} {
		mustSet(t, database, k, "v-"+k)
	}

	want := []string{"a", "a\x00", "ab", "b", "c", "\xff"}
	if got := collect(t, database, nil, nil); !equalKeys(got, want) {
		t.Errorf("Expected keys in byte order %q, got %q", want, got)
	}

	err := database.Iterate(nil, nil, func(k, v []byte) (bool, error) {
		if string(v) != "v-"+string(k) {
			t.Errorf("Key %q has value %q", k, v)
		}
		return true, nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func testIterateRange(t *testing.T, database db.KVDB) {
	defer database.Close()

	requireFeature(t, database, db.FeatureSet|db.FeatureIterate)

	for i := 0; i < 600; i++ {
		mustSet(t, database, fmt.Sprintf("key-%04d", i), "v")
	}
	mustSet(t, database, "other", "v")

	got := collect(t, database, []byte("key-0100"), []byte("key-0400"))
	if len(got) != 300 {
		t.Fatalf("Expected 300 keys in range, got %d", len(got))
	}
	if got[0] != "key-0100" || got[299] != "key-0399" {
		t.Errorf("Range bounds wrong: first %q last %q", got[0], got[299])
	}

	got = collect(t, database, []byte("key-0590"), nil)
	if len(got) != 11 || got[10] != "other" {
		t.Errorf("Open range should reach the last key, got %q", got)
	}

	if got = collect(t, database, []byte("x"), []byte("y")); len(got) != 0 {
		t.Errorf("Expected empty range, got %q", got)
	}
}

func testIterateStop(t *testing.T, database db.KVDB) {
	defer database.Close()

	requireFeature(t, database, db.FeatureSet|db.FeatureIterate)

	for i := 0; i < 10; i++ {
		mustSet(t, database, fmt.Sprintf("k%d", i), "v")
	}

	n := 0
	err := database.Iterate(nil, nil, func(_, _ []byte) (bool, error) {
		n++
		return n < 3, nil
	})
	if err != nil || n != 3 {
		t.Errorf("Expected iteration to stop after 3 entries, got %d (err %v)", n, err)
	}

	stop := errors.New("stop")
	err = database.Iterate(nil, nil, func(_, _ []byte) (bool, error) {
		return true, stop
	})
	if !errors.Is(err, stop) {
		t.Errorf("Expected the callback error, got %v", err)
	}

	// writes from inside the callback must not deadlock
	err = database.Iterate(nil, nil, func(k, _ []byte) (bool, error) {
		return true, database.Set(append([]byte("copy-"), k...), []byte("x"))
	})
	if err != nil {
		t.Errorf("Writing during iteration failed: %v", err)
	}
}

func testSaveLoad(t *testing.T, factory DBFactory) {
	source := factory()
	defer source.Close()

	requireFeature(t, source, db.FeatureSet|db.FeatureSave|db.FeatureLoad|db.FeatureIterate)

	for i := 0; i < 100; i++ {
		mustSet(t, source, fmt.Sprintf("key-%03d", i), fmt.Sprintf("value-%d", i))
	}
	mustSet(t, source, "empty", "")

	var buf bytes.Buffer
	if err := source.Save(&buf); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	target := factory()
	defer target.Close()
	mustSet(t, target, "stale", "must be gone after load")

	if err := target.Load(bytes.NewReader(buf.Bytes())); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if want, got := collect(t, source, nil, nil), collect(t, target, nil, nil); !equalKeys(want, got) {
		t.Fatalf("Loaded keys differ: want %d keys, got %d", len(want), len(got))
	}
	v, _ := mustGet(t, target, "key-042")
	if string(v) != "value-42" {
		t.Errorf("Expected value-42, got %q", v)
	}
	if _, ok := mustGet(t, target, "stale"); ok {
		t.Errorf("Load must replace the existing content")
	}

	if err := target.Load(bytes.NewReader([]byte("garbage"))); err == nil {
		t.Errorf("Expected Load of a broken snapshot to fail")
	}
}

func testEdgeCases(t *testing.T, database db.KVDB) {
	defer database.Close()

	requireFeature(t, database, db.FeatureSet|db.FeatureGet)

	// large value
	large := bytes.Repeat([]byte{0xAB}, 1<<20)
	if err := database.Set([]byte("large"), large); err != nil {
		t.Fatal(err)
	}
	v, _ := mustGet(t, database, "large")
	if !bytes.Equal(v, large) {
		t.Errorf("Large value corrupted")
	}

	// binary keys
	bin := []byte{0x00, 0x01, 0xFF, 0x00}
	if err := database.Set(bin, []byte("bin")); err != nil {
		t.Fatal(err)
	}
	v, ok, err := database.Get(bin)
	if err != nil || !ok || string(v) != "bin" {
		t.Errorf("Binary key lookup failed: %q %v %v", v, ok, err)
	}

	// nil value is stored as empty
	if err := database.Set([]byte("nil"), nil); err != nil {
		t.Fatal(err)
	}
	v, ok = mustGet(t, database, "nil")
	if !ok || len(v) != 0 {
		t.Errorf("Expected empty value for nil input, got %q (exists %v)", v, ok)
	}
}

func testConcurrent(t *testing.T, database db.KVDB) {
	defer database.Close()

	requireFeature(t, database, db.FeatureSet|db.FeatureGet|db.FeatureBatch)

	const workers, perWorker = 8, 50
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				key := []byte(fmt.Sprintf("w%d-%d", w, i))
				if err := database.Batch(func(bw db.Writer) error {
					return bw.Set(key, key)
				}); err != nil {
					errs <- err
					return
				}
				if _, ok, err := database.Get(key); err != nil || !ok {
					errs <- fmt.Errorf("read own write %s: ok=%v err=%v", key, ok, err)
					return
				}
			}
		}(w)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func testInfo(t *testing.T, database db.KVDB) {
	defer database.Close()

	for i := 0; i < 20; i++ {
		mustSet(t, database, fmt.Sprintf("k%d", i), "value")
	}
	info := database.GetInfo()
	if info.DbType == "" {
		t.Errorf("Expected an implementation name")
	}
	if info.Keys != 20 {
		t.Errorf("Expected 20 keys, got %d", info.Keys)
	}
	for _, f := range info.SupportedFeatures {
		if !database.SupportsFeature(f) {
			t.Errorf("Feature %s listed but not supported", f)
		}
	}
}
