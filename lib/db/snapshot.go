package db

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
)

// --------------------------------------------------------------------------
// Snapshot Format
// --------------------------------------------------------------------------
//
// All engines share one snapshot layout so that a snapshot taken from one
// engine can be loaded into another (e.g. a raft replica switching from the
// memory to the pebble engine):
//
//	magic "LKVS" | version uint8 | count uint64 | count x (keyLen uint32 | key | valueLen uint32 | value)
//
// Integers are little endian, pairs are written in key order.

const (
	snapshotMagic   = "LKVS"
	snapshotVersion = 1
)

// SnapshotWriter writes a snapshot entry by entry.
type SnapshotWriter struct {
	bw *bufio.Writer
}

// WriteSnapshot writes the snapshot header announcing count entries and
// returns a writer for the entries. Flush must be called after the last entry.
func WriteSnapshot(w io.Writer, count int) (*SnapshotWriter, error) {
	bw := bufio.NewWriterSize(w, 1024*1024) // 1 MB buffer

	if _, err := bw.WriteString(snapshotMagic); err != nil {
		return nil, err
	}
	if err := binary.Write(bw, binary.LittleEndian, uint8(snapshotVersion)); err != nil {
		return nil, err
	}
	if err := binary.Write(bw, binary.LittleEndian, uint64(count)); err != nil {
		return nil, err
	}
	return &SnapshotWriter{bw: bw}, nil
}

// Write appends one key/value pair.
func (s *SnapshotWriter) Write(key, value []byte) error {
	if err := binary.Write(s.bw, binary.LittleEndian, uint32(len(key))); err != nil {
		return err
	}
	if _, err := s.bw.Write(key); err != nil {
		return err
	}
	if err := binary.Write(s.bw, binary.LittleEndian, uint32(len(value))); err != nil {
		return err
	}
	_, err := s.bw.Write(value)
	return err
}

func (s *SnapshotWriter) Flush() error {
	return s.bw.Flush()
}

// ReadSnapshot reads a snapshot and calls fn for every pair in order.
func ReadSnapshot(r io.Reader, fn func(key, value []byte) error) error {
	br := bufio.NewReaderSize(r, 1024*1024) // 1 MB buffer

	magic := make([]byte, len(snapshotMagic))
	if _, err := io.ReadFull(br, magic); err != nil {
		return err
	}
	if string(magic) != snapshotMagic {
		return fmt.Errorf("invalid snapshot format: magic number mismatch")
	}

	var version uint8
	if err := binary.Read(br, binary.LittleEndian, &version); err != nil {
		return err
	}
	if version != snapshotVersion {
		return fmt.Errorf("unsupported snapshot version: %d (expected %d)", version, snapshotVersion)
	}

	var count uint64
	if err := binary.Read(br, binary.LittleEndian, &count); err != nil {
		return err
	}

	for i := uint64(0); i < count; i++ {
		key, err := readChunk(br)
		if err != nil {
			return fmt.Errorf("entry %d: %w", i, err)
		}
		value, err := readChunk(br)
		if err != nil {
			return fmt.Errorf("entry %d: %w", i, err)
		}
		if err := fn(key, value); err != nil {
			return err
		}
	}
	return nil
}

func readChunk(r io.Reader) ([]byte, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, err
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, err
	}
	return b, nil
}

// IterateFunc ranges over a consistent view of a database in key order.
type IterateFunc func(fn func(key, value []byte) (bool, error)) error

// SaveView writes a snapshot of a consistent view. The view is iterated
// twice, once to count and once to write the entries.
func SaveView(w io.Writer, iterate IterateFunc) error {
	count := 0
	if err := iterate(func(_, _ []byte) (bool, error) {
		count++
		return true, nil
	}); err != nil {
		return err
	}
	sw, err := WriteSnapshot(w, count)
	if err != nil {
		return err
	}
	if err := iterate(func(k, v []byte) (bool, error) {
		return true, sw.Write(k, v)
	}); err != nil {
		return err
	}
	return sw.Flush()
}
