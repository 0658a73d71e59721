// Package table implements the sorted run: an immutable, in-memory,
// sorted sequence of key/record entries produced either by draining a
// sealed memtable or by merging a set of existing runs during
// compaction. On-disk block format, compression, and a block cache are
// out of scope here — a Table is simply a sorted Go slice, searched by
// binary search over the slice itself.
package table

import (
	"sort"

	"github.com/ardonlin/lsmforge/keys"
)

// entry pairs a key with its record in a built Table.
type entry struct {
	key []byte
	rec *keys.Record
}

// Table is an immutable sorted run of key/record entries. Safe for
// concurrent reads by any number of goroutines; it is never mutated
// after Builder.Finish constructs it.
type Table struct {
	entries []entry
	size    int64
	// Rank orders tables of the same key relative to one another when
	// multiple tables can contain the same key: smaller rank wins, i.e.
	// it was produced more recently. Set by the compaction/flush path
	// that creates the table, not by the table itself.
	Rank int
}

// Builder accumulates entries in increasing key order and produces an
// immutable Table. Keys must be added in strictly increasing order;
// this mirrors how a drained memtable iterator or a merge iterator
// already hands entries to the builder, so no internal sort is needed.
type Builder struct {
	entries []entry
	size    int64
	lastKey []byte
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// Add appends the next entry. Panics if called out of key order, since
// that would indicate a bug in the caller (memtable drain or merge),
// not a condition callers should handle.
func (b *Builder) Add(key []byte, rec *keys.Record) {
	if b.lastKey != nil && keys.Compare(key, b.lastKey) <= 0 {
		panic("table: Add called with out-of-order key")
	}
	k := append([]byte(nil), key...)
	b.entries = append(b.entries, entry{key: k, rec: rec})
	b.size += int64(len(key)) + int64(len(rec.Value)) + 24
	b.lastKey = k
}

// Len reports how many entries have been added so far.
func (b *Builder) Len() int {
	return len(b.entries)
}

// EstimatedSize reports the approximate byte size accumulated so far.
func (b *Builder) EstimatedSize() int64 {
	return b.size
}

// Finish produces the immutable Table. The Builder must not be reused
// afterward.
func (b *Builder) Finish(rank int) *Table {
	return &Table{entries: b.entries, size: b.size, Rank: rank}
}

// ByteSize reports the table's approximate size in bytes.
func (t *Table) ByteSize() int64 {
	return t.size
}

// NumEntries reports how many entries the table holds.
func (t *Table) NumEntries() int {
	return len(t.entries)
}

// SmallestKey returns the table's lowest key, or nil if empty.
func (t *Table) SmallestKey() []byte {
	if len(t.entries) == 0 {
		return nil
	}
	return t.entries[0].key
}

// LargestKey returns the table's highest key, or nil if empty.
func (t *Table) LargestKey() []byte {
	if len(t.entries) == 0 {
		return nil
	}
	return t.entries[len(t.entries)-1].key
}

// Get returns the record for key, if present, via binary search.
func (t *Table) Get(key []byte) (*keys.Record, bool) {
	i := sort.Search(len(t.entries), func(i int) bool {
		return keys.Compare(t.entries[i].key, key) >= 0
	})
	if i < len(t.entries) && keys.Compare(t.entries[i].key, key) == 0 {
		return t.entries[i].rec, true
	}
	return nil, false
}

// Overlaps reports whether this table's key range intersects [start,
// limit) — start inclusive, limit exclusive, either may be nil for
// unbounded.
func (t *Table) Overlaps(start, limit []byte) bool {
	if len(t.entries) == 0 {
		return false
	}
	if limit != nil && keys.Compare(t.SmallestKey(), limit) >= 0 {
		return false
	}
	if start != nil && keys.Compare(t.LargestKey(), start) < 0 {
		return false
	}
	return true
}

// Iterator walks a Table's entries in ascending key order, optionally
// restricted to a bound range.
type Iterator struct {
	t      *Table
	idx    int
	bounds *keys.Range
}

// NewIterator returns an unbounded iterator over t.
func (t *Table) NewIterator() *Iterator {
	return &Iterator{t: t, idx: -1}
}

// NewIteratorWithBounds returns an iterator restricted to bounds.
func (t *Table) NewIteratorWithBounds(bounds *keys.Range) *Iterator {
	return &Iterator{t: t, idx: -1, bounds: bounds}
}

func (it *Iterator) inBounds(i int) bool {
	if i < 0 || i >= len(it.t.entries) {
		return false
	}
	return it.bounds.Contains(it.t.entries[i].key)
}

// SeekToFirst positions the iterator at the first in-bounds entry.
func (it *Iterator) SeekToFirst() {
	if it.bounds != nil && it.bounds.Start != nil {
		it.Seek(it.bounds.Start)
		return
	}
	it.idx = 0
	if !it.inBounds(it.idx) {
		it.idx = len(it.t.entries)
	}
}

// Seek positions the iterator at the first entry >= target.
func (it *Iterator) Seek(target []byte) {
	i := sort.Search(len(it.t.entries), func(i int) bool {
		return keys.Compare(it.t.entries[i].key, target) >= 0
	})
	it.idx = i
	if !it.inBounds(it.idx) {
		it.idx = len(it.t.entries)
	}
}

// Valid reports whether the iterator is positioned at an entry.
func (it *Iterator) Valid() bool {
	return it.idx >= 0 && it.idx < len(it.t.entries) && it.inBounds(it.idx)
}

// Next advances the iterator.
func (it *Iterator) Next() {
	it.idx++
	if !it.inBounds(it.idx) {
		it.idx = len(it.t.entries)
	}
}

// Key returns the current entry's key.
func (it *Iterator) Key() []byte {
	return it.t.entries[it.idx].key
}

// Record returns the current entry's record.
func (it *Iterator) Record() *keys.Record {
	return it.t.entries[it.idx].rec
}
