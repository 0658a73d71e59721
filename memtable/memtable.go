// Package memtable implements the write buffer in front of the sorted
// runs: a skiplist of user keys to atomically-swappable value records,
// sized so the engine can decide when it's full enough to rotate out
// and flush.
package memtable

import (
	"sync"
	"sync/atomic"

	"github.com/ardonlin/lsmforge/keys"
	"github.com/ardonlin/lsmforge/skiplist"
)

// perEntryOverhead approximates the skiplist node bookkeeping
// (next-pointer array, struct headers) that isn't captured by simply
// summing key and value lengths.
const perEntryOverhead = 32

// MemTable is the active, mutable write buffer. mu serializes structural
// writes (Put/Delete) against each other and against Seal, so a memtable
// can never accept a write after it has been handed to the flusher; the
// engine holds mu only for the duration of a single Put/Delete/Seal, not
// for the whole engine-wide write path. Reads (Get, iteration) never take
// mu — that's the whole point of the underlying lock-free skiplist, which
// tolerates any number of concurrent readers racing a single writer.
type MemTable struct {
	mu        sync.Mutex
	list      *skiplist.List
	splice    skiplist.Splice
	byteSize  atomic.Int64
	sealedAt  atomic.Int64 // 0 while active; set once sealed for flush
	refs      atomic.Int32
}

// New returns an empty, writable MemTable.
func New() *MemTable {
	mt := &MemTable{list: skiplist.New(skiplist.BytewiseComparator)}
	mt.refs.Store(1)
	return mt
}

// Put stores a live value for key, replacing any existing record for
// key in place. Reports false without writing if the memtable was
// already sealed; the caller must retry against the engine's current
// active memtable.
func (mt *MemTable) Put(key, value []byte) bool {
	return mt.apply(key, &keys.Record{Kind: keys.KindSet, Value: value})
}

// Delete stores a tombstone for key. Reports false without writing if
// the memtable was already sealed.
func (mt *MemTable) Delete(key []byte) bool {
	return mt.apply(key, &keys.Record{Kind: keys.KindDelete})
}

func (mt *MemTable) apply(key []byte, rec *keys.Record) bool {
	mt.mu.Lock()
	defer mt.mu.Unlock()
	if mt.Sealed() {
		return false
	}
	if v, ok := mt.list.Get(key); ok {
		old := v.(*keys.Record)
		mt.list.Upsert(key, rec)
		mt.byteSize.Add(int64(len(rec.Value)) - int64(len(old.Value)))
		return true
	}
	mt.list.InsertWithHint(key, rec, &mt.splice)
	mt.byteSize.Add(int64(len(key)) + int64(len(rec.Value)) + perEntryOverhead)
	return true
}

// Get returns the most recently written record for key, if any.
func (mt *MemTable) Get(key []byte) (*keys.Record, bool) {
	v, ok := mt.list.Get(key)
	if !ok {
		return nil, false
	}
	return v.(*keys.Record), true
}

// ByteSize returns the approximate memory footprint of this memtable,
// used to decide when to rotate it out for flushing.
func (mt *MemTable) ByteSize() int64 {
	return mt.byteSize.Load()
}

// Count returns the number of distinct keys currently held.
func (mt *MemTable) Count() int64 {
	return mt.list.Len()
}

// Seal marks this memtable as no longer accepting writes, using the
// caller-supplied epoch as the seal's logical timestamp-like tag. Safe
// to call once; later calls are no-ops. Takes the same lock Put/Delete
// do, so a write already in flight always finishes (and is reflected
// in the memtable a flush will iterate) before Seal can take effect;
// any write that arrives after is rejected and must retry elsewhere.
func (mt *MemTable) Seal(epoch int64) {
	mt.mu.Lock()
	mt.sealedAt.CompareAndSwap(0, epoch)
	mt.mu.Unlock()
}

// Sealed reports whether Seal has been called.
func (mt *MemTable) Sealed() bool {
	return mt.sealedAt.Load() != 0
}

// Ref increments the memtable's reference count. Readers that want to
// keep iterating a memtable across a rotation should Ref it before
// releasing the engine lock and UnRef when done.
func (mt *MemTable) Ref() {
	mt.refs.Add(1)
}

// UnRef decrements the reference count and reports whether it reached
// zero (meaning the caller may now safely retire this memtable).
func (mt *MemTable) UnRef() bool {
	return mt.refs.Add(-1) == 0
}

// Iterator walks every key in the memtable in ascending order.
type Iterator struct {
	it     *skiplist.Iterator
	bounds *keys.Range
	past   bool
}

// NewIterator returns an iterator over the whole memtable.
func (mt *MemTable) NewIterator() *Iterator {
	return &Iterator{it: mt.list.NewIterator()}
}

// NewIteratorWithBounds returns an iterator restricted to bounds.
func (mt *MemTable) NewIteratorWithBounds(bounds *keys.Range) *Iterator {
	return &Iterator{it: mt.list.NewIterator(), bounds: bounds}
}

// SeekToFirst positions the iterator at the first entry within bounds.
func (it *Iterator) SeekToFirst() {
	it.past = false
	if it.bounds != nil && it.bounds.Start != nil {
		it.it.Seek(it.bounds.Start)
	} else {
		it.it.SeekToFirst()
	}
	it.clampLimit()
}

// Seek positions the iterator at the first entry >= target (and within
// bounds).
func (it *Iterator) Seek(target []byte) {
	it.past = false
	if it.bounds != nil && it.bounds.Start != nil && keys.Compare(target, it.bounds.Start) < 0 {
		target = it.bounds.Start
	}
	it.it.Seek(target)
	it.clampLimit()
}

func (it *Iterator) clampLimit() {
	if it.it.Valid() && it.bounds != nil && it.bounds.Limit != nil &&
		keys.Compare(it.it.Key(), it.bounds.Limit) >= 0 {
		// force Valid() false by seeking past the end; the underlying
		// iterator has no explicit invalidate, so track it ourselves
		it.past = true
	}
}

// Valid reports whether the iterator is on an in-bounds entry.
func (it *Iterator) Valid() bool {
	return it.it.Valid() && !it.past
}

// Next advances the iterator.
func (it *Iterator) Next() {
	it.it.Next()
	it.clampLimit()
}

// Key returns the current key.
func (it *Iterator) Key() []byte {
	return it.it.Key()
}

// Record returns the current value record.
func (it *Iterator) Record() *keys.Record {
	return it.it.Value().(*keys.Record)
}
