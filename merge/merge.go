// Package merge implements the k-way merge used both by the read path
// (fanning a Get/iterator out across the memtable and every sorted run)
// and by compaction (merging a set of runs into one). A min-heap keyed
// by (user key, source rank) always surfaces the newest version of a
// key first; everything else with the same key is drained and
// discarded without being returned.
package merge

import (
	"container/heap"

	"github.com/ardonlin/lsmforge/keys"
)

// Source is anything the merger can pull sorted, ranked entries from:
// a memtable iterator or a table iterator.
type Source interface {
	SeekToFirst()
	Seek(target []byte)
	Valid() bool
	Next()
	Key() []byte
	Record() *keys.Record
	// Rank orders sources relative to one another when they hold the
	// same key: a smaller rank is newer and wins. The active memtable
	// is rank 0, sealed memtables count up from there, and sorted runs
	// continue the sequence in the order they should shadow each other.
	Rank() int
}

type heapItem struct {
	src Source
}

type sourceHeap []*heapItem

func (h sourceHeap) Len() int { return len(h) }

func (h sourceHeap) Less(i, j int) bool {
	ki, kj := h[i].src.Key(), h[j].src.Key()
	if c := keys.Compare(ki, kj); c != 0 {
		return c < 0
	}
	return h[i].src.Rank() < h[j].src.Rank()
}

func (h sourceHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *sourceHeap) Push(x any) { *h = append(*h, x.(*heapItem)) }

func (h *sourceHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// Merger presents N ranked sources as a single deduplicated, sorted
// stream. Whether a tombstone is surfaced (DropTombstones=false, used
// by the engine's point lookup so a newer delete shadows an older
// value) or dropped (DropTombstones=true, used by Scan and by a
// compaction into the bottom level) is controlled by the caller via
// DropTombstones — compaction only sets it for a bottom-level job,
// since a tombstone can't be dropped while an older value might still
// live in a run that isn't part of the merge.
type Merger struct {
	sources        []Source
	h              sourceHeap
	bounds         *keys.Range
	DropTombstones bool

	curKey []byte
	curSrc Source
}

// New returns a Merger over sources, optionally restricted to bounds.
func New(sources []Source, bounds *keys.Range) *Merger {
	return &Merger{sources: sources, bounds: bounds, h: make(sourceHeap, 0, len(sources))}
}

func (m *Merger) rebuildHeap() {
	m.h = m.h[:0]
	for _, s := range m.sources {
		if s.Valid() {
			heap.Push(&m.h, &heapItem{src: s})
		}
	}
}

// advanceMatchingKeys drains every source currently sitting on curKey
// (the key just surfaced, or about to be rejected) so the heap's next
// top is a strictly greater key.
func (m *Merger) advanceMatchingKeys() {
	for len(m.h) > 0 && keys.Compare(m.h[0].src.Key(), m.curKey) == 0 {
		top := heap.Pop(&m.h).(*heapItem)
		top.src.Next()
		if top.src.Valid() {
			heap.Push(&m.h, top)
		}
	}
}

func (m *Merger) inBounds(key []byte) bool {
	return m.bounds.Contains(key)
}

func (m *Merger) findNext() {
	m.curSrc = nil
	m.curKey = nil
	for len(m.h) > 0 {
		top := m.h[0].src
		key := top.Key()
		if !m.inBounds(key) {
			return
		}
		m.curKey = append(m.curKey[:0], key...)
		rec := top.Record()
		if m.DropTombstones && rec.IsTombstone() {
			m.advanceMatchingKeys()
			continue
		}
		m.curSrc = top
		return
	}
}

// SeekToFirst positions the merger at the smallest in-bounds key.
func (m *Merger) SeekToFirst() {
	for _, s := range m.sources {
		if m.bounds != nil && m.bounds.Start != nil {
			s.Seek(m.bounds.Start)
		} else {
			s.SeekToFirst()
		}
	}
	m.rebuildHeap()
	m.findNext()
}

// Seek positions the merger at the first in-bounds key >= target.
func (m *Merger) Seek(target []byte) {
	for _, s := range m.sources {
		s.Seek(target)
	}
	m.rebuildHeap()
	m.findNext()
}

// Valid reports whether the merger is positioned at an entry.
func (m *Merger) Valid() bool {
	return m.curSrc != nil
}

// Next advances the merger to the next distinct key.
func (m *Merger) Next() {
	if m.curKey != nil {
		m.advanceMatchingKeys()
	}
	m.findNext()
}

// Key returns the current winning key.
func (m *Merger) Key() []byte {
	return m.curKey
}

// Record returns the current winning record.
func (m *Merger) Record() *keys.Record {
	return m.curSrc.Record()
}
