// Package skiplist implements a lock-free concurrent skiplist keyed by
// arbitrary byte slices, with an atomic value slot per key so a writer
// can swap a key's record without touching the list structure at all.
//
// Readers never block: Get and iteration only ever follow
// acquire-loaded next pointers. Nodes are never unlinked; a node's key
// and links are never rewritten once published (only its value slot is
// swapped), and nodes are freed together with the List once nothing
// references it.
package skiplist

import (
	"math/rand/v2"
	"sync/atomic"
)

const (
	maxHeight  = 12
	branching  = 4 // P(level i+1 | level i) == 1/branching
)

// Comparator orders two keys. Compare(a, b) < 0 means a sorts before b.
type Comparator func(a, b []byte) int

// BytewiseComparator is the default, and only, comparator this module
// ships: plain lexicographic byte order.
func BytewiseComparator(a, b []byte) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	default:
		return 0
	}
}

// node is allocated with exactly as many next pointers as its height
// calls for; next[0] is the bottom level.
type node struct {
	key    []byte
	value  atomic.Pointer[any]
	height int
	next   []atomic.Pointer[node]
}

func newNode(key []byte, height int) *node {
	return &node{key: key, height: height, next: make([]atomic.Pointer[node], height)}
}

func (n *node) loadNext(level int) *node {
	return n.next[level].Load()
}

func (n *node) storeNext(level int, v *node) {
	n.next[level].Store(v)
}

func (n *node) casNext(level int, old, v *node) bool {
	return n.next[level].CompareAndSwap(old, v)
}

// Splice is an insertion hint: the predecessor/successor node at every
// level as of the last insert through it. Passing the same Splice to a
// run of monotonically increasing inserts (the common case when
// draining a sequence of Put calls into a fresh memtable) lets most
// inserts skip the top-down search entirely — only the levels the hint
// got wrong need to be recomputed. A zero-value Splice is valid and
// triggers a full recompute on first use.
type Splice struct {
	height int
	prev   [maxHeight]*node
	next   [maxHeight]*node
}

// List is a lock-free skiplist mapping []byte keys to arbitrary values.
// All exported methods are safe to call concurrently, and CAS makes it
// safe to race writers against any number of concurrent readers. The
// one exception is a Splice: a Splice passed to InsertWithHint must not
// be used by two goroutines at once, which is why memtable.MemTable,
// holding one Splice, serializes its writers.
type List struct {
	cmp         Comparator
	head        *node
	maxHeight   atomic.Int32
	rnd         *rand.Rand
	approxCount atomic.Int64
	seqSplice   *Splice
}

// New returns an empty List ordered by cmp. If cmp is nil,
// BytewiseComparator is used.
func New(cmp Comparator) *List {
	if cmp == nil {
		cmp = BytewiseComparator
	}
	l := &List{
		cmp:       cmp,
		head:      newNode(nil, maxHeight),
		rnd:       rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
		seqSplice: &Splice{},
	}
	l.maxHeight.Store(1)
	return l
}

func (l *List) randomHeight() int {
	h := 1
	// the package-level source is safe for concurrent inserts; l.rnd is not
	for h < maxHeight && rand.IntN(branching) == 0 {
		h++
	}
	return h
}

func (l *List) keyIsAfter(key []byte, n *node) bool {
	return n != l.head && l.cmp(n.key, key) < 0
}

// findSpliceForLevel walks forward from before at level until it finds
// the node just before the first node whose key is >= key.
func (l *List) findSpliceForLevel(key []byte, before *node, level int) (prev, next *node) {
	for {
		n := before.loadNext(level)
		if n == nil || l.cmp(n.key, key) >= 0 {
			return before, n
		}
		before = n
	}
}

// findPrevs returns, for every level below the list's current height,
// the last node whose key sorts before key.
func (l *List) findPrevs(key []byte) [maxHeight]*node {
	var prevs [maxHeight]*node
	cur := l.head
	for level := int(l.maxHeight.Load()) - 1; level >= 0; level-- {
		for {
			next := cur.loadNext(level)
			if next == nil || !l.keyIsAfter(key, next) {
				break
			}
			cur = next
		}
		prevs[level] = cur
	}
	return prevs
}

// findGreaterOrEqual returns the first node whose key is >= key, or nil.
func (l *List) findGreaterOrEqual(key []byte) *node {
	cur := l.head
	for level := int(l.maxHeight.Load()) - 1; level >= 0; level-- {
		for {
			next := cur.loadNext(level)
			if next == nil || l.cmp(next.key, key) >= 0 {
				break
			}
			cur = next
		}
	}
	return cur.loadNext(0)
}

func (l *List) recomputeSplice(key []byte, splice *Splice, recomputeFrom int) {
	for i := recomputeFrom - 1; i >= 0; i-- {
		start := l.head
		if i+1 < maxHeight && splice.prev[i+1] != nil {
			start = splice.prev[i+1]
		}
		prev, next := l.findSpliceForLevel(key, start, i)
		splice.prev[i] = prev
		splice.next[i] = next
	}
}

// Get returns the value stored for key and true, or nil, false if key is
// absent.
func (l *List) Get(key []byte) (any, bool) {
	n := l.findGreaterOrEqual(key)
	if n != nil && l.cmp(n.key, key) == 0 {
		return *n.value.Load(), true
	}
	return nil, false
}

// Contains reports whether key is present.
func (l *List) Contains(key []byte) bool {
	_, ok := l.Get(key)
	return ok
}

// Insert adds key with value v. Returns false without modifying
// anything if key is already present — callers that want
// update-in-place semantics should use Upsert instead.
func (l *List) Insert(key []byte, v any) bool {
	return l.insert(key, v, &Splice{}, false)
}

// InsertWithHint behaves like Insert but accepts a caller-owned Splice
// that is reused and updated across a run of monotonically increasing
// inserts, skipping most of the top-down search. Pass a pointer to a
// zero-value Splice on the first call of a run.
func (l *List) InsertWithHint(key []byte, v any, splice *Splice) bool {
	return l.insert(key, v, splice, true)
}

// Upsert stores v for key, replacing any existing value for key
// atomically via a single pointer swap — no structural change to the
// list, so it never contends with a concurrent reader walking past this
// node. Returns true if this created a new node, false if it replaced
// an existing one.
func (l *List) Upsert(key []byte, v any) bool {
	n := l.findGreaterOrEqual(key)
	if n != nil && l.cmp(n.key, key) == 0 {
		n.value.Store(&v)
		return false
	}
	l.Insert(key, v)
	return true
}

func (l *List) insert(key []byte, v any, splice *Splice, useHint bool) bool {
	height := l.randomHeight()

	for {
		curHeight := int(l.maxHeight.Load())
		if height <= curHeight {
			break
		}
		if l.maxHeight.CompareAndSwap(int32(curHeight), int32(height)) {
			break
		}
	}
	curHeight := int(l.maxHeight.Load())

	if !useHint || splice.height < curHeight {
		for i := 0; i < curHeight; i++ {
			splice.prev[i] = l.head
			splice.next[i] = nil
		}
		splice.height = curHeight
		l.recomputeSplice(key, splice, curHeight)
	} else {
		// validate from the list's top level down, so the predecessor
		// recomputation starts from (prev[recomputeFrom]) has itself been
		// checked, or is the head
		recomputeFrom := 0
		for i := curHeight - 1; i >= 0; i-- {
			valid := splice.prev[i] != nil &&
				(splice.prev[i] == l.head || l.keyIsAfter(key, splice.prev[i])) &&
				(splice.next[i] == nil || l.cmp(splice.next[i].key, key) >= 0)
			if !valid {
				recomputeFrom = i + 1
				break
			}
		}
		if recomputeFrom > 0 {
			l.recomputeSplice(key, splice, recomputeFrom)
		}
	}

	if splice.next[0] != nil && l.cmp(splice.next[0].key, key) == 0 {
		return false
	}

	n := newNode(key, height)
	val := v
	n.value.Store(&val)

	for i := 0; i < height; i++ {
		n.storeNext(i, splice.next[i])
		for {
			if splice.prev[i].casNext(i, splice.next[i], n) {
				break
			}
			prev, next := l.findSpliceForLevel(key, splice.prev[i], i)
			if i == 0 && next != nil && l.cmp(next.key, key) == 0 {
				// a concurrent insert of the same key won; n is not yet
				// linked anywhere, so nothing needs undoing
				return false
			}
			splice.prev[i], splice.next[i] = prev, next
			n.storeNext(i, splice.next[i])
		}
		splice.prev[i] = n
	}

	l.approxCount.Add(1)
	return true
}

// Len returns the approximate number of entries in the list. It is
// exact in the absence of concurrent writers.
func (l *List) Len() int64 {
	return l.approxCount.Load()
}

// Iterator walks the list from lowest to highest key. It follows the
// live chain rather than a snapshot: entries inserted after creation
// ahead of the iterator's position may be observed, while entries
// inserted at a key position it has already passed are not, matching
// Go map iteration's looser guarantee, which is all the read path
// above this package relies on.
type Iterator struct {
	list *List
	cur  *node
}

// NewIterator returns an iterator positioned before the first entry.
func (l *List) NewIterator() *Iterator {
	return &Iterator{list: l}
}

// SeekToFirst positions the iterator at the smallest key.
func (it *Iterator) SeekToFirst() {
	it.cur = it.list.head.loadNext(0)
}

// Seek positions the iterator at the first key >= target.
func (it *Iterator) Seek(target []byte) {
	it.cur = it.list.findGreaterOrEqual(target)
}

// Valid reports whether the iterator is positioned at an entry.
func (it *Iterator) Valid() bool {
	return it.cur != nil
}

// Next advances the iterator.
func (it *Iterator) Next() {
	it.cur = it.cur.loadNext(0)
}

// Key returns the current entry's key. Only valid when Valid().
func (it *Iterator) Key() []byte {
	return it.cur.key
}

// Value returns the current entry's value. Only valid when Valid().
func (it *Iterator) Value() any {
	return *it.cur.value.Load()
}
